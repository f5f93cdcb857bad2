// Package validation provides input validation utilities.
package validation

import (
	"encoding/json"
	"mime"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/mycobrun/cobrun-location/errors"
	"github.com/mycobrun/cobrun-location/geo"
)

// Field-level messages reported for location fields.
const (
	MsgLatitude   = "must be a number between -90 and 90"
	MsgLongitude  = "must be a number between -180 and 180"
	MsgStructural = `must be an object with latitude and longitude or a "lat,lng" string`
)

var (
	validate *validator.Validate
	once     sync.Once
)

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()

		// Use JSON tag names for error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		registerCustomValidations(validate)
	})

	return validate
}

func registerCustomValidations(v *validator.Validate) {
	// Phone number validation (E.164 format)
	v.RegisterValidation("phone", validatePhone)

	v.RegisterValidation("latitude", validateLatitude)
	v.RegisterValidation("longitude", validateLongitude)

	// Spatial reference identifier (EPSG code)
	v.RegisterValidation("srid", validateSRID)

	v.RegisterValidation("uuid4", validateUUID4)
}

// Phone validates E.164 phone numbers.
var phoneRegex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

// Latitude must be finite and within [-90, 90].
func validateLatitude(fl validator.FieldLevel) bool {
	f, ok := floatField(fl.Field())
	return ok && geo.ValidLatitude(f)
}

// Longitude must be finite and within [-180, 180].
func validateLongitude(fl validator.FieldLevel) bool {
	f, ok := floatField(fl.Field())
	return ok && geo.ValidLongitude(f)
}

func floatField(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	default:
		return 0, false
	}
}

func validateSRID(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
		srid := fl.Field().Int()
		return srid > 0 && srid <= 999999
	default:
		return false
	}
}

// UUID4 validation.
var uuid4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

func validateUUID4(fl validator.FieldLevel) bool {
	return uuid4Regex.MatchString(fl.Field().String())
}

// Validate validates a struct and returns the raw validator error.
func Validate(s interface{}) error {
	return GetValidator().Struct(s)
}

// ValidateStruct validates a struct and returns field-level errors alongside
// the raw error.
func ValidateStruct(s interface{}) (ValidationErrors, error) {
	err := Validate(s)
	if err == nil {
		return nil, nil
	}
	return ParseValidationErrors(err), err
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.Field)
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// Has reports whether an error was recorded for field.
func (ve ValidationErrors) Has(field string) bool {
	for _, e := range ve {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Details flattens the errors into a field to message map for API responses.
func (ve ValidationErrors) Details() map[string]string {
	if len(ve) == 0 {
		return nil
	}
	out := make(map[string]string, len(ve))
	for _, e := range ve {
		if _, exists := out[e.Field]; !exists {
			out[e.Field] = e.Message
		}
	}
	return out
}

// AsAppError converts the errors into a VALIDATION_ERROR AppError.
func (ve ValidationErrors) AsAppError() *apperrors.AppError {
	return apperrors.ValidationWithDetails("validation failed", ve.Details())
}

// ParseValidationErrors converts validator.ValidationErrors to our format.
func ParseValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	var validationErrors ValidationErrors

	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, e := range ve {
			validationErrors = append(validationErrors, ValidationError{
				Field:   e.Field(),
				Message: getErrorMessage(e),
			})
		}
	}

	return validationErrors
}

func getErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number in E.164 format"
	case "latitude":
		return MsgLatitude
	case "longitude":
		return MsgLongitude
	case "srid":
		return "must be a positive spatial reference identifier"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "uuid4":
		return "must be a valid UUID v4"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}

// ValidateVar validates a single variable.
func ValidateVar(field interface{}, tag string) error {
	return GetValidator().Var(field, tag)
}

// DecodeAndValidate decodes a JSON request body into dst and validates it.
// On failure it writes the error response and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			_ = json.NewEncoder(w).Encode(apperrors.ErrorResponse{
				Error: apperrors.ErrorBody{Code: apperrors.CodeBadRequest, Message: "content type must be application/json"},
			})
			return false
		}
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid JSON body"), "")
		return false
	}

	if errs, err := ValidateStruct(dst); err != nil {
		if len(errs) == 0 {
			apperrors.WriteError(w, apperrors.InternalWrap(err, "validation failed"), "")
			return false
		}
		apperrors.WriteError(w, errs.AsAppError(), "")
		return false
	}

	return true
}
