package validation

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		name    string
		phone   string
		wantErr bool
	}{
		{"valid PE phone", "+51987654321", false},
		{"valid US phone", "+14155551234", false},
		{"missing plus", "14155551234", true},
		{"too short", "+1", true},
		{"too long", "+123456789012345678", true},
		{"invalid chars", "+1415abc1234", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVar(tt.phone, "phone")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVar(%q, 'phone') error = %v, wantErr %v", tt.phone, err, tt.wantErr)
			}
		})
	}
}

func TestValidateLatitude(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		wantErr bool
	}{
		{"lima", -12.0464, false},
		{"zero", 0, false},
		{"max", 90, false},
		{"min", -90, false},
		{"too high", 91, true},
		{"too low", -200, true},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVar(tt.lat, "latitude")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVar(%v, 'latitude') error = %v, wantErr %v", tt.lat, err, tt.wantErr)
			}
		})
	}
}

func TestValidateLongitude(t *testing.T) {
	tests := []struct {
		name    string
		lng     float64
		wantErr bool
	}{
		{"lima", -77.0428, false},
		{"zero", 0, false},
		{"max", 180, false},
		{"min", -180, false},
		{"too high", 181, true},
		{"too low", -181, true},
		{"negative inf", math.Inf(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVar(tt.lng, "longitude")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVar(%v, 'longitude') error = %v, wantErr %v", tt.lng, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSRID(t *testing.T) {
	tests := []struct {
		srid    int
		wantErr bool
	}{
		{4326, false},
		{3857, false},
		{0, true},
		{-1, true},
	}

	for _, tt := range tests {
		if err := ValidateVar(tt.srid, "srid"); (err != nil) != tt.wantErr {
			t.Errorf("ValidateVar(%d, 'srid') error = %v, wantErr %v", tt.srid, err, tt.wantErr)
		}
	}
}

func TestValidateStruct(t *testing.T) {
	type pointRequest struct {
		Phone string  `json:"phone" validate:"omitempty,phone"`
		Lat   float64 `json:"latitude" validate:"latitude"`
		Lng   float64 `json:"longitude" validate:"longitude"`
	}

	tests := []struct {
		name       string
		req        pointRequest
		wantFields []string
	}{
		{"valid", pointRequest{Lat: -12.0464, Lng: -77.0428}, nil},
		{"latitude only", pointRequest{Lat: 91, Lng: -77.0428}, []string{"latitude"}},
		{"both fields", pointRequest{Lat: -200, Lng: 200}, []string{"latitude", "longitude"}},
		{"bad phone", pointRequest{Phone: "123", Lat: 1, Lng: 1}, []string{"phone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, err := ValidateStruct(tt.req)
			if (err != nil) != (len(tt.wantFields) > 0) {
				t.Fatalf("ValidateStruct() error = %v", err)
			}
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("got %d errors (%v), want %d", len(errs), errs, len(tt.wantFields))
			}
			for _, f := range tt.wantFields {
				if !errs.Has(f) {
					t.Errorf("missing error for %q in %v", f, errs)
				}
			}
		})
	}
}

func TestRangeMessages(t *testing.T) {
	type pointRequest struct {
		Lat float64 `json:"latitude" validate:"latitude"`
		Lng float64 `json:"longitude" validate:"longitude"`
	}

	errs, _ := ValidateStruct(pointRequest{Lat: 91, Lng: 181})
	details := errs.Details()

	if details["latitude"] != "must be a number between -90 and 90" {
		t.Errorf("latitude message = %q", details["latitude"])
	}
	if details["longitude"] != "must be a number between -180 and 180" {
		t.Errorf("longitude message = %q", details["longitude"])
	}
}

func TestDecodeAndValidate(t *testing.T) {
	type request struct {
		Name string  `json:"name" validate:"required"`
		Lat  float64 `json:"latitude" validate:"latitude"`
	}

	tests := []struct {
		name        string
		body        string
		contentType string
		wantOK      bool
		wantStatus  int
	}{
		{"valid request", `{"name": "depot", "latitude": -12.04}`, "application/json", true, 0},
		{"charset suffix", `{"name": "depot", "latitude": 1}`, "application/json; charset=utf-8", true, 0},
		{"invalid json", `{"name": invalid}`, "application/json", false, http.StatusBadRequest},
		{"validation error", `{"name": "", "latitude": 95}`, "application/json", false, http.StatusBadRequest},
		{"wrong content type", `name=depot`, "application/x-www-form-urlencoded", false, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()

			var dst request
			ok := DecodeAndValidate(w, req, &dst)

			if ok != tt.wantOK {
				t.Errorf("DecodeAndValidate() = %v, want %v", ok, tt.wantOK)
			}
			if !ok && w.Code != tt.wantStatus {
				t.Errorf("DecodeAndValidate() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestParseValidationErrors(t *testing.T) {
	type testStruct struct {
		ID string `json:"id" validate:"required,uuid4"`
	}

	err := Validate(testStruct{ID: "not-a-uuid"})
	if err == nil {
		t.Fatal("expected validation error")
	}

	errs := ParseValidationErrors(err)
	if !errs.Has("id") {
		t.Errorf("expected error for id field, got %v", errs)
	}
	if ParseValidationErrors(nil) != nil {
		t.Error("nil error should produce no validation errors")
	}
}
