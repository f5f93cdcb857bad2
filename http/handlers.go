package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/cobrun-location/database"
	apperrors "github.com/mycobrun/cobrun-location/errors"
	"github.com/mycobrun/cobrun-location/geo"
	"github.com/mycobrun/cobrun-location/geocoding"
	"github.com/mycobrun/cobrun-location/geometry"
	"github.com/mycobrun/cobrun-location/location"
	"github.com/mycobrun/cobrun-location/logging"
	"github.com/mycobrun/cobrun-location/messaging"
	"github.com/mycobrun/cobrun-location/telemetry"
	"github.com/mycobrun/cobrun-location/validation"
)

// LocationStore persists locations.
type LocationStore interface {
	Save(ctx context.Context, point any, label string, addr *geocoding.Address) (*database.StoredLocation, error)
	Get(ctx context.Context, id string) (*database.StoredLocation, error)
	UpdateAddress(ctx context.Context, id string, addr *geocoding.Address) error
}

// Geocoder resolves coordinates to addresses.
type Geocoder interface {
	Lookup(ctx context.Context, c geo.Coordinate) geocoding.Result
}

// AddressEnricher resolves addresses off the request goroutine.
type AddressEnricher interface {
	Enrich(ctx context.Context, c geo.Coordinate) <-chan *geocoding.Address
}

// Publisher announces stored locations.
type Publisher interface {
	PublishAsync(ctx context.Context, msg *messaging.LocationUpdateMessage) <-chan struct{}
}

// LocationHandler serves the location endpoints. Store, Geocoder, Enricher
// and Publisher are each optional; endpoints that need a missing one answer
// 503.
type LocationHandler struct {
	store     LocationStore
	geocoder  Geocoder
	enricher  AddressEnricher
	publisher Publisher
	logger    *logging.Logger
	audit     *logging.AuditLogger

	// enrichTimeout bounds how long a create waits for its address.
	enrichTimeout time.Duration
}

// LocationHandlerConfig wires a LocationHandler.
type LocationHandlerConfig struct {
	Store         LocationStore
	Geocoder      Geocoder
	Enricher      AddressEnricher
	Publisher     Publisher
	Logger        *logging.Logger
	Audit         *logging.AuditLogger
	EnrichTimeout time.Duration
}

// NewLocationHandler creates a LocationHandler.
func NewLocationHandler(cfg LocationHandlerConfig) *LocationHandler {
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = 5 * time.Second
	}
	return &LocationHandler{
		store:         cfg.Store,
		geocoder:      cfg.Geocoder,
		enricher:      cfg.Enricher,
		publisher:     cfg.Publisher,
		logger:        logging.OrNop(cfg.Logger),
		audit:         cfg.Audit,
		enrichTimeout: cfg.EnrichTimeout,
	}
}

// ValidateRequest is the body of POST /locations/validate.
type ValidateRequest struct {
	Location location.Input `json:"location"`
}

// ValidateResponse echoes the canonical coordinate of a valid input.
type ValidateResponse struct {
	Valid    bool           `json:"valid"`
	Location geo.Coordinate `json:"location"`
}

// CreateLocationRequest is the body of POST /locations.
type CreateLocationRequest struct {
	Location location.Input `json:"location"`
	Label    string         `json:"label" validate:"max=255"`
	// SkipEnrichment stores the point without resolving an address.
	SkipEnrichment bool `json:"skip_enrichment"`
}

// LocationResponse is the API form of a stored location.
type LocationResponse struct {
	ID        string             `json:"id"`
	Label     string             `json:"label,omitempty"`
	Location  *geo.Coordinate    `json:"location"`
	SRID      int                `json:"srid,omitempty"`
	Address   *geocoding.Address `json:"address"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ReverseGeocodeResponse carries the resolved address, or null.
type ReverseGeocodeResponse struct {
	Location geo.Coordinate     `json:"location"`
	Address  *geocoding.Address `json:"address"`
	Outcome  string             `json:"outcome"`
}

func toLocationResponse(loc *database.StoredLocation) LocationResponse {
	resp := LocationResponse{
		ID:        loc.ID,
		Label:     loc.Label,
		Location:  geometry.ToWire(loc.Point),
		Address:   loc.Address,
		CreatedAt: loc.CreatedAt,
		UpdatedAt: loc.UpdatedAt,
	}
	if loc.Point != nil {
		resp.SRID = loc.Point.SRID()
	}
	return resp
}

// parseLocation applies the request-boundary rules to in.
func parseLocation(in location.Input) (geo.Coordinate, error) {
	c, errs := location.ParseAndValidate(in)
	if len(errs) > 0 {
		return geo.Coordinate{}, errs.AsAppError()
	}
	return c, nil
}

// Validate handles POST /locations/validate.
func (h *LocationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	c, err := parseLocation(req.Location)
	if err != nil {
		Error(w, r, err)
		return
	}

	OK(w, ValidateResponse{Valid: true, Location: c})
}

// ReverseGeocode handles GET /geocode/reverse?latlng=lat,lng or
// ?latitude=..&longitude=.. and answers with the address or null.
func (h *LocationHandler) ReverseGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var raw any
	if latlng := q.Get("latlng"); latlng != "" {
		raw = latlng
	} else {
		fields := map[string]string{}
		for _, key := range []string{"latitude", "lat", "longitude", "lng", "lon"} {
			if q.Has(key) {
				fields[key] = q.Get(key)
			}
		}
		raw = fields
	}

	c, errs := location.ParseAndValidate(raw)
	if len(errs) > 0 {
		Error(w, r, errs.AsAppError())
		return
	}

	if h.geocoder == nil {
		Error(w, r, apperrors.Unavailable("reverse geocoding is not configured"))
		return
	}

	res := h.geocoder.Lookup(r.Context(), c)
	if res.Outcome == geocoding.OutcomeFailed {
		h.log(r.Context()).WithCoordinate(c).Warn("reverse geocode failed", "error", res.Err)
	}

	OK(w, ReverseGeocodeResponse{
		Location: c,
		Address:  res.Address,
		Outcome:  res.Outcome.String(),
	})
}

// Create handles POST /locations. The address lookup runs while the point
// is stored; a lookup that fails or outlasts the enrich timeout leaves the
// address null.
func (h *LocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		Error(w, r, apperrors.Unavailable("location storage is not configured"))
		return
	}

	var req CreateLocationRequest
	if !validation.DecodeAndValidate(w, r, &req) {
		return
	}

	c, err := parseLocation(req.Location)
	if err != nil {
		Error(w, r, err)
		return
	}

	ctx := r.Context()
	trace.SpanFromContext(ctx).SetAttributes(telemetry.CoordinateAttributes(c)...)

	var pending <-chan *geocoding.Address
	if h.enricher != nil && !req.SkipEnrichment {
		enrichCtx, cancel := context.WithTimeout(ctx, h.enrichTimeout)
		defer cancel()
		pending = h.enricher.Enrich(enrichCtx, c)
	}

	loc, err := h.store.Save(ctx, c, req.Label, nil)
	if err != nil {
		h.audit.LogLocation(ctx, r, logging.AuditEventLocationCreated, "", logging.AuditOutcomeFailure, nil)
		h.fail(w, r, err, "failed to store location")
		return
	}
	h.audit.LogLocation(ctx, r, logging.AuditEventLocationCreated, loc.ID, logging.AuditOutcomeSuccess,
		map[string]string{"srid": strconv.Itoa(loc.Point.SRID())})

	if pending != nil {
		if addr := <-pending; addr != nil {
			if err := h.store.UpdateAddress(ctx, loc.ID, addr); err != nil {
				h.log(ctx).Warn("failed to store address", "id", loc.ID, "error", err)
				h.audit.LogLocation(ctx, r, logging.AuditEventLocationAddressUpdated, loc.ID, logging.AuditOutcomeFailure, nil)
			} else {
				loc.Address = addr
				loc.UpdatedAt = time.Now().UTC()
				h.audit.LogLocation(ctx, r, logging.AuditEventLocationAddressUpdated, loc.ID, logging.AuditOutcomeSuccess, nil)
			}
		}
	}

	if h.publisher != nil {
		h.publisher.PublishAsync(ctx, messaging.NewLocationUpdateMessage(loc.ID, geometry.ToWire(loc.Point), loc.Address))
	}

	Created(w, toLocationResponse(loc))
}

// Get handles GET /locations/{id}.
func (h *LocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		Error(w, r, apperrors.Unavailable("location storage is not configured"))
		return
	}

	loc, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "failed to load location")
		return
	}

	OK(w, toLocationResponse(loc))
}

// fail writes err. Application errors pass through; anything else is logged
// and hidden behind INTERNAL_ERROR. Client errors (not found, validation)
// are only logged at debug.
func (h *LocationHandler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case apperrors.IsNotFound(err), apperrors.IsValidation(err):
		h.log(r.Context()).Debug(msg, "error", err, "code", apperrors.Code(err))
	case apperrors.Code(err) == "":
		h.log(r.Context()).Error(msg, "error", err)
		telemetry.SetSpanError(r.Context(), err)
		err = apperrors.InternalWrap(err, msg)
	}
	Error(w, r, err)
}

func (h *LocationHandler) log(ctx context.Context) *logging.Logger {
	return logging.FromContextOr(ctx, h.logger)
}
