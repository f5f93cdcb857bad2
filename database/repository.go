package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	apperrors "github.com/mycobrun/cobrun-location/errors"
	"github.com/mycobrun/cobrun-location/geocoding"
	"github.com/mycobrun/cobrun-location/geometry"
	"github.com/mycobrun/cobrun-location/logging"
	"github.com/mycobrun/cobrun-location/telemetry"
)

const locationsTable = "locations"

// StoredLocation is a persisted point with its optional address.
type StoredLocation struct {
	ID        string                 `json:"id"`
	Label     string                 `json:"label,omitempty"`
	Point     *geometry.SpatialPoint `json:"location"`
	Address   *geocoding.Address     `json:"address"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// LocationRepository persists locations through the geometry codec.
type LocationRepository struct {
	db      *SQLClient
	codec   geometry.Codec
	tracer  trace.Tracer
	metrics *telemetry.DatabaseMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// RepositoryOption configures a LocationRepository.
type RepositoryOption func(*LocationRepository)

// WithTracer records a client span per statement.
func WithTracer(t trace.Tracer) RepositoryOption {
	return func(r *LocationRepository) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMetrics records operation counts and latencies.
func WithMetrics(m *telemetry.DatabaseMetrics) RepositoryOption {
	return func(r *LocationRepository) { r.metrics = m }
}

// WithLogger sets the repository logger.
func WithLogger(l *logging.Logger) RepositoryOption {
	return func(r *LocationRepository) { r.logger = logging.OrNop(l) }
}

// NewLocationRepository creates a repository. The codec's dialect must
// match the client's.
func NewLocationRepository(db *SQLClient, codec geometry.Codec, opts ...RepositoryOption) (*LocationRepository, error) {
	if codec.Dialect() != db.Dialect() {
		return nil, fmt.Errorf("codec dialect %s does not match database dialect %s", codec.Dialect(), db.Dialect())
	}

	r := &LocationRepository{
		db:     db,
		codec:  codec,
		tracer: noop.NewTracerProvider().Tracer(""),
		logger: logging.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Codec returns the repository's point codec.
func (r *LocationRepository) Codec() geometry.Codec {
	return r.codec
}

func insertLocationSQL(expr geometry.Expression) string {
	return fmt.Sprintf(
		"INSERT INTO %s (id, label, point, address, created_at, updated_at) VALUES (?, ?, %s, ?, ?, ?)",
		locationsTable, expr.SQL,
	)
}

func selectLocationSQL(d geometry.Dialect) string {
	return fmt.Sprintf(
		"SELECT id, label, %s, address, created_at, updated_at FROM %s WHERE id = ?",
		d.SelectPoint("point"), locationsTable,
	)
}

func updateAddressSQL() string {
	return fmt.Sprintf("UPDATE %s SET address = ?, updated_at = ? WHERE id = ?", locationsTable)
}

// Save encodes point and inserts it. point may be any shape the codec
// accepts; anything else fails with *geometry.InvalidGeometryInputError
// wrapped as an INVALID_GEOMETRY application error.
func (r *LocationRepository) Save(ctx context.Context, point any, label string, addr *geocoding.Address) (*StoredLocation, error) {
	sp, err := r.codec.Encode(point)
	if err != nil {
		return nil, apperrors.InvalidGeometry(err)
	}

	addrJSON, err := encodeAddress(addr)
	if err != nil {
		return nil, err
	}

	expr := geometry.RawSQL(sp, r.codec.Dialect())
	now := r.now()
	loc := &StoredLocation{
		ID:        uuid.NewString(),
		Label:     label,
		Point:     &sp,
		Address:   addr,
		CreatedAt: now,
		UpdatedAt: now,
	}

	args := []any{loc.ID, loc.Label}
	args = append(args, expr.Args...)
	args = append(args, addrJSON, now, now)

	err = r.observe(ctx, "INSERT", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, insertLocationSQL(expr), args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert location: %w", err)
	}

	r.logger.WithCoordinate(sp.Coordinate).Debug("location stored", "id", loc.ID, "srid", sp.SRID())
	return loc, nil
}

// Get loads a location by id. A missing row yields a NOT_FOUND application
// error.
func (r *LocationRepository) Get(ctx context.Context, id string) (*StoredLocation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("location")
	}

	var (
		loc     StoredLocation
		rawPt   []byte
		rawAddr []byte
	)

	err := r.observe(ctx, "SELECT", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, selectLocationSQL(r.codec.Dialect()), id).
			Scan(&loc.ID, &loc.Label, &rawPt, &rawAddr, &loc.CreatedAt, &loc.UpdatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("location")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}

	loc.Point, err = r.codec.FromStorage(rawPt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode location %s: %w", id, err)
	}

	if len(rawAddr) > 0 {
		var addr geocoding.Address
		if err := json.Unmarshal(rawAddr, &addr); err != nil {
			return nil, fmt.Errorf("failed to decode address of %s: %w", id, err)
		}
		loc.Address = &addr
	}

	return &loc, nil
}

// UpdateAddress sets the enriched address of a stored location.
func (r *LocationRepository) UpdateAddress(ctx context.Context, id string, addr *geocoding.Address) error {
	addrJSON, err := encodeAddress(addr)
	if err != nil {
		return err
	}

	var affected int64
	err = r.observe(ctx, "UPDATE", func(ctx context.Context) error {
		res, err := r.db.Exec(ctx, updateAddressSQL(), addrJSON, r.now(), id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}
	if affected == 0 {
		return apperrors.NotFound("location")
	}
	return nil
}

func (r *LocationRepository) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	err := telemetry.WrapDatabaseOperation(ctx, r.tracer, r.codec.Dialect().String(), operation, locationsTable, fn)
	if r.metrics != nil {
		r.metrics.RecordOperation(ctx, operation, time.Since(start), ignoreNoRows(err))
	}
	return err
}

func ignoreNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// encodeAddress returns the JSON column value, or nil for no address.
func encodeAddress(addr *geocoding.Address) (any, error) {
	if addr == nil {
		return nil, nil
	}
	data, err := json.Marshal(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode address: %w", err)
	}
	return string(data), nil
}
