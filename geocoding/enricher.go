package geocoding

import (
	"context"
	"sync"

	"github.com/mycobrun/cobrun-location/geo"
)

const defaultEnricherWorkers = 8

// Enricher runs reverse geocoding off the caller's goroutine with at most
// a fixed number of lookups in flight.
type Enricher struct {
	service *Service
	slots   chan struct{}
	wg      sync.WaitGroup
}

// NewEnricher creates an Enricher allowing workers concurrent lookups.
func NewEnricher(service *Service, workers int) *Enricher {
	if workers <= 0 {
		workers = defaultEnricherWorkers
	}
	return &Enricher{
		service: service,
		slots:   make(chan struct{}, workers),
	}
}

// Enrich starts resolving c and returns a channel that receives exactly one
// value: the address, or nil. It does not block. If ctx ends while waiting
// for a free slot the channel receives nil without a lookup.
func (e *Enricher) Enrich(ctx context.Context, c geo.Coordinate) <-chan *Address {
	out := make(chan *Address, 1)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(out)

		select {
		case e.slots <- struct{}{}:
		case <-ctx.Done():
			out <- nil
			return
		}
		defer func() { <-e.slots }()

		out <- e.service.ReverseGeocode(ctx, c)
	}()

	return out
}

// Wait blocks until all started lookups have finished.
func (e *Enricher) Wait() {
	e.wg.Wait()
}
