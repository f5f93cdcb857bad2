package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/mycobrun/cobrun-location/geo"
	"github.com/mycobrun/cobrun-location/geocoding"
	"github.com/mycobrun/cobrun-location/logging"
)

// LocationUpdateTarget is the client method invoked for location updates.
const LocationUpdateTarget = "locationUpdate"

// LocationUpdateMessage announces a stored location. Address is nil until
// enrichment resolves one.
type LocationUpdateMessage struct {
	ID        string             `json:"id"`
	Location  *geo.Coordinate    `json:"location"`
	Address   *geocoding.Address `json:"address"`
	Timestamp int64              `json:"timestamp"`
}

// NewLocationUpdateMessage stamps a message with the current time in
// milliseconds.
func NewLocationUpdateMessage(id string, loc *geo.Coordinate, addr *geocoding.Address) *LocationUpdateMessage {
	return &LocationUpdateMessage{
		ID:        id,
		Location:  loc,
		Address:   addr,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Broadcaster publishes location updates to every hub client and to the
// location's own group.
type Broadcaster struct {
	client *SignalRClient
	logger *logging.Logger
}

// NewBroadcaster creates a Broadcaster. A nil client yields a Broadcaster
// whose Publish is a no-op, for deployments without SignalR.
func NewBroadcaster(client *SignalRClient, logger *logging.Logger) *Broadcaster {
	return &Broadcaster{client: client, logger: logging.OrNop(logger)}
}

// Enabled reports whether updates are actually sent.
func (b *Broadcaster) Enabled() bool {
	return b != nil && b.client != nil
}

// LocationGroup is the group subscribers of a single location join.
func LocationGroup(id string) string {
	return fmt.Sprintf("location-%s", id)
}

// Publish sends msg to all clients, then to the location's group.
func (b *Broadcaster) Publish(ctx context.Context, msg *LocationUpdateMessage) error {
	if !b.Enabled() || msg == nil {
		return nil
	}

	m := NewSignalRMessage(LocationUpdateTarget, msg)
	if err := b.client.BroadcastMessage(ctx, m); err != nil {
		return fmt.Errorf("failed to broadcast location %s: %w", msg.ID, err)
	}
	if err := b.client.SendToGroup(ctx, LocationGroup(msg.ID), m); err != nil {
		return fmt.Errorf("failed to notify group of location %s: %w", msg.ID, err)
	}

	b.logger.Debug("location update published", "id", msg.ID, "hub", b.client.HubName())
	return nil
}

// PublishAsync publishes in the background and logs failures. The returned
// channel is closed when the publish finishes.
func (b *Broadcaster) PublishAsync(ctx context.Context, msg *LocationUpdateMessage) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.Publish(context.WithoutCancel(ctx), msg); err != nil {
			b.logger.Warn("location update not published", "error", err)
		}
	}()
	return done
}
