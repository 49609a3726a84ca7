package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
)

// Envelope is the wire form of a session event.
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	VisitID   string         `json:"visit_id,omitempty"`
	Location  string         `json:"location,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EnvelopeFromEvent wraps event with a sortable id.
func EnvelopeFromEvent(event telemetry.Event) Envelope {
	return Envelope{
		ID:        ulid.Make().String(),
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		SessionID: event.SessionID,
		VisitID:   event.VisitID,
		Location:  event.Location,
		Data:      event.Data,
	}
}

// Relay publishes telemetry events onto a bus.
type Relay struct {
	bus      MessageBus
	subjects Subjects
	logger   *logging.Logger
}

// NewRelay creates a relay that publishes under prefix.
func NewRelay(b MessageBus, prefix string, logger *logging.Logger) *Relay {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Relay{bus: b, subjects: Subjects{Prefix: prefix}, logger: logger}
}

// Run forwards events until the channel closes or ctx ends.
func (r *Relay) Run(ctx context.Context, events <-chan telemetry.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.Forward(ctx, event); err != nil {
				r.logger.Warn("failed to relay session event", "type", string(event.Type), "error", err)
			}
		}
	}
}

// Forward publishes a single event.
func (r *Relay) Forward(ctx context.Context, event telemetry.Event) error {
	data, err := json.Marshal(EnvelopeFromEvent(event))
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, r.subjects.Event(event.SessionID, string(event.Type)), data)
}
