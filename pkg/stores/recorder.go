package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/telemetry"
	"github.com/rs/zerolog"
)

// recordTimeout bounds a single write from an event subscriber.
const recordTimeout = 5 * time.Second

// Recorder persists telemetry events. Break-glass activations are also
// written to the audit trail.
type Recorder struct {
	store  Store
	actor  string
	logger zerolog.Logger
}

// NewRecorder creates a recorder writing to store on behalf of actor.
func NewRecorder(store Store, actor string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		actor:  actor,
		logger: logger.With().Str("component", "audit-recorder").Logger(),
	}
}

// Attach subscribes the recorder to every event of the publisher.
func (r *Recorder) Attach(ep *telemetry.EventPublisher) {
	ep.Subscribe(r.Record, nil)
}

// Record persists one event. Failures are logged; the audit trail never
// fails an evaluation.
func (r *Recorder) Record(e telemetry.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	details := marshalDetails(e.Data)

	record := &Event{
		EventID:   e.ID,
		RunID:     optional(e.RunID),
		Type:      e.Type,
		Source:    e.Source,
		Resource:  optional(e.Resource),
		Level:     EventLevel(e.Level),
		Message:   e.Message,
		Details:   details,
		Timestamp: e.Timestamp,
	}
	if err := r.store.AppendEvent(ctx, record); err != nil {
		r.logger.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to persist event")
	}

	if e.Type != telemetry.EventTypeBreakGlass {
		return
	}

	target := e.RunID
	if incident, ok := e.Data["incident_id"].(string); ok && incident != "" {
		target = incident
	}
	entry := &AuditEntry{
		Action:    AuditActionBreakGlass,
		Actor:     r.actor,
		TargetID:  optional(target),
		Details:   details,
		Timestamp: e.Timestamp,
	}
	if err := r.store.CreateAuditEntry(ctx, entry); err != nil {
		r.logger.Error().Err(err).Str("incident_id", target).Msg("Failed to audit break-glass activation")
	}
}

func marshalDetails(data map[string]interface{}) *string {
	if len(data) == 0 {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
