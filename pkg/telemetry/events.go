package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the gate.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated evaluation run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Resource is the associated resource address, if applicable.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for gate event types.
const (
	EventTypeEvaluationStarted   = "evaluation.started"
	EventTypeEvaluationCompleted = "evaluation.completed"
	EventTypeEvaluationFailed    = "evaluation.failed"
	EventTypePolicyViolation     = "policy.violation"
	EventTypeDriftConflict       = "drift.conflict"
	EventTypeSignalDegraded      = "signal.degraded"
	EventTypeBreakGlass          = "override.break_glass"
	EventTypeApplyCompleted      = "apply.completed"
	EventTypePolicyReloaded      = "policy.reloaded"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers.
//
// Delivery is synchronous: Publish returns after every matching subscriber
// has run, so a short-lived CLI never exits with events in flight.
type EventPublisher struct {
	config      EventsConfig
	subscribers []subscriberEntry
	filters     []EventFilter
	mu          sync.RWMutex
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) {
	if !ep.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, filter := range ep.filters {
		if !filter(event) {
			return
		}
	}

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// PublishEvaluationStarted publishes an evaluation started event.
func (ep *EventPublisher) PublishEvaluationStarted(runID, planPath string) {
	ep.Publish(Event{
		Type:    EventTypeEvaluationStarted,
		Source:  "gate",
		RunID:   runID,
		Message: fmt.Sprintf("Evaluating plan %s", planPath),
		Data:    map[string]interface{}{"plan_path": planPath},
	})
}

// PublishEvaluationCompleted publishes the decision of an evaluation.
func (ep *EventPublisher) PublishEvaluationCompleted(runID, status string, exitCode int, duration time.Duration, data map[string]interface{}) {
	level := EventLevelInfo
	if status == "BLOCKED" {
		level = EventLevelWarning
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["status"] = status
	data["exit_code"] = exitCode
	data["duration_ms"] = duration.Milliseconds()

	ep.Publish(Event{
		Type:    EventTypeEvaluationCompleted,
		Source:  "gate",
		RunID:   runID,
		Level:   level,
		Message: fmt.Sprintf("Decision %s", status),
		Data:    data,
	})
}

// PublishEvaluationFailed publishes a pipeline error.
func (ep *EventPublisher) PublishEvaluationFailed(runID string, err error) {
	ep.Publish(Event{
		Type:    EventTypeEvaluationFailed,
		Source:  "gate",
		RunID:   runID,
		Level:   EventLevelError,
		Message: err.Error(),
	})
}

// PublishPolicyViolation publishes a deny finding.
func (ep *EventPublisher) PublishPolicyViolation(runID, message string) {
	ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		RunID:   runID,
		Level:   EventLevelWarning,
		Message: message,
	})
}

// PublishDriftConflict publishes a resource that drifted and is also changed by the plan.
func (ep *EventPublisher) PublishDriftConflict(runID, address string) {
	ep.Publish(Event{
		Type:     EventTypeDriftConflict,
		Source:   "context",
		RunID:    runID,
		Resource: address,
		Level:    EventLevelWarning,
		Message:  fmt.Sprintf("Resource %s drifted and is modified by the plan", address),
	})
}

// PublishSignalDegraded publishes a signal that failed open.
func (ep *EventPublisher) PublishSignalDegraded(runID, signal, reason string) {
	ep.Publish(Event{
		Type:    EventTypeSignalDegraded,
		Source:  signal,
		RunID:   runID,
		Level:   EventLevelWarning,
		Message: reason,
	})
}

// PublishBreakGlass publishes a break-glass activation.
func (ep *EventPublisher) PublishBreakGlass(runID, incidentID string, reasons []string) {
	ep.Publish(Event{
		Type:    EventTypeBreakGlass,
		Source:  "gate",
		RunID:   runID,
		Level:   EventLevelWarning,
		Message: fmt.Sprintf("Break-glass activated for incident %s", incidentID),
		Data: map[string]interface{}{
			"incident_id": incidentID,
			"reasons":     reasons,
		},
	})
}

// PublishApplyCompleted publishes a finished terraform apply.
func (ep *EventPublisher) PublishApplyCompleted(runID, terraformVersion string, err error) {
	event := Event{
		Type:    EventTypeApplyCompleted,
		Source:  "terraform",
		RunID:   runID,
		Message: "Apply succeeded",
		Data:    map[string]interface{}{"terraform_version": terraformVersion},
	}
	if err != nil {
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Apply failed: %v", err)
	}
	ep.Publish(event)
}

// PublishPolicyReloaded publishes a hot reload of the policy set.
func (ep *EventPublisher) PublishPolicyReloaded(count int, err error) {
	event := Event{
		Type:    EventTypePolicyReloaded,
		Source:  "policy",
		Message: fmt.Sprintf("Reloaded %d policies", count),
	}
	if err != nil {
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Policy reload failed: %v", err)
	}
	ep.Publish(event)
}

// Subscribe adds a new event subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
