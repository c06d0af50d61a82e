// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the progression engine.
const (
	// Subscription events
	EventStudentPromoted   EventType = "promotion.student_promoted"
	EventStudentDemoted    EventType = "promotion.student_demoted"
	EventProgressReset     EventType = "promotion.progress_reset"
	EventSubscriptionLapse EventType = "subscription.expired"

	// Group events
	EventGroupPromoted     EventType = "promotion.group_promoted"
	EventGroupRunCompleted EventType = "promotion.group_run_completed"
	EventGroupRosterChange EventType = "group.roster_changed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// Correlation returns the correlation ID, if any.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Subscription Events
// ═══════════════════════════════════════════════════════════════════════════

// StudentPromotedEvent is emitted after a subscription moved to the next level.
type StudentPromotedEvent struct {
	BaseEvent
	StudentID        string  `json:"student_id"`
	CurriculumID     string  `json:"curriculum_id"`
	FromLevel        int     `json:"from_level"`
	ToLevel          int     `json:"to_level"`
	Progress         float64 `json:"progress"`
	CreditsDeducted  int     `json:"credits_deducted"`
	RemainingCredits int     `json:"remaining_credits"`
}

// Payload implements Event interface.
func (e StudentPromotedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":        e.StudentID,
		"curriculum_id":     e.CurriculumID,
		"from_level":        e.FromLevel,
		"to_level":          e.ToLevel,
		"progress":          e.Progress,
		"credits_deducted":  e.CreditsDeducted,
		"remaining_credits": e.RemainingCredits,
	}
}

// StudentDemotedEvent is emitted after a subscription moved back one level.
type StudentDemotedEvent struct {
	BaseEvent
	StudentID    string `json:"student_id"`
	CurriculumID string `json:"curriculum_id"`
	FromLevel    int    `json:"from_level"`
	ToLevel      int    `json:"to_level"`
	DemotedBy    string `json:"demoted_by,omitempty"`
}

// Payload implements Event interface.
func (e StudentDemotedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"curriculum_id": e.CurriculumID,
		"from_level":    e.FromLevel,
		"to_level":      e.ToLevel,
		"demoted_by":    e.DemotedBy,
	}
}

// ProgressResetEvent is emitted after a subscription was reset to level 1.
type ProgressResetEvent struct {
	BaseEvent
	StudentID     string `json:"student_id"`
	CurriculumID  string `json:"curriculum_id"`
	PreviousLevel int    `json:"previous_level"`
	ResetBy       string `json:"reset_by,omitempty"`
}

// Payload implements Event interface.
func (e ProgressResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":     e.StudentID,
		"curriculum_id":  e.CurriculumID,
		"previous_level": e.PreviousLevel,
		"reset_by":       e.ResetBy,
	}
}

// SubscriptionExpiredEvent is emitted when a read notices that level access lapsed.
type SubscriptionExpiredEvent struct {
	BaseEvent
	StudentID    string    `json:"student_id"`
	CurriculumID string    `json:"curriculum_id"`
	ExpiredAt    time.Time `json:"expired_at"`
}

// Payload implements Event interface.
func (e SubscriptionExpiredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"curriculum_id": e.CurriculumID,
		"expired_at":    e.ExpiredAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Group Events
// ═══════════════════════════════════════════════════════════════════════════

// GroupPromotedEvent is emitted when a group's own level pointer advances.
type GroupPromotedEvent struct {
	BaseEvent
	CurriculumID string `json:"curriculum_id"`
	FromLevel    int    `json:"from_level"`
	ToLevel      int    `json:"to_level"`
	RunID        string `json:"run_id"`
}

// Payload implements Event interface.
func (e GroupPromotedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"curriculum_id": e.CurriculumID,
		"from_level":    e.FromLevel,
		"to_level":      e.ToLevel,
		"run_id":        e.RunID,
	}
}

// GroupRunCompletedEvent is emitted when a group promotion run finishes its student loop.
type GroupRunCompletedEvent struct {
	BaseEvent
	GroupID       string `json:"group_id"`
	Promoted      int    `json:"promoted"`
	Failed        int    `json:"failed"`
	GroupAdvanced bool   `json:"group_advanced"`
}

// Payload implements Event interface.
func (e GroupRunCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"group_id":       e.GroupID,
		"promoted":       e.Promoted,
		"failed":         e.Failed,
		"group_advanced": e.GroupAdvanced,
	}
}

// GroupRosterChangedEvent is emitted after roster membership changed.
type GroupRosterChangedEvent struct {
	BaseEvent
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	NewStatus string   `json:"new_status"`
	Size      int      `json:"size"`
}

// Payload implements Event interface.
func (e GroupRosterChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"added":      e.Added,
		"removed":    e.Removed,
		"new_status": e.NewStatus,
		"size":       e.Size,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event payload into an envelope.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = c.Correlation()
	}
	return env, nil
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
