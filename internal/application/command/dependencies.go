package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCalculator computes level completion for an already loaded curriculum.
type ProgressCalculator interface {
	ForCurriculum(ctx context.Context, cur *curriculum.Curriculum, studentID string, level int) (float64, error)
}

// Metrics records command outcomes.
type Metrics interface {
	// ObserveTransition counts one operation ("promote", "demote", "reset")
	// with its outcome ("ok", a lowercased policy code, or "error").
	ObserveTransition(operation, outcome string)
}

// NopMetrics discards observations.
type NopMetrics struct{}

// ObserveTransition implements Metrics.
func (NopMetrics) ObserveTransition(string, string) {}

// IDGenerator returns a new unique identifier.
type IDGenerator func() string

// Dependencies groups the collaborators shared by the subscription handlers.
type Dependencies struct {
	Subscriptions subscription.Repository
	Curricula     curriculum.Repository
	Progress      ProgressCalculator
	Locker        subscription.Locker
	Events        shared.EventPublisher
	Clock         shared.Clock
	NewID         IDGenerator
	Metrics       Metrics
	Logger        *logger.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Events == nil {
		d.Events = shared.NopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = shared.SystemClock{}
	}
	if d.Metrics == nil {
		d.Metrics = NopMetrics{}
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCKED ACCESS
// ══════════════════════════════════════════════════════════════════════════════

// lockedSubscription is a subscription loaded under its per-subscription lock.
type lockedSubscription struct {
	sub     *subscription.Subscription
	release func()
}

// acquire resolves the subscription of (student, curriculum), takes its lock,
// reloads it so the version is current and applies lazy expiry.
// An expired subscription is persisted as expired and reported as not active.
// On error no lock is held.
func acquire(ctx context.Context, d Dependencies, op, studentID, curriculumID string) (*lockedSubscription, error) {
	found, err := d.Subscriptions.GetByStudentAndCurriculum(ctx, studentID, curriculumID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.NoActiveSubscription(studentID, curriculumID)
		}
		return nil, fmt.Errorf("%s: load subscription: %w", op, err)
	}

	release, err := d.Locker.Acquire(ctx, found.ID)
	if err != nil {
		return nil, err
	}

	sub, err := d.Subscriptions.GetByID(ctx, found.ID)
	if err != nil {
		release()
		return nil, fmt.Errorf("%s: reload subscription: %w", op, err)
	}

	now := d.Clock.Now()
	if sub.ApplyExpiry(now) {
		persistExpiry(context.WithoutCancel(ctx), d, sub)
	}
	if !sub.IsActive() {
		release()
		return nil, shared.NoActiveSubscription(studentID, curriculumID)
	}

	return &lockedSubscription{sub: sub, release: release}, nil
}

// persistExpiry stores the expired status noticed during a command.
// Failures are logged only: the command is rejected either way.
func persistExpiry(ctx context.Context, d Dependencies, sub *subscription.Subscription) {
	expiredAt := sub.CurrentLevelAccessExpiresAt
	if err := d.Subscriptions.Update(ctx, sub); err != nil {
		d.Logger.Warn("failed to persist subscription expiry",
			logger.SubscriptionID(sub.ID),
			logger.Err(err),
		)
		return
	}
	event := shared.SubscriptionExpiredEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventSubscriptionLapse, sub.ID, d.Clock.Now()),
		StudentID:    sub.StudentID,
		CurriculumID: sub.CurriculumID,
		ExpiredAt:    expiredAt,
	}
	publish(d, event)
}

// publish sends an event; failures are logged and do not fail the command.
func publish(d Dependencies, event shared.Event) {
	if err := d.Events.Publish(event); err != nil {
		d.Logger.Warn("failed to publish event",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}
}

// outcomeOf maps a command error onto a metrics label.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if pe, ok := shared.AsPolicyError(err); ok {
		return strings.ToLower(string(pe.Code))
	}
	if shared.IsConcurrency(err) {
		return "conflict"
	}
	return "error"
}
