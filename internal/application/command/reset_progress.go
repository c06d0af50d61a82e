package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET STUDENT PROGRESS COMMAND
// Sends a subscription back to level 1. Unconditional; credit is untouched.
// ══════════════════════════════════════════════════════════════════════════════

// ResetStudentProgressCommand contains the data needed to reset progress.
type ResetStudentProgressCommand struct {
	StudentID     string
	CurriculumID  string
	ActorID       string
	CorrelationID string
}

// Validate validates the command.
func (c ResetStudentProgressCommand) Validate() error {
	if strings.TrimSpace(c.StudentID) == "" || strings.TrimSpace(c.CurriculumID) == "" {
		return shared.NewDomainError("reset", "Validate", shared.ErrInvalidInput, "student_id and curriculum_id are required")
	}
	return nil
}

// ResetStudentProgressResult contains the outcome of a reset.
type ResetStudentProgressResult struct {
	PreviousLevel int
	Subscription  *subscription.Subscription
}

// ResetStudentProgressHandler handles the ResetStudentProgressCommand.
type ResetStudentProgressHandler struct {
	deps Dependencies
	log  *logger.Logger
}

// NewResetStudentProgressHandler creates a new ResetStudentProgressHandler.
func NewResetStudentProgressHandler(deps Dependencies) *ResetStudentProgressHandler {
	deps = deps.withDefaults()
	return &ResetStudentProgressHandler{deps: deps, log: deps.Logger.Named("reset_progress")}
}

// Handle executes the reset.
func (h *ResetStudentProgressHandler) Handle(ctx context.Context, cmd ResetStudentProgressCommand) (result *ResetStudentProgressResult, err error) {
	defer func() { h.deps.Metrics.ObserveTransition("reset", outcomeOf(err)) }()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	locked, err := acquire(ctx, h.deps, "reset_progress", cmd.StudentID, cmd.CurriculumID)
	if err != nil {
		return nil, err
	}
	defer locked.release()
	sub := locked.sub

	now := h.deps.Clock.Now()
	previous, err := sub.Reset(cmd.ActorID, now)
	if err != nil {
		return nil, err
	}

	if err := h.deps.Subscriptions.Update(context.WithoutCancel(ctx), sub); err != nil {
		if shared.IsConcurrency(err) {
			return nil, err
		}
		return nil, fmt.Errorf("reset_progress: save subscription: %w", err)
	}

	publish(h.deps, shared.ProgressResetEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventProgressReset, sub.ID, now).WithCorrelationID(cmd.CorrelationID),
		StudentID:     sub.StudentID,
		CurriculumID:  sub.CurriculumID,
		PreviousLevel: previous,
		ResetBy:       cmd.ActorID,
	})

	h.log.Info("student progress reset",
		logger.StudentID(sub.StudentID),
		logger.CurriculumID(sub.CurriculumID),
		logger.Int("previous_level", previous),
	)

	return &ResetStudentProgressResult{PreviousLevel: previous, Subscription: sub.Clone()}, nil
}
