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
// DEMOTE STUDENT COMMAND
// Moves a subscription back one level. No credit is refunded.
// ══════════════════════════════════════════════════════════════════════════════

// DemoteStudentCommand contains the data needed to demote a student.
type DemoteStudentCommand struct {
	StudentID     string
	CurriculumID  string
	ActorID       string
	CorrelationID string
}

// Validate validates the command.
func (c DemoteStudentCommand) Validate() error {
	if strings.TrimSpace(c.StudentID) == "" || strings.TrimSpace(c.CurriculumID) == "" {
		return shared.NewDomainError("demotion", "Validate", shared.ErrInvalidInput, "student_id and curriculum_id are required")
	}
	return nil
}

// DemoteStudentResult contains the outcome of a demotion.
type DemoteStudentResult struct {
	FromLevel    int
	ToLevel      int
	Subscription *subscription.Subscription
}

// DemoteStudentHandler handles the DemoteStudentCommand.
type DemoteStudentHandler struct {
	deps Dependencies
	log  *logger.Logger
}

// NewDemoteStudentHandler creates a new DemoteStudentHandler.
func NewDemoteStudentHandler(deps Dependencies) *DemoteStudentHandler {
	deps = deps.withDefaults()
	return &DemoteStudentHandler{deps: deps, log: deps.Logger.Named("demote_student")}
}

// Handle executes the demotion.
func (h *DemoteStudentHandler) Handle(ctx context.Context, cmd DemoteStudentCommand) (result *DemoteStudentResult, err error) {
	defer func() { h.deps.Metrics.ObserveTransition("demote", outcomeOf(err)) }()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	locked, err := acquire(ctx, h.deps, "demote_student", cmd.StudentID, cmd.CurriculumID)
	if err != nil {
		return nil, err
	}
	defer locked.release()
	sub := locked.sub

	now := h.deps.Clock.Now()
	from, err := sub.Demote(cmd.ActorID, now)
	if err != nil {
		return nil, err
	}

	if err := h.deps.Subscriptions.Update(context.WithoutCancel(ctx), sub); err != nil {
		if shared.IsConcurrency(err) {
			return nil, err
		}
		return nil, fmt.Errorf("demote_student: save subscription: %w", err)
	}

	publish(h.deps, shared.StudentDemotedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventStudentDemoted, sub.ID, now).WithCorrelationID(cmd.CorrelationID),
		StudentID:    sub.StudentID,
		CurriculumID: sub.CurriculumID,
		FromLevel:    from,
		ToLevel:      sub.CurrentLevel,
		DemotedBy:    cmd.ActorID,
	})

	h.log.Info("student demoted",
		logger.StudentID(sub.StudentID),
		logger.CurriculumID(sub.CurriculumID),
		logger.Int("from_level", from),
		logger.Int("to_level", sub.CurrentLevel),
	)

	return &DemoteStudentResult{FromLevel: from, ToLevel: sub.CurrentLevel, Subscription: sub.Clone()}, nil
}
