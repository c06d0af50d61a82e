package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTE STUDENT COMMAND
// Moves one student's subscription to the next curriculum level, consuming
// access credit. Checks run in a fixed order and the first failure wins.
// ══════════════════════════════════════════════════════════════════════════════

// PromoteStudentCommand contains the data needed to promote a student.
type PromoteStudentCommand struct {
	StudentID    string
	CurriculumID string

	// ActorID is who issued the promotion (operator or saga run).
	ActorID string

	// ApprovedBy is the administrator approving the promotion. Required when
	// the curriculum demands approval.
	ApprovedBy string

	// ExpectedLevel, when non-zero, rejects the promotion with LEVEL_MISMATCH
	// unless the subscription is still at this level.
	ExpectedLevel int

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c PromoteStudentCommand) Validate() error {
	if strings.TrimSpace(c.StudentID) == "" || strings.TrimSpace(c.CurriculumID) == "" {
		return shared.NewDomainError("promotion", "Validate", shared.ErrInvalidInput, "student_id and curriculum_id are required")
	}
	if c.ExpectedLevel < 0 {
		return shared.NewDomainError("promotion", "Validate", shared.ErrInvalidInput, "expected level cannot be negative")
	}
	return nil
}

// PromoteStudentResult contains the outcome of a successful promotion.
type PromoteStudentResult struct {
	Record       subscription.PromotionRecord
	Eligibility  Eligibility
	Subscription *subscription.Subscription
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// PromoteStudentHandler handles the PromoteStudentCommand.
type PromoteStudentHandler struct {
	deps Dependencies
	log  *logger.Logger
}

// NewPromoteStudentHandler creates a new PromoteStudentHandler.
func NewPromoteStudentHandler(deps Dependencies) *PromoteStudentHandler {
	deps = deps.withDefaults()
	return &PromoteStudentHandler{
		deps: deps,
		log:  deps.Logger.Named("promote_student"),
	}
}

// Handle executes the promotion.
//
// Order of checks:
//  1. NO_ACTIVE_SUBSCRIPTION
//  2. CURRICULUM_NOT_FOUND
//  3. ALREADY_AT_FINAL_LEVEL
//  4. INSUFFICIENT_PROGRESS
//  5. INSUFFICIENT_CREDIT
//  6. APPROVAL_REQUIRED
//
// A rejected promotion leaves the subscription untouched.
func (h *PromoteStudentHandler) Handle(ctx context.Context, cmd PromoteStudentCommand) (result *PromoteStudentResult, err error) {
	defer func() { h.deps.Metrics.ObserveTransition("promote", outcomeOf(err)) }()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	locked, err := acquire(ctx, h.deps, "promote_student", cmd.StudentID, cmd.CurriculumID)
	if err != nil {
		return nil, err
	}
	defer locked.release()
	sub := locked.sub

	cur, err := h.deps.Curricula.GetByID(ctx, cmd.CurriculumID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.CurriculumNotFound(cmd.CurriculumID)
		}
		return nil, fmt.Errorf("promote_student: load curriculum: %w", err)
	}
	if len(cur.Levels) == 0 {
		return nil, shared.CurriculumNotFound(cmd.CurriculumID)
	}

	if cmd.ExpectedLevel != 0 && sub.CurrentLevel != cmd.ExpectedLevel {
		return nil, shared.LevelMismatch(cmd.ExpectedLevel, sub.CurrentLevel)
	}

	if cur.IsFinalLevel(sub.CurrentLevel) {
		return nil, shared.AlreadyAtFinalLevel(sub.CurrentLevel)
	}

	progress, err := h.deps.Progress.ForCurriculum(ctx, cur, sub.StudentID, sub.CurrentLevel)
	if err != nil {
		return nil, fmt.Errorf("promote_student: compute progress: %w", err)
	}

	eligibility, err := CheckEligibility(cur, sub, sub.CurrentLevel, progress)
	if err != nil {
		h.logRejection(cmd, err)
		return nil, err
	}

	if cur.RequiresApproval() && strings.TrimSpace(cmd.ApprovedBy) == "" {
		err := shared.ApprovalRequired()
		h.logRejection(cmd, err)
		return nil, err
	}

	promotedBy := cmd.ApprovedBy
	if promotedBy == "" {
		promotedBy = cmd.ActorID
	}

	// Writes begin: the request may no longer cancel the operation.
	wctx := context.WithoutCancel(ctx)
	now := h.deps.Clock.Now()

	record, err := sub.Promote(subscription.PromoteParams{
		RecordID:   h.deps.NewID(),
		Cost:       eligibility.Cost,
		Progress:   progress,
		PromotedBy: promotedBy,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	if err := h.deps.Subscriptions.Update(wctx, sub); err != nil {
		if shared.IsConcurrency(err) {
			return nil, err
		}
		return nil, fmt.Errorf("promote_student: save subscription: %w", err)
	}

	event := shared.StudentPromotedEvent{
		BaseEvent:        shared.NewBaseEvent(shared.EventStudentPromoted, sub.ID, now).WithCorrelationID(cmd.CorrelationID),
		StudentID:        sub.StudentID,
		CurriculumID:     sub.CurriculumID,
		FromLevel:        record.FromLevel,
		ToLevel:          record.ToLevel,
		Progress:         progress,
		CreditsDeducted:  record.CreditsDeducted,
		RemainingCredits: record.RemainingCredits,
	}
	publish(h.deps, event)

	h.log.Info("student promoted",
		logger.StudentID(sub.StudentID),
		logger.CurriculumID(sub.CurriculumID),
		logger.Int("from_level", record.FromLevel),
		logger.Int("to_level", record.ToLevel),
		logger.Int("credits_deducted", record.CreditsDeducted),
		logger.Int("remaining_credits", record.RemainingCredits),
	)

	return &PromoteStudentResult{
		Record:       record,
		Eligibility:  eligibility,
		Subscription: sub.Clone(),
	}, nil
}

func (h *PromoteStudentHandler) logRejection(cmd PromoteStudentCommand, err error) {
	var pe *shared.PolicyError
	if !errors.As(err, &pe) {
		return
	}
	h.log.Debug("promotion rejected",
		logger.StudentID(cmd.StudentID),
		logger.CurriculumID(cmd.CurriculumID),
		logger.Code(string(pe.Code)),
	)
}
