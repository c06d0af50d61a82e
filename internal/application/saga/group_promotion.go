// Package saga contains multi-step business processes that coordinate several
// independent writes and can be resumed after an interruption.
package saga

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/alem-backoffice/internal/application/command"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROUP PROMOTION SAGA
// Two-step flow for advancing a whole group:
//
//	Preview → (operator picks a subset) → Commit(token)
//
// Commit: Promote students one by one → Advance group pointer → Complete
// Every step is persisted in a Run keyed by the caller's idempotency token.
// ══════════════════════════════════════════════════════════════════════════════

// Reason is the readiness verdict for one roster member.
type Reason string

const (
	ReasonReady                Reason = "READY"
	ReasonAlreadyAdvanced      Reason = "ALREADY_ADVANCED"
	ReasonNoActiveSubscription Reason = "NO_ACTIVE_SUBSCRIPTION"
	ReasonInsufficientProgress Reason = "INSUFFICIENT_PROGRESS"
	ReasonInsufficientCredit   Reason = "INSUFFICIENT_CREDIT"
)

// Readiness is one roster member's evaluation at the group's level.
type Readiness struct {
	StudentID string  `json:"student_id"`
	Ready     bool    `json:"ready"`
	Reason    Reason  `json:"reason"`
	Progress  float64 `json:"progress"`
	Balance   int     `json:"balance"`
	Level     int     `json:"level,omitempty"`
}

// Partition splits the roster by readiness.
type Partition struct {
	Ready    []Readiness `json:"ready"`
	NotReady []Readiness `json:"not_ready"`
}

// Preview is the read-only projection returned before any write.
type Preview struct {
	GroupID           string  `json:"group_id"`
	CurriculumID      string  `json:"curriculum_id"`
	FromLevel         int     `json:"from_level"`
	ToLevel           int     `json:"to_level"`
	LevelDurationDays int     `json:"level_duration_days"`
	RequiredRate      float64 `json:"required_rate"`
	Partition
	AllReady       bool   `json:"all_ready"`
	SuggestedToken string `json:"suggested_token"`
}

// CommitInput is the operator's confirmed choice.
type CommitInput struct {
	// Token is the idempotency key; repeating a Commit with the same token
	// returns the stored outcome or resumes an interrupted run.
	Token   string
	GroupID string

	// StudentIDs is the subset to promote. Empty means "everyone, all must be ready".
	StudentIDs []string

	// AdvanceGroup asks to move the group pointer even if only part of the
	// roster was promoted. A strict majority at the new level is still required.
	AdvanceGroup bool

	ActorID       string
	CorrelationID string
}

// Validate validates the input.
func (i CommitInput) Validate() error {
	if strings.TrimSpace(i.Token) == "" {
		return shared.NewDomainError("group_promotion", "Validate", shared.ErrInvalidInput, "token is required")
	}
	if strings.TrimSpace(i.GroupID) == "" {
		return shared.NewDomainError("group_promotion", "Validate", shared.ErrInvalidInput, "group_id is required")
	}
	return nil
}

// Outcome is the result of a finished Commit.
type Outcome struct {
	Token               string    `json:"token"`
	GroupID             string    `json:"group_id"`
	FromLevel           int       `json:"from_level"`
	ToLevel             int       `json:"to_level"`
	Promoted            []string  `json:"promoted"`
	Failed              []Failure `json:"failed"`
	GroupAdvanced       bool      `json:"group_advanced"`
	GroupAdvanceFailure *Failure  `json:"group_advance_failure,omitempty"`
	Replayed            bool      `json:"replayed"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// StudentPromoter promotes a single student.
type StudentPromoter interface {
	Handle(ctx context.Context, cmd command.PromoteStudentCommand) (*command.PromoteStudentResult, error)
}

// Metrics records run outcomes.
type Metrics interface {
	ObserveGroupRun(status string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveGroupRun(string) {}

// Dependencies groups the saga's collaborators.
type Dependencies struct {
	Groups        group.Repository
	Curricula     curriculum.Repository
	Subscriptions subscription.Repository
	Progress      command.ProgressCalculator
	Promoter      StudentPromoter
	Runs          RunRepository
	Events        shared.EventPublisher
	Clock         shared.Clock
	NewID         command.IDGenerator
	Metrics       Metrics
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GroupPromotionSaga orchestrates promotion of a group's roster.
type GroupPromotionSaga struct {
	deps Dependencies
	log  *logger.Logger
}

// NewGroupPromotionSaga creates the saga.
func NewGroupPromotionSaga(deps Dependencies) *GroupPromotionSaga {
	if deps.Events == nil {
		deps.Events = shared.NopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = shared.SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &GroupPromotionSaga{deps: deps, log: deps.Logger.Named("group_promotion")}
}

// Preview evaluates every roster member at the group's level. It never writes.
func (s *GroupPromotionSaga) Preview(ctx context.Context, groupID string) (*Preview, error) {
	g, cur, err := s.resolve(ctx, groupID)
	if err != nil {
		return nil, err
	}

	from := g.Progress.CurrentLevel
	cost, ok := cur.PromotionCost(from)
	if !ok {
		return nil, shared.AlreadyAtFinalLevel(from)
	}

	partition, err := s.evaluate(ctx, g, cur)
	if err != nil {
		return nil, err
	}

	return &Preview{
		GroupID:           g.ID,
		CurriculumID:      cur.ID,
		FromLevel:         from,
		ToLevel:           from + 1,
		LevelDurationDays: cost,
		RequiredRate:      cur.MinimumCompletionRate(),
		Partition:         partition,
		AllReady:          len(partition.NotReady) == 0,
		SuggestedToken:    s.deps.NewID(),
	}, nil
}

// Commit executes (or resumes, or replays) a confirmed group promotion.
func (s *GroupPromotionSaga) Commit(ctx context.Context, in CommitInput) (*Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	fp := fingerprint(in)

	run, err := s.deps.Runs.Get(ctx, in.Token)
	switch {
	case err == nil:
		if run.Fingerprint != fp {
			s.deps.Metrics.ObserveGroupRun("idempotency_conflict")
			return nil, shared.IdempotencyConflict(in.Token)
		}
		if run.Status == RunCompleted {
			s.deps.Metrics.ObserveGroupRun("replayed")
			out := outcomeOf(run)
			out.Replayed = true
			return out, nil
		}
		s.log.Info("resuming group promotion run",
			logger.RunID(run.Token),
			logger.GroupID(run.GroupID),
			logger.Int("recorded", len(run.Promoted)+len(run.Failed)),
		)
	case shared.IsNotFound(err):
		run, err = s.start(ctx, in, fp)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("group_promotion: load run: %w", err)
	}

	// From here on the run owns its writes; a client disconnect must not
	// interrupt the loop halfway through a student.
	wctx := context.WithoutCancel(ctx)

	if err := s.stepPromoteStudents(wctx, run, in.CorrelationID); err != nil {
		return nil, s.fail(wctx, run, err)
	}
	if err := s.stepAdvanceGroup(wctx, run, in.CorrelationID); err != nil {
		return nil, s.fail(wctx, run, err)
	}
	if err := s.stepComplete(wctx, run, in.CorrelationID); err != nil {
		return nil, s.fail(wctx, run, err)
	}

	return outcomeOf(run), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

// start validates a fresh commit against the current roster and persists the run.
func (s *GroupPromotionSaga) start(ctx context.Context, in CommitInput, fp string) (*Run, error) {
	g, cur, err := s.resolve(ctx, in.GroupID)
	if err != nil {
		return nil, err
	}
	from := g.Progress.CurrentLevel
	if cur.IsFinalLevel(from) {
		return nil, shared.AlreadyAtFinalLevel(from)
	}

	var subset []string
	requested := shared.UniqueIDs(in.StudentIDs)
	if len(requested) == 0 {
		partition, err := s.evaluate(ctx, g, cur)
		if err != nil {
			return nil, err
		}
		if len(partition.NotReady) > 0 {
			s.deps.Metrics.ObserveGroupRun("confirmation_required")
			return nil, shared.ConfirmationRequired(len(partition.NotReady), partition)
		}
		subset = g.Students
	} else {
		for _, id := range requested {
			if !g.Has(id) {
				return nil, shared.NewDomainError("group_promotion", "Commit", shared.ErrInvalidInput,
					fmt.Sprintf("student %s is not a member of group %s", id, g.ID))
			}
		}
		subset = requested
	}

	now := s.deps.Clock.Now()
	run := &Run{
		Token:        in.Token,
		GroupID:      g.ID,
		CurriculumID: cur.ID,
		Fingerprint:  fp,
		FromLevel:    from,
		ToLevel:      from + 1,
		StudentIDs:   append([]string(nil), subset...),
		AdvanceGroup: in.AdvanceGroup,
		ActorID:      in.ActorID,
		Status:       RunInProgress,
		Step:         StepPromoteStudents,
		Promoted:     []string{},
		Failed:       []Failure{},
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.deps.Runs.Create(ctx, run); err != nil {
		if shared.IsAlreadyExists(err) {
			// Another Commit with the same token won the race.
			return nil, shared.ErrPromotionRunConflict
		}
		return nil, fmt.Errorf("group_promotion: create run: %w", err)
	}

	s.log.Info("group promotion run started",
		logger.RunID(run.Token),
		logger.GroupID(run.GroupID),
		logger.Int("students", len(run.StudentIDs)),
		logger.Bool("advance_group", run.AdvanceGroup),
	)
	return run, nil
}

// stepPromoteStudents promotes every student without a recorded result.
// The run is saved before each student (marking it current) and after its result.
func (s *GroupPromotionSaga) stepPromoteStudents(ctx context.Context, run *Run, correlationID string) error {
	run.Status = RunInProgress
	run.Step = StepPromoteStudents

	for _, id := range run.StudentIDs {
		if run.done(id) {
			continue
		}

		run.Current = id
		if err := s.save(ctx, run); err != nil {
			return err
		}

		advanced, err := s.alreadyAdvanced(ctx, run, id)
		if err != nil {
			return err
		}
		if advanced {
			run.Promoted = append(run.Promoted, id)
		} else {
			_, err := s.deps.Promoter.Handle(ctx, command.PromoteStudentCommand{
				StudentID:     id,
				CurriculumID:  run.CurriculumID,
				ActorID:       run.ActorID,
				ApprovedBy:    run.ActorID,
				ExpectedLevel: run.FromLevel,
				CorrelationID: correlationID,
			})
			var pe *shared.PolicyError
			switch {
			case err == nil:
				run.Promoted = append(run.Promoted, id)
			case errors.As(err, &pe) && pe.Category != shared.CategoryConcurrency:
				run.Failed = append(run.Failed, Failure{StudentID: id, Code: string(pe.Code), Message: pe.Message})
			default:
				// Infrastructure or concurrency failure: stop so the caller can resume.
				return fmt.Errorf("promote student %s: %w", id, err)
			}
		}

		run.Current = ""
		if err := s.save(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

// alreadyAdvanced detects students promoted past the run's level, either by an
// earlier attempt of this run that crashed before recording or individually.
func (s *GroupPromotionSaga) alreadyAdvanced(ctx context.Context, run *Run, studentID string) (bool, error) {
	sub, err := s.deps.Subscriptions.GetByStudentAndCurriculum(ctx, studentID, run.CurriculumID)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("load subscription of %s: %w", studentID, err)
	}
	return sub.CurrentLevel > run.FromLevel, nil
}

// stepAdvanceGroup moves the group pointer when requested or when the whole
// roster was promoted. It requires a strict majority of the roster at ToLevel.
func (s *GroupPromotionSaga) stepAdvanceGroup(ctx context.Context, run *Run, correlationID string) error {
	run.Step = StepAdvanceGroup
	if run.GroupAdvanced || run.GroupAdvanceFailure != nil {
		return nil
	}

	g, err := s.deps.Groups.GetByID(ctx, run.GroupID)
	if err != nil {
		return fmt.Errorf("reload group: %w", err)
	}

	if g.Progress.CurrentLevel > run.FromLevel {
		// Advanced by an earlier attempt of this run or by another run.
		run.GroupAdvanced = g.Progress.CurrentLevel == run.ToLevel
		return s.save(ctx, run)
	}

	if !run.AdvanceGroup && !run.promotedAll(g.Students) {
		return s.save(ctx, run)
	}

	atTarget, err := s.countAtLevel(ctx, g, run.ToLevel)
	if err != nil {
		return err
	}
	required := g.Size()/2 + 1
	if atTarget < required {
		pe := shared.GroupMajorityNotPromoted(required, atTarget)
		run.GroupAdvanceFailure = &Failure{Code: string(pe.Code), Message: pe.Error()}
		s.log.Warn("group pointer not advanced",
			logger.GroupID(g.ID),
			logger.Int("required", required),
			logger.Int("at_target", atTarget),
		)
		return s.save(ctx, run)
	}

	now := s.deps.Clock.Now()
	from, to := g.Advance(now)
	if err := s.deps.Groups.Update(ctx, g); err != nil {
		return fmt.Errorf("advance group: %w", err)
	}
	run.GroupAdvanced = true
	if err := s.save(ctx, run); err != nil {
		return err
	}

	if err := s.deps.Events.Publish(shared.GroupPromotedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventGroupPromoted, g.ID, now).WithCorrelationID(correlationID),
		CurriculumID: g.CurriculumID,
		FromLevel:    from,
		ToLevel:      to,
		RunID:        run.Token,
	}); err != nil {
		s.log.Warn("failed to publish group promoted event", logger.GroupID(g.ID), logger.Err(err))
	}
	s.log.Info("group pointer advanced", logger.GroupID(g.ID), logger.Int("from_level", from), logger.Int("to_level", to))
	return nil
}

// countAtLevel counts roster members whose subscription is at level or above.
func (s *GroupPromotionSaga) countAtLevel(ctx context.Context, g *group.Group, level int) (int, error) {
	subs, err := s.deps.Subscriptions.ListByStudentIDs(ctx, g.CurriculumID, g.Students)
	if err != nil {
		return 0, fmt.Errorf("list roster subscriptions: %w", err)
	}
	n := 0
	for _, sub := range subs {
		if sub.CurrentLevel >= level {
			n++
		}
	}
	return n, nil
}

// stepComplete marks the run finished and announces it.
func (s *GroupPromotionSaga) stepComplete(ctx context.Context, run *Run, correlationID string) error {
	now := s.deps.Clock.Now()
	run.Step = StepComplete
	run.Status = RunCompleted
	run.LastError = ""
	run.CompletedAt = &now
	if err := s.save(ctx, run); err != nil {
		return err
	}

	s.deps.Metrics.ObserveGroupRun(string(RunCompleted))
	if err := s.deps.Events.Publish(shared.GroupRunCompletedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventGroupRunCompleted, run.Token, now).WithCorrelationID(correlationID),
		GroupID:       run.GroupID,
		Promoted:      len(run.Promoted),
		Failed:        len(run.Failed),
		GroupAdvanced: run.GroupAdvanced,
	}); err != nil {
		s.log.Warn("failed to publish run completed event", logger.RunID(run.Token), logger.Err(err))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *GroupPromotionSaga) resolve(ctx context.Context, groupID string) (*group.Group, *curriculum.Curriculum, error) {
	g, err := s.deps.Groups.GetByID(ctx, groupID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil, shared.GroupNotFound(groupID)
		}
		return nil, nil, fmt.Errorf("group_promotion: load group: %w", err)
	}
	cur, err := s.deps.Curricula.GetByID(ctx, g.CurriculumID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil, shared.CurriculumNotFound(g.CurriculumID)
		}
		return nil, nil, fmt.Errorf("group_promotion: load curriculum: %w", err)
	}
	return g, cur, nil
}

// evaluate computes readiness of the whole roster at the group's level.
// Expiry is applied in memory only: this is a read path.
func (s *GroupPromotionSaga) evaluate(ctx context.Context, g *group.Group, cur *curriculum.Curriculum) (Partition, error) {
	level := g.Progress.CurrentLevel
	now := s.deps.Clock.Now()

	subs, err := s.deps.Subscriptions.ListByStudentIDs(ctx, cur.ID, g.Students)
	if err != nil {
		return Partition{}, fmt.Errorf("group_promotion: list subscriptions: %w", err)
	}
	byStudent := make(map[string]*subscription.Subscription, len(subs))
	for _, sub := range subs {
		byStudent[sub.StudentID] = sub
	}

	p := Partition{Ready: []Readiness{}, NotReady: []Readiness{}}
	for _, id := range g.Students {
		r, err := s.readiness(ctx, cur, level, id, byStudent[id], now)
		if err != nil {
			return Partition{}, err
		}
		if r.Ready {
			p.Ready = append(p.Ready, r)
		} else {
			p.NotReady = append(p.NotReady, r)
		}
	}
	return p, nil
}

func (s *GroupPromotionSaga) readiness(ctx context.Context, cur *curriculum.Curriculum, level int, studentID string, sub *subscription.Subscription, now time.Time) (Readiness, error) {
	r := Readiness{StudentID: studentID}
	if sub == nil {
		r.Reason = ReasonNoActiveSubscription
		return r, nil
	}
	sub.ApplyExpiry(now)
	r.Balance = sub.AccessCreditDays
	r.Level = sub.CurrentLevel
	if !sub.IsActive() {
		r.Reason = ReasonNoActiveSubscription
		return r, nil
	}
	if sub.CurrentLevel > level {
		r.Ready = true
		r.Reason = ReasonAlreadyAdvanced
		r.Progress = 100
		return r, nil
	}

	progress, err := s.deps.Progress.ForCurriculum(ctx, cur, studentID, level)
	if err != nil {
		return r, fmt.Errorf("group_promotion: progress of %s: %w", studentID, err)
	}
	r.Progress = progress

	_, err = command.CheckEligibility(cur, sub, level, progress)
	switch {
	case err == nil:
		r.Ready = true
		r.Reason = ReasonReady
	case shared.HasCode(err, shared.CodeInsufficientProgress):
		r.Reason = ReasonInsufficientProgress
	case shared.HasCode(err, shared.CodeInsufficientCredit):
		r.Reason = ReasonInsufficientCredit
	default:
		return r, err
	}
	return r, nil
}

func (s *GroupPromotionSaga) save(ctx context.Context, run *Run) error {
	run.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Runs.Update(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// fail records err on the run so a later Commit with the same token resumes it.
func (s *GroupPromotionSaga) fail(ctx context.Context, run *Run, err error) error {
	s.deps.Metrics.ObserveGroupRun(string(RunFailed))
	s.log.Error("group promotion run interrupted",
		logger.RunID(run.Token),
		logger.String("step", string(run.Step)),
		logger.Err(err),
	)

	if shared.IsConcurrency(err) && errors.Is(err, shared.ErrPromotionRunConflict) {
		// Someone else holds a newer version of the run; leave it to them.
		return err
	}
	run.Status = RunFailed
	run.LastError = err.Error()
	if saveErr := s.save(ctx, run); saveErr != nil {
		s.log.Error("failed to record run failure", logger.RunID(run.Token), logger.Err(saveErr))
	}
	return err
}

// fingerprint binds a token to the request content it was first used with.
func fingerprint(in CommitInput) string {
	ids := shared.UniqueIDs(in.StudentIDs)
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(in.GroupID))
	b.WriteByte(0)
	b.WriteString(strings.Join(ids, ","))
	b.WriteByte(0)
	b.WriteString(strconv.FormatBool(in.AdvanceGroup))

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func outcomeOf(run *Run) *Outcome {
	out := &Outcome{
		Token:         run.Token,
		GroupID:       run.GroupID,
		FromLevel:     run.FromLevel,
		ToLevel:       run.ToLevel,
		Promoted:      append([]string{}, run.Promoted...),
		Failed:        append([]Failure{}, run.Failed...),
		GroupAdvanced: run.GroupAdvanced,
	}
	if run.GroupAdvanceFailure != nil {
		f := *run.GroupAdvanceFailure
		out.GroupAdvanceFailure = &f
	}
	return out
}
