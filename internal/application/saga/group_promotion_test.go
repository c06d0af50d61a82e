package saga_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/application/command"
	"github.com/alem-hub/alem-backoffice/internal/application/saga"
	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/progress"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
	"github.com/alem-hub/alem-backoffice/internal/infrastructure/persistence/memory"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

// flakyPromoter fails with an infrastructure error for the listed students
// until healed.
type flakyPromoter struct {
	next   saga.StudentPromoter
	broken map[string]bool
}

func (p *flakyPromoter) Handle(ctx context.Context, cmd command.PromoteStudentCommand) (*command.PromoteStudentResult, error) {
	if p.broken[cmd.StudentID] {
		return nil, errors.New("connection reset by peer")
	}
	return p.next.Handle(ctx, cmd)
}

type env struct {
	repos    memory.Repositories
	clock    *shared.FixedClock
	events   *recorder
	promoter *flakyPromoter
	saga     *saga.GroupPromotionSaga
}

// newEnv builds a three-level curriculum "go" (30 days and 10 sessions per level)
// and group "g1" at level 1 with the given roster.
func newEnv(t *testing.T, roster ...string) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{
		repos:  memory.NewRepositories(memory.NewDB()),
		clock:  shared.NewFixedClock(t0),
		events: &recorder{},
	}

	cur, err := curriculum.NewCurriculum(curriculum.NewCurriculumParams{
		ID: "go",
		Levels: []curriculum.Level{
			{Order: 1, DurationDays: 30, SessionsCount: 10},
			{Order: 2, DurationDays: 30, SessionsCount: 10},
			{Order: 3, DurationDays: 30, SessionsCount: 10},
		},
	})
	require.NoError(t, err)
	require.NoError(t, e.repos.Curricula.Save(ctx, cur))

	g, err := group.NewGroup(group.NewGroupParams{
		ID: "g1", CurriculumID: "go", Students: roster, MinSize: 1, MaxSize: 10, Now: t0,
	})
	require.NoError(t, err)
	require.NoError(t, e.repos.Groups.Create(ctx, g))

	calc := progress.NewCalculator(e.repos.Curricula, e.repos.Attendance)
	seq := 0
	newID := func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	handler := command.NewPromoteStudentHandler(command.Dependencies{
		Subscriptions: e.repos.Subscriptions,
		Curricula:     e.repos.Curricula,
		Progress:      calc,
		Locker:        memory.NewKeyedLocker(),
		Events:        e.events,
		Clock:         e.clock,
		NewID:         newID,
	})
	e.promoter = &flakyPromoter{next: handler, broken: map[string]bool{}}
	e.saga = saga.NewGroupPromotionSaga(saga.Dependencies{
		Groups:        e.repos.Groups,
		Curricula:     e.repos.Curricula,
		Subscriptions: e.repos.Subscriptions,
		Progress:      calc,
		Promoter:      e.promoter,
		Runs:          e.repos.Runs,
		Events:        e.events,
		Clock:         e.clock,
		NewID:         newID,
	})
	return e
}

// student subscribes a student at level 1 and records n of 10 sessions attended.
func (e *env) student(t *testing.T, id string, credit, attended int) {
	t.Helper()
	ctx := context.Background()
	s, err := subscription.NewSubscription(subscription.NewSubscriptionParams{
		ID: "sub-" + id, StudentID: id, CurriculumID: "go", AccessCreditDays: credit, Now: t0,
	})
	require.NoError(t, err)
	require.NoError(t, e.repos.Subscriptions.Create(ctx, s))

	for i := 1; i <= 10; i++ {
		status := attendance.StatusAbsent
		if i <= attended {
			status = attendance.StatusPresent
		}
		sessions, err := e.repos.Attendance.ListSessions(ctx, "go", 1)
		require.NoError(t, err)
		sess := attendance.Session{ID: fmt.Sprintf("go-1-%d", i), CurriculumID: "go", Level: 1, SessionNumber: i}
		if len(sessions) >= i {
			sess = sessions[i-1]
		}
		sess.Entries = append(sess.Entries, attendance.Entry{StudentID: id, Status: status})
		require.NoError(t, e.repos.Attendance.Append(ctx, sess))
	}
}

func (e *env) sub(t *testing.T, id string) *subscription.Subscription {
	t.Helper()
	s, err := e.repos.Subscriptions.GetByStudentAndCurriculum(context.Background(), id, "go")
	require.NoError(t, err)
	return s
}

func (e *env) group(t *testing.T) *group.Group {
	t.Helper()
	g, err := e.repos.Groups.GetByID(context.Background(), "g1")
	require.NoError(t, err)
	return g
}

func ids(rs []saga.Readiness) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.StudentID
	}
	return out
}

// mixedEnv: a and b are ready, c lacks progress, d lacks credit, e has no subscription.
func mixedEnv(t *testing.T) *env {
	e := newEnv(t, "a", "b", "c", "d", "e")
	e.student(t, "a", 100, 10)
	e.student(t, "b", 100, 9)
	e.student(t, "c", 100, 5)
	e.student(t, "d", 10, 10)
	return e
}

func TestPreview_PartitionsRoster(t *testing.T) {
	e := mixedEnv(t)

	p, err := e.saga.Preview(context.Background(), "g1")
	require.NoError(t, err)

	assert.Equal(t, 1, p.FromLevel)
	assert.Equal(t, 2, p.ToLevel)
	assert.Equal(t, 30, p.LevelDurationDays)
	assert.Equal(t, 80.0, p.RequiredRate)
	assert.False(t, p.AllReady)
	assert.NotEmpty(t, p.SuggestedToken)

	assert.Equal(t, []string{"a", "b"}, ids(p.Ready))
	assert.Equal(t, []string{"c", "d", "e"}, ids(p.NotReady))

	reasons := map[string]saga.Reason{}
	for _, r := range p.NotReady {
		reasons[r.StudentID] = r.Reason
	}
	assert.Equal(t, saga.ReasonInsufficientProgress, reasons["c"])
	assert.Equal(t, saga.ReasonInsufficientCredit, reasons["d"])
	assert.Equal(t, saga.ReasonNoActiveSubscription, reasons["e"])
	assert.Equal(t, 90.0, p.Ready[1].Progress)
}

func TestPreview_UnknownGroup(t *testing.T) {
	e := newEnv(t)

	_, err := e.saga.Preview(context.Background(), "nope")
	require.True(t, shared.HasCode(err, shared.CodeGroupNotFound))
}

func TestCommit_RequiresConfirmationWhenNotAllReady(t *testing.T) {
	e := mixedEnv(t)

	_, err := e.saga.Commit(context.Background(), saga.CommitInput{Token: "t1", GroupID: "g1"})
	pe, ok := shared.AsPolicyError(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeConfirmationRequired, pe.Code)
	assert.Equal(t, shared.CategoryPartialGroup, pe.Category)

	partition, ok := pe.Details.(saga.Partition)
	require.True(t, ok)
	assert.Len(t, partition.NotReady, 3)

	_, err = e.repos.Runs.Get(context.Background(), "t1")
	assert.True(t, shared.IsNotFound(err), "nothing may be written")
	assert.Equal(t, 1, e.sub(t, "a").CurrentLevel)
}

func TestCommit_SubsetWithoutMajority(t *testing.T) {
	e := mixedEnv(t)
	in := saga.CommitInput{Token: "t1", GroupID: "g1", StudentIDs: []string{"b", "a"}, AdvanceGroup: true, ActorID: "admin"}

	out, err := e.saga.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, out.Promoted, "explicit subset keeps the caller's order")
	assert.Empty(t, out.Failed)
	assert.False(t, out.GroupAdvanced)
	require.NotNil(t, out.GroupAdvanceFailure)
	assert.Equal(t, string(shared.CodeGroupMajorityNotPromoted), out.GroupAdvanceFailure.Code)

	assert.Equal(t, 2, e.sub(t, "a").CurrentLevel)
	assert.Equal(t, 70, e.sub(t, "a").AccessCreditDays)
	assert.Equal(t, 1, e.group(t).Progress.CurrentLevel)

	run, err := e.repos.Runs.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, saga.RunCompleted, run.Status)
	assert.Equal(t, 1, e.events.count(shared.EventGroupRunCompleted))
}

func TestGroupPromotion_ReadyOnlyKeepsGroupLevel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "a", "b", "c")
	e.student(t, "a", 100, 10)
	e.student(t, "b", 100, 5)
	e.student(t, "c", 10, 10)

	p, err := e.saga.Preview(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(p.Ready))
	assert.Equal(t, saga.ReasonReady, p.Ready[0].Reason)
	require.Equal(t, []string{"b", "c"}, ids(p.NotReady))
	assert.Equal(t, saga.ReasonInsufficientProgress, p.NotReady[0].Reason)
	assert.Equal(t, 50.0, p.NotReady[0].Progress)
	assert.Equal(t, saga.ReasonInsufficientCredit, p.NotReady[1].Reason)
	assert.Equal(t, 10, p.NotReady[1].Balance)

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, int64(1), e.sub(t, id).Version, "preview must not write")
	}

	out, err := e.saga.Commit(ctx, saga.CommitInput{
		Token: p.SuggestedToken, GroupID: "g1", StudentIDs: []string{"a"}, ActorID: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Promoted)
	assert.Empty(t, out.Failed)
	assert.False(t, out.GroupAdvanced)

	assert.Equal(t, 2, e.sub(t, "a").CurrentLevel)
	assert.Equal(t, 1, e.sub(t, "b").CurrentLevel)
	assert.Equal(t, 1, e.sub(t, "c").CurrentLevel)
	assert.Equal(t, 10, e.sub(t, "c").AccessCreditDays)

	g := e.group(t)
	assert.Equal(t, 1, g.Progress.CurrentLevel)
	assert.Empty(t, g.Progress.CompletedLevels)
	assert.Zero(t, e.events.count(shared.EventGroupPromoted))
}

func TestCommit_ReplayReturnsStoredOutcome(t *testing.T) {
	e := mixedEnv(t)
	in := saga.CommitInput{Token: "t1", GroupID: "g1", StudentIDs: []string{"a", "b"}}

	first, err := e.saga.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	in.StudentIDs = []string{"b", "a", "a"}
	second, err := e.saga.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Promoted, second.Promoted)

	assert.Equal(t, 70, e.sub(t, "a").AccessCreditDays, "credit is charged once")
	assert.Equal(t, 2, e.events.count(shared.EventStudentPromoted))
}

func TestCommit_TokenReusedWithDifferentInput(t *testing.T) {
	e := mixedEnv(t)

	_, err := e.saga.Commit(context.Background(), saga.CommitInput{Token: "t1", GroupID: "g1", StudentIDs: []string{"a"}})
	require.NoError(t, err)

	_, err = e.saga.Commit(context.Background(), saga.CommitInput{Token: "t1", GroupID: "g1", StudentIDs: []string{"a", "b"}})
	require.True(t, shared.HasCode(err, shared.CodeIdempotencyConflict))
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Equal(t, 1, e.sub(t, "b").CurrentLevel)
}

func TestCommit_RecordsPerStudentFailures(t *testing.T) {
	e := mixedEnv(t)

	out, err := e.saga.Commit(context.Background(), saga.CommitInput{Token: "t1", GroupID: "g1", StudentIDs: []string{"a", "c", "e"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.Promoted)
	require.Len(t, out.Failed, 2)
	assert.Equal(t, "c", out.Failed[0].StudentID)
	assert.Equal(t, string(shared.CodeInsufficientProgress), out.Failed[0].Code)
	assert.Equal(t, "e", out.Failed[1].StudentID)
	assert.Equal(t, string(shared.CodeNoActiveSubscription), out.Failed[1].Code)
}

func TestCommit_RejectsNonMembers(t *testing.T) {
	e := mixedEnv(t)

	_, err := e.saga.Commit(context.Background(), saga.CommitInput{Token: "t1", GroupID: "g1", StudentIDs: []string{"a", "stranger"}})
	assert.True(t, shared.IsValidation(err))
}

func TestCommit_MajorityAdvancesGroup(t *testing.T) {
	e := newEnv(t, "a", "b", "c")
	e.student(t, "a", 100, 10)
	e.student(t, "b", 100, 10)
	e.student(t, "c", 100, 2)

	out, err := e.saga.Commit(context.Background(), saga.CommitInput{Token: "t1", GroupID: "g1", StudentIDs: []string{"a", "b"}, AdvanceGroup: true})
	require.NoError(t, err)
	assert.True(t, out.GroupAdvanced)
	assert.Nil(t, out.GroupAdvanceFailure)

	g := e.group(t)
	assert.Equal(t, 2, g.Progress.CurrentLevel)
	assert.Equal(t, []int{1}, g.Progress.CompletedLevels.Ints())
	assert.Equal(t, 1, e.events.count(shared.EventGroupPromoted))
}

func TestCommit_AllReadyAdvancesAutomatically(t *testing.T) {
	e := newEnv(t, "a", "b")
	e.student(t, "a", 100, 10)
	e.student(t, "b", 100, 8)

	out, err := e.saga.Commit(context.Background(), saga.CommitInput{Token: "t1", GroupID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Promoted)
	assert.True(t, out.GroupAdvanced)
	assert.Equal(t, 2, e.group(t).Progress.CurrentLevel)
}

func TestCommit_ResumesAfterInterruption(t *testing.T) {
	e := newEnv(t, "a", "b", "c")
	e.student(t, "a", 100, 10)
	e.student(t, "b", 100, 10)
	e.student(t, "c", 100, 10)
	e.promoter.broken["b"] = true
	in := saga.CommitInput{Token: "t1", GroupID: "g1"}

	_, err := e.saga.Commit(context.Background(), in)
	require.Error(t, err)

	run, err := e.repos.Runs.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, saga.RunFailed, run.Status)
	assert.Equal(t, []string{"a"}, run.Promoted)
	assert.Equal(t, "b", run.Current)
	assert.NotEmpty(t, run.LastError)

	delete(e.promoter.broken, "b")
	out, err := e.saga.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Equal(t, []string{"a", "b", "c"}, out.Promoted)
	assert.True(t, out.GroupAdvanced)

	assert.Equal(t, 70, e.sub(t, "a").AccessCreditDays, "a is not promoted twice")
	assert.Equal(t, 2, e.sub(t, "a").CurrentLevel)
}

func TestCommit_StudentAlreadyAdvanced(t *testing.T) {
	e := newEnv(t, "a", "b")
	e.student(t, "a", 100, 10)
	e.student(t, "b", 100, 10)

	_, err := e.promoter.Handle(context.Background(), command.PromoteStudentCommand{StudentID: "a", CurriculumID: "go"})
	require.NoError(t, err)

	p, err := e.saga.Preview(context.Background(), "g1")
	require.NoError(t, err)
	assert.True(t, p.AllReady)
	assert.Equal(t, saga.ReasonAlreadyAdvanced, p.Ready[0].Reason)

	out, err := e.saga.Commit(context.Background(), saga.CommitInput{Token: "t1", GroupID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Promoted)
	assert.Equal(t, 70, e.sub(t, "a").AccessCreditDays)
	assert.True(t, out.GroupAdvanced)
}

func TestCommit_GroupAtFinalLevel(t *testing.T) {
	e := newEnv(t, "a")
	ctx := context.Background()
	g := e.group(t)
	g.Advance(t0)
	g.Advance(t0)
	require.NoError(t, e.repos.Groups.Update(ctx, g))

	_, err := e.saga.Preview(ctx, "g1")
	assert.True(t, shared.HasCode(err, shared.CodeAlreadyAtFinalLevel))

	_, err = e.saga.Commit(ctx, saga.CommitInput{Token: "t1", GroupID: "g1"})
	assert.True(t, shared.HasCode(err, shared.CodeAlreadyAtFinalLevel))
}

func TestCommit_RequiresToken(t *testing.T) {
	e := newEnv(t, "a")

	_, err := e.saga.Commit(context.Background(), saga.CommitInput{GroupID: "g1"})
	assert.True(t, shared.IsValidation(err))
}
