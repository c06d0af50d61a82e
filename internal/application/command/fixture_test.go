package command_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/application/command"
	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
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

func (r *recorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type countingMetrics struct {
	mu  sync.Mutex
	got map[string]int
}

func (m *countingMetrics) ObserveTransition(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.got == nil {
		m.got = make(map[string]int)
	}
	m.got[op+"/"+outcome]++
}

type fixture struct {
	repos   memory.Repositories
	locker  *memory.KeyedLocker
	clock   *shared.FixedClock
	events  *recorder
	metrics *countingMetrics
	deps    command.Dependencies
	seq     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repos:   memory.NewRepositories(memory.NewDB()),
		locker:  memory.NewKeyedLocker(),
		clock:   shared.NewFixedClock(t0),
		events:  &recorder{},
		metrics: &countingMetrics{},
	}
	f.deps = command.Dependencies{
		Subscriptions: f.repos.Subscriptions,
		Curricula:     f.repos.Curricula,
		Progress:      progress.NewCalculator(f.repos.Curricula, f.repos.Attendance),
		Locker:        f.locker,
		Events:        f.events,
		Clock:         f.clock,
		NewID: func() string {
			f.seq++
			return fmt.Sprintf("rec-%d", f.seq)
		},
		Metrics: f.metrics,
	}
	return f
}

// curriculum stores a curriculum whose levels have the given durations and
// ten sessions each.
func (f *fixture) curriculum(t *testing.T, id string, approval bool, durations ...int) *curriculum.Curriculum {
	t.Helper()
	levels := make([]curriculum.Level, len(durations))
	for i, d := range durations {
		levels[i] = curriculum.Level{Order: i + 1, Name: fmt.Sprintf("L%d", i+1), DurationDays: d, SessionsCount: 10}
	}
	c, err := curriculum.NewCurriculum(curriculum.NewCurriculumParams{
		ID:                   id,
		Name:                 id,
		Levels:               levels,
		RequireAdminApproval: approval,
	})
	require.NoError(t, err)
	require.NoError(t, f.repos.Curricula.Save(context.Background(), c))
	return c
}

func (f *fixture) subscribe(t *testing.T, studentID, curriculumID string, level, credit int) *subscription.Subscription {
	t.Helper()
	completed := make([]int, 0, level)
	for l := 1; l < level; l++ {
		completed = append(completed, l)
	}
	s, err := subscription.NewSubscription(subscription.NewSubscriptionParams{
		ID:               "sub-" + studentID + "-" + curriculumID,
		StudentID:        studentID,
		CurriculumID:     curriculumID,
		StartLevel:       level,
		AccessCreditDays: credit,
		CompletedLevels:  completed,
		Now:              t0,
	})
	require.NoError(t, err)
	require.NoError(t, f.repos.Subscriptions.Create(context.Background(), s))
	return s
}

// attend records ten sessions of a level; each student attends the first n of them.
func (f *fixture) attend(t *testing.T, curriculumID string, level int, attended map[string]int) {
	t.Helper()
	for i := 1; i <= 10; i++ {
		s := attendance.Session{
			ID:            fmt.Sprintf("%s-%d-%d", curriculumID, level, i),
			CurriculumID:  curriculumID,
			Level:         level,
			SessionNumber: i,
			HeldAt:        t0.AddDate(0, 0, i),
		}
		for student, n := range attended {
			status := attendance.StatusAbsent
			if i <= n {
				status = attendance.StatusPresent
			}
			s.Entries = append(s.Entries, attendance.Entry{StudentID: student, Status: status})
		}
		require.NoError(t, f.repos.Attendance.Append(context.Background(), s))
	}
}

func (f *fixture) stored(t *testing.T, id string) *subscription.Subscription {
	t.Helper()
	s, err := f.repos.Subscriptions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, code shared.PolicyCode) *shared.PolicyError {
	t.Helper()
	require.Error(t, err)
	pe, ok := shared.AsPolicyError(err)
	require.True(t, ok, "expected policy error, got %v", err)
	require.Equal(t, code, pe.Code)
	return pe
}
