package progress

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

type stubCatalog map[string]*curriculum.Curriculum

func (s stubCatalog) GetByID(_ context.Context, id string) (*curriculum.Curriculum, error) {
	c, ok := s[id]
	if !ok {
		return nil, shared.ErrCurriculumNotFound
	}
	return c, nil
}

func (s stubCatalog) Save(_ context.Context, c *curriculum.Curriculum) error {
	s[c.ID] = c
	return nil
}

type stubLedger struct {
	sessions []attendance.Session
	err      error
}

func (s stubLedger) ListSessions(_ context.Context, curriculumID string, level int) ([]attendance.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []attendance.Session
	for _, sess := range s.sessions {
		if sess.CurriculumID == curriculumID && sess.Level == level {
			out = append(out, sess)
		}
	}
	return out, nil
}

func sessionsFor(curriculumID string, level int, marks ...attendance.Status) []attendance.Session {
	out := make([]attendance.Session, 0, len(marks))
	for i, m := range marks {
		out = append(out, attendance.Session{
			ID:            fmt.Sprintf("%s-%d-%d", curriculumID, level, i+1),
			CurriculumID:  curriculumID,
			Level:         level,
			SessionNumber: i + 1,
			Entries:       []attendance.Entry{{StudentID: "alice", Status: m}},
		})
	}
	return out
}

func newCatalog(t *testing.T, sessionsCount int) stubCatalog {
	t.Helper()
	c, err := curriculum.NewCurriculum(curriculum.NewCurriculumParams{
		ID: "go",
		Levels: []curriculum.Level{
			{Order: 1, SessionsCount: sessionsCount, DurationDays: 30},
			{Order: 2, SessionsCount: 0, DurationDays: 45},
		},
	})
	require.NoError(t, err)
	return stubCatalog{"go": c}
}

func TestCompletion(t *testing.T) {
	tests := []struct {
		attended, required int
		want               float64
	}{
		{0, 0, 100},
		{5, 0, 100},
		{0, 10, 0},
		{8, 10, 80},
		{10, 10, 100},
		{12, 10, 100},
		{1, 3, 100.0 / 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Completion(tt.attended, tt.required), "%d/%d", tt.attended, tt.required)
	}
}

func TestCalculator_LevelCompletion(t *testing.T) {
	P, L, A := attendance.StatusPresent, attendance.StatusLate, attendance.StatusAbsent
	ctx := context.Background()

	t.Run("eight of ten is exactly eighty", func(t *testing.T) {
		ledger := stubLedger{sessions: sessionsFor("go", 1, P, P, P, P, L, L, P, P, A, A)}
		calc := NewCalculator(newCatalog(t, 10), ledger)

		got, err := calc.LevelCompletion(ctx, "alice", "go", 1)
		require.NoError(t, err)
		assert.Equal(t, 80.0, got)
	})

	t.Run("extra sessions cap at one hundred", func(t *testing.T) {
		ledger := stubLedger{sessions: sessionsFor("go", 1, P, P, P, P, P, P, P, P, P, P, P, P)}
		calc := NewCalculator(newCatalog(t, 10), ledger)

		got, err := calc.LevelCompletion(ctx, "alice", "go", 1)
		require.NoError(t, err)
		assert.Equal(t, 100.0, got)
	})

	t.Run("zero required sessions is complete", func(t *testing.T) {
		calc := NewCalculator(newCatalog(t, 10), stubLedger{})

		got, err := calc.LevelCompletion(ctx, "alice", "go", 2)
		require.NoError(t, err)
		assert.Equal(t, 100.0, got)
	})

	t.Run("unknown level is zero", func(t *testing.T) {
		calc := NewCalculator(newCatalog(t, 10), stubLedger{})

		got, err := calc.LevelCompletion(ctx, "alice", "go", 7)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("other students do not count", func(t *testing.T) {
		calc := NewCalculator(newCatalog(t, 10), stubLedger{sessions: sessionsFor("go", 1, P, P, P)})

		got, err := calc.LevelCompletion(ctx, "bob", "go", 1)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("unknown curriculum", func(t *testing.T) {
		calc := NewCalculator(stubCatalog{}, stubLedger{})

		_, err := calc.LevelCompletion(ctx, "alice", "nope", 1)
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("ledger failure is wrapped", func(t *testing.T) {
		boom := errors.New("ledger down")
		calc := NewCalculator(newCatalog(t, 10), stubLedger{err: boom})

		_, err := calc.LevelCompletion(ctx, "alice", "go", 1)
		assert.ErrorIs(t, err, boom)
	})
}
