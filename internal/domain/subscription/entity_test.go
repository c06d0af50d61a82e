package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newSub(t *testing.T, level, credit int, completed ...int) *Subscription {
	t.Helper()
	s, err := NewSubscription(NewSubscriptionParams{
		ID:               "sub-1",
		StudentID:        "alice",
		CurriculumID:     "go",
		StartLevel:       level,
		AccessCreditDays: credit,
		CompletedLevels:  completed,
		Now:              now,
	})
	require.NoError(t, err)
	return s
}

func TestNewSubscription_Invariants(t *testing.T) {
	_, err := NewSubscription(NewSubscriptionParams{ID: "s", StudentID: "a", CurriculumID: "c", AccessCreditDays: -1})
	assert.True(t, shared.IsValidation(err))

	_, err = NewSubscription(NewSubscriptionParams{ID: "s", StudentID: "a", CurriculumID: "c", StartLevel: 2, CompletedLevels: []int{2}})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = NewSubscription(NewSubscriptionParams{StudentID: "a", CurriculumID: "c"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestSubscription_Promote(t *testing.T) {
	s := newSub(t, 1, 40)

	rec, err := s.Promote(PromoteParams{RecordID: "r1", Cost: 30, Progress: 80, PromotedBy: "admin", Now: now})
	require.NoError(t, err)

	assert.Equal(t, 2, s.CurrentLevel)
	assert.Equal(t, 10, s.AccessCreditDays)
	assert.Equal(t, []int{1}, s.Progress.CompletedLevels.Ints())
	assert.Equal(t, now.AddDate(0, 0, 30), s.CurrentLevelAccessExpiresAt)
	require.NotNil(t, s.Progress.LastPromotion)
	assert.Equal(t, rec, *s.Progress.LastPromotion)
	assert.Len(t, s.History, 1)

	assert.Equal(t, 1, rec.FromLevel)
	assert.Equal(t, 2, rec.ToLevel)
	assert.Equal(t, 30, rec.CreditsDeducted)
	assert.Equal(t, 10, rec.RemainingCredits)
	assert.Equal(t, 80.0, rec.ProgressAtPromotion)
}

func TestSubscription_Promote_ExactCreditBoundary(t *testing.T) {
	s := newSub(t, 1, 45)

	_, err := s.Promote(PromoteParams{RecordID: "r1", Cost: 45, Now: now})
	require.NoError(t, err)
	assert.Equal(t, 0, s.AccessCreditDays)
}

func TestSubscription_Promote_RejectionLeavesStateUnchanged(t *testing.T) {
	s := newSub(t, 2, 20, 1)
	before := s.Clone()

	_, err := s.Promote(PromoteParams{RecordID: "r1", Cost: 45, Now: now})
	require.Error(t, err)

	pe, ok := shared.AsPolicyError(err)
	require.True(t, ok)
	assert.Equal(t, shared.CodeInsufficientCredit, pe.Code)
	assert.Equal(t, 45.0, *pe.Required)
	assert.Equal(t, 20.0, *pe.Available)
	assert.Equal(t, before, s)
}

func TestSubscription_Demote(t *testing.T) {
	s := newSub(t, 3, 12, 1, 2)

	from, err := s.Demote("admin", now)
	require.NoError(t, err)

	assert.Equal(t, 3, from)
	assert.Equal(t, 2, s.CurrentLevel)
	assert.Equal(t, []int{1}, s.Progress.CompletedLevels.Ints())
	assert.Equal(t, 12, s.AccessCreditDays, "demotion never refunds credit")
	assert.Equal(t, "admin", s.Progress.DemotedBy)
	require.NotNil(t, s.Progress.DemotedAt)
}

func TestSubscription_Demote_AtFirstLevel(t *testing.T) {
	s := newSub(t, 1, 12)
	before := s.Clone()

	_, err := s.Demote("admin", now)
	assert.True(t, shared.HasCode(err, shared.CodeAlreadyAtFirstLevel))
	assert.True(t, shared.IsPolicyViolation(err))
	assert.Equal(t, before, s)
}

func TestSubscription_Reset(t *testing.T) {
	s := newSub(t, 3, 7, 1, 2)

	prev, err := s.Reset("admin", now)
	require.NoError(t, err)

	assert.Equal(t, 3, prev)
	assert.Equal(t, 1, s.CurrentLevel)
	assert.Empty(t, s.Progress.CompletedLevels)
	assert.Equal(t, 7, s.AccessCreditDays)
	assert.Equal(t, "admin", s.Progress.ResetBy)
}

func TestSubscription_ApplyExpiry(t *testing.T) {
	s := newSub(t, 1, 0)
	assert.False(t, s.ApplyExpiry(now), "no expiry set")

	s.CurrentLevelAccessExpiresAt = now
	assert.False(t, s.ApplyExpiry(now), "expiry instant itself is still valid")

	assert.True(t, s.ApplyExpiry(now.Add(time.Second)))
	assert.Equal(t, StatusExpired, s.Status)
	assert.False(t, s.IsActive())

	_, err := s.Promote(PromoteParams{Cost: 0, Now: now})
	assert.True(t, shared.HasCode(err, shared.CodeNoActiveSubscription))
}

func TestSubscription_CloneIsIndependent(t *testing.T) {
	s := newSub(t, 2, 40, 1)
	c := s.Clone()

	_, err := c.Promote(PromoteParams{RecordID: "r", Cost: 10, Now: now})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, s.Progress.CompletedLevels.Ints())
	assert.Empty(t, s.History)
}
