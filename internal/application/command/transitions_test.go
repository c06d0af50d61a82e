package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/application/command"
	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

func TestDemoteStudent(t *testing.T) {
	f := newFixture(t)
	f.curriculum(t, "go", false, 30, 30, 30)
	sub := f.subscribe(t, "alice", "go", 3, 25)
	h := command.NewDemoteStudentHandler(f.deps)

	res, err := h.Handle(context.Background(), command.DemoteStudentCommand{StudentID: "alice", CurriculumID: "go", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.FromLevel)
	assert.Equal(t, 2, res.ToLevel)

	stored := f.stored(t, sub.ID)
	assert.Equal(t, 2, stored.CurrentLevel)
	assert.Equal(t, []int{1}, stored.Progress.CompletedLevels.Ints())
	assert.Equal(t, 25, stored.AccessCreditDays, "demotion does not refund credit")
	assert.Equal(t, "admin", stored.Progress.DemotedBy)
	require.NotNil(t, stored.Progress.DemotedAt)
	assert.Len(t, f.events.ofType(shared.EventStudentDemoted), 1)

	_, err = h.Handle(context.Background(), command.DemoteStudentCommand{StudentID: "alice", CurriculumID: "go"})
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), command.DemoteStudentCommand{StudentID: "alice", CurriculumID: "go"})
	requireCode(t, err, shared.CodeAlreadyAtFirstLevel)
	assert.Equal(t, 1, f.stored(t, sub.ID).CurrentLevel)
}

func TestResetStudentProgress(t *testing.T) {
	f := newFixture(t)
	f.curriculum(t, "go", false, 30, 30, 30, 30)
	sub := f.subscribe(t, "alice", "go", 4, 12)

	res, err := command.NewResetStudentProgressHandler(f.deps).Handle(context.Background(),
		command.ResetStudentProgressCommand{StudentID: "alice", CurriculumID: "go", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.PreviousLevel)

	stored := f.stored(t, sub.ID)
	assert.Equal(t, 1, stored.CurrentLevel)
	assert.Empty(t, stored.Progress.CompletedLevels.Ints())
	assert.Equal(t, 12, stored.AccessCreditDays)
	assert.Equal(t, "admin", stored.Progress.ResetBy)

	events := f.events.ofType(shared.EventProgressReset)
	require.Len(t, events, 1)
	assert.Equal(t, 4, events[0].(shared.ProgressResetEvent).PreviousLevel)
}

func TestResetStudentProgress_NoSubscription(t *testing.T) {
	f := newFixture(t)

	_, err := command.NewResetStudentProgressHandler(f.deps).Handle(context.Background(),
		command.ResetStudentProgressCommand{StudentID: "alice", CurriculumID: "go"})
	requireCode(t, err, shared.CodeNoActiveSubscription)
	assert.Equal(t, 1, f.metrics.got["reset/no_active_subscription"])
}

func TestUpdateGroupRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := group.NewGroup(group.NewGroupParams{
		ID: "g1", CurriculumID: "go", Students: []string{"a", "b"}, MinSize: 3, MaxSize: 4, Now: t0,
	})
	require.NoError(t, err)
	require.NoError(t, f.repos.Groups.Create(ctx, g))
	assert.Equal(t, group.StatusPending, g.Status)

	h := command.NewUpdateGroupRosterHandler(f.repos.Groups, f.events, f.clock, nil)

	res, err := h.Handle(ctx, command.UpdateGroupRosterCommand{GroupID: "g1", Add: []string{"c", "a", " c "}, Toggle: command.ToggleActivate})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, res.Added)
	assert.Equal(t, group.StatusActive, res.Group.Status)

	_, err = h.Handle(ctx, command.UpdateGroupRosterCommand{GroupID: "g1", Add: []string{"d", "e"}})
	require.NoError(t, err)
	stored, err := f.repos.Groups.GetByID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, group.StatusOverfull, stored.Status)
	assert.Equal(t, 5, stored.Size())

	_, err = h.Handle(ctx, command.UpdateGroupRosterCommand{GroupID: "g1", Toggle: command.ToggleActivate})
	assert.ErrorIs(t, err, shared.ErrGroupNotReady)

	res, err = h.Handle(ctx, command.UpdateGroupRosterCommand{GroupID: "g1", Remove: []string{"e"}, Toggle: command.ToggleDeactivate})
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, res.Removed)
	assert.Equal(t, group.StatusInactive, res.Group.Status)

	assert.Len(t, f.events.ofType(shared.EventGroupRosterChange), 3)
}

func TestUpdateGroupRoster_Errors(t *testing.T) {
	f := newFixture(t)
	h := command.NewUpdateGroupRosterHandler(f.repos.Groups, nil, nil, nil)

	_, err := h.Handle(context.Background(), command.UpdateGroupRosterCommand{GroupID: "missing"})
	requireCode(t, err, shared.CodeGroupNotFound)

	_, err = h.Handle(context.Background(), command.UpdateGroupRosterCommand{GroupID: "g1", Toggle: "flip"})
	assert.True(t, shared.IsValidation(err))
}
