package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE GROUP ROSTER COMMAND
// Adds/removes group members and applies the operator's active/inactive toggle.
// The roster status is recomputed from the new size on every change.
// ══════════════════════════════════════════════════════════════════════════════

// Toggle is the operator's requested activation state.
type Toggle string

const (
	ToggleNone       Toggle = ""
	ToggleActivate   Toggle = "activate"
	ToggleDeactivate Toggle = "deactivate"
)

// UpdateGroupRosterCommand contains roster changes for one group.
type UpdateGroupRosterCommand struct {
	GroupID       string
	Add           []string
	Remove        []string
	Toggle        Toggle
	CorrelationID string
}

// Validate validates the command.
func (c UpdateGroupRosterCommand) Validate() error {
	if strings.TrimSpace(c.GroupID) == "" {
		return shared.NewDomainError("group", "Validate", shared.ErrInvalidInput, "group_id is required")
	}
	switch c.Toggle {
	case ToggleNone, ToggleActivate, ToggleDeactivate:
	default:
		return shared.NewDomainError("group", "Validate", shared.ErrInvalidInput, "unknown toggle "+string(c.Toggle))
	}
	return nil
}

// UpdateGroupRosterResult contains the updated group.
type UpdateGroupRosterResult struct {
	Added   []string
	Removed []string
	Group   *group.Group
}

// UpdateGroupRosterHandler handles the UpdateGroupRosterCommand.
type UpdateGroupRosterHandler struct {
	groups group.Repository
	events shared.EventPublisher
	clock  shared.Clock
	log    *logger.Logger
}

// NewUpdateGroupRosterHandler creates a new UpdateGroupRosterHandler.
func NewUpdateGroupRosterHandler(groups group.Repository, events shared.EventPublisher, clock shared.Clock, log *logger.Logger) *UpdateGroupRosterHandler {
	if events == nil {
		events = shared.NopPublisher{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &UpdateGroupRosterHandler{groups: groups, events: events, clock: clock, log: log.Named("update_roster")}
}

// Handle applies the roster changes with a single compare-and-swap write.
func (h *UpdateGroupRosterHandler) Handle(ctx context.Context, cmd UpdateGroupRosterCommand) (*UpdateGroupRosterResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	g, err := h.groups.GetByID(ctx, cmd.GroupID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.GroupNotFound(cmd.GroupID)
		}
		return nil, fmt.Errorf("update_roster: load group: %w", err)
	}

	now := h.clock.Now()
	result := &UpdateGroupRosterResult{Added: []string{}, Removed: []string{}}

	for _, id := range shared.UniqueIDs(cmd.Remove) {
		if g.RemoveStudent(id, now) {
			result.Removed = append(result.Removed, id)
		}
	}
	for _, id := range shared.UniqueIDs(cmd.Add) {
		if g.AddStudent(id, now) {
			result.Added = append(result.Added, id)
		}
	}

	switch cmd.Toggle {
	case ToggleActivate:
		if err := g.Activate(now); err != nil {
			return nil, err
		}
	case ToggleDeactivate:
		g.Deactivate(now)
	}

	if err := h.groups.Update(context.WithoutCancel(ctx), g); err != nil {
		if shared.IsConcurrency(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update_roster: save group: %w", err)
	}

	if err := h.events.Publish(shared.GroupRosterChangedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventGroupRosterChange, g.ID, now).WithCorrelationID(cmd.CorrelationID),
		Added:     result.Added,
		Removed:   result.Removed,
		NewStatus: string(g.Status),
		Size:      g.Size(),
	}); err != nil {
		h.log.Warn("failed to publish roster event", logger.GroupID(g.ID), logger.Err(err))
	}

	h.log.Info("group roster updated",
		logger.GroupID(g.ID),
		logger.Int("added", len(result.Added)),
		logger.Int("removed", len(result.Removed)),
		logger.String("status", string(g.Status)),
	)

	result.Group = g.Clone()
	return result, nil
}
