package query

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROUP STATUS QUERIES
// Статус состава считается только из размера и границ и не зависит от того,
// на каком уровне находятся участники.
// ══════════════════════════════════════════════════════════════════════════════

// DetermineGroupStatusQuery - "какой статус был бы у группы такого размера".
type DetermineGroupStatusQuery struct {
	Count   int
	MinSize int
	MaxSize int
}

// Validate проверяет корректность параметров запроса.
func (q DetermineGroupStatusQuery) Validate() error {
	if q.Count < 0 {
		return errors.New("count cannot be negative")
	}
	if q.MinSize < 0 || q.MaxSize < q.MinSize {
		return shared.ErrInvalidGroupBounds
	}
	return nil
}

// DetermineGroupStatus выполняет запрос. Обработчик не нужен: это чистая функция.
func DetermineGroupStatus(q DetermineGroupStatusQuery) (group.Status, error) {
	if err := q.Validate(); err != nil {
		if errors.Is(err, shared.ErrInvalidGroupBounds) {
			return "", err
		}
		return "", shared.WrapError("query", "DetermineGroupStatus", shared.ErrValidation, err.Error(), err)
	}
	return group.DetermineStatus(q.Count, q.MinSize, q.MaxSize), nil
}

// GroupDTO - группа с её указателем уровня.
type GroupDTO struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	CurriculumID    string     `json:"curriculum_id"`
	Students        []string   `json:"students"`
	Size            int        `json:"size"`
	MinSize         int        `json:"min_size"`
	MaxSize         int        `json:"max_size"`
	Status          string     `json:"status"`
	RosterStatus    string     `json:"roster_status"`
	CurrentLevel    int        `json:"current_level"`
	CompletedLevels []int      `json:"completed_levels"`
	LastPromotedAt  *time.Time `json:"last_promoted_at,omitempty"`
	Version         int64      `json:"version"`
}

// GetGroupHandler обрабатывает запрос группы.
type GetGroupHandler struct {
	groups group.Repository
}

// NewGetGroupHandler создаёт новый обработчик.
func NewGetGroupHandler(groups group.Repository) *GetGroupHandler {
	return &GetGroupHandler{groups: groups}
}

// Handle выполняет запрос.
func (h *GetGroupHandler) Handle(ctx context.Context, groupID string) (*GroupDTO, error) {
	g, err := h.groups.GetByID(ctx, groupID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.GroupNotFound(groupID)
		}
		return nil, err
	}
	return ToGroupDTO(g), nil
}

// ToGroupDTO конвертирует группу в DTO.
func ToGroupDTO(g *group.Group) *GroupDTO {
	students := append([]string{}, g.Students...)
	return &GroupDTO{
		ID:              g.ID,
		Name:            g.Name,
		CurriculumID:    g.CurriculumID,
		Students:        students,
		Size:            g.Size(),
		MinSize:         g.MinSize,
		MaxSize:         g.MaxSize,
		Status:          string(g.Status),
		RosterStatus:    string(g.RosterStatus()),
		CurrentLevel:    g.Progress.CurrentLevel,
		CompletedLevels: g.Progress.CompletedLevels.Ints(),
		LastPromotedAt:  g.Progress.LastPromotedAt,
		Version:         g.Version,
	}
}
