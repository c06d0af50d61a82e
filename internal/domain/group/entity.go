// Package group содержит учебную группу: общий состав студентов, которые
// проходят программу в одном темпе, и собственный указатель уровня группы.
package group

import (
	"strings"
	"time"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status - состояние формирования группы.
// pending/ready/overfull вычисляются из размера состава,
// active/inactive переключает оператор.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusOverfull Status = "overfull"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// IsValid проверяет, что статус корректен.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusReady, StatusOverfull, StatusActive, StatusInactive:
		return true
	}
	return false
}

// DetermineStatus вычисляет статус формирования по размеру состава.
//   - pending, если студентов меньше minSize (включая 0);
//   - ready, если minSize <= count <= maxSize;
//   - overfull, если count > maxSize.
func DetermineStatus(count, minSize, maxSize int) Status {
	switch {
	case count < minSize:
		return StatusPending
	case count > maxSize:
		return StatusOverfull
	default:
		return StatusReady
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Progress - указатель уровня самой группы.
type Progress struct {
	CurrentLevel    int
	CompletedLevels shared.LevelSet
	LastPromotedAt  *time.Time
}

// Clone возвращает независимую копию.
func (p Progress) Clone() Progress {
	out := p
	out.CompletedLevels = p.CompletedLevels.Clone()
	if p.LastPromotedAt != nil {
		t := *p.LastPromotedAt
		out.LastPromotedAt = &t
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: GROUP
// ══════════════════════════════════════════════════════════════════════════════

// Group - учебная группа.
type Group struct {
	ID           string
	Name         string
	CurriculumID string

	// Students - ID студентов в порядке добавления, без повторов.
	Students []string

	MinSize int
	MaxSize int

	Progress Progress
	Status   Status

	// Version - номер версии для оптимистичной блокировки.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewGroupParams содержит параметры для создания группы.
type NewGroupParams struct {
	ID           string
	Name         string
	CurriculumID string
	Students     []string
	MinSize      int
	MaxSize      int
	CurrentLevel int
	Now          time.Time
}

// NewGroup создаёт группу и вычисляет её статус.
func NewGroup(params NewGroupParams) (*Group, error) {
	if strings.TrimSpace(params.ID) == "" || strings.TrimSpace(params.CurriculumID) == "" {
		return nil, shared.NewDomainError("group", "Create", shared.ErrInvalidID, "id and curriculum id are required")
	}
	if params.MinSize < 0 || params.MaxSize < params.MinSize {
		return nil, shared.ErrInvalidGroupBounds
	}

	level := params.CurrentLevel
	if level == 0 {
		level = 1
	}
	if level < 1 {
		return nil, shared.NewDomainError("group", "Create", shared.ErrValueOutOfRange, "current level must be at least 1")
	}

	g := &Group{
		ID:           params.ID,
		Name:         strings.TrimSpace(params.Name),
		CurriculumID: params.CurriculumID,
		Students:     shared.UniqueIDs(params.Students),
		MinSize:      params.MinSize,
		MaxSize:      params.MaxSize,
		Progress: Progress{
			CurrentLevel:    level,
			CompletedLevels: shared.NewLevelSet(),
		},
		CreatedAt: params.Now,
		UpdatedAt: params.Now,
	}
	g.Status = DetermineStatus(len(g.Students), g.MinSize, g.MaxSize)
	return g, nil
}

// Clone возвращает глубокую копию.
func (g *Group) Clone() *Group {
	out := *g
	if g.Students != nil {
		out.Students = make([]string, len(g.Students))
		copy(out.Students, g.Students)
	}
	out.Progress = g.Progress.Clone()
	return &out
}

// Size возвращает размер состава.
func (g *Group) Size() int {
	return len(g.Students)
}

// Has проверяет, состоит ли студент в группе.
func (g *Group) Has(studentID string) bool {
	for _, id := range g.Students {
		if id == studentID {
			return true
		}
	}
	return false
}

// RosterStatus возвращает статус, вычисленный только из размера состава.
func (g *Group) RosterStatus() Status {
	return DetermineStatus(len(g.Students), g.MinSize, g.MaxSize)
}

// recompute пересчитывает статус после изменения состава.
// inactive остаётся inactive; active остаётся active, пока состав в пределах
// границ, иначе статус берётся из размера состава.
func (g *Group) recompute(now time.Time) {
	computed := g.RosterStatus()
	switch {
	case g.Status == StatusInactive:
	case g.Status == StatusActive && computed == StatusReady:
	default:
		g.Status = computed
	}
	g.UpdatedAt = now
}

// AddStudent добавляет студента. Повторное добавление ничего не меняет.
func (g *Group) AddStudent(studentID string, now time.Time) bool {
	studentID = shared.NormalizeID(studentID)
	if studentID == "" || g.Has(studentID) {
		return false
	}
	g.Students = append(g.Students, studentID)
	g.recompute(now)
	return true
}

// RemoveStudent удаляет студента из состава.
func (g *Group) RemoveStudent(studentID string, now time.Time) bool {
	studentID = shared.NormalizeID(studentID)
	for i, id := range g.Students {
		if id == studentID {
			g.Students = append(g.Students[:i:i], g.Students[i+1:]...)
			g.recompute(now)
			return true
		}
	}
	return false
}

// SetRoster заменяет состав целиком.
func (g *Group) SetRoster(studentIDs []string, now time.Time) {
	g.Students = shared.UniqueIDs(studentIDs)
	g.recompute(now)
}

// Activate включает группу. Разрешено только из ready (или если уже active).
func (g *Group) Activate(now time.Time) error {
	if g.Status == StatusActive {
		return nil
	}
	if g.RosterStatus() != StatusReady || (g.Status != StatusReady && g.Status != StatusInactive) {
		return shared.ErrGroupNotReady
	}
	g.Status = StatusActive
	g.UpdatedAt = now
	return nil
}

// Deactivate выключает группу.
func (g *Group) Deactivate(now time.Time) {
	g.Status = StatusInactive
	g.UpdatedAt = now
}

// Advance переводит указатель группы на следующий уровень.
func (g *Group) Advance(now time.Time) (from, to int) {
	from = g.Progress.CurrentLevel
	next := g.Progress.Clone()
	next.CompletedLevels = next.CompletedLevels.With(from)
	next.CurrentLevel = from + 1
	at := now
	next.LastPromotedAt = &at

	g.Progress = next
	g.UpdatedAt = now
	return from, next.CurrentLevel
}
