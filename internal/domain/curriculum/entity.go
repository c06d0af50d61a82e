// Package curriculum содержит доменную модель учебной программы.
// Программа неизменна в пределах версии: движок продвижения только читает её.
package curriculum

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY DEFAULTS
// Единственное место, где определены значения по умолчанию.
// Правило: значение из программы используется, если оно задано явно
// (ненулевая длительность, непустой порог), иначе берётся константа ниже.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultMinimumCompletionRate - минимальный процент посещаемости для перехода.
	DefaultMinimumCompletionRate = 80.0

	// DefaultLevelDurationDays - стоимость перехода на уровень без явной длительности.
	DefaultLevelDurationDays = 30
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Level - один этап программы.
type Level struct {
	// Order - порядковый номер уровня, начиная с 1.
	Order int

	// Name - отображаемое название.
	Name string

	// DurationDays - сколько дней доступа стоит переход на этот уровень.
	// 0 означает "не задано".
	DurationDays int

	// SessionsCount - сколько занятий нужно посетить, чтобы уровень считался пройденным.
	SessionsCount int
}

// EffectiveDurationDays возвращает длительность уровня с учётом значения по умолчанию.
func (l Level) EffectiveDurationDays() int {
	if l.DurationDays > 0 {
		return l.DurationDays
	}
	return DefaultLevelDurationDays
}

// ProgressSettings - правила продвижения по программе.
type ProgressSettings struct {
	// MinimumCompletionRate - порог в процентах [0, 100]. nil означает "по умолчанию".
	MinimumCompletionRate *float64

	// RequireAdminApproval - переход требует подтверждения администратора.
	RequireAdminApproval bool
}

// Curriculum - учебная программа с упорядоченными уровнями.
type Curriculum struct {
	ID               string
	Name             string
	Version          int
	Levels           []Level
	ProgressSettings ProgressSettings
}

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewCurriculumParams содержит параметры для создания программы.
type NewCurriculumParams struct {
	ID                    string
	Name                  string
	Version               int
	Levels                []Level
	MinimumCompletionRate *float64
	RequireAdminApproval  bool
}

// NewCurriculum создаёт программу, сортирует уровни и проверяет инварианты.
func NewCurriculum(params NewCurriculumParams) (*Curriculum, error) {
	levels := make([]Level, len(params.Levels))
	copy(levels, params.Levels)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Order < levels[j].Order })

	version := params.Version
	if version == 0 {
		version = 1
	}

	c := &Curriculum{
		ID:      strings.TrimSpace(params.ID),
		Name:    strings.TrimSpace(params.Name),
		Version: version,
		Levels:  levels,
		ProgressSettings: ProgressSettings{
			MinimumCompletionRate: params.MinimumCompletionRate,
			RequireAdminApproval:  params.RequireAdminApproval,
		},
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate проверяет инварианты программы.
func (c *Curriculum) Validate() error {
	var errs []error

	if c.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if len(c.Levels) == 0 {
		errs = append(errs, errors.New("at least one level is required"))
	}
	for i, l := range c.Levels {
		if l.Order != i+1 {
			errs = append(errs, fmt.Errorf("level orders must be contiguous from 1: got %d at position %d", l.Order, i+1))
		}
		if l.SessionsCount < 0 {
			errs = append(errs, fmt.Errorf("level %d: sessions count cannot be negative", l.Order))
		}
		if l.DurationDays < 0 {
			errs = append(errs, fmt.Errorf("level %d: duration cannot be negative", l.Order))
		}
	}
	if r := c.ProgressSettings.MinimumCompletionRate; r != nil && (*r < 0 || *r > 100) {
		errs = append(errs, fmt.Errorf("minimum completion rate %.2f is outside [0, 100]", *r))
	}

	if len(errs) > 0 {
		return shared.WrapError("curriculum", "Validate", shared.ErrValidation, "invalid curriculum", errors.Join(errs...))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// MinimumCompletionRate возвращает порог с учётом значения по умолчанию.
func (c *Curriculum) MinimumCompletionRate() float64 {
	if r := c.ProgressSettings.MinimumCompletionRate; r != nil {
		return *r
	}
	return DefaultMinimumCompletionRate
}

// RequiresApproval сообщает, нужен ли подтверждающий администратор.
func (c *Curriculum) RequiresApproval() bool {
	return c.ProgressSettings.RequireAdminApproval
}

// Level возвращает уровень по номеру.
func (c *Curriculum) Level(order int) (Level, bool) {
	if order < 1 || order > len(c.Levels) {
		return Level{}, false
	}
	// Уровни отсортированы и идут подряд, поэтому индекс = order-1.
	l := c.Levels[order-1]
	if l.Order != order {
		for _, candidate := range c.Levels {
			if candidate.Order == order {
				return candidate, true
			}
		}
		return Level{}, false
	}
	return l, true
}

// LastLevel возвращает номер последнего уровня (0 для пустой программы).
func (c *Curriculum) LastLevel() int {
	if len(c.Levels) == 0 {
		return 0
	}
	return c.Levels[len(c.Levels)-1].Order
}

// IsFinalLevel возвращает true, если после order уровней нет.
func (c *Curriculum) IsFinalLevel(order int) bool {
	return order >= c.LastLevel()
}

// HasLevel проверяет, что номер уровня допустим для программы.
func (c *Curriculum) HasLevel(order int) bool {
	_, ok := c.Level(order)
	return ok
}

// PromotionCost возвращает стоимость перехода с уровня from на следующий.
// Списывается длительность уровня, на который студент переходит.
func (c *Curriculum) PromotionCost(from int) (int, bool) {
	next, ok := c.Level(from + 1)
	if !ok {
		return 0, false
	}
	return next.EffectiveDurationDays(), true
}

// Clone возвращает глубокую копию.
func (c *Curriculum) Clone() *Curriculum {
	out := *c
	out.Levels = make([]Level, len(c.Levels))
	copy(out.Levels, c.Levels)
	if r := c.ProgressSettings.MinimumCompletionRate; r != nil {
		v := *r
		out.ProgressSettings.MinimumCompletionRate = &v
	}
	return &out
}
