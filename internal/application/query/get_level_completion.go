// Package query contains read operations (CQRS - Queries).
// Запросы ничего не пишут: истечение подписки применяется только в памяти.
package query

import (
	"context"
	"errors"

	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEVEL COMPLETION QUERY
// Процент посещённых занятий уровня. Если уровень не указан, берётся текущий
// уровень подписки студента.
// ══════════════════════════════════════════════════════════════════════════════

// CompletionCalculator вычисляет процент прохождения уровня.
type CompletionCalculator interface {
	ForCurriculum(ctx context.Context, cur *curriculum.Curriculum, studentID string, level int) (float64, error)
}

// GetLevelCompletionQuery содержит параметры запроса.
type GetLevelCompletionQuery struct {
	StudentID    string
	CurriculumID string

	// Level - номер уровня. 0 означает "текущий уровень подписки".
	Level int
}

// Validate проверяет корректность параметров запроса.
func (q GetLevelCompletionQuery) Validate() error {
	if q.StudentID == "" || q.CurriculumID == "" {
		return errors.New("student_id and curriculum_id are required")
	}
	if q.Level < 0 {
		return errors.New("level cannot be negative")
	}
	return nil
}

// LevelCompletionDTO - результат запроса.
type LevelCompletionDTO struct {
	StudentID    string  `json:"student_id"`
	CurriculumID string  `json:"curriculum_id"`
	Level        int     `json:"level"`
	Completion   float64 `json:"completion"`

	// RequiredRate - порог для перехода на следующий уровень.
	RequiredRate float64 `json:"required_rate"`

	// MeetsThreshold - достаточно ли посещаемости для перехода.
	MeetsThreshold bool `json:"meets_threshold"`
}

// GetLevelCompletionHandler обрабатывает запрос.
type GetLevelCompletionHandler struct {
	curricula     curriculum.Repository
	subscriptions subscription.Repository
	calculator    CompletionCalculator
}

// NewGetLevelCompletionHandler создаёт новый обработчик.
func NewGetLevelCompletionHandler(
	curricula curriculum.Repository,
	subscriptions subscription.Repository,
	calculator CompletionCalculator,
) *GetLevelCompletionHandler {
	return &GetLevelCompletionHandler{
		curricula:     curricula,
		subscriptions: subscriptions,
		calculator:    calculator,
	}
}

// Handle выполняет запрос.
func (h *GetLevelCompletionHandler) Handle(ctx context.Context, q GetLevelCompletionQuery) (*LevelCompletionDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLevelCompletion", shared.ErrValidation, err.Error(), err)
	}

	cur, err := h.curricula.GetByID(ctx, q.CurriculumID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.CurriculumNotFound(q.CurriculumID)
		}
		return nil, err
	}

	level := q.Level
	if level == 0 {
		sub, err := h.subscriptions.GetByStudentAndCurriculum(ctx, q.StudentID, q.CurriculumID)
		if err != nil {
			if shared.IsNotFound(err) {
				return nil, shared.NoActiveSubscription(q.StudentID, q.CurriculumID)
			}
			return nil, err
		}
		level = sub.CurrentLevel
	}

	completion, err := h.calculator.ForCurriculum(ctx, cur, q.StudentID, level)
	if err != nil {
		return nil, err
	}

	rate := cur.MinimumCompletionRate()
	return &LevelCompletionDTO{
		StudentID:      q.StudentID,
		CurriculumID:   q.CurriculumID,
		Level:          level,
		Completion:     completion,
		RequiredRate:   rate,
		MeetsThreshold: completion >= rate,
	}, nil
}
