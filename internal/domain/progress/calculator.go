// Package progress вычисляет процент прохождения уровня по данным посещаемости.
package progress

import (
	"context"
	"fmt"

	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
)

// Completion возвращает процент прохождения в диапазоне [0, 100].
// required == 0 означает, что уровень не требует занятий: он пройден на 100%.
// Деление выполняется после умножения на 100, чтобы целые пороги
// (например 8 из 10 = 80) сравнивались точно.
func Completion(attended, required int) float64 {
	if required <= 0 {
		return 100
	}
	if attended <= 0 {
		return 0
	}
	v := float64(attended*100) / float64(required)
	if v > 100 {
		return 100
	}
	return v
}

// Calculator считает прохождение уровня студентом.
type Calculator struct {
	curricula curriculum.Repository
	ledger    attendance.Ledger
}

// NewCalculator создаёт калькулятор.
func NewCalculator(curricula curriculum.Repository, ledger attendance.Ledger) *Calculator {
	return &Calculator{curricula: curricula, ledger: ledger}
}

// LevelCompletion возвращает процент прохождения уровня студентом.
// Отсутствующий уровень даёт 0. Несуществующая программа возвращает ошибку
// shared.ErrCurriculumNotFound из репозитория.
func (c *Calculator) LevelCompletion(ctx context.Context, studentID, curriculumID string, level int) (float64, error) {
	cur, err := c.curricula.GetByID(ctx, curriculumID)
	if err != nil {
		return 0, err
	}
	return c.ForCurriculum(ctx, cur, studentID, level)
}

// ForCurriculum - то же самое для уже загруженной программы.
// Используется командами, которые читают программу один раз.
func (c *Calculator) ForCurriculum(ctx context.Context, cur *curriculum.Curriculum, studentID string, level int) (float64, error) {
	lvl, ok := cur.Level(level)
	if !ok {
		return 0, nil
	}
	if lvl.SessionsCount == 0 {
		return 100, nil
	}

	sessions, err := c.ledger.ListSessions(ctx, cur.ID, level)
	if err != nil {
		return 0, fmt.Errorf("list sessions for level %d: %w", level, err)
	}

	return Completion(attendance.CountAttended(sessions, studentID), lvl.SessionsCount), nil
}
