package curriculum

import "context"

// Repository - доступ к каталогу программ.
// Реализации находятся в infrastructure/persistence.
type Repository interface {
	// GetByID возвращает программу по ID.
	// Возвращает shared.ErrCurriculumNotFound, если программы нет.
	GetByID(ctx context.Context, id string) (*Curriculum, error)

	// Save сохраняет программу (используется для начального наполнения и тестов).
	Save(ctx context.Context, c *Curriculum) error
}
