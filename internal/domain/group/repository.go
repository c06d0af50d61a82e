package group

import "context"

// Repository - хранилище групп.
type Repository interface {
	// GetByID возвращает группу по ID.
	// Возвращает shared.ErrGroupNotFound, если группы нет.
	GetByID(ctx context.Context, id string) (*Group, error)

	// Create сохраняет новую группу.
	// Возвращает shared.ErrGroupExists для повторного ID.
	Create(ctx context.Context, g *Group) error

	// Update сохраняет группу, если версия совпадает с g.Version (compare-and-swap).
	// При успехе g.Version увеличивается. Возвращает shared.ErrGroupConflict при несовпадении.
	Update(ctx context.Context, g *Group) error
}
