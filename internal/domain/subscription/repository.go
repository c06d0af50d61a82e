package subscription

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository - хранилище подписок.
type Repository interface {
	// GetByID возвращает подписку по ID.
	// Возвращает shared.ErrSubscriptionNotFound, если подписки нет.
	GetByID(ctx context.Context, id string) (*Subscription, error)

	// GetByStudentAndCurriculum возвращает подписку пары (студент, программа).
	// Возвращает shared.ErrSubscriptionNotFound, если подписки нет.
	GetByStudentAndCurriculum(ctx context.Context, studentID, curriculumID string) (*Subscription, error)

	// ListByStudentIDs возвращает подписки указанных студентов на программу.
	// Студенты без подписки в результат не попадают.
	ListByStudentIDs(ctx context.Context, curriculumID string, studentIDs []string) ([]*Subscription, error)

	// Create сохраняет новую подписку.
	// Возвращает shared.ErrSubscriptionExists для повторной пары (студент, программа).
	Create(ctx context.Context, s *Subscription) error

	// Update сохраняет подписку, если версия в хранилище совпадает с s.Version
	// (compare-and-swap). При успехе s.Version увеличивается.
	// Возвращает shared.ErrSubscriptionConflict при несовпадении версии.
	// Новая запись s.Progress.LastPromotion, если она есть и ещё не сохранена,
	// добавляется в историю в той же транзакции.
	Update(ctx context.Context, s *Subscription) error
}

// Locker - не более одной изменяющей операции на подписку одновременно.
type Locker interface {
	// Acquire захватывает блокировку подписки.
	// Если блокировка занята, возвращает shared.ErrSubscriptionLocked
	// (вид shared.ErrConcurrentModification, можно повторить позже).
	Acquire(ctx context.Context, subscriptionID string) (release func(), err error)
}
