// Package subscription содержит запись о зачислении студента на программу:
// текущий уровень, баланс дней доступа, срок доступа к уровню и историю переходов.
package subscription

import (
	"strings"
	"time"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Status - состояние подписки.
type Status string

const (
	// StatusActive - студент учится, переходы разрешены.
	StatusActive Status = "active"
	// StatusPending - подписка создана, но ещё не активирована (ожидает оплаты).
	StatusPending Status = "pending"
	// StatusExpired - срок доступа к текущему уровню истёк.
	StatusExpired Status = "expired"
	// StatusCancelled - подписка отменена.
	StatusCancelled Status = "cancelled"
)

// IsValid проверяет, что статус корректен.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusPending, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// PromotionRecord - запись об одном переходе на следующий уровень.
type PromotionRecord struct {
	ID                  string
	PromotedAt          time.Time
	FromLevel           int
	ToLevel             int
	ProgressAtPromotion float64
	CreditsDeducted     int
	RemainingCredits    int
	PromotedBy          string
}

// Progress - явное значение прогресса. Копируется при каждом изменении,
// никогда не сливается с предыдущим состоянием.
type Progress struct {
	CompletedLevels shared.LevelSet
	LastUpdate      time.Time
	LastPromotion   *PromotionRecord
	DemotedBy       string
	DemotedAt       *time.Time
	ResetBy         string
	ResetAt         *time.Time
}

// Clone возвращает независимую копию.
func (p Progress) Clone() Progress {
	out := p
	out.CompletedLevels = p.CompletedLevels.Clone()
	if p.LastPromotion != nil {
		rec := *p.LastPromotion
		out.LastPromotion = &rec
	}
	if p.DemotedAt != nil {
		t := *p.DemotedAt
		out.DemotedAt = &t
	}
	if p.ResetAt != nil {
		t := *p.ResetAt
		out.ResetAt = &t
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: SUBSCRIPTION
// ══════════════════════════════════════════════════════════════════════════════

// Subscription - зачисление одного студента на одну программу.
type Subscription struct {
	ID           string
	StudentID    string
	CurriculumID string

	// CurrentLevel - текущий уровень, 1..len(levels).
	CurrentLevel int

	// AccessCreditDays - предоплаченный остаток дней, который списывается при переходах.
	AccessCreditDays int

	// CurrentLevelAccessExpiresAt - когда истекает доступ к текущему уровню.
	// Нулевое значение означает "срок не установлен".
	CurrentLevelAccessExpiresAt time.Time

	Progress Progress
	Status   Status

	// History - все переходы, от старых к новым.
	History []PromotionRecord

	// Version - номер версии для оптимистичной блокировки.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubscriptionParams содержит параметры для создания подписки.
type NewSubscriptionParams struct {
	ID               string
	StudentID        string
	CurriculumID     string
	StartLevel       int
	AccessCreditDays int
	AccessExpiresAt  time.Time
	CompletedLevels  []int
	Status           Status
	Now              time.Time
}

// NewSubscription создаёт подписку с проверкой инвариантов.
func NewSubscription(params NewSubscriptionParams) (*Subscription, error) {
	if strings.TrimSpace(params.ID) == "" || strings.TrimSpace(params.StudentID) == "" || strings.TrimSpace(params.CurriculumID) == "" {
		return nil, shared.NewDomainError("subscription", "Create", shared.ErrInvalidID, "id, student id and curriculum id are required")
	}

	level := params.StartLevel
	if level == 0 {
		level = 1
	}
	status := params.Status
	if status == "" {
		status = StatusActive
	}

	s := &Subscription{
		ID:                          params.ID,
		StudentID:                   params.StudentID,
		CurriculumID:                params.CurriculumID,
		CurrentLevel:                level,
		AccessCreditDays:            params.AccessCreditDays,
		CurrentLevelAccessExpiresAt: params.AccessExpiresAt,
		Progress: Progress{
			CompletedLevels: shared.NewLevelSet(params.CompletedLevels...),
			LastUpdate:      params.Now,
		},
		Status:    status,
		CreatedAt: params.Now,
		UpdatedAt: params.Now,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate проверяет инварианты, не зависящие от программы.
func (s *Subscription) Validate() error {
	if s.CurrentLevel < 1 {
		return shared.NewDomainError("subscription", "Validate", shared.ErrValueOutOfRange, "current level must be at least 1")
	}
	if s.AccessCreditDays < 0 {
		return shared.NewDomainError("subscription", "Validate", shared.ErrNegativeValue, "access credit cannot be negative")
	}
	if !s.Status.IsValid() {
		return shared.NewDomainError("subscription", "Validate", shared.ErrValidation, "unknown status "+string(s.Status))
	}
	if s.Progress.CompletedLevels.Max() >= s.CurrentLevel {
		return shared.NewDomainError("subscription", "Validate", shared.ErrInvalidState, "completed levels must be below the current level")
	}
	return nil
}

// Clone возвращает глубокую копию (репозитории в памяти отдают копии).
func (s *Subscription) Clone() *Subscription {
	out := *s
	out.Progress = s.Progress.Clone()
	if s.History != nil {
		out.History = make([]PromotionRecord, len(s.History))
		copy(out.History, s.History)
	}
	return &out
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS
// ══════════════════════════════════════════════════════════════════════════════

// IsActive возвращает true для активной подписки.
// Истёкшая подписка активной не считается.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// ApplyExpiry переводит активную подписку в expired, если срок доступа прошёл.
// Вызывается на каждом чтении. Возвращает true, если статус изменился.
func (s *Subscription) ApplyExpiry(now time.Time) bool {
	if s.Status != StatusActive || s.CurrentLevelAccessExpiresAt.IsZero() {
		return false
	}
	if !now.After(s.CurrentLevelAccessExpiresAt) {
		return false
	}
	s.Status = StatusExpired
	s.UpdatedAt = now
	return true
}

// HasCredit проверяет, хватает ли баланса на переход стоимостью cost дней.
// Граница включительная.
func (s *Subscription) HasCredit(cost int) bool {
	return s.AccessCreditDays >= cost
}

// PromoteParams содержит данные, уже проверенные политикой продвижения.
type PromoteParams struct {
	RecordID   string
	Cost       int
	Progress   float64
	PromotedBy string
	Now        time.Time
}

// Promote переводит подписку на следующий уровень.
// Все пять полей меняются вместе: уровень, пройденные уровни, баланс,
// срок доступа и последняя запись о переходе. При ошибке подписка не меняется.
func (s *Subscription) Promote(p PromoteParams) (PromotionRecord, error) {
	if !s.IsActive() {
		return PromotionRecord{}, shared.NoActiveSubscription(s.StudentID, s.CurriculumID)
	}
	if p.Cost < 0 {
		return PromotionRecord{}, shared.NewDomainError("subscription", "Promote", shared.ErrNegativeValue, "promotion cost cannot be negative")
	}
	if !s.HasCredit(p.Cost) {
		return PromotionRecord{}, shared.InsufficientCredit(p.Cost, s.AccessCreditDays)
	}

	from := s.CurrentLevel
	rec := PromotionRecord{
		ID:                  p.RecordID,
		PromotedAt:          p.Now,
		FromLevel:           from,
		ToLevel:             from + 1,
		ProgressAtPromotion: p.Progress,
		CreditsDeducted:     p.Cost,
		RemainingCredits:    s.AccessCreditDays - p.Cost,
		PromotedBy:          p.PromotedBy,
	}

	next := s.Progress.Clone()
	next.CompletedLevels = next.CompletedLevels.With(from)
	next.LastUpdate = p.Now
	last := rec
	next.LastPromotion = &last

	s.CurrentLevel = rec.ToLevel
	s.AccessCreditDays = rec.RemainingCredits
	s.CurrentLevelAccessExpiresAt = p.Now.AddDate(0, 0, p.Cost)
	s.Progress = next
	s.History = append(s.History, rec)
	s.UpdatedAt = p.Now

	return rec, nil
}

// Demote возвращает подписку на один уровень назад.
// Баланс не возвращается: понижение - корректирующее действие, а не откат списания.
func (s *Subscription) Demote(actorID string, now time.Time) (from int, err error) {
	if !s.IsActive() {
		return 0, shared.NoActiveSubscription(s.StudentID, s.CurriculumID)
	}
	if s.CurrentLevel <= 1 {
		return 0, shared.AlreadyAtFirstLevel()
	}

	from = s.CurrentLevel
	next := s.Progress.Clone()
	s.CurrentLevel--
	next.CompletedLevels = next.CompletedLevels.Below(s.CurrentLevel)
	next.DemotedBy = actorID
	at := now
	next.DemotedAt = &at
	next.LastUpdate = now

	s.Progress = next
	s.UpdatedAt = now
	return from, nil
}

// Reset возвращает подписку на первый уровень и очищает пройденные уровни.
// Проверки прогресса нет, баланс не меняется.
func (s *Subscription) Reset(actorID string, now time.Time) (previous int, err error) {
	if !s.IsActive() {
		return 0, shared.NoActiveSubscription(s.StudentID, s.CurriculumID)
	}

	previous = s.CurrentLevel
	next := s.Progress.Clone()
	next.CompletedLevels = shared.LevelSet{}
	next.ResetBy = actorID
	at := now
	next.ResetAt = &at
	next.LastUpdate = now

	s.CurrentLevel = 1
	s.Progress = next
	s.UpdatedAt = now
	return previous, nil
}
