package query

import (
	"context"
	"time"

	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SUBSCRIPTION QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetSubscriptionQuery содержит параметры запроса подписки.
type GetSubscriptionQuery struct {
	StudentID    string
	CurriculumID string
}

// SubscriptionDTO - подписка с вычисленными полями.
type SubscriptionDTO struct {
	ID                          string     `json:"id"`
	StudentID                   string     `json:"student_id"`
	CurriculumID                string     `json:"curriculum_id"`
	CurrentLevel                int        `json:"current_level"`
	AccessCreditDays            int        `json:"access_credit_days"`
	CurrentLevelAccessExpiresAt *time.Time `json:"current_level_access_expires_at,omitempty"`
	Status                      string     `json:"status"`
	CompletedLevels             []int      `json:"completed_levels"`
	IsFinalLevel                bool       `json:"is_final_level"`

	// NextLevelCost - сколько дней спишется при следующем переходе (0 на последнем уровне).
	NextLevelCost int `json:"next_level_cost"`

	LastPromotion *PromotionDTO  `json:"last_promotion,omitempty"`
	History       []PromotionDTO `json:"history"`
	Version       int64          `json:"version"`
}

// PromotionDTO - запись о переходе.
type PromotionDTO struct {
	ID               string    `json:"id"`
	PromotedAt       time.Time `json:"promoted_at"`
	FromLevel        int       `json:"from_level"`
	ToLevel          int       `json:"to_level"`
	Progress         float64   `json:"progress"`
	CreditsDeducted  int       `json:"credits_deducted"`
	RemainingCredits int       `json:"remaining_credits"`
	PromotedBy       string    `json:"promoted_by,omitempty"`
}

// GetSubscriptionHandler обрабатывает запрос подписки.
type GetSubscriptionHandler struct {
	curricula     curriculum.Repository
	subscriptions subscription.Repository
	clock         shared.Clock
}

// NewGetSubscriptionHandler создаёт новый обработчик.
func NewGetSubscriptionHandler(curricula curriculum.Repository, subscriptions subscription.Repository, clock shared.Clock) *GetSubscriptionHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &GetSubscriptionHandler{curricula: curricula, subscriptions: subscriptions, clock: clock}
}

// Handle выполняет запрос.
func (h *GetSubscriptionHandler) Handle(ctx context.Context, q GetSubscriptionQuery) (*SubscriptionDTO, error) {
	if q.StudentID == "" || q.CurriculumID == "" {
		return nil, shared.NewDomainError("query", "GetSubscription", shared.ErrValidation, "student_id and curriculum_id are required")
	}

	sub, err := h.subscriptions.GetByStudentAndCurriculum(ctx, q.StudentID, q.CurriculumID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.NoActiveSubscription(q.StudentID, q.CurriculumID)
		}
		return nil, err
	}
	// Только в памяти: запись статуса expired делают команды.
	sub.ApplyExpiry(h.clock.Now())

	dto := ToSubscriptionDTO(sub)

	cur, err := h.curricula.GetByID(ctx, q.CurriculumID)
	switch {
	case err == nil:
		dto.IsFinalLevel = cur.IsFinalLevel(sub.CurrentLevel)
		if cost, ok := cur.PromotionCost(sub.CurrentLevel); ok {
			dto.NextLevelCost = cost
		}
	case shared.IsNotFound(err):
		// Подписка без программы всё ещё отображается.
	default:
		return nil, err
	}
	return dto, nil
}

// ToSubscriptionDTO конвертирует подписку без вычисляемых полей программы.
func ToSubscriptionDTO(sub *subscription.Subscription) *SubscriptionDTO {
	dto := &SubscriptionDTO{
		ID:               sub.ID,
		StudentID:        sub.StudentID,
		CurriculumID:     sub.CurriculumID,
		CurrentLevel:     sub.CurrentLevel,
		AccessCreditDays: sub.AccessCreditDays,
		Status:           string(sub.Status),
		CompletedLevels:  sub.Progress.CompletedLevels.Ints(),
		History:          make([]PromotionDTO, 0, len(sub.History)),
		Version:          sub.Version,
	}
	if !sub.CurrentLevelAccessExpiresAt.IsZero() {
		t := sub.CurrentLevelAccessExpiresAt
		dto.CurrentLevelAccessExpiresAt = &t
	}
	if rec := sub.Progress.LastPromotion; rec != nil {
		p := ToPromotionDTO(*rec)
		dto.LastPromotion = &p
	}
	for _, rec := range sub.History {
		dto.History = append(dto.History, ToPromotionDTO(rec))
	}
	return dto
}

// ToPromotionDTO конвертирует запись о переходе.
func ToPromotionDTO(rec subscription.PromotionRecord) PromotionDTO {
	return PromotionDTO{
		ID:               rec.ID,
		PromotedAt:       rec.PromotedAt,
		FromLevel:        rec.FromLevel,
		ToLevel:          rec.ToLevel,
		Progress:         rec.ProgressAtPromotion,
		CreditsDeducted:  rec.CreditsDeducted,
		RemainingCredits: rec.RemainingCredits,
		PromotedBy:       rec.PromotedBy,
	}
}
