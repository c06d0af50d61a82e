// Package command contains write operations (CQRS - Commands).
// Commands change subscription and group state; every rejection is a typed
// *shared.PolicyError carrying the figures used in the decision.
package command

import (
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
)

// Eligibility holds the figures a promotion decision is based on.
type Eligibility struct {
	FromLevel    int     `json:"from_level"`
	ToLevel      int     `json:"to_level"`
	Progress     float64 `json:"progress"`
	RequiredRate float64 `json:"required_rate"`
	Cost         int     `json:"cost"`
	Available    int     `json:"available"`
}

// CheckEligibility applies the level, progress and credit rules in that order.
// level is the level being completed; it is the subscription's own level for a
// single promotion and the group's level for group readiness.
// The progress threshold and the credit boundary are both inclusive.
func CheckEligibility(cur *curriculum.Curriculum, sub *subscription.Subscription, level int, progress float64) (Eligibility, error) {
	e := Eligibility{
		FromLevel:    level,
		ToLevel:      level + 1,
		Progress:     progress,
		RequiredRate: cur.MinimumCompletionRate(),
		Available:    sub.AccessCreditDays,
	}

	cost, ok := cur.PromotionCost(level)
	if !ok {
		return e, shared.AlreadyAtFinalLevel(level)
	}
	e.Cost = cost

	if progress < e.RequiredRate {
		return e, shared.InsufficientProgress(e.RequiredRate, progress)
	}
	if !sub.HasCredit(cost) {
		return e, shared.InsufficientCredit(cost, sub.AccessCreditDays)
	}
	return e, nil
}
