package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION REPOSITORY IMPLEMENTATION
// The promotion history lives in subscription_promotions. Update inserts the
// new last promotion in the same transaction as the compare-and-swap, so a
// subscription never shows a level without its history row.
// ══════════════════════════════════════════════════════════════════════════════

// SubscriptionRepository implements subscription.Repository for PostgreSQL.
type SubscriptionRepository struct {
	conn *Connection
}

var _ subscription.Repository = (*SubscriptionRepository)(nil)

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(conn *Connection) *SubscriptionRepository {
	return &SubscriptionRepository{conn: conn}
}

const subscriptionColumns = `
	id, student_id, curriculum_id, current_level, access_credit_days,
	current_level_access_expires_at, status, completed_levels, progress_updated_at,
	last_promotion_id, demoted_by, demoted_at, reset_by, reset_at,
	version, created_at, updated_at
`

// GetByID returns a subscription with its promotion history.
func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*subscription.Subscription, error) {
	return r.getOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

// GetByStudentAndCurriculum returns the subscription of a (student, curriculum) pair.
func (r *SubscriptionRepository) GetByStudentAndCurriculum(ctx context.Context, studentID, curriculumID string) (*subscription.Subscription, error) {
	return r.getOne(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE student_id = $1 AND curriculum_id = $2`, studentID, curriculumID)
}

func (r *SubscriptionRepository) getOne(ctx context.Context, query string, args ...any) (*subscription.Subscription, error) {
	s, lastPromotionID, err := scanSubscription(r.conn.QueryRow(ctx, query, args...))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if err := r.loadHistory(ctx, s, lastPromotionID); err != nil {
		return nil, err
	}
	return s, nil
}

// ListByStudentIDs returns the subscriptions of the given students to one curriculum.
// Students without a subscription are absent from the result. History is not loaded.
func (r *SubscriptionRepository) ListByStudentIDs(ctx context.Context, curriculumID string, studentIDs []string) ([]*subscription.Subscription, error) {
	if len(studentIDs) == 0 {
		return []*subscription.Subscription{}, nil
	}

	rows, err := r.conn.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE curriculum_id = $1 AND student_id = ANY($2)
		ORDER BY student_id
	`, curriculumID, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	out := make([]*subscription.Subscription, 0, len(studentIDs))
	for rows.Next() {
		s, _, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create inserts a new subscription at version 1.
func (r *SubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Version == 0 {
		s.Version = 1
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO subscriptions (
			id, student_id, curriculum_id, current_level, access_credit_days,
			current_level_access_expires_at, status, completed_levels, progress_updated_at,
			demoted_by, demoted_at, reset_by, reset_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		s.ID, s.StudentID, s.CurriculumID, s.CurrentLevel, s.AccessCreditDays,
		nullTime(s.CurrentLevelAccessExpiresAt), string(s.Status),
		levelsToArray(s.Progress.CompletedLevels), s.Progress.LastUpdate,
		s.Progress.DemotedBy, s.Progress.DemotedAt, s.Progress.ResetBy, s.Progress.ResetAt,
		s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrSubscriptionExists
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Update stores s if the stored version still equals s.Version, then increments it.
func (r *SubscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	if err := s.Validate(); err != nil {
		return err
	}

	var lastPromotionID *string
	if s.Progress.LastPromotion != nil {
		id := s.Progress.LastPromotion.ID
		lastPromotionID = &id
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if rec := s.Progress.LastPromotion; rec != nil {
			// Idempotent: an unchanged last promotion is already stored.
			_, err := tx.Exec(ctx, `
				INSERT INTO subscription_promotions (
					id, subscription_id, promoted_at, from_level, to_level,
					progress, credits_deducted, remaining_credits, promoted_by
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (id) DO NOTHING
			`, rec.ID, s.ID, rec.PromotedAt, rec.FromLevel, rec.ToLevel,
				rec.ProgressAtPromotion, rec.CreditsDeducted, rec.RemainingCredits, rec.PromotedBy)
			if err != nil {
				return promotionInsertError(err)
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions SET
				current_level = $1,
				access_credit_days = $2,
				current_level_access_expires_at = $3,
				status = $4,
				completed_levels = $5,
				progress_updated_at = $6,
				last_promotion_id = $7,
				demoted_by = $8,
				demoted_at = $9,
				reset_by = $10,
				reset_at = $11,
				updated_at = $12,
				version = version + 1
			WHERE id = $13 AND version = $14
		`,
			s.CurrentLevel, s.AccessCreditDays, nullTime(s.CurrentLevelAccessExpiresAt), string(s.Status),
			levelsToArray(s.Progress.CompletedLevels), s.Progress.LastUpdate, lastPromotionID,
			s.Progress.DemotedBy, s.Progress.DemotedAt, s.Progress.ResetBy, s.Progress.ResetAt,
			s.UpdatedAt, s.ID, s.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.conflictOrMissing(ctx, tx, s)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Version++
	return nil
}

// promotionInsertError maps a history insert failure. The history row
// references its subscription, so a foreign key violation means the
// subscription was deleted underneath the update.
func promotionInsertError(err error) error {
	if IsForeignKeyViolation(err) {
		return shared.ErrSubscriptionNotFound
	}
	return fmt.Errorf("failed to insert promotion record: %w", err)
}

func (r *SubscriptionRepository) conflictOrMissing(ctx context.Context, q Querier, s *subscription.Subscription) error {
	var stored int64
	err := q.QueryRow(ctx, `SELECT version FROM subscriptions WHERE id = $1`, s.ID).Scan(&stored)
	if IsNoRows(err) {
		return shared.ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check subscription version: %w", err)
	}
	return shared.WrapError("subscription", "Update", shared.ErrConcurrentModification,
		fmt.Sprintf("expected version %d, stored version %d", s.Version, stored), shared.ErrSubscriptionConflict)
}

func (r *SubscriptionRepository) loadHistory(ctx context.Context, s *subscription.Subscription, lastPromotionID *string) error {
	rows, err := r.conn.Query(ctx, `
		SELECT id, promoted_at, from_level, to_level, progress, credits_deducted, remaining_credits, promoted_by
		FROM subscription_promotions
		WHERE subscription_id = $1
		ORDER BY promoted_at, to_level
	`, s.ID)
	if err != nil {
		return fmt.Errorf("failed to load promotion history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec subscription.PromotionRecord
		if err := rows.Scan(&rec.ID, &rec.PromotedAt, &rec.FromLevel, &rec.ToLevel,
			&rec.ProgressAtPromotion, &rec.CreditsDeducted, &rec.RemainingCredits, &rec.PromotedBy); err != nil {
			return fmt.Errorf("failed to scan promotion record: %w", err)
		}
		rec.PromotedAt = rec.PromotedAt.UTC()
		s.History = append(s.History, rec)
		if lastPromotionID != nil && rec.ID == *lastPromotionID {
			last := rec
			s.Progress.LastPromotion = &last
		}
	}
	return rows.Err()
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, *string, error) {
	var (
		s               subscription.Subscription
		status          string
		expiresAt       *time.Time
		completed       []int32
		lastPromotionID *string
	)
	err := row.Scan(
		&s.ID, &s.StudentID, &s.CurriculumID, &s.CurrentLevel, &s.AccessCreditDays,
		&expiresAt, &status, &completed, &s.Progress.LastUpdate,
		&lastPromotionID, &s.Progress.DemotedBy, &s.Progress.DemotedAt, &s.Progress.ResetBy, &s.Progress.ResetAt,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}
	s.Status = subscription.Status(status)
	s.CurrentLevelAccessExpiresAt = timeOrZero(expiresAt)
	s.Progress.CompletedLevels = levelsFromArray(completed)
	return &s, lastPromotionID, nil
}
