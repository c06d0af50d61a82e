package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumRepository implements curriculum.Repository for PostgreSQL.
type CurriculumRepository struct {
	conn *Connection
}

var _ curriculum.Repository = (*CurriculumRepository)(nil)

// NewCurriculumRepository creates a new CurriculumRepository.
func NewCurriculumRepository(conn *Connection) *CurriculumRepository {
	return &CurriculumRepository{conn: conn}
}

// GetByID returns a curriculum with its levels ordered by level order.
func (r *CurriculumRepository) GetByID(ctx context.Context, id string) (*curriculum.Curriculum, error) {
	c := &curriculum.Curriculum{ID: id}
	var rate *float64

	err := r.conn.QueryRow(ctx, `
		SELECT name, version, minimum_completion_rate, require_admin_approval
		FROM curricula
		WHERE id = $1
	`, id).Scan(&c.Name, &c.Version, &rate, &c.ProgressSettings.RequireAdminApproval)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCurriculumNotFound
		}
		return nil, fmt.Errorf("failed to get curriculum: %w", err)
	}
	c.ProgressSettings.MinimumCompletionRate = rate

	rows, err := r.conn.Query(ctx, `
		SELECT level_order, name, duration_days, sessions_count
		FROM curriculum_levels
		WHERE curriculum_id = $1
		ORDER BY level_order
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get curriculum levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l curriculum.Level
		if err := rows.Scan(&l.Order, &l.Name, &l.DurationDays, &l.SessionsCount); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		c.Levels = append(c.Levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save upserts the curriculum and replaces its levels in one transaction.
func (r *CurriculumRepository) Save(ctx context.Context, c *curriculum.Curriculum) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO curricula (id, name, version, minimum_completion_rate, require_admin_approval)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				version = EXCLUDED.version,
				minimum_completion_rate = EXCLUDED.minimum_completion_rate,
				require_admin_approval = EXCLUDED.require_admin_approval,
				updated_at = NOW()
		`, c.ID, c.Name, c.Version, c.ProgressSettings.MinimumCompletionRate, c.ProgressSettings.RequireAdminApproval)
		if err != nil {
			return fmt.Errorf("failed to save curriculum: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM curriculum_levels WHERE curriculum_id = $1`, c.ID); err != nil {
			return fmt.Errorf("failed to clear levels: %w", err)
		}

		batch := &pgx.Batch{}
		for _, l := range c.Levels {
			batch.Queue(`
				INSERT INTO curriculum_levels (curriculum_id, level_order, name, duration_days, sessions_count)
				VALUES ($1, $2, $3, $4, $5)
			`, c.ID, l.Order, l.Name, l.DurationDays, l.SessionsCount)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save levels: %w", err)
		}
		return nil
	})
}
