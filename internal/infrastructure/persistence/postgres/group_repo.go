package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROUP REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GroupRepository implements group.Repository for PostgreSQL.
type GroupRepository struct {
	conn *Connection
}

var _ group.Repository = (*GroupRepository)(nil)

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(conn *Connection) *GroupRepository {
	return &GroupRepository{conn: conn}
}

// GetByID returns a group by ID.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*group.Group, error) {
	var (
		g         group.Group
		status    string
		completed []int32
	)
	err := r.conn.QueryRow(ctx, `
		SELECT id, name, curriculum_id, students, min_size, max_size,
		       current_level, completed_levels, last_promoted_at, status,
		       version, created_at, updated_at
		FROM groups
		WHERE id = $1
	`, id).Scan(
		&g.ID, &g.Name, &g.CurriculumID, &g.Students, &g.MinSize, &g.MaxSize,
		&g.Progress.CurrentLevel, &completed, &g.Progress.LastPromotedAt, &status,
		&g.Version, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	g.Status = group.Status(status)
	g.Progress.CompletedLevels = levelsFromArray(completed)
	return &g, nil
}

// Create inserts a new group at version 1.
func (r *GroupRepository) Create(ctx context.Context, g *group.Group) error {
	if g.Version == 0 {
		g.Version = 1
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO groups (
			id, name, curriculum_id, students, min_size, max_size,
			current_level, completed_levels, last_promoted_at, status,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		g.ID, g.Name, g.CurriculumID, stringsOrEmpty(g.Students), g.MinSize, g.MaxSize,
		g.Progress.CurrentLevel, levelsToArray(g.Progress.CompletedLevels), g.Progress.LastPromotedAt, string(g.Status),
		g.Version, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrGroupExists
		}
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// Update stores g if the stored version still equals g.Version, then increments it.
func (r *GroupRepository) Update(ctx context.Context, g *group.Group) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE groups SET
			name = $1,
			students = $2,
			min_size = $3,
			max_size = $4,
			current_level = $5,
			completed_levels = $6,
			last_promoted_at = $7,
			status = $8,
			updated_at = $9,
			version = version + 1
		WHERE id = $10 AND version = $11
	`,
		g.Name, stringsOrEmpty(g.Students), g.MinSize, g.MaxSize,
		g.Progress.CurrentLevel, levelsToArray(g.Progress.CompletedLevels), g.Progress.LastPromotedAt,
		string(g.Status), g.UpdatedAt, g.ID, g.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, g.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check group: %w", err)
		}
		if !exists {
			return shared.ErrGroupNotFound
		}
		return shared.ErrGroupConflict
	}
	g.Version++
	return nil
}
