package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations, one transaction per version.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// AppliedMigrations returns applied versions with their timestamps.
func (m *Migrator) AppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations and returns how many were applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}
	return count, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var last int
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_curricula", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_subscriptions", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_groups_and_attendance", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_group_promotion_runs", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CURRICULA
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS curricula (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    -- NULL means "use the default rate"
    minimum_completion_rate NUMERIC(5,2),
    require_admin_approval BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_rate CHECK (minimum_completion_rate IS NULL OR (minimum_completion_rate >= 0 AND minimum_completion_rate <= 100))
);

CREATE TABLE IF NOT EXISTS curriculum_levels (
    curriculum_id TEXT NOT NULL REFERENCES curricula(id) ON DELETE CASCADE,
    level_order INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    -- 0 means "use the default duration"
    duration_days INTEGER NOT NULL DEFAULT 0,
    sessions_count INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (curriculum_id, level_order),
    CONSTRAINT valid_order CHECK (level_order >= 1),
    CONSTRAINT valid_duration CHECK (duration_days >= 0),
    CONSTRAINT valid_sessions CHECK (sessions_count >= 0)
);
`

const migration001Down = `
DROP TABLE IF EXISTS curriculum_levels;
DROP TABLE IF EXISTS curricula;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: SUBSCRIPTIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL,
    curriculum_id TEXT NOT NULL,
    current_level INTEGER NOT NULL DEFAULT 1,
    access_credit_days INTEGER NOT NULL DEFAULT 0,
    current_level_access_expires_at TIMESTAMP WITH TIME ZONE,
    status VARCHAR(20) NOT NULL DEFAULT 'active',

    -- progress value
    completed_levels INTEGER[] NOT NULL DEFAULT '{}',
    progress_updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    last_promotion_id TEXT,
    demoted_by TEXT NOT NULL DEFAULT '',
    demoted_at TIMESTAMP WITH TIME ZONE,
    reset_by TEXT NOT NULL DEFAULT '',
    reset_at TIMESTAMP WITH TIME ZONE,

    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_student_curriculum UNIQUE (student_id, curriculum_id),
    CONSTRAINT valid_status CHECK (status IN ('active', 'pending', 'expired', 'cancelled')),
    CONSTRAINT valid_level CHECK (current_level >= 1),
    CONSTRAINT valid_credit CHECK (access_credit_days >= 0)
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_curriculum ON subscriptions(curriculum_id);

CREATE TABLE IF NOT EXISTS subscription_promotions (
    id TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
    promoted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    from_level INTEGER NOT NULL,
    to_level INTEGER NOT NULL,
    progress NUMERIC(6,2) NOT NULL,
    credits_deducted INTEGER NOT NULL,
    remaining_credits INTEGER NOT NULL,
    promoted_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_subscription_promotions_sub ON subscription_promotions(subscription_id, promoted_at);
`

const migration002Down = `
DROP TABLE IF EXISTS subscription_promotions;
DROP TABLE IF EXISTS subscriptions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: GROUPS AND ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    curriculum_id TEXT NOT NULL,
    students TEXT[] NOT NULL DEFAULT '{}',
    min_size INTEGER NOT NULL DEFAULT 0,
    max_size INTEGER NOT NULL DEFAULT 0,
    current_level INTEGER NOT NULL DEFAULT 1,
    completed_levels INTEGER[] NOT NULL DEFAULT '{}',
    last_promoted_at TIMESTAMP WITH TIME ZONE,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_group_status CHECK (status IN ('pending', 'ready', 'active', 'inactive', 'overfull')),
    CONSTRAINT valid_bounds CHECK (min_size >= 0 AND max_size >= min_size)
);

CREATE TABLE IF NOT EXISTS attendance_sessions (
    id TEXT PRIMARY KEY,
    curriculum_id TEXT NOT NULL,
    group_id TEXT NOT NULL DEFAULT '',
    level INTEGER NOT NULL,
    session_number INTEGER NOT NULL DEFAULT 0,
    held_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_attendance_sessions_level ON attendance_sessions(curriculum_id, level, session_number);

CREATE TABLE IF NOT EXISTS attendance_entries (
    session_id TEXT NOT NULL REFERENCES attendance_sessions(id) ON DELETE CASCADE,
    student_id TEXT NOT NULL,
    status VARCHAR(10) NOT NULL,

    PRIMARY KEY (session_id, student_id),
    CONSTRAINT valid_mark CHECK (status IN ('present', 'late', 'absent'))
);
`

const migration003Down = `
DROP TABLE IF EXISTS attendance_entries;
DROP TABLE IF EXISTS attendance_sessions;
DROP TABLE IF EXISTS groups;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: GROUP PROMOTION RUNS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS group_promotion_runs (
    token TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    curriculum_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    from_level INTEGER NOT NULL,
    to_level INTEGER NOT NULL,
    student_ids TEXT[] NOT NULL DEFAULT '{}',
    advance_group BOOLEAN NOT NULL DEFAULT FALSE,
    actor_id TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL,
    step VARCHAR(30) NOT NULL,
    current_student TEXT NOT NULL DEFAULT '',
    promoted TEXT[] NOT NULL DEFAULT '{}',
    failed JSONB NOT NULL DEFAULT '[]'::jsonb,
    group_advanced BOOLEAN NOT NULL DEFAULT FALSE,
    group_advance_failure JSONB,
    last_error TEXT NOT NULL DEFAULT '',
    version BIGINT NOT NULL DEFAULT 1,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_run_status CHECK (status IN ('in_progress', 'failed', 'completed'))
);

CREATE INDEX IF NOT EXISTS idx_group_promotion_runs_group ON group_promotion_runs(group_id, started_at DESC);
`

const migration004Down = `
DROP TABLE IF EXISTS group_promotion_runs;
`
