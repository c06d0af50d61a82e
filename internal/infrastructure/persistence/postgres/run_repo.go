package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alem-hub/alem-backoffice/internal/application/saga"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROUP PROMOTION RUN REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RunRepository implements saga.RunRepository for PostgreSQL.
type RunRepository struct {
	conn *Connection
}

var _ saga.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(conn *Connection) *RunRepository {
	return &RunRepository{conn: conn}
}

// Get returns the run stored under token.
func (r *RunRepository) Get(ctx context.Context, token string) (*saga.Run, error) {
	var (
		run           saga.Run
		status, step  string
		failedJSON    []byte
		advanceFailed []byte
	)
	err := r.conn.QueryRow(ctx, `
		SELECT token, group_id, curriculum_id, fingerprint, from_level, to_level,
		       student_ids, advance_group, actor_id, status, step, current_student,
		       promoted, failed, group_advanced, group_advance_failure, last_error,
		       version, started_at, updated_at, completed_at
		FROM group_promotion_runs
		WHERE token = $1
	`, token).Scan(
		&run.Token, &run.GroupID, &run.CurriculumID, &run.Fingerprint, &run.FromLevel, &run.ToLevel,
		&run.StudentIDs, &run.AdvanceGroup, &run.ActorID, &status, &step, &run.Current,
		&run.Promoted, &failedJSON, &run.GroupAdvanced, &advanceFailed, &run.LastError,
		&run.Version, &run.StartedAt, &run.UpdatedAt, &run.CompletedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPromotionRunNotFound
		}
		return nil, fmt.Errorf("failed to get promotion run: %w", err)
	}

	run.Status = saga.RunStatus(status)
	run.Step = saga.RunStep(step)
	if err := json.Unmarshal(failedJSON, &run.Failed); err != nil {
		return nil, fmt.Errorf("failed to decode run failures: %w", err)
	}
	if len(advanceFailed) > 0 {
		var f saga.Failure
		if err := json.Unmarshal(advanceFailed, &f); err != nil {
			return nil, fmt.Errorf("failed to decode group advance failure: %w", err)
		}
		run.GroupAdvanceFailure = &f
	}
	return &run, nil
}

// Create inserts a new run. A duplicate token yields shared.ErrAlreadyExists.
func (r *RunRepository) Create(ctx context.Context, run *saga.Run) error {
	if run.Version == 0 {
		run.Version = 1
	}
	failed, advanceFailed, err := encodeFailures(run)
	if err != nil {
		return err
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO group_promotion_runs (
			token, group_id, curriculum_id, fingerprint, from_level, to_level,
			student_ids, advance_group, actor_id, status, step, current_student,
			promoted, failed, group_advanced, group_advance_failure, last_error,
			version, started_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		run.Token, run.GroupID, run.CurriculumID, run.Fingerprint, run.FromLevel, run.ToLevel,
		stringsOrEmpty(run.StudentIDs), run.AdvanceGroup, run.ActorID, string(run.Status), string(run.Step), run.Current,
		stringsOrEmpty(run.Promoted), failed, run.GroupAdvanced, advanceFailed, run.LastError,
		run.Version, run.StartedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("promotion_run", "Create", shared.ErrAlreadyExists, "token already used", err)
		}
		return fmt.Errorf("failed to create promotion run: %w", err)
	}
	return nil
}

// Update stores the run's progress with a compare-and-swap on version.
func (r *RunRepository) Update(ctx context.Context, run *saga.Run) error {
	failed, advanceFailed, err := encodeFailures(run)
	if err != nil {
		return err
	}

	tag, err := r.conn.Exec(ctx, `
		UPDATE group_promotion_runs SET
			status = $1,
			step = $2,
			current_student = $3,
			promoted = $4,
			failed = $5,
			group_advanced = $6,
			group_advance_failure = $7,
			last_error = $8,
			updated_at = $9,
			completed_at = $10,
			version = version + 1
		WHERE token = $11 AND version = $12
	`,
		string(run.Status), string(run.Step), run.Current, stringsOrEmpty(run.Promoted), failed,
		run.GroupAdvanced, advanceFailed, run.LastError, run.UpdatedAt, run.CompletedAt,
		run.Token, run.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update promotion run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrPromotionRunConflict
	}
	run.Version++
	return nil
}

func encodeFailures(run *saga.Run) (failed []byte, advanceFailed []byte, err error) {
	list := run.Failed
	if list == nil {
		list = []saga.Failure{}
	}
	if failed, err = json.Marshal(list); err != nil {
		return nil, nil, fmt.Errorf("failed to encode run failures: %w", err)
	}
	if run.GroupAdvanceFailure != nil {
		if advanceFailed, err = json.Marshal(run.GroupAdvanceFailure); err != nil {
			return nil, nil, fmt.Errorf("failed to encode group advance failure: %w", err)
		}
	}
	return failed, advanceFailed, nil
}
