package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE LEDGER IMPLEMENTATION
// The engine only reads; Append serves seeding and the attendance import.
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceLedger implements attendance.Ledger for PostgreSQL.
type AttendanceLedger struct {
	conn *Connection
}

var _ attendance.Ledger = (*AttendanceLedger)(nil)

// NewAttendanceLedger creates a new AttendanceLedger.
func NewAttendanceLedger(conn *Connection) *AttendanceLedger {
	return &AttendanceLedger{conn: conn}
}

// ListSessions returns the sessions of a curriculum level with their entries,
// ordered by session number.
func (l *AttendanceLedger) ListSessions(ctx context.Context, curriculumID string, level int) ([]attendance.Session, error) {
	rows, err := l.conn.Query(ctx, `
		SELECT s.id, s.group_id, s.session_number, s.held_at, e.student_id, e.status
		FROM attendance_sessions s
		LEFT JOIN attendance_entries e ON e.session_id = s.id
		WHERE s.curriculum_id = $1 AND s.level = $2
		ORDER BY s.session_number, s.id, e.student_id
	`, curriculumID, level)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []attendance.Session
	for rows.Next() {
		var (
			s         attendance.Session
			studentID *string
			status    *string
		)
		if err := rows.Scan(&s.ID, &s.GroupID, &s.SessionNumber, &s.HeldAt, &studentID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		if n := len(out); n == 0 || out[n-1].ID != s.ID {
			s.CurriculumID = curriculumID
			s.Level = level
			s.HeldAt = s.HeldAt.UTC()
			out = append(out, s)
		}
		if studentID != nil && status != nil {
			last := &out[len(out)-1]
			last.Entries = append(last.Entries, attendance.Entry{StudentID: *studentID, Status: attendance.Status(*status)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []attendance.Session{}
	}
	return out, nil
}

// Append records a session and replaces its entries.
func (l *AttendanceLedger) Append(ctx context.Context, s attendance.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	return l.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO attendance_sessions (id, curriculum_id, group_id, level, session_number, held_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				group_id = EXCLUDED.group_id,
				session_number = EXCLUDED.session_number,
				held_at = EXCLUDED.held_at
		`, s.ID, s.CurriculumID, s.GroupID, s.Level, s.SessionNumber, s.HeldAt)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM attendance_entries WHERE session_id = $1`, s.ID); err != nil {
			return fmt.Errorf("failed to clear entries: %w", err)
		}

		batch := &pgx.Batch{}
		for _, e := range s.Entries {
			// A repeated student keeps the mark that counts.
			batch.Queue(`
				INSERT INTO attendance_entries (session_id, student_id, status)
				VALUES ($1, $2, $3)
				ON CONFLICT (session_id, student_id) DO UPDATE SET status =
					CASE WHEN attendance_entries.status = 'absent' THEN EXCLUDED.status ELSE attendance_entries.status END
			`, s.ID, e.StudentID, string(e.Status))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save entries: %w", err)
		}
		return nil
	})
}
