// Package attendance contains the read model of class sessions and who attended them.
// Attendance is recorded by another part of the back office; the progression
// engine only reads it.
package attendance

import (
	"context"
	"errors"
	"time"
)

// Domain errors for attendance package.
var (
	ErrInvalidSessionID = errors.New("attendance: invalid session ID")
	ErrInvalidLevel     = errors.New("attendance: level must be positive")
	ErrInvalidStatus    = errors.New("attendance: invalid status")
	ErrInvalidStudentID = errors.New("attendance: invalid student ID")
)

// Status is a student's mark for one session.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// CountsAsAttended reports whether the mark counts toward level completion.
// Late arrivals count; absences do not.
func (s Status) CountsAsAttended() bool {
	return s == StatusPresent || s == StatusLate
}

// Entry is one student's mark within a session.
type Entry struct {
	StudentID string
	Status    Status
}

// Session is a single held class of a curriculum level.
type Session struct {
	ID            string
	CurriculumID  string
	GroupID       string
	Level         int
	SessionNumber int
	HeldAt        time.Time
	Entries       []Entry
}

// Validate checks the session's required fields.
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrInvalidSessionID
	}
	if s.Level < 1 {
		return ErrInvalidLevel
	}
	for _, e := range s.Entries {
		if e.StudentID == "" {
			return ErrInvalidStudentID
		}
		if !e.Status.IsValid() {
			return ErrInvalidStatus
		}
	}
	return nil
}

// Attended reports whether the student has at least one attending entry.
// Duplicate entries for the same student count once.
func (s *Session) Attended(studentID string) bool {
	for _, e := range s.Entries {
		if e.StudentID == studentID && e.Status.CountsAsAttended() {
			return true
		}
	}
	return false
}

// CountAttended returns how many of the sessions the student attended.
func CountAttended(sessions []Session, studentID string) int {
	seen := make(map[string]struct{}, len(sessions))
	n := 0
	for i := range sessions {
		s := &sessions[i]
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		if s.Attended(studentID) {
			n++
		}
	}
	return n
}

// Ledger is the read-only view of attendance the engine depends on.
type Ledger interface {
	// ListSessions returns every recorded session of the given curriculum level.
	ListSessions(ctx context.Context, curriculumID string, level int) ([]Session, error)
}
