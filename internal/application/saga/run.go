package saga

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a persisted group promotion run.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunFailed     RunStatus = "failed"
	RunCompleted  RunStatus = "completed"
)

// RunStep is the saga step a run last entered.
type RunStep string

const (
	StepPromoteStudents RunStep = "promote_students"
	StepAdvanceGroup    RunStep = "advance_group"
	StepComplete        RunStep = "complete"
)

// Failure explains why one student (or the group pointer) was not advanced.
type Failure struct {
	StudentID string `json:"student_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Run is the persisted state of one Commit call, keyed by its idempotency token.
// The student loop records every result before moving on, so an interrupted run
// resumes with only the students that have no result yet.
type Run struct {
	Token        string
	GroupID      string
	CurriculumID string
	Fingerprint  string
	FromLevel    int
	ToLevel      int
	StudentIDs   []string
	AdvanceGroup bool
	ActorID      string

	Status  RunStatus
	Step    RunStep
	Current string

	Promoted            []string
	Failed              []Failure
	GroupAdvanced       bool
	GroupAdvanceFailure *Failure
	LastError           string

	Version     int64
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	out := *r
	out.StudentIDs = append([]string(nil), r.StudentIDs...)
	out.Promoted = append([]string(nil), r.Promoted...)
	out.Failed = append([]Failure(nil), r.Failed...)
	if r.GroupAdvanceFailure != nil {
		f := *r.GroupAdvanceFailure
		out.GroupAdvanceFailure = &f
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// done reports whether the student already has a recorded result.
func (r *Run) done(studentID string) bool {
	for _, id := range r.Promoted {
		if id == studentID {
			return true
		}
	}
	for _, f := range r.Failed {
		if f.StudentID == studentID {
			return true
		}
	}
	return false
}

// promotedAll reports whether every id in roster is in Promoted.
func (r *Run) promotedAll(roster []string) bool {
	if len(roster) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(r.Promoted))
	for _, id := range r.Promoted {
		set[id] = struct{}{}
	}
	for _, id := range roster {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// RunRepository persists group promotion runs.
type RunRepository interface {
	// Get returns the run for token, or shared.ErrPromotionRunNotFound.
	Get(ctx context.Context, token string) (*Run, error)

	// Create stores a new run. A token that already exists yields shared.ErrAlreadyExists.
	Create(ctx context.Context, run *Run) error

	// Update stores run if its Version matches (compare-and-swap) and increments it.
	// A mismatch yields shared.ErrPromotionRunConflict.
	Update(ctx context.Context, run *Run) error
}
