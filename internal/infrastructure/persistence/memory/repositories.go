package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/alem-hub/alem-backoffice/internal/application/saga"
	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULA
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumRepository implements curriculum.Repository.
type CurriculumRepository struct {
	db *DB
}

var _ curriculum.Repository = (*CurriculumRepository)(nil)

// GetByID implements curriculum.Repository.
func (r *CurriculumRepository) GetByID(_ context.Context, id string) (*curriculum.Curriculum, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	c, ok := r.db.curricula[id]
	if !ok {
		return nil, shared.ErrCurriculumNotFound
	}
	return c.Clone(), nil
}

// Save implements curriculum.Repository.
func (r *CurriculumRepository) Save(_ context.Context, c *curriculum.Curriculum) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.curricula[c.ID] = c.Clone()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// SubscriptionRepository implements subscription.Repository.
type SubscriptionRepository struct {
	db *DB
}

var _ subscription.Repository = (*SubscriptionRepository)(nil)

// GetByID implements subscription.Repository.
func (r *SubscriptionRepository) GetByID(_ context.Context, id string) (*subscription.Subscription, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	s, ok := r.db.subscriptions[id]
	if !ok {
		return nil, shared.ErrSubscriptionNotFound
	}
	return s.Clone(), nil
}

// GetByStudentAndCurriculum implements subscription.Repository.
func (r *SubscriptionRepository) GetByStudentAndCurriculum(_ context.Context, studentID, curriculumID string) (*subscription.Subscription, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	if s := r.findPair(studentID, curriculumID); s != nil {
		return s.Clone(), nil
	}
	return nil, shared.ErrSubscriptionNotFound
}

func (r *SubscriptionRepository) findPair(studentID, curriculumID string) *subscription.Subscription {
	for _, s := range r.db.subscriptions {
		if s.StudentID == studentID && s.CurriculumID == curriculumID {
			return s
		}
	}
	return nil
}

// ListByStudentIDs implements subscription.Repository.
func (r *SubscriptionRepository) ListByStudentIDs(_ context.Context, curriculumID string, studentIDs []string) ([]*subscription.Subscription, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	out := make([]*subscription.Subscription, 0, len(studentIDs))
	for _, id := range studentIDs {
		if s := r.findPair(id, curriculumID); s != nil {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// Create implements subscription.Repository.
func (r *SubscriptionRepository) Create(_ context.Context, s *subscription.Subscription) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.subscriptions[s.ID]; ok {
		return shared.ErrSubscriptionExists
	}
	if r.findPair(s.StudentID, s.CurriculumID) != nil {
		return shared.ErrSubscriptionExists
	}
	if s.Version == 0 {
		s.Version = 1
	}
	r.db.subscriptions[s.ID] = s.Clone()
	return nil
}

// Update implements subscription.Repository with a compare-and-swap on Version.
func (r *SubscriptionRepository) Update(_ context.Context, s *subscription.Subscription) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	stored, ok := r.db.subscriptions[s.ID]
	if !ok {
		return shared.ErrSubscriptionNotFound
	}
	if stored.Version != s.Version {
		return shared.WrapError("subscription", "Update", shared.ErrConcurrentModification,
			fmt.Sprintf("expected version %d, stored version %d", s.Version, stored.Version), shared.ErrSubscriptionConflict)
	}
	s.Version++
	r.db.subscriptions[s.ID] = s.Clone()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUPS
// ══════════════════════════════════════════════════════════════════════════════

// GroupRepository implements group.Repository.
type GroupRepository struct {
	db *DB
}

var _ group.Repository = (*GroupRepository)(nil)

// GetByID implements group.Repository.
func (r *GroupRepository) GetByID(_ context.Context, id string) (*group.Group, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	g, ok := r.db.groups[id]
	if !ok {
		return nil, shared.ErrGroupNotFound
	}
	return g.Clone(), nil
}

// Create implements group.Repository.
func (r *GroupRepository) Create(_ context.Context, g *group.Group) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.groups[g.ID]; ok {
		return shared.ErrGroupExists
	}
	if g.Version == 0 {
		g.Version = 1
	}
	r.db.groups[g.ID] = g.Clone()
	return nil
}

// Update implements group.Repository with a compare-and-swap on Version.
func (r *GroupRepository) Update(_ context.Context, g *group.Group) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	stored, ok := r.db.groups[g.ID]
	if !ok {
		return shared.ErrGroupNotFound
	}
	if stored.Version != g.Version {
		return shared.ErrGroupConflict
	}
	g.Version++
	r.db.groups[g.ID] = g.Clone()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDANCE
// ══════════════════════════════════════════════════════════════════════════════

// AttendanceLedger implements attendance.Ledger.
type AttendanceLedger struct {
	db *DB
}

var _ attendance.Ledger = (*AttendanceLedger)(nil)

func sessionKey(curriculumID string, level int) string {
	return fmt.Sprintf("%s#%d", curriculumID, level)
}

// ListSessions implements attendance.Ledger. Sessions are ordered by session number.
func (l *AttendanceLedger) ListSessions(_ context.Context, curriculumID string, level int) ([]attendance.Session, error) {
	l.db.mu.RLock()
	defer l.db.mu.RUnlock()

	stored := l.db.sessions[sessionKey(curriculumID, level)]
	out := make([]attendance.Session, len(stored))
	for i, s := range stored {
		s.Entries = append([]attendance.Entry(nil), s.Entries...)
		out[i] = s
	}
	return out, nil
}

// Append records a session. A session with the same ID replaces the earlier one.
func (l *AttendanceLedger) Append(_ context.Context, s attendance.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.Entries = append([]attendance.Entry(nil), s.Entries...)

	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	key := sessionKey(s.CurriculumID, s.Level)
	list := l.db.sessions[key]
	for i := range list {
		if list[i].ID == s.ID {
			list[i] = s
			return nil
		}
	}
	list = append(list, s)
	sort.SliceStable(list, func(i, j int) bool { return list[i].SessionNumber < list[j].SessionNumber })
	l.db.sessions[key] = list
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP PROMOTION RUNS
// ══════════════════════════════════════════════════════════════════════════════

// RunRepository implements saga.RunRepository.
type RunRepository struct {
	db *DB
}

var _ saga.RunRepository = (*RunRepository)(nil)

// Get implements saga.RunRepository.
func (r *RunRepository) Get(_ context.Context, token string) (*saga.Run, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	run, ok := r.db.runs[token]
	if !ok {
		return nil, shared.ErrPromotionRunNotFound
	}
	return run.Clone(), nil
}

// Create implements saga.RunRepository.
func (r *RunRepository) Create(_ context.Context, run *saga.Run) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.runs[run.Token]; ok {
		return shared.WrapError("promotion_run", "Create", shared.ErrAlreadyExists, "token already used", nil)
	}
	if run.Version == 0 {
		run.Version = 1
	}
	r.db.runs[run.Token] = run.Clone()
	return nil
}

// Update implements saga.RunRepository with a compare-and-swap on Version.
func (r *RunRepository) Update(_ context.Context, run *saga.Run) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	stored, ok := r.db.runs[run.Token]
	if !ok {
		return shared.ErrPromotionRunNotFound
	}
	if stored.Version != run.Version {
		return shared.ErrPromotionRunConflict
	}
	run.Version++
	r.db.runs[run.Token] = run.Clone()
	return nil
}
