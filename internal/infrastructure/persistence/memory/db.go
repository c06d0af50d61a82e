// Package memory provides mutex-guarded in-memory implementations of the
// domain repositories. It backs tests and the API's local mode (no DATABASE_URL).
// Every read returns a copy so callers can never mutate stored state in place.
package memory

import (
	"sync"

	"github.com/alem-hub/alem-backoffice/internal/application/saga"
	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
)

// DB holds every in-memory table behind one lock.
type DB struct {
	mu            sync.RWMutex
	curricula     map[string]*curriculum.Curriculum
	subscriptions map[string]*subscription.Subscription
	groups        map[string]*group.Group
	sessions      map[string][]attendance.Session // key: curriculumID + level
	runs          map[string]*saga.Run
}

// NewDB creates an empty store.
func NewDB() *DB {
	return &DB{
		curricula:     make(map[string]*curriculum.Curriculum),
		subscriptions: make(map[string]*subscription.Subscription),
		groups:        make(map[string]*group.Group),
		sessions:      make(map[string][]attendance.Session),
		runs:          make(map[string]*saga.Run),
	}
}

// Repositories bundles the repositories backed by one DB.
type Repositories struct {
	Curricula     *CurriculumRepository
	Subscriptions *SubscriptionRepository
	Groups        *GroupRepository
	Attendance    *AttendanceLedger
	Runs          *RunRepository
}

// NewRepositories wires every repository to db.
func NewRepositories(db *DB) Repositories {
	return Repositories{
		Curricula:     &CurriculumRepository{db: db},
		Subscriptions: &SubscriptionRepository{db: db},
		Groups:        &GroupRepository{db: db},
		Attendance:    &AttendanceLedger{db: db},
		Runs:          &RunRepository{db: db},
	}
}
