package postgres

import (
	"time"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLUMN CONVERSIONS
// ══════════════════════════════════════════════════════════════════════════════

// levelsToArray encodes a level set as an INTEGER[] parameter.
func levelsToArray(s shared.LevelSet) []int32 {
	out := make([]int32, len(s))
	for i, v := range s {
		out[i] = int32(v)
	}
	return out
}

// levelsFromArray decodes an INTEGER[] column. The result is sorted and deduplicated.
func levelsFromArray(a []int32) shared.LevelSet {
	levels := make([]int, len(a))
	for i, v := range a {
		levels[i] = int(v)
	}
	return shared.NewLevelSet(levels...)
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// timeOrZero maps SQL NULL to the zero time.
func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// stringsOrEmpty never returns nil so TEXT[] NOT NULL columns accept it.
func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
