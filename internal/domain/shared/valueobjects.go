// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Clock
// ═══════════════════════════════════════════════════════════════════════════

// Clock abstracts the current time so expiry and promotion timestamps are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant until moved.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════
// LevelSet
// ═══════════════════════════════════════════════════════════════════════════

// LevelSet is a sorted set of level orders without duplicates.
// Methods never mutate the receiver; they return a fresh slice.
type LevelSet []int

// NewLevelSet builds a normalized set from arbitrary input.
func NewLevelSet(levels ...int) LevelSet {
	out := make(LevelSet, 0, len(levels))
	seen := make(map[int]struct{}, len(levels))
	for _, l := range levels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// Contains reports whether level is in the set.
func (s LevelSet) Contains(level int) bool {
	i := sort.SearchInts(s, level)
	return i < len(s) && s[i] == level
}

// With returns a copy of the set that also contains level.
func (s LevelSet) With(level int) LevelSet {
	return NewLevelSet(append(s.Clone(), level)...)
}

// Below returns a copy holding only the levels strictly less than bound.
func (s LevelSet) Below(bound int) LevelSet {
	out := make(LevelSet, 0, len(s))
	for _, l := range s {
		if l < bound {
			out = append(out, l)
		}
	}
	return out
}

// Max returns the highest level, or 0 for an empty set.
func (s LevelSet) Max() int {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// Clone returns an independent copy.
func (s LevelSet) Clone() LevelSet {
	if s == nil {
		return nil
	}
	out := make(LevelSet, len(s))
	copy(out, s)
	return out
}

// Ints returns the set as a plain slice, never nil.
func (s LevelSet) Ints() []int {
	if s == nil {
		return []int{}
	}
	return s.Clone()
}

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// NormalizeID trims whitespace around an identifier.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}

// UniqueIDs returns ids with blanks and duplicates removed, keeping first-seen order.
func UniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := NormalizeID(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
