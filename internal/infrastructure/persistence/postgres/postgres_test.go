package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

func TestLevelArrays(t *testing.T) {
	arr := levelsToArray(shared.NewLevelSet(3, 1, 2))
	assert.Equal(t, []int32{1, 2, 3}, arr)

	set := levelsFromArray([]int32{4, 2, 2, 1})
	assert.Equal(t, shared.LevelSet{1, 2, 4}, set)

	assert.Empty(t, levelsToArray(nil))
	assert.NotNil(t, levelsToArray(nil))
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))

	local := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("ALMT", 5*3600))
	got := nullTime(local)
	require.NotNil(t, got)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))

	assert.True(t, timeOrZero(nil).IsZero())
	assert.True(t, timeOrZero(got).Equal(local))
}

func TestStringsOrEmpty(t *testing.T) {
	assert.NotNil(t, stringsOrEmpty(nil))
	assert.Equal(t, []string{"a"}, stringsOrEmpty([]string{"a"}))
}

func TestGetMigrations(t *testing.T) {
	migrations := GetMigrations()
	require.Len(t, migrations, 4)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migrations must be ordered")
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, strings.TrimSpace(m.UpSQL))
		assert.NotEmpty(t, strings.TrimSpace(m.DownSQL))
	}

	assert.Contains(t, migrations[1].UpSQL, "UNIQUE (student_id, curriculum_id)")
	assert.Contains(t, migrations[3].UpSQL, "group_promotion_runs")
}

func TestDefaultPoolOptions(t *testing.T) {
	opts := DefaultPoolOptions()
	assert.Positive(t, opts.MaxConns)
	assert.GreaterOrEqual(t, opts.MaxConns, opts.MinConns)
}

func TestPromotionInsertError(t *testing.T) {
	fk := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23503"})
	assert.ErrorIs(t, promotionInsertError(fk), shared.ErrSubscriptionNotFound)
	assert.True(t, shared.IsNotFound(promotionInsertError(fk)))

	other := errors.New("connection reset")
	err := promotionInsertError(other)
	assert.ErrorIs(t, err, other)
	assert.False(t, shared.IsNotFound(err))

	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}))
}
