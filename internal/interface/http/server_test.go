package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/alem-backoffice/internal/application/command"
	"github.com/alem-hub/alem-backoffice/internal/application/query"
	"github.com/alem-hub/alem-backoffice/internal/application/saga"
	"github.com/alem-hub/alem-backoffice/internal/domain/attendance"
	"github.com/alem-hub/alem-backoffice/internal/domain/curriculum"
	"github.com/alem-hub/alem-backoffice/internal/domain/group"
	"github.com/alem-hub/alem-backoffice/internal/domain/progress"
	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/internal/domain/subscription"
	"github.com/alem-hub/alem-backoffice/internal/infrastructure/metrics"
	"github.com/alem-hub/alem-backoffice/internal/infrastructure/persistence/memory"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	repos   memory.Repositories
	handler http.Handler
}

// newTestAPI wires the full stack over memory repositories with a
// three-level curriculum "go" (30 days and 10 sessions per level) and
// group "g1" holding students a and b.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	repos := memory.NewRepositories(memory.NewDB())

	cur, err := curriculum.NewCurriculum(curriculum.NewCurriculumParams{
		ID: "go",
		Levels: []curriculum.Level{
			{Order: 1, DurationDays: 30, SessionsCount: 10},
			{Order: 2, DurationDays: 30, SessionsCount: 10},
			{Order: 3, DurationDays: 30, SessionsCount: 10},
		},
	})
	require.NoError(t, err)
	require.NoError(t, repos.Curricula.Save(ctx, cur))

	g, err := group.NewGroup(group.NewGroupParams{
		ID: "g1", CurriculumID: "go", Students: []string{"a", "b"}, MinSize: 1, MaxSize: 10, Now: t0,
	})
	require.NoError(t, err)
	require.NoError(t, repos.Groups.Create(ctx, g))

	clock := shared.NewFixedClock(t0)
	calc := progress.NewCalculator(repos.Curricula, repos.Attendance)
	seq := 0
	newID := func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	m := metrics.New(false)

	cmdDeps := command.Dependencies{
		Subscriptions: repos.Subscriptions,
		Curricula:     repos.Curricula,
		Progress:      calc,
		Locker:        memory.NewKeyedLocker(),
		Clock:         clock,
		NewID:         newID,
		Metrics:       m,
	}
	promote := command.NewPromoteStudentHandler(cmdDeps)

	srv := NewServer(DefaultConfig(), Dependencies{
		PromoteStudent: promote,
		DemoteStudent:  command.NewDemoteStudentHandler(cmdDeps),
		ResetProgress:  command.NewResetStudentProgressHandler(cmdDeps),
		UpdateRoster:   command.NewUpdateGroupRosterHandler(repos.Groups, nil, clock, nil),
		GroupPromotion: saga.NewGroupPromotionSaga(saga.Dependencies{
			Groups:        repos.Groups,
			Curricula:     repos.Curricula,
			Subscriptions: repos.Subscriptions,
			Progress:      calc,
			Promoter:      promote,
			Runs:          repos.Runs,
			Clock:         clock,
			NewID:         newID,
			Metrics:       m,
		}),
		LevelCompletion: query.NewGetLevelCompletionHandler(repos.Curricula, repos.Subscriptions, calc),
		GetSubscription: query.NewGetSubscriptionHandler(repos.Curricula, repos.Subscriptions, clock),
		GetGroup:        query.NewGetGroupHandler(repos.Groups),
		Metrics:         m,
	})
	return &testAPI{repos: repos, handler: srv.Handler()}
}

// student subscribes id at level 1 and marks it present at the first
// attended of ten level-1 sessions.
func (a *testAPI) student(t *testing.T, id string, credit, attended int) {
	t.Helper()
	ctx := context.Background()
	s, err := subscription.NewSubscription(subscription.NewSubscriptionParams{
		ID: "sub-" + id, StudentID: id, CurriculumID: "go", AccessCreditDays: credit, Now: t0,
	})
	require.NoError(t, err)
	require.NoError(t, a.repos.Subscriptions.Create(ctx, s))

	sessions, err := a.repos.Attendance.ListSessions(ctx, "go", 1)
	require.NoError(t, err)
	for i := 1; i <= 10; i++ {
		sess := attendance.Session{ID: fmt.Sprintf("go-1-%d", i), CurriculumID: "go", Level: 1, SessionNumber: i, HeldAt: t0}
		if len(sessions) >= i {
			sess = sessions[i-1]
		}
		status := attendance.StatusAbsent
		if i <= attended {
			status = attendance.StatusPresent
		}
		sess.Entries = append(sess.Entries, attendance.Entry{StudentID: id, Status: status})
		require.NoError(t, a.repos.Attendance.Append(ctx, sess))
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestHealthAndLive(t *testing.T) {
	api := newTestAPI(t)

	rec, env := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = api.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPromote_Success(t *testing.T) {
	api := newTestAPI(t)
	api.student(t, "a", 100, 9)

	rec, env := api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/promote",
		map[string]any{"actor_id": "admin", "expected_level": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got promoteResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 1, got.Record.FromLevel)
	assert.Equal(t, 2, got.Record.ToLevel)
	assert.Equal(t, 30, got.Record.CreditsDeducted)
	assert.Equal(t, 70, got.Record.RemainingCredits)
	assert.Equal(t, 2, got.Subscription.CurrentLevel)
	assert.Equal(t, []int{1}, got.Subscription.CompletedLevels)

	// Повторное продвижение с устаревшего экрана.
	rec, env = api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/promote",
		map[string]any{"actor_id": "admin", "expected_level": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(shared.CodeLevelMismatch), env.Error.Code)
}

func TestPromote_PolicyFailureCarriesFigures(t *testing.T) {
	api := newTestAPI(t)
	api.student(t, "a", 100, 5)

	rec, env := api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/promote", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(shared.CodeInsufficientProgress), env.Error.Code)
	require.NotNil(t, env.Error.Required)
	require.NotNil(t, env.Error.Actual)
	assert.Equal(t, 80.0, *env.Error.Required)
	assert.Equal(t, 50.0, *env.Error.Actual)
}

func TestPromote_InsufficientCredit(t *testing.T) {
	api := newTestAPI(t)
	api.student(t, "a", 10, 10)

	rec, env := api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/promote", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(shared.CodeInsufficientCredit), env.Error.Code)
	require.NotNil(t, env.Error.Available)
	assert.Equal(t, 10.0, *env.Error.Available)
}

func TestPromote_NoSubscription(t *testing.T) {
	api := newTestAPI(t)

	rec, env := api.do(t, http.MethodPost, "/api/v1/students/ghost/subscriptions/go/promote", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(shared.CodeNoActiveSubscription), env.Error.Code)
}

func TestPromote_BadBody(t *testing.T) {
	api := newTestAPI(t)
	api.student(t, "a", 100, 10)

	rec, env := api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/promote",
		map[string]any{"expected_level": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/promote",
		map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDemoteRequiresActor(t *testing.T) {
	api := newTestAPI(t)
	api.student(t, "a", 100, 10)

	rec, _ := api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/demote", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/demote", map[string]any{"actor_id": "admin"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(shared.CodeAlreadyAtFirstLevel), env.Error.Code)
}

func TestGetSubscriptionAndCompletion(t *testing.T) {
	api := newTestAPI(t)
	api.student(t, "a", 100, 8)

	rec, env := api.do(t, http.MethodGet, "/api/v1/students/a/subscriptions/go", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub query.SubscriptionDTO
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, 1, sub.CurrentLevel)
	assert.Equal(t, 30, sub.NextLevelCost)

	rec, env = api.do(t, http.MethodGet, "/api/v1/curricula/go/levels/1/completion?student_id=a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var completion query.LevelCompletionDTO
	require.NoError(t, json.Unmarshal(env.Data, &completion))
	assert.True(t, completion.MeetsThreshold)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/curricula/go/levels/one/completion?student_id=a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetermineGroupStatus(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		query  string
		status int
		want   string
	}{
		{"count=0&min=2&max=5", http.StatusOK, "pending"},
		{"count=3&min=2&max=5", http.StatusOK, "ready"},
		{"count=6&min=2&max=5", http.StatusOK, "overfull"},
		{"count=3&min=5&max=2", http.StatusBadRequest, ""},
		{"count=x&min=2&max=5", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			rec, env := api.do(t, http.MethodGet, "/api/v1/groups/status?"+tc.query, nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.want != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(env.Data, &body))
				assert.Equal(t, tc.want, body["status"])
			}
		})
	}
}

func TestGroupRoster(t *testing.T) {
	api := newTestAPI(t)

	rec, env := api.do(t, http.MethodPost, "/api/v1/groups/g1/roster",
		map[string]any{"add": []string{"c", "a"}, "remove": []string{"b"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got rosterResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, []string{"c"}, got.Added)
	assert.Equal(t, []string{"b"}, got.Removed)
	assert.ElementsMatch(t, []string{"a", "c"}, got.Group.Students)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/groups/g1/roster", map[string]any{"toggle": "explode"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/groups/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupPromotion_PreviewAndCommit(t *testing.T) {
	api := newTestAPI(t)
	api.student(t, "a", 100, 10)
	api.student(t, "b", 100, 4)

	rec, env := api.do(t, http.MethodGet, "/api/v1/groups/g1/promotion/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview saga.Preview
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	assert.False(t, preview.AllReady)
	require.Len(t, preview.Ready, 1)
	assert.Equal(t, "a", preview.Ready[0].StudentID)
	require.Len(t, preview.NotReady, 1)
	assert.Equal(t, saga.ReasonInsufficientProgress, preview.NotReady[0].Reason)

	// Без явного выбора при неполной готовности требуется подтверждение.
	rec, env = api.do(t, http.MethodPost, "/api/v1/groups/g1/promotion/commit",
		map[string]any{"token": "t-1", "actor_id": "admin"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, string(shared.CodeConfirmationRequired), env.Error.Code)

	body := map[string]any{"token": "t-2", "actor_id": "admin", "student_ids": []string{"a"}}
	rec, env = api.do(t, http.MethodPost, "/api/v1/groups/g1/promotion/commit", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var outcome saga.Outcome
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.Equal(t, []string{"a"}, outcome.Promoted)
	assert.False(t, outcome.Replayed)

	rec, env = api.do(t, http.MethodPost, "/api/v1/groups/g1/promotion/commit", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &outcome))
	assert.True(t, outcome.Replayed)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/groups/g1/promotion/commit", map[string]any{"actor_id": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.student(t, "a", 100, 10)
	api.do(t, http.MethodPost, "/api/v1/students/a/subscriptions/go/promote", nil)

	rec, _ := api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "backoffice_promotion_operations_total")
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")

	rec, env := api.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ROUTE_NOT_FOUND", env.Error.Code)

	rec, _ = api.do(t, http.MethodDelete, "/api/v1/groups/g1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{})
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
