package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alem-hub/alem-backoffice/internal/application/command"
	"github.com/alem-hub/alem-backoffice/internal/application/query"
	"github.com/alem-hub/alem-backoffice/internal/application/saga"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

type promoteRequest struct {
	ActorID    string `json:"actor_id" validate:"omitempty,max=128"`
	ApprovedBy string `json:"approved_by" validate:"omitempty,max=128"`

	// ExpectedLevel guards against promoting twice from a stale screen.
	ExpectedLevel int `json:"expected_level" validate:"gte=0"`
}

type actorRequest struct {
	ActorID string `json:"actor_id" validate:"required,max=128"`
}

type rosterRequest struct {
	Add    []string `json:"add" validate:"dive,required,max=128"`
	Remove []string `json:"remove" validate:"dive,required,max=128"`
	Toggle string   `json:"toggle" validate:"omitempty,oneof=activate deactivate"`
}

type commitRequest struct {
	Token        string   `json:"token" validate:"required,max=128"`
	StudentIDs   []string `json:"student_ids" validate:"dive,required,max=128"`
	AdvanceGroup bool     `json:"advance_group"`
	ActorID      string   `json:"actor_id" validate:"required,max=128"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE BODIES
// ══════════════════════════════════════════════════════════════════════════════

type promoteResponse struct {
	Record       query.PromotionDTO     `json:"record"`
	Eligibility  command.Eligibility    `json:"eligibility"`
	Subscription *query.SubscriptionDTO `json:"subscription"`
}

type demoteResponse struct {
	FromLevel    int                    `json:"from_level"`
	ToLevel      int                    `json:"to_level"`
	Subscription *query.SubscriptionDTO `json:"subscription"`
}

type resetResponse struct {
	PreviousLevel int                    `json:"previous_level"`
	Subscription  *query.SubscriptionDTO `json:"subscription"`
}

type rosterResponse struct {
	Added   []string        `json:"added"`
	Removed []string        `json:"removed"`
	Group   *query.GroupDTO `json:"group"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS & SUBSCRIPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// handleLevelCompletion handles GET /api/v1/curricula/{curriculumID}/levels/{level}/completion?student_id=
func (s *Server) handleLevelCompletion(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		s.writeError(w, r, &requestError{msg: "level must be an integer"})
		return
	}

	dto, err := s.deps.LevelCompletion.Handle(r.Context(), query.GetLevelCompletionQuery{
		StudentID:    r.URL.Query().Get("student_id"),
		CurriculumID: chi.URLParam(r, "curriculumID"),
		Level:        level,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleGetSubscription handles GET /api/v1/students/{studentID}/subscriptions/{curriculumID}
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetSubscription.Handle(r.Context(), query.GetSubscriptionQuery{
		StudentID:    chi.URLParam(r, "studentID"),
		CurriculumID: chi.URLParam(r, "curriculumID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handlePromote handles POST .../subscriptions/{curriculumID}/promote
func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := decodeJSON(w, r, s.config.MaxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	actor := req.ActorID
	if actor == "" {
		actor = req.ApprovedBy
	}
	res, err := s.deps.PromoteStudent.Handle(r.Context(), command.PromoteStudentCommand{
		StudentID:     chi.URLParam(r, "studentID"),
		CurriculumID:  chi.URLParam(r, "curriculumID"),
		ActorID:       actor,
		ApprovedBy:    req.ApprovedBy,
		ExpectedLevel: req.ExpectedLevel,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, promoteResponse{
		Record:       query.ToPromotionDTO(res.Record),
		Eligibility:  res.Eligibility,
		Subscription: query.ToSubscriptionDTO(res.Subscription),
	})
}

// handleDemote handles POST .../subscriptions/{curriculumID}/demote
func (s *Server) handleDemote(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(w, r, s.config.MaxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.DemoteStudent.Handle(r.Context(), command.DemoteStudentCommand{
		StudentID:     chi.URLParam(r, "studentID"),
		CurriculumID:  chi.URLParam(r, "curriculumID"),
		ActorID:       req.ActorID,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, demoteResponse{
		FromLevel:    res.FromLevel,
		ToLevel:      res.ToLevel,
		Subscription: query.ToSubscriptionDTO(res.Subscription),
	})
}

// handleReset handles POST .../subscriptions/{curriculumID}/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(w, r, s.config.MaxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.ResetProgress.Handle(r.Context(), command.ResetStudentProgressCommand{
		StudentID:     chi.URLParam(r, "studentID"),
		CurriculumID:  chi.URLParam(r, "curriculumID"),
		ActorID:       req.ActorID,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, resetResponse{
		PreviousLevel: res.PreviousLevel,
		Subscription:  query.ToSubscriptionDTO(res.Subscription),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUPS
// ══════════════════════════════════════════════════════════════════════════════

// handleDetermineGroupStatus handles GET /api/v1/groups/status?count=&min=&max=
func (s *Server) handleDetermineGroupStatus(w http.ResponseWriter, r *http.Request) {
	var q query.DetermineGroupStatusQuery
	for _, p := range []struct {
		name string
		dst  *int
	}{{"count", &q.Count}, {"min", &q.MinSize}, {"max", &q.MaxSize}} {
		v, err := strconv.Atoi(r.URL.Query().Get(p.name))
		if err != nil {
			s.writeError(w, r, &requestError{msg: p.name + " must be an integer"})
			return
		}
		*p.dst = v
	}

	status, err := query.DetermineGroupStatus(q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": string(status)})
}

// handleGetGroup handles GET /api/v1/groups/{groupID}
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetGroup.Handle(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleUpdateRoster handles POST /api/v1/groups/{groupID}/roster
func (s *Server) handleUpdateRoster(w http.ResponseWriter, r *http.Request) {
	var req rosterRequest
	if err := decodeJSON(w, r, s.config.MaxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.UpdateRoster.Handle(r.Context(), command.UpdateGroupRosterCommand{
		GroupID:       chi.URLParam(r, "groupID"),
		Add:           req.Add,
		Remove:        req.Remove,
		Toggle:        command.Toggle(req.Toggle),
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, rosterResponse{
		Added:   res.Added,
		Removed: res.Removed,
		Group:   query.ToGroupDTO(res.Group),
	})
}

// handlePreviewGroupPromotion handles GET /api/v1/groups/{groupID}/promotion/preview
func (s *Server) handlePreviewGroupPromotion(w http.ResponseWriter, r *http.Request) {
	preview, err := s.deps.GroupPromotion.Preview(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, preview)
}

// handleCommitGroupPromotion handles POST /api/v1/groups/{groupID}/promotion/commit
func (s *Server) handleCommitGroupPromotion(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(w, r, s.config.MaxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	outcome, err := s.deps.GroupPromotion.Commit(r.Context(), saga.CommitInput{
		Token:         req.Token,
		GroupID:       chi.URLParam(r, "groupID"),
		StudentIDs:    req.StudentIDs,
		AdvanceGroup:  req.AdvanceGroup,
		ActorID:       req.ActorID,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, outcome)
}
