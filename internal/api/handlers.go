package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/service"
)

type clinicianRequest struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	DisplayName string `json:"display_name"`
	Active      *bool  `json:"active"`
}

type openReviewRequest struct {
	AssessmentID string `json:"assessment_id"`
	ReviewerID   string `json:"reviewer_id"`
}

// verdictRequest carries a raw integer so out-of-range values are rejected
// before they reach the int8 Verdict type.
type verdictRequest struct {
	Verdict    *int   `json:"verdict"`
	ReviewerID string `json:"reviewer_id"`
}

func (r verdictRequest) parse() (*domain.Verdict, error) {
	if r.Verdict == nil {
		return nil, nil
	}
	v, err := domain.ParseVerdict(*r.Verdict)
	if err != nil {
		return nil, domain.NewValidationError("verdict must be -1, 0 or 1", "verdict")
	}
	return &v, nil
}

// handleIntake validates and stores a submission, optionally attributed to a
// referring clinician by slug.
func (s *Server) handleIntake(c *gin.Context) {
	var submission domain.IntakeSubmission
	if err := c.ShouldBindJSON(&submission); err != nil {
		s.respondInvalidInput(c, err)
		return
	}

	result, err := s.deps.Intake.Submit(c.Request.Context(), submission, c.Param("slug"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleSaveClinician(c *gin.Context) {
	if s.deps.Clinicians == nil {
		c.JSON(http.StatusNotImplemented, domain.NewAPIError(domain.ErrCodeInvalidInput, "clinician registry not configured", "", ""))
		return
	}

	var req clinicianRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalidInput(c, err)
		return
	}

	var missing []string
	if strings.TrimSpace(req.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(req.Slug) == "" {
		missing = append(missing, "slug")
	}
	if len(missing) > 0 {
		s.respondError(c, domain.NewValidationError("missing required fields", missing...))
		return
	}

	clinician := &domain.Clinician{
		ID:          strings.TrimSpace(req.ID),
		Slug:        strings.TrimSpace(req.Slug),
		DisplayName: req.DisplayName,
		Active:      req.Active == nil || *req.Active,
	}
	if err := s.deps.Clinicians.SaveClinician(c.Request.Context(), clinician); err != nil {
		s.respondError(c, err)
		return
	}
	if s.deps.Directory != nil {
		s.deps.Directory.Forget(clinician.Slug)
	}
	c.JSON(http.StatusOK, clinician)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.deps.Router.ListOpenTasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clinician_id": c.Param("id"), "tasks": tasks})
}

func (s *Server) handleRouteTask(c *gin.Context) {
	var req service.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalidInput(c, err)
		return
	}

	result, err := s.deps.Router.Route(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.deps.Router.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCompleteTask(c *gin.Context) {
	task, err := s.deps.Router.CompleteTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleOpenReview(c *gin.Context) {
	var req openReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalidInput(c, err)
		return
	}

	record, err := s.deps.Engine.OpenReview(c.Request.Context(), req.AssessmentID, req.ReviewerID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, service.NewReviewStatusView(record))
}

func (s *Server) handleGetReview(c *gin.Context) {
	status, err := s.deps.Engine.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleCastVote records a draft verdict. Voting on a sealed record succeeds
// and returns the sealed state unchanged.
func (s *Server) handleCastVote(c *gin.Context) {
	var req verdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondInvalidInput(c, err)
		return
	}
	verdict, err := req.parse()
	if err != nil {
		s.respondError(c, err)
		return
	}
	if verdict == nil {
		s.respondError(c, domain.NewValidationError("verdict is required", "verdict"))
		return
	}

	status, err := s.deps.Engine.CastVote(c.Request.Context(), c.Param("id"), *verdict, req.ReviewerID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleSubmitVerdict seals the record. The body is optional; without a
// verdict the last cast draft is sealed.
func (s *Server) handleSubmitVerdict(c *gin.Context) {
	var req verdictRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondInvalidInput(c, err)
		return
	}
	verdict, err := req.parse()
	if err != nil {
		s.respondError(c, err)
		return
	}

	status, err := s.deps.Engine.Submit(c.Request.Context(), c.Param("id"), verdict, req.ReviewerID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleAuditTrail(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(c, domain.NewValidationError("limit must be a non-negative integer", "limit"))
			return
		}
		limit = n
	}

	entries, err := s.deps.Engine.AuditTrail(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record_id": c.Param("id"), "entries": entries})
}
