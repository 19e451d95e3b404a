package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quizdeck/proctor-gateway/internal/middleware"
	"github.com/quizdeck/proctor-gateway/internal/model"
	"github.com/quizdeck/proctor-gateway/internal/response"
	"github.com/quizdeck/proctor-gateway/internal/service"
	"github.com/quizdeck/proctor-gateway/internal/session"
	"github.com/quizdeck/proctor-gateway/internal/validator"
)

// SessionHandler handles the REST test-taking endpoints.
type SessionHandler struct {
	sessionService *service.SessionService
	tokenService   *service.TokenService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, tokenService *service.TokenService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		tokenService:   tokenService,
	}
}

// StartSession godoc
// POST /api/v1/sessions
// Starts (or resumes) a proctored session. The Authorization header carries
// the upstream bearer credential; the response carries the gateway session
// token used for everything after this.
func (h *SessionHandler) StartSession(c *gin.Context) {
	bearer := middleware.BearerToken(c)
	if bearer == "" {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	live, err := h.sessionService.StartSession(c.Request.Context(), bearer, req)
	if err != nil {
		response.FailWithDetail(c, http.StatusBadGateway, response.ErrUpstreamUnreached, err.Error())
		return
	}

	token, err := h.tokenService.IssueSessionToken(live.ID, live.Username)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"session_token": token,
		"state":         h.sessionService.View(live),
	})
}

// GetState godoc
// GET /api/v1/sessions/current
// Returns the full display state for the caller's session.
func (h *SessionHandler) GetState(c *gin.Context) {
	live, ok := h.resolveSession(c)
	if !ok {
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": h.sessionService.View(live)})
}

// GetAutosave godoc
// GET /api/v1/sessions/current/autosave
// Returns the autosaved tentative answers, keyed by question index. Used by
// a reconnecting page to restore unsubmitted picks.
func (h *SessionHandler) GetAutosave(c *gin.Context) {
	live, ok := h.resolveSession(c)
	if !ok {
		return
	}

	answers, err := h.sessionService.ResumeAnswers(c.Request.Context(), live.ID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answers": answers})
}

// SelectOption godoc
// POST /api/v1/sessions/current/select
// Writes a tentative answer for one question.
func (h *SessionHandler) SelectOption(c *gin.Context) {
	live, ok := h.resolveSession(c)
	if !ok {
		return
	}

	var req model.SelectOptionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := live.Engine.SelectOption(req.QuestionIndex, req.Option); err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": h.sessionService.View(live)})
}

// SubmitAnswer godoc
// POST /api/v1/sessions/current/answers
// Confirms the tentative answer for one question upstream.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	live, ok := h.resolveSession(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := live.Engine.SubmitAnswer(c.Request.Context(), req.QuestionIndex); err != nil {
		failEngine(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": h.sessionService.View(live)})
}

// SubmitAttempt godoc
// POST /api/v1/sessions/current/submit
// Submits the whole attempt. Safe to call repeatedly; only the first trigger
// reaches the upstream.
func (h *SessionHandler) SubmitAttempt(c *gin.Context) {
	live, ok := h.resolveSession(c)
	if !ok {
		return
	}

	live.Engine.SubmitAttempt(c.Request.Context(), session.ReasonUserSubmit)

	response.Success(c, http.StatusOK, gin.H{"state": h.sessionService.View(live)})
}

// ReportViolation godoc
// POST /api/v1/sessions/current/violations
// Reports one observed proctoring violation from the page.
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	live, ok := h.resolveSession(c)
	if !ok {
		return
	}

	var req model.ViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if live.Engine.Ended() {
		failEngine(c, session.ErrSessionEnded)
		return
	}

	live.Monitor.Report(c.Request.Context(), req.Kind, req.Detail)

	response.Success(c, http.StatusOK, gin.H{"state": h.sessionService.View(live)})
}

// resolveSession maps the validated token claims to a live session. A miss
// after a gateway restart reads as session-not-found; the page restarts via
// StartSession, which resumes the attempt upstream.
func (h *SessionHandler) resolveSession(c *gin.Context) (*service.LiveSession, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}

	live, err := h.sessionService.Get(claims.SessionID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return nil, false
	}
	return live, true
}

func failEngine(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionEnded):
		response.Fail(c, http.StatusConflict, response.ErrSessionEnded)
	case errors.Is(err, session.ErrIndexOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrIndexOutOfRange)
	case errors.Is(err, session.ErrNotInitialized):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotFound)
	default:
		response.FailWithDetail(c, http.StatusBadGateway, response.ErrUpstreamRejected, err.Error())
	}
}
