package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prepline/examd/internal/middleware"
	"github.com/prepline/examd/internal/model"
	"github.com/prepline/examd/internal/response"
	"github.com/prepline/examd/internal/service"
	"github.com/prepline/examd/internal/validator"
)

// AttemptHandler handles the attempt lifecycle endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
	coordinator    *service.SubmissionCoordinator
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, coordinator *service.SubmissionCoordinator) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		coordinator:    coordinator,
	}
}

// failFromService maps service errors onto API error codes. Session conflicts
// additionally carry whether an immediate takeover would succeed.
func (h *AttemptHandler) failFromService(c *gin.Context, attemptID uuid.UUID, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrPaperNotAvailable):
		response.Fail(c, http.StatusBadRequest, response.ErrPaperNotAvailable)
	case errors.Is(err, service.ErrAttemptLimitReached):
		response.Fail(c, http.StatusForbidden, response.ErrAttemptLimit)
	case errors.Is(err, service.ErrAttemptNotActive):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotActive)
	case errors.Is(err, service.ErrAttemptNotScored):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotScored)
	case errors.Is(err, service.ErrSessionTokenMissing):
		response.Fail(c, http.StatusBadRequest, response.ErrSessionTokenMissing)
	case errors.Is(err, service.ErrSessionConflict):
		canForceResume := h.attemptService.ConflictHint(c.Request.Context(), attemptID)
		response.FailConflict(c, http.StatusConflict, response.ErrSessionConflict, canForceResume)
	case errors.Is(err, service.ErrForceResumeStale):
		response.Fail(c, http.StatusConflict, response.ErrForceResumeStale)
	case errors.Is(err, service.ErrSectionLocked):
		response.Fail(c, http.StatusConflict, response.ErrSectionLocked)
	case errors.Is(err, service.ErrInvalidQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidQuestion)
	case errors.Is(err, service.ErrPauseNotAllowed):
		response.Fail(c, http.StatusBadRequest, response.ErrPauseNotAllowed)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func attemptIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// History godoc
// GET /api/v1/attempts
func (h *AttemptHandler) History(c *gin.Context) {
	userID := middleware.GetUserID(c)

	attempts, err := h.attemptService.History(c.Request.Context(), userID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// Start godoc
// POST /api/v1/attempts
// Creates an attempt or resumes the caller's live attempt for the same
// paper/mode/section (idempotent). Returns the attempt and a session token.
func (h *AttemptHandler) Start(c *gin.Context) {
	userID := middleware.GetUserID(c)

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.Start(c.Request.Context(), userID, req)
	if err != nil {
		h.failFromService(c, uuid.Nil, err)
		return
	}

	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, result)
}

// State godoc
// GET /api/v1/attempts/:attempt_id
// Returns the reload snapshot: attempt, recomputed timers, responses.
func (h *AttemptHandler) State(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), userID, attemptID)
	if err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// IssueSession godoc
// POST /api/v1/attempts/:attempt_id/session
// Mints a fresh session token, invalidating any other open tab.
func (h *AttemptHandler) IssueSession(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	result, err := h.attemptService.IssueSession(c.Request.Context(), userID, attemptID)
	if err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ForceResume godoc
// POST /api/v1/attempts/:attempt_id/force-resume
// Takes over a conflicted attempt; refused while the holder is still live.
func (h *AttemptHandler) ForceResume(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.ForceResumeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.ForceResume(c.Request.Context(), userID, attemptID, req.NewSessionToken)
	if err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt, "session_token": req.NewSessionToken})
}

// SaveResponse godoc
// POST /api/v1/attempts/:attempt_id/responses
func (h *AttemptHandler) SaveResponse(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.SaveResponseRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.SaveResponse(c.Request.Context(), userID, attemptID, req); err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"saved": 1})
}

// SaveBatch godoc
// POST /api/v1/attempts/:attempt_id/responses/batch
func (h *AttemptHandler) SaveBatch(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.SaveBatchRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	saved, err := h.attemptService.SaveBatch(c.Request.Context(), userID, attemptID, req)
	if err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"saved": saved})
}

// Progress godoc
// POST /api/v1/attempts/:attempt_id/progress
// Timer checkpoint. The server's recomputed values win; the client's report
// can only lower the clock.
func (h *AttemptHandler) Progress(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.ProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.Progress(c.Request.Context(), userID, attemptID, req)
	if err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Pause godoc
// POST /api/v1/attempts/:attempt_id/pause
func (h *AttemptHandler) Pause(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.PauseRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attemptService.Pause(c.Request.Context(), userID, attemptID, req)
	if err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// Submit godoc
// POST /api/v1/attempts/:attempt_id/submit
// Finalizes and scores the attempt. Idempotent: retries get the stored
// result back.
func (h *AttemptHandler) Submit(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.coordinator.Submit(c.Request.Context(), userID, attemptID, req)
	if err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Result godoc
// GET /api/v1/attempts/:attempt_id/result
func (h *AttemptHandler) Result(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	result, err := h.coordinator.Result(c.Request.Context(), userID, attemptID)
	if err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// SetNote godoc
// PUT /api/v1/attempts/:attempt_id/responses/:question_id/note
// Attaches a review note to one response. Works on finished attempts.
func (h *AttemptHandler) SetNote(c *gin.Context) {
	userID := middleware.GetUserID(c)
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}
	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ResultNoteRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.SetNote(c.Request.Context(), userID, attemptID, questionID, req.Note); err != nil {
		h.failFromService(c, attemptID, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}
