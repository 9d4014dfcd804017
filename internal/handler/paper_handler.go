package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prepline/examd/internal/model"
	"github.com/prepline/examd/internal/response"
	"github.com/prepline/examd/internal/service"
)

// PaperHandler serves the paper catalog.
type PaperHandler struct {
	paperService *service.PaperService
}

// NewPaperHandler creates a new PaperHandler.
func NewPaperHandler(paperService *service.PaperService) *PaperHandler {
	return &PaperHandler{paperService: paperService}
}

// List godoc
// GET /api/v1/papers
func (h *PaperHandler) List(c *gin.Context) {
	papers, err := h.paperService.List(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if papers == nil {
		papers = []model.Paper{}
	}
	response.Success(c, http.StatusOK, gin.H{"papers": papers})
}

// Get godoc
// GET /api/v1/papers/:paper_id
// Returns the renderable payload: paper plus answer-key-free questions.
func (h *PaperHandler) Get(c *gin.Context) {
	paperID, err := uuid.Parse(c.Param("paper_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	payload, err := h.paperService.GetPayload(c.Request.Context(), paperID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrPaperNotAvailable):
			response.Fail(c, http.StatusNotFound, response.ErrPaperNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}
	response.Success(c, http.StatusOK, payload)
}
