package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/services"
)

type GenerationHandler struct {
	log           *logger.Logger
	genService    services.GenerationService
	statusService services.GenerationStatusService
}

func NewGenerationHandler(log *logger.Logger, genService services.GenerationService, statusService services.GenerationStatusService) *GenerationHandler {
	return &GenerationHandler{
		log:           log.With("handler", "GenerationHandler"),
		genService:    genService,
		statusService: statusService,
	}
}

// Start POST /api/categories/:categoryID/generations
func (h *GenerationHandler) Start(c *gin.Context) {
	categoryID, err := uuid.Parse(c.Param("categoryID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_category_id", err)
		return
	}

	var req services.StartGenerationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	req.CategoryID = categoryID

	gen, err := h.genService.Start(c.Request.Context(), req)
	if err != nil {
		h.log.Error("Start generation failed", "category_id", categoryID, "error", err)
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"generation": gen})
}

// Status GET /api/generations/:generationID/status
func (h *GenerationHandler) Status(c *gin.Context) {
	generationID, err := uuid.Parse(c.Param("generationID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_generation_id", err)
		return
	}
	status, err := h.statusService.GetStatus(c.Request.Context(), generationID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, status)
}

// Latest GET /api/categories/:categoryID/generations/latest
func (h *GenerationHandler) Latest(c *gin.Context) {
	categoryID, err := uuid.Parse(c.Param("categoryID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_category_id", err)
		return
	}
	status, err := h.statusService.GetLatestForCategory(c.Request.Context(), categoryID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, status)
}

// Apply POST /api/generations/:generationID/apply
func (h *GenerationHandler) Apply(c *gin.Context) {
	generationID, err := uuid.Parse(c.Param("generationID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_generation_id", err)
		return
	}
	gen, err := h.genService.Apply(c.Request.Context(), generationID)
	if err != nil {
		h.log.Error("Apply generation failed", "generation_id", generationID, "error", err)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"generation": gen})
}
