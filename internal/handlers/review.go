package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/services"
)

type ReviewHandler struct {
	log           *logger.Logger
	reviewService services.NodeReviewService
}

func NewReviewHandler(log *logger.Logger, reviewService services.NodeReviewService) *ReviewHandler {
	return &ReviewHandler{
		log:           log.With("handler", "ReviewHandler"),
		reviewService: reviewService,
	}
}

type approvalRequest struct {
	Status     string     `json:"status" binding:"required"`
	ReviewerID *uuid.UUID `json:"reviewer_id,omitempty"`
}

// SetApproval POST /api/nodes/:nodeID/review
func (h *ReviewHandler) SetApproval(c *gin.Context) {
	nodeID, err := uuid.Parse(c.Param("nodeID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	node, err := h.reviewService.SetApproval(c.Request.Context(), nodeID, req.Status, req.ReviewerID)
	if err != nil {
		h.log.Error("SetApproval failed", "node_id", nodeID, "error", err)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"node": node})
}

type editRequest struct {
	services.NodeEdit
	EditorID *uuid.UUID `json:"editor_id,omitempty"`
}

// Edit PATCH /api/nodes/:nodeID
func (h *ReviewHandler) Edit(c *gin.Context) {
	nodeID, err := uuid.Parse(c.Param("nodeID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_node_id", err)
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	node, err := h.reviewService.Edit(c.Request.Context(), nodeID, req.NodeEdit, req.EditorID)
	if err != nil {
		h.log.Error("Edit node failed", "node_id", nodeID, "error", err)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"node": node})
}
