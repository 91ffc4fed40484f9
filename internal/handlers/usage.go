package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/services"
)

type UsageHandler struct {
	log    *logger.Logger
	ledger services.UsageLedger
}

func NewUsageHandler(log *logger.Logger, ledger services.UsageLedger) *UsageHandler {
	return &UsageHandler{
		log:    log.With("handler", "UsageHandler"),
		ledger: ledger,
	}
}

// Summary GET /api/usage/summary?group_by=feature|model|day&days=30
func (h *UsageHandler) Summary(c *gin.Context) {
	groupBy := c.DefaultQuery("group_by", "feature")
	switch groupBy {
	case "feature", "model", "day":
	default:
		RespondError(c, http.StatusBadRequest, "invalid_group_by", nil)
		return
	}

	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RespondError(c, http.StatusBadRequest, "invalid_days", err)
			return
		}
		days = parsed
	}
	since := time.Now().AddDate(0, 0, -days)

	rows, err := h.ledger.SummarizeBy(c.Request.Context(), groupBy, since)
	if err != nil {
		h.log.Error("Usage summary failed", "group_by", groupBy, "error", err)
		RespondError(c, http.StatusInternalServerError, "usage_summary_failed", err)
		return
	}
	RespondOK(c, gin.H{"group_by": groupBy, "since": since, "rows": rows})
}

// ForGeneration GET /api/generations/:generationID/usage
func (h *UsageHandler) ForGeneration(c *gin.Context) {
	generationID, err := uuid.Parse(c.Param("generationID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_generation_id", err)
		return
	}
	row, err := h.ledger.SumForGeneration(c.Request.Context(), generationID)
	if err != nil {
		h.log.Error("Usage for generation failed", "generation_id", generationID, "error", err)
		RespondError(c, http.StatusInternalServerError, "usage_lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"generation_id": generationID, "usage": row})
}
