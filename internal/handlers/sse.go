package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/surveyforge/codeframe-backend/internal/logger"
	"github.com/surveyforge/codeframe-backend/internal/sse"
)

type SSEHandler struct {
	log *logger.Logger
	hub *sse.SSEHub
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{
		log: log.With("handler", "SSEHandler"),
		hub: hub,
	}
}

// Stream GET /api/generations/:generationID/events
//
// Streams progress events for one generation until the client disconnects.
func (h *SSEHandler) Stream(c *gin.Context) {
	generationID, err := uuid.Parse(c.Param("generationID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_generation_id", err)
		return
	}

	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, sse.GenerationChannel(generationID))
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
