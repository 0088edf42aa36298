package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"care-sync/internal/broadcast"
	"care-sync/internal/models"
)

// UpdatePublisher fans a committed change out to the user's connections.
type UpdatePublisher interface {
	Publish(ctx context.Context, ev models.UpdateEvent) (int, error)
}

// UpdatesHandler lets services in the same deployment publish change notices
// after their write committed.
type UpdatesHandler struct {
	bus UpdatePublisher
}

func NewUpdatesHandler(bus UpdatePublisher) *UpdatesHandler {
	return &UpdatesHandler{bus: bus}
}

func (h *UpdatesHandler) Publish(c *gin.Context) {
	var ev models.UpdateEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delivered, err := h.bus.Publish(c.Request.Context(), ev)
	if err != nil {
		if broadcast.IsInvalid(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("update publish failed: request_id=%s err=%v", requestIDFromContext(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish update"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"delivered": delivered})
}
