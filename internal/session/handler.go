package session

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classpoll/backend/pkg/response"
)

// Handler exposes room state over HTTP, e.g. for a teacher dashboard reload.
type Handler struct {
	coord  *Coordinator
	logger *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(coord *Coordinator, logger *zap.Logger) *Handler {
	return &Handler{coord: coord, logger: logger}
}

// GetRoom handles GET /rooms/:room.
func (h *Handler) GetRoom(c *gin.Context) {
	state, err := h.coord.Snapshot(c.Request.Context(), c.Param("room"))
	if err != nil {
		h.logger.Error("room snapshot", zap.String("room", c.Param("room")), zap.Error(err))
		response.Internal(c, "Failed to read room state")
		return
	}
	response.OK(c, state)
}
