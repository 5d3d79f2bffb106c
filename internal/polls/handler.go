package polls

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classpoll/backend/pkg/response"
)

// Handler handles poll history endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// ListByTeacher handles GET /polls/:teacherUsername.
func (h *Handler) ListByTeacher(c *gin.Context) {
	username := strings.TrimSpace(c.Param("teacherUsername"))
	if username == "" {
		response.BadRequest(c, "Teacher username is required")
		return
	}

	list, err := h.service.ListPolls(c.Request.Context(), username)
	if errors.Is(err, ErrTeacherNotFound) {
		response.NotFound(c, ErrTeacherNotFound.Error())
		return
	}
	if err != nil {
		h.logger.Error("fetch poll history", zap.String("teacher", username), zap.Error(err))
		response.InternalDetails(c, "Failed to fetch polls", err)
		return
	}

	h.logger.Info("poll history", zap.String("teacher", username), zap.Int("count", len(list)))
	response.OK(c, list)
}
