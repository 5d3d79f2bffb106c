package auth

import (
	"errors"
	"fmt"
	"math/rand"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classpoll/backend/pkg/response"
)

// usernameAttempts bounds retries when a generated name collides.
const usernameAttempts = 5

// LoginResponse is the body returned by POST /teacher-login.
type LoginResponse struct {
	Status   string `json:"status"`
	Username string `json:"username"`
}

// Handler handles teacher login. There are no credentials: every login
// creates a fresh teacher identity.
type Handler struct {
	repo     *Repository
	logger   *zap.Logger
	generate func() string
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger, generate: RandomTeacherName}
}

// RandomTeacherName returns a name like "teacher4821".
func RandomTeacherName() string {
	return fmt.Sprintf("teacher%d", 1000+rand.Intn(9000))
}

// TeacherLogin handles POST /teacher-login.
func (h *Handler) TeacherLogin(c *gin.Context) {
	var lastErr error
	for i := 0; i < usernameAttempts; i++ {
		teacher, err := h.repo.Create(c.Request.Context(), h.generate())
		if err == nil {
			h.logger.Info("teacher logged in", zap.String("username", teacher.Username))
			c.JSON(http.StatusCreated, LoginResponse{Status: "success", Username: teacher.Username})
			return
		}
		lastErr = err
		if !errors.Is(err, ErrUsernameTaken) {
			break
		}
	}
	h.logger.Error("teacher login failed", zap.Error(lastErr))
	response.InternalDetails(c, "Login failed", lastErr)
}
