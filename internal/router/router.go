// Package router wires HTTP and WebSocket routes.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/auth"
	"github.com/classpoll/backend/internal/middleware"
	"github.com/classpoll/backend/internal/polls"
	"github.com/classpoll/backend/internal/realtime"
	"github.com/classpoll/backend/internal/session"
)

// LivenessText is the body of GET /.
const LivenessText = "Live Polling Backend is running"

// Deps are the handlers and services the routes need.
type Deps struct {
	Logger      *zap.Logger
	CORSOrigins string
	Auth        *auth.Handler
	Polls       *polls.Handler
	Sessions    *session.Handler
	Hub         *realtime.Hub
	Coordinator *session.Coordinator
	SendBuffer  int
}

// New builds the gin engine.
func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(d.CORSOrigins))
	r.Use(middleware.Logger(d.Logger))

	// Liveness
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, LivenessText) })

	// Teacher login (no credentials) and poll history
	r.POST("/teacher-login", d.Auth.TeacherLogin)
	r.GET("/polls/:teacherUsername", d.Polls.ListByTeacher)

	// Live room state
	r.GET("/rooms/:room", d.Sessions.GetRoom)

	// WebSocket (room in query)
	r.GET("/ws", realtime.ServeWs(d.Hub, d.Coordinator, d.Logger, d.SendBuffer))

	return r
}
