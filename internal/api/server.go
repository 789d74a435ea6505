package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"cmelive/internal/access"
	"cmelive/internal/auth"
	"cmelive/internal/room"
	"cmelive/pkg/interfaces"
	"cmelive/pkg/types"
)

// userKey is the gin context key holding the verified user.
const userKey = "user"

// HealthChecker reports whether the persistent store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server exposes the REST surface: account registration and login, course
// management, and the administrative room snapshot. The WebSocket endpoint
// is mounted on the same router.
type Server struct {
	router   *gin.Engine
	users    interfaces.UserStore
	courses  interfaces.CourseStore
	verifier *auth.Verifier
	registry *room.Registry
	health   HealthChecker
}

// NewServer builds the router. wsHandler serves the real-time endpoint; it
// performs its own credential check before upgrading.
func NewServer(
	users interfaces.UserStore,
	courses interfaces.CourseStore,
	verifier *auth.Verifier,
	registry *room.Registry,
	health HealthChecker,
	wsHandler http.HandlerFunc,
) *Server {
	s := &Server{
		router:   gin.New(),
		users:    users,
		courses:  courses,
		verifier: verifier,
		registry: registry,
		health:   health,
	}

	s.router.Use(gin.Logger(), gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", gin.WrapF(wsHandler))

	authGroup := s.router.Group("/api/auth")
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
	}

	courseGroup := s.router.Group("/api/courses")
	courseGroup.Use(s.requireAuth())
	{
		courseGroup.GET("", s.handleListCourses)
		courseGroup.POST("", s.handleCreateCourse)
		courseGroup.GET("/:id", s.handleGetCourse)
		courseGroup.POST("/:id/register", s.handleRegisterForCourse)
	}

	adminGroup := s.router.Group("/api/rooms")
	adminGroup.Use(s.requireAuth(), s.requireElevated())
	{
		adminGroup.GET("", s.handleListRooms)
	}

	return s
}

// Handler returns the assembled router for the HTTP server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requireAuth verifies the bearer token and stores the resolved user on the
// request context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		user, err := s.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// requireElevated rejects users without system-wide administrative
// privilege. Must run after requireAuth.
func (s *Server) requireElevated() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !access.IsElevated(currentUser(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient privileges"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *types.User {
	return c.MustGet(userKey).(*types.User)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	overall := "healthy"
	dbStatus := "ok"
	if err := s.health.HealthCheck(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		overall = "degraded"
		dbStatus = err.Error()
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"database": dbStatus,
		"rooms":    s.registry.Stats(),
	})
}
