// Package api exposes the batch orchestrator over HTTP: the batch
// submission endpoint, the session-cookie login endpoint the auth
// broker's client authenticates against, and a health check.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/naddot/tyrerec/pkg/database"
	"github.com/naddot/tyrerec/pkg/orchestrator"
	"github.com/naddot/tyrerec/pkg/types"
)

// Orchestrator is the subset of the Batch Orchestrator the HTTP layer
// depends on. RunOnce serves requests marked as the global retry pass of
// an already-running batch (orchestrator.RetryPassHeader), which must not
// start a retry pass of their own.
type Orchestrator interface {
	Run(ctx context.Context, runID string, cams []types.CAM, params types.RunParams) (orchestrator.Result, error)
	RunOnce(ctx context.Context, runID string, cams []types.CAM, params types.RunParams) (orchestrator.Result, error)
}

// SessionAuthenticator validates the service password for POST /login and
// issues the session cookie.
type SessionAuthenticator interface {
	Authenticate(password string) bool
}

// ArtifactFlusher persists a completed run's CSV and manifest artifacts.
type ArtifactFlusher interface {
	Flush(runID string, recs []types.Recommendation, u types.Usage) error
}

// Server wires the Batch Orchestrator and session auth into a gin router.
type Server struct {
	orchestrator Orchestrator
	auth         SessionAuthenticator
	db           *sql.DB
	cookieName   string
	artifacts    ArtifactFlusher

	requireSessionCookie bool
}

// NewServer builds a Server. auth may be nil, in which case POST /login
// always succeeds (local/no-auth mode). requireSessionCookie toggles
// whether the batch endpoint 401s without a session cookie; local/no-auth
// deployments pass false.
func NewServer(orchestrator Orchestrator, auth SessionAuthenticator, db *sql.DB, requireSessionCookie bool) *Server {
	return &Server{orchestrator: orchestrator, auth: auth, db: db, cookieName: "session", requireSessionCookie: requireSessionCookie}
}

// WithArtifacts enables best-effort artifact flushing after each completed
// (non-retry-pass) batch run.
func (s *Server) WithArtifacts(f ArtifactFlusher) *Server {
	s.artifacts = f
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/health", s.Health)
	r.POST("/login", s.Login)
	r.POST("/api/recommendations/batch", s.requireSession(), s.SubmitBatch)
	return r
}

// requireSession enforces the session-cookie requirement on the batch
// endpoint: absence yields 401.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.requireSessionCookie {
			c.Next()
			return
		}
		if _, err := c.Cookie(s.cookieName); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session cookie required"})
			return
		}
		c.Next()
	}
}

// Health handles GET /health, reporting database reachability and
// connection-pool statistics.
func (s *Server) Health(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := database.Health(ctx, s.db)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// LoginRequest is POST /login's body.
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login handles POST /login: validates the service password and, on
// success, sets the session cookie the batch client is expected to carry
// on subsequent calls.
func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.auth != nil && !s.auth.Authenticate(req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	c.SetCookie(s.cookieName, "ok", int((24 * time.Hour).Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
