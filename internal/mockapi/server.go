// Package mockapi is an in-memory stand-in for the resume builder backend:
// JWT login with rotating refresh tokens, resume CRUD behind bearer auth and
// the activity log. It backs the client's integration tests and the
// cmd/mockapi development server.
package mockapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// SeedUser is an account created at startup.
type SeedUser struct {
	Email    string
	Password string
	Name     string
}

// Config configures a Server.
type Config struct {
	// Secret signs access tokens with HS256.
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Users      []SeedUser
	// BcryptCost defaults to bcrypt.MinCost to keep startup fast.
	BcryptCost int
}

// DefaultConfig returns a configuration with one demo account.
func DefaultConfig() Config {
	return Config{
		Secret:     "dev-secret-change-me",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Users: []SeedUser{
			{Email: "demo@example.com", Password: "demo-password", Name: "Demo User"},
		},
	}
}

// Stats counts calls of interest to tests.
type Stats struct {
	LoginCalls   int
	RefreshCalls int
	LogoutCalls  int
	Requests     map[string]int
}

type account struct {
	id           string
	email        string
	name         string
	passwordHash []byte
}

type refreshSession struct {
	userID    string
	expiresAt time.Time
}

type fault struct {
	status    int
	remaining int
}

// Server holds all backend state in memory. It is safe for concurrent use.
type Server struct {
	cfg    Config
	engine *gin.Engine
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
	sessions map[string]refreshSession
	resumes  map[string]*Resume
	activity []ActivityRecord
	faults   map[string]*fault
	stats    Stats
}

// NewServer seeds cfg.Users and builds the router.
func NewServer(cfg Config, logger zerolog.Logger) (*Server, error) {
	if cfg.Secret == "" {
		return nil, errors.New("mockapi: secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("mockapi: token lifetimes must be positive")
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.MinCost
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		accounts: make(map[string]*account),
		sessions: make(map[string]refreshSession),
		resumes:  make(map[string]*Resume),
		faults:   make(map[string]*fault),
		stats:    Stats{Requests: make(map[string]int)},
	}

	for i, u := range cfg.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("mockapi: hash password of %s: %w", u.Email, err)
		}
		email := strings.ToLower(u.Email)
		s.accounts[email] = &account{
			id:           fmt.Sprintf("user-%d", i+1),
			email:        email,
			name:         u.Name,
			passwordHash: hash,
		}
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger(), s.injectFaults())
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetClock replaces the clock used to issue and check tokens.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// FailNext makes the next times requests to path answer status.
func (s *Server) FailNext(path string, status, times int) {
	s.mu.Lock()
	s.faults[path] = &fault{status: status, remaining: times}
	s.mu.Unlock()
}

// Stats returns a copy of the call counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.Requests = make(map[string]int, len(s.stats.Requests))
	for k, v := range s.stats.Requests {
		out.Requests[k] = v
	}
	return out
}

// RevokeAll invalidates every refresh token, forcing clients to log in again.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	s.sessions = make(map[string]refreshSession)
	s.mu.Unlock()
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := s.engine.Group("/auth")
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/refresh", s.handleRefresh)
	authGroup.POST("/logout", s.handleLogout)
	authGroup.GET("/session-check", s.requireAuth(), s.handleSessionCheck)

	s.engine.POST("/activity-log", s.handleActivity)
	s.engine.GET("/activity-log", s.handleListActivity)

	resumes := s.engine.Group("/resumes", s.requireAuth())
	resumes.GET("", s.handleListResumes)
	resumes.POST("", s.handleCreateResume)
	resumes.GET("/:id", s.handleGetResume)
	resumes.PUT("/:id", s.handleReplaceResume)
	resumes.PATCH("/:id", s.handlePatchResume)
	resumes.DELETE("/:id", s.handleDeleteResume)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.mu.Lock()
		s.stats.Requests[c.Request.Method+" "+c.Request.URL.Path]++
		s.mu.Unlock()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("requestId", c.GetHeader("X-Request-ID")).
			Msg("request")
	}
}

func (s *Server) injectFaults() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		f, ok := s.faults[c.Request.URL.Path]
		status := 0
		if ok && f.remaining > 0 {
			f.remaining--
			status = f.status
		}
		s.mu.Unlock()

		if status != 0 {
			c.AbortWithStatusJSON(status, gin.H{"error": "injected failure"})
			return
		}
		c.Next()
	}
}

func (s *Server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}
