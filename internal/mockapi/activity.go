package mockapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ActivityRecord is one event received on /activity-log.
type ActivityRecord struct {
	Type        string                 `json:"type" binding:"required"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	ReceivedAt  time.Time              `json:"-"`
	// Authenticated is true when the event carried a valid bearer token.
	Authenticated bool `json:"-"`
}

func (s *Server) handleActivity(c *gin.Context) {
	var rec ActivityRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}

	if token := parseBearer(c.GetHeader("Authorization")); token != "" {
		_, err := s.parseAccessToken(token)
		rec.Authenticated = err == nil
	}

	s.mu.Lock()
	rec.ReceivedAt = s.now()
	s.activity = append(s.activity, rec)
	s.mu.Unlock()

	c.Status(http.StatusAccepted)
}

// Activity returns the events received so far.
func (s *Server) Activity() []ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ActivityRecord, len(s.activity))
	copy(out, s.activity)
	return out
}

func (s *Server) handleListActivity(c *gin.Context) {
	c.JSON(http.StatusOK, s.Activity())
}
