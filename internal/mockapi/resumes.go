package mockapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Section is one titled block of a resume.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Resume is the resource served under /resumes.
type Resume struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Sections  []Section `json:"sections,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type resumeInput struct {
	Title    *string   `json:"title"`
	Summary  *string   `json:"summary"`
	Sections []Section `json:"sections"`
}

func (s *Server) handleListResumes(c *gin.Context) {
	owner := c.GetString(userIDKey)

	s.mu.Lock()
	out := make([]Resume, 0)
	for _, r := range s.resumes {
		if r.OwnerID == owner {
			out = append(out, *r)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateResume(c *gin.Context) {
	var in resumeInput
	if err := c.ShouldBindJSON(&in); err != nil || in.Title == nil || *in.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	s.mu.Lock()
	r := &Resume{
		ID:        uuid.NewString(),
		OwnerID:   c.GetString(userIDKey),
		Title:     *in.Title,
		Sections:  in.Sections,
		UpdatedAt: s.now().UTC(),
	}
	if in.Summary != nil {
		r.Summary = *in.Summary
	}
	s.resumes[r.ID] = r
	created := *r
	s.mu.Unlock()

	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetResume(c *gin.Context) {
	s.mu.Lock()
	r, ok := s.ownedLocked(c)
	var out Resume
	if ok {
		out = *r
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "resume not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleReplaceResume(c *gin.Context) {
	var in resumeInput
	if err := c.ShouldBindJSON(&in); err != nil || in.Title == nil || *in.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	s.update(c, func(r *Resume) {
		r.Title = *in.Title
		r.Summary = ""
		if in.Summary != nil {
			r.Summary = *in.Summary
		}
		r.Sections = in.Sections
	})
}

func (s *Server) handlePatchResume(c *gin.Context) {
	var in resumeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	s.update(c, func(r *Resume) {
		if in.Title != nil && *in.Title != "" {
			r.Title = *in.Title
		}
		if in.Summary != nil {
			r.Summary = *in.Summary
		}
		if in.Sections != nil {
			r.Sections = in.Sections
		}
	})
}

func (s *Server) handleDeleteResume(c *gin.Context) {
	s.mu.Lock()
	r, ok := s.ownedLocked(c)
	if ok {
		delete(s.resumes, r.ID)
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "resume not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) update(c *gin.Context, apply func(*Resume)) {
	s.mu.Lock()
	r, ok := s.ownedLocked(c)
	var out Resume
	if ok {
		apply(r)
		r.UpdatedAt = s.now().UTC()
		out = *r
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "resume not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// ownedLocked finds the resume named in the path if the caller owns it.
func (s *Server) ownedLocked(c *gin.Context) (*Resume, bool) {
	r, ok := s.resumes[c.Param("id")]
	if !ok || r.OwnerID != c.GetString(userIDKey) {
		return nil, false
	}
	return r, true
}
