package mockapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const userIDKey = "userID"

// Claims is the payload of an access token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type tokenSet struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	s.mu.Lock()
	s.stats.LoginCalls++
	acct, ok := s.accounts[strings.ToLower(body.Email)]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(body.Password)) != nil {
		s.logger.Info().Str("email", body.Email).Msg("login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	tokens, err := s.issue(acct)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":   userView{ID: acct.id, Email: acct.email, Name: acct.name},
		"tokens": tokens,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
		return
	}

	s.mu.Lock()
	s.stats.RefreshCalls++
	sess, ok := s.sessions[body.RefreshToken]
	// Rotation: a refresh token is single use.
	delete(s.sessions, body.RefreshToken)
	var acct *account
	if ok && s.now().Before(sess.expiresAt) {
		acct = s.accountByIDLocked(sess.userID)
	}
	s.mu.Unlock()

	if acct == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	tokens, err := s.issue(acct)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) handleLogout(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = c.ShouldBindJSON(&body)

	s.mu.Lock()
	s.stats.LogoutCalls++
	delete(s.sessions, body.RefreshToken)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSessionCheck(c *gin.Context) {
	s.mu.Lock()
	acct := s.accountByIDLocked(c.GetString(userIDKey))
	s.mu.Unlock()

	if acct == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userView{ID: acct.id, Email: acct.email, Name: acct.name}})
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := parseBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := s.parseAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userIDKey, claims.Subject)
		c.Next()
	}
}

// IssueAccessToken signs an access token for email that expires at exp. Tests
// use it to craft tokens without the expiresIn field.
func (s *Server) IssueAccessToken(email string, exp time.Time) (string, error) {
	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(email)]
	now := s.now()
	s.mu.Unlock()
	if !ok {
		return "", errors.New("mockapi: unknown user")
	}
	return s.sign(acct, now, exp)
}

func (s *Server) issue(acct *account) (tokenSet, error) {
	s.mu.Lock()
	now := s.now()
	s.mu.Unlock()

	accessExp := now.Add(s.cfg.AccessTTL)
	signed, err := s.sign(acct, now, accessExp)
	if err != nil {
		return tokenSet{}, err
	}

	refresh := uuid.NewString()
	s.mu.Lock()
	s.sessions[refresh] = refreshSession{userID: acct.id, expiresAt: now.Add(s.cfg.RefreshTTL)}
	s.mu.Unlock()

	return tokenSet{
		AccessToken:  signed,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTTL / time.Second),
	}, nil
}

func (s *Server) sign(acct *account, now, exp time.Time) (string, error) {
	claims := Claims{
		Email: acct.email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.id,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}

func (s *Server) parseAccessToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithTimeFunc(s.clock))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *Server) accountByIDLocked(id string) *account {
	for _, acct := range s.accounts {
		if acct.id == id {
			return acct
		}
	}
	return nil
}

func parseBearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
