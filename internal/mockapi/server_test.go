package mockapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func login(t *testing.T, s *Server) tokenSet {
	t.Helper()
	w := do(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": "demo@example.com", "password": "demo-password"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		User   userView `json:"user"`
		Tokens tokenSet `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "demo@example.com", out.User.Email)
	return out.Tokens
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{}, zerolog.Nop())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.AccessTTL = 0
	_, err = NewServer(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	tokens := login(t, s)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, int64(300), tokens.ExpiresIn)

	w := do(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": "demo@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": "demo@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The malformed body is rejected before the credentials are checked.
	assert.Equal(t, 2, s.Stats().LoginCalls)
}

func TestRefreshRotatesToken(t *testing.T) {
	s := newTestServer(t)
	tokens := login(t, s)

	w := do(t, s, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Tokens tokenSet `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.NotEqual(t, tokens.RefreshToken, out.Tokens.RefreshToken)

	// The old refresh token is single use.
	w = do(t, s, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 2, s.Stats().RefreshCalls)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	s := newTestServer(t)
	tokens := login(t, s)

	w := do(t, s, http.MethodPost, "/auth/logout", "", map[string]string{"refreshToken": tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth(t *testing.T) {
	s := newTestServer(t)
	tokens := login(t, s)

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/auth/session-check", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/auth/session-check", "garbage", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/auth/session-check", tokens.AccessToken, nil).Code)

	expired, err := s.IssueAccessToken("demo@example.com", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/resumes", expired, nil).Code)
}

func TestAccessTokenExpiresWithClock(t *testing.T) {
	s := newTestServer(t)
	tokens := login(t, s)

	s.SetClock(func() time.Time { return time.Now().Add(10 * time.Minute) })
	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/resumes", tokens.AccessToken, nil).Code)
}

func TestResumeCRUD(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s).AccessToken

	w := do(t, s, http.MethodPost, "/resumes", token, map[string]interface{}{"title": "Backend Engineer"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created Resume
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Backend Engineer", created.Title)

	w = do(t, s, http.MethodPatch, "/resumes/"+created.ID, token, map[string]interface{}{"summary": "Go, Postgres"})
	require.Equal(t, http.StatusOK, w.Code)
	var patched Resume
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &patched))
	assert.Equal(t, "Backend Engineer", patched.Title)
	assert.Equal(t, "Go, Postgres", patched.Summary)

	w = do(t, s, http.MethodPut, "/resumes/"+created.ID, token, map[string]interface{}{"title": "Staff Engineer"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/resumes", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []Resume
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Staff Engineer", list[0].Title)
	assert.Empty(t, list[0].Summary)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/resumes/"+created.ID, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/resumes/"+created.ID, token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/resumes", token, map[string]interface{}{}).Code)
}

func TestFailNext(t *testing.T) {
	s := newTestServer(t)
	s.FailNext("/healthz", http.StatusServiceUnavailable, 2)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, 3, s.Stats().Requests["GET /healthz"])
}

func TestActivityLog(t *testing.T) {
	s := newTestServer(t)
	token := login(t, s).AccessToken

	w := do(t, s, http.MethodPost, "/activity-log", token, map[string]interface{}{
		"type":        "api_request",
		"description": "GET /resumes -> 200",
		"timestamp":   time.Now().UTC(),
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/activity-log", "", map[string]string{}).Code)

	records := s.Activity()
	require.Len(t, records, 1)
	assert.Equal(t, "api_request", records[0].Type)
	assert.True(t, records[0].Authenticated)
}
