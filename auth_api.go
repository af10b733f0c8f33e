package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// User is the identity returned on login.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// TokenSet is the token payload of login and refresh responses.
type TokenSet struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresIn is the access token lifetime in seconds; zero means "read the exp claim".
	ExpiresIn int64 `json:"expiresIn"`
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	User   User     `json:"user"`
	Tokens TokenSet `json:"tokens"`
}

// Authenticator talks to the remote auth endpoints.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	// Refresh wraps ErrRefreshRejected when the remote side refuses the token.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
	Logout(ctx context.Context, refreshToken string) error
}

// HTTPAuthenticator implements Authenticator over JSON POSTs. It uses its own
// http.Client so auth calls never re-enter the transport core.
type HTTPAuthenticator struct {
	baseURL    string
	httpClient *http.Client
	cfg        AuthConfig
}

// NewHTTPAuthenticator creates an Authenticator for baseURL.
func NewHTTPAuthenticator(baseURL string, httpClient *http.Client, cfg AuthConfig) *HTTPAuthenticator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAuthenticator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		cfg:        cfg,
	}
}

func (a *HTTPAuthenticator) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	status, err := a.post(ctx, a.cfg.LoginPath, map[string]string{"email": email, "password": password}, &result)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ClientError{
			Type:       ErrorTypeHTTPStatus,
			Message:    "login failed",
			StatusCode: status,
			Method:     http.MethodPost,
			Endpoint:   a.cfg.LoginPath,
			Timestamp:  time.Now(),
		}
	}
	return &result, nil
}

func (a *HTTPAuthenticator) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	var result struct {
		Tokens TokenSet `json:"tokens"`
	}
	status, err := a.post(ctx, a.cfg.RefreshPath, map[string]string{"refreshToken": refreshToken}, &result)
	if err != nil {
		return nil, err
	}

	switch {
	case status >= 200 && status < 300:
		return &result.Tokens, nil
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrRefreshRejected, status)
	default:
		return nil, &ClientError{
			Type:       ErrorTypeHTTPStatus,
			Message:    "refresh failed",
			StatusCode: status,
			Method:     http.MethodPost,
			Endpoint:   a.cfg.RefreshPath,
			Timestamp:  time.Now(),
		}
	}
}

func (a *HTTPAuthenticator) Logout(ctx context.Context, refreshToken string) error {
	status, err := a.post(ctx, a.cfg.LogoutPath, map[string]string{"refreshToken": refreshToken}, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &ClientError{
			Type:       ErrorTypeHTTPStatus,
			Message:    "logout failed",
			StatusCode: status,
			Method:     http.MethodPost,
			Endpoint:   a.cfg.LogoutPath,
			Timestamp:  time.Now(),
		}
	}
	return nil
}

// post sends body as JSON and decodes a 2xx response into out when non-nil.
func (a *HTTPAuthenticator) post(ctx context.Context, path string, body interface{}, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, &ClientError{
			Type:      ErrorTypeNetwork,
			Message:   "auth request failed",
			Cause:     err,
			Method:    http.MethodPost,
			URL:       req.URL.String(),
			Endpoint:  path,
			Timestamp: time.Now(),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, &ClientError{
			Type:     ErrorTypeNetwork,
			Message:  "auth response read failed",
			Cause:    err,
			Endpoint: path,
		}
	}

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, &ClientError{
				Type:       ErrorTypeDecode,
				Message:    "auth response is not valid JSON",
				Cause:      err,
				StatusCode: resp.StatusCode,
				Endpoint:   path,
			}
		}
	}
	return resp.StatusCode, nil
}
