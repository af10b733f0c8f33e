package apiclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the token pair issued by the auth endpoint.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresAt is the access token expiry in epoch seconds.
	ExpiresAt int64 `json:"expiresAt"`
}

// Expiry returns ExpiresAt as a time.
func (c Credentials) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// NewCredentials derives the expiry of a freshly issued pair. A positive
// expiresIn wins; zero falls back to the access token's exp claim. The token
// signature is not verified, only read.
func NewCredentials(accessToken, refreshToken string, expiresIn int64, issuedAt time.Time) (Credentials, error) {
	if accessToken == "" {
		return Credentials{}, errors.New("access token is empty")
	}
	if expiresIn < 0 {
		return Credentials{}, fmt.Errorf("expiresIn %d is negative", expiresIn)
	}

	creds := Credentials{AccessToken: accessToken, RefreshToken: refreshToken}
	if expiresIn > 0 {
		creds.ExpiresAt = issuedAt.Unix() + expiresIn
		return creds, nil
	}

	exp, err := ExpiryFromToken(accessToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("cannot derive token expiry: %w", err)
	}
	if exp.Before(issuedAt) {
		return Credentials{}, fmt.Errorf("token expired at %s, before issuance", exp.Format(time.RFC3339))
	}
	creds.ExpiresAt = exp.Unix()
	return creds, nil
}

// ExpiryFromToken reads the exp claim of a JWT without verifying it.
func ExpiryFromToken(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("token parse error: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("token exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}

// CredentialStore holds the current pair in memory and, when a persister is
// configured, mirrors every change to durable storage.
type CredentialStore struct {
	mu        sync.RWMutex
	creds     *Credentials
	persister CredentialPersister
	now       Clock
}

// NewCredentialStore creates an empty store. persister may be nil.
func NewCredentialStore(persister CredentialPersister, now Clock) *CredentialStore {
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{persister: persister, now: now}
}

// Get returns a copy of the current pair.
func (s *CredentialStore) Get() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.creds == nil {
		return Credentials{}, false
	}
	return *s.creds, true
}

// Set replaces the pair wholesale. The in-memory value is updated even when
// the durable write fails; the write error is returned.
func (s *CredentialStore) Set(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	s.creds = &creds
	s.mu.Unlock()

	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, creds); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	return nil
}

// Clear forgets the pair and erases the durable record.
func (s *CredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()

	if s.persister == nil {
		return nil
	}
	if err := s.persister.Clear(ctx); err != nil {
		return fmt.Errorf("erase persisted credentials: %w", err)
	}
	return nil
}

// SecondsUntilExpiry is negative once the access token has expired and zero
// when no pair is held.
func (s *CredentialStore) SecondsUntilExpiry() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.creds == nil {
		return 0
	}
	return s.creds.ExpiresAt - s.now().Unix()
}

// Hydrate loads a durable pair into memory. An already expired record is
// discarded and erased. It reports whether a pair was loaded.
func (s *CredentialStore) Hydrate(ctx context.Context) (bool, error) {
	if s.persister == nil {
		return false, nil
	}

	creds, err := s.persister.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load persisted credentials: %w", err)
	}
	if creds == nil {
		return false, nil
	}
	if creds.ExpiresAt <= s.now().Unix() {
		return false, s.persister.Clear(ctx)
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return true, nil
}
