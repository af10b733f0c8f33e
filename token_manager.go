package apiclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Vishalsnw/Resume-builder-sub001/internal/singleflight"
)

// Only one refresh concept exists per client, so the flight key is constant.
const refreshFlightKey = "refresh"

// SessionState is the token lifecycle state.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateRefreshPending
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshPending:
		return "refresh_pending"
	default:
		return "unknown"
	}
}

// SessionEventType names a session transition.
type SessionEventType string

const (
	SessionLogin   SessionEventType = "login"
	SessionRefresh SessionEventType = "token_refresh"
	SessionLogout  SessionEventType = "logout"
	SessionExpired SessionEventType = "session_expired"
)

// SessionEvent is delivered to listeners after a transition is committed.
type SessionEvent struct {
	Type SessionEventType
	User *User
	At   time.Time
	Err  error
}

// Session is a point-in-time snapshot of the session state.
type Session struct {
	State SessionState
	// Authenticated holds iff credentials are present and not expired beyond
	// the configured grace.
	Authenticated bool
	Identity      *User
	Credentials   *Credentials
	// LoginAttemptCount counts every Login call over the manager's lifetime.
	LoginAttemptCount int
	LastLoginAt       time.Time
}

// TokenManager owns the session: login, logout, proactive and on-demand
// refresh. Refresh is single-flight: concurrent callers share one remote call
// and observe the same pair or the same error.
type TokenManager struct {
	store   *CredentialStore
	auth    Authenticator
	cfg     AuthConfig
	now     Clock
	logger  Logger
	metrics *MetricsCollector
	flight  *singleflight.Group[Credentials]

	mu            sync.Mutex
	state         SessionState
	identity      *User
	loginAttempts int
	lastLogin     time.Time
	// epoch changes on every login, logout and expiry so a refresh that
	// straddles one of them cannot resurrect the old session.
	epoch     uint64
	timer     *time.Timer
	closed    bool
	listeners []func(SessionEvent)
}

// NewTokenManager creates a manager over store. logger and metrics may be nil.
func NewTokenManager(store *CredentialStore, auth Authenticator, cfg AuthConfig, logger Logger, metrics *MetricsCollector) *TokenManager {
	if logger == nil {
		logger = NopLogger()
	}
	return &TokenManager{
		store:   store,
		auth:    auth,
		cfg:     cfg,
		now:     store.now,
		logger:  logger,
		metrics: metrics,
		flight:  singleflight.New[Credentials](),
		state:   StateUnauthenticated,
	}
}

// OnSessionEvent registers fn for every committed transition. fn runs on the
// goroutine that caused the transition and must not block.
func (m *TokenManager) OnSessionEvent(fn func(SessionEvent)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// HasCredentials reports whether a token pair is held.
func (m *TokenManager) HasCredentials() bool {
	_, ok := m.store.Get()
	return ok
}

// State returns the current lifecycle state.
func (m *TokenManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a snapshot of the session.
func (m *TokenManager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Session{
		State:             m.state,
		LoginAttemptCount: m.loginAttempts,
		LastLoginAt:       m.lastLogin,
	}
	if m.identity != nil {
		user := *m.identity
		s.Identity = &user
	}
	if creds, ok := m.store.Get(); ok {
		s.Credentials = &creds
		s.Authenticated = m.now().Before(creds.Expiry().Add(m.cfg.ExpiryGrace))
	}
	return s
}

// Login exchanges email and password for a session.
func (m *TokenManager) Login(ctx context.Context, email, password string) (*User, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClientClosed
	}
	m.loginAttempts++
	m.mu.Unlock()

	result, err := m.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	creds, err := NewCredentials(result.Tokens.AccessToken, result.Tokens.RefreshToken, result.Tokens.ExpiresIn, m.now())
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeDecode, Message: "login returned unusable tokens", Cause: err, Timestamp: m.now()}
	}

	user := result.User
	m.mu.Lock()
	m.epoch++
	m.flight.Forget(refreshFlightKey)
	if err := m.store.Set(ctx, creds); err != nil {
		m.logger.Warn("Credential persistence failed", "error", err)
	}
	m.identity = &user
	m.state = StateAuthenticated
	m.lastLogin = m.now()
	m.scheduleLocked(creds)
	m.mu.Unlock()

	m.logger.Info("Login succeeded", "user", user.ID)
	m.emit(SessionEvent{Type: SessionLogin, User: &user, At: m.now()})
	return &user, nil
}

// Logout clears the local session first, then tells the remote side. A
// failing remote logout is logged, not returned.
func (m *TokenManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	creds, hadCreds := m.store.Get()
	wasActive := hadCreds || m.state != StateUnauthenticated
	user := m.identity
	m.epoch++
	m.flight.Forget(refreshFlightKey)
	m.state = StateUnauthenticated
	m.identity = nil
	m.stopTimerLocked()
	clearErr := m.store.Clear(ctx)
	m.mu.Unlock()

	if hadCreds && creds.RefreshToken != "" {
		if err := m.auth.Logout(ctx, creds.RefreshToken); err != nil {
			m.logger.Warn("Remote logout failed", "error", err)
		}
	}

	if wasActive {
		m.emit(SessionEvent{Type: SessionLogout, User: user, At: m.now()})
	}
	return clearErr
}

// Restore hydrates a persisted pair and resumes the session with it.
func (m *TokenManager) Restore(ctx context.Context) (bool, error) {
	loaded, err := m.store.Hydrate(ctx)
	if err != nil || !loaded {
		return false, err
	}

	creds, _ := m.store.Get()
	m.mu.Lock()
	m.state = StateAuthenticated
	m.scheduleLocked(creds)
	m.mu.Unlock()
	return true, nil
}

// EnsureFresh returns the current pair when its expiry is more than the
// refresh threshold away and refreshes it otherwise.
func (m *TokenManager) EnsureFresh(ctx context.Context) (Credentials, error) {
	creds, ok := m.store.Get()
	if !ok {
		return Credentials{}, ErrNotAuthenticated
	}
	if creds.Expiry().Sub(m.now()) > m.cfg.RefreshThreshold {
		return creds, nil
	}
	return m.Refresh(ctx)
}

// Refresh exchanges the refresh token for a new pair. Concurrent calls attach
// to the refresh already in flight. A rejected refresh token clears the
// session and yields ErrSessionExpired to every waiter. Cancelling ctx stops
// this caller waiting without cancelling the shared refresh.
func (m *TokenManager) Refresh(ctx context.Context) (Credentials, error) {
	return m.refresh(ctx, m.doRefresh)
}

func (m *TokenManager) refresh(ctx context.Context, fn func(context.Context) (Credentials, error)) (Credentials, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return Credentials{}, ErrClientClosed
	}

	creds, err, shared := m.flight.Do(ctx, refreshFlightKey, fn)
	if shared {
		m.logger.Debug("Joined in-flight token refresh", "error", err)
	}
	return creds, err
}

// OnUnauthorizedResponse handles a 401 for a request sent with
// rejectedAccessToken. Without a refresh token the session expires at once
// with no network call. When the pair already rotated since the request was
// sent the current pair is returned as is.
func (m *TokenManager) OnUnauthorizedResponse(ctx context.Context, rejectedAccessToken string) (Credentials, error) {
	creds, ok := m.store.Get()
	if !ok || creds.RefreshToken == "" {
		m.mu.Lock()
		epoch := m.epoch
		m.mu.Unlock()
		return Credentials{}, m.expire(ctx, epoch, errors.New("no refresh token present"))
	}
	if rejectedAccessToken != "" && creds.AccessToken != rejectedAccessToken {
		return creds, nil
	}

	// The pair may rotate between the check above and the flight starting.
	return m.refresh(ctx, func(ctx context.Context) (Credentials, error) {
		if current, ok := m.store.Get(); ok && rejectedAccessToken != "" && current.AccessToken != rejectedAccessToken {
			return current, nil
		}
		return m.doRefresh(ctx)
	})
}

// Close stops proactive refresh. Further refreshes fail with ErrClientClosed.
func (m *TokenManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopTimerLocked()
	m.mu.Unlock()
}

func (m *TokenManager) doRefresh(ctx context.Context) (Credentials, error) {
	m.mu.Lock()
	epoch := m.epoch
	creds, ok := m.store.Get()
	if ok && creds.RefreshToken != "" {
		m.state = StateRefreshPending
	}
	m.mu.Unlock()

	if !ok || creds.RefreshToken == "" {
		return Credentials{}, m.expire(ctx, epoch, errors.New("no refresh token present"))
	}

	m.logger.Debug("Refreshing access token", "secondsUntilExpiry", creds.ExpiresAt-m.now().Unix())

	rctx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
	defer cancel()
	started := time.Now()

	tokens, err := m.auth.Refresh(rctx, creds.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			m.metrics.RecordTokenRefresh("rejected", time.Since(started))
			m.logger.Warn("Refresh token rejected, session expired", "error", err)
			return Credentials{}, m.expire(ctx, epoch, err)
		}
		m.metrics.RecordTokenRefresh("error", time.Since(started))
		m.logger.Warn("Token refresh failed", "error", err)
		m.settle(epoch)
		return Credentials{}, err
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}
	next, err := NewCredentials(tokens.AccessToken, refreshToken, tokens.ExpiresIn, m.now())
	if err != nil {
		m.metrics.RecordTokenRefresh("error", time.Since(started))
		m.settle(epoch)
		return Credentials{}, &ClientError{Type: ErrorTypeDecode, Message: "refresh returned unusable tokens", Cause: err, Timestamp: m.now()}
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return Credentials{}, sessionExpiredError(errors.New("session ended during refresh"))
	}
	if err := m.store.Set(ctx, next); err != nil {
		m.logger.Warn("Credential persistence failed", "error", err)
	}
	m.state = StateAuthenticated
	m.scheduleLocked(next)
	user := m.identity
	m.mu.Unlock()

	m.metrics.RecordTokenRefresh("success", time.Since(started))
	m.emit(SessionEvent{Type: SessionRefresh, User: user, At: m.now()})
	return next, nil
}

// settle returns a RefreshPending session to Authenticated after a transient failure.
func (m *TokenManager) settle(epoch uint64) {
	m.mu.Lock()
	if m.epoch == epoch && m.state == StateRefreshPending {
		m.state = StateAuthenticated
	}
	m.mu.Unlock()
}

// expire ends the session of the given epoch and returns the error every
// waiter receives.
func (m *TokenManager) expire(ctx context.Context, epoch uint64, cause error) error {
	m.mu.Lock()
	fire := false
	var user *User
	if m.epoch == epoch {
		fire = m.state != StateUnauthenticated
		user = m.identity
		m.epoch++
		m.state = StateUnauthenticated
		m.identity = nil
		m.stopTimerLocked()
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn("Clearing credentials failed", "error", err)
		}
	}
	m.mu.Unlock()

	err := sessionExpiredError(cause)
	if fire {
		m.emit(SessionEvent{Type: SessionExpired, User: user, At: m.now(), Err: err})
	}
	return err
}

func (m *TokenManager) scheduleLocked(creds Credentials) {
	m.stopTimerLocked()
	if !m.cfg.ProactiveRefresh || m.closed {
		return
	}

	delay := creds.Expiry().Add(-m.cfg.RefreshThreshold).Sub(m.now())
	if delay <= 0 {
		// Already inside the threshold; EnsureFresh refreshes lazily.
		return
	}

	epoch := m.epoch
	m.timer = time.AfterFunc(delay, func() { m.proactiveRefresh(epoch) })
}

func (m *TokenManager) proactiveRefresh(epoch uint64) {
	m.mu.Lock()
	stale := m.closed || m.epoch != epoch
	m.mu.Unlock()
	if stale {
		return
	}

	if _, err := m.flight.TryDo(context.Background(), refreshFlightKey, m.doRefresh); err != nil && !errors.Is(err, singleflight.ErrInProgress) {
		m.logger.Warn("Proactive token refresh failed", "error", err)
	}
}

func (m *TokenManager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *TokenManager) emit(ev SessionEvent) {
	m.mu.Lock()
	listeners := make([]func(SessionEvent), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func sessionExpiredError(cause error) error {
	return &ClientError{
		Type:      ErrorTypeSessionExpired,
		Message:   "session expired, login required",
		Cause:     errors.Join(ErrSessionExpired, cause),
		Timestamp: time.Now(),
	}
}
