package apiclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Vishalsnw/Resume-builder-sub001/internal/backoff"
)

// Config is the complete configuration surface of a Client. Every field has a
// documented default in DefaultConfig; only BaseURL must be supplied.
type Config struct {
	// BaseURL of the API every request path is resolved against.
	BaseURL string `mapstructure:"baseURL"`
	// Timeout bounds each attempt, not the whole retry sequence. Default 30s.
	Timeout time.Duration `mapstructure:"timeout"`

	Auth        AuthConfig        `mapstructure:"auth"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Cache       CacheConfig       `mapstructure:"cache"`
	RateLimit   RateLimitConfig   `mapstructure:"rateLimit"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Activity    ActivityConfig    `mapstructure:"activity"`
}

// AuthConfig controls the token lifecycle.
type AuthConfig struct {
	LoginPath   string `mapstructure:"loginPath"`
	RefreshPath string `mapstructure:"refreshPath"`
	LogoutPath  string `mapstructure:"logoutPath"`
	// RefreshThreshold is how close to expiry a token may get before
	// EnsureFresh refreshes it. Default 60s.
	RefreshThreshold time.Duration `mapstructure:"refreshThreshold"`
	// ExpiryGrace keeps a session authenticated for this long past access
	// token expiry. Default 0.
	ExpiryGrace time.Duration `mapstructure:"expiryGrace"`
	// ProactiveRefresh schedules a refresh at expiry minus RefreshThreshold.
	ProactiveRefresh bool `mapstructure:"proactiveRefresh"`
	// RefreshTimeout bounds a single refresh call. Default 15s.
	RefreshTimeout time.Duration `mapstructure:"refreshTimeout"`
}

// RetryConfig controls the retry policy engine.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the first attempt. Default 3.
	MaxAttempts int `mapstructure:"maxAttempts"`
	// BaseDelay feeds the backoff strategy. Default 1s.
	BaseDelay time.Duration `mapstructure:"baseDelay"`
	// MaxDelay caps any single pause, Retry-After included. Default 30s.
	MaxDelay          time.Duration `mapstructure:"maxDelay"`
	RetryableStatuses []int         `mapstructure:"retryableStatuses"`
	// RetryNetworkErrors retries attempts that got no response at all.
	RetryNetworkErrors bool `mapstructure:"retryNetworkErrors"`
	// Strategy is one of linear (default), exponential, decorrelated.
	Strategy string `mapstructure:"strategy"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxAge  time.Duration `mapstructure:"maxAge"`
	// ExcludedPaths are path prefixes, matched on segment boundaries, that are
	// never cached.
	ExcludedPaths []string `mapstructure:"excludedPaths"`
	// MaxTotalBytes is the size budget; zero disables size eviction.
	MaxTotalBytes int64 `mapstructure:"maxTotalBytes"`
	// SweepInterval runs a background sweep of stale entries; zero disables it.
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
	// InvalidateOnMutation drops every entry after a successful non-GET request.
	InvalidateOnMutation bool `mapstructure:"invalidateOnMutation"`
}

// RateLimitConfig controls the fixed-window limiter.
type RateLimitConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	MaxRequestsPerWindow int           `mapstructure:"maxRequestsPerWindow"`
	WindowLength         time.Duration `mapstructure:"windowLength"`
}

// PersistenceConfig controls durable credential storage.
type PersistenceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "file" or "redis".
	Backend       string      `mapstructure:"backend"`
	FilePath      string      `mapstructure:"filePath"`
	RedisAddr     string      `mapstructure:"redisAddr"`
	RedisPassword string      `mapstructure:"redisPassword"`
	RedisDB       int         `mapstructure:"redisDB"`
	StorageKeys   StorageKeys `mapstructure:"storageKeys"`
}

// StorageKeys names the durable fields of the credential pair.
type StorageKeys struct {
	Prefix       string `mapstructure:"prefix"`
	AccessToken  string `mapstructure:"accessToken"`
	RefreshToken string `mapstructure:"refreshToken"`
	ExpiresAt    string `mapstructure:"expiresAt"`
}

// ActivityConfig controls forwarding of request metrics to the activity log.
type ActivityConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	QueueSize  int    `mapstructure:"queueSize"`
	MaxRetries int    `mapstructure:"maxRetries"`
	// BufferSize bounds the in-memory metric record buffer.
	BufferSize int `mapstructure:"bufferSize"`
}

// DefaultConfig returns the documented defaults. BaseURL is left empty.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Auth: AuthConfig{
			LoginPath:        "/auth/login",
			RefreshPath:      "/auth/refresh",
			LogoutPath:       "/auth/logout",
			RefreshThreshold: 60 * time.Second,
			ProactiveRefresh: true,
			RefreshTimeout:   15 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			RetryableStatuses: []int{
				http.StatusRequestTimeout,
				http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout,
			},
			RetryNetworkErrors: true,
			Strategy:           backoff.NameLinear,
		},
		Cache: CacheConfig{
			Enabled:              true,
			MaxAge:               5 * time.Minute,
			ExcludedPaths:        []string{"/auth"},
			MaxTotalBytes:        10 << 20,
			SweepInterval:        time.Minute,
			InvalidateOnMutation: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:              true,
			MaxRequestsPerWindow: 60,
			WindowLength:         time.Minute,
		},
		Persistence: PersistenceConfig{
			Backend:  "file",
			FilePath: "credentials.json",
			StorageKeys: StorageKeys{
				AccessToken:  "accessToken",
				RefreshToken: "refreshToken",
				ExpiresAt:    "tokenExpiry",
			},
		},
		Activity: ActivityConfig{
			Path:       "/activity-log",
			QueueSize:  256,
			MaxRetries: 2,
			BufferSize: 1000,
		},
	}
}

// Validate checks every section and reports all problems at once.
func (c Config) Validate() error {
	var problems []string

	problems = append(problems, c.validateTransport()...)
	problems = append(problems, c.validateAuth()...)
	problems = append(problems, c.validateRetry()...)
	problems = append(problems, c.validateCache()...)
	problems = append(problems, c.validateRateLimit()...)
	problems = append(problems, c.validatePersistence()...)
	problems = append(problems, c.validateActivity()...)

	if len(problems) > 0 {
		return newValidationError(problems)
	}
	return nil
}

func (c Config) validateTransport() []string {
	var problems []string

	if c.BaseURL == "" {
		problems = append(problems, "baseURL is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("baseURL %q must be an absolute URL", c.BaseURL))
	}
	if c.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.Timeout > 10*time.Minute {
		problems = append(problems, "timeout > 10m may cause requests to hang for too long")
	}

	return problems
}

func (c Config) validateAuth() []string {
	var problems []string

	if c.Auth.LoginPath == "" || c.Auth.RefreshPath == "" || c.Auth.LogoutPath == "" {
		problems = append(problems, "auth login, refresh and logout paths must be set")
	}
	if c.Auth.RefreshThreshold < 0 {
		problems = append(problems, "auth refreshThreshold must be non-negative")
	}
	if c.Auth.ExpiryGrace < 0 {
		problems = append(problems, "auth expiryGrace must be non-negative")
	}
	if c.Auth.RefreshTimeout <= 0 {
		problems = append(problems, "auth refreshTimeout must be positive")
	}

	return problems
}

func (c Config) validateRetry() []string {
	var problems []string

	if c.Retry.MaxAttempts < 0 {
		problems = append(problems, "retry maxAttempts must be non-negative")
	}
	if c.Retry.MaxAttempts > 100 {
		problems = append(problems, "retry maxAttempts > 100 may cause excessive resource usage")
	}
	if c.Retry.BaseDelay < 0 {
		problems = append(problems, "retry baseDelay must be non-negative")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		problems = append(problems, "retry maxDelay must be greater than or equal to baseDelay")
	}
	if c.Retry.MaxDelay > time.Hour {
		problems = append(problems, "retry maxDelay > 1h may cause extremely long delays")
	}
	for _, status := range c.Retry.RetryableStatuses {
		if status < 100 || status > 599 {
			problems = append(problems, fmt.Sprintf("retry status %d is not a valid HTTP status", status))
		}
		if status == http.StatusUnauthorized {
			problems = append(problems, "retry status 401 is handled by token refresh and cannot be retryable")
		}
	}
	if _, err := backoff.ForName(c.Retry.Strategy); err != nil {
		problems = append(problems, err.Error())
	}

	return problems
}

func (c Config) validateCache() []string {
	var problems []string

	if !c.Cache.Enabled {
		return problems
	}
	if c.Cache.MaxAge <= 0 {
		problems = append(problems, "cache maxAge must be positive when cache is enabled")
	}
	if c.Cache.MaxAge > 24*time.Hour {
		problems = append(problems, "cache maxAge > 24h may cause stale data issues")
	}
	if c.Cache.MaxTotalBytes < 0 {
		problems = append(problems, "cache maxTotalBytes must be non-negative")
	}
	if c.Cache.SweepInterval < 0 {
		problems = append(problems, "cache sweepInterval must be non-negative")
	}
	for i, p := range c.Cache.ExcludedPaths {
		if !strings.HasPrefix(p, "/") {
			problems = append(problems, fmt.Sprintf("cache excludedPaths[%d] %q must start with /", i, p))
		}
	}

	return problems
}

func (c Config) validateRateLimit() []string {
	var problems []string

	if !c.RateLimit.Enabled {
		return problems
	}
	if c.RateLimit.MaxRequestsPerWindow <= 0 {
		problems = append(problems, "rateLimit maxRequestsPerWindow must be positive")
	}
	if c.RateLimit.WindowLength <= 0 {
		problems = append(problems, "rateLimit windowLength must be positive")
	}
	if c.RateLimit.WindowLength > 0 && c.RateLimit.WindowLength < time.Millisecond {
		problems = append(problems, "rateLimit windowLength < 1ms may cause excessive CPU usage")
	}

	return problems
}

func (c Config) validatePersistence() []string {
	var problems []string

	if !c.Persistence.Enabled {
		return problems
	}
	switch c.Persistence.Backend {
	case "file":
		if c.Persistence.FilePath == "" {
			problems = append(problems, "persistence filePath is required for the file backend")
		}
	case "redis":
		if c.Persistence.RedisAddr == "" {
			problems = append(problems, "persistence redisAddr is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("persistence backend %q must be 'file' or 'redis'", c.Persistence.Backend))
	}
	keys := c.Persistence.StorageKeys
	if keys.AccessToken == "" || keys.RefreshToken == "" || keys.ExpiresAt == "" {
		problems = append(problems, "persistence storageKeys must name accessToken, refreshToken and expiresAt")
	}

	return problems
}

func (c Config) validateActivity() []string {
	var problems []string

	if c.Activity.BufferSize <= 0 {
		problems = append(problems, "activity bufferSize must be positive")
	}
	if !c.Activity.Enabled {
		return problems
	}
	if !strings.HasPrefix(c.Activity.Path, "/") {
		problems = append(problems, "activity path must start with /")
	}
	if c.Activity.QueueSize <= 0 {
		problems = append(problems, "activity queueSize must be positive")
	}
	if c.Activity.MaxRetries < 0 {
		problems = append(problems, "activity maxRetries must be non-negative")
	}

	return problems
}

// LoadConfig reads a YAML, JSON or TOML file (optional, pass "" to skip) on
// top of DefaultConfig, applies APICLIENT_* environment overrides and
// validates the result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APICLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("baseURL", d.BaseURL)
	v.SetDefault("timeout", d.Timeout)

	// Auth
	v.SetDefault("auth.loginPath", d.Auth.LoginPath)
	v.SetDefault("auth.refreshPath", d.Auth.RefreshPath)
	v.SetDefault("auth.logoutPath", d.Auth.LogoutPath)
	v.SetDefault("auth.refreshThreshold", d.Auth.RefreshThreshold)
	v.SetDefault("auth.expiryGrace", d.Auth.ExpiryGrace)
	v.SetDefault("auth.proactiveRefresh", d.Auth.ProactiveRefresh)
	v.SetDefault("auth.refreshTimeout", d.Auth.RefreshTimeout)

	// Retry
	v.SetDefault("retry.maxAttempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.baseDelay", d.Retry.BaseDelay)
	v.SetDefault("retry.maxDelay", d.Retry.MaxDelay)
	v.SetDefault("retry.retryableStatuses", d.Retry.RetryableStatuses)
	v.SetDefault("retry.retryNetworkErrors", d.Retry.RetryNetworkErrors)
	v.SetDefault("retry.strategy", d.Retry.Strategy)

	// Cache
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.maxAge", d.Cache.MaxAge)
	v.SetDefault("cache.excludedPaths", d.Cache.ExcludedPaths)
	v.SetDefault("cache.maxTotalBytes", d.Cache.MaxTotalBytes)
	v.SetDefault("cache.sweepInterval", d.Cache.SweepInterval)
	v.SetDefault("cache.invalidateOnMutation", d.Cache.InvalidateOnMutation)

	// Rate limit
	v.SetDefault("rateLimit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rateLimit.maxRequestsPerWindow", d.RateLimit.MaxRequestsPerWindow)
	v.SetDefault("rateLimit.windowLength", d.RateLimit.WindowLength)

	// Persistence
	v.SetDefault("persistence.enabled", d.Persistence.Enabled)
	v.SetDefault("persistence.backend", d.Persistence.Backend)
	v.SetDefault("persistence.filePath", d.Persistence.FilePath)
	v.SetDefault("persistence.redisAddr", d.Persistence.RedisAddr)
	v.SetDefault("persistence.redisPassword", d.Persistence.RedisPassword)
	v.SetDefault("persistence.redisDB", d.Persistence.RedisDB)
	v.SetDefault("persistence.storageKeys.prefix", d.Persistence.StorageKeys.Prefix)
	v.SetDefault("persistence.storageKeys.accessToken", d.Persistence.StorageKeys.AccessToken)
	v.SetDefault("persistence.storageKeys.refreshToken", d.Persistence.StorageKeys.RefreshToken)
	v.SetDefault("persistence.storageKeys.expiresAt", d.Persistence.StorageKeys.ExpiresAt)

	// Activity
	v.SetDefault("activity.enabled", d.Activity.Enabled)
	v.SetDefault("activity.path", d.Activity.Path)
	v.SetDefault("activity.queueSize", d.Activity.QueueSize)
	v.SetDefault("activity.maxRetries", d.Activity.MaxRetries)
	v.SetDefault("activity.bufferSize", d.Activity.BufferSize)
}
