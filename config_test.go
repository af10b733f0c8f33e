package apiclient

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://api.test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Auth.RefreshThreshold)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, []int{408, 429, 500, 502, 503, 504}, cfg.Retry.RetryableStatuses)
	assert.Equal(t, "linear", cfg.Retry.Strategy)
	assert.Equal(t, []string{"/auth"}, cfg.Cache.ExcludedPaths)
	assert.Equal(t, 60, cfg.RateLimit.MaxRequestsPerWindow)
	assert.Equal(t, "/activity-log", cfg.Activity.Path)

	// BaseURL is the one required field.
	assert.Error(t, cfg.Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base URL", func(c *Config) { c.BaseURL = "/api" }, "absolute URL"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout must be positive"},
		{"negative threshold", func(c *Config) { c.Auth.RefreshThreshold = -time.Second }, "refreshThreshold"},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, "maxAttempts must be non-negative"},
		{"max below base", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "maxDelay"},
		{"401 retryable", func(c *Config) { c.Retry.RetryableStatuses = []int{401} }, "401"},
		{"bogus status", func(c *Config) { c.Retry.RetryableStatuses = []int{42} }, "not a valid HTTP status"},
		{"unknown strategy", func(c *Config) { c.Retry.Strategy = "fibonacci" }, "fibonacci"},
		{"zero max age", func(c *Config) { c.Cache.MaxAge = 0 }, "maxAge"},
		{"excluded without slash", func(c *Config) { c.Cache.ExcludedPaths = []string{"auth"} }, "must start with /"},
		{"zero window", func(c *Config) { c.RateLimit.WindowLength = 0 }, "windowLength"},
		{"bad backend", func(c *Config) { c.Persistence.Enabled = true; c.Persistence.Backend = "s3" }, "'file' or 'redis'"},
		{"redis without addr", func(c *Config) { c.Persistence.Enabled = true; c.Persistence.Backend = "redis" }, "redisAddr"},
		{"activity path", func(c *Config) { c.Activity.Enabled = true; c.Activity.Path = "log" }, "activity path"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, &ClientError{Type: ErrorTypeValidation}))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfigValidateReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Timeout = 0
	cfg.Retry.MaxAttempts = -1
	cfg.RateLimit.MaxRequestsPerWindow = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"timeout", "maxAttempts", "maxRequestsPerWindow"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDisabledSectionsSkipValidation(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Enabled = false
	cfg.Cache.MaxAge = 0
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.WindowLength = 0

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	yaml := strings.Join([]string{
		"baseURL: http://api.test",
		"timeout: 5s",
		"retry:",
		"  maxAttempts: 2",
		"  baseDelay: 250ms",
		"  retryableStatuses: [503]",
		"cache:",
		"  excludedPaths: [/auth, /users/me]",
		"rateLimit:",
		"  enabled: false",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://api.test", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, []int{503}, cfg.Retry.RetryableStatuses)
	assert.Equal(t, []string{"/auth", "/users/me"}, cfg.Cache.ExcludedPaths)
	assert.False(t, cfg.RateLimit.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.Cache.MaxAge)
	assert.Equal(t, "/auth/refresh", cfg.Auth.RefreshPath)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("APICLIENT_BASEURL", "http://env.test")
	t.Setenv("APICLIENT_RETRY_MAXATTEMPTS", "5")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://env.test", cfg.BaseURL)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	// No base URL anywhere fails validation.
	_, err = LoadConfig("")
	assert.Error(t, err)
}
