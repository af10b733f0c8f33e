// Package apiclient is the session-aware HTTP layer every network call of the
// resume builder goes through. One Client per backend is shared by all
// callers and provides:
//
//   - Bearer credentials attached to every request, refreshed before expiry
//     and after a 401, with at most one refresh call in flight
//   - Replay of a request rejected with 401, exactly once
//   - A response cache for GET requests with max age, excluded paths and a
//     size budget evicting oldest entries first
//   - A fixed-window rate limiter that delays requests instead of dropping them
//   - Retries of configured statuses and network failures with linear backoff
//   - A metrics buffer forwarded best-effort to the activity log, plus
//     Prometheus metrics and zerolog debug logging
//
// Typical usage:
//
//	cfg := apiclient.DefaultConfig()
//	cfg.BaseURL = "https://api.example.com"
//	client, err := apiclient.New(cfg, apiclient.WithMetrics())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if _, err := client.Login(ctx, email, password); err != nil {
//	    return err
//	}
//	resumes, err := apiclient.DecodeJSON[[]Resume](client.Get(ctx, "/resumes"))
//
// Errors are *ClientError values. Use errors.Is with ErrSessionExpired to
// detect a session that needs a new login, and IsTransient for failures worth
// retrying later.
package apiclient
