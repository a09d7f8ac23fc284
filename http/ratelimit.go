package http

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter manages per-domain request rate limiting using token buckets,
// reducing a domain's rate after it answers with 429/503.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	backoffState map[string]*BackoffState
	mu           sync.RWMutex
	config       RateLimiterConfig
}

// BackoffState tracks rate limit backoff for a domain.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	// OriginalRPS is the configured rate restored after cooldown.
	OriginalRPS float64
	// ReducedRPS is the current reduced rate (0 means using original).
	ReducedRPS float64
}

const (
	InitialBackoff        = 1 * time.Second
	MaxBackoff            = 60 * time.Second
	BackoffMultiplier     = 2.0
	BackoffCooldownPeriod = 5 * time.Minute
	// MinRPSMultiplier is the floor of rate reduction (25% of original).
	MinRPSMultiplier = 0.25
)

// RateLimiterConfig defines rate limiting behavior.
type RateLimiterConfig struct {
	// DataAPIRPS applies to www.googleapis.com (Data API and uploads).
	DataAPIRPS float64
	// FeedRPS applies to www.youtube.com (RSS feeds).
	FeedRPS float64
	// DefaultRPS applies to every other host, 0 disables limiting.
	DefaultRPS float64
	// CustomRates maps hostnames to RPS values.
	CustomRates map[string]float64
	// EnableDynamicBackoff enables automatic rate reduction on errors.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig returns defaults suited to the YouTube endpoints.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DataAPIRPS:           5.0,
		FeedRPS:              10.0,
		DefaultRPS:           5.0,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
	}
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		backoffState: make(map[string]*BackoffState),
		config:       cfg,
	}
}

// Wait blocks until the rate limit allows a request for the given URL.
func (rl *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	if rl == nil {
		return nil
	}
	limiter := rl.getLimiter(urlStr)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (rl *RateLimiter) getLimiter(urlStr string) *rate.Limiter {
	domain := extractDomain(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[domain]; ok {
		return limiter
	}
	rps := rl.getRPS(domain)
	if rps == 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[domain] = limiter
	return limiter
}

// getRPS returns the configured rate for domain. Callers hold mu.
func (rl *RateLimiter) getRPS(domain string) float64 {
	if rps, ok := rl.config.CustomRates[domain]; ok {
		return rps
	}
	switch domain {
	case "www.googleapis.com", "googleapis.com", "youtube.googleapis.com":
		return rl.config.DataAPIRPS
	case "www.youtube.com", "youtube.com":
		return rl.config.FeedRPS
	default:
		return rl.config.DefaultRPS
	}
}

// extractDomain returns the hostname of urlStr without port.
func extractDomain(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

// SetCustomRate sets a custom rate limit for a specific domain. A live
// limiter keeps its tokens and only changes rate; rps 0 removes the limit.
func (rl *RateLimiter) SetCustomRate(domain string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.config.CustomRates[domain] = rps
	if state, ok := rl.backoffState[domain]; ok {
		state.OriginalRPS = rps
	}
	limiter, ok := rl.limiters[domain]
	switch {
	case !ok:
	case rps == 0:
		delete(rl.limiters, domain)
	case limiter.Limit() != rate.Limit(rps):
		limiter.SetLimit(rate.Limit(rps))
	}
}

// Pace limits the URL's domain to one request per interval and waits for
// the next slot.
func (rl *RateLimiter) Pace(ctx context.Context, urlStr string, interval time.Duration) error {
	if rl == nil || interval <= 0 {
		return nil
	}
	rl.SetCustomRate(extractDomain(urlStr), 1/interval.Seconds())
	return rl.Wait(ctx, urlStr)
}

// RecordRateLimitError records a 429/503 for the URL's domain and returns
// the recommended wait before the next request.
func (rl *RateLimiter) RecordRateLimitError(urlStr string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialBackoff
	}

	domain := extractDomain(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.backoffState[domain]
	if !exists {
		state = &BackoffState{
			CurrentBackoff: InitialBackoff,
			OriginalRPS:    rl.getRPS(domain),
		}
		rl.backoffState[domain] = state
	}

	state.LastError = time.Now()
	state.ConsecutiveErrors++

	// 1s, 2s, 4s, ... capped at MaxBackoff
	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * BackoffMultiplier)
		if state.CurrentBackoff > MaxBackoff {
			state.CurrentBackoff = MaxBackoff
		}
	}
	if retryAfter > state.CurrentBackoff {
		state.CurrentBackoff = retryAfter
	}

	rl.reduceRate(domain, state)
	return state.CurrentBackoff
}

// reduceRate lowers the domain's limiter: 75%, 50%, then 25% of the
// original rate. Callers hold mu.
func (rl *RateLimiter) reduceRate(domain string, state *BackoffState) {
	factor := 0.75
	switch {
	case state.ConsecutiveErrors >= 3:
		factor = MinRPSMultiplier
	case state.ConsecutiveErrors == 2:
		factor = 0.5
	}
	state.ReducedRPS = state.OriginalRPS * factor

	if limiter, ok := rl.limiters[domain]; ok && state.ReducedRPS > 0 {
		limiter.SetLimit(rate.Limit(state.ReducedRPS))
	}
}

// RecordSuccess records a successful request, recovering the domain's rate.
func (rl *RateLimiter) RecordSuccess(urlStr string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}

	domain := extractDomain(urlStr)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, exists := rl.backoffState[domain]
	if !exists {
		return
	}

	if time.Since(state.LastError) > BackoffCooldownPeriod {
		if limiter, ok := rl.limiters[domain]; ok && state.OriginalRPS > 0 {
			limiter.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoffState, domain)
		return
	}

	if state.ConsecutiveErrors > 0 {
		state.ConsecutiveErrors--
		// Recover to 50% of original, full recovery after cooldown
		if state.ConsecutiveErrors == 0 && state.ReducedRPS > 0 {
			if half := state.OriginalRPS * 0.5; half > state.ReducedRPS {
				state.ReducedRPS = half
				if limiter, ok := rl.limiters[domain]; ok {
					limiter.SetLimit(rate.Limit(half))
				}
			}
		}
	}
}

// GetBackoffState returns a copy of the backoff state for the URL's
// domain, or nil.
func (rl *RateLimiter) GetBackoffState(urlStr string) *BackoffState {
	if rl == nil {
		return nil
	}
	domain := extractDomain(urlStr)

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if state, ok := rl.backoffState[domain]; ok {
		cp := *state
		return &cp
	}
	return nil
}

// IsBackedOff returns true if the domain is currently in a backoff state.
func (rl *RateLimiter) IsBackedOff(urlStr string) bool {
	state := rl.GetBackoffState(urlStr)
	return state != nil && time.Since(state.LastError) < state.CurrentBackoff
}

// WaitForBackoff waits for the current backoff period to expire.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, urlStr string) error {
	state := rl.GetBackoffState(urlStr)
	if state == nil {
		return nil
	}
	remaining := state.CurrentBackoff - time.Since(state.LastError)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
