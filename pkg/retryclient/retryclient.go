// Package retryclient implements the shared "instrumented client"
// abstraction (§9 design note) used by every external provider client
// (inverter, price, weather): exponential backoff retry, a per-provider
// circuit breaker, and a Metered discriminator that lets system-originated
// housekeeping calls (clears, verification reads, toggle-off cleanup) skip
// the per-tenant API counter while user-triggered calls increment it.
//
// Hand-rolled rather than built on a generic retry library: the presets in
// §4.3/§4.6 (default: 3 attempts, 500ms-30s backoff; critical apply: 5
// attempts, 2s-30s) and the rate-limit-does-not-count-as-failure rule don't
// map cleanly onto a one-size-fits-all retrier, and the pack's own
// retry/circuit-breaker code (scheduler.go, live-engine.go) is hand-rolled
// for the same reason.
package retryclient

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Preset bundles a retry policy. DefaultPreset and CriticalPreset cover the
// two budgets named in §4.3/§4.6; callers may build their own.
type Preset struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	Multiplier      float64
}

// DefaultPreset is the general external-call budget (§4.3): three attempts,
// 500ms initial backoff doubling to a 30s cap.
var DefaultPreset = Preset{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second, Multiplier: 2}

// CriticalPreset is the apply-schedule budget (§4.6 step 8.2): up to five
// attempts, 2s initial backoff doubling to a 30s cap.
var CriticalPreset = Preset{MaxAttempts: 5, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second, Multiplier: 2}

// ClearPreset is the clear-active budget (§4.6 step 9.1): three attempts at
// a fixed 1.2s backoff.
var ClearPreset = Preset{MaxAttempts: 3, InitialBackoff: 1200 * time.Millisecond, MaxBackoff: 1200 * time.Millisecond, Multiplier: 1}

// RateLimitedError marks a provider response as rate-limited. Retry
// continues (with backoff) but the call never counts toward the per-tenant
// quota, even on eventual success (§4.3, §7).
type RateLimitedError struct{ Err error }

func (e *RateLimitedError) Error() string { return "rate limited: " + e.Err.Error() }
func (e *RateLimitedError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err (or one it wraps) is a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// CallOpts configures a single instrumented call.
type CallOpts struct {
	Provider  string // "inverter", "price", "weather"
	Operation string
	Metered   bool // false for system-originated housekeeping calls
	Preset    Preset
}

// Client wraps a provider's transport with retry, circuit breaker, and
// metering. One Client per provider per process.
type Client struct {
	Breaker *Breaker
	Logger  *slog.Logger

	Calls          *prometheus.CounterVec // labels: provider, operation, origin, outcome
	BreakerChanges *prometheus.CounterVec // labels: provider, state

	// Counter, if set, is invoked once per call that is Metered and did not
	// fail with a rate-limit error (§4.8 counter discipline).
	Counter func(ctx context.Context, provider string)
}

// NewClient creates an instrumented client for one provider.
func NewClient(provider string, failThreshold int, cooldown time.Duration, logger *slog.Logger, calls, breakerChanges *prometheus.CounterVec) *Client {
	c := &Client{
		Breaker:        NewBreaker(failThreshold, cooldown),
		Logger:         logger,
		Calls:          calls,
		BreakerChanges: breakerChanges,
	}
	c.Breaker.OnTransition(func(from, to BreakerState) {
		if breakerChanges != nil {
			breakerChanges.WithLabelValues(provider, string(to)).Inc()
		}
		logger.Info("circuit breaker transition", "provider", provider, "from", from, "to", to)
	})
	return c
}

// Do executes fn with retry/backoff and circuit-breaker admission control.
// fn should return a *RateLimitedError when the provider responds with a
// distinguished rate-limit status.
func (c *Client) Do(ctx context.Context, opts CallOpts, fn func(ctx context.Context) error) error {
	if !c.Breaker.Allow() {
		return errCircuitOpen(opts.Provider)
	}

	preset := opts.Preset
	if preset.MaxAttempts == 0 {
		preset = DefaultPreset
	}

	backoff := preset.InitialBackoff
	var lastErr error
	rateLimited := false

	for attempt := 1; attempt <= preset.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			c.Breaker.RecordSuccess()
			c.recordOutcome(opts, "success")
			if opts.Metered && c.Counter != nil {
				c.Counter(ctx, opts.Provider)
			}
			return nil
		}

		if IsRateLimited(lastErr) {
			rateLimited = true
			c.Logger.Warn("provider rate limited",
				"provider", opts.Provider, "operation", opts.Operation, "attempt", attempt)
		} else {
			c.Logger.Error("provider call failed",
				"provider", opts.Provider, "operation", opts.Operation, "attempt", attempt, "error", lastErr)
		}

		if attempt == preset.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			c.recordOutcome(opts, "cancelled")
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * preset.Multiplier)
		if backoff > preset.MaxBackoff {
			backoff = preset.MaxBackoff
		}
	}

	if rateLimited {
		// Rate limiting is a provider-side throttle, not our failure: it
		// does not count against the breaker or the per-tenant quota.
		c.recordOutcome(opts, "rate_limited")
		return lastErr
	}

	c.Breaker.RecordFailure()
	c.recordOutcome(opts, "failure")
	return lastErr
}

func (c *Client) recordOutcome(opts CallOpts, outcome string) {
	if c.Calls == nil {
		return
	}
	origin := "system"
	if opts.Metered {
		origin = "user"
	}
	c.Calls.WithLabelValues(opts.Provider, opts.Operation, origin, outcome).Inc()
}

type circuitOpenError struct{ provider string }

func (e *circuitOpenError) Error() string { return "circuit breaker open for provider " + e.provider }

func errCircuitOpen(provider string) error { return &circuitOpenError{provider: provider} }
