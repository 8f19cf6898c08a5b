package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bdobrica/Kokoro/common/retry"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// errLocalRateLimit marks a refusal by the guard's own limiter. The window
// outlasts any backoff, so it is never retried.
var errLocalRateLimit = errors.New("local rate limit exceeded")

// GuardConfig configures the protection applied to one provider's calls.
type GuardConfig struct {
	// Name identifies the provider in errors, logs and the rate limiter.
	Name string

	// Retry is the backoff schedule. ShouldRetry is always replaced: transient
	// provider failures retry, local rate-limit refusals do not.
	Retry retry.Config

	// Limiter is shared between guards when non-nil. Otherwise a private
	// limiter is built from RateLimit and RateWindow.
	Limiter    *RateLimiter
	RateLimit  int
	RateWindow time.Duration

	// BreakerFailures consecutive transient failures open the breaker for
	// BreakerTimeout, after which one probe call is let through.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Logger *slog.Logger
}

// Guard runs provider calls behind a rate limiter, a circuit breaker and a
// retry loop, in that order per attempt.
type Guard struct {
	name    string
	limiter *RateLimiter
	breaker *gobreaker.CircuitBreaker
	retry   retry.Config
	logger  *slog.Logger
}

// NewGuard builds a Guard. Zero fields take package defaults.
func NewGuard(cfg GuardConfig) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}

	rc := cfg.Retry
	rc.ShouldRetry = func(err error) bool {
		return Retryable(err) && !errors.Is(err, errLocalRateLimit)
	}
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Info("provider call failed, retrying",
			"provider", cfg.Name,
			"attempt", attempt,
			"kind", string(KindOf(err)),
			"delay", delay.String(),
		)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Caller mistakes (bad input, auth, schema mismatch) say nothing
		// about provider health and must not open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state changed",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})

	return &Guard{
		name:    cfg.Name,
		limiter: limiter,
		breaker: breaker,
		retry:   rc,
		logger:  logger,
	}
}

// Name returns the provider name the guard was built for.
func (g *Guard) Name() string { return g.name }

// State reports the breaker state ("closed", "open", "half-open").
func (g *Guard) State() string { return g.breaker.State().String() }

// Do runs fn under the guard. Whatever fn returns is classified, so the
// result is nil or an *Error.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, g.retry, func(ctx context.Context) error {
		if !g.limiter.Allow(g.name) {
			return &Error{Provider: g.name, Op: op, Kind: KindRateLimit, Err: errLocalRateLimit}
		}
		_, err := g.breaker.Execute(func() (interface{}, error) {
			if err := fn(ctx); err != nil {
				return nil, Classify(g.name, op, err)
			}
			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &Error{Provider: g.name, Op: op, Kind: KindUnavailable, Message: "circuit breaker open", Err: err}
		}
		return err
	})
	if err == nil {
		return nil
	}
	// A context that ended between attempts yields a bare ctx error; it is
	// reported as such rather than as whatever the last attempt failed with.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Classify(g.name, op, ctxErr)
	}
	return Classify(g.name, op, err)
}

// Call runs fn through g, or once without protection when g is nil. Either
// way a failure comes back as an *Error.
func Call(ctx context.Context, g *Guard, providerName, op string, fn func(ctx context.Context) error) error {
	if g != nil {
		return g.Do(ctx, op, fn)
	}
	if err := fn(ctx); err != nil {
		return Classify(providerName, op, err)
	}
	return nil
}
