package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Policy configures a retry loop.
type Policy struct {
	MaxRetries int           // retries after the first attempt, default 1
	BaseDelay  time.Duration // default 1s
	MaxDelay   time.Duration // default 10s

	// Legacy decides "possible" errors when set; otherwise they are retried.
	Legacy func(error) bool
	// Retryable overrides classification entirely when set (used for capture,
	// where every failure is worth another try).
	Retryable func(error) bool

	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() float64 // returns a factor in [0.8, 1.2)
	Logger *slog.Logger
	// OnRetry is called before each retry sleep.
	OnRetry func(name string, c Classification)
}

// DefaultPolicy is one retry with a 1s base delay.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	if p.Jitter == nil {
		p.Jitter = func() float64 { return 0.8 + 0.4*rand.Float64() }
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Delay is the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int, kind string, jitter float64) time.Duration {
	p = p.withDefaults()
	d := float64(p.BaseDelay) * Multiplier(kind) * math.Pow(2, float64(attempt-1)) * jitter
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op up to MaxRetries+1 times. Errors classified not-worth or manual
// are returned at once.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				p.Logger.Info("retry.recovered", "op", name, "attempts", attempt+1)
			}
			return result, nil
		}
		lastErr = err

		c := Classify(err)
		if !p.shouldRetry(err, c) {
			return zero, err
		}
		if attempt == p.MaxRetries {
			p.Logger.Error("retry.exhausted", "op", name, "kind", c.Kind, "retries", p.MaxRetries, "error", err)
			return zero, err
		}

		delay := p.Delay(attempt+1, c.Kind, p.Jitter())
		p.Logger.Warn("retry.attempt_failed",
			"op", name,
			"attempt", attempt+1,
			"of", p.MaxRetries+1,
			"kind", c.Kind,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if p.OnRetry != nil {
			p.OnRetry(name, c)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func (p Policy) shouldRetry(err error, c Classification) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	switch c.Retryability {
	case Definite:
		return true
	case Possible:
		if p.Legacy != nil {
			return p.Legacy(err)
		}
		return true
	case NotWorth:
		p.Logger.Error("retry.not_worth", "kind", c.Kind, "error", err)
		return false
	default:
		p.Logger.Error("retry.manual_required", "kind", c.Kind, "error", err)
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry sleep: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
