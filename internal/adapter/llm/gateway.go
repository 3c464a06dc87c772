package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// Settings configures the resilience policy around a Generator.
type Settings struct {
	// RequestTimeout bounds the whole call, retries included.
	RequestTimeout  time.Duration
	RetryAttempts   int
	RetryMinWait    time.Duration
	RetryMaxWait    time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Gateway wraps a Generator with an overall timeout, exponential-backoff
// retries on transient errors and a circuit breaker. Each attempt passes
// through the breaker, so an open breaker stops the retry loop at once.
type Gateway struct {
	gen      Generator
	settings Settings
	breaker  *gobreaker.CircuitBreaker
	log      logr.Logger
}

// NewGateway creates a Gateway.
func NewGateway(gen Generator, s Settings, log logr.Logger) *Gateway {
	if s.RetryAttempts <= 0 {
		s.RetryAttempts = 1
	}
	if s.BreakerFailures <= 0 {
		s.BreakerFailures = 5
	}
	g := &Gateway{gen: gen, settings: s, log: log.WithName("gateway")}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "model-backend",
		MaxRequests: 1,
		Timeout:     s.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(s.BreakerFailures)
		},
		// Only backend trouble counts against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// Generate performs the call with the full resilience policy. Exhausted
// retries and an open breaker both surface as domain.ErrModelUnavailable;
// running out of time additionally matches domain.ErrTimeout.
func (g *Gateway) Generate(ctx context.Context, req *GenerateRequest) (domain.ModelReply, error) {
	if g.settings.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.settings.RequestTimeout)
		defer cancel()
	}

	attempt := 0
	op := func() (domain.ModelReply, error) {
		attempt++
		v, err := g.breaker.Execute(func() (interface{}, error) {
			return g.gen.Generate(ctx, req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.ModelReply{}, backoff.Permanent(fmt.Errorf("%w: circuit %s", domain.ErrModelUnavailable, g.breaker.State()))
		}
		if err != nil {
			if !IsTransient(err) {
				return domain.ModelReply{}, backoff.Permanent(err)
			}
			return domain.ModelReply{}, err
		}
		return v.(domain.ModelReply), nil
	}

	notify := func(err error, wait time.Duration) {
		g.log.Info("model call failed, retrying", "attempt", attempt, "wait", wait.String(), "error", err.Error())
	}

	reply, err := backoff.RetryNotifyWithData(op, backoff.WithContext(g.policy(), ctx), notify)
	if err == nil {
		return reply, nil
	}

	switch {
	case errors.Is(err, domain.ErrModelUnavailable):
		return domain.ModelReply{}, err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.ModelReply{}, fmt.Errorf("%w: %w after %s: %w", domain.ErrModelUnavailable, domain.ErrTimeout, g.settings.RequestTimeout, err)
	case IsTransient(err):
		return domain.ModelReply{}, fmt.Errorf("%w: %d attempts failed: %w", domain.ErrModelUnavailable, attempt, err)
	default:
		return domain.ModelReply{}, err
	}
}

// policy returns a fresh deterministic backoff: the first wait is RetryMinWait,
// each next one doubles, capped at RetryMaxWait.
func (g *Gateway) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.settings.RetryMinWait
	b.MaxInterval = g.settings.RetryMaxWait
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(g.settings.RetryAttempts-1))
}

// HealthCheck probes the backend outside the breaker.
func (g *Gateway) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return g.gen.HealthCheck(ctx)
}

// BreakerState reports the breaker state for operational visibility.
func (g *Gateway) BreakerState() string {
	return g.breaker.State().String()
}
