package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"breakout/internal/domain"
	"breakout/internal/util"
)

// Compile-time interface check.
var _ Provider = (*ResilientProvider)(nil)

// ResilientOptions configures NewResilientProvider. Zero values take the
// defaults noted on each field.
type ResilientOptions struct {
	Name            string        // breaker name, default "marketdata"
	Timeout         time.Duration // per-fetch deadline, default 30s
	RateLimitPerMin int           // 0 disables limiting
	Attempts        int           // default 3
	RetryDelay      time.Duration // initial backoff, default 500ms
	BreakerFailures uint32        // consecutive failures to open, default 5
	BreakerCooldown time.Duration // open state duration, default 60s
}

func (o ResilientOptions) withDefaults() ResilientOptions {
	if o.Name == "" {
		o.Name = "marketdata"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 60 * time.Second
	}
	return o
}

// ResilientProvider bounds each fetch with a deadline, spaces calls with a
// rate limiter, retries transient failures with backoff and sheds load with a
// circuit breaker once the upstream keeps failing.
//
// Empty results and invalid parameters are answers, not failures: they are
// neither retried nor counted by the breaker.
type ResilientProvider struct {
	inner   Provider
	opts    ResilientOptions
	limiter *util.RateLimiter
	breaker *gobreaker.CircuitBreaker
	obs     Observer
	log     *slog.Logger
}

// NewResilientProvider wraps inner. obs may be nil.
func NewResilientProvider(inner Provider, o ResilientOptions, obs Observer) *ResilientProvider {
	o = o.withDefaults()
	if obs == nil {
		obs = nopObserver{}
	}
	log := slog.Default().With("component", "marketdata", "breaker", o.Name)

	st := gobreaker.Settings{
		Name:        o.Name,
		MaxRequests: 1,
		Timeout:     o.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isAnswer(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
		},
	}

	return &ResilientProvider{
		inner:   inner,
		opts:    o,
		limiter: util.NewRateLimiter(o.RateLimitPerMin),
		breaker: gobreaker.NewCircuitBreaker(st),
		obs:     obs,
		log:     log,
	}
}

// State reports the breaker state ("closed", "half-open" or "open").
func (p *ResilientProvider) State() string {
	return p.breaker.State().String()
}

// FetchBars fetches through the breaker with retries under the deadline.
func (p *ResilientProvider) FetchBars(ctx context.Context, ticker string, start, end time.Time, interval string) ([]domain.Bar, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	began := time.Now()
	v, err := p.breaker.Execute(func() (interface{}, error) {
		var bars []domain.Bar
		err := util.Retry(ctx, p.opts.Attempts, p.opts.RetryDelay, func() error {
			if err := p.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return util.Permanent(ctx.Err())
				}
				// The next token lies beyond the deadline.
				return util.Permanent(fmt.Errorf("rate limited: %w", context.DeadlineExceeded))
			}
			var ferr error
			bars, ferr = p.inner.FetchBars(ctx, ticker, start, end, interval)
			if ferr != nil && (isAnswer(ferr) || ctx.Err() != nil) {
				return util.Permanent(ferr)
			}
			if ferr != nil {
				p.log.Debug("fetch attempt failed", "ticker", ticker, "error", ferr)
			}
			return ferr
		})
		return bars, err
	})
	p.obs.FetchDone(p.opts.Name, time.Since(began), err)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return v.([]domain.Bar), nil
}

// isAnswer reports errors that describe the request rather than the upstream.
func isAnswer(err error) bool {
	return errors.Is(err, domain.ErrNoData) || domain.IsInvalidParameter(err) || domain.IsDataShape(err)
}
