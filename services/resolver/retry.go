package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"reelrelay/config"
	"reelrelay/internal/metrics"
	"reelrelay/models"
)

// Retrier wraps a Provider with a bounded number of attempts and a linear
// backoff of base*attempt between them.
type Retrier struct {
	provider    Provider
	maxAttempts uint
	backoffBase time.Duration
	retryAll    bool
	timer       retry.Timer
	logger      *slog.Logger
}

// RetrierOption customises a Retrier.
type RetrierOption func(*Retrier)

// WithTimer replaces the timer used for backoff sleeps.
func WithTimer(timer retry.Timer) RetrierOption {
	return func(r *Retrier) { r.timer = timer }
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(logger *slog.Logger) RetrierOption {
	return func(r *Retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetrier builds a Retrier from the resolver settings.
func NewRetrier(provider Provider, cfg config.ResolverSettings, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		provider:    provider,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		retryAll:    cfg.RetryPolicy == config.RetryPolicyAll,
		logger:      slog.Default(),
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the first result carrying a direct URL. Once attempts are
// exhausted, or a terminal failure is hit under the strict policy, the error
// wraps ErrResolutionFailed and the last *Failure.
func (r *Retrier) Resolve(ctx context.Context, req models.ResolutionRequest) (*models.ResolutionResult, error) {
	attempt := 0

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(r.maxAttempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(_ uint, _ error, _ *retry.Config) time.Duration {
			return r.backoffBase * time.Duration(attempt)
		}),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return r.shouldRetry(err)
		}),
		retry.OnRetry(func(_ uint, err error) {
			r.logger.Warn("resolver.attempt.failed",
				"shortcode", req.Shortcode,
				"attempt", attempt,
				"max_attempts", r.maxAttempts,
				"backoff", r.backoffBase*time.Duration(attempt),
				"error", err)
		}),
	}
	if r.timer != nil {
		opts = append(opts, retry.WithTimer(r.timer))
	}

	result, err := retry.DoWithData(func() (*models.ResolutionResult, error) {
		attempt++
		res, err := r.provider.Resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		if res == nil || strings.TrimSpace(res.DirectURL) == "" {
			return nil, &Failure{Kind: KindEmptyResult, Message: "provider returned no media url"}
		}
		return res, nil
	}, opts...)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues("failed").Inc()
		r.logger.Info("resolver.resolution.failed",
			"shortcode", req.Shortcode, "attempts", attempt, "error", err)
		return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrResolutionFailed, attempt, err)
	}

	metrics.ResolutionsTotal.WithLabelValues("success").Inc()
	r.logger.Debug("resolver.resolution.succeeded", "shortcode", req.Shortcode, "attempts", attempt)
	return result, nil
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.retryAll {
		return true
	}
	if kind, ok := FailureKind(err); ok {
		return kind.Retryable()
	}
	return true
}
