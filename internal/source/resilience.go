package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yashugupta786/sp/internal/metrics"
)

// RetryPolicy bounds each provider call.
type RetryPolicy struct {
	// CallTimeout caps one attempt.
	CallTimeout time.Duration
	// MaxAttempts counts the first try; values below 1 mean 1.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used for zero fields.
var DefaultRetryPolicy = RetryPolicy{
	CallTimeout:     30 * time.Second,
	MaxAttempts:     3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

type resilient struct {
	next    Provider
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *metrics.Collector
}

// WithResilience wraps p so every call runs under a timeout and transient
// failures are retried with exponential backoff. ErrNotFound and
// ErrUnauthorized are returned immediately.
func WithResilience(p Provider, policy RetryPolicy, logger *slog.Logger, mc *metrics.Collector) Provider {
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = DefaultRetryPolicy.CallTimeout
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &resilient{next: p, policy: policy, logger: logger, metrics: mc}
}

func (r *resilient) ListFolders(ctx context.Context, path string) ([]Folder, error) {
	var out []Folder
	err := r.do(ctx, metrics.OpProviderList, "list folders", path, func(ctx context.Context) error {
		var err error
		out, err = r.next.ListFolders(ctx, path)
		return err
	})
	return out, err
}

func (r *resilient) ListFiles(ctx context.Context, path string) ([]File, error) {
	var out []File
	err := r.do(ctx, metrics.OpProviderList, "list files", path, func(ctx context.Context) error {
		var err error
		out, err = r.next.ListFiles(ctx, path)
		return err
	})
	return out, err
}

func (r *resilient) FetchContent(ctx context.Context, file File) ([]byte, error) {
	var out []byte
	err := r.do(ctx, metrics.OpProviderFetch, "fetch content", file.Path, func(ctx context.Context) error {
		var err error
		out, err = r.next.FetchContent(ctx, file)
		return err
	})
	return out, err
}

func (r *resilient) do(ctx context.Context, op, action, path string, call func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.policy.InitialInterval
	policy.MaxInterval = r.policy.MaxInterval

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.policy.CallTimeout)
		defer cancel()

		start := time.Now()
		err := call(callCtx)
		r.metrics.RecordResult(op, time.Since(start), err)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s %q timed out after %s: %w", action, path, r.policy.CallTimeout, err)
		}
		r.logger.Warn("provider call failed", "action", action, "path", path, "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.policy.MaxAttempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("%s %q: %w", action, path, err)
	}
	return nil
}
