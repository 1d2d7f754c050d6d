package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/speakerid/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the per-entry breaker configuration. Each provider in
	// the group gets its own breaker built from this template.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt, when non-nil, observes the outcome of every entry tried
	// during a call: err is nil on success, [ErrCircuitOpen] for an entry
	// skipped by its breaker, any other error for a provider failure. Used to
	// record per-provider metrics without tying the group to a metrics
	// backend; see [AttemptRecorder].
	OnAttempt func(ctx context.Context, name string, err error)
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup composes a primary and zero or more fallback instances of one
// provider type. Calls try each entry in registration order until one
// succeeds; entries with an open breaker are skipped without waiting.
//
// FallbackGroup is safe for concurrent use once assembled. AddFallback is not
// synchronised — register all entries before the first call.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider, tried after all earlier entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in try order, primary first.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds and returns its result. Entries with an open breaker are skipped.
// When ctx is done after a failed attempt, the cascade stops and that error
// is returned as-is — the remaining entries would only fail the same way.
// When every entry fails, the last error is wrapped in [ErrAllFailed].
//
// This is a package-level function because Go methods cannot introduce type
// parameters of their own.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if fg.cfg.OnAttempt != nil {
			fg.cfg.OnAttempt(ctx, entry.name, err)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping provider, circuit open", "provider", entry.name)
		case ctx.Err() != nil:
			return zero, err
		default:
			slog.Warn("provider failed, trying next",
				"provider", entry.name,
				"error", err,
			)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// AttemptRecorder returns an OnAttempt hook that counts every provider
// attempt on m under the given kind ("chat", "embeddings"): successful calls
// as status "ok", breaker skips as "skipped", failures as "error" plus an
// error-counter increment.
func AttemptRecorder(m *observe.Metrics, kind string) func(context.Context, string, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return func(ctx context.Context, name string, err error) {
		status := "ok"
		switch {
		case errors.Is(err, ErrCircuitOpen):
			status = "skipped"
		case err != nil:
			status = "error"
			m.RecordProviderError(ctx, name, kind)
		}
		m.RecordProviderRequest(ctx, name, kind, status)
	}
}
