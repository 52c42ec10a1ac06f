package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// was skipped by an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// provider type, each with its own [CircuitBreaker]. Entries are tried in
// registration order.
//
// Register all entries before first use; AddFallback is not synchronised
// with Execute.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg, log: cfg.Logger}
	if fg.log == nil {
		fg.log = slog.Default()
	}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback entry.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	if cb.Logger == nil {
		cb.Logger = fg.log
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cb),
	})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Execute runs fn against each entry until one succeeds. See [ExecuteWithResult].
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against each entry of fg until one succeeds and
// returns its result.
//
// Entries with an open breaker are skipped. When ctx is done the loop stops
// with ctx's error rather than trying further entries. When every entry
// fails the error wraps both [ErrAllFailed] and the last failure, so callers
// can still test it for sentinels such as a transient transport error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		e := &fg.entries[i]
		var res R
		err := e.breaker.Execute(func() error {
			var err error
			res, err = fn(e.value)
			return err
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.log.Debug("skipping provider, circuit open", "provider", e.name)
			continue
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		fg.log.Warn("provider failed, trying next", "provider", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
