package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/retry"
)

// Strategy is one attempt in an ordered degradation chain.
type Strategy[T any] struct {
	// Name identifies the strategy in fallback events.
	Name string
	Run  func(ctx context.Context) (T, error)
}

// WithFallbacks runs strategies in order until one succeeds and produces a
// sufficient result. A strategy failure (error, or a result the insufficient
// predicate rejects) records one fallback event and moves on to the next
// strategy. The events are always returned, also on total failure, so the
// caller can merge them into the job context.
//
// insufficient may be nil, in which case any non-error result is accepted.
func WithFallbacks[T any](ctx context.Context, strategies []Strategy[T], insufficient func(T) bool) (T, []models.FallbackEvent, error) {
	var zero T
	var events []models.FallbackEvent

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, events, err
		}

		result, err := s.Run(ctx)
		if err != nil {
			events = append(events, models.FallbackEvent{
				Step:  s.Name,
				Error: err.Error(),
			})
			continue
		}
		if insufficient != nil && insufficient(result) {
			events = append(events, models.FallbackEvent{
				Step:   s.Name,
				Reason: "insufficient result",
			})
			continue
		}
		return result, events, nil
	}

	return zero, events, fmt.Errorf("all %d strategies failed", len(strategies))
}

// WithSecondary runs primary and, on any error, substitutes secondary with
// the same inputs. Exactly one fallback event is recorded when the secondary
// runs. There are no further degradation levels.
func WithSecondary[T any](ctx context.Context, step string, primary, secondary func(ctx context.Context) (T, error)) (T, []models.FallbackEvent, error) {
	result, err := primary(ctx)
	if err == nil {
		return result, nil, nil
	}

	events := []models.FallbackEvent{{Step: step, Error: err.Error()}}
	result, err = secondary(ctx)
	if err != nil {
		return result, events, fmt.Errorf("secondary after primary failure: %w", err)
	}
	return result, events, nil
}

// WithRetry retries fn up to maxRetries additional attempts with exponential
// backoff, re-returning the last error when all attempts are exhausted. A
// success on a retried attempt records one {step: "retry", attempt: n}
// fallback event so the result reflects that the first attempt failed.
func WithRetry[T any](ctx context.Context, maxRetries int, fn func(ctx context.Context) (T, error)) (T, []models.FallbackEvent, error) {
	var zero T
	var lastErr error

	cfg := retry.DefaultConfig()
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				return result, []models.FallbackEvent{{Step: "retry", Attempt: attempt}}, nil
			}
			return result, nil, nil
		}
		lastErr = err

		if attempt < maxRetries {
			select {
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * cfg.Multiplier)
				if delay > cfg.MaxDelay {
					delay = cfg.MaxDelay
				}
			case <-ctx.Done():
				return zero, nil, ctx.Err()
			}
		}
	}

	return zero, nil, lastErr
}
