// Package casretry implements the load-mutate-save loop used with stores
// that reject writes on a version mismatch instead of locking.
package casretry

import (
	"context"
	"errors"
)

var ErrAttemptsExceeded = errors.New("casretry: attempts exceeded")

// Do loads an entity, applies mutate to it and saves it back. If save fails
// with an error matching conflict, the entity is reloaded and the mutation
// reapplied, up to maxAttempts times in total. Once the ceiling is exceeded
// the last conflict error is returned wrapped in ErrAttemptsExceeded.
//
// Any error from load or mutate, and any save error that is not a conflict,
// aborts the loop immediately.
func Do[T any](
	ctx context.Context,
	conflict error,
	maxAttempts int,
	load func(context.Context) (T, error),
	mutate func(T) error,
	save func(context.Context, T) error,
) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		entity, err := load(ctx)
		if err != nil {
			return zero, err
		}

		if err := mutate(entity); err != nil {
			return zero, err
		}

		if err := save(ctx, entity); err != nil {
			if errors.Is(err, conflict) {
				lastErr = err
				continue
			}

			return zero, err
		}

		return entity, nil
	}

	return zero, errors.Join(ErrAttemptsExceeded, lastErr)
}
