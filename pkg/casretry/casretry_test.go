package casretry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("version conflict")

type counter struct {
	value   int
	version int
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	loads := 0
	got, err := Do(context.Background(), errConflict, 3,
		func(context.Context) (*counter, error) {
			loads++
			return &counter{value: 1}, nil
		},
		func(c *counter) error {
			c.value++
			return nil
		},
		func(context.Context, *counter) error { return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, 2, got.value)
	assert.Equal(t, 1, loads)
}

func TestDo_RetriesOnConflict(t *testing.T) {
	saves := 0
	got, err := Do(context.Background(), errConflict, 3,
		func(context.Context) (*counter, error) {
			return &counter{version: saves}, nil
		},
		func(c *counter) error {
			c.value++
			return nil
		},
		func(_ context.Context, c *counter) error {
			saves++
			if saves < 3 {
				return errConflict
			}
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, saves)
	assert.Equal(t, 1, got.value, "mutation must be applied to the reloaded entity, not stacked")
}

func TestDo_SurfacesConflictAfterCeiling(t *testing.T) {
	_, err := Do(context.Background(), errConflict, 3,
		func(context.Context) (*counter, error) { return &counter{}, nil },
		func(*counter) error { return nil },
		func(context.Context, *counter) error { return errConflict },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExceeded)
	assert.ErrorIs(t, err, errConflict)
}

func TestDo_NonConflictSaveErrorAborts(t *testing.T) {
	errBoom := errors.New("boom")
	saves := 0
	_, err := Do(context.Background(), errConflict, 3,
		func(context.Context) (*counter, error) { return &counter{}, nil },
		func(*counter) error { return nil },
		func(context.Context, *counter) error {
			saves++
			return errBoom
		},
	)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, saves)
}

func TestDo_LoadErrorAborts(t *testing.T) {
	errGone := errors.New("gone")
	_, err := Do(context.Background(), errConflict, 3,
		func(context.Context) (*counter, error) { return nil, errGone },
		func(*counter) error { return nil },
		func(context.Context, *counter) error { return nil },
	)
	assert.ErrorIs(t, err, errGone)
}
