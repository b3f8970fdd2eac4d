package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 3, BaseDelay: 1, MaxDelay: 1}
	err := Do(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsWhenShouldRetryFalse(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, BaseDelay: 1, MaxDelay: 1}
	err := Do(context.Background(), policy, func(err error) bool { return false }, func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoReturnsLastErrorAfterExhaustingAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: 1, MaxDelay: 1}
	calls := 0
	err := Do(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := Policy{MaxAttempts: 3, BaseDelay: 10, MaxDelay: 10}
	calls := 0
	err := Do(ctx, policy, nil, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
