package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), DefaultPolicy(), nil, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	policy := Policy{Enabled: true, MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, ExponentialBase: 2}
	v, err := Do(context.Background(), policy, nil, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("boom")
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, v)
	require.Equal(t, 3, calls)
}

func TestDoExhausted(t *testing.T) {
	policy := Policy{Enabled: true, MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	var observed []int
	_, err := Do(context.Background(), policy, func(attempt int, err error, delay time.Duration) {
		observed = append(observed, attempt)
	}, func(ctx context.Context) (int, error) {
		return 0, errors.New("always fails")
	})
	var exhausted *Exhausted
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, []int{0, 1}, observed)
}

func TestDoCancellationDuringWait(t *testing.T) {
	policy := Policy{Enabled: true, MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, ExponentialBase: 2}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, policy, nil, func(ctx context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	require.ErrorIs(t, err, ErrCanceled)
}

func TestDoCancellationObservedBeforeCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, DefaultPolicy(), nil, func(ctx context.Context) (int, error) {
		t.Fatal("op should not be invoked")
		return 0, nil
	})
	require.ErrorIs(t, err, ErrCanceled)
}

func TestDoDisabledPassesThrough(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Enabled: false}, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCanceled)
	require.Equal(t, 1, calls)
}

func TestObserverPanicIsRecovered(t *testing.T) {
	policy := Policy{Enabled: true, MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	_, err := Do(context.Background(), policy, func(attempt int, err error, delay time.Duration) {
		panic("should not propagate")
	}, func(ctx context.Context) (int, error) {
		return 0, errors.New("fail")
	})
	require.Error(t, err)
}
