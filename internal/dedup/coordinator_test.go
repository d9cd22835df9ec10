package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoalesceMergesConcurrentCallers(t *testing.T) {
	t.Parallel()

	c := New[string](Config{}, nil, nil)
	defer c.Close()

	var calls atomic.Int32
	release := make(chan struct{})
	generate := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "rendered", nil
	}

	const callers = 8
	var (
		wg      sync.WaitGroup
		dedupCt atomic.Int32
	)
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, deduplicated, err := c.Coalesce(context.Background(), "key", generate)
			require.NoError(t, err)
			if deduplicated {
				dedupCt.Add(1)
			}
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool {
		return c.Pending() == 1
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, int32(callers-1), dedupCt.Load())
	for _, v := range results {
		require.Equal(t, "rendered", v)
	}
	require.Zero(t, c.Pending())
}

func TestCoalesceDistinctKeysRunIndependently(t *testing.T) {
	t.Parallel()

	c := New[int](Config{}, nil, nil)
	defer c.Close()

	var calls atomic.Int32
	for _, key := range []string{"a", "b"} {
		v, deduplicated, err := c.Coalesce(context.Background(), key, func(context.Context) (int, error) {
			return int(calls.Add(1)), nil
		})
		require.NoError(t, err)
		require.False(t, deduplicated)
		require.NotZero(t, v)
	}
	require.Equal(t, int32(2), calls.Load())
}

func TestCoalescePropagatesErrorToAllWaiters(t *testing.T) {
	t.Parallel()

	c := New[string](Config{}, nil, nil)
	defer c.Close()

	boom := errors.New("render crashed")
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := c.Coalesce(context.Background(), "key", func(context.Context) (string, error) {
				<-release
				return "", boom
			})
			errs[i] = err
		}(i)
	}
	require.Eventually(t, func() bool {
		return c.Pending() == 1
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, boom)
	}
}

func TestCoalesceCallerCancellationLeavesRunAlive(t *testing.T) {
	t.Parallel()

	c := New[string](Config{}, nil, nil)
	defer c.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _, _ = c.Coalesce(context.Background(), "key", func(context.Context) (string, error) {
			close(started)
			<-release
			return "late", nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, deduplicated, err := c.Coalesce(ctx, "key", func(context.Context) (string, error) {
		t.Fatal("second generator must not run")
		return "", nil
	})
	require.True(t, deduplicated)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The original run settles normally after the waiter gave up.
	close(release)
	require.Eventually(t, func() bool {
		return c.Pending() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCoalesceRecoversGeneratorPanic(t *testing.T) {
	t.Parallel()

	c := New[string](Config{}, nil, nil)
	defer c.Close()

	_, _, err := c.Coalesce(context.Background(), "key", func(context.Context) (string, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "kaboom")
	require.Zero(t, c.Pending())
}
