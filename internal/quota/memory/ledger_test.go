package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/quota"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCheckUnknownUser(t *testing.T) {
	t.Parallel()

	l := New(nil)
	_, err := l.Check(context.Background(), "ghost")
	require.ErrorIs(t, err, quota.ErrNotFound)
}

func TestConsumeDecrementsAndRefusesAtZero(t *testing.T) {
	t.Parallel()

	l := New(nil)
	l.Put(quota.Status{UserID: "u1", Total: 2, Remaining: 2})

	remaining, err := l.Consume(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), remaining)

	remaining, err = l.Consume(context.Background(), "u1")
	require.NoError(t, err)
	require.Zero(t, remaining)

	_, err = l.Consume(context.Background(), "u1")
	require.ErrorIs(t, err, quota.ErrExceeded)

	st, err := l.Check(context.Background(), "u1")
	require.ErrorIs(t, err, quota.ErrExceeded)
	require.Zero(t, st.Remaining)
}

func TestConcurrentConsumersNeverGoNegative(t *testing.T) {
	t.Parallel()

	const allowance = 10
	l := New(nil)
	l.Put(quota.Status{UserID: "u1", Total: allowance, Remaining: allowance})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		okCt int
	)
	for i := 0; i < allowance*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Consume(context.Background(), "u1"); err == nil {
				mu.Lock()
				okCt++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, allowance, okCt)
	st, err := l.Check(context.Background(), "u1")
	require.ErrorIs(t, err, quota.ErrExceeded)
	require.Zero(t, st.Remaining)
}

func TestCheckAppliesDueRefill(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	l := New(clock)
	l.Put(quota.Status{
		UserID:            "u1",
		Total:             100,
		Remaining:         0,
		RefillAmount:      40,
		RefillIntervalSec: 3600,
		RefilledAt:        clock.Now(),
	})

	_, err := l.Check(context.Background(), "u1")
	require.ErrorIs(t, err, quota.ErrExceeded)

	clock.Advance(time.Hour)
	st, err := l.Check(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(40), st.Remaining)
	require.Equal(t, clock.Now(), st.RefilledAt)

	// Refill tops up but never exceeds total.
	clock.Advance(time.Hour)
	clock.Advance(time.Hour)
	st, err = l.Check(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(80), st.Remaining)
}
