package fetchgate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsCapacity(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultMaxConcurrent(), New(0).Capacity())
	require.Equal(t, DefaultMaxConcurrent(), New(-3).Capacity())
	require.Equal(t, 3, New(3).Capacity())
	require.Positive(t, DefaultMaxConcurrent())
}

func TestGateNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	const capacity = 3
	gate := New(capacity)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gate.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(capacity))
	require.Equal(t, 0, gate.InFlight())
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	gate := New(1)
	first, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, gate.InFlight())

	acquired := make(chan *Permit)
	go func() {
		p, err := gate.Acquire(context.Background())
		if err == nil {
			acquired <- p
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second caller should block while the only permit is held")
	case <-time.After(30 * time.Millisecond):
	}

	first.Release()
	select {
	case p := <-acquired:
		p.Release()
	case <-time.After(time.Second):
		t.Fatal("second caller was not admitted after release")
	}
	require.Equal(t, 0, gate.InFlight())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	gate := New(1)
	held, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = gate.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, gate.InFlight())
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	gate := New(2)
	p, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()
	p.Release()
	require.Equal(t, 0, gate.InFlight())

	// A double release must not mint an extra permit.
	a, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	b, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = gate.Acquire(ctx)
	require.Error(t, err)
	a.Release()
	b.Release()
}

func TestDoReleasesOnErrorAndPanic(t *testing.T) {
	t.Parallel()

	gate := New(1)
	errWant := errors.New("upstream down")
	require.ErrorIs(t, gate.Do(context.Background(), func(context.Context) error { return errWant }), errWant)
	require.Equal(t, 0, gate.InFlight())

	require.Panics(t, func() {
		_ = gate.Do(context.Background(), func(context.Context) error { panic("parser exploded") })
	})
	require.Equal(t, 0, gate.InFlight())

	called := false
	require.NoError(t, gate.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	}))
	require.True(t, called)
}
