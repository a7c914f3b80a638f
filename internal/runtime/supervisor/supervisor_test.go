package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })

	require.Error(t, s.Wait(waitCtx(t)), "panic surfaces as an error")
	snap := s.Snapshot()
	require.Len(t, snap.Goroutines, 1)
	assert.EqualValues(t, 1, snap.Goroutines[0].Panics)
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(ctx context.Context) error { return errors.New("bad") })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	assert.EqualError(t, s.Wait(waitCtx(t)), "fail: bad")
	assert.Error(t, s.Context().Err(), "supervisor context is cancelled")
}

func TestCanceledIsCleanStop(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Stop(waitCtx(t)))
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := NewSupervisor(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.EqualValues(t, 3, calls.Load())
	for _, g := range s.Snapshot().Goroutines {
		if g.Name == "flaky" {
			assert.EqualValues(t, 2, g.Restarts)
		}
	}
}
