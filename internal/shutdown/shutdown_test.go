package shutdown

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUSR1Controller() *Controller {
	c := New(time.Second, nil)
	c.signals = []os.Signal{syscall.SIGUSR1}
	return c
}

func TestContextCancelledOnFirstSignalAndForcedOnSecond(t *testing.T) {
	c := newUSR1Controller()
	var forced atomic.Bool
	ctx, stop := c.Context(context.Background(), func() { forced.Store(true) })
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after signal")
	}
	assert.Equal(t, syscall.SIGUSR1, c.Signal())
	assert.False(t, forced.Load())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))
	assert.Eventually(t, forced.Load, 2*time.Second, 10*time.Millisecond)
}

func TestStopReleasesWithoutSignal(t *testing.T) {
	c := newUSR1Controller()
	ctx, stop := c.Context(context.Background(), nil)
	stop()
	stop()

	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Nil(t, c.Signal())
}
