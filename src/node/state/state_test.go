package state

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerState(t *testing.T) {
	var m Manager
	require.Equal(t, Joining, m.GetState())

	m.SetState(Relocating)
	require.Equal(t, Relocating, m.GetState())
	require.Equal(t, "Relocating", m.GetState().String())
	require.Equal(t, "Unknown", State(42).String())
}

func TestManagerGoFunc(t *testing.T) {
	var m Manager
	var count int32
	for i := 0; i < 2*WGLIMIT; i++ {
		require.NoError(t, m.GoFunc(context.Background(), func() {
			atomic.AddInt32(&count, 1)
		}))
	}
	m.WaitRoutines()
	require.Equal(t, int32(2*WGLIMIT), atomic.LoadInt32(&count))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	block := make(chan struct{})
	for i := 0; i < WGLIMIT; i++ {
		require.NoError(t, m.GoFunc(context.Background(), func() { <-block }))
	}
	require.Error(t, m.GoFunc(ctx, func() {}))
	close(block)
	m.WaitRoutines()
}
