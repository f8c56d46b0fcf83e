package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/devchannel/pkg/log"
)

func TestPool_RunsTasks(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 4, QueueSize: 64}, log.NewNoopLogger())

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.True(t, p.Post(func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(50), n.Load())
	require.NoError(t, p.Close(time.Second))
}

func TestPool_RejectsWhenFull(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, nil)

	release := make(chan struct{})
	running := make(chan struct{})
	require.True(t, p.Post(func() {
		close(running)
		<-release
	}))
	<-running

	require.True(t, p.Post(func() {}), "queue slot should be free")
	assert.False(t, p.Post(func() {}), "queue is full")
	assert.Equal(t, 1, p.Pending())

	close(release)
	require.NoError(t, p.Close(time.Second))
}

func TestPool_RejectsAfterClose(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, nil)
	require.NoError(t, p.Close(time.Second))
	require.NoError(t, p.Close(time.Second))

	assert.False(t, p.Post(func() { t.Error("must not run") }))
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 8}, nil)

	var n atomic.Int32
	for i := 0; i < 8; i++ {
		require.True(t, p.Post(func() {
			time.Sleep(time.Millisecond)
			n.Add(1)
		}))
	}
	require.NoError(t, p.Close(time.Second))
	assert.Equal(t, int32(8), n.Load())
}

func TestPool_CloseTimeout(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1}, nil)
	release := make(chan struct{})
	defer close(release)

	require.True(t, p.Post(func() { <-release }))
	assert.ErrorIs(t, p.Close(20*time.Millisecond), ErrCloseTimeout)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4}, nil)

	done := make(chan struct{})
	require.True(t, p.Post(func() { panic("boom") }))
	require.True(t, p.Post(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
	require.NoError(t, p.Close(time.Second))
}

func TestDispatchers(t *testing.T) {
	done := make(chan struct{})
	assert.True(t, Go{}.Post(func() { close(done) }))
	<-done

	assert.False(t, Reject{}.Post(func() {}))

	var called bool
	f := Func(func(fn func()) bool { fn(); return true })
	assert.True(t, f.Post(func() { called = true }))
	assert.True(t, called)
}
