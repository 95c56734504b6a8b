package mutexloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	value *int
	err   error
}

func TestMain(m *testing.M) {
	log.SetHandler(log.HandlerFunc(func(*log.Entry) error { return nil }))
	m.Run()
}

func TestLoader_SingleInvocation(t *testing.T) {
	loader := New[*int]("test")

	const waiters = 64
	var calls atomic.Int32
	release := make(chan struct{})
	load := func() (*int, error) {
		calls.Add(1)
		<-release
		v := 42
		return &v, nil
	}

	results := make(chan result, waiters)
	var started sync.WaitGroup
	for i := 0; i < waiters; i++ {
		started.Add(1)
		go func() {
			loader.Load("game-1", load, func(v *int, err error) {
				results <- result{v, err}
			})
			started.Done()
		}()
	}
	started.Wait()
	require.True(t, loader.Loading("game-1"))
	close(release)

	var first *int
	for i := 0; i < waiters; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			if first == nil {
				first = r.value
			}
			// Every waiter gets the very same value.
			assert.Same(t, first, r.value)
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d callbacks fired", i, waiters)
		}
	}

	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, loader.Loading("game-1"))
}

func TestLoader_ErrorDeliveredToAll(t *testing.T) {
	loader := New[string]("test")
	failure := errors.New("store unavailable")
	release := make(chan struct{})
	var calls atomic.Int32

	load := func() (string, error) {
		calls.Add(1)
		<-release
		return "", failure
	}

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		loader.Load("x", load, func(_ string, err error) { errs <- err })
	}
	close(release)

	for i := 0; i < 3; i++ {
		assert.Same(t, failure, <-errs)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestLoader_NewEpisodeAfterCompletion(t *testing.T) {
	loader := New[int]("test")
	var calls atomic.Int32
	load := func() (int, error) {
		return int(calls.Add(1)), nil
	}

	v, err := loader.Wait(context.Background(), "x", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = loader.Wait(context.Background(), "x", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestLoader_Panic(t *testing.T) {
	loader := New[int]("test")
	_, err := loader.Wait(context.Background(), "x", func() (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, loader.Loading("x"))
}

func TestLoader_WaitCancelled(t *testing.T) {
	loader := New[int]("test")
	release := make(chan struct{})
	load := func() (int, error) {
		<-release
		return 7, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loader.Wait(ctx, "x", load)
	assert.ErrorIs(t, err, context.Canceled)

	// The abandoned load still completes for everyone else.
	done := make(chan int, 1)
	loader.Load("x", load, func(v int, _ error) { done <- v })
	close(release)
	assert.Equal(t, 7, <-done)
}
