// Package mutexloader deduplicates concurrent loads of the same entity so that
// any number of simultaneous requests for one ID trigger a single backing load.
package mutexloader

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"
)

// Callback receives the outcome of a load episode.
type Callback[T any] func(T, error)

// LoadFunc performs the backing load. It runs once per loading episode.
type LoadFunc[T any] func() (T, error)

type Loader[T any] struct {
	mu      sync.Mutex
	waiting map[string][]Callback[T]
	log     *log.Entry
}

func New[T any](name string) *Loader[T] {
	return &Loader[T]{
		waiting: map[string][]Callback[T]{},
		log: log.WithFields(log.Fields{
			"name":    fmt.Sprintf("MutexLoader (%s)", name),
			"modName": "MutexLoader",
		}),
	}
}

// Load registers cb for the result of loading id. If no load for id is in
// flight, load is started; otherwise cb joins the episode already running.
// Load never blocks on the load itself.
func (l *Loader[T]) Load(id string, load LoadFunc[T], cb Callback[T]) {
	l.mu.Lock()
	if waiters, ok := l.waiting[id]; ok {
		l.waiting[id] = append(waiters, cb)
		l.mu.Unlock()
		l.log.Debugf("Joined in-flight load for %s", id)
		return
	}
	l.waiting[id] = []Callback[T]{cb}
	l.mu.Unlock()

	go l.run(id, load)
}

func (l *Loader[T]) run(id string, load LoadFunc[T]) {
	result, err := l.call(load)

	// Waiters added up to this point belong to the episode; later callers start
	// a new one.
	l.mu.Lock()
	waiters := l.waiting[id]
	delete(l.waiting, id)
	l.mu.Unlock()

	if err != nil {
		l.log.Debugf("Load for %s failed for %d waiter(s): %s", id, len(waiters), err)
	}

	for _, cb := range waiters {
		cb(result, err)
	}
}

func (l *Loader[T]) call(load LoadFunc[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = fmt.Errorf("load panicked: %v", r)
		}
	}()
	return load()
}

// Wait is the blocking form of Load. A cancelled context only abandons this
// waiter; the load keeps running for the others.
func (l *Loader[T]) Wait(ctx context.Context, id string, load LoadFunc[T]) (T, error) {
	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	l.Load(id, load, func(result T, err error) {
		done <- outcome{result, err}
	})

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Loading reports whether a load for id is currently in flight.
func (l *Loader[T]) Loading(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.waiting[id]
	return ok
}
