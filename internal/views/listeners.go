// Package views adapts the long-lived services to short-lived consumers:
// each view mirrors a service's state, re-reads it on the matching events
// and forwards changes to its own listeners until it is closed.
package views

import (
	"log/slog"
	"sync"
)

// listeners fans a state out to registered callbacks. After close returns
// no callback is running or will run. Callbacks must not call close.
type listeners[T any] struct {
	gate   sync.RWMutex
	mu     sync.Mutex
	nextID int
	fns    map[int]func(T)
	closed bool
	logger *slog.Logger
}

func newListeners[T any](logger *slog.Logger) *listeners[T] {
	return &listeners[T]{fns: make(map[int]func(T)), logger: logger}
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return func() {}
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners[T]) emit(state T) {
	l.gate.RLock()
	defer l.gate.RUnlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		l.call(fn, state)
	}
}

func (l *listeners[T]) call(fn func(T), state T) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic in view listener", "panic", r)
		}
	}()
	fn(state)
}

// close waits for in-flight callbacks and drops every listener
func (l *listeners[T]) close() {
	l.mu.Lock()
	l.closed = true
	l.fns = map[int]func(T){}
	l.mu.Unlock()

	l.gate.Lock()
	//nolint:staticcheck // barrier only
	l.gate.Unlock()
}

func (l *listeners[T]) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
