// Package executor tracks outstanding background work so callers can wait
// for every queued event and spawned task to settle.
package executor

import (
	"context"
	"fmt"
	"sync"
)

type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
}

func New() *Executor {
	e := &Executor{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Begin marks one unit of pending work. The returned func must be called
// exactly once when the work is finished.
func (e *Executor) Begin() func() {
	e.mu.Lock()
	e.pending++
	e.mu.Unlock()
	var once sync.Once
	return func() { once.Do(e.done) }
}

func (e *Executor) done() {
	e.mu.Lock()
	e.pending--
	if e.pending <= 0 {
		e.pending = 0
		e.cond.Broadcast()
	}
	e.mu.Unlock()
}

// Go runs fn on a new goroutine and counts it as pending until it returns.
func (e *Executor) Go(fn func()) {
	end := e.Begin()
	go func() {
		defer end()
		fn()
	}()
}

// RunUntilParked blocks until no work is pending.
func (e *Executor) RunUntilParked() {
	e.mu.Lock()
	for e.pending > 0 {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

// WaitParked is RunUntilParked bounded by ctx.
func (e *Executor) WaitParked(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.RunUntilParked()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d tasks still pending: %w", e.Pending(), ctx.Err())
	}
}

func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}
