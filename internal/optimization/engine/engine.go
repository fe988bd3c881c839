// Package engine provides the execution primitives the optimizers are built
// on: a serializing executor for side-effecting variable mutations, fences
// that expose those mutations as explicit ordering dependencies, and the
// bounded loop construct shared by the unrolled and dynamic loop strategies.
package engine

import (
	"errors"
	"sync"
)

// ErrClosed is returned by fences for ops submitted after Close.
var ErrClosed = errors.New("engine: closed")

// Fence marks the completion of a previously submitted op. Any computation
// that must observe the op's effects waits on the fence first; this is the
// read-after-write barrier between a variable mutation and the next loss
// evaluation or perturbation draw.
type Fence struct {
	done chan struct{}
	err  error
}

// Wait blocks until the fenced op has been materialized and returns its
// error, if any.
func (f *Fence) Wait() error {
	<-f.done
	return f.err
}

func failedFence(err error) *Fence {
	f := &Fence{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

type op struct {
	fn    func() error
	fence *Fence
}

// Engine executes side-effecting ops one at a time, in submission order, on a
// single worker goroutine. Reads that wait on an op's fence are therefore
// guaranteed to see every earlier submitted mutation as well.
type Engine struct {
	mu     sync.Mutex
	ops    chan op
	closed bool
	wg     sync.WaitGroup
}

// New creates an engine and starts its worker.
func New() *Engine {
	e := &Engine{ops: make(chan op)}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Engine) run() {
	defer e.wg.Done()
	for o := range e.ops {
		o.fence.err = o.fn()
		close(o.fence.done)
	}
}

// Do submits fn for execution and returns its fence. Ops run strictly in the
// order they were submitted.
func (e *Engine) Do(fn func() error) *Fence {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return failedFence(ErrClosed)
	}
	f := &Fence{done: make(chan struct{})}
	e.ops <- op{fn: fn, fence: f}
	e.mu.Unlock()
	return f
}

// Close stops the worker after all submitted ops have run. Subsequent Do
// calls return a fence that fails with ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.ops)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
