package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics counts background routine runs by how they ended.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Cancelled int64 `json:"cancelled"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned by Submit once the pool is shut down.
var ErrPoolShutdown = errors.New("routine pool is shut down")

type poolCounters struct {
	active, completed, cancelled, failed, panics atomic.Int64
}

// WorkerPool runs started routines in the background, at most size at a
// time. A routine that panics is counted as failed and does not take the
// process down.
type WorkerPool struct {
	slots    chan struct{}
	stopping chan struct{}
	running  sync.WaitGroup
	counts   poolCounters

	mu     sync.Mutex
	closed bool
}

func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		slots:    make(chan struct{}, max(size, 1)),
		stopping: make(chan struct{}),
	}
}

// Submit takes a slot and runs fn on its own goroutine. It blocks while
// every slot is taken and gives up with ctx's error when ctx ends first.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-p.stopping:
		return ErrPoolShutdown
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-p.stopping:
		return ErrPoolShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	if !p.admit() {
		<-p.slots
		return ErrPoolShutdown
	}
	go p.run(ctx, fn)
	return nil
}

// admit registers a run unless Shutdown got there first. Registration is
// under mu so Shutdown's wait sees every admitted run.
func (p *WorkerPool) admit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.running.Add(1)
	p.counts.active.Add(1)
	return true
}

func (p *WorkerPool) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		if recover() != nil {
			p.counts.panics.Add(1)
			p.counts.failed.Add(1)
		}
		p.counts.active.Add(-1)
		<-p.slots
		p.running.Done()
	}()
	p.settle(fn(ctx))
}

func (p *WorkerPool) settle(err error) {
	switch {
	case err == nil:
		p.counts.completed.Add(1)
	case IsCancelled(err):
		p.counts.cancelled.Add(1)
	default:
		p.counts.failed.Add(1)
	}
}

// Wait blocks until every admitted run has returned.
func (p *WorkerPool) Wait() { p.running.Wait() }

// Shutdown refuses new runs and waits for the admitted ones. It is safe
// to call more than once.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stopping)
	}
	p.mu.Unlock()
	p.running.Wait()
}

func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.counts.active.Load(),
		Completed: p.counts.completed.Load(),
		Cancelled: p.counts.cancelled.Load(),
		Failed:    p.counts.failed.Load(),
		Panics:    p.counts.panics.Load(),
	}
}
