package workerpool

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrPoolFull   = errors.New("pool queue is full")
	ErrPoolClosed = errors.New("pool is closed")
)

// Handler processes one job. ctx is cancelled only when Shutdown gives up
// waiting.
type Handler[J any] func(ctx context.Context, job J)

// Pool runs jobs on a fixed set of workers behind a bounded queue. Enqueue
// never blocks.
type Pool[J any] struct {
	queue  chan J
	handle Handler[J]

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New[J any](queueSize int, handle Handler[J]) *Pool[J] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[J]{
		queue:  make(chan J, queueSize),
		handle: handle,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches n workers.
func (p *Pool[J]) Start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[J]) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		p.handle(p.ctx, job)
	}
}

func (p *Pool[J]) Enqueue(job J) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, in-flight handlers see their context cancelled.
func (p *Pool[J]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
