package writeback

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"fieldservice-backend/internal/store"
	"fieldservice-backend/internal/workerpool"
)

const (
	retryDelay     = 50 * time.Millisecond
	maxPersistRuns = 3
)

// Batch is everything pending for one task when a worker picks it up.
// Changes may be empty when the batch only retries a failed persist.
type Batch struct {
	TaskID  int64
	Changes []store.Change
	Attempt int
}

// Backlog coalesces committed changes by task id until a worker takes
// them. Add never blocks and never drops: a task stays dirty until a batch
// for it has been handed to the pool. At most one batch per task is in
// flight, so persists of the same task never race.
type Backlog struct {
	mu       sync.Mutex
	pending  map[int64]*Batch
	order    []int64 // dirty ids, oldest first
	inflight map[int64]bool
	closed   bool

	wake chan struct{}
}

func NewBacklog() *Backlog {
	return &Backlog{
		pending:  make(map[int64]*Batch),
		inflight: make(map[int64]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Add marks c's task dirty. Suitable as a store observer.
func (b *Backlog) Add(c store.Change) {
	b.mu.Lock()
	p := b.mark(c.Task.ID)
	p.Changes = append(p.Changes, c)
	b.mu.Unlock()
	b.signal()
}

// Len is the number of dirty tasks not yet handed to the pool.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Close lets Pump return once everything pending has been handled.
func (b *Backlog) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

// Pump hands dirty tasks to pool until the backlog is closed and empty.
// When the pool is full the task stays dirty and is offered again after a
// worker finishes or retryDelay passes.
func (b *Backlog) Pump(pool *workerpool.Pool[Batch]) {
	for {
		b.mu.Lock()
		batch, ok := b.next()
		finished := !ok && b.closed && len(b.order) == 0 && len(b.inflight) == 0
		b.mu.Unlock()

		if finished {
			return
		}
		if !ok {
			b.wait(0)
			continue
		}

		err := pool.Enqueue(batch)
		if err == nil {
			continue
		}
		b.mu.Lock()
		b.putBack(batch)
		b.mu.Unlock()
		if errors.Is(err, workerpool.ErrPoolClosed) {
			log.Printf("[WARN] write-back pool closed with %d tasks dirty", b.Len())
			return
		}
		b.wait(retryDelay)
	}
}

// Job adapts w to the pool. Every batch is released back to the backlog
// when handled, and a failed persist puts the task back for another run.
func (b *Backlog) Job(w *Writer) workerpool.Handler[Batch] {
	return func(ctx context.Context, batch Batch) {
		defer b.release(batch.TaskID)

		err := w.HandleBatch(ctx, batch)
		if err == nil {
			return
		}
		log.Printf("[WARN] write-back task=%d: %v", batch.TaskID, err)
		if !errors.Is(err, ErrPersist) {
			return
		}
		if batch.Attempt+1 >= maxPersistRuns {
			log.Printf("[ERROR] write-back task=%d: giving up after %d persists", batch.TaskID, batch.Attempt+1)
			return
		}
		b.mu.Lock()
		if p := b.mark(batch.TaskID); p.Attempt < batch.Attempt+1 {
			p.Attempt = batch.Attempt + 1
		}
		b.mu.Unlock()
	}
}

func (b *Backlog) mark(id int64) *Batch {
	p, ok := b.pending[id]
	if !ok {
		p = &Batch{TaskID: id}
		b.pending[id] = p
		b.order = append(b.order, id)
	}
	return p
}

// next removes the oldest dirty task that has no batch in flight.
func (b *Backlog) next() (Batch, bool) {
	for i, id := range b.order {
		if b.inflight[id] {
			continue
		}
		b.order = slices.Delete(b.order, i, i+1)
		batch := *b.pending[id]
		delete(b.pending, id)
		b.inflight[id] = true
		return batch, true
	}
	return Batch{}, false
}

// putBack returns a batch the pool refused, ahead of anything added since.
func (b *Backlog) putBack(batch Batch) {
	delete(b.inflight, batch.TaskID)
	if later, ok := b.pending[batch.TaskID]; ok {
		later.Changes = append(batch.Changes, later.Changes...)
		return
	}
	p := batch
	b.pending[batch.TaskID] = &p
	b.order = append([]int64{batch.TaskID}, b.order...)
}

func (b *Backlog) release(id int64) {
	b.mu.Lock()
	delete(b.inflight, id)
	b.mu.Unlock()
	b.signal()
}

func (b *Backlog) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Backlog) wait(d time.Duration) {
	if d <= 0 {
		<-b.wake
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-b.wake:
	case <-t.C:
	}
}
