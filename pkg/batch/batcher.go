package batch

import (
	"context"
	"sync"
	"time"
)

// FlushFunc receives every item queued since the previous flush, in order.
type FlushFunc[T any] func(ctx context.Context, items []T) error

type Config struct {
	Size       int           // flush as soon as this many items are queued
	Interval   time.Duration // flush at least this often
	MaxPending int           // oldest items are dropped beyond this; 0 means 4*Size
}

// Batcher collects items and hands them to a FlushFunc in groups, either
// when Size is reached or every Interval.
type Batcher[T any] struct {
	config  Config
	flushFn FlushFunc[T]
	onError func(err error, items int)

	mu      sync.Mutex
	pending []T
	dropped int
	stopped bool

	flushCh chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

func New[T any](config Config, flush FlushFunc[T]) *Batcher[T] {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.Interval <= 0 {
		config.Interval = 100 * time.Millisecond
	}
	if config.MaxPending <= 0 {
		config.MaxPending = 4 * config.Size
	}

	b := &Batcher[T]{
		config:  config,
		flushFn: flush,
		pending: make([]T, 0, config.Size),
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

// OnError sets the callback for failed background flushes.
func (b *Batcher[T]) OnError(fn func(err error, items int)) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

// Add queues item. It reports false once the batcher is stopped.
func (b *Batcher[T]) Add(item T) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	if len(b.pending) >= b.config.MaxPending {
		b.pending = b.pending[1:]
		b.dropped++
	}
	b.pending = append(b.pending, item)
	full := len(b.pending) >= b.config.Size
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush hands the queued items to the FlushFunc now.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	items := b.pending
	b.pending = make([]T, 0, b.config.Size)
	b.mu.Unlock()

	return b.flushFn(ctx, items)
}

func (b *Batcher[T]) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushInBackground()
		case <-b.flushCh:
			b.flushInBackground()
		case <-b.stopCh:
			b.flushInBackground()
			return
		}
	}
}

func (b *Batcher[T]) flushInBackground() {
	b.mu.Lock()
	n := len(b.pending)
	onError := b.onError
	b.mu.Unlock()

	if err := b.Flush(context.Background()); err != nil && onError != nil {
		onError(err, n)
	}
}

// Stop flushes what is left and waits for the background loop to exit.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	<-b.done
}

func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Dropped counts items discarded because MaxPending was exceeded.
func (b *Batcher[T]) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
