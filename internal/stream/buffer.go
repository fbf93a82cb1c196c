package stream

import (
	"context"
	"sync"

	"github.com/relabs-tech/attitude_stream/internal/orientation"
)

// Buffer decouples the ingestion rate from consumer draw rates: a bounded
// ring written by exactly one producer and read by any number of consumers.
// Overflow policy is overwrite-oldest, so a slow consumer always sees the
// most recent value(s) and memory never grows. A published sample is either
// fully visible or not visible at all.
type Buffer struct {
	mu     sync.RWMutex
	data   []orientation.Sample
	head   int
	size   int
	seq    uint64
	notify chan struct{}
}

// NewBuffer creates a buffer holding the most recent capacity samples.
// Capacity 1 is "latest wins"; values below 1 are raised to 1.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		data:   make([]orientation.Sample, capacity),
		notify: make(chan struct{}),
	}
}

// Publish stores s, overwriting the oldest slot when full, and wakes any
// waiting consumers.
func (b *Buffer) Publish(s orientation.Sample) {
	b.mu.Lock()
	b.data[b.head] = s
	b.head = (b.head + 1) % len(b.data)
	if b.size < len(b.data) {
		b.size++
	}
	b.seq++
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

// Latest returns the most recently published sample and its sequence
// number. ok is false while nothing has been published yet.
func (b *Buffer) Latest() (s orientation.Sample, seq uint64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return orientation.Sample{}, 0, false
	}
	idx := (b.head - 1 + len(b.data)) % len(b.data)
	return b.data[idx], b.seq, true
}

// Recent returns up to n samples, newest first. For short-history consumers
// such as trail plotters.
func (b *Buffer) Recent(n int) []orientation.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.size {
		n = b.size
	}
	out := make([]orientation.Sample, n)
	for i := 0; i < n; i++ {
		out[i] = b.data[(b.head-1-i+len(b.data))%len(b.data)]
	}
	return out
}

// Await blocks until a sample newer than afterSeq is available or ctx ends.
// A consumer that polls faster than the producer publishes uses Latest for
// the non-blocking variant; Await is the explicit bounded wait.
func (b *Buffer) Await(ctx context.Context, afterSeq uint64) (orientation.Sample, uint64, error) {
	for {
		b.mu.RLock()
		seq := b.seq
		ch := b.notify
		var s orientation.Sample
		if b.size > 0 {
			s = b.data[(b.head-1+len(b.data))%len(b.data)]
		}
		have := b.size > 0
		b.mu.RUnlock()

		if have && seq > afterSeq {
			return s, seq, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return orientation.Sample{}, afterSeq, ctx.Err()
		}
	}
}
