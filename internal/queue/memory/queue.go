// Package memory provides the bounded record queue between the spider and
// the ingestion pipeline.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/book-catalog-pipeline/internal/catalog"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. Once
// closed, Dequeue drains what is left and then returns io.EOF.
type Queue struct {
	ch      chan catalog.Record
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan catalog.Record, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a record, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, rec catalog.Record) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- rec:
		return nil
	}
}

// Dequeue pops the next record, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (catalog.Record, error) {
	select {
	case <-ctx.Done():
		return catalog.Record{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case rec := <-q.ch:
		return rec, nil
	case <-q.done:
		select {
		case rec := <-q.ch:
			return rec, nil
		default:
			return catalog.Record{}, io.EOF
		}
	}
}

// Len returns the number of buffered records.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting records. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.done)
	q.closed = true
}
