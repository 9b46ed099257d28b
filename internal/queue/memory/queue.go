// Package memory provides the in-process crawl job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. Items
// whose NotBefore lies in the future are held back until it passes.
type Queue struct {
	ch   chan crawler.QueueItem
	done chan struct{}
	now  func() time.Time

	mu      sync.Mutex
	closed  bool
	delayed map[*time.Timer]struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:      make(chan crawler.QueueItem, capacity),
		done:    make(chan struct{}),
		now:     time.Now,
		delayed: make(map[*time.Timer]struct{}),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends. A
// delayed item returns immediately and is delivered once due.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if delay := item.NotBefore.Sub(q.now()); delay > 0 {
		return q.schedule(item, delay)
	}
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
	case q.ch <- item:
		return nil
	}
}

func (q *Queue) schedule(item crawler.QueueItem, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.delayed, timer)
		q.mu.Unlock()
		select {
		case q.ch <- item:
		case <-q.done:
		}
	})
	q.delayed[timer] = struct{}{}
	return nil
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.QueueItem{}, ErrClosed
	case item := <-q.ch:
		return item, nil
	}
}

// Len reports ready plus delayed items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch) + len(q.delayed)
}

// Close stops delivery and drops delayed items. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	for timer := range q.delayed {
		timer.Stop()
	}
	clear(q.delayed)
}
