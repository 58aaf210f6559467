package memory

import (
	"context"
	"sync"

	"github.com/jwalitptl/repo-tracker/pkg/messaging"
)

// Queue is an in-process FIFO.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	dead  []T
}

var _ messaging.Queue[struct{}] = (*Queue[struct{}])(nil)

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Enqueue(_ context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *Queue[T]) Dequeue(_ context.Context) (T, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false, nil
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true, nil
}

func (q *Queue[T]) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *Queue[T]) DeadLetter(_ context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, item)
	return nil
}

func (q *Queue[T]) DeadLetterLen(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dead)), nil
}

// Items returns a copy of the pending items, head first.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items...)
}
