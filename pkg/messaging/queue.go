package messaging

import (
	"context"
)

// Queue is a durable FIFO. Enqueue appends at the tail and Dequeue removes
// from the head; removal is consumption.
type Queue[T any] interface {
	Enqueue(ctx context.Context, item T) error
	// Dequeue returns ok=false when the queue is empty.
	Dequeue(ctx context.Context) (item T, ok bool, err error)
	Len(ctx context.Context) (int64, error)
	// DeadLetter parks an item that will not be retried.
	DeadLetter(ctx context.Context, item T) error
	DeadLetterLen(ctx context.Context) (int64, error)
}
