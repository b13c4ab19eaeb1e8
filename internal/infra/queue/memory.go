package queue

import (
	"context"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

// MemoryDigestQueue — очередь задач в памяти для запуска без Redis.
type MemoryDigestQueue struct {
	jobs chan domain.DigestJob
}

var _ domain.DigestQueue = (*MemoryDigestQueue)(nil)

// NewMemoryDigestQueue создаёт очередь с буфером size.
func NewMemoryDigestQueue(size int) *MemoryDigestQueue {
	return &MemoryDigestQueue{jobs: make(chan domain.DigestJob, size)}
}

// Enqueue кладёт задачу в очередь или ждёт места до отмены ctx.
func (q *MemoryDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive ждёт следующую задачу.
func (q *MemoryDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	select {
	case job := <-q.jobs:
		return job, func(success bool) error {
			if success {
				return nil
			}
			select {
			case q.jobs <- job:
			default:
			}
			return nil
		}, nil
	case <-ctx.Done():
		return domain.DigestJob{}, nil, ctx.Err()
	}
}
