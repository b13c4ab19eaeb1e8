package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

// RedisDigestQueue реализует очередь задач на базе Redis lists.
// Взятая задача лежит в списке <key>:processing до подтверждения.
type RedisDigestQueue struct {
	client     *redis.Client
	key        string
	processing string
}

var _ domain.DigestQueue = (*RedisDigestQueue)(nil)

// NewRedisDigestQueue создаёт очередь по указанному ключу.
func NewRedisDigestQueue(client *redis.Client, key string) *RedisDigestQueue {
	return &RedisDigestQueue{client: client, key: key, processing: key + ":processing"}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DigestJob{}, nil, err
		}

		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.DigestJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.DigestJob{}, nil, err
		}

		var job domain.DigestJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			_ = q.client.LRem(ctx, q.processing, 1, payload).Err()
			return domain.DigestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ack(payload), nil
	}
}

func (q *RedisDigestQueue) ack(payload string) domain.DigestAckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, payload)
			if !success {
				pipe.RPush(ctx, q.key, payload)
			}
			return nil
		})
		return err
	}
}
