package domain

import (
	"context"
	"time"
)

// DigestJobCause описывает источник запроса на дайджест.
type DigestJobCause string

const (
	// DigestCauseManual — пользователь запросил дайджест командой /digest.
	DigestCauseManual DigestJobCause = "manual"
)

// DigestJob содержит информацию о задаче построения дайджеста.
type DigestJob struct {
	ID          string         `json:"job_id,omitempty"`
	UserID      int64          `json:"user_id"`
	ChatID      int64          `json:"chat_id"`
	Language    string         `json:"language,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       DigestJobCause `json:"cause"`
}

// DigestQueue описывает очередь задач на построение дайджестов.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	Receive(ctx context.Context) (DigestJob, DigestAckFunc, error)
}

// DigestAckFunc подтверждает обработку задачи или возвращает её в очередь.
type DigestAckFunc func(success bool) error
