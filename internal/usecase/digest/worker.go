package digest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

// ManualRunner строит ручной дайджест по задаче.
type ManualRunner interface {
	RunManual(ctx context.Context, job domain.DigestJob) (Report, error)
}

// Worker обрабатывает задачи /digest из очереди.
type Worker struct {
	queue  domain.DigestQueue
	runner ManualRunner
	log    zerolog.Logger
	// JobTimeout ограничивает одну задачу.
	JobTimeout time.Duration
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.DigestQueue, runner ManualRunner, log zerolog.Logger) *Worker {
	return &Worker{queue: queue, runner: runner, log: log, JobTimeout: 3 * time.Minute}
}

// Run запускает n обработчиков и ждёт их завершения после отмены ctx.
func (w *Worker) Run(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("user", job.UserID).
			Str("cause", string(job.Cause)).
			Logger()

		if job.ChatID == 0 {
			job.ChatID = job.UserID
		}
		if job.ChatID == 0 {
			jobLog.Error().Msg("worker: задача без получателя, подтверждаем и пропускаем")
			w.ack(ack, true, jobLog)
			continue
		}

		jobCtx, cancel := context.WithTimeout(ctx, w.JobTimeout)
		report, err := w.runner.RunManual(jobCtx, job)
		cancel()

		if ctx.Err() != nil && report.State != domain.DeliveryDelivered {
			jobLog.Warn().Msg("worker: остановка во время задачи, возвращаем её в очередь")
			w.ack(ack, false, jobLog)
			return
		}
		if err != nil {
			jobLog.Error().Err(err).Msg("worker: ручной дайджест завершился ошибкой")
		} else {
			jobLog.Info().
				Str("outcome", string(report.Outcome)).
				Str("state", string(report.State)).
				Int("posts", report.Posts).
				Msg("worker: ручной дайджест обработан")
		}
		w.ack(ack, true, jobLog)
	}
}

func (w *Worker) ack(ack domain.DigestAckFunc, success bool, log zerolog.Logger) {
	if ack == nil {
		return
	}
	if err := ack(success); err != nil {
		log.Error().Err(err).Bool("success", success).Msg("worker: не удалось подтвердить задачу")
	}
}
