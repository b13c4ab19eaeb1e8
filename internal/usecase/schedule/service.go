package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
)

var (
	// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
	ErrInvalidTimezone = errors.New("invalid timezone")
	// ErrInvalidTime возвращается, если время не в формате ЧЧ:ММ.
	ErrInvalidTime = errors.New("invalid time of day")
)

// Daily — ежедневный запуск в заданное время и часовом поясе.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
	schedule cron.Schedule
}

// ParseDaily разбирает время "ЧЧ:ММ" и часовой пояс.
func ParseDaily(at, timezone string) (Daily, error) {
	tz, err := normalizeTimezone(timezone)
	if err != nil {
		return Daily{}, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Daily{}, fmt.Errorf("%w: %v", ErrInvalidTimezone, err)
	}
	clock, err := time.Parse("15:04", strings.TrimSpace(at))
	if err != nil {
		return Daily{}, fmt.Errorf("%w: %q", ErrInvalidTime, at)
	}
	spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", tz, clock.Minute(), clock.Hour())
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return Daily{}, fmt.Errorf("разбор расписания %q: %w", spec, err)
	}
	return Daily{Hour: clock.Hour(), Minute: clock.Minute(), Location: loc, schedule: sched}, nil
}

// Next возвращает ближайший запуск строго после t.
func (d Daily) Next(t time.Time) time.Time {
	return d.schedule.Next(t)
}

// Today возвращает слот запуска в тот же календарный день, что и t.
func (d Daily) Today(t time.Time) time.Time {
	local := t.In(d.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, d.Location)
}

// Job — работа, запускаемая по расписанию.
type Job func(ctx context.Context)

// Runner последовательно запускает Job по расписанию. Следующий запуск
// вычисляется только после завершения текущего.
type Runner struct {
	daily     Daily
	job       Job
	runMissed bool
	log       zerolog.Logger
	nextRun   atomic.Int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewRunner создаёт планировщик. runMissed запускает job сразу, если
// сегодняшний слот уже прошёл на момент старта.
func NewRunner(daily Daily, job Job, runMissed bool, log zerolog.Logger) *Runner {
	return &Runner{daily: daily, job: job, runMissed: runMissed, log: log, now: time.Now, sleep: sleepCtx}
}

// Run блокируется до отмены ctx.
func (r *Runner) Run(ctx context.Context) {
	now := r.now()
	if r.runMissed && now.After(r.daily.Today(now)) {
		r.log.Info().Time("slot", r.daily.Today(now)).Msg("scheduler: сегодняшний слот пропущен, запускаем сразу")
		r.setNext(r.daily.Next(now))
		r.job(ctx)
	}
	for {
		if ctx.Err() != nil {
			return
		}
		now = r.now()
		next := r.daily.Next(now)
		r.setNext(next)
		r.log.Info().Time("next_run", next).Msg("scheduler: следующий автодайджест")
		if !r.sleep(ctx, next.Sub(now)) {
			return
		}
		// Во время работы /status показывает уже следующий слот.
		r.setNext(r.daily.Next(next))
		r.job(ctx)
	}
}

// NextRun возвращает время следующего запуска. Пока выполняется текущий
// запуск, это уже слот после него.
func (r *Runner) NextRun() time.Time {
	if ns := r.nextRun.Load(); ns != 0 {
		return time.Unix(0, ns).In(r.daily.Location)
	}
	return r.daily.Next(r.now()).In(r.daily.Location)
}

func (r *Runner) setNext(t time.Time) {
	r.nextRun.Store(t.UnixNano())
	metrics.SetNextRun(t)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	if upper := strings.ToUpper(candidate); upper == "UTC" {
		return upper, nil
	}
	return "", ErrInvalidTimezone
}
