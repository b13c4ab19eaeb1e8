package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Reporter отправляет ошибки в Sentry. Нулевой или nil Reporter ничего не отправляет.
type Reporter struct {
	enabled bool
	log     zerolog.Logger
}

// Init настраивает Sentry. Пустой dsn выключает отправку.
func Init(dsn, env, release string, logger zerolog.Logger) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{log: logger}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     release,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry.Init: %w", err)
	}
	return &Reporter{enabled: true, log: logger}, nil
}

// Capture отправляет ошибку с тегами.
func (r *Reporter) Capture(err error, tags map[string]string) {
	if r == nil || !r.enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// Recover перехватывает панику, пишет её в лог и в Sentry. Вызывать через defer.
func (r *Reporter) Recover(ctx context.Context, where string) {
	rec := recover()
	if rec == nil || r == nil {
		return
	}
	r.log.Error().Interface("panic", rec).Str("where", where).Msg("alerts: перехвачена паника")
	if r.enabled {
		sentry.CurrentHub().RecoverWithContext(ctx, rec)
	}
}

// Flush дожидается отправки событий.
func (r *Reporter) Flush() {
	if r == nil || !r.enabled {
		return
	}
	sentry.Flush(2 * time.Second)
}
