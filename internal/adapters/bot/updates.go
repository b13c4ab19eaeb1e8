package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// UpdateHandler обрабатывает один апдейт.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tgbotapi.Update)
}

// PanicRecoverer перехватывает панику обработчика. Вызывается через defer.
type PanicRecoverer interface {
	Recover(ctx context.Context, where string)
}

// Dispatcher запускает обработку каждого апдейта в отдельной горутине с таймаутом.
type Dispatcher struct {
	handler   UpdateHandler
	recoverer PanicRecoverer
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher создаёт диспетчер апдейтов.
func NewDispatcher(handler UpdateHandler, recoverer PanicRecoverer, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{handler: handler, recoverer: recoverer, timeout: timeout}
}

// Dispatch обрабатывает апдейт асинхронно.
func (d *Dispatcher) Dispatch(ctx context.Context, upd tgbotapi.Update) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if d.recoverer != nil {
			defer d.recoverer.Recover(ctx, "bot.update")
		}
		d.handler.HandleUpdate(ctx, upd)
	}()
}

// Wait дожидается завершения начатых обработчиков.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

type updatesAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poll получает апдейты long polling до отмены ctx.
func Poll(ctx context.Context, api updatesAPI, d *Dispatcher, log zerolog.Logger) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	cfg.AllowedUpdates = []string{"message"}
	updates := api.GetUpdatesChan(cfg)
	log.Info().Msg("bot: long polling запущен")
	defer d.Wait()
	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			d.Dispatch(ctx, upd)
		}
	}
}

// WebhookHandler принимает апдейты по HTTP. Апдейт обрабатывается в контексте ctx,
// ответ на запрос возвращается сразу.
func WebhookHandler(ctx context.Context, d *Dispatcher, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upd tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			log.Warn().Err(err).Msg("bot: некорректный апдейт вебхука")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.Dispatch(ctx, upd)
		w.WriteHeader(http.StatusOK)
	}
}
