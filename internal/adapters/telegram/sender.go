package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
)

// maxRetryAfter ограничивает ожидание по ответу 429 от Bot API.
const maxRetryAfter = 30 * time.Second

type messageAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender отправляет HTML-сообщения через Bot API с общим ограничением скорости.
type Sender struct {
	api     messageAPI
	limiter ratelimit.Limiter
	log     zerolog.Logger
}

var _ domain.Sender = (*Sender)(nil)

// NewSender создаёт отправителя. rps ограничивает число сообщений в секунду.
func NewSender(api messageAPI, rps int, log zerolog.Logger) *Sender {
	limiter := ratelimit.NewUnlimited()
	if rps > 0 {
		limiter = ratelimit.New(rps)
	}
	return &Sender{api: api, limiter: limiter, log: log}
}

// Send делит текст по лимиту Telegram и отправляет части по порядку.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	for i, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.sendPart(ctx, chatID, part); err != nil {
			metrics.BotSendErrors.Inc()
			return fmt.Errorf("отправка части %d в чат %d: %w", i+1, chatID, err)
		}
	}
	return nil
}

func (s *Sender) sendPart(ctx context.Context, chatID int64, part string) error {
	msg := tgbotapi.NewMessage(chatID, part)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	err := s.send(chatID, msg)
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		wait := min(time.Duration(apiErr.RetryAfter)*time.Second, maxRetryAfter)
		s.log.Warn().Int64("chat_id", chatID).Dur("retry_after", wait).Msg("telegram: превышен лимит, ждём")
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		err = s.send(chatID, msg)
	}
	return err
}

func (s *Sender) send(chatID int64, msg tgbotapi.MessageConfig) error {
	s.limiter.Take()
	start := time.Now()
	_, err := s.api.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", strconv.FormatInt(chatID, 10), start, err)
	return err
}
