package digest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

// Delivery описывает результат рассылки одного сообщения.
type Delivery struct {
	State      domain.DeliveryState
	Recipients int
	Reached    int
	Failed     []int64
}

// deliver отправляет text каждому получателю независимо. Ошибка одного
// получателя не прерывает рассылку; отмена ctx прерывает.
func deliver(ctx context.Context, sender domain.Sender, recipients []int64, text string, log zerolog.Logger) Delivery {
	d := Delivery{State: domain.DeliverySending, Recipients: len(recipients)}
	for i, chatID := range recipients {
		if ctx.Err() != nil {
			d.Failed = append(d.Failed, recipients[i:]...)
			log.Warn().Int("left", len(recipients)-i).Msg("digest: рассылка прервана")
			break
		}
		if err := sender.Send(ctx, chatID, text); err != nil {
			d.Failed = append(d.Failed, chatID)
			log.Error().Err(err).Int64("user", chatID).Msg("digest: не удалось отправить дайджест")
			continue
		}
		d.Reached++
	}
	return d
}
