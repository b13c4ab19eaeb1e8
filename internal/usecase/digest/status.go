package digest

import (
	"context"
	"fmt"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

// Status — состояние очереди постов для следующего автодайджеста.
type Status struct {
	Unsent   domain.UnsentStats
	Channels []domain.ChannelStat
}

// Status возвращает число неотправленных постов и разбивку по каналам.
func (s *Service) Status(ctx context.Context) (Status, error) {
	stats, err := s.posts.CountUnsent(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("подсчёт неотправленных постов: %w", err)
	}
	st := Status{Unsent: stats}
	if stats.Count == 0 {
		return st, nil
	}
	channels, err := s.posts.UnsentByChannel(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("digest: не удалось получить разбивку по каналам")
		return st, nil
	}
	st.Channels = channels
	return st, nil
}
