package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
	"github.com/borisgern/tg-channels-digest/internal/usecase/digest"
)

// ErrInvalidPost возвращается для сообщений без обязательных полей.
var ErrInvalidPost = errors.New("некорректный пост")

// RawPost — сообщение канала в том виде, в каком его получил слушатель.
type RawPost struct {
	ChannelID       int64
	ChannelUsername string
	ChannelTitle    string
	MessageID       int64
	Date            time.Time
	Text            string
	// MediaType пуст для текстовых сообщений.
	MediaType string
}

// Notification описывает уведомление о новом посте.
type Notification struct {
	Channel     string
	PublishedAt time.Time
	Preview     string
	MediaType   string
}

// NotifyFormatter превращает уведомление в текст сообщения.
type NotifyFormatter func(n Notification) string

// Service сохраняет посты каналов и оповещает подписчиков.
type Service struct {
	posts  domain.PostRepo
	users  domain.UserRepo
	sender domain.Sender
	format NotifyFormatter
	log    zerolog.Logger
}

// NewService создаёт сервис приёма постов. При format == nil уведомления не отправляются.
func NewService(posts domain.PostRepo, users domain.UserRepo, sender domain.Sender, format NotifyFormatter, log zerolog.Logger) *Service {
	return &Service{posts: posts, users: users, sender: sender, format: format, log: log}
}

// Handle сохраняет пост и рассылает уведомление.
func (s *Service) Handle(ctx context.Context, raw RawPost) (int64, error) {
	post, err := Normalize(raw)
	if err != nil {
		metrics.IngestErrors.Inc()
		s.log.Error().Err(err).Int64("channel_id", raw.ChannelID).Int64("message_id", raw.MessageID).Msg("ingest: пост отклонён")
		return 0, err
	}
	id, err := s.posts.SavePost(ctx, post)
	if err != nil {
		metrics.IngestErrors.Inc()
		return 0, fmt.Errorf("сохранение поста: %w", err)
	}
	metrics.IncIngested(post.ChannelID)
	s.log.Info().Int64("post_id", id).Int64("channel_id", post.ChannelID).Str("channel", post.ChannelTitle).Msg("ingest: пост сохранён")

	if s.format != nil && s.sender != nil {
		s.notify(ctx, post, raw.MediaType)
	}
	return id, nil
}

func (s *Service) notify(ctx context.Context, post domain.Post, mediaType string) {
	users, err := s.users.ListUserIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("ingest: не удалось получить подписчиков")
		return
	}
	text := s.format(Notification{
		Channel:     post.ChannelTitle,
		PublishedAt: post.PublishedAt,
		Preview:     digest.Preview(post.Text),
		MediaType:   mediaType,
	})
	for _, userID := range users {
		if err := s.sender.Send(ctx, userID, text); err != nil {
			s.log.Warn().Err(err).Int64("user_id", userID).Msg("ingest: уведомление не доставлено")
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// Normalize проверяет сообщение и строит пост для хранилища.
func Normalize(raw RawPost) (domain.Post, error) {
	switch {
	case raw.ChannelID <= 0:
		return domain.Post{}, fmt.Errorf("%w: нет идентификатора канала", ErrInvalidPost)
	case raw.MessageID <= 0:
		return domain.Post{}, fmt.Errorf("%w: нет идентификатора сообщения", ErrInvalidPost)
	case raw.Date.IsZero():
		return domain.Post{}, fmt.Errorf("%w: нет даты", ErrInvalidPost)
	}
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		text = digest.MediaPlaceholder
	}
	username := strings.TrimPrefix(strings.TrimSpace(raw.ChannelUsername), "@")
	title := strings.TrimSpace(raw.ChannelTitle)
	if title == "" && username != "" {
		title = "@" + username
	}
	return domain.Post{
		ChannelID:    raw.ChannelID,
		ChannelTitle: title,
		MessageID:    raw.MessageID,
		PublishedAt:  raw.Date.UTC(),
		Text:         text,
		URL:          Permalink(raw.ChannelID, username, raw.MessageID),
	}, nil
}

// Permalink возвращает ссылку на сообщение. Для каналов без алиаса
// используется формат t.me/c/, доступный участникам канала.
func Permalink(channelID int64, username string, messageID int64) string {
	if username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", username, messageID)
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", channelID, messageID)
}
