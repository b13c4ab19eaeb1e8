package mtproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/updates"
	updhook "github.com/gotd/td/telegram/updates/hook"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
	"github.com/borisgern/tg-channels-digest/internal/usecase/channels"
	"github.com/borisgern/tg-channels-digest/internal/usecase/ingest"
)

// ErrNotAuthorized возвращается, если сессия не авторизована и вход по телефону невозможен.
var ErrNotAuthorized = errors.New("MTProto-сессия не авторизована, задайте MTPROTO_PHONE или импортируйте сессию")

// PostHandler принимает сообщения отслеживаемых каналов.
type PostHandler interface {
	Handle(ctx context.Context, raw ingest.RawPost) (int64, error)
}

// PanicRecoverer перехватывает панику в обработчике. Вызывается через defer.
type PanicRecoverer interface {
	Recover(ctx context.Context, where string)
}

// Config — параметры пользовательского клиента MTProto.
type Config struct {
	APIID    int
	APIHash  string
	Phone    string
	Password string
	// EventTimeout ограничивает обработку одного сообщения.
	EventTimeout time.Duration
}

// Listener слушает новые сообщения каналов от имени пользователя.
type Listener struct {
	cfg       Config
	storage   session.Storage
	watchlist *channels.Watchlist
	handler   PostHandler
	recoverer PanicRecoverer
	codeInput io.Reader
	log       zerolog.Logger
	wg        sync.WaitGroup
}

// NewListener создаёт слушателя каналов.
func NewListener(cfg Config, storage session.Storage, watchlist *channels.Watchlist, handler PostHandler, recoverer PanicRecoverer, log zerolog.Logger) *Listener {
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 30 * time.Second
	}
	return &Listener{
		cfg:       cfg,
		storage:   storage,
		watchlist: watchlist,
		handler:   handler,
		recoverer: recoverer,
		codeInput: os.Stdin,
		log:       log,
	}
}

// Run подключается к Telegram и обрабатывает обновления до отмены ctx.
func (l *Listener) Run(ctx context.Context) error {
	dispatcher := tg.NewUpdateDispatcher()
	gaps := updates.New(updates.Config{Handler: dispatcher})
	client := telegram.NewClient(l.cfg.APIID, l.cfg.APIHash, telegram.Options{
		SessionStorage: l.storage,
		UpdateHandler:  gaps,
		Middlewares:    []telegram.Middleware{updhook.UpdateHook(gaps.Handle)},
	})

	dispatcher.OnNewChannelMessage(func(_ context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		l.dispatch(ctx, e, u)
		return nil
	})

	defer l.wg.Wait()
	return client.Run(ctx, func(ctx context.Context) error {
		if err := l.authorize(ctx, client); err != nil {
			return err
		}
		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("получение профиля: %w", err)
		}
		l.resolveWatchlist(ctx, client.API())
		return gaps.Run(ctx, client.API(), self.ID, updates.AuthOptions{
			IsBot: self.Bot,
			OnStart: func(context.Context) {
				l.log.Info().Int64("self_id", self.ID).Int("channels", len(l.watchlist.Refs())).Msg("mtproto: слушаем каналы")
			},
		})
	})
}

func (l *Listener) authorize(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("проверка авторизации: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if l.cfg.Phone == "" {
		return ErrNotAuthorized
	}
	l.log.Warn().Msg("mtproto: сессия не авторизована, выполняем вход по телефону")
	flow := auth.NewFlow(
		auth.Constant(l.cfg.Phone, l.cfg.Password, auth.CodeAuthenticatorFunc(l.readCode)),
		auth.SendCodeOptions{},
	)
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("вход в аккаунт: %w", err)
	}
	return nil
}

func (l *Listener) readCode(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Fprint(os.Stderr, "Введите код подтверждения из Telegram: ")
	line, err := bufio.NewReader(l.codeInput).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("чтение кода: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return "", errors.New("код подтверждения не введён")
	}
	return code, nil
}

func (l *Listener) resolveWatchlist(ctx context.Context, api *tg.Client) {
	for _, ref := range l.watchlist.Refs() {
		if ref.Alias == "" {
			continue
		}
		start := time.Now()
		resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: ref.Alias})
		metrics.ObserveNetworkRequest("mtproto", "resolve_username", ref.Alias, start, err)
		if err != nil {
			l.log.Warn().Err(err).Str("channel", ref.String()).Msg("mtproto: не удалось найти канал")
			continue
		}
		for _, chat := range resolved.Chats {
			if ch, ok := chat.(*tg.Channel); ok {
				l.watchlist.Resolve(ref.Alias, ch.ID)
				l.log.Info().Str("channel", ref.String()).Int64("channel_id", ch.ID).Str("title", ch.Title).Msg("mtproto: канал найден")
			}
		}
	}
}

func (l *Listener) dispatch(root context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) {
	raw, ok := toRawPost(e, u)
	if !ok {
		return
	}
	if !l.watchlist.Matches(raw.ChannelID, raw.ChannelUsername) {
		l.log.Debug().Int64("channel_id", raw.ChannelID).Msg("mtproto: канал не отслеживается")
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(root, l.cfg.EventTimeout)
		defer cancel()
		if l.recoverer != nil {
			defer l.recoverer.Recover(ctx, "mtproto.dispatch")
		}
		if _, err := l.handler.Handle(ctx, raw); err != nil {
			l.log.Error().Err(err).Int64("channel_id", raw.ChannelID).Int64("message_id", raw.MessageID).Msg("mtproto: не удалось обработать сообщение")
		}
	}()
}

func toRawPost(e tg.Entities, u *tg.UpdateNewChannelMessage) (ingest.RawPost, bool) {
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return ingest.RawPost{}, false
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return ingest.RawPost{}, false
	}
	raw := ingest.RawPost{
		ChannelID: peer.ChannelID,
		MessageID: int64(msg.ID),
		Date:      time.Unix(int64(msg.Date), 0).UTC(),
		Text:      msg.Message,
	}
	if ch, ok := e.Channels[peer.ChannelID]; ok {
		raw.ChannelTitle = ch.Title
		raw.ChannelUsername = ch.Username
	}
	if media, ok := msg.GetMedia(); ok {
		raw.MediaType = mediaType(media)
	}
	return raw, true
}

func mediaType(media tg.MessageMediaClass) string {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		return "photo"
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return "document"
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				if a.RoundMessage {
					return "video_note"
				}
				return "video"
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					return "voice"
				}
				return "audio"
			case *tg.DocumentAttributeSticker:
				return "sticker"
			case *tg.DocumentAttributeAnimated:
				return "animation"
			}
		}
		return "document"
	case *tg.MessageMediaWebPage:
		return ""
	case *tg.MessageMediaPoll:
		return "poll"
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return "location"
	case *tg.MessageMediaContact:
		return "contact"
	default:
		return strings.TrimPrefix(media.TypeName(), "messageMedia")
	}
}
