package bot

import (
	"context"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/i18n"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
	"github.com/borisgern/tg-channels-digest/internal/usecase/digest"
)

const timeLayout = "02.01.2006 15:04"

// StatusReader возвращает состояние очереди постов.
type StatusReader interface {
	Status(ctx context.Context) (digest.Status, error)
}

// NextRunReader сообщает время следующего автодайджеста.
type NextRunReader interface {
	NextRun() time.Time
}

// Options — настройки обработчика команд.
type Options struct {
	ManualWindow time.Duration
	Cooldown     time.Duration
	Location     *time.Location
}

// Handler обрабатывает команды бота.
type Handler struct {
	users    domain.UserRepo
	jobs     domain.DigestQueue
	cache    domain.Cache
	status   StatusReader
	schedule NextRunReader
	sender   domain.Sender
	cat      *i18n.Catalog
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(users domain.UserRepo, jobs domain.DigestQueue, cache domain.Cache, status StatusReader, schedule NextRunReader, sender domain.Sender, cat *i18n.Catalog, opts Options, log zerolog.Logger) *Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Handler{
		users:    users,
		jobs:     jobs,
		cache:    cache,
		status:   status,
		schedule: schedule,
		sender:   sender,
		cat:      cat,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	lang := ""
	if msg.From != nil {
		lang = msg.From.LanguageCode
	}
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg, lang)
	case "digest":
		h.handleDigest(ctx, msg, lang)
	case "status":
		h.handleStatus(ctx, chatID, lang)
	case "help":
		h.reply(ctx, chatID, h.cat.T(lang, "help", nil))
	default:
		h.reply(ctx, chatID, h.cat.T(lang, "unknown_command", nil))
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message, lang string) {
	if msg.From == nil {
		h.reply(ctx, msg.Chat.ID, h.cat.T(lang, "user_unknown", nil))
		return
	}
	created, err := h.users.Register(ctx, msg.From.ID, msg.From.UserName)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("bot: не удалось зарегистрировать пользователя")
		h.reply(ctx, msg.Chat.ID, h.cat.T(lang, "register_failed", nil))
		return
	}
	greeting := h.cat.T(lang, "start.greeting", nil)
	if created {
		h.log.Info().Int64("user_id", msg.From.ID).Msg("bot: новый подписчик")
		greeting = h.cat.T(lang, "start.registered", nil)
	}
	h.reply(ctx, msg.Chat.ID, greeting+h.cat.Plural(lang, "start.body", windowHours(h.opts.ManualWindow), nil))
}

func (h *Handler) handleDigest(ctx context.Context, msg *tgbotapi.Message, lang string) {
	if msg.From == nil {
		h.reply(ctx, msg.Chat.ID, h.cat.T(lang, "user_unknown", nil))
		return
	}
	metrics.DigestRequestsTotal.Inc()
	job := domain.DigestJob{
		ID:          uuid.NewString(),
		UserID:      msg.From.ID,
		ChatID:      msg.Chat.ID,
		Language:    lang,
		RequestedAt: h.now().UTC(),
		Cause:       domain.DigestCauseManual,
	}
	enqueue := func() error { return h.jobs.Enqueue(ctx, job) }

	var (
		ran = true
		err error
	)
	if h.cache != nil && h.opts.Cooldown > 0 {
		key := "digest:cooldown:" + strconv.FormatInt(msg.From.ID, 10)
		ran, err = h.cache.Once(ctx, key, h.opts.Cooldown, enqueue)
	} else {
		err = enqueue()
	}
	switch {
	case err != nil:
		h.log.Error().Err(err).Str("job_id", job.ID).Msg("bot: не удалось поставить дайджест в очередь")
		h.reply(ctx, msg.Chat.ID, h.cat.T(lang, "digest.queue_failed", nil))
	case !ran:
		h.reply(ctx, msg.Chat.ID, h.cat.T(lang, "digest.cooldown", nil))
	default:
		h.log.Info().Str("job_id", job.ID).Int64("user_id", job.UserID).Msg("bot: дайджест поставлен в очередь")
		h.reply(ctx, msg.Chat.ID, h.cat.T(lang, "digest.queued", nil))
	}
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64, lang string) {
	st, err := h.status.Status(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось получить статус")
		h.reply(ctx, chatID, h.cat.T(lang, "status.failed", nil))
		return
	}
	lines := []string{h.cat.T(lang, "status.header", nil)}
	if st.Unsent.Count == 0 {
		lines = append(lines, h.cat.T(lang, "status.empty", nil))
	} else {
		lines = append(lines, h.cat.T(lang, "status.count", map[string]any{"Count": st.Unsent.Count}))
		if st.Unsent.Earliest != nil {
			lines = append(lines, h.cat.T(lang, "status.earliest", map[string]any{"Time": st.Unsent.Earliest.In(h.opts.Location).Format(timeLayout)}))
		}
		for _, ch := range st.Channels {
			title := ch.Title
			if title == "" {
				title = strconv.FormatInt(ch.ChannelID, 10)
			}
			lines = append(lines, h.cat.T(lang, "status.channel", map[string]any{"Title": html.EscapeString(title), "Count": ch.Count}))
		}
	}
	if h.schedule != nil {
		next := h.schedule.NextRun().In(h.opts.Location)
		lines = append(lines, "", h.cat.T(lang, "status.next", map[string]any{"Time": next.Format(timeLayout)}))
	}
	h.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.sender.Send(ctx, chatID, text); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("bot: не удалось отправить ответ")
	}
}
