package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gotd/td/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/adapters/bot"
	"github.com/borisgern/tg-channels-digest/internal/adapters/mtproto"
	"github.com/borisgern/tg-channels-digest/internal/adapters/repo"
	"github.com/borisgern/tg-channels-digest/internal/adapters/summarizer"
	"github.com/borisgern/tg-channels-digest/internal/adapters/telegram"
	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/alerts"
	"github.com/borisgern/tg-channels-digest/internal/infra/cache"
	"github.com/borisgern/tg-channels-digest/internal/infra/config"
	apphttp "github.com/borisgern/tg-channels-digest/internal/infra/http"
	"github.com/borisgern/tg-channels-digest/internal/infra/i18n"
	"github.com/borisgern/tg-channels-digest/internal/infra/log"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
	"github.com/borisgern/tg-channels-digest/internal/infra/queue"
	"github.com/borisgern/tg-channels-digest/internal/usecase/channels"
	"github.com/borisgern/tg-channels-digest/internal/usecase/digest"
	"github.com/borisgern/tg-channels-digest/internal/usecase/ingest"
	"github.com/borisgern/tg-channels-digest/internal/usecase/schedule"
)

const updateTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось загрузить конфиг")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("некорректный конфиг")
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("бот остановлен с ошибкой")
	}
}

func run(cfg config.AppConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter, err := alerts.Init(cfg.Sentry.DSN, cfg.AppEnv, cfg.Sentry.Release, log.Component(logger, "alerts"))
	if err != nil {
		return fmt.Errorf("инициализация Sentry: %w", err)
	}
	defer reporter.Flush()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	daily, err := schedule.ParseDaily(cfg.Digest.Time, cfg.Digest.TZ)
	if err != nil {
		return fmt.Errorf("расписание: %w", err)
	}
	watchlist, err := channels.NewWatchlist(cfg.Telegram.Channels)
	if err != nil {
		return fmt.Errorf("список каналов: %w", err)
	}
	catalog, err := i18n.New(cfg.Telegram.Language, log.Component(logger, "i18n"))
	if err != nil {
		return fmt.Errorf("переводы: %w", err)
	}

	store, closeStore, err := repo.Open(cfg.Store.PGDSN, cfg.Store.SQLitePath, log.Component(logger, "repo"))
	if err != nil {
		return fmt.Errorf("хранилище: %w", err)
	}
	defer closeStore()
	if err := importSessionFile(ctx, cfg, store, logger); err != nil {
		return err
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("авторизация в Bot API: %w", err)
	}
	logger.Info().Str("bot", botAPI.Self.UserName).Msg("бот авторизован")
	sender := telegram.NewSender(botAPI, cfg.Telegram.SendRPS, log.Component(logger, "telegram"))

	locks, jobs, closeRedis, err := newCoordination(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	gateway, closeGateway, err := newSummarizer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	digestSvc := digest.NewService(
		store, store, gateway, sender, locks,
		digest.NewCompiler(daily.Location),
		bot.DigestTexts(catalog, cfg.Digest.ManualWindow),
		reporter,
		digest.Config{
			ManualWindow:           cfg.Digest.ManualWindow,
			AutoSendWithoutSummary: cfg.Digest.AutoSendWithoutSummary,
			CycleLockKey:           cfg.Digest.CycleLockKey,
			Language:               cfg.Telegram.Language,
		},
		log.Component(logger, "digest"),
	)

	runner := schedule.NewRunner(daily, func(ctx context.Context) {
		if _, err := digestSvc.RunAutomatic(ctx); err != nil {
			logger.Error().Err(err).Msg("автодайджест завершился с ошибкой")
		}
	}, cfg.Digest.RunMissedOnStart, log.Component(logger, "scheduler"))

	var notify ingest.NotifyFormatter
	if cfg.Digest.NotifyNewPosts {
		notify = bot.NotifyFormatter(catalog, cfg.Telegram.Language, daily.Location)
	}
	ingestSvc := ingest.NewService(store, store, sender, notify, log.Component(logger, "ingest"))

	listener := mtproto.NewListener(mtproto.Config{
		APIID:    cfg.Telegram.APIID,
		APIHash:  cfg.Telegram.APIHash,
		Phone:    cfg.MTProto.Phone,
		Password: cfg.MTProto.Password,
	}, mtproto.NewSessionStore(store, cfg.MTProto.SessionName), watchlist, ingestSvc, reporter, log.Component(logger, "mtproto"))

	handler := bot.NewHandler(store, jobs, locks, digestSvc, runner, sender, catalog, bot.Options{
		ManualWindow: cfg.Digest.ManualWindow,
		Cooldown:     cfg.Digest.ManualCooldown,
		Location:     daily.Location,
	}, log.Component(logger, "bot"))
	dispatcher := bot.NewDispatcher(handler, reporter, updateTimeout)

	server := apphttp.NewServer(log.Component(logger, "http"))
	var wg sync.WaitGroup
	spawn := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reporter.Recover(ctx, name)
			fn()
		}()
	}

	if cfg.Telegram.WebhookURL != "" {
		server.Router.Post("/bot/webhook", bot.WebhookHandler(ctx, dispatcher, log.Component(logger, "bot")))
		webhook, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			return fmt.Errorf("TG_WEBHOOK_URL: %w", err)
		}
		if _, err := botAPI.Request(webhook); err != nil {
			return fmt.Errorf("установка вебхука: %w", err)
		}
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("вебхук установлен")
	} else {
		if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn().Err(err).Msg("не удалось снять вебхук")
		}
		spawn("bot.poll", func() { bot.Poll(ctx, botAPI, dispatcher, log.Component(logger, "bot")) })
	}

	spawn("http", func() {
		if err := server.Run(ctx, ":"+strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	})
	spawn("scheduler", func() { runner.Run(ctx) })
	spawn("digest.worker", func() {
		digest.NewWorker(jobs, digestSvc, log.Component(logger, "worker")).Run(ctx, cfg.Digest.Workers)
	})
	spawn("mtproto", func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("слушатель каналов остановлен")
			reporter.Capture(err, map[string]string{"component": "mtproto"})
			stop()
		}
	})

	logger.Info().Time("next_run", runner.NextRun()).Int("channels", len(watchlist.Refs())).Msg("бот запущен")
	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	wg.Wait()
	dispatcher.Wait()
	return nil
}

func importSessionFile(ctx context.Context, cfg config.AppConfig, store repo.Store, logger zerolog.Logger) error {
	if cfg.MTProto.SessionFile == "" {
		return nil
	}
	_, err := store.LoadMTProtoSession(ctx, cfg.MTProto.SessionName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("чтение MTProto-сессии: %w", err)
	}
	res, err := mtproto.ImportSessionFile(ctx, store, cfg.MTProto.SessionName, cfg.MTProto.SessionFile)
	if err != nil {
		return fmt.Errorf("импорт MTProto-сессии из %s: %w", cfg.MTProto.SessionFile, err)
	}
	logger.Info().Int("bytes", res.Bytes).Bool("converted", res.Converted).Msg("MTProto-сессия импортирована")
	return nil
}

func newCoordination(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.Cache, domain.DigestQueue, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info().Msg("REDIS_ADDR не задан, блокировки и очередь в памяти")
		return cache.NewMemory(), queue.NewMemoryDigestQueue(100), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("подключение к Redis: %w", err)
	}
	return cache.NewRedis(client), queue.NewRedisDigestQueue(client, cfg.Digest.QueueKey), func() { _ = client.Close() }, nil
}

func newSummarizer(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.Summarizer, func(), error) {
	gwLog := log.Component(logger, "summarizer")
	switch cfg.Gateway.Provider {
	case "openai":
		if cfg.Gateway.OpenAIKey == "" {
			break
		}
		return summarizer.NewOpenAI(cfg.Gateway.OpenAIKey, cfg.Gateway.OpenAIModel, cfg.Gateway.MaxOutputTokens, cfg.Gateway.Timeout, gwLog), func() {}, nil
	case "gemini":
		if cfg.Gateway.GeminiKey == "" {
			break
		}
		g, err := summarizer.NewGemini(ctx, cfg.Gateway.GeminiKey, cfg.Gateway.GeminiModel, cfg.Gateway.MaxOutputTokens, cfg.Gateway.Timeout, gwLog)
		if err != nil {
			return nil, nil, fmt.Errorf("клиент Gemini: %w", err)
		}
		return g, func() { _ = g.Close() }, nil
	}
	logger.Warn().Str("provider", cfg.Gateway.Provider).Msg("суммаризация выключена, дайджест будет только списком постов")
	return nil, func() {}, nil
}
