package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
)

// ErrCommit возвращается, если дайджест доставлен, но посты не удалось пометить отправленными.
var ErrCommit = errors.New("не удалось зафиксировать отправку постов")

// Outcome — итог запуска дайджеста.
type Outcome string

const (
	OutcomeDelivered     Outcome = "delivered"
	OutcomeNoPosts       Outcome = "no_posts"
	OutcomeNoSubscribers Outcome = "no_subscribers"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeLocked        Outcome = "locked"
)

// Report описывает один запуск дайджеста.
type Report struct {
	Mode       domain.DigestMode
	Outcome    Outcome
	State      domain.DeliveryState
	Posts      int
	Recipients int
	Reached    int
	// SummaryErr — ошибка суммаризации, из-за которой обзор не попал в дайджест.
	SummaryErr error
}

// ErrorReporter отправляет ошибки во внешний трекер.
type ErrorReporter interface {
	Capture(err error, tags map[string]string)
}

// Config — параметры сервиса дайджестов.
type Config struct {
	ManualWindow           time.Duration
	AutoSendWithoutSummary bool
	CycleLockKey           string
	CycleLockTTL           time.Duration
	CommitTimeout          time.Duration
	Language               string
}

// Service строит и доставляет дайджесты.
type Service struct {
	posts      domain.PostRepo
	users      domain.UserRepo
	summarizer domain.Summarizer
	sender     domain.Sender
	cache      domain.Cache
	compiler   *Compiler
	texts      TextsFunc
	alerts     ErrorReporter
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис дайджестов. summarizer может быть nil: тогда дайджест
// состоит только из списка постов.
func NewService(posts domain.PostRepo, users domain.UserRepo, summarizer domain.Summarizer, sender domain.Sender, cache domain.Cache, compiler *Compiler, texts TextsFunc, alerts ErrorReporter, cfg Config, log zerolog.Logger) *Service {
	if cfg.CycleLockTTL <= 0 {
		cfg.CycleLockTTL = 30 * time.Minute
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}
	if cfg.CycleLockKey == "" {
		cfg.CycleLockKey = "digest:cycle"
	}
	return &Service{
		posts:      posts,
		users:      users,
		summarizer: summarizer,
		sender:     sender,
		cache:      cache,
		compiler:   compiler,
		texts:      texts,
		alerts:     alerts,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// RunAutomatic рассылает все неотправленные посты всем подписчикам и помечает их
// отправленными, если дайджест дошёл хотя бы до одного подписчика.
func (s *Service) RunAutomatic(ctx context.Context) (Report, error) {
	start := time.Now()
	var (
		report Report
		runErr error
	)
	if s.cache == nil {
		report, runErr = s.runAutomatic(ctx)
	} else {
		ran, lockErr := s.cache.WithLock(ctx, s.cfg.CycleLockKey, s.cfg.CycleLockTTL, func() error {
			report, runErr = s.runAutomatic(ctx)
			return runErr
		})
		if lockErr != nil && !ran {
			return Report{Mode: domain.DigestAutomatic}, fmt.Errorf("блокировка цикла: %w", lockErr)
		}
		if !ran {
			s.log.Info().Msg("digest: цикл уже выполняется другим процессом")
			report = Report{Mode: domain.DigestAutomatic, Outcome: OutcomeLocked}
		}
	}
	metrics.ObserveDigest(string(domain.DigestAutomatic), string(report.Outcome), string(report.State), start)
	if runErr != nil {
		s.capture(runErr, domain.DigestAutomatic)
	}
	return report, runErr
}

func (s *Service) runAutomatic(ctx context.Context) (Report, error) {
	report := Report{Mode: domain.DigestAutomatic}
	texts := s.texts(s.cfg.Language)

	posts, err := s.posts.ListUnsent(ctx)
	if err != nil {
		return report, fmt.Errorf("получение неотправленных постов: %w", err)
	}
	batch := s.compiler.Compile(posts)
	if batch.Empty() {
		s.log.Info().Msg("digest: нет новых постов для автодайджеста")
		report.Outcome = OutcomeNoPosts
		return report, nil
	}
	report.Posts = len(batch.Posts)

	recipients, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("получение подписчиков: %w", err)
	}
	if len(recipients) == 0 {
		s.log.Info().Int("posts", report.Posts).Msg("digest: нет подписчиков, посты остаются неотправленными")
		report.Outcome = OutcomeNoSubscribers
		return report, nil
	}
	report.Recipients = len(recipients)

	summary, err := s.summarize(ctx, batch)
	if err != nil {
		report.SummaryErr = err
		if !s.cfg.AutoSendWithoutSummary {
			s.log.Warn().Err(err).Int("posts", report.Posts).Msg("digest: обзор не получен, автодайджест перенесён на следующий цикл")
			report.Outcome = OutcomeSkipped
			return report, nil
		}
		s.log.Warn().Err(err).Msg("digest: обзор не получен, отправляем только список")
	}

	text := FormatDigest(texts.AutoHeader, summary, batch.Listing, texts)
	report.State = domain.DeliveryComposed
	delivery := deliver(ctx, s.sender, recipients, text, s.log)
	report.Reached = delivery.Reached
	report.Outcome = OutcomeDelivered

	if delivery.Reached == 0 {
		report.State = domain.DeliveryFailed
		s.log.Error().Int("recipients", len(recipients)).Msg("digest: автодайджест не доставлен ни одному подписчику")
		return report, nil
	}

	// посты, дошедшие до подписчика, фиксируются даже при остановке процесса
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommitTimeout)
	defer cancel()
	if err := s.posts.MarkSent(commitCtx, batch.PostIDs); err != nil {
		report.State = domain.DeliveryPartiallySent
		return report, fmt.Errorf("%w: %w", ErrCommit, err)
	}
	report.State = domain.DeliveryCommitted
	s.log.Info().
		Int("posts", report.Posts).
		Int("reached", delivery.Reached).
		Int("failed", len(delivery.Failed)).
		Msg("digest: автодайджест отправлен")
	return report, nil
}

// RunManual отправляет запросившему посты за последние ManualWindow, не меняя
// отметок отправки.
func (s *Service) RunManual(ctx context.Context, job domain.DigestJob) (Report, error) {
	start := time.Now()
	report, err := s.runManual(ctx, job)
	metrics.ObserveDigest(string(domain.DigestManual), string(report.Outcome), string(report.State), start)
	if err != nil {
		s.capture(err, domain.DigestManual)
	}
	return report, err
}

func (s *Service) runManual(ctx context.Context, job domain.DigestJob) (Report, error) {
	report := Report{Mode: domain.DigestManual, Recipients: 1}
	texts := s.texts(job.Language)
	log := s.log.With().Int64("user", job.UserID).Str("job_id", job.ID).Logger()

	posts, err := s.posts.ListRecent(ctx, s.now().Add(-s.cfg.ManualWindow))
	if err != nil {
		s.sendFinal(ctx, job.ChatID, texts.Failed, log)
		report.State = domain.DeliveryFailed
		return report, fmt.Errorf("получение постов за окно: %w", err)
	}
	batch := s.compiler.Compile(posts)
	if batch.Empty() {
		report.Outcome = OutcomeNoPosts
		report.State = s.sendState(ctx, job.ChatID, texts.EmptyManual, log)
		return report, nil
	}
	report.Posts = len(batch.Posts)
	report.Outcome = OutcomeDelivered

	summary, err := s.summarize(ctx, batch)
	if err != nil {
		report.SummaryErr = err
		summary = Summary{Failed: true}
		log.Warn().Err(err).Msg("digest: обзор не получен, отправляем дайджест без него")
	}
	report.State = domain.DeliveryComposed

	full := FormatDigest(texts.ManualHeader, summary, batch.Listing, texts)
	err = s.sender.Send(ctx, job.ChatID, full)
	if err != nil {
		log.Error().Err(err).Msg("digest: не удалось отправить дайджест, пробуем только список")
		listing := FormatDigest(texts.ManualHeader, Summary{}, batch.Listing, texts)
		err = s.sender.Send(ctx, job.ChatID, listing)
	}
	if err == nil {
		report.State = domain.DeliveryDelivered
		report.Reached = 1
		return report, nil
	}
	log.Error().Err(err).Msg("digest: не удалось отправить список постов")

	s.sendFinal(ctx, job.ChatID, texts.Failed, log)
	report.State = domain.DeliveryFailed
	return report, nil
}

func (s *Service) summarize(ctx context.Context, batch Batch) (Summary, error) {
	if s.summarizer == nil {
		return Summary{}, nil
	}
	raw, err := s.summarizer.Summarize(ctx, SummaryInstructions, batch.Prompt)
	if err != nil {
		return Summary{Failed: true}, err
	}
	if strings.TrimSpace(raw) == "" {
		return Summary{Failed: true}, &domain.GatewayError{Provider: "unknown", Reason: domain.GatewayMalformed, Err: errors.New("пустой ответ")}
	}
	return Summary{Text: FormatSummary(raw, batch.Links), Truncated: IsTruncated(raw)}, nil
}

func (s *Service) sendState(ctx context.Context, chatID int64, text string, log zerolog.Logger) domain.DeliveryState {
	if err := s.sender.Send(ctx, chatID, text); err != nil {
		log.Error().Err(err).Msg("digest: не удалось отправить ответ")
		return domain.DeliveryFailed
	}
	return domain.DeliveryDelivered
}

func (s *Service) sendFinal(ctx context.Context, chatID int64, text string, log zerolog.Logger) {
	if err := s.sender.Send(ctx, chatID, text); err != nil {
		log.Error().Err(err).Msg("digest: не удалось отправить сообщение об ошибке")
	}
}

func (s *Service) capture(err error, mode domain.DigestMode) {
	if s.alerts == nil {
		return
	}
	s.alerts.Capture(err, map[string]string{"mode": string(mode)})
}
