package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PostsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_ingested_total",
		Help: "Посты, сохранённые из каналов",
	}, []string{"channel_id"})
	IngestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_errors_total",
		Help: "Ошибки при приёме постов из каналов",
	})
	DigestBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digest_build_seconds",
		Help:    "Время построения и доставки дайджеста",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	DigestCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_cycles_total",
		Help: "Запуски дайджеста по режиму и итогу",
	}, []string{"mode", "outcome"})
	DigestDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_deliveries_total",
		Help: "Итоговые состояния доставки дайджеста",
	}, []string{"mode", "state"})
	DigestNextRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "digest_next_run_timestamp_seconds",
		Help: "Время следующего автодайджеста",
	})
	DigestRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "digest_requests_total",
		Help: "Запросы дайджеста командой /digest",
	})
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PostsIngested,
		IngestErrors,
		DigestBuildSeconds,
		DigestCycles,
		DigestDeliveries,
		DigestNextRun,
		DigestRequestsTotal,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveDigest фиксирует итог запуска дайджеста.
func ObserveDigest(mode, outcome, state string, start time.Time) {
	DigestBuildSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	DigestCycles.WithLabelValues(mode, outcome).Inc()
	if state != "" {
		DigestDeliveries.WithLabelValues(mode, state).Inc()
	}
}

// IncIngested увеличивает счётчик сохранённых постов канала.
func IncIngested(channelID int64) {
	PostsIngested.WithLabelValues(strconv.FormatInt(channelID, 10)).Inc()
}

// SetNextRun публикует время следующего автодайджеста.
func SetNextRun(t time.Time) {
	DigestNextRun.Set(float64(t.Unix()))
}
