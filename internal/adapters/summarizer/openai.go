package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
)

const (
	providerOpenAI = "openai"
	// limitMaxOutputTokens ограничивает рост лимита при обрезанных ответах.
	limitMaxOutputTokens int64 = 4096
	truncationMark             = "…"
)

type responsesAPI interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// OpenAI реализует суммаризацию через OpenAI Responses API.
type OpenAI struct {
	api       responsesAPI
	model     string
	maxTokens int64
	timeout   time.Duration
	log       zerolog.Logger
}

var _ domain.Summarizer = (*OpenAI)(nil)

// NewOpenAI создаёт провайдер суммаризации.
func NewOpenAI(apiKey, model string, maxTokens int, timeout time.Duration, log zerolog.Logger) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(1))
	return newOpenAI(&client.Responses, model, maxTokens, timeout, log)
}

func newOpenAI(api responsesAPI, model string, maxTokens int, timeout time.Duration, log zerolog.Logger) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if maxTokens <= 0 {
		maxTokens = 400
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{api: api, model: model, maxTokens: int64(maxTokens), timeout: timeout, log: log}
}

// Summarize отправляет пачку постов и возвращает текст обзора. Если ответ
// обрезан по лимиту токенов, лимит удваивается; после достижения потолка
// возвращается обрезанный текст с многоточием.
func (s *OpenAI) Summarize(ctx context.Context, instructions, batch string) (string, error) {
	if strings.TrimSpace(batch) == "" {
		return "", &domain.GatewayError{Provider: providerOpenAI, Reason: domain.GatewayMalformed, Err: errors.New("пустой запрос")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	maxTokens := s.maxTokens
	for {
		start := time.Now()
		resp, err := s.api.New(ctx, responses.ResponseNewParams{
			Model:           s.model,
			MaxOutputTokens: openai.Int(maxTokens),
			Instructions:    openai.String(instructions),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: openai.String(batch),
			},
		})
		metrics.ObserveNetworkRequest("summarizer", "responses_create", providerOpenAI, start, err)
		if err != nil {
			return "", classify(ctx, providerOpenAI, err)
		}
		metrics.ObserveLLMGeneration(s.model, time.Since(start), int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens), int(resp.Usage.TotalTokens))

		text := strings.TrimSpace(resp.OutputText())
		if resp.Status == "incomplete" {
			reason := string(resp.IncompleteDetails.Reason)
			if reason == "max_output_tokens" && maxTokens < limitMaxOutputTokens {
				maxTokens = min(maxTokens*2, limitMaxOutputTokens)
				s.log.Debug().Int64("max_output_tokens", maxTokens).Msg("summarizer: ответ обрезан, повторяем с большим лимитом")
				continue
			}
			if text == "" {
				return "", &domain.GatewayError{Provider: providerOpenAI, Reason: domain.GatewayMalformed, Err: fmt.Errorf("ответ неполный (reason = %s)", reason)}
			}
			s.log.Warn().Str("reason", reason).Msg("summarizer: возвращаем обрезанный ответ")
			return text + truncationMark, nil
		}
		if text == "" {
			return "", &domain.GatewayError{Provider: providerOpenAI, Reason: domain.GatewayMalformed, Err: fmt.Errorf("нет текста в ответе (status = %s)", resp.Status)}
		}
		return text, nil
	}
}

func classify(ctx context.Context, provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.GatewayError{Provider: provider, Reason: domain.GatewayTimeout, Err: err}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return &domain.GatewayError{Provider: provider, Reason: domain.GatewayQuota, Err: err}
		case apiErr.StatusCode == 400:
			return &domain.GatewayError{Provider: provider, Reason: domain.GatewayMalformed, Err: err}
		}
	}
	return &domain.GatewayError{Provider: provider, Reason: domain.GatewayUpstream, Err: err}
}
