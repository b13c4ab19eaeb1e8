package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/metrics"
)

const providerGemini = "gemini"

// generateFunc вызывает модель с системной инструкцией.
type generateFunc func(ctx context.Context, instructions, batch string, maxTokens int32) (*genai.GenerateContentResponse, error)

// Gemini реализует суммаризацию через Google Gemini.
type Gemini struct {
	client    *genai.Client
	generate  generateFunc
	model     string
	maxTokens int32
	timeout   time.Duration
	log       zerolog.Logger
}

var _ domain.Summarizer = (*Gemini)(nil)

// NewGemini создаёт клиента Gemini. Клиент нужно закрыть через Close.
func NewGemini(ctx context.Context, apiKey, model string, maxTokens int, timeout time.Duration, log zerolog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("создание клиента gemini: %w", err)
	}
	g := newGemini(nil, model, maxTokens, timeout, log)
	g.client = client
	g.generate = func(ctx context.Context, instructions, batch string, maxTokens int32) (*genai.GenerateContentResponse, error) {
		m := client.GenerativeModel(g.model)
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instructions)}}
		m.SetMaxOutputTokens(maxTokens)
		return m.GenerateContent(ctx, genai.Text(batch))
	}
	return g, nil
}

func newGemini(generate generateFunc, model string, maxTokens int, timeout time.Duration, log zerolog.Logger) *Gemini {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if maxTokens <= 0 {
		maxTokens = 400
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Gemini{generate: generate, model: model, maxTokens: int32(maxTokens), timeout: timeout, log: log}
}

// Close освобождает соединение с API.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Summarize отправляет пачку постов в Gemini.
func (g *Gemini) Summarize(ctx context.Context, instructions, batch string) (string, error) {
	if strings.TrimSpace(batch) == "" {
		return "", &domain.GatewayError{Provider: providerGemini, Reason: domain.GatewayMalformed, Err: errors.New("пустой запрос")}
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.generate(ctx, instructions, batch, g.maxTokens)
	metrics.ObserveNetworkRequest("summarizer", "generate_content", providerGemini, start, err)
	if err != nil {
		return "", classifyGemini(ctx, err)
	}
	if resp.UsageMetadata != nil {
		metrics.ObserveLLMGeneration(g.model, time.Since(start), int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount), int(resp.UsageMetadata.TotalTokenCount))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", &domain.GatewayError{Provider: providerGemini, Reason: domain.GatewayMalformed, Err: errors.New("нет кандидатов в ответе")}
	}
	candidate := resp.Candidates[0]
	var b strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", &domain.GatewayError{Provider: providerGemini, Reason: domain.GatewayMalformed, Err: fmt.Errorf("нет текста в ответе (finish = %s)", candidate.FinishReason)}
	}
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		g.log.Warn().Msg("summarizer: ответ gemini обрезан по лимиту токенов")
		return text + truncationMark, nil
	}
	return text, nil
}

func classifyGemini(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.GatewayError{Provider: providerGemini, Reason: domain.GatewayTimeout, Err: err}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return &domain.GatewayError{Provider: providerGemini, Reason: domain.GatewayQuota, Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "ResourceExhausted") {
		return &domain.GatewayError{Provider: providerGemini, Reason: domain.GatewayQuota, Err: err}
	}
	return &domain.GatewayError{Provider: providerGemini, Reason: domain.GatewayUpstream, Err: err}
}
