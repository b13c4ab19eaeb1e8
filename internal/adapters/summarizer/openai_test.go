package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

type fakeResponses struct {
	replies   []string
	err       error
	maxTokens []int64
}

func (f *fakeResponses) New(_ context.Context, body responses.ResponseNewParams, _ ...option.RequestOption) (*responses.Response, error) {
	f.maxTokens = append(f.maxTokens, body.MaxOutputTokens.Value)
	if f.err != nil {
		return nil, f.err
	}
	raw := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	var resp responses.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

const (
	completedReply  = `{"id":"r1","object":"response","status":"completed","output":[{"type":"message","id":"m1","role":"assistant","status":"completed","content":[{"type":"output_text","text":"Главное за день [1]","annotations":[]}]}],"usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}`
	incompleteReply = `{"id":"r2","object":"response","status":"incomplete","incomplete_details":{"reason":"max_output_tokens"},"output":[{"type":"message","id":"m2","role":"assistant","status":"incomplete","content":[{"type":"output_text","text":"Главное за","annotations":[]}]}]}`
	emptyReply      = `{"id":"r3","object":"response","status":"completed","output":[]}`
)

func TestOpenAISummarize(t *testing.T) {
	api := &fakeResponses{replies: []string{completedReply}}
	s := newOpenAI(api, "gpt-4o-mini", 400, time.Second, zerolog.Nop())

	text, err := s.Summarize(context.Background(), "instructions", "[1] 10:00 · Go\nbody")
	require.NoError(t, err)
	assert.Equal(t, "Главное за день [1]", text)
	assert.Equal(t, []int64{400}, api.maxTokens)
}

func TestOpenAIGrowsTokenLimitThenMarksTruncated(t *testing.T) {
	api := &fakeResponses{replies: []string{incompleteReply}}
	s := newOpenAI(api, "gpt-4o-mini", 1024, time.Second, zerolog.Nop())

	text, err := s.Summarize(context.Background(), "instructions", "batch")
	require.NoError(t, err)
	assert.Equal(t, "Главное за…", text)
	assert.Equal(t, []int64{1024, 2048, 4096}, api.maxTokens)
}

func TestOpenAIGrowsTokenLimitUntilComplete(t *testing.T) {
	api := &fakeResponses{replies: []string{incompleteReply, completedReply}}
	s := newOpenAI(api, "gpt-4o-mini", 400, time.Second, zerolog.Nop())

	text, err := s.Summarize(context.Background(), "instructions", "batch")
	require.NoError(t, err)
	assert.Equal(t, "Главное за день [1]", text)
	assert.Equal(t, []int64{400, 800}, api.maxTokens)
}

func TestOpenAIEmptyOutputIsMalformed(t *testing.T) {
	s := newOpenAI(&fakeResponses{replies: []string{emptyReply}}, "", 0, time.Second, zerolog.Nop())

	_, err := s.Summarize(context.Background(), "instructions", "batch")
	var gwErr *domain.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, domain.GatewayMalformed, gwErr.Reason)
}

func TestOpenAIErrorClassification(t *testing.T) {
	quota := &openai.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httptest.NewRequest(http.MethodPost, "/v1/responses", nil),
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests},
	}
	cases := map[string]struct {
		err  error
		want domain.GatewayReason
	}{
		"quota":    {err: quota, want: domain.GatewayQuota},
		"timeout":  {err: context.DeadlineExceeded, want: domain.GatewayTimeout},
		"upstream": {err: errors.New("connection reset"), want: domain.GatewayUpstream},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := newOpenAI(&fakeResponses{err: tc.err}, "", 0, time.Second, zerolog.Nop())
			_, err := s.Summarize(context.Background(), "instructions", "batch")
			var gwErr *domain.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tc.want, gwErr.Reason)
			assert.Equal(t, "openai", gwErr.Provider)
		})
	}
}
