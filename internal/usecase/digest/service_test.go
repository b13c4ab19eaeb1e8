package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

func TestRunAutomaticEmptySetMakesNoCalls(t *testing.T) {
	posts := &memPosts{}
	sum := &fakeSummarizer{response: "обзор"}
	sender := &fakeSender{}
	svc := newTestService(posts, &memUsers{ids: []int64{1}}, sum, sender, Config{})

	report, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoPosts, report.Outcome)
	assert.Zero(t, sum.calls)
	assert.Zero(t, posts.markCalls)
	assert.Zero(t, sender.attempts)
}

func TestRunAutomaticWithoutSubscribersKeepsPosts(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 3)
	sum := &fakeSummarizer{response: "обзор"}
	svc := newTestService(posts, &memUsers{}, sum, &fakeSender{}, Config{})

	report, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSubscribers, report.Outcome)
	assert.Zero(t, sum.calls)
	assert.Equal(t, []bool{false, false, false}, posts.sentFlags())
}

func TestRunAutomaticZeroReachedLeavesPostsForNextCycle(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 3)
	sender := &fakeSender{failFor: map[int64]bool{1: true, 2: true}}
	svc := newTestService(posts, &memUsers{ids: []int64{1, 2}}, &fakeSummarizer{response: "обзор [1]"}, sender, Config{})

	report, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, report.State)
	assert.Zero(t, report.Reached)
	assert.Zero(t, posts.markCalls)
	assert.Equal(t, []bool{false, false, false}, posts.sentFlags())

	sender.failFor = nil
	report, err = svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Posts, "следующий цикл включает те же посты")
	assert.Equal(t, domain.DeliveryCommitted, report.State)
	assert.Equal(t, []bool{true, true, true}, posts.sentFlags())
}

func TestRunAutomaticCommitsWhenOneRecipientReached(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 3)
	sender := &fakeSender{failFor: map[int64]bool{1: true}}
	svc := newTestService(posts, &memUsers{ids: []int64{1, 2, 3}}, &fakeSummarizer{response: "обзор"}, sender, Config{})

	report, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCommitted, report.State)
	assert.Equal(t, 2, report.Reached)
	assert.Equal(t, 3, report.Recipients)
	assert.Equal(t, []bool{true, true, true}, posts.sentFlags())
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[0].text, "📬 Автодайджест:")
}

func TestRunAutomaticSkipsCycleOnGatewayError(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 2)
	gwErr := &domain.GatewayError{Provider: "openai", Reason: domain.GatewayTimeout}
	sender := &fakeSender{}
	svc := newTestService(posts, &memUsers{ids: []int64{1}}, &fakeSummarizer{err: gwErr}, sender, Config{})

	report, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Outcome)
	assert.ErrorIs(t, report.SummaryErr, gwErr)
	assert.Zero(t, sender.attempts)
	assert.Equal(t, []bool{false, false}, posts.sentFlags())
}

func TestRunAutomaticSendsListingWhenConfigured(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 2)
	sender := &fakeSender{}
	sum := &fakeSummarizer{err: &domain.GatewayError{Provider: "openai", Reason: domain.GatewayQuota}}
	svc := newTestService(posts, &memUsers{ids: []int64{1}}, sum, sender, Config{AutoSendWithoutSummary: true})

	report, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCommitted, report.State)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, "⚠️ Не удалось создать AI-обзор.")
	assert.Equal(t, []bool{true, true}, posts.sentFlags())
}

func TestRunAutomaticCommitFailureIsPartiallySent(t *testing.T) {
	posts := &memPosts{markErr: errors.New("диск заполнен")}
	seedPosts(posts, time.Now().Add(-time.Hour), 1)
	svc := newTestService(posts, &memUsers{ids: []int64{1}}, &fakeSummarizer{response: "обзор"}, &fakeSender{}, Config{})

	report, err := svc.RunAutomatic(context.Background())
	require.ErrorIs(t, err, ErrCommit)
	assert.Equal(t, domain.DeliveryPartiallySent, report.State)
	assert.Equal(t, []bool{false}, posts.sentFlags())
}

func TestRunAutomaticCommitsAfterCancellation(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &fakeSender{onSend: cancel}
	svc := newTestService(posts, &memUsers{ids: []int64{1, 2}}, &fakeSummarizer{response: "обзор"}, sender, Config{})

	report, err := svc.RunAutomatic(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reached, "после отмены остальные получатели пропускаются")
	assert.Equal(t, domain.DeliveryCommitted, report.State)
	assert.True(t, posts.markCtxOK, "фиксация идёт на неотменённом контексте")
	assert.Equal(t, []bool{true, true}, posts.sentFlags())
}

func TestRunAutomaticLockedCycle(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 1)
	sum := &fakeSummarizer{response: "обзор"}
	svc := NewService(posts, &memUsers{ids: []int64{1}}, sum, &fakeSender{}, busyCache{}, NewCompiler(time.UTC), testTexts, nil, Config{ManualWindow: time.Hour}, nopLogger())

	report, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, report.Outcome)
	assert.Zero(t, sum.calls)
}

func TestRunAutomaticLinksCitations(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 2)
	sender := &fakeSender{}
	svc := newTestService(posts, &memUsers{ids: []int64{1}}, &fakeSummarizer{response: "🤖 AI-обзор:\nГлавное [2] и [7]"}, sender, Config{})

	_, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, `<a href="https://t.me/news/2">[2]</a>`)
	assert.Contains(t, sender.sent[0].text, "и [7]")
}

func TestRunManualIncludesSentPostsAndKeepsFlags(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-2*time.Hour), 3)
	require.NoError(t, posts.MarkSent(context.Background(), []int64{1}))
	posts.markCalls = 0
	sum := &fakeSummarizer{response: "обзор"}
	sender := &fakeSender{}
	svc := newTestService(posts, &memUsers{}, sum, sender, Config{})

	report, err := svc.RunManual(context.Background(), domain.DigestJob{UserID: 5, ChatID: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, report.State)
	assert.Equal(t, 3, report.Posts)
	assert.Zero(t, posts.markCalls)
	assert.Equal(t, []bool{true, false, false}, posts.sentFlags())
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(5), sender.sent[0].chatID)
	assert.Contains(t, sum.batches[0], "[3]")
}

func TestRunManualOutsideWindow(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-5*time.Hour), 1)
	sum := &fakeSummarizer{response: "обзор"}
	sender := &fakeSender{}
	svc := newTestService(posts, &memUsers{}, sum, sender, Config{})

	report, err := svc.RunManual(context.Background(), domain.DigestJob{UserID: 5, ChatID: 5})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoPosts, report.Outcome)
	assert.Zero(t, sum.calls)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "📭 Нет постов за последние 4 часа.", sender.sent[0].text)
}

func TestRunManualDegradesOnGatewayError(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 1)
	sender := &fakeSender{}
	svc := newTestService(posts, &memUsers{}, &fakeSummarizer{err: &domain.GatewayError{Provider: "gemini", Reason: domain.GatewayUpstream}}, sender, Config{})

	report, err := svc.RunManual(context.Background(), domain.DigestJob{UserID: 5, ChatID: 5})
	require.NoError(t, err)
	assert.Error(t, report.SummaryErr)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, "⚠️ Не удалось создать AI-обзор.")
	assert.Contains(t, sender.sent[0].text, "— ")
}

func TestRunManualFallsBackToListing(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 1)
	sender := &fakeSender{failFirst: 1}
	svc := newTestService(posts, &memUsers{}, &fakeSummarizer{response: "обзор"}, sender, Config{})

	report, err := svc.RunManual(context.Background(), domain.DigestJob{UserID: 5, ChatID: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, report.State)
	require.Len(t, sender.sent, 1)
	assert.NotContains(t, sender.sent[0].text, "обзор")
	assert.Contains(t, sender.sent[0].text, "📬 Дайджест постов за последние 4 часа:")
}

func TestRunManualSendsErrorWhenEverythingFails(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 1)
	sender := &fakeSender{failFirst: 2}
	svc := newTestService(posts, &memUsers{}, &fakeSummarizer{response: "обзор"}, sender, Config{})

	report, err := svc.RunManual(context.Background(), domain.DigestJob{UserID: 5, ChatID: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, report.State)
	assert.Equal(t, 3, sender.attempts)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Произошла ошибка при формировании дайджеста.", sender.sent[0].text)
}

func TestListingOnlyWithoutSummarizer(t *testing.T) {
	posts := &memPosts{}
	seedPosts(posts, time.Now().Add(-time.Hour), 1)
	sender := &fakeSender{}
	svc := newTestService(posts, &memUsers{ids: []int64{1}}, nil, sender, Config{})

	report, err := svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryCommitted, report.State)
	require.Len(t, sender.sent, 1)
	assert.NotContains(t, sender.sent[0].text, "⚠️")
}

func TestStatus(t *testing.T) {
	posts := &memPosts{}
	base := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	seedPosts(posts, base, 2)
	svc := newTestService(posts, &memUsers{}, nil, &fakeSender{}, Config{})

	st, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Unsent.Count)
	require.NotNil(t, st.Unsent.Earliest)
	assert.True(t, st.Unsent.Earliest.Equal(base))
	assert.Equal(t, []domain.ChannelStat{{ChannelID: 1, Title: "Новости", Count: 2}}, st.Channels)
}
