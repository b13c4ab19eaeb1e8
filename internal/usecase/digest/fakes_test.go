package digest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

type memPosts struct {
	mu        sync.Mutex
	posts     []domain.Post
	markCalls int
	markErr   error
	markCtxOK bool
}

func (m *memPosts) SavePost(_ context.Context, p domain.Post) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.posts) + 1)
	m.posts = append(m.posts, p)
	return p.ID, nil
}

func (m *memPosts) ListUnsent(context.Context) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Post
	for _, p := range m.posts {
		if !p.Sent {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPosts) ListRecent(_ context.Context, since time.Time) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Post
	for _, p := range m.posts {
		if p.PublishedAt.After(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPosts) MarkSent(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	m.markCalls++
	m.markCtxOK = ctx.Err() == nil
	if m.markErr != nil {
		return m.markErr
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range m.posts {
		if _, ok := set[m.posts[i].ID]; ok {
			m.posts[i].Sent = true
		}
	}
	return nil
}

func (m *memPosts) CountUnsent(ctx context.Context) (domain.UnsentStats, error) {
	unsent, _ := m.ListUnsent(ctx)
	stats := domain.UnsentStats{Count: len(unsent)}
	for _, p := range unsent {
		if stats.Earliest == nil || p.PublishedAt.Before(*stats.Earliest) {
			ts := p.PublishedAt
			stats.Earliest = &ts
		}
	}
	return stats, nil
}

func (m *memPosts) UnsentByChannel(ctx context.Context) ([]domain.ChannelStat, error) {
	unsent, _ := m.ListUnsent(ctx)
	byID := map[int64]*domain.ChannelStat{}
	var order []int64
	for _, p := range unsent {
		st, ok := byID[p.ChannelID]
		if !ok {
			st = &domain.ChannelStat{ChannelID: p.ChannelID, Title: p.ChannelTitle}
			byID[p.ChannelID] = st
			order = append(order, p.ChannelID)
		}
		st.Count++
	}
	out := make([]domain.ChannelStat, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (m *memPosts) sentFlags() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	flags := make([]bool, len(m.posts))
	for i, p := range m.posts {
		flags[i] = p.Sent
	}
	return flags
}

type memUsers struct {
	ids []int64
}

func (m *memUsers) Register(_ context.Context, id int64, _ string) (bool, error) {
	for _, existing := range m.ids {
		if existing == id {
			return false, nil
		}
	}
	m.ids = append(m.ids, id)
	return true, nil
}

func (m *memUsers) ListUserIDs(context.Context) ([]int64, error) {
	out := append([]int64(nil), m.ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type fakeSummarizer struct {
	calls    int
	response string
	err      error
	batches  []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, _, batch string) (string, error) {
	f.calls++
	f.batches = append(f.batches, batch)
	return f.response, f.err
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu      sync.Mutex
	failFor map[int64]bool
	// failFirst отклоняет столько первых отправок.
	failFirst int
	onSend    func()
	sent      []sentMessage
	attempts  int
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.onSend != nil {
		f.onSend()
	}
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("telegram недоступен")
	}
	if f.failFor[chatID] {
		return errors.New("бот заблокирован")
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type busyCache struct{}

func (busyCache) Once(context.Context, string, time.Duration, func() error) (bool, error) {
	return false, nil
}

func (busyCache) WithLock(context.Context, string, time.Duration, func() error) (bool, error) {
	return false, nil
}

func testTexts(string) Texts {
	return Texts{
		AutoHeader:    "📬 Автодайджест:",
		ManualHeader:  "📬 Дайджест постов за последние 4 часа:",
		EmptyManual:   "📭 Нет постов за последние 4 часа.",
		SummaryFailed: "⚠️ Не удалось создать AI-обзор.",
		Truncated:     "⚠️ Обзор мог быть обрезан.",
		Failed:        "Произошла ошибка при формировании дайджеста.",
	}
}

func seedPosts(posts *memPosts, base time.Time, n int) {
	for i := 0; i < n; i++ {
		_, _ = posts.SavePost(context.Background(), domain.Post{
			ChannelID:    1,
			ChannelTitle: "Новости",
			MessageID:    int64(i + 1),
			PublishedAt:  base.Add(time.Duration(i) * time.Minute),
			Text:         "пост",
			URL:          "https://t.me/news/" + string(rune('1'+i)),
		})
	}
}

func newTestService(posts *memPosts, users *memUsers, sum domain.Summarizer, sender *fakeSender, cfg Config) *Service {
	if cfg.ManualWindow == 0 {
		cfg.ManualWindow = 4 * time.Hour
	}
	return NewService(posts, users, sum, sender, nil, NewCompiler(time.UTC), testTexts, nil, cfg, nopLogger())
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }
