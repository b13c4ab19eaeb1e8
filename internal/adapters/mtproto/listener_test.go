package mtproto

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borisgern/tg-channels-digest/internal/usecase/channels"
	"github.com/borisgern/tg-channels-digest/internal/usecase/ingest"
)

type recHandler struct {
	mu   sync.Mutex
	got  []ingest.RawPost
	done chan struct{}
}

func (h *recHandler) Handle(_ context.Context, raw ingest.RawPost) (int64, error) {
	h.mu.Lock()
	h.got = append(h.got, raw)
	h.mu.Unlock()
	if h.done != nil {
		h.done <- struct{}{}
	}
	return 1, nil
}

func channelUpdate(channelID int64, msgID int, text string, media tg.MessageMediaClass) *tg.UpdateNewChannelMessage {
	msg := &tg.Message{
		ID:      msgID,
		PeerID:  &tg.PeerChannel{ChannelID: channelID},
		Date:    int(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).Unix()),
		Message: text,
	}
	if media != nil {
		msg.SetMedia(media)
	}
	return &tg.UpdateNewChannelMessage{Message: msg}
}

func entities(ch *tg.Channel) tg.Entities {
	return tg.Entities{Channels: map[int64]*tg.Channel{ch.ID: ch}}
}

func TestToRawPost(t *testing.T) {
	ch := &tg.Channel{ID: 500, Title: "Go News", Username: "go_news"}
	raw, ok := toRawPost(entities(ch), channelUpdate(500, 12, "Привет", &tg.MessageMediaPhoto{}))
	require.True(t, ok)
	assert.Equal(t, ingest.RawPost{
		ChannelID:       500,
		ChannelUsername: "go_news",
		ChannelTitle:    "Go News",
		MessageID:       12,
		Date:            time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Text:            "Привет",
		MediaType:       "photo",
	}, raw)
}

func TestToRawPostSkipsServiceMessages(t *testing.T) {
	u := &tg.UpdateNewChannelMessage{Message: &tg.MessageService{ID: 1, PeerID: &tg.PeerChannel{ChannelID: 1}}}
	_, ok := toRawPost(tg.Entities{}, u)
	assert.False(t, ok)
}

func TestMediaType(t *testing.T) {
	video := &tg.MessageMediaDocument{Document: &tg.Document{Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}}}}
	voice := &tg.MessageMediaDocument{Document: &tg.Document{Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}}}
	cases := map[string]struct {
		media tg.MessageMediaClass
		want  string
	}{
		"video":    {video, "video"},
		"voice":    {voice, "voice"},
		"document": {&tg.MessageMediaDocument{Document: &tg.Document{}}, "document"},
		"webpage":  {&tg.MessageMediaWebPage{}, ""},
		"poll":     {&tg.MessageMediaPoll{}, "poll"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, mediaType(tc.media))
		})
	}
}

func TestDispatchFiltersByWatchlist(t *testing.T) {
	watch, err := channels.NewWatchlist([]string{"@go_news"})
	require.NoError(t, err)
	handler := &recHandler{done: make(chan struct{}, 1)}
	l := NewListener(Config{}, nil, watch, handler, nil, zerolog.Nop())

	other := &tg.Channel{ID: 7, Title: "Other", Username: "other_channel"}
	l.dispatch(context.Background(), entities(other), channelUpdate(7, 1, "skip", nil))

	ch := &tg.Channel{ID: 500, Title: "Go News", Username: "go_news"}
	l.dispatch(context.Background(), entities(ch), channelUpdate(500, 2, "keep", nil))

	select {
	case <-handler.done:
	case <-time.After(time.Second):
		t.Fatal("обработчик не вызван")
	}
	l.wg.Wait()
	require.Len(t, handler.got, 1)
	assert.Equal(t, "keep", handler.got[0].Text)
}
