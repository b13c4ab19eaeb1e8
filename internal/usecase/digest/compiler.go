package digest

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

const (
	previewRunes = 100
	// MediaPlaceholder подставляется вместо текста у постов без подписи.
	MediaPlaceholder = "[Медиа-сообщение]"
)

// Batch — скомпилированная пачка постов для одного дайджеста.
type Batch struct {
	Posts []domain.Post
	// Prompt — пронумерованный текст для сервиса суммаризации.
	Prompt string
	// Links сопоставляет номер [n] в Prompt со ссылкой на пост.
	Links map[int]string
	// PostIDs — посты, которые будут помечены отправленными после доставки.
	PostIDs []int64
	// Listing — запасной список постов по каналам в HTML.
	Listing string
}

// Empty сообщает, что в пачке нет постов.
func (b Batch) Empty() bool { return len(b.Posts) == 0 }

// Compiler собирает Batch из постов.
type Compiler struct {
	loc *time.Location
}

// NewCompiler создаёт компилятор, который выводит время в loc.
func NewCompiler(loc *time.Location) *Compiler {
	if loc == nil {
		loc = time.UTC
	}
	return &Compiler{loc: loc}
}

// Compile нумерует посты с 1 в хронологическом порядке и строит запрос и список.
func (c *Compiler) Compile(posts []domain.Post) Batch {
	if len(posts) == 0 {
		return Batch{Links: map[int]string{}}
	}
	ordered := make([]domain.Post, len(posts))
	copy(ordered, posts)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].PublishedAt.Equal(ordered[j].PublishedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].PublishedAt.Before(ordered[j].PublishedAt)
	})

	batch := Batch{
		Posts:   ordered,
		Links:   make(map[int]string, len(ordered)),
		PostIDs: make([]int64, 0, len(ordered)),
	}
	var prompt strings.Builder
	for i, post := range ordered {
		seq := i + 1
		if post.URL != "" {
			batch.Links[seq] = post.URL
		}
		batch.PostIDs = append(batch.PostIDs, post.ID)
		if i > 0 {
			prompt.WriteString("\n\n")
		}
		fmt.Fprintf(&prompt, "[%d] %s · %s\n%s", seq, c.clock(post.PublishedAt), channelTitle(post), postBody(post))
	}
	batch.Prompt = prompt.String()
	batch.Listing = c.listing(ordered)
	return batch
}

func (c *Compiler) listing(posts []domain.Post) string {
	type group struct {
		title string
		lines []string
	}
	var order []int64
	groups := make(map[int64]*group)
	for _, post := range posts {
		g, ok := groups[post.ChannelID]
		if !ok {
			g = &group{title: channelTitle(post)}
			groups[post.ChannelID] = g
			order = append(order, post.ChannelID)
		}
		stamp := "[" + c.clock(post.PublishedAt) + "]"
		if post.URL != "" {
			stamp = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(post.URL), stamp)
		}
		g.lines = append(g.lines, "— "+stamp+" "+html.EscapeString(Preview(post.Text)))
	}

	sections := make([]string, 0, len(order))
	for _, id := range order {
		g := groups[id]
		sections = append(sections, "<b>"+html.EscapeString(g.title)+"</b>\n"+strings.Join(g.lines, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

func (c *Compiler) clock(t time.Time) string {
	if t.IsZero() {
		return "??:??"
	}
	return t.In(c.loc).Format("15:04")
}

// Preview возвращает первую непустую строку текста, не длиннее 100 символов.
func Preview(text string) string {
	line := ""
	for _, candidate := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			line = trimmed
			break
		}
	}
	if line == "" {
		return MediaPlaceholder
	}
	if utf8.RuneCountInString(line) <= previewRunes {
		return line
	}
	return string([]rune(line)[:previewRunes]) + "..."
}

func postBody(post domain.Post) string {
	if strings.TrimSpace(post.Text) == "" {
		return MediaPlaceholder
	}
	return strings.TrimSpace(post.Text)
}

func channelTitle(post domain.Post) string {
	if title := strings.TrimSpace(post.ChannelTitle); title != "" {
		return title
	}
	return fmt.Sprintf("channel %d", post.ChannelID)
}
