package digest

import (
	"html"
	"strings"
)

// Texts — локализованные строки дайджеста.
type Texts struct {
	AutoHeader    string
	ManualHeader  string
	EmptyManual   string
	SummaryFailed string
	Truncated     string
	Failed        string
}

// TextsFunc возвращает строки дайджеста для языка.
type TextsFunc func(lang string) Texts

// Summary — результат суммаризации, подготовленный к отправке.
type Summary struct {
	Text      string
	Truncated bool
	Failed    bool
}

// IsTruncated сообщает, что ответ модели оборвался на многоточии.
func IsTruncated(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…")
}

// FormatSummary экранирует ответ модели и проставляет ссылки на посты.
func FormatSummary(raw string, links map[int]string) string {
	return ReconcileLinks(html.EscapeString(strings.TrimSpace(raw)), links)
}

// FormatDigest собирает сообщение: обзор, предупреждения, заголовок и список постов.
func FormatDigest(header string, summary Summary, listing string, texts Texts) string {
	var sections []string
	switch {
	case summary.Failed:
		sections = append(sections, texts.SummaryFailed)
	case strings.TrimSpace(summary.Text) != "":
		block := summary.Text
		if summary.Truncated {
			block += "\n\n" + texts.Truncated
		}
		sections = append(sections, block)
	}
	body := header
	if listing != "" {
		body += "\n" + listing
	}
	sections = append(sections, body)
	return strings.TrimSpace(strings.Join(sections, "\n\n"))
}
