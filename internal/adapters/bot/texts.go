package bot

import (
	"html"
	"strings"
	"time"

	"github.com/borisgern/tg-channels-digest/internal/infra/i18n"
	"github.com/borisgern/tg-channels-digest/internal/usecase/digest"
	"github.com/borisgern/tg-channels-digest/internal/usecase/ingest"
)

func windowHours(window time.Duration) int {
	hours := int(window.Round(time.Hour) / time.Hour)
	if hours < 1 {
		hours = 1
	}
	return hours
}

// DigestTexts строит локализованные строки дайджеста.
func DigestTexts(cat *i18n.Catalog, window time.Duration) digest.TextsFunc {
	hours := windowHours(window)
	return func(lang string) digest.Texts {
		return digest.Texts{
			AutoHeader:    cat.T(lang, "digest.auto_header", nil),
			ManualHeader:  cat.Plural(lang, "digest.manual_header", hours, nil),
			EmptyManual:   cat.Plural(lang, "digest.empty_manual", hours, nil),
			SummaryFailed: cat.T(lang, "digest.summary_failed", nil),
			Truncated:     cat.T(lang, "digest.truncated", nil),
			Failed:        cat.T(lang, "digest.failed", nil),
		}
	}
}

// NotifyFormatter строит текст уведомления о новом посте.
func NotifyFormatter(cat *i18n.Catalog, lang string, loc *time.Location) ingest.NotifyFormatter {
	if loc == nil {
		loc = time.UTC
	}
	return func(n ingest.Notification) string {
		lines := []string{
			cat.T(lang, "notify.header", map[string]any{"Channel": html.EscapeString(n.Channel)}),
			cat.T(lang, "notify.time", map[string]any{"Time": n.PublishedAt.In(loc).Format("02.01.2006 15:04")}),
			cat.T(lang, "notify.text", map[string]any{"Text": html.EscapeString(n.Preview)}),
		}
		if n.MediaType != "" {
			lines = append(lines, cat.T(lang, "notify.media", map[string]any{"Media": html.EscapeString(n.MediaType)}))
		}
		return strings.Join(lines, "\n")
	}
}
