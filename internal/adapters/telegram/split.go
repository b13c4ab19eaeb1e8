package telegram

import (
	"strings"
	"unicode/utf8"
)

// messageLimit — максимальная длина сообщения Bot API в символах.
const messageLimit = 4096

// SplitMessage делит текст на части не длиннее messageLimit. Границы частей
// ставятся по переводам строк, строки длиннее лимита режутся по символам.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if utf8.RuneCountInString(trimmed) <= messageLimit {
		return []string{trimmed}
	}

	var (
		parts   []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if chunk := strings.Trim(current.String(), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		current.Reset()
		size = 0
	}
	for _, line := range strings.Split(trimmed, "\n") {
		for _, piece := range cutRunes(line, messageLimit) {
			n := utf8.RuneCountInString(piece)
			if size > 0 && size+1+n > messageLimit {
				flush()
			}
			if size > 0 {
				current.WriteByte('\n')
				size++
			}
			current.WriteString(piece)
			size += n
		}
	}
	flush()
	return parts
}

// cutRunes режет строку длиннее limit. Разрез ставится после последнего
// пробела вне HTML-разметки, при его отсутствии по последней границе вне
// разметки, и только в крайнем случае ровно по limit.
func cutRunes(line string, limit int) []string {
	if utf8.RuneCountInString(line) <= limit {
		return []string{line}
	}
	runes := []rune(line)
	out := make([]string, 0, len(runes)/limit+1)
	for len(runes) > limit {
		cut := cutPoint(runes[:limit])
		out = append(out, strings.TrimRight(string(runes[:cut]), " "))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// cutPoint возвращает число рун от начала window, после которых можно резать,
// не разрывая тег, сущность или содержимое незакрытого элемента.
func cutPoint(window []rune) int {
	var inTag, closing, inEntity bool
	depth, lastSpace, lastSafe := 0, 0, 0
	for i, r := range window {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
				if closing {
					depth = max(depth-1, 0)
				} else {
					depth++
				}
			}
		case inEntity:
			inEntity = r != ';' && r != ' ' && i-lastSafe < 10
		case r == '<':
			inTag = true
			closing = i+1 < len(window) && window[i+1] == '/'
		case r == '&':
			inEntity = true
		case r == ' ' && depth == 0:
			lastSpace = i + 1
		}
		if !inTag && !inEntity && depth == 0 {
			lastSafe = i + 1
		}
	}
	switch {
	case lastSpace > 0:
		return lastSpace
	case lastSafe > 0:
		return lastSafe
	}
	return len(window)
}
