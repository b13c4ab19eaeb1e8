package digest

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
)

var markerRe = regexp.MustCompile(`\[(\d+)\]`)

// ReconcileLinks оборачивает маркеры [n] ссылками из links. Маркеры обрабатываются
// по убыванию номера, уже обёрнутые маркеры не трогаются, поэтому повторный вызов
// ничего не меняет. Маркеры без ссылки остаются как есть.
func ReconcileLinks(text string, links map[int]string) string {
	if len(links) == 0 || text == "" {
		return text
	}
	seen := make(map[int]struct{})
	var numbers []int
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := links[n]; !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		numbers = append(numbers, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(numbers)))

	for _, n := range numbers {
		marker := fmt.Sprintf("[%d]", n)
		anchor := fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(links[n]), marker)
		re := regexp.MustCompile(`<a href="[^"]*">\[\d+\]</a>|` + regexp.QuoteMeta(marker))
		text = re.ReplaceAllStringFunc(text, func(match string) string {
			if match != marker {
				return match
			}
			return anchor
		})
	}
	return text
}
