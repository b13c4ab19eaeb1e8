package channels

import (
	"errors"
	"testing"
)

func TestParseAlias(t *testing.T) {
	cases := map[string]string{
		"@Example":       "example",
		"https://t.me/A": "",
		"t.me/golang":    "golang",
	}
	for input, expected := range cases {
		alias, err := ParseAlias(input)
		if expected == "" {
			if err == nil {
				t.Fatalf("ожидали ошибку для %s", input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if alias != expected {
			t.Fatalf("ожидали %s, получили %s", expected, alias)
		}
	}
}

func TestParseRef(t *testing.T) {
	cases := map[string]Ref{
		"-1001234567890":        {ID: 1234567890},
		"1234567890":            {ID: 1234567890},
		"https://t.me/durov_ch": {Alias: "durov_ch"},
	}
	for input, expected := range cases {
		ref, err := ParseRef(input)
		if err != nil {
			t.Fatalf("не ожидали ошибку для %s: %v", input, err)
		}
		if ref != expected {
			t.Fatalf("для %s ожидали %+v, получили %+v", input, expected, ref)
		}
	}
	if _, err := ParseRef("0"); !errors.Is(err, ErrAliasInvalid) {
		t.Fatalf("ожидали ErrAliasInvalid, получили %v", err)
	}
}

func TestWatchlistMatches(t *testing.T) {
	w, err := NewWatchlist([]string{"@GoNews", "-1001111111111", "t.me/gonews", " "})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := len(w.Refs()); got != 2 {
		t.Fatalf("ожидали 2 канала без дублей, получили %d", got)
	}
	if !w.Matches(42, "gonews") {
		t.Fatal("канал по алиасу должен совпасть")
	}
	if !w.Matches(1111111111, "") {
		t.Fatal("канал по идентификатору должен совпасть")
	}
	if w.Matches(7, "other_channel") {
		t.Fatal("посторонний канал не должен совпасть")
	}
	w.Resolve("GoNews", 42)
	if !w.Matches(42, "") {
		t.Fatal("после резолва канал должен совпадать по идентификатору")
	}
}

func TestNewWatchlistErrors(t *testing.T) {
	if _, err := NewWatchlist(nil); !errors.Is(err, ErrEmptyList) {
		t.Fatalf("ожидали ErrEmptyList, получили %v", err)
	}
	if _, err := NewWatchlist([]string{"@ok_channel", "@x"}); !errors.Is(err, ErrAliasInvalid) {
		t.Fatalf("ожидали ErrAliasInvalid, получили %v", err)
	}
}
