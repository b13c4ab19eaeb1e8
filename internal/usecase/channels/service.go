package channels

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrAliasInvalid = errors.New("некорректный алиас")
	ErrEmptyList    = errors.New("список каналов пуст")
)

var aliasRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/|t\.me/)?([a-z0-9_]{5,})$`)

// channelIDOffset — префикс идентификаторов каналов в Bot API.
const channelIDOffset = 1_000_000_000_000

// Ref — канал из конфигурации: по алиасу или по числовому идентификатору.
type Ref struct {
	Alias string
	ID    int64
}

func (r Ref) String() string {
	if r.Alias != "" {
		return "@" + r.Alias
	}
	return strconv.FormatInt(r.ID, 10)
}

// ParseAlias приводит ввод пользователя к каноничному алиасу.
func ParseAlias(input string) (string, error) {
	trim := strings.TrimSpace(input)
	matches := aliasRegex.FindStringSubmatch(trim)
	if len(matches) < 2 {
		return "", ErrAliasInvalid
	}
	return strings.ToLower(matches[1]), nil
}

// ParseRef разбирает алиас, ссылку t.me или числовой идентификатор.
// Идентификаторы в формате Bot API (-100...) приводятся к MTProto.
func ParseRef(input string) (Ref, error) {
	trim := strings.TrimSpace(input)
	if id, err := strconv.ParseInt(trim, 10, 64); err == nil {
		if id < 0 {
			id = -id
			if id > channelIDOffset {
				id -= channelIDOffset
			}
		}
		if id == 0 {
			return Ref{}, fmt.Errorf("%w: %q", ErrAliasInvalid, input)
		}
		return Ref{ID: id}, nil
	}
	alias, err := ParseAlias(trim)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q", ErrAliasInvalid, input)
	}
	return Ref{Alias: alias}, nil
}

// Watchlist — набор отслеживаемых каналов.
type Watchlist struct {
	mu      sync.RWMutex
	refs    []Ref
	aliases map[string]struct{}
	ids     map[int64]struct{}
}

// NewWatchlist разбирает список каналов из конфигурации.
func NewWatchlist(inputs []string) (*Watchlist, error) {
	w := &Watchlist{aliases: map[string]struct{}{}, ids: map[int64]struct{}{}}
	var errs []error
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		ref, err := ParseRef(input)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ref.Alias != "" {
			if _, ok := w.aliases[ref.Alias]; ok {
				continue
			}
			w.aliases[ref.Alias] = struct{}{}
		} else {
			if _, ok := w.ids[ref.ID]; ok {
				continue
			}
			w.ids[ref.ID] = struct{}{}
		}
		w.refs = append(w.refs, ref)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(w.refs) == 0 {
		return nil, ErrEmptyList
	}
	return w, nil
}

// Refs возвращает каналы в порядке конфигурации.
func (w *Watchlist) Refs() []Ref {
	out := make([]Ref, len(w.refs))
	copy(out, w.refs)
	return out
}

// Matches проверяет, отслеживается ли канал.
func (w *Watchlist) Matches(channelID int64, username string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.ids[channelID]; ok {
		return true
	}
	if username == "" {
		return false
	}
	_, ok := w.aliases[strings.ToLower(username)]
	return ok
}

// Resolve запоминает числовой идентификатор канала, найденного по алиасу.
func (w *Watchlist) Resolve(alias string, channelID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.aliases[strings.ToLower(alias)]; ok {
		w.ids[channelID] = struct{}{}
	}
}
