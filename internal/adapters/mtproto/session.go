package mtproto

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

// SessionStore хранит сессию gotd в таблице mtproto_sessions.
type SessionStore struct {
	repo domain.SessionRepo
	name string
}

var _ session.Storage = (*SessionStore)(nil)

// NewSessionStore создаёт хранилище сессии с указанным именем.
func NewSessionStore(repo domain.SessionRepo, name string) *SessionStore {
	return &SessionStore{repo: repo, name: name}
}

// LoadSession загружает сессию. Сессии в форматах Telethon конвертируются на лету.
func (s *SessionStore) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.repo.LoadMTProtoSession(ctx, s.name)
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, domain.ErrNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("загрузка сессии %q: %w", s.name, err)
	}
	normalized, _, err := NormalizeSession(data)
	if err != nil {
		return nil, fmt.Errorf("сессия %q: %w", s.name, err)
	}
	return normalized, nil
}

// StoreSession сохраняет сессию.
func (s *SessionStore) StoreSession(ctx context.Context, data []byte) error {
	if err := s.repo.StoreMTProtoSession(ctx, s.name, data); err != nil {
		return fmt.Errorf("сохранение сессии %q: %w", s.name, err)
	}
	return nil
}
