package domain

import (
	"context"
	"time"
)

// PostRepo хранит посты каналов.
type PostRepo interface {
	// SavePost сохраняет пост и возвращает его идентификатор. Повторное
	// сохранение того же сообщения канала возвращает существующий id.
	SavePost(ctx context.Context, post Post) (int64, error)
	// ListUnsent возвращает неотправленные посты, старые первыми.
	ListUnsent(ctx context.Context) ([]Post, error)
	// ListRecent возвращает посты новее since независимо от отметки отправки.
	ListRecent(ctx context.Context, since time.Time) ([]Post, error)
	// MarkSent атомарно помечает посты отправленными. Пустой список ничего не делает.
	MarkSent(ctx context.Context, ids []int64) error
	CountUnsent(ctx context.Context) (UnsentStats, error)
	UnsentByChannel(ctx context.Context) ([]ChannelStat, error)
}

// UserRepo хранит подписчиков.
type UserRepo interface {
	// Register возвращает true, если пользователь добавлен впервые.
	Register(ctx context.Context, userID int64, handle string) (bool, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// SessionRepo хранит MTProto-сессии.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// Summarizer строит обзор пачки постов через внешний сервис.
type Summarizer interface {
	Summarize(ctx context.Context, instructions, batch string) (string, error)
}

// Sender отправляет сообщение в чат.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Cache даёт разовые и эксклюзивные операции по ключу.
type Cache interface {
	// Once выполняет fn, если ключ не был занят в течение ttl. Ключ остаётся занятым после успеха.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
	// WithLock выполняет fn под ключом и освобождает его по завершении.
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
}
