package mtproto

import (
	"context"
	"fmt"
	"os"

	"github.com/borisgern/tg-channels-digest/internal/domain"
)

// ImportResult описывает результат импорта сессии.
type ImportResult struct {
	Bytes     int
	Converted bool
}

// ImportSessionFile читает сессию из файла (gotd JSON, строка или JSON Telethon,
// файл .session) и сохраняет её в хранилище под именем name.
func ImportSessionFile(ctx context.Context, repo domain.SessionRepo, name, path string) (ImportResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("чтение файла сессии: %w", err)
	}
	var (
		data      []byte
		converted bool
	)
	if IsSQLiteSession(raw) {
		data, err = ReadTelethonSQLite(ctx, path)
		converted = true
	} else {
		data, converted, err = NormalizeSession(raw)
	}
	if err != nil {
		return ImportResult{}, err
	}
	if err := repo.StoreMTProtoSession(ctx, name, data); err != nil {
		return ImportResult{}, fmt.Errorf("сохранение сессии %q: %w", name, err)
	}
	return ImportResult{Bytes: len(data), Converted: converted}, nil
}
