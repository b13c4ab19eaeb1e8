package repo

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/domain"
	"github.com/borisgern/tg-channels-digest/internal/infra/db"
)

// Store — хранилище постов, подписчиков и MTProto-сессий.
type Store interface {
	domain.PostRepo
	domain.UserRepo
	domain.SessionRepo
}

// Open подключается к Postgres, если задан pgDSN, иначе открывает SQLite,
// и применяет миграции. Возвращённая функция закрывает подключение.
func Open(pgDSN, sqlitePath string, logger zerolog.Logger) (Store, func(), error) {
	if pgDSN != "" {
		pool, err := db.Connect(pgDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("подключение к postgres: %w", err)
		}
		if err := db.MigratePostgres(pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("миграции postgres: %w", err)
		}
		logger.Info().Msg("repo: используем postgres")
		return NewPostgres(pool, logger), pool.Close, nil
	}
	conn, err := db.OpenSQLite(sqlitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.MigrateSQLite(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("миграции sqlite: %w", err)
	}
	logger.Info().Str("path", sqlitePath).Msg("repo: используем sqlite")
	return NewSQLite(conn, logger), func() { _ = conn.Close() }, nil
}
