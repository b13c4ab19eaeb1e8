package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/borisgern/tg-channels-digest/internal/adapters/mtproto"
	"github.com/borisgern/tg-channels-digest/internal/adapters/repo"
	"github.com/borisgern/tg-channels-digest/internal/infra/config"
	"github.com/borisgern/tg-channels-digest/internal/infra/log"
)

func main() {
	cfg, err := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: не удалось загрузить конфиг")
	}

	var (
		filePath    string
		sessionName string
	)
	flag.StringVar(&filePath, "file", cfg.MTProto.SessionFile, "путь к файлу сессии (gotd JSON, Telethon string/JSON или .session)")
	flag.StringVar(&sessionName, "name", cfg.MTProto.SessionName, "имя MTProto-сессии")
	flag.Parse()

	if filePath == "" {
		logger.Fatal().Msg("mtproto-importer: укажите путь к файлу сессии (-file)")
	}

	if err := run(cfg, sessionName, filePath, logger); err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: не удалось импортировать сессию")
	}
}

func run(cfg config.AppConfig, sessionName, filePath string, logger zerolog.Logger) error {
	store, closeStore, err := repo.Open(cfg.Store.PGDSN, cfg.Store.SQLitePath, log.Component(logger, "repo"))
	if err != nil {
		return fmt.Errorf("открытие хранилища: %w", err)
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := mtproto.ImportSessionFile(ctx, store, sessionName, filePath)
	if err != nil {
		return err
	}
	if res.Converted {
		fmt.Println("Сессия сконвертирована в формат gotd")
	}
	fmt.Printf("MTProto-сессия %q сохранена (%d байт)\n", sessionName, res.Bytes)
	return nil
}
