package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Catalog хранит переводы сообщений бота.
type Catalog struct {
	bundle   *i18n.Bundle
	fallback string
	log      zerolog.Logger
}

// New загружает встроенные переводы. defaultLang используется, когда язык
// пользователя неизвестен или перевода нет.
func New(defaultLang string, logger zerolog.Logger) (*Catalog, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("язык по умолчанию %q: %w", defaultLang, err)
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			return nil, fmt.Errorf("загрузка %s: %w", path.Base(file), err)
		}
	}
	return &Catalog{bundle: bundle, fallback: tag.String(), log: logger}, nil
}

// T возвращает сообщение id на языке lang.
func (c *Catalog) T(lang, id string, data map[string]any) string {
	return c.localize(lang, &i18n.LocalizeConfig{MessageID: id, TemplateData: data})
}

// Plural возвращает сообщение id с формой для count. Count доступен в шаблоне как {{.Count}}.
func (c *Catalog) Plural(lang, id string, count int, data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	data["Count"] = count
	return c.localize(lang, &i18n.LocalizeConfig{MessageID: id, TemplateData: data, PluralCount: count})
}

func (c *Catalog) localize(lang string, cfg *i18n.LocalizeConfig) string {
	msg, err := i18n.NewLocalizer(c.bundle, lang, c.fallback).Localize(cfg)
	if err != nil {
		c.log.Warn().Err(err).Str("lang", lang).Str("id", cfg.MessageID).Msg("i18n: нет перевода")
		return cfg.MessageID
	}
	return msg
}
