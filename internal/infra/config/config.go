package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию бота.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
		APIID      int    `envconfig:"TG_API_ID"`
		APIHash    string `envconfig:"TG_API_HASH"`
		// Channels — список каналов через запятую: алиасы, ссылки t.me или числовые id.
		Channels []string `envconfig:"TG_CHANNELS"`
		Language string   `envconfig:"BOT_LANGUAGE" default:"ru"`
		SendRPS  int      `envconfig:"TG_SEND_RPS" default:"25"`
	} `envconfig:""`

	MTProto struct {
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"default"`
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE"`
		Phone       string `envconfig:"MTPROTO_PHONE"`
		Password    string `envconfig:"MTPROTO_PASSWORD"`
	} `envconfig:""`

	Store struct {
		PGDSN      string `envconfig:"PG_DSN"`
		SQLitePath string `envconfig:"SQLITE_PATH" default:"digest.db"`
	} `envconfig:""`

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	} `envconfig:""`

	Gateway struct {
		Provider        string        `envconfig:"GATEWAY_PROVIDER" default:"openai"`
		OpenAIKey       string        `envconfig:"OPENAI_API_KEY"`
		OpenAIModel     string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		GeminiKey       string        `envconfig:"GEMINI_API_KEY"`
		GeminiModel     string        `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
		MaxOutputTokens int           `envconfig:"GATEWAY_MAX_OUTPUT_TOKENS" default:"400"`
		Timeout         time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Digest struct {
		Time                   string        `envconfig:"DIGEST_TIME" default:"09:00"`
		TZ                     string        `envconfig:"DIGEST_TZ" default:"Europe/Moscow"`
		RunMissedOnStart       bool          `envconfig:"DIGEST_RUN_MISSED_ON_START" default:"true"`
		ManualWindow           time.Duration `envconfig:"MANUAL_WINDOW" default:"4h"`
		ManualCooldown         time.Duration `envconfig:"MANUAL_COOLDOWN" default:"1m"`
		AutoSendWithoutSummary bool          `envconfig:"AUTO_SEND_WITHOUT_SUMMARY" default:"false"`
		NotifyNewPosts         bool          `envconfig:"NOTIFY_NEW_POSTS" default:"true"`
		Workers                int           `envconfig:"DIGEST_WORKERS" default:"2"`
		QueueKey               string        `envconfig:"DIGEST_QUEUE_KEY" default:"digest_jobs"`
		CycleLockKey           string        `envconfig:"DIGEST_CYCLE_LOCK" default:"digest:cycle"`
	} `envconfig:""`

	Sentry struct {
		DSN     string `envconfig:"SENTRY_DSN"`
		Release string `envconfig:"SENTRY_RELEASE"`
	} `envconfig:""`
}

// Load загружает конфиг из .env (если есть) и окружения.
func Load() (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("чтение .env: %w", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("не удалось загрузить конфиг: %w", err)
	}
	return cfg, nil
}

// Validate проверяет параметры, без которых бот не запустится.
func (c AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("TG_BOT_TOKEN не задан"))
	}
	if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
		errs = append(errs, errors.New("TG_API_ID и TG_API_HASH обязательны"))
	}
	if len(c.Telegram.Channels) == 0 {
		errs = append(errs, errors.New("TG_CHANNELS не задан"))
	}
	if _, err := time.Parse("15:04", c.Digest.Time); err != nil {
		errs = append(errs, fmt.Errorf("DIGEST_TIME должен быть в формате ЧЧ:ММ: %w", err))
	}
	if strings.TrimSpace(c.Digest.TZ) == "" {
		errs = append(errs, errors.New("DIGEST_TZ не задан"))
	}
	if c.Digest.ManualWindow <= 0 {
		errs = append(errs, errors.New("MANUAL_WINDOW должен быть положительным"))
	}
	switch c.Gateway.Provider {
	case "openai", "gemini", "none":
	default:
		errs = append(errs, fmt.Errorf("GATEWAY_PROVIDER: неизвестный провайдер %q", c.Gateway.Provider))
	}
	return errors.Join(errs...)
}
