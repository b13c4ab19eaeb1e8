package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() AppConfig {
	var cfg AppConfig
	cfg.Telegram.Token = "token"
	cfg.Telegram.APIID = 1
	cfg.Telegram.APIHash = "hash"
	cfg.Telegram.Channels = []string{"@example_channel"}
	cfg.Digest.Time = "09:00"
	cfg.Digest.TZ = "Europe/Moscow"
	cfg.Digest.ManualWindow = 4 * time.Hour
	cfg.Gateway.Provider = "openai"
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TG_BOT_TOKEN", "token")
	t.Setenv("TG_CHANNELS", "first_channel,@second_channel")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, "09:00", cfg.Digest.Time)
	assert.Equal(t, 4*time.Hour, cfg.Digest.ManualWindow)
	assert.Equal(t, []string{"first_channel", "@second_channel"}, cfg.Telegram.Channels)
	assert.True(t, cfg.Digest.NotifyNewPosts)
	assert.False(t, cfg.Digest.AutoSendWithoutSummary)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Digest.Time = "9-00"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Digest.TZ = " "
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Telegram.Token = ""
	cfg.Gateway.Provider = "unknown"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TG_BOT_TOKEN")
	assert.Contains(t, err.Error(), "GATEWAY_PROVIDER")
}
