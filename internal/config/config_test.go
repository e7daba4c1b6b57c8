package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  environment: test\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dealwatch", cfg.App.Name)
	assert.Equal(t, "test", cfg.App.Environment)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 4, cfg.Matching.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Alerting.Cooldown)
	assert.Equal(t, []string{"log"}, cfg.Alerting.Channels)
	assert.True(t, cfg.ChannelEnabled("LOG"))
	assert.False(t, cfg.ChannelEnabled("telegram"))
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
scheduler:
  interval: 30s
feed:
  base_url: https://deals.example.com
alerting:
  channels: [log, telegram]
  telegram:
    enabled: true
    bot_token: abc
    chat_id: "42"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("DEALWATCH_MATCHING_WORKERS", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "https://deals.example.com", cfg.Feed.BaseURL)
	assert.Equal(t, 16, cfg.Matching.Workers)
	assert.True(t, cfg.ChannelEnabled("telegram"))
	assert.Equal(t, "42", cfg.Alerting.Telegram.ChatID)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			Scheduler: SchedulerConfig{Interval: time.Minute},
			Matching:  MatchingConfig{Workers: 1},
			Export:    ExportConfig{MaxDataPoints: 10},
			Alerting:  AlertingConfig{Channels: []string{"log"}},
		}
	}

	ok := base()
	require.NoError(t, ok.Validate())

	cases := map[string]func(*Config){
		"interval":        func(c *Config) { c.Scheduler.Interval = 0 },
		"workers":         func(c *Config) { c.Matching.Workers = 0 },
		"max points":      func(c *Config) { c.Export.MaxDataPoints = 0 },
		"unknown channel": func(c *Config) { c.Alerting.Channels = []string{"pigeon"} },
		"telegram token":  func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = "1" },
		"metrics addr":    func(c *Config) { c.Metrics.Enabled = true },
		"cooldown":        func(c *Config) { c.Alerting.Cooldown = -time.Second },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
