package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/stretchr/testify/require"
)

const validYAML = `
env: PROD
store:
  clientId: client
  clientSecret: secret
  searchStrategy: weekly
schedule:
  cron: "0 12 * * *"
  escalationBuffer: 10m
server:
  port: "8081"
  baseUrl: https://claimer.example.com/
accounts:
  - email: one@example.com
    password: hunter2
    notifiers:
      - type: discord
        discord:
          webhookUrl: https://discord.example.com/hook
  - email: two@example.com
notifiers:
  - type: local
`

func TestParse(t *testing.T) {
	c, err := config.Parse([]byte(validYAML))
	require.NoError(t, err)

	require.Equal(t, "PROD", c.GetEnv())
	require.Equal(t, ":8081", c.GetPort())
	require.Equal(t, "https://claimer.example.com", c.GetBaseURL())
	require.Equal(t, config.SearchStrategyWeekly, c.GetSearchStrategy())
	require.Equal(t, 10*time.Minute, c.GetEscalationBuffer())
	require.True(t, c.GetRunOnStartup())
	require.Len(t, c.GetAccounts(), 2)
	require.Len(t, c.GetAccounts()[0].Notifiers, 1)
	require.Equal(t, config.NotifierLocal, c.GetNotifiers()[0].Type)
	require.Equal(t, config.CredentialBackendFile, c.GetCredentialBackend())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SEARCH_STRATEGY", "promotion")

	c, err := config.Parse([]byte(validYAML))
	require.NoError(t, err)
	require.Equal(t, ":9999", c.GetPort())
	require.Equal(t, config.SearchStrategyPromotion, c.GetSearchStrategy())
}

func TestParse_CollectsAllProblems(t *testing.T) {
	_, err := config.Parse([]byte(`
store:
  searchStrategy: everything
schedule:
  cron: "not a cron"
accounts:
  - email: a@example.com
    notifiers:
      - type: pigeon
  - email: A@example.com
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "searchStrategy")
	require.Contains(t, err.Error(), "schedule.cron")
	require.Contains(t, err.Error(), "unknown notifier type \"pigeon\"")
	require.Contains(t, err.Error(), "duplicated")
	require.Contains(t, err.Error(), "clientId")
}

func TestNotifierConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.NotifierConfig
		wantErr bool
	}{
		{"local", config.NotifierConfig{Type: config.NotifierLocal}, false},
		{"telegram missing block", config.NotifierConfig{Type: config.NotifierTelegram}, true},
		{"telegram ok", config.NotifierConfig{Type: config.NotifierTelegram, Telegram: &config.TelegramNotifierConfig{Token: "t", ChatID: "1"}}, false},
		{"webhook missing url", config.NotifierConfig{Type: config.NotifierWebhook, Webhook: &config.WebhookNotifierConfig{}}, true},
		{"nats ok", config.NotifierConfig{Type: config.NotifierNATS, NATS: &config.NATSNotifierConfig{}}, false},
		{"unknown", config.NotifierConfig{Type: "fax"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
