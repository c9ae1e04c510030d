package notify

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/rs/zerolog"
)

// New builds the channel selected by the config's type tag.
func New(cfg config.NotifierConfig, client *http.Client, logger zerolog.Logger) (Notifier, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("[notify New] %w", err)
	}

	switch cfg.Type {
	case config.NotifierEmail:
		return NewEmail(*cfg.Email)
	case config.NotifierTelegram:
		return NewTelegram(*cfg.Telegram, client)
	case config.NotifierDiscord:
		return NewDiscord(*cfg.Discord, client)
	case config.NotifierWebhook:
		return NewWebhook(*cfg.Webhook, client)
	case config.NotifierNATS:
		return NewNATS(*cfg.NATS)
	case config.NotifierLocal:
		return NewLocal(logger), nil
	default:
		return nil, fmt.Errorf("[notify New] unknown notifier type %q", cfg.Type)
	}
}

// BuildAll builds every notifier in cfgs, closing what was opened if one fails.
func BuildAll(cfgs []config.NotifierConfig, client *http.Client, logger zerolog.Logger) ([]Notifier, error) {
	out := make([]Notifier, 0, len(cfgs))
	for i, cfg := range cfgs {
		n, err := New(cfg, client, logger)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("notifier %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

type closer interface {
	Close() error
}

func closeAll(notifiers []Notifier) {
	for _, n := range notifiers {
		if c, ok := n.(closer); ok {
			_ = c.Close()
		}
	}
}
