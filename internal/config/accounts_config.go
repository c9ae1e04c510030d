package config

import (
	"fmt"
	"strings"
)

// Notifier kinds accepted in the `type` tag of a notifier block.
const (
	NotifierEmail    = "email"
	NotifierTelegram = "telegram"
	NotifierDiscord  = "discord"
	NotifierWebhook  = "webhook"
	NotifierNATS     = "nats"
	NotifierLocal    = "local"
)

type AccountsConfig interface {
	GetAccounts() []AccountConfig
	GetNotifiers() []NotifierConfig
}

type AccountConfig struct {
	Email     string           `yaml:"email"`
	Password  string           `yaml:"password"`
	TOTP      string           `yaml:"totp"`
	Notifiers []NotifierConfig `yaml:"notifiers"`
}

// NotifierConfig is a tagged union: Type selects which of the kind blocks is read.
type NotifierConfig struct {
	Type     string                  `yaml:"type"`
	Email    *EmailNotifierConfig    `yaml:"email,omitempty"`
	Telegram *TelegramNotifierConfig `yaml:"telegram,omitempty"`
	Discord  *DiscordNotifierConfig  `yaml:"discord,omitempty"`
	Webhook  *WebhookNotifierConfig  `yaml:"webhook,omitempty"`
	NATS     *NATSNotifierConfig     `yaml:"nats,omitempty"`
}

type EmailNotifierConfig struct {
	SMTPHost   string `yaml:"smtpHost"`
	SMTPPort   int    `yaml:"smtpPort"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Encryption string `yaml:"encryption"` // NONE | STARTTLS | SSL/TLS
	From       string `yaml:"from"`
	To         string `yaml:"to"`
}

type TelegramNotifierConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chatId"`
	APIURL string `yaml:"apiUrl"`
}

type DiscordNotifierConfig struct {
	WebhookURL string   `yaml:"webhookUrl"`
	Mentions   []string `yaml:"mentions"`
}

type WebhookNotifierConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type NATSNotifierConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Accounts struct {
	accounts  []AccountConfig
	notifiers []NotifierConfig
}

var _ AccountsConfig = Accounts{}

// GetAccounts returns the configured accounts. A single account can also be supplied
// through EMAIL/PASSWORD/TOTP environment variables.
func (a Accounts) GetAccounts() []AccountConfig {
	if len(a.accounts) > 0 {
		return a.accounts
	}
	if email := GetEnv("EMAIL", ""); email != "" {
		return []AccountConfig{{
			Email:    email,
			Password: GetEnv("PASSWORD", ""),
			TOTP:     GetEnv("TOTP", ""),
		}}
	}
	return nil
}

func (a Accounts) GetNotifiers() []NotifierConfig {
	return a.notifiers
}

func (a Accounts) validate() []string {
	var problems []string
	accounts := a.GetAccounts()
	if len(accounts) == 0 {
		problems = append(problems, "at least one account is required")
	}
	seen := make(map[string]struct{}, len(accounts))
	for i, acc := range accounts {
		email := strings.ToLower(strings.TrimSpace(acc.Email))
		if email == "" {
			problems = append(problems, fmt.Sprintf("accounts[%d].email is required", i))
			continue
		}
		if _, dup := seen[email]; dup {
			problems = append(problems, fmt.Sprintf("accounts[%d].email %q is duplicated", i, acc.Email))
		}
		seen[email] = struct{}{}
		for j, n := range acc.Notifiers {
			if err := n.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("accounts[%d].notifiers[%d]: %v", i, j, err))
			}
		}
	}
	for i, n := range a.notifiers {
		if err := n.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("notifiers[%d]: %v", i, err))
		}
	}
	return problems
}

// Validate checks that the block matching Type is present and usable.
func (n NotifierConfig) Validate() error {
	switch n.Type {
	case NotifierEmail:
		if n.Email == nil || n.Email.SMTPHost == "" || n.Email.To == "" {
			return fmt.Errorf("email notifier needs email.smtpHost and email.to")
		}
	case NotifierTelegram:
		if n.Telegram == nil || n.Telegram.Token == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notifier needs telegram.token and telegram.chatId")
		}
	case NotifierDiscord:
		if n.Discord == nil || n.Discord.WebhookURL == "" {
			return fmt.Errorf("discord notifier needs discord.webhookUrl")
		}
	case NotifierWebhook:
		if n.Webhook == nil || n.Webhook.URL == "" {
			return fmt.Errorf("webhook notifier needs webhook.url")
		}
	case NotifierNATS:
		if n.NATS == nil {
			return fmt.Errorf("nats notifier needs a nats block")
		}
	case NotifierLocal:
	default:
		return fmt.Errorf("unknown notifier type %q", n.Type)
	}
	return nil
}
