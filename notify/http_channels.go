package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-store-claimer/internal/config"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram posts to a bot chat.
type Telegram struct {
	token  string
	chatID string
	apiURL string
	client *http.Client
}

func NewTelegram(cfg config.TelegramNotifierConfig, client *http.Client) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("chat ID is required")
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultTelegramAPI
	}
	return &Telegram{token: cfg.Token, chatID: cfg.ChatID, apiURL: apiURL, client: client}, nil
}

func (t *Telegram) Name() string {
	return config.NotifierTelegram
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	payload := map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     msg.Title() + "\n\n" + msg.Text(),
		"disable_web_page_preview": true,
	}
	if msg.URL != "" {
		payload["reply_markup"] = map[string]interface{}{
			"inline_keyboard": [][]map[string]string{{{"text": "Open", "url": msg.URL}}},
		}
	}
	return postJSON(ctx, t.client, fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token), nil, payload)
}

// Discord posts through a channel webhook.
type Discord struct {
	webhookURL string
	mentions   []string
	client     *http.Client
}

func NewDiscord(cfg config.DiscordNotifierConfig, client *http.Client) (*Discord, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	return &Discord{webhookURL: cfg.WebhookURL, mentions: cfg.Mentions, client: client}, nil
}

func (d *Discord) Name() string {
	return config.NotifierDiscord
}

func (d *Discord) Send(ctx context.Context, msg Message) error {
	content := "**" + msg.Title() + "**\n" + msg.Text()
	if len(d.mentions) > 0 {
		content = strings.Join(d.mentions, " ") + " " + content
	}
	payload := map[string]interface{}{
		"content":          content,
		"allowed_mentions": map[string]interface{}{"parse": []string{"users", "roles"}},
	}
	return postJSON(ctx, d.client, d.webhookURL, nil, payload)
}

// Webhook posts a JSON event to an arbitrary endpoint.
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhook(cfg config.WebhookNotifierConfig, client *http.Client) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	return &Webhook{url: cfg.URL, headers: cfg.Headers, client: client}, nil
}

func (w *Webhook) Name() string {
	return config.NotifierWebhook
}

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, w.client, w.url, w.headers, eventPayload(msg))
}

// eventPayload is the JSON shape shared by the webhook and nats channels.
func eventPayload(msg Message) map[string]string {
	return map[string]string{
		"account": msg.Account,
		"reason":  string(msg.Reason),
		"url":     msg.URL,
		"title":   msg.Title(),
		"text":    msg.Text(),
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
