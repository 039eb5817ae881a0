package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// TelegramMessageLimit is the maximum text length of one Telegram message.
const TelegramMessageLimit = 4096

const telegramAPI = "https://api.telegram.org"

// TelegramConfig is the config of the telegram platform.
type TelegramConfig struct {
	common
	// BotToken is the bot API token (from @BotFather).
	BotToken string `json:"bot_token"`
	// ChatID is the target chat, user or channel (@name).
	ChatID string `json:"chat_id"`
	// APIBase overrides the bot API endpoint.
	APIBase string `json:"api_base,omitempty"`
	// Silent sends without notification.
	Silent bool `json:"silent,omitempty"`
}

// TelegramFactory returns a Factory sending the text report through the bot
// API sendMessage method, split into messages of at most
// TelegramMessageLimit characters.
//
// Config example:
//
//	{"bot_token": "123456:ABC-DEF", "chat_id": "-100123456"}
func TelegramFactory() Factory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg TelegramConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("telegram: parse config: %w", err)
		}
		if cfg.BotToken == "" {
			return nil, fmt.Errorf("telegram: bot_token is required")
		}
		if cfg.ChatID == "" {
			return nil, fmt.Errorf("telegram: chat_id is required")
		}
		if cfg.APIBase == "" {
			cfg.APIBase = telegramAPI
		}
		cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
		return &telegramChannel{name: name, cfg: cfg, client: &http.Client{Timeout: defaultHTTPTimeout}}, nil
	}
}

type telegramChannel struct {
	name   string
	cfg    TelegramConfig
	client *http.Client
}

func (c *telegramChannel) Name() string { return c.name }

func (c *telegramChannel) Deliver(ctx context.Context, rep Report) error {
	text := FormatText(rep.Meta, rep.Reportable(c.cfg.OnlyChanges))
	if strings.TrimSpace(text) == "" {
		return nil
	}
	endpoint := c.cfg.APIBase + "/bot" + c.cfg.BotToken + "/sendMessage"
	for _, part := range chunk(text, TelegramMessageLimit) {
		body, err := json.Marshal(map[string]any{
			"chat_id":                  c.cfg.ChatID,
			"text":                     part,
			"disable_web_page_preview": true,
			"disable_notification":     c.cfg.Silent,
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			// The URL embeds the token; keep it out of the error.
			return fmt.Errorf("build request for chat %s", c.cfg.ChatID)
		}
		req.Header.Set("Content-Type", "application/json")
		if err := doPost(c.client, req); err != nil {
			return redact(err, c.cfg.BotToken)
		}
	}
	return nil
}

// redact strips secret from err's message.
func redact(err error, secret string) error {
	msg := err.Error()
	if secret == "" || !strings.Contains(msg, secret) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(msg, secret, "<redacted>"))
}
