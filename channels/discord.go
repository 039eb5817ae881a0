package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// DiscordMessageLimit is the maximum content length of one Discord message.
const DiscordMessageLimit = 2000

// DiscordConfig is the config of the discord platform.
type DiscordConfig struct {
	common
	// WebhookURL is the channel webhook from Server Settings > Integrations.
	WebhookURL string `json:"webhook_url"`
	// Username overrides the webhook's display name.
	Username string `json:"username,omitempty"`
}

// DiscordFactory returns a Factory posting the text report to a Discord
// webhook, split into messages of at most DiscordMessageLimit characters.
//
// Config example:
//
//	{"webhook_url": "https://discord.com/api/webhooks/123/abc"}
func DiscordFactory() Factory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg DiscordConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("discord: parse config: %w", err)
		}
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("discord: webhook_url is required")
		}
		if _, err := horosafe.CheckURL(cfg.WebhookURL); err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		return &discordChannel{name: name, cfg: cfg, client: &http.Client{Timeout: defaultHTTPTimeout}}, nil
	}
}

type discordChannel struct {
	name   string
	cfg    DiscordConfig
	client *http.Client
}

func (c *discordChannel) Name() string { return c.name }

func (c *discordChannel) Deliver(ctx context.Context, rep Report) error {
	text := FormatText(rep.Meta, rep.Reportable(c.cfg.OnlyChanges))
	if strings.TrimSpace(text) == "" {
		return nil
	}
	// Leave room for the code fence.
	for _, part := range chunk(text, DiscordMessageLimit-8) {
		msg := map[string]string{"content": "```\n" + part + "```"}
		if c.cfg.Username != "" {
			msg["username"] = c.cfg.Username
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if err := doPost(c.client, req); err != nil {
			return err
		}
	}
	return nil
}
