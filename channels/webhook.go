package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// WebhookConfig is the config of the generic webhook platform.
type WebhookConfig struct {
	common
	// URL receives the report as a JSON POST.
	URL string `json:"url"`
	// Secret, when set, signs the body: X-Signature-256 carries
	// "sha256=" + hex HMAC-SHA256 of the body.
	Secret string `json:"secret,omitempty"`
	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty"`
	// BlockPrivate refuses URLs resolving to private or loopback addresses.
	BlockPrivate bool          `json:"block_private,omitempty"`
	Timeout      time.Duration `json:"-"`
}

// WebhookFactory returns a Factory POSTing the JSON report to a URL.
//
// Config example:
//
//	{"url": "https://hooks.example.com/pagewatch", "secret": "...", "only_changes": true}
func WebhookFactory() Factory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg WebhookConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("webhook: parse config: %w", err)
		}
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook: url is required")
		}
		if _, err := horosafe.CheckURL(cfg.URL); err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
		if cfg.Secret != "" {
			if err := horosafe.ValidateSecret([]byte(cfg.Secret)); err != nil {
				return nil, fmt.Errorf("webhook: secret: %w", err)
			}
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = defaultHTTPTimeout
		}
		return &webhookChannel{name: name, cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
	}
}

type webhookChannel struct {
	name   string
	cfg    WebhookConfig
	client *http.Client
}

func (c *webhookChannel) Name() string { return c.name }

// sign returns the X-Signature-256 value for body.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an X-Signature-256 header against body. The
// "sha256=" prefix is optional.
func VerifySignature(secret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

func (c *webhookChannel) Deliver(ctx context.Context, rep Report) error {
	outcomes := rep.Reportable(c.cfg.OnlyChanges)
	if len(outcomes) == 0 {
		return nil
	}
	if c.cfg.BlockPrivate {
		if err := horosafe.ValidateURL(c.cfg.URL); err != nil {
			return fmt.Errorf("webhook url: %w", err)
		}
	}

	body, err := json.Marshal(Report{Meta: rep.Meta, Outcomes: outcomes})
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", sign(c.cfg.Secret, body))
	}
	return doPost(c.client, req)
}

// doPost sends req and fails on any status >= 400, quoting the start of
// the response body.
func doPost(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return nil
}
