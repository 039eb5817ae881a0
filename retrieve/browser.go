package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// BrowserConfig configures BrowserBackend.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome on first use.
	RemoteURL string
	// Headful shows the browser window (debugging).
	Headful bool
	// BlockResources lists resource types never loaded: images, fonts,
	// media, stylesheets.
	BlockResources []string
	Logger         *slog.Logger
}

// BrowserBackend renders pages in Chrome through Rod with stealth
// evasions applied, and returns the rendered document.
type BrowserBackend struct {
	cfg BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewBrowserBackend returns a backend; Chrome starts on the first Fetch.
func NewBrowserBackend(cfg BrowserConfig) *BrowserBackend {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BrowserBackend{cfg: cfg}
}

func (b *BrowserBackend) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("browser: backend is closed")
	}
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(!b.cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.cfg.Logger.Info("browser: launched local chrome", "url", wsURL)
	} else {
		b.cfg.Logger.Info("browser: connecting to remote", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		b.cleanupLocked()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = br
	return br, nil
}

// Fetch navigates to the job URL, waits for load (and WaitFor when set)
// and returns the outer HTML of the document.
func (b *BrowserBackend) Fetch(ctx context.Context, req Request) (*Result, error) {
	d := req.Descriptor
	if _, err := horosafe.CheckURL(d.URL); err != nil {
		return nil, &Error{Kind: KindInvalid, Err: err}
	}
	if d.BlockPrivate {
		if err := horosafe.ValidateURL(d.URL); err != nil {
			return nil, &Error{Kind: KindInvalid, Err: err}
		}
	}

	br, err := b.ensure()
	if err != nil {
		return nil, &Error{Kind: KindConnection, Retryable: true, Err: err}
	}

	page, err := stealth.Page(br)
	if err != nil {
		b.reset()
		return nil, &Error{Kind: KindConnection, Retryable: true, Err: fmt.Errorf("create tab: %w", err)}
	}
	defer page.Close()

	if len(b.cfg.BlockResources) > 0 {
		router := blockResources(page, b.cfg.BlockResources)
		defer router.Stop()
	}
	if d.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.UserAgent}); err != nil {
			b.cfg.Logger.Warn("browser: set user agent failed", "error", err)
		}
	}
	if len(d.Headers) > 0 {
		kv := make([]string, 0, 2*len(d.Headers))
		for k, v := range d.Headers {
			kv = append(kv, k, v)
		}
		if _, err := page.SetExtraHeaders(kv); err != nil {
			b.cfg.Logger.Warn("browser: set headers failed", "error", err)
		}
	}

	p := page.Context(ctx)
	if err := p.Navigate(d.URL); err != nil {
		return nil, browserError(ctx, fmt.Errorf("navigate %s: %w", d.URL, err))
	}
	if err := p.WaitLoad(); err != nil {
		return nil, browserError(ctx, fmt.Errorf("wait load: %w", err))
	}
	if d.WaitFor != "" {
		if _, err := p.Element(d.WaitFor); err != nil {
			return nil, browserError(ctx, fmt.Errorf("wait for %q: %w", d.WaitFor, err))
		}
	}
	html, err := p.HTML()
	if err != nil {
		return nil, browserError(ctx, fmt.Errorf("read DOM: %w", err))
	}
	return &Result{Content: []byte(html)}, nil
}

func browserError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return AsError(ctx.Err())
	}
	return &Error{Kind: KindConnection, Retryable: true, Err: err}
}

// reset drops a browser that stopped answering; the next Fetch relaunches.
func (b *BrowserBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanupLocked()
}

// Close shuts Chrome down.
func (b *BrowserBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cleanupLocked()
	return nil
}

func (b *BrowserBackend) cleanupLocked() {
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}

// blockResources fails requests of the listed resource types.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blockSet, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func shouldBlock(blockSet map[string]bool, resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return blockSet["images"]
	case "font":
		return blockSet["fonts"]
	case "media":
		return blockSet["media"]
	case "stylesheet":
		return blockSet["stylesheets"]
	default:
		return blockSet[lower]
	}
}
