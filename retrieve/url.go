package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/pagewatch/horosafe"
)

var errTooManyRedirects = errors.New("too many redirects")

// URLConfig configures URLBackend.
type URLConfig struct {
	// MaxBytes caps response bodies unless the job sets its own. Default: 10MB.
	MaxBytes int64
	// UserAgent sent unless the job sets one. Default: "pagewatch/1.0".
	UserAgent string
	// MaxRedirects before failing with too_many_redirects. Default: 10.
	MaxRedirects int
	// PerHostRate limits requests per second to a single host. 0 disables.
	PerHostRate float64
	// PerHostBurst is the limiter burst. Default: 1.
	PerHostBurst int
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

func (c *URLConfig) defaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "pagewatch/1.0"
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
	if c.PerHostBurst <= 0 {
		c.PerHostBurst = 1
	}
}

// URLBackend performs HTTP requests with conditional GET on the ETag.
type URLBackend struct {
	cfg URLConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewURLBackend creates a URLBackend.
func NewURLBackend(cfg URLConfig) *URLBackend {
	cfg.defaults()
	return &URLBackend{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (b *URLBackend) client(blockPrivate bool) *http.Client {
	return &http.Client{
		Transport: b.cfg.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= b.cfg.MaxRedirects {
				return errTooManyRedirects
			}
			if blockPrivate {
				if err := horosafe.ValidateURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
			}
			return nil
		},
	}
}

func (b *URLBackend) limiter(host string) *rate.Limiter {
	if b.cfg.PerHostRate <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(b.cfg.PerHostRate), b.cfg.PerHostBurst)
		b.limiters[host] = l
	}
	return l
}

// Fetch retrieves req.Descriptor.URL. A 304 answer to If-None-Match is
// reported as Unchanged. 5xx and 429 statuses are retryable.
func (b *URLBackend) Fetch(ctx context.Context, req Request) (*Result, error) {
	d := req.Descriptor
	u, err := horosafe.CheckURL(d.URL)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Err: err}
	}
	if d.BlockPrivate {
		if err := horosafe.ValidateURL(d.URL); err != nil {
			return nil, &Error{Kind: KindInvalid, Err: err}
		}
	}
	if l := b.limiter(u.Host); l != nil {
		if err := l.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, AsError(ctx.Err())
			}
			// The deadline falls before the next token.
			return nil, &Error{Kind: KindTimeout, Retryable: true, Err: err}
		}
	}

	method := d.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if d.Data != "" {
		body = strings.NewReader(d.Data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, d.URL, body)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Err: err}
	}
	ua := d.UserAgent
	if ua == "" {
		ua = b.cfg.UserAgent
	}
	httpReq.Header.Set("User-Agent", ua)
	if d.Data != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range d.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.PriorMarker != "" {
		httpReq.Header.Set("If-None-Match", req.PriorMarker)
	}

	resp, err := b.client(d.BlockPrivate).Do(httpReq)
	if err != nil {
		return nil, classifyHTTP(err)
	}
	defer resp.Body.Close()

	marker := resp.Header.Get("ETag")
	if resp.StatusCode == http.StatusNotModified {
		if marker == "" {
			marker = req.PriorMarker
		}
		return &Result{Unchanged: true, Marker: marker, StatusCode: resp.StatusCode}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, &Error{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Err:        fmt.Errorf("%s %s", method, d.URL),
		}
	}

	maxBytes := b.cfg.MaxBytes
	if d.MaxBytes > 0 {
		maxBytes = d.MaxBytes
	}
	data, err := horosafe.LimitedReadAll(resp.Body, maxBytes)
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			return nil, &Error{Kind: KindInvalid, Err: err}
		}
		return nil, classifyHTTP(err)
	}
	return &Result{Content: data, Marker: marker, StatusCode: resp.StatusCode}, nil
}

func classifyHTTP(err error) *Error {
	switch {
	case errors.Is(err, errTooManyRedirects):
		return &Error{Kind: KindTooManyRedirects, Err: err}
	case errors.Is(err, horosafe.ErrSSRF), errors.Is(err, horosafe.ErrUnsafeScheme):
		return &Error{Kind: KindInvalid, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Retryable: true, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindConnection, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Retryable: true, Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return &Error{Kind: KindConnection, Retryable: true, Err: ue.Err}
	}
	return &Error{Kind: KindConnection, Retryable: true, Err: err}
}
