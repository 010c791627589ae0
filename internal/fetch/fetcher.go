// Package fetch performs one conditional HTTP GET per page check.
//
// The fetcher never retries and never touches the store; the next scheduled
// check is the retry.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"pagefeed/watcher/internal/models"
)

// Kind is the shape of a fetch outcome.
type Kind int

const (
	// NotModified means the origin honored our validator with a 304.
	NotModified Kind = iota
	// Fetched means a full body was received.
	Fetched
	// Failed means no usable response was received.
	Failed
)

func (k Kind) String() string {
	switch k {
	case NotModified:
		return "not-modified"
	case Fetched:
		return "fetched"
	default:
		return "failed"
	}
}

// Outcome is the result of one fetch.
type Outcome struct {
	Kind Kind
	// Body is set for Fetched.
	Body []byte
	// ETag is the validator the origin returned, if any.
	ETag       models.NullETag
	StatusCode int
	// Err is set for Failed.
	Err error
}

// Reason returns the failure message recorded as a page's last error.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Config configures the fetcher.
type Config struct {
	Timeout      time.Duration // Per-request timeout. Default: 30s.
	MaxBytes     int64         // Response body ceiling. Default: 10MB.
	UserAgent    string
	MaxRedirects int // Default: 5.
	// HostRate limits requests per second to a single origin host.
	// Zero or negative disables pacing.
	HostRate  float64
	HostBurst int // Default: 1.
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; pagefeed/1.0)"
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.HostBurst <= 0 {
		c.HostBurst = 1
	}
}

// Fetcher performs conditional GET requests with per-host pacing.
type Fetcher struct {
	client *http.Client
	config Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	maxRedirects := cfg.MaxRedirects
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("%w (%d)", ErrTooManyRedirects, len(via))
				}
				return nil
			},
		},
		config:   cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch requests rawURL once, sending etag as If-None-Match when present.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, etag models.NullETag) Outcome {
	u, err := url.Parse(rawURL)
	if err != nil {
		return failed(0, fmt.Errorf("%w: %v", ErrBadURL, err))
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return failed(0, fmt.Errorf("%w: %q", ErrBadURL, rawURL))
	}

	if err := f.wait(ctx, u.Host); err != nil {
		return failed(0, fmt.Errorf("waiting for %s: %w", u.Host, err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return failed(0, fmt.Errorf("%w: %v", ErrBadURL, err))
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	if etag.Valid {
		req.Header.Set("If-None-Match", string(etag.ETag))
	}

	log.Debug().
		Str("url", rawURL).
		Bool("conditional", etag.Valid).
		Msg("Fetching page")

	resp, err := f.client.Do(req)
	if err != nil {
		return failed(0, f.wrapTimeout(reqCtx, fmt.Errorf("http get: %w", err)))
	}
	defer resp.Body.Close()

	newETag := models.SomeETag(resp.Header.Get("ETag"))

	if resp.StatusCode == http.StatusNotModified && etag.Valid {
		return Outcome{Kind: NotModified, ETag: newETag, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return failed(resp.StatusCode, &StatusError{Code: resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return failed(resp.StatusCode, f.wrapTimeout(reqCtx, fmt.Errorf("read body: %w", err)))
	}
	if int64(len(body)) > f.config.MaxBytes {
		return failed(resp.StatusCode, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.config.MaxBytes))
	}

	return Outcome{Kind: Fetched, Body: body, ETag: newETag, StatusCode: resp.StatusCode}
}

// wait blocks until the host's pacing allows another request.
func (f *Fetcher) wait(ctx context.Context, host string) error {
	if f.config.HostRate <= 0 {
		return nil
	}
	return f.limiter(host).Wait(ctx)
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.config.HostRate), f.config.HostBurst)
		f.limiters[host] = l
	}
	return l
}

// wrapTimeout marks errors caused by the per-request deadline.
func (f *Fetcher) wrapTimeout(reqCtx context.Context, err error) error {
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, f.config.Timeout, err)
	}
	return err
}

func failed(status int, err error) Outcome {
	return Outcome{Kind: Failed, StatusCode: status, Err: err}
}
