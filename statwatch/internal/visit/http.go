package visit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/kworkstat/idgen"
)

// HTTPHost fetches the page with a single GET. No JavaScript runs, so it
// only suits dashboards whose numbers are in the server-rendered markup.
type HTTPHost struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// HTTPOption configures an HTTPHost.
type HTTPOption func(*HTTPHost)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTPHost) { h.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTPHost) { h.ua = ua }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPHost) { h.logger = l }
}

// NewHTTPHost creates an HTTPHost.
func NewHTTPHost(opts ...HTTPOption) *HTTPHost {
	h := &HTTPHost{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; statwatch/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Open GETs url. Non-2xx responses fail the visit.
func (h *HTTPHost) Open(ctx context.Context, url string) (Visit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("visit: new request: %w", err)
	}
	req.Header.Set("User-Agent", h.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.5")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("visit: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("visit: get %s: status %d", url, resp.StatusCode)
	}

	// Cap at 10MB.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("visit: read body: %w", err)
	}

	h.logger.Debug("visit: fetched", "url", url, "status", resp.StatusCode, "size", len(body))
	return newHTTPVisit(url, body), nil
}

// Close is a no-op: HTTP visits hold no browser resources.
func (h *HTTPHost) Close() error { return nil }

type httpVisit struct {
	id     string
	url    string
	body   []byte
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func newHTTPVisit(url string, body []byte) *httpVisit {
	ctx, cancel := context.WithCancel(context.Background())
	return &httpVisit{id: idgen.New(), url: url, body: body, ctx: ctx, cancel: cancel}
}

func (v *httpVisit) ID() string  { return v.id }
func (v *httpVisit) URL() string { return v.url }

func (v *httpVisit) Inject(ctx context.Context, script Script) {
	sctx, cancel := mergeCancel(ctx, v.ctx)
	go func() {
		defer cancel()
		script(sctx, v)
	}()
}

func (v *httpVisit) Document(ctx context.Context) (*html.Node, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(v.body))
	if err != nil {
		return nil, fmt.Errorf("visit: parse: %w", err)
	}
	return doc, nil
}

func (v *httpVisit) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		v.cancel()
	}
	return nil
}

// mergeCancel returns a context carrying parent's values that is cancelled
// when either parent or visit is done.
func mergeCancel(parent, visit context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(visit, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
