package visit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/net/html"

	"github.com/hazyhaar/kworkstat/idgen"
)

// RodConfig configures the Chrome-backed host.
type RodConfig struct {
	// RemoteURL is the DevTools WebSocket of an external Chrome.
	// Empty = launch a local headless Chrome.
	RemoteURL string

	// Stealth injects the go-rod/stealth evasions into every visit.
	Stealth bool

	// ResourceBlocking lists resource types to block (images, fonts, media,
	// stylesheets).
	ResourceBlocking []string

	// NavTimeout bounds the initial navigation. Default: 30s.
	NavTimeout time.Duration

	// RecycleInterval is the maximum lifetime of the Chrome process. The
	// browser is only recycled between visits. Default: 4h.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

func (c *RodConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RodHost opens each visit as a background Chrome target. Chrome is
// launched lazily on the first visit.
type RodHost struct {
	cfg     RodConfig
	blocked blockList
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	open    int
	closed  bool
}

// NewRodHost creates a host. No browser is started until Open.
func NewRodHost(cfg RodConfig) *RodHost {
	cfg.defaults()
	return &RodHost{cfg: cfg, blocked: newBlockList(cfg.ResourceBlocking)}
}

// Open creates an inactive page and navigates it to url. It does not wait
// for the page to finish loading.
func (h *RodHost) Open(ctx context.Context, url string) (Visit, error) {
	b, err := h.acquire()
	if err != nil {
		return nil, err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "", Background: true})
	if err != nil {
		h.release()
		return nil, fmt.Errorf("visit: create page: %w", err)
	}

	if h.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			h.cfg.Logger.Warn("visit: stealth injection failed", "error", err)
		}
	}
	var router *rod.HijackRouter
	if len(h.blocked) > 0 {
		router = h.blocked.route(page)
	}

	navCtx, cancel := context.WithTimeout(ctx, h.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		if router != nil {
			router.Stop()
		}
		page.Close()
		h.release()
		return nil, fmt.Errorf("visit: navigate %s: %w", url, err)
	}

	vctx, vcancel := context.WithCancel(context.Background())
	return &rodVisit{
		id:     idgen.New(),
		url:    url,
		page:   page,
		router: router,
		host:   h,
		ctx:    vctx,
		cancel: vcancel,
	}, nil
}

// Close shuts Chrome down.
func (h *RodHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cleanup()
	return nil
}

// acquire returns a live browser, launching or recycling it when needed,
// and counts one more open visit.
func (h *RodHost) acquire() (*rod.Browser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("visit: host is closed")
	}

	if h.browser != nil && h.open == 0 && time.Since(h.startAt) > h.cfg.RecycleInterval {
		h.cfg.Logger.Info("visit: recycling browser", "uptime", time.Since(h.startAt))
		h.cleanup()
	}

	if h.browser == nil {
		b, err := h.launch()
		if err != nil {
			return nil, err
		}
		h.browser = b
		h.startAt = time.Now()
	}
	h.open++
	return h.browser, nil
}

func (h *RodHost) release() {
	h.mu.Lock()
	if h.open > 0 {
		h.open--
	}
	h.mu.Unlock()
}

func (h *RodHost) launch() (*rod.Browser, error) {
	log := h.cfg.Logger
	wsURL := h.cfg.RemoteURL

	if wsURL != "" {
		log.Info("visit: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("visit: launch chrome: %w", err)
		}
		wsURL = u
		h.lnch = l
		log.Info("visit: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("visit: connect chrome: %w", err)
	}
	return b, nil
}

func (h *RodHost) cleanup() {
	if h.browser != nil {
		h.browser.Close()
		h.browser = nil
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
		h.lnch = nil
	}
}

type rodVisit struct {
	id     string
	url    string
	page   *rod.Page
	router *rod.HijackRouter
	host   *RodHost
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (v *rodVisit) ID() string  { return v.id }
func (v *rodVisit) URL() string { return v.url }

func (v *rodVisit) Inject(ctx context.Context, script Script) {
	sctx, cancel := mergeCancel(ctx, v.ctx)
	go func() {
		defer cancel()
		script(sctx, v)
	}()
}

// Document serialises the live DOM and parses it.
func (v *rodVisit) Document(ctx context.Context) (*html.Node, error) {
	if v.ctx.Err() != nil {
		return nil, ErrClosed
	}
	res, err := v.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		if v.ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("visit: capture DOM: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(res.Value.Str()))
	if err != nil {
		return nil, fmt.Errorf("visit: parse DOM: %w", err)
	}
	return doc, nil
}

func (v *rodVisit) Close() error {
	var err error
	v.once.Do(func() {
		v.cancel()
		if v.router != nil {
			v.router.Stop()
		}
		err = v.page.Close()
		v.host.release()
	})
	return err
}

// blockList holds lower-cased CDP resource types ("image", "font") whose
// requests are failed. The dashboard numbers are text, so none of them are
// needed to read it.
type blockList map[string]bool

// Config names that differ from the CDP resource type.
var resourceAliases = map[string]string{
	"images":      "image",
	"fonts":       "font",
	"stylesheets": "stylesheet",
	"scripts":     "script",
}

func newBlockList(names []string) blockList {
	b := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if t, ok := resourceAliases[n]; ok {
			n = t
		}
		b[n] = true
	}
	return b
}

func (b blockList) blocks(t proto.NetworkResourceType) bool {
	return b[strings.ToLower(string(t))]
}

// route intercepts every request of page. The returned router must be
// stopped when the page closes.
func (b blockList) route(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	router.MustAdd("*", func(ctx *rod.Hijack) {
		if b.blocks(ctx.Request.Type()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
