package schedule

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kworkstat/dbopen"
	"github.com/hazyhaar/kworkstat/statwatch/internal/diag"
	"github.com/hazyhaar/kworkstat/statwatch/internal/extract"
	"github.com/hazyhaar/kworkstat/statwatch/internal/message"
	"github.com/hazyhaar/kworkstat/statwatch/internal/metric"
	"github.com/hazyhaar/kworkstat/statwatch/internal/store"
	"github.com/hazyhaar/kworkstat/statwatch/internal/visit"
)

const dashboard = `<html><body>
<div class="stat-card"><div class="stat-number">1500</div></div>
<div class="stat-card"><div class="stat-number">42</div></div>
<div class="stat-card"><div class="stat-number">93000</div></div>
<div class="stat-card"><div class="stat-number">Высокая</div></div>
</body></html>`

// fakeHost serves a fixed page and records visit lifecycles. When gate is
// set, Open signals entered and blocks until gate is closed or ctx ends.
type fakeHost struct {
	page    string
	openErr error
	gate    chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	visits []*fakeVisit
}

func (h *fakeHost) Open(ctx context.Context, url string) (visit.Visit, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	if h.gate != nil {
		select {
		case h.entered <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.gate:
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &fakeVisit{url: url, page: h.page, opened: time.Now(), ctx: ctx, cancel: cancel}
	h.mu.Lock()
	h.visits = append(h.visits, v)
	h.mu.Unlock()
	return v, nil
}

func (h *fakeHost) Close() error { return nil }

func (h *fakeHost) all() []*fakeVisit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeVisit(nil), h.visits...)
}

type fakeVisit struct {
	url    string
	page   string
	opened time.Time
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	injected time.Time
	closed   time.Time
}

func (v *fakeVisit) ID() string  { return "v" }
func (v *fakeVisit) URL() string { return v.url }

func (v *fakeVisit) Inject(ctx context.Context, script visit.Script) {
	v.mu.Lock()
	v.injected = time.Now()
	v.mu.Unlock()
	go script(v.ctx, v)
}

func (v *fakeVisit) Document(ctx context.Context) (*html.Node, error) {
	if v.ctx.Err() != nil {
		return nil, visit.ErrClosed
	}
	return html.Parse(strings.NewReader(v.page))
}

func (v *fakeVisit) Close() error {
	v.mu.Lock()
	if v.closed.IsZero() {
		v.closed = time.Now()
	}
	v.mu.Unlock()
	v.cancel()
	return nil
}

func (v *fakeVisit) times() (injected, closed time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.injected, v.closed
}

type harness struct {
	sched *Scheduler
	store *store.Store
	host  *fakeHost
	ch    *message.Channel
}

func newHarness(t *testing.T, host *fakeHost, cfg Config, renderDelay time.Duration) *harness {
	t.Helper()
	st := store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	ch := message.NewChannel(8, nil)
	dlog := diag.New(st, nil)
	script := extract.New().Script(extract.ScriptConfig{
		RenderDelay: renderDelay,
		Diag:        dlog,
		Channel:     ch,
		OnResult:    ObserveExtraction,
	})
	s := New(host, st, ch, script, dlog, cfg, nil)
	t.Cleanup(s.Close)
	return &harness{sched: s, store: st, host: host, ch: ch}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func logMessages(t *testing.T, st *store.Store) []string {
	t.Helper()
	entries, err := st.Logs(context.Background())
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func hasPrefix(msgs []string, prefix string) bool {
	for _, m := range msgs {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func TestStart_DefaultInterval(t *testing.T) {
	h := newHarness(t, &fakeHost{page: dashboard}, Config{}, time.Millisecond)
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	p, ok := h.sched.Alarms().Get(AlarmName)
	if !ok || p != time.Minute {
		t.Fatalf("alarm: got %v %v, want 1m", p, ok)
	}
	if msgs := logMessages(t, h.store); !hasPrefix(msgs, "Auto-collect set to 1 minutes") {
		t.Errorf("logs: %v", msgs)
	}
}

func TestStart_PersistedInterval(t *testing.T) {
	h := newHarness(t, &fakeHost{page: dashboard}, Config{}, time.Millisecond)
	if err := h.store.SetConfig(context.Background(), metric.Config{IntervalMinutes: 15}); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	a := h.sched.Alarms()
	if a.Count() != 1 {
		t.Fatalf("alarms: got %d, want 1", a.Count())
	}
	if p, _ := a.Get(AlarmName); p != 15*time.Minute {
		t.Fatalf("period: got %v, want 15m", p)
	}
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, &fakeHost{page: dashboard}, Config{}, time.Millisecond)
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestIntervalUpdate_LastWins(t *testing.T) {
	h := newHarness(t, &fakeHost{page: dashboard}, Config{}, time.Millisecond)
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}

	h.ch.Send(message.IntervalUpdateRequested{Interval: 5})
	h.ch.Send(message.IntervalUpdateRequested{Interval: 10})

	waitFor(t, "interval 10", func() bool {
		c, err := h.store.GetConfig(ctx)
		return err == nil && c.IntervalMinutes == 10
	})

	a := h.sched.Alarms()
	if a.Count() != 1 {
		t.Fatalf("alarms: got %d, want 1", a.Count())
	}
	if p, _ := a.Get(AlarmName); p != 10*time.Minute {
		t.Fatalf("period: got %v, want 10m", p)
	}
	if msgs := logMessages(t, h.store); !hasPrefix(msgs, "Interval updated to 10 minutes") {
		t.Errorf("logs: %v", msgs)
	}
}

func TestIntervalUpdate_NonPositiveUsesDefault(t *testing.T) {
	h := newHarness(t, &fakeHost{page: dashboard}, Config{}, time.Millisecond)
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	h.ch.Send(message.IntervalUpdateRequested{Interval: 0})
	waitFor(t, "interval log", func() bool {
		return hasPrefix(logMessages(t, h.store), "Interval updated to 1 minutes")
	})
}

func TestIntervalUpdate_OutOfRangeKeepsTrigger(t *testing.T) {
	h := newHarness(t, &fakeHost{page: dashboard}, Config{}, time.Millisecond)
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for _, iv := range []float64{1e12, 1e-12, math.NaN(), math.Inf(1)} {
		h.sched.handle(ctx, message.IntervalUpdateRequested{Interval: iv})

		a := h.sched.Alarms()
		if a.Count() != 1 {
			t.Fatalf("%v: alarms: got %d, want 1", iv, a.Count())
		}
		if p, ok := a.Get(AlarmName); !ok || p != time.Minute {
			t.Fatalf("%v: period: got %v %v, want 1m", iv, p, ok)
		}
		c, err := h.store.GetConfig(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if c.IntervalMinutes != 1 {
			t.Fatalf("%v: stored interval: got %v, want 1", iv, c.IntervalMinutes)
		}
	}
	if msgs := logMessages(t, h.store); !hasPrefix(msgs, "Interval updated to 1 minutes") {
		t.Errorf("logs: %v", msgs)
	}
}

// WHAT: an interval change while the alarm's visit is still being opened.
// WHY: replacing the alarm must not cancel a cycle it already started.
func TestIntervalUpdate_KeepsOpeningVisit(t *testing.T) {
	host := &fakeHost{
		page:    dashboard,
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	cfg := Config{
		LoadDelay:    time.Millisecond,
		GraceDelay:   50 * time.Millisecond,
		IntervalUnit: 20 * time.Millisecond,
	}
	h := newHarness(t, host, cfg, time.Millisecond)
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-host.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("alarm never opened a visit")
	}
	h.sched.handle(ctx, message.IntervalUpdateRequested{Interval: 100})
	close(host.gate)

	waitFor(t, "record from the opening visit", func() bool {
		hist, err := h.store.GetHistory(ctx)
		return err == nil && len(hist) >= 1
	})
	if msgs := logMessages(t, h.store); hasPrefix(msgs, "Visit failed: ") {
		t.Errorf("visit was cancelled by the interval change: %v", msgs)
	}
	if p, _ := h.sched.Alarms().Get(AlarmName); p != 100*cfg.IntervalUnit {
		t.Errorf("period: got %v, want %v", p, 100*cfg.IntervalUnit)
	}
}

func TestCollect_EndToEnd(t *testing.T) {
	host := &fakeHost{page: dashboard}
	cfg := Config{LoadDelay: 20 * time.Millisecond, GraceDelay: 100 * time.Millisecond}
	h := newHarness(t, host, cfg, 10*time.Millisecond)
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := h.sched.Collect(ctx); err != nil {
		t.Fatalf("collect: %v", err)
	}

	waitFor(t, "record", func() bool {
		hist, err := h.store.GetHistory(ctx)
		return err == nil && len(hist) == 1
	})
	hist, _ := h.store.GetHistory(ctx)
	r := hist[0]
	if r.Views != 1500 || r.Sales != 42 || r.Earned != 93000 || r.Competition != "Высокая" {
		t.Fatalf("record: got %+v", r)
	}
	if _, ok, _ := h.store.LastUpdated(ctx); !ok {
		t.Fatal("lastUpdated not set")
	}

	visits := host.all()
	if len(visits) != 1 {
		t.Fatalf("visits: got %d, want 1", len(visits))
	}
	if visits[0].url != DefaultURL {
		t.Errorf("url: got %q", visits[0].url)
	}
	waitFor(t, "teardown", func() bool {
		_, closed := visits[0].times()
		return !closed.IsZero()
	})
	injected, closed := visits[0].times()
	if d := injected.Sub(visits[0].opened); d < cfg.LoadDelay {
		t.Errorf("injected %v after open, want >= %v", d, cfg.LoadDelay)
	}
	if d := closed.Sub(injected); d < cfg.GraceDelay {
		t.Errorf("closed %v after inject, want >= %v", d, cfg.GraceDelay)
	}

	msgs := logMessages(t, h.store)
	for _, want := range []string{"Auto-collecting metrics...", "Extracted metrics: ", "Metrics saved: "} {
		if !hasPrefix(msgs, want) {
			t.Errorf("missing log %q in %v", want, msgs)
		}
	}
}

func TestCollect_SlowRenderLosesCycle(t *testing.T) {
	host := &fakeHost{page: dashboard}
	cfg := Config{LoadDelay: time.Millisecond, GraceDelay: 10 * time.Millisecond}
	h := newHarness(t, host, cfg, 500*time.Millisecond)
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Collect(ctx); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "teardown", func() bool {
		vs := host.all()
		if len(vs) == 0 {
			return false
		}
		_, closed := vs[0].times()
		return !closed.IsZero()
	})
	time.Sleep(600 * time.Millisecond)
	hist, _ := h.store.GetHistory(ctx)
	if len(hist) != 0 {
		t.Fatalf("history: got %d records, want 0", len(hist))
	}
}

func TestCollect_OpenFailure(t *testing.T) {
	host := &fakeHost{openErr: errors.New("no browser")}
	h := newHarness(t, host, Config{}, time.Millisecond)
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Collect(ctx); err == nil {
		t.Fatal("expected error")
	}
	if msgs := logMessages(t, h.store); !hasPrefix(msgs, "Visit failed: ") {
		t.Errorf("logs: %v", msgs)
	}
}

func TestCollect_NotStarted(t *testing.T) {
	h := newHarness(t, &fakeHost{page: dashboard}, Config{}, time.Millisecond)
	if err := h.sched.Collect(context.Background()); err == nil {
		t.Fatal("Collect before Start should fail")
	}
}

func TestAlarm_TriggersCycle(t *testing.T) {
	host := &fakeHost{page: dashboard}
	cfg := Config{
		LoadDelay:    time.Millisecond,
		GraceDelay:   50 * time.Millisecond,
		IntervalUnit: 20 * time.Millisecond,
	}
	h := newHarness(t, host, cfg, time.Millisecond)
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two records", func() bool {
		hist, err := h.store.GetHistory(context.Background())
		return err == nil && len(hist) >= 2
	})
}

func TestClose_TearsDownPendingVisit(t *testing.T) {
	host := &fakeHost{page: dashboard}
	h := newHarness(t, host, Config{LoadDelay: time.Hour}, time.Millisecond)
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Collect(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.sched.Close()

	vs := host.all()
	injected, closed := vs[0].times()
	if !injected.IsZero() {
		t.Error("script should not be injected")
	}
	if closed.IsZero() {
		t.Error("visit should be torn down on Close")
	}
}
