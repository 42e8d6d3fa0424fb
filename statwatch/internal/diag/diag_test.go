package diag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/kworkstat/statwatch/internal/store"
)

type memSink struct {
	entries []store.LogEntry
	err     error
}

func (m *memSink) AppendLog(_ context.Context, e store.LogEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestLog_Persists(t *testing.T) {
	sink := &memSink{}
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	l := New(sink, nil, WithClock(func() time.Time { return at }))

	l.Logf(context.Background(), "Auto-collect set to %d minutes", 1)

	if len(sink.entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(sink.entries))
	}
	e := sink.entries[0]
	if e.Message != "Auto-collect set to 1 minutes" || !e.Time.Equal(at) {
		t.Errorf("entry: got %+v", e)
	}
}

func TestLog_SinkFailureIsSwallowed(t *testing.T) {
	l := New(&memSink{err: errors.New("disk gone")}, nil)
	l.Log(context.Background(), "still fine")
}

func TestLog_NilSafe(t *testing.T) {
	var l *Logger
	l.Log(context.Background(), "ignored")
	New(nil, nil).Log(context.Background(), "slog only")
}

func TestRender(t *testing.T) {
	entries := []store.LogEntry{
		{Time: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), Message: "first"},
		{Time: time.Date(2026, 2, 3, 4, 6, 0, 0, time.UTC), Message: "second"},
	}
	got := Render(entries)
	want := "[2026-02-03T04:05:06Z] first\n[2026-02-03T04:06:00Z] second"
	if got != want {
		t.Errorf("Render:\n got %q\nwant %q", got, want)
	}
	if Render(nil) != "" {
		t.Error("Render(nil) should be empty")
	}
}

func TestFilename(t *testing.T) {
	got := Filename(time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC))
	if got != "statwatch_logs_2026-10-18.log" {
		t.Errorf("Filename: got %q", got)
	}
	if !strings.HasSuffix(got, ".log") {
		t.Error("missing .log suffix")
	}
}
