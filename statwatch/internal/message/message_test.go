package message

import (
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/kworkstat/statwatch/internal/metric"
)

func TestEncodeDecode_Metrics(t *testing.T) {
	rec := metric.Record{
		Date:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Views:       1500,
		Sales:       42,
		Earned:      93000,
		Competition: "Высокая",
	}
	data, err := Encode(MetricsDelivered{Record: rec})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"METRICS"`) {
		t.Errorf("wire form: %s", data)
	}
	m, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := m.(MetricsDelivered)
	if !ok {
		t.Fatalf("decoded %T", m)
	}
	r := got.Record
	if !r.Date.Equal(rec.Date) || r.Views != rec.Views || r.Sales != rec.Sales ||
		r.Earned != rec.Earned || r.Competition != rec.Competition {
		t.Errorf("record: got %+v, want %+v", r, rec)
	}
}

func TestDecode_UpdateInterval(t *testing.T) {
	m, err := Decode([]byte(`{"type":"UPDATE_INTERVAL","interval":15}`))
	if err != nil {
		t.Fatal(err)
	}
	iv, ok := m.(IntervalUpdateRequested)
	if !ok || iv.Interval != 15 {
		t.Fatalf("got %#v", m)
	}
}

func TestDecode_Errors(t *testing.T) {
	for _, in := range []string{`not json`, `{"type":"PING"}`, `{"type":"METRICS"}`} {
		if _, err := Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%s): expected error", in)
		}
	}
}

func TestChannel_SendNeverBlocks(t *testing.T) {
	c := NewChannel(1, nil)
	if !c.Send(IntervalUpdateRequested{Interval: 5}) {
		t.Fatal("first send should be accepted")
	}
	if c.Send(IntervalUpdateRequested{Interval: 10}) {
		t.Fatal("second send should be dropped on a full buffer")
	}
	m := <-c.Receive()
	if m.(IntervalUpdateRequested).Interval != 5 {
		t.Errorf("got %#v", m)
	}
}
