// Package message is the one-directional channel between visit contexts,
// the configuration surface and the scheduler. Senders never wait: the
// channel is fire-and-forget, and the receiver's reaction depends only on
// the message variant.
package message

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/kworkstat/statwatch/internal/metric"
)

// Wire type tags.
const (
	TypeMetrics        = "METRICS"
	TypeUpdateInterval = "UPDATE_INTERVAL"
)

// Message is a closed set of variants: MetricsDelivered and
// IntervalUpdateRequested.
type Message interface {
	Type() string
	isMessage()
}

// MetricsDelivered carries the record produced by one visit.
type MetricsDelivered struct {
	Record metric.Record
}

func (MetricsDelivered) Type() string { return TypeMetrics }
func (MetricsDelivered) isMessage()   {}

// IntervalUpdateRequested asks the scheduler to replace its timer.
type IntervalUpdateRequested struct {
	Interval float64
}

func (IntervalUpdateRequested) Type() string { return TypeUpdateInterval }
func (IntervalUpdateRequested) isMessage()   {}

type envelope struct {
	Type     string         `json:"type"`
	Data     *metric.Record `json:"data,omitempty"`
	Interval *float64       `json:"interval,omitempty"`
}

// Encode renders m in its wire form:
//
//	{"type":"METRICS","data":{...}}
//	{"type":"UPDATE_INTERVAL","interval":15}
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case MetricsDelivered:
		return json.Marshal(envelope{Type: TypeMetrics, Data: &v.Record})
	case IntervalUpdateRequested:
		return json.Marshal(envelope{Type: TypeUpdateInterval, Interval: &v.Interval})
	default:
		return nil, fmt.Errorf("message: encode: unknown variant %T", m)
	}
}

// Decode parses the wire form.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("message: decode: %w", err)
	}
	switch env.Type {
	case TypeMetrics:
		if env.Data == nil {
			return nil, fmt.Errorf("message: decode: %s without data", TypeMetrics)
		}
		return MetricsDelivered{Record: *env.Data}, nil
	case TypeUpdateInterval:
		var iv float64
		if env.Interval != nil {
			iv = *env.Interval
		}
		return IntervalUpdateRequested{Interval: iv}, nil
	default:
		return nil, fmt.Errorf("message: decode: unknown type %q", env.Type)
	}
}

// Channel is a buffered, single-consumer message queue.
type Channel struct {
	ch     chan Message
	logger *slog.Logger
}

// NewChannel creates a channel holding up to buffer undelivered messages.
func NewChannel(buffer int, logger *slog.Logger) *Channel {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{ch: make(chan Message, buffer), logger: logger}
}

// Send enqueues m without blocking. It reports false when the buffer is
// full and the message was dropped.
func (c *Channel) Send(m Message) bool {
	select {
	case c.ch <- m:
		return true
	default:
		c.logger.Warn("message: channel full, dropping", "type", m.Type())
		return false
	}
}

// Receive exposes the consumer side.
func (c *Channel) Receive() <-chan Message {
	return c.ch
}
