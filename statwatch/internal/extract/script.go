package extract

import (
	"context"
	"time"

	"github.com/hazyhaar/kworkstat/statwatch/internal/diag"
	"github.com/hazyhaar/kworkstat/statwatch/internal/message"
	"github.com/hazyhaar/kworkstat/statwatch/internal/visit"
)

// ScriptConfig wires the content script to its outputs.
type ScriptConfig struct {
	// RenderDelay is how long the script lets the page finish rendering
	// before reading it. Default: 2s.
	RenderDelay time.Duration
	Diag        *diag.Logger
	Channel     *message.Channel
	// OnResult, when set, sees every result before it is sent.
	OnResult func(Result)
}

// Script returns the content script injected into each visit: wait for the
// page to render, extract once, log the record and deliver it. A visit torn
// down before the delay elapses delivers nothing.
func (e *Extractor) Script(cfg ScriptConfig) visit.Script {
	if cfg.RenderDelay <= 0 {
		cfg.RenderDelay = 2 * time.Second
	}
	return func(ctx context.Context, page visit.Page) {
		t := time.NewTimer(cfg.RenderDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		doc, err := page.Document(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Unreadable page: extract from nothing so every field defaults.
			cfg.Diag.Logf(ctx, "Page read failed: %v", err)
			doc = nil
		}

		res := e.Extract(doc)
		cfg.Diag.Log(ctx, "Extracted metrics: "+res.Record.String())
		if cfg.OnResult != nil {
			cfg.OnResult(res)
		}
		if cfg.Channel != nil {
			cfg.Channel.Send(message.MetricsDelivered{Record: res.Record})
		}
	}
}
