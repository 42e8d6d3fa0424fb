package statwatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kworkstat/idgen"
	"github.com/hazyhaar/kworkstat/kit"
)

// RegisterMCP registers the statwatch tools on an MCP server.
func (c *Collector) RegisterMCP(srv *mcp.Server) {
	c.registerHistoryTool(srv)
	c.registerLogsTool(srv)
	c.registerSetIntervalTool(srv)
	c.registerCollectTool(srv)
}

func (c *Collector) endpoint(name string, e kit.Endpoint) kit.Endpoint {
	return kit.Chain(
		kit.RequestID(idgen.Request),
		kit.Logging(c.logger, name),
	)(e)
}

func noArgs(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{}, nil
}

// --- history ---

type historyReq struct {
	Limit int `json:"limit"`
}

func (c *Collector) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "statwatch_history",
		Description: "Return the collected dashboard metrics (views, sales, earned, competition), oldest first, with the last update time.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Return only the most recent N records (0 = all)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyReq)
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if r.Limit > 0 && len(snap.Metrics) > r.Limit {
			snap.Metrics = snap.Metrics[len(snap.Metrics)-r.Limit:]
		}
		return snap, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r historyReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decode)
}

// --- logs ---

func (c *Collector) registerLogsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "statwatch_logs",
		Description: "Return the collector's diagnostic log, oldest first.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return c.Logs(ctx)
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), noArgs)
}

// --- set interval ---

type setIntervalReq struct {
	Minutes float64 `json:"minutes"`
}

func (c *Collector) registerSetIntervalTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "statwatch_set_interval",
		Description: "Change how often the dashboard is collected, in minutes. Values below one second, non-finite or too large reset to 1 minute.",
		InputSchema: kit.InputSchema(map[string]any{
			"minutes": map[string]any{"type": "number", "description": "Collection interval in minutes"},
		}, []string{"minutes"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*setIntervalReq)
		if err := c.SetInterval(ctx, r.Minutes); err != nil {
			return nil, err
		}
		return map[string]any{"status": "accepted", "interval": r.Minutes}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r struct {
			Minutes *float64 `json:"minutes"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.Minutes == nil {
			return nil, fmt.Errorf("minutes is required")
		}
		return &kit.MCPDecodeResult{Request: &setIntervalReq{Minutes: *r.Minutes}}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), decode)
}

// --- collect ---

func (c *Collector) registerCollectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "statwatch_collect",
		Description: "Start one collection cycle now. The record appears in the history a few seconds later.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := c.Collect(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "started"}, nil
	}

	kit.RegisterMCPTool(srv, tool, c.endpoint(tool.Name, endpoint), noArgs)
}
