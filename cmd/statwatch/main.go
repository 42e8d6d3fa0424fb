// Command statwatch collects kwork seller dashboard metrics on a schedule.
//
// Usage:
//
//	statwatch -config statwatch.yaml        # run the collector daemon
//	statwatch -listen :8090                 # daemon with the HTTP API
//	statwatch -mcp                          # daemon with MCP tools on stdio
//	statwatch -once                         # one cycle, print the record, exit
//	statwatch -set-interval 15              # change the interval and exit
//	statwatch -history                      # print the stored history and exit
//	statwatch -export-logs statwatch.log    # write the diagnostic log and exit
//	statwatch -clear-logs                   # empty the diagnostic log and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/kworkstat/statwatch"
)

type options struct {
	configPath  string
	dbPath      string
	url         string
	listen      string
	mode        string
	mcp         bool
	once        bool
	setInterval float64
	intervalSet bool
	history     bool
	exportLogs  string
	clearLogs   bool
	logLevel    string
}

// parseFlags parses args. intervalSet records whether -set-interval was
// given at all, since 0 is a valid request for the default interval.
func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("statwatch", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to statwatch.yaml config file")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database path (overrides config)")
	fs.StringVar(&o.url, "url", "", "dashboard URL (overrides config)")
	fs.StringVar(&o.listen, "listen", "", "HTTP API listen address, e.g. :8090 (overrides config)")
	fs.StringVar(&o.mode, "mode", "", "visit host: headless or http (overrides config)")
	fs.BoolVar(&o.mcp, "mcp", false, "serve MCP tools on stdin/stdout")
	fs.BoolVar(&o.once, "once", false, "run a single collection cycle and exit")
	fs.Float64Var(&o.setInterval, "set-interval", 0, "store a new collection interval in minutes and exit (0 or less resets to 1)")
	fs.BoolVar(&o.history, "history", false, "print the stored history as JSON and exit")
	fs.StringVar(&o.exportLogs, "export-logs", "", "write the diagnostic log to this file and exit")
	fs.BoolVar(&o.clearLogs, "clear-logs", false, "empty the diagnostic log and exit")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "set-interval" {
			o.intervalSet = true
		}
	})
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}

	var level slog.Level
	switch o.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("statwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(o options) (*statwatch.Config, error) {
	cfg := statwatch.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = statwatch.LoadConfigFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.url != "" {
		cfg.DashboardURL = o.url
	}
	if o.listen != "" {
		cfg.HTTP.Listen = o.listen
	}
	if o.mode != "" {
		cfg.Browser.Mode = o.mode
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c, err := statwatch.New(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	switch {
	case o.intervalSet:
		return c.SetInterval(ctx, o.setInterval)
	case o.history:
		return printJSON(c.Snapshot(ctx))
	case o.exportLogs != "":
		return exportLogs(ctx, c, o.exportLogs)
	case o.clearLogs:
		return c.ClearLogs(ctx)
	case o.once:
		return runOnce(ctx, c)
	}
	return runDaemon(ctx, logger, c, cfg, o.mcp)
}

func runOnce(ctx context.Context, c *statwatch.Collector) error {
	got, err := c.CollectOnce(ctx)
	if err != nil {
		return err
	}
	if !got {
		return errors.New("no metrics delivered before teardown")
	}
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	r, _ := snap.Metrics.Latest()
	return printJSON(r, nil)
}

func runDaemon(ctx context.Context, logger *slog.Logger, c *statwatch.Collector, cfg *statwatch.Config, withMCP bool) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.Watch(ctx)
		return nil
	})

	if cfg.HTTP.Listen != "" {
		srv := &http.Server{Addr: cfg.HTTP.Listen, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			return c.ListenAndServe(srv)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if withMCP {
		g.Go(func() error {
			srv := mcp.NewServer(&mcp.Implementation{Name: "statwatch", Version: "1.0.0"}, nil)
			c.RegisterMCP(srv)
			logger.Info("statwatch: mcp serving on stdio")
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	logger.Info("statwatch: stopped")
	return err
}

func exportLogs(ctx context.Context, c *statwatch.Collector, path string) error {
	_, body, err := c.ExportLogs(ctx)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body+"\n"), 0o644)
}

func printJSON(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
