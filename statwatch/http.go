package statwatch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/kworkstat/shield"
)

// Handler returns the HTTP surface: the metrics viewer API, the interval
// setting, the diagnostic log, health and Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(c.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics", c.handleMetrics)
		r.Get("/interval", c.handleGetInterval)
		r.Post("/interval", c.handleSetInterval)
		r.Post("/collect", c.handleCollect)
		r.Get("/logs", c.handleLogs)
		r.Get("/logs/export", c.handleExportLogs)
		r.Delete("/logs", c.handleClearLogs)
	})
	return r
}

func (c *Collector) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := c.Snapshot(r.Context())
	if err != nil {
		shield.GetLogger(r.Context()).Error("statwatch: snapshot", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (c *Collector) handleGetInterval(w http.ResponseWriter, r *http.Request) {
	iv, err := c.Interval(r.Context())
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"interval": iv})
}

func (c *Collector) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Interval *float64 `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Interval == nil {
		jsonErr(w, "interval (minutes) is required", http.StatusBadRequest)
		return
	}
	if err := c.SetInterval(r.Context(), *req.Interval); err != nil {
		jsonErr(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "interval": *req.Interval})
}

func (c *Collector) handleCollect(w http.ResponseWriter, r *http.Request) {
	if err := c.Collect(r.Context()); err != nil {
		shield.GetLogger(r.Context()).Warn("statwatch: collect", "error", err)
		jsonErr(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (c *Collector) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := c.Logs(r.Context())
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (c *Collector) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	name, body, err := c.ExportLogs(r.Context())
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (c *Collector) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := c.ClearLogs(r.Context()); err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ListenAndServe serves Handler on srv.Addr until srv is shut down.
func (c *Collector) ListenAndServe(srv *http.Server) error {
	srv.Handler = c.Handler()
	c.logger.Info("statwatch: http listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
