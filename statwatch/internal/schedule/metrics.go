package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hazyhaar/kworkstat/statwatch/internal/extract"
)

var (
	cyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statwatch_cycles_total",
			Help: "Total number of collection cycles started",
		},
	)

	visitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statwatch_visit_failures_total",
			Help: "Total number of cycles whose visit could not be opened",
		},
	)

	recordsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statwatch_records_stored_total",
			Help: "Total number of metric records appended to history",
		},
	)

	intervalChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statwatch_interval_changes_total",
			Help: "Total number of collection interval updates",
		},
	)

	strategyHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statwatch_extraction_strategy_total",
			Help: "Fields resolved per extraction strategy",
		},
		[]string{"field", "strategy"},
	)
)

// ObserveExtraction counts which strategy resolved each field. It fits
// extract.ScriptConfig.OnResult.
func ObserveExtraction(res extract.Result) {
	for field, strategy := range res.Sources {
		strategyHits.WithLabelValues(field, strategy).Inc()
	}
}
