package store

// Schema is the DDL for the statwatch key-value state. Values are JSON
// documents written whole on every update.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// Persisted keys.
const (
	KeyCollectInterval = "collectInterval"
	KeyMetrics         = "metrics"
	KeyLastUpdated     = "lastUpdated"
	KeyLogs            = "logs"
)
