package database

import (
	"context"
	"fmt"
)

// Schema is applied at startup. Statements are idempotent so every boot can
// run them unconditionally.
const schema = `
CREATE TABLE IF NOT EXISTS observations (
    series_key  TEXT             NOT NULL,
    obs_date    DATE             NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    fetched_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (series_key, obs_date)
);

CREATE INDEX IF NOT EXISTS idx_observations_date ON observations (obs_date);

CREATE TABLE IF NOT EXISTS derived_metrics (
    metric_key  TEXT             NOT NULL,
    obs_date    DATE             NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    computed_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (metric_key, obs_date)
);

CREATE TABLE IF NOT EXISTS alert_states (
    alert_id           TEXT        PRIMARY KEY,
    metric_key         TEXT        NOT NULL,
    severity           TEXT        NOT NULL,
    rule               TEXT        NOT NULL,
    state              TEXT        NOT NULL,
    value              DOUBLE PRECISION,
    evaluated_at       TIMESTAMPTZ NOT NULL,
    last_transition_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS alert_transitions (
    id           BIGSERIAL   PRIMARY KEY,
    alert_id     TEXT        NOT NULL,
    metric_key   TEXT        NOT NULL,
    severity     TEXT        NOT NULL,
    from_state   TEXT        NOT NULL,
    to_state     TEXT        NOT NULL,
    value        DOUBLE PRECISION,
    note         TEXT        NOT NULL DEFAULT '',
    triggered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alert_transitions_time ON alert_transitions (triggered_at DESC);

CREATE TABLE IF NOT EXISTS fetch_runs (
    id            UUID        PRIMARY KEY,
    series_key    TEXT        NOT NULL,
    status        TEXT        NOT NULL,
    rows_fetched  INTEGER     NOT NULL DEFAULT 0,
    error_message TEXT        NOT NULL DEFAULT '',
    fetched_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fetch_runs_series_time ON fetch_runs (series_key, fetched_at DESC);
`

// EnsureSchema creates any missing tables and indexes.
func EnsureSchema(ctx context.Context, d *Database) error {
	if _, err := d.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
