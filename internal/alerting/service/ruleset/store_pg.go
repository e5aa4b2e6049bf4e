package ruleset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/qiniu/fedmon/internal/database"
)

// PgStore is the PostgreSQL-backed Store on the shared database wrapper.
type PgStore struct {
	DB *database.Database
}

func NewPgStore(db *database.Database) *PgStore { return &PgStore{DB: db} }

func (s *PgStore) GetState(ctx context.Context, alertID string) (*AlertState, error) {
	const q = `
	SELECT alert_id, metric_key, severity, rule, state, value, evaluated_at, last_transition_at
	FROM alert_states
	WHERE alert_id = $1
	`
	var st AlertState
	var value sql.NullFloat64
	var lastTr sql.NullTime
	err := s.DB.QueryRowContext(ctx, q, alertID).
		Scan(&st.AlertID, &st.MetricKey, &st.Severity, &st.Rule, &st.State, &value, &st.EvaluatedAt, &lastTr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert state: %w", err)
	}
	if value.Valid {
		st.LastValue = value.Float64
	}
	if lastTr.Valid {
		st.LastTransitionTime = lastTr.Time
	}
	return &st, nil
}

func (s *PgStore) UpsertState(ctx context.Context, st *AlertState) error {
	const q = `
	INSERT INTO alert_states (alert_id, metric_key, severity, rule, state, value, evaluated_at, last_transition_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (alert_id) DO UPDATE SET
		metric_key = EXCLUDED.metric_key,
		severity = EXCLUDED.severity,
		rule = EXCLUDED.rule,
		state = EXCLUDED.state,
		value = EXCLUDED.value,
		evaluated_at = EXCLUDED.evaluated_at,
		last_transition_at = EXCLUDED.last_transition_at
	`
	lastTr := sql.NullTime{Time: st.LastTransitionTime, Valid: !st.LastTransitionTime.IsZero()}
	_, err := s.DB.ExecContext(ctx, q,
		st.AlertID, st.MetricKey, st.Severity, st.Rule, st.State, st.LastValue, st.EvaluatedAt, lastTr)
	if err != nil {
		return fmt.Errorf("upsert alert state: %w", err)
	}
	return nil
}

func (s *PgStore) InsertTransition(ctx context.Context, tr *Transition) error {
	const q = `
	INSERT INTO alert_transitions (alert_id, metric_key, severity, from_state, to_state, value, note, triggered_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.DB.ExecContext(ctx, q,
		tr.AlertID, tr.MetricKey, tr.Severity, tr.From, tr.To, tr.Value, tr.Note, tr.TriggeredAt)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (s *PgStore) ListStates(ctx context.Context) ([]*AlertState, error) {
	const q = `
	SELECT alert_id, metric_key, severity, rule, state, value, evaluated_at, last_transition_at
	FROM alert_states
	ORDER BY metric_key, severity, alert_id
	`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list alert states: %w", err)
	}
	defer rows.Close()

	var out []*AlertState
	for rows.Next() {
		var st AlertState
		var value sql.NullFloat64
		var lastTr sql.NullTime
		if err := rows.Scan(&st.AlertID, &st.MetricKey, &st.Severity, &st.Rule, &st.State, &value, &st.EvaluatedAt, &lastTr); err != nil {
			return nil, fmt.Errorf("scan alert state: %w", err)
		}
		if value.Valid {
			st.LastValue = value.Float64
		}
		if lastTr.Valid {
			st.LastTransitionTime = lastTr.Time
		}
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert states: %w", err)
	}
	return out, nil
}

func (s *PgStore) RecentTransitions(ctx context.Context, limit int) ([]*Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
	SELECT id, alert_id, metric_key, severity, from_state, to_state, value, note, triggered_at
	FROM alert_transitions
	ORDER BY triggered_at DESC, id DESC
	LIMIT $1
	`
	rows, err := s.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []*Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.ID, &tr.AlertID, &tr.MetricKey, &tr.Severity, &tr.From, &tr.To, &tr.Value, &tr.Note, &tr.TriggeredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}
