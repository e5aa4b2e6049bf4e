package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/alerting/service/ruleset"
	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/metrics"
)

// StateLister is the slice of the alert store the dataset needs.
type StateLister interface {
	ListStates(ctx context.Context) ([]*ruleset.AlertState, error)
}

type Exporter struct {
	Calc  *metrics.Calculator
	Store StateLister
	Mon   *config.MonitorConfig

	// Days bounds the chart window; tables and key metrics always use the
	// latest defined points.
	Days int
	Now  func() time.Time
}

const dateFormat = "2006-01-02"

// Build assembles the full dataset. Chart series come from the sparse frame
// so publication gaps stay visible; key metrics and tables read the filled
// frame so stat columns line up with the evaluator's view.
func (e *Exporter) Build(ctx context.Context) (*Dataset, error) {
	days := e.Days
	if days <= 0 {
		days = 365
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	lookback := time.Duration(days) * 24 * time.Hour

	filled, err := e.Calc.ComputeAll(ctx, lookback)
	if err != nil {
		return nil, fmt.Errorf("compute metrics: %w", err)
	}
	sparse, err := e.Calc.ComputeSparse(ctx, lookback)
	if err != nil {
		return nil, fmt.Errorf("compute chart series: %w", err)
	}

	end := now().UTC()
	ds := &Dataset{
		GeneratedAt: end,
		DateRange: DateRange{
			Start: end.AddDate(0, 0, -days).Format(dateFormat),
			End:   end.Format(dateFormat),
		},
		KeyMetrics: e.keyMetrics(filled),
		Charts:     e.charts(sparse),
		Tables:     e.tables(filled),
		Alerts:     e.alerts(ctx),
	}
	return ds, nil
}

// WriteFile builds the dataset and writes it as indented JSON, creating the
// parent directory when needed.
func (e *Exporter) WriteFile(ctx context.Context, path string) error {
	ds, err := e.Build(ctx)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	log.Info().Str("path", path).Int("bytes", len(b)).Msg("dashboard dataset exported")
	return nil
}

func (e *Exporter) keyMetrics(f *metrics.Frame) []KeyMetric {
	out := make([]KeyMetric, 0, len(e.Mon.Panel.KeyMetrics))
	for _, key := range e.Mon.Panel.KeyMetrics {
		i, ok := f.LastDefined(key)
		if !ok {
			continue
		}
		label, unit := e.Mon.DisplayFor(key)
		km := KeyMetric{
			Key:   key,
			Label: label,
			Unit:  unit,
			Value: round4(f.ValueAt(key, i)),
			Date:  f.Date(i).Format(dateFormat),
		}
		if v := f.ValueAt(key+"_d1", i); !math.IsNaN(v) {
			r := round4(v)
			km.D1 = &r
		}
		if v := f.ValueAt(key+"_d5", i); !math.IsNaN(v) {
			r := round4(v)
			km.D5 = &r
		}
		out = append(out, km)
	}
	return out
}

func (e *Exporter) charts(f *metrics.Frame) []Chart {
	out := make([]Chart, 0, len(e.Mon.Panel.Charts))
	for _, def := range e.Mon.Panel.Charts {
		kind := def.Kind
		if kind == "" {
			kind = "line"
		}
		chart := Chart{Title: def.Title, Kind: kind, Unit: def.Unit}
		for _, key := range def.Series {
			label, _ := e.Mon.DisplayFor(key)
			s := ChartSeries{Key: key, Label: label}
			for i := 0; i < f.Len(); i++ {
				v := f.ValueAt(key, i)
				if math.IsNaN(v) {
					continue
				}
				s.Dates = append(s.Dates, f.Date(i).Format(dateFormat))
				s.Values = append(s.Values, round4(v))
			}
			if len(s.Values) > 0 {
				chart.Series = append(chart.Series, s)
			}
		}
		if len(chart.Series) > 0 {
			out = append(out, chart)
		}
	}
	return out
}

func (e *Exporter) tables(f *metrics.Frame) []Table {
	out := make([]Table, 0, len(e.Mon.Panel.Tables))
	for _, def := range e.Mon.Panel.Tables {
		columns := def.Columns
		if len(columns) == 0 {
			columns = []string{"value", "d1", "d5"}
		}
		table := Table{Title: def.Title, Columns: columns}
		for _, key := range def.Series {
			i, ok := f.LastDefined(key)
			if !ok {
				continue
			}
			label, unit := e.Mon.DisplayFor(key)
			row := TableRow{
				Key:    key,
				Label:  label,
				Unit:   unit,
				Date:   f.Date(i).Format(dateFormat),
				Values: map[string]float64{},
			}
			for _, col := range columns {
				name := key + "_" + col
				if col == "value" {
					name = key
				}
				if v := f.ValueAt(name, i); !math.IsNaN(v) {
					row.Values[col] = round4(v)
				}
			}
			table.Rows = append(table.Rows, row)
		}
		out = append(out, table)
	}
	return out
}

// alerts degrades to empty groups when the state store is unreachable; the
// rest of the dataset is still worth serving.
func (e *Exporter) alerts(ctx context.Context) AlertsBySeverity {
	grouped := AlertsBySeverity{
		Critical: []AlertInfo{},
		Warning:  []AlertInfo{},
		Info:     []AlertInfo{},
	}
	if e.Store == nil {
		return grouped
	}
	states, err := e.Store.ListStates(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("alert states unavailable for dashboard dataset")
		return grouped
	}
	for _, st := range states {
		label, _ := e.Mon.DisplayFor(st.MetricKey)
		info := AlertInfo{
			AlertID:   st.AlertID,
			MetricKey: st.MetricKey,
			Label:     label,
			Rule:      st.Rule,
			State:     st.State,
			Value:     round4(st.LastValue),
		}
		if !st.LastTransitionTime.IsZero() {
			info.Since = st.LastTransitionTime.UTC().Format(dateFormat)
		}
		switch st.Severity {
		case config.SeverityCritical:
			grouped.Critical = append(grouped.Critical, info)
		case config.SeverityWarning:
			grouped.Warning = append(grouped.Warning, info)
		default:
			grouped.Info = append(grouped.Info, info)
		}
	}
	return grouped
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
