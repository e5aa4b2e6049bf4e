package metrics

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/expreval"
	"github.com/qiniu/fedmon/internal/model"
)

// ObservationSource loads stored raw observations.
type ObservationSource interface {
	ListSince(ctx context.Context, since time.Time) (map[string][]model.Observation, error)
}

// MetricSink persists computed points.
type MetricSink interface {
	UpsertBatch(ctx context.Context, points []model.MetricPoint) (int, error)
}

// Calculator builds the metric frame for the configured monitor.
type Calculator struct {
	src     ObservationSource
	sink    MetricSink
	cfg     *config.MonitorConfig
	derived map[string]*expreval.Expr
	rawKeys map[string]bool
}

// NewCalculator parses every derived expression once. A definition that fails
// to parse disables that one metric; the rest keep working.
func NewCalculator(src ObservationSource, sink MetricSink, cfg *config.MonitorConfig) *Calculator {
	c := &Calculator{
		src:     src,
		sink:    sink,
		cfg:     cfg,
		derived: make(map[string]*expreval.Expr, len(cfg.Derived)),
		rawKeys: make(map[string]bool, len(cfg.Series)),
	}
	for _, s := range cfg.Series {
		c.rawKeys[s.Key] = true
	}
	for _, d := range cfg.Derived {
		expr, err := expreval.Parse(d.Expr)
		if err != nil {
			log.Error().Err(err).Str("derived", d.Key).Msg("invalid derived expression, metric disabled")
			continue
		}
		c.derived[d.Key] = expr
	}
	return c
}

// ComputeAll loads the lookback window and builds the full frame.
func (c *Calculator) ComputeAll(ctx context.Context, lookback time.Duration) (*Frame, error) {
	since := dayOf(time.Now().UTC().Add(-lookback))
	obs, err := c.src.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return c.Build(obs), nil
}

// ComputeSparse loads the lookback window and builds the chart frame: raw and
// derived columns without forward-fill, so publication gaps stay visible.
func (c *Calculator) ComputeSparse(ctx context.Context, lookback time.Duration) (*Frame, error) {
	since := dayOf(time.Now().UTC().Add(-lookback))
	obs, err := c.src.ListSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return c.BuildSparse(obs), nil
}

// Build assembles the frame from already-loaded observations: raw columns on
// the union date grid, forward-filled, then derived columns, then every
// configured change/rolling column per key, named {key}_{name}.
func (c *Calculator) Build(obs map[string][]model.Observation) *Frame {
	f := c.assemble(obs, true)

	for _, key := range c.cfg.AllKeys() {
		col, ok := f.Column(key)
		if !ok {
			continue
		}
		for _, ch := range c.cfg.Metrics.Changes {
			var out []float64
			switch ch.Type {
			case config.ChangeDiff:
				out = Diff(col, ch.Periods)
			case config.ChangePct:
				out = PctChange(col, ch.Periods)
			default:
				continue
			}
			_ = f.SetColumn(key+"_"+ch.Name, out)
		}
		for _, r := range c.cfg.Metrics.Rolling {
			var out []float64
			switch r.Type {
			case config.RollingMean:
				out = RollingMean(col, r.Window)
			case config.RollingStd:
				out = RollingStd(col, r.Window)
			case config.RollingZ:
				out = ZScore(col, r.Window)
			default:
				continue
			}
			_ = f.SetColumn(key+"_"+r.Name, out)
		}
	}
	return f
}

// BuildSparse assembles raw and derived columns without forward-fill or stat
// columns. A derived point exists only on dates where every input was
// natively published.
func (c *Calculator) BuildSparse(obs map[string][]model.Observation) *Frame {
	return c.assemble(obs, false)
}

func (c *Calculator) assemble(obs map[string][]model.Observation, fill bool) *Frame {
	var start, end time.Time
	found := false
	for _, s := range c.cfg.Series {
		for _, o := range obs[s.Key] {
			d := dayOf(o.Date)
			if !found {
				start, end, found = d, d, true
				continue
			}
			if d.Before(start) {
				start = d
			}
			if d.After(end) {
				end = d
			}
		}
	}
	if !found {
		return &Frame{index: map[int64]int{}, cols: map[string][]float64{}}
	}

	f := NewFrame(start, end)
	for _, s := range c.cfg.Series {
		f.AddObservations(s.Key, obs[s.Key])
	}
	if fill {
		f.ForwardFill()
	}

	n := f.Len()
	for _, d := range c.cfg.Derived {
		expr, ok := c.derived[d.Key]
		if !ok {
			continue
		}
		names := expr.Idents()
		vals := nanSlice(n)
		for i := 0; i < n; i++ {
			vars := make(map[string]float64, len(names))
			defined := true
			for _, name := range names {
				v := f.ValueAt(name, i)
				if math.IsNaN(v) {
					defined = false
					break
				}
				vars[name] = v
			}
			if !defined {
				continue
			}
			// per-date evaluation errors (division by zero) leave the point
			// undefined without failing the column
			v, err := expr.EvalNumber(vars)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			vals[i] = v
		}
		_ = f.SetColumn(d.Key, vals)
	}
	return f
}

// StoreDerived persists every non-NaN computed point (derived series and
// stat columns, not raw series) into derived_metrics.
func (c *Calculator) StoreDerived(ctx context.Context, f *Frame) (int, error) {
	var points []model.MetricPoint
	for _, name := range f.Names() {
		if c.rawKeys[name] {
			continue
		}
		col, _ := f.Column(name)
		for i, v := range col {
			if math.IsNaN(v) {
				continue
			}
			points = append(points, model.MetricPoint{MetricKey: name, Date: f.Date(i), Value: v})
		}
	}
	if c.sink == nil || len(points) == 0 {
		return 0, nil
	}
	return c.sink.UpsertBatch(ctx, points)
}

// LatestContext assembles the rule-evaluation context for one key: "value" at
// the key's latest defined date, plus each metric name taken at that date or
// at its own latest defined point before it. Names with no defined point are
// omitted, so a rule referencing them fails closed. The returned time is the
// context date; it is zero when the key has no data at all.
func LatestContext(f *Frame, key string, metricNames []string) (map[string]float64, time.Time) {
	out := map[string]float64{}
	i, ok := f.LastDefined(key)
	if !ok {
		return out, time.Time{}
	}
	out["value"] = f.ValueAt(key, i)
	for _, name := range metricNames {
		if v, ok := valueAtOrBefore(f, key+"_"+name, i); ok {
			out[name] = v
		}
	}
	return out, f.Date(i)
}

func valueAtOrBefore(f *Frame, name string, i int) (float64, bool) {
	col, ok := f.Column(name)
	if !ok {
		return 0, false
	}
	if i >= len(col) {
		i = len(col) - 1
	}
	for j := i; j >= 0; j-- {
		if !math.IsNaN(col[j]) {
			return col[j], true
		}
	}
	return 0, false
}
