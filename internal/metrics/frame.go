// Package metrics turns stored observations into the dense daily panel the
// alert rules are evaluated against: forward-filled series, derived series,
// and trailing-window statistics.
package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/qiniu/fedmon/internal/model"
)

// Frame is a dense daily panel: one row per calendar day, one float64 column
// per series or computed metric. Undefined cells are NaN.
type Frame struct {
	dates []time.Time
	index map[int64]int
	order []string
	cols  map[string][]float64
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewFrame builds the calendar-day grid spanning [start, end] inclusive.
func NewFrame(start, end time.Time) *Frame {
	f := &Frame{index: map[int64]int{}, cols: map[string][]float64{}}
	start, end = dayOf(start), dayOf(end)
	if end.Before(start) {
		return f
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		f.index[d.Unix()] = len(f.dates)
		f.dates = append(f.dates, d)
	}
	return f
}

func (f *Frame) ensureColumn(name string) []float64 {
	if col, ok := f.cols[name]; ok {
		return col
	}
	col := make([]float64, len(f.dates))
	for i := range col {
		col[i] = math.NaN()
	}
	f.cols[name] = col
	f.order = append(f.order, name)
	return col
}

// AddObservations adds a raw column for key. Observation dates outside the
// frame range are ignored.
func (f *Frame) AddObservations(key string, obs []model.Observation) {
	col := f.ensureColumn(key)
	for _, o := range obs {
		if i, ok := f.index[dayOf(o.Date).Unix()]; ok {
			col[i] = o.Value
		}
	}
}

// SetColumn installs a full column, replacing any existing one of that name.
func (f *Frame) SetColumn(name string, vals []float64) error {
	if len(vals) != len(f.dates) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(vals), len(f.dates))
	}
	if _, ok := f.cols[name]; !ok {
		f.order = append(f.order, name)
	}
	f.cols[name] = vals
	return nil
}

// ForwardFill carries the last defined value of every column forward, so that
// weekly series and market-holiday gaps read as the last published value.
func (f *Frame) ForwardFill() {
	for _, name := range f.order {
		col := f.cols[name]
		last := math.NaN()
		for i, v := range col {
			if !math.IsNaN(v) {
				last = v
			} else if !math.IsNaN(last) {
				col[i] = last
			}
		}
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.dates) }

// Date returns the date of row i.
func (f *Frame) Date(i int) time.Time { return f.dates[i] }

// Dates returns the full date index.
func (f *Frame) Dates() []time.Time { return f.dates }

// Names returns column names in insertion order.
func (f *Frame) Names() []string { return f.order }

// Column returns the values of a column.
func (f *Frame) Column(name string) ([]float64, bool) {
	col, ok := f.cols[name]
	return col, ok
}

// ValueAt returns the cell (name, i), NaN when the column does not exist.
func (f *Frame) ValueAt(name string, i int) float64 {
	col, ok := f.cols[name]
	if !ok || i < 0 || i >= len(col) {
		return math.NaN()
	}
	return col[i]
}

// IndexOf returns the row of a calendar date.
func (f *Frame) IndexOf(date time.Time) (int, bool) {
	i, ok := f.index[dayOf(date).Unix()]
	return i, ok
}

// LastDefined returns the last row where the column is not NaN.
func (f *Frame) LastDefined(name string) (int, bool) {
	col, ok := f.cols[name]
	if !ok {
		return 0, false
	}
	for i := len(col) - 1; i >= 0; i-- {
		if !math.IsNaN(col[i]) {
			return i, true
		}
	}
	return 0, false
}

// Diff returns v[i] - v[i-p]. Undefined for the first p rows and wherever
// either operand is NaN.
func Diff(vals []float64, periods int) []float64 {
	out := nanSlice(len(vals))
	for i := periods; i < len(vals); i++ {
		out[i] = vals[i] - vals[i-periods]
	}
	return out
}

// PctChange returns the p-period change in percent. Undefined when the base
// value is 0 or NaN.
func PctChange(vals []float64, periods int) []float64 {
	out := nanSlice(len(vals))
	for i := periods; i < len(vals); i++ {
		base := vals[i-periods]
		if base == 0 || math.IsNaN(base) {
			continue
		}
		out[i] = (vals[i] - base) / base * 100
	}
	return out
}

// RollingMean returns the trailing-window mean including the current row.
// Undefined until a full window of defined values exists.
func RollingMean(vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	for i := window - 1; i < len(vals); i++ {
		if s, ok := windowSum(vals, i, window); ok {
			out[i] = s / float64(window)
		}
	}
	return out
}

// RollingStd returns the trailing-window sample standard deviation (n-1 divisor).
func RollingStd(vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(vals); i++ {
		s, ok := windowSum(vals, i, window)
		if !ok {
			continue
		}
		mean := s / float64(window)
		var ss float64
		for j := i - window + 1; j <= i; j++ {
			d := vals[j] - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(window-1))
	}
	return out
}

// ZScore returns (x - mean) / std over the trailing window. Undefined when
// the window is incomplete or the std is zero.
func ZScore(vals []float64, window int) []float64 {
	out := nanSlice(len(vals))
	mean := RollingMean(vals, window)
	std := RollingStd(vals, window)
	for i := range vals {
		if math.IsNaN(mean[i]) || math.IsNaN(std[i]) || std[i] == 0 {
			continue
		}
		out[i] = (vals[i] - mean[i]) / std[i]
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func windowSum(vals []float64, end, window int) (float64, bool) {
	var s float64
	for j := end - window + 1; j <= end; j++ {
		if math.IsNaN(vals[j]) {
			return 0, false
		}
		s += vals[j]
	}
	return s, true
}
