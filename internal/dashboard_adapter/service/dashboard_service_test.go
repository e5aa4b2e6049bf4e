package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiniu/fedmon/internal/config"
	"github.com/qiniu/fedmon/internal/dashboard"
	"github.com/qiniu/fedmon/internal/dashboard_adapter/model"
	"github.com/qiniu/fedmon/internal/metrics"
	appmodel "github.com/qiniu/fedmon/internal/model"
)

const snapshotKey = "fedmon:dashboard:snapshot"

type memSource struct {
	obs map[string][]appmodel.Observation
	err error
}

func (m *memSource) ListSince(ctx context.Context, since time.Time) (map[string][]appmodel.Observation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.obs, nil
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func obs(date string, v float64) appmodel.Observation {
	return appmodel.Observation{Date: day(date), Value: v}
}

func adapterMonitor() *config.MonitorConfig {
	return &config.MonitorConfig{
		Series: []config.SeriesDef{
			{Key: "effr", SeriesID: "EFFR", Label: "Effective Fed Funds Rate", Unit: "percent"},
			{Key: "iorb", SeriesID: "IORB", Label: "Interest on Reserve Balances", Unit: "percent"},
		},
		Derived: []config.DerivedDef{
			{Key: "spread", Expr: "(effr - iorb) * 100", Label: "EFFR-IORB Spread", Unit: "bps"},
		},
		Metrics: config.MetricsDef{
			Changes: []config.ChangeDef{
				{Name: "d1", Type: config.ChangeDiff, Periods: 1},
			},
		},
		Panel: config.PanelDef{
			KeyMetrics: []string{"effr"},
			Charts: []config.ChartDef{
				{Title: "Policy Rates", Series: []string{"effr", "iorb"}},
			},
		},
	}
}

func adapterSource() *memSource {
	return &memSource{obs: map[string][]appmodel.Observation{
		"effr": {obs("2025-06-02", 4.33), obs("2025-06-03", 4.34)},
		"iorb": {obs("2025-06-02", 4.40), obs("2025-06-03", 4.40)},
	}}
}

func newTestExporter(src *memSource) *dashboard.Exporter {
	mon := adapterMonitor()
	return &dashboard.Exporter{
		Calc: metrics.NewCalculator(src, nil, mon),
		Mon:  mon,
		Days: 30,
		Now:  func() time.Time { return day("2025-06-03") },
	}
}

func setupCache(t *testing.T) (*miniredis.Miniredis, *dashboard.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, dashboard.NewCache(rdb, time.Minute)
}

func TestGetDashboardRebuildsWhenCacheEmpty(t *testing.T) {
	mr, cache := setupCache(t)
	svc := NewDashboardService(cache, newTestExporter(adapterSource()))

	ds, source, err := svc.GetDashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.SourceRebuild, source)
	require.Len(t, ds.KeyMetrics, 1)
	assert.Equal(t, "effr", ds.KeyMetrics[0].Key)
	assert.InDelta(t, 4.34, ds.KeyMetrics[0].Value, 1e-9)

	// the rebuild warms the cache for the next read
	assert.True(t, mr.Exists(snapshotKey))
}

func TestGetDashboardPrefersSnapshot(t *testing.T) {
	_, cache := setupCache(t)
	exporter := newTestExporter(adapterSource())

	stamped := &dashboard.Dataset{GeneratedAt: day("2025-06-01")}
	cache.StoreSnapshot(context.Background(), stamped)

	svc := NewDashboardService(cache, exporter)
	ds, source, err := svc.GetDashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.SourceSnapshot, source)
	assert.True(t, ds.GeneratedAt.Equal(day("2025-06-01")))
	assert.Empty(t, ds.KeyMetrics)
}

func TestGetDashboardCorruptSnapshotRebuilds(t *testing.T) {
	mr, cache := setupCache(t)
	require.NoError(t, mr.Set(snapshotKey, "not json"))

	svc := NewDashboardService(cache, newTestExporter(adapterSource()))
	ds, source, err := svc.GetDashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.SourceRebuild, source)
	assert.NotEmpty(t, ds.KeyMetrics)
}

func TestGetDashboardWithoutRedis(t *testing.T) {
	cache := dashboard.NewCache(nil, 0)
	svc := NewDashboardService(cache, newTestExporter(adapterSource()))

	ds, source, err := svc.GetDashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.SourceRebuild, source)
	assert.NotNil(t, ds)
}

func TestGetDashboardRebuildFailure(t *testing.T) {
	_, cache := setupCache(t)
	src := &memSource{err: errors.New("connection refused")}
	svc := NewDashboardService(cache, newTestExporter(src))

	_, _, err := svc.GetDashboard(context.Background())
	require.Error(t, err)

	var datasetErr *model.DatasetError
	assert.True(t, errors.As(err, &datasetErr))
}
