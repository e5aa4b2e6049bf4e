package notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		unit string
		want string
	}{
		{"percent", 4.3275, "percent", "4.33%"},
		{"percent negative", -0.07, "percent", "-0.07%"},
		{"bps", -7.0, "bps", "-7.00 bps"},
		{"usd millions grouped", 1234567, "usd_millions", "$1,234,567M"},
		{"usd millions ungrouped", 950, "usd_millions", "$950M"},
		{"usd millions negative", -20500, "usd_millions", "$-20,500M"},
		{"usd billions", 2235.6, "usd_billions", "$2235.6B"},
		{"default trims trailing zeros", 4.33, "", "4.33"},
		{"default integer", 12, "", "12"},
		{"default four decimals", 1.23456, "", "1.2346"},
		{"default zero", 0, "", "0"},
		{"ratio falls through to default", 1.5, "ratio", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.v, tt.unit))
		})
	}
}

func TestBuildMessage(t *testing.T) {
	d1 := -0.03
	d5 := 0.01
	ev := TransitionEvent{
		AlertID:   "effr_iorb_spread:critical:123",
		MetricKey: "effr_iorb_spread",
		Label:     "EFFR-IORB Spread",
		Unit:      "bps",
		Severity:  "critical",
		Note:      "EFFR printing above IORB signals funding stress",
		From:      "ok",
		To:        "breach",
		Value:     2.0,
		D1:        &d1,
		D5:        &d5,
		At:        time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC),
	}

	want := "🔴 *CRITICAL ALERT*\n" +
		"EFFR-IORB Spread\n" +
		"Value: 2.00 bps\n" +
		"1D change: -0.03 bps\n" +
		"5D change: 0.01 bps\n" +
		"_EFFR printing above IORB signals funding stress_\n" +
		"Data as of 2025-06-06"
	assert.Equal(t, want, BuildMessage(ev))
}

func TestBuildMessageMinimal(t *testing.T) {
	got := BuildMessage(TransitionEvent{
		MetricKey: "rrp_total",
		Severity:  "warning",
		Unit:      "usd_billions",
		Value:     125.5,
	})

	// no label falls back to the metric key; optional lines are omitted
	want := "🟠 *WARNING ALERT*\n" +
		"rrp_total\n" +
		"Value: $125.5B"
	assert.Equal(t, want, got)
}
