package notifier

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/qiniu/fedmon/internal/config"
)

// FormatValue renders a metric value according to its display unit.
func FormatValue(v float64, unit string) string {
	switch unit {
	case "percent":
		return fmt.Sprintf("%.2f%%", v)
	case "bps":
		return fmt.Sprintf("%.2f bps", v)
	case "usd_millions":
		return "$" + groupThousands(v) + "M"
	case "usd_billions":
		return fmt.Sprintf("$%.1fB", v)
	default:
		return trimmed(v)
	}
}

// trimmed renders with at most four decimals, dropping trailing zeros.
func trimmed(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// groupThousands renders the rounded value with thousands separators.
func groupThousands(v float64) string {
	r := math.Round(v)
	s := strconv.FormatFloat(math.Abs(r), 'f', 0, 64)
	var b strings.Builder
	if r < 0 {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
		if len(s) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

// SeverityEmoji maps a severity to its marker in chat messages.
func SeverityEmoji(severity string) string {
	switch severity {
	case config.SeverityCritical:
		return "🔴"
	case config.SeverityWarning:
		return "🟠"
	default:
		return "🔵"
	}
}

// BuildMessage renders the chat text for one transition.
func BuildMessage(ev TransitionEvent) string {
	label := ev.Label
	if label == "" {
		label = ev.MetricKey
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s ALERT*\n", SeverityEmoji(ev.Severity), strings.ToUpper(ev.Severity))
	fmt.Fprintf(&b, "%s\n", label)
	fmt.Fprintf(&b, "Value: %s\n", FormatValue(ev.Value, ev.Unit))
	if ev.D1 != nil {
		fmt.Fprintf(&b, "1D change: %s\n", FormatValue(*ev.D1, ev.Unit))
	}
	if ev.D5 != nil {
		fmt.Fprintf(&b, "5D change: %s\n", FormatValue(*ev.D5, ev.Unit))
	}
	if ev.Note != "" {
		fmt.Fprintf(&b, "_%s_\n", ev.Note)
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "Data as of %s", ev.At.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}
