package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/kravscan/internal/jobs"
)

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatElapsed formats a job runtime as "Xs" below a minute, otherwise
// like FormatDuration.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return FormatDuration(int64(d / time.Second))
}

// FormatState upper-cases a job state for display.
func FormatState(s jobs.State) string {
	if s == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(string(s))
}

// ProgressRatio returns current/total clamped to [0, 1].
func ProgressRatio(p jobs.Progress) float64 {
	if p.Total <= 0 {
		return 0
	}
	r := float64(p.Current) / float64(p.Total)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// Truncate shortens s to n runes, ending with "…" when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
