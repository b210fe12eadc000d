// Package output prints run progress and the final report.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/rampvu/internal/loadgen/engine"
	"github.com/wesleyorama2/rampvu/internal/loadgen/metrics"
)

const ruleWidth = 56

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64
	Elapsed  time.Duration

	ActiveVUs int
	TargetVUs int

	TotalRequests int64
	RPS           float64
	ChecksFailed  int64
	LatencyP95    time.Duration

	Phase        string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// ConsoleOutput writes progress lines and the summary.
type ConsoleOutput struct {
	writer    io.Writer
	colors    *ColorScheme
	quiet     bool
	useColors bool

	mu sync.Mutex
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	NoColors    bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	useColors := !config.NoColors && (config.ForceColors || (isTerminal(config.Writer) && supportsColors()))
	colors := DefaultColorScheme()
	if useColors {
		colors.Enable()
	} else {
		colors.Disable()
	}

	return &ConsoleOutput{
		writer:    config.Writer,
		colors:    colors,
		quiet:     config.Quiet,
		useColors: useColors,
	}
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader(name, baseURL string, duration time.Duration, maxVUs int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := strings.Repeat("━", ruleWidth)
	c.writeln(c.colors.Rule.Sprint(rule))
	c.writeln(c.colors.Title.Sprintf("%s - Running [ramping-vus]", name))
	c.writeln(c.colors.Rule.Sprint(rule))
	c.writeln(fmt.Sprintf("Target:   %s", c.colors.Value.Sprint(baseURL)))
	c.writeln(fmt.Sprintf("Duration: %s, up to %d VUs", formatDuration(duration), maxVUs))
	c.writeln("")
}

// PrintProgress prints a one-line status update.
func (c *ConsoleOutput) PrintProgress(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	checks := c.colors.Success.Sprint(stats.ChecksFailed)
	if stats.ChecksFailed > 0 {
		checks = c.colors.Error.Sprint(stats.ChecksFailed)
	}

	c.writeln(fmt.Sprintf("[%s] %3.0f%% %s (%d/%d) | VUs: %d/%d | Reqs: %s | RPS: %.1f | Failed checks: %s | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		c.colors.Phase.Sprint(stats.Phase),
		stats.CurrentStage,
		stats.TotalStages,
		stats.ActiveVUs,
		stats.TargetVUs,
		formatNumber(stats.TotalRequests),
		stats.RPS,
		checks,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final report.
func (c *ConsoleOutput) PrintSummary(report *engine.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if report.Passed() {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	rule := strings.Repeat("━", ruleWidth)
	status := c.colors.Success.Sprint("Completed ✓")
	switch {
	case !report.Passed():
		status = c.colors.Error.Sprint("Checks failed ✗")
	case report.Interrupted:
		status = c.colors.Warn.Sprint("Interrupted")
	}

	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(rule))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(report.Name), status))
	c.writeln(c.colors.Rule.Sprint(rule))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(report.Duration))))
	c.writeln(fmt.Sprintf("VUs:           peak %d, spawned %d", report.PeakVUs, report.SpawnedVUs))
	if report.NotStoppedVUs > 0 {
		c.writeln(c.colors.Warn.Sprintf("               %d VUs did not stop within the drain timeout", report.NotStoppedVUs))
	}
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.Value.Sprint(formatNumber(report.Iterations))))
	c.writeln(fmt.Sprintf("Total Reqs:    %s (%.1f/s)", c.colors.Value.Sprint(formatNumber(report.TotalRequests)), report.RPS))

	if report.TotalRequests > 0 {
		successRate := 1.0 - float64(report.FailedRequests)/float64(report.TotalRequests)
		c.writeln(fmt.Sprintf("Success Rate:  %s", c.rateColor(successRate).Sprintf("%.1f%%", successRate*100)))
	}
	c.writeln("")

	if len(report.Checks) > 0 {
		c.writeln(c.colors.Title.Sprint("Checks:"))
		for _, chk := range report.Checks {
			mark := c.colors.Success.Sprint("✓")
			if chk.Fails > 0 {
				mark = c.colors.Error.Sprint("✗")
			}
			total := chk.Passes + chk.Fails
			rate := 0.0
			if total > 0 {
				rate = float64(chk.Passes) / float64(total)
			}
			c.writeln(fmt.Sprintf("  %s %-38s %s / %s (%.1f%%)",
				mark, chk.Name, formatNumber(chk.Passes), formatNumber(total), rate*100))
		}
		c.writeln("")
	}

	if len(report.Requests) > 0 {
		c.writeln(c.colors.Title.Sprint("Requests:"))
		for _, r := range report.Requests {
			c.writeln(fmt.Sprintf("  %-16s %8s reqs  %6s failed  p95 %s",
				r.Tag, formatNumber(r.Requests), formatNumber(r.Failed),
				c.colors.Latency.Sprint(formatDurationShort(r.Latency.P95))))
		}
		c.writeln("")
	}

	c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
	c.printLatency(report.Latency)
	c.writeln("")

	if len(report.ErrorCategories) > 0 {
		c.writeln(c.colors.Title.Sprint("Errors:"))
		for _, name := range sortedKeys(report.ErrorCategories) {
			c.writeln(fmt.Sprintf("  %-20s %s", name, c.colors.Error.Sprint(formatNumber(report.ErrorCategories[name]))))
		}
		c.writeln("")
	}
}

func (c *ConsoleOutput) printLatency(l metrics.LatencyStats) {
	rows := []struct {
		label string
		value time.Duration
	}{
		{"Min", l.Min},
		{"P50", l.P50},
		{"P90", l.P90},
		{"P95", l.P95},
		{"P99", l.P99},
		{"Max", l.Max},
		{"Mean", l.Mean},
	}
	for _, row := range rows {
		c.writeln(fmt.Sprintf("  %-10s %s", row.label+":", c.colors.Latency.Sprint(formatDurationShort(row.value))))
	}
}

func (c *ConsoleOutput) rateColor(rate float64) *color.Color {
	switch {
	case rate < 0.95:
		return c.colors.Error
	case rate < 0.99:
		return c.colors.Warn
	default:
		return c.colors.Success
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UseColors reports whether colored output is enabled.
func (c *ConsoleOutput) UseColors() bool {
	return c.useColors
}

// writeln writes to the output with a newline.
func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// StatsFromController builds LiveStats from the live state of a run.
func StatsFromController(ctrl *engine.Controller) *LiveStats {
	snap := ctrl.Snapshot()
	stats := ctrl.Stats()

	return &LiveStats{
		Progress:      ctrl.Progress(),
		Elapsed:       stats.Elapsed,
		ActiveVUs:     ctrl.ActiveVUs(),
		TargetVUs:     stats.TargetVUs,
		TotalRequests: snap.TotalRequests,
		RPS:           snap.RPS,
		ChecksFailed:  snap.ChecksFailed,
		LatencyP95:    snap.Latency.P95,
		Phase:         string(snap.Phase),
		CurrentStage:  stats.CurrentStage + 1,
		TotalStages:   stats.TotalStages,
	}
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
