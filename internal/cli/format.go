// Package cli holds the output and selection helpers shared by the
// scheduler command's subcommands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fpang/social-post-scheduler/internal/scheduler"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
// Sub-second durations are shown in milliseconds.
func FormatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatSummary renders a cycle summary as one human-readable line.
func FormatSummary(sum scheduler.CycleSummary) string {
	if sum.Overlapped {
		return fmt.Sprintf("%s: skipped, previous cycle still running", sum.Platform)
	}
	return fmt.Sprintf("%s: listed %d, due %d, completed %d, retried %d, failed %d, manual %d, conflicts %d, errors %d (%s)",
		sum.Platform, sum.Listed, sum.Due, sum.Completed, sum.Retried, sum.Failed,
		sum.ManualRequired, sum.Conflicts, sum.Errors,
		FormatDurationShort(time.Duration(sum.DurationMs)*time.Millisecond))
}

// PrintJSON writes v to w as indented JSON followed by a newline.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
