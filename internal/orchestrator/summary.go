package orchestrator

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/randomizedcoder/go-minio-version-bench/internal/results"
)

const rule = "═══════════════════════════════════════════════════════════════════"

// PrintSummary writes the exit summary of a run.
func (o *Orchestrator) PrintSummary(w io.Writer, outcomes []Outcome) {
	summary := o.metrics.GenerateSummary()

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "                   minio-version-bench Exit Summary")
	fmt.Fprintln(w, rule)
	if summary.Duration > 0 {
		fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(summary.Duration))
	}
	fmt.Fprintf(w, "Versions Attempted:     %d\n", len(outcomes))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATUS\tMiB/s\tDURATION\tDETAIL")
	for _, out := range outcomes {
		mibps := "-"
		if out.Status == StatusOK {
			mibps = results.FormatMiBps(out.MiBps)
		}
		detail := ""
		if out.Err != nil {
			detail = out.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			out.Version, out.Status, mibps, out.Duration.Round(time.Second), detail)
	}
	tw.Flush()

	if best, worst, ok := extremes(outcomes); ok {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Fastest:                %s (%s MiB/s)\n", best.Version, results.FormatMiBps(best.MiBps))
		fmt.Fprintf(w, "Slowest:                %s (%s MiB/s)\n", worst.Version, results.FormatMiBps(worst.MiBps))
	}
	fmt.Fprintln(w, rule)
}

// extremes returns the fastest and slowest successful outcomes.
func extremes(outcomes []Outcome) (best, worst Outcome, ok bool) {
	for _, out := range outcomes {
		if out.Status != StatusOK {
			continue
		}
		if !ok || out.MiBps > best.MiBps {
			best = out
		}
		if !ok || out.MiBps < worst.MiBps {
			worst = out
		}
		ok = true
	}
	return best, worst, ok
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
