package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/gentoomaniac/dedup-backup/pkg/db"
	"github.com/gentoomaniac/dedup-backup/pkg/engine"
)

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// Report writes the final statistics of a run.
func Report(w io.Writer, stats engine.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Files processed:\t%d\n", stats.FilesProcessed)
	fmt.Fprintf(tw, "  new:\t%d\n", stats.FilesNew)
	fmt.Fprintf(tw, "  modified:\t%d\n", stats.FilesModified)
	fmt.Fprintf(tw, "  unchanged:\t%d\n", stats.FilesUnchanged)
	fmt.Fprintf(tw, "Files copied:\t%d\t(new content)\n", stats.FilesCopied)
	fmt.Fprintf(tw, "Files deduplicated:\t%d\t(shared content)\n", stats.FilesDeduped)
	fmt.Fprintf(tw, "Directories created:\t%d\n", stats.DirectoriesCreated)
	fmt.Fprintf(tw, "Errors:\t%d\n", stats.Errors)
	fmt.Fprintf(tw, "Total source size:\t%s\n", formatBytes(stats.TotalBytes))
	fmt.Fprintf(tw, "Data written:\t%s\n", formatBytes(stats.BytesCopied))
	fmt.Fprintf(tw, "Space saved (dedup):\t%s\n", formatBytes(stats.BytesDeduplicated))
	if stats.TotalBytes > 0 {
		rate := float64(stats.BytesDeduplicated) * 100 / float64(stats.TotalBytes)
		fmt.Fprintf(tw, "Deduplication rate:\t%.1f%%\n", rate)
		fmt.Fprintf(tw, "Stored ratio:\t%.1f%%\n", 100-rate)
	}
	tw.Flush()
}

// ReportRuns writes one line per run.
func ReportRuns(w io.Writer, runs []*db.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tCOMMAND\tSOURCE\tSTATUS\tFILES\tERRORS\tWRITTEN")
	for _, run := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			run.ID, run.Started.Format("2006-01-02 15:04:05"), run.Command, run.Source, run.Status,
			run.FilesProcessed, run.Errors, formatBytes(run.BytesCopied))
	}
	tw.Flush()
}

// ReportFailures writes the recorded failures of a run.
func ReportFailures(w io.Writer, failures []*db.Failure) {
	if len(failures) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tPATH\tMESSAGE")
	for _, f := range failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Kind, f.Path, f.Message)
	}
	tw.Flush()
}
