package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/assetsync/internal/plan"
)

// Render prints a console summary followed by every failed item.
func (r *Report) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	title := r.Command
	if r.DryRun {
		title += " (dry-run)"
	}
	fmt.Fprintf(tw, "Run:\t%s %s\n", r.RunID, title)
	fmt.Fprintf(tw, "Manifest:\t%s\n", r.Manifest)
	fmt.Fprintf(tw, "Destination:\t%s\n", r.Destination)
	fmt.Fprintf(tw, "Found:\t%d\n", r.Summary.Found)
	fmt.Fprintf(tw, "Downloaded:\t%d (%s)\n", r.Summary.Downloaded, humanize.Bytes(uint64(r.downloadedBytes())))
	fmt.Fprintf(tw, "Skipped:\t%d\n", r.Summary.Skipped)
	fmt.Fprintf(tw, "Failed:\t%d\n", r.Summary.Failed)
	fmt.Fprintf(tw, "Cleaned:\t%d\n", r.Summary.Cleaned)
	if r.Summary.PermsFixed > 0 || r.Summary.PermsFailed > 0 {
		fmt.Fprintf(tw, "Permissions:\t%d fixed, %d failed\n", r.Summary.PermsFixed, r.Summary.PermsFailed)
	}

	if planned := r.planned(); len(planned) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "PATH\tACTION\tREASON\tSIZE")
		for _, item := range planned {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.Path, item.Action, item.Reason, humanize.Bytes(uint64(item.Size)))
		}
	}

	if failed := r.FailedItems(); len(failed) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "PATH\tACTION\tKIND\tATTEMPTS\tERROR")
		for _, item := range failed {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", item.Path, item.Action, item.Kind, item.Attempts, item.Error)
		}
	}

	return tw.Flush()
}

func (r *Report) planned() []Outcome {
	var planned []Outcome
	for _, item := range r.Items {
		if item.Status == StatusPlanned {
			planned = append(planned, item)
		}
	}
	return planned
}

func (r *Report) downloadedBytes() int64 {
	var total int64
	for _, item := range r.Items {
		if item.Status == StatusSuccess && (item.Action == plan.ActionCreate || item.Action == plan.ActionUpdate) {
			total += item.Size
		}
	}
	return total
}
