package tools

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/mwantia/assetsync/internal/config"
	"github.com/mwantia/assetsync/internal/runner"
	"github.com/mwantia/assetsync/pkg/db/models"
	"github.com/spf13/cobra"
)

func NewListCommand() *cobra.Command {
	var (
		local  bool
		runs   bool
		check  bool
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List manifest assets, local files or run history",
		Long: `List the assets of the manifest with their resolved download URLs.

With --local the destination tree is listed instead, with --runs the
recorded run history of the destination.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			r := runner.New(cfg)
			ctx := cmd.Context()

			var listing any
			switch {
			case runs:
				result, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if output == "" {
					return printRuns(cmd.OutOrStdout(), result)
				}
				listing = result
			case local:
				result, err := r.ListLocal()
				if err != nil {
					return err
				}
				if output == "" {
					return printLocal(cmd.OutOrStdout(), result)
				}
				listing = result
			default:
				result, err := r.ListManifest(ctx, check)
				if err != nil {
					return err
				}
				if output == "" {
					return printAssets(cmd.OutOrStdout(), result)
				}
				listing = result
			}

			return writeJSON(cmd.OutOrStdout(), output, listing)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "list files in the destination instead of the manifest")
	cmd.Flags().BoolVar(&runs, "runs", false, "list the run history of the destination")
	cmd.Flags().BoolVar(&check, "check", false, "probe every download URL for existence")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the listing as JSON to this file ('-' for stdout)")

	return cmd
}

func writeJSON(stdout io.Writer, output string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode listing: %w", err)
	}

	if output == "-" {
		_, err := fmt.Fprintln(stdout, string(data))
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write listing %s: %w", output, err)
	}
	fmt.Fprintf(stdout, "Listing written to %s\n", output)
	return nil
}

func printAssets(w io.Writer, assets []runner.Asset) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tMIME\tURL\tEXISTS")

	var total uint64
	for _, a := range assets {
		exists := "-"
		if a.Exists != nil {
			exists = fmt.Sprintf("%t", *a.Exists)
		}
		url := a.URL
		if a.Error != "" {
			url = "unresolved: " + a.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Path, humanize.Bytes(uint64(a.Size)), a.MIME, url, exists)
		total += uint64(a.Size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d asset(s), %s\n", len(assets), humanize.Bytes(total))
	return err
}

func printLocal(w io.Writer, files []runner.LocalAsset) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tMODE\tMODIFIED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Path, humanize.Bytes(uint64(f.Size)), f.Mode, humanize.Time(time.Unix(f.ModTime, 0)))
	}
	return tw.Flush()
}

func printRuns(w io.Writer, runs []models.SyncRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOMMAND\tSTARTED\tDURATION\tFOUND\tDOWNLOADED\tSKIPPED\tFAILED\tCLEANED")
	for _, run := range runs {
		duration := "-"
		if !run.FinishedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			run.ID, run.Command, humanize.Time(run.StartedAt), duration,
			run.Found, run.Downloaded, run.Skipped, run.Failed, run.Cleaned)
	}
	return tw.Flush()
}
