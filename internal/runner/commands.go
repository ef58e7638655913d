package runner

import (
	"context"
	"fmt"

	"github.com/mwantia/assetsync/internal/cleanup"
	"github.com/mwantia/assetsync/internal/download"
	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/perms"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/retry"
	"github.com/mwantia/assetsync/internal/syncerr"
)

// Retry re-executes the failed items of a persisted report against the
// manifest and destination recorded in it. The input report is left
// untouched; a new report is written for the retry run.
func (r *Runner) Retry(ctx context.Context, reportPath string) (*report.Report, error) {
	prior, err := report.Load(r.fs, reportPath)
	if err != nil {
		return nil, err
	}
	if prior.Manifest == "" {
		return nil, fmt.Errorf("report '%s' does not name a manifest source", reportPath)
	}

	s, err := r.open(ctx, prior.Destination, false)
	if err != nil {
		return nil, err
	}
	defer r.close(s)

	m, err := r.loadManifestFrom(ctx, prior.Manifest, prior.BaseURL)
	if err != nil {
		return nil, err
	}

	index, err := r.store.StateIndex(ctx, s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to load state index: %w", err)
	}

	// The destination of the report may be relative to another cwd.
	prior.Destination = s.root
	p := retry.BuildPlan(prior, m, r.fs, s.root)
	for _, item := range p.Items {
		item.State = index[item.Path]
	}

	r.log.Info("Retrying %d failed item(s) from '%s', %d no longer in manifest", len(p.Items), reportPath, len(p.Stale))

	sched, err := r.scheduler()
	if err != nil {
		return nil, err
	}

	run := r.beginRun(ctx, s, CommandRetry, false)

	manager := retry.NewManager(sched, perms.NewReconciler(r.fs, s.root), r.clock)
	rep := manager.Run(ctx, prior, p, s.runID)

	bg := context.WithoutCancel(ctx)
	r.updateIndex(bg, s, p.Items, rep.Items)
	r.finish(bg, s, run, rep)

	return rep, nil
}

// Verify checks every manifest entry on disk against its declared size and
// hash. Mismatching files are removed so the next sync replaces them.
func (r *Runner) Verify(ctx context.Context) (*report.Report, error) {
	s, err := r.open(ctx, r.cfg.Destination, false)
	if err != nil {
		return nil, err
	}
	defer r.close(s)

	m, err := r.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	run := r.beginRun(ctx, s, CommandVerify, false)
	collector := report.NewCollector(r.clock)

	var removed []string
	for _, res := range download.VerifyTree(r.fs, s.root, m) {
		o := report.Outcome{
			Path:   res.Path,
			Action: plan.ActionNoop,
			Hash:   res.Hash,
		}
		if rec, ok := m.Lookup(res.Path); ok {
			o.Size = rec.Size
		}

		switch {
		case res.Err != nil:
			o.SetError(res.Err)
			if !syncerr.Is(res.Err, syncerr.KindPathTraversal) {
				o.Note = "removed"
				removed = append(removed, res.Path)
			}
		case res.Missing:
			o.Status = report.StatusSkipped
			o.Note = "missing"
		default:
			o.Status = report.StatusSuccess
			o.Note = "verified"
		}
		collector.Add(o)
	}

	rep := collector.Build(r.meta(s, CommandVerify, false), m.Len())

	bg := context.WithoutCancel(ctx)
	if err := r.store.DeleteStates(bg, s.root, removed); err != nil {
		r.log.Warn("Failed to prune state index: %v", err)
	}
	r.finish(bg, s, run, rep)

	return rep, nil
}

// FixPerms applies declared mode and ownership to every manifest entry
// present on disk without transferring content.
func (r *Runner) FixPerms(ctx context.Context) (*report.Report, error) {
	s, err := r.open(ctx, r.cfg.Destination, false)
	if err != nil {
		return nil, err
	}
	defer r.close(s)

	m, err := r.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	run := r.beginRun(ctx, s, CommandFixPerms, false)
	reconciler := perms.NewReconciler(r.fs, s.root)
	collector := report.NewCollector(r.clock)

	for _, rec := range m.Records {
		o := report.Outcome{
			Path:   rec.Path,
			Action: plan.ActionNoop,
			Size:   rec.Size,
			Status: report.StatusSkipped,
		}

		target, err := manifest.Confined(s.root, rec.Path)
		if err != nil {
			o.SetError(err)
			collector.Add(o)
			continue
		}
		o.Path, _ = manifest.NormalizePath(rec.Path)

		if !fsutil.Exists(r.fs, target) {
			o.Note = "missing"
			collector.Add(o)
			continue
		}

		result, err := reconciler.Apply(rec)
		switch {
		case err != nil:
			o.SetError(err)
			o.Perms = report.PermsFailed
			o.PermsError = err.Error()
		case result.Changed():
			o.Status = report.StatusSuccess
			o.Perms = report.PermsFixed
		}
		collector.Add(o)
	}

	rep := collector.Build(r.meta(s, CommandFixPerms, false), m.Len())
	r.finish(context.WithoutCancel(ctx), s, run, rep)

	return rep, nil
}

// Cleanup removes local files that are not part of the manifest. With
// dryRun set the candidates are only reported.
func (r *Runner) Cleanup(ctx context.Context, dryRun bool) (*report.Report, error) {
	s, err := r.open(ctx, r.cfg.Destination, dryRun)
	if err != nil {
		return nil, err
	}
	defer r.close(s)

	m, err := r.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	p, err := r.buildPlan(ctx, s, m, plan.Options{
		Cleanup: true,
		DryRun:  dryRun,
	})
	if err != nil {
		return nil, err
	}

	deletes := p.Deletes()
	r.log.Info("Found %d orphaned file(s) below '%s'", len(deletes), s.root)

	collector := report.NewCollector(r.clock)
	cleaner := cleanup.NewCleaner(r.fs, s.root, r.log.Named("cleanup"))

	if dryRun {
		collector.Add(cleaner.Run(deletes, true)...)
		rep := collector.Build(r.meta(s, CommandCleanup, true), m.Len())
		r.saveReport(s, rep)
		return rep, nil
	}

	run := r.beginRun(ctx, s, CommandCleanup, false)
	collector.Add(cleaner.Run(deletes, false)...)
	rep := collector.Build(r.meta(s, CommandCleanup, false), m.Len())

	bg := context.WithoutCancel(ctx)
	r.updateIndex(bg, s, deletes, rep.Items)
	r.finish(bg, s, run, rep)

	return rep, nil
}
