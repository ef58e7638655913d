package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mwantia/assetsync/internal/cleanup"
	"github.com/mwantia/assetsync/internal/download"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/perms"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/transport"
	"github.com/mwantia/assetsync/pkg/db/models"
)

const (
	CommandSync     = "sync"
	CommandCheck    = "check"
	CommandRetry    = "retry"
	CommandVerify   = "verify"
	CommandFixPerms = "fix-perms"
	CommandCleanup  = "cleanup"
)

// Sync converges the destination onto the manifest. With sync.dry_run set
// it behaves like Check. The returned report is always persisted.
func (r *Runner) Sync(ctx context.Context) (*report.Report, error) {
	if r.cfg.Sync.DryRun {
		return r.Check(ctx)
	}

	s, err := r.open(ctx, r.cfg.Destination, false)
	if err != nil {
		return nil, err
	}
	defer r.close(s)

	if err := r.checkTTL(ctx, s); err != nil {
		return nil, err
	}

	m, err := r.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	p, err := r.buildPlan(ctx, s, m, plan.Options{
		Cleanup: r.cfg.Sync.Cleanup,
		Force:   r.cfg.Sync.Force,
	})
	if err != nil {
		return nil, err
	}

	counts := p.Counts()
	r.log.Info("Plan for '%s': %d create, %d update, %d delete, %d up to date, %d rejected",
		s.root, counts.Create, counts.Update, counts.Delete, counts.Noop, counts.Rejected)

	sched, err := r.scheduler()
	if err != nil {
		return nil, err
	}

	run := r.beginRun(ctx, s, CommandSync, false)
	reconciler := perms.NewReconciler(r.fs, s.root)
	collector := report.NewCollector(r.clock)

	transfers := append(p.Transfers(), p.Rejected()...)
	outcomes := sched.Run(ctx, s.root, transfers)
	reconciler.Reconcile(transfers, outcomes)
	collector.Add(outcomes...)

	collector.Add(reconciler.ReconcileDrift(p.Noops())...)

	if deletes := p.Deletes(); len(deletes) > 0 {
		collector.Add(cleanup.NewCleaner(r.fs, s.root, r.log.Named("cleanup")).Run(deletes, false)...)
	}

	rep := collector.Build(r.meta(s, CommandSync, false), m.Len())

	// Bookkeeping must survive a canceled context.
	bg := context.WithoutCancel(ctx)
	r.updateIndex(bg, s, p.Items, rep.Items)
	r.finish(bg, s, run, rep)

	return rep, nil
}

// Check computes and reports the plan. Synced content and staging files are
// left alone; only the run record and report under .assetsync are written.
func (r *Runner) Check(ctx context.Context) (*report.Report, error) {
	s, err := r.open(ctx, r.cfg.Destination, true)
	if err != nil {
		return nil, err
	}
	defer r.close(s)

	m, err := r.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	p, err := r.buildPlan(ctx, s, m, plan.Options{
		Cleanup: r.cfg.Sync.Cleanup,
		Force:   r.cfg.Sync.Force,
		DryRun:  true,
	})
	if err != nil {
		return nil, err
	}

	limit, _ := r.cfg.Download.MaxFileSizeBytes()

	collector := report.NewCollector(r.clock)
	for _, item := range p.Items {
		o := report.Outcome{
			Path:   item.Path,
			Action: item.Action,
			Reason: item.Reason,
			Status: report.StatusPlanned,
		}
		switch {
		case item.Record != nil:
			o.Size = item.Record.Size
		case item.Local != nil:
			o.Size = item.Local.Size
		}

		switch {
		case item.Rejected != nil:
			o.SetError(item.Rejected)
		case item.Action == plan.ActionNoop:
			o.Status = report.StatusSkipped
			if item.PermsDrift {
				o.Note = "permissions differ"
			}
		case item.Transfer() && limit > 0 && item.Record.Size > limit:
			o.Status = report.StatusSkipped
			o.Note = fmt.Sprintf("exceeds max file size of %d bytes", limit)
		}
		collector.Add(o)
	}

	rep := collector.Build(r.meta(s, CommandCheck, true), m.Len())
	r.saveReport(s, rep)
	return rep, nil
}

func (r *Runner) checkTTL(ctx context.Context, s *session) error {
	ttl, err := r.cfg.Sync.TTLDuration()
	if err != nil || ttl <= 0 || r.cfg.Sync.Force {
		return err
	}

	last, err := r.store.LastSuccessfulRun(ctx, s.root, CommandSync)
	if err != nil {
		return fmt.Errorf("failed to query run history: %w", err)
	}
	if last != nil && r.clock.Since(last.FinishedAt) < ttl {
		r.log.Info("Last successful sync of '%s' finished %s ago, within ttl of %s", s.root, r.clock.Since(last.FinishedAt).Round(time.Second), ttl)
		return ErrRecentlySynced
	}
	return nil
}

func (r *Runner) loadManifest(ctx context.Context) (*manifest.Manifest, error) {
	return r.loadManifestFrom(ctx, r.cfg.Manifest, r.cfg.BaseURL)
}

func (r *Runner) loadManifestFrom(ctx context.Context, source, base string) (*manifest.Manifest, error) {
	if source == "" {
		return nil, fmt.Errorf("manifest source is required")
	}

	auth := transport.Auth{
		Username: r.cfg.Source.Username,
		Password: r.cfg.Source.Password,
	}

	m, err := manifest.Load(ctx, source, base, r.fetcher, auth)
	if err != nil {
		return nil, err
	}

	r.log.Info("Loaded manifest '%s' with %d entries", source, m.Len())
	for _, rec := range m.Unresolved() {
		r.log.Warn("Cannot build download url for '%s': %v", rec.Path, rec.ResolveErr())
	}
	return m, nil
}

func (r *Runner) buildPlan(ctx context.Context, s *session, m *manifest.Manifest, opts plan.Options) (*plan.Plan, error) {
	index, err := r.store.StateIndex(ctx, s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to load state index: %w", err)
	}

	scanner := plan.NewScanner(r.fs, r.cfg.Sync.Ignore)
	return plan.NewPlanner(r.fs, s.root, scanner, opts).Build(m, index)
}

// scheduler builds a scheduler from the download configuration.
func (r *Runner) scheduler() (*download.Scheduler, error) {
	cfg := r.cfg.Download
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout, _ := cfg.TimeoutDuration()
	delay, _ := cfg.DelayDuration()
	limit, _ := cfg.MaxFileSizeBytes()

	return download.NewScheduler(r.fs, r.fetcher, r.log.Named("scheduler"), download.Options{
		Workers:     cfg.Concurrency,
		Timeout:     timeout,
		Delay:       delay,
		MaxAttempts: cfg.MaxRetries,
		MaxFileSize: limit,
		Auth: transport.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}).WithClock(r.clock), nil
}

func (r *Runner) meta(s *session, command string, dryRun bool) report.Meta {
	return report.Meta{
		RunID:       s.runID,
		Command:     command,
		Manifest:    r.manifestSource(),
		Destination: s.root,
		BaseURL:     r.cfg.BaseURL,
		DryRun:      dryRun,
	}
}

// manifestSource returns the configured manifest with local paths made
// absolute, so a report can be retried from any working directory.
func (r *Runner) manifestSource() string {
	source := r.cfg.Manifest
	if source == "" || transport.IsRemote(source) {
		return source
	}
	if abs, err := filepath.Abs(source); err == nil {
		return abs
	}
	return source
}

func (r *Runner) beginRun(ctx context.Context, s *session, command string, dryRun bool) *models.SyncRun {
	run := &models.SyncRun{
		ID:          s.runID,
		Command:     command,
		Manifest:    r.manifestSource(),
		Destination: s.root,
		DryRun:      dryRun,
		StartedAt:   r.clock.Now().UTC(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		r.log.Warn("Failed to record run '%s': %v", run.ID, err)
	}
	return run
}

// finish persists the report and closes the run record.
func (r *Runner) finish(ctx context.Context, s *session, run *models.SyncRun, rep *report.Report) {
	run.Manifest = rep.Manifest
	run.Found = rep.Summary.Found
	run.Downloaded = rep.Summary.Downloaded
	run.Skipped = rep.Summary.Skipped
	run.Failed = rep.Summary.Failed
	run.Cleaned = rep.Summary.Cleaned
	run.ReportPath = r.saveReport(s, rep)
	run.FinishedAt = r.clock.Now().UTC()

	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.log.Warn("Failed to update run '%s': %v", run.ID, err)
	}

	r.log.Info("Run '%s' finished: %d found, %d downloaded, %d skipped, %d failed, %d cleaned",
		run.ID, run.Found, run.Downloaded, run.Skipped, run.Failed, run.Cleaned)
}

// saveReport writes rep and returns its path, or "" if writing failed.
func (r *Runner) saveReport(s *session, rep *report.Report) string {
	path := r.reportPath(s)
	if err := rep.Save(r.fs, path); err != nil {
		r.log.Error("Failed to save report: %v", err)
		return ""
	}
	r.log.Debug("Report written to '%s'", path)
	return path
}

func (r *Runner) reportPath(s *session) string {
	cfg := *r.cfg
	cfg.Destination = s.root
	return cfg.ReportPath(s.runID)
}
