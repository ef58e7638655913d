package retry

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/mwantia/assetsync/internal/download"
	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/perms"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/spf13/afero"
)

const staleNote = "no longer present in manifest"

// Plan is the minimal plan rebuilt from the failed items of a report.
type Plan struct {
	Items []*plan.Item
	Stale []report.Outcome
}

// BuildPlan selects the failed create and update items of rep and
// re-resolves them against the current manifest. Items that left the
// manifest become Stale outcomes instead of transfers. rep is not modified.
func BuildPlan(rep *report.Report, m *manifest.Manifest, fs afero.Fs, root string) *Plan {
	p := &Plan{}

	for _, failed := range rep.FailedItems() {
		if failed.Action == plan.ActionDelete {
			continue
		}

		rec, ok := m.Lookup(failed.Path)
		if !ok {
			p.Stale = append(p.Stale, report.Outcome{
				Path:   failed.Path,
				Action: failed.Action,
				Reason: plan.ReasonRetry,
				Status: report.StatusSkipped,
				Kind:   syncerr.KindStale,
				Note:   staleNote,
			})
			continue
		}

		item := &plan.Item{
			Path:   failed.Path,
			Action: plan.ActionCreate,
			Reason: plan.ReasonRetry,
			Record: rec,
		}

		target, err := manifest.Confined(root, rec.Path)
		if err == nil && rec.ResolveErr() != nil {
			item.Path, _ = manifest.NormalizePath(rec.Path)
			err = rec.ResolveErr()
		}
		if err != nil {
			item.Rejected = err
			item.Reason = plan.ReasonRejected
		} else {
			item.Path, _ = manifest.NormalizePath(rec.Path)
			if fsutil.Exists(fs, target) {
				item.Action = plan.ActionUpdate
			}
		}
		p.Items = append(p.Items, item)
	}

	return p
}

// Manager replays the failed items of a persisted report.
type Manager struct {
	sched      *download.Scheduler
	reconciler *perms.Reconciler
	clock      clockwork.Clock
}

func NewManager(sched *download.Scheduler, reconciler *perms.Reconciler, clock clockwork.Clock) *Manager {
	return &Manager{
		sched:      sched,
		reconciler: reconciler,
		clock:      clock,
	}
}

// Run resubmits p to the scheduler and returns a new report for runID. The
// scheduler's attempt limit applies, independent of the original run.
func (m *Manager) Run(ctx context.Context, rep *report.Report, p *Plan, runID string) *report.Report {
	collector := report.NewCollector(m.clock)
	collector.Add(p.Stale...)

	outcomes := m.sched.Run(ctx, rep.Destination, p.Items)
	if m.reconciler != nil {
		m.reconciler.Reconcile(p.Items, outcomes)
	}
	collector.Add(outcomes...)

	return collector.Build(report.Meta{
		RunID:       runID,
		Command:     "retry",
		Manifest:    rep.Manifest,
		Destination: rep.Destination,
		BaseURL:     rep.BaseURL,
	}, len(p.Items)+len(p.Stale))
}
