package runner

import (
	"context"
	"path/filepath"
	"time"

	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/pkg/db/models"
)

// updateIndex records the result of every item in the state index so the
// next plan can trust hashes without rereading unchanged files.
func (r *Runner) updateIndex(ctx context.Context, s *session, items []*plan.Item, outcomes []report.Outcome) {
	byPath := make(map[string]*plan.Item, len(items))
	for _, item := range items {
		byPath[item.Path] = item
	}

	now := r.clock.Now().UTC()
	var (
		states  []*models.LocalState
		removed []string
	)

	for _, o := range outcomes {
		item, ok := byPath[o.Path]
		if !ok || item.Rejected != nil {
			continue
		}

		switch {
		case o.Action == plan.ActionDelete:
			if o.Status == report.StatusSuccess {
				removed = append(removed, o.Path)
			}

		case o.Status == report.StatusSuccess && item.Transfer():
			states = append(states, r.stateFor(s, item, o.Hash, now, models.StatusSuccess, ""))

		case o.Action == plan.ActionNoop && item.Record != nil && item.Local != nil:
			hash := item.Record.MD5
			if hash == "" && item.State != nil {
				hash = item.State.Hash
			}
			if item.State != nil && item.State.Status == models.StatusSuccess &&
				item.State.Hash == hash && item.State.ModTime == item.Local.ModTime.Unix() {
				continue
			}
			states = append(states, r.stateFor(s, item, hash, now, models.StatusSuccess, ""))

		case o.Status == report.StatusFailed && item.Record != nil:
			state := &models.LocalState{
				Destination: s.root,
				Path:        item.Path,
				Status:      models.StatusFailed,
				LastError:   o.Error,
				SyncedAt:    now,
			}
			if item.State != nil {
				state.Size = item.State.Size
				state.Hash = item.State.Hash
				state.Changed = item.State.Changed
				state.ModTime = item.State.ModTime
			}
			states = append(states, state)
		}
	}

	if err := r.store.SaveStates(ctx, states); err != nil {
		r.log.Warn("Failed to update state index: %v", err)
	}
	if err := r.store.DeleteStates(ctx, s.root, removed); err != nil {
		r.log.Warn("Failed to prune state index: %v", err)
	}
}

func (r *Runner) stateFor(s *session, item *plan.Item, hash string, now time.Time, status models.SyncStatus, lastError string) *models.LocalState {
	state := &models.LocalState{
		Destination: s.root,
		Path:        item.Path,
		Size:        item.Record.Size,
		Hash:        hash,
		Changed:     item.Record.Changed,
		Status:      status,
		LastError:   lastError,
		SyncedAt:    now,
	}

	if info, err := r.fs.Stat(filepath.Join(s.root, filepath.FromSlash(item.Path))); err == nil {
		state.Size = info.Size()
		state.ModTime = info.ModTime().Unix()
	}
	return state
}
