package perms

import (
	"fmt"
	"os"

	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/spf13/afero"
)

// Result describes what Apply changed on one file.
type Result struct {
	ModeChanged  bool
	OwnerChanged bool
}

// Changed reports whether any metadata was modified.
func (r Result) Changed() bool {
	return r.ModeChanged || r.OwnerChanged
}

// Reconciler applies declared mode and ownership to synced files. It never
// touches file contents, so a failure here leaves the transfer result intact.
type Reconciler struct {
	fs         afero.Fs
	root       string
	privileged bool
}

func NewReconciler(fs afero.Fs, root string) *Reconciler {
	return &Reconciler{
		fs:         fs,
		root:       root,
		privileged: fsutil.IsPrivileged(),
	}
}

// WithPrivileged overrides the detected ability to chown.
func (r *Reconciler) WithPrivileged(privileged bool) *Reconciler {
	r.privileged = privileged
	return r
}

// Apply brings the file of rec in line with its declared metadata. Records
// without declared mode or ownership are left alone. Ownership changes are
// only attempted when privileged; otherwise a differing owner is reported
// as a PermissionApplyError.
func (r *Reconciler) Apply(rec *manifest.AssetRecord) (Result, error) {
	var result Result

	want, hasMode := rec.FileMode()
	if !hasMode && !rec.HasOwnership() {
		return result, nil
	}

	target, err := manifest.Confined(r.root, rec.Path)
	if err != nil {
		return result, err
	}

	info, err := r.fs.Stat(target)
	if err != nil {
		return result, syncerr.New(syncerr.KindPermissionApply, rec.Path, err)
	}

	if hasMode && info.Mode()&manifest.ModeMask != want {
		if err := r.fs.Chmod(target, want); err != nil {
			return result, syncerr.New(syncerr.KindPermissionApply, rec.Path, fmt.Errorf("chmod %s: %w", rec.Permissions, err))
		}
		result.ModeChanged = true
	}

	if rec.HasOwnership() {
		changed, err := r.applyOwner(target, rec, info)
		if err != nil {
			return result, err
		}
		result.OwnerChanged = changed
	}

	return result, nil
}

func (r *Reconciler) applyOwner(target string, rec *manifest.AssetRecord, info os.FileInfo) (bool, error) {
	uid, gid, known := fsutil.Owner(info)
	if !known {
		uid, gid = 0, 0
	}

	wantUID, wantGID := int(uid), int(gid)
	if rec.UID != nil {
		wantUID = int(*rec.UID)
	}
	if rec.GID != nil {
		wantGID = int(*rec.GID)
	}

	if known && wantUID == int(uid) && wantGID == int(gid) {
		return false, nil
	}
	if !r.privileged {
		return false, syncerr.Newf(syncerr.KindPermissionApply, rec.Path, "chown %d:%d requires root privileges", wantUID, wantGID)
	}

	if err := r.fs.Chown(target, wantUID, wantGID); err != nil {
		return false, syncerr.New(syncerr.KindPermissionApply, rec.Path, fmt.Errorf("chown %d:%d: %w", wantUID, wantGID, err))
	}
	return true, nil
}

// Reconcile applies metadata for every successful transfer outcome and
// records the permission axis on it.
func (r *Reconciler) Reconcile(items []*plan.Item, outcomes []report.Outcome) {
	records := make(map[string]*manifest.AssetRecord, len(items))
	for _, item := range items {
		if item.Record != nil {
			records[item.Path] = item.Record
		}
	}

	for i := range outcomes {
		o := &outcomes[i]
		rec, ok := records[o.Path]
		if !ok || o.Status != report.StatusSuccess {
			continue
		}
		r.record(o, rec)
	}
}

// ReconcileDrift applies metadata to up-to-date items flagged for drift and
// returns their outcomes.
func (r *Reconciler) ReconcileDrift(items []*plan.Item) []report.Outcome {
	var outcomes []report.Outcome
	for _, item := range items {
		if item.Action != plan.ActionNoop || item.Rejected != nil || item.Record == nil {
			continue
		}

		o := report.Outcome{
			Path:   item.Path,
			Action: plan.ActionNoop,
			Reason: item.Reason,
			Status: report.StatusSkipped,
			Size:   item.Record.Size,
		}
		if item.PermsDrift {
			r.record(&o, item.Record)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (r *Reconciler) record(o *report.Outcome, rec *manifest.AssetRecord) {
	result, err := r.Apply(rec)
	switch {
	case err != nil:
		o.Perms = report.PermsFailed
		o.PermsError = err.Error()
	case result.Changed():
		o.Perms = report.PermsFixed
	}
}
