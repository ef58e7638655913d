package plan

import (
	"fmt"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/pkg/db/models"
	"github.com/spf13/afero"
)

type Options struct {
	Cleanup bool
	DryRun  bool
	Force   bool
}

// Planner computes the plan that converges a destination onto a manifest.
// It only reads from the filesystem.
type Planner struct {
	fs      afero.Fs
	root    string
	scanner *Scanner
	opts    Options
}

func NewPlanner(fs afero.Fs, root string, scanner *Scanner, opts Options) *Planner {
	if scanner == nil {
		scanner = NewScanner(fs, nil)
	}
	return &Planner{
		fs:      fs,
		root:    root,
		scanner: scanner,
		opts:    opts,
	}
}

// Build scans the destination and classifies every manifest record and
// every orphaned file. index may be nil.
func (p *Planner) Build(m *manifest.Manifest, index map[string]*models.LocalState) (*Plan, error) {
	local, err := p.scanner.Scan(p.root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan destination: %w", err)
	}
	return p.Classify(m, index, local), nil
}

// Classify is Build without the scan.
func (p *Planner) Classify(m *manifest.Manifest, index map[string]*models.LocalState, local map[string]*LocalFile) *Plan {
	plan := &Plan{DryRun: p.opts.DryRun}
	wanted := mapset.NewSet[string]()

	for _, rec := range m.Records {
		rel, err := manifest.NormalizePath(rec.Path)
		if err == nil {
			_, err = manifest.Confined(p.root, rel)
		}
		if err == nil && rec.ResolveErr() != nil {
			// Unresolvable entries still count as wanted so a previously
			// synced copy is not cleaned up.
			wanted.Add(rel)
			err = rec.ResolveErr()
		}
		if err != nil {
			plan.Items = append(plan.Items, &Item{
				Path:     strings.TrimSpace(rec.Path),
				Action:   ActionCreate,
				Reason:   ReasonRejected,
				Record:   rec,
				Rejected: err,
			})
			continue
		}

		wanted.Add(rel)
		plan.Items = append(plan.Items, p.classify(rel, rec, index[rel], local[rel]))
	}

	if p.opts.Cleanup {
		onDisk := mapset.NewSet[string]()
		for rel := range local {
			onDisk.Add(rel)
		}
		for _, rel := range onDisk.Difference(wanted).ToSlice() {
			plan.Items = append(plan.Items, &Item{
				Path:   rel,
				Action: ActionDelete,
				Reason: ReasonOrphan,
				State:  index[rel],
				Local:  local[rel],
			})
		}
	}

	plan.sort()
	return plan
}

func (p *Planner) classify(rel string, rec *manifest.AssetRecord, state *models.LocalState, file *LocalFile) *Item {
	item := &Item{
		Path:   rel,
		Record: rec,
		State:  state,
		Local:  file,
	}

	switch {
	case file == nil:
		item.Action, item.Reason = ActionCreate, ReasonMissing
	case file.Size != rec.Size:
		item.Action, item.Reason = ActionUpdate, ReasonSize
	case rec.MD5 != "" && !strings.EqualFold(p.localHash(rel, state, file), rec.MD5):
		item.Action, item.Reason = ActionUpdate, ReasonHash
	case newer(rec, state, file):
		item.Action, item.Reason = ActionUpdate, ReasonChanged
	case p.opts.Force:
		item.Action, item.Reason = ActionUpdate, ReasonForce
	default:
		item.Action, item.Reason = ActionNoop, ReasonUpToDate
		item.PermsDrift = PermsDrift(rec, file)
	}

	return item
}

// localHash prefers the indexed hash while the file on disk still matches
// the index entry, otherwise hashes the file.
func (p *Planner) localHash(rel string, state *models.LocalState, file *LocalFile) string {
	if state != nil && state.Hash != "" &&
		state.Size == file.Size && state.ModTime == file.ModTime.Unix() {
		return state.Hash
	}

	sum, err := fsutil.FileMD5(p.fs, filepath.Join(p.root, filepath.FromSlash(rel)))
	if err != nil {
		return ""
	}
	return sum
}

// newer reports whether the record changed after the local copy was written.
func newer(rec *manifest.AssetRecord, state *models.LocalState, file *LocalFile) bool {
	if rec.Changed <= 0 {
		return false
	}
	if state != nil && state.Status == models.StatusSuccess {
		return rec.Changed > state.Changed
	}
	return rec.Changed > file.ModTime.Unix()
}

// PermsDrift reports whether declared mode or ownership differ from disk.
func PermsDrift(rec *manifest.AssetRecord, file *LocalFile) bool {
	if file == nil {
		return false
	}
	if want, ok := rec.FileMode(); ok && file.Mode&manifest.ModeMask != want {
		return true
	}
	if !file.HasOwner {
		return false
	}
	if rec.UID != nil && *rec.UID != file.UID {
		return true
	}
	if rec.GID != nil && *rec.GID != file.GID {
		return true
	}
	return false
}
