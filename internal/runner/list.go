package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/transport"
	"github.com/mwantia/assetsync/pkg/db/models"
	"github.com/mwantia/assetsync/pkg/db/store"
	"github.com/mwantia/fabric/pkg/container"
)

// Asset is one manifest entry as shown by the listing commands.
type Asset struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MIME     string `json:"mime,omitempty"`
	URL      string `json:"url"`
	Exists   *bool  `json:"exists,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LocalAsset is one file found below the destination.
type LocalAsset struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"`
	Mode    string `json:"mode"`
}

// ListManifest loads the manifest and returns its entries with resolved
// download URLs. With check set every URL is probed for existence.
func (r *Runner) ListManifest(ctx context.Context, check bool) ([]Asset, error) {
	if err := r.setupServices(ctx); err != nil {
		return nil, err
	}
	defer func() {
		r.sc.Cleanup(context.WithoutCancel(ctx))
		r.sc = container.NewServiceContainer()
	}()

	m, err := r.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	auth := r.downloadAuth()
	assets := make([]Asset, 0, m.Len())
	for _, rec := range m.Records {
		asset := Asset{
			Filename: rec.Filename,
			Path:     rec.Path,
			Size:     rec.Size,
			MIME:     rec.MIME,
			URL:      rec.DownloadURL,
		}
		if err := rec.ResolveErr(); err != nil {
			asset.Error = err.Error()
		} else if check {
			exists := r.fetcher.HeadExists(ctx, rec.DownloadURL, auth)
			asset.Exists = &exists
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// ListLocal scans the destination read-only. It does not take the lock.
func (r *Runner) ListLocal() ([]LocalAsset, error) {
	root, err := filepath.Abs(r.cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination '%s': %w", r.cfg.Destination, err)
	}

	files, err := plan.NewScanner(r.fs, r.cfg.Sync.Ignore).Scan(root)
	if err != nil {
		return nil, err
	}

	assets := make([]LocalAsset, 0, len(files))
	for _, f := range files {
		assets = append(assets, LocalAsset{
			Path:    f.Path,
			Size:    f.Size,
			ModTime: f.ModTime.Unix(),
			Mode:    fmt.Sprintf("%04o", f.Mode.Perm()),
		})
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].Path < assets[j].Path
	})
	return assets, nil
}

// ListRuns returns the most recent runs recorded for the destination.
func (r *Runner) ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	root, err := filepath.Abs(r.cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination '%s': %w", r.cfg.Destination, err)
	}

	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path: r.cfg.State.PathFor(root),
	})
	if err != nil {
		return nil, err
	}
	if err := st.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect state store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}
	return st.ListRuns(ctx, root, limit)
}

func (r *Runner) downloadAuth() transport.Auth {
	return transport.Auth{
		Username: r.cfg.Download.Username,
		Password: r.cfg.Download.Password,
	}
}
