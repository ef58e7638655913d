package manifest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/mwantia/assetsync/internal/transport"
)

const loadTimeout = 5 * time.Minute

// Load reads a manifest from a local path or fetches it when source is a
// URL, then resolves every download URL against base.
func Load(ctx context.Context, source, base string, fetcher transport.Fetcher, auth transport.Auth) (*Manifest, error) {
	var (
		data []byte
		err  error
	)

	if transport.IsRemote(source) {
		if fetcher == nil {
			return nil, syncerr.Newf(syncerr.KindManifest, "", "no transport for remote manifest %s", source)
		}
		data, err = fetcher.Fetch(ctx, source, auth, loadTimeout)
		if err != nil {
			return nil, syncerr.New(syncerr.KindManifest, "", fmt.Errorf("fetch manifest: %w", err))
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, syncerr.New(syncerr.KindManifest, "", fmt.Errorf("read manifest: %w", err))
		}
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.Source = source

	if err := m.Resolve(base); err != nil {
		return nil, err
	}
	return m, nil
}
