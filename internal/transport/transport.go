package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mwantia/assetsync/internal/syncerr"
)

// Auth holds an optional Basic-Auth credential pair.
type Auth struct {
	Username string
	Password string
}

func (a Auth) Enabled() bool {
	return a.Username != "" || a.Password != ""
}

// Fetcher is the transfer capability the engine depends on.
type Fetcher interface {
	// Fetch retrieves the full body at url, bounded by timeout.
	Fetch(ctx context.Context, url string, auth Auth, timeout time.Duration) ([]byte, error)

	// HeadExists reports whether url resolves to an existing object.
	HeadExists(ctx context.Context, url string, auth Auth) bool
}

// Mux dispatches requests by URL scheme. The S3 backend is created on first
// use so runs that never touch s3:// do not need AWS configuration.
type Mux struct {
	http *HTTPFetcher

	s3Opts S3Options
	s3Once sync.Once
	s3     *S3Fetcher
	s3Err  error
}

func NewMux(httpFetcher *HTTPFetcher, s3Opts S3Options) *Mux {
	return &Mux{
		http:   httpFetcher,
		s3Opts: s3Opts,
	}
}

func (m *Mux) backend(ctx context.Context, rawURL string) (Fetcher, error) {
	scheme := ""
	if u, err := url.Parse(rawURL); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}

	switch scheme {
	case "http", "https":
		return m.http, nil
	case "s3":
		m.s3Once.Do(func() {
			m.s3, m.s3Err = NewS3Fetcher(ctx, m.s3Opts)
		})
		if m.s3Err != nil {
			return nil, syncerr.New(syncerr.KindNetwork, "", fmt.Errorf("s3 transport unavailable: %w", m.s3Err))
		}
		return m.s3, nil
	default:
		return nil, syncerr.Newf(syncerr.KindNetwork, "", "unsupported url scheme %q", scheme)
	}
}

func (m *Mux) Fetch(ctx context.Context, rawURL string, auth Auth, timeout time.Duration) ([]byte, error) {
	f, err := m.backend(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, rawURL, auth, timeout)
}

func (m *Mux) HeadExists(ctx context.Context, rawURL string, auth Auth) bool {
	f, err := m.backend(ctx, rawURL)
	if err != nil {
		return false
	}
	return f.HeadExists(ctx, rawURL, auth)
}

// IsRemote reports whether source should be fetched instead of read locally.
func IsRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "s3://")
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
