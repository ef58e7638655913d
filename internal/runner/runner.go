package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mwantia/assetsync/internal/config"
	"github.com/mwantia/assetsync/internal/download"
	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/mwantia/assetsync/internal/transport"
	"github.com/mwantia/assetsync/pkg/db/store"
	"github.com/mwantia/assetsync/pkg/log"
	"github.com/mwantia/fabric/pkg/container"
	"github.com/spf13/afero"
)

// ErrRecentlySynced is returned by Sync when the last successful run is
// younger than the configured TTL.
var ErrRecentlySynced = errors.New("destination was synced recently")

// Runner executes one command against one destination. Shared services
// live in a service container that is torn down after every command.
type Runner struct {
	mutex sync.Mutex

	cfg   *config.BaseConfig
	sc    *container.ServiceContainer
	log   log.LoggerService
	fs    afero.Fs
	clock clockwork.Clock

	fetcher transport.Fetcher
	store   store.StateStore
}

type Option func(*Runner)

// WithFetcher replaces the HTTP/S3 transport.
func WithFetcher(f transport.Fetcher) Option {
	return func(r *Runner) { r.fetcher = f }
}

func WithLogger(l log.LoggerService) Option {
	return func(r *Runner) { r.log = l }
}

func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

func New(cfg *config.BaseConfig, opts ...Option) *Runner {
	r := &Runner{
		cfg:   cfg,
		sc:    container.NewServiceContainer(),
		fs:    afero.NewOsFs(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = log.NewLoggerService("assetsync", cfg.Log)
	}
	return r
}

func (r *Runner) setupServices(ctx context.Context) error {
	errs := container.Errors{}

	r.log.Debug("Registering 'LoggerService'...")
	if impl, ok := r.log.(*log.LoggerServiceImpl); ok {
		errs.Add(container.Register[log.LoggerServiceImpl](r.sc,
			container.With[log.LoggerService](),
			container.WithInstance(impl)))
	}

	if r.fetcher == nil {
		s3 := r.cfg.S3
		mux := transport.NewMux(transport.NewHTTPFetcher(), transport.S3Options{
			Region:    s3.Region,
			Endpoint:  s3.Endpoint,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
		})

		r.log.Debug("Registering 'Fetcher'...")
		errs.Add(container.Register[transport.Mux](r.sc,
			container.With[transport.Fetcher](),
			container.WithInstance(mux)))
	}

	if err := errs.Errors(); err != nil {
		return err
	}

	if r.fetcher == nil {
		fetcher, err := resolve[transport.Fetcher](ctx, r.sc)
		if err != nil {
			return err
		}
		r.fetcher = fetcher
	}
	return nil
}

// openStore opens and migrates the state index and registers it so the
// container closes it on shutdown.
func (r *Runner) openStore(ctx context.Context, root string) error {
	if r.cfg.State.Type != "" && r.cfg.State.Type != "sqlite" {
		return fmt.Errorf("unsupported state type '%s'", r.cfg.State.Type)
	}

	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path: r.cfg.State.PathFor(root),
	})
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	if err := st.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect state store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return fmt.Errorf("failed to migrate state store: %w", err)
	}

	r.log.Debug("Registering 'StateStore'...")
	if err := container.Register[store.SQLiteStore](r.sc,
		container.With[store.StateStore](),
		container.WithInstance(st)); err != nil {
		st.Close()
		return err
	}

	r.store, err = resolve[store.StateStore](ctx, r.sc)
	if err != nil {
		st.Close()
		return err
	}
	return nil
}

func resolve[T any](ctx context.Context, sc *container.ServiceContainer) (T, error) {
	var zero T

	typ := reflect.TypeOf((*T)(nil)).Elem()
	ok, resolved := sc.ResolveByType(ctx, typ)
	if !ok {
		return zero, fmt.Errorf("no service registered for '%s'", typ)
	}

	service, ok := resolved.(T)
	if !ok {
		return zero, fmt.Errorf("resolved service is not a '%s'", typ)
	}
	return service, nil
}

// session is the per-command state of a locked destination.
type session struct {
	runID string
	root  string // absolute destination root
	lock  *fsutil.DestinationLock
}

// open validates the destination, takes its lock and opens the state index.
// Unless dryRun is set, staging files of an interrupted run are removed.
// Any error here is run-fatal.
func (r *Runner) open(ctx context.Context, destination string, dryRun bool) (*session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	root, err := filepath.Abs(destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination '%s': %w", destination, err)
	}

	if err := fsutil.CheckWritable(r.fs, root); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", syncerr.ErrDestinationNotWritable, root, err)
	}

	lock := fsutil.NewDestinationLock(root)
	if err := lock.Lock(); err != nil {
		return nil, err
	}

	if err := r.setupServices(ctx); err != nil {
		lock.Unlock()
		return nil, err
	}

	if err := r.openStore(ctx, root); err != nil {
		lock.Unlock()
		return nil, err
	}

	if !dryRun {
		if n, err := download.CleanTemp(r.fs, root); err != nil {
			r.log.Warn("Failed to clean staging directory: %v", err)
		} else if n > 0 {
			r.log.Info("Removed %d stale staging file(s) from an interrupted run", n)
		}
	}

	return &session{
		runID: uuid.NewString(),
		root:  root,
		lock:  lock,
	}, nil
}

// close releases the destination lock and tears down all services.
func (r *Runner) close(s *session) {
	if err := s.lock.Unlock(); err != nil {
		r.log.Warn("Failed to release destination lock: %v", err)
	}

	shutdown, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownDuration())
	defer cancel()

	if err := r.sc.Cleanup(shutdown); err != nil {
		r.log.Warn("Failed to complete service container cleanup: %v", err)
	}
	if closer, ok := r.store.(io.Closer); ok {
		closer.Close()
	}
	if impl, ok := r.log.(*log.LoggerServiceImpl); ok {
		impl.Cleanup()
	}

	r.sc = container.NewServiceContainer()
	r.store = nil
}
