package download

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/mwantia/assetsync/internal/transport"
	"github.com/mwantia/assetsync/pkg/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultFileMode = 0o644

// Options are fixed for the lifetime of a Scheduler.
type Options struct {
	Workers     int
	Timeout     time.Duration // per transfer
	Delay       time.Duration // minimum spacing between transfer starts, across all workers
	MaxAttempts int
	MaxFileSize int64 // 0 disables the limit
	Auth        transport.Auth
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	return o
}

// Scheduler executes create and update items with a fixed worker pool.
type Scheduler struct {
	fs      afero.Fs
	fetcher transport.Fetcher
	logger  log.LoggerService
	clock   clockwork.Clock
	opts    Options
}

func NewScheduler(fs afero.Fs, fetcher transport.Fetcher, logger log.LoggerService, opts Options) *Scheduler {
	if logger == nil {
		logger = log.Discard()
	}
	return &Scheduler{
		fs:      fs,
		fetcher: fetcher,
		logger:  logger,
		clock:   clockwork.NewRealClock(),
		opts:    opts.withDefaults(),
	}
}

// WithClock replaces the clock used for elapsed times.
func (s *Scheduler) WithClock(clock clockwork.Clock) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) Options() Options {
	return s.opts
}

type task struct {
	item     *plan.Item
	attempts int
	started  time.Time
}

// Run transfers every item and returns one outcome per item. It returns
// after all items reached a terminal state. Once ctx is done no further
// transfers start; queued items are reported as canceled while transfers
// already in flight run to completion or their timeout.
func (s *Scheduler) Run(ctx context.Context, root string, items []*plan.Item) []report.Outcome {
	collector := report.NewCollector(s.clock)

	var runnable []*plan.Item
	for _, item := range items {
		if o, done := s.precheck(item); done {
			collector.Add(o)
			continue
		}
		runnable = append(runnable, item)
	}

	if len(runnable) == 0 {
		return collector.Outcomes()
	}

	if err := fsutil.EnsureDir(s.fs, fsutil.TempPath(root)); err != nil {
		for _, item := range runnable {
			o := newOutcome(item)
			o.SetError(syncerr.New(syncerr.KindWrite, item.Path, err))
			collector.Add(o)
		}
		return collector.Outcomes()
	}

	var limiter *rate.Limiter
	if s.opts.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.opts.Delay), 1)
	}

	// Each item holds at most one slot, so requeueing never blocks.
	queue := make(chan *task, len(runnable))
	var pending sync.WaitGroup
	pending.Add(len(runnable))
	for _, item := range runnable {
		queue <- &task{item: item}
	}

	go func() {
		pending.Wait()
		close(queue)
	}()

	finish := func(o report.Outcome) {
		collector.Add(o)
		pending.Done()
	}

	g := &errgroup.Group{}
	for w := 0; w < s.opts.Workers; w++ {
		g.Go(func() error {
			for t := range queue {
				s.work(ctx, root, t, limiter, queue, finish)
			}
			return nil
		})
	}
	g.Wait()

	return collector.Outcomes()
}

func (s *Scheduler) precheck(item *plan.Item) (report.Outcome, bool) {
	o := newOutcome(item)

	if item.Rejected != nil {
		o.SetError(item.Rejected)
		return o, true
	}
	if item.Record == nil {
		o.SetError(syncerr.Newf(syncerr.KindManifest, item.Path, "no manifest entry"))
		return o, true
	}
	if s.opts.MaxFileSize > 0 && item.Record.Size > s.opts.MaxFileSize {
		o.Status = report.StatusSkipped
		o.Kind = syncerr.KindSizeLimitExceeded
		o.Error = fmt.Sprintf("declared size %d exceeds limit %d", item.Record.Size, s.opts.MaxFileSize)
		return o, true
	}
	return o, false
}

func (s *Scheduler) work(ctx context.Context, root string, t *task, limiter *rate.Limiter, queue chan<- *task, finish func(report.Outcome)) {
	o := newOutcome(t.item)
	o.Attempts = t.attempts

	if ctx.Err() != nil {
		o.SetError(syncerr.New(syncerr.KindCanceled, t.item.Path, ctx.Err()))
		finish(o)
		return
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			o.SetError(syncerr.New(syncerr.KindCanceled, t.item.Path, err))
			finish(o)
			return
		}
	}

	if t.started.IsZero() {
		t.started = s.clock.Now()
	}
	t.attempts++
	o.Attempts = t.attempts

	written, hash, err := s.transfer(ctx, root, t.item)
	if err == nil {
		o.Status = report.StatusSuccess
		o.Size = written
		o.Hash = hash
		o.ElapsedMs = s.clock.Since(t.started).Milliseconds()
		s.logger.Debug("Downloaded '%s' (%d bytes, attempt %d)", t.item.Path, written, t.attempts)
		finish(o)
		return
	}

	if syncerr.Retryable(err) && t.attempts < s.opts.MaxAttempts && ctx.Err() == nil {
		s.logger.Warn("Attempt %d/%d for '%s' failed: %v", t.attempts, s.opts.MaxAttempts, t.item.Path, err)
		queue <- t
		return
	}

	s.logger.Error("Failed to download '%s' after %d attempt(s): %v", t.item.Path, t.attempts, err)
	o.SetError(err)
	o.ElapsedMs = s.clock.Since(t.started).Milliseconds()
	finish(o)
}

// transfer fetches one item into a staging file, verifies it and moves it
// into place. The final path only ever holds complete, verified content.
func (s *Scheduler) transfer(ctx context.Context, root string, item *plan.Item) (int64, string, error) {
	rec := item.Record

	target, err := manifest.Confined(root, item.Path)
	if err != nil {
		return 0, "", err
	}

	// In-flight transfers outlive cancellation and are bounded by the
	// transfer timeout instead.
	fetchCtx := ctx
	if s.opts.Timeout > 0 {
		fetchCtx = context.WithoutCancel(ctx)
	}

	data, err := s.fetcher.Fetch(fetchCtx, rec.DownloadURL, s.opts.Auth, s.opts.Timeout)
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindNone {
			err = syncerr.New(syncerr.KindNetwork, item.Path, err)
		}
		return 0, "", err
	}
	if s.opts.MaxFileSize > 0 && int64(len(data)) > s.opts.MaxFileSize {
		return 0, "", syncerr.Newf(syncerr.KindSizeLimitExceeded, item.Path, "received %d bytes, limit is %d", len(data), s.opts.MaxFileSize)
	}

	tmp, err := afero.TempFile(s.fs, fsutil.TempPath(root), "dl-*")
	if err != nil {
		return 0, "", syncerr.New(syncerr.KindWrite, item.Path, err)
	}
	tmpName := tmp.Name()

	moved := false
	defer func() {
		if !moved {
			s.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, "", syncerr.New(syncerr.KindWrite, item.Path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, "", syncerr.New(syncerr.KindWrite, item.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, "", syncerr.New(syncerr.KindWrite, item.Path, err)
	}

	hash, err := Verify(s.fs, tmpName, rec)
	if err != nil {
		return 0, "", err
	}

	// Staging files are created private; declared modes are applied later.
	if err := s.fs.Chmod(tmpName, defaultFileMode); err != nil {
		return 0, "", syncerr.New(syncerr.KindWrite, item.Path, err)
	}

	if rec.Changed > 0 {
		changed := time.Unix(rec.Changed, 0)
		if err := s.fs.Chtimes(tmpName, changed, changed); err != nil {
			return 0, "", syncerr.New(syncerr.KindWrite, item.Path, err)
		}
	}

	if err := fsutil.EnsureDir(s.fs, filepath.Dir(target)); err != nil {
		return 0, "", syncerr.New(syncerr.KindWrite, item.Path, err)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		return 0, "", syncerr.New(syncerr.KindWrite, item.Path, err)
	}
	moved = true

	return int64(len(data)), hash, nil
}

func newOutcome(item *plan.Item) report.Outcome {
	o := report.Outcome{
		Path:   item.Path,
		Action: item.Action,
		Reason: item.Reason,
	}
	if item.Record != nil {
		o.Size = item.Record.Size
	}
	return o
}
