package download

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/plan"
	"github.com/mwantia/assetsync/internal/report"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/mwantia/assetsync/internal/transport"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const root = "/data"

type response struct {
	body []byte
	err  error
}

// fakeFetcher replays scripted responses per url; the last one repeats.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]response
	calls     map[string]int
	delay     time.Duration
	inFlight  int
	maxFlight int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string][]response),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) on(url string, responses ...response) {
	f.responses[url] = responses
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, auth transport.Auth, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	n := f.calls[url]
	f.calls[url]++
	scripted := f.responses[url]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if len(scripted) == 0 {
		return nil, syncerr.Newf(syncerr.KindNetwork, "", "get %s: http status 404", url)
	}
	if n >= len(scripted) {
		n = len(scripted) - 1
	}
	return scripted[n].body, scripted[n].err
}

func (f *fakeFetcher) HeadExists(ctx context.Context, url string, auth transport.Auth) bool {
	return len(f.responses[url]) > 0
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func md5Hex(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

func createItem(path, content string) *plan.Item {
	return &plan.Item{
		Path:   path,
		Action: plan.ActionCreate,
		Reason: plan.ReasonMissing,
		Record: &manifest.AssetRecord{
			Filename:    path,
			URI:         path,
			Path:        path,
			Size:        int64(len(content)),
			MD5:         md5Hex(content),
			Changed:     1_700_000_000,
			DownloadURL: "https://files.example.com/" + path,
		},
	}
}

func byPath(outcomes []report.Outcome) map[string]report.Outcome {
	m := make(map[string]report.Outcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Path] = o
	}
	return m
}

func assertTempEmpty(t *testing.T, fs afero.Fs) {
	t.Helper()
	entries, err := afero.ReadDir(fs, fsutil.TempPath(root))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestRunDownloadsAndVerifies(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := newFakeFetcher()

	a := createItem("img/a.jpg", "aaaa")
	fetcher.on(a.Record.DownloadURL, response{body: []byte("aaaa")})

	outcomes := NewScheduler(fs, fetcher, nil, Options{Workers: 2, MaxAttempts: 3}).Run(context.Background(), root, []*plan.Item{a})
	require.Len(t, outcomes, 1)

	o := outcomes[0]
	assert.Equal(t, report.StatusSuccess, o.Status)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, int64(4), o.Size)
	assert.Equal(t, md5Hex("aaaa"), o.Hash)

	data, err := afero.ReadFile(fs, root+"/img/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(data))

	info, err := fs.Stat(root + "/img/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), info.ModTime().Unix())

	assertTempEmpty(t, fs)
}

func TestRunRetriesNetworkErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := newFakeFetcher()
	netErr := syncerr.New(syncerr.KindNetwork, "", errors.New("connection refused"))

	flaky := createItem("flaky.txt", "ok")
	fetcher.on(flaky.Record.DownloadURL, response{err: netErr}, response{body: []byte("ok")})

	broken := createItem("broken.txt", "never")
	fetcher.on(broken.Record.DownloadURL, response{err: netErr})

	outcomes := byPath(NewScheduler(fs, fetcher, nil, Options{Workers: 2, MaxAttempts: 3}).
		Run(context.Background(), root, []*plan.Item{flaky, broken}))

	assert.Equal(t, report.StatusSuccess, outcomes["flaky.txt"].Status)
	assert.Equal(t, 2, outcomes["flaky.txt"].Attempts)

	assert.Equal(t, report.StatusFailed, outcomes["broken.txt"].Status)
	assert.Equal(t, syncerr.KindNetwork, outcomes["broken.txt"].Kind)
	assert.Equal(t, 3, outcomes["broken.txt"].Attempts)
	assert.Equal(t, 3, fetcher.callCount(broken.Record.DownloadURL))

	exists, _ := afero.Exists(fs, root+"/broken.txt")
	assert.False(t, exists)
}

func TestRunVerificationFailuresAreTerminal(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := newFakeFetcher()

	// A previous complete copy must survive a failed update.
	require.NoError(t, afero.WriteFile(fs, root+"/b.pdf", []byte("old!"), 0o644))

	hash := createItem("b.pdf", "good")
	hash.Action = plan.ActionUpdate
	fetcher.on(hash.Record.DownloadURL, response{body: []byte("evil")})

	size := createItem("c.txt", "short")
	fetcher.on(size.Record.DownloadURL, response{body: []byte("much longer body")})

	outcomes := byPath(NewScheduler(fs, fetcher, nil, Options{Workers: 1, MaxAttempts: 5}).
		Run(context.Background(), root, []*plan.Item{hash, size}))

	assert.Equal(t, syncerr.KindHashMismatch, outcomes["b.pdf"].Kind)
	assert.Equal(t, 1, outcomes["b.pdf"].Attempts)
	assert.Equal(t, syncerr.KindSizeMismatch, outcomes["c.txt"].Kind)
	assert.Equal(t, 1, outcomes["c.txt"].Attempts)

	data, err := afero.ReadFile(fs, root+"/b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "old!", string(data))

	exists, _ := afero.Exists(fs, root+"/c.txt")
	assert.False(t, exists)
	assertTempEmpty(t, fs)
}

func TestRunPrechecks(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := newFakeFetcher()

	big := createItem("big.iso", "0123456789")
	traversal := createItem("../../etc/passwd", "x")
	traversal.Rejected = syncerr.Newf(syncerr.KindPathTraversal, "../../etc/passwd", "path escapes destination root")

	outcomes := byPath(NewScheduler(fs, fetcher, nil, Options{MaxFileSize: 5}).
		Run(context.Background(), root, []*plan.Item{big, traversal}))

	assert.Equal(t, report.StatusSkipped, outcomes["big.iso"].Status)
	assert.Equal(t, syncerr.KindSizeLimitExceeded, outcomes["big.iso"].Kind)
	assert.Equal(t, 0, fetcher.callCount(big.Record.DownloadURL))

	assert.Equal(t, report.StatusFailed, outcomes["../../etc/passwd"].Status)
	assert.Equal(t, syncerr.KindPathTraversal, outcomes["../../etc/passwd"].Kind)
	assert.Equal(t, 0, fetcher.callCount(traversal.Record.DownloadURL))

	exists, _ := afero.Exists(fs, "/etc/passwd")
	assert.False(t, exists)
}

func TestRunCanceledBeforeStart(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := newFakeFetcher()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var items []*plan.Item
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		item := createItem(name, name)
		fetcher.on(item.Record.DownloadURL, response{body: []byte(name)})
		items = append(items, item)
	}

	outcomes := NewScheduler(fs, fetcher, nil, Options{Workers: 2, MaxAttempts: 3}).Run(ctx, root, items)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Equal(t, report.StatusFailed, o.Status)
		assert.Equal(t, syncerr.KindCanceled, o.Kind)
		assert.Equal(t, 0, o.Attempts)

		exists, _ := afero.Exists(fs, root+"/"+o.Path)
		assert.False(t, exists)
	}
}

func TestRunCancelDuringTransfersLeavesNoPartialFiles(t *testing.T) {
	fs := afero.NewOsFs()
	dir := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.delay = 50 * time.Millisecond

	var items []*plan.Item
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt", "f.txt"} {
		item := createItem(name, "content-"+name)
		fetcher.on(item.Record.DownloadURL, response{body: []byte("content-" + name)})
		items = append(items, item)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	outcomes := NewScheduler(fs, fetcher, nil, Options{Workers: 2, Timeout: time.Second, MaxAttempts: 1}).Run(ctx, dir, items)
	require.Len(t, outcomes, len(items))

	for _, o := range outcomes {
		data, err := afero.ReadFile(fs, dir+"/"+o.Path)
		if o.Status == report.StatusSuccess {
			require.NoError(t, err)
			assert.Equal(t, "content-"+o.Path, string(data))
			continue
		}
		assert.Equal(t, syncerr.KindCanceled, o.Kind)
		assert.Error(t, err)
	}

	entries, err := afero.ReadDir(fs, fsutil.TempPath(dir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunFailedUpdatesKeepPriorFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := newFakeFetcher()
	netErr := syncerr.New(syncerr.KindNetwork, "", errors.New("connection reset"))

	for _, name := range []string{"net.txt", "canceled.txt"} {
		require.NoError(t, afero.WriteFile(fs, root+"/"+name, []byte("old-content"), 0o644))
	}

	broken := createItem("net.txt", "new-content")
	broken.Action = plan.ActionUpdate
	fetcher.on(broken.Record.DownloadURL, response{err: netErr})

	outcomes := byPath(NewScheduler(fs, fetcher, nil, Options{Workers: 1, MaxAttempts: 2}).
		Run(context.Background(), root, []*plan.Item{broken}))
	assert.Equal(t, report.StatusFailed, outcomes["net.txt"].Status)
	assert.Equal(t, syncerr.KindNetwork, outcomes["net.txt"].Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceled := createItem("canceled.txt", "new-content")
	canceled.Action = plan.ActionUpdate
	fetcher.on(canceled.Record.DownloadURL, response{body: []byte("new-content")})

	outcomes = byPath(NewScheduler(fs, fetcher, nil, Options{Workers: 1}).
		Run(ctx, root, []*plan.Item{canceled}))
	assert.Equal(t, report.StatusFailed, outcomes["canceled.txt"].Status)
	assert.Equal(t, syncerr.KindCanceled, outcomes["canceled.txt"].Kind)

	for _, name := range []string{"net.txt", "canceled.txt"} {
		data, err := afero.ReadFile(fs, root+"/"+name)
		require.NoError(t, err)
		assert.Equal(t, "old-content", string(data), name)
	}
	assertTempEmpty(t, fs)
}

// stallingFetcher never answers the stalled url and gives up when the
// transfer timeout expires, like the http fetcher does.
type stallingFetcher struct {
	*fakeFetcher
	stalled string
}

func (f *stallingFetcher) Fetch(ctx context.Context, url string, auth transport.Auth, timeout time.Duration) ([]byte, error) {
	if url != f.stalled {
		return f.fakeFetcher.Fetch(ctx, url, auth, timeout)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	<-ctx.Done()
	return nil, syncerr.New(syncerr.KindNetwork, "", fmt.Errorf("get %s: %w", url, ctx.Err()))
}

func TestRunTransferTimeout(t *testing.T) {
	fs := afero.NewMemMapFs()
	stuck := createItem("stuck.bin", "never")
	next := createItem("next.txt", "next")

	fetcher := &stallingFetcher{fakeFetcher: newFakeFetcher(), stalled: stuck.Record.DownloadURL}
	fetcher.on(next.Record.DownloadURL, response{body: []byte("next")})

	done := make(chan []report.Outcome, 1)
	go func() {
		done <- NewScheduler(fs, fetcher, nil, Options{Workers: 1, Timeout: 50 * time.Millisecond, MaxAttempts: 1}).
			Run(context.Background(), root, []*plan.Item{stuck, next})
	}()

	var outcomes map[string]report.Outcome
	select {
	case result := <-done:
		outcomes = byPath(result)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish after the transfer timeout")
	}

	assert.Equal(t, report.StatusFailed, outcomes["stuck.bin"].Status)
	assert.Equal(t, syncerr.KindNetwork, outcomes["stuck.bin"].Kind)
	assert.Equal(t, report.StatusSuccess, outcomes["next.txt"].Status)

	exists, _ := afero.Exists(fs, root+"/stuck.bin")
	assert.False(t, exists)
	assertTempEmpty(t, fs)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := newFakeFetcher()
	fetcher.delay = 20 * time.Millisecond

	var items []*plan.Item
	for _, name := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		item := createItem(name+".bin", name)
		fetcher.on(item.Record.DownloadURL, response{body: []byte(name)})
		items = append(items, item)
	}

	outcomes := NewScheduler(fs, fetcher, nil, Options{Workers: 3}).Run(context.Background(), root, items)
	require.Len(t, outcomes, len(items))
	for _, o := range outcomes {
		assert.Equal(t, report.StatusSuccess, o.Status)
	}
	assert.LessOrEqual(t, fetcher.maxFlight, 3)
}

func TestRunPacesDispatchGlobally(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := newFakeFetcher()

	var items []*plan.Item
	for _, name := range []string{"1", "2", "3", "4"} {
		item := createItem(name+".bin", name)
		fetcher.on(item.Record.DownloadURL, response{body: []byte(name)})
		items = append(items, item)
	}

	start := time.Now()
	NewScheduler(fs, fetcher, nil, Options{Workers: 4, Delay: 40 * time.Millisecond}).Run(context.Background(), root, items)

	// Four starts need at least three gaps, no matter the pool size.
	assert.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond)
}

func TestRunOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "dl" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("payload"))
	}))
	t.Cleanup(srv.Close)

	fs := afero.NewMemMapFs()
	item := createItem("files/doc.txt", "payload")
	item.Record.DownloadURL = srv.URL + "/files/doc.txt"

	opts := Options{Workers: 1, Timeout: 5 * time.Second, MaxAttempts: 2, Auth: transport.Auth{Username: "dl", Password: "secret"}}
	outcomes := NewScheduler(fs, transport.NewHTTPFetcher(), nil, opts).Run(context.Background(), root, []*plan.Item{item})
	require.Len(t, outcomes, 1)
	assert.Equal(t, report.StatusSuccess, outcomes[0].Status)

	opts.Auth = transport.Auth{}
	outcomes = NewScheduler(fs, transport.NewHTTPFetcher(), nil, opts).Run(context.Background(), root, []*plan.Item{item})
	assert.Equal(t, syncerr.KindNetwork, outcomes[0].Kind)
	assert.Equal(t, 2, outcomes[0].Attempts)
}
