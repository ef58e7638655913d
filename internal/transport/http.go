package transport

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/imroc/req/v3"
	"github.com/mwantia/assetsync/internal/syncerr"
)

var UserAgent = fmt.Sprintf("assetsync (%s; %s)", runtime.GOOS, runtime.GOARCH)

// HTTPFetcher downloads over HTTP(S). Retries are owned by the scheduler,
// so the client itself never retries.
type HTTPFetcher struct {
	client *req.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return NewHTTPFetcherWithClient(req.C().
		SetUserAgent(UserAgent).
		SetCommonRetryCount(0))
}

func NewHTTPFetcherWithClient(client *req.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, auth Auth, timeout time.Duration) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	r := f.client.R().SetContext(ctx)
	if auth.Enabled() {
		r = r.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := r.Get(url)
	if err != nil {
		return nil, syncerr.New(syncerr.KindNetwork, "", fmt.Errorf("get %s: %w", url, err))
	}

	if !resp.IsSuccessState() {
		return nil, syncerr.Newf(syncerr.KindNetwork, "", "get %s: http status %d", url, resp.GetStatusCode())
	}

	body, err := resp.ToBytes()
	if err != nil {
		return nil, syncerr.New(syncerr.KindNetwork, "", fmt.Errorf("read body %s: %w", url, err))
	}
	return body, nil
}

func (f *HTTPFetcher) HeadExists(ctx context.Context, url string, auth Auth) bool {
	r := f.client.R().SetContext(ctx)
	if auth.Enabled() {
		r = r.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := r.Head(url)
	if err != nil {
		return false
	}
	return resp.IsSuccessState()
}
