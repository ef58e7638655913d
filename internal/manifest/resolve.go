package manifest

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mwantia/assetsync/internal/syncerr"
)

// Stream wrapper schemes used by CMS exports. They name storage locations,
// not fetchable URLs, so such records download from base URL + path.
var streamSchemes = map[string]struct{}{
	"public":    {},
	"private":   {},
	"temporary": {},
}

var fetchSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"s3":    {},
}

// ResolveURL returns the effective download URL for ref. Absolute URLs pass
// through unchanged; relative references are joined onto base keeping their
// query string and percent-encoding intact.
func ResolveURL(base, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", ref, err)
	}

	if refURL.IsAbs() {
		if _, ok := fetchSchemes[strings.ToLower(refURL.Scheme)]; ok {
			return ref, nil
		}
		return "", fmt.Errorf("unsupported uri scheme %q", refURL.Scheme)
	}

	if base == "" {
		return "", fmt.Errorf("relative uri %q requires a base url", ref)
	}

	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return "", fmt.Errorf("invalid base url %q", base)
	}

	// Treat the base as a directory so the last segment is kept.
	if !strings.HasSuffix(baseURL.Path, "/") {
		baseURL.Path += "/"
		if baseURL.RawPath != "" {
			baseURL.RawPath += "/"
		}
	}

	rel, err := url.Parse(strings.TrimLeft(ref, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", ref, err)
	}

	return baseURL.ResolveReference(rel).String(), nil
}

// Resolve fills DownloadURL on every record. A record whose URL cannot be
// built keeps an empty DownloadURL and reports the cause through
// ResolveErr; only an unusable base URL fails the whole manifest.
func (m *Manifest) Resolve(base string) error {
	if base != "" {
		if u, err := url.Parse(base); err != nil || !u.IsAbs() {
			return syncerr.Newf(syncerr.KindManifest, "", "invalid base url %q", base)
		}
	}

	for _, rec := range m.Records {
		rec.DownloadURL, rec.resolveErr = "", nil

		resolved, err := rec.resolve(base)
		if err != nil {
			rec.resolveErr = syncerr.New(syncerr.KindManifest, rec.Path, err)
			continue
		}
		rec.DownloadURL = resolved
	}
	return nil
}

// Unresolved returns the records Resolve could not build a URL for.
func (m *Manifest) Unresolved() []*AssetRecord {
	var unresolved []*AssetRecord
	for _, rec := range m.Records {
		if rec.resolveErr != nil {
			unresolved = append(unresolved, rec)
		}
	}
	return unresolved
}

// ResolveErr is the ManifestError that kept the record from being resolved.
func (r *AssetRecord) ResolveErr() error {
	return r.resolveErr
}

func (r *AssetRecord) resolve(base string) (string, error) {
	if scheme, _, ok := strings.Cut(r.URI, "://"); ok {
		if _, stream := streamSchemes[strings.ToLower(scheme)]; stream {
			return JoinPath(base, r.Path)
		}
	}
	return ResolveURL(base, r.URI)
}

// JoinPath appends the filesystem path p to base, escaping every segment.
// Unlike ResolveURL, p is never interpreted as a URL, so characters such as
// '%', '?' and '#' are part of the file name.
func JoinPath(base, p string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("path %q requires a base url", p)
	}

	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return "", fmt.Errorf("invalid base url %q", base)
	}

	segments := strings.Split(strings.TrimLeft(strings.ReplaceAll(strings.TrimSpace(p), "\\", "/"), "/"), "/")
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}

	u := *baseURL
	u.RawQuery, u.Fragment, u.RawFragment = "", "", ""
	u.Path = strings.TrimSuffix(baseURL.Path, "/") + "/" + strings.Join(segments, "/")
	u.RawPath = strings.TrimSuffix(baseURL.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	return u.String(), nil
}
