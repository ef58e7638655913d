package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/mwantia/assetsync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEnvelope = `{
  "files": [
    {"id": "1", "filename": "a.jpg", "uri": "public://images/a.jpg", "path": "images/a.jpg",
     "mime": "image/jpeg", "size": 100, "created": 1700000000, "changed": 1700000100, "scheme": "public"},
    {"id": "2", "filename": "b.pdf", "uri": "docs/b.pdf?v=2", "path": "docs/b.pdf",
     "mime": "application/pdf", "size": 200, "created": 1700000000, "changed": 1700000200, "scheme": "public",
     "md5": "d41d8cd98f00b204e9800998ecf8427e", "uid": 1000, "gid": 1000, "permissions": "644"}
  ]
}`

func TestParseEnvelopeAndArray(t *testing.T) {
	m, err := Parse([]byte(sampleEnvelope))
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	b, ok := m.Lookup("docs/b.pdf")
	require.True(t, ok)
	require.NotNil(t, b.UID)
	assert.Equal(t, uint32(1000), *b.UID)
	mode, ok := b.Mode()
	assert.True(t, ok)
	assert.Equal(t, uint32(0o644), mode)

	arr, err := Parse([]byte(`[{"id":"1","filename":"a","uri":"a","path":"a","size":1}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, arr.Len())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ``},
		{"malformed", `{"files": [`},
		{"scalar", `42`},
		{"envelope without files", `{"items": []}`},
		{"missing filename", `[{"uri":"a","path":"a"}]`},
		{"missing uri", `[{"filename":"a","path":"a"}]`},
		{"missing path", `[{"filename":"a","uri":"a"}]`},
		{"bad permissions", `[{"filename":"a","uri":"a","path":"a","permissions":"rwx"}]`},
		{"duplicate path", `[{"filename":"a","uri":"a","path":"x/a"},{"filename":"b","uri":"b","path":"x//a"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, syncerr.Is(err, syncerr.KindManifest), "got %v", err)
		})
	}
}

func TestParseKeepsTraversalRecords(t *testing.T) {
	// Traversal is rejected per item by the planner, not by the parser.
	m, err := Parse([]byte(`[{"filename":"passwd","uri":"x","path":"../../etc/passwd"}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a.jpg", "a.jpg", false},
		{"images/./a.jpg", "images/a.jpg", false},
		{"images/../a.jpg", "a.jpg", false},
		{`images\a.jpg`, "images/a.jpg", false},
		{"../../etc/passwd", "", true},
		{"images/../../a.jpg", "", true},
		{"/etc/passwd", "", true},
		{"C:/Windows/win.ini", "", true},
		{"..", "", true},
		{".", "", true},
		{"  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, syncerr.Is(err, syncerr.KindPathTraversal))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfined(t *testing.T) {
	root := t.TempDir()

	target, err := Confined(root, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b.txt"), target)

	_, err = Confined(root, "../../etc/passwd")
	assert.True(t, syncerr.Is(err, syncerr.KindPathTraversal))
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		ref     string
		want    string
		wantErr bool
	}{
		{"absolute passthrough", "https://cdn.example.com", "https://other.example.com/x%20y.jpg?sig=abc", "https://other.example.com/x%20y.jpg?sig=abc", false},
		{"s3 passthrough", "", "s3://bucket/key.jpg", "s3://bucket/key.jpg", false},
		{"relative join", "https://cdn.example.com/files", "images/a.jpg", "https://cdn.example.com/files/images/a.jpg", false},
		{"leading slash kept under base", "https://cdn.example.com/files/", "/images/a.jpg", "https://cdn.example.com/files/images/a.jpg", false},
		{"query preserved", "https://cdn.example.com", "docs/b.pdf?v=2&x=%2F", "https://cdn.example.com/docs/b.pdf?v=2&x=%2F", false},
		{"percent encoding preserved", "https://cdn.example.com/", "a%2Fb%20c.jpg", "https://cdn.example.com/a%2Fb%20c.jpg", false},
		{"missing base", "", "images/a.jpg", "", true},
		{"unsupported scheme", "https://cdn.example.com", "ftp://example.com/a", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURL(tt.base, tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManifestResolveStreamScheme(t *testing.T) {
	m, err := Parse([]byte(sampleEnvelope))
	require.NoError(t, err)
	require.NoError(t, m.Resolve("https://cdn.example.com/sites/default/files"))

	a, _ := m.Lookup("images/a.jpg")
	assert.Equal(t, "https://cdn.example.com/sites/default/files/images/a.jpg", a.DownloadURL)

	b, _ := m.Lookup("docs/b.pdf")
	assert.Equal(t, "https://cdn.example.com/sites/default/files/docs/b.pdf?v=2", b.DownloadURL)
}

func TestManifestResolveEscapesStreamPaths(t *testing.T) {
	records := []*AssetRecord{
		{Filename: "x.jpg", URI: "public://my photos/x.jpg", Path: "my photos/x.jpg"},
		{Filename: "100% cotton.jpg", URI: "public://uploads/100% cotton.jpg", Path: "uploads/100% cotton.jpg"},
		{Filename: "a#b?.txt", URI: "private://notes/a#b?.txt", Path: "notes/a#b?.txt"},
		{Filename: "bad.txt", URI: "files/%zz.txt", Path: "files/bad.txt"},
		{Filename: "c.txt", URI: "files/c.txt?v=1", Path: "files/c.txt"},
	}
	m, err := New(records)
	require.NoError(t, err)
	require.NoError(t, m.Resolve("https://cdn.example.com/sites/default/files/"))

	expected := map[string]string{
		"my photos/x.jpg":         "https://cdn.example.com/sites/default/files/my%20photos/x.jpg",
		"uploads/100% cotton.jpg": "https://cdn.example.com/sites/default/files/uploads/100%25%20cotton.jpg",
		"notes/a#b?.txt":          "https://cdn.example.com/sites/default/files/notes/a%23b%3F.txt",
		"files/c.txt":             "https://cdn.example.com/sites/default/files/files/c.txt?v=1",
	}
	for path, want := range expected {
		rec, ok := m.Lookup(path)
		require.True(t, ok, path)
		assert.NoError(t, rec.ResolveErr(), path)
		assert.Equal(t, want, rec.DownloadURL, path)
	}

	bad, _ := m.Lookup("files/bad.txt")
	assert.Empty(t, bad.DownloadURL)
	assert.Equal(t, syncerr.KindManifest, syncerr.KindOf(bad.ResolveErr()))

	unresolved := m.Unresolved()
	require.Len(t, unresolved, 1)
	assert.Equal(t, "files/bad.txt", unresolved[0].Path)
}

func TestManifestResolveWithoutBase(t *testing.T) {
	m, err := New([]*AssetRecord{
		{Filename: "a.jpg", URI: "https://files.example.com/a.jpg", Path: "a.jpg"},
		{Filename: "b.jpg", URI: "public://b.jpg", Path: "b.jpg"},
		{Filename: "c.jpg", URI: "c.jpg", Path: "c.jpg"},
	})
	require.NoError(t, err)
	require.NoError(t, m.Resolve(""))

	a, _ := m.Lookup("a.jpg")
	assert.Equal(t, "https://files.example.com/a.jpg", a.DownloadURL)
	assert.Len(t, m.Unresolved(), 2)

	assert.Error(t, m.Resolve("not a url"))
}

func TestLoadLocalAndRemote(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "files.json")
	require.NoError(t, os.WriteFile(local, []byte(sampleEnvelope), 0o644))

	m, err := Load(context.Background(), local, "https://cdn.example.com", nil, transport.Auth{})
	require.NoError(t, err)
	assert.Equal(t, local, m.Source)
	assert.Equal(t, 2, m.Len())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "src" || pass != "pw" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(sampleEnvelope))
	}))
	defer srv.Close()

	fetcher := transport.NewHTTPFetcher()
	remote, err := Load(context.Background(), srv.URL+"/files.json", srv.URL, fetcher, transport.Auth{Username: "src", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, 2, remote.Len())

	_, err = Load(context.Background(), srv.URL+"/files.json", srv.URL, fetcher, transport.Auth{})
	require.Error(t, err)
	assert.True(t, syncerr.Is(err, syncerr.KindManifest))
}
