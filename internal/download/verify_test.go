package download

import (
	"testing"

	"github.com/mwantia/assetsync/internal/fsutil"
	"github.com/mwantia/assetsync/internal/manifest"
	"github.com/mwantia/assetsync/internal/syncerr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		content string
		size    int64
		hash    string
		kind    syncerr.Kind
	}{
		{"matching", "hello", 5, md5Hex("hello"), syncerr.KindNone},
		{"no declared hash", "hello", 5, "", syncerr.KindNone},
		{"uppercase hash", "hello", 5, "5D41402ABC4B2A76B9719D911017C592", syncerr.KindNone},
		{"size mismatch", "hello", 4, md5Hex("hello"), syncerr.KindSizeMismatch},
		{"hash mismatch", "hello", 5, md5Hex("world"), syncerr.KindHashMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/f", []byte(tt.content), 0o644))

			sum, err := Verify(fs, "/f", &manifest.AssetRecord{Path: "f", Size: tt.size, MD5: tt.hash})
			assert.Equal(t, tt.kind, syncerr.KindOf(err))

			exists, _ := afero.Exists(fs, "/f")
			if tt.kind == syncerr.KindNone {
				require.NoError(t, err)
				assert.Equal(t, md5Hex("hello"), sum)
				assert.True(t, exists)
			} else {
				assert.False(t, exists, "failed file must be removed")
			}
		})
	}
}

func TestVerifyTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, root+"/ok.txt", []byte("ok"), 0o644))
	require.NoError(t, afero.WriteFile(fs, root+"/bad.txt", []byte("bad"), 0o644))

	m, err := manifest.New([]*manifest.AssetRecord{
		{Filename: "ok.txt", URI: "ok.txt", Path: "ok.txt", Size: 2, MD5: md5Hex("ok")},
		{Filename: "bad.txt", URI: "bad.txt", Path: "bad.txt", Size: 3, MD5: md5Hex("xyz")},
		{Filename: "gone.txt", URI: "gone.txt", Path: "gone.txt", Size: 1},
		{Filename: "x", URI: "x", Path: "../x", Size: 1},
	})
	require.NoError(t, err)

	results := VerifyTree(fs, root, m)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, md5Hex("ok"), results[0].Hash)
	assert.Equal(t, syncerr.KindHashMismatch, syncerr.KindOf(results[1].Err))
	assert.True(t, results[2].Missing)
	assert.Equal(t, syncerr.KindPathTraversal, syncerr.KindOf(results[3].Err))

	exists, _ := afero.Exists(fs, root+"/bad.txt")
	assert.False(t, exists)
}

func TestCleanTemp(t *testing.T) {
	fs := afero.NewMemMapFs()

	n, err := CleanTemp(fs, root)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, afero.WriteFile(fs, fsutil.TempPath(root)+"/dl-1", []byte("partial"), 0o644))
	require.NoError(t, afero.WriteFile(fs, fsutil.TempPath(root)+"/dl-2", []byte("partial"), 0o644))

	n, err = CleanTemp(fs, root)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := afero.ReadDir(fs, fsutil.TempPath(root))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
