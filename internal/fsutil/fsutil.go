package fsutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	// PrivateDir holds the tool's own files inside a destination root.
	PrivateDir = ".assetsync"

	tempDir  = "tmp"
	lockFile = "lock"
)

// PrivatePath returns <root>/.assetsync.
func PrivatePath(root string) string {
	return filepath.Join(root, PrivateDir)
}

// TempPath returns the staging directory for in-flight downloads.
func TempPath(root string) string {
	return filepath.Join(root, PrivateDir, tempDir)
}

// LockPath returns the advisory lock file of a destination.
func LockPath(root string) string {
	return filepath.Join(root, PrivateDir, lockFile)
}

// EnsureDir creates dir and all parents if missing.
func EnsureDir(fs afero.Fs, dir string) error {
	info, err := fs.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return fs.MkdirAll(dir, 0o755)
}

// CheckWritable creates root if needed and probes it with a throwaway file.
func CheckWritable(fs afero.Fs, root string) error {
	if err := EnsureDir(fs, TempPath(root)); err != nil {
		return err
	}

	probe, err := afero.TempFile(fs, TempPath(root), ".probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return fs.Remove(name)
}

// FileMD5 returns the hex md5 of the file at path.
func FileMD5(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Exists reports whether a regular file exists at path.
func Exists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
