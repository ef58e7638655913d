//go:build unix

package fsutil

import (
	"os"
	"syscall"
)

// Owner returns the numeric owner and group of a stat result when the
// platform exposes them.
func Owner(info os.FileInfo) (uid, gid uint32, ok bool) {
	if info == nil {
		return 0, 0, false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}

// IsPrivileged reports whether the process may change file ownership.
func IsPrivileged() bool {
	return os.Geteuid() == 0
}
