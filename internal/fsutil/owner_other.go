//go:build !unix

package fsutil

import "os"

func Owner(info os.FileInfo) (uid, gid uint32, ok bool) {
	return 0, 0, false
}

func IsPrivileged() bool {
	return false
}
