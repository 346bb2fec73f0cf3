//go:build !windows

package catalog

import (
	"os"

	"golang.org/x/sys/unix"
)

// platformStatfs reports free and total bytes on the volume holding dir.
// The dir is created first so a fresh install can be sized.
func platformStatfs(dir string) (free, total uint64, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, 0, err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Bavail * bsize, st.Blocks * bsize, nil
}
