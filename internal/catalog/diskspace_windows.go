//go:build windows

package catalog

import (
	"os"

	"golang.org/x/sys/windows"
)

// platformStatfs reports free and total bytes on the volume holding dir.
// The dir is created first so a fresh install can be sized.
func platformStatfs(dir string) (free, total uint64, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, 0, err
	}
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0, err
	}
	var avail, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &totalBytes, &totalFree); err != nil {
		return 0, 0, err
	}
	return avail, totalBytes, nil
}
