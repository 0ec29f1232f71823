//go:build linux

package thumbs

import (
	"os"
	"syscall"
	"time"
)

// accessTime reads the atime from the underlying stat. Filesystems mounted
// with noatime report it as the mtime, which still orders evictions sanely.
func accessTime(info os.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	}
	return info.ModTime()
}
