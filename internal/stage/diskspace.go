package stage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskSpace reports total and available capacity for the filesystem that
// backs a path, as seen by statfs(2).
type DiskSpace struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// GetDiskSpace statfs(2)s path and reports total/available bytes. The
// retriever's buffer-pressure computation needs the raw figures rather
// than a boolean "has room" verdict.
func GetDiskSpace(path string) (*DiskSpace, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("statfs %q: %w", path, err)
	}
	return &DiskSpace{
		TotalBytes:     stat.Blocks * uint64(stat.Bsize),
		AvailableBytes: stat.Bavail * uint64(stat.Bsize),
	}, nil
}
