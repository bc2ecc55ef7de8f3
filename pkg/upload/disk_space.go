package upload

import (
	"golang.org/x/sys/unix"
)

// DiskSpacer reports the bytes available to unprivileged writers on the filesystem holding path.
type DiskSpacer interface {
	FreeBytes(path string) (int64, error)
}

type StatfsDiskSpacer struct{}

func (StatfsDiskSpacer) FreeBytes(path string) (int64, error) {
	var volStat unix.Statfs_t
	if err := unix.Statfs(path, &volStat); err != nil {
		return 0, err
	}

	return int64(volStat.Bavail) * int64(volStat.Bsize), nil
}

// FixedDiskSpacer always reports the same amount of free space.
type FixedDiskSpacer int64

func (f FixedDiskSpacer) FreeBytes(_ string) (int64, error) {
	return int64(f), nil
}
