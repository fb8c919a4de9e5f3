//go:build linux
// +build linux

package geometry

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DeviceGeometry queries a Linux block device for its logical sector
// size (BLKSSZGET) and total size in bytes (BLKGETSIZE64), generalizing
// the teacher's raw syscall.Syscall(SYS_IOCTL, ...) calls in
// internal/disk/stat.go to the typed unix.IoctlGetInt/unix.IoctlGetUint64
// wrappers.
func DeviceGeometry(f *os.File) (sectorSize int, sizeBytes uint64, err error) {
	fd := int(f.Fd())

	ss, err := unix.IoctlGetInt(fd, unix.BLKSSZGET)
	if err != nil {
		return 0, 0, fmt.Errorf("geometry: BLKSSZGET: %w", err)
	}

	size, err := unix.IoctlGetUint64(fd, unix.BLKGETSIZE64)
	if err != nil {
		return 0, 0, fmt.Errorf("geometry: BLKGETSIZE64: %w", err)
	}

	return ss, size, nil
}
