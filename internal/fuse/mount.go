//go:build !linux
// +build !linux

package fuse

import (
	"fmt"
	"io"

	"github.com/ostafen/udfkit/internal/udf/volume"
)

func Mount(mountpoint string, r io.ReaderAt, knownSize int64, opts volume.MountOptions) error {
	return fmt.Errorf("FUSE mount is only supported on Linux")
}
