// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ostafen/udfkit/internal/fuse"
	"github.com/ostafen/udfkit/internal/udf/volume"
	"github.com/spf13/cobra"
)

func DefineMountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <device-or-image>",
		Short: "Mount a UDF volume at a mountpoint",
		Long: `The 'mount' command mounts a UDF filesystem image or block device
through FUSE. Read operations are always available; write operations
(create, mkdir, symlink, rename, unlink, link) succeed only when the
backing device also supports writing and the target ICB is allocated
in-ICB.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunMount,
	}

	cmd.Flags().StringP("mountpoint", "m", "", "Absolute path to the directory where the filesystem will be mounted. If not specified, a default will be generated.")
	cmd.Flags().Bool("read-only", false, "open the backing device read-only even if the path is writable")
	cmd.Flags().StringSlice("option", nil, `mount option key=value, repeatable, e.g. --option bs=2048 --option uid=1000.
Recognized keys: bs, session, lastblock, anchor, volume, partition, fileset,
rootdir, uid, gid, umask, unhide, undelete, strict, utf8, iocharset, novrs.`)
	return cmd
}

func RunMount(cmd *cobra.Command, args []string) error {
	path := args[0]
	mountpoint, _ := cmd.Flags().GetString("mountpoint")
	if mountpoint == "" {
		mountpoint = getMountpoint(path)
	}

	readOnly, _ := cmd.Flags().GetBool("read-only")

	f, err := openDevice(path, readOnly)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	tokens, _ := cmd.Flags().GetStringSlice("option")
	opts, err := volume.ParseMountOptions(tokens)
	if err != nil {
		return err
	}

	return fuse.Mount(mountpoint, f, fi.Size(), opts)
}

// openDevice opens path for read-write unless readOnly is requested or
// the path cannot be opened for writing (e.g. a read-only image file or
// an unwritable block device), in which case it falls back to a
// read-only handle so mounting a read-only volume still succeeds.
func openDevice(path string, readOnly bool) (*os.File, error) {
	if !readOnly {
		if f, err := os.OpenFile(path, os.O_RDWR, 0); err == nil {
			return f, nil
		}
	}
	return os.Open(path)
}

// getMountpoint generates a mountpoint name from the image path by
// stripping the extension. If the extension is empty, "_mnt" is added.
func getMountpoint(imagePath string) string {
	baseName := filepath.Base(imagePath)
	ext := filepath.Ext(baseName)
	baseName = strings.TrimSuffix(baseName, ext)
	mountpoint := baseName
	if ext == "" {
		mountpoint += "_mnt"
	}
	return mountpoint
}
