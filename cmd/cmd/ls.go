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
	"fmt"
	"text/tabwriter"

	"github.com/ostafen/udfkit/internal/fs"
	"github.com/ostafen/udfkit/internal/udf/volume"
	"github.com/spf13/cobra"
)

func DefineLsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <device-or-image> [path]",
		Short: "List a directory on a UDF volume without mounting it",
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE:         RunLs,
	}
	cmd.Flags().StringSlice("option", nil, "mount option key=value, repeatable (see 'mount --help')")
	cmd.Flags().Bool("mmap", false, "memory-map the image instead of issuing per-block reads")
	return cmd
}

func RunLs(cmd *cobra.Command, args []string) error {
	path := "/"
	if len(args) == 2 {
		path = args[1]
	}

	vol, closeFn, err := openVolumeReadOnly(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := vol.ReadDir(path)
	if err != nil {
		return fmt.Errorf("ls: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tICB")
	for _, fid := range entries {
		kind := "file"
		if fid.IsDirectory() {
			kind = "dir"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", fid.Name, kind, fid.ICB.String())
	}
	return w.Flush()
}

// openVolumeReadOnly opens and mounts a device for a read-only CLI
// command, parsing the shared --option flag the same way RunMount does.
// When --mmap is set it opens the backing image through internal/mmap
// instead of issuing buffered per-block reads.
func openVolumeReadOnly(cmd *cobra.Command, path string) (*volume.Volume, func(), error) {
	useMmap, _ := cmd.Flags().GetBool("mmap")

	var (
		f   fs.File
		err error
	)
	if useMmap {
		f, err = fs.OpenMmap(path)
	} else {
		f, err = fs.Open(path)
	}
	if err != nil {
		return nil, nil, err
	}

	tokens, _ := cmd.Flags().GetStringSlice("option")
	opts, err := volume.ParseMountOptions(tokens)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	vol, err := volume.Mount(f, fi.Size(), opts)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return vol, func() { vol.Close(); f.Close() }, nil
}
