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
	"errors"
	"fmt"
	"io"

	"github.com/ostafen/udfkit/internal/udf/volume"
	osutil "github.com/ostafen/udfkit/pkg/util/io"
	"github.com/spf13/cobra"
)

func DefineCatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <device-or-image> <path>",
		Short: "Stream one file's data from a UDF volume to stdout",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         RunCat,
	}
	cmd.Flags().StringSlice("option", nil, "mount option key=value, repeatable (see 'mount --help')")
	cmd.Flags().Bool("mmap", false, "memory-map the image instead of issuing per-block reads")
	cmd.Flags().StringP("out", "o", "", "write the file's contents here instead of stdout")
	return cmd
}

func RunCat(cmd *cobra.Command, args []string) error {
	vol, closeFn, err := openVolumeReadOnly(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	src := &volumeFileReader{vol: vol, path: args[1]}

	outPath, _ := cmd.Flags().GetString("out")
	if outPath != "" {
		if err := osutil.CopyFile(outPath, src); err != nil {
			return fmt.Errorf("cat: %w", err)
		}
		return nil
	}

	if _, err := io.Copy(cmd.OutOrStdout(), src); err != nil {
		return fmt.Errorf("cat: %w", err)
	}
	return nil
}

// volumeFileReader adapts volume.Volume.ReadFile's offset-based reads
// to io.Reader, for callers (io.Copy, pkg/util/io.CopyFile) that expect
// forward-only streaming.
type volumeFileReader struct {
	vol    *volume.Volume
	path   string
	offset int64
}

func (r *volumeFileReader) Read(p []byte) (int, error) {
	n, err := r.vol.ReadFile(r.path, r.offset, p)
	r.offset += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
