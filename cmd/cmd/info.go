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

	"github.com/ostafen/udfkit/pkg/sysinfo"
	"github.com/ostafen/udfkit/pkg/util/format"
	"github.com/spf13/cobra"
)

func DefineInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <device-or-image>",
		Short: "Print a UDF volume's descriptor and partition-map summary",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunInfo,
	}
	cmd.Flags().StringSlice("option", nil, "mount option key=value, repeatable (see 'mount --help')")
	cmd.Flags().Bool("mmap", false, "memory-map the image instead of issuing per-block reads")
	return cmd
}

func RunInfo(cmd *cobra.Command, args []string) error {
	vol, closeFn, err := openVolumeReadOnly(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	info := vol.Info()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Volume identifier: %s\n", info.Identifier)
	fmt.Fprintf(out, "Mount id:          %s\n", info.MountID)
	fmt.Fprintf(out, "UDF revision:      %d.%02d\n", info.UDFRevision>>8, info.UDFRevision&0xff)
	fmt.Fprintf(out, "Sector size:       %d\n", info.SectorSize)
	fmt.Fprintf(out, "Logical block size:%d\n", info.LogicalBlockSize)
	fmt.Fprintf(out, "Root directory:    %s\n", info.RootLocation)
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REF\tNUMBER\tKIND\tSTART\tLENGTH\tBYTES")
	for _, p := range info.Partitions {
		size := int64(p.Length) * int64(info.LogicalBlockSize)
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%d\t%s\n", p.Reference, p.Number, p.Kind, p.Start, p.Length, format.FormatBytes(size))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if sys, err := sysinfo.Stat(); err == nil {
		fmt.Fprintf(out, "\nHost: %s %s (%s)\n", sys.Name, sys.Release, sys.Version)
	}
	return nil
}
