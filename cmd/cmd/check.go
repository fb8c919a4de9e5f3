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
	"os"

	"github.com/ostafen/udfkit/internal/fs"
	"github.com/ostafen/udfkit/internal/udf/checker"
	"github.com/ostafen/udfkit/internal/udf/volume"
	"github.com/spf13/cobra"
)

// chkudf-style exit codes: 0 clean, 2 structural defects found and left
// uncorrected, 4 mount/audit failed before a verdict could be reached.
const (
	exitClean              = 0
	exitErrorsUncorrected  = 2
	exitOperationalFailure = 4
)

func DefineCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <device-or-image>",
		Short: "Audit a UDF volume for structural defects",
		Long: `The 'check' command walks a UDF volume's directory tree, verifying
link counts, unique IDs, file-space accounting against the recorded space
bitmap, and type consistency. It never modifies the volume.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         RunCheck,
	}

	cmd.Flags().Bool("verbose", false, "print every defect, not just the summary counts")
	cmd.Flags().StringSlice("option", nil, "mount option key=value, repeatable (see 'mount --help')")
	cmd.Flags().Bool("mmap", false, "memory-map the image instead of issuing per-block reads")
	return cmd
}

func RunCheck(cmd *cobra.Command, args []string) error {
	useMmap, _ := cmd.Flags().GetBool("mmap")

	var (
		f   fs.File
		err error
	)
	if useMmap {
		f, err = fs.OpenMmap(args[0])
	} else {
		f, err = fs.Open(args[0])
	}
	if err != nil {
		os.Exit(exitOperationalFailure)
		return err
	}
	defer f.Close()

	tokens, _ := cmd.Flags().GetStringSlice("option")
	opts, err := volume.ParseMountOptions(tokens)
	if err != nil {
		os.Exit(exitOperationalFailure)
		return err
	}

	fi, err := f.Stat()
	if err != nil {
		os.Exit(exitOperationalFailure)
		return err
	}

	vol, err := volume.Mount(f, fi.Size(), opts)
	if err != nil {
		os.Exit(exitOperationalFailure)
		return fmt.Errorf("check: %w", err)
	}
	defer vol.Close()

	report, err := vol.Audit()
	if err != nil {
		os.Exit(exitOperationalFailure)
		return fmt.Errorf("check: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	printReport(cmd, report, verbose)

	if !report.Clean() {
		os.Exit(exitErrorsUncorrected)
	}
	os.Exit(exitClean)
	return nil
}

func printReport(cmd *cobra.Command, r *checker.Report, verbose bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "directories: %d, files: %d, type errors: %d\n", r.NumDirs, r.NumFiles, r.NumTypeErrors)
	fmt.Fprintf(out, "link-count mismatches: %d, unique-id collisions: %d\n", len(r.LinkMismatches), len(r.IDCollisions))
	fmt.Fprintf(out, "volume-space errors: %d, file-space errors: %d\n", len(r.VolSpaceErrors), len(r.FileSpaceErrors))

	for ptn, n := range r.BitmapMismatchedFree {
		fmt.Fprintf(out, "partition %d: bitmap marks %d blocks free that are in use\n", ptn, n)
	}
	for ptn, n := range r.BitmapMismatchedInUse {
		fmt.Fprintf(out, "partition %d: bitmap marks %d blocks in use that are free\n", ptn, n)
	}

	if !verbose {
		return
	}
	for _, e := range r.VolSpaceErrors {
		fmt.Fprintf(out, "  volume-space: %s\n", e)
	}
	for _, e := range r.FileSpaceErrors {
		fmt.Fprintf(out, "  file-space: %s\n", e)
	}
	for _, m := range r.LinkMismatches {
		fmt.Fprintf(out, "  link-count: %+v\n", m)
	}
	for _, c := range r.IDCollisions {
		fmt.Fprintf(out, "  unique-id collision: %+v\n", c)
	}
}
