package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zfw-tools/go/pkg/zfw"
)

var infoCmd = &cobra.Command{
	Use:   "info PATTERN...",
	Short: "Prints information about ZFW archives. Patterns may use ** globs.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		paths, err := expandPatterns(args)
		if err != nil {
			log.Error("info", "read", "error", "Invalid pattern", "error", err)
			os.Exit(1)
		}
		if invalid := describeArchives(os.Stdout, paths); invalid > 0 {
			log.Error("info", "validate", "failure", "Some archives are unreadable or hold invalid firmware", "count", invalid)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

type archiveReport struct {
	archive *zfw.Archive
	err     error
}

// describeArchives reads the archives concurrently and prints them in the
// order given. It returns how many failed to read or hold an image with a bad
// header.
func describeArchives(w io.Writer, paths []string) int {
	reports := make([]archiveReport, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			a, err := zfw.ReadFile(p)
			reports[i] = archiveReport{archive: a, err: err}
			return nil
		})
	}
	_ = g.Wait() // workers keep their error in reports and always return nil

	invalid := 0
	for i, p := range paths {
		fmt.Fprintf(w, "%s:\n", p)
		r := reports[i]
		if r.err != nil {
			invalid++
			fmt.Fprintf(w, " Error: %v\n", r.err)
			continue
		}
		fw := r.archive.Firmware
		if fw.Verify() != nil {
			invalid++
		}
		fmt.Fprintf(w, "   CRC: 0x%08x (%s)\n", fw.DeclaredChecksum(), status(fw.ChecksumValid()))
		fmt.Fprintf(w, "  Size: 0x%08x: %d bytes (%s)\n", fw.DeclaredSize(), fw.DeclaredSize(), status(fw.SizeValid()))
		fmt.Fprintf(w, " Order: %s\n", fw.ByteOrder())
		if fw.BaseAddress != nil {
			fmt.Fprintf(w, "  Base: 0x%08x\n", *fw.BaseAddress)
		} else {
			fmt.Fprintf(w, "  Base: not specified\n")
		}
		fmt.Fprintf(w, "  Meta: %s\n", formatMeta(r.archive.Meta))
	}
	return invalid
}
