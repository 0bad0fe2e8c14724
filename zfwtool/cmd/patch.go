package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"zfw-tools/go/pkg/firmware"
	"zfw-tools/go/pkg/fwfile"
	"zfw-tools/go/pkg/zfw"
)

type patchOptions struct {
	CheckOnly   bool
	ByteOrder   string
	PatchUint32 []string
	PatchInt32  []string
	ZFW         string
}

var patchOpts patchOptions

var patchCmd = &cobra.Command{
	Use:   "patch FWFILE",
	Short: "Patches a firmware file in place with its CRC and length.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		img, err := patchFirmwareFile(os.Stdout, args[0], patchOpts)
		if err != nil {
			log.Error("firmware", "patch", "error", "Failed to patch firmware", "path", args[0], "error", err)
			os.Exit(1)
		}
		if err := img.Verify(); err != nil {
			log.Error("firmware", "validate", "invalid", "Firmware header is invalid", "path", args[0], "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(patchCmd)
	patchCmd.Flags().BoolVar(&patchOpts.CheckOnly, "check-only", false, "Only check CRC and length values, do not patch.")
	patchCmd.Flags().StringVar(&patchOpts.ByteOrder, "byte-order", "auto", "Byte order of the firmware header: auto, le or be.")
	patchCmd.Flags().StringArrayVar(&patchOpts.PatchUint32, "patch-uint32", nil, "Patch a 32-bit unsigned integer, given as offset:value.")
	patchCmd.Flags().StringArrayVar(&patchOpts.PatchInt32, "patch-int32", nil, "Patch a 32-bit signed integer, given as offset:value.")
	patchCmd.Flags().StringVar(&patchOpts.ZFW, "zfw", "", "Also write the patched firmware to this ZFW archive.")
}

// patchFirmwareFile patches and rewrites the image at path unless CheckOnly is
// set, then reports its header state to w.
func patchFirmwareFile(w io.Writer, path string, opts patchOptions) (*firmware.Image, error) {
	order, err := firmware.ParseByteOrder(opts.ByteOrder)
	if err != nil {
		return nil, err
	}
	specs, err := collectPatches(opts.PatchUint32, opts.PatchInt32)
	if err != nil {
		return nil, err
	}
	log.Info("firmware", "read", "progress", "Processing firmware", "path", path)
	img, err := fwfile.Load(path, fwfile.Options{ByteOrder: order})
	if err != nil {
		return nil, err
	}

	if !opts.CheckOnly {
		if err := img.ApplyPatches(specs); err != nil {
			return nil, err
		}
		img.PatchHeader(true, true)
		if err := fwfile.Write(path, img); err != nil {
			return nil, err
		}
		log.Info("firmware", "patch", "success", "Firmware patched", "firmware", img.String())
	}
	if opts.ZFW != "" {
		if err := zfw.New(img, nil).WriteFile(opts.ZFW); err != nil {
			return nil, err
		}
		log.Info("archive", "write", "success", "ZFW archive created", "path", opts.ZFW)
	}

	fmt.Fprintf(w, "CRC:  0x%08x (%s)\n", img.DeclaredChecksum(), status(img.ChecksumValid()))
	fmt.Fprintf(w, "Size: 0x%08x: %d bytes (%s)\n", img.DeclaredSize(), img.DeclaredSize(), status(img.SizeValid()))
	return img, nil
}
