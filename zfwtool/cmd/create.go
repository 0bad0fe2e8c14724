package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"zfw-tools/go/pkg/firmware"
	"zfw-tools/go/pkg/fwfile"
	"zfw-tools/go/pkg/zfw"
)

type createOptions struct {
	Base        string
	ByteOrder   string
	Patch       bool
	PatchUint32 []string
	PatchInt32  []string
	Meta        []string
	MetaFile    string
	Version     string
}

var createOpts createOptions

var createCmd = &cobra.Command{
	Use:   "create FIRMWARE ZFWFILE",
	Short: "Creates a ZFW archive from a raw or Intel HEX firmware file.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		log.Info("archive", "build", "progress", "Creating ZFW archive", "firmware", args[0], "output", args[1])
		a, err := createArchive(args[0], createOpts)
		if err != nil {
			log.Error("archive", "build", "error", "Failed to create archive", "error", err)
			os.Exit(1)
		}
		if err := a.WriteFile(args[1]); err != nil {
			log.Error("archive", "write", "error", "Failed to write archive", "path", args[1], "error", err)
			os.Exit(1)
		}
		log.Info("archive", "finish", "success", "ZFW archive created", "path", args[1], "firmware", a.Firmware.String())
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVar(&createOpts.Base, "base", "", "Base address of the firmware (raw input only, or checked against HEX input).")
	createCmd.Flags().StringVar(&createOpts.ByteOrder, "byte-order", "auto", "Byte order of the firmware header: auto, le or be.")
	createCmd.Flags().BoolVar(&createOpts.Patch, "patch", false, "Patch firmware size and CRC.")
	createCmd.Flags().StringArrayVar(&createOpts.PatchUint32, "patch-uint32", nil, "Patch a 32-bit unsigned integer, given as offset:value.")
	createCmd.Flags().StringArrayVar(&createOpts.PatchInt32, "patch-int32", nil, "Patch a 32-bit signed integer, given as offset:value.")
	createCmd.Flags().StringArrayVar(&createOpts.Meta, "meta", nil, "Add metadata, given as key=value.")
	createCmd.Flags().StringVar(&createOpts.MetaFile, "meta-file", "", "YAML file with additional metadata.")
	createCmd.Flags().StringVar(&createOpts.Version, "version", "", "Firmware version (semantic version).")
}

func createArchive(fwPath string, opts createOptions) (*zfw.Archive, error) {
	base, err := parseAddress(opts.Base)
	if err != nil {
		return nil, err
	}
	order, err := firmware.ParseByteOrder(opts.ByteOrder)
	if err != nil {
		return nil, err
	}
	specs, err := collectPatches(opts.PatchUint32, opts.PatchInt32)
	if err != nil {
		return nil, err
	}

	img, err := fwfile.Load(fwPath, fwfile.Options{Base: base, ByteOrder: order})
	if err != nil {
		return nil, err
	}
	if err := img.ApplyPatches(specs); err != nil {
		return nil, err
	}
	if opts.Patch {
		img.PatchHeader(true, true)
		log.Debug("firmware", "patch", "success", "Patched firmware header", "firmware", img.String())
	}
	if err := img.Verify(); err != nil {
		log.Warn("firmware", "validate", "warning", "Archiving firmware with an invalid header", "error", err)
	}

	meta := map[string]any{}
	if opts.MetaFile != "" {
		if meta, err = loadMetaFile(opts.MetaFile); err != nil {
			return nil, err
		}
	}
	flagMeta, err := parseMeta(opts.Meta)
	if err != nil {
		return nil, err
	}
	for k, v := range flagMeta {
		meta[k] = v
	}
	if _, ok := meta[zfw.BaseAddrKey]; ok {
		log.Warn("archive", "build", "warning", "Ignoring reserved metadata key, use --base", "key", zfw.BaseAddrKey)
	}

	a := zfw.New(img, meta)
	if opts.Version != "" {
		if err := a.SetVersion(opts.Version); err != nil {
			return nil, err
		}
	} else if _, err := a.Version(); err != nil {
		return nil, fmt.Errorf("version metadata: %w", err)
	}
	return a, nil
}
