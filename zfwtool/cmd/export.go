package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"zfw-tools/go/pkg/fwfile"
	"zfw-tools/go/pkg/zfw"
)

var exportCmd = &cobra.Command{
	Use:   "export ZFWFILE FIRMWARE",
	Short: "Exports the firmware from a ZFW archive, as Intel HEX if FIRMWARE ends in .hex.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := zfw.ReadFile(args[0])
		if err != nil {
			log.Error("archive", "read", "error", "Failed to read archive", "path", args[0], "error", err)
			os.Exit(1)
		}
		if err := fwfile.Write(args[1], a.Firmware); err != nil {
			log.Error("io", "write", "error", "Failed to write firmware", "path", args[1], "error", err)
			os.Exit(1)
		}
		log.Info("archive", "finish", "success", "Firmware exported", "path", args[1], "firmware", a.Firmware.String())
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
