package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"zfw-tools/go/pkg/logbowl"
)

var (
	log logbowl.Logger
)

var rootCmd = &cobra.Command{
	Use:   "zfwtool",
	Short: "Build, inspect and sign firmware archives and update packages.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logbowl.Create("zfwtool")
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if log.Logger != nil {
			log.Error("system", "finish", "error", "Failed to execute command", "error", err)
		}
		os.Exit(1)
	}
}
