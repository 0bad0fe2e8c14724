package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	signOutPath    string
	signOverwrite  bool
	signPassphrase string
)

var signCmd = &cobra.Command{
	Use:   "sign UPFILE KEYFILE",
	Short: "Appends a signature to an existing update file.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		out := signOutPath
		if out == "" {
			out = args[0]
		}
		if err := signUpdateFile(args[0], args[1], out, resolvePassphrase(signPassphrase), signOverwrite); err != nil {
			log.Error("signing", "sign", "error", "Failed to sign update", "path", args[0], "error", err)
			os.Exit(1)
		}
		log.Info("signing", "finish", "success", "Update signed", "path", out)
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().StringVarP(&signOutPath, "out", "o", "", "Write the signed update here instead of in place.")
	signCmd.Flags().BoolVar(&signOverwrite, "overwrite", false, "Replace existing signatures instead of adding one.")
	signCmd.Flags().StringVar(&signPassphrase, "passphrase", "", "Passphrase for the signing key (default $"+passphraseEnvVar+").")
}

func signUpdateFile(upPath, keyPath, outPath string, passphrase []byte, overwrite bool) error {
	u, err := readUpdateFile(upPath)
	if err != nil {
		return err
	}
	key, err := loadPrivateKey(keyPath, passphrase)
	if err != nil {
		return err
	}
	if err := u.Sign(key, overwrite); err != nil {
		return err
	}
	return os.WriteFile(outPath, u.Bytes(), 0644)
}
