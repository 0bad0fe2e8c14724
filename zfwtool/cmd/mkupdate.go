package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"zfw-tools/go/pkg/firmware"
	"zfw-tools/go/pkg/update"
	"zfw-tools/go/pkg/zfw"
)

type mkupdateOptions struct {
	Plain      bool
	DeltaFile  string
	BlockSize  int
	SignKey    string
	Passphrase string
}

var mkupdateOpts mkupdateOptions

var mkupdateCmd = &cobra.Command{
	Use:   "mkupdate ZFWFILE UPFILE",
	Short: "Creates a firmware update file from a ZFW archive.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		u, img, err := makeUpdate(args[0], mkupdateOpts)
		if err != nil {
			log.Error("update", "build", "error", "Failed to create update", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(args[1], u.Bytes(), 0644); err != nil {
			log.Error("update", "write", "error", "Failed to write update", "path", args[1], "error", err)
			os.Exit(1)
		}
		log.Info("update", "finish", "success", "Update created", "path", args[1], "type", u.Type.String())
		fmt.Printf(" firmware size %d, update size %d, ratio %d%%\n",
			img.Size(), len(u.Body), len(u.Body)*100/int(img.Size()))
	},
}

func init() {
	rootCmd.AddCommand(mkupdateCmd)
	mkupdateCmd.Flags().BoolVarP(&mkupdateOpts.Plain, "plain", "p", false, "Create a plain uncompressed update.")
	mkupdateCmd.Flags().StringVarP(&mkupdateOpts.DeltaFile, "deltafile", "d", "", "Create a delta update against the firmware in this ZFW archive.")
	mkupdateCmd.Flags().IntVarP(&mkupdateOpts.BlockSize, "blksz", "b", update.DefaultBlockSize, "Block size for delta updates.")
	mkupdateCmd.Flags().StringVarP(&mkupdateOpts.SignKey, "signkey", "s", "", "Sign the update with this private key.")
	mkupdateCmd.Flags().StringVar(&mkupdateOpts.Passphrase, "passphrase", "", "Passphrase for the signing key (default $"+passphraseEnvVar+").")
}

// makeUpdate builds, self-verifies and optionally signs an update for the
// firmware in the archive at zfwPath.
func makeUpdate(zfwPath string, opts mkupdateOptions) (*update.Update, *firmware.Image, error) {
	a, err := zfw.ReadFile(zfwPath)
	if err != nil {
		return nil, nil, err
	}
	img := a.Firmware
	log.Debug("firmware", "load", "success", "Loaded firmware", "firmware", img.String())

	var u *update.Update
	switch {
	case opts.Plain && opts.DeltaFile != "":
		return nil, nil, fmt.Errorf("--plain and --deltafile are mutually exclusive")
	case opts.Plain:
		u, err = update.CreatePlain(img)
	case opts.DeltaFile != "":
		ref, rerr := zfw.ReadFile(opts.DeltaFile)
		if rerr != nil {
			return nil, nil, fmt.Errorf("reference: %w", rerr)
		}
		log.Debug("delta", "load", "success", "Loaded reference firmware", "firmware", ref.Firmware.String())
		u, err = update.CreateDelta(img, ref.Firmware, opts.BlockSize)
	default:
		u, err = update.CreateCompressed(img)
	}
	if err != nil {
		return nil, nil, err
	}
	log.Info("update", "verify", "success", "Update reconstructs the firmware", "type", u.Type.String())

	if opts.SignKey != "" {
		key, err := loadPrivateKey(opts.SignKey, resolvePassphrase(opts.Passphrase))
		if err != nil {
			return nil, nil, err
		}
		if err := u.Sign(key, false); err != nil {
			return nil, nil, err
		}
		log.Info("signing", "sign", "success", "Update signed", "key", opts.SignKey)
	}
	return u, img, nil
}
