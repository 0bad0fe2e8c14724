package main

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"zfw-tools/go/pkg/firmware"
	"zfw-tools/go/pkg/fwfile"
	"zfw-tools/go/pkg/logbowl"
	"zfw-tools/go/pkg/update"
	"zfw-tools/go/pkg/zfw"
)

// maxUpdateFileSize caps what is read from disk before parsing.
const maxUpdateFileSize = 64 << 20

var log logbowl.Logger

type applyOptions struct {
	Reference     string
	PublicKeys    []string
	MinSignatures int
	Output        string
	Base          string
}

var applyOpts applyOptions

func main() {
	log = logbowl.Create("zfw-apply")
	if err := rootCmd.Execute(); err != nil {
		log.Error("apply", "finish", "error", "Failed to apply update", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "zfw-apply UPFILE",
	Short:        "Verifies an update file and writes the firmware it reconstructs.",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if applyOpts.Output == "" {
			return fmt.Errorf("an output path is required (--out)")
		}
		img, err := applyUpdate(args[0], applyOpts)
		if err != nil {
			return err
		}
		if err := fwfile.Write(applyOpts.Output, img); err != nil {
			return err
		}
		log.Info("apply", "finish", "success", "Firmware written", "path", applyOpts.Output, "firmware", img.String())
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info UPFILE",
	Short: "Display information about an update file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Update Information for:", args[0])
		u, err := readUpdate(args[0])
		if err != nil {
			fmt.Println("Error reading update:", err)
			return err
		}
		printInfo(os.Stdout, u)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	rootCmd.Flags().StringVarP(&applyOpts.Output, "out", "o", "", "Where to write the reconstructed firmware (.hex for Intel HEX).")
	rootCmd.Flags().StringVarP(&applyOpts.Reference, "reference", "r", "", "Firmware currently installed: a ZFW archive, HEX or raw file.")
	rootCmd.Flags().StringArrayVar(&applyOpts.PublicKeys, "public-key", nil, "Trusted public key file or ** pattern.")
	rootCmd.Flags().IntVar(&applyOpts.MinSignatures, "min-signatures", 0, "Number of distinct trusted keys that must have signed the update.")
	rootCmd.Flags().StringVar(&applyOpts.Base, "base", "", "Base address for HEX output (default: the reference's).")
}

// applyUpdate checks the update's signatures and reconstructs its firmware.
func applyUpdate(upPath string, opts applyOptions) (*firmware.Image, error) {
	u, err := readUpdate(upPath)
	if err != nil {
		return nil, err
	}
	log.Info("apply", "parse", "success", "Update parsed", "type", u.Type.String(), "target_size", u.TargetSize)

	if err := checkSignatures(u, opts.PublicKeys, opts.MinSignatures); err != nil {
		return nil, err
	}

	var ref *firmware.Image
	if opts.Reference != "" {
		if ref, err = loadReference(opts.Reference); err != nil {
			return nil, err
		}
		log.Debug("apply", "load", "success", "Reference firmware loaded", "firmware", ref.String())
	}

	img, err := u.Reconstruct(ref)
	if err != nil {
		return nil, err
	}
	log.Info("verify", "verify", "success", "Firmware reconstructed and verified", "firmware", img.String())

	switch {
	case opts.Base != "":
		base, err := strconv.ParseUint(opts.Base, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid base address %q", opts.Base)
		}
		addr := uint32(base)
		img.BaseAddress = &addr
	case ref != nil:
		img.BaseAddress = ref.BaseAddress
	}
	return img, nil
}

func checkSignatures(u *update.Update, patterns []string, minSignatures int) error {
	keys, err := trustedKeys(patterns)
	if err != nil {
		return err
	}
	if minSignatures > len(keys) {
		return fmt.Errorf("%d signatures required but only %d trusted keys loaded", minSignatures, len(keys))
	}
	signers := u.TrustedSigners(keys)
	log.Info("verify", "verify", "info", "Signature check", "trusted_keys", len(keys), "valid_signers", len(signers))
	if len(signers) < minSignatures {
		return fmt.Errorf("%w: %d of %d required signatures", update.ErrInvalidSignature, len(signers), minSignatures)
	}
	return nil
}

// trustedKeys loads every key named or matched by patterns. A key reached
// through several paths, or stored in several files, is returned once so that
// each entry stands for a distinct signer.
func trustedKeys(patterns []string) ([]*ecdsa.PublicKey, error) {
	var keys []*ecdsa.PublicKey
	seenPaths := make(map[string]bool)
	seenKeys := make(map[string]bool)
	for _, pattern := range patterns {
		paths := []string{pattern}
		if strings.ContainsAny(pattern, "*?[{") {
			var err error
			if paths, err = doublestar.FilepathGlob(pattern); err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pattern, err)
			}
		}
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			if seenPaths[p] {
				continue
			}
			seenPaths[p] = true
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			pub, err := update.ParsePublicKeyPEM(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			der, err := x509.MarshalPKIXPublicKey(pub)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			if seenKeys[string(der)] {
				log.Warn("keymgmt", "load", "skip", "Duplicate trusted key ignored", "path", p)
				continue
			}
			seenKeys[string(der)] = true
			log.Debug("keymgmt", "load", "success", "Trusted key loaded", "path", p)
			keys = append(keys, pub)
		}
	}
	return keys, nil
}

func loadReference(path string) (*firmware.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".zfw") {
		a, err := zfw.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return a.Firmware, nil
	}
	return fwfile.Load(path, fwfile.Options{})
}

func readUpdate(path string) (*update.Update, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxUpdateFileSize {
		return nil, fmt.Errorf("update size %d exceeds limit of %d bytes", info.Size(), maxUpdateFileSize)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return update.Parse(data, firmware.AutoDetect)
}

func printInfo(w io.Writer, u *update.Update) {
	fmt.Fprintf(w, "  Type: %s\n", u.Type)
	fmt.Fprintf(w, "  Byte Order: %s\n", u.ByteOrder)
	fmt.Fprintf(w, "  Target: %d bytes, crc 0x%08x\n", u.TargetSize, u.TargetChecksum)
	fmt.Fprintf(w, "  Body Size: %d bytes\n", len(u.Body))
	if u.Type == update.TypeDelta {
		if hdr, err := update.ParseDeltaHeader(u.Body, u.ByteOrder); err == nil {
			fmt.Fprintf(w, "  Reference: %d bytes, crc 0x%08x\n", hdr.RefSize, hdr.RefChecksum)
		}
	}
	fmt.Fprintf(w, "  Signature Size: %d bytes\n", len(u.Signatures))
}
