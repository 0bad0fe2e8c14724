package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"zfw-tools/go/pkg/update"
)

var upinfoPublicKeys []string

var upinfoCmd = &cobra.Command{
	Use:   "upinfo UPFILE",
	Short: "Prints the header, body layout and signatures of an update file.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		u, err := readUpdateFile(args[0])
		if err != nil {
			log.Error("update", "parse", "error", "Failed to read update", "error", err)
			os.Exit(1)
		}
		keys, err := loadPublicKeys(upinfoPublicKeys)
		if err != nil {
			log.Error("keymgmt", "load", "error", "Failed to load public keys", "error", err)
			os.Exit(1)
		}
		if err := describeUpdate(os.Stdout, u, keys); err != nil {
			log.Error("update", "info", "error", "Malformed update body", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(upinfoCmd)
	upinfoCmd.Flags().StringArrayVar(&upinfoPublicKeys, "public-key", nil, "Public key (or ** pattern) to check the signatures against.")
}

func describeUpdate(w io.Writer, u *update.Update, keys []namedKey) error {
	fmt.Fprintf(w, "    Type: %s\n", u.Type)
	fmt.Fprintf(w, "   Order: %s\n", u.ByteOrder)
	fmt.Fprintf(w, "  Target: crc 0x%08x, %d bytes\n", u.TargetChecksum, u.TargetSize)
	fmt.Fprintf(w, "    HWID: %012x\n", u.HardwareID)
	fmt.Fprintf(w, "    Body: %d bytes\n", len(u.Body))

	if u.Type == update.TypeDelta {
		hdr, err := update.ParseDeltaHeader(u.Body, u.ByteOrder)
		if err != nil {
			return err
		}
		recs, err := update.BlockRecords(u.Body, u.ByteOrder)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "   Delta: ref crc 0x%08x, ref size %d, block size %d, %d blocks\n",
			hdr.RefChecksum, hdr.RefSize, hdr.BlockSize, len(recs))
		for _, r := range recs {
			fmt.Fprintf(w, "          block %3d: %x dict %d+%d, %d bytes\n",
				r.Index, r.Hash, r.DictIndex, r.DictLength, r.CompressedLength)
		}
	}

	fmt.Fprintf(w, "    Sigs: %d bytes\n", len(u.Signatures))
	for _, k := range keys {
		fmt.Fprintf(w, "          %s: %s\n", k.Path, signatureStatus(u.VerifySignature(k.Key)))
	}
	return nil
}

func signatureStatus(err error) string {
	if err != nil {
		return "not signed"
	}
	return "signed"
}
