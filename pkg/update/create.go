package update

import (
	"bytes"
	"fmt"

	"zfw-tools/go/pkg/firmware"
)

// CreatePlain wraps img verbatim.
func CreatePlain(img *firmware.Image) (*Update, error) {
	if err := img.Verify(); err != nil {
		return nil, err
	}
	u := newUpdate(img, TypePlain, bytes.Clone(img.Bytes()))
	if err := u.VerifyAgainst(img, nil); err != nil {
		return nil, fmt.Errorf("self-check of plain update: %w", err)
	}
	return u, nil
}

// CreateCompressed wraps img as a single LZ4 block. The block is padded to a
// word boundary with 1 to 4 bytes, each holding the pad length.
func CreateCompressed(img *firmware.Image) (*Update, error) {
	if err := img.Verify(); err != nil {
		return nil, err
	}
	enc, err := compressBlock(img.Bytes())
	if err != nil {
		return nil, fmt.Errorf("compressing firmware: %w", err)
	}
	pad := 4 - len(enc)%4
	enc = append(enc, bytes.Repeat([]byte{byte(pad)}, pad)...)

	u := newUpdate(img, TypeCompressed, enc)
	if err := u.VerifyAgainst(img, nil); err != nil {
		return nil, fmt.Errorf("self-check of compressed update: %w", err)
	}
	return u, nil
}

// CreateDelta encodes img as a set of LZ4 blocks that reconstruct it from
// ref. blockSize must be a positive multiple of 4 no larger than
// MaxBlockSize, and img may span at most 256 blocks.
func CreateDelta(img, ref *firmware.Image, blockSize int) (*Update, error) {
	if err := img.Verify(); err != nil {
		return nil, err
	}
	if err := ref.Verify(); err != nil {
		return nil, fmt.Errorf("reference firmware: %w", err)
	}
	body, err := encodeDelta(img.Bytes(), ref, blockSize, img.ByteOrder())
	if err != nil {
		return nil, err
	}
	u := newUpdate(img, TypeDelta, body)
	if err := u.VerifyAgainst(img, ref); err != nil {
		return nil, fmt.Errorf("self-check of delta update: %w", err)
	}
	return u, nil
}

func newUpdate(img *firmware.Image, typ Type, body []byte) *Update {
	return &Update{
		TargetChecksum: img.Checksum(),
		TargetSize:     img.Size(),
		Type:           typ,
		Body:           body,
		ByteOrder:      img.ByteOrder(),
	}
}

// VerifyAgainst reconstructs the update (against ref for delta updates) and
// checks that the result is byte for byte identical to img.
func (u *Update) VerifyAgainst(img, ref *firmware.Image) error {
	if err := img.Verify(); err != nil {
		return err
	}
	if err := u.checkTarget(img); err != nil {
		return err
	}
	got, err := u.Reconstruct(ref)
	if err != nil {
		return err
	}
	if !got.Equal(img) {
		return fmt.Errorf("%w: reconstructed content differs", ErrFirmwareMismatch)
	}
	return nil
}

func (u *Update) checkTarget(img *firmware.Image) error {
	if img.Checksum() != u.TargetChecksum {
		return &firmware.MismatchError{Kind: ErrFirmwareMismatch, Field: "firmware checksum", Declared: u.TargetChecksum, Actual: img.Checksum()}
	}
	if img.Size() != u.TargetSize {
		return &firmware.MismatchError{Kind: ErrFirmwareMismatch, Field: "firmware size", Declared: u.TargetSize, Actual: img.Size()}
	}
	return nil
}
