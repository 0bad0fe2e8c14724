package update

import (
	"fmt"

	"zfw-tools/go/pkg/firmware"
)

// Reconstruct rebuilds the firmware image described by u. ref is required
// for delta updates and ignored otherwise. The result is verified against its
// own header and against the target checksum and size recorded in u.
func (u *Update) Reconstruct(ref *firmware.Image) (*firmware.Image, error) {
	var (
		raw []byte
		err error
	)
	switch u.Type {
	case TypePlain:
		raw = u.Body
	case TypeCompressed:
		raw, err = u.unpackCompressed()
	case TypeDelta:
		raw, err = decodeDelta(u.Body, ref, u.TargetSize, u.ByteOrder)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedType, uint8(u.Type))
	}
	if err != nil {
		return nil, err
	}

	img, err := firmware.FromBytes(raw, u.ByteOrder)
	if err != nil {
		return nil, fmt.Errorf("reconstructed firmware: %w", err)
	}
	if err := img.Verify(); err != nil {
		return nil, fmt.Errorf("reconstructed firmware: %w", err)
	}
	if err := u.checkTarget(img); err != nil {
		return nil, err
	}
	return img, nil
}

func (u *Update) unpackCompressed() ([]byte, error) {
	if len(u.Body) == 0 {
		return nil, fmt.Errorf("%w: empty compressed body", ErrMalformedBody)
	}
	if u.TargetSize > MaxImageSize {
		return nil, fmt.Errorf("%w: target size %d exceeds %d", ErrMalformedBody, u.TargetSize, MaxImageSize)
	}
	pad := int(u.Body[len(u.Body)-1])
	if pad < 1 || pad > 4 || pad > len(u.Body) {
		return nil, fmt.Errorf("%w: invalid pad length %d", ErrMalformedBody, pad)
	}
	plain, err := decompressBlock(u.Body[:len(u.Body)-pad], 2*int(u.TargetSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if uint32(len(plain)) != u.TargetSize {
		return nil, &firmware.MismatchError{Kind: ErrFirmwareMismatch, Field: "firmware size", Declared: u.TargetSize, Actual: uint32(len(plain))}
	}
	return plain, nil
}
