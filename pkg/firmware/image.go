package firmware

import (
	"bytes"
	"fmt"
)

// Image is a firmware binary starting with a checksum/size header:
//
//	offset 0: CRC-32 of bytes [8:len)
//	offset 4: total length in bytes (or SizeUnknown)
//	offset 8: payload
//
// Both fields use the image's byte order.
type Image struct {
	data     []byte
	order    ByteOrder
	checksum uint32

	// BaseAddress is the load address, known only for images that came from
	// an address-tagged format (Intel HEX) or an archive that recorded it.
	BaseAddress *uint32
}

// FromBytes wraps a copy of b. Pass AutoDetect to infer the byte order from
// the header.
func FromBytes(b []byte, order ByteOrder) (*Image, error) {
	if len(b) < HeaderSize || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: firmware of %d bytes", ErrInvalidLength, len(b))
	}
	if order == AutoDetect {
		var err error
		if order, err = InferByteOrder(b, ImageHeaderCheck); err != nil {
			return nil, fmt.Errorf("firmware header: %w", err)
		}
	}
	data := bytes.Clone(b)
	return &Image{data: data, order: order, checksum: Checksum(data[HeaderSize:])}, nil
}

// Bytes returns the image contents. The slice must not be modified.
func (img *Image) Bytes() []byte { return img.data }

// ByteOrder returns the byte order of the image header.
func (img *Image) ByteOrder() ByteOrder { return img.order }

// Checksum returns the CRC-32 of the payload.
func (img *Image) Checksum() uint32 { return img.checksum }

// Size returns the length of the image in bytes.
func (img *Image) Size() uint32 { return uint32(len(img.data)) }

// DeclaredChecksum returns the checksum stored in the header.
func (img *Image) DeclaredChecksum() uint32 { return img.order.Binary().Uint32(img.data[0:]) }

// DeclaredSize returns the size stored in the header.
func (img *Image) DeclaredSize() uint32 { return img.order.Binary().Uint32(img.data[4:]) }

// ChecksumValid reports whether the declared checksum matches the payload.
func (img *Image) ChecksumValid() bool { return img.DeclaredChecksum() == img.checksum }

// SizeValid reports whether the declared size matches the image length.
func (img *Image) SizeValid() bool { return img.DeclaredSize() == img.Size() }

// Verify returns an error wrapping ErrIntegrityMismatch unless both header
// fields match the image contents.
func (img *Image) Verify() error {
	if !img.ChecksumValid() {
		return &MismatchError{Kind: ErrIntegrityMismatch, Field: "checksum", Declared: img.DeclaredChecksum(), Actual: img.checksum}
	}
	if !img.SizeValid() {
		return &MismatchError{Kind: ErrIntegrityMismatch, Field: "size", Declared: img.DeclaredSize(), Actual: img.Size()}
	}
	return nil
}

// PatchHeader writes the actual checksum and/or size into the header.
func (img *Image) PatchHeader(checksum, size bool) {
	if checksum {
		img.order.Binary().PutUint32(img.data[0:], img.checksum)
	}
	if size {
		img.order.Binary().PutUint32(img.data[4:], img.Size())
	}
}

// PatchField overwrites a width-byte field at offset with value in the image's
// byte order and recomputes the payload checksum. The header is left alone;
// call PatchHeader afterwards.
func (img *Image) PatchField(offset int, value uint32, width int) error {
	if offset < 0 || offset+width > len(img.data) {
		return fmt.Errorf("%w: field of %d bytes at offset %d outside %d byte image", ErrInvalidLength, width, offset, len(img.data))
	}
	bo := img.order.Binary()
	switch width {
	case 1:
		img.data[offset] = byte(value)
	case 2:
		bo.PutUint16(img.data[offset:], uint16(value))
	case 4:
		bo.PutUint32(img.data[offset:], value)
	default:
		return fmt.Errorf("unsupported field width %d", width)
	}
	img.checksum = Checksum(img.data[HeaderSize:])
	return nil
}

// Equal reports whether both images have identical contents.
func (img *Image) Equal(other *Image) bool {
	return other != nil && bytes.Equal(img.data, other.data)
}

func (img *Image) String() string {
	base := ""
	if img.BaseAddress != nil {
		base = fmt.Sprintf(",base=0x%08x", *img.BaseAddress)
	}
	return fmt.Sprintf("Firmware<%s,crc=0x%08x,size=%d%s>", img.order, img.checksum, len(img.data), base)
}
