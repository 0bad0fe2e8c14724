package firmware

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

// SizeUnknown is written to the size field of images whose header has not
// been patched yet.
const SizeUnknown uint32 = 0xff1234ff

// HeaderSize is the length of the checksum/size header that starts every
// image and every update package.
const HeaderSize = 8

// Checksum computes the CRC-32 (IEEE, as used by zlib) of b.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// ByteOrder selects how 32-bit header fields are laid out.
type ByteOrder int

const (
	// AutoDetect asks the decoder to infer the byte order from the header.
	AutoDetect ByteOrder = iota
	LittleEndian
	BigEndian
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "le"
	case BigEndian:
		return "be"
	default:
		return "auto"
	}
}

// ParseByteOrder accepts "le", "be", "auto" and the long forms "little" and
// "big", case insensitively.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return AutoDetect, nil
	case "le", "little":
		return LittleEndian, nil
	case "be", "big":
		return BigEndian, nil
	default:
		return AutoDetect, fmt.Errorf("unknown byte order %q", s)
	}
}

// Binary returns the encoding/binary implementation for o. AutoDetect has no
// layout of its own and maps to little endian.
func (o ByteOrder) Binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Opposite returns the other concrete byte order.
func (o ByteOrder) Opposite() ByteOrder {
	if o == BigEndian {
		return LittleEndian
	}
	return BigEndian
}

// HeaderCheck decides whether a candidate (checksum, size) pair read from the
// first 8 bytes of b is self-consistent.
type HeaderCheck func(b []byte, checksum, size uint32) bool

// ImageHeaderCheck accepts a header whose size equals len(b) and whose
// checksum matches b[8:], or whose size is the SizeUnknown sentinel.
func ImageHeaderCheck(b []byte, checksum, size uint32) bool {
	if size == SizeUnknown {
		return true
	}
	return size == uint32(len(b)) && checksum == Checksum(b[HeaderSize:])
}

// PrefixHeaderCheck accepts a header whose size covers a prefix of b and whose
// checksum matches b[8:size]. Update packages use it because signatures may
// follow the checksummed region.
func PrefixHeaderCheck(b []byte, checksum, size uint32) bool {
	if size < HeaderSize || uint64(size) > uint64(len(b)) {
		return false
	}
	return checksum == Checksum(b[HeaderSize:size])
}

// InferByteOrder reads the first 8 bytes of b in both byte orders and returns
// the one that check accepts.
func InferByteOrder(b []byte, check HeaderCheck) (ByteOrder, error) {
	if len(b) < HeaderSize {
		return AutoDetect, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidLength, len(b))
	}
	le := check(b, binary.LittleEndian.Uint32(b[0:]), binary.LittleEndian.Uint32(b[4:]))
	be := check(b, binary.BigEndian.Uint32(b[0:]), binary.BigEndian.Uint32(b[4:]))
	switch {
	case le && !be:
		return LittleEndian, nil
	case be && !le:
		return BigEndian, nil
	case le && be:
		return AutoDetect, fmt.Errorf("%w: header is valid in both byte orders", ErrAmbiguousEncoding)
	default:
		return AutoDetect, ErrAmbiguousEncoding
	}
}
