// Package update encodes, decodes and reconstructs firmware update packages.
//
// An update package starts with a 24 byte header followed by a type specific
// body and zero or more appended signature records:
//
//	 0  u32  header checksum, CRC-32 over [8:headerSize)
//	 4  u32  header size, 24 + len(body)
//	 8  u32  checksum of the reconstructed firmware
//	12  u32  size of the reconstructed firmware
//	16  [6]  hardware id (EUI-48), reserved, 0
//	22  u8   update type
//	23  u8   reserved, 0
//	24  ...  body
//	hs  ...  signatures
//
// All multi-byte fields use the byte order of the firmware the update was
// built from.
package update

import (
	"bytes"
	"fmt"

	"zfw-tools/go/pkg/firmware"
)

const (
	// HeaderLen is the size of the fixed update header.
	HeaderLen = 24

	// MaxImageSize bounds the buffers allocated while decoding untrusted
	// packages.
	MaxImageSize = 256 << 20
)

// Type is the encoding used for the update body.
type Type uint8

const (
	TypePlain      Type = 0
	TypeCompressed Type = 1
	TypeDelta      Type = 2
)

func (t Type) String() string {
	switch t {
	case TypePlain:
		return "plain"
	case TypeCompressed:
		return "lz4"
	case TypeDelta:
		return "lz4-delta"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Known reports whether t is one of the defined update types.
func (t Type) Known() bool {
	return t <= TypeDelta
}

// Update is a decoded update package.
type Update struct {
	TargetChecksum uint32
	TargetSize     uint32
	HardwareID     uint64
	Type           Type
	Body           []byte

	// Signatures holds everything past the checksummed header region,
	// normally a sequence of fixed size signature records.
	Signatures []byte

	ByteOrder firmware.ByteOrder
}

// UnsignedBytes serializes the header and body without signatures. This is
// the message every signature covers.
func (u *Update) UnsignedBytes() []byte {
	bo := u.ByteOrder.Binary()
	hsize := HeaderLen + len(u.Body)
	b := make([]byte, hsize)
	bo.PutUint32(b[4:], uint32(hsize))
	bo.PutUint32(b[8:], u.TargetChecksum)
	bo.PutUint32(b[12:], u.TargetSize)
	putHardwareID(b[16:22], u.HardwareID, u.ByteOrder)
	b[22] = byte(u.Type)
	copy(b[HeaderLen:], u.Body)
	bo.PutUint32(b[0:], firmware.Checksum(b[firmware.HeaderSize:]))
	return b
}

// Bytes serializes the complete package including signatures.
func (u *Update) Bytes() []byte {
	return append(u.UnsignedBytes(), u.Signatures...)
}

// Parse decodes an update package. Pass firmware.AutoDetect to infer the byte
// order from the header. Bytes past the declared header size are kept as
// signatures and are not covered by the header checksum.
func Parse(b []byte, order firmware.ByteOrder) (*Update, error) {
	if len(b) < HeaderLen || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: update of %d bytes", firmware.ErrInvalidLength, len(b))
	}
	if order == firmware.AutoDetect {
		var err error
		if order, err = inferByteOrder(b); err != nil {
			return nil, fmt.Errorf("update header: %w", err)
		}
	}
	bo := order.Binary()
	hcrc := bo.Uint32(b[0:])
	hsize := bo.Uint32(b[4:])
	if uint64(hsize) > uint64(len(b)) || hsize < HeaderLen || hsize%4 != 0 {
		return nil, &firmware.MismatchError{Kind: ErrHeaderSizeMismatch, Field: "header size", Declared: hsize, Actual: uint32(len(b))}
	}
	if crc := firmware.Checksum(b[firmware.HeaderSize:hsize]); crc != hcrc {
		return nil, &firmware.MismatchError{Kind: ErrChecksumMismatch, Field: "header checksum", Declared: hcrc, Actual: crc}
	}
	var sigs []byte
	if int(hsize) < len(b) {
		sigs = bytes.Clone(b[hsize:])
	}
	return &Update{
		TargetChecksum: bo.Uint32(b[8:]),
		TargetSize:     bo.Uint32(b[12:]),
		HardwareID:     hardwareID(b[16:22], order),
		Type:           Type(b[22]),
		Body:           bytes.Clone(b[HeaderLen:hsize]),
		Signatures:     sigs,
		ByteOrder:      order,
	}, nil
}

// inferByteOrder picks the byte order whose header checksums the declared
// prefix. If the checksum fails in both orders but exactly one order yields a
// plausible header size, that order is used so that Parse reports the
// checksum failure instead of an undecidable byte order.
func inferByteOrder(b []byte) (firmware.ByteOrder, error) {
	order, err := firmware.InferByteOrder(b, firmware.PrefixHeaderCheck)
	if err == nil {
		return order, nil
	}
	plausible := func(b []byte, _, size uint32) bool {
		return size >= HeaderLen && size%4 == 0 && uint64(size) <= uint64(len(b))
	}
	if order, serr := firmware.InferByteOrder(b, plausible); serr == nil {
		return order, nil
	}
	return firmware.AutoDetect, err
}

func putHardwareID(b []byte, id uint64, order firmware.ByteOrder) {
	for i := range b {
		shift := 8 * i
		if order == firmware.BigEndian {
			shift = 8 * (len(b) - 1 - i)
		}
		b[i] = byte(id >> shift)
	}
}

func hardwareID(b []byte, order firmware.ByteOrder) uint64 {
	var id uint64
	for i := range b {
		shift := 8 * i
		if order == firmware.BigEndian {
			shift = 8 * (len(b) - 1 - i)
		}
		id |= uint64(b[i]) << shift
	}
	return id
}
