package update

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"zfw-tools/go/pkg/firmware"
)

const (
	// MaxBlockSize is the largest delta block size. Larger blocks would not
	// leave room for a useful dictionary in the 64 KiB LZ4 window and could
	// overflow the 16 bit compressed length field.
	MaxBlockSize = 32 * 1024

	// DefaultBlockSize is the block size used by the command line tools.
	DefaultBlockSize = 4096

	maxBlocks      = 256
	deltaHeaderLen = 12
	blockRecordLen = 14
	blockHashLen   = 8
	windowSize     = 64 * 1024
)

// Delta body layout:
//
//	u32 reference checksum
//	u32 reference size
//	u32 block size
//	records, each padded to a word boundary:
//	  [8] truncated SHA-256 of the block
//	  u8  block index
//	  u8  dictionary start, in blocks
//	  u16 dictionary length
//	  u16 compressed length
//	  ... compressed data
//
// Records are replayed in the order written. The encoder relies on this: a
// block compressed against a window that includes already emitted blocks can
// only be decoded after those blocks.

// BlockRecord describes one block of a delta update.
type BlockRecord struct {
	Hash             [blockHashLen]byte
	Index            int
	DictIndex        int
	DictLength       int
	CompressedLength int
}

// DeltaHeader is the fixed prefix of a delta body.
type DeltaHeader struct {
	RefChecksum uint32
	RefSize     uint32
	BlockSize   uint32
}

func checkBlockSize(blockSize, targetLen int) error {
	if blockSize <= 0 || blockSize%4 != 0 || blockSize > MaxBlockSize {
		return fmt.Errorf("%w: %d (must be a positive multiple of 4 up to %d)", ErrInvalidBlockSize, blockSize, MaxBlockSize)
	}
	if n := (targetLen + blockSize - 1) / blockSize; n > maxBlocks {
		return fmt.Errorf("%w: %d bytes need %d blocks of %d bytes, at most %d allowed", ErrInvalidBlockSize, targetLen, n, blockSize, maxBlocks)
	}
	return nil
}

// newWorkBuffer returns the reconstruction buffer: the reference extended with
// zeros to cover the target.
func newWorkBuffer(ref []byte, targetLen int) []byte {
	buf := make([]byte, max(targetLen, len(ref)))
	copy(buf, ref)
	return buf
}

// dictWindow picks the dictionary for block blk: as much of the reference as
// fits next to the block in the LZ4 window, centred on the block and clamped
// to the reference bounds. The start is returned in blocks.
func dictWindow(blk, blockSize, refLen int) (start, length int) {
	length = min(refLen, windowSize-blockSize)
	span := (length + blockSize - 1) / blockSize
	last := (refLen - length + blockSize - 1) / blockSize
	start = max(0, min(blk-(span-1)/2, last))
	length = min(refLen-start*blockSize, length)
	return start, length
}

// blockOrder lists block indices in emission order. A growing image is
// walked from the end so that reference content which moves up is still in
// the buffer when the blocks above it are encoded; a shrinking image is
// walked from the start for the same reason.
func blockOrder(nblocks int, shrinking bool) []int {
	order := make([]int, nblocks)
	for i := range order {
		if shrinking {
			order[i] = i
		} else {
			order[i] = nblocks - 1 - i
		}
	}
	return order
}

func encodeDelta(target []byte, ref *firmware.Image, blockSize int, order firmware.ByteOrder) ([]byte, error) {
	if err := checkBlockSize(blockSize, len(target)); err != nil {
		return nil, err
	}
	bo := order.Binary()
	refBytes := ref.Bytes()
	nblocks := (len(target) + blockSize - 1) / blockSize
	state := newWorkBuffer(refBytes, len(target))

	body := make([]byte, deltaHeaderLen)
	bo.PutUint32(body[0:], ref.Checksum())
	bo.PutUint32(body[4:], ref.Size())
	bo.PutUint32(body[8:], uint32(blockSize))

	for _, blk := range blockOrder(nblocks, len(target) < len(refBytes)) {
		off := blk * blockSize
		end := min(off+blockSize, len(target))
		data := target[off:end]
		if bytes.Equal(data, state[off:end]) {
			continue
		}

		dictIdx, dictLen := dictWindow(blk, blockSize, len(refBytes))
		dictOff := dictIdx * blockSize
		enc := compressWithDict(data, state[dictOff:dictOff+dictLen])
		if len(enc) > 0xffff {
			return nil, fmt.Errorf("%w: block %d compresses to %d bytes", ErrInvalidBlockSize, blk, len(enc))
		}

		sum := sha256.Sum256(data)
		var rec [blockRecordLen]byte
		copy(rec[:blockHashLen], sum[:blockHashLen])
		rec[8] = byte(blk)
		rec[9] = byte(dictIdx)
		bo.PutUint16(rec[10:], uint16(dictLen))
		bo.PutUint16(rec[12:], uint16(len(enc)))
		body = append(body, rec[:]...)
		body = append(body, enc...)
		body = append(body, make([]byte, (4-len(body)%4)%4)...)

		copy(state[off:end], data)
	}
	return body, nil
}

// ParseDeltaHeader decodes the delta prefix of a delta update body.
func ParseDeltaHeader(body []byte, order firmware.ByteOrder) (DeltaHeader, error) {
	if len(body) < deltaHeaderLen {
		return DeltaHeader{}, fmt.Errorf("%w: delta body of %d bytes", ErrMalformedBody, len(body))
	}
	bo := order.Binary()
	return DeltaHeader{
		RefChecksum: bo.Uint32(body[0:]),
		RefSize:     bo.Uint32(body[4:]),
		BlockSize:   bo.Uint32(body[8:]),
	}, nil
}

// BlockRecords walks the records of a delta body without decompressing them.
func BlockRecords(body []byte, order firmware.ByteOrder) ([]BlockRecord, error) {
	var recs []BlockRecord
	err := walkRecords(body, order.Binary(), func(rec BlockRecord, _ []byte) error {
		recs = append(recs, rec)
		return nil
	})
	return recs, err
}

func walkRecords(body []byte, bo binary.ByteOrder, fn func(BlockRecord, []byte) error) error {
	if len(body) < deltaHeaderLen {
		return fmt.Errorf("%w: delta body of %d bytes", ErrMalformedBody, len(body))
	}
	rest := body[deltaHeaderLen:]
	for len(rest) > 0 {
		if len(rest) < blockRecordLen {
			return fmt.Errorf("%w: truncated block record", ErrMalformedBody)
		}
		var rec BlockRecord
		copy(rec.Hash[:], rest[:blockHashLen])
		rec.Index = int(rest[8])
		rec.DictIndex = int(rest[9])
		rec.DictLength = int(bo.Uint16(rest[10:]))
		rec.CompressedLength = int(bo.Uint16(rest[12:]))
		if blockRecordLen+rec.CompressedLength > len(rest) {
			return fmt.Errorf("%w: block %d data exceeds body", ErrMalformedBody, rec.Index)
		}
		if err := fn(rec, rest[blockRecordLen:blockRecordLen+rec.CompressedLength]); err != nil {
			return err
		}
		next := (blockRecordLen + rec.CompressedLength + 3) &^ 3
		rest = rest[min(next, len(rest)):]
	}
	return nil
}

func decodeDelta(body []byte, ref *firmware.Image, targetSize uint32, order firmware.ByteOrder) ([]byte, error) {
	if ref == nil {
		return nil, fmt.Errorf("%w: delta update needs a reference firmware", ErrReferenceMismatch)
	}
	if err := ref.Verify(); err != nil {
		return nil, fmt.Errorf("reference firmware: %w", err)
	}
	hdr, err := ParseDeltaHeader(body, order)
	if err != nil {
		return nil, err
	}
	if hdr.RefChecksum != ref.Checksum() {
		return nil, &firmware.MismatchError{Kind: ErrReferenceMismatch, Field: "reference checksum", Declared: hdr.RefChecksum, Actual: ref.Checksum()}
	}
	if hdr.RefSize != ref.Size() {
		return nil, &firmware.MismatchError{Kind: ErrReferenceMismatch, Field: "reference size", Declared: hdr.RefSize, Actual: ref.Size()}
	}
	blockSize := int(hdr.BlockSize)
	if blockSize <= 0 || blockSize > MaxBlockSize {
		return nil, fmt.Errorf("%w: block size %d", ErrMalformedBody, hdr.BlockSize)
	}
	if uint64(targetSize) > uint64(maxBlocks*blockSize) {
		return nil, fmt.Errorf("%w: target of %d bytes exceeds %d blocks", ErrMalformedBody, targetSize, maxBlocks)
	}

	state := newWorkBuffer(ref.Bytes(), int(targetSize))
	out := make([]byte, blockSize)
	err = walkRecords(body, order.Binary(), func(rec BlockRecord, enc []byte) error {
		dictOff := rec.DictIndex * blockSize
		if dictOff+rec.DictLength > len(state) {
			return fmt.Errorf("%w: block %d dictionary outside buffer", ErrMalformedBody, rec.Index)
		}
		n, err := decompressWithDict(enc, out, state[dictOff:dictOff+rec.DictLength])
		if err != nil {
			return fmt.Errorf("%w: block %d: %v", ErrMalformedBody, rec.Index, err)
		}
		sum := sha256.Sum256(out[:n])
		if !bytes.Equal(sum[:blockHashLen], rec.Hash[:]) {
			return fmt.Errorf("%w: block %d", ErrBlockHashMismatch, rec.Index)
		}
		off := rec.Index * blockSize
		if off+n > len(state) {
			return fmt.Errorf("%w: block %d outside buffer", ErrMalformedBody, rec.Index)
		}
		copy(state[off:], out[:n])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state[:targetSize], nil
}
