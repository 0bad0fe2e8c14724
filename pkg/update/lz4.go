package update

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
)

// LZ4 block format limits.
const (
	lz4MinMatch     = 4
	lz4LastLiterals = 5  // the last 5 bytes of a block are always literals
	lz4MFLimit      = 12 // the last match starts at least 12 bytes before the end
	lz4MaxOffset    = 65535

	lz4HashLog     = 16
	lz4MaxAttempts = 256
)

// compressBlock encodes src as one raw LZ4 block at the highest compression
// level, without a size prefix.
func compressBlock(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlockHC(src, dst, lz4.Level9, nil, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// pierrec gives up on incompressible input; fall back to our encoder
		return compressWithDict(src, nil), nil
	}
	return dst[:n], nil
}

// decompressBlock decodes a raw LZ4 block whose output is at most maxSize
// bytes.
func decompressBlock(src []byte, maxSize int) ([]byte, error) {
	dst := make([]byte, maxSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// decompressWithDict decodes a raw LZ4 block into dst. Matches may reach back
// into dict, which is treated as the data immediately preceding dst.
func decompressWithDict(src, dst, dict []byte) (int, error) {
	return lz4.UncompressBlockWithDict(src, dst, dict)
}

// compressWithDict encodes src as one raw LZ4 block whose matches may refer
// back into dict, as if dict immediately preceded src. The output decodes
// with any LZ4 block decoder given the same dictionary.
//
// pierrec/lz4 only decodes with a dictionary, so the encoder side is a small
// hash chain match finder emitting standard LZ4 sequences.
func compressWithDict(src, dict []byte) []byte {
	if len(dict) > lz4MaxOffset {
		dict = dict[len(dict)-lz4MaxOffset:]
	}
	buf := make([]byte, 0, len(dict)+len(src))
	buf = append(append(buf, dict...), src...)
	start, end := len(dict), len(buf)
	dst := make([]byte, 0, lz4.CompressBlockBound(len(src)))

	mf := newMatchFinder(end)
	for p := 0; p < start && p+lz4MinMatch <= end; p++ {
		mf.insert(buf, p)
	}

	matchLimit := end - lz4LastLiterals
	anchor, i := start, start
	for i+lz4MFLimit <= end {
		ref, length := mf.find(buf, i, matchLimit)
		if length < lz4MinMatch {
			mf.insert(buf, i)
			i++
			continue
		}
		dst = appendSequence(dst, buf[anchor:i], i-ref, length)
		for j := i; j < i+length && j+lz4MinMatch <= end; j++ {
			mf.insert(buf, j)
		}
		i += length
		anchor = i
	}
	return appendLastLiterals(dst, buf[anchor:end])
}

type matchFinder struct {
	head  []int32
	chain []int32
}

func newMatchFinder(n int) *matchFinder {
	mf := &matchFinder{head: make([]int32, 1<<lz4HashLog), chain: make([]int32, n)}
	for i := range mf.head {
		mf.head[i] = -1
	}
	return mf
}

func hash4(b []byte, p int) uint32 {
	return (binary.LittleEndian.Uint32(b[p:]) * 2654435761) >> (32 - lz4HashLog)
}

func (mf *matchFinder) insert(b []byte, p int) {
	h := hash4(b, p)
	mf.chain[p] = mf.head[h]
	mf.head[h] = int32(p)
}

// find returns the longest earlier match for position p that ends before
// limit. Chains are ordered newest first, so the walk stops at the first
// candidate outside the LZ4 window.
func (mf *matchFinder) find(b []byte, p, limit int) (ref, length int) {
	c := mf.head[hash4(b, p)]
	for n := 0; c >= 0 && n < lz4MaxAttempts; n++ {
		if p-int(c) > lz4MaxOffset {
			break
		}
		if l := matchLength(b, int(c), p, limit); l > length {
			ref, length = int(c), l
		}
		c = mf.chain[c]
	}
	return ref, length
}

func matchLength(b []byte, a, p, limit int) int {
	n := 0
	for p+n < limit && b[a+n] == b[p+n] {
		n++
	}
	return n
}

func appendSequence(dst, lit []byte, offset, matchLen int) []byte {
	ml := matchLen - lz4MinMatch
	token := byte(min(ml, 15))
	token |= byte(min(len(lit), 15)) << 4
	dst = append(dst, token)
	if len(lit) >= 15 {
		dst = appendLength(dst, len(lit)-15)
	}
	dst = append(dst, lit...)
	dst = append(dst, byte(offset), byte(offset>>8))
	if ml >= 15 {
		dst = appendLength(dst, ml-15)
	}
	return dst
}

func appendLastLiterals(dst, lit []byte) []byte {
	dst = append(dst, byte(min(len(lit), 15))<<4)
	if len(lit) >= 15 {
		dst = appendLength(dst, len(lit)-15)
	}
	return append(dst, lit...)
}

func appendLength(dst []byte, n int) []byte {
	for ; n >= 255; n -= 255 {
		dst = append(dst, 255)
	}
	return append(dst, byte(n))
}
