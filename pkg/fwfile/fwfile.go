// Package fwfile reads and writes firmware images as raw binaries or Intel
// HEX files. The format is chosen by file extension.
package fwfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"zfw-tools/go/pkg/firmware"
)

// maxHexSpan bounds the image assembled from a HEX file, whose records may
// address anywhere in a 4 GiB space.
const maxHexSpan = 256 << 20

// Options controls how an image is interpreted on load.
type Options struct {
	// Base is the expected load address. For HEX input it must match the
	// lowest address in the file; for raw input it becomes the image base.
	Base *uint32

	// ByteOrder of the image header, firmware.AutoDetect to infer it.
	ByteOrder firmware.ByteOrder
}

// IsHex reports whether path names an Intel HEX file.
func IsHex(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".hex")
}

// Load reads the firmware image at path.
func Load(path string, opts Options) (*firmware.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := LoadReader(f, IsHex(path), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadReader reads a firmware image from r, parsing it as Intel HEX when
// isHex is set.
func LoadReader(r io.Reader, isHex bool, opts Options) (*firmware.Image, error) {
	var (
		data []byte
		base = opts.Base
		err  error
	)
	if isHex {
		var lo uint32
		if data, lo, err = readHex(r); err != nil {
			return nil, err
		}
		if base != nil && *base != lo {
			return nil, fmt.Errorf("inconsistent base address: expected 0x%08x, file starts at 0x%08x", *base, lo)
		}
		base = &lo
	} else if data, err = io.ReadAll(r); err != nil {
		return nil, err
	}

	img, err := firmware.FromBytes(data, opts.ByteOrder)
	if err != nil {
		return nil, err
	}
	if base != nil {
		addr := *base
		img.BaseAddress = &addr
	}
	return img, nil
}

// readHex flattens all data records into one contiguous block starting at the
// lowest address. Gaps read as erased flash (0xFF).
func readHex(r io.Reader) ([]byte, uint32, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, 0, fmt.Errorf("parsing Intel HEX: %w", err)
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, 0, fmt.Errorf("Intel HEX file contains no data")
	}
	lo, hi := uint64(segs[0].Address), uint64(segs[0].Address)
	for _, s := range segs {
		lo = min(lo, uint64(s.Address))
		hi = max(hi, uint64(s.Address)+uint64(len(s.Data)))
	}
	if hi-lo > maxHexSpan {
		return nil, 0, fmt.Errorf("Intel HEX data spans %d bytes, more than %d", hi-lo, maxHexSpan)
	}
	return mem.ToBinary(uint32(lo), uint32(hi-lo), 0xff), uint32(lo), nil
}

// Write stores img at path, as Intel HEX if the extension asks for it.
func Write(path string, img *firmware.Image) error {
	var buf bytes.Buffer
	if err := WriteTo(&buf, img, IsHex(path)); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// WriteTo writes img to w. HEX output starts at the image base address, or 0
// if it has none.
func WriteTo(w io.Writer, img *firmware.Image, asHex bool) error {
	if !asHex {
		_, err := w.Write(img.Bytes())
		return err
	}
	var base uint32
	if img.BaseAddress != nil {
		base = *img.BaseAddress
	}
	mem := gohex.NewMemory()
	if err := mem.AddBinary(base, img.Bytes()); err != nil {
		return fmt.Errorf("building Intel HEX: %w", err)
	}
	return mem.DumpIntelHex(w, 16)
}
