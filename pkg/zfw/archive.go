// Package zfw reads and writes ZFW archives: a zip file holding a raw
// firmware image (firmware.bin) and a JSON metadata object (info.json).
package zfw

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/coreos/go-semver/semver"
	"github.com/klauspost/compress/zip"

	"zfw-tools/go/pkg/firmware"
	"zfw-tools/go/pkg/fwfile"
)

const (
	FirmwareEntry = "firmware.bin"
	InfoEntry     = "info.json"

	// BaseAddrKey is reserved: it carries the image base address and is
	// never part of the user metadata.
	BaseAddrKey = "baseaddr"

	// VersionKey holds the firmware version, a semantic version string.
	VersionKey = "version"

	maxEntrySize = 256 << 20
)

var reserved = []string{BaseAddrKey}

// ErrMissingEntry is returned for archives lacking firmware.bin or info.json.
var ErrMissingEntry = errors.New("missing archive entry")

// Archive is a firmware image plus free form metadata.
type Archive struct {
	Firmware *firmware.Image
	Meta     map[string]any
}

// New returns an archive for img. Reserved keys are dropped from meta.
func New(img *firmware.Image, meta map[string]any) *Archive {
	return &Archive{Firmware: img, Meta: filterReserved(meta)}
}

func filterReserved(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	for _, k := range reserved {
		delete(out, k)
	}
	return out
}

// Version parses the version metadata. It returns nil if none is recorded.
func (a *Archive) Version() (*semver.Version, error) {
	v, ok := a.Meta[VersionKey]
	if !ok {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%s metadata is a %T, not a string", VersionKey, v)
	}
	return semver.NewVersion(s)
}

// SetVersion validates v as a semantic version and records it.
func (a *Archive) SetVersion(v string) error {
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid firmware version: %w", err)
	}
	if a.Meta == nil {
		a.Meta = map[string]any{}
	}
	a.Meta[VersionKey] = ver.String()
	return nil
}

// Write serializes the archive to w.
func (a *Archive) Write(w io.Writer) error {
	info := filterReserved(a.Meta)
	if a.Firmware.BaseAddress != nil {
		info[BaseAddrKey] = *a.Firmware.BaseAddress
	}

	zw := zip.NewWriter(w)
	f, err := zw.Create(FirmwareEntry)
	if err != nil {
		return err
	}
	if err := fwfile.WriteTo(f, a.Firmware, false); err != nil {
		return err
	}
	f, err = zw.Create(InfoEntry)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		return fmt.Errorf("encoding %s: %w", InfoEntry, err)
	}
	return zw.Close()
}

// WriteFile writes the archive to path.
func (a *Archive) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := a.Write(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Read decodes an archive of size bytes from r.
func Read(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}

	raw, err := readEntry(zr, InfoEntry)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var info map[string]any
	if err := dec.Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", InfoEntry, err)
	}
	base, err := baseAddress(info)
	if err != nil {
		return nil, err
	}

	raw, err = readEntry(zr, FirmwareEntry)
	if err != nil {
		return nil, err
	}
	img, err := fwfile.LoadReader(bytes.NewReader(raw), false, fwfile.Options{Base: base})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FirmwareEntry, err)
	}
	return New(img, info), nil
}

// ReadFile reads the archive at path.
func ReadFile(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	a, err := Read(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		if f.UncompressedSize64 > maxEntrySize {
			return nil, fmt.Errorf("%s is %d bytes, more than %d", name, f.UncompressedSize64, maxEntrySize)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, maxEntrySize))
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingEntry, name)
}

func baseAddress(info map[string]any) (*uint32, error) {
	v, ok := info[BaseAddrKey]
	if !ok || v == nil {
		return nil, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil, fmt.Errorf("%s is a %T, not a number", BaseAddrKey, v)
	}
	i, err := n.Int64()
	if err != nil || i < 0 || i > math.MaxUint32 {
		return nil, fmt.Errorf("%s %s is not a 32-bit address", BaseAddrKey, n)
	}
	base := uint32(i)
	return &base, nil
}
