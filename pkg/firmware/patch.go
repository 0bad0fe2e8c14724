package firmware

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PatchSpec is a post-build field patch such as a hardware revision or a
// region code, written as "offset:value" on the command line.
type PatchSpec struct {
	Offset int
	Value  uint32
	Width  int
}

// ParsePatchSpec parses "offset:value". Both numbers accept Go integer
// prefixes (0x, 0o, 0b). With signed set the value must fit an int32,
// otherwise a uint32.
func ParsePatchSpec(spec string, signed bool) (PatchSpec, error) {
	offStr, valStr, ok := strings.Cut(spec, ":")
	if !ok {
		return PatchSpec{}, fmt.Errorf("patch %q: expected offset:value", spec)
	}
	off, err := strconv.ParseInt(offStr, 0, 64)
	if err != nil || off < 0 || off > math.MaxInt32 {
		return PatchSpec{}, fmt.Errorf("patch %q: invalid offset", spec)
	}
	var val uint32
	if signed {
		v, err := strconv.ParseInt(valStr, 0, 32)
		if err != nil {
			return PatchSpec{}, fmt.Errorf("patch %q: invalid int32 value: %w", spec, err)
		}
		val = uint32(int32(v))
	} else {
		v, err := strconv.ParseUint(valStr, 0, 32)
		if err != nil {
			return PatchSpec{}, fmt.Errorf("patch %q: invalid uint32 value: %w", spec, err)
		}
		val = uint32(v)
	}
	return PatchSpec{Offset: int(off), Value: val, Width: 4}, nil
}

// ApplyPatches applies specs in order.
func (img *Image) ApplyPatches(specs []PatchSpec) error {
	for _, ps := range specs {
		if err := img.PatchField(ps.Offset, ps.Value, ps.Width); err != nil {
			return fmt.Errorf("patch at 0x%x: %w", ps.Offset, err)
		}
	}
	return nil
}
