package firmware

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadBeef is the 16-byte image [crc][size][0xDEAD][0xBEEF].
func deadBeef(t *testing.T, order ByteOrder) *Image {
	t.Helper()
	b := make([]byte, 16)
	order.Binary().PutUint32(b[8:], 0xdead)
	order.Binary().PutUint32(b[12:], 0xbeef)
	img, err := FromBytes(b, order)
	require.NoError(t, err)
	img.PatchHeader(true, true)
	return img
}

func TestFromBytesLength(t *testing.T) {
	for _, n := range []int{0, 4, 7, 10, 18} {
		_, err := FromBytes(make([]byte, n), LittleEndian)
		assert.ErrorIs(t, err, ErrInvalidLength, "length %d", n)
	}
}

func TestVerifyDeadBeef(t *testing.T) {
	for _, order := range []ByteOrder{LittleEndian, BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			img := deadBeef(t, order)
			require.NoError(t, img.Verify())
			assert.Equal(t, uint32(16), img.DeclaredSize())
			assert.Equal(t, Checksum(img.Bytes()[8:]), img.DeclaredChecksum())

			reparsed, err := FromBytes(img.Bytes(), AutoDetect)
			require.NoError(t, err)
			assert.Equal(t, order, reparsed.ByteOrder())
			assert.True(t, reparsed.Equal(img))

			corrupted := append([]byte(nil), img.Bytes()...)
			corrupted[13] ^= 0x01
			bad, err := FromBytes(corrupted, order)
			require.NoError(t, err)
			err = bad.Verify()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIntegrityMismatch))
			var mm *MismatchError
			require.ErrorAs(t, err, &mm)
			assert.Equal(t, "checksum", mm.Field)
		})
	}
}

func TestFromBytesCopies(t *testing.T) {
	b := make([]byte, 16)
	img, err := FromBytes(b, BigEndian)
	require.NoError(t, err)
	b[10] = 0xff
	assert.Equal(t, byte(0), img.Bytes()[10])
}

func TestPatchHeaderPartial(t *testing.T) {
	b := make([]byte, 32)
	img, err := FromBytes(b, LittleEndian)
	require.NoError(t, err)

	img.PatchHeader(false, true)
	assert.True(t, img.SizeValid())
	assert.False(t, img.ChecksumValid())
	err = img.Verify()
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, "checksum", mm.Field)

	img.PatchHeader(true, false)
	assert.NoError(t, img.Verify())
}

func TestSizeMismatch(t *testing.T) {
	img := deadBeef(t, LittleEndian)
	b := append([]byte(nil), img.Bytes()...)
	binary.LittleEndian.PutUint32(b[4:], 20)
	bad, err := FromBytes(b, LittleEndian)
	require.NoError(t, err)
	var mm *MismatchError
	require.ErrorAs(t, bad.Verify(), &mm)
	assert.Equal(t, "size", mm.Field)
	assert.Equal(t, uint32(20), mm.Declared)
	assert.Equal(t, uint32(16), mm.Actual)
}

func TestFromBytesUnknownSize(t *testing.T) {
	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b[4:], SizeUnknown)
	img, err := FromBytes(b, AutoDetect)
	require.NoError(t, err)
	assert.Equal(t, BigEndian, img.ByteOrder())
	assert.Error(t, img.Verify())

	img.PatchHeader(true, true)
	assert.NoError(t, img.Verify())
}

func TestPatchField(t *testing.T) {
	img := deadBeef(t, BigEndian)
	before := img.Checksum()

	require.NoError(t, img.PatchField(8, 0x12345678, 4))
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, img.Bytes()[8:12])
	assert.NotEqual(t, before, img.Checksum())
	assert.ErrorIs(t, img.Verify(), ErrIntegrityMismatch)

	require.NoError(t, img.PatchField(12, 0xabcd, 2))
	assert.Equal(t, []byte{0xab, 0xcd}, img.Bytes()[12:14])
	require.NoError(t, img.PatchField(15, 0x7f, 1))
	assert.Equal(t, byte(0x7f), img.Bytes()[15])

	img.PatchHeader(true, true)
	assert.NoError(t, img.Verify())

	assert.ErrorIs(t, img.PatchField(14, 1, 4), ErrInvalidLength)
	assert.ErrorIs(t, img.PatchField(-1, 1, 1), ErrInvalidLength)
	assert.Error(t, img.PatchField(0, 1, 3))
}

func TestPatchSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		signed  bool
		want    PatchSpec
		wantErr bool
	}{
		{name: "hex", spec: "0x10:0xdeadbeef", want: PatchSpec{Offset: 16, Value: 0xdeadbeef, Width: 4}},
		{name: "decimal", spec: "12:42", want: PatchSpec{Offset: 12, Value: 42, Width: 4}},
		{name: "negative int32", spec: "8:-1", signed: true, want: PatchSpec{Offset: 8, Value: 0xffffffff, Width: 4}},
		{name: "negative uint32", spec: "8:-1", wantErr: true},
		{name: "int32 overflow", spec: "8:0x80000000", signed: true, wantErr: true},
		{name: "missing colon", spec: "8", wantErr: true},
		{name: "bad offset", spec: "x:1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePatchSpec(tt.spec, tt.signed)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyPatches(t *testing.T) {
	img := deadBeef(t, LittleEndian)
	specs := []PatchSpec{{Offset: 8, Value: 1, Width: 4}, {Offset: 12, Value: 2, Width: 4}}
	require.NoError(t, img.ApplyPatches(specs))
	img.PatchHeader(true, true)
	require.NoError(t, img.Verify())
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(img.Bytes()[8:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(img.Bytes()[12:]))

	assert.ErrorIs(t, img.ApplyPatches([]PatchSpec{{Offset: 64, Value: 1, Width: 4}}), ErrInvalidLength)
}

func TestString(t *testing.T) {
	img := deadBeef(t, BigEndian)
	base := uint32(0x08000000)
	img.BaseAddress = &base
	assert.Contains(t, img.String(), "Firmware<be,crc=0x")
	assert.Contains(t, img.String(), ",size=16,base=0x08000000>")
}
