package firmware

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint32
	}{
		{name: "empty", data: []byte{}, expected: 0x00000000},
		{name: "check string", data: []byte("123456789"), expected: 0xcbf43926},
		{name: "single zero", data: []byte{0x00}, expected: 0xd202ef8d},
		{name: "four 0xff", data: []byte{0xff, 0xff, 0xff, 0xff}, expected: 0xffffffff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Checksum(tt.data))
		})
	}
}

func header(order binary.ByteOrder, payload []byte, size uint32) []byte {
	b := make([]byte, HeaderSize+len(payload))
	copy(b[HeaderSize:], payload)
	order.PutUint32(b[0:], Checksum(payload))
	order.PutUint32(b[4:], size)
	return b
}

func TestInferByteOrder(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	t.Run("little endian", func(t *testing.T) {
		b := header(binary.LittleEndian, payload, 16)
		order, err := InferByteOrder(b, ImageHeaderCheck)
		require.NoError(t, err)
		assert.Equal(t, LittleEndian, order)
	})

	t.Run("big endian", func(t *testing.T) {
		b := header(binary.BigEndian, payload, 16)
		order, err := InferByteOrder(b, ImageHeaderCheck)
		require.NoError(t, err)
		assert.Equal(t, BigEndian, order)
	})

	t.Run("size sentinel", func(t *testing.T) {
		b := header(binary.BigEndian, payload, SizeUnknown)
		binary.BigEndian.PutUint32(b[0:], 0)
		order, err := InferByteOrder(b, ImageHeaderCheck)
		require.NoError(t, err)
		assert.Equal(t, BigEndian, order)
	})

	t.Run("neither", func(t *testing.T) {
		b := header(binary.LittleEndian, payload, 16)
		b[HeaderSize] ^= 0xff
		_, err := InferByteOrder(b, ImageHeaderCheck)
		assert.True(t, errors.Is(err, ErrAmbiguousEncoding))
	})

	t.Run("both", func(t *testing.T) {
		b := header(binary.LittleEndian, payload, 16)
		always := func([]byte, uint32, uint32) bool { return true }
		_, err := InferByteOrder(b, always)
		assert.ErrorIs(t, err, ErrAmbiguousEncoding)
	})

	t.Run("prefix with trailing bytes", func(t *testing.T) {
		b := header(binary.BigEndian, payload, 16)
		b = append(b, 0xde, 0xad, 0xbe, 0xef)
		order, err := InferByteOrder(b, PrefixHeaderCheck)
		require.NoError(t, err)
		assert.Equal(t, BigEndian, order)

		_, err = InferByteOrder(b, ImageHeaderCheck)
		assert.ErrorIs(t, err, ErrAmbiguousEncoding)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := InferByteOrder([]byte{1, 2, 3}, ImageHeaderCheck)
		assert.ErrorIs(t, err, ErrInvalidLength)
	})
}

func TestByteOrderHelpers(t *testing.T) {
	assert.Equal(t, BigEndian, LittleEndian.Opposite())
	assert.Equal(t, LittleEndian, BigEndian.Opposite())
	assert.Equal(t, binary.BigEndian, BigEndian.Binary())
	assert.Equal(t, "le", LittleEndian.String())
}

func TestParseByteOrder(t *testing.T) {
	tests := []struct {
		in   string
		want ByteOrder
	}{
		{"", AutoDetect},
		{"auto", AutoDetect},
		{"LE", LittleEndian},
		{"little", LittleEndian},
		{"be", BigEndian},
		{"Big", BigEndian},
	}
	for _, tt := range tests {
		got, err := ParseByteOrder(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseByteOrder("middle")
	assert.Error(t, err)
}
