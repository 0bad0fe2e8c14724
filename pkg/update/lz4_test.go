package update

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressWithDict(t *testing.T) {
	text := firmwareLike(40, 40000)
	tests := []struct {
		name string
		src  []byte
		dict []byte
	}{
		{name: "no dictionary", src: text[:5000]},
		{name: "shorter than a match", src: []byte("tiny")},
		{name: "incompressible", src: pseudoRandom(41, 3000)},
		{name: "copy of dictionary", src: text[10000:14000], dict: text[:20000]},
		{name: "edited dictionary", src: editAt(text[8000:12000], 7, 2000, 3990), dict: text[:30000]},
		{name: "dictionary beyond window", src: text[100:4100], dict: append(pseudoRandom(42, 70000), text[:8000]...)},
		{name: "runs", src: bytes.Repeat([]byte{0xff}, 9000), dict: []byte{0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := compressWithDict(tt.src, tt.dict)
			out := make([]byte, len(tt.src)+16)
			n, err := decompressWithDict(enc, out, tt.dict)
			require.NoError(t, err)
			assert.Equal(t, tt.src, out[:n])
		})
	}
}

func TestCompressWithDictUsesDictionary(t *testing.T) {
	dict := pseudoRandom(43, 30000)
	src := append([]byte(nil), dict[12000:16000]...)
	src[2000] ^= 1

	withDict := compressWithDict(src, dict)
	without := compressWithDict(src, nil)
	assert.Less(t, len(withDict), 64)
	assert.Greater(t, len(without), len(src))
}

func TestCompressBlock(t *testing.T) {
	for _, src := range [][]byte{firmwareLike(44, 30000), pseudoRandom(45, 2000), make([]byte, 4096)} {
		enc, err := compressBlock(src)
		require.NoError(t, err)
		got, err := decompressBlock(enc, 2*len(src))
		require.NoError(t, err)
		assert.Equal(t, src, got)
	}
}
