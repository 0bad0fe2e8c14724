package update

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"zfw-tools/go/pkg/firmware"
)

// newImage builds a valid image with payload after the 8 byte header, padded
// with zeros to a word boundary.
func newImage(t testing.TB, payload []byte, order firmware.ByteOrder) *firmware.Image {
	t.Helper()
	b := make([]byte, firmware.HeaderSize+(len(payload)+3)/4*4)
	copy(b[firmware.HeaderSize:], payload)
	img, err := firmware.FromBytes(b, order)
	require.NoError(t, err)
	img.PatchHeader(true, true)
	require.NoError(t, img.Verify())
	return img
}

// withChanges returns a patched copy of img's payload (header excluded).
func withChanges(img *firmware.Image, at int, data []byte) []byte {
	payload := append([]byte(nil), img.Bytes()[firmware.HeaderSize:]...)
	copy(payload[at-firmware.HeaderSize:], data)
	return payload
}

func pseudoRandom(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	r.Read(b)
	return b
}

// firmwareLike returns compressible content built from a small vocabulary of
// byte strings, roughly resembling machine code.
func firmwareLike(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	vocab := make([][]byte, 64)
	for i := range vocab {
		vocab[i] = make([]byte, 4+r.Intn(12))
		r.Read(vocab[i])
	}
	b := make([]byte, 0, n+16)
	for len(b) < n {
		b = append(b, vocab[r.Intn(len(vocab))]...)
	}
	return b[:n]
}
