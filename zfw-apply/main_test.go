package main

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zfw-tools/go/pkg/firmware"
	"zfw-tools/go/pkg/fwfile"
	"zfw-tools/go/pkg/logbowl"
	"zfw-tools/go/pkg/update"
	"zfw-tools/go/pkg/zfw"
)

func TestMain(m *testing.M) {
	log = logbowl.CreateWithOutput("zfw-apply-test", io.Discard)
	os.Exit(m.Run())
}

func makeImage(t *testing.T, n int, tweak uint32) *firmware.Image {
	t.Helper()
	b := make([]byte, n)
	for i := 8; i < n; i++ {
		b[i] = byte(i / 32)
	}
	img, err := firmware.FromBytes(b, firmware.BigEndian)
	require.NoError(t, err)
	require.NoError(t, img.PatchField(n/2, tweak, 4))
	img.PatchHeader(true, true)
	return img
}

type fixture struct {
	dir     string
	ref     *firmware.Image
	target  *firmware.Image
	refZFW  string
	refBin  string
	upPath  string
	keyGlob string
}

// newFixture writes a reference archive, a signed delta update and two
// trusted public keys, only the first of which signed the update.
func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{dir: dir, ref: makeImage(t, 8192, 1), target: makeImage(t, 8192, 2)}

	base := uint32(0x0800_0000)
	f.ref.BaseAddress = &base
	f.refZFW = filepath.Join(dir, "installed.zfw")
	require.NoError(t, zfw.New(f.ref, nil).WriteFile(f.refZFW))
	f.refBin = filepath.Join(dir, "installed.bin")
	require.NoError(t, fwfile.Write(f.refBin, f.ref))

	u, err := update.CreateDelta(f.target, f.ref, 1024)
	require.NoError(t, err)

	keyDir := filepath.Join(dir, "trusted")
	require.NoError(t, os.Mkdir(keyDir, 0755))
	for i, name := range []string{"release.pem", "qa.pem"} {
		key, err := update.GenerateKey()
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, u.Sign(key, false))
		}
		pub, err := update.MarshalPublicKeyPEM(&key.PublicKey)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(keyDir, name), pub, 0644))
	}
	f.keyGlob = filepath.Join(keyDir, "**", "*.pem")

	f.upPath = filepath.Join(dir, "next.up")
	require.NoError(t, os.WriteFile(f.upPath, u.Bytes(), 0644))
	return f
}

func TestApplyUpdate(t *testing.T) {
	f := newFixture(t)

	img, err := applyUpdate(f.upPath, applyOptions{Reference: f.refZFW, PublicKeys: []string{f.keyGlob}, MinSignatures: 1})
	require.NoError(t, err)
	assert.True(t, img.Equal(f.target))
	require.NotNil(t, img.BaseAddress)
	assert.Equal(t, uint32(0x0800_0000), *img.BaseAddress)

	out := filepath.Join(f.dir, "next.hex")
	require.NoError(t, fwfile.Write(out, img))
	written, err := fwfile.Load(out, fwfile.Options{})
	require.NoError(t, err)
	assert.True(t, written.Equal(f.target))

	t.Run("raw reference", func(t *testing.T) {
		img, err := applyUpdate(f.upPath, applyOptions{Reference: f.refBin, Base: "0x1000"})
		require.NoError(t, err)
		assert.True(t, img.Equal(f.target))
		assert.Equal(t, uint32(0x1000), *img.BaseAddress)
	})

	t.Run("no reference", func(t *testing.T) {
		_, err := applyUpdate(f.upPath, applyOptions{})
		assert.ErrorIs(t, err, update.ErrReferenceMismatch)
	})

	t.Run("wrong reference", func(t *testing.T) {
		other := filepath.Join(f.dir, "other.bin")
		require.NoError(t, fwfile.Write(other, makeImage(t, 8192, 3)))
		_, err := applyUpdate(f.upPath, applyOptions{Reference: other})
		assert.ErrorIs(t, err, update.ErrReferenceMismatch)
	})

	t.Run("bad base", func(t *testing.T) {
		_, err := applyUpdate(f.upPath, applyOptions{Reference: f.refBin, Base: "nowhere"})
		assert.ErrorContains(t, err, "invalid base address")
	})
}

func TestCheckSignatures(t *testing.T) {
	f := newFixture(t)
	u, err := readUpdate(f.upPath)
	require.NoError(t, err)

	assert.NoError(t, checkSignatures(u, nil, 0))
	assert.NoError(t, checkSignatures(u, []string{f.keyGlob}, 1))
	assert.ErrorIs(t, checkSignatures(u, []string{f.keyGlob}, 2), update.ErrInvalidSignature)
	assert.ErrorContains(t, checkSignatures(u, []string{filepath.Join(f.dir, "trusted", "qa.pem")}, 2), "only 1 trusted keys")
	assert.ErrorIs(t, checkSignatures(u, []string{filepath.Join(f.dir, "trusted", "qa.pem")}, 1), update.ErrInvalidSignature)
	assert.ErrorIs(t, checkSignatures(u, []string{filepath.Join(f.dir, "missing.pem")}, 1), os.ErrNotExist)

	t.Run("one signer counts once", func(t *testing.T) {
		release := filepath.Join(f.dir, "trusted", "release.pem")
		err := checkSignatures(u, []string{release, release}, 2)
		assert.ErrorContains(t, err, "only 1 trusted keys")

		assert.ErrorIs(t, checkSignatures(u, []string{release, f.keyGlob}, 2), update.ErrInvalidSignature)

		data, err := os.ReadFile(release)
		require.NoError(t, err)
		copied := filepath.Join(f.dir, "release-copy.pem")
		require.NoError(t, os.WriteFile(copied, data, 0644))
		assert.ErrorContains(t, checkSignatures(u, []string{release, copied}, 2), "only 1 trusted keys")
	})
}

func TestTrustedKeysDeduplicates(t *testing.T) {
	f := newFixture(t)
	release := filepath.Join(f.dir, "trusted", "release.pem")
	keys, err := trustedKeys([]string{release, f.keyGlob, release})
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestReadUpdateErrors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.up")
	require.NoError(t, os.WriteFile(junk, bytes.Repeat([]byte{0x5a}, 64), 0644))
	_, err := readUpdate(junk)
	assert.Error(t, err)

	_, err = readUpdate(filepath.Join(dir, "absent.up"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrintInfo(t *testing.T) {
	f := newFixture(t)
	u, err := readUpdate(f.upPath)
	require.NoError(t, err)

	var out bytes.Buffer
	printInfo(&out, u)
	assert.Contains(t, out.String(), "Type: lz4-delta")
	assert.Contains(t, out.String(), "Byte Order: be")
	assert.Contains(t, out.String(), "Reference: 8192 bytes")
	assert.Contains(t, out.String(), "Signature Size: 64 bytes")
}

// TestMainAsSubprocess builds the binary and runs it the way an installer
// script would.
func TestMainAsSubprocess(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	f := newFixture(t)
	binPath := filepath.Join(t.TempDir(), "zfw-apply")
	buildCmd := exec.Command("go", "build", "-o", binPath, "./zfw-apply")
	buildCmd.Dir = ".."
	require.NoError(t, buildCmd.Run(), "Failed to build zfw-apply for testing")

	t.Run("info", func(t *testing.T) {
		out, err := exec.Command(binPath, "info", f.upPath).CombinedOutput()
		require.NoError(t, err)
		assert.Contains(t, string(out), "Update Information for:")
		assert.Contains(t, string(out), "Type: lz4-delta")
	})

	t.Run("info on damaged update", func(t *testing.T) {
		data, err := os.ReadFile(f.upPath)
		require.NoError(t, err)
		damaged := filepath.Join(f.dir, "damaged.up")
		require.NoError(t, os.WriteFile(damaged, data[:len(data)/2], 0644))

		out, err := exec.Command(binPath, "info", damaged).CombinedOutput()
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr, string(out))
		assert.Equal(t, 1, exitErr.ExitCode())
		assert.Contains(t, string(out), "Error reading update:")
	})

	t.Run("apply", func(t *testing.T) {
		outPath := filepath.Join(f.dir, "applied.bin")
		cmd := exec.Command(binPath, f.upPath, "-r", f.refZFW, "--public-key", f.keyGlob, "--min-signatures", "1", "-o", outPath)
		cmd.Env = append(os.Environ(), "ZFW_LOG_CONSOLE_FORMATTER=json")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
		assert.Contains(t, string(out), `"domain":"apply"`)

		got, err := os.ReadFile(outPath)
		require.NoError(t, err)
		assert.Equal(t, f.target.Bytes(), got)
	})

	t.Run("rejects unsigned", func(t *testing.T) {
		cmd := exec.Command(binPath, f.upPath, "-r", f.refZFW, "--public-key", filepath.Join(f.dir, "trusted", "qa.pem"), "--min-signatures", "1", "-o", filepath.Join(f.dir, "x.bin"))
		out, err := cmd.CombinedOutput()
		assert.Error(t, err)
		assert.Contains(t, string(out), "no valid signature")
	})
}
