package cmd

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"zfw-tools/go/pkg/firmware"
	"zfw-tools/go/pkg/update"
)

// passphraseEnvVar supplies the signing key passphrase when no flag is given.
const passphraseEnvVar = "ZFW_KEY_PASSPHRASE"

func parseAddress(s string) (*uint32, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q", s)
	}
	addr := uint32(v)
	return &addr, nil
}

func collectPatches(unsigned, signed []string) ([]firmware.PatchSpec, error) {
	var specs []firmware.PatchSpec
	for _, s := range unsigned {
		ps, err := firmware.ParsePatchSpec(s, false)
		if err != nil {
			return nil, err
		}
		specs = append(specs, ps)
	}
	for _, s := range signed {
		ps, err := firmware.ParsePatchSpec(s, true)
		if err != nil {
			return nil, err
		}
		specs = append(specs, ps)
	}
	return specs, nil
}

// parseMeta turns repeated key=value flags into a metadata map.
func parseMeta(pairs []string) (map[string]any, error) {
	meta := map[string]any{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q: expected key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}

func loadMetaFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return meta, nil
}

func formatMeta(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, fmt.Sprint(meta[k]))
	}
	return strings.Join(parts, ", ")
}

func resolvePassphrase(flag string) []byte {
	if flag != "" {
		return []byte(flag)
	}
	return []byte(os.Getenv(passphraseEnvVar))
}

func loadPrivateKey(path string, passphrase []byte) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := update.ParsePrivateKeyPEM(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("loading private key %s: %w", path, err)
	}
	return key, nil
}

type namedKey struct {
	Path string
	Key  *ecdsa.PublicKey
}

// loadPublicKeys reads every key matched by patterns. A pattern without glob
// characters must name an existing file.
func loadPublicKeys(patterns []string) ([]namedKey, error) {
	paths, err := expandPatterns(patterns)
	if err != nil {
		return nil, err
	}
	keys := make([]namedKey, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		pub, err := update.ParsePublicKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("loading public key %s: %w", p, err)
		}
		keys = append(keys, namedKey{Path: p, Key: pub})
	}
	return keys, nil
}

// expandPatterns resolves doublestar globs, keeping literal paths as given.
func expandPatterns(patterns []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, pattern := range patterns {
		matches := []string{pattern}
		if strings.ContainsAny(pattern, "*?[{") {
			var err error
			if matches, err = doublestar.FilepathGlob(pattern); err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pattern, err)
			}
			if len(matches) == 0 {
				log.Warn("io", "read", "warning", "Pattern matched no files", "pattern", pattern)
			}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func readUpdateFile(path string) (*update.Update, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	u, err := update.Parse(data, firmware.AutoDetect)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return u, nil
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "invalid"
}
