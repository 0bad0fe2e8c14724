package update

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// SignatureSize returns the length of one raw r||s signature record for
// curve c.
func SignatureSize(c elliptic.Curve) int {
	return 2 * ((c.Params().BitSize + 7) / 8)
}

// Sign appends a deterministic (RFC 6979) ECDSA signature over the SHA-256 of
// the unsigned package. Repeated calls accumulate independent signatures over
// the same message; overwrite drops any existing ones first.
func (u *Update) Sign(key *ecdsa.PrivateKey, overwrite bool) error {
	if overwrite {
		u.Signatures = nil
	}
	size := SignatureSize(key.Curve)
	if m := len(u.Signatures) % size; m != 0 {
		u.Signatures = append(u.Signatures, make([]byte, size-m)...)
	}
	digest := sha256.Sum256(u.UnsignedBytes())
	der, err := key.Sign(nil, digest[:], crypto.SHA256)
	if err != nil {
		return fmt.Errorf("signing update: %w", err)
	}
	raw, err := rawSignature(der, size/2)
	if err != nil {
		return err
	}
	u.Signatures = append(u.Signatures, raw...)
	return nil
}

// SignatureRecords splits the signature blob into size byte records. A
// trailing partial record is ignored.
func (u *Update) SignatureRecords(size int) [][]byte {
	var recs [][]byte
	for off := 0; size > 0 && off+size <= len(u.Signatures); off += size {
		recs = append(recs, u.Signatures[off:off+size])
	}
	return recs
}

// VerifySignature succeeds if any signature record verifies under pub.
func (u *Update) VerifySignature(pub *ecdsa.PublicKey) error {
	size := SignatureSize(pub.Curve)
	digest := sha256.Sum256(u.UnsignedBytes())
	for _, rec := range u.SignatureRecords(size) {
		r := new(big.Int).SetBytes(rec[:size/2])
		s := new(big.Int).SetBytes(rec[size/2:])
		if ecdsa.Verify(pub, digest[:], r, s) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// TrustedSigners returns the indices of the keys in pubs that produced at
// least one of the signatures on u.
func (u *Update) TrustedSigners(pubs []*ecdsa.PublicKey) []int {
	var idx []int
	for i, pub := range pubs {
		if u.VerifySignature(pub) == nil {
			idx = append(idx, i)
		}
	}
	return idx
}

func rawSignature(der []byte, n int) ([]byte, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, fmt.Errorf("malformed ECDSA signature")
	}
	raw := make([]byte, 2*n)
	r.FillBytes(raw[:n])
	s.FillBytes(raw[n:])
	return raw, nil
}
