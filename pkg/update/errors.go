package update

import "errors"

// Package level error kinds. Image level kinds (invalid length, byte order,
// integrity) live in pkg/firmware and are returned unchanged.
var (
	ErrHeaderSizeMismatch = errors.New("update header size mismatch")
	ErrChecksumMismatch   = errors.New("update checksum mismatch")
	ErrReferenceMismatch  = errors.New("reference firmware mismatch")
	ErrBlockHashMismatch  = errors.New("delta block hash mismatch")
	ErrFirmwareMismatch   = errors.New("firmware mismatch")
	ErrUnsupportedType    = errors.New("unsupported update type")
	ErrMalformedBody      = errors.New("malformed update body")
	ErrInvalidBlockSize   = errors.New("invalid delta block size")
	ErrInvalidSignature   = errors.New("no valid signature")
)
