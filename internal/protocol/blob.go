package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// MaxBuildBlobBytes bounds the decoded size of a build-grid blob so a
// misbehaving peer cannot balloon memory through a snapshot.
const MaxBuildBlobBytes = 1 << 20

// ErrBlobTooLarge reports a build-grid blob beyond MaxBuildBlobBytes.
var ErrBlobTooLarge = errors.New("protocol: build blob exceeds size limit")

// CompressBlob packs an opaque build-grid snapshot for the wire.
func CompressBlob(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(snappy.Encode(nil, raw))
}

// DecompressBlob reverses CompressBlob, enforcing the decoded size bound.
func DecompressBlob(blob string) ([]byte, error) {
	if blob == "" {
		return nil, nil
	}
	packed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode blob: %w", err)
	}
	//1.- Check the declared length before allocating the output buffer.
	length, err := snappy.DecodedLen(packed)
	if err != nil {
		return nil, fmt.Errorf("protocol: inspect blob: %w", err)
	}
	if length > MaxBuildBlobBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, length)
	}
	raw, err := snappy.Decode(nil, packed)
	if err != nil {
		return nil, fmt.Errorf("protocol: decompress blob: %w", err)
	}
	return raw, nil
}
