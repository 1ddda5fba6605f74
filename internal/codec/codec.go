// Package codec implements the gzip/xz extract-and-compress helpers used
// by the range shard format, a direct generalisation of the teacher's
// scm/streams.go gzip/xz/zcat/xzcat stream primitives into plain
// byte-slice-in, byte-slice-out functions (spec.md §4.E).
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// ExtractGZ decompresses a gzip-encoded payload, the same decode path as
// streams.go's zcat.
func ExtractGZ(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("codec: gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: gzip extract: %w", err)
	}
	return out, nil
}

// CompressGZ gzip-compresses payload, the same encode path as streams.go's
// gzip stream primitive.
func CompressGZ(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("codec: gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

// ExtractXZ decompresses an xz-encoded payload, the same decode path as
// streams.go's xzcat.
func ExtractXZ(payload []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("codec: xz reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: xz extract: %w", err)
	}
	return out, nil
}

// CompressXZ xz-compresses payload, the same encode path as streams.go's
// xz stream primitive.
func CompressXZ(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("codec: xz writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("codec: xz compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: xz compress: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeByFormat decompresses payload according to a range shard's
// "gz"/"xz"/"txt" format tag, per spec.md §4.F/§4.G. Shared by the
// fetcher's compaction stage and the column builder so both decode
// shard payloads identically.
func DecodeByFormat(format string, payload []byte) ([]byte, error) {
	switch format {
	case "gz":
		return ExtractGZ(payload)
	case "xz":
		return ExtractXZ(payload)
	case "txt":
		return payload, nil
	default:
		return nil, fmt.Errorf("codec: unknown shard format %q", format)
	}
}
