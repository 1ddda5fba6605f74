// Package rangeshard implements the fetch-shard file format: a two-byte
// little-endian meta-length, a CBOR-encoded metadata record, and a payload
// blob, per spec.md §3/§4.F/§6. The binary-header-plus-magic-byte shape is
// a direct generalisation of the teacher's storage.StorageInt.Serialize/
// Deserialize, which also writes an explicit length-prefixed header before
// a raw payload; here the fixed-field binary header is replaced with a
// CBOR record so upstream can evolve the metadata schema without a format
// bump, and CBOR is encoded with github.com/fxamacker/cbor/v2.
package rangeshard

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Format enumerates the payload encodings a shard's payload may carry.
type Format string

const (
	FormatGZ  Format = "gz"
	FormatXZ  Format = "xz"
	FormatTXT Format = "txt"
)

// Meta is the CBOR-encoded metadata record prefixing every shard payload.
type Meta struct {
	Range     uint32 `cbor:"range"`
	ETag      uint64 `cbor:"etag"`
	Timestamp int64  `cbor:"timestamp"`
	Len       uint64 `cbor:"len"`
	Sum       uint64 `cbor:"sum"`
	Format    string `cbor:"format"`
}

// HashRange is a fully decoded range shard: its metadata plus the raw
// (still possibly compressed) payload bytes.
type HashRange struct {
	Meta    Meta
	Payload []byte
}

// NumBuckets is 2^20, the number of top-20-bit range shards, per spec.md §3.
const NumBuckets = 1 << 20

// Name returns the five-hex-digit shard filename for bucket r, per
// spec.md §4.F's name(r) = "{r:05X}.dat".
func Name(r uint32) string {
	return fmt.Sprintf("%05X.dat", r)
}

// Encode serialises a HashRange as u16 LE meta_len | CBOR(meta) | payload.
func Encode(w io.Writer, hr HashRange) error {
	metaBytes, err := cbor.Marshal(hr.Meta)
	if err != nil {
		return fmt.Errorf("rangeshard: cbor encode: %w", err)
	}
	if len(metaBytes) > 0xFFFF {
		return fmt.Errorf("rangeshard: metadata too large: %d bytes", len(metaBytes))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(metaBytes))); err != nil {
		return fmt.Errorf("rangeshard: write meta_len: %w", err)
	}
	if _, err := w.Write(metaBytes); err != nil {
		return fmt.Errorf("rangeshard: write meta: %w", err)
	}
	if _, err := w.Write(hr.Payload); err != nil {
		return fmt.Errorf("rangeshard: write payload: %w", err)
	}
	return nil
}

// EncodeBytes is a convenience wrapper around Encode that returns the
// serialised bytes directly.
func EncodeBytes(hr HashRange) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, hr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserialises a HashRange from r. It fails with a descriptive
// error if the meta-length or CBOR prefix is malformed, per spec.md §4.F:
// "Deserialisation fails with invalid-input if the CBOR prefix or
// meta-length is malformed."
func Decode(r io.Reader) (HashRange, error) {
	var hr HashRange
	var metaLen uint16
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return hr, fmt.Errorf("rangeshard: read meta_len: %w", err)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return hr, fmt.Errorf("rangeshard: read meta: %w", err)
	}
	if err := cbor.Unmarshal(metaBytes, &hr.Meta); err != nil {
		return hr, fmt.Errorf("rangeshard: cbor decode: %w", err)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return hr, fmt.Errorf("rangeshard: read payload: %w", err)
	}
	hr.Payload = payload
	return hr, nil
}

// DecodeBytes decodes a HashRange from a complete in-memory file image.
func DecodeBytes(raw []byte) (HashRange, error) {
	return Decode(bytes.NewReader(raw))
}
