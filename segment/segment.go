// Package segment implements the typed byte layouts of rvf container
// segments: key-value, vector, index, append-log, snapshot and metadata.
//
// Each segment type has one codec. Codecs reject structurally invalid
// input with a *CorruptError instead of attempting best-effort recovery.
package segment

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Type identifies the kind of a segment. The numeric values are part of
// the on-disk segment directory and must not be reordered.
type Type uint8

const (
	TypeKV Type = iota
	TypeVec
	TypeIndex
	TypeLog
	TypeSnap
	TypeMeta
)

// String returns the segment type name as used in logs and manifests.
func (t Type) String() string {
	switch t {
	case TypeKV:
		return "kv"
	case TypeVec:
		return "vec"
	case TypeIndex:
		return "index"
	case TypeLog:
		return "log"
	case TypeSnap:
		return "snap"
	case TypeMeta:
		return "meta"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Known reports whether the type is one this implementation understands.
// Unknown types are carried through and skipped, never rejected, so that
// newer writers stay readable.
func (t Type) Known() bool {
	return t <= TypeMeta
}

const (
	// DescriptorSize is the fixed encoded size of one segment descriptor.
	DescriptorSize = 32

	// MaxIDLen is the maximum segment id length that fits a descriptor.
	MaxIDLen = 8
)

// Descriptor locates one segment inside the container file.
type Descriptor struct {
	ID       string
	Type     Type
	Offset   uint64
	Length   uint64
	Checksum uint32 // CRC32 (IEEE) of the payload bytes
}

// Encode writes the descriptor into dst, which must be DescriptorSize long.
// Layout: id [8]byte NUL-padded, type u8, reserved [3]byte, offset u64,
// length u64, crc32 u32.
func (d *Descriptor) Encode(dst []byte) error {
	if len(d.ID) == 0 || len(d.ID) > MaxIDLen {
		return &CorruptError{Segment: d.ID, Reason: fmt.Sprintf("segment id must be 1-%d bytes", MaxIDLen)}
	}

	for i := range dst[:DescriptorSize] {
		dst[i] = 0
	}

	copy(dst[0:MaxIDLen], d.ID)
	dst[8] = uint8(d.Type)
	binary.LittleEndian.PutUint64(dst[12:], d.Offset)
	binary.LittleEndian.PutUint64(dst[20:], d.Length)
	binary.LittleEndian.PutUint32(dst[28:], d.Checksum)

	return nil
}

// DecodeDescriptor parses one descriptor from buf.
func DecodeDescriptor(buf []byte) (Descriptor, error) {
	if len(buf) < DescriptorSize {
		return Descriptor{}, &CorruptError{Reason: "descriptor truncated"}
	}

	id := buf[0:MaxIDLen]
	n := 0
	for n < MaxIDLen && id[n] != 0 {
		n++
	}
	if n == 0 {
		return Descriptor{}, &CorruptError{Reason: "descriptor has empty segment id"}
	}

	return Descriptor{
		ID:       string(id[:n]),
		Type:     Type(buf[8]),
		Offset:   binary.LittleEndian.Uint64(buf[12:]),
		Length:   binary.LittleEndian.Uint64(buf[20:]),
		Checksum: binary.LittleEndian.Uint32(buf[28:]),
	}, nil
}

// CorruptError indicates that a segment's internal structure failed to
// parse. The container refuses to open such a segment for writing but may
// still expose unaffected segments read-only.
type CorruptError struct {
	Segment string
	Reason  string
	cause   error
}

func (e *CorruptError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("corrupt segment: %s", e.Reason)
	}
	return fmt.Sprintf("corrupt segment %q: %s", e.Segment, e.Reason)
}

func (e *CorruptError) Unwrap() error { return e.cause }

// KVRecord is a versioned key-value record. Mutation appends a new
// version; variable-length fields are never patched in place.
type KVRecord struct {
	Key       string
	Value     []byte
	Namespace string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time // zero means no expiry
	Version   uint32
}

// Expired reports whether the record has an expiry in the past.
func (r *KVRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// VectorRecord is one entry of a VEC segment. Data holds the quantized
// representation; all records of a segment share dimension, metric and
// quantization mode.
type VectorRecord struct {
	ID   string
	Data []byte
}

// LogRecord is one entry of an append-only LOG segment.
type LogRecord struct {
	Seq       uint64
	Timestamp time.Time
	Payload   []byte
}

// SnapshotRecord bounds log-replay cost for one aggregate. The latest
// AtSeq per aggregate key is the live snapshot; older ones are retained
// for audit only.
type SnapshotRecord struct {
	AggregateKey string
	State        []byte
	AtSeq        uint64
}
