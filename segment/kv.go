package segment

import (
	"encoding/binary"
	"time"
)

// KV segments are a length-prefixed record stream.
// Record layout (little-endian):
//
//	u32 recordLen (bytes after this field)
//	u16 keyLen, key
//	u32 valueLen, value
//	u16 namespaceLen, namespace
//	u16 tagCount, then per tag: u16 tagLen, tag
//	i64 createdAt (unix nanos)
//	i64 updatedAt (unix nanos)
//	i64 expiresAt (unix nanos, 0 = none)
//	u32 version

const kvFixedTail = 8 + 8 + 8 + 4

// AppendKV serializes rec and appends it to buf, returning the extended
// buffer. It is the building block for both full encodes and appends.
func AppendKV(buf []byte, rec *KVRecord) ([]byte, error) {
	if len(rec.Key) == 0 || len(rec.Key) > 0xffff {
		return nil, &CorruptError{Reason: "key must be 1-65535 bytes"}
	}
	if len(rec.Namespace) > 0xffff {
		return nil, &CorruptError{Segment: rec.Key, Reason: "namespace exceeds 64KiB"}
	}
	if len(rec.Tags) > 0xffff {
		return nil, &CorruptError{Segment: rec.Key, Reason: "too many tags"}
	}

	size := 2 + len(rec.Key) + 4 + len(rec.Value) + 2 + len(rec.Namespace) + 2
	for _, tag := range rec.Tags {
		if len(tag) > 0xffff {
			return nil, &CorruptError{Segment: rec.Key, Reason: "tag exceeds 64KiB"}
		}
		size += 2 + len(tag)
	}
	size += kvFixedTail

	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.Key)))
	buf = append(buf, rec.Key...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.Value)))
	buf = append(buf, rec.Value...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.Namespace)))
	buf = append(buf, rec.Namespace...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.Tags)))
	for _, tag := range rec.Tags {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tag)))
		buf = append(buf, tag...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(unixNanoOrZero(rec.CreatedAt)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(unixNanoOrZero(rec.UpdatedAt)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(unixNanoOrZero(rec.ExpiresAt)))
	buf = binary.LittleEndian.AppendUint32(buf, rec.Version)

	return buf, nil
}

// EncodeKV encodes a full KV segment payload.
func EncodeKV(records []KVRecord) ([]byte, error) {
	var buf []byte
	var err error

	for i := range records {
		buf, err = AppendKV(buf, &records[i])
		if err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// DecodeKV parses a KV segment payload.
func DecodeKV(payload []byte) ([]KVRecord, error) {
	var records []KVRecord

	for off := 0; off < len(payload); {
		rec, next, err := decodeKVRecord(payload, off)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		off = next
	}

	return records, nil
}

func decodeKVRecord(payload []byte, off int) (KVRecord, int, error) {
	corrupt := func(reason string) (KVRecord, int, error) {
		return KVRecord{}, 0, &CorruptError{Reason: reason}
	}

	if off+4 > len(payload) {
		return corrupt("kv record length truncated")
	}
	recLen := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4

	end := off + recLen
	if recLen < kvFixedTail+6 || end > len(payload) {
		return corrupt("kv record length out of range")
	}

	readBytes := func(n int) ([]byte, bool) {
		if off+n > end {
			return nil, false
		}
		b := payload[off : off+n]
		off += n
		return b, true
	}
	readU16 := func() (int, bool) {
		b, ok := readBytes(2)
		if !ok {
			return 0, false
		}
		return int(binary.LittleEndian.Uint16(b)), true
	}

	keyLen, ok := readU16()
	if !ok {
		return corrupt("kv key length truncated")
	}
	key, ok := readBytes(keyLen)
	if !ok {
		return corrupt("kv key truncated")
	}

	if off+4 > end {
		return corrupt("kv value length truncated")
	}
	valLen := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4
	val, ok := readBytes(valLen)
	if !ok {
		return corrupt("kv value truncated")
	}

	nsLen, ok := readU16()
	if !ok {
		return corrupt("kv namespace length truncated")
	}
	ns, ok := readBytes(nsLen)
	if !ok {
		return corrupt("kv namespace truncated")
	}

	tagCount, ok := readU16()
	if !ok {
		return corrupt("kv tag count truncated")
	}
	var tags []string
	for i := 0; i < tagCount; i++ {
		tagLen, ok := readU16()
		if !ok {
			return corrupt("kv tag length truncated")
		}
		tag, ok := readBytes(tagLen)
		if !ok {
			return corrupt("kv tag truncated")
		}
		tags = append(tags, string(tag))
	}

	tail, ok := readBytes(kvFixedTail)
	if !ok || off != end {
		return corrupt("kv record trailer malformed")
	}

	rec := KVRecord{
		Key:       string(key),
		Value:     append([]byte(nil), val...),
		Namespace: string(ns),
		Tags:      tags,
		CreatedAt: timeFromUnixNano(int64(binary.LittleEndian.Uint64(tail[0:]))),
		UpdatedAt: timeFromUnixNano(int64(binary.LittleEndian.Uint64(tail[8:]))),
		ExpiresAt: timeFromUnixNano(int64(binary.LittleEndian.Uint64(tail[16:]))),
		Version:   binary.LittleEndian.Uint32(tail[24:]),
	}

	return rec, end, nil
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeFromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
