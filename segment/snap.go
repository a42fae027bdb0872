package segment

import (
	"encoding/binary"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// SNAP segments are append-friendly like LOG segments. Record layout
// (little-endian):
//
//	u32 recordLen (bytes after this field)
//	u64 atSeq
//	u8  flags (bit0: state is zstd-compressed)
//	u16 keyLen, aggregateKey
//	[u32 rawLen if compressed]
//	state

const snapFlagZstd = 0x01

var (
	zstdEncoder, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// AppendSnapshot serializes rec and appends it to buf.
func AppendSnapshot(buf []byte, rec *SnapshotRecord) ([]byte, error) {
	if len(rec.AggregateKey) == 0 || len(rec.AggregateKey) > 0xffff {
		return nil, &CorruptError{Reason: "snapshot aggregate key must be 1-65535 bytes"}
	}

	state := rec.State
	flags := uint8(0)

	if len(state) >= compressMin {
		compressed := zstdEncoder.EncodeAll(state, nil)
		if len(compressed) < len(state) {
			state = compressed
			flags |= snapFlagZstd
		}
	}

	size := 8 + 1 + 2 + len(rec.AggregateKey) + len(state)
	if flags&snapFlagZstd != 0 {
		size += 4
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint64(buf, rec.AtSeq)
	buf = append(buf, flags)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.AggregateKey)))
	buf = append(buf, rec.AggregateKey...)
	if flags&snapFlagZstd != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.State)))
	}
	buf = append(buf, state...)

	return buf, nil
}

// EncodeSnapshots encodes a full SNAP segment payload.
func EncodeSnapshots(records []SnapshotRecord) ([]byte, error) {
	var buf []byte
	var err error

	for i := range records {
		buf, err = AppendSnapshot(buf, &records[i])
		if err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// DecodeSnapshots parses a SNAP segment payload in write order.
func DecodeSnapshots(payload []byte) ([]SnapshotRecord, error) {
	var records []SnapshotRecord

	for off := 0; off < len(payload); {
		if off+4 > len(payload) {
			return nil, &CorruptError{Reason: "snapshot record length truncated"}
		}
		recLen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4

		end := off + recLen
		if recLen < 11 || end > len(payload) {
			return nil, &CorruptError{Reason: "snapshot record length out of range"}
		}

		atSeq := binary.LittleEndian.Uint64(payload[off:])
		flags := payload[off+8]
		keyLen := int(binary.LittleEndian.Uint16(payload[off+9:]))

		cursor := off + 11
		if cursor+keyLen > end {
			return nil, &CorruptError{Reason: "snapshot aggregate key truncated"}
		}
		key := string(payload[cursor : cursor+keyLen])
		cursor += keyLen

		var state []byte
		if flags&snapFlagZstd != 0 {
			if cursor+4 > end {
				return nil, &CorruptError{Reason: "snapshot compressed header truncated"}
			}
			rawLen := int(binary.LittleEndian.Uint32(payload[cursor:]))
			cursor += 4

			decoded, err := zstdDecoder.DecodeAll(payload[cursor:end], make([]byte, 0, rawLen))
			if err != nil || len(decoded) != rawLen {
				return nil, &CorruptError{Segment: key, Reason: "snapshot state decompression failed", cause: err}
			}
			state = decoded
		} else {
			state = append([]byte(nil), payload[cursor:end]...)
		}

		records = append(records, SnapshotRecord{
			AggregateKey: key,
			State:        state,
			AtSeq:        atSeq,
		})
		off = end
	}

	return records, nil
}

// LiveSnapshots reduces a decoded SNAP stream to the single live snapshot
// per aggregate key (the highest AtSeq), sorted by key for determinism.
func LiveSnapshots(records []SnapshotRecord) []SnapshotRecord {
	latest := make(map[string]SnapshotRecord, len(records))
	for _, rec := range records {
		if cur, ok := latest[rec.AggregateKey]; !ok || rec.AtSeq >= cur.AtSeq {
			latest[rec.AggregateKey] = rec
		}
	}

	live := make([]SnapshotRecord, 0, len(latest))
	for _, rec := range latest {
		live = append(live, rec)
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].AggregateKey < live[j].AggregateKey
	})

	return live
}
