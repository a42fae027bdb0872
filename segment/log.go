package segment

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
)

// LOG segments are append-friendly: new records extend the payload, the
// existing bytes are never rewritten. Record layout (little-endian):
//
//	u32 recordLen (bytes after this field)
//	u64 seq
//	i64 timestamp (unix nanos)
//	u8  flags (bit0: payload is lz4 block-compressed)
//	[u32 rawLen if compressed]
//	payload

const logFlagLZ4 = 0x01

// compressMin is the smallest payload worth attempting to compress.
const compressMin = 64

// AppendLog serializes rec and appends it to buf. prevSeq is the sequence
// number of the last record already in the segment (0 for an empty one);
// seq values must strictly increase.
func AppendLog(buf []byte, rec *LogRecord, prevSeq uint64) ([]byte, error) {
	if rec.Seq <= prevSeq {
		return nil, &CorruptError{Reason: "log seq must strictly increase"}
	}

	payload := rec.Payload
	flags := uint8(0)

	if len(payload) >= compressMin {
		dst := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, dst, nil)
		if err == nil && n > 0 && n < len(payload) {
			payload = dst[:n]
			flags |= logFlagLZ4
		}
	}

	size := 8 + 8 + 1 + len(payload)
	if flags&logFlagLZ4 != 0 {
		size += 4
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint64(buf, rec.Seq)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(unixNanoOrZero(rec.Timestamp)))
	buf = append(buf, flags)
	if flags&logFlagLZ4 != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.Payload)))
	}
	buf = append(buf, payload...)

	return buf, nil
}

// EncodeLog encodes a full LOG segment payload. Records must already be
// in strictly increasing seq order.
func EncodeLog(records []LogRecord) ([]byte, error) {
	var buf []byte
	var prev uint64
	var err error

	for i := range records {
		buf, err = AppendLog(buf, &records[i], prev)
		if err != nil {
			return nil, err
		}
		prev = records[i].Seq
	}

	return buf, nil
}

// DecodeLog parses a LOG segment payload, verifying seq monotonicity.
func DecodeLog(payload []byte) ([]LogRecord, error) {
	var records []LogRecord
	var prev uint64

	for off := 0; off < len(payload); {
		if off+4 > len(payload) {
			return nil, &CorruptError{Reason: "log record length truncated"}
		}
		recLen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4

		end := off + recLen
		if recLen < 17 || end > len(payload) {
			return nil, &CorruptError{Reason: "log record length out of range"}
		}

		seq := binary.LittleEndian.Uint64(payload[off:])
		ts := int64(binary.LittleEndian.Uint64(payload[off+8:]))
		flags := payload[off+16]
		body := payload[off+17 : end]

		if len(records) > 0 && seq <= prev {
			return nil, &CorruptError{Reason: "log seq not strictly increasing"}
		}

		var data []byte
		if flags&logFlagLZ4 != 0 {
			if len(body) < 4 {
				return nil, &CorruptError{Reason: "log compressed header truncated"}
			}
			rawLen := int(binary.LittleEndian.Uint32(body))
			data = make([]byte, rawLen)
			n, err := lz4.UncompressBlock(body[4:], data)
			if err != nil || n != rawLen {
				return nil, &CorruptError{Reason: "log payload decompression failed", cause: err}
			}
		} else {
			data = append([]byte(nil), body...)
		}

		records = append(records, LogRecord{
			Seq:       seq,
			Timestamp: timeFromUnixNano(ts),
			Payload:   data,
		})
		prev = seq
		off = end
	}

	return records, nil
}

// LastLogSeq returns the seq of the final record in a LOG payload without
// materializing the records, so appends can validate monotonicity cheaply.
func LastLogSeq(payload []byte) (uint64, error) {
	var last uint64

	for off := 0; off < len(payload); {
		if off+4 > len(payload) {
			return 0, &CorruptError{Reason: "log record length truncated"}
		}
		recLen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		if recLen < 17 || off+recLen > len(payload) {
			return 0, &CorruptError{Reason: "log record length out of range"}
		}
		last = binary.LittleEndian.Uint64(payload[off:])
		off += recLen
	}

	return last, nil
}
