package segment

import "fmt"

// Contents is the decoded form of one segment. Exactly one field group is
// populated depending on the segment type; Raw carries INDEX payloads and
// unknown types opaquely so they survive rewrites.
type Contents struct {
	KV        []KVRecord
	VecHeader *VecHeader
	Vectors   []VectorRecord
	Log       []LogRecord
	Snapshots []SnapshotRecord
	Raw       []byte
}

// Encode serializes contents into a segment payload of the given type.
func Encode(t Type, c *Contents) ([]byte, error) {
	switch t {
	case TypeKV:
		return EncodeKV(c.KV)
	case TypeLog:
		return EncodeLog(c.Log)
	case TypeSnap:
		return EncodeSnapshots(c.Snapshots)
	case TypeVec:
		if c.VecHeader == nil {
			return nil, &CorruptError{Reason: "vec contents missing header"}
		}
		payload := EncodeVecHeader(c.VecHeader)
		stride := c.VecHeader.Stride()
		for _, rec := range c.Vectors {
			if len(rec.ID) == 0 || len(rec.ID) > VecIDSize {
				return nil, &CorruptError{Reason: fmt.Sprintf("vector id must be 1-%d bytes", VecIDSize)}
			}
			if len(rec.Data) != stride-VecIDSize {
				return nil, &CorruptError{Reason: "vector data does not match segment stride"}
			}
			buf := make([]byte, stride)
			copy(buf[:VecIDSize], rec.ID)
			copy(buf[VecIDSize:], rec.Data)
			payload = append(payload, buf...)
		}
		return payload, nil
	case TypeIndex, TypeMeta:
		// META is free-form (typically JSON) and INDEX is a serialized
		// graph; both pass through opaquely.
		return append([]byte(nil), c.Raw...), nil
	default:
		// Unknown types round-trip untouched for forward compatibility.
		return append([]byte(nil), c.Raw...), nil
	}
}

// Decode parses a segment payload of the given type.
func Decode(t Type, payload []byte) (*Contents, error) {
	switch t {
	case TypeKV:
		records, err := DecodeKV(payload)
		if err != nil {
			return nil, err
		}
		return &Contents{KV: records}, nil
	case TypeLog:
		records, err := DecodeLog(payload)
		if err != nil {
			return nil, err
		}
		return &Contents{Log: records}, nil
	case TypeSnap:
		records, err := DecodeSnapshots(payload)
		if err != nil {
			return nil, err
		}
		return &Contents{Snapshots: records}, nil
	case TypeVec:
		h, records, err := DecodeVec(payload)
		if err != nil {
			return nil, err
		}
		return &Contents{VecHeader: &h, Vectors: records}, nil
	case TypeIndex, TypeMeta:
		return &Contents{Raw: append([]byte(nil), payload...)}, nil
	default:
		return &Contents{Raw: append([]byte(nil), payload...)}, nil
	}
}
