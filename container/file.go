package container

import (
	"encoding/binary"

	"github.com/ruvector/rvf/format"
	"github.com/ruvector/rvf/segment"
)

// File layout (little-endian):
//
//	header (16 bytes): magic "RVF1", major u16, minor u16, dirOffset u64
//	segment directory: count u32, then count descriptors of 32 bytes
//	segment payloads in directory order
//	trailing 32-byte SHA-256 digest over every preceding byte

const (
	// HeaderSize is the fixed container header size.
	HeaderSize = 16

	// DigestSize is the size of the trailing whole-file digest.
	DigestSize = 32

	// MajorVersion and MinorVersion identify the format this build writes.
	MajorVersion = 1
	MinorVersion = 0
)

// fileHeader is the decoded fixed header.
type fileHeader struct {
	Major     uint16
	Minor     uint16
	DirOffset uint64
}

func (h *fileHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], format.Magic[:])
	binary.LittleEndian.PutUint16(buf[4:], h.Major)
	binary.LittleEndian.PutUint16(buf[6:], h.Minor)
	binary.LittleEndian.PutUint64(buf[8:], h.DirOffset)
	return buf
}

func decodeHeader(buf []byte) (fileHeader, error) {
	if len(buf) < HeaderSize {
		return fileHeader{}, &segment.CorruptError{Reason: "container header truncated"}
	}
	if string(buf[0:4]) != string(format.Magic[:]) {
		return fileHeader{}, &segment.CorruptError{Reason: "container magic missing"}
	}

	h := fileHeader{
		Major:     binary.LittleEndian.Uint16(buf[4:]),
		Minor:     binary.LittleEndian.Uint16(buf[6:]),
		DirOffset: binary.LittleEndian.Uint64(buf[8:]),
	}

	if h.Major > MajorVersion {
		return fileHeader{}, &VersionError{Major: h.Major}
	}

	return h, nil
}

// encodeDirectory serializes the segment directory.
func encodeDirectory(descriptors []segment.Descriptor) ([]byte, error) {
	buf := make([]byte, 4+len(descriptors)*segment.DescriptorSize)
	binary.LittleEndian.PutUint32(buf, uint32(len(descriptors)))

	for i := range descriptors {
		off := 4 + i*segment.DescriptorSize
		if err := descriptors[i].Encode(buf[off:]); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// decodeDirectory parses the directory and validates that no two segments
// overlap and every segment lies within the payload region.
func decodeDirectory(buf []byte, fileSize uint64) ([]segment.Descriptor, error) {
	if len(buf) < 4 {
		return nil, &segment.CorruptError{Reason: "segment directory truncated"}
	}
	count := int(binary.LittleEndian.Uint32(buf))
	need := 4 + count*segment.DescriptorSize
	if count < 0 || len(buf) < need {
		return nil, &segment.CorruptError{Reason: "segment directory count out of range"}
	}

	descriptors := make([]segment.Descriptor, 0, count)
	for i := 0; i < count; i++ {
		d, err := segment.DecodeDescriptor(buf[4+i*segment.DescriptorSize:])
		if err != nil {
			return nil, err
		}
		if d.Offset+d.Length < d.Offset || d.Offset+d.Length > fileSize-DigestSize {
			return nil, &segment.CorruptError{Segment: d.ID, Reason: "segment extends past payload region"}
		}
		for j := range descriptors {
			prev := &descriptors[j]
			if d.Offset < prev.Offset+prev.Length && prev.Offset < d.Offset+d.Length {
				return nil, &segment.CorruptError{Segment: d.ID, Reason: "segment overlaps " + prev.ID}
			}
			if prev.ID == d.ID {
				return nil, &segment.CorruptError{Segment: d.ID, Reason: "duplicate segment id"}
			}
		}
		descriptors = append(descriptors, d)
	}

	return descriptors, nil
}

// directorySize returns the encoded directory size for n segments.
func directorySize(n int) uint64 {
	return 4 + uint64(n)*segment.DescriptorSize
}
