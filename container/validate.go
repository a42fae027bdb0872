package container

import (
	"crypto/sha256"
	"hash/crc32"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ruvector/rvf/segment"
)

// Validate re-reads the container file from disk and verifies the
// whole-file digest plus every segment checksum. Segment checks run in
// parallel; the first failure wins.
func Validate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if len(data) < HeaderSize+DigestSize {
		return &segment.CorruptError{Reason: "file too small for container"}
	}

	body := data[:len(data)-DigestSize]
	want := data[len(data)-DigestSize:]
	got := sha256.Sum256(body)
	if string(got[:]) != string(want) {
		return &ChecksumError{Expected: want, Actual: got[:]}
	}

	h, err := decodeHeader(body)
	if err != nil {
		return err
	}
	if h.DirOffset < HeaderSize || h.DirOffset > uint64(len(body)) {
		return &segment.CorruptError{Reason: "directory offset out of range"}
	}

	descriptors, err := decodeDirectory(body[h.DirOffset:], uint64(len(data)))
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range descriptors {
		d := descriptors[i]
		g.Go(func() error {
			payload := data[d.Offset : d.Offset+d.Length]
			if crc32.ChecksumIEEE(payload) != d.Checksum {
				return &segment.CorruptError{Segment: d.ID, Reason: "payload crc disagrees with directory"}
			}
			// Known types must also parse; unknown types are skippable.
			if d.Type.Known() {
				if _, err := segment.Decode(d.Type, payload); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}
