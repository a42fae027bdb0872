package container

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvector/rvf/segment"
)

func newContainer(t *testing.T) (*Container, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.rvf")

	c, err := OpenFile(path, WithCreate())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, path
}

func TestCreateFlushReopen(t *testing.T) {
	c, path := newContainer(t)

	_, err := c.CreateSegment("kv", segment.TypeKV)
	require.NoError(t, err)
	_, err = c.CreateSegment("log", segment.TypeLog)
	require.NoError(t, err)

	kvPayload, err := segment.EncodeKV([]segment.KVRecord{{Key: "k", Value: []byte("v"), Version: 1}})
	require.NoError(t, err)
	require.NoError(t, c.SetPayload("kv", kvPayload))

	require.NoError(t, c.Flush())
	require.NoError(t, c.Close())

	// Reopen and verify everything survived.
	c2, err := OpenFile(path)
	require.NoError(t, err)
	defer c2.Close()

	assert.Equal(t, 2, c2.SegmentCount())
	assert.Equal(t, []string{"kv", "log"}, c2.SegmentIDs())
	assert.True(t, c2.LastChecksumOK())

	seg, err := c2.Segment("kv")
	require.NoError(t, err)
	assert.Equal(t, segment.TypeKV, seg.Type())

	payload, err := seg.Payload()
	require.NoError(t, err)
	records, err := segment.DecodeKV(payload)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "k", records[0].Key)
}

func TestOpenAbsentWithoutCreate(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "absent.rvf"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFlushIsAtomic(t *testing.T) {
	c, path := newContainer(t)

	_, err := c.CreateSegment("meta", segment.TypeMeta)
	require.NoError(t, err)
	require.NoError(t, c.SetPayload("meta", []byte("v1")))
	require.NoError(t, c.Flush())

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, c.SetPayload("meta", []byte("v2")))
	require.NoError(t, c.Flush())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	// No temp file lingers after a successful flush.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSingleByteCorruptionDetected(t *testing.T) {
	c, path := newContainer(t)

	_, err := c.CreateSegment("log", segment.TypeLog)
	require.NoError(t, err)
	logPayload, err := segment.EncodeLog([]segment.LogRecord{{Seq: 1, Payload: []byte("event")}})
	require.NoError(t, err)
	require.NoError(t, c.SetPayload("log", logPayload))
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Flip one payload byte.
	data[len(data)-DigestSize-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenFile(path)
	var checksum *ChecksumError
	require.ErrorAs(t, err, &checksum)

	require.Error(t, Validate(path))
}

func TestAppendPayloadIncrementalCRC(t *testing.T) {
	c, path := newContainer(t)

	_, err := c.CreateSegment("log", segment.TypeLog)
	require.NoError(t, err)

	var prev uint64
	for seq := uint64(1); seq <= 3; seq++ {
		buf, err := segment.AppendLog(nil, &segment.LogRecord{Seq: seq, Payload: []byte("e")}, prev)
		require.NoError(t, err)
		require.NoError(t, c.AppendPayload("log", buf))
		prev = seq
	}
	require.NoError(t, c.Close())

	// The incrementally maintained CRC must match a full recompute.
	require.NoError(t, Validate(path))

	c2, err := OpenFile(path)
	require.NoError(t, err)
	defer c2.Close()

	seg, err := c2.Segment("log")
	require.NoError(t, err)
	payload, err := seg.Payload()
	require.NoError(t, err)

	records, err := segment.DecodeLog(payload)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(3), records[2].Seq)
}

func TestWriteLockExcludesSecondWriter(t *testing.T) {
	c, path := newContainer(t)

	_, err := OpenFile(path, WithCreate())
	require.ErrorIs(t, err, ErrLocked)

	// Readers are not excluded.
	require.NoError(t, c.Flush())
	r, err := OpenFile(path, WithReadOnly())
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestReadOnlyRejectsMutations(t *testing.T) {
	c, path := newContainer(t)
	_, err := c.CreateSegment("kv", segment.TypeKV)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	r, err := OpenFile(path, WithReadOnly())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.CreateSegment("x", segment.TypeMeta)
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, r.SetPayload("kv", []byte("x")), ErrReadOnly)
	require.ErrorIs(t, r.AppendPayload("kv", []byte("x")), ErrReadOnly)
	require.ErrorIs(t, r.Flush(), ErrReadOnly)
}

func TestSegmentLifecycleErrors(t *testing.T) {
	c, _ := newContainer(t)

	_, err := c.CreateSegment("kv", segment.TypeKV)
	require.NoError(t, err)

	_, err = c.CreateSegment("kv", segment.TypeKV)
	require.ErrorIs(t, err, ErrSegmentExists)

	_, err = c.CreateSegment("waytoolongid", segment.TypeKV)
	require.Error(t, err)

	_, err = c.Segment("missing")
	require.ErrorIs(t, err, ErrSegmentNotFound)

	require.ErrorIs(t, c.SetPayload("missing", nil), ErrSegmentNotFound)
}

func TestUnsupportedMajorVersion(t *testing.T) {
	c, path := newContainer(t)
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Bump the major version and re-seal the digest.
	data[4] = 0xff
	data = resign(data)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenFile(path)
	var version *VersionError
	require.ErrorAs(t, err, &version)
}

func TestUnknownSegmentTypeSurvives(t *testing.T) {
	c, path := newContainer(t)

	_, err := c.CreateSegment("future", segment.Type(42))
	require.NoError(t, err)
	require.NoError(t, c.SetPayload("future", []byte{9, 9, 9}))
	require.NoError(t, c.Close())

	require.NoError(t, Validate(path))

	c2, err := OpenFile(path)
	require.NoError(t, err)
	defer c2.Close()

	seg, err := c2.Segment("future")
	require.NoError(t, err)
	payload, err := seg.Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, payload)
}

func TestValidateParsesKnownTypes(t *testing.T) {
	c, path := newContainer(t)

	_, err := c.CreateSegment("kv", segment.TypeKV)
	require.NoError(t, err)
	require.NoError(t, c.SetPayload("kv", []byte("definitely not a kv stream")))
	require.NoError(t, c.Close())

	// Whole-file digest and CRC agree, but the KV payload is garbage.
	var corrupt *segment.CorruptError
	require.ErrorAs(t, Validate(path), &corrupt)
}

func TestReadOnlyToleratesCorruptSegment(t *testing.T) {
	c, path := newContainer(t)

	_, err := c.CreateSegment("meta", segment.TypeMeta)
	require.NoError(t, err)
	require.NoError(t, c.SetPayload("meta", []byte("metadata")))
	_, err = c.CreateSegment("future", segment.Type(42))
	require.NoError(t, err)
	require.NoError(t, c.SetPayload("future", []byte("intact")))
	require.NoError(t, c.Close())

	// Damage the meta payload but keep the whole-file digest consistent,
	// leaving only the segment CRC to disagree.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-DigestSize-len("intact")-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, resign(data), 0o644))

	// A writer refuses the damaged container outright.
	_, err = OpenFile(path)
	var corrupt *segment.CorruptError
	require.ErrorAs(t, err, &corrupt)

	// Read-only inspection still serves the intact segment.
	r, err := OpenFile(path, WithReadOnly())
	require.NoError(t, err)
	defer r.Close()

	seg, err := r.Segment("future")
	require.NoError(t, err)
	payload, err := seg.Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte("intact"), payload)

	damaged, err := r.Segment("meta")
	require.NoError(t, err)
	_, err = damaged.Payload()
	require.ErrorAs(t, err, &corrupt)
}

// resign recomputes the trailing whole-file digest after a test mutated
// the body.
func resign(data []byte) []byte {
	body := data[:len(data)-DigestSize]
	sum := sha256.Sum256(body)
	return append(append([]byte(nil), body...), sum[:]...)
}
