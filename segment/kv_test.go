package segment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVRoundTrip(t *testing.T) {
	now := time.Unix(0, 1700000000000000000).UTC()
	records := []KVRecord{
		{
			Key:       "greeting",
			Value:     []byte("hello"),
			Namespace: "notes",
			Tags:      []string{"demo", "test"},
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		},
		{
			Key:       "empty-value",
			Namespace: "notes",
			CreatedAt: now,
			UpdatedAt: now.Add(time.Second),
			ExpiresAt: now.Add(time.Hour),
			Version:   3,
		},
		{
			Key:     "bare",
			Value:   []byte{0, 1, 2, 255},
			Version: 1,
		},
	}

	payload, err := EncodeKV(records)
	require.NoError(t, err)

	decoded, err := DecodeKV(payload)
	require.NoError(t, err)
	require.Len(t, decoded, len(records))

	for i := range records {
		assert.Equal(t, records[i].Key, decoded[i].Key)
		assert.Equal(t, records[i].Namespace, decoded[i].Namespace)
		assert.Equal(t, records[i].Tags, decoded[i].Tags)
		assert.Equal(t, records[i].Version, decoded[i].Version)
		assert.True(t, records[i].CreatedAt.Equal(decoded[i].CreatedAt))
		assert.True(t, records[i].ExpiresAt.Equal(decoded[i].ExpiresAt))
		if len(records[i].Value) == 0 {
			assert.Empty(t, decoded[i].Value)
		} else {
			assert.Equal(t, records[i].Value, decoded[i].Value)
		}
	}
}

func TestKVAppendIncremental(t *testing.T) {
	rec1 := KVRecord{Key: "a", Value: []byte("1"), Version: 1}
	rec2 := KVRecord{Key: "b", Value: []byte("2"), Version: 1}

	buf, err := AppendKV(nil, &rec1)
	require.NoError(t, err)
	buf, err = AppendKV(buf, &rec2)
	require.NoError(t, err)

	decoded, err := DecodeKV(buf)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "a", decoded[0].Key)
	assert.Equal(t, "b", decoded[1].Key)
}

func TestKVRejectsBadKeys(t *testing.T) {
	_, err := AppendKV(nil, &KVRecord{Key: ""})
	require.Error(t, err)

	_, err = AppendKV(nil, &KVRecord{Key: strings.Repeat("x", 0x10000)})
	require.Error(t, err)
}

func TestKVDecodeTruncated(t *testing.T) {
	payload, err := EncodeKV([]KVRecord{{Key: "k", Value: []byte("value"), Version: 1}})
	require.NoError(t, err)

	for _, cut := range []int{1, 3, 7, len(payload) - 1} {
		_, err := DecodeKV(payload[:cut])
		var corrupt *CorruptError
		require.ErrorAs(t, err, &corrupt, "cut at %d", cut)
	}
}

func TestKVExpired(t *testing.T) {
	now := time.Now()

	rec := KVRecord{Key: "k"}
	assert.False(t, rec.Expired(now), "no expiry never expires")

	rec.ExpiresAt = now.Add(-time.Second)
	assert.True(t, rec.Expired(now))

	rec.ExpiresAt = now.Add(time.Second)
	assert.False(t, rec.Expired(now))
}

func TestDescriptorRoundTrip(t *testing.T) {
	d := Descriptor{
		ID:       "vec",
		Type:     TypeVec,
		Offset:   4096,
		Length:   1 << 20,
		Checksum: 0xdeadbeef,
	}

	buf := make([]byte, DescriptorSize)
	require.NoError(t, d.Encode(buf))

	got, err := DecodeDescriptor(buf)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDescriptorRejectsBadIDs(t *testing.T) {
	buf := make([]byte, DescriptorSize)

	d := Descriptor{ID: ""}
	require.Error(t, d.Encode(buf))

	d.ID = "toolongid"
	require.Error(t, d.Encode(buf))

	_, err := DecodeDescriptor(make([]byte, DescriptorSize))
	require.Error(t, err, "all-zero descriptor has an empty id")

	_, err = DecodeDescriptor(buf[:10])
	require.Error(t, err)
}

func TestUnknownTypeSkippable(t *testing.T) {
	assert.True(t, TypeKV.Known())
	assert.True(t, TypeMeta.Known())
	assert.False(t, Type(200).Known())
}
