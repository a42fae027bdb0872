package segment

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRoundTrip(t *testing.T) {
	now := time.Unix(0, 1700000000000000000).UTC()
	records := []LogRecord{
		{Seq: 1, Timestamp: now, Payload: []byte("first")},
		{Seq: 2, Timestamp: now.Add(time.Second), Payload: nil},
		{Seq: 7, Timestamp: now.Add(time.Minute), Payload: bytes.Repeat([]byte("compress me "), 32)},
	}

	payload, err := EncodeLog(records)
	require.NoError(t, err)

	decoded, err := DecodeLog(payload)
	require.NoError(t, err)
	require.Len(t, decoded, len(records))

	for i := range records {
		assert.Equal(t, records[i].Seq, decoded[i].Seq)
		assert.True(t, records[i].Timestamp.Equal(decoded[i].Timestamp))
		if len(records[i].Payload) == 0 {
			assert.Empty(t, decoded[i].Payload)
		} else {
			assert.Equal(t, records[i].Payload, decoded[i].Payload)
		}
	}
}

func TestLogCompressionShrinksRepetitivePayloads(t *testing.T) {
	payload := bytes.Repeat([]byte("aaaaaaaabbbbbbbb"), 64)

	buf, err := AppendLog(nil, &LogRecord{Seq: 1, Payload: payload}, 0)
	require.NoError(t, err)
	assert.Less(t, len(buf), len(payload), "repetitive payload should compress")

	decoded, err := DecodeLog(buf)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, payload, decoded[0].Payload)
}

func TestLogSeqMustStrictlyIncrease(t *testing.T) {
	buf, err := AppendLog(nil, &LogRecord{Seq: 5, Payload: []byte("x")}, 0)
	require.NoError(t, err)

	_, err = AppendLog(buf, &LogRecord{Seq: 5, Payload: []byte("y")}, 5)
	require.Error(t, err, "equal seq must be rejected")

	_, err = AppendLog(buf, &LogRecord{Seq: 4, Payload: []byte("y")}, 5)
	require.Error(t, err, "decreasing seq must be rejected")

	buf, err = AppendLog(buf, &LogRecord{Seq: 6, Payload: []byte("y")}, 5)
	require.NoError(t, err)

	records, err := DecodeLog(buf)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6}, []uint64{records[0].Seq, records[1].Seq})
}

func TestLastLogSeq(t *testing.T) {
	seq, err := LastLogSeq(nil)
	require.NoError(t, err)
	assert.Zero(t, seq)

	payload, err := EncodeLog([]LogRecord{
		{Seq: 1, Payload: []byte("a")},
		{Seq: 2, Payload: []byte("b")},
		{Seq: 9, Payload: []byte("c")},
	})
	require.NoError(t, err)

	seq, err = LastLogSeq(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seq)

	_, err = LastLogSeq(payload[:len(payload)-1])
	require.Error(t, err)
}

func TestLogDecodeRejectsNonMonotonic(t *testing.T) {
	a, err := AppendLog(nil, &LogRecord{Seq: 3, Payload: []byte("a")}, 0)
	require.NoError(t, err)
	b, err := AppendLog(nil, &LogRecord{Seq: 2, Payload: []byte("b")}, 0)
	require.NoError(t, err)

	_, err = DecodeLog(append(a, b...))
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
}
