package migration

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvector/rvf/container"
	"github.com/ruvector/rvf/format"
	"github.com/ruvector/rvf/segment"
)

// writeSQLiteStore creates a legacy relational store with the schema the
// old tooling wrote.
func writeSQLiteStore(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "memory.db")

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE memory_entries (
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			namespace TEXT NOT NULL,
			tags TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER,
			version INTEGER NOT NULL
		);
		CREATE TABLE vector_embeddings (
			id TEXT NOT NULL,
			dim INTEGER NOT NULL,
			embedding BLOB NOT NULL
		);
		CREATE TABLE event_log (
			seq INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO memory_entries VALUES
		('alpha', X'6669727374', 'notes', 'a, shared', 1700000000000, 1700000001000, NULL, 1),
		('beta', X'7365636f6e64', 'notes', '', 1700000002000, 1700000003000, 1800000000000, 2)`)
	require.NoError(t, err)

	vec := []float32{0.25, -0.5, 0.75}
	blob := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	_, err = db.Exec(`INSERT INTO vector_embeddings VALUES ('v1', 3, ?)`, blob)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO event_log VALUES (1, 1700000000000, X'01'), (2, 1700000001000, X'02')`)
	require.NoError(t, err)

	return path
}

func TestSQLiteReader(t *testing.T) {
	path := writeSQLiteStore(t, t.TempDir())

	reader, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reader.Close()

	var kv []segment.KVRecord
	require.NoError(t, reader.KV(func(rec segment.KVRecord) error {
		kv = append(kv, rec)
		return nil
	}))
	require.Len(t, kv, 2)
	assert.Equal(t, "alpha", kv[0].Key)
	assert.Equal(t, []byte("first"), kv[0].Value)
	assert.Equal(t, []string{"a", "shared"}, kv[0].Tags)
	assert.True(t, kv[0].ExpiresAt.IsZero())
	assert.Empty(t, kv[1].Tags)
	assert.False(t, kv[1].ExpiresAt.IsZero())
	assert.Equal(t, uint32(2), kv[1].Version)

	var ids []string
	require.NoError(t, reader.Vectors(func(id string, vec []float32) error {
		ids = append(ids, id)
		assert.Equal(t, []float32{0.25, -0.5, 0.75}, vec)
		return nil
	}))
	assert.Equal(t, []string{"v1"}, ids)

	var seqs []uint64
	require.NoError(t, reader.Log(func(rec segment.LogRecord) error {
		seqs = append(seqs, rec.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestSQLiteReaderMissingTables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sparse.db")

	db, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE memory_entries (
		key TEXT, value BLOB, namespace TEXT, tags TEXT,
		created_at INTEGER, updated_at INTEGER, expires_at INTEGER, version INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reader, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reader.Close()

	// Absent tables are skipped, not errors.
	require.NoError(t, reader.Vectors(func(string, []float32) error {
		t.Fatal("no vectors expected")
		return nil
	}))
	require.NoError(t, reader.Log(func(segment.LogRecord) error {
		t.Fatal("no events expected")
		return nil
	}))
}

func TestMigrateSQLite(t *testing.T) {
	dir := t.TempDir()
	source := writeSQLiteStore(t, dir)
	target := filepath.Join(dir, "memory.rvf")

	require.Equal(t, format.LegacyRelational, format.Detect(source))

	eng := NewEngine()
	m, err := eng.Migrate(context.Background(), source, target, format.LegacyRelational)
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, m.Status)
	assert.Equal(t, 2, m.KVRecords)
	assert.Equal(t, 1, m.VectorRecords)
	assert.Equal(t, 2, m.LogRecords)

	require.NoError(t, container.Validate(target))
}
