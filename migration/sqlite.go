package migration

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver for legacy stores

	"github.com/ruvector/rvf/segment"
)

// sqliteReader reads the legacy relational memory store. The schema the
// old tooling wrote:
//
//	memory_entries(key, value, namespace, tags, created_at, updated_at,
//	               expires_at, version)
//	vector_embeddings(id, dim, embedding)
//	event_log(seq, timestamp, payload)
//
// Tables that are absent are simply skipped; half-migrated legacy stores
// in the wild frequently miss one of them.
type sqliteReader struct {
	db *sql.DB
}

// OpenSQLite opens a legacy relational store read-only.
func OpenSQLite(path string) (LegacyReader, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open legacy sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open legacy sqlite store: %w", err)
	}

	return &sqliteReader{db: db}, nil
}

func (r *sqliteReader) hasTable(name string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&count)
	return count > 0, err
}

func (r *sqliteReader) KV(fn func(rec segment.KVRecord) error) error {
	ok, err := r.hasTable("memory_entries")
	if err != nil || !ok {
		return err
	}

	rows, err := r.db.Query(`
		SELECT key, value, namespace, tags, created_at, updated_at, expires_at, version
		FROM memory_entries ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("read memory_entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, namespace string
			value          []byte
			tags           sql.NullString
			createdAt      int64
			updatedAt      int64
			expiresAt      sql.NullInt64
			version        uint32
		)
		if err := rows.Scan(&key, &value, &namespace, &tags, &createdAt, &updatedAt, &expiresAt, &version); err != nil {
			return fmt.Errorf("scan memory_entries: %w", err)
		}

		rec := segment.KVRecord{
			Key:       key,
			Value:     value,
			Namespace: namespace,
			Tags:      splitTags(tags.String),
			CreatedAt: unixMillis(createdAt),
			UpdatedAt: unixMillis(updatedAt),
			Version:   version,
		}
		if expiresAt.Valid && expiresAt.Int64 > 0 {
			rec.ExpiresAt = unixMillis(expiresAt.Int64)
		}

		if err := fn(rec); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (r *sqliteReader) Vectors(fn func(id string, vec []float32) error) error {
	ok, err := r.hasTable("vector_embeddings")
	if err != nil || !ok {
		return err
	}

	rows, err := r.db.Query(`SELECT id, dim, embedding FROM vector_embeddings ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("read vector_embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        string
			dim       int
			embedding []byte
		)
		if err := rows.Scan(&id, &dim, &embedding); err != nil {
			return fmt.Errorf("scan vector_embeddings: %w", err)
		}

		if dim <= 0 || len(embedding) != dim*4 {
			return fmt.Errorf("vector %q: embedding blob is %d bytes, want %d", id, len(embedding), dim*4)
		}

		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(embedding[i*4:]))
		}

		if err := fn(id, vec); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (r *sqliteReader) Log(fn func(rec segment.LogRecord) error) error {
	ok, err := r.hasTable("event_log")
	if err != nil || !ok {
		return err
	}

	rows, err := r.db.Query(`SELECT seq, timestamp, payload FROM event_log ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("read event_log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     uint64
			ts      int64
			payload []byte
		)
		if err := rows.Scan(&seq, &ts, &payload); err != nil {
			return fmt.Errorf("scan event_log: %w", err)
		}

		if err := fn(segment.LogRecord{Seq: seq, Timestamp: unixMillis(ts), Payload: payload}); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.db.Close()
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// unixMillis interprets legacy timestamps, which the old tooling stored
// as millisecond epochs.
func unixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
