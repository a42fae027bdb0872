package migration

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ruvector/rvf/segment"
)

// flatFileReader reads the legacy JSON flat-file store: a single document
// with optional "memories", "vectors" and "events" arrays. The whole file
// is parsed up front; flat-file stores were the small-deployment path.
type flatFileReader struct {
	doc flatDocument
}

type flatDocument struct {
	Memories []flatMemory `json:"memories"`
	Vectors  []flatVector `json:"vectors"`
	Events   []flatEvent  `json:"events"`
}

type flatMemory struct {
	Key       string   `json:"key"`
	Value     string   `json:"value"`
	Namespace string   `json:"namespace"`
	Tags      []string `json:"tags"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	ExpiresAt int64    `json:"expiresAt"`
	Version   uint32   `json:"version"`
}

type flatVector struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

type flatEvent struct {
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Payload   string `json:"payload"`
}

// OpenFlatFile parses a legacy JSON store.
func OpenFlatFile(path string) (LegacyReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open legacy flat file: %w", err)
	}

	var doc flatDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse legacy flat file: %w", err)
	}

	return &flatFileReader{doc: doc}, nil
}

func (r *flatFileReader) KV(fn func(rec segment.KVRecord) error) error {
	for _, m := range r.doc.Memories {
		rec := segment.KVRecord{
			Key:       m.Key,
			Value:     []byte(m.Value),
			Namespace: m.Namespace,
			Tags:      m.Tags,
			CreatedAt: unixMillis(m.CreatedAt),
			UpdatedAt: unixMillis(m.UpdatedAt),
			Version:   m.Version,
		}
		if m.ExpiresAt > 0 {
			rec.ExpiresAt = unixMillis(m.ExpiresAt)
		}
		if rec.Version == 0 {
			rec.Version = 1
		}

		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *flatFileReader) Vectors(fn func(id string, vec []float32) error) error {
	for _, v := range r.doc.Vectors {
		if err := fn(v.ID, v.Vector); err != nil {
			return err
		}
	}
	return nil
}

func (r *flatFileReader) Log(fn func(rec segment.LogRecord) error) error {
	for _, e := range r.doc.Events {
		err := fn(segment.LogRecord{
			Seq:       e.Seq,
			Timestamp: unixMillis(e.Timestamp),
			Payload:   []byte(e.Payload),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *flatFileReader) Close() error { return nil }
