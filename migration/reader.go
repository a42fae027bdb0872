package migration

import (
	"fmt"

	"github.com/ruvector/rvf/format"
	"github.com/ruvector/rvf/segment"
)

// LegacyReader streams every record of a legacy store. Iteration order is
// the source's natural order; log records in particular must arrive in
// their original insertion order.
type LegacyReader interface {
	// KV streams key-value records.
	KV(fn func(rec segment.KVRecord) error) error

	// Vectors streams embedding records.
	Vectors(fn func(id string, vec []float32) error) error

	// Log streams event records in insertion order.
	Log(fn func(rec segment.LogRecord) error) error

	Close() error
}

// OpenLegacy returns the reader matching the detected source format.
func OpenLegacy(path string, f format.Format) (LegacyReader, error) {
	switch f {
	case format.LegacyRelational:
		return OpenSQLite(path)
	case format.LegacyFlatFile:
		return OpenFlatFile(path)
	default:
		return nil, fmt.Errorf("no legacy reader for format %s", f)
	}
}
