// Package rvf provides an embedded memory store backed by a single
// segmented container file.
//
// A container holds typed segments behind one directory: key-value
// records with namespaces and tags, quantized vector embeddings with an
// HNSW index, an append-only event log, aggregate snapshots and free
// form metadata. The whole file is covered by a trailing checksum and
// every segment by its own CRC, so corruption is detected on open.
//
// # Quick start
//
//	db, err := rvf.Open("memory.rvf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.Store(ctx, rvf.KVRecord{
//	    Namespace: "notes",
//	    Key:       "greeting",
//	    Value:     []byte("hello"),
//	    Tags:      []string{"demo"},
//	})
//
//	err = db.StoreVector(ctx, "doc-1", embedding)
//	hits, err := db.Search(ctx, query, 10)
//
// # Legacy stores
//
// Open detects legacy relational (SQLite) and JSON flat-file stores and
// migrates them into a native container automatically. The legacy file
// is renamed to a .bak sibling, never deleted; see the migration
// package for manual control, dry runs and rollback.
//
// # Concurrency
//
// A writable container is guarded by an advisory file lock: one writer
// per file. Within a process, a Backend is safe for concurrent use.
// Flush publishes changes atomically via rename, so external readers
// never observe a torn file.
package rvf
