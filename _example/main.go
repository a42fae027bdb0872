package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ruvector/rvf"
)

func main() {
	dir, err := os.MkdirTemp("", "rvf-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()

	// 1. Open (or create) a store.
	store, err := rvf.Open(filepath.Join(dir, "memory.rvf"))
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer store.Close()

	// 2. Key-value records with tags.
	fmt.Println("--- Store ---")
	for i, key := range []string{"alpha", "beta", "gamma"} {
		err := store.Store(ctx, rvf.KVRecord{
			Namespace: "notes",
			Key:       key,
			Value:     fmt.Appendf(nil, "note %d", i),
			Tags:      []string{"example"},
		})
		if err != nil {
			log.Fatalf("store: %v", err)
		}
	}

	rec, err := store.Get(ctx, "notes", "alpha")
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	fmt.Printf("notes/alpha = %q (v%d)\n\n", rec.Value, rec.Version)

	// 3. Embeddings and nearest-neighbor search.
	fmt.Println("--- Search ---")
	vectors := map[string][]float32{
		"v1": {1, 0, 0, 0},
		"v2": {0, 1, 0, 0},
		"v3": {0, 0, 1, 0},
		"v4": {0.5, 0.5, 0, 0},
	}
	for id, vec := range vectors {
		if err := store.StoreVector(ctx, id, vec); err != nil {
			log.Fatalf("store vector: %v", err)
		}
	}

	start := time.Now()
	results, err := store.Search(ctx, []float32{0.9, 0.1, 0, 0}, 2)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	for _, r := range results {
		fmt.Printf("%s  distance=%.4f\n", r.ID, r.Distance)
	}
	fmt.Printf("elapsed: %s\n\n", time.Since(start))

	// 4. Event log.
	fmt.Println("--- Log ---")
	for _, event := range []string{"created alpha", "created beta"} {
		seq, err := store.Append(ctx, []byte(event))
		if err != nil {
			log.Fatalf("append: %v", err)
		}
		fmt.Printf("seq %d: %s\n", seq, event)
	}

	// 5. Durability and health.
	if err := store.Flush(ctx); err != nil {
		log.Fatalf("flush: %v", err)
	}

	h := store.Health(ctx)
	fmt.Printf("\nsegments=%d kv=%d vectors=%d lastSeq=%d checksumOK=%v\n",
		h.SegmentCount, h.KVRecords, h.VectorRecords, h.LastLogSeq, h.LastChecksumOK)
}
