package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/ruvector/rvf/archive"
	"github.com/ruvector/rvf/container"
	"github.com/ruvector/rvf/format"
	"github.com/ruvector/rvf/hnsw"
	"github.com/ruvector/rvf/metric"
	"github.com/ruvector/rvf/quantization"
	"github.com/ruvector/rvf/segment"
)

// ErrMigrationFailed is the sentinel wrapped by every *MigrationError.
var ErrMigrationFailed = errors.New("migration failed")

// MigrationError reports which step of a migration failed.
type MigrationError struct {
	Step  string
	Cause error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration failed at %s: %v", e.Step, e.Cause)
}

func (e *MigrationError) Unwrap() []error {
	return []error{ErrMigrationFailed, e.Cause}
}

// BackupSuffix is appended to the source path after a successful
// migration. The source is renamed, never deleted.
const BackupSuffix = ".bak"

// Options configure the Engine.
type Options struct {
	// Logger receives structured progress diagnostics. Nil discards them.
	Logger *slog.Logger

	// ThrottleBytesPerSecond caps the ingest rate so a migration does not
	// starve a live workload of disk bandwidth. Zero means unthrottled.
	ThrottleBytesPerSecond int

	// Archive, when set, receives a copy of the .bak backup after a
	// successful migration.
	Archive archive.Store

	// ArchivePrefix namespaces uploaded backups within the archive store.
	ArchivePrefix string

	// Quantization selects the storage mode for migrated vectors.
	Quantization quantization.Mode

	// Metric selects the distance metric baked into the vector segment.
	Metric metric.Kind

	// Index tunes the graph built over the migrated vectors.
	Index hnsw.Options
}

// DefaultOptions keep migrated vectors lossless and index them with the
// stock graph parameters.
var DefaultOptions = Options{
	Quantization: quantization.FP32,
	Metric:       metric.SquaredL2Kind,
	Index:        hnsw.DefaultOptions,
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithThrottle caps the ingest rate in bytes per second.
func WithThrottle(bytesPerSecond int) func(o *Options) {
	return func(o *Options) { o.ThrottleBytesPerSecond = bytesPerSecond }
}

// WithArchive uploads the post-migration backup to the given store.
func WithArchive(store archive.Store, prefix string) func(o *Options) {
	return func(o *Options) {
		o.Archive = store
		o.ArchivePrefix = prefix
	}
}

// WithQuantization selects the vector storage mode.
func WithQuantization(m quantization.Mode) func(o *Options) {
	return func(o *Options) { o.Quantization = m }
}

// WithMetric selects the vector distance metric.
func WithMetric(k metric.Kind) func(o *Options) {
	return func(o *Options) { o.Metric = k }
}

// WithIndexOptions tunes the graph built over migrated vectors.
func WithIndexOptions(io hnsw.Options) func(o *Options) {
	return func(o *Options) { o.Index = io }
}

// Engine runs migrations.
type Engine struct {
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewEngine creates an Engine with the given options.
func NewEngine(optFns ...func(o *Options)) *Engine {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{opts: opts, logger: opts.Logger}
	if opts.ThrottleBytesPerSecond > 0 {
		e.limiter = rate.NewLimiter(
			rate.Limit(opts.ThrottleBytesPerSecond),
			opts.ThrottleBytesPerSecond,
		)
	}

	return e
}

// wait charges n ingested bytes against the throttle.
func (e *Engine) wait(ctx context.Context, n int) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	for n > 0 {
		chunk := n
		if burst := e.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if err := e.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// containerMeta is the JSON stored in the META segment of a migrated
// container. It carries no timestamps: re-running a migration over the
// same source must reproduce the container byte for byte, and the
// manifest sidecar already records when the run happened.
type containerMeta struct {
	SourceFormat format.Format `json:"sourceFormat"`
	SourcePath   string        `json:"sourcePath"`
}

// Migrate converts the legacy store at sourcePath into a native
// container at targetPath.
//
// The run is atomic from the caller's perspective: the target appears
// only after it has been written, flushed and re-validated, and the
// source survives untouched until the very last step, where it is
// renamed to sourcePath+".bak". Re-running a completed migration is a
// no-op; re-running a failed one starts over.
func (e *Engine) Migrate(ctx context.Context, sourcePath, targetPath string, f format.Format) (*Manifest, error) {
	m, err := LoadManifest(targetPath)
	if err != nil {
		return nil, &MigrationError{Step: "load manifest", Cause: err}
	}
	if m != nil && m.Status == StatusComplete {
		if _, statErr := os.Stat(targetPath); statErr == nil {
			e.logger.Info("migration already complete", "target", targetPath)
			return m, nil
		}
	}

	if _, err := os.Stat(sourcePath); err != nil {
		return nil, &MigrationError{Step: "stat source", Cause: err}
	}

	m = &Manifest{
		SourcePath:   sourcePath,
		SourceFormat: f,
		TargetPath:   targetPath,
		Status:       StatusPending,
		StartedAt:    time.Now().UTC(),
	}
	if err := m.Save(); err != nil {
		return nil, &MigrationError{Step: "save manifest", Cause: err}
	}

	reader, err := OpenLegacy(sourcePath, f)
	if err != nil {
		return m, e.fail(m, "open source", err)
	}
	defer reader.Close()

	m.Status = StatusInProgress
	if err := m.Save(); err != nil {
		return m, e.fail(m, "save manifest", err)
	}

	e.logger.Info("migration started",
		"source", sourcePath,
		"format", f.String(),
		"target", targetPath,
	)

	if err := e.writeTarget(ctx, reader, m); err != nil {
		_ = os.Remove(targetPath)
		return m, e.fail(m, "write target", err)
	}

	if err := container.Validate(targetPath); err != nil {
		_ = os.Remove(targetPath)
		return m, e.fail(m, "validate target", err)
	}

	// Point of no return: from here the source is the backup.
	backupPath := sourcePath + BackupSuffix
	if err := os.Rename(sourcePath, backupPath); err != nil {
		_ = os.Remove(targetPath)
		return m, e.fail(m, "rename source to backup", err)
	}

	m.BackupPath = backupPath
	m.Status = StatusComplete
	m.FinishedAt = time.Now().UTC()
	if err := m.Save(); err != nil {
		return m, &MigrationError{Step: "save manifest", Cause: err}
	}

	e.logger.Info("migration complete",
		"target", targetPath,
		"backup", backupPath,
		"kv_records", m.KVRecords,
		"vector_records", m.VectorRecords,
		"log_records", m.LogRecords,
	)

	if e.opts.Archive != nil {
		if err := e.uploadBackup(ctx, backupPath); err != nil {
			// The local backup is intact; archiving is best effort.
			e.logger.Warn("backup archive upload failed", "backup", backupPath, "error", err)
		}
	}

	return m, nil
}

func (e *Engine) writeTarget(ctx context.Context, reader LegacyReader, m *Manifest) error {
	// A stale partial target from an interrupted run is discarded.
	if err := os.Remove(m.TargetPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	cont, err := container.OpenFile(m.TargetPath,
		container.WithCreate(),
		container.WithLogger(e.logger),
	)
	if err != nil {
		return err
	}
	defer cont.Close()

	for _, s := range []struct {
		id string
		t  segment.Type
	}{
		{container.IDKV, segment.TypeKV},
		{container.IDVectors, segment.TypeVec},
		{container.IDLog, segment.TypeLog},
		{container.IDSnapshot, segment.TypeSnap},
		{container.IDMeta, segment.TypeMeta},
		{container.IDIndex, segment.TypeIndex},
	} {
		if _, err := cont.CreateSegment(s.id, s.t); err != nil {
			return err
		}
	}

	if err := e.ingestKV(ctx, reader, cont, m); err != nil {
		return err
	}
	if err := e.ingestVectors(ctx, reader, cont, m); err != nil {
		return err
	}
	if err := e.ingestLog(ctx, reader, cont, m); err != nil {
		return err
	}
	if err := e.buildIndex(cont); err != nil {
		return err
	}

	meta, err := json.Marshal(containerMeta{
		SourceFormat: m.SourceFormat,
		SourcePath:   m.SourcePath,
	})
	if err != nil {
		return err
	}
	if err := cont.SetPayload(container.IDMeta, meta); err != nil {
		return err
	}

	return cont.Flush()
}

func (e *Engine) ingestKV(ctx context.Context, reader LegacyReader, cont *container.Container, m *Manifest) error {
	return reader.KV(func(rec segment.KVRecord) error {
		encoded, err := segment.AppendKV(nil, &rec)
		if err != nil {
			return err
		}
		if err := e.wait(ctx, len(encoded)); err != nil {
			return err
		}
		if err := cont.AppendPayload(container.IDKV, encoded); err != nil {
			return err
		}
		m.KVRecords++
		return nil
	})
}

// ingestVectors runs two passes over the source embeddings: the first
// calibrates the quantizer range and pins the dimensionality, the second
// appends the records. Legacy readers iterate repeatably.
func (e *Engine) ingestVectors(ctx context.Context, reader LegacyReader, cont *container.Container, m *Manifest) error {
	var (
		dim     uint32
		min     = float32(math.Inf(1))
		max     = float32(math.Inf(-1))
		scanned int
	)
	err := reader.Vectors(func(id string, vec []float32) error {
		if dim == 0 {
			dim = uint32(len(vec))
		}
		if len(vec) != int(dim) {
			return fmt.Errorf("vector %q has dim %d, want %d", id, len(vec), dim)
		}
		for _, v := range vec {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		scanned++
		return nil
	})
	if err != nil {
		return err
	}
	if scanned == 0 {
		return nil
	}

	header := segment.VecHeader{
		Dim:          dim,
		Metric:       e.opts.Metric,
		Quantization: e.opts.Quantization,
		Min:          min,
		Max:          max,
	}
	payload := segment.EncodeVecHeader(&header)

	err = reader.Vectors(func(id string, vec []float32) error {
		before := len(payload)
		payload, err = segment.AppendVector(payload, &header, id, vec)
		if err != nil {
			return err
		}
		if err := e.wait(ctx, len(payload)-before); err != nil {
			return err
		}
		m.VectorRecords++
		return nil
	})
	if err != nil {
		return err
	}

	return cont.SetPayload(container.IDVectors, payload)
}

func (e *Engine) ingestLog(ctx context.Context, reader LegacyReader, cont *container.Container, m *Manifest) error {
	var prevSeq uint64
	return reader.Log(func(rec segment.LogRecord) error {
		encoded, err := segment.AppendLog(nil, &rec, prevSeq)
		if err != nil {
			return err
		}
		prevSeq = rec.Seq

		if err := e.wait(ctx, len(encoded)); err != nil {
			return err
		}
		if err := cont.AppendPayload(container.IDLog, encoded); err != nil {
			return err
		}
		m.LogRecords++
		return nil
	})
}

func (e *Engine) buildIndex(cont *container.Container) error {
	seg, err := cont.Segment(container.IDVectors)
	if err != nil {
		return err
	}
	payload, err := seg.Payload()
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}

	source, err := segment.NewVecSource(payload)
	if err != nil {
		return err
	}

	idx := hnsw.New(source, func(o *hnsw.Options) { *o = e.opts.Index })
	if err := idx.BuildFromSource(); err != nil {
		return err
	}

	blob, err := idx.MarshalBinary()
	if err != nil {
		return err
	}

	return cont.SetPayload(container.IDIndex, blob)
}

func (e *Engine) uploadBackup(ctx context.Context, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}

	name := filepath.Base(backupPath)
	if e.opts.ArchivePrefix != "" {
		name = e.opts.ArchivePrefix + "/" + name
	}

	return e.opts.Archive.Put(ctx, name, data)
}

// fail records the failure in the manifest and returns the typed error.
func (e *Engine) fail(m *Manifest, step string, cause error) error {
	m.Status = StatusFailed
	m.Error = cause.Error()
	m.FinishedAt = time.Now().UTC()
	if saveErr := m.Save(); saveErr != nil {
		e.logger.Error("failed to record migration failure", "error", saveErr)
	}

	e.logger.Error("migration failed", "step", step, "error", cause)
	return &MigrationError{Step: step, Cause: cause}
}

// Report summarizes what a migration would do.
type Report struct {
	SourceFormat   format.Format
	KVRecords      uint64
	VectorRecords  uint64
	LogRecords     uint64
	VectorDim      uint32
	EstimatedBytes uint64
}

// DryRun reads the whole source and exercises the record encoders and
// the index build in memory, without touching the file system. Encoding,
// ordering or graph-construction problems in the legacy data surface
// here instead of mid-migration.
func (e *Engine) DryRun(ctx context.Context, sourcePath string, f format.Format) (*Report, error) {
	reader, err := OpenLegacy(sourcePath, f)
	if err != nil {
		return nil, &MigrationError{Step: "open source", Cause: err}
	}
	defer reader.Close()

	rep := &Report{SourceFormat: f}

	err = reader.KV(func(rec segment.KVRecord) error {
		encoded, err := segment.AppendKV(nil, &rec)
		if err != nil {
			return err
		}
		rep.KVRecords++
		rep.EstimatedBytes += uint64(len(encoded))
		return ctx.Err()
	})
	if err != nil {
		return nil, &MigrationError{Step: "scan kv", Cause: err}
	}

	var (
		header  segment.VecHeader
		payload []byte
	)
	err = reader.Vectors(func(id string, vec []float32) error {
		if payload == nil {
			rep.VectorDim = uint32(len(vec))
			header = segment.VecHeader{
				Dim:          rep.VectorDim,
				Metric:       e.opts.Metric,
				Quantization: e.opts.Quantization,
				Min:          -1,
				Max:          1,
			}
			payload = segment.EncodeVecHeader(&header)
		}
		if len(vec) != int(rep.VectorDim) {
			return fmt.Errorf("vector %q has dim %d, want %d", id, len(vec), rep.VectorDim)
		}

		before := len(payload)
		payload, err = segment.AppendVector(payload, &header, id, vec)
		if err != nil {
			return err
		}
		rep.VectorRecords++
		rep.EstimatedBytes += uint64(len(payload) - before)
		return ctx.Err()
	})
	if err != nil {
		return nil, &MigrationError{Step: "scan vectors", Cause: err}
	}

	// The graph build is where degenerate vector data fails; run it over
	// the in-memory arena so a real migration will not be the first try.
	if len(payload) > 0 {
		source, err := segment.NewVecSource(payload)
		if err != nil {
			return nil, &MigrationError{Step: "scan vectors", Cause: err}
		}
		idx := hnsw.New(source, func(o *hnsw.Options) { *o = e.opts.Index })
		if err := idx.BuildFromSource(); err != nil {
			return nil, &MigrationError{Step: "build index", Cause: err}
		}
		blob, err := idx.MarshalBinary()
		if err != nil {
			return nil, &MigrationError{Step: "build index", Cause: err}
		}
		rep.EstimatedBytes += uint64(len(blob))
	}

	var prevSeq uint64
	err = reader.Log(func(rec segment.LogRecord) error {
		encoded, err := segment.AppendLog(nil, &rec, prevSeq)
		if err != nil {
			return err
		}
		prevSeq = rec.Seq
		rep.LogRecords++
		rep.EstimatedBytes += uint64(len(encoded))
		return ctx.Err()
	})
	if err != nil {
		return nil, &MigrationError{Step: "scan log", Cause: err}
	}

	return rep, nil
}

// Rollback undoes a completed migration: the backup is renamed back over
// the source path, the target container is removed and the manifest is
// reset to pending. It is the exact inverse of Migrate's final steps.
func (e *Engine) Rollback(sourcePath, targetPath string) error {
	m, err := LoadManifest(targetPath)
	if err != nil {
		return &MigrationError{Step: "load manifest", Cause: err}
	}

	backupPath := sourcePath + BackupSuffix
	if m != nil && m.BackupPath != "" {
		backupPath = m.BackupPath
	}

	if _, err := os.Stat(backupPath); err != nil {
		return &MigrationError{Step: "stat backup", Cause: err}
	}
	if err := os.Rename(backupPath, sourcePath); err != nil {
		return &MigrationError{Step: "restore backup", Cause: err}
	}
	if err := os.Remove(targetPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &MigrationError{Step: "remove target", Cause: err}
	}

	if m != nil {
		m.Status = StatusPending
		m.BackupPath = ""
		m.Error = ""
		m.FinishedAt = time.Time{}
		if err := m.Save(); err != nil {
			return &MigrationError{Step: "save manifest", Cause: err}
		}
	}

	e.logger.Info("migration rolled back", "source", sourcePath, "target", targetPath)
	return nil
}
