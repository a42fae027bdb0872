package rvf

import (
	"log/slog"

	"github.com/ruvector/rvf/hnsw"
	"github.com/ruvector/rvf/metric"
	"github.com/ruvector/rvf/migration"
	"github.com/ruvector/rvf/quantization"
)

type options struct {
	logger      *slog.Logger
	readOnly    bool
	autoMigrate bool

	quantization quantization.Mode
	metric       metric.Kind
	rangeMin     float32
	rangeMax     float32
	index        hnsw.Options

	migration []func(*migration.Options)
}

func defaultOptions() options {
	return options{
		autoMigrate:  true,
		quantization: quantization.FP32,
		metric:       metric.SquaredL2Kind,
		rangeMin:     -1,
		rangeMax:     1,
		index:        hnsw.DefaultOptions,
	}
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReadOnly opens the store for inspection only: no write lock is
// taken, mutations fail with ErrReadOnly, and segments whose CRC
// disagrees are reported per segment instead of failing the open.
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// WithoutAutoMigrate disables the automatic legacy-store migration.
// Open then fails with ErrMigrationRequired for legacy sources.
func WithoutAutoMigrate() Option {
	return func(o *options) { o.autoMigrate = false }
}

// WithQuantization selects the storage mode for new vector segments.
// Existing segments keep the mode they were written with.
func WithQuantization(m quantization.Mode) Option {
	return func(o *options) { o.quantization = m }
}

// WithMetric selects the distance metric for new vector segments.
func WithMetric(k metric.Kind) Option {
	return func(o *options) { o.metric = k }
}

// WithQuantizationRange sets the expected value range used to calibrate
// the scalar quantization modes. Ignored by FP32 and FP16.
func WithQuantizationRange(min, max float32) Option {
	return func(o *options) {
		o.rangeMin = min
		o.rangeMax = max
	}
}

// WithIndexOptions tunes the HNSW graph.
func WithIndexOptions(io hnsw.Options) Option {
	return func(o *options) { o.index = io }
}

// WithMigrationOptions forwards options to the automatic migration,
// e.g. migration.WithThrottle or migration.WithArchive.
func WithMigrationOptions(fns ...func(*migration.Options)) Option {
	return func(o *options) { o.migration = append(o.migration, fns...) }
}
