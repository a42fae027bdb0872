// Package main implements the rvfmigrate CLI for inspecting, migrating
// and rolling back legacy memory stores.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ruvector/rvf/container"
	"github.com/ruvector/rvf/format"
	"github.com/ruvector/rvf/metric"
	"github.com/ruvector/rvf/migration"
	"github.com/ruvector/rvf/quantization"
)

var (
	targetPath string
	throttle   int
	quantName  string
	metricName string
	dryRun     bool
	force      bool
	verbose    bool
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rvfmigrate",
	Short: "Migrate legacy memory stores to the rvf container format",
	Long: `rvfmigrate converts legacy memory stores (SQLite or JSON flat files)
into native rvf containers. Migrations are manifest-driven: the source
file is renamed to a .bak sibling rather than deleted, interrupted runs
can be retried, and completed runs can be rolled back.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&targetPath, "target", "", "target container path (default: source with .rvf extension)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "scan and validate the source without writing anything")
	runCmd.Flags().BoolVar(&force, "force", false, "discard any existing manifest and target and migrate from scratch")
	runCmd.Flags().IntVar(&throttle, "throttle", 0, "ingest rate cap in bytes per second (0 = unthrottled)")
	runCmd.Flags().StringVar(&quantName, "quantization", "fp32", "vector storage mode: fp32, fp16, int8, int4, binary")
	runCmd.Flags().StringVar(&metricName, "metric", "l2", "distance metric: l2, cosine, dot")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(validateCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <source>",
	Short: "Show the detected format and migration state of a store",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var runCmd = &cobra.Command{
	Use:   "run <source>",
	Short: "Migrate a legacy store to a native container",
	Long: `Migrate a legacy store to a native container.

Examples:
  # Migrate a SQLite store next to itself
  rvfmigrate run memory.db

  # Preview without writing anything
  rvfmigrate run --dry-run memory.db

  # Cap disk bandwidth during migration
  rvfmigrate run --throttle 10485760 memory.db`,
	Args: cobra.ExactArgs(1),
	RunE: runMigrate,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <source>",
	Short: "Undo a completed migration, restoring the legacy store",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollback,
}

var validateCmd = &cobra.Command{
	Use:   "validate <container>",
	Short: "Verify a container's checksums and segment structure",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func resolveTarget(source string) string {
	if targetPath != "" {
		return targetPath
	}
	return strings.TrimSuffix(source, filepath.Ext(source)) + format.Ext
}

func parseQuantization(name string) (quantization.Mode, error) {
	switch strings.ToLower(name) {
	case "fp32":
		return quantization.FP32, nil
	case "fp16":
		return quantization.FP16, nil
	case "int8":
		return quantization.Int8, nil
	case "int4":
		return quantization.Int4, nil
	case "binary":
		return quantization.Binary, nil
	default:
		return 0, fmt.Errorf("unknown quantization mode %q", name)
	}
}

func parseMetric(name string) (metric.Kind, error) {
	switch strings.ToLower(name) {
	case "l2", "squared-l2":
		return metric.SquaredL2Kind, nil
	case "cosine":
		return metric.CosineKind, nil
	case "dot":
		return metric.DotProductKind, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", name)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	source := args[0]
	target := resolveTarget(source)

	f := format.Detect(source)
	fmt.Printf("source: %s\n", source)
	fmt.Printf("format: %s\n", f)
	fmt.Printf("target: %s\n", target)

	m, err := migration.LoadManifest(target)
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Println("migration: none")
		return nil
	}

	fmt.Printf("migration: %s\n", m.Status)
	if m.BackupPath != "" {
		fmt.Printf("backup: %s\n", m.BackupPath)
	}
	if m.Error != "" {
		fmt.Printf("error: %s\n", m.Error)
	}
	if m.Status == migration.StatusComplete {
		fmt.Printf("records: %d kv, %d vectors, %d log\n",
			m.KVRecords, m.VectorRecords, m.LogRecords)
	}

	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	source := args[0]
	target := resolveTarget(source)

	f := format.Detect(source)
	if !f.Legacy() {
		return fmt.Errorf("%s is %s, not a legacy store", source, f)
	}

	quant, err := parseQuantization(quantName)
	if err != nil {
		return err
	}
	kind, err := parseMetric(metricName)
	if err != nil {
		return err
	}

	eng := migration.NewEngine(
		migration.WithLogger(logger()),
		migration.WithThrottle(throttle),
		migration.WithQuantization(quant),
		migration.WithMetric(kind),
	)

	if dryRun {
		rep, err := eng.DryRun(cmd.Context(), source, f)
		if err != nil {
			return err
		}
		fmt.Printf("would migrate %s (%s) to %s\n", source, f, target)
		fmt.Printf("  kv records:     %d\n", rep.KVRecords)
		fmt.Printf("  vector records: %d (dim %d)\n", rep.VectorRecords, rep.VectorDim)
		fmt.Printf("  log records:    %d\n", rep.LogRecords)
		fmt.Printf("  estimated size: %d bytes\n", rep.EstimatedBytes)
		return nil
	}

	if force {
		for _, p := range []string{migration.ManifestPath(target), target} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}

	m, err := eng.Migrate(cmd.Context(), source, target, f)
	if err != nil {
		return err
	}

	fmt.Printf("migrated %s to %s\n", source, target)
	fmt.Printf("  backup: %s\n", m.BackupPath)
	fmt.Printf("  records: %d kv, %d vectors, %d log\n",
		m.KVRecords, m.VectorRecords, m.LogRecords)

	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	source := args[0]
	target := resolveTarget(source)

	eng := migration.NewEngine(migration.WithLogger(logger()))
	if err := eng.Rollback(source, target); err != nil {
		return err
	}

	fmt.Printf("rolled back %s, restored %s\n", target, source)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]

	if err := container.Validate(path); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Printf("%s: ok\n", path)
	return nil
}
