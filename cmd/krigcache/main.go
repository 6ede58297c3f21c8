// Package main provides the krigcache CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"krigcache/internal/logging"
	"krigcache/pkg/config"
	"krigcache/pkg/driver"
	"krigcache/pkg/interpdb"
	"krigcache/pkg/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "krigcache",
		Short: "krigcache - adaptive kriging surrogate cache",
		Long: `krigcache answers evaluations of an expensive vector function from
local kriging models when it can do so within tolerance, and learns from
the evaluations it could not answer.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("krigcache v%s (%s)\n", version, commit)
		},
	})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of samples through the cache",
		RunE:  runBatch,
	}
	runCmd.Flags().String("config", "krigcache.yaml", "YAML configuration file")
	runCmd.Flags().String("params", "", "Key/value parameter file overriding the database settings")
	runCmd.Flags().String("points", "", "Points file")
	runCmd.Flags().String("values", "", "Values and gradients file")
	runCmd.Flags().String("db", "", "Database directory (overrides storage.path)")
	runCmd.Flags().String("metrics-out", "", "Write Prometheus metrics to this file")
	_ = runCmd.MarkFlagRequired("points")
	_ = runCmd.MarkFlagRequired("values")
	rootCmd.AddCommand(runCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database and index statistics",
		RunE:  runStats,
	}
	statsCmd.Flags().String("db", "", "Database directory")
	_ = statsCmd.MarkFlagRequired("db")
	rootCmd.AddCommand(statsCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check the consistency of a stored database",
		RunE:  runCheck,
	}
	checkCmd.Flags().String("db", "", "Database directory")
	_ = checkCmd.MarkFlagRequired("db")
	rootCmd.AddCommand(checkCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", args[0])
			return nil
		},
	})
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the Badger store at path, or an in-memory one when path
// is empty.
func openStore(path, compression string, syncWrites bool) (*store.Database, error) {
	comp, err := store.ParseCompression(compression)
	if err != nil {
		return nil, err
	}
	backend, err := store.OpenBadger(store.BadgerOptions{
		DataDir:    path,
		InMemory:   path == "",
		SyncWrites: syncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return store.New(backend, comp), nil
}

// openDatabase loads the database stored in s, or creates an empty one.
func openDatabase(s *store.Database, opts interpdb.Options, options ...interpdb.Option) (*interpdb.DB, bool, error) {
	exists, err := s.KeyExists("version")
	if err != nil {
		return nil, false, err
	}
	if !exists {
		db, err := interpdb.New(opts, options...)
		return db, false, err
	}
	db, err := interpdb.Load(s, options...)
	return db, true, err
}

func runBatch(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	paramsPath, _ := cmd.Flags().GetString("params")
	pointsPath, _ := cmd.Flags().GetString("points")
	valuesPath, _ := cmd.Flags().GetString("values")
	dbPath, _ := cmd.Flags().GetString("db")
	metricsOut, _ := cmd.Flags().GetString("metrics-out")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Output.LogFormat, cfg.Output.Verbose)

	if paramsPath != "" {
		missing, err := cfg.ApplyParameterFile(paramsPath)
		if err != nil {
			return err
		}
		for _, key := range missing {
			logger.Warn("parameter not found, keeping default", "key", key, "file", paramsPath)
		}
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts, err := cfg.DatabaseOptions()
	if err != nil {
		return err
	}

	s, err := openStore(cfg.Storage.Path, cfg.Storage.Compression, cfg.Storage.SyncWrites)
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	db, loaded, err := openDatabase(s, opts,
		interpdb.WithLogger(logger),
		interpdb.WithMetrics(interpdb.NewPrometheusCollector(reg)))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if loaded {
		fmt.Printf("Loaded database with %d models from %s\n", db.NumberModels(), cfg.Storage.Path)
	}
	printOptions(db.Options())

	d, err := driver.NewDriver(&driver.Params{
		PointsFile:   pointsPath,
		ValuesFile:   valuesPath,
		ChunkSize:    cfg.Batch.ChunkSize,
		PointScaling: cfg.Problem.PointScaling,
		ValueScaling: cfg.Problem.ValueScaling,
	}, db, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runErr := d.Process(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	// Whatever was learned before an interrupt is kept.
	if cfg.Storage.Path != "" {
		if err := db.Save(s); err != nil {
			return fmt.Errorf("saving database: %w", err)
		}
	}
	if metricsOut != "" {
		if err := prometheus.WriteToTextfile(metricsOut, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	printRunMetrics(d.GetMetrics(), db)
	return runErr
}

func printOptions(o interpdb.Options) {
	fmt.Println("================================")
	fmt.Printf("# pointDimension             = %d\n", o.PointDimension)
	fmt.Printf("# valueDimension             = %d\n", o.ValueDimension)
	fmt.Printf("# maxKrigingModelSize        = %d\n", o.MaxKrigingModelSize)
	fmt.Printf("# maxNumberSearchModels      = %d\n", o.MaxNumberSearchModels)
	fmt.Printf("# theta                      = %g\n", o.Theta)
	fmt.Printf("# meanErrorFactor            = %g\n", o.MeanErrorFactor)
	fmt.Printf("# tolerance                  = %g\n", o.Tolerance)
	fmt.Printf("# maxQueryPointModelDistance = %g\n", o.MaxQueryPointModelDistance)
	fmt.Println("================================")
}

func printRunMetrics(m driver.RunMetrics, db *interpdb.DB) {
	fmt.Printf("\nBatch completed in %.2f seconds\n", m.Duration.Seconds())
	fmt.Printf("Points:            %d\n", m.Points)
	fmt.Printf("Hits:              %d (%.2f%%)\n", m.Hits, 100*m.HitRate)
	fmt.Printf("Inserts:           %d (grown %d, extended %d, new %d)\n", m.Inserts, m.Grown, m.Extended, m.NewModels)
	fmt.Printf("Tolerance misses:  %d\n", m.ToleranceMisses)
	fmt.Printf("Max error:         %.6g\n", m.MaxError)
	fmt.Printf("RMSE:              %.6g\n", m.RMSE)
	fmt.Printf("Models:            %d\n", db.NumberModels())
}

func loadStored(cmd *cobra.Command) (*store.Database, *interpdb.DB, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil, nil, fmt.Errorf("database directory: %w", err)
	}
	// Compression is recorded per value, so any setting reads back.
	s, err := openStore(dbPath, "none", false)
	if err != nil {
		return nil, nil, err
	}
	db, err := interpdb.Load(s)
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("loading database: %w", err)
	}
	return s, db, nil
}

func runStats(cmd *cobra.Command, args []string) error {
	s, db, err := loadStored(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sum := db.TreeSummary()
	fmt.Printf("Models:        %d\n", db.NumberModels())
	fmt.Printf("Index height:  %d\n", sum.Height)
	fmt.Printf("Index nodes:   %d\n", sum.Nodes)
	fmt.Printf("Node fill:     %.2f ± %.2f\n", sum.MeanFill, sum.StdDevFill)
	fmt.Println()
	for _, level := range db.TreeStatistics() {
		entries, objects := 0, 0
		for _, n := range level.Nodes {
			entries += n.NumberEntries
			objects += n.NumberObjects
		}
		fmt.Printf("depth %d: %d nodes, %d entries, %d models below\n", level.Depth, len(level.Nodes), entries, objects)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	s, db, err := loadStored(cmd)
	if err != nil {
		// Load already rejects inconsistent state.
		return err
	}
	defer s.Close()

	violations, err := db.CheckConsistency()
	if err != nil {
		return err
	}
	for _, v := range violations {
		fmt.Println(v)
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d consistency violations", len(violations))
	}
	fmt.Printf("OK: %d models, index consistent\n", db.NumberModels())
	return nil
}
