// Package cmd provides the CLI commands for the akidb command, a thin
// wrapper around the Collection Service: every subcommand opens the
// metadata store, wires the Collection Service and returns one of the
// documented exit codes so scripts can branch on failure class without
// parsing output.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/akidb/akidb/internal/collection"
	"github.com/akidb/akidb/internal/compaction"
	"github.com/akidb/akidb/internal/config"
	"github.com/akidb/akidb/internal/embedding"
	akierrors "github.com/akidb/akidb/internal/errors"
	"github.com/akidb/akidb/internal/logging"
	"github.com/akidb/akidb/internal/metadata"
	"github.com/akidb/akidb/internal/output"
	"github.com/akidb/akidb/internal/storage"
	"github.com/akidb/akidb/internal/wal"
)

// Flags shared across every subcommand.
var (
	flagConfigPath string
	flagDataDir    string
	flagEmbedder   string
	flagOllamaHost string
	flagDebug      bool
)

// app bundles the process-lifetime state every subcommand operates
// against, assembled once in PersistentPreRunE and torn down in
// PersistentPostRunE.
type app struct {
	cfg        config.Config
	meta       *metadata.Store
	svc        *collection.Service
	scheduler  *compaction.Scheduler
	watcher    *config.Watcher
	logCleanup func()
	out        *output.Writer
}

var current *app

// NewRootCmd assembles the akidb command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "akidb",
		Short:         "RAM-first vector database core — thin CLI wrapper",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			teardown()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to akidb config YAML (optional)")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override server.data_dir from config")
	root.PersistentFlags().StringVar(&flagEmbedder, "embedder", "static", "embedding provider for text inserts: null|static|ollama")
	root.PersistentFlags().StringVar(&flagOllamaHost, "ollama-host", "", "Ollama endpoint when --embedder=ollama")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug-level file logging")

	root.AddCommand(
		newCreateCollectionCmd(),
		newDropCollectionCmd(),
		newInsertCmd(),
		newQueryCmd(),
		newDeleteCmd(),
		newCompactCmd(),
		newStatsCmd(),
		newDoctorCmd(),
	)
	return root
}

// Execute runs the root command and returns the process exit code: 0
// success, 1 generic failure, 2 invalid configuration, 3 overloaded, 4
// storage unavailable.
func Execute() int {
	root := NewRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		output.NewAuto(os.Stderr).Error(err.Error())
		return exitCodeFor(err)
	}
	return 0
}

func exitCodeFor(err error) int {
	switch akierrors.KindOf(err) {
	case akierrors.InvalidInput:
		return 2
	case akierrors.Overloaded:
		return 3
	case akierrors.StorageUnavailable:
		return 4
	default:
		return 1
	}
}

func setup(ctx context.Context) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return akierrors.Wrap(akierrors.InvalidInput, "load config", err)
	}
	if flagDataDir != "" {
		cfg.Server.DataDir = flagDataDir
	}

	logCfg := logging.DefaultConfig()
	if flagDebug {
		logCfg = logging.DebugConfig()
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return akierrors.Wrap(akierrors.Internal, "setup logging", err)
	}
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		logCleanup()
		return akierrors.Wrap(akierrors.StorageUnavailable, "create data dir", err)
	}

	meta, err := metadata.Open(filepath.Join(cfg.Server.DataDir, "catalog.db"))
	if err != nil {
		logCleanup()
		return akierrors.Wrap(akierrors.StorageUnavailable, "open metadata store", err)
	}

	provider := providerFor(flagEmbedder, flagOllamaHost)

	// touchFn is filled in once the scheduler exists, below — Options
	// needs an ActivityHook before the Service that will feed the
	// scheduler even exists.
	var touchFn func(string)
	svc, err := collection.New(meta, provider, collection.Options{
		DataDir: cfg.Server.DataDir,
		WAL: wal.Options{
			Policy:      wal.ParsePolicy(cfg.WAL.Fsync),
			BatchWindow: time.Duration(cfg.WAL.BatchWindowMs) * time.Millisecond,
			BatchCount:  cfg.WAL.BatchCount,
		},
		Storage: storage.Options{
			DataDir:                 cfg.Server.DataDir,
			HotBytes:                cfg.Storage.HotBytes,
			HotAge:                  time.Duration(cfg.Storage.HotAgeMs) * time.Millisecond,
			UploadMaxAttempts:       cfg.Storage.UploadMaxAttempts,
			UploadInitialBackoff:    time.Duration(cfg.Storage.UploadInitialBackoffMs) * time.Millisecond,
			UploadJitter:            cfg.Storage.UploadJitter,
			CircuitFailureThreshold: cfg.Storage.CircuitFailureThreshold,
			CircuitResetTimeout:     time.Duration(cfg.Storage.CircuitResetTimeoutMs) * time.Millisecond,
			CircuitRateThreshold:    cfg.Storage.CircuitRateThreshold,
			CircuitRateWindow:       time.Duration(cfg.Storage.CircuitRateWindowMs) * time.Millisecond,
			CircuitMinRateSamples:   cfg.Storage.CircuitMinRateSamples,
			DLQMaxDepth:             cfg.Storage.DLQMaxDepth,
			ColdCacheSize:           256,
		},
		EmbeddingConcurrency: cfg.Embedding.Concurrency,
		EmbeddingCacheSize:   1024,
		DrainTimeout:         30 * time.Second,
		ActivityHook: func(id string) {
			if touchFn != nil {
				touchFn(id)
			}
		},
	})
	if err != nil {
		meta.Close()
		logCleanup()
		return akierrors.Wrap(akierrors.Internal, "start collection service", err)
	}

	if err := svc.Load(ctx); err != nil {
		meta.Close()
		logCleanup()
		return akierrors.Wrap(akierrors.StorageUnavailable, "reload existing collections", err)
	}

	scheduler := compaction.NewScheduler(svc, compaction.Config{
		Enabled:         cfg.Compaction.Enabled,
		OrphanThreshold: cfg.Compaction.OrphanThreshold,
		MinOrphanCount:  cfg.Compaction.MinOrphanCount,
		IdleTimeout:     time.Duration(cfg.Compaction.IdleTimeoutMs) * time.Millisecond,
		SweepInterval:   5 * time.Second,
	}, logger)
	touchFn = scheduler.Touch
	scheduler.Start(ctx)

	var watcher *config.Watcher
	if flagConfigPath != "" {
		watcher, err = config.NewWatcher(flagConfigPath, logger, func(config.Config) {
			logger.Info("config file changed; this process keeps the configuration it started with")
		})
		if err != nil {
			logger.Warn("config hot-reload watcher unavailable", slog.String("error", err.Error()))
		}
	}

	current = &app{
		cfg:        cfg,
		meta:       meta,
		svc:        svc,
		scheduler:  scheduler,
		watcher:    watcher,
		logCleanup: logCleanup,
		out:        output.NewAuto(os.Stdout),
	}
	return nil
}

func teardown() {
	if current == nil {
		return
	}
	if current.watcher != nil {
		current.watcher.Close()
	}
	current.scheduler.Stop()
	current.svc.Close()
	current.meta.Close()
	if current.logCleanup != nil {
		current.logCleanup()
	}
	current = nil
}

func providerFor(mode, ollamaHost string) embedding.Provider {
	switch mode {
	case "ollama":
		cfg := embedding.DefaultOllamaConfig()
		if ollamaHost != "" {
			cfg.Host = ollamaHost
		}
		return embedding.NewOllamaProvider(cfg)
	case "null":
		return embedding.NullProvider{}
	default:
		return embedding.NewStaticProvider(0)
	}
}
