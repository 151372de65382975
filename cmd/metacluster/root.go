package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scrypster/metacluster/internal/config"
	"github.com/scrypster/metacluster/internal/storage"
	"github.com/scrypster/metacluster/internal/storage/jsonl"
	"github.com/scrypster/metacluster/internal/storage/postgres"
	"github.com/scrypster/metacluster/internal/storage/sqlite"
)

// app carries state shared by subcommands once the root command has loaded
// configuration.
type app struct {
	configPath string
	logLevel   string
	storeKind  string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "metacluster",
		Short: "Build a hierarchy of meta-clusters from base conversation clusters",
		Long: `metacluster repeatedly asks a language model to propose parent groups for
the current root clusters, assigns every root to one of them, and stops once
the number of roots is small enough.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file overlaid on METACLUSTER_* environment settings")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.storeKind, "store", "", "Result store override (jsonl, sqlite, postgres)")

	root.AddCommand(newReduceCmd(a), newTreeCmd(a), newRunsCmd(a))
	return root
}

// load reads configuration and builds the logger.
func (a *app) load(stderr io.Writer) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadConfigFile(a.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return err
	}

	if a.logLevel != "" || a.storeKind != "" {
		if a.logLevel != "" {
			cfg.Logging.Level = a.logLevel
		}
		if a.storeKind != "" {
			cfg.Storage.Engine = a.storeKind
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg.Logging.Level, stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// newLogger returns a human-readable console logger at level.
func newLogger(level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger(), nil
}

// openStore opens the result store selected by cfg.Storage.
func (a *app) openStore(ctx context.Context) (storage.TreeStore, error) {
	sc := a.cfg.Storage
	switch sc.Engine {
	case "jsonl", "":
		return jsonl.NewTreeStore(filepath.Join(sc.DataPath, "runs"))
	case "sqlite":
		if err := os.MkdirAll(sc.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.NewTreeStore(ctx, filepath.Join(sc.DataPath, "metacluster.db"))
	case "postgres":
		return postgres.NewTreeStore(ctx, sc.PostgresDSN, &a.logger)
	default:
		return nil, fmt.Errorf("unsupported storage engine: %q", sc.Engine)
	}
}
