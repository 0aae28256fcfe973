package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aschepis/backscratcher/llmcore/calllog"
	"github.com/aschepis/backscratcher/llmcore/config"
	llmlogger "github.com/aschepis/backscratcher/llmcore/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbPath  string
	logFile string
	pretty  bool
)

var rootCmd = &cobra.Command{
	Use:           "llmcall",
	Short:         "Issue chat and completion calls against configured LLM clients",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Validate that --logfile and --pretty are mutually exclusive
		if logFile != "" && pretty {
			return fmt.Errorf("--logfile and --pretty are mutually exclusive")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.GetConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "call log database path (overrides call_log.path)")
	rootCmd.PersistentFlags().StringVar(&logFile, "logfile", "", "Path to log file. If not set, logs to stderr")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Use pretty console output (only valid when logfile is not set)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every command that talks to a client or the call log needs.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *calllog.Store
	db     *sql.DB
}

func setup() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Command line flags override the logging section of the config
	file, prettyOutput := logFile, pretty
	if file == "" && !prettyOutput {
		file, prettyOutput = cfg.Logging.File, cfg.Logging.Pretty
	}
	logger, err := llmlogger.InitWithOptions(file, prettyOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.CallLog.Disabled && dbPath == "" {
		logger.Debug().Msg("Call log disabled")
		return a, nil
	}

	path := cfg.CallLog.Path
	if dbPath != "" {
		path = dbPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create call log directory: %w", err)
	}
	store, db, err := calllog.Open(path, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("path", path).Msg("Call log opened")

	a.store, a.db = store, db
	return a, nil
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
