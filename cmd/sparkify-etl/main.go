// Package main implements the sparkify-etl binary.
// It runs the song and log extracts once and exits; the subcommands run a
// single stage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sparkify/sparkify-etl/internal/app"
	"github.com/sparkify/sparkify-etl/internal/config"
	apperrors "github.com/sparkify/sparkify-etl/internal/errors"
	"github.com/sparkify/sparkify-etl/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootFlags struct {
	configFile      string
	input           string
	output          string
	credentialsFile string
	workDir         string
	timeZone        string
	keepWorkDir     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "sparkify-etl",
		Short: "Build the Sparkify star schema from song and log JSON",
		Long: `sparkify-etl reads song_data and log_data JSON from object storage,
builds the songs, artists, users, time and songplays tables and writes them
back as partitioned Parquet.

Environment Variables:
  SPARKIFY_MODE              Stages to run (all, songs, logs)
  SPARKIFY_INPUT             Input root (s3a://bucket/prefix or a local path)
  SPARKIFY_OUTPUT            Output root
  SPARKIFY_CREDENTIALS_FILE  Key-value credentials file (default dl.cfg)
  SPARKIFY_TIME_ZONE         Zone used to derive start_time (default Local)
  SPARKIFY_PUSHGATEWAY_URL   Prometheus Pushgateway for run metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runETL(cmd.Context(), flags, "")
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	pf.StringVar(&flags.input, "input", "", "Input root holding song_data/ and log_data/")
	pf.StringVar(&flags.output, "output", "", "Output root for the parquet datasets")
	pf.StringVar(&flags.credentialsFile, "credentials", "", "Credentials file with AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
	pf.StringVar(&flags.workDir, "work-dir", "", "Local directory for staged files")
	pf.StringVar(&flags.timeZone, "time-zone", "", "IANA zone for start_time derivation")
	pf.BoolVar(&flags.keepWorkDir, "keep-work-dir", false, "Keep the per-run work directory")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the song extract then the log extract",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runETL(cmd.Context(), flags, config.ModeAll)
			},
		},
		&cobra.Command{
			Use:   "songs",
			Short: "Run only the song extract (songs, artists)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runETL(cmd.Context(), flags, config.ModeSongs)
			},
		},
		&cobra.Command{
			Use:   "logs",
			Short: "Run only the log extract (users, time, songplays)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runETL(cmd.Context(), flags, config.ModeLogs)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "sparkify-etl version %s (commit: %s)\n", version, commit)
			},
		},
	)

	return rootCmd
}

func runETL(parent context.Context, flags *rootFlags, mode config.Mode) error {
	logger := logging.NewComponentLogger("sparkify-etl", version)

	cfg, err := loadConfig(flags, mode)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logFailure(logger, err, "Failed to create application")
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if _, err := application.Run(ctx); err != nil {
		logFailure(logger, err, "ETL run failed")
		return err
	}
	return nil
}

func logFailure(logger *logging.ComponentLogger, err error, msg string) {
	logger.Error().
		Err(err).
		Str("category", string(apperrors.GetCategory(err))).
		Str("code", apperrors.GetCode(err)).
		Msg(msg)
}

// loadConfig loads configuration from file, environment, and command line flags.
// A non-empty mode comes from the subcommand and wins over everything else.
func loadConfig(flags *rootFlags, mode config.Mode) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if flags.configFile != "" {
		cfg, err = config.LoadFromFile(flags.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Apply command line flags (highest priority)
	if flags.input != "" {
		cfg.Input = flags.input
	}
	if flags.output != "" {
		cfg.Output = flags.output
	}
	if flags.credentialsFile != "" {
		cfg.CredentialsFile = flags.credentialsFile
	}
	if flags.workDir != "" {
		cfg.WorkDir = flags.workDir
	}
	if flags.timeZone != "" {
		cfg.TimeZone = flags.timeZone
	}
	if flags.keepWorkDir {
		cfg.KeepWorkDir = true
	}
	if mode != "" {
		cfg.Mode = mode
	}

	return cfg, nil
}
