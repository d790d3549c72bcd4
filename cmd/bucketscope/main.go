package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sydlexius/bucketscope/internal/config"
	"github.com/sydlexius/bucketscope/internal/logging"
)

var (
	cfg        *config.Config
	configPath string // config file actually used, empty when none exists
	logManager *logging.Manager

	flagConfigFilePath string
	flagVerbose        bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "config file to load (default $BS_CONFIG_PATH or ./bucketscope.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initBucketscope
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logManager != nil {
			logManager.Close() //nolint:errcheck
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sizeCmd)
	rootCmd.AddCommand(bucketsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "bucketscope",
	Short:        "Compute folder sizes in S3-compatible buckets",
	SilenceUsage: true,
}

func resolveConfigPath() string {
	if flagConfigFilePath != "" {
		return flagConfigFilePath
	}
	if p, ok := os.LookupEnv("BS_CONFIG_PATH"); ok {
		return p
	}
	return "bucketscope.yaml"
}

func initBucketscope(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}

	path := resolveConfigPath()
	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		configPath = path
	}

	// --verbose wins over the config file.
	if flagVerbose {
		cfg.Logging.Level = "debug"
	}
	// One-shot commands keep stdout for results.
	if cmd != serveCmd {
		cfg.Logging.Console = "stderr"
	}

	var logger *slog.Logger
	logManager, logger = logging.NewManager(cfg.Logging)
	slog.SetDefault(logger)
	logger.Debug("config loaded", "path", configPath, "logging", cfg.Logging)
	return nil
}
