// Package cmd implements the CLI commands for mediastage.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/mediastage/internal/app"
	"github.com/jmylchreest/mediastage/internal/config"
	"github.com/jmylchreest/mediastage/internal/observability"
	"github.com/jmylchreest/mediastage/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "mediastage",
	Short:   "Fetch ffmpeg and run remux, transcode, and trim jobs",
	Version: version.Short(),
	Long: `mediastage makes sure a working ffmpeg binary is present on the host,
downloading a static build for the current platform when none is found,
and then runs media jobs through it.

Inputs are copied into a staging directory, processed there, and the result
is moved to its final location only when ffmpeg succeeds.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set PersistentPreRunE here to avoid initialization cycle
	// (initLogging references rootCmd.PersistentFlags)
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags
	// Note: These flags are NOT bound to viper. Instead, we check if they were
	// explicitly set using Changed() and only then override the config/env values.
	// This preserves the correct priority: CLI flag > env var > config > default
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mediastage.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("ffmpeg", "", "path to an ffmpeg binary (skips acquisition)")
	rootCmd.PersistentFlags().String("data-dir", "", "base directory for staging")

	mustBindPFlag("ffmpeg.binary_path", rootCmd.PersistentFlags().Lookup("ffmpeg"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Set default configuration values before reading config file
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".mediastage" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/mediastage")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mediastage")
	}

	// Environment variables
	viper.SetEnvPrefix("MEDIASTAGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the slog logger based on configuration.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (MEDIASTAGE_LOGGING_LEVEL, MEDIASTAGE_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, text)
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "text"
	}

	logCfg := config.LoggingConfig{
		Level:      strings.ToLower(level),
		Format:     strings.ToLower(format),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}

	// Handle "warning" as an alias for "warn"
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	// Write back so config.Validate sees the effective values.
	viper.Set("logging.level", logCfg.Level)
	viper.Set("logging.format", logCfg.Format)

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)

	return nil
}

// loadConfig decodes the effective configuration, applying the --data-dir flag.
func loadConfig() (*config.Config, error) {
	if rootCmd.PersistentFlags().Changed("data-dir") {
		dir, _ := rootCmd.PersistentFlags().GetString("data-dir")
		viper.Set("storage.base_dir", dir)
	}
	return config.FromViper(viper.GetViper())
}

// newApp builds the application from the effective configuration.
func newApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, slog.Default())
}

// startApp builds the application and starts its background work: the
// startup purge of files left by earlier runs, partial download cleanup and
// the staging sweeper. The returned stop function halts the sweeper and lets
// an unfinished startup purge complete before the command exits.
func startApp(ctx context.Context) (*app.App, func(), error) {
	a, err := newApp()
	if err != nil {
		return nil, nil, err
	}

	purged, err := a.Start(ctx)
	if err != nil {
		a.Stop()
		return nil, nil, err
	}

	return a, func() {
		a.Stop()
		<-purged
	}, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, so a
// running ffmpeg is killed with the CLI.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
// This helper ensures lint-compliant error handling for viper.BindPFlag.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
