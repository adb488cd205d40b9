package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/mediastage/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing mediastage configuration.`,
}

var configDumpEffective bool

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  mediastage config dump > .mediastage.yaml

Configuration can be set via:
  - Config file (.mediastage.yaml in $HOME, the working directory, or /etc/mediastage)
  - Environment variables (MEDIASTAGE_STORAGE_BASE_DIR, MEDIASTAGE_FFMPEG_BINARY_PATH, etc.)
  - Command-line flags (for some options)

Environment variables use the MEDIASTAGE_ prefix and underscores for nesting.
Example: acquire.check_latest -> MEDIASTAGE_ACQUIRE_CHECK_LATEST

With --effective the values currently in force are shown instead.`,
	RunE: runConfigDump,
}

func init() {
	configDumpCmd.Flags().BoolVar(&configDumpEffective, "effective", false, "show the effective configuration instead of defaults")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		case config.Duration:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func defaultConfig() (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	return config.FromViper(v)
}

func writeConfigDump(w io.Writer, cfg *config.Config) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# mediastage Configuration File")
	fmt.Fprintln(w, "# ==============================")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Duration format: 30s, 5m, 6h, 1d, 1w")
	fmt.Fprintln(w, "# Size format: 200MiB, 1GB")
	fmt.Fprintln(w, "# Sweep schedule: cron expression or descriptor (@every 30m, @hourly); empty disables")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   MEDIASTAGE_STORAGE_BASE_DIR, MEDIASTAGE_STORAGE_SWEEP_SCHEDULE")
	fmt.Fprintln(w, "#   MEDIASTAGE_ACQUIRE_DESTINATION, MEDIASTAGE_ACQUIRE_DOWNLOAD_URL")
	fmt.Fprintln(w, "#   MEDIASTAGE_FFMPEG_BINARY_PATH, MEDIASTAGE_FFMPEG_LOG_LEVEL")
	fmt.Fprintln(w, "#   MEDIASTAGE_LOGGING_LEVEL, MEDIASTAGE_LOGGING_FORMAT")
	fmt.Fprintln(w, "#   etc.")
	fmt.Fprintln(w, "")
	_, err = w.Write(yamlData)
	return err
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configDumpEffective {
		cfg, err = loadConfig()
	} else {
		cfg, err = defaultConfig()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return writeConfigDump(cmd.OutOrStdout(), cfg)
}
