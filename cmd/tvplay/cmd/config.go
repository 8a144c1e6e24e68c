package cmd

import (
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tvplay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing tvplay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  tvplay config dump > config.yaml

Configuration can be set via:
  - Config file (./config.yaml, /etc/tvplay/config.yaml, $HOME/.tvplay/config.yaml)
  - Environment variables (TVPLAY_PLAYER_FRAME_INTERVAL, TVPLAY_OUTPUT_VIDEO, etc.)
  - Command-line flags (for some options)

Environment variables use the TVPLAY_ prefix and underscores for nesting.
Example: player.frame_interval -> TVPLAY_PLAYER_FRAME_INTERVAL`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return dumpDefaults(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags.
// Durations and sizes keep their types and marshal as human-readable text.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}
		if field.Kind() == reflect.Struct {
			result[key] = toMap(field.Interface())
		} else {
			result[key] = field.Interface()
		}
	}
	return result
}

func dumpDefaults(w io.Writer) error {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# tvplay Configuration File")
	fmt.Fprintln(w, "# ==========================")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# All values shown below are defaults.")
	fmt.Fprintln(w, "# Duration format: 40ms, 5s, 1h30m, 25fps")
	fmt.Fprintln(w, "# Size format: 192KB, 1MB")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   TVPLAY_LOGGING_LEVEL, TVPLAY_LOGGING_FORMAT")
	fmt.Fprintln(w, "#   TVPLAY_PLAYER_FRAME_INTERVAL, TVPLAY_PLAYER_PRESENTATION_BUFFER_SIZE")
	fmt.Fprintln(w, "#   TVPLAY_OUTPUT_VIDEO, TVPLAY_OUTPUT_AUDIO")
	fmt.Fprintln(w, "#   TVPLAY_FFMPEG_BINARY")
	fmt.Fprintln(w, "#   etc.")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w)
	_, err = w.Write(yamlData)
	return err
}
