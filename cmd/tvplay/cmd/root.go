// Package cmd implements the CLI commands for tvplay.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string

	// appConfig is loaded once flags are parsed, before any command runs.
	appConfig *config.Config
)

// rootCmd plays the locator given as its argument.
var rootCmd = &cobra.Command{
	Use:     "tvplay <locator>",
	Short:   "Play a live TV stream or recording",
	Version: version.Short(),
	Long: `tvplay demuxes a single input (a file, "-" for stdin, or an http/https
URL), decodes its best video and audio streams and presents them to the
configured outputs in real time.

MPEG-TS and Matroska containers are supported, optionally gzip, bzip2 or
xz compressed. Playback stops at end of input, on SIGINT/SIGTERM, or via
the optional status API.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPlay,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// flagKeys maps config keys to the flags that override them. A flag only
// takes effect when it was set explicitly, so the priority is
// flag > env var > config file > default.
var flagKeys = map[string]string{
	"logging.level":                   "log-level",
	"logging.format":                  "log-format",
	"player.video_stream":             "video",
	"player.audio_stream":             "audio",
	"player.no_audio":                 "no-audio",
	"player.no_video":                 "no-video",
	"player.presentation_buffer_size": "buffer-size",
	"player.frame_interval":           "frame-interval",
	"output.video":                    "video-out",
	"output.video_path":               "video-path",
	"output.audio":                    "audio-out",
	"output.audio_path":               "audio-path",
	"output.window_title":             "title",
	"decoder.backend":                 "decoder",
	"status.enabled":                  "status",
	"status.port":                     "status-port",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Set PersistentPreRunE here to avoid initialization cycle
	// (loadConfig references rootCmd flags)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		appConfig = cfg
		initLogging(cfg.Logging)
		return nil
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/tvplay or $HOME/.tvplay)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	f := rootCmd.Flags()
	f.Int("video", -1, "video stream index to play (-1 = first decodable)")
	f.Int("audio", -1, "audio stream index to play (-1 = first decodable)")
	f.Bool("no-audio", false, "do not play audio")
	f.Bool("no-video", false, "do not play video")
	f.Int("buffer-size", 1, "decoded video frames held ahead of presentation")
	f.String("frame-interval", "40ms", "presentation interval (e.g. 40ms, 25fps)")
	f.String("video-out", "null", "video output (null, raw, snapshot)")
	f.String("video-path", "", "raw video file (\"-\" = stdout) or snapshot directory")
	f.String("audio-out", "null", "audio output (null, pcm)")
	f.String("audio-path", "", "pcm audio file (\"-\" = stdout)")
	f.String("title", "tvplay", "window title")
	f.String("decoder", "ffmpeg", "decoder backend (ffmpeg, passthrough)")
	f.Bool("status", false, "serve the status API")
	f.Int("status-port", 8089, "status API port")
}

// loadConfig reads defaults, the config file and the environment, applies
// any explicitly set flags and validates the result.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	for key, name := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			mustBindPFlag(v, key, f)
		}
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Input.UserAgent == "" {
		cfg.Input.UserAgent = version.UserAgent()
	}
	return cfg, nil
}

// initLogging installs the default logger. Logs always go to stderr so raw
// outputs can use stdout.
func initLogging(cfg config.LoggingConfig) {
	logger := observability.NewLoggerWithWriter(cfg, os.Stderr)
	observability.SetDefault(logger.With(slog.String("app", version.ApplicationName)))
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
