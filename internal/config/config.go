// Package config provides configuration management for tvplay using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides (TVPLAY_PLAYER_FRAME_INTERVAL=...).
const EnvPrefix = "TVPLAY"

// Default configuration values.
const (
	defaultPacketQueueCapacity    = 1024
	defaultPresentationBufferSize = 1
	defaultFrameInterval          = 40 * time.Millisecond
	defaultRetryInterval          = 10 * time.Millisecond
	defaultIdleInterval           = 500 * time.Millisecond
	defaultAudioBacklogThreshold  = 192 * KiloByte
	defaultReadRetryDelay         = 10 * time.Millisecond
	defaultEOSDrainTimeout        = 5 * time.Second
	defaultStatsInterval          = 10 * time.Second
	defaultVideoWidth             = 1280
	defaultVideoHeight            = 720
	defaultFrameChannelSize       = 8
	defaultDecoderStopTimeout     = 5 * time.Second
	defaultSnapshotEvery          = 25
	defaultSnapshotWidth          = 320
	defaultSampleRate             = 48000
	defaultChannels               = 2
	defaultHTTPTimeout            = 30 * time.Second
	defaultStatusPort             = 8089
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Player  PlayerConfig  `mapstructure:"player"`
	Decoder DecoderConfig `mapstructure:"decoder"`
	Output  OutputConfig  `mapstructure:"output"`
	Input   InputConfig   `mapstructure:"input"`
	Status  StatusConfig  `mapstructure:"status"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PlayerConfig holds the pipeline sizing and timing.
type PlayerConfig struct {
	// PacketQueueCapacity bounds each per-stream packet queue (0 = unbounded).
	PacketQueueCapacity int `mapstructure:"packet_queue_capacity"`
	// PresentationBufferSize is the number of decoded video frames held ahead of presentation.
	PresentationBufferSize int      `mapstructure:"presentation_buffer_size"`
	FrameInterval          Duration `mapstructure:"frame_interval"`
	RetryInterval          Duration `mapstructure:"retry_interval"`
	IdleInterval           Duration `mapstructure:"idle_interval"`
	// AudioBacklogThreshold pauses the source reader while the audio output holds more than this.
	AudioBacklogThreshold ByteSize `mapstructure:"audio_backlog_threshold"`
	ReadRetryDelay        Duration `mapstructure:"read_retry_delay"`
	// EOSDrainTimeout bounds how long playback continues after end of input while buffers empty.
	EOSDrainTimeout Duration `mapstructure:"eos_drain_timeout"`
	StatsInterval   Duration `mapstructure:"stats_interval"` // 0 disables periodic stats logging
	NoAudio         bool     `mapstructure:"no_audio"`
	NoVideo         bool     `mapstructure:"no_video"`
	VideoStream     int      `mapstructure:"video_stream"` // -1 = first usable
	AudioStream     int      `mapstructure:"audio_stream"` // -1 = first usable
}

// DecoderConfig holds decoder backend configuration.
type DecoderConfig struct {
	Backend          string   `mapstructure:"backend"`     // ffmpeg, passthrough
	BinaryPath       string   `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	DefaultWidth     int      `mapstructure:"default_width"`
	DefaultHeight    int      `mapstructure:"default_height"`
	FrameChannelSize int      `mapstructure:"frame_channel_size"`
	StopTimeout      Duration `mapstructure:"stop_timeout"`
}

// OutputConfig holds audio and video output configuration.
type OutputConfig struct {
	Video         string `mapstructure:"video"`      // null, raw, snapshot
	VideoPath     string `mapstructure:"video_path"` // file ("-" = stdout) for raw, directory for snapshot
	SnapshotEvery int    `mapstructure:"snapshot_every"`
	SnapshotWidth int    `mapstructure:"snapshot_width"`
	Audio         string `mapstructure:"audio"`      // null, pcm
	AudioPath     string `mapstructure:"audio_path"` // file ("-" = stdout) for pcm
	SampleRate    int    `mapstructure:"sample_rate"`
	Channels      int    `mapstructure:"channels"`
	WindowTitle   string `mapstructure:"window_title"`
}

// InputConfig holds source fetching configuration.
type InputConfig struct {
	HTTPTimeout Duration `mapstructure:"http_timeout"`
	UserAgent   string   `mapstructure:"user_agent"`
	// Authorization is sent as the Authorization header for http(s) inputs.
	Authorization string `mapstructure:"authorization" masq:"secret"`
}

// StatusConfig holds the optional status API configuration.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TVPLAY_ and use underscores for nesting.
// Example: TVPLAY_PLAYER_FRAME_INTERVAL=25fps.
func Load(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// NewViper returns a viper instance with defaults, the config file and the
// environment applied. Callers may bind flags on it before FromViper.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tvplay")
		v.AddConfigPath("$HOME/.tvplay")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return v, nil
}

// FromViper decodes and validates configuration already loaded into v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHook lets viper decode ByteSize and Duration from strings, and
// plain numbers from YAML into those types.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationFromNumberHook,
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationFromNumberHook converts time.Duration defaults (int64 nanoseconds) into Duration.
func durationFromNumberHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Duration(0)) {
		return data, nil
	}
	if d, ok := data.(time.Duration); ok {
		return Duration(d), nil
	}
	return data, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Player defaults
	v.SetDefault("player.packet_queue_capacity", defaultPacketQueueCapacity)
	v.SetDefault("player.presentation_buffer_size", defaultPresentationBufferSize)
	v.SetDefault("player.frame_interval", defaultFrameInterval.String())
	v.SetDefault("player.retry_interval", defaultRetryInterval.String())
	v.SetDefault("player.idle_interval", defaultIdleInterval.String())
	v.SetDefault("player.audio_backlog_threshold", defaultAudioBacklogThreshold.String())
	v.SetDefault("player.read_retry_delay", defaultReadRetryDelay.String())
	v.SetDefault("player.eos_drain_timeout", defaultEOSDrainTimeout.String())
	v.SetDefault("player.stats_interval", defaultStatsInterval.String())
	v.SetDefault("player.no_audio", false)
	v.SetDefault("player.no_video", false)
	v.SetDefault("player.video_stream", -1)
	v.SetDefault("player.audio_stream", -1)

	// Decoder defaults
	v.SetDefault("decoder.backend", "ffmpeg")
	v.SetDefault("decoder.binary_path", "")
	v.SetDefault("decoder.default_width", defaultVideoWidth)
	v.SetDefault("decoder.default_height", defaultVideoHeight)
	v.SetDefault("decoder.frame_channel_size", defaultFrameChannelSize)
	v.SetDefault("decoder.stop_timeout", defaultDecoderStopTimeout.String())

	// Output defaults
	v.SetDefault("output.video", "null")
	v.SetDefault("output.video_path", "")
	v.SetDefault("output.snapshot_every", defaultSnapshotEvery)
	v.SetDefault("output.snapshot_width", defaultSnapshotWidth)
	v.SetDefault("output.audio", "null")
	v.SetDefault("output.audio_path", "")
	v.SetDefault("output.sample_rate", defaultSampleRate)
	v.SetDefault("output.channels", defaultChannels)
	v.SetDefault("output.window_title", "tvplay")

	// Input defaults
	v.SetDefault("input.http_timeout", defaultHTTPTimeout.String())
	v.SetDefault("input.user_agent", "")
	v.SetDefault("input.authorization", "")

	// Status API defaults
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.host", "127.0.0.1")
	v.SetDefault("status.port", defaultStatusPort)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Player validation
	p := c.Player
	if p.PacketQueueCapacity < 0 {
		return fmt.Errorf("player.packet_queue_capacity must not be negative")
	}
	if p.PresentationBufferSize < 1 {
		return fmt.Errorf("player.presentation_buffer_size must be at least 1")
	}
	if p.FrameInterval <= 0 || p.RetryInterval <= 0 || p.IdleInterval <= 0 {
		return fmt.Errorf("player frame, retry and idle intervals must be positive")
	}
	if p.RetryInterval >= p.FrameInterval {
		return fmt.Errorf("player.retry_interval (%s) must be shorter than player.frame_interval (%s)", p.RetryInterval, p.FrameInterval)
	}
	if p.ReadRetryDelay <= 0 {
		return fmt.Errorf("player.read_retry_delay must be positive")
	}
	if p.AudioBacklogThreshold < 0 || p.EOSDrainTimeout < 0 || p.StatsInterval < 0 {
		return fmt.Errorf("player.audio_backlog_threshold, eos_drain_timeout and stats_interval must not be negative")
	}
	if p.NoAudio && p.NoVideo {
		return fmt.Errorf("player.no_audio and player.no_video cannot both be set")
	}

	// Decoder validation
	validBackends := map[string]bool{"ffmpeg": true, "passthrough": true}
	if !validBackends[c.Decoder.Backend] {
		return fmt.Errorf("decoder.backend must be one of: ffmpeg, passthrough")
	}
	if c.Decoder.DefaultWidth < 2 || c.Decoder.DefaultHeight < 2 {
		return fmt.Errorf("decoder.default_width and decoder.default_height must be at least 2")
	}
	if c.Decoder.FrameChannelSize < 1 {
		return fmt.Errorf("decoder.frame_channel_size must be at least 1")
	}

	// Output validation
	validVideo := map[string]bool{"null": true, "raw": true, "snapshot": true}
	if !validVideo[c.Output.Video] {
		return fmt.Errorf("output.video must be one of: null, raw, snapshot")
	}
	if c.Output.Video != "null" && c.Output.VideoPath == "" {
		return fmt.Errorf("output.video_path is required for %s video output", c.Output.Video)
	}
	if c.Output.Video == "snapshot" && c.Output.SnapshotEvery < 1 {
		return fmt.Errorf("output.snapshot_every must be at least 1")
	}
	validAudio := map[string]bool{"null": true, "pcm": true}
	if !validAudio[c.Output.Audio] {
		return fmt.Errorf("output.audio must be one of: null, pcm")
	}
	if c.Output.Audio == "pcm" && c.Output.AudioPath == "" {
		return fmt.Errorf("output.audio_path is required for pcm audio output")
	}
	if c.Output.SampleRate < 8000 || c.Output.Channels < 1 || c.Output.Channels > 8 {
		return fmt.Errorf("output.sample_rate must be at least 8000 and output.channels between 1 and 8")
	}

	// Status validation
	const maxPort = 65535
	if c.Status.Enabled && (c.Status.Port < 1 || c.Status.Port > maxPort) {
		return fmt.Errorf("status.port must be between 1 and %d", maxPort)
	}

	return nil
}

// Address returns the status server address in host:port format.
func (c *StatusConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
