package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jmylchreest/tvplay/internal/config"
)

// NewVideoSink builds the sink named by cfg.Video.
func NewVideoSink(cfg config.OutputConfig, logger *slog.Logger) (VideoSink, error) {
	logger = logger.With(slog.String("window_title", cfg.WindowTitle), slog.String("sink", cfg.Video))
	logger.Debug("creating video sink", slog.String("path", cfg.VideoPath))

	switch cfg.Video {
	case "", "null":
		return NewNullSink(cfg.WindowTitle), nil
	case "raw":
		w, closer, err := openTarget(cfg.VideoPath)
		if err != nil {
			return nil, fmt.Errorf("opening raw video output: %w", err)
		}
		return NewRawSink(w, closer), nil
	case "snapshot":
		return NewSnapshotSink(cfg.VideoPath, cfg.SnapshotEvery, cfg.SnapshotWidth, logger), nil
	default:
		return nil, fmt.Errorf("unknown video sink %q", cfg.Video)
	}
}

// NewAudioDevice builds the device named by cfg.Audio.
func NewAudioDevice(cfg config.OutputConfig, logger *slog.Logger) (AudioDevice, error) {
	logger = logger.With(slog.String("device", cfg.Audio))

	switch cfg.Audio {
	case "", "null":
		return NewPCMDevice(io.Discard, DefaultAudioTick, logger), nil
	case "pcm":
		w, closer, err := openTarget(cfg.AudioPath)
		if err != nil {
			return nil, fmt.Errorf("opening pcm audio output: %w", err)
		}
		d := NewPCMDevice(w, DefaultAudioTick, logger)
		d.closer = closer
		return d, nil
	default:
		return nil, fmt.Errorf("unknown audio device %q", cfg.Audio)
	}
}

// openTarget opens path for writing; "-" is stdout and is never closed.
func openTarget(path string) (io.Writer, io.Closer, error) {
	if path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}
