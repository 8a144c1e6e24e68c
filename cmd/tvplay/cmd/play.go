package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/decode"
	"github.com/jmylchreest/tvplay/internal/demux"
	"github.com/jmylchreest/tvplay/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/tvplay/internal/http"
	"github.com/jmylchreest/tvplay/internal/http/handlers"
	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/output"
	"github.com/jmylchreest/tvplay/internal/playback"
	"github.com/jmylchreest/tvplay/internal/version"
)

func runPlay(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	logger := slog.Default()
	locator := args[0]
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	factory, err := newDecoderFactory(ctx, cfg, logger)
	if err != nil {
		logger.Error("decoder setup failed", slog.String("error", err.Error()))
		return err
	}

	d, err := demux.Open(ctx, locator, demux.OptionsFromConfig(cfg.Input, observability.WithComponent(logger, "demux")))
	if err != nil {
		logger.Error("opening input failed",
			slog.String("locator", observability.RedactURL(locator)),
			slog.String("error", err.Error()))
		return fmt.Errorf("opening %s: %w", observability.RedactURL(locator), err)
	}

	video, audio, err := newOutputs(cfg.Output, logger)
	if err != nil {
		_ = d.Close()
		logger.Error("creating outputs failed", slog.String("error", err.Error()))
		return err
	}

	p := playback.New(d, factory, audio, video, playback.OptionsFromConfig(cfg, locator), logger)

	var srv *internalhttp.Server
	if cfg.Status.Enabled {
		srv, err = startStatusServer(p, cfg, logger)
		if err != nil {
			closeAll(d, video, audio)
			logger.Error("status API failed", slog.String("error", err.Error()))
			return err
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				logger.Warn("stopping status API", slog.String("error", err.Error()))
			}
		}()
	}

	if err := p.Setup(ctx); err != nil {
		closeAll(d, video, audio)
		logger.Error("playback setup failed", slog.String("error", err.Error()))
		return fmt.Errorf("setting up playback: %w", err)
	}

	stopSignals := handleSignals(p, logger)
	defer stopSignals()

	return p.Run(ctx)
}

// newDecoderFactory builds the decoder registry for the configured backend.
func newDecoderFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*decode.Registry, error) {
	if cfg.Decoder.Backend == "passthrough" {
		logger.Info("using passthrough decoders")
		return decode.NewPassthroughRegistry(), nil
	}

	info, err := ffmpeg.NewBinaryDetector(cfg.Decoder.BinaryPath).Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting ffmpeg: %w", err)
	}
	reg := decode.NewFFmpegRegistry(decode.FFmpegOptionsFromConfig(cfg.Decoder, cfg.Output, observability.WithComponent(logger, "decoder")), info)
	logger.Info("using ffmpeg decoders",
		slog.String("path", info.FFmpegPath),
		slog.String("version", info.Version),
		slog.Int("codecs", len(reg.Codecs())))
	return reg, nil
}

// newOutputs creates the video sink and audio device named in cfg.
func newOutputs(cfg config.OutputConfig, logger *slog.Logger) (output.VideoSink, output.AudioDevice, error) {
	logger = observability.WithComponent(logger, "output")
	video, err := output.NewVideoSink(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating video output: %w", err)
	}
	audio, err := output.NewAudioDevice(cfg, logger)
	if err != nil {
		_ = video.Close()
		return nil, nil, fmt.Errorf("creating audio output: %w", err)
	}
	return video, audio, nil
}

// closeAll releases what the CLI opened when the pipeline never ran.
func closeAll(d demux.Demuxer, video output.VideoSink, audio output.AudioDevice) {
	_ = video.Close()
	_ = audio.Close()
	_ = d.Close()
}

// startStatusServer listens on the configured address and serves the
// status API for p on a goroutine.
func startStatusServer(p *playback.Pipeline, cfg *config.Config, logger *slog.Logger) (*internalhttp.Server, error) {
	srv := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Status), observability.WithComponent(logger, "http"), version.Version)
	handlers.NewHealthHandler(version.Version).Register(srv.API())
	handlers.NewPlaybackHandler(p, cfg.Output.WindowTitle).Register(srv.API())

	l, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", srv.Addr(), err)
	}
	go func() {
		if err := srv.Serve(l); err != nil {
			logger.Error("status API stopped", slog.String("error", err.Error()))
		}
	}()
	return srv, nil
}

// handleSignals quits playback on the first SIGINT/SIGTERM and exits the
// process on the second.
func handleSignals(p *playback.Pipeline, logger *slog.Logger) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			p.Quit("signal: " + sig.String())
		case <-done:
			return
		}
		select {
		case sig := <-sigChan:
			logger.Error("received second signal, exiting", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}
