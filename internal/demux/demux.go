// Package demux opens media sources and splits containers into per-stream
// packets.
package demux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/media"
)

var (
	// ErrNoData means no packet is ready yet; the caller should retry shortly.
	ErrNoData = errors.New("no data available")

	// ErrNoStreams means the source has no stream that can be played.
	ErrNoStreams = errors.New("no usable streams")

	// ErrUnsupportedFormat means the container could not be identified.
	ErrUnsupportedFormat = errors.New("unsupported container format")

	// ErrClosed is returned by ReadPacket after Close.
	ErrClosed = errors.New("demuxer closed")
)

// Format names a container format.
type Format string

// Supported container formats.
const (
	FormatMPEGTS   Format = "mpegts"
	FormatMatroska Format = "matroska"
	FormatUnknown  Format = "unknown"
)

// Demuxer yields the packets of a single opened source.
//
// ReadPacket never blocks for long: it returns ErrNoData when nothing is
// buffered, io.EOF at the end of the source and any other error for an
// unrecoverable read failure. Close may be called concurrently with
// ReadPacket.
type Demuxer interface {
	Format() Format
	Streams() []media.StreamInfo
	ReadPacket() (*media.Packet, error)
	Close() error
}

// Options configures how sources are fetched and parsed.
type Options struct {
	HTTPTimeout   time.Duration
	UserAgent     string
	Authorization string

	// PacketBuffer is the number of parsed packets held ahead of ReadPacket.
	PacketBuffer int

	Logger *slog.Logger
}

// OptionsFromConfig builds Options from the input configuration.
func OptionsFromConfig(cfg config.InputConfig, logger *slog.Logger) Options {
	return Options{
		HTTPTimeout:   cfg.HTTPTimeout.Duration(),
		UserAgent:     cfg.UserAgent,
		Authorization: cfg.Authorization,
		Logger:        logger,
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Open resolves locator, unwraps any compression, identifies the container
// and returns a demuxer for it. Streams are known when Open returns.
func Open(ctx context.Context, locator string, opts Options) (Demuxer, error) {
	src, err := openLocator(ctx, locator, opts)
	if err != nil {
		return nil, err
	}

	d, err := openReader(ctx, src, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return d, nil
}

// openReader demuxes an already opened source. src is closed by the
// returned demuxer's Close.
func openReader(ctx context.Context, src io.ReadCloser, opts Options) (Demuxer, error) {
	r, err := decompress(src)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(r, 64*1024)
	head, err := br.Peek(tsPacketSize + 1)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	logger := opts.logger()
	format := DetectFormat(head)
	logger.Debug("detected container", slog.String("format", string(format)))

	switch format {
	case FormatMPEGTS:
		return newTSDemuxer(br, src, opts)
	case FormatMatroska:
		return newMKVDemuxer(ctx, br, src, opts)
	default:
		return nil, ErrUnsupportedFormat
	}
}

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// DetectFormat identifies a container from its first bytes.
func DetectFormat(head []byte) Format {
	switch {
	case len(head) > 0 && head[0] == tsSyncByte && (len(head) <= tsPacketSize || head[tsPacketSize] == tsSyncByte):
		return FormatMPEGTS
	case bytes.HasPrefix(head, ebmlMagic):
		return FormatMatroska
	default:
		return FormatUnknown
	}
}
