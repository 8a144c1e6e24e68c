package decode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/jmylchreest/tvplay/internal/codec"
	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/ffmpeg"
	"github.com/jmylchreest/tvplay/internal/media"
)

// ErrProcessExited is returned by SendPacket once the ffmpeg process is gone.
var ErrProcessExited = errors.New("ffmpeg process exited")

const (
	defaultFrameChannelSize = 4
	defaultStopTimeout      = 2 * time.Second
	inputChannelSize        = 16
	audioChunkSamples       = 1024
	maxPendingPTS           = 256
	fallbackFrameTicks      = 3000 // 30 fps
)

// ffmpegDecoderNames maps codecs to the ffmpeg decoder that must be present
// in the binary for the codec to be registered.
var ffmpegDecoderNames = map[codec.Codec]string{
	codec.H264:       "h264",
	codec.H265:       "hevc",
	codec.MPEG2Video: "mpeg2video",
	codec.MPEG4Video: "mpeg4",
	codec.VP8:        "vp8",
	codec.VP9:        "vp9",
	codec.AV1:        "av1",
	codec.AAC:        "aac",
	codec.AC3:        "ac3",
	codec.EAC3:       "eac3",
	codec.MP3:        "mp3",
}

// FFmpegOptions configures ffmpeg subprocess decoders.
type FFmpegOptions struct {
	BinaryPath string

	// Used when a video stream's size is unknown at setup and no SPS is found.
	DefaultWidth  int
	DefaultHeight int

	// Audio is resampled to the output device format.
	SampleRate int
	Channels   int

	FrameChannelSize int
	StopTimeout      time.Duration

	// Selects -fps_mode over the deprecated -vsync (ffmpeg 5.1+).
	FPSMode bool

	Logger *slog.Logger
}

// FFmpegOptionsFromConfig builds options from the decoder and output config.
func FFmpegOptionsFromConfig(dec config.DecoderConfig, out config.OutputConfig, logger *slog.Logger) FFmpegOptions {
	return FFmpegOptions{
		BinaryPath:       dec.BinaryPath,
		DefaultWidth:     dec.DefaultWidth,
		DefaultHeight:    dec.DefaultHeight,
		SampleRate:       out.SampleRate,
		Channels:         out.Channels,
		FrameChannelSize: dec.FrameChannelSize,
		StopTimeout:      dec.StopTimeout.Duration(),
		Logger:           logger,
	}
}

// NewFFmpegRegistry registers an ffmpeg decoder for every codec the detected
// binary can both demux and decode.
func NewFFmpegRegistry(opts FFmpegOptions, info *ffmpeg.BinaryInfo) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if info != nil {
		opts.BinaryPath = info.FFmpegPath
		opts.FPSMode = info.SupportsMinVersion(5, 1)
	}

	r := NewRegistry()
	for c, name := range ffmpegDecoderNames {
		format, ok := c.FFmpegInputFormat()
		if !ok {
			continue
		}
		if info != nil && (!info.CanDemux(format) || !info.CanDecode(name)) {
			opts.Logger.Debug("ffmpeg cannot handle codec, not registering",
				slog.String("codec", c.String()),
				slog.String("format", format),
				slog.String("decoder", name))
			continue
		}
		r.Register(c, func(si media.StreamInfo) (Decoder, error) {
			return NewFFmpegDecoder(si, opts)
		})
	}
	return r
}

// FFmpegDecoder decodes one elementary stream by piping it through an ffmpeg
// process. Packets are written to stdin; raw yuv420p pictures or s16le audio
// chunks are read back from stdout. The process starts on the first packet.
type FFmpegDecoder struct {
	info   media.StreamInfo
	opts   FFmpegOptions
	logger *slog.Logger

	width, height int
	chunkSize     int

	cmd    *exec.Cmd
	input  chan []byte
	frames chan []byte
	stop   chan struct{}
	exited chan struct{}

	inputOnce sync.Once

	started bool
	flushed bool
	closed  bool
	pending *media.Frame

	pts      ptsHeap
	lastPTS  int64
	havePTS  bool
	baseSet  bool
	basePTS  int64
	samples  int64
	ivfSent  bool
	exitSeen bool
}

// NewFFmpegDecoder creates a decoder for info. No process is started yet.
func NewFFmpegDecoder(info media.StreamInfo, opts FFmpegOptions) (*FFmpegDecoder, error) {
	if _, ok := info.Codec.FFmpegInputFormat(); !ok {
		return nil, fmt.Errorf("%s: %w", info.Codec, ErrUnsupportedCodec)
	}
	if opts.BinaryPath == "" {
		return nil, errors.New("ffmpeg binary path not set")
	}
	if opts.FrameChannelSize <= 0 {
		opts.FrameChannelSize = defaultFrameChannelSize
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Channels <= 0 {
		opts.Channels = 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FFmpegDecoder{
		info:   info,
		opts:   opts,
		logger: logger.With(slog.String("component", "ffmpeg_decoder"), slog.Int("stream", info.Index)),
		input:  make(chan []byte, inputChannelSize),
		frames: make(chan []byte, opts.FrameChannelSize),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}, nil
}

// SendPacket implements Decoder.
func (d *FFmpegDecoder) SendPacket(ctx context.Context, pkt *media.Packet) error {
	if d.closed {
		return ErrClosed
	}
	if d.flushed {
		return fmt.Errorf("send after flush: %w", ErrEndOfStream)
	}
	if d.pending != nil {
		return ErrOutputPending
	}
	if len(pkt.Data) == 0 {
		return fmt.Errorf("stream %d pts %d: %w", pkt.StreamIndex, pkt.PTS, ErrEmptyPacket)
	}
	if !d.started {
		if err := d.start(pkt); err != nil {
			return err
		}
	}
	if d.hasExited() {
		return ErrProcessExited
	}

	data := d.frameInput(pkt)

	select {
	case d.input <- data:
		d.accepted(pkt)
		return nil
	default:
	}

	select {
	case buf := <-d.frames:
		d.pending = d.makeFrame(buf)
		return ErrOutputPending
	default:
	}

	select {
	case d.input <- data:
		d.accepted(pkt)
		return nil
	case buf := <-d.frames:
		d.pending = d.makeFrame(buf)
		return ErrOutputPending
	case <-d.exited:
		return ErrProcessExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReceiveFrame implements Decoder.
func (d *FFmpegDecoder) ReceiveFrame() (*media.Frame, error) {
	if d.pending != nil {
		f := d.pending
		d.pending = nil
		return f, nil
	}
	if d.closed {
		return nil, ErrEndOfStream
	}
	if !d.started {
		if d.flushed {
			return nil, ErrEndOfStream
		}
		return nil, ErrNeedMoreInput
	}

	select {
	case buf := <-d.frames:
		return d.makeFrame(buf), nil
	default:
	}

	select {
	case <-d.exited:
		// Frames pushed before exit are still buffered.
		select {
		case buf := <-d.frames:
			return d.makeFrame(buf), nil
		default:
		}
		return nil, ErrEndOfStream
	default:
		return nil, ErrNeedMoreInput
	}
}

// Flush implements Decoder. It closes ffmpeg's stdin so the process decodes
// what it still holds, writes it out and exits. ReceiveFrame keeps returning
// those frames and then reports ErrEndOfStream.
func (d *FFmpegDecoder) Flush() error {
	if d.closed {
		return ErrClosed
	}
	if d.flushed {
		return nil
	}
	d.flushed = true
	if d.started {
		d.logger.Debug("flushing ffmpeg decoder")
		d.closeInput()
	}
	return nil
}

// Close implements Decoder. It closes ffmpeg's stdin and waits up to the stop
// timeout for the process to exit before interrupting and then killing it.
func (d *FFmpegDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.pending = nil
	if !d.started {
		return nil
	}

	d.closeInput()
	close(d.stop)
	d.waitWithTimeout(d.opts.StopTimeout)
	return nil
}

// closeInput signals end of input; ffmpeg flushes and exits.
func (d *FFmpegDecoder) closeInput() {
	d.inputOnce.Do(func() { close(d.input) })
}

func (d *FFmpegDecoder) hasExited() bool {
	select {
	case <-d.exited:
		if !d.exitSeen {
			d.exitSeen = true
			d.logger.Debug("ffmpeg process has exited")
		}
		return true
	default:
		return false
	}
}

func (d *FFmpegDecoder) start(first *media.Packet) error {
	format, _ := d.info.Codec.FFmpegInputFormat()

	if d.info.Type == media.StreamVideo {
		d.width, d.height = d.info.Width, d.info.Height
		if d.width <= 0 || d.height <= 0 {
			if w, h, ok := spsDimensions(d.info.Codec, first.Data); ok {
				d.width, d.height = w, h
			} else {
				d.width, d.height = d.opts.DefaultWidth, d.opts.DefaultHeight
			}
		}
		if d.width <= 0 || d.height <= 0 {
			return fmt.Errorf("stream %d: unknown picture size", d.info.Index)
		}
		d.chunkSize = media.YUV420PSize(d.width, d.height)
	} else {
		d.chunkSize = audioChunkSamples * d.opts.Channels * 2
	}

	args := d.buildArgs(format)
	cmd := exec.Command(d.opts.BinaryPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	d.cmd = cmd
	d.started = true
	d.logger.Debug("started ffmpeg decoder",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("codec", d.info.Codec.String()),
		slog.Int("width", d.width),
		slog.Int("height", d.height),
		slog.Int("chunk_size", d.chunkSize))

	go d.writeInput(stdin)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		d.readOutput(stdout)
	}()
	go func() {
		defer readers.Done()
		d.readStderr(stderr)
	}()
	go func() {
		readers.Wait()
		err := cmd.Wait()
		if err != nil && !d.stopping() {
			d.logger.Warn("ffmpeg exited with error", slog.String("error", err.Error()))
		}
		close(d.exited)
	}()
	return nil
}

func (d *FFmpegDecoder) buildArgs(format string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-probesize", "32768",
		"-analyzeduration", "0",
		"-fflags", "+nobuffer",
		"-f", format,
		"-i", "pipe:0",
	}

	if d.info.Type == media.StreamVideo {
		vsync := "-vsync"
		if d.opts.FPSMode {
			vsync = "-fps_mode"
		}
		args = append(args,
			"-an", "-sn",
			"-vf", fmt.Sprintf("scale=%d:%d", d.width, d.height),
			vsync, "passthrough",
			"-f", "rawvideo",
			"-pix_fmt", string(media.PixelFormatYUV420P),
			"pipe:1",
		)
		return args
	}

	return append(args,
		"-vn", "-sn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(d.opts.SampleRate),
		"-ac", strconv.Itoa(d.opts.Channels),
		"pipe:1",
	)
}

func (d *FFmpegDecoder) writeInput(stdin io.WriteCloser) {
	defer stdin.Close()
	for data := range d.input {
		if _, err := stdin.Write(data); err != nil {
			if !d.stopping() {
				d.logger.Debug("ffmpeg stdin write failed", slog.String("error", err.Error()))
			}
			// Keep draining so senders never block on a dead process.
			for range d.input {
			}
			return
		}
	}
}

func (d *FFmpegDecoder) readOutput(stdout io.Reader) {
	for {
		buf := make([]byte, d.chunkSize)
		n, err := io.ReadFull(stdout, buf)
		if n > 0 && (err == nil || d.info.Type == media.StreamAudio) {
			select {
			case d.frames <- buf[:n]:
			case <-d.stop:
				_, _ = io.Copy(io.Discard, stdout)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (d *FFmpegDecoder) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanLinesWithCR)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			d.logger.Debug("ffmpeg", slog.String("line", line))
		}
	}
}

func (d *FFmpegDecoder) stopping() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

func (d *FFmpegDecoder) waitWithTimeout(timeout time.Duration) {
	pid := d.cmd.Process.Pid

	select {
	case <-d.exited:
		return
	case <-time.After(timeout):
		d.logger.Warn("ffmpeg did not exit in time, interrupting", slog.Int("pid", pid))
		_ = d.cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-d.exited:
		return
	case <-time.After(500 * time.Millisecond):
		d.logger.Warn("ffmpeg ignored interrupt, killing", slog.Int("pid", pid))
		_ = d.cmd.Process.Kill()
	}

	select {
	case <-d.exited:
	case <-time.After(500 * time.Millisecond):
		d.logger.Error("ffmpeg could not be killed", slog.Int("pid", pid))
	}
}

// frameInput wraps the packet payload in the framing ffmpeg's input demuxer
// expects. The result is a fresh buffer; pkt may be released afterwards.
func (d *FFmpegDecoder) frameInput(pkt *media.Packet) []byte {
	switch {
	case d.info.Codec == codec.AAC && !hasADTSSync(pkt.Data):
		h := adtsHeader(len(pkt.Data), d.info.AudioObjectType, d.info.SampleRate, d.info.Channels)
		return append(h, pkt.Data...)

	case d.info.Codec.IVFFourCC() != "":
		frame := ivfFrame(pkt.Data, pkt.PTS)
		if !d.ivfSent {
			return append(ivfFileHeader(d.info.Codec.IVFFourCC(), d.width, d.height), frame...)
		}
		return frame
	}

	data := make([]byte, len(pkt.Data))
	copy(data, pkt.Data)
	return data
}

// accepted records timestamps once ffmpeg has taken the packet.
func (d *FFmpegDecoder) accepted(pkt *media.Packet) {
	if d.info.Codec.IVFFourCC() != "" {
		d.ivfSent = true
	}
	if d.info.Type == media.StreamAudio {
		if !d.baseSet {
			d.basePTS = pkt.PTS
			d.baseSet = true
		}
		return
	}
	d.pts.push(pkt.PTS)
	for d.pts.Len() > maxPendingPTS {
		d.pts.pop()
	}
}

func (d *FFmpegDecoder) makeFrame(buf []byte) *media.Frame {
	if d.info.Type == media.StreamAudio {
		f := &media.Frame{
			Type:        media.StreamAudio,
			StreamIndex: d.info.Index,
			PTS:         d.basePTS + d.samples*media.TimeBase/int64(d.opts.SampleRate),
			SampleRate:  d.opts.SampleRate,
			Channels:    d.opts.Channels,
			Samples:     buf,
		}
		d.samples += int64(f.SampleCount())
		return f
	}

	pts, ok := d.pts.pop()
	if !ok {
		pts = d.lastPTS + fallbackFrameTicks
	}
	if d.havePTS && pts < d.lastPTS {
		pts = d.lastPTS
	}
	d.lastPTS, d.havePTS = pts, true

	return &media.Frame{
		Type:        media.StreamVideo,
		StreamIndex: d.info.Index,
		PTS:         pts,
		Width:       d.width,
		Height:      d.height,
		PixelFormat: media.PixelFormatYUV420P,
		Planes:      media.SplitYUV420P(buf, d.width, d.height),
	}
}

// scanLinesWithCR splits on \r or \n so progress lines are seen as they are written.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
