package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/decode"
	"github.com/jmylchreest/tvplay/internal/demux"
	"github.com/jmylchreest/tvplay/internal/media"
	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/output"
)

// State is the pipeline lifecycle state.
type State string

const (
	StateCreated State = "created"
	StateReady   State = "ready"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Options sizes and times a pipeline.
type Options struct {
	Locator string

	QueueCapacity int
	BufferSize    int
	Intervals     Intervals

	AudioBacklogThreshold int64
	ReadRetryDelay        time.Duration
	EOSDrainTimeout       time.Duration
	StatsInterval         time.Duration

	NoAudio     bool
	NoVideo     bool
	VideoStream int // -1 = first usable
	AudioStream int // -1 = first usable

	AudioFormat   output.AudioFormat
	DefaultWidth  int
	DefaultHeight int
}

// OptionsFromConfig maps loaded configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config, locator string) Options {
	return Options{
		Locator:       locator,
		QueueCapacity: cfg.Player.PacketQueueCapacity,
		BufferSize:    cfg.Player.PresentationBufferSize,
		Intervals: Intervals{
			Frame: cfg.Player.FrameInterval.Duration(),
			Retry: cfg.Player.RetryInterval.Duration(),
			Idle:  cfg.Player.IdleInterval.Duration(),
		},
		AudioBacklogThreshold: cfg.Player.AudioBacklogThreshold.Bytes(),
		ReadRetryDelay:        cfg.Player.ReadRetryDelay.Duration(),
		EOSDrainTimeout:       cfg.Player.EOSDrainTimeout.Duration(),
		StatsInterval:         cfg.Player.StatsInterval.Duration(),
		NoAudio:               cfg.Player.NoAudio,
		NoVideo:               cfg.Player.NoVideo,
		VideoStream:           cfg.Player.VideoStream,
		AudioStream:           cfg.Player.AudioStream,
		AudioFormat:           output.AudioFormat{SampleRate: cfg.Output.SampleRate, Channels: cfg.Output.Channels},
		DefaultWidth:          cfg.Decoder.DefaultWidth,
		DefaultHeight:         cfg.Decoder.DefaultHeight,
	}
}

// selected is one chosen stream with its decoder and queue.
type selected struct {
	info    media.StreamInfo
	decoder decode.Decoder
	queue   *PacketQueue
	worker  *DecoderWorker
}

// Pipeline owns every queue, worker and output of one playback session.
type Pipeline struct {
	id     string
	opts   Options
	logger *slog.Logger

	demuxer demux.Demuxer
	factory decode.Factory
	audio   output.AudioDevice
	video   output.VideoSink

	coord     *Coordinator
	stats     *Stats
	buffer    *PresentationBuffer
	videoSel  *selected
	audioSel  *selected
	scheduler *Scheduler
	reader    *SourceReader

	mu        sync.Mutex
	state     State
	startedAt time.Time
	stoppedAt time.Time
}

// New creates a pipeline. audio and video may be nil when that output is not wanted.
func New(d demux.Demuxer, factory decode.Factory, audio output.AudioDevice, video output.VideoSink, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}
	id := ulid.Make().String()
	return &Pipeline{
		id:      id,
		opts:    opts,
		logger:  observability.WithSession(observability.WithComponent(logger, "playback"), id),
		demuxer: d,
		factory: factory,
		audio:   audio,
		video:   video,
		coord:   NewCoordinator(context.Background()),
		stats:   &Stats{},
		state:   StateCreated,
	}
}

// ID returns the session id.
func (p *Pipeline) ID() string { return p.id }

// Stats returns the live counters.
func (p *Pipeline) Stats() *Stats { return p.stats }

// Setup selects streams, creates decoders and opens outputs. Failures are
// setup-fatal and nothing is left open.
func (p *Pipeline) Setup(ctx context.Context) (err error) {
	if p.State() != StateCreated {
		return fmt.Errorf("setup in state %s", p.State())
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			p.closeDecoders()
		}
	}()

	streams := p.demuxer.Streams()
	if p.video != nil && !p.opts.NoVideo {
		p.videoSel = p.selectStream(streams, media.StreamVideo, p.opts.VideoStream)
	}
	if p.audio != nil && !p.opts.NoAudio {
		p.audioSel = p.selectStream(streams, media.StreamAudio, p.opts.AudioStream)
	}
	if p.videoSel == nil && p.audioSel == nil {
		return fmt.Errorf("selecting streams from %d available: %w", len(streams), demux.ErrNoStreams)
	}

	if p.videoSel != nil {
		w, h := p.videoSel.info.Width, p.videoSel.info.Height
		if w <= 0 || h <= 0 {
			w, h = p.opts.DefaultWidth, p.opts.DefaultHeight
		}
		if err := p.video.Open(w, h); err != nil {
			return fmt.Errorf("opening video output: %w", err)
		}
		p.logger.Info("video output opened", slog.Int("width", w), slog.Int("height", h))
	}
	if p.audioSel != nil {
		if err := p.audio.Open(p.opts.AudioFormat); err != nil {
			if p.videoSel != nil {
				_ = p.video.Close()
			}
			return fmt.Errorf("opening audio output: %w", err)
		}
	}

	p.build()
	p.setState(StateReady)
	return nil
}

// selectStream picks the requested stream index, or the first stream of typ
// with a decoder. It returns nil if nothing usable exists.
func (p *Pipeline) selectStream(streams []media.StreamInfo, typ media.StreamType, want int) *selected {
	for _, info := range streams {
		if info.Type != typ || (want >= 0 && info.Index != want) {
			continue
		}
		dec, err := p.factory.New(info)
		if err != nil {
			p.logger.Warn("skipping stream", slog.String("stream", info.String()), slog.String("error", err.Error()))
			continue
		}
		attrs := []any{
			slog.Int("stream", info.Index),
			slog.String("codec", info.Codec.String()),
		}
		if typ == media.StreamVideo {
			attrs = append(attrs, slog.Int("width", info.Width), slog.Int("height", info.Height))
		} else {
			attrs = append(attrs, slog.Int("sample_rate", info.SampleRate), slog.Int("channels", info.Channels))
		}
		p.logger.Info("selected "+typ.String()+" stream", attrs...)
		return &selected{info: info, decoder: dec}
	}
	if want >= 0 {
		p.logger.Warn("requested stream not usable", slog.String("type", typ.String()), slog.Int("stream", want))
	}
	return nil
}

// build creates queues, the buffer, workers, the reader and the scheduler.
func (p *Pipeline) build() {
	routes := make(map[int]*PacketQueue)

	if s := p.videoSel; s != nil {
		p.buffer = NewPresentationBuffer(p.opts.BufferSize)
		s.queue = NewPacketQueue(p.opts.QueueCapacity)
		s.worker = NewDecoderWorker(s.info, s.queue, s.decoder, bufferSink{buf: p.buffer}, p.stats,
			observability.WithStream(p.logger, s.info.Index, "video"))
		routes[s.info.Index] = s.queue
		p.coord.Register(s.queue, p.buffer)
	}
	if s := p.audioSel; s != nil {
		s.queue = NewPacketQueue(p.opts.QueueCapacity)
		s.worker = NewDecoderWorker(s.info, s.queue, s.decoder, audioSink{dev: p.audio, stats: p.stats}, p.stats,
			observability.WithStream(p.logger, s.info.Index, "audio"))
		routes[s.info.Index] = s.queue
		p.coord.Register(s.queue)
	}

	var backlog BacklogReporter
	if p.audioSel != nil {
		backlog = p.audio
	}
	p.reader = NewSourceReader(p.demuxer, routes, backlog, p.drained, p.coord, p.stats, ReaderOptions{
		BacklogThreshold: p.opts.AudioBacklogThreshold,
		RetryDelay:       p.opts.ReadRetryDelay,
		DrainTimeout:     p.opts.EOSDrainTimeout,
	}, observability.WithComponent(p.logger, "reader"))

	var sink output.VideoSink
	if p.videoSel != nil {
		sink = p.video
	}
	p.scheduler = NewScheduler(p.buffer, sink, p.opts.Intervals, p.stats, observability.WithComponent(p.logger, "scheduler"))
}

// drained reports whether all decoded and undecoded data has been played out:
// every worker has flushed its decoder after the last packet, and nothing is
// left in the buffer or the audio device.
func (p *Pipeline) drained() bool {
	for _, s := range []*selected{p.videoSel, p.audioSel} {
		if s != nil && !s.worker.Flushed() {
			return false
		}
	}
	if p.buffer != nil && p.buffer.Len() > 0 {
		return false
	}
	if p.audioSel != nil && p.audio.Backlog() > 0 {
		return false
	}
	return true
}

// Run starts the reader and workers, runs the scheduler on the calling
// goroutine and returns once everything has joined and been torn down.
// End of input and read errors end playback normally and return nil.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.State() != StateReady {
		return fmt.Errorf("run in state %s", p.State())
	}
	p.mu.Lock()
	p.state = StateRunning
	p.startedAt = time.Now()
	p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { p.coord.Quit("context cancelled") })
	defer stop()

	p.logger.Info("playback started", slog.String("locator", observability.RedactURL(p.opts.Locator)))

	var g errgroup.Group
	supervise := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(p.coord.Context()); err != nil {
				p.coord.Quit(name + " failed: " + err.Error())
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	supervise("reader", p.reader.Run)
	for _, s := range []*selected{p.videoSel, p.audioSel} {
		if s != nil {
			supervise(s.info.Type.String()+" worker", s.worker.Run)
		}
	}
	if p.opts.StatsInterval > 0 {
		g.Go(func() error {
			p.statsLoop()
			return nil
		})
	}

	p.scheduler.Run(p.coord)
	// The scheduler also returns when the buffer drains on its own.
	p.coord.Quit("scheduler stopped")

	err := g.Wait()
	p.teardown()
	return err
}

func (p *Pipeline) statsLoop() {
	ticker := time.NewTicker(p.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.coord.Done():
			return
		case <-ticker.C:
			p.logger.Info("playback stats", p.stats.Snapshot().LogAttrs(p.elapsed())...)
		}
	}
}

// teardown runs strictly after every goroutine has joined.
func (p *Pipeline) teardown() {
	p.closeDecoders()

	released := 0
	for _, s := range []*selected{p.videoSel, p.audioSel} {
		if s != nil {
			released += s.queue.Clear()
		}
	}
	dropped := 0
	if p.buffer != nil {
		dropped = p.buffer.Clear()
	}

	var errs []error
	if p.videoSel != nil {
		errs = append(errs, p.video.Close())
	}
	if p.audioSel != nil {
		errs = append(errs, p.audio.Close())
	}
	errs = append(errs, p.demuxer.Close())
	if err := errors.Join(errs...); err != nil {
		observability.WithError(p.logger, err).Warn("closing outputs")
	}

	p.mu.Lock()
	p.state = StateStopped
	p.stoppedAt = time.Now()
	p.mu.Unlock()

	attrs := append([]any{
		slog.String("reason", p.coord.Reason()),
		slog.Int("packets_released", released),
		slog.Int("frames_discarded", dropped),
	}, p.stats.Snapshot().LogAttrs(p.elapsed())...)
	p.logger.Info("playback stopped", attrs...)
}

func (p *Pipeline) closeDecoders() {
	for _, s := range []*selected{p.videoSel, p.audioSel} {
		if s == nil || s.decoder == nil {
			continue
		}
		if err := s.decoder.Close(); err != nil {
			observability.WithError(p.logger, err).Debug("closing decoder", slog.Int("stream", s.info.Index))
		}
		s.decoder = nil
	}
}

// Quit stops playback. It is safe from any goroutine and reports whether this call quit.
func (p *Pipeline) Quit(reason string) bool {
	return p.coord.Quit(reason)
}

// Done is closed when playback has been asked to stop.
func (p *Pipeline) Done() <-chan struct{} {
	return p.coord.Done()
}

// State returns the lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		return 0
	}
	if !p.stoppedAt.IsZero() {
		return p.stoppedAt.Sub(p.startedAt)
	}
	return time.Since(p.startedAt)
}

// StreamStatus describes one selected stream.
type StreamStatus struct {
	Index          int    `json:"index"`
	Codec          string `json:"codec"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	Channels       int    `json:"channels,omitempty"`
	QueuedPackets  int    `json:"queued_packets"`
	InputClosed    bool   `json:"input_closed"`
	Worker         string `json:"worker"`
	PacketsHandled int64  `json:"packets_handled"`
	SendFailures   int64  `json:"send_failures"`
	FramesDecoded  int64  `json:"frames_decoded"`
	Flushed        bool   `json:"flushed"`
}

// Status is a snapshot of a session for the status API.
type Status struct {
	SessionID      string        `json:"session_id"`
	Locator        string        `json:"locator"`
	State          State         `json:"state"`
	QuitReason     string        `json:"quit_reason,omitempty"`
	StartedAt      time.Time     `json:"started_at,omitzero"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	Video          *StreamStatus `json:"video,omitempty"`
	Audio          *StreamStatus `json:"audio,omitempty"`
	BufferedFrames int           `json:"buffered_frames"`
	BufferCapacity int           `json:"buffer_capacity"`
	AudioBacklog   int64         `json:"audio_backlog_bytes"`
	Stats          StatsSnapshot `json:"stats"`
}

// Status returns a snapshot of the session.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	st := Status{
		SessionID:  p.id,
		Locator:    observability.RedactURL(p.opts.Locator),
		State:      p.state,
		StartedAt:  p.startedAt,
		QuitReason: p.coord.Reason(),
	}
	p.mu.Unlock()

	st.ElapsedSeconds = p.elapsed().Seconds()
	st.Stats = p.stats.Snapshot()
	if st.State == StateCreated {
		return st
	}

	if p.buffer != nil {
		st.BufferedFrames = p.buffer.Len()
		st.BufferCapacity = p.buffer.Cap()
	}
	if s := p.videoSel; s != nil {
		st.Video = streamStatus(s)
	}
	if s := p.audioSel; s != nil {
		st.Audio = streamStatus(s)
		st.AudioBacklog = p.audio.Backlog()
	}
	return st
}

func streamStatus(s *selected) *StreamStatus {
	ss := &StreamStatus{
		Index:      s.info.Index,
		Codec:      s.info.Codec.String(),
		Width:      s.info.Width,
		Height:     s.info.Height,
		SampleRate: s.info.SampleRate,
		Channels:   s.info.Channels,
	}
	if s.queue != nil {
		ss.QueuedPackets = s.queue.Len()
		ss.InputClosed = s.queue.InputClosed()
	}
	if s.worker != nil {
		ss.Worker = s.worker.State().String()
		ss.PacketsHandled = s.worker.PacketsHandled()
		ss.SendFailures = s.worker.SendFailures()
		ss.FramesDecoded = s.worker.FramesDecoded()
		ss.Flushed = s.worker.Flushed()
	}
	return ss
}
