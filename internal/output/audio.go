package output

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tvplay/internal/media"
)

// DefaultAudioTick is how often a PCMDevice releases buffered samples.
const DefaultAudioTick = 10 * time.Millisecond

// PCMDevice buffers samples and releases them to a writer at the real-time
// rate of its format, so Backlog behaves like a sound card queue.
type PCMDevice struct {
	w      io.Writer
	closer io.Closer
	tick   time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	buf     bytes.Buffer
	format  AudioFormat
	opened  bool
	closed  bool
	written int64

	backlog atomic.Int64
	stop    chan struct{}
	done    chan struct{}
}

// NewPCMDevice creates a device writing s16le to w. A nil w discards samples.
// The device does not close w.
func NewPCMDevice(w io.Writer, tick time.Duration, logger *slog.Logger) *PCMDevice {
	if w == nil {
		w = io.Discard
	}
	if tick <= 0 {
		tick = DefaultAudioTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PCMDevice{
		w:      w,
		tick:   tick,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Open starts the playback clock.
func (d *PCMDevice) Open(format AudioFormat) error {
	if err := format.validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.opened {
		return fmt.Errorf("audio device already open")
	}
	d.format = format
	d.opened = true

	go d.drain()

	d.logger.Info("audio device opened",
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("channels", format.Channels),
	)
	return nil
}

// Write queues the frame's samples.
func (d *PCMDevice) Write(frame *media.Frame) error {
	if frame == nil || len(frame.Samples) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if !d.opened {
		return ErrNotOpen
	}
	d.buf.Write(frame.Samples)
	d.backlog.Store(int64(d.buf.Len()))
	return nil
}

// Backlog returns the bytes queued but not yet played.
func (d *PCMDevice) Backlog() int64 {
	return d.backlog.Load()
}

// Written returns the bytes played so far.
func (d *PCMDevice) Written() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Close stops playback and drops anything still queued.
func (d *PCMDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	opened := d.opened
	d.mu.Unlock()

	close(d.stop)
	if opened {
		<-d.done
	}

	d.mu.Lock()
	d.buf.Reset()
	d.backlog.Store(0)
	d.mu.Unlock()

	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

func (d *PCMDevice) drain() {
	defer close(d.done)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	perTick := d.format.BytesPerSecond() * int64(d.tick) / int64(time.Second)
	// Keep whole sample frames.
	frameBytes := int64(d.format.Channels * 2)
	if perTick < frameBytes {
		perTick = frameBytes
	}
	perTick -= perTick % frameBytes

	chunk := make([]byte, perTick)
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		n, _ := d.buf.Read(chunk)
		d.backlog.Store(int64(d.buf.Len()))
		d.written += int64(n)
		d.mu.Unlock()

		if n == 0 {
			continue
		}
		if _, err := d.w.Write(chunk[:n]); err != nil {
			d.logger.Warn("audio write failed", slog.String("error", err.Error()))
		}
	}
}
