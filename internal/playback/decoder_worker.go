package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jmylchreest/tvplay/internal/decode"
	"github.com/jmylchreest/tvplay/internal/media"
)

// WorkerState is the lifecycle state of a DecoderWorker.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerDraining
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerDraining:
		return "draining"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// framePollInterval bounds how long ready frames wait in the decoder while
// the queue is empty.
const framePollInterval = 5 * time.Millisecond

// errSinkRejected marks a frame the sink refused.
var errSinkRejected = errors.New("sink rejected frame")

// DecoderWorker decodes one elementary stream. It owns its decoder; the
// queue and sink are shared with the reader and the scheduler.
type DecoderWorker struct {
	info    media.StreamInfo
	queue   *PacketQueue
	decoder decode.Decoder
	sink    FrameSink
	stats   *Stats
	logger  *slog.Logger

	state     atomic.Int32
	flushed   atomic.Bool
	decoded   atomic.Int64
	handled   atomic.Int64
	sendFails atomic.Int64

	rejectLog rate.Sometimes
}

// NewDecoderWorker creates an idle worker.
func NewDecoderWorker(info media.StreamInfo, queue *PacketQueue, dec decode.Decoder, sink FrameSink, stats *Stats, logger *slog.Logger) *DecoderWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &DecoderWorker{
		info:      info,
		queue:     queue,
		decoder:   dec,
		sink:      sink,
		stats:     stats,
		logger:    logger,
		rejectLog: rate.Sometimes{First: 5, Interval: 5 * time.Second},
	}
}

// State returns the current lifecycle state.
func (w *DecoderWorker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Flushed reports whether the worker has passed end of input to its decoder
// and forwarded everything the decoder still held.
func (w *DecoderWorker) Flushed() bool {
	return w.flushed.Load()
}

// FramesDecoded returns the number of frames handed to the sink.
func (w *DecoderWorker) FramesDecoded() int64 {
	return w.decoded.Load()
}

// PacketsHandled returns the number of packets fully processed, frames forwarded.
func (w *DecoderWorker) PacketsHandled() int64 {
	return w.handled.Load()
}

// SendFailures returns the number of packets the decoder rejected.
func (w *DecoderWorker) SendFailures() int64 {
	return w.sendFails.Load()
}

// Run pops and decodes packets until the queue drains or its input ends.
// While the queue is empty it keeps collecting frames the decoder finishes
// late. At end of input the decoder is flushed and its remaining frames
// forwarded. Decode failures only drop the packet concerned; Run returns nil
// on a normal drain.
func (w *DecoderWorker) Run(ctx context.Context) error {
	w.state.Store(int32(WorkerRunning))
	w.logger.Debug("decoder worker started")

loop:
	for {
		pkt, err := w.queue.PopWait(framePollInterval)
		switch {
		case err == nil:
			w.decodePacket(ctx, pkt)
			pkt.Release()
			w.handled.Add(1)
		case errors.Is(err, ErrNoPacket):
			_, _ = w.drainFrames()
		case errors.Is(err, ErrEndOfInput):
			w.state.Store(int32(WorkerDraining))
			w.flush(ctx)
			break loop
		default:
			w.state.Store(int32(WorkerDraining))
			break loop
		}
	}

	w.state.Store(int32(WorkerStopped))
	w.logger.Debug("decoder worker stopped",
		slog.Int64("frames", w.decoded.Load()),
		slog.Int64("send_failures", w.sendFails.Load()),
		slog.Bool("flushed", w.flushed.Load()))
	return nil
}

func (w *DecoderWorker) decodePacket(ctx context.Context, pkt *media.Packet) {
	for {
		err := w.decoder.SendPacket(ctx, pkt)
		if err == nil {
			break
		}
		if errors.Is(err, decode.ErrOutputPending) {
			n, derr := w.drainFrames()
			if errors.Is(derr, errSinkRejected) {
				return
			}
			if n > 0 {
				continue
			}
			// Pending output that never arrives would spin forever.
		}

		failures := w.sendFails.Add(1)
		w.stats.decodeErrors.Add(1)
		w.rejectLog.Do(func() {
			w.logger.Warn("decoder rejected packet",
				slog.Int64("pts", pkt.PTS),
				slog.Int("size", pkt.Size()),
				slog.Int64("failures", failures),
				slog.String("error", err.Error()))
		})
		return
	}
	_, _ = w.drainFrames()
}

// flush ends the decoder's input and forwards the frames it still holds
// until it reports end of stream or playback stops.
func (w *DecoderWorker) flush(ctx context.Context) {
	defer w.flushed.Store(true)

	if err := w.decoder.Flush(); err != nil {
		w.logger.Warn("decoder flush failed", slog.String("error", err.Error()))
		return
	}

	timer := time.NewTimer(framePollInterval)
	defer timer.Stop()
	for {
		n, err := w.drainFrames()
		if errors.Is(err, decode.ErrEndOfStream) {
			w.logger.Debug("decoder flushed", slog.Int64("frames", w.decoded.Load()))
			return
		}
		if err != nil {
			return
		}
		if n > 0 {
			continue
		}

		timer.Reset(framePollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		if w.queue.Draining() {
			return
		}
	}
}

// drainFrames forwards frames until the decoder has none ready. It returns
// the number forwarded and nil when the decoder wants more input,
// decode.ErrEndOfStream once the decoder is finished, or the receive or
// sink error that stopped it.
func (w *DecoderWorker) drainFrames() (int, error) {
	n := 0
	for {
		frame, err := w.decoder.ReceiveFrame()
		switch {
		case errors.Is(err, decode.ErrNeedMoreInput):
			return n, nil
		case errors.Is(err, decode.ErrEndOfStream):
			return n, err
		case err != nil:
			w.logger.Warn("decoder receive failed", slog.String("error", err.Error()))
			return n, err
		}

		if err := w.sink.Accept(frame); err != nil {
			if !errors.Is(err, ErrDraining) {
				w.logger.Warn("sink rejected frame",
					slog.Int64("pts", frame.PTS),
					slog.String("error", err.Error()))
			}
			w.stats.framesDropped.Add(1)
			return n, fmt.Errorf("%w: %w", errSinkRejected, err)
		}
		n++
		w.decoded.Add(1)
	}
}
