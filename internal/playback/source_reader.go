package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jmylchreest/tvplay/internal/demux"
	"github.com/jmylchreest/tvplay/internal/media"
)

// BacklogReporter reports how many bytes an output still holds. It must be
// safe to call from any goroutine.
type BacklogReporter interface {
	Backlog() int64
}

// ReaderOptions configures a SourceReader.
type ReaderOptions struct {
	// BacklogThreshold pauses reading while the backlog exceeds it (0 disables throttling).
	BacklogThreshold int64
	RetryDelay       time.Duration
	// DrainTimeout bounds the wait for buffered output after end of input.
	DrainTimeout time.Duration
}

// SourceReader pulls packets from the demuxer and routes them to per-stream queues.
type SourceReader struct {
	demuxer demux.Demuxer
	routes  map[int]*PacketQueue
	backlog BacklogReporter
	drained func() bool
	coord   *Coordinator
	stats   *Stats
	opts    ReaderOptions
	logger  *slog.Logger
}

// NewSourceReader creates a reader. backlog and drained may be nil; drained
// reports whether every queue and output is empty at end of input.
func NewSourceReader(d demux.Demuxer, routes map[int]*PacketQueue, backlog BacklogReporter, drained func() bool,
	coord *Coordinator, stats *Stats, opts ReaderOptions, logger *slog.Logger) *SourceReader {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = &Stats{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Millisecond
	}
	return &SourceReader{
		demuxer: d,
		routes:  routes,
		backlog: backlog,
		drained: drained,
		coord:   coord,
		stats:   stats,
		opts:    opts,
		logger:  logger,
	}
}

// Run reads until end of input, a read error or quit, then quits the
// coordinator. Terminal stream conditions are not errors.
func (r *SourceReader) Run(_ context.Context) error {
	reason := "source reader stopped"
	defer func() { r.coord.Quit(reason) }()

	for !r.coord.IsQuit() {
		if r.throttled() {
			r.sleep(r.opts.RetryDelay)
			continue
		}

		pkt, err := r.demuxer.ReadPacket()
		switch {
		case err == nil:
			r.stats.packetsRead.Add(1)
			r.route(pkt)

		case errors.Is(err, demux.ErrNoData):
			r.sleep(r.opts.RetryDelay)

		case errors.Is(err, io.EOF):
			r.logger.Info("end of input, draining")
			for _, q := range r.routes {
				q.CloseInput()
			}
			r.awaitDrain()
			reason = "end of stream"
			return nil

		default:
			r.logger.Info("read failed, stopping", slog.String("error", err.Error()))
			reason = "read error: " + err.Error()
			return nil
		}
	}
	return nil
}

func (r *SourceReader) throttled() bool {
	return r.backlog != nil && r.opts.BacklogThreshold > 0 && r.backlog.Backlog() > r.opts.BacklogThreshold
}

// route pushes pkt to its stream's queue, retrying while the queue is full.
func (r *SourceReader) route(pkt *media.Packet) {
	q, ok := r.routes[pkt.StreamIndex]
	if !ok {
		r.logger.Debug("dropping packet for unselected stream",
			slog.Int("stream", pkt.StreamIndex),
			slog.Int("size", pkt.Size()))
		r.stats.packetsDropped.Add(1)
		pkt.Release()
		return
	}

	for {
		err := q.Push(pkt)
		if err == nil {
			return
		}
		if errors.Is(err, ErrQueueFull) && !r.coord.IsQuit() {
			r.sleep(r.opts.RetryDelay)
			continue
		}
		pkt.Release()
		return
	}
}

// awaitDrain waits until buffered output has been consumed, the drain
// timeout passes or playback is quit.
func (r *SourceReader) awaitDrain() {
	if r.drained == nil {
		return
	}
	var deadline <-chan time.Time
	if r.opts.DrainTimeout > 0 {
		timer := time.NewTimer(r.opts.DrainTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(r.opts.RetryDelay)
	defer ticker.Stop()
	for !r.drained() {
		select {
		case <-ticker.C:
		case <-deadline:
			r.logger.Warn("drain timed out", slog.Duration("timeout", r.opts.DrainTimeout))
			return
		case <-r.coord.Done():
			return
		}
	}
}

// sleep waits for d or until quit.
func (r *SourceReader) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.coord.Done():
	}
}
