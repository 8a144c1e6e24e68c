package playback

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jmylchreest/tvplay/internal/output"
)

// TickResult is what one scheduler tick did.
type TickResult int

const (
	TickIdle      TickResult = iota // no video stream
	TickEmpty                       // nothing ready, retry soon
	TickPresented                   // one frame rendered
	TickDraining                    // shutting down
)

func (r TickResult) String() string {
	switch r {
	case TickIdle:
		return "idle"
	case TickEmpty:
		return "empty"
	case TickPresented:
		return "presented"
	case TickDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Intervals are the fixed scheduler periods.
type Intervals struct {
	Frame time.Duration
	Retry time.Duration
	Idle  time.Duration
}

// Scheduler presents at most one frame per tick. It has no drift correction.
type Scheduler struct {
	buffer    *PresentationBuffer
	sink      output.VideoSink
	intervals Intervals
	stats     *Stats
	logger    *slog.Logger
}

// NewScheduler creates a scheduler. A nil buffer means no video stream.
func NewScheduler(buffer *PresentationBuffer, sink output.VideoSink, intervals Intervals, stats *Stats, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = &Stats{}
	}
	if intervals.Frame <= 0 {
		intervals.Frame = 40 * time.Millisecond
	}
	if intervals.Retry <= 0 {
		intervals.Retry = 10 * time.Millisecond
	}
	if intervals.Idle <= 0 {
		intervals.Idle = 500 * time.Millisecond
	}
	return &Scheduler{
		buffer:    buffer,
		sink:      sink,
		intervals: intervals,
		stats:     stats,
		logger:    logger,
	}
}

// Tick performs one presentation step and returns the interval until the next.
func (s *Scheduler) Tick() (TickResult, time.Duration) {
	if s.buffer == nil || s.sink == nil {
		return TickIdle, s.intervals.Idle
	}

	frame, err := s.buffer.TryPop()
	switch {
	case errors.Is(err, ErrDraining):
		return TickDraining, 0
	case err != nil:
		return TickEmpty, s.intervals.Retry
	}

	if err := s.sink.Render(frame); err != nil {
		s.stats.renderErrors.Add(1)
		s.logger.Warn("render failed", slog.Int64("pts", frame.PTS), slog.String("error", err.Error()))
	} else {
		s.stats.framesPresented.Add(1)
	}
	return TickPresented, s.intervals.Frame
}

// Run drives Tick from a single ticker until coord quits or the buffer drains.
func (s *Scheduler) Run(coord *Coordinator) {
	ticker := time.NewTicker(s.intervals.Retry)
	defer ticker.Stop()

	for {
		select {
		case <-coord.Done():
			return
		case <-ticker.C:
			result, next := s.Tick()
			if result == TickDraining {
				return
			}
			ticker.Reset(next)
		}
	}
}
