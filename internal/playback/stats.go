package playback

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/tvplay/pkg/format"
)

// Stats holds the session counters. All fields are updated atomically.
type Stats struct {
	packetsRead     atomic.Int64
	packetsDropped  atomic.Int64
	decodeErrors    atomic.Int64
	framesPresented atomic.Int64
	framesDropped   atomic.Int64
	renderErrors    atomic.Int64
	audioBytes      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	PacketsRead     int64 `json:"packets_read"`
	PacketsDropped  int64 `json:"packets_dropped"`
	DecodeErrors    int64 `json:"decode_errors"`
	FramesPresented int64 `json:"frames_presented"`
	FramesDropped   int64 `json:"frames_dropped"`
	RenderErrors    int64 `json:"render_errors"`
	AudioBytes      int64 `json:"audio_bytes"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		PacketsRead:     s.packetsRead.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		FramesPresented: s.framesPresented.Load(),
		FramesDropped:   s.framesDropped.Load(),
		RenderErrors:    s.renderErrors.Load(),
		AudioBytes:      s.audioBytes.Load(),
	}
}

// LogAttrs renders the snapshot for a stats log line.
func (s StatsSnapshot) LogAttrs(elapsed time.Duration) []any {
	attrs := []any{
		slog.String("packets_read", format.Number(s.PacketsRead)),
		slog.String("packets_dropped", format.Number(s.PacketsDropped)),
		slog.String("decode_errors", format.Number(s.DecodeErrors)),
		slog.String("frames_presented", format.Number(s.FramesPresented)),
		slog.String("frame_rate", format.Rate(s.FramesPresented, elapsed)),
		slog.String("audio", format.Bytes(s.AudioBytes)),
		slog.Duration("elapsed", elapsed.Round(time.Millisecond)),
	}
	if s.PacketsRead > 0 {
		rate := 100 * float64(s.DecodeErrors) / float64(s.PacketsRead)
		attrs = append(attrs, slog.String("decode_error_rate", format.Percentage(rate, 1)))
	}
	if rss, ok := processRSS(context.Background()); ok {
		attrs = append(attrs, slog.String("rss", format.Bytes(rss)))
	}
	return attrs
}

// processRSS returns the resident set size of this process.
func processRSS(ctx context.Context) (int64, bool) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, false
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil || mem == nil {
		return 0, false
	}
	return int64(mem.RSS), true
}
