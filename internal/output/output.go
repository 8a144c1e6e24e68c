// Package output provides the audio devices and video sinks that decoded
// frames are presented to.
package output

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/tvplay/internal/media"
)

// ErrClosed is returned by writes to a device or sink after Close.
var ErrClosed = errors.New("output closed")

// ErrNotOpen is returned by writes before Open.
var ErrNotOpen = errors.New("output not open")

// AudioFormat describes interleaved s16le PCM.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the real-time byte rate of the format.
func (f AudioFormat) BytesPerSecond() int64 {
	return int64(f.SampleRate) * int64(f.Channels) * 2
}

func (f AudioFormat) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("invalid audio format %dHz %dch", f.SampleRate, f.Channels)
	}
	return nil
}

// AudioDevice plays interleaved samples in real time.
// Backlog may be called from any goroutine.
type AudioDevice interface {
	Open(format AudioFormat) error
	Write(frame *media.Frame) error
	// Backlog returns the number of queued bytes not yet played.
	Backlog() int64
	Close() error
}

// VideoSink displays decoded pictures. It is used from a single goroutine.
type VideoSink interface {
	Open(width, height int) error
	Render(frame *media.Frame) error
	Close() error
}
