package playback

import (
	"github.com/jmylchreest/tvplay/internal/media"
	"github.com/jmylchreest/tvplay/internal/output"
)

// FrameSink receives decoded frames from a decoder worker. An error means the
// sink will not take further frames for the current packet.
type FrameSink interface {
	Accept(frame *media.Frame) error
}

// bufferSink hands video frames to the presentation buffer, blocking while it is full.
type bufferSink struct {
	buf *PresentationBuffer
}

func (s bufferSink) Accept(frame *media.Frame) error {
	return s.buf.Push(frame)
}

// audioSink writes audio frames straight to the output device.
type audioSink struct {
	dev   output.AudioDevice
	stats *Stats
}

func (s audioSink) Accept(frame *media.Frame) error {
	if err := s.dev.Write(frame); err != nil {
		return err
	}
	if s.stats != nil {
		s.stats.audioBytes.Add(int64(len(frame.Samples)))
	}
	return nil
}
