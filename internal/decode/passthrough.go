package decode

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/tvplay/internal/codec"
	"github.com/jmylchreest/tvplay/internal/media"
)

// ErrEmptyPacket is returned by the passthrough decoder for packets with no payload.
var ErrEmptyPacket = errors.New("empty packet")

// Passthrough emits every packet as one frame without decoding it. Video
// packets become single-plane frames with the stream's dimensions, audio
// packets become sample buffers. It backs the "passthrough" decoder backend.
type Passthrough struct {
	info    media.StreamInfo
	pending *media.Frame
	flushed bool
	closed  bool
}

// NewPassthrough creates a passthrough decoder for info.
func NewPassthrough(info media.StreamInfo) *Passthrough {
	return &Passthrough{info: info}
}

// NewPassthroughRegistry registers the passthrough decoder for every known codec.
func NewPassthroughRegistry() *Registry {
	r := NewRegistry()
	for _, c := range []codec.Codec{
		codec.H264, codec.H265, codec.MPEG2Video, codec.MPEG4Video, codec.VP8, codec.VP9, codec.AV1,
		codec.AAC, codec.AC3, codec.EAC3, codec.MP3, codec.Opus,
	} {
		r.Register(c, func(info media.StreamInfo) (Decoder, error) {
			return NewPassthrough(info), nil
		})
	}
	return r
}

// SendPacket implements Decoder.
func (d *Passthrough) SendPacket(_ context.Context, pkt *media.Packet) error {
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

	data := make([]byte, len(pkt.Data))
	copy(data, pkt.Data)

	f := &media.Frame{
		Type:        d.info.Type,
		StreamIndex: pkt.StreamIndex,
		PTS:         pkt.PTS,
	}
	if d.info.Type == media.StreamAudio {
		f.SampleRate = d.info.SampleRate
		f.Channels = d.info.Channels
		f.Samples = data
	} else {
		f.Width = d.info.Width
		f.Height = d.info.Height
		f.Planes = [][]byte{data}
	}
	d.pending = f
	return nil
}

// ReceiveFrame implements Decoder.
func (d *Passthrough) ReceiveFrame() (*media.Frame, error) {
	if d.closed {
		return nil, ErrEndOfStream
	}
	if d.pending == nil {
		if d.flushed {
			return nil, ErrEndOfStream
		}
		return nil, ErrNeedMoreInput
	}
	f := d.pending
	d.pending = nil
	return f, nil
}

// Flush implements Decoder.
func (d *Passthrough) Flush() error {
	if d.closed {
		return ErrClosed
	}
	d.flushed = true
	return nil
}

// Close implements Decoder.
func (d *Passthrough) Close() error {
	d.closed = true
	d.pending = nil
	return nil
}
