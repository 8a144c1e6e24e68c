// Package media defines the units that flow through the playback pipeline:
// encoded packets, decoded frames and the stream descriptors that tag them.
package media

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tvplay/internal/codec"
)

// TimeBase is the clock rate of every PTS/DTS value in this package (90 kHz, as in MPEG-TS).
const TimeBase = 90000

// StreamType tags packets, frames and streams as audio or video.
type StreamType int

// Stream types.
const (
	StreamUnknown StreamType = iota
	StreamVideo
	StreamAudio
)

func (t StreamType) String() string {
	switch t {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// StreamInfo describes one elementary stream exposed by a demuxer.
type StreamInfo struct {
	Index int
	Type  StreamType
	Codec codec.Codec

	// ID is the container-level identifier (MPEG-TS PID, Matroska track number).
	ID uint64

	Width  int
	Height int

	SampleRate int
	Channels   int

	// AudioObjectType is the MPEG-4 audio object type for AAC streams (2 = AAC-LC).
	AudioObjectType int

	// Extradata holds codec private data as carried by the container.
	Extradata []byte
}

func (s StreamInfo) String() string {
	switch s.Type {
	case StreamVideo:
		return fmt.Sprintf("#%d %s %s %dx%d", s.Index, s.Type, s.Codec, s.Width, s.Height)
	case StreamAudio:
		return fmt.Sprintf("#%d %s %s %dHz %dch", s.Index, s.Type, s.Codec, s.SampleRate, s.Channels)
	default:
		return fmt.Sprintf("#%d %s %s", s.Index, s.Type, s.Codec)
	}
}

// Packet is a unit of encoded data tagged with its source stream.
// A packet is immutable once produced; whoever holds it last calls Release.
type Packet struct {
	StreamIndex int
	Type        StreamType
	Data        []byte
	PTS         int64
	DTS         int64
	Keyframe    bool

	released  atomic.Bool
	onRelease func(*Packet)
}

// NewPacket builds a packet. onRelease, if non-nil, runs once when the packet is released.
func NewPacket(streamIndex int, typ StreamType, data []byte, pts, dts int64, keyframe bool, onRelease func(*Packet)) *Packet {
	return &Packet{
		StreamIndex: streamIndex,
		Type:        typ,
		Data:        data,
		PTS:         pts,
		DTS:         dts,
		Keyframe:    keyframe,
		onRelease:   onRelease,
	}
}

// Size returns the payload size in bytes.
func (p *Packet) Size() int {
	return len(p.Data)
}

// Release drops the payload. It reports false if the packet was already released.
func (p *Packet) Release() bool {
	if !p.released.CompareAndSwap(false, true) {
		return false
	}
	if p.onRelease != nil {
		p.onRelease(p)
	}
	p.Data = nil
	return true
}

// Released reports whether Release has been called.
func (p *Packet) Released() bool {
	return p.released.Load()
}

// PixelFormat names the layout of video frame planes.
type PixelFormat string

// PixelFormatYUV420P is planar Y, U, V with 2x2 chroma subsampling.
const PixelFormatYUV420P PixelFormat = "yuv420p"

// Frame is a unit of decoded, presentable data.
type Frame struct {
	Type        StreamType
	StreamIndex int
	PTS         int64

	// Video
	Width       int
	Height      int
	PixelFormat PixelFormat
	Planes      [][]byte

	// Audio: interleaved signed 16-bit little-endian samples.
	SampleRate int
	Channels   int
	Samples    []byte
}

// Size returns the payload size in bytes.
func (f *Frame) Size() int {
	if f.Type == StreamAudio {
		return len(f.Samples)
	}
	n := 0
	for _, p := range f.Planes {
		n += len(p)
	}
	return n
}

// SampleCount returns the number of samples per channel in an audio frame.
func (f *Frame) SampleCount() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / (2 * f.Channels)
}

// YUV420PSize returns the byte size of a yuv420p picture.
func YUV420PSize(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}

// SplitYUV420P slices a packed yuv420p picture into its three planes.
func SplitYUV420P(buf []byte, width, height int) [][]byte {
	ySize := width * height
	cSize := ((width + 1) / 2) * ((height + 1) / 2)
	if len(buf) < ySize+2*cSize {
		return [][]byte{buf}
	}
	return [][]byte{
		buf[:ySize],
		buf[ySize : ySize+cSize],
		buf[ySize+cSize : ySize+2*cSize],
	}
}

// Duration converts a 90 kHz tick count to a time.Duration.
func Duration(ticks int64) time.Duration {
	return time.Duration(ticks) * time.Second / TimeBase
}
