package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/codec"
	"github.com/jmylchreest/tvplay/internal/decode"
	"github.com/jmylchreest/tvplay/internal/demux"
	"github.com/jmylchreest/tvplay/internal/media"
	"github.com/jmylchreest/tvplay/internal/output"
)

// releaseCounter counts packet releases.
type releaseCounter struct {
	n atomic.Int64
}

func (c *releaseCounter) packet(stream int, typ media.StreamType, pts int64, data ...byte) *media.Packet {
	if len(data) == 0 {
		data = []byte{0x01}
	}
	return media.NewPacket(stream, typ, data, pts, pts, true, func(*media.Packet) { c.n.Add(1) })
}

func (c *releaseCounter) count() int64 { return c.n.Load() }

type readResult struct {
	pkt *media.Packet
	err error
}

// fakeDemuxer replays a script of reads, then returns final forever.
type fakeDemuxer struct {
	streams []media.StreamInfo

	mu     sync.Mutex
	script []readResult
	final  error
	reads  int
	closed bool
}

func newFakeDemuxer(streams []media.StreamInfo, final error, script ...readResult) *fakeDemuxer {
	return &fakeDemuxer{streams: streams, script: script, final: final}
}

func (d *fakeDemuxer) Format() demux.Format        { return demux.FormatMPEGTS }
func (d *fakeDemuxer) Streams() []media.StreamInfo { return d.streams }

func (d *fakeDemuxer) ReadPacket() (*media.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if len(d.script) == 0 {
		return nil, d.final
	}
	r := d.script[0]
	d.script = d.script[1:]
	return r.pkt, r.err
}

func (d *fakeDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDemuxer) readCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *fakeDemuxer) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

var errCorrupt = errors.New("corrupt packet")

// corruptByte marks a packet the fakeDecoder refuses.
const corruptByte = 0xBA

// fakeDecoder emits framesPer frames for each accepted packet.
type fakeDecoder struct {
	info      media.StreamInfo
	framesPer int

	pending []*media.Frame
	flushed bool
	closed  atomic.Bool
}

func (d *fakeDecoder) SendPacket(_ context.Context, pkt *media.Packet) error {
	if d.closed.Load() {
		return decode.ErrClosed
	}
	if d.flushed {
		return decode.ErrEndOfStream
	}
	if len(d.pending) > 0 {
		return decode.ErrOutputPending
	}
	if len(pkt.Data) > 0 && pkt.Data[0] == corruptByte {
		return fmt.Errorf("pts %d: %w", pkt.PTS, errCorrupt)
	}
	d.pending = append(d.pending, fakeFrames(d.info, pkt, d.framesPer)...)
	return nil
}

func (d *fakeDecoder) ReceiveFrame() (*media.Frame, error) {
	if len(d.pending) == 0 {
		if d.flushed {
			return nil, decode.ErrEndOfStream
		}
		return nil, decode.ErrNeedMoreInput
	}
	f := d.pending[0]
	d.pending = d.pending[1:]
	return f, nil
}

func (d *fakeDecoder) Flush() error {
	d.flushed = true
	return nil
}

func (d *fakeDecoder) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *fakeDecoder) isClosed() bool { return d.closed.Load() }

func fakeFrames(info media.StreamInfo, pkt *media.Packet, per int) []*media.Frame {
	n := max(per, 1)
	frames := make([]*media.Frame, 0, n)
	for i := range n {
		f := &media.Frame{Type: info.Type, StreamIndex: pkt.StreamIndex, PTS: pkt.PTS + int64(i)}
		if info.Type == media.StreamAudio {
			f.SampleRate, f.Channels = 48000, 2
			f.Samples = make([]byte, 4)
		} else {
			f.Width, f.Height = info.Width, info.Height
		}
		frames = append(frames, f)
	}
	return frames
}

type lateFrame struct {
	frame *media.Frame
	ready time.Time
}

// lateDecoder accepts every packet at once and makes its frame receivable
// only after lateBy, the way a subprocess decoder does.
type lateDecoder struct {
	info   media.StreamInfo
	lateBy time.Duration

	queued  []lateFrame
	flushed bool
	closed  atomic.Bool
}

func (d *lateDecoder) SendPacket(_ context.Context, pkt *media.Packet) error {
	if d.closed.Load() {
		return decode.ErrClosed
	}
	if d.flushed {
		return decode.ErrEndOfStream
	}
	ready := time.Now().Add(d.lateBy)
	for _, f := range fakeFrames(d.info, pkt, 1) {
		d.queued = append(d.queued, lateFrame{frame: f, ready: ready})
	}
	return nil
}

func (d *lateDecoder) ReceiveFrame() (*media.Frame, error) {
	if d.closed.Load() {
		return nil, decode.ErrEndOfStream
	}
	if len(d.queued) == 0 {
		if d.flushed {
			return nil, decode.ErrEndOfStream
		}
		return nil, decode.ErrNeedMoreInput
	}
	if time.Now().Before(d.queued[0].ready) {
		return nil, decode.ErrNeedMoreInput
	}
	f := d.queued[0].frame
	d.queued = d.queued[1:]
	return f, nil
}

func (d *lateDecoder) Flush() error {
	d.flushed = true
	return nil
}

func (d *lateDecoder) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *lateDecoder) isClosed() bool { return d.closed.Load() }

type trackedDecoder interface {
	decode.Decoder
	isClosed() bool
}

// fakeFactory builds fakeDecoders for every codec except those in
// unsupported, or lateDecoders when lateBy is set.
type fakeFactory struct {
	mu          sync.Mutex
	unsupported map[codec.Codec]bool
	lateBy      time.Duration
	built       []trackedDecoder
}

func (f *fakeFactory) New(info media.StreamInfo) (decode.Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsupported[info.Codec] {
		return nil, fmt.Errorf("stream %d: %w", info.Index, decode.ErrUnsupportedCodec)
	}
	var d trackedDecoder = &fakeDecoder{info: info}
	if f.lateBy > 0 {
		d = &lateDecoder{info: info, lateBy: f.lateBy}
	}
	f.built = append(f.built, d)
	return d, nil
}

func (f *fakeFactory) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.built {
		if !d.isClosed() {
			return false
		}
	}
	return true
}

// recordingSink records frames. It serves as a FrameSink and an output.VideoSink.
type recordingSink struct {
	mu        sync.Mutex
	frames    []*media.Frame
	acceptErr error
	openErr   error
	closeErr  error
	width     int
	height    int
	closed    bool
}

var _ output.VideoSink = (*recordingSink)(nil)

func (s *recordingSink) Accept(f *media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptErr != nil {
		return s.acceptErr
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) Open(w, h int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = w, h
	return s.openErr
}

func (s *recordingSink) Render(f *media.Frame) error { return s.Accept(f) }

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSink) ptsList() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.PTS
	}
	return out
}

// fakeAudio is an AudioDevice with a settable backlog.
type fakeAudio struct {
	backlog atomic.Int64
	writes  atomic.Int64
	opened  atomic.Bool
	closed  atomic.Bool
	openErr error
}

var _ output.AudioDevice = (*fakeAudio)(nil)

func (a *fakeAudio) Open(output.AudioFormat) error {
	if a.openErr != nil {
		return a.openErr
	}
	a.opened.Store(true)
	return nil
}

func (a *fakeAudio) Write(*media.Frame) error {
	if a.closed.Load() {
		return output.ErrClosed
	}
	a.writes.Add(1)
	return nil
}

func (a *fakeAudio) Backlog() int64 { return a.backlog.Load() }

func (a *fakeAudio) Close() error {
	a.closed.Store(true)
	return nil
}

var (
	testVideo = media.StreamInfo{Index: 0, Type: media.StreamVideo, Codec: codec.H264, Width: 64, Height: 48}
	testAudio = media.StreamInfo{Index: 1, Type: media.StreamAudio, Codec: codec.AAC, SampleRate: 48000, Channels: 2}
)

var errIO = fmt.Errorf("connection reset: %w", io.ErrClosedPipe)

// catBinary writes a stand-in for ffmpeg that echoes stdin to stdout, so a
// 2x2 video stream turns every six input bytes into one picture.
func catBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stand-in needs a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec cat\n"), 0o755))
	return path
}
