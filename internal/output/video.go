package output

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/jmylchreest/tvplay/internal/media"
)

// sinkState tracks open/closed and the surface size shared by the sinks.
type sinkState struct {
	width, height int
	opened        bool
	closed        bool
}

func (s *sinkState) open(width, height int) error {
	if s.closed {
		return ErrClosed
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid video size %dx%d", width, height)
	}
	s.width, s.height = width, height
	s.opened = true
	return nil
}

func (s *sinkState) check(frame *media.Frame) error {
	if s.closed {
		return ErrClosed
	}
	if !s.opened {
		return ErrNotOpen
	}
	if frame == nil {
		return fmt.Errorf("nil frame")
	}
	return nil
}

// NullSink counts frames and discards them.
type NullSink struct {
	state    sinkState
	title    string
	rendered atomic.Int64
	lastPTS  atomic.Int64
}

// NewNullSink creates a sink that only counts.
func NewNullSink(title string) *NullSink {
	return &NullSink{title: title}
}

// Open records the surface size.
func (s *NullSink) Open(width, height int) error {
	return s.state.open(width, height)
}

// Render counts the frame.
func (s *NullSink) Render(frame *media.Frame) error {
	if err := s.state.check(frame); err != nil {
		return err
	}
	s.rendered.Add(1)
	s.lastPTS.Store(frame.PTS)
	return nil
}

// Title returns the window title the sink was created with.
func (s *NullSink) Title() string {
	return s.title
}

// Rendered returns the number of frames presented.
func (s *NullSink) Rendered() int64 {
	return s.rendered.Load()
}

// LastPTS returns the PTS of the most recent frame.
func (s *NullSink) LastPTS() int64 {
	return s.lastPTS.Load()
}

// Close marks the sink closed.
func (s *NullSink) Close() error {
	s.state.closed = true
	return nil
}

// RawSink writes every frame's planes back to back, as yuv420p rawvideo.
type RawSink struct {
	state    sinkState
	w        *bufio.Writer
	closer   io.Closer
	rendered int64
}

// NewRawSink writes to w. closer, if non-nil, is closed with the sink.
func NewRawSink(w io.Writer, closer io.Closer) *RawSink {
	return &RawSink{w: bufio.NewWriterSize(w, 1<<20), closer: closer}
}

// Open records the surface size.
func (s *RawSink) Open(width, height int) error {
	return s.state.open(width, height)
}

// Render writes the frame's planes.
func (s *RawSink) Render(frame *media.Frame) error {
	if err := s.state.check(frame); err != nil {
		return err
	}
	for _, plane := range frame.Planes {
		if _, err := s.w.Write(plane); err != nil {
			return fmt.Errorf("writing frame: %w", err)
		}
	}
	s.rendered++
	return nil
}

// Close flushes and closes the underlying writer.
func (s *RawSink) Close() error {
	if s.state.closed {
		return nil
	}
	s.state.closed = true
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// SnapshotSink saves every Nth frame as a scaled PNG.
type SnapshotSink struct {
	state  sinkState
	dir    string
	every  int
	width  int
	logger *slog.Logger

	seen  int64
	saved int64
}

// NewSnapshotSink writes frame-NNNNNN.png files into dir.
func NewSnapshotSink(dir string, every, width int, logger *slog.Logger) *SnapshotSink {
	if every < 1 {
		every = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotSink{dir: dir, every: every, width: width, logger: logger}
}

// Open creates the snapshot directory.
func (s *SnapshotSink) Open(width, height int) error {
	if err := s.state.open(width, height); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	return nil
}

// Render saves the frame when it falls on the snapshot cadence.
func (s *SnapshotSink) Render(frame *media.Frame) error {
	if err := s.state.check(frame); err != nil {
		return err
	}
	n := s.seen
	s.seen++
	if n%int64(s.every) != 0 {
		return nil
	}

	img, err := frameImage(frame)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, fmt.Sprintf("frame-%06d.png", n))
	if err := writePNG(path, scaleToWidth(img, s.width)); err != nil {
		return err
	}
	s.saved++
	s.logger.Debug("snapshot saved", slog.String("path", path), slog.Int64("pts", frame.PTS))
	return nil
}

// Saved returns the number of PNGs written.
func (s *SnapshotSink) Saved() int64 {
	return s.saved
}

// Close marks the sink closed.
func (s *SnapshotSink) Close() error {
	s.state.closed = true
	return nil
}

// frameImage views a yuv420p frame as an image.YCbCr without copying.
func frameImage(frame *media.Frame) (*image.YCbCr, error) {
	w, h := frame.Width, frame.Height
	planes := frame.Planes
	if len(planes) == 1 {
		planes = media.SplitYUV420P(planes[0], w, h)
	}
	if len(planes) != 3 || len(planes[0]) < w*h {
		return nil, fmt.Errorf("frame is not yuv420p %dx%d", w, h)
	}
	cw := (w + 1) / 2
	return &image.YCbCr{
		Y:              planes[0],
		Cb:             planes[1],
		Cr:             planes[2],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}, nil
}

func scaleToWidth(src image.Image, width int) image.Image {
	b := src.Bounds()
	if width <= 0 || width >= b.Dx() {
		return src
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return f.Close()
}
