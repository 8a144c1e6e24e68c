package output

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/config"
	"github.com/jmylchreest/tvplay/internal/media"
	"github.com/jmylchreest/tvplay/internal/observability"
)

// syncBuffer is a bytes.Buffer safe for the drain goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func audioFrame(n int) *media.Frame {
	return &media.Frame{Type: media.StreamAudio, SampleRate: 8000, Channels: 1, Samples: make([]byte, n)}
}

func yuvFrame(w, h int, pts int64) *media.Frame {
	buf := make([]byte, media.YUV420PSize(w, h))
	for i := range buf {
		buf[i] = byte(i)
	}
	return &media.Frame{
		Type:        media.StreamVideo,
		PTS:         pts,
		Width:       w,
		Height:      h,
		PixelFormat: media.PixelFormatYUV420P,
		Planes:      media.SplitYUV420P(buf, w, h),
	}
}

func TestAudioFormat_BytesPerSecond(t *testing.T) {
	assert.Equal(t, int64(192000), AudioFormat{SampleRate: 48000, Channels: 2}.BytesPerSecond())
}

func TestPCMDevice_WriteBeforeOpen(t *testing.T) {
	d := NewPCMDevice(nil, 0, observability.Discard())
	assert.ErrorIs(t, d.Write(audioFrame(10)), ErrNotOpen)
	require.NoError(t, d.Close())
}

func TestPCMDevice_OpenRejectsInvalidFormat(t *testing.T) {
	d := NewPCMDevice(nil, 0, observability.Discard())
	assert.Error(t, d.Open(AudioFormat{SampleRate: 0, Channels: 2}))
}

func TestPCMDevice_DrainsAtRealTimeRate(t *testing.T) {
	var out syncBuffer
	d := NewPCMDevice(&out, 5*time.Millisecond, observability.Discard())
	require.NoError(t, d.Open(AudioFormat{SampleRate: 8000, Channels: 1}))
	defer d.Close()

	// 8000 Hz mono s16 is 16000 bytes/s; 1600 bytes is 100ms of audio.
	require.NoError(t, d.Write(audioFrame(1600)))
	assert.LessOrEqual(t, d.Backlog(), int64(1600))

	require.Eventually(t, func() bool { return d.Backlog() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return out.Len() == 1600 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1600), d.Written())
}

func TestPCMDevice_Close(t *testing.T) {
	d := NewPCMDevice(nil, time.Hour, observability.Discard())
	require.NoError(t, d.Open(AudioFormat{SampleRate: 48000, Channels: 2}))
	require.NoError(t, d.Write(audioFrame(4096)))
	assert.Equal(t, int64(4096), d.Backlog())

	require.NoError(t, d.Close())
	assert.Equal(t, int64(0), d.Backlog())
	assert.ErrorIs(t, d.Write(audioFrame(10)), ErrClosed)
	assert.NoError(t, d.Close())
}

func TestNullSink(t *testing.T) {
	s := NewNullSink("tvplay")
	assert.ErrorIs(t, s.Render(yuvFrame(4, 4, 0)), ErrNotOpen)

	require.NoError(t, s.Open(4, 4))
	require.NoError(t, s.Render(yuvFrame(4, 4, 3000)))
	require.NoError(t, s.Render(yuvFrame(4, 4, 6000)))
	assert.Equal(t, int64(2), s.Rendered())
	assert.Equal(t, int64(6000), s.LastPTS())
	assert.Equal(t, "tvplay", s.Title())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Render(yuvFrame(4, 4, 0)), ErrClosed)
}

func TestSinkOpen_InvalidSize(t *testing.T) {
	assert.Error(t, NewNullSink("").Open(0, 720))
}

func TestRawSink_WritesPlanes(t *testing.T) {
	var out bytes.Buffer
	s := NewRawSink(&out, nil)
	require.NoError(t, s.Open(4, 2))
	require.NoError(t, s.Render(yuvFrame(4, 2, 0)))
	require.NoError(t, s.Render(yuvFrame(4, 2, 3000)))
	require.NoError(t, s.Close())

	assert.Equal(t, 2*media.YUV420PSize(4, 2), out.Len())
}

func TestSnapshotSink_SavesEveryNth(t *testing.T) {
	dir := t.TempDir()
	s := NewSnapshotSink(dir, 2, 8, observability.Discard())
	require.NoError(t, s.Open(16, 8))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Render(yuvFrame(16, 8, int64(i)*3000)))
	}
	require.NoError(t, s.Close())
	assert.Equal(t, int64(3), s.Saved())

	for _, name := range []string{"frame-000000.png", "frame-000002.png", "frame-000004.png"} {
		f, err := os.Open(filepath.Join(dir, name))
		require.NoError(t, err)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, 8, img.Bounds().Dx())
		assert.Equal(t, 4, img.Bounds().Dy())
	}
	_, err := os.Stat(filepath.Join(dir, "frame-000001.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotSink_RejectsShortFrame(t *testing.T) {
	s := NewSnapshotSink(t.TempDir(), 1, 0, observability.Discard())
	require.NoError(t, s.Open(16, 8))
	frame := &media.Frame{Type: media.StreamVideo, Width: 16, Height: 8, Planes: [][]byte{make([]byte, 10)}}
	assert.Error(t, s.Render(frame))
}

func TestFactories(t *testing.T) {
	cfg := config.OutputConfig{Video: "null", Audio: "null", WindowTitle: "tvplay"}
	sink, err := NewVideoSink(cfg, observability.Discard())
	require.NoError(t, err)
	assert.IsType(t, &NullSink{}, sink)

	dev, err := NewAudioDevice(cfg, observability.Discard())
	require.NoError(t, err)
	assert.IsType(t, &PCMDevice{}, dev)

	cfg.Video = "raw"
	cfg.VideoPath = filepath.Join(t.TempDir(), "out.yuv")
	sink, err = NewVideoSink(cfg, observability.Discard())
	require.NoError(t, err)
	assert.IsType(t, &RawSink{}, sink)
	require.NoError(t, sink.Close())

	cfg.Video = "hologram"
	_, err = NewVideoSink(cfg, observability.Discard())
	assert.Error(t, err)

	cfg.Audio = "alsa"
	_, err = NewAudioDevice(cfg, observability.Discard())
	assert.Error(t, err)
}
