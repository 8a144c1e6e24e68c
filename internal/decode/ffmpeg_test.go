package decode

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvplay/internal/codec"
	"github.com/jmylchreest/tvplay/internal/ffmpeg"
	"github.com/jmylchreest/tvplay/internal/media"
)

func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

func TestNewFFmpegRegistry_FiltersByBinary(t *testing.T) {
	info := &ffmpeg.BinaryInfo{
		FFmpegPath:   "/usr/bin/ffmpeg",
		MajorVersion: 6,
		MinorVersion: 1,
		Codecs: []ffmpeg.Codec{
			{Name: "h264", Type: "video", CanDecode: true},
			{Name: "aac", Type: "audio", CanDecode: true},
			{Name: "hevc", Type: "video", CanDecode: true},
		},
		Formats: []ffmpeg.FormatInfo{
			{Name: "h264", CanDemux: true},
			{Name: "aac", CanDemux: true},
		},
	}

	r := NewFFmpegRegistry(FFmpegOptions{}, info)
	assert.Equal(t, []codec.Codec{codec.AAC, codec.H264}, r.Codecs())
	assert.False(t, r.Supports(codec.H265), "hevc demuxer missing")
	assert.False(t, r.Supports(codec.Opus), "opus cannot be piped raw")

	dec, err := r.New(media.StreamInfo{Index: 0, Type: media.StreamVideo, Codec: codec.H264})
	require.NoError(t, err)
	fd, ok := dec.(*FFmpegDecoder)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/ffmpeg", fd.opts.BinaryPath)
	assert.True(t, fd.opts.FPSMode)
	require.NoError(t, dec.Close())
}

func TestNewFFmpegDecoder_Validation(t *testing.T) {
	_, err := NewFFmpegDecoder(media.StreamInfo{Codec: codec.Opus}, FFmpegOptions{BinaryPath: "ffmpeg"})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)

	_, err = NewFFmpegDecoder(media.StreamInfo{Codec: codec.H264}, FFmpegOptions{})
	assert.Error(t, err)
}

func TestFFmpegDecoder_BuildArgs(t *testing.T) {
	video, err := NewFFmpegDecoder(
		media.StreamInfo{Type: media.StreamVideo, Codec: codec.H264},
		FFmpegOptions{BinaryPath: "ffmpeg", FPSMode: true},
	)
	require.NoError(t, err)
	video.width, video.height = 320, 240
	args := video.buildArgs("h264")
	assert.Subset(t, args, []string{"-f", "h264", "-i", "pipe:0", "scale=320:240", "-fps_mode", "rawvideo", "yuv420p", "pipe:1"})

	audio, err := NewFFmpegDecoder(
		media.StreamInfo{Type: media.StreamAudio, Codec: codec.AAC},
		FFmpegOptions{BinaryPath: "ffmpeg", SampleRate: 44100, Channels: 1},
	)
	require.NoError(t, err)
	args = audio.buildArgs("aac")
	assert.Subset(t, args, []string{"s16le", "pcm_s16le", "-ar", "44100", "-ac", "1"})
	assert.NotContains(t, args, "-vf")
}

func TestFFmpegDecoder_FrameInput(t *testing.T) {
	aac, err := NewFFmpegDecoder(
		media.StreamInfo{Type: media.StreamAudio, Codec: codec.AAC, SampleRate: 48000, Channels: 2},
		FFmpegOptions{BinaryPath: "ffmpeg"},
	)
	require.NoError(t, err)

	raw := media.NewPacket(1, media.StreamAudio, []byte{0x21, 0x10, 0x05}, 0, 0, true, nil)
	data := aac.frameInput(raw)
	assert.Len(t, data, adtsHeaderSize+3)
	assert.True(t, hasADTSSync(data))

	framed := media.NewPacket(1, media.StreamAudio, []byte{0xff, 0xf1, 0x50}, 0, 0, true, nil)
	assert.Equal(t, framed.Data, aac.frameInput(framed), "existing ADTS is passed through")

	vp9, err := NewFFmpegDecoder(
		media.StreamInfo{Type: media.StreamVideo, Codec: codec.VP9, Width: 64, Height: 48},
		FFmpegOptions{BinaryPath: "ffmpeg"},
	)
	require.NoError(t, err)
	pkt := media.NewPacket(0, media.StreamVideo, []byte{1, 2}, 3000, 3000, true, nil)

	first := vp9.frameInput(pkt)
	assert.Len(t, first, ivfFileHeaderSize+ivfFrameHeaderSize+2)
	assert.Len(t, vp9.frameInput(pkt), ivfFileHeaderSize+ivfFrameHeaderSize+2, "header repeats until a packet is accepted")

	vp9.accepted(pkt)
	assert.Len(t, vp9.frameInput(pkt), ivfFrameHeaderSize+2)
}

func TestFFmpegDecoder_VideoTimestamps(t *testing.T) {
	d, err := NewFFmpegDecoder(
		media.StreamInfo{Type: media.StreamVideo, Codec: codec.H264},
		FFmpegOptions{BinaryPath: "ffmpeg"},
	)
	require.NoError(t, err)
	d.width, d.height = 4, 2

	// B-frame reordering: decode order 0, 9000, 3000, 6000.
	for _, pts := range []int64{0, 9000, 3000, 6000} {
		d.accepted(media.NewPacket(0, media.StreamVideo, []byte{1}, pts, pts, false, nil))
	}

	buf := make([]byte, media.YUV420PSize(4, 2))
	var got []int64
	for range 5 {
		got = append(got, d.makeFrame(buf).PTS)
	}
	assert.Equal(t, []int64{0, 3000, 6000, 9000, 12000}, got)
}

func TestFFmpegDecoder_AudioTimestamps(t *testing.T) {
	d, err := NewFFmpegDecoder(
		media.StreamInfo{Type: media.StreamAudio, Codec: codec.AC3},
		FFmpegOptions{BinaryPath: "ffmpeg", SampleRate: 48000, Channels: 2},
	)
	require.NoError(t, err)

	d.accepted(media.NewPacket(1, media.StreamAudio, []byte{1}, 90000, 90000, true, nil))

	chunk := make([]byte, 480*2*2) // 10ms
	f1 := d.makeFrame(chunk)
	f2 := d.makeFrame(chunk)
	assert.Equal(t, int64(90000), f1.PTS)
	assert.Equal(t, int64(90900), f2.PTS)
	assert.Equal(t, 48000, f2.SampleRate)
	assert.Equal(t, 2, f2.Channels)
}

func TestFFmpegDecoder_NotStarted(t *testing.T) {
	d, err := NewFFmpegDecoder(media.StreamInfo{Type: media.StreamVideo, Codec: codec.H264}, FFmpegOptions{BinaryPath: "ffmpeg"})
	require.NoError(t, err)

	_, err = d.ReceiveFrame()
	assert.ErrorIs(t, err, ErrNeedMoreInput)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.SendPacket(context.Background(), media.NewPacket(0, media.StreamVideo, []byte{1}, 0, 0, true, nil)), ErrClosed)
	_, err = d.ReceiveFrame()
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestFFmpegDecoder_FlushBeforeStart(t *testing.T) {
	d, err := NewFFmpegDecoder(media.StreamInfo{Type: media.StreamVideo, Codec: codec.H264}, FFmpegOptions{BinaryPath: "ffmpeg"})
	require.NoError(t, err)

	require.NoError(t, d.Flush())
	require.NoError(t, d.Flush())
	_, err = d.ReceiveFrame()
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.ErrorIs(t, d.SendPacket(context.Background(), media.NewPacket(0, media.StreamVideo, []byte{1}, 0, 0, true, nil)), ErrEndOfStream)

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Flush(), ErrClosed)
}

// catBinary writes a stand-in for ffmpeg that echoes stdin to stdout, so a
// 2x2 video stream decodes every six input bytes into one picture.
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

func TestFFmpegDecoder_FlushReturnsBufferedFrames(t *testing.T) {
	d, err := NewFFmpegDecoder(
		media.StreamInfo{Index: 0, Type: media.StreamVideo, Codec: codec.H264, Width: 2, Height: 2},
		FFmpegOptions{BinaryPath: catBinary(t)},
	)
	require.NoError(t, err)
	defer d.Close()

	var data []byte
	for i := range 5 {
		data = append(data, bytes.Repeat([]byte{byte(i + 1)}, 6)...)
	}
	ctx := context.Background()
	var frames []*media.Frame
	for i := range 5 {
		pkt := media.NewPacket(0, media.StreamVideo, data[i*6:(i+1)*6], int64(i*3000), int64(i*3000), i == 0, nil)
		for {
			err := d.SendPacket(ctx, pkt)
			if err == nil {
				break
			}
			require.ErrorIs(t, err, ErrOutputPending)
			f, err := d.ReceiveFrame()
			require.NoError(t, err)
			frames = append(frames, f)
		}
	}

	require.NoError(t, d.Flush())
	assert.ErrorIs(t, d.SendPacket(ctx, media.NewPacket(0, media.StreamVideo, []byte{1}, 0, 0, false, nil)), ErrEndOfStream)
	frames = append(frames, drain(t, d)...)

	require.Len(t, frames, 5)
	for i, f := range frames {
		assert.Equal(t, int64(i*3000), f.PTS)
		assert.Equal(t, 2, f.Width)
		assert.Equal(t, []byte{byte(i + 1), byte(i + 1), byte(i + 1), byte(i + 1)}, f.Planes[0])
	}
}

func TestScanLinesWithCR(t *testing.T) {
	adv, tok, err := scanLinesWithCR([]byte("frame=1\rframe=2\n"), false)
	require.NoError(t, err)
	assert.Equal(t, 8, adv)
	assert.Equal(t, "frame=1", string(tok))

	adv, tok, _ = scanLinesWithCR([]byte("tail"), true)
	assert.Equal(t, 4, adv)
	assert.Equal(t, "tail", string(tok))

	adv, tok, _ = scanLinesWithCR([]byte("partial"), false)
	assert.Zero(t, adv)
	assert.Nil(t, tok)
}

// encode produces an elementary stream with the local ffmpeg, skipping the
// test when the encoder is unavailable.
func encode(t *testing.T, path string, args ...string) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...).Output()
	if err != nil || len(out) == 0 {
		t.Skipf("ffmpeg could not encode test stream: %v", err)
	}
	return out
}

// drain collects frames until the decoder reports end of stream.
func drain(t *testing.T, d *FFmpegDecoder) []*media.Frame {
	t.Helper()
	var frames []*media.Frame
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		f, err := d.ReceiveFrame()
		switch {
		case err == nil:
			frames = append(frames, f)
		case errors.Is(err, ErrNeedMoreInput):
			time.Sleep(5 * time.Millisecond)
		case errors.Is(err, ErrEndOfStream):
			return frames
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	t.Fatal("decoder did not reach end of stream")
	return nil
}

// sendAll feeds data in chunks, receiving pending output as the contract requires.
func sendAll(t *testing.T, d *FFmpegDecoder, typ media.StreamType, data []byte) []*media.Frame {
	t.Helper()
	ctx := context.Background()
	var frames []*media.Frame
	const chunk = 4096
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		pkt := media.NewPacket(0, typ, data[off:end], int64(off), int64(off), off == 0, nil)
		for {
			err := d.SendPacket(ctx, pkt)
			if err == nil {
				break
			}
			require.ErrorIs(t, err, ErrOutputPending)
			for {
				f, err := d.ReceiveFrame()
				if err != nil {
					break
				}
				frames = append(frames, f)
			}
		}
	}
	return frames
}

func TestFFmpegDecoder_DecodesVideo(t *testing.T) {
	path := skipIfNoFFmpeg(t)
	es := encode(t, path,
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate=25",
		"-frames:v", "10", "-c:v", "mpeg2video", "-f", "mpeg2video", "pipe:1")

	d, err := NewFFmpegDecoder(
		media.StreamInfo{Index: 0, Type: media.StreamVideo, Codec: codec.MPEG2Video, Width: 64, Height: 48},
		FFmpegOptions{BinaryPath: path, FrameChannelSize: 2},
	)
	require.NoError(t, err)
	defer d.Close()

	frames := sendAll(t, d, media.StreamVideo, es)
	require.NoError(t, d.Flush())
	frames = append(frames, drain(t, d)...)

	require.NotEmpty(t, frames)
	for _, f := range frames {
		assert.Equal(t, 64, f.Width)
		assert.Equal(t, 48, f.Height)
		require.Len(t, f.Planes, 3)
		assert.Len(t, f.Planes[0], 64*48)
	}
	for i := 1; i < len(frames); i++ {
		assert.GreaterOrEqual(t, frames[i].PTS, frames[i-1].PTS)
	}
}

func TestFFmpegDecoder_DecodesAudio(t *testing.T) {
	path := skipIfNoFFmpeg(t)
	es := encode(t, path,
		"-f", "lavfi", "-i", "sine=frequency=440:duration=0.5",
		"-c:a", "ac3", "-f", "ac3", "pipe:1")

	d, err := NewFFmpegDecoder(
		media.StreamInfo{Index: 1, Type: media.StreamAudio, Codec: codec.AC3},
		FFmpegOptions{BinaryPath: path, SampleRate: 8000, Channels: 1},
	)
	require.NoError(t, err)
	defer d.Close()

	frames := sendAll(t, d, media.StreamAudio, es)
	require.NoError(t, d.Flush())
	frames = append(frames, drain(t, d)...)

	require.NotEmpty(t, frames)
	total := 0
	for _, f := range frames {
		assert.Equal(t, 8000, f.SampleRate)
		assert.Equal(t, 1, f.Channels)
		total += f.SampleCount()
	}
	assert.InDelta(t, 4000, total, 1600)
}
