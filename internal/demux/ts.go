package demux

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/tvplay/internal/codec"
	"github.com/jmylchreest/tvplay/internal/media"
)

const (
	tsSyncByte   = 0x47
	tsPacketSize = 188
)

// Samples per frame, used to step PTS across multiple audio frames
// delivered in one PES packet.
const (
	aacFrameSamples  = 1024
	mp3FrameSamples  = 1152
	ac3FrameSamples  = 1536
	opusFrameSamples = 960
)

// tsDemuxer demuxes MPEG-TS using mediacommon.
type tsDemuxer struct {
	*packetStream

	reader  *mpegts.Reader
	streams []media.StreamInfo
	logger  *slog.Logger
}

func newTSDemuxer(r io.Reader, src io.Closer, opts Options) (*tsDemuxer, error) {
	d := &tsDemuxer{
		packetStream: newPacketStream(src, opts.PacketBuffer),
		logger:       opts.logger().With(slog.String("format", string(FormatMPEGTS))),
	}

	d.reader = &mpegts.Reader{R: r}

	// Reads until PAT/PMT are found.
	if err := d.reader.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts reader: %w", err)
	}

	for _, track := range d.reader.Tracks() {
		d.setupTrack(track)
	}

	d.reader.OnDecodeError(func(err error) {
		d.logger.Debug("MPEG-TS decode error", slog.String("error", err.Error()))
	})

	d.run(d.readLoop)
	return d, nil
}

func (d *tsDemuxer) Format() Format {
	return FormatMPEGTS
}

func (d *tsDemuxer) Streams() []media.StreamInfo {
	return d.streams
}

func (d *tsDemuxer) readLoop() error {
	for {
		if d.ctx.Err() != nil {
			return ErrClosed
		}
		if err := d.reader.Read(); err != nil {
			return err
		}
	}
}

func (d *tsDemuxer) addStream(track *mpegts.Track, typ media.StreamType, c codec.Codec) *media.StreamInfo {
	d.streams = append(d.streams, media.StreamInfo{
		Index: len(d.streams),
		Type:  typ,
		Codec: c,
		ID:    uint64(track.PID),
	})
	return &d.streams[len(d.streams)-1]
}

// setupTrack records a stream for track and registers its data callback.
func (d *tsDemuxer) setupTrack(track *mpegts.Track) {
	switch tc := track.Codec.(type) {
	case *mpegts.CodecH264:
		index := d.addStream(track, media.StreamVideo, codec.H264).Index
		d.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return d.emitVideo(index, pts, dts, au, h264.IsRandomAccess(au))
		})

	case *mpegts.CodecH265:
		index := d.addStream(track, media.StreamVideo, codec.H265).Index
		d.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return d.emitVideo(index, pts, dts, au, h265.IsRandomAccess(au))
		})

	case *mpegts.CodecMPEG4Audio:
		info := d.addStream(track, media.StreamAudio, codec.AAC)
		info.SampleRate = tc.Config.SampleRate
		info.Channels = tc.Config.ChannelCount
		info.AudioObjectType = int(tc.Config.Type)
		index, step := info.Index, frameTicks(aacFrameSamples, info.SampleRate)
		d.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return d.emitAudio(index, pts, step, aus)
		})

	case *mpegts.CodecAC3:
		info := d.addStream(track, media.StreamAudio, codec.AC3)
		info.SampleRate = tc.SampleRate
		info.Channels = tc.ChannelCount
		index := info.Index
		d.reader.OnDataAC3(track, func(pts int64, frame []byte) error {
			return d.emitAudio(index, pts, 0, [][]byte{frame})
		})

	case *mpegts.CodecEAC3:
		info := d.addStream(track, media.StreamAudio, codec.EAC3)
		info.SampleRate = tc.SampleRate
		info.Channels = tc.ChannelCount
		index := info.Index
		d.reader.OnDataEAC3(track, func(pts int64, frame []byte) error {
			return d.emitAudio(index, pts, 0, [][]byte{frame})
		})

	case *mpegts.CodecMPEG1Audio:
		index := d.addStream(track, media.StreamAudio, codec.MP3).Index
		// Sample rate is carried in each frame header; assume 48kHz for PTS stepping.
		step := frameTicks(mp3FrameSamples, 48000)
		d.reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			return d.emitAudio(index, pts, step, frames)
		})

	case *mpegts.CodecOpus:
		info := d.addStream(track, media.StreamAudio, codec.Opus)
		info.SampleRate = 48000
		info.Channels = tc.ChannelCount
		index, step := info.Index, frameTicks(opusFrameSamples, 48000)
		d.reader.OnDataOpus(track, func(pts int64, packets [][]byte) error {
			return d.emitAudio(index, pts, step, packets)
		})

	default:
		d.addStream(track, media.StreamUnknown, codec.Unknown)
		d.logger.Debug("Found unsupported track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("type", fmt.Sprintf("%T", track.Codec)))
		return
	}

	info := d.streams[len(d.streams)-1]
	d.logger.Debug("Found track",
		slog.String("stream", info.String()),
		slog.Uint64("pid", uint64(track.PID)))
}

// frameTicks is the duration of one audio frame in 90kHz ticks.
func frameTicks(samples, sampleRate int) int64 {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return int64(samples) * media.TimeBase / int64(sampleRate)
}

func (d *tsDemuxer) emitVideo(index int, pts, dts int64, au [][]byte, keyframe bool) error {
	if len(au) == 0 {
		return nil
	}
	annexB, err := h264.AnnexB(au).Marshal()
	if err != nil || len(annexB) == 0 {
		return nil
	}
	return d.emit(media.NewPacket(index, media.StreamVideo, annexB, pts, dts, keyframe, nil))
}

// emitAudio emits each frame as its own packet, stepping PTS by step ticks.
func (d *tsDemuxer) emitAudio(index int, pts, step int64, frames [][]byte) error {
	for _, frame := range frames {
		if len(frame) == 0 {
			continue
		}
		if err := d.emit(media.NewPacket(index, media.StreamAudio, frame, pts, pts, true, nil)); err != nil {
			return err
		}
		pts += step
	}
	return nil
}
