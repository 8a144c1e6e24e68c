package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/remko/go-mkvparse"

	"github.com/jmylchreest/tvplay/internal/codec"
	"github.com/jmylchreest/tvplay/internal/media"
)

// Matroska TrackType values.
const (
	mkvTrackVideo = 1
	mkvTrackAudio = 2
)

const defaultTimecodeScale = 1_000_000 // ns

// mkvTrack accumulates a TrackEntry while it is being parsed.
type mkvTrack struct {
	number   int64
	kind     int64
	codecID  string
	private  []byte
	width    int
	height   int
	rate     float64
	channels int
}

// mkvStream is the per-stream state used while emitting blocks.
type mkvStream struct {
	index int
	typ   media.StreamType
	nal   *nalConfig // AVC/HEVC only
}

// mkvDemuxer demuxes Matroska and WebM with go-mkvparse.
type mkvDemuxer struct {
	*packetStream

	streams []media.StreamInfo
	logger  *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func newMKVDemuxer(ctx context.Context, r io.Reader, src io.Closer, opts Options) (*mkvDemuxer, error) {
	d := &mkvDemuxer{
		packetStream: newPacketStream(src, opts.PacketBuffer),
		logger:       opts.logger().With(slog.String("format", string(FormatMatroska))),
		ready:        make(chan struct{}),
	}

	h := &mkvHandler{
		d:             d,
		tracks:        make(map[int64]*mkvStream),
		timecodeScale: defaultTimecodeScale,
	}
	d.run(func() error {
		defer d.markReady()
		return mkvparse.Parse(r, h)
	})

	// Track headers precede the first cluster.
	select {
	case <-d.ready:
	case <-ctx.Done():
		d.Close()
		return nil, ctx.Err()
	}

	select {
	case <-d.done:
		if d.err != nil && !errors.Is(d.err, io.EOF) && len(d.streams) == 0 {
			return nil, fmt.Errorf("parsing matroska header: %w", d.err)
		}
	default:
	}
	return d, nil
}

func (d *mkvDemuxer) markReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

func (d *mkvDemuxer) Format() Format {
	return FormatMatroska
}

// Streams is safe to call once Open has returned; the list is fixed by then.
func (d *mkvDemuxer) Streams() []media.StreamInfo {
	return d.streams
}

// mkvHandler receives parse events on the parser goroutine.
type mkvHandler struct {
	mkvparse.DefaultHandler

	d             *mkvDemuxer
	cur           *mkvTrack
	tracks        map[int64]*mkvStream
	timecodeScale int64
	clusterTime   int64
}

func (h *mkvHandler) HandleMasterBegin(id mkvparse.ElementID, info mkvparse.ElementInfo) (bool, error) {
	switch id {
	case mkvparse.TrackEntryElement:
		h.cur = &mkvTrack{}
	case mkvparse.ClusterElement:
		h.d.markReady()
		h.clusterTime = 0
	}
	return true, nil
}

func (h *mkvHandler) HandleMasterEnd(id mkvparse.ElementID, info mkvparse.ElementInfo) error {
	if id == mkvparse.TrackEntryElement && h.cur != nil {
		h.addTrack(h.cur)
		h.cur = nil
	}
	return nil
}

func (h *mkvHandler) HandleInteger(id mkvparse.ElementID, value int64, info mkvparse.ElementInfo) error {
	switch id {
	case mkvparse.TimecodeScaleElement:
		if value > 0 {
			h.timecodeScale = value
		}
	case mkvparse.TimecodeElement:
		h.clusterTime = value
	}
	if h.cur == nil {
		return nil
	}
	switch id {
	case mkvparse.TrackNumberElement:
		h.cur.number = value
	case mkvparse.TrackTypeElement:
		h.cur.kind = value
	case mkvparse.PixelWidthElement:
		h.cur.width = int(value)
	case mkvparse.PixelHeightElement:
		h.cur.height = int(value)
	case mkvparse.ChannelsElement:
		h.cur.channels = int(value)
	}
	return nil
}

func (h *mkvHandler) HandleFloat(id mkvparse.ElementID, value float64, info mkvparse.ElementInfo) error {
	if h.cur != nil && id == mkvparse.SamplingFrequencyElement {
		h.cur.rate = value
	}
	return nil
}

func (h *mkvHandler) HandleString(id mkvparse.ElementID, value string, info mkvparse.ElementInfo) error {
	if h.cur != nil && id == mkvparse.CodecIDElement {
		h.cur.codecID = value
	}
	return nil
}

func (h *mkvHandler) HandleBinary(id mkvparse.ElementID, value []byte, info mkvparse.ElementInfo) error {
	switch id {
	case mkvparse.CodecPrivateElement:
		if h.cur != nil {
			h.cur.private = append([]byte(nil), value...)
		}
	case mkvparse.SimpleBlockElement:
		return h.handleBlock(value, true)
	case mkvparse.BlockElement:
		return h.handleBlock(value, false)
	}
	return nil
}

func (h *mkvHandler) addTrack(t *mkvTrack) {
	d := h.d
	c := codec.FromMatroska(t.codecID)
	info := media.StreamInfo{
		Index:     len(d.streams),
		Codec:     c,
		ID:        uint64(t.number),
		Extradata: t.private,
	}
	st := &mkvStream{index: info.Index}

	switch t.kind {
	case mkvTrackVideo:
		info.Type = media.StreamVideo
		info.Width, info.Height = t.width, t.height
		switch c {
		case codec.H264:
			st.nal = parseAVCC(t.private)
		case codec.H265:
			st.nal = parseHVCC(t.private)
		}
	case mkvTrackAudio:
		info.Type = media.StreamAudio
		info.SampleRate = int(t.rate)
		info.Channels = t.channels
		if c == codec.AAC && len(t.private) > 0 {
			info.AudioObjectType = int(t.private[0] >> 3)
		}
	default:
		info.Type = media.StreamUnknown
	}
	st.typ = info.Type

	d.streams = append(d.streams, info)
	h.tracks[t.number] = st
	d.logger.Debug("Found track",
		slog.String("stream", info.String()),
		slog.String("codec_id", t.codecID),
		slog.Int64("track_number", t.number))
}

func (h *mkvHandler) handleBlock(data []byte, simple bool) error {
	b, err := parseBlock(data)
	if err != nil {
		h.d.logger.Debug("skipping malformed block", slog.String("error", err.Error()))
		return nil
	}
	st, ok := h.tracks[b.track]
	if !ok {
		return nil
	}

	ns := (h.clusterTime + int64(b.timecode)) * h.timecodeScale
	pts := ns * 9 / 100_000 // ns to 90kHz
	keyframe := simple && b.keyframe

	for _, frame := range b.frames {
		if st.nal != nil {
			frame = st.nal.toAnnexB(frame, keyframe)
		}
		if len(frame) == 0 {
			continue
		}
		if err := h.d.emit(media.NewPacket(st.index, st.typ, frame, pts, pts, keyframe || st.typ == media.StreamAudio, nil)); err != nil {
			return err
		}
	}
	return nil
}
