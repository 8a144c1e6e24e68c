package demux

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
)

// PMTStream is one elementary stream listed in an MPEG-TS program map.
type PMTStream struct {
	ProgramNumber uint16 `json:"program_number"`
	PID           uint16 `json:"pid"`
	StreamType    uint8  `json:"stream_type"`
	Description   string `json:"description"`
}

var tsStreamTypes = map[uint8]string{
	0x01: "MPEG-1 video",
	0x02: "MPEG-2 video",
	0x03: "MPEG-1 audio",
	0x04: "MPEG-2 audio",
	0x06: "private data",
	0x0f: "AAC (ADTS)",
	0x10: "MPEG-4 video",
	0x11: "AAC (LATM)",
	0x15: "metadata",
	0x1b: "H.264",
	0x24: "H.265",
	0x81: "AC-3",
	0x87: "E-AC-3",
}

// StreamTypeName describes an MPEG-TS stream_type value.
func StreamTypeName(t uint8) string {
	if name, ok := tsStreamTypes[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown (0x%02x)", t)
}

// ProbeTS reads r until the first program map table and lists its
// elementary streams. It reads at most maxPackets TS packets.
func ProbeTS(ctx context.Context, r io.Reader, maxPackets int) ([]PMTStream, error) {
	dmx := astits.NewDemuxer(ctx, r, astits.DemuxerOptPacketSize(tsPacketSize))

	for seen := 0; maxPackets <= 0 || seen < maxPackets; seen++ {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading transport stream: %w", err)
		}
		if d == nil || d.PMT == nil {
			continue
		}

		streams := make([]PMTStream, 0, len(d.PMT.ElementaryStreams))
		for _, es := range d.PMT.ElementaryStreams {
			t := uint8(es.StreamType)
			streams = append(streams, PMTStream{
				ProgramNumber: d.PMT.ProgramNumber,
				PID:           es.ElementaryPID,
				StreamType:    t,
				Description:   StreamTypeName(t),
			})
		}
		return streams, nil
	}
	return nil, errors.New("no program map table found")
}

// ProbeTSLocator opens locator and runs ProbeTS on it.
func ProbeTSLocator(ctx context.Context, locator string, opts Options) ([]PMTStream, error) {
	src, err := openLocator(ctx, locator, opts)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	r, err := decompress(src)
	if err != nil {
		return nil, err
	}
	return ProbeTS(ctx, r, 10000)
}
