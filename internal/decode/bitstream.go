package decode

import (
	"container/heap"
	"encoding/binary"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/tvplay/internal/codec"
)

var adtsSampleRates = []int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

const adtsHeaderSize = 7

// hasADTSSync reports whether b already starts with an ADTS header.
func hasADTSSync(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xff && b[1]&0xf0 == 0xf0
}

// adtsHeader builds the 7-byte ADTS header (no CRC) for a raw AAC frame.
func adtsHeader(frameLen, objectType, sampleRate, channels int) []byte {
	if objectType <= 0 || objectType > 4 {
		objectType = 2 // AAC-LC
	}
	rateIndex := 3 // 48000
	for i, r := range adtsSampleRates {
		if r == sampleRate {
			rateIndex = i
			break
		}
	}
	if channels <= 0 || channels > 7 {
		channels = 2
	}

	full := frameLen + adtsHeaderSize
	h := make([]byte, adtsHeaderSize)
	h[0] = 0xff
	h[1] = 0xf1 // MPEG-4, layer 0, no CRC
	h[2] = byte((objectType-1)<<6 | rateIndex<<2 | (channels>>2)&0x01)
	h[3] = byte((channels&0x03)<<6 | (full>>11)&0x03)
	h[4] = byte(full >> 3)
	h[5] = byte((full&0x07)<<5 | 0x1f)
	h[6] = 0xfc
	return h
}

const (
	ivfFileHeaderSize  = 32
	ivfFrameHeaderSize = 12
)

// ivfFileHeader builds the 32-byte IVF header. Timestamps are in 90kHz units.
func ivfFileHeader(fourcc string, width, height int) []byte {
	h := make([]byte, ivfFileHeaderSize)
	copy(h[0:4], "DKIF")
	binary.LittleEndian.PutUint16(h[4:], 0)
	binary.LittleEndian.PutUint16(h[6:], ivfFileHeaderSize)
	copy(h[8:12], fourcc)
	binary.LittleEndian.PutUint16(h[12:], uint16(width))
	binary.LittleEndian.PutUint16(h[14:], uint16(height))
	binary.LittleEndian.PutUint32(h[16:], 90000) // timebase denominator
	binary.LittleEndian.PutUint32(h[20:], 1)     // timebase numerator
	binary.LittleEndian.PutUint32(h[24:], 0)     // frame count, unknown
	return h
}

// ivfFrame prefixes data with a 12-byte IVF frame header.
func ivfFrame(data []byte, pts int64) []byte {
	out := make([]byte, ivfFrameHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint64(out[4:], uint64(pts))
	copy(out[ivfFrameHeaderSize:], data)
	return out
}

// spsDimensions finds an SPS in an Annex B access unit and returns the
// picture size it declares.
func spsDimensions(c codec.Codec, data []byte) (int, int, bool) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return 0, 0, false
	}

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch c {
		case codec.H264:
			if h264.NALUType(nalu[0]&0x1f) != h264.NALUTypeSPS {
				continue
			}
			var sps h264.SPS
			if err := sps.Unmarshal(nalu); err != nil {
				return 0, 0, false
			}
			return sps.Width(), sps.Height(), true
		case codec.H265:
			if h265.NALUType((nalu[0]>>1)&0x3f) != h265.NALUType_SPS_NUT {
				continue
			}
			var sps h265.SPS
			if err := sps.Unmarshal(nalu); err != nil {
				return 0, 0, false
			}
			return sps.Width(), sps.Height(), true
		}
	}
	return 0, 0, false
}

// ptsHeap is a min-heap of input PTS values. Decoders emit pictures in
// presentation order, so the smallest pending input PTS belongs to the next
// output picture.
type ptsHeap []int64

func (h ptsHeap) Len() int           { return len(h) }
func (h ptsHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h ptsHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *ptsHeap) Push(x any)        { *h = append(*h, x.(int64)) }
func (h *ptsHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h *ptsHeap) push(pts int64) { heap.Push(h, pts) }

func (h *ptsHeap) pop() (int64, bool) {
	if h.Len() == 0 {
		return 0, false
	}
	return heap.Pop(h).(int64), true
}
