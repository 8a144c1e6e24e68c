package demux

import (
	"bytes"
	"encoding/binary"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// nalConfig holds what is needed to turn length-prefixed AVC/HEVC samples
// into Annex B: the NAL length size and the parameter sets from the codec
// configuration record.
type nalConfig struct {
	lengthSize int
	paramSets  [][]byte
}

// parseAVCC reads an AVCDecoderConfigurationRecord. It returns a config
// with 4-byte lengths and no parameter sets when the record is unusable.
func parseAVCC(b []byte) *nalConfig {
	cfg := &nalConfig{lengthSize: 4}
	if len(b) < 7 || b[0] != 1 {
		return cfg
	}
	cfg.lengthSize = int(b[4]&0x03) + 1

	pos := 5
	numSPS := int(b[pos] & 0x1f)
	pos++
	for i := 0; i < numSPS; i++ {
		ps, next, ok := readParamSet(b, pos)
		if !ok {
			return cfg
		}
		cfg.paramSets = append(cfg.paramSets, ps)
		pos = next
	}
	if pos >= len(b) {
		return cfg
	}
	numPPS := int(b[pos])
	pos++
	for i := 0; i < numPPS; i++ {
		ps, next, ok := readParamSet(b, pos)
		if !ok {
			return cfg
		}
		cfg.paramSets = append(cfg.paramSets, ps)
		pos = next
	}
	return cfg
}

// parseHVCC reads an HEVCDecoderConfigurationRecord.
func parseHVCC(b []byte) *nalConfig {
	cfg := &nalConfig{lengthSize: 4}
	if len(b) < 23 {
		return cfg
	}
	cfg.lengthSize = int(b[21]&0x03) + 1

	pos := 23
	for arrays := int(b[22]); arrays > 0; arrays-- {
		if pos+3 > len(b) {
			return cfg
		}
		count := int(binary.BigEndian.Uint16(b[pos+1:]))
		pos += 3
		for i := 0; i < count; i++ {
			ps, next, ok := readParamSet(b, pos)
			if !ok {
				return cfg
			}
			cfg.paramSets = append(cfg.paramSets, ps)
			pos = next
		}
	}
	return cfg
}

func readParamSet(b []byte, pos int) ([]byte, int, bool) {
	if pos+2 > len(b) {
		return nil, pos, false
	}
	n := int(binary.BigEndian.Uint16(b[pos:]))
	pos += 2
	if pos+n > len(b) {
		return nil, pos, false
	}
	return b[pos : pos+n], pos + n, true
}

// toAnnexB converts a length-prefixed sample to start-code prefixed NALs,
// prepending the parameter sets on keyframes.
func (c *nalConfig) toAnnexB(payload []byte, keyframe bool) []byte {
	var out bytes.Buffer
	out.Grow(len(payload) + 64)

	if keyframe {
		for _, ps := range c.paramSets {
			out.Write(startCode)
			out.Write(ps)
		}
	}

	offset := 0
	for offset+c.lengthSize <= len(payload) {
		var nalLen int
		switch c.lengthSize {
		case 1:
			nalLen = int(payload[offset])
		case 2:
			nalLen = int(binary.BigEndian.Uint16(payload[offset:]))
		case 3:
			nalLen = int(payload[offset])<<16 | int(payload[offset+1])<<8 | int(payload[offset+2])
		default:
			nalLen = int(binary.BigEndian.Uint32(payload[offset:]))
		}
		offset += c.lengthSize

		if nalLen <= 0 || offset+nalLen > len(payload) {
			break
		}
		out.Write(startCode)
		out.Write(payload[offset : offset+nalLen])
		offset += nalLen
	}

	return out.Bytes()
}
