package demux

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errShortBlock = errors.New("block too short")

// Block header flags.
const (
	blockFlagKeyframe = 0x80
	blockLacingMask   = 0x06
	lacingNone        = 0x00
	lacingXiph        = 0x02
	lacingFixed       = 0x04
	lacingEBML        = 0x06
)

// mkvBlock is a decoded (Simple)Block payload.
type mkvBlock struct {
	track    int64
	timecode int16
	keyframe bool
	frames   [][]byte
}

// readVint reads an EBML variable-length integer with its length marker removed.
func readVint(b []byte) (value int64, n int, err error) {
	if len(b) == 0 {
		return 0, 0, errShortBlock
	}
	first := b[0]
	n = 1
	for mask := byte(0x80); mask != 0 && first&mask == 0; mask >>= 1 {
		n++
	}
	if n > 8 || len(b) < n {
		return 0, 0, fmt.Errorf("invalid vint length %d", n)
	}
	value = int64(first & (0xff >> n))
	for i := 1; i < n; i++ {
		value = value<<8 | int64(b[i])
	}
	return value, n, nil
}

// readSignedVint reads an EBML lacing size difference.
func readSignedVint(b []byte) (int64, int, error) {
	v, n, err := readVint(b)
	if err != nil {
		return 0, 0, err
	}
	bias := int64(1)<<(7*n-1) - 1
	return v - bias, n, nil
}

func parseBlock(b []byte) (*mkvBlock, error) {
	track, n, err := readVint(b)
	if err != nil {
		return nil, err
	}
	b = b[n:]
	if len(b) < 3 {
		return nil, errShortBlock
	}

	blk := &mkvBlock{
		track:    track,
		timecode: int16(binary.BigEndian.Uint16(b)),
		keyframe: b[2]&blockFlagKeyframe != 0,
	}
	lacing := b[2] & blockLacingMask
	b = b[3:]

	if lacing == lacingNone {
		blk.frames = [][]byte{b}
		return blk, nil
	}

	frames, err := unlace(b, lacing)
	if err != nil {
		return nil, err
	}
	blk.frames = frames
	return blk, nil
}

// unlace splits a laced block payload into frames.
func unlace(b []byte, lacing byte) ([][]byte, error) {
	if len(b) < 1 {
		return nil, errShortBlock
	}
	count := int(b[0]) + 1
	b = b[1:]

	sizes := make([]int, count)
	switch lacing {
	case lacingXiph:
		for i := 0; i < count-1; i++ {
			size := 0
			for {
				if len(b) == 0 {
					return nil, errShortBlock
				}
				v := b[0]
				b = b[1:]
				size += int(v)
				if v != 0xff {
					break
				}
			}
			sizes[i] = size
		}

	case lacingFixed:
		if len(b)%count != 0 {
			return nil, fmt.Errorf("fixed lacing: %d bytes for %d frames", len(b), count)
		}
		for i := range sizes {
			sizes[i] = len(b) / count
		}
		return splitSizes(b, sizes)

	case lacingEBML:
		first, n, err := readVint(b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		sizes[0] = int(first)
		for i := 1; i < count-1; i++ {
			diff, n, err := readSignedVint(b)
			if err != nil {
				return nil, err
			}
			b = b[n:]
			sizes[i] = sizes[i-1] + int(diff)
		}
	}

	used := 0
	for _, s := range sizes[:count-1] {
		if s < 0 {
			return nil, fmt.Errorf("negative lace size %d", s)
		}
		used += s
	}
	if used > len(b) {
		return nil, errShortBlock
	}
	sizes[count-1] = len(b) - used
	return splitSizes(b, sizes)
}

func splitSizes(b []byte, sizes []int) ([][]byte, error) {
	frames := make([][]byte, 0, len(sizes))
	for _, s := range sizes {
		if s > len(b) {
			return nil, errShortBlock
		}
		frames = append(frames, b[:s])
		b = b[s:]
	}
	return frames, nil
}
