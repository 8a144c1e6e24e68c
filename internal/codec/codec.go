// Package codec names the elementary stream codecs tvplay can demux and decode.
package codec

import "strings"

// Codec identifies an elementary stream codec.
type Codec string

// Video codecs.
const (
	H264       Codec = "h264" // H.264/AVC
	H265       Codec = "h265" // H.265/HEVC
	MPEG2Video Codec = "mpeg2"
	MPEG4Video Codec = "mpeg4"
	VP8        Codec = "vp8"
	VP9        Codec = "vp9"
	AV1        Codec = "av1"
)

// Audio codecs.
const (
	AAC  Codec = "aac"
	AC3  Codec = "ac3"  // Dolby Digital
	EAC3 Codec = "eac3" // Dolby Digital Plus
	MP3  Codec = "mp3"
	Opus Codec = "opus"
)

// Unknown is reported for streams the demuxer can see but not classify.
const Unknown Codec = "unknown"

var aliases = map[string]Codec{
	"h264":       H264,
	"avc":        H264,
	"avc1":       H264,
	"h265":       H265,
	"hevc":       H265,
	"hvc1":       H265,
	"hev1":       H265,
	"mpeg2":      MPEG2Video,
	"mpeg2video": MPEG2Video,
	"mpeg1video": MPEG2Video,
	"mpeg4":      MPEG4Video,
	"m4v":        MPEG4Video,
	"vp8":        VP8,
	"vp9":        VP9,
	"av1":        AV1,
	"aac":        AAC,
	"mp4a":       AAC,
	"ac3":        AC3,
	"ac-3":       AC3,
	"eac3":       EAC3,
	"ec-3":       EAC3,
	"mp3":        MP3,
	"mp2":        MP3,
	"mpga":       MP3,
	"opus":       Opus,
}

// Parse resolves a codec name or common alias, case-insensitively.
func Parse(s string) (Codec, bool) {
	c, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

func (c Codec) String() string {
	return string(c)
}

// IsVideo reports whether c is a video codec.
func (c Codec) IsVideo() bool {
	switch c {
	case H264, H265, MPEG2Video, MPEG4Video, VP8, VP9, AV1:
		return true
	}
	return false
}

// IsAudio reports whether c is an audio codec.
func (c Codec) IsAudio() bool {
	switch c {
	case AAC, AC3, EAC3, MP3, Opus:
		return true
	}
	return false
}

// FFmpegInputFormat returns the ffmpeg demuxer name used to feed an
// elementary stream of this codec over a pipe. The second result is false
// when the codec cannot be piped without a container.
func (c Codec) FFmpegInputFormat() (string, bool) {
	switch c {
	case H264:
		return "h264", true
	case H265:
		return "hevc", true
	case MPEG2Video:
		return "mpegvideo", true
	case MPEG4Video:
		return "m4v", true
	case VP8, VP9, AV1:
		return "ivf", true
	case AAC:
		return "aac", true
	case AC3:
		return "ac3", true
	case EAC3:
		return "eac3", true
	case MP3:
		return "mp3", true
	}
	return "", false
}

// IVFFourCC returns the IVF fourcc for codecs carried in IVF framing.
func (c Codec) IVFFourCC() string {
	switch c {
	case VP8:
		return "VP80"
	case VP9:
		return "VP90"
	case AV1:
		return "AV01"
	}
	return ""
}

// FromMatroska maps a Matroska CodecID to a Codec.
func FromMatroska(id string) Codec {
	switch {
	case id == "V_MPEG4/ISO/AVC":
		return H264
	case id == "V_MPEGH/ISO/HEVC":
		return H265
	case id == "V_MPEG2" || id == "V_MPEG1":
		return MPEG2Video
	case id == "V_VP8":
		return VP8
	case id == "V_VP9":
		return VP9
	case id == "V_AV1":
		return AV1
	case strings.HasPrefix(id, "A_AAC"):
		return AAC
	case id == "A_AC3":
		return AC3
	case id == "A_EAC3":
		return EAC3
	case id == "A_MPEG/L3" || id == "A_MPEG/L2":
		return MP3
	case id == "A_OPUS":
		return Opus
	}
	return Unknown
}
