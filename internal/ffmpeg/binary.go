// Package ffmpeg locates the ffmpeg binary and reports what it can decode.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryEnvVar overrides the ffmpeg binary location.
const BinaryEnvVar = "TVPLAY_FFMPEG_BINARY"

// BinaryInfo contains information about the FFmpeg installation.
type BinaryInfo struct {
	FFmpegPath    string       `json:"ffmpeg_path"`
	Version       string       `json:"version"`
	MajorVersion  int          `json:"major_version"`
	MinorVersion  int          `json:"minor_version"`
	Configuration string       `json:"configuration,omitempty"`
	Codecs        []Codec      `json:"codecs,omitempty"`
	Formats       []FormatInfo `json:"formats,omitempty"`
}

// Codec represents codec information from FFmpeg.
type Codec struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // video, audio, subtitle, data
	CanDecode bool   `json:"can_decode"`
}

// FormatInfo represents format/container information from FFmpeg.
type FormatInfo struct {
	Name     string `json:"name"`
	CanDemux bool   `json:"can_demux"`
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	path string

	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
}

// NewBinaryDetector creates a detector. A non-empty path skips the search.
func NewBinaryDetector(path string) *BinaryDetector {
	return &BinaryDetector{
		path:     path,
		cacheTTL: 5 * time.Minute,
	}
}

// Detect finds ffmpeg and queries its version, codecs and formats.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	ffmpegPath := d.path
	if ffmpegPath == "" {
		// TVPLAY_FFMPEG_BINARY -> ./ffmpeg -> PATH
		p, err := FindBinary("ffmpeg", BinaryEnvVar)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		ffmpegPath = p
	}

	info := &BinaryInfo{FFmpegPath: ffmpegPath}

	out, err := run(ctx, ffmpegPath, "-version")
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	v, err := parseVersion(out)
	if err != nil {
		return nil, err
	}
	info.Version = v.Full
	info.MajorVersion = v.Major
	info.MinorVersion = v.Minor
	info.Configuration = v.Configuration

	if out, err := run(ctx, ffmpegPath, "-codecs", "-hide_banner"); err == nil {
		info.Codecs = parseCodecs(out)
	}
	if out, err := run(ctx, ffmpegPath, "-formats", "-hide_banner"); err == nil {
		info.Formats = parseFormats(out)
	}

	return info, nil
}

func run(ctx context.Context, path string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, path, args...).Output()
	return string(out), err
}

// versionInfo holds parsed version information.
type versionInfo struct {
	Full          string
	Major         int
	Minor         int
	Configuration string
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion reads "ffmpeg -version" output.
func parseVersion(output string) (*versionInfo, error) {
	info := &versionInfo{}

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			// "ffmpeg version 6.0 Copyright...", "ffmpeg version n6.0-2-g..."
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				info.Full = parts[2]
				if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
					info.Major, _ = strconv.Atoi(m[1])
					info.Minor, _ = strconv.Atoi(m[2])
				}
			}
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimPrefix(line, "configuration: ")
		}
	}

	if info.Full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseCodecs reads "ffmpeg -codecs" output.
func parseCodecs(output string) []Codec {
	var codecs []Codec
	inCodecList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "-------") {
			inCodecList = true
			continue
		}
		line = strings.TrimLeft(line, " ")
		if !inCodecList || len(line) < 8 {
			continue
		}

		// DEV.LS name description
		flags := line[:6]
		parts := strings.Fields(line[6:])
		if len(parts) == 0 {
			continue
		}

		c := Codec{Name: parts[0], CanDecode: flags[0] == 'D'}
		switch flags[2] {
		case 'V':
			c.Type = "video"
		case 'A':
			c.Type = "audio"
		case 'S':
			c.Type = "subtitle"
		case 'D':
			c.Type = "data"
		default:
			continue
		}
		codecs = append(codecs, c)
	}
	return codecs
}

// parseFormats reads "ffmpeg -formats" output.
func parseFormats(output string) []FormatInfo {
	var formats []FormatInfo
	inFormatList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "--") {
			inFormatList = true
			continue
		}
		if !inFormatList || len(line) < 4 {
			continue
		}

		flags := strings.TrimSpace(line[:3])
		parts := strings.Fields(line[3:])
		if len(parts) == 0 {
			continue
		}
		// Names may be comma separated aliases ("mov,mp4,m4a,...").
		for _, name := range strings.Split(parts[0], ",") {
			formats = append(formats, FormatInfo{Name: name, CanDemux: strings.Contains(flags, "D")})
		}
	}
	return formats
}

// CanDecode reports whether ffmpeg has a decoder for the named codec.
// An empty codec list (detection failed) is treated as permissive.
func (info *BinaryInfo) CanDecode(name string) bool {
	if len(info.Codecs) == 0 {
		return true
	}
	for _, c := range info.Codecs {
		if c.Name == name {
			return c.CanDecode
		}
	}
	return false
}

// CanDemux reports whether ffmpeg can read the named format.
// An empty format list is treated as permissive.
func (info *BinaryInfo) CanDemux(name string) bool {
	if len(info.Formats) == 0 {
		return true
	}
	for _, f := range info.Formats {
		if f.Name == name {
			return f.CanDemux
		}
	}
	return false
}

// JSON returns the binary info as JSON string.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// SupportsMinVersion returns true if FFmpeg version meets minimum requirement.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion > major {
		return true
	}
	return info.MajorVersion == major && info.MinorVersion >= minor
}
