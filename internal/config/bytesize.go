package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size value that supports human-readable parsing.
//
// Units are binary and case-insensitive: "192KB" = 192 * 1024 bytes,
// "1.5MiB" = 1.5 * 1024^2 bytes. A bare number is bytes.
//
// It implements encoding.TextUnmarshaler so viper can decode it from
// YAML or environment variables.
type ByteSize int64

// Binary size units.
const (
	Byte     ByteSize = 1
	KiloByte          = 1024 * Byte
	MegaByte          = 1024 * KiloByte
	GigaByte          = 1024 * MegaByte
)

var byteUnits = map[string]ByteSize{
	"": Byte, "b": Byte, "byte": Byte, "bytes": Byte,
	"k": KiloByte, "kb": KiloByte, "kib": KiloByte,
	"m": MegaByte, "mb": MegaByte, "mib": MegaByte,
	"g": GigaByte, "gb": GigaByte, "gib": GigaByte,
}

var byteSizePattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)$`)

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	m := byteSizePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	unit, ok := byteUnits[m[2]]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q", m[2])
	}
	return ByteSize(value * float64(unit)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON accepts either a size string or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// String returns the size in the largest whole-or-fractional unit, e.g. "192KB".
func (b ByteSize) String() string {
	n := b
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	switch {
	case n >= GigaByte:
		return sign + trimFloat(float64(n)/float64(GigaByte)) + "GB"
	case n >= MegaByte:
		return sign + trimFloat(float64(n)/float64(MegaByte)) + "MB"
	case n >= KiloByte:
		return sign + trimFloat(float64(n)/float64(KiloByte)) + "KB"
	default:
		return fmt.Sprintf("%s%dB", sign, int64(n))
	}
}

func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
