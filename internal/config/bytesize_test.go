package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"bytes", "1024", 1024, false},
		{"kilobytes", "192KB", 192 * 1024, false},
		{"kibibytes", "4KiB", 4 * 1024, false},
		{"megabytes", "10MB", 10 * 1024 * 1024, false},
		{"with space", "5 MB", 5 * 1024 * 1024, false},
		{"lowercase", "5mb", 5 * 1024 * 1024, false},
		{"float", "1.5MB", ByteSize(1.5 * 1024 * 1024), false},
		{"zero", "0", 0, false},
		{"unknown unit", "5XB", 0, true},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	var b ByteSize
	require.NoError(t, json.Unmarshal([]byte(`"64KB"`), &b))
	assert.Equal(t, ByteSize(64*1024), b)

	require.NoError(t, json.Unmarshal([]byte(`4096`), &b))
	assert.Equal(t, ByteSize(4096), b)
}

func TestByteSize_String(t *testing.T) {
	tests := []struct {
		size ByteSize
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{192 * KiloByte, "192KB"},
		{1536, "1.5KB"},
		{5 * MegaByte, "5MB"},
		{2 * GigaByte, "2GB"},
		{-KiloByte, "-1KB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.size.String())
	}
}

func TestByteSize_RoundTripText(t *testing.T) {
	text, err := (192 * KiloByte).MarshalText()
	require.NoError(t, err)

	var b ByteSize
	require.NoError(t, b.UnmarshalText(text))
	assert.Equal(t, 192*KiloByte, b)
}
