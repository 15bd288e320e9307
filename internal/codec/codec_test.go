package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVideo(t *testing.T) {
	tests := []struct {
		input    string
		expected Video
		ok       bool
	}{
		{"h264", VideoH264, true},
		{"avc", VideoH264, true},
		{"avc1", VideoH264, true},
		{"avc1.64001f", VideoH264, true},
		{"H264", VideoH264, true},
		{"", "", false},
		{"invalid", "", false},
		{"hevc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseVideo(tt.input)
			if ok != tt.ok {
				t.Errorf("ParseVideo(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.expected {
				t.Errorf("ParseVideo(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseAudio(t *testing.T) {
	tests := []struct {
		input    string
		expected Audio
		ok       bool
	}{
		{"aac", AudioAAC, true},
		{"mp4a", AudioAAC, true},
		{"mp4a.40.2", AudioAAC, true},
		{"AAC", AudioAAC, true},
		{"", "", false},
		{"opus", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseAudio(tt.input)
			if ok != tt.ok {
				t.Errorf("ParseAudio(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.expected {
				t.Errorf("ParseAudio(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "h264", Normalize("avc1.64001f"))
	assert.Equal(t, "aac", Normalize("mp4a.40.2"))
	assert.Equal(t, "unknown", Normalize("unknown"))
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("avc1.64001f", "avc1.4d001f"))
	assert.True(t, Match("mp4a.40.2", "mp4a.40.5"))
	assert.False(t, Match("avc1.64001f", "mp4a.40.2"))
	assert.False(t, Match("", "aac"))
}

func TestParseMimeCodecs(t *testing.T) {
	video, audio, err := ParseMimeCodecs(`video/mp4; codecs="avc1.64001f, mp4a.40.2"`)
	require.NoError(t, err)
	assert.Equal(t, "avc1.64001f", video)
	assert.Equal(t, "mp4a.40.2", audio)

	video, audio, err = ParseMimeCodecs(`audio/mp4; codecs="mp4a.40.2"`)
	require.NoError(t, err)
	assert.Empty(t, video)
	assert.Equal(t, "mp4a.40.2", audio)

	_, _, err = ParseMimeCodecs(`video/mp4; codecs="hev1.1.6.L93.B0"`)
	assert.Error(t, err)

	_, _, err = ParseMimeCodecs("video/mp4")
	assert.Error(t, err)
}

func TestAVCConfig_Equal(t *testing.T) {
	a := &AVCConfig{SPS: []byte{1, 2, 3}, PPS: []byte{4, 5}}
	b := &AVCConfig{SPS: []byte{1, 2, 3}, PPS: []byte{4, 5}}
	c := &AVCConfig{SPS: []byte{9}, PPS: []byte{4, 5}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.True(t, (*AVCConfig)(nil).Equal(nil))
}

func TestAACConfig_Equal(t *testing.T) {
	a := &AACConfig{AudioSpecificConfig: []byte{0x12, 0x10}}
	b := &AACConfig{AudioSpecificConfig: []byte{0x12, 0x10}}
	c := &AACConfig{AudioSpecificConfig: []byte{0x13, 0x90}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
