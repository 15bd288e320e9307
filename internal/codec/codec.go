// Package codec identifies the video and audio codecs this playback engine
// supports and extracts the decoder configuration a track buffer needs
// from a parsed initialization segment.
package codec

import (
	"fmt"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// Video represents a video codec.
type Video string

// Video codec constants. This engine decodes AVC only: the data model is
// video=AVC, audio=AAC, and Non-goals excludes codec change mid-stream, so
// no other value is ever accepted by AppendBuffer.
const (
	VideoH264 Video = "h264" // H.264/AVC
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants. This engine decodes AAC only.
const (
	AudioAAC Audio = "aac"
)

// String returns the string representation of the video codec.
func (v Video) String() string { return string(v) }

// String returns the string representation of the audio codec.
func (a Audio) String() string { return string(a) }

var videoAliasIndex = map[string]Video{
	"h264": VideoH264,
	"h.264": VideoH264,
	"avc":  VideoH264,
	"avc1": VideoH264,
	"avc3": VideoH264,
}

var audioAliasIndex = map[string]Audio{
	"aac":  AudioAAC,
	"mp4a": AudioAAC,
}

// ParseVideo parses a string (codec name or codec-string prefix, e.g. from
// codecs="avc1.64001f") to a supported Video codec.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	base := strings.ToLower(strings.SplitN(strings.TrimSpace(s), ".", 2)[0])
	v, ok := videoAliasIndex[base]
	return v, ok
}

// ParseAudio parses a string to a supported Audio codec.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	base := strings.ToLower(strings.SplitN(strings.TrimSpace(s), ".", 2)[0])
	a, ok := audioAliasIndex[base]
	return a, ok
}

// Normalize converts a codec string to its canonical form ("h264", "aac").
// Returns the input unchanged if not recognized.
func Normalize(name string) string {
	if v, ok := ParseVideo(name); ok {
		return string(v)
	}
	if a, ok := ParseAudio(name); ok {
		return string(a)
	}
	return name
}

// Match returns true if two codec strings represent the same supported
// codec, ignoring profile/level suffixes.
func Match(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if va, ok := ParseVideo(a); ok {
		vb, ok := ParseVideo(b)
		return ok && va == vb
	}
	if aa, ok := ParseAudio(a); ok {
		ab, ok := ParseAudio(b)
		return ok && aa == ab
	}
	return false
}

// ParseMimeCodecs parses a MIME type of the form
// `video/mp4; codecs="avc1.64001f, mp4a.40.2"` and returns the recognized
// video and audio codec strings verbatim (so callers can still recover
// profile/level/object-type bytes if needed). At least one of the two
// return values is non-empty on success.
func ParseMimeCodecs(mimeType string) (videoCodec, audioCodec string, err error) {
	idx := strings.Index(mimeType, "codecs=")
	if idx < 0 {
		return "", "", fmt.Errorf("codec: no codecs parameter in mime type %q", mimeType)
	}
	rest := mimeType[idx+len("codecs="):]
	rest = strings.Trim(rest, `"'`)
	if semi := strings.Index(rest, ";"); semi >= 0 {
		rest = rest[:semi]
	}

	for _, p := range strings.Split(rest, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := ParseVideo(p); ok && videoCodec == "" {
			videoCodec = p
			continue
		}
		if _, ok := ParseAudio(p); ok && audioCodec == "" {
			audioCodec = p
			continue
		}
	}
	if videoCodec == "" && audioCodec == "" {
		return "", "", fmt.Errorf("codec: no supported codec in %q", rest)
	}
	return videoCodec, audioCodec, nil
}

// ConfigKind discriminates the two members of the Config sum type.
type ConfigKind int

const (
	// ConfigAVC identifies an AVCConfig.
	ConfigAVC ConfigKind = iota
	// ConfigAAC identifies an AACConfig.
	ConfigAAC
)

// AVCConfig is the decoder configuration for an H.264/AVC track, extracted
// from its parameter sets.
type AVCConfig struct {
	SPS    []byte
	PPS    []byte
	Width  int
	Height int
}

// AACConfig is the decoder configuration for an AAC track, extracted from
// its AudioSpecificConfig.
type AACConfig struct {
	AudioSpecificConfig []byte
	SampleRate          int
	ChannelCount        int
}

// Config is a sum type over the two decoder configurations this engine
// supports. Exactly one of AVC or AAC is set, matching Kind.
type Config struct {
	Kind ConfigKind
	AVC  *AVCConfig
	AAC  *AACConfig
}

// NewAVCConfig builds an AVCConfig from raw SPS/PPS NAL units, decoding the
// SPS to recover the coded picture dimensions.
func NewAVCConfig(sps, pps []byte) (*AVCConfig, error) {
	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return nil, fmt.Errorf("codec: invalid H.264 SPS: %w", err)
	}
	return &AVCConfig{
		SPS:    sps,
		PPS:    pps,
		Width:  parsed.Width(),
		Height: parsed.Height(),
	}, nil
}

// Equal reports whether two AVC configs describe the same decoder setup,
// used to detect a mid-stream reconfiguration that requires a new GOP.
func (c *AVCConfig) Equal(other *AVCConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	return string(c.SPS) == string(other.SPS) && string(c.PPS) == string(other.PPS)
}

// Equal reports whether two AAC configs describe the same decoder setup.
func (c *AACConfig) Equal(other *AACConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	return string(c.AudioSpecificConfig) == string(other.AudioSpecificConfig)
}
