// Package decoder defines the external decoder collaborator interfaces
// (spec §6): stateful AVC/AAC decoders driven by configure/decode/reset,
// delivering decoded output asynchronously through a callback. This
// package never implements a real decoder — see internal/decoder/fake for
// the deterministic test double.
package decoder

import "github.com/go-mse/mse5/internal/codec"

// State is the decoder's lifecycle state.
type State int

const (
	// Unconfigured is the state before the first successful Configure.
	Unconfigured State = iota
	// Configured is the state after Configure succeeds; Decode is valid.
	Configured
	// Closed is the terminal state after an unrecoverable error. Reset
	// does not close the decoder; it stays usable for further Decode calls.
	Closed
)

// Chunk is one coded frame submitted for decode, addressed by timestamp so
// the scheduler can match asynchronous output back to its input (spec §5's
// timestamp-tolerance matching rule).
type Chunk struct {
	TimestampUs int64
	DurationUs  int64
	Data        []byte
	IsKey       bool
}

// VideoFrame is one decoded picture delivered by the video decoder's
// output callback.
type VideoFrame struct {
	TimestampUs int64
	DurationUs  int64
	DisplayW    int
	DisplayH    int
}

// Close releases the frame's underlying native buffer. The scheduler calls
// this on every exit path per spec §5's resource-lifetime rule.
func (f *VideoFrame) Close() {}

// VideoDecoder decodes AVC access units into VideoFrame outputs.
type VideoDecoder interface {
	Configure(cfg *codec.AVCConfig) error
	Decode(chunk Chunk) error
	Reset()
	State() State
	// SetOutputCallback installs the callback invoked with each decoded
	// frame, possibly out of submission order.
	SetOutputCallback(fn func(VideoFrame))
}

// AudioFormat describes the PCM layout of an AudioData buffer.
type AudioFormat int

const (
	// F32Planar is 32-bit float, one contiguous plane per channel.
	F32Planar AudioFormat = iota
)

// AudioData is one decoded audio buffer delivered by the audio decoder's
// output callback.
type AudioData struct {
	TimestampUs  int64
	DurationUs   int64
	Format       AudioFormat
	SampleRate   int
	NumChannels  int
	NumFrames    int
	Planes       [][]float32
}

// Close releases the buffer's underlying native storage.
func (d *AudioData) Close() {}

// CopyTo copies plane planeIndex into buf, returning the number of samples
// copied.
func (d *AudioData) CopyTo(buf []float32, planeIndex int) int {
	if planeIndex < 0 || planeIndex >= len(d.Planes) {
		return 0
	}
	n := copy(buf, d.Planes[planeIndex])
	return n
}

// Clone returns a copy of d with TimestampUs replaced, used to restore the
// original presentation timestamp after a decoder round-trip under a
// synthetic monotonic input timestamp (spec §4.6 reverse-playback).
func (d *AudioData) Clone(timestampUs int64) *AudioData {
	planes := make([][]float32, len(d.Planes))
	for i, p := range d.Planes {
		planes[i] = append([]float32(nil), p...)
	}
	return &AudioData{
		TimestampUs: timestampUs,
		DurationUs:  d.DurationUs,
		Format:      d.Format,
		SampleRate:  d.SampleRate,
		NumChannels: d.NumChannels,
		NumFrames:   d.NumFrames,
		Planes:      planes,
	}
}

// AudioDecoder decodes AAC frames into AudioData outputs.
type AudioDecoder interface {
	Configure(cfg *codec.AACConfig) error
	Decode(chunk Chunk) error
	Reset()
	State() State
	SetOutputCallback(fn func(AudioData))
}
