// Package fake provides deterministic in-memory VideoDecoder/AudioDecoder
// test doubles, grounded on the teacher's test-double style in its relay
// test helpers: no real decode, just synchronous echo of input chunks as
// output frames on the same timestamp, so scheduler tests can assert
// queue/watermark/drop behavior without a real codec.
package fake

import (
	"github.com/go-mse/mse5/internal/codec"
	"github.com/go-mse/mse5/internal/decoder"
)

// VideoDecoder echoes each decoded Chunk back as a VideoFrame synchronously
// within Decode, using the configured display dimensions.
type VideoDecoder struct {
	state    decoder.State
	cfg      *codec.AVCConfig
	callback func(decoder.VideoFrame)

	// Decoded records every frame this decoder has emitted, for test
	// assertions.
	Decoded []decoder.VideoFrame
}

// New creates an unconfigured fake VideoDecoder.
func New() *VideoDecoder {
	return &VideoDecoder{state: decoder.Unconfigured}
}

// Configure implements decoder.VideoDecoder.
func (d *VideoDecoder) Configure(cfg *codec.AVCConfig) error {
	d.cfg = cfg
	d.state = decoder.Configured
	return nil
}

// Decode implements decoder.VideoDecoder, synchronously emitting the
// output frame so tests do not need to poll.
func (d *VideoDecoder) Decode(chunk decoder.Chunk) error {
	w, h := 0, 0
	if d.cfg != nil {
		w, h = d.cfg.Width, d.cfg.Height
	}
	frame := decoder.VideoFrame{
		TimestampUs: chunk.TimestampUs,
		DurationUs:  chunk.DurationUs,
		DisplayW:    w,
		DisplayH:    h,
	}
	d.Decoded = append(d.Decoded, frame)
	if d.callback != nil {
		d.callback(frame)
	}
	return nil
}

// Reset implements decoder.VideoDecoder.
func (d *VideoDecoder) Reset() {
	d.state = decoder.Configured
	d.Decoded = nil
}

// State implements decoder.VideoDecoder.
func (d *VideoDecoder) State() decoder.State { return d.state }

// SetOutputCallback implements decoder.VideoDecoder.
func (d *VideoDecoder) SetOutputCallback(fn func(decoder.VideoFrame)) {
	d.callback = fn
}

// AudioDecoder echoes each decoded Chunk back as a single-frame AudioData,
// with a constant sample rate/channel count taken from the AAC config.
type AudioDecoder struct {
	state    decoder.State
	cfg      *codec.AACConfig
	callback func(decoder.AudioData)

	Decoded []decoder.AudioData
}

// NewAudio creates an unconfigured fake AudioDecoder.
func NewAudio() *AudioDecoder {
	return &AudioDecoder{state: decoder.Unconfigured}
}

// Configure implements decoder.AudioDecoder.
func (d *AudioDecoder) Configure(cfg *codec.AACConfig) error {
	d.cfg = cfg
	d.state = decoder.Configured
	return nil
}

// Decode implements decoder.AudioDecoder, synthesizing one silent PCM
// frame per channel sized proportionally to the chunk's duration.
func (d *AudioDecoder) Decode(chunk decoder.Chunk) error {
	sampleRate, channels := 48000, 2
	if d.cfg != nil {
		if d.cfg.SampleRate > 0 {
			sampleRate = d.cfg.SampleRate
		}
		if d.cfg.ChannelCount > 0 {
			channels = d.cfg.ChannelCount
		}
	}

	numFrames := int(int64(sampleRate) * chunk.DurationUs / 1_000_000)
	if numFrames <= 0 {
		numFrames = 1
	}
	planes := make([][]float32, channels)
	for c := range planes {
		planes[c] = make([]float32, numFrames)
	}

	out := decoder.AudioData{
		TimestampUs: chunk.TimestampUs,
		DurationUs:  chunk.DurationUs,
		Format:      decoder.F32Planar,
		SampleRate:  sampleRate,
		NumChannels: channels,
		NumFrames:   numFrames,
		Planes:      planes,
	}
	d.Decoded = append(d.Decoded, out)
	if d.callback != nil {
		d.callback(out)
	}
	return nil
}

// Reset implements decoder.AudioDecoder.
func (d *AudioDecoder) Reset() {
	d.state = decoder.Configured
	d.Decoded = nil
}

// State implements decoder.AudioDecoder.
func (d *AudioDecoder) State() decoder.State { return d.state }

// SetOutputCallback implements decoder.AudioDecoder.
func (d *AudioDecoder) SetOutputCallback(fn func(decoder.AudioData)) {
	d.callback = fn
}
