package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-mse/mse5/internal/codec"
	"github.com/go-mse/mse5/internal/decoder"
)

func TestVideoDecoder_ConfigureAndDecode(t *testing.T) {
	d := New()
	require.NoError(t, d.Configure(&codec.AVCConfig{Width: 1280, Height: 720}))
	assert.Equal(t, decoder.Configured, d.State())

	var got decoder.VideoFrame
	d.SetOutputCallback(func(f decoder.VideoFrame) { got = f })

	require.NoError(t, d.Decode(decoder.Chunk{TimestampUs: 1000, DurationUs: 33333, IsKey: true}))
	assert.Equal(t, int64(1000), got.TimestampUs)
	assert.Equal(t, 1280, got.DisplayW)
	assert.Equal(t, 720, got.DisplayH)
	require.Len(t, d.Decoded, 1)
}

func TestVideoDecoder_ResetClearsDecoded(t *testing.T) {
	d := New()
	require.NoError(t, d.Configure(&codec.AVCConfig{}))
	require.NoError(t, d.Decode(decoder.Chunk{TimestampUs: 0, DurationUs: 1000}))
	require.Len(t, d.Decoded, 1)

	d.Reset()
	assert.Empty(t, d.Decoded)
	assert.Equal(t, decoder.Configured, d.State())
}

func TestAudioDecoder_DecodeProducesFramesForDuration(t *testing.T) {
	d := NewAudio()
	require.NoError(t, d.Configure(&codec.AACConfig{SampleRate: 48000, ChannelCount: 2}))

	require.NoError(t, d.Decode(decoder.Chunk{TimestampUs: 0, DurationUs: 20_000}))
	require.Len(t, d.Decoded, 1)

	out := d.Decoded[0]
	assert.Equal(t, 2, out.NumChannels)
	assert.Equal(t, 48000*20_000/1_000_000, out.NumFrames)
}

func TestAudioData_Clone(t *testing.T) {
	original := &decoder.AudioData{
		TimestampUs: 5,
		Planes:      [][]float32{{1, 2, 3}},
	}
	clone := original.Clone(99)

	assert.Equal(t, int64(99), clone.TimestampUs)
	assert.Equal(t, original.Planes, clone.Planes)

	clone.Planes[0][0] = 42
	assert.NotEqual(t, clone.Planes[0][0], original.Planes[0][0], "clone must not alias the original's backing array")
}
