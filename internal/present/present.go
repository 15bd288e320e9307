// Package present defines the external audio-mixer and 2-D surface
// collaborator interfaces (spec §6). Neither is implemented here — see
// internal/present/fake for the deterministic test double used by the
// scheduler's tests.
package present

// Mixer is a buffer-playback device that schedules PCM buffers against a
// monotonic audio clock.
type Mixer interface {
	// CreateBufferSource returns a new, unstarted BufferSource holding pcm.
	CreateBufferSource(pcm PCMBuffer) BufferSource
	// Now returns the mixer's current monotonic clock reading, in seconds.
	Now() float64
	// SetVolume sets the destination gain, mirroring a GainNode.
	SetVolume(v float64)
}

// PCMBuffer is planar PCM audio ready for playback scheduling.
type PCMBuffer struct {
	SampleRate  int
	NumChannels int
	Planes      [][]float32
}

// BufferSource is a single scheduled playback of a PCMBuffer.
type BufferSource interface {
	// Start schedules playback at mixer time `when`, in seconds, starting
	// `offset` seconds into the buffer.
	Start(when, offset float64)
	Stop()
	SetPlaybackRate(v float64)
}

// Surface is a 2-D presentation sink accepting decoded pictures, standing
// in for a canvas.
type Surface interface {
	// DrawImage presents an RGBA/YUV picture (opaque to this interface) at
	// the surface's coordinates. w, h are the frame's display dimensions.
	DrawImage(frame any, x, y, w, h int)
	// Resize changes the surface's backing dimensions.
	Resize(w, h int)
}
