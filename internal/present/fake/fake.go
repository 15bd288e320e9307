// Package fake provides deterministic in-memory Mixer/Surface test
// doubles, grounded on the teacher's test-double style: no real audio or
// video output, just recorded calls scheduler tests can assert against.
package fake

import "github.com/go-mse/mse5/internal/present"

// ScheduledSource is one recorded Start call on a fake BufferSource.
type ScheduledSource struct {
	Buffer  present.PCMBuffer
	When    float64
	Offset  float64
	Rate    float64
	Stopped bool
}

// Mixer records every buffer scheduled against it and reports a
// caller-controlled clock reading via Advance.
type Mixer struct {
	clock  float64
	volume float64

	Sources []*ScheduledSource
}

// NewMixer creates a fake Mixer starting at clock time 0.
func NewMixer() *Mixer {
	return &Mixer{}
}

// Advance moves the fake mixer clock forward by seconds.
func (m *Mixer) Advance(seconds float64) {
	m.clock += seconds
}

// Now implements present.Mixer.
func (m *Mixer) Now() float64 { return m.clock }

// SetVolume implements present.Mixer.
func (m *Mixer) SetVolume(v float64) { m.volume = v }

// Volume returns the last value passed to SetVolume.
func (m *Mixer) Volume() float64 { return m.volume }

// CreateBufferSource implements present.Mixer.
func (m *Mixer) CreateBufferSource(pcm present.PCMBuffer) present.BufferSource {
	src := &fakeSource{recorded: &ScheduledSource{Buffer: pcm, Rate: 1}}
	m.Sources = append(m.Sources, src.recorded)
	return src
}

type fakeSource struct {
	recorded *ScheduledSource
}

func (s *fakeSource) Start(when, offset float64) {
	s.recorded.When = when
	s.recorded.Offset = offset
}

func (s *fakeSource) Stop() {
	s.recorded.Stopped = true
}

func (s *fakeSource) SetPlaybackRate(v float64) {
	s.recorded.Rate = v
}

// DrawCall is one recorded Surface.DrawImage invocation.
type DrawCall struct {
	Frame any
	X, Y  int
	W, H  int
}

// Surface records every draw/resize call for test assertions.
type Surface struct {
	Draws       []DrawCall
	Width       int
	Height      int
	ResizeCalls int
}

// NewSurface creates an empty fake Surface.
func NewSurface() *Surface {
	return &Surface{}
}

// DrawImage implements present.Surface.
func (s *Surface) DrawImage(frame any, x, y, w, h int) {
	s.Draws = append(s.Draws, DrawCall{Frame: frame, X: x, Y: y, W: w, H: h})
}

// Resize implements present.Surface.
func (s *Surface) Resize(w, h int) {
	s.Width, s.Height = w, h
	s.ResizeCalls++
}
