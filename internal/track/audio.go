package track

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/go-mse/mse5/internal/codec"
	"github.com/go-mse/mse5/internal/frame"
	"github.com/go-mse/mse5/internal/timerange"
)

// AudioTrackBuffer stores individually decodable AAC frames in
// presentation-time order.
type AudioTrackBuffer struct {
	mu sync.RWMutex
	bookkeeping

	frames []*frame.CodedFrame
}

// NewAudioTrackBuffer creates an empty audio track buffer for trackID,
// configured with cfg.
func NewAudioTrackBuffer(trackID int, cfg *codec.Config) *AudioTrackBuffer {
	return &AudioTrackBuffer{bookkeeping: newBookkeeping(trackID, cfg)}
}

// Type implements TrackBuffer.
func (a *AudioTrackBuffer) Type() Type { return Audio }

// TrackID implements TrackBuffer.
func (a *AudioTrackBuffer) TrackID() int { return a.trackID }

// Config implements TrackBuffer.
func (a *AudioTrackBuffer) Config() *codec.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// NeedRandomAccessPoint implements TrackBuffer.
func (a *AudioTrackBuffer) NeedRandomAccessPoint() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.needRandomAccessPoint
}

// ContinuityOK implements TrackBuffer.
func (a *AudioTrackBuffer) ContinuityOK(dtsUs int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.continuityOK(dtsUs)
}

// AppendSample implements TrackBuffer.
func (a *AudioTrackBuffer) AppendSample(s frame.Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ptsUs := s.PTSUs()
	if a.lastAppendedTsUs != nil && *a.lastAppendedTsUs == ptsUs {
		return
	}

	durUs := s.DurationUs()
	dtsUs := s.DTSUs()

	kind := frame.Delta
	if s.IsSync {
		kind = frame.Key
	}
	if a.needRandomAccessPoint {
		if kind != frame.Key {
			return
		}
		a.needRandomAccessPoint = false
	}

	cf := &frame.CodedFrame{TimestampUs: ptsUs, DurationUs: durUs, Data: s.Data, Kind: kind, SeqID: ulid.Make().String()}
	a.insertSorted(cf)

	a.recordAppend(ptsUs, durUs)
	a.recordDecodeState(dtsUs, durUs)
	ts := ptsUs
	a.lastAppendedTsUs = &ts
}

func (a *AudioTrackBuffer) insertSorted(cf *frame.CodedFrame) {
	idx := 0
	for idx < len(a.frames) && a.frames[idx].TimestampUs < cf.TimestampUs {
		idx++
	}
	a.frames = append(a.frames, nil)
	copy(a.frames[idx+1:], a.frames[idx:])
	a.frames[idx] = cf
}

// RequireRandomAccessPoint implements TrackBuffer.
func (a *AudioTrackBuffer) RequireRandomAccessPoint() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requireRandomAccessPoint()
}

// Reconfigure implements TrackBuffer.
func (a *AudioTrackBuffer) Reconfigure(cfg *codec.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = cfg
}

// FindFrameForTime implements TrackBuffer.
func (a *AudioTrackBuffer) FindFrameForTime(seconds float64) (*frame.CodedFrame, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	t := secToUs(seconds)
	for _, f := range a.frames {
		if f.TimestampUs <= t && t < f.EndUs() {
			return f, true
		}
	}
	return nil, false
}

// GetDecodeDependenciesForFrame implements TrackBuffer. Every AAC frame is
// independently decodable, so the dependency set is just the frame itself.
func (a *AudioTrackBuffer) GetDecodeDependenciesForFrame(f *frame.CodedFrame) ([]*frame.CodedFrame, *codec.Config) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return []*frame.CodedFrame{f}, a.config
}

// GetNextFrames implements TrackBuffer.
func (a *AudioTrackBuffer) GetNextFrames(last *frame.CodedFrame, maxCount int, dir Direction) ([]*frame.CodedFrame, *codec.Config, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	idx := a.indexOf(last)
	if idx < 0 {
		return nil, nil, false
	}

	var out []*frame.CodedFrame
	if dir == Forward {
		for i := idx + 1; i < len(a.frames) && len(out) < maxCount; i++ {
			out = append(out, a.frames[i])
		}
	} else {
		for i := idx - 1; i >= 0 && len(out) < maxCount; i-- {
			out = append(out, a.frames[i])
		}
	}
	if len(out) == 0 {
		return nil, nil, false
	}
	return out, a.config, true
}

func (a *AudioTrackBuffer) indexOf(f *frame.CodedFrame) int {
	for i, cf := range a.frames {
		if cf == f {
			return i
		}
	}
	return -1
}

// GetRandomAccessPointAtOrAfter implements TrackBuffer.
func (a *AudioTrackBuffer) GetRandomAccessPointAtOrAfter(timeUs int64) (int64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, f := range a.frames {
		if f.TimestampUs >= timeUs {
			return f.TimestampUs, true
		}
	}
	return 0, false
}

// RemoveSamples implements TrackBuffer.
func (a *AudioTrackBuffer) RemoveSamples(startUs, endUs int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.frames[:0]
	for _, f := range a.frames {
		if f.TimestampUs >= startUs && f.TimestampUs < endUs {
			continue
		}
		kept = append(kept, f)
	}
	a.frames = kept

	intervals := make(timerange.Ranges, 0, len(a.frames))
	for _, f := range a.frames {
		intervals = append(intervals, timerange.Range{Start: usToSec(f.TimestampUs), End: usToSec(f.EndUs())})
	}
	a.rebuildRanges(intervals)
}

// Buffered implements TrackBuffer.
func (a *AudioTrackBuffer) Buffered() timerange.Ranges {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ranges.Clone()
}
