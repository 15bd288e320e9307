package track

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/go-mse/mse5/internal/codec"
	"github.com/go-mse/mse5/internal/frame"
	"github.com/go-mse/mse5/internal/timerange"
)

// VideoTrackBuffer stores AVC access units grouped into GOPs, sorted by
// GOP start time.
type VideoTrackBuffer struct {
	mu sync.RWMutex
	bookkeeping

	gops    []*GOP
	current *GOP
}

// NewVideoTrackBuffer creates an empty video track buffer for trackID,
// configured with cfg.
func NewVideoTrackBuffer(trackID int, cfg *codec.Config) *VideoTrackBuffer {
	return &VideoTrackBuffer{bookkeeping: newBookkeeping(trackID, cfg)}
}

// Type implements TrackBuffer.
func (v *VideoTrackBuffer) Type() Type { return Video }

// TrackID implements TrackBuffer.
func (v *VideoTrackBuffer) TrackID() int { return v.trackID }

// Config implements TrackBuffer.
func (v *VideoTrackBuffer) Config() *codec.Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.config
}

// NeedRandomAccessPoint implements TrackBuffer.
func (v *VideoTrackBuffer) NeedRandomAccessPoint() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.needRandomAccessPoint
}

// ContinuityOK implements TrackBuffer.
func (v *VideoTrackBuffer) ContinuityOK(dtsUs int64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.continuityOK(dtsUs)
}

// AppendSample implements TrackBuffer.
func (v *VideoTrackBuffer) AppendSample(s frame.Sample) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ptsUs := s.PTSUs()
	if v.lastAppendedTsUs != nil && *v.lastAppendedTsUs == ptsUs {
		return
	}

	durUs := s.DurationUs()
	dtsUs := s.DTSUs()

	kind := frame.Delta
	if s.IsSync {
		kind = frame.Key
	}
	if v.needRandomAccessPoint {
		if kind != frame.Key {
			// Coded frame processing drops non-sync samples until a random
			// access point arrives (spec §4.2): a delta frame decoded
			// without its key frame is undecodable.
			return
		}
		v.needRandomAccessPoint = false
	}

	cf := &frame.CodedFrame{TimestampUs: ptsUs, DurationUs: durUs, Data: s.Data, Kind: kind, SeqID: ulid.Make().String()}

	if kind == frame.Key || v.current == nil {
		gop := &GOP{StartUs: ptsUs, EndUs: ptsUs + durUs, Frames: []*frame.CodedFrame{cf}, Config: v.config}
		v.insertGOPSorted(gop)
		v.current = gop
	} else {
		v.current.Frames = append(v.current.Frames, cf)
		if end := ptsUs + durUs; end > v.current.EndUs {
			v.current.EndUs = end
		}
	}

	v.recordAppend(ptsUs, durUs)
	v.recordDecodeState(dtsUs, durUs)
	ts := ptsUs
	v.lastAppendedTsUs = &ts
}

func (v *VideoTrackBuffer) insertGOPSorted(g *GOP) {
	idx := 0
	for idx < len(v.gops) && v.gops[idx].StartUs < g.StartUs {
		idx++
	}
	v.gops = append(v.gops, nil)
	copy(v.gops[idx+1:], v.gops[idx:])
	v.gops[idx] = g
}

// RequireRandomAccessPoint implements TrackBuffer.
func (v *VideoTrackBuffer) RequireRandomAccessPoint() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requireRandomAccessPoint()
	v.current = nil
}

// Reconfigure implements TrackBuffer.
func (v *VideoTrackBuffer) Reconfigure(cfg *codec.Config) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.config = cfg
	v.current = nil
}

// FindFrameForTime implements TrackBuffer.
func (v *VideoTrackBuffer) FindFrameForTime(seconds float64) (*frame.CodedFrame, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	t := secToUs(seconds)
	gop, ok := v.gopContaining(t)
	if !ok {
		return nil, false
	}
	for _, f := range gop.Frames {
		if f.TimestampUs <= t && t < f.EndUs() {
			return f, true
		}
	}
	return nil, false
}

func (v *VideoTrackBuffer) gopContaining(t int64) (*GOP, bool) {
	for _, g := range v.gops {
		if g.StartUs <= t && t < g.EndUs {
			return g, true
		}
	}
	return nil, false
}

// locate returns the GOP index and frame index of f within v.gops, or
// ok=false if f is no longer present (it may have been evicted by Remove).
func (v *VideoTrackBuffer) locate(f *frame.CodedFrame) (gopIdx, frameIdx int, ok bool) {
	for gi, g := range v.gops {
		for fi, cf := range g.Frames {
			if cf == f {
				return gi, fi, true
			}
		}
	}
	return 0, 0, false
}

// GetDecodeDependenciesForFrame implements TrackBuffer: the frames from the
// owning GOP's key frame up to and including f.
func (v *VideoTrackBuffer) GetDecodeDependenciesForFrame(f *frame.CodedFrame) ([]*frame.CodedFrame, *codec.Config) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	gi, fi, ok := v.locate(f)
	if !ok {
		return nil, nil
	}
	gop := v.gops[gi]
	out := make([]*frame.CodedFrame, fi+1)
	copy(out, gop.Frames[:fi+1])
	return out, gop.Config
}

// GetNextFrames implements TrackBuffer.
func (v *VideoTrackBuffer) GetNextFrames(last *frame.CodedFrame, maxCount int, dir Direction) ([]*frame.CodedFrame, *codec.Config, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	gi, fi, ok := v.locate(last)
	if !ok {
		return nil, nil, false
	}

	var out []*frame.CodedFrame
	var cfg *codec.Config
	if dir == Forward {
		out, cfg = v.collectForward(gi, fi, maxCount)
	} else {
		out, cfg = v.collectBackward(gi, fi, maxCount)
	}
	if len(out) == 0 {
		return nil, nil, false
	}
	return out, cfg, true
}

func (v *VideoTrackBuffer) collectForward(gopIdx, frameIdx, maxCount int) ([]*frame.CodedFrame, *codec.Config) {
	var out []*frame.CodedFrame
	var cfg *codec.Config

	gi := gopIdx
	fi := frameIdx + 1
	for len(out) < maxCount && gi < len(v.gops) {
		gop := v.gops[gi]
		for ; fi < len(gop.Frames) && len(out) < maxCount; fi++ {
			out = append(out, gop.Frames[fi])
			cfg = gop.Config
		}
		if len(out) >= maxCount || gi+1 >= len(v.gops) {
			break
		}
		next := v.gops[gi+1]
		if !adjacent(next.StartUs, gop.EndUs) {
			break
		}
		gi++
		fi = 0
	}
	return out, cfg
}

func (v *VideoTrackBuffer) collectBackward(gopIdx, frameIdx, maxCount int) ([]*frame.CodedFrame, *codec.Config) {
	var out []*frame.CodedFrame
	var cfg *codec.Config

	gi := gopIdx
	fi := frameIdx - 1
	for len(out) < maxCount && gi >= 0 {
		gop := v.gops[gi]
		for ; fi >= 0 && len(out) < maxCount; fi-- {
			out = append(out, gop.Frames[fi])
			cfg = gop.Config
		}
		if len(out) >= maxCount || gi-1 < 0 {
			break
		}
		prev := v.gops[gi-1]
		if !adjacent(gop.StartUs, prev.EndUs) {
			break
		}
		gi--
		fi = len(v.gops[gi].Frames) - 1
	}
	return out, cfg
}

// GetRandomAccessPointAtOrAfter implements TrackBuffer.
func (v *VideoTrackBuffer) GetRandomAccessPointAtOrAfter(timeUs int64) (int64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, g := range v.gops {
		if g.StartUs >= timeUs {
			return g.StartUs, true
		}
	}
	return 0, false
}

// RemoveSamples implements TrackBuffer.
func (v *VideoTrackBuffer) RemoveSamples(startUs, endUs int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	kept := v.gops[:0]
	for _, gop := range v.gops {
		idx := -1
		for i, f := range gop.Frames {
			if f.TimestampUs >= startUs && f.TimestampUs < endUs {
				idx = i
				break
			}
		}
		switch {
		case idx == -1:
			kept = append(kept, gop)
		case idx == 0:
			if gop == v.current {
				v.current = nil
			}
		default:
			gop.Frames = gop.Frames[:idx]
			gop.EndUs = gop.Frames[len(gop.Frames)-1].EndUs()
			kept = append(kept, gop)
		}
	}
	v.gops = kept

	var intervals timerange.Ranges
	for _, g := range v.gops {
		intervals = append(intervals, timerange.Range{Start: usToSec(g.StartUs), End: usToSec(g.EndUs)})
	}
	v.rebuildRanges(intervals)
}

// Buffered implements TrackBuffer.
func (v *VideoTrackBuffer) Buffered() timerange.Ranges {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ranges.Clone()
}
