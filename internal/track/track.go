// Package track implements the per-track coded-frame store: an ordered
// list of frames (audio) or GOPs (video) with time-range bookkeeping,
// decode-dependency resolution, and GOP-aware removal.
package track

import (
	"math"

	"github.com/go-mse/mse5/internal/codec"
	"github.com/go-mse/mse5/internal/frame"
	"github.com/go-mse/mse5/internal/timerange"
)

// Type distinguishes an audio track buffer from a video track buffer.
type Type int

const (
	// Video identifies a video track buffer, storing GOPs.
	Video Type = iota
	// Audio identifies an audio track buffer, storing individually
	// decodable frames.
	Audio
)

// Direction is the signed playback direction used by GetNextFrames to pick
// which neighbouring GOP or frame continues a decode submission batch.
type Direction int

const (
	// Forward continues to later frames/GOPs.
	Forward Direction = iota
	// Backward continues to earlier frames/GOPs.
	Backward
)

// rangeTolerance is the union tolerance for trackBufferRanges, 1/60 s.
const rangeTolerance = 1.0 / 60.0

// gopAdjacencyToleranceUs is the maximum gap, in microseconds, between two
// GOPs (or a frame and its neighbour) for GetNextFrames to treat them as a
// contiguous continuation.
const gopAdjacencyToleranceUs = 1

// GOP is a group of pictures: a key frame and the delta frames that depend
// on it, plus the decoder configuration active when they were appended.
type GOP struct {
	StartUs int64
	EndUs   int64
	Frames  []*frame.CodedFrame
	Config  *codec.Config
}

// TrackBuffer is the per-track coded-frame store described in §4.2:
// ordered insertion, GOP-aware removal, lookup-by-time, decode-dependency
// resolution, and a bounded next-frames window.
type TrackBuffer interface {
	Type() Type
	TrackID() int
	Config() *codec.Config

	AppendSample(s frame.Sample)
	RequireRandomAccessPoint()
	Reconfigure(cfg *codec.Config)

	// ContinuityOK reports whether a sample decoding at dtsUs is consistent
	// with this track buffer's last decode timestamp (spec §4.4 continuity
	// guard). Returns true when there is no prior timestamp to compare.
	ContinuityOK(dtsUs int64) bool

	FindFrameForTime(seconds float64) (*frame.CodedFrame, bool)
	GetDecodeDependenciesForFrame(f *frame.CodedFrame) ([]*frame.CodedFrame, *codec.Config)
	GetNextFrames(last *frame.CodedFrame, maxCount int, dir Direction) ([]*frame.CodedFrame, *codec.Config, bool)
	GetRandomAccessPointAtOrAfter(timeUs int64) (int64, bool)
	RemoveSamples(startUs, endUs int64)

	Buffered() timerange.Ranges
	NeedRandomAccessPoint() bool
}

// secToUs converts seconds to microseconds, flooring per spec's timestamp
// comparison rule.
func secToUs(t float64) int64 {
	return int64(math.Floor(t * 1e6))
}

func usToSec(us int64) float64 {
	return float64(us) / 1e6
}

// bookkeeping holds the fields shared by both track buffer variants,
// tracked per coded-frame-processing (spec §3, §4.2).
type bookkeeping struct {
	trackID int
	config  *codec.Config

	hasLastDecodeDts  bool
	lastDecodeDtsUs   int64
	lastFrameDuration int64
	highestEndUs      int64

	needRandomAccessPoint bool
	lastAppendedTsUs      *int64

	ranges timerange.Ranges
}

func newBookkeeping(trackID int, cfg *codec.Config) bookkeeping {
	return bookkeeping{
		trackID:               trackID,
		config:                cfg,
		ranges:                timerange.Ranges{},
		needRandomAccessPoint: true,
	}
}

func (b *bookkeeping) recordAppend(ptsUs, durUs int64) {
	iv := timerange.Ranges{{Start: usToSec(ptsUs), End: usToSec(ptsUs + durUs)}}
	b.ranges = b.ranges.Union(iv, rangeTolerance)
	if end := ptsUs + durUs; end > b.highestEndUs {
		b.highestEndUs = end
	}
}

// continuityOK implements the spec §4.4 continuity guard: a decode
// timestamp is consistent if it does not regress and does not jump ahead
// by more than twice the previous frame's duration.
func (b *bookkeeping) continuityOK(dtsUs int64) bool {
	if !b.hasLastDecodeDts {
		return true
	}
	if dtsUs < b.lastDecodeDtsUs {
		return false
	}
	return dtsUs-b.lastDecodeDtsUs <= 2*b.lastFrameDuration
}

func (b *bookkeeping) recordDecodeState(dtsUs, durUs int64) {
	b.hasLastDecodeDts = true
	b.lastDecodeDtsUs = dtsUs
	b.lastFrameDuration = durUs
}

// requireRandomAccessPoint resets continuity bookkeeping and flags that the
// next appended frame must be a random access point.
func (b *bookkeeping) requireRandomAccessPoint() {
	b.hasLastDecodeDts = false
	b.lastDecodeDtsUs = 0
	b.lastFrameDuration = 0
	b.highestEndUs = 0
	b.needRandomAccessPoint = true
	b.lastAppendedTsUs = nil
}

func (b *bookkeeping) rebuildRanges(intervals timerange.Ranges) {
	out := timerange.Ranges{}
	for _, iv := range intervals {
		out = out.Union(timerange.Ranges{iv}, rangeTolerance)
	}
	b.ranges = out
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func adjacent(a, b int64) bool {
	return abs64(a-b) <= gopAdjacencyToleranceUs
}
