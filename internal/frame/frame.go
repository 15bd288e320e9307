// Package frame defines the coded-media data types passed between the
// segment parser, track buffers, and the decode scheduler.
package frame

// Sample is a single coded access unit as extracted from a fragmented MP4
// moof/mdat pair, before it has been organized into a track buffer's GOP
// structure.
type Sample struct {
	TrackID       int
	TimescaleHz   uint32
	DTSTicks      int64
	CTSTicks      int64
	DurationTicks uint32
	Data          []byte
	IsSync        bool
}

// PTSUs returns the sample's presentation timestamp in microseconds.
func (s Sample) PTSUs() int64 {
	return ticksToUs(s.CTSTicks, s.TimescaleHz)
}

// DTSUs returns the sample's decode timestamp in microseconds.
func (s Sample) DTSUs() int64 {
	return ticksToUs(s.DTSTicks, s.TimescaleHz)
}

// DurationUs returns the sample's duration in microseconds.
func (s Sample) DurationUs() int64 {
	return ticksToUs(int64(s.DurationTicks), s.TimescaleHz)
}

// ticksToUs converts a tick count at timescale hz to microseconds, rounding
// to the nearest microsecond per spec §3 (round(1e6 * ticks / hz)).
func ticksToUs(ticks int64, hz uint32) int64 {
	if hz == 0 {
		return 0
	}
	num := ticks * 1_000_000
	den := int64(hz)
	if num < 0 {
		return (num - den/2) / den
	}
	return (num + den/2) / den
}

// Kind distinguishes a random-access frame from one with decode
// dependencies.
type Kind int

const (
	// Key is a frame decodable without reference to any other frame.
	Key Kind = iota
	// Delta is a frame that requires prior frames to decode correctly.
	Delta
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	if k == Key {
		return "key"
	}
	return "delta"
}

// CodedFrame is a track buffer's normalized unit of playback: a coded
// access unit stamped with presentation time and duration in microseconds,
// with decode-dependency information reduced to a Key/Delta kind.
type CodedFrame struct {
	TimestampUs int64
	DurationUs  int64
	Data        []byte
	Kind        Kind

	// SeqID is a sortable identifier assigned when the frame is appended to
	// a track buffer, used to correlate submit/decode log lines for a frame
	// whose presentation timestamp alone can't distinguish it once reverse
	// playback reorders submission.
	SeqID string
}

// EndUs returns the frame's presentation end time.
func (f *CodedFrame) EndUs() int64 {
	return f.TimestampUs + f.DurationUs
}

// IsKey reports whether the frame is a random access point.
func (f *CodedFrame) IsKey() bool {
	return f.Kind == Key
}
