// Package sourcebuffer implements the per-media-type ingress described in
// spec §4.4: it owns an input-byte staging buffer, drives the segment
// parser, enforces coded-frame-processing, maintains the
// first-init-segment invariants, performs range removal, and fires the
// update lifecycle events.
package sourcebuffer

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/go-mse/mse5/internal/events"
	"github.com/go-mse/mse5/internal/frame"
	"github.com/go-mse/mse5/internal/mediaerr"
	"github.com/go-mse/mse5/internal/mp4box"
	"github.com/go-mse/mse5/internal/timerange"
	"github.com/go-mse/mse5/internal/track"
)

// Host is the back-reference to the owning MediaSource, kept narrow so
// this package never imports internal/mediasource (spec §9's weak
// back-reference, implemented structurally instead of by pointer).
type Host interface {
	// IsOpen reports whether the media source's readyState is Open.
	IsOpen() bool
	// IsEnded reports whether the media source's readyState is Ended.
	IsEnded() bool
	// Reopen transitions Ended back to Open, a no-op otherwise.
	Reopen()
	// SetInitialDuration sets duration if it is currently unset (NaN).
	SetInitialDuration(seconds float64)
	// NotifyTracksActive raises the attached element's readyState to
	// Metadata, if an element is attached and it hasn't already.
	NotifyTracksActive()
	// ElementReadyStateAboveMetadata reports whether the attached
	// element's readyState is currently above Metadata.
	ElementReadyStateAboveMetadata() bool
	// LowerReadyStateToMetadata stalls the attached element back to
	// Metadata readyState.
	LowerReadyStateToMetadata()
	// CurrentTimeUs returns the attached element's current playback
	// position in microseconds.
	CurrentTimeUs() int64
	// EndOfStream ends the media source, reporting kind as the stream
	// error when non-nil.
	EndOfStream(kind *mediaerr.Kind) error
}

// SegmentParser is the subset of *mp4box.Parser this package depends on,
// factored out so tests can substitute a deterministic double.
type SegmentParser interface {
	Feed(data []byte) []mp4box.Event
}

// SourceBuffer is a per-media-type ingress point, holding one track buffer
// per audio/video track described by its initialization segments.
type SourceBuffer struct {
	mu sync.Mutex

	ID       uuid.UUID
	MimeType string

	parent Host
	parser SegmentParser
	events *events.Target
	logger *slog.Logger

	input []byte

	updating atomic.Bool

	firstInitReceived bool
	trackOrder        []track.TrackBuffer
	trackByID         map[int]track.TrackBuffer
	videoTrackIDs     []int
	audioTrackIDs     []int

	removed bool
}

// New creates a SourceBuffer of mimeType, attached to parent and driven by
// parser. A nil logger falls back to slog.Default().
func New(parent Host, mimeType string, parser SegmentParser, logger *slog.Logger) *SourceBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceBuffer{
		ID:        uuid.New(),
		MimeType:  mimeType,
		parent:    parent,
		parser:    parser,
		events:    events.NewTarget(),
		logger:    logger,
		trackByID: make(map[int]track.TrackBuffer),
	}
}

// Events returns the SourceBuffer's event target, for registering
// updatestart/update/updateend/error/abort listeners.
func (sb *SourceBuffer) Events() *events.Target { return sb.events }

// Updating reports whether an appendBuffer or remove is in flight.
func (sb *SourceBuffer) Updating() bool { return sb.updating.Load() }

// AppendBuffer concatenates data to the input buffer and runs the parser
// loop, per spec §4.4.
func (sb *SourceBuffer) AppendBuffer(data []byte) error {
	if sb.removed {
		return mediaerr.New(mediaerr.InvalidState, "sourcebuffer: appendBuffer on a removed source buffer")
	}
	if !sb.updating.CompareAndSwap(false, true) {
		return mediaerr.New(mediaerr.InvalidState, "sourcebuffer: appendBuffer while already updating")
	}

	if sb.parent.IsEnded() {
		sb.parent.Reopen()
	}

	sb.events.Emit(events.Event{Kind: events.UpdateStart})

	sb.mu.Lock()
	sb.input = append(sb.input, data...)
	pending := sb.input
	sb.input = nil
	sb.mu.Unlock()

	evs := sb.parser.Feed(pending)

	var appendErr error
	for _, ev := range evs {
		switch ev.Kind {
		case mp4box.InitSegment:
			appendErr = sb.receiveInitSegment(ev.Info)
		case mp4box.MediaSegment:
			sb.processCodedFrames(ev.Samples)
		case mp4box.ParseError:
			appendErr = mediaerr.Wrap(mediaerr.ParseError, "sourcebuffer: parse error", ev.Err)
		}
		if appendErr != nil {
			break
		}
	}

	if appendErr != nil {
		sb.appendError(appendErr)
		return appendErr
	}

	sb.events.Emit(events.Event{Kind: events.Update})
	sb.updating.Store(false)
	sb.events.Emit(events.Event{Kind: events.UpdateEnd})
	return nil
}

// appendError implements the append-error steps of spec §7: discard the
// staged input, drop updating, emit error+updateend, and end the stream
// with a decode error. The segment parser's own buffered bytes are not
// reset.
func (sb *SourceBuffer) appendError(cause error) {
	sb.mu.Lock()
	sb.input = nil
	sb.mu.Unlock()

	sb.updating.Store(false)
	sb.events.Emit(events.Event{Kind: events.Error, Detail: cause})
	sb.events.Emit(events.Event{Kind: events.UpdateEnd})

	decodeErr := mediaerr.DecodeError
	_ = sb.parent.EndOfStream(&decodeErr)
}

// Remove implements spec §4.4's range-removal contract.
func (sb *SourceBuffer) Remove(start, end, duration float64) error {
	if sb.updating.Load() {
		return mediaerr.New(mediaerr.InvalidState, "sourcebuffer: remove while updating")
	}
	if start < 0 || start > duration || end <= start {
		return mediaerr.New(mediaerr.TypeError, fmt.Sprintf("sourcebuffer: invalid remove range [%g, %g)", start, end))
	}

	sb.updating.Store(true)
	sb.events.Emit(events.Event{Kind: events.UpdateStart})

	startUs := secToUs(start)
	endUs := secToUs(end)
	durationUs := secToUs(duration)

	currentUs := sb.parent.CurrentTimeUs()
	inRange := currentUs >= startUs && currentUs < endUs

	sb.mu.Lock()
	for _, tb := range sb.trackOrder {
		removeEndUs := durationUs
		if rap, ok := tb.GetRandomAccessPointAtOrAfter(endUs); ok {
			removeEndUs = rap
		}
		removeEndUs = min64(endUs, removeEndUs)
		tb.RemoveSamples(startUs, removeEndUs)
		tb.RequireRandomAccessPoint()
	}
	sb.mu.Unlock()

	if inRange && sb.parent.ElementReadyStateAboveMetadata() {
		sb.parent.LowerReadyStateToMetadata()
	}

	sb.events.Emit(events.Event{Kind: events.Update})
	sb.updating.Store(false)
	sb.events.Emit(events.Event{Kind: events.UpdateEnd})
	return nil
}

// Abort discards the staged input buffer, clears updating, and fires abort.
// The segment parser's own buffered bytes are not reset.
func (sb *SourceBuffer) Abort() {
	sb.mu.Lock()
	sb.input = nil
	sb.mu.Unlock()
	sb.updating.Store(false)
	sb.events.Emit(events.Event{Kind: events.Abort})
}

// Buffered returns the intersection of every owned track buffer's ranges,
// clamped to [0, highestEnd]. When the parent is Ended, the last range of
// each track is stretched to the overall highest end before intersecting.
func (sb *SourceBuffer) Buffered() timerange.Ranges {
	sb.mu.Lock()
	tracks := append([]track.TrackBuffer(nil), sb.trackOrder...)
	sb.mu.Unlock()

	if len(tracks) == 0 {
		return timerange.Ranges{}
	}

	perTrack := make([]timerange.Ranges, len(tracks))
	var highest float64
	for i, tb := range tracks {
		r := tb.Buffered()
		perTrack[i] = r
		if h := r.HighestEnd(); h > highest {
			highest = h
		}
	}

	ended := sb.parent.IsEnded()
	result := perTrack[0]
	if ended {
		result = result.StretchLastTo(highest)
	}
	for _, r := range perTrack[1:] {
		if ended {
			r = r.StretchLastTo(highest)
		}
		result = result.Intersect(r)
	}
	return result.Intersect(timerange.Ranges{{Start: 0, End: highest}})
}

// VideoTrackBuffer returns this source buffer's video track buffer, or nil
// if it has none.
func (sb *SourceBuffer) VideoTrackBuffer() track.TrackBuffer {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.videoTrackIDs) == 0 {
		return nil
	}
	return sb.trackByID[sb.videoTrackIDs[0]]
}

// AudioTrackBuffer returns this source buffer's audio track buffer, or nil
// if it has none.
func (sb *SourceBuffer) AudioTrackBuffer() track.TrackBuffer {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.audioTrackIDs) == 0 {
		return nil
	}
	return sb.trackByID[sb.audioTrackIDs[0]]
}

func (sb *SourceBuffer) processCodedFrames(samples map[int][]frame.Sample) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for trackID, list := range samples {
		tb, ok := sb.trackByID[trackID]
		if !ok {
			continue
		}
		for _, s := range list {
			dtsUs := s.DTSUs()
			if !tb.ContinuityOK(dtsUs) {
				for _, other := range sb.trackOrder {
					other.RequireRandomAccessPoint()
				}
			}
			tb.AppendSample(s)
		}
	}
}

func (sb *SourceBuffer) receiveInitSegment(info *mp4box.Info) error {
	duration := info.DurationSec
	if duration == 0 {
		duration = math.Inf(1)
	}
	sb.parent.SetInitialDuration(duration)

	if len(info.AudioTracks()) == 0 && len(info.VideoTracks()) == 0 {
		return mediaerr.New(mediaerr.InitError, "sourcebuffer: initialization segment has no audio or video tracks")
	}
	for _, t := range info.Tracks {
		if t.Config == nil {
			return mediaerr.New(mediaerr.InitError, "sourcebuffer: unsupported codec on initialization segment track")
		}
	}

	sb.mu.Lock()

	if !sb.firstInitReceived {
		for _, t := range info.Tracks {
			var tb track.TrackBuffer
			switch t.Type {
			case mp4box.TrackVideo:
				tb = track.NewVideoTrackBuffer(t.ID, t.Config)
				sb.videoTrackIDs = append(sb.videoTrackIDs, t.ID)
			case mp4box.TrackAudio:
				tb = track.NewAudioTrackBuffer(t.ID, t.Config)
				sb.audioTrackIDs = append(sb.audioTrackIDs, t.ID)
			}
			sb.trackByID[t.ID] = tb
			sb.trackOrder = append(sb.trackOrder, tb)
		}
		sb.firstInitReceived = true
		tracksAdded := len(sb.trackOrder) > 0
		sb.mu.Unlock()

		// NotifyTracksActive may call back into this source buffer (e.g. the
		// element configuring decoders reads track buffers), so it must run
		// with sb.mu released.
		if tracksAdded {
			sb.parent.NotifyTracksActive()
		}
		return nil
	}

	if len(info.VideoTracks()) != len(sb.videoTrackIDs) || len(info.AudioTracks()) != len(sb.audioTrackIDs) {
		sb.mu.Unlock()
		return mediaerr.New(mediaerr.InitError, "sourcebuffer: track count mismatch across initialization segments")
	}
	if len(sb.videoTrackIDs) > 1 {
		for i, t := range info.VideoTracks() {
			if t.ID != sb.videoTrackIDs[i] {
				sb.mu.Unlock()
				return mediaerr.New(mediaerr.InitError, "sourcebuffer: video track ID mismatch across initialization segments")
			}
		}
	}
	if len(sb.audioTrackIDs) > 1 {
		for i, t := range info.AudioTracks() {
			if t.ID != sb.audioTrackIDs[i] {
				sb.mu.Unlock()
				return mediaerr.New(mediaerr.InitError, "sourcebuffer: audio track ID mismatch across initialization segments")
			}
		}
	}

	for _, t := range info.Tracks {
		tb, ok := sb.trackByID[t.ID]
		if !ok {
			continue
		}
		tb.Reconfigure(t.Config)
		tb.RequireRandomAccessPoint()
	}
	sb.mu.Unlock()
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func secToUs(t float64) int64 {
	if math.IsInf(t, 1) {
		return math.MaxInt64
	}
	return int64(math.Floor(t * 1e6))
}
