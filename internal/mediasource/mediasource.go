// Package mediasource implements the MediaSource object of spec §4.5: the
// readyState machine, source buffer collection, duration tracking, and the
// attach/detach protocol used by the media element.
package mediasource

import (
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/go-mse/mse5/internal/codec"
	"github.com/go-mse/mse5/internal/events"
	"github.com/go-mse/mse5/internal/mediaerr"
	"github.com/go-mse/mse5/internal/mp4box"
	"github.com/go-mse/mse5/internal/sourcebuffer"
	"github.com/go-mse/mse5/internal/timerange"
	"github.com/go-mse/mse5/internal/track"
)

// ReadyState is the media source's lifecycle state.
type ReadyState int

const (
	// Closed is the initial state and the state after Detach.
	Closed ReadyState = iota
	// Open accepts new source buffers and appends.
	Open
	// Ended has all data; endOfStream was called.
	Ended
)

// String returns the spec's readyState name.
func (s ReadyState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// ElementHost is the narrow back-reference to the attached media element,
// kept local to this package so it never imports internal/element (the same
// weak-back-reference pattern sourcebuffer.Host uses one level down).
type ElementHost interface {
	// NotifyTracksActive raises the element's readyState to Metadata, once.
	NotifyTracksActive()
	// ReadyStateAboveMetadata reports whether the element's readyState is
	// currently above Metadata.
	ReadyStateAboveMetadata() bool
	// LowerReadyStateToMetadata stalls the element back to Metadata.
	LowerReadyStateToMetadata()
	// DurationChanged notifies the element that MediaSource.duration changed.
	DurationChanged(seconds float64)
	// CurrentTimeUs returns the element's current playback position.
	CurrentTimeUs() int64
	// AllDataReceived signals end-of-stream with no further data coming.
	AllDataReceived()
}

// MediaSource is the ingress point an application attaches to a media
// element and appends coded media into via its source buffers.
type MediaSource struct {
	mu sync.Mutex

	readyState    ReadyState
	duration      float64
	sourceBuffers []*sourcebuffer.SourceBuffer
	element       ElementHost

	events *events.Target
	logger *slog.Logger

	newParser func() sourcebuffer.SegmentParser
}

// New creates a MediaSource in the Closed state. newParser constructs a
// fresh SegmentParser for each source buffer; a nil value defaults to
// mp4box.New.
func New(logger *slog.Logger, newParser func() sourcebuffer.SegmentParser) *MediaSource {
	if logger == nil {
		logger = slog.Default()
	}
	if newParser == nil {
		newParser = func() sourcebuffer.SegmentParser { return mp4box.New(logger) }
	}
	return &MediaSource{
		readyState: Closed,
		duration:   math.NaN(),
		events:     events.NewTarget(),
		logger:     logger,
		newParser:  newParser,
	}
}

// Events returns the media source's event target.
func (ms *MediaSource) Events() *events.Target { return ms.events }

// ReadyState returns the current lifecycle state.
func (ms *MediaSource) ReadyState() ReadyState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.readyState
}

// Duration returns the current duration in seconds, NaN when Closed.
func (ms *MediaSource) Duration() float64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.duration
}

// SourceBuffers returns the attached source buffers, in addition order.
func (ms *MediaSource) SourceBuffers() []*sourcebuffer.SourceBuffer {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]*sourcebuffer.SourceBuffer(nil), ms.sourceBuffers...)
}

// AddSourceBuffer creates and attaches a new source buffer for mimeType,
// which must be an "audio/mp4" or "video/mp4" prefixed MIME type.
func (ms *MediaSource) AddSourceBuffer(mimeType string) (*sourcebuffer.SourceBuffer, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.readyState != Open {
		return nil, mediaerr.New(mediaerr.InvalidState, "mediasource: addSourceBuffer requires readyState open")
	}
	if !isSupportedMimeType(mimeType) {
		return nil, mediaerr.New(mediaerr.UnsupportedType, "mediasource: unsupported mime type "+mimeType)
	}
	if strings.Contains(mimeType, "codecs=") {
		if _, _, err := codec.ParseMimeCodecs(mimeType); err != nil {
			return nil, mediaerr.Wrap(mediaerr.UnsupportedType, "mediasource: unsupported codecs in mime type "+mimeType, err)
		}
	}

	sb := sourcebuffer.New(ms, mimeType, ms.newParser(), ms.logger)
	ms.sourceBuffers = append(ms.sourceBuffers, sb)
	return sb, nil
}

func isSupportedMimeType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/mp4") || strings.HasPrefix(mimeType, "video/mp4")
}

// EndOfStream requires Open and no updating source buffer. It sets
// readyState to Ended and, when kind is nil, runs duration-change to the
// maximum buffered end across all source buffers before signaling the
// element that all data has been received.
func (ms *MediaSource) EndOfStream(kind *mediaerr.Kind) error {
	ms.mu.Lock()
	if ms.readyState != Open {
		ms.mu.Unlock()
		return mediaerr.New(mediaerr.InvalidState, "mediasource: endOfStream requires readyState open")
	}
	for _, sb := range ms.sourceBuffers {
		if sb.Updating() {
			ms.mu.Unlock()
			return mediaerr.New(mediaerr.InvalidState, "mediasource: endOfStream while a source buffer is updating")
		}
	}
	ms.readyState = Ended
	ms.mu.Unlock()

	ms.events.Emit(events.Event{Kind: events.SourceEnded})

	if kind != nil {
		return mediaerr.New(*kind, "mediasource: endOfStream reported an error")
	}

	highest := ms.Buffered().HighestEnd()

	ms.mu.Lock()
	ms.setDurationLocked(highest)
	host := ms.element
	ms.mu.Unlock()

	if host != nil {
		host.AllDataReceived()
	}
	return nil
}

// SetDuration sets the media source's duration. Requires Open, no updating
// source buffer, and a non-negative, non-NaN value.
func (ms *MediaSource) SetDuration(seconds float64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.readyState != Open {
		return mediaerr.New(mediaerr.InvalidState, "mediasource: duration set requires readyState open")
	}
	for _, sb := range ms.sourceBuffers {
		if sb.Updating() {
			return mediaerr.New(mediaerr.InvalidState, "mediasource: duration set while a source buffer is updating")
		}
	}
	if math.IsNaN(seconds) || seconds < 0 {
		return mediaerr.New(mediaerr.TypeError, "mediasource: duration must be non-negative and not NaN")
	}

	ms.setDurationLocked(seconds)
	return nil
}

// setDurationLocked stores seconds and notifies the element, but only if
// the value actually changed. ms.mu must be held.
func (ms *MediaSource) setDurationLocked(seconds float64) {
	if ms.duration == seconds {
		return
	}
	ms.duration = seconds
	if ms.element != nil {
		ms.element.DurationChanged(seconds)
	}
}

// Attach implements the attachment protocol: requires Closed, sets the
// element back-reference, moves to Open, and fires sourceopen.
func (ms *MediaSource) Attach(host ElementHost) error {
	ms.mu.Lock()
	if ms.readyState != Closed {
		ms.mu.Unlock()
		return mediaerr.New(mediaerr.InvalidState, "mediasource: attach requires readyState closed")
	}
	ms.element = host
	ms.readyState = Open
	ms.mu.Unlock()

	ms.events.Emit(events.Event{Kind: events.SourceOpen})
	return nil
}

// Detach clears the element back-reference, resets to Closed with NaN
// duration, drops all source buffers, and fires sourceclose.
func (ms *MediaSource) Detach() {
	ms.mu.Lock()
	ms.element = nil
	ms.readyState = Closed
	ms.duration = math.NaN()
	ms.sourceBuffers = nil
	ms.mu.Unlock()

	ms.events.Emit(events.Event{Kind: events.SourceClose})
}

// OpenIfEnded transitions Ended to Open, a no-op otherwise.
func (ms *MediaSource) OpenIfEnded() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.readyState == Ended {
		ms.readyState = Open
	}
}

// Buffered returns the intersection across source buffers, clamped to
// [0, overallHighestEnd], stretching each source buffer's final range to
// the overall highest end when Ended.
func (ms *MediaSource) Buffered() timerange.Ranges {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.bufferedLocked()
}

func (ms *MediaSource) bufferedLocked() timerange.Ranges {
	if len(ms.sourceBuffers) == 0 {
		return timerange.Ranges{}
	}

	perBuffer := make([]timerange.Ranges, len(ms.sourceBuffers))
	var highest float64
	for i, sb := range ms.sourceBuffers {
		r := sb.Buffered()
		perBuffer[i] = r
		if h := r.HighestEnd(); h > highest {
			highest = h
		}
	}

	ended := ms.readyState == Ended
	result := perBuffer[0]
	if ended {
		result = result.StretchLastTo(highest)
	}
	for _, r := range perBuffer[1:] {
		if ended {
			r = r.StretchLastTo(highest)
		}
		result = result.Intersect(r)
	}
	return result.Intersect(timerange.Ranges{{Start: 0, End: highest}})
}

// VideoTrackBuffer returns the video track buffer of the first attached
// source buffer that has one, or nil.
func (ms *MediaSource) VideoTrackBuffer() track.TrackBuffer {
	ms.mu.Lock()
	sbs := append([]*sourcebuffer.SourceBuffer(nil), ms.sourceBuffers...)
	ms.mu.Unlock()

	for _, sb := range sbs {
		if tb := sb.VideoTrackBuffer(); tb != nil {
			return tb
		}
	}
	return nil
}

// AudioTrackBuffer returns the audio track buffer of the first attached
// source buffer that has one, or nil.
func (ms *MediaSource) AudioTrackBuffer() track.TrackBuffer {
	ms.mu.Lock()
	sbs := append([]*sourcebuffer.SourceBuffer(nil), ms.sourceBuffers...)
	ms.mu.Unlock()

	for _, sb := range sbs {
		if tb := sb.AudioTrackBuffer(); tb != nil {
			return tb
		}
	}
	return nil
}

// The methods below implement sourcebuffer.Host, letting a *MediaSource be
// passed directly to sourcebuffer.New without either package importing the
// other's concrete type.

// IsOpen implements sourcebuffer.Host.
func (ms *MediaSource) IsOpen() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.readyState == Open
}

// IsEnded implements sourcebuffer.Host.
func (ms *MediaSource) IsEnded() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.readyState == Ended
}

// Reopen implements sourcebuffer.Host.
func (ms *MediaSource) Reopen() { ms.OpenIfEnded() }

// SetInitialDuration implements sourcebuffer.Host: sets duration only if it
// is currently unset (NaN).
func (ms *MediaSource) SetInitialDuration(seconds float64) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if math.IsNaN(ms.duration) {
		ms.setDurationLocked(seconds)
	}
}

// NotifyTracksActive implements sourcebuffer.Host.
func (ms *MediaSource) NotifyTracksActive() {
	ms.mu.Lock()
	host := ms.element
	ms.mu.Unlock()
	if host != nil {
		host.NotifyTracksActive()
	}
}

// ElementReadyStateAboveMetadata implements sourcebuffer.Host.
func (ms *MediaSource) ElementReadyStateAboveMetadata() bool {
	ms.mu.Lock()
	host := ms.element
	ms.mu.Unlock()
	return host != nil && host.ReadyStateAboveMetadata()
}

// LowerReadyStateToMetadata implements sourcebuffer.Host.
func (ms *MediaSource) LowerReadyStateToMetadata() {
	ms.mu.Lock()
	host := ms.element
	ms.mu.Unlock()
	if host != nil {
		host.LowerReadyStateToMetadata()
	}
}

// CurrentTimeUs implements sourcebuffer.Host.
func (ms *MediaSource) CurrentTimeUs() int64 {
	ms.mu.Lock()
	host := ms.element
	ms.mu.Unlock()
	if host == nil {
		return 0
	}
	return host.CurrentTimeUs()
}
