// Package element implements the media element facade of spec §4.6's tail
// and §6: the HTMLMediaElement-shaped surface (currentTime, duration,
// playbackRate, paused, seeking, ended, readyState, muted, volume,
// srcObject, play, pause) that delegates to internal/clock.Scheduler and
// fires the named event sequence through internal/events. Grounded on the
// teacher's internal/relay/client.go and session.go: a facade holding a
// scheduler/session plus an event sink, exposing thin delegations guarded
// by state checks.
package element

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/go-mse/mse5/internal/clock"
	"github.com/go-mse/mse5/internal/decoder"
	"github.com/go-mse/mse5/internal/events"
	"github.com/go-mse/mse5/internal/mediaerr"
	"github.com/go-mse/mse5/internal/mediasource"
	"github.com/go-mse/mse5/internal/observability"
	"github.com/go-mse/mse5/internal/present"
	"github.com/go-mse/mse5/internal/timerange"
	"github.com/go-mse/mse5/internal/track"
)

// ReadyState mirrors clock.ReadyState. The spec's readyState ladder also
// names HAVE_ENOUGH_DATA, but per the clock package's own decision that
// state is never entered (spec §4.6, Open Questions); this element exposes
// exactly the four states the scheduler can reach.
type ReadyState = clock.ReadyState

const (
	Nothing     = clock.Nothing
	Metadata    = clock.Metadata
	CurrentData = clock.CurrentData
	FutureData  = clock.FutureData
)

// MediaElement is the application-facing playback surface: an application
// attaches a MediaSource via SetSrcObject, appends coded media into its
// source buffers, and drives playback through Play/Pause/SetCurrentTime.
type MediaElement struct {
	mu sync.Mutex

	events *events.Target
	logger *slog.Logger

	scheduler    *clock.Scheduler
	videoDecoder decoder.VideoDecoder
	audioDecoder decoder.AudioDecoder
	mixer        present.Mixer

	src *mediasource.MediaSource

	readyState  clock.ReadyState
	duration    float64
	muted       bool
	volume      float64
	videoWidth  int
	videoHeight int

	played timerange.Ranges
}

// New creates a MediaElement with no srcObject attached, wiring a
// clock.Scheduler over the given decoder and presentation collaborators.
func New(videoDec decoder.VideoDecoder, audioDec decoder.AudioDecoder, mixer present.Mixer, surface present.Surface, logger *slog.Logger) *MediaElement {
	if logger == nil {
		logger = slog.Default()
	}
	el := &MediaElement{
		events:       events.NewTarget(),
		logger:       logger,
		videoDecoder: videoDec,
		audioDecoder: audioDec,
		mixer:        mixer,
		duration:     math.NaN(),
		volume:       1,
		readyState:   clock.Nothing,
	}
	el.scheduler = clock.New(el, videoDec, audioDec, mixer, surface, logger)
	return el
}

// Events returns the element's event target.
func (el *MediaElement) Events() *events.Target { return el.events }

// Scheduler returns the underlying clock scheduler, for callers (such as a
// host application's render loop) that need to drive Tick or Start/Stop
// directly.
func (el *MediaElement) Scheduler() *clock.Scheduler { return el.scheduler }

// CurrentTime returns the current playback position in seconds.
func (el *MediaElement) CurrentTime() float64 { return el.scheduler.CurrentTime() }

// SetCurrentTime seeks to t. Per spec §6, assigning currentTime only runs
// the seek algorithm once readyState is above Nothing; before that it is a
// no-op, matching an element with no loaded metadata to seek within.
func (el *MediaElement) SetCurrentTime(t float64) {
	if el.ReadyState() == clock.Nothing {
		return
	}
	el.events.Emit(events.Event{Kind: events.Seeking})
	done := el.scheduler.Seek(t)
	go func() {
		var seekErr error
		stop := observability.TimedOperationWithError(context.Background(), el.logger, "seek", &seekErr)
		<-done
		stop()
		el.events.Emit(events.Event{Kind: events.Seeked})
	}()
}

// Duration returns the element's duration in seconds, NaN before metadata.
func (el *MediaElement) Duration() float64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.duration
}

// PlaybackRate returns the current playback rate.
func (el *MediaElement) PlaybackRate() float64 { return el.scheduler.PlaybackRate() }

// SetPlaybackRate sets the playback rate; v may be negative for reverse
// playback.
func (el *MediaElement) SetPlaybackRate(v float64) { el.scheduler.SetPlaybackRate(v) }

// Paused reports whether the element is paused.
func (el *MediaElement) Paused() bool { return el.scheduler.Paused() }

// Seeking reports whether a seek is in flight.
func (el *MediaElement) Seeking() bool { return el.scheduler.Seeking() }

// Ended reports whether playback has reached the end of the media.
func (el *MediaElement) Ended() bool { return el.scheduler.Ended() }

// ReadyState returns the current readyState.
func (el *MediaElement) ReadyState() clock.ReadyState {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.readyState
}

// Muted reports whether audio output is muted.
func (el *MediaElement) Muted() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.muted
}

// SetMuted mutes or unmutes audio output.
func (el *MediaElement) SetMuted(muted bool) {
	el.mu.Lock()
	el.muted = muted
	v := el.volume
	el.mu.Unlock()

	el.applyVolume(v, muted)
	el.events.Emit(events.Event{Kind: events.VolumeChange})
}

// Volume returns the current volume, in [0, 1].
func (el *MediaElement) Volume() float64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.volume
}

// SetVolume sets the volume, which must be in [0, 1].
func (el *MediaElement) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return mediaerr.New(mediaerr.TypeError, "element: volume must be in [0, 1]")
	}
	el.mu.Lock()
	el.volume = v
	muted := el.muted
	el.mu.Unlock()

	el.applyVolume(v, muted)
	el.events.Emit(events.Event{Kind: events.VolumeChange})
	return nil
}

func (el *MediaElement) applyVolume(v float64, muted bool) {
	if muted {
		el.mixer.SetVolume(0)
		return
	}
	el.mixer.SetVolume(v)
}

// VideoWidth returns the intrinsic width of the most recently rendered
// frame, or 0 before any frame has been drawn.
func (el *MediaElement) VideoWidth() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.videoWidth
}

// VideoHeight returns the intrinsic height of the most recently rendered
// frame, or 0 before any frame has been drawn.
func (el *MediaElement) VideoHeight() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.videoHeight
}

// SrcObject returns the attached media source, or nil.
func (el *MediaElement) SrcObject() *mediasource.MediaSource {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.src
}

// SetSrcObject detaches any previously attached media source, resets the
// element and scheduler to their initial state, and attaches src. src may
// be nil to clear the element.
func (el *MediaElement) SetSrcObject(src *mediasource.MediaSource) error {
	el.mu.Lock()
	old := el.src
	el.src = nil
	el.readyState = clock.Nothing
	el.duration = math.NaN()
	el.videoWidth, el.videoHeight = 0, 0
	el.played = nil
	el.mu.Unlock()

	el.events.Emit(events.Event{Kind: events.Emptied})

	if old != nil {
		old.Detach()
	}
	el.scheduler.Reset()

	if src == nil {
		return nil
	}
	if err := src.Attach(el); err != nil {
		return err
	}

	el.mu.Lock()
	el.src = src
	el.mu.Unlock()
	return nil
}

// Play marks the element as potentially playing. Per spec §6, play()
// returns a pending promise in the DOM; this Go surface reports the
// synchronous precondition failure (no srcObject) as an error and reports
// the promise's eventual resolution as the "playing" event instead of a
// channel, matching an explicit-error-return idiom over a promise type.
func (el *MediaElement) Play() error {
	if el.SrcObject() == nil {
		return mediaerr.New(mediaerr.InvalidState, "element: play requires a srcObject")
	}
	el.events.Emit(events.Event{Kind: events.Play})
	el.scheduler.Play()
	return nil
}

// Pause marks the element as not potentially playing.
func (el *MediaElement) Pause() { el.scheduler.Pause() }

// Buffered returns the attached media source's buffered ranges, or empty
// with no srcObject.
func (el *MediaElement) Buffered() timerange.Ranges {
	src := el.SrcObject()
	if src == nil {
		return timerange.Ranges{}
	}
	return src.Buffered()
}

// Seekable returns [[0, duration]], per spec §6 (no live/seekable-range
// windows in scope).
func (el *MediaElement) Seekable() timerange.Ranges {
	d := el.Duration()
	if math.IsNaN(d) {
		return timerange.Ranges{}
	}
	return timerange.Ranges{{Start: 0, End: d}}
}

// Played returns the ranges of media that have actually been played.
func (el *MediaElement) Played() timerange.Ranges {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.played.Clone()
}

// The methods below implement mediasource.ElementHost.

// NotifyTracksActive implements mediasource.ElementHost: raises readyState
// to Metadata, configures the decoders from the newly active tracks, and
// fires loadedmetadata. A no-op past the first call.
func (el *MediaElement) NotifyTracksActive() {
	el.mu.Lock()
	if el.readyState != clock.Nothing {
		el.mu.Unlock()
		return
	}
	el.readyState = clock.Metadata
	el.mu.Unlock()

	el.configureDecoders()
	el.events.Emit(events.Event{Kind: events.LoadedMetadata})
}

func (el *MediaElement) configureDecoders() {
	src := el.SrcObject()
	if src == nil {
		return
	}
	if vtb := src.VideoTrackBuffer(); vtb != nil {
		if cfg := vtb.Config(); cfg != nil && cfg.AVC != nil {
			if err := el.videoDecoder.Configure(cfg.AVC); err != nil {
				el.logger.Warn("element: video decoder configure failed", slog.String("error", err.Error()))
			}
		}
	}
	if atb := src.AudioTrackBuffer(); atb != nil {
		if cfg := atb.Config(); cfg != nil && cfg.AAC != nil {
			if err := el.audioDecoder.Configure(cfg.AAC); err != nil {
				el.logger.Warn("element: audio decoder configure failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ReadyStateAboveMetadata implements mediasource.ElementHost.
func (el *MediaElement) ReadyStateAboveMetadata() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.readyState > clock.Metadata
}

// LowerReadyStateToMetadata implements mediasource.ElementHost: stalls
// playback back to Metadata and fires waiting, a no-op if already there.
func (el *MediaElement) LowerReadyStateToMetadata() {
	el.mu.Lock()
	if el.readyState <= clock.Metadata {
		el.mu.Unlock()
		return
	}
	el.readyState = clock.Metadata
	el.mu.Unlock()
	el.events.Emit(events.Event{Kind: events.Waiting})
}

// DurationChanged implements mediasource.ElementHost.
func (el *MediaElement) DurationChanged(seconds float64) {
	el.mu.Lock()
	el.duration = seconds
	el.mu.Unlock()
	el.events.Emit(events.Event{Kind: events.DurationChange})
}

// CurrentTimeUs implements mediasource.ElementHost.
func (el *MediaElement) CurrentTimeUs() int64 { return el.scheduler.CurrentTimeUs() }

// AllDataReceived implements mediasource.ElementHost: end-of-stream with no
// further data coming is the closest analogue this element has to a
// network-progress signal, so it is reported as progress.
func (el *MediaElement) AllDataReceived() {
	el.events.Emit(events.Event{Kind: events.Progress})
}

// The methods below implement clock.Host.

// VideoTrackBuffer implements clock.Host.
func (el *MediaElement) VideoTrackBuffer() track.TrackBuffer {
	src := el.SrcObject()
	if src == nil {
		return nil
	}
	return src.VideoTrackBuffer()
}

// AudioTrackBuffer implements clock.Host.
func (el *MediaElement) AudioTrackBuffer() track.TrackBuffer {
	src := el.SrcObject()
	if src == nil {
		return nil
	}
	return src.AudioTrackBuffer()
}

// BufferedRangeContaining implements clock.Host.
func (el *MediaElement) BufferedRangeContaining(t float64) (start, end float64, ok bool) {
	iv, ok := el.Buffered().Find(t)
	if !ok {
		return 0, 0, false
	}
	return iv.Start, iv.End, true
}

// IsEndOfStream implements clock.Host.
func (el *MediaElement) IsEndOfStream() bool {
	src := el.SrcObject()
	return src != nil && src.ReadyState() == mediasource.Ended
}

// EmitTimeUpdate implements clock.Host.
func (el *MediaElement) EmitTimeUpdate() { el.events.Emit(events.Event{Kind: events.TimeUpdate}) }

// EmitWaiting implements clock.Host.
func (el *MediaElement) EmitWaiting() { el.events.Emit(events.Event{Kind: events.Waiting}) }

// EmitPlaying implements clock.Host.
func (el *MediaElement) EmitPlaying() { el.events.Emit(events.Event{Kind: events.Playing}) }

// EmitPause implements clock.Host.
func (el *MediaElement) EmitPause() { el.events.Emit(events.Event{Kind: events.Pause}) }

// EmitEnded implements clock.Host.
func (el *MediaElement) EmitEnded() { el.events.Emit(events.Event{Kind: events.Ended}) }

// EmitRateChange implements clock.Host.
func (el *MediaElement) EmitRateChange() { el.events.Emit(events.Event{Kind: events.RateChange}) }

// EmitResize implements clock.Host: records the new intrinsic dimensions
// and fires resize.
func (el *MediaElement) EmitResize(w, h int) {
	el.mu.Lock()
	el.videoWidth, el.videoHeight = w, h
	el.mu.Unlock()
	el.events.Emit(events.Event{Kind: events.Resize})
}

// SetReadyState implements clock.Host: advances readyState and fires the
// readyState-crossing events (loadeddata, canplay, canplaythrough) the
// first time each threshold is reached. The ladder tops out at FutureData
// (see the package doc), so canplay and canplaythrough both fire there.
func (el *MediaElement) SetReadyState(r clock.ReadyState) {
	el.mu.Lock()
	prev := el.readyState
	el.readyState = r
	el.mu.Unlock()

	if r <= prev {
		return
	}
	if prev < clock.CurrentData && r >= clock.CurrentData {
		el.events.Emit(events.Event{Kind: events.LoadedData})
	}
	if prev < clock.FutureData && r >= clock.FutureData {
		el.events.Emit(events.Event{Kind: events.CanPlay})
		el.events.Emit(events.Event{Kind: events.CanPlayThrough})
	}
}

// NotePlayed implements clock.Host: grows the played ranges by the span the
// clock just advanced across.
func (el *MediaElement) NotePlayed(startUs, endUs int64) {
	if endUs <= startUs {
		return
	}
	span := timerange.Ranges{{Start: usToSec(startUs), End: usToSec(endUs)}}
	el.mu.Lock()
	el.played = el.played.Union(span, 0)
	el.mu.Unlock()
}

func usToSec(us int64) float64 { return float64(us) / 1e6 }
