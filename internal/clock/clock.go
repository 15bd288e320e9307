// Package clock implements the media clock and decode scheduler described
// in spec §4.6 — the hard core of the playback engine: it advances
// currentTime per animation tick, keeps each track's decode queue between
// its low and high watermark, resolves forward/backward direction into
// concrete decoder submissions, and drives the audio mixer and video
// surface.
package clock

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-mse/mse5/internal/decoder"
	"github.com/go-mse/mse5/internal/frame"
	"github.com/go-mse/mse5/internal/present"
	"github.com/go-mse/mse5/internal/queue"
	"github.com/go-mse/mse5/internal/track"
)

// Direction re-exports track.Direction at the scheduler level, so callers of this package never need to import internal/track just to
// name a direction.
type Direction = track.Direction

const (
	// Forward continues to later frames.
	Forward = track.Forward
	// Backward continues to earlier frames.
	Backward = track.Backward
)

// Watermarks bound the total in-flight-plus-ready frame count per media
// type, per spec §4.6.
const (
	LowWatermark  = 20
	HighWatermark = 30
)

// timeupdateMinInterval is the minimum spacing between timeupdate events.
const timeupdateMinInterval = 15 * time.Millisecond

// readyAheadWindow is the look-ahead used by readyState transitions: the
// element needs [t, t+0.1) covered to reach FutureData.
const readyAheadWindow = 0.1

// ReadyState mirrors the HTMLMediaElement readyState ladder up to
// FutureData; HAVE_ENOUGH_DATA is never entered (spec §4.6, Open Questions).
type ReadyState int

const (
	// Nothing is the state before any track buffer has become active.
	Nothing ReadyState = iota
	// Metadata is entered once tracks are active.
	Metadata
	// CurrentData is entered once a frame covers currentTime.
	CurrentData
	// FutureData is entered once [currentTime, currentTime+0.1) is covered.
	FutureData
)

// String returns the readyState name.
func (r ReadyState) String() string {
	switch r {
	case Nothing:
		return "nothing"
	case Metadata:
		return "metadata"
	case CurrentData:
		return "currentdata"
	case FutureData:
		return "futuredata"
	default:
		return "unknown"
	}
}

// decodeQueue tracks the in-flight and ready frame counts for one media
// type, plus enough state to seed, refill, and detect staleness.
type decodeQueue struct {
	inFlight int
	ready    []*decoder.VideoFrame // nil for the audio queue; video uses this to hold decoded output
	readyA   []*decoder.AudioData

	lastSubmitted *frame.CodedFrame

	// nextSyntheticUs/originalBySynthetic implement the AAC reverse-playback
	// timestamp re-stamping map (spec §4.6): decoders that deduce output
	// order from monotonic input DTS need a strictly-increasing synthetic
	// input timestamp when playing backward.
	nextSyntheticUs     int64
	originalBySynthetic map[int64]int64
}

func newDecodeQueue() *decodeQueue {
	return &decodeQueue{originalBySynthetic: make(map[int64]int64)}
}

func (q *decodeQueue) count() int {
	return q.inFlight + len(q.ready) + len(q.readyA)
}

func (q *decodeQueue) reset() {
	for _, f := range q.ready {
		f.Close()
	}
	for _, a := range q.readyA {
		a.Close()
	}
	q.inFlight = 0
	q.ready = nil
	q.readyA = nil
	q.lastSubmitted = nil
	q.nextSyntheticUs = 0
	q.originalBySynthetic = make(map[int64]int64)
}

// nextSynthetic returns a strictly-increasing synthetic timestamp for a
// reverse-order chunk, recording the map back to the frame's real
// timestamp.
func (q *decodeQueue) nextSynthetic(originalUs int64) int64 {
	ts := q.nextSyntheticUs
	q.nextSyntheticUs++
	q.originalBySynthetic[ts] = originalUs
	return ts
}

// Host is the narrow set of things the scheduler needs from the owning
// media element, kept local so this package never imports internal/element
// (same weak-back-reference pattern as sourcebuffer.Host).
type Host interface {
	VideoTrackBuffer() track.TrackBuffer
	AudioTrackBuffer() track.TrackBuffer
	// BufferedRangeContaining returns the buffered interval containing t, if
	// any, at the element's currently-composed buffered ranges.
	BufferedRangeContaining(t float64) (start, end float64, ok bool)
	Duration() float64
	IsEndOfStream() bool
	EmitTimeUpdate()
	EmitWaiting()
	EmitPlaying()
	EmitPause()
	EmitEnded()
	EmitRateChange()
	EmitResize(w, h int)
	SetReadyState(ReadyState)
	ReadyState() ReadyState
	// NotePlayed reports a span the clock just advanced across, in
	// microseconds, called only while potentially-playing and not seeking
	// (spec §3's played-range growth invariant). startUs <= endUs regardless
	// of playback direction.
	NotePlayed(startUs, endUs int64)
}

// Scheduler is the media clock and decode scheduler for one attached
// media element. It owns the two decoders, the mixer, and the presenter.
type Scheduler struct {
	mu sync.RWMutex

	host   Host
	logger *slog.Logger

	videoDecoder decoder.VideoDecoder
	audioDecoder decoder.AudioDecoder
	mixer        present.Mixer
	surface      present.Surface

	currentTimeUs int64
	playbackRate  float64
	paused        bool
	seeking       bool
	ended         bool

	videoQueue *decodeQueue
	audioQueue *decodeQueue

	lastAudioClockSec float64
	haveAudioClock    bool
	lastWallClock     time.Time
	lastTimeupdate    time.Time
	lastDisplayW      int
	lastDisplayH      int

	scheduledSources []present.BufferSource

	// pendingMu guards the raw decoder-callback inboxes below. Decoder
	// output callbacks may fire from a different goroutine than Tick (a
	// real decoder is asynchronous); they only ever append here, and Tick
	// drains and applies the drop policy under s.mu on the next pass. This
	// also protects Tick's own critical section from reentering s.mu when a
	// test double's Decode calls its callback synchronously.
	pendingMu    sync.Mutex
	pendingVideo []decoder.VideoFrame
	pendingAudio []decoder.AudioData

	seekCancel context.CancelFunc

	// tasks is the single-executor animation-tick queue of spec §5: each
	// wall-clock tick is coalesced through Tick/DrainTick so a stalled Tick
	// drops intervening frames instead of backing up, per queue.Queue's own
	// contract.
	tasks *queue.Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ticker *time.Ticker
}

// New creates a Scheduler bound to host, driving videoDec/audioDec through
// mixer/surface.
func New(host Host, videoDec decoder.VideoDecoder, audioDec decoder.AudioDecoder, mixer present.Mixer, surface present.Surface, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		host:         host,
		logger:       logger,
		videoDecoder: videoDec,
		audioDecoder: audioDec,
		mixer:        mixer,
		surface:      surface,
		playbackRate: 1,
		paused:       true,
		videoQueue:   newDecodeQueue(),
		audioQueue:   newDecodeQueue(),
		tasks:        queue.New(64),
	}
	videoDec.SetOutputCallback(s.onVideoDecoded)
	audioDec.SetOutputCallback(s.onAudioDecoded)
	return s
}

// Start begins the animation-tick loop, grounded on the teacher's
// Start(ctx)/syncLoop ticker shape. Each wall-clock tick is posted through
// s.tasks so ticks are coalesced and run on the single-executor queue of
// spec §5 rather than directly off the ticker goroutine.
func (s *Scheduler) Start(ctx context.Context, tickInterval time.Duration) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.ticker = time.NewTicker(tickInterval)
	s.mu.Unlock()

	s.tasks.Start(s.ctx)
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the animation-tick loop and waits for it and the task queue
// to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.tasks.Stop()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.ticker.Stop()
			return
		case now := <-s.ticker.C:
			s.tasks.Tick(func() { s.Tick(now) })
			s.tasks.DrainTick()
		}
	}
}

// CurrentTimeUs returns the current playback position in microseconds.
func (s *Scheduler) CurrentTimeUs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTimeUs
}

// CurrentTime returns the current playback position in seconds.
func (s *Scheduler) CurrentTime() float64 {
	return usToSec(s.CurrentTimeUs())
}

// direction returns the scheduler's current playback direction.
func (s *Scheduler) direction() Direction {
	if s.playbackRate < 0 {
		return Backward
	}
	return Forward
}

// potentiallyPlaying reports whether the clock should advance: not paused,
// not ended, not seeking.
func (s *Scheduler) potentiallyPlaying() bool {
	return !s.paused && !s.ended && !s.seeking
}

// Tick advances the media clock and drives one animation-tick's worth of
// refill, render, and audio scheduling. now is the wall-clock time of the
// tick (or, in a real implementation, an audio-clock sample).
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.potentiallyPlaying() {
		s.advanceClockLocked(now)
	}

	s.drainDecodedLocked()

	s.refillLocked(s.videoQueue, track.Video)
	s.refillLocked(s.audioQueue, track.Audio)

	// While seeking, decoded output is held in the ready queues so the seek
	// wait can observe frames covering the target; rendering resumes once
	// the seek completes.
	if !s.seeking {
		s.renderVideoLocked()
		s.scheduleAudioLocked()
	}

	s.maybeEmitTimeupdateLocked(now)
	s.evaluateEndedLocked()
	s.evaluateReadyStateLocked()
}

func (s *Scheduler) advanceClockLocked(now time.Time) {
	var elapsed float64
	if s.haveAudioClock {
		audioNow := s.mixer.Now()
		elapsed = audioNow - s.lastAudioClockSec
		s.lastAudioClockSec = audioNow
	} else {
		if !s.lastWallClock.IsZero() {
			elapsed = now.Sub(s.lastWallClock).Seconds()
		}
		s.lastWallClock = now
	}
	if elapsed < 0 {
		elapsed = 0
	}

	newTime := usToSec(s.currentTimeUs) + s.playbackRate*elapsed

	if start, end, ok := s.host.BufferedRangeContaining(usToSec(s.currentTimeUs)); ok {
		if newTime > end {
			newTime = end
		}
		if newTime < start {
			newTime = start
		}
	}

	prevUs := s.currentTimeUs
	s.currentTimeUs = secToUs(newTime)
	if s.currentTimeUs != prevUs {
		lo, hi := prevUs, s.currentTimeUs
		if lo > hi {
			lo, hi = hi, lo
		}
		s.host.NotePlayed(lo, hi)
	}
}

// refillLocked implements the decode-queue-model of spec §4.6: whenever
// in-flight+ready < LWM, request getNextFrames(lastSubmitted, HWM-count,
// direction) and submit the batch, seeding via getDecodeDependenciesForFrame
// when there is no lastSubmitted.
func (s *Scheduler) refillLocked(q *decodeQueue, kind track.Type) {
	tb := s.trackBufferLocked(kind)
	if tb == nil {
		return
	}

	for q.count() < LowWatermark {
		var batch []*frame.CodedFrame

		if q.lastSubmitted == nil {
			f, ok := tb.FindFrameForTime(usToSec(s.currentTimeUs))
			if !ok {
				return
			}
			deps, _ := tb.GetDecodeDependenciesForFrame(f)
			if len(deps) == 0 {
				return
			}
			batch = deps
		} else if !s.stillPresent(tb, q.lastSubmitted) {
			// Stale-frame detection: lastSubmitted was evicted by remove().
			q.lastSubmitted = nil
			continue
		} else {
			maxCount := HighWatermark - q.count()
			if maxCount <= 0 {
				return
			}
			next, _, ok := tb.GetNextFrames(q.lastSubmitted, maxCount, s.direction())
			if !ok {
				return
			}
			batch = next
		}

		s.submitBatch(q, kind, batch)
		if len(batch) > 0 {
			q.lastSubmitted = batch[len(batch)-1]
		}
	}
}

func (s *Scheduler) stillPresent(tb track.TrackBuffer, f *frame.CodedFrame) bool {
	_, _, ok := trackContains(tb, f)
	return ok
}

// trackContains is a best-effort presence check: it looks up the frame at
// f's own timestamp and compares identity, since track buffers don't expose
// raw membership.
func trackContains(tb track.TrackBuffer, f *frame.CodedFrame) (start, end int64, ok bool) {
	found, ok := tb.FindFrameForTime(usToSec(f.TimestampUs))
	if !ok || found != f {
		return 0, 0, false
	}
	return found.TimestampUs, found.EndUs(), true
}

func (s *Scheduler) trackBufferLocked(kind track.Type) track.TrackBuffer {
	if kind == track.Video {
		return s.host.VideoTrackBuffer()
	}
	return s.host.AudioTrackBuffer()
}

// submitBatch hands batch to the appropriate decoder in the order the
// scheduler's Direction requires: video is always submitted key-to-delta
// (decoder order); audio is submitted in playback order, re-stamped with
// synthetic timestamps when playing backward.
func (s *Scheduler) submitBatch(q *decodeQueue, kind track.Type, batch []*frame.CodedFrame) {
	switch kind {
	case track.Video:
		s.submitVideoBatch(q, batch)
	case track.Audio:
		s.submitAudioBatch(q, batch)
	}
}

func (s *Scheduler) submitVideoBatch(q *decodeQueue, batch []*frame.CodedFrame) {
	for _, f := range batch {
		q.inFlight++
		chunk := decoder.Chunk{TimestampUs: f.TimestampUs, DurationUs: f.DurationUs, Data: f.Data, IsKey: f.IsKey()}
		s.logger.Debug("clock: submitting video frame", slog.String("frame_id", f.SeqID), slog.Int64("pts_us", f.TimestampUs))
		if err := s.videoDecoder.Decode(chunk); err != nil {
			s.logger.Warn("clock: video decode failed", slog.String("frame_id", f.SeqID), slog.String("error", err.Error()))
			q.inFlight--
		}
	}
}

func (s *Scheduler) submitAudioBatch(q *decodeQueue, batch []*frame.CodedFrame) {
	backward := s.direction() == Backward
	for _, f := range batch {
		q.inFlight++
		ts := f.TimestampUs
		if backward {
			ts = q.nextSynthetic(f.TimestampUs)
		}
		chunk := decoder.Chunk{TimestampUs: ts, DurationUs: f.DurationUs, Data: f.Data, IsKey: true}
		s.logger.Debug("clock: submitting audio frame", slog.String("frame_id", f.SeqID), slog.Int64("pts_us", f.TimestampUs))
		if err := s.audioDecoder.Decode(chunk); err != nil {
			s.logger.Warn("clock: audio decode failed", slog.String("frame_id", f.SeqID), slog.String("error", err.Error()))
			q.inFlight--
		}
	}
}

// onVideoDecoded is the video decoder's output callback. It only enqueues:
// a real decoder calls back from its own goroutine, and a synchronous test
// double calls back from within Tick's own critical section, so the drop
// policy is applied later by drainDecodedLocked instead of here.
func (s *Scheduler) onVideoDecoded(f decoder.VideoFrame) {
	s.pendingMu.Lock()
	s.pendingVideo = append(s.pendingVideo, f)
	s.pendingMu.Unlock()
}

// onAudioDecoded is the audio decoder's output callback; see onVideoDecoded.
func (s *Scheduler) onAudioDecoded(a decoder.AudioData) {
	s.pendingMu.Lock()
	s.pendingAudio = append(s.pendingAudio, a)
	s.pendingMu.Unlock()
}

// drainDecodedLocked applies the drop policy (in-flight membership +
// lateness, spec §4.6) to every decoder output queued since the last tick.
// s.mu must be held.
func (s *Scheduler) drainDecodedLocked() {
	s.pendingMu.Lock()
	video := s.pendingVideo
	audio := s.pendingAudio
	s.pendingVideo = nil
	s.pendingAudio = nil
	s.pendingMu.Unlock()

	q := s.videoQueue
	for _, f := range video {
		if q.inFlight <= 0 {
			f.Close()
			continue
		}
		q.inFlight--
		if s.isLate(f.TimestampUs, f.DurationUs) {
			f.Close()
			continue
		}
		q.ready = append(q.ready, &f)
	}

	aq := s.audioQueue
	for _, a := range audio {
		if aq.inFlight <= 0 {
			a.Close()
			continue
		}
		aq.inFlight--

		if orig, ok := aq.originalBySynthetic[a.TimestampUs]; ok {
			delete(aq.originalBySynthetic, a.TimestampUs)
			restored := a.Clone(orig)
			a.Close()
			a = *restored
		}

		if s.isLate(a.TimestampUs, a.DurationUs) {
			a.Close()
			continue
		}
		aq.readyA = append(aq.readyA, &a)
	}
}

// isLate implements spec §4.6's drop-policy lateness check: forward,
// ts+dur <= currentTime is late; backward, ts >= currentTime is late.
func (s *Scheduler) isLate(tsUs, durUs int64) bool {
	if s.direction() == Forward {
		return tsUs+durUs <= s.currentTimeUs
	}
	return tsUs >= s.currentTimeUs
}

// renderVideoLocked drops all ready frames beyond current time in playback
// direction, then draws the unique frame containing current time.
func (s *Scheduler) renderVideoLocked() {
	q := s.videoQueue
	kept := q.ready[:0]
	var toRender *decoder.VideoFrame
	for _, f := range q.ready {
		if s.isLate(f.TimestampUs, f.DurationUs) {
			f.Close()
			continue
		}
		if f.TimestampUs <= s.currentTimeUs && s.currentTimeUs < f.TimestampUs+f.DurationUs {
			if toRender != nil {
				toRender.Close()
			}
			toRender = f
			continue
		}
		kept = append(kept, f)
	}
	q.ready = kept

	if toRender == nil {
		return
	}

	s.surface.DrawImage(toRender, 0, 0, toRender.DisplayW, toRender.DisplayH)
	if toRender.DisplayW != s.lastDisplayW || toRender.DisplayH != s.lastDisplayH {
		s.lastDisplayW, s.lastDisplayH = toRender.DisplayW, toRender.DisplayH
		s.surface.Resize(toRender.DisplayW, toRender.DisplayH)
		if s.host.ReadyState() != Nothing {
			s.host.EmitResize(toRender.DisplayW, toRender.DisplayH)
		}
	}
	toRender.Close()
}

// audioBatchToleranceDivisor bounds the gap between consecutive AudioData
// for them to be treated as one contiguous batch: the tolerance is the
// preceding buffer's own duration divided by this value (at least 1µs).
const audioBatchToleranceDivisor = 16

// scheduleAudioLocked batches consecutive same-format ready AudioData and
// schedules each batch on the mixer, per spec §4.6.
func (s *Scheduler) scheduleAudioLocked() {
	q := s.audioQueue
	if len(q.readyA) == 0 {
		return
	}

	backward := s.direction() == Backward
	sorted := append([]*decoder.AudioData(nil), q.readyA...)
	sortAudioByOrder(sorted, backward)

	var batches [][]*decoder.AudioData
	cur := []*decoder.AudioData{sorted[0]}
	for _, a := range sorted[1:] {
		prev := cur[len(cur)-1]
		tol := prev.DurationUs / audioBatchToleranceDivisor
		if tol < 1 {
			tol = 1
		}
		gap := a.TimestampUs - (prev.TimestampUs + prev.DurationUs)
		if backward {
			gap = prev.TimestampUs - (a.TimestampUs + a.DurationUs)
		}
		sameFormat := a.Format == prev.Format && a.SampleRate == prev.SampleRate && a.NumChannels == prev.NumChannels
		if sameFormat && abs64(gap) <= tol {
			cur = append(cur, a)
			continue
		}
		batches = append(batches, cur)
		cur = []*decoder.AudioData{a}
	}
	batches = append(batches, cur)

	for _, batch := range batches {
		s.scheduleBatchLocked(batch, backward)
	}
	q.readyA = nil
}

func sortAudioByOrder(data []*decoder.AudioData, backward bool) {
	if backward {
		sortDesc(data)
	} else {
		sortAsc(data)
	}
}

func sortAsc(d []*decoder.AudioData) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1].TimestampUs > d[j].TimestampUs; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}

func sortDesc(d []*decoder.AudioData) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1].TimestampUs < d[j].TimestampUs; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}

// scheduleBatchLocked concatenates a batch of AudioData into one PCM
// buffer, reversing per-channel samples for backward playback so the
// mixer can play at a positive rate magnitude, then schedules it.
func (s *Scheduler) scheduleBatchLocked(batch []*decoder.AudioData, backward bool) {
	if len(batch) == 0 {
		return
	}
	first := batch[0]

	planes := make([][]float32, first.NumChannels)
	totalFrames := 0
	for _, a := range batch {
		totalFrames += a.NumFrames
	}
	for c := range planes {
		planes[c] = make([]float32, totalFrames)
	}

	offset := 0
	for _, a := range batch {
		for c := 0; c < first.NumChannels && c < len(a.Planes); c++ {
			copy(planes[c][offset:offset+a.NumFrames], a.Planes[c])
		}
		offset += a.NumFrames
		a.Close()
	}

	if backward {
		for _, p := range planes {
			reverseFloat32(p)
		}
	}

	pcm := present.PCMBuffer{SampleRate: first.SampleRate, NumChannels: first.NumChannels, Planes: planes}
	src := s.mixer.CreateBufferSource(pcm)

	rate := math.Abs(s.playbackRate)
	if rate == 0 {
		rate = 1
	}
	src.SetPlaybackRate(rate)

	frameStartUs := first.TimestampUs
	offsetSec := float64(frameStartUs-s.currentTimeUs) / (1e6 * rate)
	src.Start(s.mixer.Now()+offsetSec, 0)

	s.scheduledSources = append(s.scheduledSources, src)
	if !s.haveAudioClock {
		s.haveAudioClock = true
		s.lastAudioClockSec = s.mixer.Now()
	}
}

func reverseFloat32(s []float32) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Scheduler) maybeEmitTimeupdateLocked(now time.Time) {
	if now.Sub(s.lastTimeupdate) < timeupdateMinInterval {
		return
	}
	s.lastTimeupdate = now
	s.host.EmitTimeUpdate()
}

// evaluateEndedLocked implements spec §4.6's end-of-playback rule.
func (s *Scheduler) evaluateEndedLocked() {
	wasEnded := s.ended

	if s.host.ReadyState() < Metadata {
		return
	}

	duration := s.host.Duration()
	forwardEnded := s.direction() == Forward && s.host.IsEndOfStream() && usToSec(s.currentTimeUs) == duration
	backwardEnded := s.direction() == Backward && usToSec(s.currentTimeUs) == 0

	s.ended = forwardEnded || backwardEnded
	if s.ended == wasEnded {
		return
	}

	if forwardEnded {
		s.host.EmitTimeUpdate()
		s.paused = true
		s.host.EmitPause()
		s.host.EmitEnded()
	} else if backwardEnded {
		s.host.EmitTimeUpdate()
	}
}

// evaluateReadyStateLocked re-derives readyState from currentTime and the
// element-level buffered ranges, per spec §4.6's look-ahead rule.
func (s *Scheduler) evaluateReadyStateLocked() {
	current := s.host.ReadyState()
	if current == Nothing {
		return
	}

	t := usToSec(s.currentTimeUs)
	start, end, covers := s.host.BufferedRangeContaining(t)
	next := Metadata
	if covers {
		next = CurrentData
		if end-t >= readyAheadWindow || (start <= t && s.host.IsEndOfStream()) {
			next = FutureData
		}
	}

	if next == current {
		return
	}
	if next < current {
		s.host.EmitWaiting()
	}
	s.host.SetReadyState(next)
}

// Seek sets currentTime, aborting any previous seek in flight. The
// returned channel closes once readyState >= FutureData and both decoded
// queues contain a frame covering target, matching spec §4.6.
func (s *Scheduler) Seek(target float64) <-chan struct{} {
	s.mu.Lock()

	if s.seekCancel != nil {
		s.seekCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.seekCancel = cancel

	if duration := s.host.Duration(); !math.IsNaN(duration) {
		if target < 0 {
			target = 0
		}
		if target > duration {
			target = duration
		}
	}

	s.seeking = true
	s.videoQueue.reset()
	s.audioQueue.reset()
	s.videoDecoder.Reset()
	s.audioDecoder.Reset()
	for _, src := range s.scheduledSources {
		src.Stop()
	}
	s.scheduledSources = nil

	s.currentTimeUs = secToUs(target)
	s.mu.Unlock()

	done := make(chan struct{})
	go s.waitForSeekTarget(ctx, target, done)
	return done
}

func (s *Scheduler) waitForSeekTarget(ctx context.Context, target float64, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.seekSatisfied(target) {
				s.mu.Lock()
				s.seeking = false
				s.mu.Unlock()
				s.host.EmitTimeUpdate()
				return
			}
		}
	}
}

func (s *Scheduler) seekSatisfied(target float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.host.ReadyState() < FutureData {
		return false
	}
	targetUs := secToUs(target)
	videoOK := frameCovers(s.videoQueue.ready, targetUs)
	audioOK := audioCovers(s.audioQueue.readyA, targetUs)
	return videoOK && audioOK
}

func frameCovers(frames []*decoder.VideoFrame, targetUs int64) bool {
	for _, f := range frames {
		if f.TimestampUs <= targetUs && targetUs < f.TimestampUs+f.DurationUs {
			return true
		}
	}
	return false
}

func audioCovers(frames []*decoder.AudioData, targetUs int64) bool {
	for _, a := range frames {
		if a.TimestampUs <= targetUs && targetUs < a.TimestampUs+a.DurationUs {
			return true
		}
	}
	return false
}

// SetPlaybackRate implements spec §4.6's rate-change algorithm: on a
// direction flip, reset both decoders (the queue direction is void);
// reschedule all in-flight audio buffers at the new rate.
func (s *Scheduler) SetPlaybackRate(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldSign := sign(s.playbackRate)
	newSign := sign(v)

	if oldSign != newSign {
		s.videoQueue.reset()
		s.audioQueue.reset()
		s.videoDecoder.Reset()
		s.audioDecoder.Reset()
	}

	s.playbackRate = v

	rate := math.Abs(v)
	if rate == 0 {
		rate = 1
	}
	for _, src := range s.scheduledSources {
		src.SetPlaybackRate(rate)
	}

	s.host.EmitRateChange()
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Play marks the element as potentially playing, per spec §4.6.
func (s *Scheduler) Play() {
	s.mu.Lock()
	s.paused = false
	s.lastWallClock = time.Time{}
	s.mu.Unlock()
	s.host.EmitPlaying()
}

// Pause marks the element as not potentially playing.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.host.EmitPause()
}

// Paused reports whether the scheduler is paused.
func (s *Scheduler) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// Ended reports whether playback has reached the end.
func (s *Scheduler) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// Reset returns the scheduler to its initial state: paused at time zero
// with both decode queues and decoders cleared, for a fresh srcObject.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seekCancel != nil {
		s.seekCancel()
		s.seekCancel = nil
	}
	s.videoQueue.reset()
	s.audioQueue.reset()
	s.videoDecoder.Reset()
	s.audioDecoder.Reset()
	for _, src := range s.scheduledSources {
		src.Stop()
	}
	s.scheduledSources = nil

	s.currentTimeUs = 0
	s.paused = true
	s.ended = false
	s.seeking = false
	s.haveAudioClock = false
	s.lastWallClock = time.Time{}
}

// Seeking reports whether a seek is in flight.
func (s *Scheduler) Seeking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seeking
}

// PlaybackRate returns the current playback rate.
func (s *Scheduler) PlaybackRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playbackRate
}

func secToUs(t float64) int64 { return int64(math.Floor(t * 1e6)) }
func usToSec(us int64) float64 { return float64(us) / 1e6 }
