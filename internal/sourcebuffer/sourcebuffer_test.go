package sourcebuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-mse/mse5/internal/codec"
	"github.com/go-mse/mse5/internal/events"
	"github.com/go-mse/mse5/internal/frame"
	"github.com/go-mse/mse5/internal/mediaerr"
	"github.com/go-mse/mse5/internal/mp4box"
)

// fakeHost is a deterministic double for Host, recording every call it
// receives so tests can assert on lifecycle transitions without a real
// MediaSource.
type fakeHost struct {
	open            bool
	ended           bool
	duration        float64
	reopenCalls     int
	tracksActive    int
	readyAboveMeta  bool
	loweredToMeta   int
	currentTimeUs   int64
	endOfStreamKind *mediaerr.Kind
	endOfStreamOK   error
}

func newFakeHost() *fakeHost {
	return &fakeHost{open: true}
}

func (h *fakeHost) IsOpen() bool  { return h.open }
func (h *fakeHost) IsEnded() bool { return h.ended }
func (h *fakeHost) Reopen() {
	h.reopenCalls++
	h.ended = false
	h.open = true
}
func (h *fakeHost) SetInitialDuration(seconds float64) {
	if h.duration == 0 {
		h.duration = seconds
	}
}
func (h *fakeHost) NotifyTracksActive()               { h.tracksActive++ }
func (h *fakeHost) ElementReadyStateAboveMetadata() bool { return h.readyAboveMeta }
func (h *fakeHost) LowerReadyStateToMetadata()        { h.loweredToMeta++; h.readyAboveMeta = false }
func (h *fakeHost) CurrentTimeUs() int64              { return h.currentTimeUs }
func (h *fakeHost) EndOfStream(kind *mediaerr.Kind) error {
	h.endOfStreamKind = kind
	return h.endOfStreamOK
}

// fakeParser is a scripted SegmentParser double: each Feed call returns the
// next entry of a preloaded queue of events, ignoring the bytes it's given.
type fakeParser struct {
	queue [][]mp4box.Event
	idx   int
}

func (p *fakeParser) Feed(data []byte) []mp4box.Event {
	if p.idx >= len(p.queue) {
		return nil
	}
	ev := p.queue[p.idx]
	p.idx++
	return ev
}

func videoConfig() *codec.Config {
	return &codec.Config{Kind: codec.ConfigAVC, AVC: &codec.AVCConfig{SPS: []byte{1}, PPS: []byte{2}, Width: 640, Height: 480}}
}

func audioConfig() *codec.Config {
	return &codec.Config{Kind: codec.ConfigAAC, AAC: &codec.AACConfig{AudioSpecificConfig: []byte{0x12, 0x10}, SampleRate: 48000, ChannelCount: 2}}
}

func initEvent(durationSec float64) mp4box.Event {
	return mp4box.Event{
		Kind: mp4box.InitSegment,
		Info: &mp4box.Info{
			DurationSec: durationSec,
			Tracks: []mp4box.TrackInfo{
				{ID: 1, Type: mp4box.TrackVideo, TimescaleHz: 1_000_000, Config: videoConfig()},
				{ID: 2, Type: mp4box.TrackAudio, TimescaleHz: 1_000_000, Config: audioConfig()},
			},
		},
	}
}

func videoSample(id int, ptsUs, durUs int64, sync bool) frame.Sample {
	return frame.Sample{TrackID: id, TimescaleHz: 1_000_000, DTSTicks: ptsUs, CTSTicks: ptsUs, DurationTicks: uint32(durUs), Data: []byte{0xAA}, IsSync: sync}
}

func TestSourceBuffer_AppendBuffer_InitSegmentActivatesTracks(t *testing.T) {
	host := newFakeHost()
	parser := &fakeParser{queue: [][]mp4box.Event{{initEvent(10)}}}
	sb := New(host, "video/mp4", parser, nil)

	var seen []events.Kind
	sb.Events().On(events.UpdateStart, func(e events.Event) { seen = append(seen, e.Kind) })
	sb.Events().On(events.Update, func(e events.Event) { seen = append(seen, e.Kind) })
	sb.Events().On(events.UpdateEnd, func(e events.Event) { seen = append(seen, e.Kind) })

	err := sb.AppendBuffer([]byte("ignored"))
	require.NoError(t, err)

	assert.Equal(t, []events.Kind{events.UpdateStart, events.Update, events.UpdateEnd}, seen)
	assert.Equal(t, 1, host.tracksActive)
	assert.InDelta(t, 10, host.duration, 1e-9)
	assert.False(t, sb.Updating())
}

func TestSourceBuffer_AppendBuffer_ReopensEndedParent(t *testing.T) {
	host := newFakeHost()
	host.ended = true
	host.open = false
	parser := &fakeParser{queue: [][]mp4box.Event{{initEvent(10)}}}
	sb := New(host, "video/mp4", parser, nil)

	require.NoError(t, sb.AppendBuffer(nil))
	assert.Equal(t, 1, host.reopenCalls)
}

func TestSourceBuffer_AppendBuffer_RejectsConcurrentUpdate(t *testing.T) {
	host := newFakeHost()
	parser := &fakeParser{queue: [][]mp4box.Event{{initEvent(10)}}}
	sb := New(host, "video/mp4", parser, nil)
	sb.updating.Store(true)

	err := sb.AppendBuffer(nil)
	assert.Error(t, err)
}

func TestSourceBuffer_AppendBuffer_MissingTracksIsInitError(t *testing.T) {
	host := newFakeHost()
	parser := &fakeParser{queue: [][]mp4box.Event{{{Kind: mp4box.InitSegment, Info: &mp4box.Info{DurationSec: 7}}}}}
	sb := New(host, "video/mp4", parser, nil)

	var errSeen bool
	sb.Events().On(events.Error, func(e events.Event) { errSeen = true })

	err := sb.AppendBuffer(nil)
	assert.Error(t, err)
	assert.True(t, errSeen)
	assert.False(t, sb.Updating())
	assert.InDelta(t, 7, host.duration, 1e-9, "duration is set before the no-tracks check runs")
}

func TestSourceBuffer_AppendBuffer_UnsupportedCodecIsInitError(t *testing.T) {
	host := newFakeHost()
	info := &mp4box.Info{DurationSec: 9, Tracks: []mp4box.TrackInfo{{ID: 1, Type: mp4box.TrackVideo, TimescaleHz: 1_000_000}}}
	parser := &fakeParser{queue: [][]mp4box.Event{{{Kind: mp4box.InitSegment, Info: info}}}}
	sb := New(host, "video/mp4", parser, nil)

	err := sb.AppendBuffer(nil)
	assert.Error(t, err)
	assert.InDelta(t, 9, host.duration, 1e-9, "duration is set before the unsupported-codec check runs")
}

func TestSourceBuffer_AppendBuffer_MediaSegmentAppendsToTrackBuffer(t *testing.T) {
	host := newFakeHost()
	// Both tracks get a sample: Buffered is the intersection across the
	// source buffer's track buffers.
	mediaEv := mp4box.Event{Kind: mp4box.MediaSegment, Samples: map[int][]frame.Sample{
		1: {videoSample(1, 0, 33_333, true)},
		2: {videoSample(2, 0, 33_333, true)},
	}}
	parser := &fakeParser{queue: [][]mp4box.Event{{initEvent(10)}, {mediaEv}}}
	sb := New(host, "video/mp4", parser, nil)

	require.NoError(t, sb.AppendBuffer(nil))
	require.NoError(t, sb.AppendBuffer(nil))

	buffered := sb.Buffered()
	require.Len(t, buffered, 1)
	assert.InDelta(t, 0, buffered[0].Start, 1e-9)
}

func TestSourceBuffer_AppendBuffer_ParseErrorFiresErrorEvent(t *testing.T) {
	host := newFakeHost()
	parser := &fakeParser{queue: [][]mp4box.Event{{{Kind: mp4box.ParseError, Err: assertErr{}}}}}
	sb := New(host, "video/mp4", parser, nil)

	var kinds []events.Kind
	sb.Events().On(events.Error, func(e events.Event) { kinds = append(kinds, e.Kind) })
	sb.Events().On(events.UpdateEnd, func(e events.Event) { kinds = append(kinds, e.Kind) })

	err := sb.AppendBuffer(nil)
	assert.Error(t, err)
	assert.Equal(t, []events.Kind{events.Error, events.UpdateEnd}, kinds)
	require.NotNil(t, host.endOfStreamKind)
	assert.Equal(t, mediaerr.DecodeError, *host.endOfStreamKind)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestSourceBuffer_Remove_RejectsInvalidRange(t *testing.T) {
	host := newFakeHost()
	sb := New(host, "video/mp4", &fakeParser{}, nil)

	err := sb.Remove(5, 5, 10)
	assert.Error(t, err)

	err = sb.Remove(-1, 5, 10)
	assert.Error(t, err)
}

func TestSourceBuffer_Remove_LowersReadyStateWhenCurrentTimeInRange(t *testing.T) {
	host := newFakeHost()
	host.readyAboveMeta = true
	host.currentTimeUs = 2_000_000

	sb := New(host, "video/mp4", &fakeParser{queue: [][]mp4box.Event{{initEvent(10)}}}, nil)
	require.NoError(t, sb.AppendBuffer(nil))

	require.NoError(t, sb.Remove(1, 3, 10))
	assert.Equal(t, 1, host.loweredToMeta)
}

func TestSourceBuffer_Abort_ClearsUpdatingAndFiresEvent(t *testing.T) {
	host := newFakeHost()
	sb := New(host, "video/mp4", &fakeParser{}, nil)
	sb.updating.Store(true)

	var fired bool
	sb.Events().On(events.Abort, func(e events.Event) { fired = true })

	sb.Abort()
	assert.False(t, sb.Updating())
	assert.True(t, fired)
}
