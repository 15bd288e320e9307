// Package mp4box is the glue between the raw byte stream an application
// feeds a source buffer and the coded frames a track buffer stores. It
// pumps a growable input buffer for complete ISO-BMFF boxes, dispatches
// ftyp/moov/moof/mdat, and hands the rest of the parsing work to
// mediacommon's fragmented-MP4 codec.
package mp4box

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/go-mse/mse5/internal/codec"
	"github.com/go-mse/mse5/internal/frame"
	"github.com/go-mse/mse5/internal/mediaerr"
)

// EventKind identifies the kind of thing a parse pass produced.
type EventKind int

const (
	// InitSegment fires once the ftyp+moov pair has been fully parsed.
	InitSegment EventKind = iota
	// MediaSegment fires once a moof+mdat pair has produced samples.
	MediaSegment
	// ParseError fires when the byte stream violates the fMP4 format.
	ParseError
)

// TrackType distinguishes an audio track from a video track.
type TrackType int

const (
	// TrackVideo identifies a video track.
	TrackVideo TrackType = iota
	// TrackAudio identifies an audio track.
	TrackAudio
)

// TrackInfo describes one track found in an initialization segment.
type TrackInfo struct {
	ID          int
	Type        TrackType
	TimescaleHz uint32
	// Config is nil if the track's codec is not one this engine decodes;
	// the caller (source buffer) treats that as init-error.
	Config *codec.Config
}

// Info is the initialization-segment summary the segment parser hands to
// the source buffer's initialization-segment-received algorithm.
type Info struct {
	DurationSec float64
	Tracks      []TrackInfo
}

// AudioTracks returns the audio-typed subset of Tracks.
func (i *Info) AudioTracks() []TrackInfo {
	return i.filterTracks(TrackAudio)
}

// VideoTracks returns the video-typed subset of Tracks.
func (i *Info) VideoTracks() []TrackInfo {
	return i.filterTracks(TrackVideo)
}

func (i *Info) filterTracks(t TrackType) []TrackInfo {
	var out []TrackInfo
	for _, tr := range i.Tracks {
		if tr.Type == t {
			out = append(out, tr)
		}
	}
	return out
}

// TrackByID returns the track with the given ID, if any.
func (i *Info) TrackByID(id int) (TrackInfo, bool) {
	for _, tr := range i.Tracks {
		if tr.ID == id {
			return tr, true
		}
	}
	return TrackInfo{}, false
}

// Event is one unit of parser output. Exactly one of Info, Samples, Err is
// populated, selected by Kind.
type Event struct {
	Kind    EventKind
	Info    *Info
	Samples map[int][]frame.Sample
	Err     error
}

// Parser incrementally pumps a byte stream for ISO-BMFF boxes and emits
// Events as complete initialization or media segments are recognized.
type Parser struct {
	logger *slog.Logger

	buf bytes.Buffer

	initSeen  bool
	trackInfo *Info
	timescale map[int]uint32
}

// New creates a Parser. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		logger:    logger,
		timescale: make(map[int]uint32),
	}
}

// Feed appends data to the parser's input buffer and pumps as many
// complete boxes as are available, returning the events they produced.
// Unconsumed bytes remain buffered for the next Feed call.
func (p *Parser) Feed(data []byte) []Event {
	p.buf.Write(data)

	var events []Event
	for {
		ev, consumed := p.pumpOne()
		if !consumed {
			break
		}
		if ev != nil {
			events = append(events, *ev)
		}
		if ev != nil && ev.Kind == ParseError {
			p.buf.Reset()
			break
		}
	}
	return events
}

// pumpOne attempts to consume exactly one box from the buffer. consumed is
// false when the buffer holds less than a complete box (NeedMoreData).
func (p *Parser) pumpOne() (ev *Event, consumed bool) {
	if p.buf.Len() < 8 {
		return nil, false
	}

	header := p.buf.Bytes()[:8]
	boxSize := uint64(binary.BigEndian.Uint32(header[0:4]))
	boxType := string(header[4:8])
	headerLen := 8

	if boxSize == 1 {
		if p.buf.Len() < 16 {
			return nil, false
		}
		boxSize = binary.BigEndian.Uint64(p.buf.Bytes()[8:16])
		headerLen = 16
	}
	if boxSize < uint64(headerLen) {
		return &Event{Kind: ParseError, Err: mediaerr.New(mediaerr.ParseError,
			fmt.Sprintf("mp4box: invalid box size %d for type %q", boxSize, boxType))}, true
	}

	switch boxType {
	case "ftyp":
		if uint64(p.buf.Len()) < boxSize {
			return nil, false
		}
		p.buf.Next(int(boxSize))
		return nil, true

	case "moov":
		if uint64(p.buf.Len()) < boxSize {
			return nil, false
		}
		boxData := make([]byte, boxSize)
		_, _ = p.buf.Read(boxData)
		return p.handleMoov(boxData), true

	case "moof":
		return p.pumpFragment(boxSize)

	case "mdat":
		if uint64(p.buf.Len()) < boxSize {
			return nil, false
		}
		p.logger.Warn("mp4box: mdat without preceding moof, dropping")
		p.buf.Next(int(boxSize))
		return nil, true

	default:
		if uint64(p.buf.Len()) < boxSize {
			return nil, false
		}
		p.buf.Next(int(boxSize))
		return nil, true
	}
}

// pumpFragment waits for the moof at the head of the buffer to be followed
// by its paired mdat, then parses the combined fragment.
func (p *Parser) pumpFragment(moofSize uint64) (ev *Event, consumed bool) {
	if uint64(p.buf.Len()) < moofSize+8 {
		return nil, false
	}

	bufData := p.buf.Bytes()
	mdatHeader := bufData[moofSize : moofSize+8]
	mdatSize := uint64(binary.BigEndian.Uint32(mdatHeader[0:4]))
	mdatType := string(mdatHeader[4:8])

	if mdatType != "mdat" {
		p.logger.Warn("mp4box: moof not followed by mdat, skipping moof")
		p.buf.Next(int(moofSize))
		return nil, true
	}

	total := moofSize + mdatSize
	if uint64(p.buf.Len()) < total {
		return nil, false
	}

	fragment := make([]byte, total)
	_, _ = p.buf.Read(fragment)
	return p.handleFragment(fragment), true
}

func (p *Parser) handleMoov(moovData []byte) *Event {
	init := &fmp4.Init{}
	if err := init.Unmarshal(bytes.NewReader(moovData)); err != nil {
		return &Event{Kind: ParseError, Err: mediaerr.Wrap(mediaerr.ParseError, "mp4box: invalid moov", err)}
	}

	info := &Info{}
	p.timescale = make(map[int]uint32)

	for _, track := range init.Tracks {
		p.timescale[track.ID] = track.TimeScale

		switch c := track.Codec.(type) {
		case *mp4.CodecH264:
			avc, err := codec.NewAVCConfig(c.SPS, c.PPS)
			if err != nil {
				p.logger.Warn("mp4box: invalid AVC parameter sets", slog.String("error", err.Error()))
				info.Tracks = append(info.Tracks, TrackInfo{ID: track.ID, Type: TrackVideo, TimescaleHz: track.TimeScale})
				continue
			}
			info.Tracks = append(info.Tracks, TrackInfo{
				ID:          track.ID,
				Type:        TrackVideo,
				TimescaleHz: track.TimeScale,
				Config:      &codec.Config{Kind: codec.ConfigAVC, AVC: avc},
			})

		case *mp4.CodecMPEG4Audio:
			asc, err := c.Config.Marshal()
			if err != nil {
				p.logger.Warn("mp4box: invalid AAC AudioSpecificConfig", slog.String("error", err.Error()))
				info.Tracks = append(info.Tracks, TrackInfo{ID: track.ID, Type: TrackAudio, TimescaleHz: track.TimeScale})
				continue
			}
			info.Tracks = append(info.Tracks, TrackInfo{
				ID:          track.ID,
				Type:        TrackAudio,
				TimescaleHz: track.TimeScale,
				Config: &codec.Config{Kind: codec.ConfigAAC, AAC: &codec.AACConfig{
					AudioSpecificConfig: asc,
					SampleRate:          c.Config.SampleRate,
					ChannelCount:        c.Config.ChannelCount,
				}},
			})

		default:
			// Unrecognized track codec: recorded with no Config so the
			// source buffer's initialization-segment-received algorithm can
			// treat it as unsupported, but still classified as audio/video
			// so track counts are accurate.
			info.Tracks = append(info.Tracks, TrackInfo{
				ID:          track.ID,
				Type:        classifyUnsupported(track.Codec),
				TimescaleHz: track.TimeScale,
			})
		}
	}

	p.initSeen = true
	p.trackInfo = info
	return &Event{Kind: InitSegment, Info: info}
}

func (p *Parser) handleFragment(data []byte) *Event {
	if !p.initSeen {
		return &Event{Kind: ParseError, Err: mediaerr.New(mediaerr.ParseError, "mp4box: media segment before initialization segment")}
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(data); err != nil {
		return &Event{Kind: ParseError, Err: mediaerr.Wrap(mediaerr.ParseError, "mp4box: invalid moof/mdat", err)}
	}

	samples := make(map[int][]frame.Sample)
	for _, part := range parts {
		for _, track := range part.Tracks {
			timescale := p.timescale[track.ID]
			if timescale == 0 {
				timescale = 90000
			}

			dts := int64(track.BaseTime)
			for _, s := range track.Samples {
				isSync := !s.IsNonSyncSample
				samples[track.ID] = append(samples[track.ID], frame.Sample{
					TrackID:       track.ID,
					TimescaleHz:   timescale,
					DTSTicks:      dts,
					CTSTicks:      dts + int64(s.PTSOffset),
					DurationTicks: s.Duration,
					Data:          s.Payload,
					IsSync:        isSync,
				})
				dts += int64(s.Duration)
			}
		}
	}

	return &Event{Kind: MediaSegment, Samples: samples}
}

// classifyUnsupported guesses audio-vs-video for a codec this engine does
// not decode, so initialization-segment-received can still validate track
// counts per type.
func classifyUnsupported(c mp4.Codec) TrackType {
	switch c.(type) {
	case *mp4.CodecOpus, *mp4.CodecAC3, *mp4.CodecMPEG1Audio:
		return TrackAudio
	default:
		return TrackVideo
	}
}
