// Package demokit is a reference iface.SongModel/sample-loader pair
// for cmd/hydrogend: just enough song structure and WAV decoding to
// give the sequencer core something real to play. Song/drumkit XML
// parsing and any non-WAV sample format are explicitly out of scope
// (spec.md §1's persistence Non-goal); this package exists only to
// demo the core, not to be a drumkit file format.
package demokit

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/iface"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
)

// LoadSample decodes a WAV file at path into a note.Sample, converting
// to planar float32 (one []float32 per channel) at the file's own
// sample rate; pkg/seq/voice resamples to the engine rate per-voice.
func LoadSample(path string) (*note.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("demokit: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("demokit: %s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("demokit: decode %s: %w", path, err)
	}
	return toPlanar(buf), nil
}

// toPlanar normalizes an integer PCM buffer into planar float32 by the
// source bit depth. The library's float helpers normalize by the
// buffer's storage width rather than the file's, which plays 8- and
// 24-bit drum hits back at the wrong level.
func toPlanar(buf *audio.IntBuffer) *note.Sample {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	frames := len(buf.Data) / channels

	planar := make([][]float32, channels)
	for ch := range planar {
		planar[ch] = make([]float32, frames)
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	maxAbs := float32(int(1) << (bitDepth - 1))
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			planar[ch][i] = float32(buf.Data[i*channels+ch]) / maxAbs
		}
	}

	return &note.Sample{Data: planar, SampleRate: float64(buf.Format.SampleRate)}
}

// SynthClick synthesizes a short decaying sine burst at freqHz, so
// cmd/hydrogend has a metronome sound even when --kit-dir is empty and
// no WAV asset is available on hand: the one instrument the reference
// host always needs regardless of what drumkit, if any, the user
// points it at.
func SynthClick(sampleRate, freqHz float64, durationSeconds float64) *note.Sample {
	phaseStep := 2 * math.Pi * freqHz / sampleRate

	frames := int(durationSeconds * sampleRate)
	if frames < 1 {
		frames = 1
	}
	data := make([]float32, frames)
	decayPerFrame := math.Exp(math.Log(0.001) / float64(frames))
	envelope := 1.0
	phase := 0.0
	for i := range data {
		data[i] = float32(math.Sin(phase) * envelope)
		phase += phaseStep
		if phase > 2*math.Pi {
			phase -= 2 * math.Pi
		}
		envelope *= decayPerFrame
	}
	return &note.Sample{Data: [][]float32{data}, SampleRate: sampleRate}
}

// Pan converts a conventional -1 (hard left) .. 1 (hard right) pan
// control into the 0..0.5-ranged PanL/PanR pair note.Note carries
// (spec.md §3: "pan_l ∈ [0,0.5], pan_r ∈ [0,0.5]"), using an
// equal-power law so a centered note holds a constant perceived
// loudness as it's swept; pkg/seq/sampler's gain chain doubles the
// halved output back out.
func Pan(p float64) (panL, panR float64) {
	angle := (p + 1) * math.Pi / 4 // p in [-1,1] -> angle in [0, pi/2]
	return math.Cos(angle) * 0.5, math.Sin(angle) * 0.5
}

// Pattern is a fixed in-memory iface.Pattern keyed by tick.
type Pattern struct {
	Name  string
	notes map[uint32][]note.Note
}

// NewPattern builds an empty named Pattern.
func NewPattern(name string) *Pattern {
	return &Pattern{Name: name, notes: make(map[uint32][]note.Note)}
}

// AddNote schedules n to start at tick.
func (p *Pattern) AddNote(tick uint32, n note.Note) {
	p.notes[tick] = append(p.notes[tick], n)
}

// NotesAt implements iface.Pattern.
func (p *Pattern) NotesAt(tick uint32) []note.Note {
	return p.notes[tick]
}

// Song is a minimal in-memory iface.SongModel: a fixed number of bars,
// each bar mapped to a pattern group (a slice of concurrently-active
// Patterns), with a uniform meter throughout.
type Song struct {
	TicksPerBeatValue uint32
	BeatsPerBarValue  uint32

	groups      []group
	instruments []*note.Instrument
}

type group struct {
	bar      uint32 // first bar this group covers
	patterns []*Pattern
}

// NewSong builds an empty Song at the given meter.
func NewSong(ticksPerBeat, beatsPerBar uint32, instruments []*note.Instrument) *Song {
	return &Song{TicksPerBeatValue: ticksPerBeat, BeatsPerBarValue: beatsPerBar, instruments: instruments}
}

// SetPatternGroup assigns the patterns active starting at bar (and
// continuing until the next assigned bar, or song end).
func (s *Song) SetPatternGroup(bar uint32, patterns ...*Pattern) {
	s.groups = append(s.groups, group{bar: bar, patterns: patterns})
	sort.Slice(s.groups, func(i, j int) bool { return s.groups[i].bar < s.groups[j].bar })
}

// BarCount implements iface.SongModel: the last bar any pattern group
// was assigned to, or 1 if none were.
func (s *Song) BarCount() uint32 {
	if len(s.groups) == 0 {
		return 1
	}
	return s.groups[len(s.groups)-1].bar
}

// TickCount implements iface.SongModel.
func (s *Song) TickCount() uint64 {
	return uint64(s.BarCount()) * uint64(s.BeatsPerBarValue) * uint64(s.TicksPerBeatValue)
}

// PatternGroupIndexForBar implements iface.SongModel.
func (s *Song) PatternGroupIndexForBar(bar uint32) int {
	idx := -1
	for i, g := range s.groups {
		if g.bar > bar {
			break
		}
		idx = i
	}
	return idx
}

// BarStartTick implements iface.SongModel: every bar has the same
// length in this fixed-meter reference model.
func (s *Song) BarStartTick(bar uint32) uint64 {
	if bar < 1 {
		bar = 1
	}
	return uint64(bar-1) * uint64(s.BeatsPerBarValue) * uint64(s.TicksPerBeatValue)
}

// TicksInBar implements iface.SongModel.
func (s *Song) TicksInBar(bar uint32) uint32 {
	return s.BeatsPerBarValue * s.TicksPerBeatValue
}

// ActivePatterns implements iface.SongModel.
func (s *Song) ActivePatterns(bar uint32) []iface.Pattern {
	idx := s.PatternGroupIndexForBar(bar)
	if idx < 0 {
		return nil
	}
	out := make([]iface.Pattern, len(s.groups[idx].patterns))
	for i, p := range s.groups[idx].patterns {
		out[i] = p
	}
	return out
}

// Instrument implements iface.SongModel.
func (s *Song) Instrument(index int) *note.Instrument {
	if index < 0 || index >= len(s.instruments) {
		return nil
	}
	return s.instruments[index]
}

// InstrumentCount implements iface.SongModel.
func (s *Song) InstrumentCount() int {
	return len(s.instruments)
}
