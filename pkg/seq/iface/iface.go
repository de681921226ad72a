// Package iface holds the external-collaborator interfaces named in
// spec.md §6: the core consumes these abstractly and never imports a
// concrete backend, song-file parser, or sample decoder. Concrete
// adapters live outside pkg/seq (pkg/seq/audiobridge, pkg/seq/midibridge,
// internal/demokit) exactly as spec.md §1 requires.
package iface

import "github.com/hydrogen-audio/hydrogen/pkg/seq/note"

// ProcessFunc is the audio-thread callback an AudioBackend invokes
// once per cycle. outL/outR are the main mix buffers, each nframes
// long; trackL/trackR are optional per-instrument track outputs
// (index == instrument index), nil when track outputs are disabled.
// fxL/fxR are optional per-send effect bus outputs (index == FX send
// slot, 0..note.MaxFX-1), nil when FX sends are disabled; this is the
// supplemented per-instrument FX-send feature (see SPEC_FULL.md).
type ProcessFunc func(nframes uint32, outL, outR []float32, trackL, trackR [][]float32, fxL, fxR [][]float32)

// AudioBackend is the abstract audio I/O driver the core runs inside.
// Concrete implementations (JACK, ALSA, PortAudio, ...) are out of
// the core's scope (spec.md §1); pkg/seq/audiobridge wires one
// concrete example behind this interface.
type AudioBackend interface {
	SampleRate() uint32
	BufferSize() uint32
	// Run installs process as the per-cycle callback and blocks
	// until the backend is stopped or ctx-equivalent cancellation
	// occurs; it is invoked from the host, not from pkg/seq itself.
	Run(process ProcessFunc) error
	Stop() error
}

// MidiKind enumerates the subset of MIDI message types the core
// cares about; everything else is routed to a side channel per
// spec.md §4.6.
type MidiKind uint8

const (
	MidiNoteOn MidiKind = iota
	MidiNoteOff
	MidiControlChange
	MidiProgramChange
	MidiOther
)

// MidiMessage is one backend-delivered MIDI event. Frame is the
// cycle-relative sample offset the backend timestamped it with, or
// -1 to mean "now" (spec.md §4.6 treats that as frame 0).
type MidiMessage struct {
	Kind    MidiKind
	Channel uint8
	Data1   uint8
	Data2   uint8
	Sysex   []byte
	Frame   int32
}

// MidiBackend is the abstract MIDI input driver. Drain copies up to
// len(buf) pending messages into buf and returns how many were
// copied; it must never block and never allocate, matching the
// lock-free ingress queue described in spec.md §5.
type MidiBackend interface {
	Drain(buf []MidiMessage) int
}

// Pattern is one ordered collection of notes-by-tick within a song.
type Pattern interface {
	// NotesAt returns the notes (if any) that start at tick. The
	// returned slice must not be retained past the current call.
	NotesAt(tick uint32) []note.Note
}

// SongModel is the external, read-mostly description of the song
// being played: bar/tick layout and the active patterns for a given
// bar. Persistence and XML parsing are out of the core's scope
// (spec.md §1); this interface is all pkg/seq/input/song ever touches.
type SongModel interface {
	BarCount() uint32
	TickCount() uint64
	PatternGroupIndexForBar(bar uint32) int
	BarStartTick(bar uint32) uint64
	TicksInBar(bar uint32) uint32
	ActivePatterns(bar uint32) []Pattern
	Instrument(index int) *note.Instrument
	InstrumentCount() int
}
