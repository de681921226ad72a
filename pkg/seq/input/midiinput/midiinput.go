// Package midiinput implements spec.md §4.6's MidiInput: the
// SequencerInput that turns backend-delivered MIDI messages into
// SequenceEvents. Grounded on the teacher's own pkg/midi event shapes
// generalized from a VST3-host-delivered stream to
// iface.MidiBackend's lock-free Drain contract.
package midiinput

import (
	"github.com/hydrogen-audio/hydrogen/pkg/seq/diag"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/iface"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/transport"
)

// SideChannelCapacity bounds the ring of non-note messages (CC,
// program change, ...) kept for inspection outside the RT path.
const SideChannelCapacity = 256

// Input is spec.md §4.6's MidiInput.
type Input struct {
	backend iface.MidiBackend
	buf     []iface.MidiMessage

	// noteMap is the sparse 128-entry note-number -> instrument map
	// (spec.md §4.6); a nil entry means unmapped.
	noteMap [128]*note.Instrument

	// sideChannel holds the most recent non-note-triggering messages
	// (CC, program change, ...) for a non-RT consumer to drain; it is
	// a fixed ring so storing into it never allocates.
	sideChannel    [SideChannelCapacity]iface.MidiMessage
	sideChannelPos int
	sideChannelLen int

	velocity [128]float64 // default per-note velocity scaling; 1.0 unless configured

	// Counters, when set, receives a CapacityExceeded bump for every
	// event the queue rejected (spec.md §7). Set at wiring time only.
	Counters *diag.Counters
}

// New builds a MidiInput reading from backend.
func New(backend iface.MidiBackend) *Input {
	in := &Input{backend: backend, buf: make([]iface.MidiMessage, 256)}
	for i := range in.velocity {
		in.velocity[i] = 1
	}
	return in
}

// Map assigns instrument to MIDI note number noteNumber (0-127).
// Call only from non-RT code between cycles.
func (in *Input) Map(noteNumber uint8, instrument *note.Instrument) {
	if int(noteNumber) < len(in.noteMap) {
		in.noteMap[noteNumber] = instrument
	}
}

// Process implements the SequencerInput capability: it drains
// whatever the backend delivered this cycle and turns Note On/Off
// into SequenceEvents, routing everything else to the side channel.
func (in *Input) Process(q *event.Queue, pos transport.Position, nframes uint32) {
	for {
		n := in.backend.Drain(in.buf)
		if n == 0 {
			return
		}
		for i := 0; i < n; i++ {
			in.handle(q, in.buf[i], nframes)
		}
		if n < len(in.buf) {
			return
		}
	}
}

func (in *Input) handle(q *event.Queue, msg iface.MidiMessage, nframes uint32) {
	switch msg.Kind {
	case iface.MidiNoteOn, iface.MidiNoteOff:
		in.handleNote(q, msg, nframes)
	default:
		in.pushSideChannel(msg)
	}
}

func (in *Input) handleNote(q *event.Queue, msg iface.MidiMessage, nframes uint32) {
	if int(msg.Data1) >= len(in.noteMap) {
		return
	}
	inst := in.noteMap[msg.Data1]
	if inst == nil {
		return
	}

	frame := msg.Frame
	if frame < 0 {
		frame = 0
	}
	if uint32(frame) >= nframes {
		frame = int32(nframes) - 1
	}

	velocity := float64(msg.Data2) / 127 * in.velocity[msg.Data1]
	isOff := msg.Kind == iface.MidiNoteOff || velocity <= 0

	n := note.Note{Velocity: velocity, PanL: 0.5, PanR: 0.5, Instrument: inst, Length: -1}

	kind := event.NoteOn
	if isOff {
		kind = event.NoteOff
	}
	inst.Enqueue()
	ev := event.SequenceEvent{Frame: uint32(frame), Kind: kind, InstrumentIndex: uint32(inst.ID), Note: n}
	if err := q.Insert(ev); err != nil {
		inst.Dequeue()
		if in.Counters != nil {
			in.Counters.CapacityExceeded.Add(1)
		}
	}
}

// pushSideChannel stores msg in the fixed-size ring, overwriting the
// oldest entry once full; it never allocates.
func (in *Input) pushSideChannel(msg iface.MidiMessage) {
	in.sideChannel[in.sideChannelPos] = msg
	in.sideChannelPos = (in.sideChannelPos + 1) % SideChannelCapacity
	if in.sideChannelLen < SideChannelCapacity {
		in.sideChannelLen++
	}
}

// DrainSideChannel copies up to len(dst) pending non-note messages
// into dst (oldest first) and clears them. Intended for a non-RT
// consumer (MIDI-learn UI, diagnostics); never called from Process.
func (in *Input) DrainSideChannel(dst []iface.MidiMessage) int {
	n := in.sideChannelLen
	if n > len(dst) {
		n = len(dst)
	}
	start := (in.sideChannelPos - in.sideChannelLen + SideChannelCapacity) % SideChannelCapacity
	for i := 0; i < n; i++ {
		dst[i] = in.sideChannel[(start+i)%SideChannelCapacity]
	}
	in.sideChannelLen -= n
	return n
}
