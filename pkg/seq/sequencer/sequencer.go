// Package sequencer implements spec.md §4.4's orchestrator: the single
// RT entry point that ties Transport, the EventQueue, every registered
// input, the Sampler, and every registered output together in one
// fixed per-cycle order. Everything outside Process is the non-RT
// control surface from spec.md §6.
package sequencer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/diag"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/iface"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/input/guiinput"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/rtcheck"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/sampler"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/transport"
)

// Input is the SequencerInput capability (spec.md §4.4 step 2): it may
// insert events into q, but must not read q or observe other inputs'
// events from the same cycle.
type Input interface {
	Process(q *event.Queue, pos transport.Position, nframes uint32)
}

// Output is the SequencerOutput capability (spec.md §4.4 step 3):
// read-only consumers of this cycle's committed events (a MIDI-out
// passthrough, a recording tap). The Sampler is the one mandatory
// output and is driven directly by Process rather than through this
// interface, since it alone needs the per-cycle audio buffers.
type Output interface {
	Process(events []event.SequenceEvent, pos transport.Position, nframes uint32)
}

// ErrConfig is returned by control-surface calls rejected at the API
// boundary before they could reach the RT thread (spec.md §7's
// ConfigError: non-positive BPM, locate past song end).
var ErrConfig = errors.New("sequencer: invalid control request")

// Sequencer owns the running core: one EventQueue, one Transport, one
// Sampler, and the input/output lists Process walks each cycle. A
// single RT thread calls Process; every other method here is the
// non-RT control surface and may be called from any goroutine
// (spec.md §5).
type Sequencer struct {
	queue     *event.Queue
	transport *transport.Transport
	sampler   *sampler.Sampler
	counters  *diag.Counters

	// preview is a built-in GuiInput the control surface's preview/
	// panic calls funnel through, so they cross into the RT thread by
	// the same lock-free path a UI's piano-roll editor would use
	// (spec.md §6: note_on_preview/note_off_preview/panic).
	preview *guiinput.Input

	regMu   sync.Mutex
	inputs  atomic.Pointer[[]Input]
	outputs atomic.Pointer[[]Output]

	songMu sync.Mutex
	song   iface.SongModel
}

// New builds a Sequencer around an already-constructed queue,
// transport, and sampler (wired together by the host per spec.md §6).
// The built-in preview GuiInput is registered automatically as the
// first input.
func New(queue *event.Queue, t *transport.Transport, s *sampler.Sampler, counters *diag.Counters) *Sequencer {
	seq := &Sequencer{
		queue:     queue,
		transport: t,
		sampler:   s,
		counters:  counters,
		preview:   guiinput.New(64),
	}
	seq.preview.Counters = counters
	s.SetCounters(counters)
	inputs := []Input{seq.preview}
	outputs := []Output{}
	seq.inputs.Store(&inputs)
	seq.outputs.Store(&outputs)
	return seq
}

// Process is the single RT entry point (spec.md §4.4), called once
// per audio cycle from the AudioBackend's callback. Its signature
// matches iface.ProcessFunc so it can be installed directly as the
// backend's callback.
func (s *Sequencer) Process(nframes uint32, outL, outR []float32, trackL, trackR, fxL, fxR [][]float32) {
	// No-ops unless built with -tags debug; when built that way, they
	// panic on a nil/unallocated output buffer and count any heap
	// allocation that happens between StartCycle and EndCycle.
	rtcheck.CheckBuffer(outL, "outL")
	rtcheck.CheckBuffer(outR, "outR")
	rtcheck.StartCycle()
	defer func() {
		if allocs, _ := rtcheck.EndCycle(); allocs > 0 {
			s.counters.Allocations.Add(allocs)
		}
	}()

	pos := s.transport.Position()

	for _, in := range *s.inputs.Load() {
		in.Process(s.queue, pos, nframes)
	}

	// Sampler.Render accumulates into every buffer it's handed (so
	// multiple voices and FX sends can sum into the same track), so
	// the buffers it's lent must start each cycle at silence.
	zero(outL)
	zero(outR)
	for _, b := range trackL {
		zero(b)
	}
	for _, b := range trackR {
		zero(b)
	}
	for _, b := range fxL {
		zero(b)
	}
	for _, b := range fxR {
		zero(b)
	}

	events := s.queue.Events(nframes)
	s.sampler.Render(events, nframes, outL, outR, trackL, trackR, fxL, fxR)

	for _, out := range *s.outputs.Load() {
		out.Process(events, pos, nframes)
	}

	s.queue.Consume(nframes)
	s.transport.Advance(nframes)
}

// AddInput registers in, effective at the start of the next cycle.
// in runs after every input already registered (spec.md §4.4's
// ordering guarantee).
func (s *Sequencer) AddInput(in Input) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	cur := *s.inputs.Load()
	next := append(append([]Input{}, cur...), in)
	s.inputs.Store(&next)
}

// RemoveInput unregisters in, effective at the start of the next
// cycle. A no-op if in was never registered.
func (s *Sequencer) RemoveInput(in Input) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	cur := *s.inputs.Load()
	next := make([]Input, 0, len(cur))
	for _, x := range cur {
		if x != in {
			next = append(next, x)
		}
	}
	s.inputs.Store(&next)
}

// AddOutput registers out, effective at the start of the next cycle.
func (s *Sequencer) AddOutput(out Output) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	cur := *s.outputs.Load()
	next := append(append([]Output{}, cur...), out)
	s.outputs.Store(&next)
}

// RemoveOutput unregisters out, effective at the start of the next
// cycle.
func (s *Sequencer) RemoveOutput(out Output) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	cur := *s.outputs.Load()
	next := make([]Output, 0, len(cur))
	for _, x := range cur {
		if x != out {
			next = append(next, x)
		}
	}
	s.outputs.Store(&next)
}

// Start begins playback from the current position.
func (s *Sequencer) Start() { s.transport.Start() }

// Stop halts playback in place.
func (s *Sequencer) Stop() { s.transport.Stop() }

// SetBpm changes the tempo. Returns ErrConfig for bpm <= 0 without
// touching the transport (spec.md §7's ConfigError).
func (s *Sequencer) SetBpm(bpm float64) error {
	if bpm <= 0 {
		return ErrConfig
	}
	s.transport.SetTempo(bpm)
	return nil
}

// SetSong publishes a new SongModel to the transport (and to Locate's
// bounds check below). A nil song clears it.
func (s *Sequencer) SetSong(song iface.SongModel) {
	s.songMu.Lock()
	s.song = song
	s.songMu.Unlock()
	s.transport.SetSong(song)
}

// Locate relocates to an explicit bar:beat:tick. Returns ErrConfig if
// a song is set and bar falls past its last bar (spec.md §7's
// "invalid locate past song end without loop"; this core has no loop
// concept, so any bar beyond bar_count is simply rejected).
func (s *Sequencer) Locate(bar, beat, tick uint32) error {
	s.songMu.Lock()
	song := s.song
	s.songMu.Unlock()
	if song != nil && song.BarCount() > 0 && bar > song.BarCount() {
		return ErrConfig
	}
	s.transport.Locate(bar, beat, tick)
	return nil
}

// LocateFrame relocates to an absolute frame position, the second form
// of spec.md §6's locate control. Rejected if a song is set and the
// frame lands past its last tick.
func (s *Sequencer) LocateFrame(frame uint64) error {
	s.songMu.Lock()
	song := s.song
	s.songMu.Unlock()
	if song != nil && song.TickCount() > 0 {
		fpt := s.transport.Position().FramesPerTick()
		if fpt > 0 && float64(frame) >= float64(song.TickCount())*fpt {
			return ErrConfig
		}
	}
	s.transport.LocateFrame(frame)
	return nil
}

// NoteOnPreview enqueues an immediate, unquantized NoteOn for inst at
// velocity, for auditioning from a UI (spec.md §6).
func (s *Sequencer) NoteOnPreview(inst *note.Instrument, velocity float64) {
	s.preview.Push(guiinput.GuiEvent{
		Kind: event.NoteOn,
		Note: note.Note{Velocity: velocity, PanL: 0.5, PanR: 0.5, Instrument: inst, Length: -1},
	})
}

// NoteOffPreview enqueues an immediate NoteOff for inst.
func (s *Sequencer) NoteOffPreview(inst *note.Instrument) {
	s.preview.Push(guiinput.GuiEvent{
		Kind: event.NoteOff,
		Note: note.Note{PanL: 0.5, PanR: 0.5, Instrument: inst},
	})
}

// Panic enqueues one AllOff at frame 0 for the next cycle (spec.md
// §6).
func (s *Sequencer) Panic() {
	s.preview.Push(guiinput.GuiEvent{Kind: event.AllOff})
}

// Counters exposes the shared RT error-counter block (spec.md §7), so
// a host can wire it into diag.RunDrain or its own telemetry.
func (s *Sequencer) Counters() *diag.Counters { return s.counters }

func zero(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}
