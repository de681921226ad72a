// Package song implements spec.md §4.5's SongInput: the
// SequencerInput that turns a SongModel's pattern data into
// SequenceEvents for whichever ticks fall inside the current audio
// cycle. It is the one input with a real scheduling algorithm; the
// humanize/swing/velocity/lead-lag math below is grounded line-for-line
// on spec.md §4.5 and cross-checked against
// `_examples/original_source/libs/hydrogen/src/core/Basics/Pattern.h`'s
// wording for swing and humanize.
package song

import (
	"math"
	"sync/atomic"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/diag"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/iface"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/rng"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/transport"
)

// Mode selects whether Input reads the song's pattern groups bar by
// bar, or always plays a single UI-selected pattern (spec.md §4.5).
type Mode int

const (
	SongMode Mode = iota
	PatternMode
)

type patternBox struct {
	p iface.Pattern
}

// Input is spec.md §4.5's SongInput.
type Input struct {
	song iface.SongModel
	prng *rng.Xorshift64

	mode          atomic.Int32
	activePattern atomic.Pointer[patternBox]

	HumanizeTimeValue float64 // 0..1, scales the humanize time jitter
	HumanizeVelocity  float64 // 0..1, scales velocity jitter
	SwingFactor       float64 // 0..1
	MaxHumanizeFrames float64
	LeadLagFrames     float64 // frame span one full lead_lag unit maps to

	MetronomeEnabled    bool
	MetronomeInstrument *note.Instrument

	// Counters, when set, receives a CapacityExceeded bump for every
	// event the queue rejected (spec.md §7). Set at wiring time only.
	Counters *diag.Counters
}

// New builds a SongInput reading from song, starting in SongMode.
func New(song iface.SongModel, seed uint64) *Input {
	in := &Input{song: song, prng: rng.New(seed), MaxHumanizeFrames: 2000, LeadLagFrames: 5000}
	in.mode.Store(int32(SongMode))
	return in
}

// SetMode switches between song-structure playback and single-pattern
// preview playback. Safe to call from any goroutine.
func (in *Input) SetMode(m Mode) {
	in.mode.Store(int32(m))
}

// SetActivePattern publishes the pattern PatternMode should play. Safe
// to call from any goroutine; the RT thread picks it up next cycle
// (spec.md §4.5, "read via an atomic pointer").
func (in *Input) SetActivePattern(p iface.Pattern) {
	in.activePattern.Store(&patternBox{p: p})
}

// activePatterns resolves which patterns are live for bar, per the
// current mode.
func (in *Input) activePatterns(bar uint32) []iface.Pattern {
	if Mode(in.mode.Load()) == PatternMode {
		if box := in.activePattern.Load(); box != nil && box.p != nil {
			return []iface.Pattern{box.p}
		}
		return nil
	}
	return in.song.ActivePatterns(bar)
}

// Process implements the SequencerInput capability: it walks every
// tick boundary inside [pos.Frame, pos.Frame+nframes) and emits the
// notes scheduled there.
func (in *Input) Process(q *event.Queue, pos transport.Position, nframes uint32) {
	if pos.State != transport.Rolling {
		return
	}
	fpt := pos.FramesPerTick()
	if fpt <= 0 {
		return
	}
	step := int64(math.Round(fpt))
	if step < 1 {
		step = 1
	}

	walker := pos
	var frameOffset int64
	if pos.BBTOffset != 0 {
		frameOffset = step - int64(pos.BBTOffset)
		walker = in.advanceTick(walker)
	}

	for frameOffset < int64(nframes) {
		if frameOffset >= 0 {
			in.emitTick(q, walker, uint32(frameOffset), nframes)
		}
		frameOffset += step
		walker = in.advanceTick(walker)
	}
}

// advanceTick moves walker forward one tick, consulting the song
// model for a meter change at the new bar the way Transport.Advance
// does (spec.md §4.3).
func (in *Input) advanceTick(p transport.Position) transport.Position {
	next := p.Inc()
	if in.song != nil && next.Beat == 1 && next.Tick == 0 {
		if ticksInBar := in.song.TicksInBar(next.Bar); next.TicksPerBeat > 0 && ticksInBar > 0 {
			next.BeatsPerBar = ticksInBar / next.TicksPerBeat
		}
	}
	return next
}

// emitTick emits every note scheduled at walker's tick, plus the
// metronome click if enabled, as events at cycle-relative frame.
func (in *Input) emitTick(q *event.Queue, walker transport.Position, frame uint32, nframes uint32) {
	fpt := walker.FramesPerTick()

	if in.MetronomeEnabled && in.MetronomeInstrument != nil && walker.Tick == 0 {
		pitch := 0.0
		if walker.Beat == 1 {
			pitch = 3
		}
		in.emit(q, note.Note{
			Pitch:      pitch,
			Velocity:   1,
			PanL:       0.5,
			PanR:       0.5,
			Length:     -1,
			Instrument: in.MetronomeInstrument,
		}, frame, fpt, nframes)
	}

	tickInBar := (walker.Beat-1)*walker.TicksPerBeat + walker.Tick
	for _, pattern := range in.activePatterns(walker.Bar) {
		for _, n := range pattern.NotesAt(tickInBar) {
			in.emitNote(q, n, frame, tickInBar, fpt, nframes)
		}
	}
}

// emitNote applies spec.md §4.5's humanize/swing/velocity/lead-lag
// adjustments to n and inserts the resulting event(s).
func (in *Input) emitNote(q *event.Queue, n note.Note, baseFrame uint32, tickInBar uint32, fpt float64, nframes uint32) {
	frame := int64(baseFrame) + int64(n.HumanizeDelay)

	if in.HumanizeTimeValue > 0 {
		frame += int64(in.HumanizeTimeValue * in.MaxHumanizeFrames * in.prng.GaussianSigma(0.3))
	}

	// Swing: odd 12-tick subdivisions within 24-tick groups get
	// pushed later (spec.md §4.5).
	if in.SwingFactor > 0 && fpt > 0 && tickInBar%24 >= 12 {
		frame += int64(6 * fpt * in.SwingFactor)
	}

	if n.LeadLag != 0 {
		frame += int64(n.LeadLag * in.LeadLagFrames)
	}

	if frame < 0 {
		frame = 0
	}

	velocity := n.Velocity
	if in.HumanizeVelocity > 0 {
		velocity *= 1 + in.HumanizeVelocity*in.prng.GaussianSigma(0.2)
	}
	if velocity < 0 {
		velocity = 0
	} else if velocity > 1 {
		velocity = 1
	}
	n.Velocity = velocity

	in.emit(q, n, uint32FromClamped(frame, nframes), fpt, nframes)
}

// emit inserts n as a NoteOn (or a NoteOff, for zero-velocity notes
// per spec.md §8) at frame, pairing a NoteOff at note.Length ticks
// (converted to frames at fpt, the tempo in effect on this tick) if
// the note has a non-negative length; a negative length plays to the end
// of the sample (spec.md §9's open question on default note length).
func (in *Input) emit(q *event.Queue, n note.Note, frame uint32, fpt float64, nframes uint32) {
	if n.Instrument == nil || frame >= nframes {
		return
	}
	instIdx := uint32(n.Instrument.ID)

	if n.IsNoteOff() {
		n.Instrument.Enqueue()
		if err := q.Insert(event.SequenceEvent{Frame: frame, Kind: event.NoteOff, InstrumentIndex: instIdx, Note: n}); err != nil {
			n.Instrument.Dequeue()
			in.countCapacityExceeded()
		}
		return
	}

	lengthFrames := int64(-1)
	if n.Length >= 0 && fpt > 0 {
		lengthFrames = int64(math.Round(float64(n.Length) * fpt))
	}

	// InsertNote stores one event (NoteOn only, lengthFrames < 0) or
	// two (a paired NoteOff as well), and on overflow stores neither.
	// The Sampler's Render loop calls Instrument.Dequeue once per event
	// it examines, so the queued refcount needs one matching Enqueue
	// per event actually stored, not one per call here.
	n.Instrument.Enqueue()
	if lengthFrames >= 0 {
		n.Instrument.Enqueue()
	}
	onEvent := event.SequenceEvent{Frame: frame, Kind: event.NoteOn, InstrumentIndex: instIdx, Note: n}
	removed, err := q.InsertNote(onEvent, lengthFrames)
	for _, ev := range removed {
		if ev.Note.Instrument != nil {
			ev.Note.Instrument.Dequeue()
		}
	}
	if err != nil {
		n.Instrument.Dequeue()
		if lengthFrames >= 0 {
			n.Instrument.Dequeue()
		}
		in.countCapacityExceeded()
	}
}

func (in *Input) countCapacityExceeded() {
	if in.Counters != nil {
		in.Counters.CapacityExceeded.Add(1)
	}
}

// uint32FromClamped clamps a signed frame offset into [0, nframes).
func uint32FromClamped(frame int64, nframes uint32) uint32 {
	if frame < 0 {
		return 0
	}
	if frame >= int64(nframes) {
		return nframes - 1
	}
	return uint32(frame)
}
