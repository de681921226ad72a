// Package guiinput implements spec.md §4.7's GuiInput: a lock-free,
// bounded MPSC queue UI threads push preview/edit events into, and
// which the RT thread alone drains into the EventQueue once per
// cycle, optionally quantizing each event forward to the current
// quantize grid. The ring itself is Dmitry Vyukov's bounded MPSC
// algorithm (per-slot sequence numbers instead of a mutex), the
// natural generalization of the teacher's own lock-free single-
// producer ring in pkg/dsp/buffer.WriteAheadBuffer to multiple
// producers.
package guiinput

import (
	"math"
	"sync/atomic"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/diag"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/transport"
)

// GuiEvent is one pending UI-originated note action.
type GuiEvent struct {
	Kind     event.Kind
	Note     note.Note
	Quantize bool
}

type cell struct {
	seq atomic.Uint64
	val GuiEvent
}

// ring is a bounded MPSC queue of GuiEvents; capacity must be a power
// of two. Any number of goroutines may call Push; only one goroutine
// (the RT thread, via Input.Process) may call pop.
type ring struct {
	buf        []cell
	mask       uint64
	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64
}

func newRing(capacity int) *ring {
	n := nextPow2(capacity)
	r := &ring{buf: make([]cell, n), mask: uint64(n - 1)}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// push enqueues ev. Returns false if the ring is full (caller must
// treat this like spec.md §4.1's CapacityExceeded: drop and count).
func (r *ring) push(ev GuiEvent) bool {
	for {
		pos := r.enqueuePos.Load()
		c := &r.buf[pos&r.mask]
		seq := c.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.val = ev
				c.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		default:
			// another producer claimed this slot first; retry with
			// the freshly observed enqueuePos.
		}
	}
}

// pop dequeues the oldest pending event. Single-consumer only.
func (r *ring) pop() (GuiEvent, bool) {
	pos := r.dequeuePos.Load()
	c := &r.buf[pos&r.mask]
	seq := c.seq.Load()
	diff := int64(seq) - int64(pos+1)
	if diff != 0 {
		return GuiEvent{}, false
	}
	ev := c.val
	c.seq.Store(pos + r.mask + 1)
	r.dequeuePos.Store(pos + 1)
	return ev, true
}

// Input is spec.md §4.7's GuiInput. QuantizeTicks is the current
// grid, in ticks, Process snaps Quantize-tagged events forward to;
// 0 or 1 disables quantization (the event fires as soon as possible).
type Input struct {
	r             *ring
	QuantizeTicks uint32

	// Counters, when set, receives a CapacityExceeded bump for every
	// drained event the EventQueue rejected (spec.md §7). Set at
	// wiring time only.
	Counters *diag.Counters
}

// New builds a GuiInput with room for capacity pending events
// (rounded up to the next power of two).
func New(capacity int) *Input {
	return &Input{r: newRing(capacity)}
}

// Push is the producer side: called from UI/preview goroutines (e.g.
// the control surface's note_on_preview/note_off_preview/panic calls
// described in spec.md §6). Returns false if the queue is full.
func (in *Input) Push(ev GuiEvent) bool {
	return in.r.push(ev)
}

// Process implements the SequencerInput capability: drains every
// pending GuiEvent into q, quantizing forward when requested.
func (in *Input) Process(q *event.Queue, pos transport.Position, nframes uint32) {
	for {
		ev, ok := in.r.pop()
		if !ok {
			return
		}
		frame := uint32(0)
		if ev.Quantize {
			frame = in.quantizeFrame(pos, nframes)
		}
		if ev.Note.Instrument == nil {
			if ev.Kind == event.AllOff {
				if err := q.Insert(event.SequenceEvent{Frame: frame, Kind: event.AllOff}); err != nil {
					in.countCapacityExceeded()
				}
			}
			continue
		}
		ev.Note.Instrument.Enqueue()
		sev := event.SequenceEvent{
			Frame:           frame,
			Kind:            ev.Kind,
			InstrumentIndex: uint32(ev.Note.Instrument.ID),
			Note:            ev.Note,
			Quantize:        ev.Quantize,
		}
		if err := q.Insert(sev); err != nil {
			ev.Note.Instrument.Dequeue()
			in.countCapacityExceeded()
		}
	}
}

func (in *Input) countCapacityExceeded() {
	if in.Counters != nil {
		in.Counters.CapacityExceeded.Add(1)
	}
}

// quantizeFrame computes the cycle-relative frame of the next
// boundary of the current quantize grid, clamped into [0, nframes).
func (in *Input) quantizeFrame(pos transport.Position, nframes uint32) uint32 {
	grid := in.QuantizeTicks
	fpt := pos.FramesPerTick()
	if grid <= 1 || fpt <= 0 {
		return 0
	}
	curTick := pos.Tick % grid
	ticksToNext := uint32(0)
	if curTick != 0 || pos.BBTOffset != 0 {
		ticksToNext = grid - curTick
		if curTick == 0 {
			ticksToNext = grid
		}
	}
	step := int64(math.Round(fpt))
	frame := int64(ticksToNext)*step - int64(pos.BBTOffset)
	if frame < 0 {
		frame = 0
	}
	if frame >= int64(nframes) {
		frame = int64(nframes) - 1
	}
	return uint32(frame)
}
