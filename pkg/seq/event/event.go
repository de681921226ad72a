// Package event implements the bounded, sorted, frame-indexed event
// queue described in spec.md §3-§4.1: the data structure every
// SequencerInput writes into and every sink reads from once per audio
// cycle.
package event

import (
	"errors"
	"sort"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
)

// Kind is the type of a scheduled event.
type Kind uint8

const (
	NoteOn Kind = iota
	NoteOff
	AllOff
)

func (k Kind) String() string {
	switch k {
	case NoteOn:
		return "NoteOn"
	case NoteOff:
		return "NoteOff"
	case AllOff:
		return "AllOff"
	default:
		return "Unknown"
	}
}

// SequenceEvent is one scheduled occurrence within the current audio
// cycle (spec.md §3). Frame is an offset from the start of the cycle,
// 0 <= Frame < nframes for events meant to render this cycle; events
// with Frame >= nframes survive into a future cycle via Consume.
type SequenceEvent struct {
	Frame           uint32
	Kind            Kind
	InstrumentIndex uint32
	Note            note.Note
	Quantize        bool

	// seq breaks ties between events at the same Frame: lower seq
	// was inserted earlier and sorts first (spec.md §3, "insertion
	// order is the tie-breaker").
	seq uint64
}

// ErrCapacityExceeded is returned by Insert/InsertNote when the queue
// is already holding Capacity() live events. The caller must treat
// this as the spec.md §7 CapacityExceeded condition: drop the event,
// bump an out-of-band counter, and keep the cycle running.
var ErrCapacityExceeded = errors.New("event queue: capacity exceeded")

// Queue is the bounded, pre-allocated, sorted event buffer. All of
// its mutating operations only rearrange the backing array that was
// allocated by New — no heap allocation happens during Insert,
// Remove, or Consume, making it safe to call from the audio thread.
type Queue struct {
	arena   []SequenceEvent // len == count of live events, cap == capacity
	nextSeq uint64

	// removed backs the slice InsertNote returns, so reporting canceled
	// NoteOffs doesn't allocate on the RT path. Each InsertNote call
	// reuses it; the returned slice is only valid until the next call.
	removed [4]SequenceEvent
}

// New allocates a Queue with the given maximum number of concurrently
// live events.
func New(capacity int) *Queue {
	return &Queue{arena: make([]SequenceEvent, 0, capacity)}
}

// Capacity returns the maximum number of concurrently live events.
func (q *Queue) Capacity() int {
	return cap(q.arena)
}

// Size returns the number of live events.
func (q *Queue) Size() int {
	return len(q.arena)
}

// SizeBefore returns the number of live events with Frame < beforeFrame.
func (q *Queue) SizeBefore(beforeFrame uint32) int {
	return q.lowerBound(beforeFrame)
}

// Empty reports whether the queue holds no events.
func (q *Queue) Empty() bool {
	return len(q.arena) == 0
}

// Clear drops all events without touching capacity.
func (q *Queue) Clear() {
	q.arena = q.arena[:0]
}

// lowerBound returns the index of the first event with Frame >= frame.
func (q *Queue) lowerBound(frame uint32) int {
	return sort.Search(len(q.arena), func(i int) bool {
		return q.arena[i].Frame >= frame
	})
}

// upperBound returns the index of the first event with Frame > frame.
func (q *Queue) upperBound(frame uint32) int {
	return sort.Search(len(q.arena), func(i int) bool {
		return q.arena[i].Frame > frame
	})
}

// Insert places ev into the queue preserving the sort-by-Frame,
// stable-by-insertion-order invariant. Returns ErrCapacityExceeded if
// the queue is already full; the event is not stored in that case.
func (q *Queue) Insert(ev SequenceEvent) error {
	if len(q.arena) >= cap(q.arena) {
		return ErrCapacityExceeded
	}
	ev.seq = q.nextSeq
	q.nextSeq++

	idx := q.upperBound(ev.Frame)
	q.arena = q.arena[:len(q.arena)+1]
	copy(q.arena[idx+1:], q.arena[idx:len(q.arena)-1])
	q.arena[idx] = ev
	return nil
}

// InsertNote inserts a NoteOn and, if lengthFrames >= 0, a paired
// NoteOff at onEvent.Frame+lengthFrames (spec.md §4.1). A negative
// lengthFrames means "play sample to end" and no NoteOff is
// scheduled. Any existing NoteOff for the same instrument between the
// two is canceled, unless it is already followed (before the new
// NoteOff's frame) by a NoteOn for the same instrument. An existing
// NoteOff exactly at the new NoteOff's frame is always replaced.
//
// Returns the events silently dropped from the queue to make room for
// the new NoteOff (if any); the returned slice is backed by the queue
// and only valid until the next InsertNote call. EventQueue stays
// instrument-agnostic (spec.md §9's cyclic-reference discipline lives
// in the Instrument refcount, not here); the caller is responsible for
// calling Instrument.Dequeue on each returned event, matching the
// Enqueue it made when that event was originally inserted.
//
// On ErrCapacityExceeded neither event is stored: if the paired
// NoteOff can't fit, the NoteOn just inserted is removed again, so the
// caller's refcounting never has to reason about a half-stored pair.
func (q *Queue) InsertNote(onEvent SequenceEvent, lengthFrames int64) ([]SequenceEvent, error) {
	if err := q.Insert(onEvent); err != nil {
		return nil, err
	}
	if lengthFrames < 0 {
		return nil, nil
	}

	offFrame := onEvent.Frame + uint32(lengthFrames)
	instrIdx := onEvent.InstrumentIndex
	removed := q.removed[:0]

	// Replace-at-exact-frame rule (resolves the open question in
	// spec.md §9): remove any NoteOff for this instrument already
	// scheduled at exactly offFrame.
	if ev, ok := q.removeMatching(func(e *SequenceEvent) bool {
		return e.Kind == NoteOff && e.InstrumentIndex == instrIdx && e.Frame == offFrame
	}); ok {
		removed = append(removed, ev)
	}

	// Cancel any NoteOff strictly between the NoteOn and the new
	// NoteOff, unless a NoteOn for the same instrument intervenes
	// before the new NoteOff time.
	for {
		canceled := false
		lo := q.upperBound(onEvent.Frame)
		hi := q.lowerBound(offFrame)
		for i := lo; i < hi; i++ {
			e := &q.arena[i]
			if e.Kind != NoteOff || e.InstrumentIndex != instrIdx {
				continue
			}
			if q.noteOnIntervenes(instrIdx, e.Frame, offFrame) {
				continue
			}
			removed = append(removed, *e)
			q.removeAt(i)
			canceled = true
			break
		}
		if !canceled {
			break
		}
	}

	offEvent := SequenceEvent{
		Frame:           offFrame,
		Kind:            NoteOff,
		InstrumentIndex: instrIdx,
		Note:            onEvent.Note,
	}
	if err := q.Insert(offEvent); err != nil {
		q.removeMatching(func(e *SequenceEvent) bool {
			return e.Kind == NoteOn && e.InstrumentIndex == instrIdx && e.Frame == onEvent.Frame
		})
		return removed, err
	}
	return removed, nil
}

// noteOnIntervenes reports whether a NoteOn for instrIdx is scheduled
// strictly after afterFrame and strictly before beforeFrame.
func (q *Queue) noteOnIntervenes(instrIdx uint32, afterFrame, beforeFrame uint32) bool {
	lo := q.upperBound(afterFrame)
	hi := q.lowerBound(beforeFrame)
	for i := lo; i < hi; i++ {
		e := &q.arena[i]
		if e.Kind == NoteOn && e.InstrumentIndex == instrIdx {
			return true
		}
	}
	return false
}

// removeMatching removes the first event for which pred returns true,
// returning it and true. Returns the zero value and false if nothing
// matched.
func (q *Queue) removeMatching(pred func(*SequenceEvent) bool) (SequenceEvent, bool) {
	for i := range q.arena {
		if pred(&q.arena[i]) {
			ev := q.arena[i]
			q.removeAt(i)
			return ev, true
		}
	}
	return SequenceEvent{}, false
}

// removeAt removes the event at index idx, preserving order.
func (q *Queue) removeAt(idx int) {
	copy(q.arena[idx:], q.arena[idx+1:])
	q.arena = q.arena[:len(q.arena)-1]
}

// Remove removes the first event equal to ev (matched by Frame, Kind,
// and InstrumentIndex — the identifying fields of a scheduled event).
// Reports whether an event was removed.
func (q *Queue) Remove(ev SequenceEvent) bool {
	_, ok := q.removeMatching(func(e *SequenceEvent) bool {
		return e.Frame == ev.Frame && e.Kind == ev.Kind && e.InstrumentIndex == ev.InstrumentIndex
	})
	return ok
}

// RemoveAt removes the event at the given index into Events(n)'s
// result (the index is only valid until the next mutating call).
func (q *Queue) RemoveAt(idx int) {
	q.removeAt(idx)
}

// Consume drops every event with Frame < n and shifts the remaining
// events' Frame down by n, making them relative to the next cycle
// (spec.md §4.1).
func (q *Queue) Consume(n uint32) {
	idx := q.lowerBound(n)
	if idx > 0 {
		copy(q.arena, q.arena[idx:])
		q.arena = q.arena[:len(q.arena)-idx]
	}
	for i := range q.arena {
		q.arena[i].Frame -= n
	}
}

// Events returns a read-only view, sorted ascending by Frame, of
// every live event with Frame < nframes (spec.md's
// begin_const()..end_const(n)). The returned slice aliases the
// queue's internal storage: sinks may read it but must not retain it
// or mutate it past the current process() call.
func (q *Queue) Events(nframes uint32) []SequenceEvent {
	idx := q.lowerBound(nframes)
	return q.arena[:idx]
}

// All returns every live event, regardless of frame. Used by
// diagnostics and tests; not part of the RT read path.
func (q *Queue) All() []SequenceEvent {
	return q.arena
}
