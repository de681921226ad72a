package guiinput

import (
	"testing"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/transport"
)

func TestPushedEventDrainsIntoQueue(t *testing.T) {
	inst := note.NewInstrument(0, "kick", note.Template{Sustain: 1})
	in := New(4)
	in.Push(GuiEvent{Kind: event.NoteOn, Note: note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}})

	q := event.New(8)
	in.Process(q, transport.Position{}, 256)

	if q.Size() != 1 {
		t.Fatalf("expected 1 event drained into the queue, got %d", q.Size())
	}
	if q.Events(256)[0].Frame != 0 {
		t.Fatalf("unquantized events must fire at frame 0")
	}
}

func TestPanicPushesAllOff(t *testing.T) {
	in := New(4)
	in.Push(GuiEvent{Kind: event.AllOff})

	q := event.New(8)
	in.Process(q, transport.Position{}, 256)

	if q.Size() != 1 || q.Events(256)[0].Kind != event.AllOff {
		t.Fatalf("expected a single AllOff event")
	}
}

func TestPushReturnsFalseWhenRingFull(t *testing.T) {
	in := New(2) // rounds up to a 2-slot ring
	inst := note.NewInstrument(0, "kick", note.Template{Sustain: 1})
	ev := GuiEvent{Kind: event.NoteOn, Note: note.Note{Velocity: 1, Instrument: inst}}

	filled := 0
	for in.Push(ev) {
		filled++
		if filled > 16 {
			t.Fatalf("ring should have rejected a push well before this many")
		}
	}
	if filled == 0 {
		t.Fatalf("expected at least one successful push before the ring filled")
	}
}

func TestQuantizeSnapsToNextGridBoundary(t *testing.T) {
	in := New(4)
	in.QuantizeTicks = 48
	inst := note.NewInstrument(0, "kick", note.Template{Sustain: 1})
	in.Push(GuiEvent{Kind: event.NoteOn, Quantize: true, Note: note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}})

	pos := transport.Position{
		FrameRate: 48000, TicksPerBeat: 48, BeatsPerMinute: 120,
		Beat: 1, Tick: 10, BBTOffset: 50,
	}
	q := event.New(8)
	in.Process(q, pos, 20000)

	frame := q.Events(20000)[0].Frame
	if frame == 0 {
		t.Fatalf("a mid-grid quantized event should not land on frame 0")
	}
	// 38 ticks to the next 48-tick boundary at 500 frames/tick, minus
	// the 50 frames already past tick 10.
	if frame != 38*500-50 {
		t.Fatalf("expected the event on the next grid boundary at frame %d, got %d", 38*500-50, frame)
	}
}
