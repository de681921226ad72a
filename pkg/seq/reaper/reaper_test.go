package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
)

func TestReaperFreesOnlyWhenQueuedReachesZero(t *testing.T) {
	inst := note.NewInstrument(0, "kick", note.Template{Sustain: 1})
	inst.Enqueue() // simulate one live voice still referencing it

	r := New(4)
	freed := make(chan struct{}, 1)
	r.Retire(inst, func(*note.Instrument) { freed <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 5*time.Millisecond)

	select {
	case <-freed:
		t.Fatalf("instrument freed while still referenced (queued=%d)", inst.Queued())
	case <-time.After(30 * time.Millisecond):
	}
	if r.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1 while still referenced", r.Pending())
	}

	inst.Dequeue()

	select {
	case <-freed:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("instrument was never freed after queued count reached 0")
	}
	if r.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 after freeing", r.Pending())
	}
}

func TestReaperFreesImmediatelyWhenAlreadyUnreferenced(t *testing.T) {
	inst := note.NewInstrument(1, "snare", note.Template{Sustain: 1})

	r := New(4)
	freed := make(chan struct{}, 1)
	r.Retire(inst, func(*note.Instrument) { freed <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 5*time.Millisecond)

	select {
	case <-freed:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("instrument with queued=0 was never freed")
	}
}
