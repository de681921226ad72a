package transport

import "testing"

func freshPosition() Position {
	return Position{
		FrameRate:      48000,
		Bar:            1,
		Beat:           1,
		BeatsPerBar:    4,
		BeatType:       4,
		TicksPerBeat:   48,
		BeatsPerMinute: 120,
	}
}

func TestFramesPerTickWorkedExample(t *testing.T) {
	p := freshPosition()
	if got := p.FramesPerTick(); got != 500 {
		t.Fatalf("FramesPerTick() = %v, want 500", got)
	}
}

func TestTransportAdvanceWholeTicks(t *testing.T) {
	tr := New(nil, Config{FrameRate: 48000, BeatsPerBar: 4, BeatType: 4, TicksPerBeat: 48, BeatsPerMinute: 120})
	tr.Start()

	start := tr.Advance(1000)
	if start.Bar != 1 || start.Beat != 1 || start.Tick != 0 {
		t.Fatalf("cycle-start snapshot should be 1:1:0, got %d:%d:%d", start.Bar, start.Beat, start.Tick)
	}

	after := tr.Position()
	if after.Bar != 1 || after.Beat != 1 || after.Tick != 2 || after.BBTOffset != 0 {
		t.Fatalf("after advance(1000) want 1:1:2 offset 0, got %d:%d:%d offset %d",
			after.Bar, after.Beat, after.Tick, after.BBTOffset)
	}
}

func TestTransportAdvanceSplitAcrossBoundary(t *testing.T) {
	tr := New(nil, Config{FrameRate: 48000, BeatsPerBar: 4, BeatType: 4, TicksPerBeat: 48, BeatsPerMinute: 120})
	tr.Start()
	tr.Advance(1000) // -> 1:1:2, offset 0

	tr.Advance(250)
	mid := tr.Position()
	if mid.Tick != 2 || mid.BBTOffset != 250 {
		t.Fatalf("after first advance(250) want tick 2 offset 250, got tick %d offset %d", mid.Tick, mid.BBTOffset)
	}

	tr.Advance(250)
	end := tr.Position()
	if end.Bar != 1 || end.Beat != 1 || end.Tick != 3 || end.BBTOffset != 0 {
		t.Fatalf("after second advance(250) want 1:1:3 offset 0, got %d:%d:%d offset %d",
			end.Bar, end.Beat, end.Tick, end.BBTOffset)
	}
}

func TestTransportStoppedAdvancesNothing(t *testing.T) {
	tr := New(nil, Config{FrameRate: 48000, BeatsPerBar: 4, BeatType: 4, TicksPerBeat: 48, BeatsPerMinute: 120})
	tr.Advance(5000)
	p := tr.Position()
	if p.Bar != 1 || p.Beat != 1 || p.Tick != 0 {
		t.Fatalf("stopped transport must not move BBT, got %d:%d:%d", p.Bar, p.Beat, p.Tick)
	}
	if p.Frame != 0 {
		t.Fatalf("stopped transport must not move Frame either, got %d", p.Frame)
	}
}

func TestTransportNewPositionDropsAfterOneAdvance(t *testing.T) {
	tr := New(nil, Config{FrameRate: 48000, BeatsPerBar: 4, BeatType: 4, TicksPerBeat: 48, BeatsPerMinute: 120})
	tr.Locate(2, 1, 0)
	if !tr.Position().NewPosition {
		t.Fatalf("Locate must raise NewPosition for the next cycle")
	}
	tr.Advance(256)
	if tr.Position().NewPosition {
		t.Fatalf("NewPosition must drop back to false after one Advance")
	}
}

func TestTransportLocateRoundTrip(t *testing.T) {
	tr := New(nil, Config{FrameRate: 48000, BeatsPerBar: 4, BeatType: 4, TicksPerBeat: 48, BeatsPerMinute: 120})
	tr.Locate(3, 2, 10)
	p := tr.Position()
	if p.Bar != 3 || p.Beat != 2 || p.Tick != 10 || p.BBTOffset != 0 {
		t.Fatalf("Locate round trip = %d:%d:%d offset %d, want 3:2:10 offset 0", p.Bar, p.Beat, p.Tick, p.BBTOffset)
	}
	// 2 whole bars + 1 beat + 10 ticks = 2*192 + 48 + 10 = 442 ticks at
	// 500 frames per tick.
	if p.Frame != 442*500 {
		t.Fatalf("Locate must rebase Frame to the musical position, got %d want %d", p.Frame, 442*500)
	}
}

func TestTransportLocateFrameRoundTrip(t *testing.T) {
	tr := New(nil, Config{FrameRate: 48000, BeatsPerBar: 4, BeatType: 4, TicksPerBeat: 48, BeatsPerMinute: 120})
	tr.LocateFrame(442*500 + 250)
	p := tr.Position()
	if p.Bar != 3 || p.Beat != 2 || p.Tick != 10 {
		t.Fatalf("LocateFrame = %d:%d:%d, want 3:2:10", p.Bar, p.Beat, p.Tick)
	}
	if p.BBTOffset != 250 {
		t.Fatalf("LocateFrame mid-tick offset = %d, want 250", p.BBTOffset)
	}
	if !p.NewPosition {
		t.Fatalf("LocateFrame must raise NewPosition")
	}
}

func TestPositionFloorCeilRoundTick(t *testing.T) {
	p := freshPosition()
	p.Tick = 5
	p.BBTOffset = 300 // FramesPerTick is 500, so this is > half

	floor := p.Floor(Tick)
	if floor.Tick != 5 || floor.BBTOffset != 0 {
		t.Fatalf("Floor(Tick) = %d offset %d, want 5 offset 0", floor.Tick, floor.BBTOffset)
	}

	ceil := p.Ceil(Tick)
	if ceil.Tick != 6 || ceil.BBTOffset != 0 {
		t.Fatalf("Ceil(Tick) = %d offset %d, want 6 offset 0", ceil.Tick, ceil.BBTOffset)
	}

	round := p.Round(Tick)
	if round.Tick != 6 {
		t.Fatalf("Round(Tick) with offset 300/500 should round up, got tick %d", round.Tick)
	}

	// Ceil is idempotent.
	again := ceil.Ceil(Tick)
	if again != ceil {
		t.Fatalf("Ceil(Ceil(p)) != Ceil(p): %+v vs %+v", again, ceil)
	}
}

func TestPositionFloorCeilBar(t *testing.T) {
	p := freshPosition()
	p.Bar = 3
	p.Beat = 2
	p.Tick = 10
	p.BarStartTick = uint64((3 - 1)) * p.ticksPerBar()

	floor := p.Floor(Bar)
	if floor.Bar != 3 || floor.Beat != 1 || floor.Tick != 0 {
		t.Fatalf("Floor(Bar) = %d:%d:%d, want 3:1:0", floor.Bar, floor.Beat, floor.Tick)
	}

	ceil := p.Ceil(Bar)
	if ceil.Bar != 4 || ceil.Beat != 1 || ceil.Tick != 0 {
		t.Fatalf("Ceil(Bar) = %d:%d:%d, want 4:1:0", ceil.Bar, ceil.Beat, ceil.Tick)
	}
}

func TestPositionIncDecRollover(t *testing.T) {
	p := freshPosition()
	p.Tick = 47 // last tick of beat 1

	next := p.Inc()
	if next.Beat != 2 || next.Tick != 0 {
		t.Fatalf("Inc() across beat boundary = %d:%d, want beat 2 tick 0", next.Beat, next.Tick)
	}

	back := next.Dec()
	if back.Beat != 1 || back.Tick != 47 {
		t.Fatalf("Dec() back across beat boundary = %d:%d, want beat 1 tick 47", back.Beat, back.Tick)
	}
}

func TestPositionDecClampsAtZero(t *testing.T) {
	p := freshPosition()
	back := p.Dec()
	if back.Bar != 1 || back.Beat != 1 || back.Tick != 0 {
		t.Fatalf("Dec() at song start should clamp, got %d:%d:%d", back.Bar, back.Beat, back.Tick)
	}
}
