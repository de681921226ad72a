package sequencer

import (
	"testing"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/diag"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/iface"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/sampler"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/transport"
)

func testInstrument(id int) *note.Instrument {
	inst := note.NewInstrument(id, "kick", note.Template{Attack: 0, Decay: 0, Sustain: 1, Release: 10})
	data := make([]float32, 4000)
	for i := range data {
		data[i] = 1
	}
	inst.AddLayer(note.Layer{StartVelocity: 0, EndVelocity: 1, Gain: 1, Sample: &note.Sample{
		Data:       [][]float32{data, data},
		SampleRate: 48000,
	}})
	return inst
}

func newTestSequencer() (*Sequencer, *note.Instrument) {
	inst := testInstrument(0)
	s := sampler.New(4, 48000, 1)
	s.SetInstruments([]*note.Instrument{inst})
	q := event.New(64)
	tr := transport.New(nil, transport.Config{FrameRate: 48000, BeatsPerBar: 4, BeatType: 4, TicksPerBeat: 48, BeatsPerMinute: 120})
	return New(q, tr, s, &diag.Counters{}), inst
}

func TestProcessWithNoInputsProducesSilence(t *testing.T) {
	seq, _ := newTestSequencer()
	const n = 64
	outL := make([]float32, n)
	outR := make([]float32, n)
	seq.Process(n, outL, outR, nil, nil, nil, nil)
	for _, v := range outL {
		if v != 0 {
			t.Fatalf("expected silence with no inputs registered, got %v", v)
		}
	}
}

func TestNoteOnPreviewProducesSound(t *testing.T) {
	seq, inst := newTestSequencer()
	_ = inst
	seq.Start()
	seq.NoteOnPreview(inst, 1)

	const n = 64
	outL := make([]float32, n)
	outR := make([]float32, n)
	seq.Process(n, outL, outR, nil, nil, nil, nil)

	nonZero := false
	for _, v := range outL {
		if v != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatalf("expected preview NoteOn to produce sound this cycle")
	}
}

func TestPanicSilencesAllVoices(t *testing.T) {
	seq, inst := newTestSequencer()
	seq.Start()
	seq.NoteOnPreview(inst, 1)

	const n = 64
	outL := make([]float32, n)
	outR := make([]float32, n)
	seq.Process(n, outL, outR, nil, nil, nil, nil)
	if seq.sampler.ActiveVoiceCount() != 1 {
		t.Fatalf("expected 1 active voice before panic, got %d", seq.sampler.ActiveVoiceCount())
	}

	seq.Panic()
	seq.Process(n, outL, outR, nil, nil, nil, nil)
	if seq.sampler.ActiveVoiceCount() != 0 {
		t.Fatalf("expected panic to silence every voice, got %d active", seq.sampler.ActiveVoiceCount())
	}
}

func TestSetBpmRejectsNonPositive(t *testing.T) {
	seq, _ := newTestSequencer()
	if err := seq.SetBpm(0); err != ErrConfig {
		t.Fatalf("expected ErrConfig for bpm=0, got %v", err)
	}
	if err := seq.SetBpm(-10); err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative bpm, got %v", err)
	}
	if err := seq.SetBpm(140); err != nil {
		t.Fatalf("expected valid bpm to succeed, got %v", err)
	}
}

type stubSongModel struct{ bars uint32 }

func (s stubSongModel) BarCount() uint32 { return s.bars }
func (s stubSongModel) TickCount() uint64 { return 0 }
func (s stubSongModel) PatternGroupIndexForBar(bar uint32) int { return 0 }
func (s stubSongModel) BarStartTick(bar uint32) uint64 { return 0 }
func (s stubSongModel) TicksInBar(bar uint32) uint32 { return 192 }
func (s stubSongModel) ActivePatterns(bar uint32) []iface.Pattern { return nil }
func (s stubSongModel) Instrument(index int) *note.Instrument { return nil }
func (s stubSongModel) InstrumentCount() int { return 0 }

func TestLocateRejectsPastSongEnd(t *testing.T) {
	seq, _ := newTestSequencer()
	seq.SetSong(stubSongModel{bars: 4})

	if err := seq.Locate(5, 1, 0); err != ErrConfig {
		t.Fatalf("expected ErrConfig locating past bar count, got %v", err)
	}
	if err := seq.Locate(2, 1, 0); err != nil {
		t.Fatalf("expected in-range locate to succeed, got %v", err)
	}
}

func TestAddAndRemoveInputTakesEffectNextCycle(t *testing.T) {
	seq, inst := newTestSequencer()
	seq.Start()

	probe := &probeInput{inst: inst}
	seq.AddInput(probe)

	const n = 32
	outL := make([]float32, n)
	outR := make([]float32, n)
	seq.Process(n, outL, outR, nil, nil, nil, nil)
	if probe.calls != 1 {
		t.Fatalf("expected the registered input to run once, got %d", probe.calls)
	}

	seq.RemoveInput(probe)
	seq.Process(n, outL, outR, nil, nil, nil, nil)
	if probe.calls != 1 {
		t.Fatalf("expected no further calls after removal, got %d total", probe.calls)
	}
}

// probeInput inserts one NoteOn per cycle and counts its own calls.
type probeInput struct {
	inst  *note.Instrument
	calls int
}

func (p *probeInput) Process(q *event.Queue, pos transport.Position, nframes uint32) {
	p.calls++
	p.inst.Enqueue()
	if err := q.Insert(event.SequenceEvent{Frame: 0, Kind: event.NoteOn, InstrumentIndex: uint32(p.inst.ID), Note: note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: p.inst}}); err != nil {
		p.inst.Dequeue()
	}
}

// TestNotePairAcrossCycles is spec.md §8 scenario 3: a NoteOn at frame
// 100 of a 256-frame cycle with a 512-frame length keeps its NoteOff
// at frame 356 relative to the following cycle, past that cycle's end,
// so the release lands 100 frames into the cycle after it.
func TestNotePairAcrossCycles(t *testing.T) {
	seq, inst := newTestSequencer()
	seq.Start()

	inst.Enqueue()
	inst.Enqueue()
	if _, err := seq.queue.InsertNote(event.SequenceEvent{
		Frame: 100, Kind: event.NoteOn, InstrumentIndex: uint32(inst.ID),
		Note: note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst},
	}, 512); err != nil {
		t.Fatalf("insert_note: %v", err)
	}

	const n = 256
	outL := make([]float32, n)
	outR := make([]float32, n)

	// Cycle A: voice starts at frame 100 and is still sounding at the
	// cycle boundary; the paired NoteOff at 612 survives Consume as 356.
	seq.Process(n, outL, outR, nil, nil, nil, nil)
	if seq.sampler.ActiveVoiceCount() != 1 {
		t.Fatalf("voice should still be sounding after cycle A, got %d", seq.sampler.ActiveVoiceCount())
	}
	if outL[99] != 0 || outL[100] == 0 {
		t.Fatalf("voice must start contributing exactly at frame 100: outL[99]=%v outL[100]=%v", outL[99], outL[100])
	}
	offs := seq.queue.All()
	if len(offs) != 1 || offs[0].Kind != event.NoteOff || offs[0].Frame != 356 {
		t.Fatalf("expected the paired NoteOff shifted to frame 356 for cycle B, got %v", offs)
	}

	// Cycle B keeps the voice sounding (only 412 of 4000 sample frames
	// have elapsed by its end); the NoteOff, 100 frames into cycle C, releases it, and
	// its 10-tick tail retires it before that cycle ends.
	seq.Process(n, outL, outR, nil, nil, nil, nil)
	seq.Process(n, outL, outR, nil, nil, nil, nil)
	if seq.sampler.ActiveVoiceCount() != 0 {
		t.Fatalf("voice should have released and retired after the NoteOff, got %d active", seq.sampler.ActiveVoiceCount())
	}
	if got := inst.Queued(); got != 0 {
		t.Fatalf("queued refcount should return to 0 once the pair is consumed and the voice retires, got %d", got)
	}
}
