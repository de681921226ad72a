package sampler

import (
	"testing"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/voice"
)

func testInstrument(id int) *note.Instrument {
	inst := note.NewInstrument(id, "kick", note.Template{Attack: 0, Decay: 0, Sustain: 1, Release: 10})
	data := make([]float32, 2000)
	for i := range data {
		data[i] = 1
	}
	inst.AddLayer(note.Layer{StartVelocity: 0, EndVelocity: 1, Gain: 1, Sample: &note.Sample{
		Data:       [][]float32{data, data},
		SampleRate: 48000,
	}})
	return inst
}

func TestNoteOnTriggersAVoice(t *testing.T) {
	s := New(4, 48000, 1)
	inst := testInstrument(0)
	s.SetInstruments([]*note.Instrument{inst})

	ok := s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, 0)
	if !ok {
		t.Fatalf("NoteOn should succeed with a matching layer")
	}
	if s.ActiveVoiceCount() != 1 {
		t.Fatalf("expected 1 active voice, got %d", s.ActiveVoiceCount())
	}
}

func TestNoteOnDropsWithoutMatchingLayer(t *testing.T) {
	s := New(4, 48000, 1)
	inst := note.NewInstrument(0, "empty", note.Template{Sustain: 1})
	s.SetInstruments([]*note.Instrument{inst})

	ok := s.NoteOn(note.Note{Velocity: 1, Instrument: inst}, 0)
	if ok {
		t.Fatalf("NoteOn should fail without a matching velocity layer")
	}
}

func TestVoiceStealingOldestWhenFull(t *testing.T) {
	s := New(2, 48000, 1)
	inst := testInstrument(0)
	s.SetInstruments([]*note.Instrument{inst})

	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, 0)
	// Age the first voice forward a bit so it is strictly older.
	buf := make([]float32, 16)
	bufR := make([]float32, 16)
	s.voices[0].Render(buf, bufR, false, 0, 0)

	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, 0)
	if s.ActiveVoiceCount() != 2 {
		t.Fatalf("pool should be full with 2 voices, got %d", s.ActiveVoiceCount())
	}

	ok := s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, 0)
	if !ok {
		t.Fatalf("third NoteOn should steal the oldest voice rather than drop")
	}
	if s.ActiveVoiceCount() != 2 {
		t.Fatalf("stealing should keep the pool at capacity, got %d", s.ActiveVoiceCount())
	}
}

func TestMuteGroupStopsOtherMembers(t *testing.T) {
	s := New(4, 48000, 1)
	a := testInstrument(0)
	b := testInstrument(1)
	a.MuteGroup.Store(5)
	b.MuteGroup.Store(5)
	s.SetInstruments([]*note.Instrument{a, b})

	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: a}, 0)
	if s.ActiveVoiceCount() != 1 {
		t.Fatalf("expected 1 active voice after first NoteOn, got %d", s.ActiveVoiceCount())
	}

	// Triggering the mute-group sibling schedules a's voice into
	// Release rather than hard-stopping it, so both voices are still
	// active immediately afterward.
	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: b}, 0)
	if s.ActiveVoiceCount() != 2 {
		t.Fatalf("expected both voices active immediately after the sibling trigger (a releasing, b attacking), got %d", s.ActiveVoiceCount())
	}

	var findByInstrument = func(inst *note.Instrument) *voice.Voice {
		for _, v := range s.voices {
			if v.Instrument() == inst {
				return v
			}
		}
		return nil
	}
	if va := findByInstrument(a); va == nil || va.IsActive() == false {
		t.Fatalf("a's voice should still be active, winding down its release tail")
	}

	// Render enough frames for a's 10-tick release to finish; b's
	// voice (freshly triggered, sustain-only envelope) should still be
	// sounding.
	outL := make([]float32, 64)
	outR := make([]float32, 64)
	s.voices[findIndexByInstrument(s, a)].Render(outL, outR, false, 0, 0)
	s.voices[findIndexByInstrument(s, b)].Render(outL, outR, false, 0, 0)

	if va := findByInstrument(a); va != nil && va.IsActive() {
		t.Fatalf("a's voice should have finished its release tail and gone idle")
	}
	if vb := findByInstrument(b); vb == nil || !vb.IsActive() {
		t.Fatalf("b's voice should still be sounding")
	}
}

func findIndexByInstrument(s *Sampler, inst *note.Instrument) int {
	for i, v := range s.voices {
		if v.Instrument() == inst {
			return i
		}
	}
	return -1
}

func TestAllOffReleasesEveryVoice(t *testing.T) {
	s := New(4, 48000, 1)
	inst := testInstrument(0) // 10-tick release
	s.SetInstruments([]*note.Instrument{inst})
	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, 0)
	s.AllOff(0)

	// The voice winds down its release tail rather than cutting out;
	// 64 frames is well past the 10-tick release at unity pitch.
	outL := make([]float32, 64)
	outR := make([]float32, 64)
	s.voices[findIndexByInstrument(s, inst)].Render(outL, outR, false, 0, 0)
	if s.ActiveVoiceCount() != 0 {
		t.Fatalf("AllOff should retire every voice once its release ends, got %d active", s.ActiveVoiceCount())
	}
}

func TestStopAllSilencesImmediately(t *testing.T) {
	s := New(4, 48000, 1)
	inst := testInstrument(0)
	s.SetInstruments([]*note.Instrument{inst})
	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, 0)
	s.StopAll()
	if s.ActiveVoiceCount() != 0 {
		t.Fatalf("StopAll should silence every voice at once, got %d active", s.ActiveVoiceCount())
	}
}

func TestMutedVoiceKeepsRunningAtZeroGain(t *testing.T) {
	s := New(4, 48000, 1)
	inst := testInstrument(0)
	s.SetInstruments([]*note.Instrument{inst})
	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, 0)

	const n = 64
	outL := make([]float32, n)
	outR := make([]float32, n)

	// Muting zeroes the gain terms only: the voice stays allocated and
	// its playhead/envelope keep advancing underneath the silence.
	inst.Muted.Store(true)
	ageBefore := s.voices[findIndexByInstrument(s, inst)].Age()
	s.Render(nil, n, outL, outR, nil, nil, nil, nil)
	for i, v := range outL {
		if v != 0 {
			t.Fatalf("muted instrument must contribute zero gain, got outL[%d]=%v", i, v)
		}
	}
	v := s.voices[findIndexByInstrument(s, inst)]
	if v == nil || !v.IsActive() {
		t.Fatalf("muting must not stop the voice")
	}
	if v.Age() != ageBefore+n {
		t.Fatalf("muted voice's playhead must keep advancing, age went %d -> %d", ageBefore, v.Age())
	}

	// Unmuting mid-note resumes the sound at full gain.
	inst.Muted.Store(false)
	s.Render(nil, n, outL, outR, nil, nil, nil, nil)
	if outL[0] == 0 {
		t.Fatalf("unmuted voice must resume contributing audio")
	}
}

func TestSoloSilencesOthersWithoutStoppingThem(t *testing.T) {
	s := New(4, 48000, 1)
	a := testInstrument(0)
	b := testInstrument(1)
	b.Soloed.Store(true)
	s.SetInstruments([]*note.Instrument{a, b})

	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: a}, 0)
	s.NoteOn(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: b}, 0)

	const n = 64
	outL := make([]float32, n)
	outR := make([]float32, n)
	s.Render(nil, n, outL, outR, nil, nil, nil, nil)

	if va := s.voices[findIndexByInstrument(s, a)]; va == nil || !va.IsActive() {
		t.Fatalf("soloing b must not stop a's voice, only silence it")
	}
	if outL[0] == 0 {
		t.Fatalf("the soloed instrument must still be audible")
	}
	// a's contribution is gone: with identical samples and gains, the
	// mix equals exactly one voice's worth, not two.
	if outL[0] != 0.5 {
		t.Fatalf("expected only b's 0.5 contribution in the mix, got %v", outL[0])
	}

	// Clearing solo brings a back into the mix. Render accumulates, so
	// start the next cycle's buffers at silence the way Sequencer does.
	b.Soloed.Store(false)
	for i := range outL {
		outL[i], outR[i] = 0, 0
	}
	s.Render(nil, n, outL, outR, nil, nil, nil, nil)
	if outL[0] != 1 {
		t.Fatalf("expected both voices (0.5 each) once solo is cleared, got %v", outL[0])
	}
}

func TestRenderProducesNonSilentOutput(t *testing.T) {
	s := New(4, 48000, 1)
	inst := testInstrument(0)
	s.SetInstruments([]*note.Instrument{inst})
	inst.Enqueue()

	events := []event.SequenceEvent{
		{Frame: 0, Kind: event.NoteOn, InstrumentIndex: 0, Note: note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}},
	}

	const n = 256
	outL := make([]float32, n)
	outR := make([]float32, n)
	s.Render(events, n, outL, outR, nil, nil, nil, nil)

	nonZero := false
	for _, v := range outL {
		if v != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatalf("expected non-silent output after a NoteOn, got all zeros")
	}
}
