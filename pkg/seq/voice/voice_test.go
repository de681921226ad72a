package voice

import (
	"testing"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
)

func testLayer(samples ...float32) *note.Layer {
	return &note.Layer{
		StartVelocity: 0, EndVelocity: 1, Gain: 1,
		Sample: &note.Sample{Data: [][]float32{samples}, SampleRate: 48000},
	}
}

func TestRenderProducesExactSampleValues(t *testing.T) {
	// spec.md §8 scenario 2: mono 4-frame sample, unity gain/velocity,
	// centered pan, sample_rate == frame_rate, no filter, sustain-only
	// envelope (attack 0, decay 0, sustain 1).
	inst := note.NewInstrument(0, "kick", note.Template{Sustain: 1})
	layer := testLayer(0.5, 0.25, -0.25, -0.5)
	inst.AddLayer(*layer)

	v := New(48000)
	n := note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}
	v.Trigger(n, layer, 0, 0)

	outL := make([]float32, 8)
	outR := make([]float32, 8)
	done := v.Render(outL, outR, false, 0, 0)

	want := []float32{0.5, 0.25, -0.25, -0.5, 0, 0, 0, 0}
	for i, w := range want {
		if outL[i] != w {
			t.Fatalf("outL[%d] = %v, want %v", i, outL[i], w)
		}
		if outR[i] != w {
			t.Fatalf("outR[%d] = %v, want %v", i, outR[i], w)
		}
	}
	if !done {
		t.Fatalf("voice should retire once the 4-frame sample is exhausted within an 8-frame cycle")
	}
	if v.IsActive() {
		t.Fatalf("retired voice must report inactive")
	}
}

func TestOneFrameSampleRetiresImmediately(t *testing.T) {
	inst := note.NewInstrument(0, "click", note.Template{Sustain: 1})
	layer := testLayer(1)
	inst.AddLayer(*layer)

	v := New(48000)
	v.Trigger(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, layer, 0, 0)

	outL := make([]float32, 4)
	outR := make([]float32, 4)
	done := v.Render(outL, outR, false, 0, 0)

	if !done {
		t.Fatalf("a 1-frame sample must retire within the same cycle")
	}
	if outL[0] == 0 {
		t.Fatalf("expected the single output frame to carry the sample value")
	}
	for i := 1; i < len(outL); i++ {
		if outL[i] != 0 {
			t.Fatalf("frames after the retired voice must stay silent, got outL[%d]=%v", i, outL[i])
		}
	}
}

func TestSilenceOffsetDelaysRendering(t *testing.T) {
	inst := note.NewInstrument(0, "kick", note.Template{Sustain: 1})
	layer := testLayer(1, 1, 1, 1)
	inst.AddLayer(*layer)

	v := New(48000)
	v.Trigger(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, layer, 0, 3)

	outL := make([]float32, 8)
	outR := make([]float32, 8)
	v.Render(outL, outR, false, 0, 0)

	for i := 0; i < 3; i++ {
		if outL[i] != 0 {
			t.Fatalf("frame %d should be silent before the silence offset elapses, got %v", i, outL[i])
		}
	}
	if outL[3] == 0 {
		t.Fatalf("frame 3 (the silence offset) should start contributing audio")
	}
}

func TestReleaseOffsetTriggersEnvelopeRelease(t *testing.T) {
	inst := note.NewInstrument(0, "pad", note.Template{Attack: 0, Decay: 0, Sustain: 1, Release: 1000})
	layer := testLayer(make([]float32, 200)...)
	for i := range layer.Sample.Data[0] {
		layer.Sample.Data[0][i] = 1
	}
	inst.AddLayer(*layer)

	v := New(48000)
	v.Trigger(note.Note{Velocity: 1, PanL: 0.5, PanR: 0.5, Instrument: inst}, layer, 0, 0)
	v.ScheduleRelease(5)

	outL := make([]float32, 10)
	outR := make([]float32, 10)
	v.Render(outL, outR, false, 0, 0)

	if v.envelope.State() != note.StageRelease {
		t.Fatalf("envelope should have entered Release at the scheduled offset, got %v", v.envelope.State())
	}
}
