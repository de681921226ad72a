// Package voice implements a single sounding instance of a sample
// layer: playhead, envelope, and per-voice resonant filter state
// (spec.md §3-§4.2). A Voice is owned exclusively by the Sampler's
// render loop; nothing about it is safe to touch from another
// goroutine.
package voice

import (
	"math"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
)

// Voice renders one sample layer of one triggered note. The silence
// offset lets the Sampler schedule a note-on mid-cycle and the
// release offset lets it schedule a note-off mid-cycle, both without
// touching the playhead math: both are frame offsets from the start
// of the render call that set them.
type Voice struct {
	instrument *note.Instrument
	layer      *note.Layer
	envelope   note.ADSR

	engineRate float64
	samplePos  float64 // fractional playhead, in source-sample frames
	pitchStep  float64 // source frames advanced per output frame

	velocity  float64
	panL      float64
	panR      float64
	layerGain float64

	silenceOffset uint32 // frames into the next render call before the voice starts contributing
	releaseOffset int64  // frame into the next render call the note-off lands, -1 if none scheduled

	// bpL/bpR and lpL/lpR are the per-channel bandpass/lowpass
	// accumulator state for the instrument's resonant filter, carried
	// across render calls the way the original engine carries them
	// per-note rather than resetting each cycle.
	bpL, bpR float64
	lpL, lpR float64

	active bool
	age    int64
}

// New allocates an idle Voice for an engine running at engineRate.
// The Sampler pre-allocates a fixed pool of these at startup and
// never grows it (spec.md §5).
func New(engineRate float64) *Voice {
	return &Voice{engineRate: engineRate, releaseOffset: -1}
}

// IsActive reports whether the voice is currently contributing audio
// or waiting out a silence offset.
func (v *Voice) IsActive() bool {
	return v.active
}

// Age returns how many frames this voice has been alive, used by the
// Sampler's oldest-first stealing policy.
func (v *Voice) Age() int64 {
	return v.age
}

// Instrument returns the instrument this voice is playing, or nil if
// the voice is idle.
func (v *Voice) Instrument() *note.Instrument {
	return v.instrument
}

// Trigger starts the voice playing layer for n, beginning
// silenceOffset frames into the next render call. pitchSemitones is
// the already-humanized total pitch offset (note pitch + layer pitch
// + any random-pitch jitter); the caller computes it so Voice stays
// free of RNG concerns.
func (v *Voice) Trigger(n note.Note, layer *note.Layer, pitchSemitones float64, silenceOffset uint32) {
	v.instrument = n.Instrument
	v.layer = layer
	v.envelope.Reset(n.Instrument.ADSRTemplate())

	sourceRate := layer.Sample.SampleRate
	if sourceRate <= 0 {
		sourceRate = v.engineRate
	}
	v.pitchStep = semitonesToRatio(pitchSemitones) * (sourceRate / v.engineRate)
	v.samplePos = 0

	v.velocity = n.Velocity
	v.panL = n.PanL
	v.panR = n.PanR
	v.layerGain = layer.Gain

	v.silenceOffset = silenceOffset
	v.releaseOffset = -1

	v.bpL, v.bpR = 0, 0
	v.lpL, v.lpR = 0, 0

	v.active = true
	v.age = 0
}

// semitonesToRatio converts a signed semitone offset into a playback
// speed multiplier.
func semitonesToRatio(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

// ScheduleRelease marks the frame (relative to the start of the next
// render call) at which this voice's note-off should fire.
func (v *Voice) ScheduleRelease(offset uint32) {
	v.releaseOffset = int64(offset)
}

// Stop immediately silences the voice without a release tail.
func (v *Voice) Stop() {
	if v.instrument != nil {
		v.instrument.Dequeue()
	}
	v.active = false
	v.instrument = nil
	v.layer = nil
	v.releaseOffset = -1
}

// Render adds up to len(outL) frames of this voice's output into
// outL/outR, starting at output index silenceOffset (0 once any
// pending silence offset has elapsed). The Sampler calls it once per
// segment between events, with buffers sliced to that segment, so a
// voice can start or release mid-cycle. filterActive/cutoff/
// resonance are read once per call, matching the instrument's
// per-cycle atomic snapshot. Returns true once the voice has
// exhausted its sample or its release tail and gone idle.
func (v *Voice) Render(outL, outR []float32, filterActive bool, cutoff, resonance float64) bool {
	if !v.active {
		return true
	}
	n := uint32(len(outL))

	if v.silenceOffset >= n {
		v.silenceOffset -= n
		v.age += int64(n)
		return false
	}

	data := v.layer.Sample
	frames := data.Frames()
	stereo := data.Channels() > 1

	for i := v.silenceOffset; i < n; i++ {
		if v.releaseOffset >= 0 && int64(i) >= v.releaseOffset {
			if v.envelope.Release() == 0 {
				v.finish()
				return true
			}
			v.releaseOffset = -1
		}

		idx := int(v.samplePos)
		if idx >= frames {
			v.finish()
			return true
		}
		frac := float32(v.samplePos - float64(idx))

		s0L := data.At(0, idx)
		s1L := data.At(0, idx+1)
		var s0R, s1R float32
		if stereo {
			s0R = data.At(1, idx)
			s1R = data.At(1, idx+1)
		} else {
			s0R, s1R = s0L, s1L
		}

		// The envelope advances by the same step as the playhead
		// (spec.md §4.2 step 4c, "v *= adsr.step(step)"): a
		// pitched-up voice's envelope runs proportionally faster,
		// matching the original engine's literal behavior.
		adsrValue := float32(v.envelope.Step(v.pitchStep))
		valL := (s0L + (s1L-s0L)*frac) * adsrValue
		valR := (s0R + (s1R-s0R)*frac) * adsrValue

		if filterActive {
			fc := float32(cutoff)
			fr := float32(resonance)

			bpL := fr*float32(v.bpL) + fc*(valL-float32(v.lpL))
			v.bpL = float64(bpL)
			v.lpL += float64(fc * bpL)
			valL = float32(v.lpL)

			bpR := fr*float32(v.bpR) + fc*(valR-float32(v.lpR))
			v.bpR = float64(bpR)
			v.lpR += float64(fc * bpR)
			valR = float32(v.lpR)
		}

		outL[i] += valL
		outR[i] += valR

		v.samplePos += v.pitchStep
		v.age++

		if v.envelope.IsIdle() {
			v.finish()
			return true
		}
	}
	v.silenceOffset = 0
	return false
}

// Velocity, PanL, PanR and LayerGain expose the gain-chain inputs the
// Sampler mixes in alongside the instrument's own scalars.
func (v *Voice) Velocity() float64  { return v.velocity }
func (v *Voice) PanL() float64      { return v.panL }
func (v *Voice) PanR() float64      { return v.panR }
func (v *Voice) LayerGain() float64 { return v.layerGain }

func (v *Voice) finish() {
	if v.instrument != nil {
		v.instrument.Dequeue()
	}
	v.active = false
	v.instrument = nil
	v.layer = nil
}
