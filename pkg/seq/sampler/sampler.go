// Package sampler implements the polyphonic sample-playback engine:
// a fixed voice pool, oldest-first stealing, mute-group arbitration,
// and the per-voice gain chain (spec.md §3-§4.2). Sampler owns its
// voice pool exclusively; like the rest of the core it is driven by a
// single RT thread.
package sampler

import (
	"math"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/diag"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/rng"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/voice"
)

// Sampler renders a bounded polyphony of Voices into an output mix,
// mirroring the original gain chain exactly: velocity * note-pan *
// layer-gain * instrument-pan * instrument-gain feeds the FX send,
// continuing through instrument-volume and (for the main mix only)
// song volume (spec.md §4.2, grounded on sampler.cpp's cost_L/cost_R
// computation).
type Sampler struct {
	voices    []*voice.Voice
	maxVoices int

	engineRate float64
	prng       *rng.Xorshift64

	songVolume float64

	// instruments is the fixed set of instruments Render resets peak
	// meters for each cycle. Populated once by SetInstruments at setup
	// time so the render path never allocates to discover it.
	instruments []*note.Instrument

	// counters, when set, receives the MissingLayer bumps Render's
	// NoteOn path produces; nil leaves the drops uncounted.
	counters *diag.Counters

	// scratch holds one voice's dry contribution per segment; it lives
	// on the Sampler so Render never allocates it per cycle, only
	// growing (via ensure) if a larger nframes ever arrives.
	scratch segmentBuf
}

// SetInstruments records the full instrument set Render should reset
// peak meters for. Call once at setup (or whenever the song's
// instrument list changes), never from the render path itself.
func (s *Sampler) SetInstruments(insts []*note.Instrument) {
	s.instruments = insts
}

// New allocates a Sampler with maxVoices pre-allocated Voice slots at
// the given engine sample rate. After this call the only allocation is
// Render's scratch buffer, made on the first Render and again whenever
// a larger segment arrives.
func New(maxVoices int, engineRate float64, seed uint64) *Sampler {
	voices := make([]*voice.Voice, maxVoices)
	for i := range voices {
		voices[i] = voice.New(engineRate)
	}
	return &Sampler{
		voices:     voices,
		maxVoices:  maxVoices,
		engineRate: engineRate,
		prng:       rng.New(seed),
		songVolume: 1,
	}
}

// SetCounters wires the shared RT error-counter block in; Render bumps
// MissingLayer through it. Call at setup, not from the render path.
func (s *Sampler) SetCounters(c *diag.Counters) {
	s.counters = c
}

// SetSongVolume sets the master gain applied to the main mix only
// (spec.md's supplemented song-level master volume; original
// sampler.cpp's "song volume" multiply on cost_L/cost_R).
func (s *Sampler) SetSongVolume(v float64) {
	s.songVolume = v
}

// ActiveVoiceCount returns how many voices are currently sounding.
func (s *Sampler) ActiveVoiceCount() int {
	n := 0
	for _, v := range s.voices {
		if v.IsActive() {
			n++
		}
	}
	return n
}

// findFree returns the index of an idle voice, or -1 if the pool is
// full.
func (s *Sampler) findFree() int {
	for i, v := range s.voices {
		if !v.IsActive() {
			return i
		}
	}
	return -1
}

// stealOldest returns the index of the oldest active voice (spec.md's
// required eviction policy when max_notes is exceeded).
func (s *Sampler) stealOldest() int {
	best := -1
	var bestAge int64 = -1
	for i, v := range s.voices {
		if !v.IsActive() {
			continue
		}
		if age := v.Age(); age > bestAge {
			best = i
			bestAge = age
		}
	}
	return best
}

// applyMuteGroup releases (not hard-stops) every other active voice
// sharing inst's mute group, at releaseOffset within the next render
// call (spec.md §4.2: "every other currently-live voice whose
// instrument shares g has its ADSR released this cycle at
// event.frame").
func (s *Sampler) applyMuteGroup(inst *note.Instrument, releaseOffset uint32) {
	group := inst.MuteGroup.Load()
	if group < 0 {
		return
	}
	for _, v := range s.voices {
		if !v.IsActive() {
			continue
		}
		other := v.Instrument()
		if other == nil || other == inst {
			continue
		}
		if other.MuteGroup.Load() == group {
			v.ScheduleRelease(releaseOffset)
		}
	}
}

// NoteOn triggers a new voice for n against layer, silenceOffset
// frames into the next render call. Returns false if the note was
// dropped (no instrument, no matching layer, or no voice slot to
// steal). With StopNotes set, the instrument's sounding voices are
// stopped first; that never causes a drop.
func (s *Sampler) NoteOn(n note.Note, silenceOffset uint32) bool {
	inst := n.Instrument
	if inst == nil {
		return false
	}
	layer, ok := inst.LayerForVelocity(n.Velocity)
	if !ok {
		if s.counters != nil {
			s.counters.MissingLayer.Add(1)
		}
		return false
	}

	if inst.StopNotes.Load() {
		for _, v := range s.voices {
			if v.IsActive() && v.Instrument() == inst {
				v.Stop()
			}
		}
	}
	s.applyMuteGroup(inst, silenceOffset)

	idx := s.findFree()
	if idx == -1 {
		idx = s.stealOldest()
		if idx == -1 {
			return false
		}
		s.voices[idx].Stop()
	}

	// total_pitch per spec.md §4.2: octave/key contribute semitones too.
	pitch := float64(n.Octave*12+n.Key) + n.Pitch + layer.Pitch
	if rp := inst.RandomPitchFactor.Load(); rp > 0 {
		// Preserves the original engine's formula literally (see
		// spec.md §9's open question): (2*N(0,0.2) - 1) * factor,
		// which biases the jitter downward on average rather than
		// symmetrically around 0.
		pitch += rp * (2*s.prng.GaussianSigma(0.2) - 1)
	}

	inst.Enqueue()
	s.voices[idx].Trigger(n, layer, pitch, silenceOffset)
	return true
}

// NoteOff schedules a release at releaseOffset for every active voice
// playing inst.
func (s *Sampler) NoteOff(inst *note.Instrument, releaseOffset uint32) {
	if inst == nil {
		return
	}
	for _, v := range s.voices {
		if v.IsActive() && v.Instrument() == inst {
			v.ScheduleRelease(releaseOffset)
		}
	}
}

// AllOff releases every active voice at releaseOffset frames into the
// next render call (spec.md §4.2: "AllOff: release all voices at
// event.frame"), letting each wind down its release tail rather than
// cutting to silence mid-sample.
func (s *Sampler) AllOff(releaseOffset uint32) {
	for _, v := range s.voices {
		if v.IsActive() {
			v.ScheduleRelease(releaseOffset)
		}
	}
}

// StopAll hard-stops every voice with no release tail. Not part of the
// event vocabulary; a host calls it when tearing the engine down.
func (s *Sampler) StopAll() {
	for _, v := range s.voices {
		v.Stop()
	}
}

// segmentBuf is a small scratch buffer reused across Render calls so
// the per-voice render loop never allocates; its backing arrays only
// ever grow to the largest segment seen, never shrink.
type segmentBuf struct {
	l, r []float32
}

func (b *segmentBuf) ensure(n int) {
	if cap(b.l) < n {
		b.l = make([]float32, n)
		b.r = make([]float32, n)
	}
	b.l = b.l[:n]
	b.r = b.r[:n]
}

func (b *segmentBuf) zero() {
	for i := range b.l {
		b.l[i] = 0
		b.r[i] = 0
	}
}

// Render plays events (already cycle-relative, as returned by
// event.Queue.Events) into outL/outR (and optionally trackL/trackR,
// fxL/fxR) across nframes, handling NoteOn/NoteOff/AllOff at their
// scheduled frame and mixing every active voice's contribution with
// the instrument gain chain. Render calls Instrument.Dequeue once for
// every event it examines (the refcount protocol documented in
// DESIGN.md). It does not advance the EventQueue; the caller
// (Sequencer) is responsible for Consume after Render returns.
func (s *Sampler) Render(events []event.SequenceEvent, nframes uint32, outL, outR []float32, trackL, trackR [][]float32, fxL, fxR [][]float32) {
	for _, inst := range s.instruments {
		inst.PeakL.Store(0)
		inst.PeakR.Store(0)
	}

	anySoloed := false
	for _, v := range s.voices {
		if v.IsActive() && v.Instrument() != nil && v.Instrument().Soloed.Load() {
			anySoloed = true
			break
		}
	}

	var cursor uint32

	renderSegment := func(end uint32) {
		if end <= cursor {
			return
		}
		n := end - cursor
		s.scratch.ensure(int(n))

		for _, v := range s.voices {
			if !v.IsActive() {
				continue
			}
			inst := v.Instrument()
			if inst == nil {
				continue
			}
			// A muted (or soloed-out) instrument zeroes the voice's gain
			// terms, nothing more (spec.md §4.2 step 1): the envelope and
			// playhead keep advancing so unmuting mid-note resumes the
			// sound where it would have been, matching sampler.cpp's
			// is_muted() branch setting cost_L/cost_R to 0 without
			// stopping the note.
			silenced := inst.Muted.Load() || (anySoloed && !inst.Soloed.Load())

			filterActive := inst.FilterActive.Load()
			cutoff := inst.FilterCutoff.Load()
			resonance := inst.FilterResonance.Load()

			// Each voice gets its own silent scratch: Voice.Render
			// accumulates, and the gain chain below must scale this
			// voice's contribution alone.
			s.scratch.zero()
			v.Render(s.scratch.l, s.scratch.r, filterActive, cutoff, resonance)
			if silenced {
				continue
			}

			// Gain chain, in the original's exact order: note velocity,
			// note pan, layer gain, instrument pan, instrument gain. The
			// FX send is tapped here, before volume is folded in. The
			// track tap and the main mix each then apply their own
			// single doubling (pan values are 0..0.5-ranged) — the
			// track's right after instrument volume, the main mix's
			// after song volume.
			costL := v.Velocity() * v.PanL() * v.LayerGain() * inst.PanL.Load() * inst.Gain.Load()
			costR := v.Velocity() * v.PanR() * v.LayerGain() * inst.PanR.Load() * inst.Gain.Load()

			if fxL != nil {
				for u := 0; u < note.MaxFX && u < len(fxL); u++ {
					level := inst.FXLevel[u].Load()
					if level <= 0 {
						continue
					}
					sendL := float32(costL * level)
					sendR := float32(costR * level)
					for i := uint32(0); i < n; i++ {
						fxL[u][cursor+i] += s.scratch.l[i] * sendL
						fxR[u][cursor+i] += s.scratch.r[i] * sendR
					}
				}
			}

			costL *= inst.Volume.Load()
			costR *= inst.Volume.Load()

			if trackL != nil && inst.ID < len(trackL) {
				trackCostL := float32(costL * 2)
				trackCostR := float32(costR * 2)
				for i := uint32(0); i < n; i++ {
					trackL[inst.ID][cursor+i] += s.scratch.l[i] * trackCostL
					trackR[inst.ID][cursor+i] += s.scratch.r[i] * trackCostR
				}
			}

			mixL := float32(costL * s.songVolume * 2)
			mixR := float32(costR * s.songVolume * 2)

			var peakL, peakR float32
			for i := uint32(0); i < n; i++ {
				vl := s.scratch.l[i] * mixL
				vr := s.scratch.r[i] * mixR
				outL[cursor+i] += vl
				outR[cursor+i] += vr
				if al := float32(math.Abs(float64(vl))); al > peakL {
					peakL = al
				}
				if ar := float32(math.Abs(float64(vr))); ar > peakR {
					peakR = ar
				}
			}
			if float64(peakL) > inst.PeakL.Load() {
				inst.PeakL.Store(float64(peakL))
			}
			if float64(peakR) > inst.PeakR.Load() {
				inst.PeakR.Store(float64(peakR))
			}
		}
		cursor = end
	}

	for _, e := range events {
		renderSegment(e.Frame)
		switch e.Kind {
		case event.NoteOn:
			if e.Note.IsNoteOff() {
				s.NoteOff(e.Note.Instrument, 0)
			} else {
				s.NoteOn(e.Note, 0)
			}
		case event.NoteOff:
			s.NoteOff(e.Note.Instrument, 0)
		case event.AllOff:
			s.AllOff(0)
		}
		if e.Note.Instrument != nil {
			e.Note.Instrument.Dequeue()
		}
	}
	renderSegment(nframes)
}
