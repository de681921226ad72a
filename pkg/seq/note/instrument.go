package note

import "sync/atomic"

// MaxLayers is the maximum number of velocity-keyed sample layers an
// Instrument may carry (spec.md §3, "up to MAX_LAYERS sample layers").
const MaxLayers = 16

// MaxFX is the number of effect sends an instrument can feed (the
// per-instrument FX levels carried over from the original engine's
// LADSPA send model; see SPEC_FULL.md's supplemented-features list).
const MaxFX = 4

// Sample is the in-memory, decoded representation of one drum hit.
// Decoding audio files from disk is out of the core's scope (spec.md
// §1); this is only the shape the renderer consumes.
type Sample struct {
	// Data holds one []float32 per channel. A mono sample has one
	// channel and is duplicated to both output channels at render
	// time (spec.md §4.2, "mono samples duplicate to both channels").
	Data       [][]float32
	SampleRate float64
}

// Frames returns the sample's length in frames.
func (s *Sample) Frames() int {
	if s == nil || len(s.Data) == 0 {
		return 0
	}
	return len(s.Data[0])
}

// Channels returns the number of channels stored in the sample.
func (s *Sample) Channels() int {
	if s == nil {
		return 0
	}
	return len(s.Data)
}

// At returns the value of channel ch at frame i, or 0 past the end
// (spec.md §4.2's "last sample interpolates against 0").
func (s *Sample) At(ch, i int) float32 {
	if s == nil || ch >= len(s.Data) {
		return 0
	}
	data := s.Data[ch]
	if i < 0 || i >= len(data) {
		return 0
	}
	return data[i]
}

// Layer is one velocity-keyed sample within an Instrument.
type Layer struct {
	StartVelocity float64
	EndVelocity   float64
	Gain          float64
	Pitch         float64
	Sample        *Sample
}

// Contains reports whether velocity falls within this layer's
// [StartVelocity, EndVelocity] range.
func (l *Layer) Contains(velocity float64) bool {
	return velocity >= l.StartVelocity && velocity <= l.EndVelocity
}

// Instrument is the shared, read-mostly description of one drum
// sound (spec.md §3). A single Instrument is referenced by every Note
// and every Voice that plays it; scalar fields that the UI can change
// live are stored behind AtomicFloat64/atomic types so the RT thread
// never blocks on a control-plane write, at the cost of the reader
// possibly observing a value up to one cycle stale.
type Instrument struct {
	ID   int
	Name string

	Gain              AtomicFloat64
	Volume            AtomicFloat64
	PanL              AtomicFloat64
	PanR              AtomicFloat64
	FilterActive      atomic.Bool
	FilterCutoff      AtomicFloat64
	FilterResonance   AtomicFloat64
	RandomPitchFactor AtomicFloat64
	MuteGroup         atomic.Int32 // -1 => none
	StopNotes         atomic.Bool
	Muted             atomic.Bool
	Soloed            atomic.Bool

	// PeakL/PeakR are the instrument's current output peak, written by
	// the Sampler's mixer each cycle and reset to 0 at the start of the
	// next one (the original engine's "this value will be reset to 0
	// by the mixer" contract). Read-only from anywhere but the Sampler.
	PeakL AtomicFloat64
	PeakR AtomicFloat64

	adsrTemplate atomic.Pointer[Template]

	Layers    [MaxLayers]Layer
	NumLayers int

	FXLevel [MaxFX]AtomicFloat64

	// queued is the cyclic-reference discipline described in
	// spec.md §3 ("Instrument.queued counter"): incremented when an
	// event referencing this instrument is enqueued, decremented
	// when the voice it spawned terminates or the event is dropped.
	// An instrument may only be freed once this reaches zero.
	queued atomic.Int64
}

// NewInstrument creates an instrument with sane defaults: full gain
// and volume, centered pan, no mute group, and tmpl as its ADSR.
func NewInstrument(id int, name string, tmpl Template) *Instrument {
	inst := &Instrument{ID: id, Name: name}
	inst.Gain.Store(1)
	inst.Volume.Store(1)
	inst.PanL.Store(0.5)
	inst.PanR.Store(0.5)
	inst.FilterCutoff.Store(1)
	inst.FilterResonance.Store(0)
	inst.MuteGroup.Store(-1)
	inst.adsrTemplate.Store(&tmpl)
	return inst
}

// ADSRTemplate returns the envelope template currently in effect.
func (i *Instrument) ADSRTemplate() Template {
	if t := i.adsrTemplate.Load(); t != nil {
		return *t
	}
	return Template{Sustain: 1}
}

// SetADSRTemplate swaps the envelope template atomically; voices
// already playing keep whatever Template they were triggered with,
// only new NoteOns pick up the change.
func (i *Instrument) SetADSRTemplate(tmpl Template) {
	i.adsrTemplate.Store(&tmpl)
}

// AddLayer appends a velocity-keyed layer. Returns false if the
// instrument is already at MaxLayers.
func (i *Instrument) AddLayer(l Layer) bool {
	if i.NumLayers >= MaxLayers {
		return false
	}
	i.Layers[i.NumLayers] = l
	i.NumLayers++
	return true
}

// LayerForVelocity finds the layer whose velocity range contains
// velocity. Returns ok=false if no layer matches (spec.md §4.2,
// "MissingLayer" — the caller must drop the event, not panic).
func (i *Instrument) LayerForVelocity(velocity float64) (*Layer, bool) {
	for idx := 0; idx < i.NumLayers; idx++ {
		if i.Layers[idx].Contains(velocity) {
			return &i.Layers[idx], true
		}
	}
	return nil, false
}

// Enqueue increments the queued reference count; called once per
// SequenceEvent created that references this instrument.
func (i *Instrument) Enqueue() {
	i.queued.Add(1)
}

// Dequeue decrements the queued reference count; called when an
// event referencing this instrument is consumed, dropped, or the
// voice it spawned terminates.
func (i *Instrument) Dequeue() {
	i.queued.Add(-1)
}

// Queued returns the current reference count. An instrument is safe
// to free only once this reaches zero (spec.md §3, §9).
func (i *Instrument) Queued() int64 {
	return i.queued.Load()
}
