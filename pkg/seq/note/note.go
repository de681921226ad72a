package note

// Note is a passive value describing one hit: everything the
// sequencer inputs compute about a pattern event before it becomes a
// SequenceEvent, plus everything the sampler needs to render it
// (spec.md §3).
type Note struct {
	Pitch         float64 // semitone offset, signed
	Velocity      float64 // 0..1
	PanL          float64 // 0..0.5
	PanR          float64 // 0..0.5
	Length        int64   // ticks; negative => play sample to end
	Key           int
	Octave        int
	LeadLag       float64 // -1..1
	HumanizeDelay int32   // frames, signed

	Instrument *Instrument
}

// IsNoteOff reports whether this note should be treated as a NoteOff
// rather than a NoteOn: spec.md §8 requires "Zero-velocity NoteOn is
// treated as NoteOff".
func (n Note) IsNoteOff() bool {
	return n.Velocity <= 0
}
