// Package transport implements TransportPosition and Transport from
// spec.md §3-§4.3: the sample-accurate musical clock that every other
// component in the core reads a copy of once per audio cycle.
package transport

import "math"

// State is the transport's run state.
type State int

const (
	Stopped State = iota
	Rolling
)

// Granularity selects the musical unit Floor/Ceil/Round snap to.
type Granularity int

const (
	Bar Granularity = iota
	Beat
	Tick
)

// Position is the value type carrying the sample-accurate musical
// location for one audio cycle (spec.md §3). Nothing about Position
// mutates a running system: Transport hands out copies, and every
// method here returns a new Position rather than mutating the
// receiver.
type Position struct {
	State       State
	NewPosition bool

	Frame     uint64
	FrameRate uint32

	Bar          uint32
	Beat         uint32
	Tick         uint32
	BBTOffset    uint32
	BarStartTick uint64

	BeatsPerBar    uint32
	BeatType       uint32
	TicksPerBeat   uint32
	BeatsPerMinute float64
}

// FramesPerTick is the derived frame duration of one tick at the
// position's current tempo (spec.md §3).
func (p Position) FramesPerTick() float64 {
	if p.BeatsPerMinute <= 0 || p.TicksPerBeat == 0 {
		return 0
	}
	return float64(p.FrameRate) * 60 / (p.BeatsPerMinute * float64(p.TicksPerBeat))
}

// ticksPerBar is the position's locally-assumed bar length: the time
// signature recorded on the position itself is treated as constant
// for the purpose of the position's own pure arithmetic. Transport is
// the component that consults SongModel.TicksInBar to learn a bar's
// true length as it crosses into it (see transport.go); Position's
// methods only need to be self-consistent within the snapshot they
// were handed.
func (p Position) ticksPerBar() uint64 {
	return uint64(p.BeatsPerBar) * uint64(p.TicksPerBeat)
}

// absoluteTick returns the number of whole ticks elapsed since the
// start of the song, not counting BBTOffset.
func (p Position) absoluteTick() uint64 {
	return p.BarStartTick + uint64(p.Beat-1)*uint64(p.TicksPerBeat) + uint64(p.Tick)
}

// setFromAbsoluteTick rewrites Bar/Beat/Tick/BarStartTick from an
// absolute tick count, assuming the position's current BeatsPerBar/
// TicksPerBeat apply uniformly. BBTOffset is left untouched; callers
// that want it cleared do so explicitly.
func (p *Position) setFromAbsoluteTick(tick uint64) {
	perBar := p.ticksPerBar()
	if perBar == 0 {
		p.Bar, p.Beat, p.Tick, p.BarStartTick = 1, 1, 0, 0
		return
	}
	barIdx := tick / perBar
	rem := tick % perBar
	p.Bar = uint32(barIdx) + 1
	p.BarStartTick = barIdx * perBar
	if p.TicksPerBeat == 0 {
		p.Beat, p.Tick = 1, 0
		return
	}
	p.Beat = uint32(rem/uint64(p.TicksPerBeat)) + 1
	p.Tick = uint32(rem % uint64(p.TicksPerBeat))
}

// unitTicks returns the size, in ticks, of one unit of g.
func (p Position) unitTicks(g Granularity) uint64 {
	switch g {
	case Bar:
		return p.ticksPerBar()
	case Beat:
		return uint64(p.TicksPerBeat)
	default:
		return 1
	}
}

// fractionalAbsoluteTick is absoluteTick plus the sub-tick fraction
// implied by BBTOffset, used by Round to decide which side of a unit
// boundary the position falls on.
func (p Position) fractionalAbsoluteTick() float64 {
	base := float64(p.absoluteTick())
	fpt := p.FramesPerTick()
	if fpt <= 0 {
		return base
	}
	return base + float64(p.BBTOffset)/fpt
}

// snap rebuilds a Position at the given absolute tick count, with
// BBTOffset cleared.
func (p Position) snap(absTick uint64) Position {
	np := p
	np.setFromAbsoluteTick(absTick)
	np.BBTOffset = 0
	return np
}

// Floor rounds down to the start of the enclosing g.
func (p Position) Floor(g Granularity) Position {
	unit := p.unitTicks(g)
	if unit == 0 {
		return p
	}
	units := math.Floor(p.fractionalAbsoluteTick() / float64(unit))
	return p.snap(uint64(units) * unit)
}

// Ceil rounds up to the start of the next g, or stays put if already
// exactly aligned. Applying Ceil twice is idempotent.
func (p Position) Ceil(g Granularity) Position {
	unit := p.unitTicks(g)
	if unit == 0 {
		return p
	}
	units := math.Ceil(p.fractionalAbsoluteTick() / float64(unit))
	return p.snap(uint64(units) * unit)
}

// Round snaps to the nearest g boundary.
func (p Position) Round(g Granularity) Position {
	unit := p.unitTicks(g)
	if unit == 0 {
		return p
	}
	units := math.Round(p.fractionalAbsoluteTick() / float64(unit))
	if units < 0 {
		units = 0
	}
	return p.snap(uint64(units) * unit)
}

// Add shifts the position by deltaTicks (positive or negative) whole
// ticks, clearing BBTOffset. This implements both the unary
// increment/decrement ("one tick") and the general "± ticks"
// operation from spec.md §3.
func (p Position) Add(deltaTicks int64) Position {
	cur := int64(p.absoluteTick())
	next := cur + deltaTicks
	if next < 0 {
		next = 0
	}
	return p.snap(uint64(next))
}

// Inc advances by one tick.
func (p Position) Inc() Position { return p.Add(1) }

// Dec retreats by one tick (clamped at tick 0).
func (p Position) Dec() Position { return p.Add(-1) }
