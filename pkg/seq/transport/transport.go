package transport

import (
	"math"
	"sync/atomic"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/iface"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
)

// songBox lets Transport swap its SongModel behind a single atomic
// pointer (spec.md §5: "published snapshots swapped atomically for
// larger state ... song pointer"). An interface value can't be stored
// directly in atomic.Pointer across calls with different concrete
// types, so it's boxed.
type songBox struct {
	s iface.SongModel
}

// ExternalMaster lets an outside clock (a host transport, an external
// MIDI clock) drive Position instead of Transport's own tick
// accumulator (spec.md §4.3's clock-master delegation). Position is
// called once per Advance and, when ok is true, its return value
// replaces Transport's internally-computed position for that cycle.
type ExternalMaster interface {
	Position(nframes uint32) (Position, bool)
}

// Transport owns the running musical clock: one Position, advanced
// sample-accurately every cycle. Like the rest of the sequencer core,
// a single RT thread owns Transport exclusively (spec.md §5); the
// only inputs that may arrive from another goroutine are SetTempo and
// SetSong (via atomics) and SetMaster/Locate/Start/Stop, which callers must
// only invoke while the RT thread is quiesced (not concurrently with
// Advance).
type Transport struct {
	pos Position
	song atomic.Pointer[songBox]

	tempo       note.AtomicFloat64
	ditherAccum float64

	external ExternalMaster
}

// songModel returns the currently published SongModel, or nil if none
// has been set.
func (t *Transport) songModel() iface.SongModel {
	if b := t.song.Load(); b != nil {
		return b.s
	}
	return nil
}

// SetSong publishes a new SongModel, visible to the RT thread at the
// start of its next Advance/Locate call (spec.md §6's set_song control,
// swapped atomically per spec.md §5). A nil song reverts to the
// fixed-meter fallback.
func (t *Transport) SetSong(song iface.SongModel) {
	t.song.Store(&songBox{s: song})
}

// Config seeds the initial musical grid for a new Transport.
type Config struct {
	FrameRate      uint32
	BeatsPerBar    uint32
	BeatType       uint32
	TicksPerBeat   uint32
	BeatsPerMinute float64
}

// New builds a stopped Transport at bar 1, beat 1, tick 0.
func New(song iface.SongModel, cfg Config) *Transport {
	t := &Transport{}
	t.song.Store(&songBox{s: song})
	t.pos = Position{
		State:          Stopped,
		FrameRate:      cfg.FrameRate,
		Bar:            1,
		Beat:           1,
		BeatsPerBar:    cfg.BeatsPerBar,
		BeatType:       cfg.BeatType,
		TicksPerBeat:   cfg.TicksPerBeat,
		BeatsPerMinute: cfg.BeatsPerMinute,
	}
	t.tempo.Store(cfg.BeatsPerMinute)
	return t
}

// SetTempo changes the tempo. Safe to call from any goroutine; the
// new value is adopted at the start of the next Advance, never
// mid-tick.
func (t *Transport) SetTempo(bpm float64) {
	t.tempo.Store(bpm)
}

// SetMaster delegates position ownership to m. Must only be called
// while the RT thread is not concurrently inside Advance.
func (t *Transport) SetMaster(m ExternalMaster) {
	t.external = m
}

// ClearMaster restores Transport's own tick accumulator as the clock
// source.
func (t *Transport) ClearMaster() {
	t.external = nil
}

// Position returns the position as of the end of the last Advance
// call (or the initial position, before the first Advance).
func (t *Transport) Position() Position {
	return t.pos
}

// Start begins rolling from the current position.
func (t *Transport) Start() {
	t.pos.State = Rolling
	t.pos.NewPosition = true
}

// Stop halts the transport in place.
func (t *Transport) Stop() {
	t.pos.State = Stopped
	t.pos.NewPosition = true
}

// Locate relocates the transport to an explicit bar:beat:tick,
// consulting the SongModel (if any) for that bar's true length so
// BarStartTick and BeatsPerBar stay consistent across meter changes.
func (t *Transport) Locate(bar, beat, tick uint32) {
	if bar < 1 {
		bar = 1
	}
	if song := t.songModel(); song != nil {
		t.pos.BarStartTick = song.BarStartTick(bar)
		if ticksInBar := song.TicksInBar(bar); t.pos.TicksPerBeat > 0 && ticksInBar > 0 {
			t.pos.BeatsPerBar = ticksInBar / t.pos.TicksPerBeat
		}
	} else {
		t.pos.BarStartTick = uint64(bar-1) * t.pos.ticksPerBar()
	}
	t.pos.Bar = bar
	t.pos.Beat = beat
	t.pos.Tick = tick
	t.pos.BBTOffset = 0
	t.ditherAccum = 0
	if fpt := t.pos.FramesPerTick(); fpt > 0 {
		t.pos.Frame = uint64(float64(t.pos.absoluteTick()) * fpt)
	}
	t.pos.NewPosition = true
}

// LocateFrame relocates the transport to an absolute frame position,
// deriving the musical location from the tempo in effect and the
// SongModel's per-bar lengths (spec.md §6's locate(frame) form).
func (t *Transport) LocateFrame(frame uint64) {
	fpt := t.pos.FramesPerTick()
	if fpt <= 0 {
		return
	}
	absTick := uint64(float64(frame) / fpt)
	t.pos.Frame = frame
	t.pos.BBTOffset = uint32(float64(frame) - float64(absTick)*fpt)
	t.ditherAccum = 0

	if song := t.songModel(); song != nil {
		bar := uint32(1)
		start := uint64(0)
		for {
			ticksInBar := uint64(song.TicksInBar(bar))
			if ticksInBar == 0 || absTick < start+ticksInBar {
				break
			}
			start += ticksInBar
			bar++
		}
		t.pos.Bar = bar
		t.pos.BarStartTick = start
		if ticksInBar := song.TicksInBar(bar); t.pos.TicksPerBeat > 0 && ticksInBar > 0 {
			t.pos.BeatsPerBar = ticksInBar / t.pos.TicksPerBeat
		}
		rem := absTick - start
		if t.pos.TicksPerBeat > 0 {
			t.pos.Beat = uint32(rem/uint64(t.pos.TicksPerBeat)) + 1
			t.pos.Tick = uint32(rem % uint64(t.pos.TicksPerBeat))
		} else {
			t.pos.Beat, t.pos.Tick = 1, 0
		}
	} else {
		t.pos.setFromAbsoluteTick(absTick)
	}
	t.pos.NewPosition = true
}

// Advance moves the transport forward by nframes and returns the
// position as it was at the *start* of this cycle: the snapshot every
// other component (EventQueue consumers, Voice scheduling) must use
// to interpret this cycle's frame-relative offsets (spec.md §4.3).
//
// When frames-per-tick is not a whole number (the common case: most
// tempos don't divide the sample rate evenly), Advance dithers tick
// boundaries with a carried fractional-frame accumulator so that,
// averaged over many ticks, the tick rate matches the exact tempo
// instead of drifting.
func (t *Transport) Advance(nframes uint32) Position {
	snapshot := t.pos

	if t.external != nil {
		if mp, ok := t.external.Position(nframes); ok {
			t.pos = mp
			t.pos.NewPosition = false
			return snapshot
		}
	}

	if bpm := t.tempo.Load(); bpm > 0 {
		t.pos.BeatsPerMinute = bpm
	}

	if t.pos.State != Rolling {
		// spec.md §4.3: while Stopped, nothing advances except
		// new_position dropping back to false.
		t.pos.NewPosition = false
		return snapshot
	}

	song := t.songModel()
	remaining := nframes
	for remaining > 0 {
		fpt := t.pos.FramesPerTick()
		if fpt <= 0 {
			t.pos.Frame += uint64(remaining)
			break
		}

		framesToBoundary := fpt - float64(t.pos.BBTOffset) + t.ditherAccum
		step := int64(math.Floor(framesToBoundary))
		if step < 1 {
			step = 1
		}
		if step > int64(remaining) {
			t.pos.BBTOffset += remaining
			t.pos.Frame += uint64(remaining)
			remaining = 0
			break
		}

		t.ditherAccum = framesToBoundary - float64(step)
		t.pos.Frame += uint64(step)
		remaining -= uint32(step)
		t.pos = t.pos.Inc()

		if song != nil && t.pos.Beat == 1 && t.pos.Tick == 0 {
			if ticksInBar := song.TicksInBar(t.pos.Bar); t.pos.TicksPerBeat > 0 && ticksInBar > 0 {
				t.pos.BeatsPerBar = ticksInBar / t.pos.TicksPerBeat
			}
		}
	}

	t.pos.NewPosition = false
	return snapshot
}
