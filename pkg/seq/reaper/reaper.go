// Package reaper implements spec.md §5 and §9's retirement queue: the
// non-RT thread that defers freeing an Instrument until its queued
// refcount (spec.md §3's cyclic-reference discipline) reaches zero.
// Grounded on the same periodic-poll-and-drain shape as
// pkg/seq/diag.RunDrain (itself adapted from the teacher's
// pkg/framework/debug.Profiler), pointed at Instrument.Queued instead
// of RT error counters.
package reaper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
)

// pending is one Instrument awaiting a safe-to-free signal.
type pending struct {
	inst *note.Instrument
	free func(*note.Instrument)
}

// Reaper is the non-RT collaborator a song-swap or kit-unload
// control path hands retiring Instruments to, instead of freeing them
// directly: an Instrument must not be destroyed while any enqueued
// event or live Voice still references it (spec.md §3). Safe to
// Retire from any goroutine; Run must only be driven by one goroutine
// at a time.
type Reaper struct {
	in      chan pending
	pending atomic.Int64
}

// New builds a Reaper with room for capacity concurrently-retiring
// instruments before Retire blocks its caller.
func New(capacity int) *Reaper {
	return &Reaper{in: make(chan pending, capacity)}
}

// Retire enqueues inst for deletion once its queued refcount reaches
// zero. free is called exactly once, from the Run goroutine, when
// that happens — typically releasing the instrument's sample data and
// dropping the song's own reference to it.
func (r *Reaper) Retire(inst *note.Instrument, free func(*note.Instrument)) {
	if inst == nil || free == nil {
		return
	}
	r.pending.Add(1)
	r.in <- pending{inst: inst, free: free}
}

// Run polls every pollInterval for retiring instruments whose queued
// refcount has reached zero, until ctx is canceled. It never blocks
// the RT thread: Instrument.Queued is a plain atomic load, and Run
// itself is meant to be started on its own goroutine (typically
// alongside diag.RunDrain) rather than called from anywhere in
// pkg/seq's Process call graph.
func (r *Reaper) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var waiting []pending
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-r.in:
			waiting = append(waiting, p)
		case <-ticker.C:
			waiting = r.sweep(waiting)
		}
	}
}

// sweep frees every instrument in waiting whose queued count has
// reached zero and returns the remainder, preserving retirement
// order.
func (r *Reaper) sweep(waiting []pending) []pending {
	remaining := waiting[:0]
	for _, p := range waiting {
		if p.inst.Queued() <= 0 {
			p.free(p.inst)
			r.pending.Add(-1)
			continue
		}
		remaining = append(remaining, p)
	}
	return remaining
}

// Pending returns how many instruments are still awaiting a safe
// refcount (queued for Run to pick up, plus those already picked up
// and not yet freeable). Used by diagnostics/tests; not part of the
// RT path.
func (r *Reaper) Pending() int {
	return int(r.pending.Load())
}
