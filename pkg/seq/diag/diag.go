// Package diag is the non-RT control-plane half of spec.md §7's error
// handling design: the RT thread only ever bumps plain atomic
// counters, and a background goroutine here drains them into
// structured log lines once a second. Grounded on the teacher's
// pkg/framework/debug.Profiler (a periodic, lock-light drain of
// counters collected off the hot path) with the teacher's bare `log`
// calls swapped for logrus, the pack's structured-logging convention
// (see DESIGN.md).
package diag

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Counters are the atomic registers spec.md §7 requires for every
// RT-thread failure kind that must not abort the cycle. Every field
// is safe to increment from the audio thread; nothing here ever
// blocks or allocates.
type Counters struct {
	CapacityExceeded atomic.Uint64 // EventQueue.Insert returned ErrCapacityExceeded
	MissingLayer     atomic.Uint64 // NoteOn velocity matched no instrument layer
	SampleExhausted  atomic.Uint64 // voice retired by running past its sample (informational, not an error)
	Xruns            atomic.Uint64 // AudioBackend reported a missed deadline
	Dropped          atomic.Uint64 // any other event dropped before reaching a sink

	// Allocations sums, over all cycles, the heap allocations that
	// pkg/seq/rtcheck's tracker (built with -tags debug) counted during
	// Sequencer.Process. Always 0 in a production (no debug tag)
	// build, where the tracker is a zero-cost no-op.
	Allocations atomic.Uint64
}

// snapshot is a point-in-time copy used to compute the per-second
// delta the logger reports.
type snapshot struct {
	capacityExceeded, missingLayer, sampleExhausted, xruns, dropped, allocations uint64
}

func (c *Counters) snapshot() snapshot {
	return snapshot{
		capacityExceeded: c.CapacityExceeded.Load(),
		missingLayer:     c.MissingLayer.Load(),
		sampleExhausted:  c.SampleExhausted.Load(),
		xruns:            c.Xruns.Load(),
		dropped:          c.Dropped.Load(),
		allocations:      c.Allocations.Load(),
	}
}

// ReportXrun is a convenience an AudioBackend adapter calls from
// whatever non-RT path it learns of a missed deadline on (spec.md §5:
// "an xrun is reported out-of-band if it does not [complete in time]").
func (c *Counters) ReportXrun() {
	c.Xruns.Add(1)
}

// Logger wraps a logrus.Logger the way the teacher's debug package
// wraps the standard log.Logger: a thin, level-aware facade used only
// by non-RT code (RunDrain and cmd/hydrogend).
// Nothing under pkg/seq's RT call graph holds a reference to this.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger builds a Logger at the given level with component="hydrogen".
func NewLogger(level logrus.Level) *Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: l.WithField("component", "hydrogen")}
}

// With returns a Logger scoped to an additional structured field,
// mirroring logrus's own WithField chaining.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// RunDrain logs at most one line per second summarizing how each
// counter moved since the last logged line, until ctx is canceled; a
// second in which no counter moved logs nothing. This is the
// concrete "background goroutine drains them into logrus fields"
// mechanism SPEC_FULL.md's ambient-stack section describes.
func RunDrain(ctx context.Context, c *Counters, log *Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prev := c.snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := c.snapshot()
			if cur == prev {
				continue
			}
			log.With("capacity_exceeded", cur.capacityExceeded-prev.capacityExceeded).
				With("missing_layer", cur.missingLayer-prev.missingLayer).
				With("sample_exhausted", cur.sampleExhausted-prev.sampleExhausted).
				With("xruns", cur.xruns-prev.xruns).
				With("dropped", cur.dropped-prev.dropped).
				With("allocations", cur.allocations-prev.allocations).
				Infof("rt counters")
			prev = cur
		}
	}
}
