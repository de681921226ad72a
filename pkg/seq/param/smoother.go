// Package param provides click-free ramping for control-surface values
// a host changes while audio is running, generalized from the
// teacher's pkg/framework/param smoother (its VST3 Parameter/
// automation-registry coupling dropped; this keeps only the smoothing
// math, which is domain-agnostic).
package param

import "math"

// SmoothingType selects a ramp shape.
type SmoothingType int

const (
	// LinearSmoothing steps evenly toward the target over Rate samples.
	LinearSmoothing SmoothingType = iota
	// ExponentialSmoothing is a one-pole filter toward the target.
	ExponentialSmoothing
)

// Smoother ramps a float64 control value toward a target instead of
// jumping to it, avoiding the audible click ("zipper noise") a bare
// assignment would cause mid-buffer.
type Smoother struct {
	kind      SmoothingType
	current   float64
	target    float64
	rate      float64
	threshold float64
	smoothing bool
	step      float64
}

// NewSmoother builds a Smoother. rate is samples-to-target for
// LinearSmoothing, or the one-pole coefficient (0.9-0.999) for
// ExponentialSmoothing.
func NewSmoother(kind SmoothingType, rate float64) *Smoother {
	return &Smoother{kind: kind, rate: rate, threshold: 0.0001}
}

// SetTarget starts ramping toward target, unless it is already within
// threshold of the current target.
func (s *Smoother) SetTarget(target float64) {
	if math.Abs(target-s.target) < s.threshold {
		return
	}
	s.target = target
	s.smoothing = true
	if s.kind == LinearSmoothing && s.rate > 0 {
		s.step = (target - s.current) / s.rate
	}
}

// Next advances one sample and returns the smoothed value.
func (s *Smoother) Next() float64 {
	if !s.smoothing {
		return s.current
	}
	switch s.kind {
	case ExponentialSmoothing:
		s.current += (s.target - s.current) * (1 - s.rate)
		if math.Abs(s.current-s.target) < s.threshold {
			s.current = s.target
			s.smoothing = false
		}
	case LinearSmoothing:
		s.current += s.step
		if (s.step > 0 && s.current >= s.target) || (s.step < 0 && s.current <= s.target) {
			s.current = s.target
			s.smoothing = false
		}
	}
	return s.current
}

// Reset snaps the smoother to value with no ramp in progress.
func (s *Smoother) Reset(value float64) {
	s.current = value
	s.target = value
	s.smoothing = false
}

// IsSmoothing reports whether a ramp is still in progress.
func (s *Smoother) IsSmoothing() bool { return s.smoothing }

// SetRate changes the ramp rate. A LinearSmoothing step is recomputed
// only at the next SetTarget; an ExponentialSmoothing coefficient
// takes effect at the next Next call, mid-ramp included.
func (s *Smoother) SetRate(rate float64) { s.rate = rate }
