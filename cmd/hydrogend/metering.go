package main

import "math"

// peakMeter tracks the master bus's peak level in dBFS with an
// exponential decay back toward the current block's peak, so the
// shutdown log line reports a representative level rather than
// whatever sample happened to land last.
type peakMeter struct {
	decayPerSample float64
	peak           float64
}

// newPeakMeter builds a meter with a 20dB/second decay rate, the rate
// a VU-style meter ballistic typically settles at.
func newPeakMeter(sampleRate float64) *peakMeter {
	const decayDbPerSecond = 20.0
	return &peakMeter{
		decayPerSample: math.Pow(10, -decayDbPerSecond/20/sampleRate),
	}
}

// process folds buf's peak magnitude into the running level, decaying
// the prior level once per sample before comparing.
func (m *peakMeter) process(buf []float32) {
	for _, s := range buf {
		m.peak *= m.decayPerSample
		abs := float64(s)
		if abs < 0 {
			abs = -abs
		}
		if abs > m.peak {
			m.peak = abs
		}
	}
}

// peakDB reports the current level in dBFS, or -100 for silence.
func (m *peakMeter) peakDB() float64 {
	if m.peak <= 0 {
		return -100
	}
	return 20 * math.Log10(m.peak)
}
