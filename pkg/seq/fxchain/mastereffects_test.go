package fxchain

import (
	"math"
	"testing"
)

func TestDCBlockerStageRemovesConstantOffset(t *testing.T) {
	s := NewDCBlockerStage(48000)
	left := make([]float32, 4000)
	right := make([]float32, 4000)
	for i := range left {
		left[i] = 0.5
		right[i] = -0.5
	}
	s.ProcessStereo(left, right)

	if got := left[len(left)-1]; got > 0.01 || got < -0.01 {
		t.Fatalf("expected DC offset removed from left channel, settled at %v", got)
	}
	if got := right[len(right)-1]; got > 0.01 || got < -0.01 {
		t.Fatalf("expected DC offset removed from right channel, settled at %v", got)
	}
}

func TestRumbleFilterStageAttenuatesLowFrequencyMoreThanHigh(t *testing.T) {
	const sampleRate = 48000.0
	lowHz, highHz := 20.0, 2000.0
	n := 4096

	measure := func(freqHz float64) float32 {
		s := NewRumbleFilterStage(sampleRate, 30)
		left := make([]float32, n)
		right := make([]float32, n)
		for i := range left {
			left[i] = float32(math.Sin(2 * math.Pi * freqHz * float64(i) / sampleRate))
		}
		s.ProcessStereo(left, right)
		var peak float32
		for _, v := range left[n/2:] { // settle past the filter's transient
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		return peak
	}

	lowPeak := measure(lowHz)
	highPeak := measure(highHz)
	if lowPeak >= highPeak {
		t.Fatalf("expected a 30Hz highpass to attenuate 20Hz (%v) more than 2kHz (%v)", lowPeak, highPeak)
	}
}

func TestLimiterStageCapsOutputAtThreshold(t *testing.T) {
	s := NewLimiterStage(48000)
	s.SetThreshold(-6) // ~0.501 linear

	n := 1000
	left := make([]float32, n)
	right := make([]float32, n)
	for i := range left {
		left[i] = 1.0
		right[i] = 1.0
	}
	s.ProcessStereo(left, right)

	thresholdLinear := float32(0.501)
	for i := n / 2; i < n; i++ { // past the release's settling window
		if left[i] > thresholdLinear+0.05 {
			t.Fatalf("sample %d left=%v exceeds threshold-ish ceiling %v", i, left[i], thresholdLinear)
		}
	}
}

func TestDelaySendStageReturnsDelayedSignal(t *testing.T) {
	const sampleRate = 48000.0
	sendL := make([]float32, 1000)
	sendR := make([]float32, 1000)
	sendL[0] = 1.0
	s := NewDelaySendStage(sampleRate, 10, 0, sendL, sendR)

	left := make([]float32, 1000)
	right := make([]float32, 1000)
	s.ProcessStereo(left, right)

	delaySamples := int(10 * sampleRate / 1000)
	found := false
	for i := delaySamples - 1; i <= delaySamples+1; i++ {
		if left[i] > 0.1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the impulse to reappear near sample %d, none of the neighborhood exceeded 0.1", delaySamples)
	}
}

func TestBitCrusherStageQuantizesToFewLevels(t *testing.T) {
	s := NewBitCrusherStage(48000, 2, 1.0, 1.0) // 2-bit: levels at -1, -0.5, 0, 0.5
	left := []float32{0.1, 0.2, 0.3, 0.24, -0.1}
	right := make([]float32, len(left))
	s.ProcessStereo(left, right)

	for _, v := range left {
		nearest := float32(0.0)
		best := float32(1 << 30)
		for _, level := range []float32{-1, -0.5, 0, 0.5} {
			d := v - level
			if d < 0 {
				d = -d
			}
			if d < best {
				best = d
				nearest = level
			}
		}
		if diff := v - nearest; diff > 0.02 || diff < -0.02 {
			t.Fatalf("expected %v to land on a 2-bit level, nearest was %v", v, nearest)
		}
	}
}

func TestChorusStageWithZeroMixIsTransparent(t *testing.T) {
	s := NewChorusStage(48000, 0)
	left := []float32{0.1, 0.2, -0.3, 0.4}
	right := []float32{0.1, 0.2, -0.3, 0.4}
	wantL := append([]float32{}, left...)
	wantR := append([]float32{}, right...)

	s.ProcessStereo(left, right)

	for i := range left {
		if left[i] != wantL[i] || right[i] != wantR[i] {
			t.Fatalf("zero-mix chorus should pass signal through unchanged, sample %d: got (%v,%v) want (%v,%v)",
				i, left[i], right[i], wantL[i], wantR[i])
		}
	}
}

func TestFreeverbStageAddsEnergyToMasterBus(t *testing.T) {
	sendL := make([]float32, 2000)
	sendR := make([]float32, 2000)
	sendL[0], sendR[0] = 1.0, 1.0

	s := NewFreeverbStage(48000, sendL, sendR)
	s.SetPresetMediumHall()

	left := make([]float32, 2000)
	right := make([]float32, 2000)
	s.ProcessStereo(left, right)

	var sum float32
	for _, v := range left {
		if v < 0 {
			v = -v
		}
		sum += v
	}
	if sum == 0 {
		t.Fatalf("expected the reverb tail to add nonzero energy to the master bus")
	}
}
