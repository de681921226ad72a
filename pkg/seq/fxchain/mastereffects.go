package fxchain

import "math"

// combFilter is a feedback comb filter with one-pole damping in its
// feedback path, the building block FreeverbStage layers eight of per
// channel to build a reverb tail.
type combFilter struct {
	buf      []float32
	idx      int
	feedback float32
	damp1    float32
	damp2    float32
	store    float32
}

func newCombFilter(delaySamples int) *combFilter {
	if delaySamples < 1 {
		delaySamples = 1
	}
	return &combFilter{buf: make([]float32, delaySamples), feedback: 0.5, damp1: 0.5, damp2: 0.5}
}

func (c *combFilter) setFeedback(fb float32) { c.feedback = fb }

func (c *combFilter) setDamping(d float32) {
	c.damp1 = d
	c.damp2 = 1 - d
}

func (c *combFilter) process(input float32) float32 {
	out := c.buf[c.idx]
	c.store = out*c.damp2 + c.store*c.damp1
	c.buf[c.idx] = input + c.feedback*c.store
	c.idx++
	if c.idx >= len(c.buf) {
		c.idx = 0
	}
	return out
}

func (c *combFilter) reset() {
	for i := range c.buf {
		c.buf[i] = 0
	}
	c.idx, c.store = 0, 0
}

// allpassFilter diffuses a comb filter's output into a smoother tail.
type allpassFilter struct {
	buf      []float32
	idx      int
	feedback float32
}

func newAllpassFilter(delaySamples int) *allpassFilter {
	if delaySamples < 1 {
		delaySamples = 1
	}
	return &allpassFilter{buf: make([]float32, delaySamples), feedback: 0.5}
}

func (a *allpassFilter) process(input float32) float32 {
	bufOut := a.buf[a.idx]
	out := -input + bufOut
	a.buf[a.idx] = input + a.feedback*bufOut
	a.idx++
	if a.idx >= len(a.buf) {
		a.idx = 0
	}
	return out
}

func (a *allpassFilter) reset() {
	for i := range a.buf {
		a.buf[i] = 0
	}
	a.idx = 0
}

const (
	reverbCombs        = 8
	reverbAllpasses    = 4
	reverbStereoSpread = 23
)

// reverbCombTuningSamples and reverbAllpassTuningSamples are the
// classic Freeverb delay-line tunings (in samples at 44.1kHz),
// scaled to the engine's actual sample rate in NewFreeverbStage.
var reverbCombTuningSamples = [reverbCombs]int{1116, 1188, 1277, 1356, 1422, 1491, 1557, 1617}
var reverbAllpassTuningSamples = [reverbAllpasses]int{556, 441, 341, 225}

// FreeverbStage reverberates the reverb FX-send buffers (the per-cycle
// sums of every instrument's FXLevel[0] wet send) and mixes the return
// straight into whatever buffer the chain hands it, i.e. the master
// mix. It owns the comb/allpass network directly rather than wrapping
// a generic per-sample reverb type, so it can read the send buffers
// itself instead of requiring a caller to loop sample-by-sample.
type FreeverbStage struct {
	combL, combR       [reverbCombs]*combFilter
	allpassL, allpassR [reverbAllpasses]*allpassFilter

	roomSize, damping, wet, dry, width float64
	wet1, wet2                         float32

	sendL, sendR []float32
}

// NewFreeverbStage builds a reverb stage tuned for sampleRate, reading
// sendL/sendR (the Sequencer's reverb FX-send buffers) each cycle.
func NewFreeverbStage(sampleRate float64, sendL, sendR []float32) *FreeverbStage {
	f := &FreeverbStage{
		roomSize: 0.5, damping: 0.5, wet: 1.0 / 3.0, dry: 0, width: 1.0,
		sendL: sendL, sendR: sendR,
	}
	scale := sampleRate / 44100.0
	for i := 0; i < reverbCombs; i++ {
		f.combL[i] = newCombFilter(int(float64(reverbCombTuningSamples[i]) * scale))
		f.combR[i] = newCombFilter(int(float64(reverbCombTuningSamples[i]+reverbStereoSpread) * scale))
	}
	for i := 0; i < reverbAllpasses; i++ {
		f.allpassL[i] = newAllpassFilter(int(float64(reverbAllpassTuningSamples[i]) * scale))
		f.allpassR[i] = newAllpassFilter(int(float64(reverbAllpassTuningSamples[i]+reverbStereoSpread) * scale))
		f.allpassL[i].feedback = 0.5
		f.allpassR[i].feedback = 0.5
	}
	f.update()
	return f
}

// SetPresetMediumHall configures the reverb for a medium hall sound.
func (f *FreeverbStage) SetPresetMediumHall() {
	f.roomSize, f.damping, f.wet, f.dry, f.width = 0.6, 0.5, 0.35, 0.65, 0.75
	f.update()
}

func (f *FreeverbStage) update() {
	f.wet1 = float32(f.wet * (f.width/2.0 + 0.5))
	f.wet2 = float32(f.wet * ((1.0 - f.width) / 2.0))
	feedback := float32(f.roomSize*0.28 + 0.7)
	damp := float32(f.damping * 0.4)
	for i := range f.combL {
		f.combL[i].setFeedback(feedback)
		f.combR[i].setFeedback(feedback)
		f.combL[i].setDamping(damp)
		f.combR[i].setDamping(damp)
	}
}

func (f *FreeverbStage) ProcessStereo(left, right []float32) {
	n := len(left)
	for i := 0; i < n && i < len(f.sendL) && i < len(f.sendR); i++ {
		input := (f.sendL[i] + f.sendR[i]) * 0.015

		var outL, outR float32
		for c := range f.combL {
			outL += f.combL[c].process(input)
			outR += f.combR[c].process(input)
		}
		for a := range f.allpassL {
			outL = f.allpassL[a].process(outL)
			outR = f.allpassR[a].process(outR)
		}

		left[i] += outL*f.wet1 + outR*f.wet2
		right[i] += outR*f.wet1 + outL*f.wet2
	}
}

func (f *FreeverbStage) Reset() {
	for i := range f.combL {
		f.combL[i].reset()
		f.combR[i].reset()
	}
	for i := range f.allpassL {
		f.allpassL[i].reset()
		f.allpassR[i].reset()
	}
}

// LimiterStage is a stereo-linked brick-wall limiter: the gain
// reduction for a given sample is computed once from whichever
// channel is louder, then applied to both channels' lookahead-delayed
// samples. This keeps the stereo image locked together rather than
// letting each channel duck independently.
type LimiterStage struct {
	sampleRate   float64
	threshold    float64 // dB
	release      float64 // seconds
	lookaheadSec float64

	envelope     float64 // detector level, linear
	releaseCoeff float64

	delayL, delayR []float32
	delayPos       int
}

// NewLimiterStage builds a limiter tuned for sampleRate with -0.3dB
// threshold, 50ms release, and 5ms lookahead, matching a brick-wall
// master limiter's usual defaults.
func NewLimiterStage(sampleRate float64) *LimiterStage {
	s := &LimiterStage{sampleRate: sampleRate, threshold: -0.3, release: 0.05, lookaheadSec: 0.005}
	s.updateLookahead()
	s.updateRelease()
	return s
}

// SetThreshold sets the ceiling in dB above which gain reduction kicks in.
func (s *LimiterStage) SetThreshold(db float64) { s.threshold = db }

func (s *LimiterStage) updateLookahead() {
	n := int(s.lookaheadSec*s.sampleRate) + 1
	s.delayL = make([]float32, n)
	s.delayR = make([]float32, n)
	s.delayPos = 0
}

func (s *LimiterStage) updateRelease() {
	s.releaseCoeff = math.Exp(-1.0 / (s.release * s.sampleRate))
}

func (s *LimiterStage) ProcessStereo(left, right []float32) {
	thresholdLinear := math.Pow(10, s.threshold/20)
	n := len(left)
	for i := 0; i < n && i < len(right); i++ {
		peak := math.Abs(float64(left[i]))
		if r := math.Abs(float64(right[i])); r > peak {
			peak = r
		}
		if peak > s.envelope {
			s.envelope = peak
		} else {
			s.envelope = peak + (s.envelope-peak)*s.releaseCoeff
		}

		gain := 1.0
		if s.envelope > thresholdLinear {
			gain = thresholdLinear / s.envelope
		}

		dl, dr := s.delayL[s.delayPos], s.delayR[s.delayPos]
		s.delayL[s.delayPos] = left[i]
		s.delayR[s.delayPos] = right[i]
		s.delayPos++
		if s.delayPos >= len(s.delayL) {
			s.delayPos = 0
		}

		left[i] = dl * float32(gain)
		right[i] = dr * float32(gain)
	}
}

func (s *LimiterStage) Reset() {
	for i := range s.delayL {
		s.delayL[i], s.delayR[i] = 0, 0
	}
	s.envelope = 0
	s.delayPos = 0
}

// RumbleFilterStage runs a two-channel, zero-delay-feedback
// state-variable highpass ahead of the rest of the master chain,
// cutting the sub-rumble a raw sample mix would otherwise dump
// straight into the limiter. It is a separate, fixed-two-channel
// recurrence from the per-voice inline filter pkg/seq/voice carries,
// which must instead reproduce the legacy engine's literal bandpass/
// lowpass recurrence.
type RumbleFilterStage struct {
	g, k           float32
	ic1eqL, ic2eqL float32
	ic1eqR, ic2eqR float32
}

// NewRumbleFilterStage builds a highpass stage cutting below cutoffHz
// at sampleRate with a Butterworth-ish Q of 0.707.
func NewRumbleFilterStage(sampleRate, cutoffHz float64) *RumbleFilterStage {
	omega := math.Tan(math.Pi * cutoffHz / sampleRate)
	return &RumbleFilterStage{g: float32(omega), k: float32(1.0 / 0.707)}
}

func (s *RumbleFilterStage) highpass(input float32, ic1eq, ic2eq *float32) float32 {
	g, k := s.g, s.k
	a1 := 1.0 / (1.0 + g*(g+k))
	a2 := g * a1
	a3 := g * a2

	v3 := input - *ic2eq
	v1 := a1**ic1eq + a2*v3
	v2 := *ic2eq + a2**ic1eq + a3*v3

	*ic1eq = 2.0*v1 - *ic1eq
	*ic2eq = 2.0*v2 - *ic2eq

	return input - k*v1 - v2
}

func (s *RumbleFilterStage) ProcessStereo(left, right []float32) {
	for i := range left {
		left[i] = s.highpass(left[i], &s.ic1eqL, &s.ic2eqL)
	}
	for i := range right {
		right[i] = s.highpass(right[i], &s.ic1eqR, &s.ic2eqR)
	}
}

func (s *RumbleFilterStage) Reset() {
	s.ic1eqL, s.ic2eqL, s.ic1eqR, s.ic2eqR = 0, 0, 0, 0
}

// DelaySendStage is an echo send alongside FreeverbStage: it reads the
// same per-cycle FX-send buffers the Sampler's wet sends write into,
// runs them through a stereo delay line with feedback, and mixes the
// wet return into the master bus. It owns its ring buffers directly
// rather than wrapping a pair of single-channel delay lines.
type DelaySendStage struct {
	bufL, bufR   []float32
	writePos     int
	delaySamples float64
	feedback     float32
	sendL, sendR []float32
}

// NewDelaySendStage builds a stereo echo send with up to 2 seconds of
// delay range, reading sendL/sendR with delayMs of delay time at
// sampleRate.
func NewDelaySendStage(sampleRate, delayMs, feedback float64, sendL, sendR []float32) *DelaySendStage {
	maxSamples := int(2*sampleRate) + 1
	return &DelaySendStage{
		bufL: make([]float32, maxSamples), bufR: make([]float32, maxSamples),
		delaySamples: delayMs * sampleRate / 1000.0,
		feedback:     float32(feedback),
		sendL:        sendL, sendR: sendR,
	}
}

func (s *DelaySendStage) read(buf []float32) float32 {
	readPos := float64(s.writePos) - s.delaySamples
	if readPos < 0 {
		readPos += float64(len(buf))
	}
	idx := int(readPos)
	frac := float32(readPos - float64(idx))
	s1 := buf[idx]
	s2 := buf[(idx+1)%len(buf)]
	return s1 + (s2-s1)*frac
}

func (s *DelaySendStage) ProcessStereo(left, right []float32) {
	n := len(left)
	for i := 0; i < n && i < len(s.sendL) && i < len(s.sendR); i++ {
		wl := s.read(s.bufL)
		wr := s.read(s.bufR)
		s.bufL[s.writePos] = s.sendL[i] + wl*s.feedback
		s.bufR[s.writePos] = s.sendR[i] + wr*s.feedback
		s.writePos++
		if s.writePos >= len(s.bufL) {
			s.writePos = 0
		}
		left[i] += wl
		right[i] += wr
	}
}

func (s *DelaySendStage) Reset() {
	for i := range s.bufL {
		s.bufL[i], s.bufR[i] = 0, 0
	}
	s.writePos = 0
}

// chorusVoice is one modulated delay tap of a ChorusStage, panned
// across the stereo field and swept by its own phase-offset sine LFO.
type chorusVoice struct {
	phase      float64
	bufL, bufR []float32
}

// ChorusStage widens the master bus with a two-voice modulated stereo
// delay, each voice's LFO phase offset by half a cycle so the pair
// sweeps in opposite directions.
type ChorusStage struct {
	sampleRate             float64
	rate, depthMs, delayMs float64
	mix                    float64
	voices                 []*chorusVoice
	writePos, maxSamples   int
}

// NewChorusStage builds a chorus stage at sampleRate with mix as the
// wet/dry balance (0 disables it without removing it from the chain).
func NewChorusStage(sampleRate, mix float64) *ChorusStage {
	c := &ChorusStage{sampleRate: sampleRate, rate: 0.5, depthMs: 2.0, delayMs: 20.0, mix: mix}
	maxDelayMs := c.delayMs + c.depthMs
	c.maxSamples = int(maxDelayMs*sampleRate/1000.0*1.2) + 1

	const numVoices = 2
	c.voices = make([]*chorusVoice, numVoices)
	for i := range c.voices {
		c.voices[i] = &chorusVoice{
			phase: float64(i) / float64(numVoices),
			bufL:  make([]float32, c.maxSamples),
			bufR:  make([]float32, c.maxSamples),
		}
	}
	return c
}

func (c *ChorusStage) ProcessStereo(left, right []float32) {
	phaseInc := c.rate / c.sampleRate
	dry := float32(1.0 - c.mix)
	wetGain := float32(c.mix)

	for i := range left {
		inL, inR := left[i], right[i]
		var wetL, wetR float32

		for vi, v := range c.voices {
			v.bufL[c.writePos] = inL
			v.bufR[c.writePos] = inR

			mod := math.Sin(2.0 * math.Pi * v.phase)
			delayMs := c.delayMs + c.depthMs*mod
			delaySamples := delayMs * c.sampleRate / 1000.0
			if delaySamples < 1.0 {
				delaySamples = 1.0
			}
			if delaySamples > float64(c.maxSamples-1) {
				delaySamples = float64(c.maxSamples - 1)
			}

			readPos := float64(c.writePos) - delaySamples
			if readPos < 0 {
				readPos += float64(c.maxSamples)
			}
			idx := int(readPos)
			frac := float32(readPos - float64(idx))
			idx2 := (idx + 1) % c.maxSamples

			sL := v.bufL[idx]*(1-frac) + v.bufL[idx2]*frac
			sR := v.bufR[idx]*(1-frac) + v.bufR[idx2]*frac

			pan := float64(vi)/float64(len(c.voices)-1) - 0.5
			angle := (pan + 0.5) * math.Pi / 2.0
			panL := float32(math.Cos(angle))
			panR := float32(math.Sin(angle))

			wetL += sL * panL / float32(len(c.voices))
			wetR += sR * panR / float32(len(c.voices))

			v.phase += phaseInc
			if v.phase >= 1.0 {
				v.phase -= 1.0
			}
		}

		left[i] = inL*dry + wetL*wetGain
		right[i] = inR*dry + wetR*wetGain

		c.writePos++
		if c.writePos >= c.maxSamples {
			c.writePos = 0
		}
	}
}

func (c *ChorusStage) Reset() {
	for _, v := range c.voices {
		for i := range v.bufL {
			v.bufL[i], v.bufR[i] = 0, 0
		}
		v.phase = 0
	}
	c.writePos = 0
}

// lowpassOnePole is a first-order lowpass, used by BitCrusherStage to
// band-limit its decimation stage on either side of the sample-rate
// reduction, avoiding the aliasing a bare sample-and-hold would add.
type lowpassOnePole struct {
	coeff float64
	state float64
}

func newLowpassOnePole(sampleRate, cutoff float64) *lowpassOnePole {
	lp := &lowpassOnePole{}
	lp.setCutoff(sampleRate, cutoff)
	return lp
}

func (lp *lowpassOnePole) setCutoff(sampleRate, cutoff float64) {
	lp.coeff = 1.0 - math.Exp(-2.0*math.Pi*cutoff/sampleRate)
}

func (lp *lowpassOnePole) process(input float64) float64 {
	lp.state += lp.coeff * (input - lp.state)
	return lp.state
}

// bitCrusherChannel holds one channel's decimation, bit-depth
// quantization, and DC-blocking state.
type bitCrusherChannel struct {
	pre, post     *lowpassOnePole
	dcX1, dcY1    float64
	sampleCounter float64
	heldSample    float64
}

func newBitCrusherChannel(sampleRate float64) *bitCrusherChannel {
	return &bitCrusherChannel{
		pre:  newLowpassOnePole(sampleRate, sampleRate/2),
		post: newLowpassOnePole(sampleRate, sampleRate/2),
	}
}

func (c *bitCrusherChannel) process(input float64, bitDepth int, rateRatio float64) float64 {
	filtered := input
	if rateRatio < 1.0 {
		filtered = c.pre.process(input)
	}

	c.sampleCounter += rateRatio
	if c.sampleCounter >= 1.0 {
		c.sampleCounter -= 1.0
		c.heldSample = filtered
	}

	levels := math.Pow(2, float64(bitDepth))
	half := levels / 2.0
	quantized := math.Round(c.heldSample * half)
	quantized = math.Max(-half, math.Min(half-1, quantized)) / half

	crushed := quantized
	if rateRatio < 1.0 {
		crushed = c.post.process(crushed)
	}

	out := crushed - c.dcX1 + 0.995*c.dcY1
	c.dcX1, c.dcY1 = crushed, out
	return out
}

func (c *bitCrusherChannel) reset() {
	c.pre.state, c.post.state = 0, 0
	c.dcX1, c.dcY1 = 0, 0
	c.sampleCounter, c.heldSample = 0, 0
}

// BitCrusherStage is an optional lo-fi insert (the "--lofi" flag in
// cmd/hydrogend), reducing bit depth and effective sample rate
// independently on each channel.
type BitCrusherStage struct {
	left, right     *bitCrusherChannel
	bitDepth        int
	sampleRateRatio float64
	mix             float64
}

// NewBitCrusherStage builds a stereo bit-crusher at sampleRate,
// targeting bitDepth bits and sampleRateRatio of the original rate.
func NewBitCrusherStage(sampleRate float64, bitDepth int, sampleRateRatio, mix float64) *BitCrusherStage {
	return &BitCrusherStage{
		left:            newBitCrusherChannel(sampleRate),
		right:           newBitCrusherChannel(sampleRate),
		bitDepth:        bitDepth,
		sampleRateRatio: sampleRateRatio,
		mix:             mix,
	}
}

func (s *BitCrusherStage) ProcessStereo(left, right []float32) {
	for i := range left {
		crushed := s.left.process(float64(left[i]), s.bitDepth, s.sampleRateRatio)
		left[i] = float32(float64(left[i])*(1-s.mix) + crushed*s.mix)
	}
	for i := range right {
		crushed := s.right.process(float64(right[i]), s.bitDepth, s.sampleRateRatio)
		right[i] = float32(float64(right[i])*(1-s.mix) + crushed*s.mix)
	}
}

func (s *BitCrusherStage) Reset() {
	s.left.reset()
	s.right.reset()
}

// DCBlockerStage strips DC offset before anything else on the master
// bus sees it, so a kit sample with a nonzero mean (a poorly recorded
// one-shot, or a synthesized click like demokit.SynthClick) cannot
// push the limiter into gain reduction on silence.
type DCBlockerStage struct {
	x1L, y1L, x1R, y1R float32
	coeff              float32
}

// NewDCBlockerStage builds a two-channel DC blocker at sampleRate with
// a 10Hz cutoff, low enough to leave bass content untouched.
func NewDCBlockerStage(sampleRate float64) *DCBlockerStage {
	const cutoffHz = 10.0
	r := float32(1.0 - (2.0*math.Pi*cutoffHz)/sampleRate)
	if r < 0.9 {
		r = 0.9
	}
	if r > 0.999 {
		r = 0.999
	}
	return &DCBlockerStage{coeff: r}
}

func (s *DCBlockerStage) ProcessStereo(left, right []float32) {
	for i := range left {
		out := left[i] - s.x1L + s.coeff*s.y1L
		s.x1L, s.y1L = left[i], out
		left[i] = out
	}
	for i := range right {
		out := right[i] - s.x1R + s.coeff*s.y1R
		s.x1R, s.y1R = right[i], out
		right[i] = out
	}
}

func (s *DCBlockerStage) Reset() {
	s.x1L, s.y1L, s.x1R, s.y1R = 0, 0, 0, 0
}
