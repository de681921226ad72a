// Command hydrogend is a reference standalone host wiring the
// sequencer core to real audio and MIDI I/O: a portaudio output
// stream, an optional gomidi input port, a demokit-loaded sample kit,
// and a cobra/viper CLI/config surface. It exists only to exercise
// pkg/seq end to end, the way the teacher's own example plugins under
// its examples/ tree exist only to exercise pkg/framework.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hydrogen-audio/hydrogen/internal/demokit"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/audiobridge"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/diag"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/event"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/fxchain"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/input/midiinput"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/input/song"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/midibridge"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/note"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/param"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/reaper"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/sampler"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/sequencer"
	"github.com/hydrogen-audio/hydrogen/pkg/seq/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hydrogend",
		Short: "Reference standalone host for the drum sequencer core",
		RunE:  run,
	}

	flags := cmd.Flags()
	flags.Uint32("sample-rate", 48000, "audio sample rate")
	flags.Uint32("buffer-size", 256, "frames per audio callback")
	flags.Float64("bpm", 120, "initial tempo")
	flags.String("kit-dir", "", "directory containing kick.wav/snare.wav/hihat.wav; empty plays silent instruments")
	flags.String("midi-port", "", "MIDI input port name (substring match); empty disables MIDI input")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Float64("master-gain", 1.0, "linear master output gain, ramped in over startup to avoid a click")
	flags.Int("max-voices", 32, "voice pool size; the oldest voice is stolen past this")
	flags.Bool("metronome", false, "enable a synthesized metronome click on every beat, accented on bar starts")
	flags.Float64("delay-ms", 0, "echo send delay time in milliseconds; 0 disables the delay send")
	flags.Float64("delay-feedback", 0.35, "echo send feedback (0-0.9)")
	flags.Float64("chorus-mix", 0, "master-bus chorus wet/dry mix (0-1); 0 disables it")
	flags.Bool("lofi", false, "insert a bit-crusher ahead of the limiter for a lo-fi master bus")

	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("hydrogend")
	viper.AutomaticEnv()

	cobra.OnInitialize(func() {
		viper.SetConfigName("hydrogend")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		_ = viper.ReadInConfig() // config file is optional; flags/env still apply
	})

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger := diag.NewLogger(level)
	counters := &diag.Counters{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go diag.RunDrain(ctx, counters, logger)

	// No control path in this reference host swaps kits at runtime
	// yet, but any that does (a future kit-reload command) must retire
	// the old instrument set through here rather than freeing it
	// directly, since a voice or queued event may still reference it
	// (spec.md §3, §9).
	instrumentReaper := reaper.New(16)
	go instrumentReaper.Run(ctx, time.Second)

	sampleRate := uint32(viper.GetInt("sample-rate"))
	bufferSize := uint32(viper.GetInt("buffer-size"))
	bpm := viper.GetFloat64("bpm")
	kitDir := viper.GetString("kit-dir")
	midiPort := viper.GetString("midi-port")
	masterGain := viper.GetFloat64("master-gain")
	maxVoices := viper.GetInt("max-voices")
	if maxVoices < 1 {
		maxVoices = 1
	}
	metronomeOn := viper.GetBool("metronome")
	delayMs := viper.GetFloat64("delay-ms")
	delayFeedback := viper.GetFloat64("delay-feedback")
	chorusMix := viper.GetFloat64("chorus-mix")
	lofi := viper.GetBool("lofi")

	instruments, songModel, err := loadKit(kitDir)
	if err != nil {
		return fmt.Errorf("hydrogend: load kit: %w", err)
	}

	metronome := note.NewInstrument(len(instruments), "metronome", note.Template{Attack: 0, Decay: 0, Sustain: 1, Release: 5})
	metronome.AddLayer(note.Layer{StartVelocity: 0, EndVelocity: 1, Gain: 0.6, Sample: demokit.SynthClick(float64(sampleRate), 1800, 0.05)})
	instruments = append(instruments, metronome)

	q := event.New(512)
	tr := transport.New(songModel, transport.Config{
		FrameRate: sampleRate, BeatsPerBar: 4, BeatType: 4, TicksPerBeat: 48, BeatsPerMinute: bpm,
	})
	smp := sampler.New(maxVoices, float64(sampleRate), 1)
	smp.SetInstruments(instruments)

	seq := sequencer.New(q, tr, smp, counters)

	songIn := song.New(songModel, 1)
	songIn.MetronomeEnabled = metronomeOn
	songIn.MetronomeInstrument = metronome
	songIn.Counters = counters
	seq.AddInput(songIn)

	if midiPort != "" {
		closeMidi, err := wireMidi(seq, midiPort, instruments, counters, logger)
		if err != nil {
			logger.Warnf("midi input disabled: %v", err)
		} else {
			defer closeMidi()
		}
	}

	limiterStage := fxchain.NewLimiterStage(float64(sampleRate))
	limiterStage.SetThreshold(-1)
	reverbSendL := make([]float32, int(bufferSize))
	reverbSendR := make([]float32, int(bufferSize))
	reverbStage := fxchain.NewFreeverbStage(float64(sampleRate), reverbSendL, reverbSendR)
	reverbStage.SetPresetMediumHall()
	peak := newPeakMeter(float64(sampleRate))

	// Two FX sends: index 0 feeds the reverb, index 1 feeds the echo.
	// Every instrument's FXLevel[0]/[1] (set in loadKit) controls how
	// much of its dry signal lands in each.
	fxL := [][]float32{reverbSendL, make([]float32, int(bufferSize))}
	fxR := [][]float32{reverbSendR, make([]float32, int(bufferSize))}

	builder := fxchain.NewBuilder("master").
		WithProcessor(fxchain.NewDCBlockerStage(float64(sampleRate))).
		WithProcessor(fxchain.NewRumbleFilterStage(float64(sampleRate), 30)).
		WithProcessor(reverbStage)

	if delayMs > 0 {
		builder = builder.WithProcessor(fxchain.NewDelaySendStage(float64(sampleRate), delayMs, delayFeedback, fxL[1], fxR[1]))
	}
	if chorusMix > 0 {
		builder = builder.WithProcessor(fxchain.NewChorusStage(float64(sampleRate), chorusMix))
	}
	if lofi {
		builder = builder.WithProcessor(fxchain.NewBitCrusherStage(float64(sampleRate), 8, 0.25, 1.0))
	}
	masterBus, err := builder.WithProcessor(limiterStage).Build()
	if err != nil {
		return fmt.Errorf("hydrogend: build master bus: %w", err)
	}

	gainSmoother := param.NewSmoother(param.ExponentialSmoothing, 0.999)
	gainSmoother.Reset(0)
	gainSmoother.SetTarget(masterGain)

	process := func(nframes uint32, outL, outR []float32, trackL, trackR, _, _ [][]float32) {
		seq.Process(nframes, outL, outR, trackL, trackR, fxL, fxR)
		masterBus.ProcessStereo(outL[:nframes], outR[:nframes])

		for i := uint32(0); i < nframes; i++ {
			g := float32(gainSmoother.Next())
			outL[i] *= g
			outR[i] *= g
		}
		peak.process(outL[:nframes])
	}

	backend := audiobridge.New(sampleRate, bufferSize)
	seq.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("shutting down")
		_ = backend.Stop()
		cancel()
	}()

	logger.With("sample_rate", sampleRate).With("buffer_size", bufferSize).With("bpm", bpm).Infof("hydrogend starting")
	if err := backend.Run(process); err != nil {
		return fmt.Errorf("hydrogend: audio backend: %w", err)
	}
	logger.With("peak_db", peak.peakDB()).With("instruments_pending_free", instrumentReaper.Pending()).Infof("hydrogend stopped")
	return nil
}

func wireMidi(seq *sequencer.Sequencer, port string, instruments []*note.Instrument, counters *diag.Counters, logger *diag.Logger) (func(), error) {
	bridge := midibridge.New(256)
	if err := bridge.OpenPort(port); err != nil {
		return nil, err
	}
	mi := midiinput.New(bridge)
	mi.Counters = counters
	for i, inst := range instruments {
		if i >= 128 {
			break
		}
		mi.Map(uint8(36+i), inst)
	}
	seq.AddInput(mi)
	logger.With("port", port).Infof("midi input armed")
	return bridge.Close, nil
}

// loadKit builds the three-piece demo kit (kick/snare/hihat) and a
// fixed one-bar four-on-the-floor-ish pattern. If dir is empty, the
// instruments are built without samples (NoteOn simply finds no
// matching layer and is dropped, per spec.md §7's MissingLayer path)
// so the binary still runs without assets on hand.
func loadKit(dir string) ([]*note.Instrument, *demokit.Song, error) {
	names := []string{"kick", "snare", "hihat"}
	instruments := make([]*note.Instrument, 0, len(names))
	for i, name := range names {
		inst := note.NewInstrument(i, name, note.Template{Attack: 0, Decay: 0, Sustain: 1, Release: 20})
		inst.FXLevel[0].Store(0.15) // modest reverb send on every piece
		if name == "snare" {
			inst.FXLevel[1].Store(0.2) // a touch of echo on the snare only
		}
		if dir != "" {
			sample, err := demokit.LoadSample(filepath.Join(dir, name+".wav"))
			if err != nil {
				return nil, nil, err
			}
			inst.AddLayer(note.Layer{StartVelocity: 0, EndVelocity: 1, Gain: 1, Sample: sample})
		}
		instruments = append(instruments, inst)
	}

	const ticksPerBeat = 48
	centerL, centerR := demokit.Pan(0)
	hihatL, hihatR := demokit.Pan(0.3) // slightly right, as a real hi-hat mic typically sits

	pattern := demokit.NewPattern("basic")
	for beat := uint32(0); beat < 4; beat++ {
		tick := beat * ticksPerBeat
		pattern.AddNote(tick, note.Note{Velocity: 0.9, PanL: hihatL, PanR: hihatR, Length: -1, Instrument: instruments[2]})
		switch beat {
		case 0, 2:
			pattern.AddNote(tick, note.Note{Velocity: 1, PanL: centerL, PanR: centerR, Length: -1, Instrument: instruments[0]})
		case 1, 3:
			pattern.AddNote(tick, note.Note{Velocity: 1, PanL: centerL, PanR: centerR, Length: -1, Instrument: instruments[1]})
		}
	}

	songModel := demokit.NewSong(ticksPerBeat, 4, instruments)
	songModel.SetPatternGroup(1, pattern)
	return instruments, songModel, nil
}
