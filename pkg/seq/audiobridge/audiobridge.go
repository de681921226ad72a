// Package audiobridge adapts github.com/gordonklaus/portaudio into
// iface.AudioBackend, the way the teacher's VST3 host callback stands
// in for "whatever audio I/O drives the plugin" in that domain.
// Grounded on the portaudio device-resolution and stream-lifecycle
// shape in _examples/rustyguts-bken/client/audio.go (device listing,
// StreamParameters, Open/Start/Stop/Close), adapted from that file's
// blocking Read/Write capture-and-playback loop to a single
// process-callback-per-buffer loop matching iface.ProcessFunc.
package audiobridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/iface"
)

// Backend is a stereo, output-only portaudio-backed iface.AudioBackend
// (the sequencer core has no audio input of its own; MIDI/GUI inputs
// arrive through their own backends).
type Backend struct {
	sampleRate      uint32
	framesPerBuffer uint32
	outputDeviceID  int

	running atomic.Bool
	stopCh  chan struct{}
	stopOne sync.Once
}

// New builds a Backend targeting the system's default output device.
// Call SetOutputDevice before Run to pick a specific one.
func New(sampleRate, framesPerBuffer uint32) *Backend {
	return &Backend{sampleRate: sampleRate, framesPerBuffer: framesPerBuffer, outputDeviceID: -1}
}

// SetOutputDevice selects a device by its index into Devices(); -1
// (the default) uses portaudio's default output device.
func (b *Backend) SetOutputDevice(idx int) { b.outputDeviceID = idx }

// Devices lists every output-capable portaudio device visible on this
// system, for a host's configuration UI.
func Devices() ([]*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var out []*portaudio.DeviceInfo
	for _, d := range devices {
		if d.MaxOutputChannels > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// SampleRate implements iface.AudioBackend.
func (b *Backend) SampleRate() uint32 { return b.sampleRate }

// BufferSize implements iface.AudioBackend.
func (b *Backend) BufferSize() uint32 { return b.framesPerBuffer }

// Run opens the output stream and calls process once per buffer until
// Stop is called or the stream errors. Blocks the calling goroutine.
func (b *Backend) Run(process iface.ProcessFunc) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audiobridge: initialize: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("audiobridge: list devices: %w", err)
	}
	outputDev, err := resolveDevice(devices, b.outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return fmt.Errorf("audiobridge: resolve output device: %w", err)
	}

	interleaved := make([]float32, b.framesPerBuffer*2)
	outL := make([]float32, b.framesPerBuffer)
	outR := make([]float32, b.framesPerBuffer)

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: 2,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(b.sampleRate),
		FramesPerBuffer: int(b.framesPerBuffer),
	}
	stream, err := portaudio.OpenStream(params, interleaved)
	if err != nil {
		return fmt.Errorf("audiobridge: open stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("audiobridge: start stream: %w", err)
	}
	defer stream.Stop()

	b.stopCh = make(chan struct{})
	b.running.Store(true)
	defer b.running.Store(false)

	for {
		select {
		case <-b.stopCh:
			return nil
		default:
		}

		process(b.framesPerBuffer, outL, outR, nil, nil, nil, nil)

		for i := uint32(0); i < b.framesPerBuffer; i++ {
			interleaved[2*i] = outL[i]
			interleaved[2*i+1] = outR[i]
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("audiobridge: write: %w", err)
		}
	}
}

// Stop ends Run's loop after its current buffer. Safe to call once
// from any goroutine; subsequent calls are no-ops.
func (b *Backend) Stop() error {
	if b.running.Load() {
		b.stopOne.Do(func() { close(b.stopCh) })
	}
	return nil
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}
