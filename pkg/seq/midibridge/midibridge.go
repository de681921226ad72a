// Package midibridge adapts gitlab.com/gomidi/midi/v2 input ports into
// iface.MidiBackend. gomidi delivers messages from a driver-owned
// goroutine per open port; this package funnels however many ports are
// open into one bounded, lock-free queue the RT thread drains, the
// same multi-producer/single-consumer shape pkg/seq/input/guiinput
// uses for UI-originated events, generalized here to MidiMessage
// payloads and producers that are driver callbacks instead of UI
// threads.
package midibridge

import (
	"fmt"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"

	"github.com/hydrogen-audio/hydrogen/pkg/seq/iface"
)

type cell struct {
	seq atomic.Uint64
	val iface.MidiMessage
}

// ring is a bounded MPSC queue of MidiMessages; capacity must be a
// power of two. Any number of driver callback goroutines may call
// push; only the RT thread (via Bridge.Drain) may call pop.
type ring struct {
	buf        []cell
	mask       uint64
	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64
}

func newRing(capacity int) *ring {
	n := nextPow2(capacity)
	r := &ring{buf: make([]cell, n), mask: uint64(n - 1)}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (r *ring) push(msg iface.MidiMessage) bool {
	for {
		pos := r.enqueuePos.Load()
		c := &r.buf[pos&r.mask]
		seq := c.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if r.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.val = msg
				c.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		default:
		}
	}
}

func (r *ring) pop() (iface.MidiMessage, bool) {
	pos := r.dequeuePos.Load()
	c := &r.buf[pos&r.mask]
	seq := c.seq.Load()
	diff := int64(seq) - int64(pos+1)
	if diff != 0 {
		return iface.MidiMessage{}, false
	}
	msg := c.val
	c.seq.Store(pos + r.mask + 1)
	r.dequeuePos.Store(pos + 1)
	return msg, true
}

// Bridge implements iface.MidiBackend over zero or more open gomidi
// input ports.
type Bridge struct {
	r     *ring
	stops []func()
}

// New builds a Bridge with room for capacity pending messages (rounded
// up to the next power of two).
func New(capacity int) *Bridge {
	return &Bridge{r: newRing(capacity)}
}

// OpenPort finds an input port by (substring) name and starts
// listening on it, translating every incoming channel message into an
// iface.MidiMessage pushed onto the shared ring. Non-channel messages
// (sysex, clock, ...) are tagged MidiOther and still delivered, so
// pkg/seq/input/midiinput can route them to its side channel.
func (b *Bridge) OpenPort(name string) error {
	in, err := midi.FindInPort(name)
	if err != nil {
		return fmt.Errorf("midibridge: find input port %q: %w", name, err)
	}
	stop, err := midi.ListenTo(in, b.onMessage, midi.UseSysEx())
	if err != nil {
		return fmt.Errorf("midibridge: listen on %q: %w", name, err)
	}
	b.stops = append(b.stops, stop)
	return nil
}

// Ports lists the gomidi input ports visible on this system, for a
// host's configuration UI.
func Ports() midi.InPorts {
	return midi.GetInPorts()
}

func (b *Bridge) onMessage(msg midi.Message, timestampms int32) {
	m, ok := translate(msg)
	if !ok {
		return
	}
	m.Frame = -1 // "now"; pkg/seq/input/midiinput treats this as frame 0
	b.r.push(m)
}

func translate(msg midi.Message) (iface.MidiMessage, bool) {
	var ch, key, vel uint8
	if msg.GetNoteOn(&ch, &key, &vel) {
		return iface.MidiMessage{Kind: iface.MidiNoteOn, Channel: ch, Data1: key, Data2: vel}, true
	}
	if msg.GetNoteOff(&ch, &key, &vel) {
		return iface.MidiMessage{Kind: iface.MidiNoteOff, Channel: ch, Data1: key, Data2: vel}, true
	}
	var cc, val uint8
	if msg.GetControlChange(&ch, &cc, &val) {
		return iface.MidiMessage{Kind: iface.MidiControlChange, Channel: ch, Data1: cc, Data2: val}, true
	}
	var prog uint8
	if msg.GetProgramChange(&ch, &prog) {
		return iface.MidiMessage{Kind: iface.MidiProgramChange, Channel: ch, Data1: prog}, true
	}
	raw := msg.Bytes()
	if len(raw) == 0 {
		return iface.MidiMessage{}, false
	}
	out := iface.MidiMessage{Kind: iface.MidiOther}
	if raw[0] == 0xF0 {
		out.Sysex = append([]byte(nil), raw...)
	} else {
		out.Channel = raw[0] & 0x0F
		if len(raw) > 1 {
			out.Data1 = raw[1]
		}
		if len(raw) > 2 {
			out.Data2 = raw[2]
		}
	}
	return out, true
}

// Drain implements iface.MidiBackend: copies up to len(buf) pending
// messages into buf and returns how many were copied. Never blocks,
// never allocates.
func (b *Bridge) Drain(buf []iface.MidiMessage) int {
	n := 0
	for n < len(buf) {
		msg, ok := b.r.pop()
		if !ok {
			break
		}
		buf[n] = msg
		n++
	}
	return n
}

// Close stops listening on every open port.
func (b *Bridge) Close() {
	for _, stop := range b.stops {
		stop()
	}
	b.stops = nil
}
