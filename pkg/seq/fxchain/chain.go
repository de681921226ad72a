// Package fxchain provides a master-bus stereo processing chain,
// generalized from the teacher's pkg/framework/dsp chain/builder shape
// (the VST3-oriented mono Processor/Chain/Builder trio dropped, since
// every post-sampler stage this engine runs is inherently stereo).
package fxchain

import "fmt"

// StereoProcessor processes a stereo buffer pair in place.
type StereoProcessor interface {
	ProcessStereo(left, right []float32)
	Reset()
}

// StereoProcessorFunc adapts a plain function to StereoProcessor for
// stages (like a gain trim) that need no Reset state.
type StereoProcessorFunc func(left, right []float32)

func (f StereoProcessorFunc) ProcessStereo(left, right []float32) { f(left, right) }
func (f StereoProcessorFunc) Reset()                              {}

// Chain runs its stages in registration order over the same buffer
// pair, each stage's output feeding the next.
type Chain struct {
	name       string
	processors []StereoProcessor
	bypass     bool
}

// NewChain creates a named, empty chain.
func NewChain(name string) *Chain {
	return &Chain{name: name}
}

// Add appends a stage, returning the chain for fluent construction.
func (c *Chain) Add(p StereoProcessor) *Chain {
	c.processors = append(c.processors, p)
	return c
}

// ProcessStereo runs every stage over left/right in order, unless the
// chain is bypassed.
func (c *Chain) ProcessStereo(left, right []float32) {
	if c.bypass {
		return
	}
	for _, p := range c.processors {
		p.ProcessStereo(left, right)
	}
}

// Reset resets every stage's internal state.
func (c *Chain) Reset() {
	for _, p := range c.processors {
		p.Reset()
	}
}

// SetBypass enables or disables the whole chain.
func (c *Chain) SetBypass(bypass bool) { c.bypass = bypass }

// Name returns the chain's label, useful for diagnostics.
func (c *Chain) Name() string { return c.name }

// Builder provides a fluent, validating API for constructing a Chain,
// matching the teacher's Builder/error-accumulation shape.
type Builder struct {
	chain  *Chain
	errors []error
}

// NewBuilder starts building a named chain.
func NewBuilder(name string) *Builder {
	return &Builder{chain: NewChain(name)}
}

// WithProcessor appends a stage; a nil processor is recorded as a
// build error rather than panicking later inside the RT path.
func (b *Builder) WithProcessor(p StereoProcessor) *Builder {
	if p == nil {
		b.errors = append(b.errors, fmt.Errorf("fxchain: nil processor"))
		return b
	}
	b.chain.Add(p)
	return b
}

// Build returns the assembled chain, or one error listing every
// accumulated build error (or reporting an empty chain).
func (b *Builder) Build() (*Chain, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("fxchain: %s: %v", b.chain.name, b.errors)
	}
	if len(b.chain.processors) == 0 {
		return nil, fmt.Errorf("fxchain: %s: empty chain", b.chain.name)
	}
	return b.chain, nil
}
