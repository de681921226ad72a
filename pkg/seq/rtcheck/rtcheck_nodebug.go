//go:build !debug
// +build !debug

// Package rtcheck instruments Sequencer.Process to catch the two most
// common RT-safety regressions during development. This file holds
// the no-op implementations used when building without the "debug"
// tag.
package rtcheck

// CheckBuffer is a no-op when not in debug mode.
func CheckBuffer(buf []float32, name string) {}

// StartCycle is a no-op when not in debug mode.
func StartCycle() {}

// EndCycle is a no-op when not in debug mode.
func EndCycle() (allocs, bytes uint64) { return 0, 0 }
