// Package emit is the hosted event-emission substrate: the layer that
// decides, per monitored operation, whether instrumentation is enabled, and
// that transports captured operation data from probe context to the
// consumer with no allocation on the producer path.
//
// Four independent components wrap one block of shared state: Gate
// (selective enablement), Pool (per-slot scratch buffers), Ring (the MPSC
// transport) and TimeBase (the boot reference instant). No component calls
// another; probe logic addresses each directly, in gate -> scratch ->
// publish order.
package emit

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/saworbit/kernwatch/pkg/flags"
)

// Options sizes the shared state at construction time. None of these are
// resizable afterwards.
type Options struct {
	// RingBytes is the transport capacity; must be a power of two.
	RingBytes int
	// ScratchSlots is the number of scratch buffers; defaults to the host
	// CPU count, mirroring the per-CPU array of the kernel original.
	ScratchSlots int
	// ScratchBytes is the fixed capacity of each scratch buffer.
	ScratchBytes int
}

// DefaultScratchBytes bounds one auxiliary payload.
const DefaultScratchBytes = 64 * 1024

// State bundles the four substrate components around their shared storage.
// It is allocated once for the life of the agent and released as a unit.
type State struct {
	gate Gate
	tb   TimeBase
	pool *Pool
	ring *Ring

	armOnce sync.Once
	armed   atomic.Bool
}

// NewState allocates the shared state. The flag masks and boot instant stay
// zero (everything disabled) until Arm.
func NewState(opts Options) (*State, error) {
	if opts.RingBytes == 0 {
		opts.RingBytes = DefaultRingBytes
	}
	if opts.ScratchSlots == 0 {
		opts.ScratchSlots = runtime.NumCPU()
	}
	if opts.ScratchBytes == 0 {
		opts.ScratchBytes = DefaultScratchBytes
	}

	ring, err := NewRing(opts.RingBytes)
	if err != nil {
		return nil, fmt.Errorf("create event ring: %w", err)
	}

	return &State{
		pool: NewPool(opts.ScratchSlots, opts.ScratchBytes),
		ring: ring,
	}, nil
}

// Arm performs the single-writer configuration phase: it stores both flag
// masks and the boot instant exactly once, before probes begin observing
// events. Later calls are no-ops.
func (s *State) Arm(features flags.FeatureFlags, ops flags.OpFlags, bootEpochNs uint64) {
	s.armOnce.Do(func() {
		s.gate.Configure(features, ops)
		s.tb.Set(bootEpochNs)
		s.armed.Store(true)
	})
}

// Gate returns the enablement gate.
func (s *State) Gate() *Gate { return &s.gate }

// Pool returns the scratch buffer pool.
func (s *State) Pool() *Pool { return s.pool }

// Ring returns the event transport.
func (s *State) Ring() *Ring { return s.ring }

// TimeBase returns the boot reference instant holder.
func (s *State) TimeBase() *TimeBase { return &s.tb }

// Armed reports whether the configuration phase has run.
func (s *State) Armed() bool { return s.armed.Load() }
