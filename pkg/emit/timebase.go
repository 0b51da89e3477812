package emit

import "sync/atomic"

// TimeBase holds the boot reference instant in epoch nanoseconds. It is
// written exactly once, before instrumentation is armed, and read
// concurrently by every producer.
//
// Zero is an explicit "uninitialized" sentinel, not a valid instant: a
// producer stamping events before the configuration phase observes zero and
// its boot-relative arithmetic degrades to raw epoch timestamps, which
// round-trip correctly through an offset of zero on the consumer side.
type TimeBase struct {
	bootEpochNs atomic.Uint64
}

// Set records the boot instant. Part of the single-writer startup phase.
func (t *TimeBase) Set(epochNs uint64) {
	t.bootEpochNs.Store(epochNs)
}

// BootEpochNanos returns the configured boot instant, or zero when unset.
func (t *TimeBase) BootEpochNanos() uint64 {
	return t.bootEpochNs.Load()
}

// Initialized reports whether the boot instant has been written.
func (t *TimeBase) Initialized() bool {
	return t.bootEpochNs.Load() != 0
}
