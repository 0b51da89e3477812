package probe

import (
	"time"

	"github.com/saworbit/kernwatch/internal/metrics"
	"github.com/saworbit/kernwatch/pkg/emit"
	"github.com/saworbit/kernwatch/pkg/flags"
)

// Emitter drives the contractual emission order against the shared
// substrate: gate check, optional scratch acquisition, timestamp, publish.
// Every failure degrades to a lost (or payload-less) event; nothing on this
// path blocks, retries or panics.
type Emitter struct {
	gate *emit.Gate
	pool *emit.Pool
	ring *emit.Ring
	tb   *emit.TimeBase
}

var zeroHeader [HeaderSize]byte

// NewEmitter wires an emitter to the shared state.
func NewEmitter(st *emit.State) *Emitter {
	return &Emitter{
		gate: st.Gate(),
		pool: st.Pool(),
		ring: st.Ring(),
		tb:   st.TimeBase(),
	}
}

// Enabled exposes the gate for callers that want to skip expensive payload
// collection before Emit.
func (e *Emitter) Enabled(feature flags.FeatureFlags, op flags.OpFlags) bool {
	return e.gate.Enabled(feature, op)
}

// Emit publishes one operation event. slot selects the scratch buffer and
// must be exclusively owned by the calling worker. aux may be nil; it is
// truncated to the scratch capacity. The return value reports whether the
// event reached the ring.
func (e *Emitter) Emit(slot int, feature flags.FeatureFlags, op flags.OpFlags, pid uint32, aux []byte) bool {
	start := time.Now()
	opName := flags.OpName(op)

	if !e.gate.Enabled(feature, op) {
		metrics.ObserveEmit(start, opName, "gate_miss")
		return false
	}

	header := EventHeader{
		Op:     OpCode(op),
		Slot:   uint16(slot),
		PID:    pid,
		TimeNs: e.stamp(start),
	}

	buf := e.pool.Acquire(slot)
	if buf == nil || buf.Cap() < HeaderSize {
		// No usable scratch for this slot: publish the event without
		// its auxiliary payload rather than losing it entirely.
		metrics.ScratchMissesTotal.Inc()
		var hdr [HeaderSize]byte
		putHeader(hdr[:], header)
		return e.publish(start, opName, hdr[:])
	}

	buf.Reset()
	buf.Append(zeroHeader[:])
	if len(aux) > 0 {
		header.AuxLen = uint32(buf.Append(aux))
	}
	putHeader(buf.Bytes()[:HeaderSize], header)

	return e.publish(start, opName, buf.Bytes())
}

func (e *Emitter) publish(start time.Time, opName string, record []byte) bool {
	if !e.ring.Submit(record) {
		metrics.ObserveEmit(start, opName, "dropped_ring")
		return false
	}
	metrics.ObserveEmit(start, opName, "emitted")
	metrics.SetRingUsed(e.ring.Used())
	return true
}

// stamp converts a wall-clock instant into boot-relative nanoseconds. With
// an unarmed time base the offset is zero and the stamp degrades to raw
// epoch nanoseconds, which downstream conversion handles transparently.
func (e *Emitter) stamp(now time.Time) uint64 {
	boot := e.tb.BootEpochNanos()
	ns := uint64(now.UnixNano())
	if boot > ns {
		return 0
	}
	return ns - boot
}
