package emit

// AuxiliaryBuffer is a fixed-capacity scratch region for assembling one
// in-flight auxiliary payload. The region is allocated once and reused by
// every subsequent acquisition of the same slot; callers must not retain it
// past the current probe invocation.
type AuxiliaryBuffer struct {
	data []byte
	used int
}

// Reset discards any assembled payload. Capacity is unchanged.
func (b *AuxiliaryBuffer) Reset() {
	b.used = 0
}

// Append copies p into the buffer, truncating at capacity, and returns the
// number of bytes actually written. A truncated payload is still a valid
// payload; overflow never faults.
func (b *AuxiliaryBuffer) Append(p []byte) int {
	n := copy(b.data[b.used:], p)
	b.used += n
	return n
}

// Bytes returns the assembled payload. The slice aliases the scratch region
// and is invalidated by the next Reset.
func (b *AuxiliaryBuffer) Bytes() []byte {
	return b.data[:b.used]
}

// Len returns the assembled payload length.
func (b *AuxiliaryBuffer) Len() int {
	return b.used
}

// Cap returns the fixed capacity of the region.
func (b *AuxiliaryBuffer) Cap() int {
	return len(b.data)
}

// Pool is an indexed arena of auxiliary buffers, one slot per producer.
// Slots stand in for CPU cores: the kernel original keys its buffers by
// smp_processor_id, the hosted port keys them by a worker-owned index.
//
// Exclusivity is a precondition, not something the pool enforces: at most
// one acquisition of a given slot may be in flight at a time. Probe workers
// satisfy this by each owning exactly one slot for their lifetime.
type Pool struct {
	bufs []AuxiliaryBuffer
}

// NewPool allocates slots buffers of bufBytes capacity each. Everything is
// allocated up front; Acquire never allocates.
func NewPool(slots, bufBytes int) *Pool {
	if slots < 1 {
		slots = 1
	}
	if bufBytes < 1 {
		bufBytes = 1
	}
	p := &Pool{bufs: make([]AuxiliaryBuffer, slots)}
	backing := make([]byte, slots*bufBytes)
	for i := range p.bufs {
		// Full slice expressions cap each slot at its own region so no
		// reslice of one buffer can reach into a neighbour.
		p.bufs[i].data = backing[i*bufBytes : (i+1)*bufBytes : (i+1)*bufBytes]
	}
	return p
}

// Acquire returns the buffer for the given slot index, or nil when the index
// is outside the configured range (a recoverable condition: the caller skips
// auxiliary payload construction, it does not fail the event).
func (p *Pool) Acquire(slot int) *AuxiliaryBuffer {
	if slot < 0 || slot >= len(p.bufs) {
		return nil
	}
	return &p.bufs[slot]
}

// Slots returns the configured slot count.
func (p *Pool) Slots() int {
	return len(p.bufs)
}
