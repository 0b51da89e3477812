package emit

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	hdrBusy    = uint64(1) << 32
	hdrDiscard = uint64(1) << 33
	hdrLenMask = uint64(1)<<32 - 1

	// DefaultRingBytes matches the reference sizing: 128 pages.
	DefaultRingBytes = 256 * 1024
)

// Ring is a byte-granular multi-producer/single-consumer ring buffer with
// reserve-then-commit publication. Producers claim a contiguous window, fill
// it in place and commit; the reader never observes a partially written
// record. A reservation that does not fit fails immediately; producers
// never wait for the consumer and a full ring is a silent drop.
//
// Record framing follows the BPF ringbuf protocol: every record starts with
// a header word carrying the payload length plus busy/discard bits, and the
// reader stalls on a busy header until the owning producer commits.
// Reservation itself is serialized by a short mutex, the hosted analogue of
// the kernel ringbuf spinlock; commit and consume are lock-free.
type Ring struct {
	capacity uint64
	mask     uint64

	// data is capacity bytes plus a mirrored tail region so a record that
	// starts near the wrap point stays physically contiguous (standing in
	// for the kernel's double-mmap of the same pages).
	data []byte
	// hdrs holds the header word for the record starting at physical byte
	// offset i*8. Record starts are always 8-aligned.
	hdrs []atomic.Uint64

	prod atomic.Uint64
	cons atomic.Uint64

	mu sync.Mutex
}

// Reservation is a claimed, not yet published window in a Ring.
type Reservation struct {
	ring   *Ring
	buf    []byte
	hdrIdx uint64
	size   uint64
}

// NewRing creates a ring of the given power-of-two byte capacity.
func NewRing(capacityBytes int) (*Ring, error) {
	c := uint64(capacityBytes)
	if c < 8 || c&(c-1) != 0 {
		return nil, fmt.Errorf("ring capacity must be a power of two >= 8, got %d", capacityBytes)
	}
	return &Ring{
		capacity: c,
		mask:     c - 1,
		data:     make([]byte, 2*c),
		hdrs:     make([]atomic.Uint64, c/8),
	}, nil
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// Reserve claims a contiguous window of n bytes. It fails when n is not a
// publishable size or when the free capacity (relative to how far the reader
// has drained) cannot hold the record. Failure leaves the ring untouched.
func (r *Ring) Reserve(n int) (Reservation, bool) {
	if n <= 0 || uint64(n) >= r.capacity {
		return Reservation{}, false
	}
	footprint := align8(uint64(n))

	r.mu.Lock()
	prod := r.prod.Load()
	if prod+footprint-r.cons.Load() > r.capacity {
		r.mu.Unlock()
		return Reservation{}, false
	}
	phys := prod & r.mask
	hdrIdx := phys >> 3
	r.hdrs[hdrIdx].Store(uint64(n) | hdrBusy)
	r.prod.Store(prod + footprint)
	r.mu.Unlock()

	return Reservation{
		ring:   r,
		buf:    r.data[phys : phys+uint64(n)],
		hdrIdx: hdrIdx,
		size:   uint64(n),
	}, true
}

// Bytes returns the reserved window. It is valid until Commit or Discard.
func (res Reservation) Bytes() []byte {
	return res.buf
}

// Commit publishes the record to the reader in FIFO order relative to other
// committed records.
func (res Reservation) Commit() {
	res.ring.hdrs[res.hdrIdx].Store(res.size)
}

// Discard abandons the reservation; the reader skips the window silently.
func (res Reservation) Discard() {
	res.ring.hdrs[res.hdrIdx].Store(res.size | hdrDiscard)
}

// Read returns a copy of the next committed record. ok is false when no
// committed record is available, including when the next record in line is
// reserved but not yet committed. Read is single-consumer.
func (r *Ring) Read() ([]byte, bool) {
	for {
		cons := r.cons.Load()
		if cons == r.prod.Load() {
			return nil, false
		}
		phys := cons & r.mask
		hdr := r.hdrs[phys>>3].Load()
		if hdr&hdrBusy != 0 {
			// Earliest outstanding record is still being written.
			return nil, false
		}
		n := hdr & hdrLenMask
		footprint := align8(n)
		if hdr&hdrDiscard != 0 {
			r.cons.Store(cons + footprint)
			continue
		}
		out := make([]byte, n)
		copy(out, r.data[phys:phys+n])
		r.cons.Store(cons + footprint)
		return out, true
	}
}

// Submit reserves, copies p and commits in one step, for producers that
// already hold a finished record.
func (r *Ring) Submit(p []byte) bool {
	res, ok := r.Reserve(len(p))
	if !ok {
		return false
	}
	copy(res.Bytes(), p)
	res.Commit()
	return true
}

// Capacity returns the fixed byte capacity.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// Used returns the bytes currently outstanding between reader and writers.
func (r *Ring) Used() int {
	return int(r.prod.Load() - r.cons.Load())
}
