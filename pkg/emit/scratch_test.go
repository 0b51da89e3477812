package emit

import (
	"bytes"
	"testing"
)

func TestPoolAcquireInRange(t *testing.T) {
	pool := NewPool(4, 128)

	for slot := 0; slot < 4; slot++ {
		buf := pool.Acquire(slot)
		if buf == nil {
			t.Fatalf("slot %d: expected a buffer", slot)
		}
		if buf.Cap() != 128 {
			t.Fatalf("slot %d: capacity = %d, want 128", slot, buf.Cap())
		}
	}
}

func TestPoolAcquireOutOfRange(t *testing.T) {
	pool := NewPool(2, 64)

	for _, slot := range []int{-1, 2, 100} {
		if buf := pool.Acquire(slot); buf != nil {
			t.Fatalf("slot %d: expected nil, got buffer", slot)
		}
	}
}

func TestPoolSlotReuse(t *testing.T) {
	pool := NewPool(2, 64)

	first := pool.Acquire(1)
	first.Reset()
	first.Append([]byte("persisted"))

	// A second acquisition must see the same underlying region, not a
	// fresh allocation.
	second := pool.Acquire(1)
	if second != first {
		t.Fatalf("second acquisition returned a different buffer")
	}
	if !bytes.Equal(second.Bytes(), []byte("persisted")) {
		t.Fatalf("bytes not persisted across acquisitions: %q", second.Bytes())
	}

	// The neighbouring slot is a distinct region.
	other := pool.Acquire(0)
	if other == first {
		t.Fatalf("slots share a buffer")
	}
	if other.Len() != 0 {
		t.Fatalf("untouched slot has residual payload")
	}
}

func TestPoolSlotRegionsAreConfined(t *testing.T) {
	pool := NewPool(2, 16)

	sentinel := []byte("0123456789abcdef")
	neighbour := pool.Acquire(1)
	neighbour.Reset()
	neighbour.Append(sentinel)

	// Filling slot 0 to capacity must leave slot 1 untouched, and the
	// slot's slice must not extend into the neighbouring region.
	buf := pool.Acquire(0)
	buf.Reset()
	buf.Append(bytes.Repeat([]byte{0xee}, 32))

	if got := string(neighbour.Bytes()); got != string(sentinel) {
		t.Fatalf("neighbouring slot corrupted: %q", got)
	}
	if c := cap(buf.Bytes()); c != 16 {
		t.Fatalf("slot slice capacity %d reaches past its own region", c)
	}
}

func TestAuxiliaryBufferTruncatingAppend(t *testing.T) {
	pool := NewPool(1, 8)
	buf := pool.Acquire(0)

	if n := buf.Append([]byte("12345")); n != 5 {
		t.Fatalf("append = %d, want 5", n)
	}
	if n := buf.Append([]byte("67890")); n != 3 {
		t.Fatalf("overflowing append = %d, want 3", n)
	}
	if got := string(buf.Bytes()); got != "12345678" {
		t.Fatalf("payload = %q, want %q", got, "12345678")
	}

	buf.Reset()
	if buf.Len() != 0 || buf.Cap() != 8 {
		t.Fatalf("reset changed geometry: len=%d cap=%d", buf.Len(), buf.Cap())
	}
}
