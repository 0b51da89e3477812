package emit

import (
	"runtime"
	"testing"

	"github.com/saworbit/kernwatch/pkg/flags"
)

func TestNewStateDefaults(t *testing.T) {
	st, err := NewState(Options{})
	if err != nil {
		t.Fatal(err)
	}

	if got := st.Ring().Capacity(); got != DefaultRingBytes {
		t.Fatalf("ring capacity = %d, want %d", got, DefaultRingBytes)
	}
	if got := st.Pool().Slots(); got != runtime.NumCPU() {
		t.Fatalf("scratch slots = %d, want %d", got, runtime.NumCPU())
	}
	if buf := st.Pool().Acquire(0); buf.Cap() != DefaultScratchBytes {
		t.Fatalf("scratch capacity = %d, want %d", buf.Cap(), DefaultScratchBytes)
	}
	if st.Armed() {
		t.Fatalf("fresh state reports armed")
	}
}

func TestNewStateRejectsBadRing(t *testing.T) {
	if _, err := NewState(Options{RingBytes: 1000}); err == nil {
		t.Fatalf("expected error for non power-of-two ring")
	}
}

func TestArmIsOneShot(t *testing.T) {
	st, err := NewState(Options{RingBytes: 1024, ScratchSlots: 2, ScratchBytes: 256})
	if err != nil {
		t.Fatal(err)
	}

	st.Arm(flags.FeatureFileActivity, flags.OpOpen, 42)
	st.Arm(flags.AllFeatures, flags.AllOps, 99)

	if !st.Armed() {
		t.Fatalf("state not armed")
	}
	if got := st.TimeBase().BootEpochNanos(); got != 42 {
		t.Fatalf("second Arm overwrote boot instant: %d", got)
	}
	if st.Gate().Enabled(flags.FeatureNetActivity, 0) {
		t.Fatalf("second Arm widened the feature mask")
	}
	if !st.Gate().Enabled(flags.FeatureFileActivity, flags.OpOpen) {
		t.Fatalf("first Arm configuration not in effect")
	}
}
