package probe

import (
	"bytes"
	"testing"

	"github.com/saworbit/kernwatch/pkg/flags"
)

func TestEventRoundTrip(t *testing.T) {
	header := EventHeader{
		Op:     OpCode(flags.OpRename),
		Slot:   3,
		PID:    4242,
		TimeNs: 987654321,
		AuxLen: 9,
	}

	raw := make([]byte, HeaderSize+9)
	putHeader(raw[:HeaderSize], header)
	copy(raw[HeaderSize:], "some/path")

	evt, err := DecodeEvent(raw)
	if err != nil {
		t.Fatal(err)
	}
	if evt.Op != flags.OpRename {
		t.Fatalf("op = %v, want rename", evt.Op)
	}
	if evt.Slot != 3 || evt.PID != 4242 || evt.TimeNs != 987654321 {
		t.Fatalf("header fields wrong: %+v", evt)
	}
	if !bytes.Equal(evt.Aux, []byte("some/path")) {
		t.Fatalf("aux = %q", evt.Aux)
	}
}

func TestEncodeEventInvertsDecode(t *testing.T) {
	want := Event{
		Op:     flags.OpConnect,
		Slot:   7,
		PID:    99,
		TimeNs: 123456,
		Aux:    []byte("10.0.0.1:443"),
	}

	got, err := DecodeEvent(EncodeEvent(want))
	if err != nil {
		t.Fatal(err)
	}
	if got.Op != want.Op || got.Slot != want.Slot || got.PID != want.PID || got.TimeNs != want.TimeNs {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Aux, want.Aux) {
		t.Fatalf("aux = %q", got.Aux)
	}
}

func TestDecodeEventHeaderOnly(t *testing.T) {
	raw := make([]byte, HeaderSize)
	putHeader(raw, EventHeader{Op: OpCode(flags.OpUnlink), TimeNs: 1})

	evt, err := DecodeEvent(raw)
	if err != nil {
		t.Fatal(err)
	}
	if evt.Op != flags.OpUnlink || evt.Aux != nil {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestDecodeEventRejectsBadFraming(t *testing.T) {
	if _, err := DecodeEvent(make([]byte, HeaderSize-1)); err == nil {
		t.Fatalf("short record accepted")
	}

	// AuxLen mismatching the record size must be rejected.
	raw := make([]byte, HeaderSize+4)
	putHeader(raw[:HeaderSize], EventHeader{AuxLen: 99})
	if _, err := DecodeEvent(raw); err == nil {
		t.Fatalf("mismatched aux length accepted")
	}

	// An op code past the width of the op mask must be rejected rather
	// than silently decoding to an empty op.
	raw = make([]byte, HeaderSize)
	putHeader(raw, EventHeader{Op: 64})
	if _, err := DecodeEvent(raw); err == nil {
		t.Fatalf("out-of-range op code accepted")
	}
}

func TestOpCode(t *testing.T) {
	if OpCode(flags.OpOpen) != 0 {
		t.Fatalf("open code = %d", OpCode(flags.OpOpen))
	}
	if OpCode(flags.OpSocket) != 12 {
		t.Fatalf("socket code = %d", OpCode(flags.OpSocket))
	}
}
