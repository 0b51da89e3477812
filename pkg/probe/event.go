package probe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/saworbit/kernwatch/pkg/flags"
)

// HeaderSize is the fixed wire size of an event header.
const HeaderSize = 24

// EventHeader is the fixed-width, little-endian prefix of every record
// published through the ring. The auxiliary payload of AuxLen bytes follows
// immediately after.
type EventHeader struct {
	Op     uint16 // operation code: bit index into flags.OpFlags
	Slot   uint16 // scratch slot (CPU stand-in) that assembled the event
	PID    uint32 // acting process id, zero when the source cannot know it
	TimeNs uint64 // boot-relative nanoseconds (raw epoch when unarmed)
	AuxLen uint32
	_      uint32
}

// Event is a decoded record.
type Event struct {
	Op     flags.OpFlags
	Slot   int
	PID    uint32
	TimeNs uint64
	Aux    []byte
}

// OpCode converts a single operation bit into its wire code.
func OpCode(op flags.OpFlags) uint16 {
	return uint16(bits.TrailingZeros64(uint64(op)))
}

// putHeader packs h into dst, which must hold at least HeaderSize bytes.
func putHeader(dst []byte, h EventHeader) {
	binary.LittleEndian.PutUint16(dst[0:2], h.Op)
	binary.LittleEndian.PutUint16(dst[2:4], h.Slot)
	binary.LittleEndian.PutUint32(dst[4:8], h.PID)
	binary.LittleEndian.PutUint64(dst[8:16], h.TimeNs)
	binary.LittleEndian.PutUint32(dst[16:20], h.AuxLen)
	binary.LittleEndian.PutUint32(dst[20:24], 0)
}

// EncodeEvent packs evt into a fresh wire record. The inverse of
// DecodeEvent; used to re-inject events that arrived outside the ring.
func EncodeEvent(evt Event) []byte {
	record := make([]byte, HeaderSize+len(evt.Aux))
	putHeader(record, EventHeader{
		Op:     OpCode(evt.Op),
		Slot:   uint16(evt.Slot),
		PID:    evt.PID,
		TimeNs: evt.TimeNs,
		AuxLen: uint32(len(evt.Aux)),
	})
	copy(record[HeaderSize:], evt.Aux)
	return record
}

// DecodeEvent parses one raw ring record.
func DecodeEvent(raw []byte) (Event, error) {
	var h EventHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &h); err != nil {
		return Event{}, fmt.Errorf("decode event header: %w", err)
	}
	if h.Op >= 64 {
		return Event{}, fmt.Errorf("op code %d out of range", h.Op)
	}
	if int(h.AuxLen) != len(raw)-HeaderSize {
		return Event{}, fmt.Errorf("aux length %d does not match record size %d", h.AuxLen, len(raw))
	}

	evt := Event{
		Op:     flags.OpFlags(1) << h.Op,
		Slot:   int(h.Slot),
		PID:    h.PID,
		TimeNs: h.TimeNs,
	}
	if h.AuxLen > 0 {
		evt.Aux = append([]byte(nil), raw[HeaderSize:]...)
	}
	return evt, nil
}
