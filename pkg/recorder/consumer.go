package recorder

import (
	"bytes"
	"context"
	"log"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/saworbit/kernwatch/internal/metrics"
	"github.com/saworbit/kernwatch/pkg/emit"
	"github.com/saworbit/kernwatch/pkg/flags"
	"github.com/saworbit/kernwatch/pkg/payload"
	"github.com/saworbit/kernwatch/pkg/probe"
)

// Consumer is the single reader of the event ring. It decodes records,
// stores auxiliary payloads content-addressed, journals the entries and
// periodically writes integrity checkpoints. Producers get no backpressure
// from it: if it falls behind, the ring drops on their side.
type Consumer struct {
	ring     *emit.Ring
	tb       *emit.TimeBase
	db       *pebble.DB
	journal  *Journal
	payloads *payload.Store

	idleWait  time.Duration
	ckptEvery int

	pendingKeys [][]byte
}

// NewConsumer wires the consumer to the substrate and its storage.
func NewConsumer(st *emit.State, db *pebble.DB, payloads *payload.Store, idleWait time.Duration, ckptEvery int) *Consumer {
	if idleWait <= 0 {
		idleWait = time.Millisecond
	}
	return &Consumer{
		ring:      st.Ring(),
		tb:        st.TimeBase(),
		db:        db,
		journal:   NewJournal(db),
		payloads:  payloads,
		idleWait:  idleWait,
		ckptEvery: ckptEvery,
	}
}

// Run drains the ring until ctx is cancelled, then performs a final drain
// so committed events are not stranded in memory.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.drain()
			c.flushCheckpoint()
			return
		default:
		}

		if !c.step() {
			metrics.SetRingUsed(c.ring.Used())
			select {
			case <-ctx.Done():
				c.drain()
				c.flushCheckpoint()
				return
			case <-time.After(c.idleWait):
			}
		}
	}
}

// step consumes at most one record; it reports whether one was available.
func (c *Consumer) step() bool {
	raw, ok := c.ring.Read()
	if !ok {
		return false
	}
	c.handle(raw)
	return true
}

func (c *Consumer) drain() {
	for c.step() {
	}
}

func (c *Consumer) handle(raw []byte) {
	evt, err := probe.DecodeEvent(raw)
	if err != nil {
		log.Printf("[Consumer] decode event failed: %v", err)
		metrics.ObserveJournal("decode_error")
		return
	}

	entry := Entry{
		// Boot offset restores the epoch timestamp; an unarmed time base
		// contributes zero and the stamp is already epoch-relative.
		Timestamp: int64(c.tb.BootEpochNanos() + evt.TimeNs),
		Op:        flags.OpName(evt.Op),
		PID:       evt.PID,
		Slot:      evt.Slot,
	}

	if len(evt.Aux) > 0 && c.payloads != nil {
		cid, written, err := c.payloads.Put(evt.Aux)
		if err != nil {
			log.Printf("[Consumer] payload store failed: %v", err)
			metrics.ObserveJournal("store_error")
			return
		}
		entry.AuxCID = cid
		entry.AuxLen = len(evt.Aux)
		if written > 0 {
			metrics.ObservePayload("stored", written)
		} else {
			metrics.ObservePayload("deduplicated", len(evt.Aux))
		}
	}

	key, err := c.journal.Append(entry)
	if err != nil {
		log.Printf("[Consumer] journal append failed: %v", err)
		metrics.ObserveJournal("store_error")
		return
	}
	metrics.ObserveJournal("stored")

	if c.ckptEvery > 0 {
		c.pendingKeys = append(c.pendingKeys, key)
		if len(c.pendingKeys) >= c.ckptEvery {
			c.flushCheckpoint()
		}
	}
}

func (c *Consumer) flushCheckpoint() {
	if c.ckptEvery <= 0 || len(c.pendingKeys) == 0 {
		return
	}
	// Verification re-walks the key range in store order, so the root must
	// be computed over the same order.
	sort.Slice(c.pendingKeys, func(i, j int) bool {
		return bytes.Compare(c.pendingKeys[i], c.pendingKeys[j]) < 0
	})
	if _, err := WriteCheckpoint(c.db, c.pendingKeys, time.Now().UnixNano()); err != nil {
		log.Printf("[Consumer] checkpoint failed: %v", err)
		metrics.ObserveCheckpoint("error")
	} else {
		metrics.ObserveCheckpoint("written")
	}
	c.pendingKeys = c.pendingKeys[:0]
}
