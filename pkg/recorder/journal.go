package recorder

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PrefixEvent namespaces journal entries inside the shared Pebble instance.
const PrefixEvent = "evt:"

// Entry is one journaled event, ready for downstream analysis.
type Entry struct {
	Timestamp int64  `json:"ts"` // epoch nanoseconds
	Op        string `json:"op"`
	PID       uint32 `json:"pid"`
	Slot      int    `json:"slot"`
	AuxCID    string `json:"aux_cid,omitempty"`
	AuxLen    int    `json:"aux_len,omitempty"`
}

// Journal appends events to Pebble using a time-ordered key prefix.
type Journal struct {
	db *pebble.DB
}

// NewJournal creates a journal writer bound to the provided Pebble instance.
func NewJournal(db *pebble.DB) *Journal {
	return &Journal{db: db}
}

// Append writes one entry and returns the key it was stored under.
func (j *Journal) Append(entry Entry) ([]byte, error) {
	if j.db == nil {
		return nil, fmt.Errorf("pebble database is not initialized")
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal journal entry: %w", err)
	}

	suffix, err := randomSuffix()
	if err != nil {
		return nil, fmt.Errorf("generate journal key: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d:%s", PrefixEvent, entry.Timestamp, suffix))

	if err := j.db.Set(key, value, pebble.NoSync); err != nil {
		return nil, fmt.Errorf("write journal entry: %w", err)
	}
	return key, nil
}

// Walk visits journal entries in key (time) order. The callback receives the
// key and decoded entry; returning false stops the walk.
func (j *Journal) Walk(fn func(key []byte, entry Entry) bool) error {
	iter, err := newPrefixIter(j.db, PrefixEvent)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return fmt.Errorf("decode journal entry %s: %w", iter.Key(), err)
		}
		key := append([]byte(nil), iter.Key()...)
		if !fn(key, entry) {
			break
		}
	}
	return iter.Error()
}

func newPrefixIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	upper := append([]byte(prefix), 0xff)
	return db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upper,
	})
}

func randomSuffix() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
