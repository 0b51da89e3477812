package recorder

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/cbergoon/merkletree"
	"github.com/cockroachdb/pebble"
)

// PrefixCheckpoint namespaces integrity checkpoints.
const PrefixCheckpoint = "ckpt:"

// Checkpoint is a tamper-evidence record: the Merkle root over a contiguous
// batch of journal entries. Recomputing the root over the same key range
// must reproduce it exactly.
type Checkpoint struct {
	Timestamp int64  `json:"ts"`
	FirstKey  string `json:"first_key"`
	LastKey   string `json:"last_key"`
	Count     int    `json:"count"`
	Root      string `json:"root"` // hex
}

// entryContent implements merkletree.Content over one journal key/value pair.
type entryContent struct {
	key   []byte
	value []byte
}

func (c entryContent) CalculateHash() ([]byte, error) {
	h := sha256.New()
	if _, err := h.Write(c.key); err != nil {
		return nil, err
	}
	if _, err := h.Write(c.value); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func (c entryContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(entryContent)
	if !ok {
		return false, fmt.Errorf("content type mismatch")
	}
	return bytes.Equal(c.key, o.key) && bytes.Equal(c.value, o.value), nil
}

// WriteCheckpoint computes the Merkle root over the given journal keys (in
// order) and persists a checkpoint record for them.
func WriteCheckpoint(db *pebble.DB, keys [][]byte, ts int64) (Checkpoint, error) {
	root, err := merkleRoot(db, keys)
	if err != nil {
		return Checkpoint{}, err
	}

	ckpt := Checkpoint{
		Timestamp: ts,
		FirstKey:  string(keys[0]),
		LastKey:   string(keys[len(keys)-1]),
		Count:     len(keys),
		Root:      fmt.Sprintf("%x", root),
	}

	value, err := json.Marshal(ckpt)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("marshal checkpoint: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d", PrefixCheckpoint, ts))
	if err := db.Set(key, value, pebble.Sync); err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint: %w", err)
	}
	return ckpt, nil
}

// VerifyCheckpoint re-walks the checkpoint's key range and compares the
// recomputed Merkle root against the stored one.
func VerifyCheckpoint(db *pebble.DB, ckpt Checkpoint) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(ckpt.FirstKey),
		UpperBound: append([]byte(ckpt.LastKey), 0x00),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if len(keys) != ckpt.Count {
		return fmt.Errorf("checkpoint covers %d entries, found %d", ckpt.Count, len(keys))
	}

	root, err := merkleRoot(db, keys)
	if err != nil {
		return err
	}
	if got := fmt.Sprintf("%x", root); got != ckpt.Root {
		return fmt.Errorf("merkle root mismatch: stored %s, recomputed %s", ckpt.Root, got)
	}
	return nil
}

// Checkpoints returns all stored checkpoints in time order.
func Checkpoints(db *pebble.DB) ([]Checkpoint, error) {
	iter, err := newPrefixIter(db, PrefixCheckpoint)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Checkpoint
	for iter.First(); iter.Valid(); iter.Next() {
		var ckpt Checkpoint
		if err := json.Unmarshal(iter.Value(), &ckpt); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", iter.Key(), err)
		}
		out = append(out, ckpt)
	}
	return out, iter.Error()
}

func merkleRoot(db *pebble.DB, keys [][]byte) ([]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("checkpoint requires at least one entry")
	}

	contents := make([]merkletree.Content, 0, len(keys))
	for _, key := range keys {
		value, closer, err := db.Get(key)
		if err != nil {
			return nil, fmt.Errorf("load journal entry %s: %w", key, err)
		}
		contents = append(contents, entryContent{
			key:   append([]byte(nil), key...),
			value: append([]byte(nil), value...),
		})
		closer.Close()
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, fmt.Errorf("build merkle tree: %w", err)
	}
	return tree.MerkleRoot(), nil
}
