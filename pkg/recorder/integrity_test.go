package recorder

import (
	"testing"

	"github.com/cockroachdb/pebble"
)

func journalKeys(t *testing.T, journal *Journal, n int) [][]byte {
	t.Helper()
	keys := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		key, err := journal.Append(Entry{Timestamp: int64(1000 + i), Op: "write", PID: uint32(i)})
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, key)
	}
	return keys
}

func TestCheckpointRoundTrip(t *testing.T) {
	db := openTestDB(t)
	keys := journalKeys(t, NewJournal(db), 8)

	ckpt, err := WriteCheckpoint(db, keys, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if ckpt.Count != 8 || ckpt.Root == "" {
		t.Fatalf("bad checkpoint: %+v", ckpt)
	}

	if err := VerifyCheckpoint(db, ckpt); err != nil {
		t.Fatalf("pristine journal failed verification: %v", err)
	}

	stored, err := Checkpoints(db)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Root != ckpt.Root {
		t.Fatalf("stored checkpoints = %+v", stored)
	}
}

func TestCheckpointDetectsTampering(t *testing.T) {
	db := openTestDB(t)
	keys := journalKeys(t, NewJournal(db), 4)

	ckpt, err := WriteCheckpoint(db, keys, 5000)
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite one journaled entry in place.
	if err := db.Set(keys[2], []byte(`{"ts":1002,"op":"unlink","pid":99}`), pebble.Sync); err != nil {
		t.Fatal(err)
	}

	if err := VerifyCheckpoint(db, ckpt); err == nil {
		t.Fatalf("tampered entry passed verification")
	}
}

func TestCheckpointDetectsDeletion(t *testing.T) {
	db := openTestDB(t)
	keys := journalKeys(t, NewJournal(db), 4)

	ckpt, err := WriteCheckpoint(db, keys, 5000)
	if err != nil {
		t.Fatal(err)
	}

	if err := db.Delete(keys[1], pebble.Sync); err != nil {
		t.Fatal(err)
	}

	if err := VerifyCheckpoint(db, ckpt); err == nil {
		t.Fatalf("deleted entry passed verification")
	}
}

func TestCheckpointRequiresEntries(t *testing.T) {
	db := openTestDB(t)
	if _, err := WriteCheckpoint(db, nil, 1); err == nil {
		t.Fatalf("empty checkpoint accepted")
	}
}
