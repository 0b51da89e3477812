package payload

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/pebble"
)

func openTestDB(t *testing.T) *pebble.DB {
	t.Helper()
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	store, err := NewStore(openTestDB(t), 512)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	data := []byte("var/log/auth.log")
	cid, written, err := store.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if cid == "" || written == 0 {
		t.Fatalf("cid=%q written=%d", cid, written)
	}

	got, err := store.Get(cid)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestPutDeduplicates(t *testing.T) {
	store, err := NewStore(openTestDB(t), 512)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	data := []byte("etc/shadow")
	cid1, written1, err := store.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	cid2, written2, err := store.Put(data)
	if err != nil {
		t.Fatal(err)
	}

	if cid1 != cid2 {
		t.Fatalf("same payload produced different CIDs: %s vs %s", cid1, cid2)
	}
	if written1 == 0 || written2 != 0 {
		t.Fatalf("dedup accounting wrong: first=%d second=%d", written1, written2)
	}
}

func TestLargePayloadCompressed(t *testing.T) {
	store, err := NewStore(openTestDB(t), 64)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	data := bytes.Repeat([]byte("abcdefgh"), 1024)
	cid, written, err := store.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if written >= len(data) {
		t.Fatalf("repetitive payload not compressed: %d >= %d", written, len(data))
	}

	got, err := store.Get(cid)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("compressed round trip mismatch")
	}
}

func TestMagicPrefixedPayload(t *testing.T) {
	store, err := NewStore(openTestDB(t), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	data := []byte(compressionMagic + "-raw-but-suspicious")
	cid, _, err := store.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(cid)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("magic-prefixed payload corrupted: %q", got)
	}
}

func TestGetUnknownCID(t *testing.T) {
	store, err := NewStore(openTestDB(t), 512)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Get("zUnknownCID"); err == nil {
		t.Fatalf("expected error for unknown CID")
	}
}
