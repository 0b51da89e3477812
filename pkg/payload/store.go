// Package payload stores auxiliary event payloads content-addressed, so
// repeated payloads (the common case: the same path touched again and again)
// are kept once and referenced by CID from the journal.
package payload

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multihash"
)

// Prefix namespaces payload objects inside the shared Pebble instance.
const Prefix = "pay:"

const compressionMagic = "KWZ1"

// Store is a content-addressable payload store backed by Pebble.
type Store struct {
	db          *pebble.DB
	compressMin int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore creates a payload store. Payloads larger than compressMin bytes
// are zstd-compressed on disk.
func NewStore(db *pebble.DB, compressMin int) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble database is required")
	}
	if compressMin <= 0 {
		compressMin = 512
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}

	return &Store{db: db, compressMin: compressMin, enc: enc, dec: dec}, nil
}

// Put stores data and returns its CID plus the number of bytes newly written
// to disk (zero when the payload was already present).
func (s *Store) Put(data []byte) (string, int, error) {
	cid, err := computeCID(data)
	if err != nil {
		return "", 0, err
	}

	key := []byte(Prefix + cid)
	if _, closer, err := s.db.Get(key); err == nil {
		closer.Close()
		return cid, 0, nil
	} else if err != pebble.ErrNotFound {
		return "", 0, fmt.Errorf("probe payload %s: %w", cid, err)
	}

	stored := data
	// A raw payload that happens to start with the magic must be wrapped,
	// or Get would misread it as compressed.
	mustWrap := bytes.HasPrefix(data, []byte(compressionMagic))
	if len(data) >= s.compressMin || mustWrap {
		compressed := s.enc.EncodeAll(data, []byte(compressionMagic))
		if mustWrap || len(compressed) < len(data) {
			stored = compressed
		}
	}

	if err := s.db.Set(key, stored, pebble.NoSync); err != nil {
		return "", 0, fmt.Errorf("store payload %s: %w", cid, err)
	}
	return cid, len(stored), nil
}

// Get returns the payload for a CID.
func (s *Store) Get(cid string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(Prefix + cid))
	if err != nil {
		return nil, fmt.Errorf("load payload %s: %w", cid, err)
	}
	defer closer.Close()

	if len(val) >= len(compressionMagic) && string(val[:len(compressionMagic)]) == compressionMagic {
		out, err := s.dec.DecodeAll(val[len(compressionMagic):], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress payload %s: %w", cid, err)
		}
		return out, nil
	}

	return append([]byte(nil), val...), nil
}

// Close releases the codec resources. The Pebble handle stays with the
// caller that opened it.
func (s *Store) Close() {
	s.enc.Close()
	s.dec.Close()
}

func computeCID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("compute multihash: %w", err)
	}
	return mh.B58String(), nil
}
