package cache

import (
	"sync"

	"github.com/dgraph-io/ristretto"
)

var knownUnitPrefix = []byte("ku:")
var knownBadPrefix = []byte("kb:")

// KnownUnits is the in-memory-fronted, durably-backed cache of unit
// hashes the ingestion pipeline has already seen (§4.D check_new). It is
// read-mostly: writes only happen when a brand-new unit is first
// accepted or quarantined, following the single-writer-multi-reader
// policy of §5.
type KnownUnits struct {
	mu  sync.RWMutex
	kv  KV
	hot *ristretto.Cache
}

// NewKnownUnits builds a KnownUnits cache backed by kv, with an
// in-process ristretto front for the hot path.
func NewKnownUnits(kv KV) (*KnownUnits, error) {
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 26, // 64MB
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &KnownUnits{kv: kv, hot: hot}, nil
}

// MarkKnown records unit as known-good (persisted or in flight).
func (k *KnownUnits) MarkKnown(unit string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hot.Set(unit, true, 1)
	return k.kv.Set(append(append([]byte{}, knownUnitPrefix...), unit...), []byte{1})
}

// IsKnown reports whether unit has already been seen.
func (k *KnownUnits) IsKnown(unit string) (bool, error) {
	if v, ok := k.hot.Get(unit); ok {
		return v.(bool), nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	has, err := k.kv.Has(append(append([]byte{}, knownUnitPrefix...), unit...))
	if err != nil {
		return false, err
	}
	k.hot.Set(unit, has, 1)
	return has, nil
}

// MarkBad records unit (and the error it failed with) as known-bad,
// bounding the table-scan cost of the bad-joint cascade (§4.D) with an
// LRU eviction policy instead of an unbounded known-bad-units table scan.
func (k *KnownUnits) MarkBad(unit, reason string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hot.Set(string(append(append([]byte{}, knownBadPrefix...), unit...)), reason, int64(len(reason)))
	return k.kv.Set(append(append([]byte{}, knownBadPrefix...), unit...), []byte(reason))
}

// BadReason returns the reason unit was quarantined, if any.
func (k *KnownUnits) BadReason(unit string) (string, bool, error) {
	key := string(append(append([]byte{}, knownBadPrefix...), unit...))
	if v, ok := k.hot.Get(key); ok {
		return v.(string), true, nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	b, err := k.kv.Get(append(append([]byte{}, knownBadPrefix...), unit...))
	if err != nil {
		return "", false, err
	}
	if b == nil {
		return "", false, nil
	}
	return string(b), true, nil
}
