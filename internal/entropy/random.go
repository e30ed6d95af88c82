// Package entropy resolves run seeds and mints run identifiers.
// Seeded math/rand drives everything reproducible; crypto/rand only picks a
// seed when none was configured.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ResolveSeed returns seed unchanged unless it is zero, in which case a fresh
// positive seed is drawn from crypto/rand.
func ResolveSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	for {
		if s := int64(cryptoUint64() >> 1); s != 0 {
			return s
		}
	}
}

// NewRand returns a generator for one subsystem. Subsystems sharing a seed
// use distinct offsets so their streams differ.
func NewRand(seed, offset int64) *mrand.Rand {
	return mrand.New(mrand.NewSource(seed + offset))
}

func cryptoUint64() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(mrand.New(mrand.NewSource(time.Now().UnixNano())), 0)
)

// NewRunID returns a ULID for a run started at t. Ids minted within the same
// millisecond still sort in creation order.
func NewRunID(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), idEntropy).String()
}
