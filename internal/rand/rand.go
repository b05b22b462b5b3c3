// Package rand generates request correlation ids for outbound document
// database calls. Not security-critical; the ids only need to be unique
// enough to line up client logs with backend logs.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	mu  sync.Mutex
	rng = seededRNG()
)

func seededRNG() *rand.Rand {
	seed := make([]byte, 8)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}
	//nolint:gosec // no security required
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed))))
}

// NewRequestID returns a random base62 string of the given length.
func NewRequestID(length int) string {
	buf := make([]byte, length)
	mu.Lock()
	for i := range buf {
		buf[i] = charset[rng.Intn(len(charset))]
	}
	mu.Unlock()
	return string(buf)
}
