package upstream

import (
	"encoding/base32"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// hashSeed is the fixed per-list seed mixed into the hashed rotation,
// kept numerically identical to the reference implementation's
// SEED_CONSTANT.
const hashSeed uint64 = 0xa574de7df64e9b9d

// keyedHash64 computes the 64-bit xxhash of key seeded with seed, the
// "64-bit xxhash variant" named as an RNG collaborator requirement.
func keyedHash64(key []byte, seed uint64) uint64 {
	d := xxhash.NewWithSeed(seed)
	_, _ = d.Write(key)
	return d.Sum64()
}

// jumpConsistentHash implements the Lamping-Veach jump consistent hash:
// for a fixed key and nbuckets, returns a bucket in [0, nbuckets). key
// is consumed as an LCG state stepped as key*2862933555777941757 + 1,
// the canonical jump-hash step; this differs from the original C's
// step, so bucket assignments are not bit-identical to it.
func jumpConsistentHash(key uint64, nbuckets int32) int32 {
	var b, j int64 = -1, 0

	for j < int64(nbuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * float64(int64(1)<<31) / float64((key>>33)+1))
	}

	return int32(b)
}

// uidEncoding is the unpadded base32 alphabet used for short diagnostic
// upstream identifiers.
var uidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// shortUID derives a short, stable diagnostic identifier for an
// upstream name using a cryptographic 64-bit hash (blake2b truncated to
// 8 bytes).
func shortUID(name string) string {
	h, err := blake2b.New(8, nil)
	if err != nil {
		// blake2b.New only errors for invalid size/key length; 8 and nil
		// are always valid, so this path is unreachable in practice.
		return "????????"
	}
	_, _ = h.Write([]byte(name))
	sum := h.Sum(nil)

	return strings.ToLower(uidEncoding.EncodeToString(sum))
}
