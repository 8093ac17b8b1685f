// Package hashing maps keys and virtual nodes onto 32-bit ring positions.
package hashing

import (
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/dchest/siphash"
	"github.com/spaolacci/murmur3"
)

// Hasher hashes the canonical byte encoding of a value. Implementations must
// be pure: identical bytes hash identically on every process.
type Hasher interface {
	Sum32(data []byte) uint32
}

// Murmur3 is the default hasher (MurmurHash3 x86_32).
type Murmur3 struct {
	Seed uint32
}

func (h Murmur3) Sum32(data []byte) uint32 {
	return murmur3.Sum32WithSeed(data, h.Seed)
}

// XXHash folds the 64-bit xxHash digest into 32 bits.
type XXHash struct{}

func (XXHash) Sum32(data []byte) uint32 {
	sum := xxhash.Sum64(data)
	return uint32(sum) ^ uint32(sum>>32)
}

// Keys to SipHash, generated at random.
// Every member of a group must use the same keys.
const (
	siphashK0 uint64 = 16038536194969526240
	siphashK1 uint64 = 11178038365157218530
)

// SipHash is a keyed hasher. The zero value uses the built-in keys.
type SipHash struct {
	K0, K1 uint64
}

func (h SipHash) Sum32(data []byte) uint32 {
	k0, k1 := h.K0, h.K1
	if k0 == 0 && k1 == 0 {
		k0, k1 = siphashK0, siphashK1
	}
	sum := siphash.Hash(k0, k1, data)
	return uint32(sum) ^ uint32(sum>>32)
}

// Default is the hasher used when none is configured.
var Default Hasher = Murmur3{}

// New returns the hasher registered under name ("murmur3", "xxhash" or
// "siphash").
func New(name string) (Hasher, error) {
	switch name {
	case "", "murmur3":
		return Murmur3{}, nil
	case "xxhash":
		return XXHash{}, nil
	case "siphash":
		return SipHash{}, nil
	}
	return nil, fmt.Errorf("hashing: unknown hasher %q", name)
}
