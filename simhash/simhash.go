// Package simhash fingerprints token sets so near-duplicate listing pages
// can be detected in constant space.
package simhash

import (
	"hash/fnv"
	"math/bits"
)

// Fingerprint computes a 64-bit SimHash over tokens. Each token is hashed
// with FNV-64a and accumulated into a signed bit vector. Token order does
// not matter; an empty set fingerprints to 0.
func Fingerprint(tokens []string) uint64 {
	if len(tokens) == 0 {
		return 0
	}

	var vector [64]int
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(tok))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}

	var fingerprint uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fingerprint |= 1 << uint(i)
		}
	}
	return fingerprint
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether two non-empty fingerprints are within threshold bits.
// The zero fingerprint is never similar to anything, so two empty pages
// are not mistaken for a repeat.
func Similar(a, b uint64, threshold int) bool {
	if a == 0 || b == 0 {
		return false
	}
	return Distance(a, b) <= threshold
}
