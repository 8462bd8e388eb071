// hash.go: Key hashing and bucket indexing for the AVC bucket table
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra fragment
// SPDX-License-Identifier: MPL-2.0

package avc

import (
	"github.com/dolthub/maphash"
)

// keyHasher mixes a Key through maphash before masking it down to a
// bucket index. Plain XOR-shift mixing (spec.md's raw
// "ssid ^ (tsid<<2) ^ (tclass<<4)") is cheap but gives poor avalanche
// behavior for adversarially chosen identities; maphash's mixing fixes
// that for a few extra cycles per lookup. The raw formula is not used,
// so colliding keys cannot be built by choosing identities; tests force
// collisions with a one-slot table instead.
var keyHasher = maphash.NewHasher[Key]()

// hashKey returns a well-mixed 64-bit hash of key.
func hashKey(key Key) uint64 {
	return keyHasher.Hash(key)
}

// bucketIndex returns the slot index for key within a table of the given
// size, which must be a power of two.
func bucketIndex(key Key, slots uint32) uint32 {
	h := hashKey(key)
	mixed := uint32(h) ^ uint32(h>>32)
	return mixed & (slots - 1)
}

// nextPowerOf2 rounds n up to the next power of two, with a floor of 1.
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}
