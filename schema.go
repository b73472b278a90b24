// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package raftlog

import "encoding/binary"

// Log entries are keyed by their raft index, little-endian encoded. bbolt
// compares keys bytewise, so the byte ordering of these keys does not
// follow numeric index ordering (index 256 sorts before index 1); entries
// are therefore read by point lookups over an index range, not by cursor
// scans. Metadata lives in the same bucket at four sentinel keys chosen
// from the top of the uint64 range, numerically above any entry index a
// real log will ever reach, so no entry key collides with them.
var (
	hardStateKey  = le(^uint64(0))
	confStateKey  = le(^uint64(0) - 1)
	firstIndexKey = le(^uint64(0) - 2)
	lastIndexKey  = le(^uint64(0) - 3)
)

func le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func entryKey(index uint64) []byte {
	return le(index)
}

func decodeKeyIndex(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
