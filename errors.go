// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"errors"
	"fmt"
)

// ErrCompacted is returned when a caller asks for an index that has
// already been removed by compaction or a snapshot.
var ErrCompacted = errors.New("raftlog: requested index is compacted")

// ErrSnapshotOutOfDate is returned when an incoming snapshot is older
// than what the store already has.
var ErrSnapshotOutOfDate = errors.New("raftlog: snapshot is out of date")

// CorruptionError wraps a decode failure on bytes read back from the
// backend. GetTerm, GetHardState, GetConfState and snapshot creation return
// it to the caller; GetEntries does not, it panics with the offending
// bytes instead.
type CorruptionError struct {
	Bytes []byte
	Cause error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("raftlog: corrupt entry bytes: %v", e.Cause)
}

func (e *CorruptionError) Unwrap() error { return e.Cause }

// BackendError wraps a failure from the underlying bbolt handle.
type BackendError struct {
	Cause error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("raftlog: backend error: %v", e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }
