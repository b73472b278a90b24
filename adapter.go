// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package raftlog

import "go.etcd.io/raft/v3/raftpb"

// Adapter exposes a LogStore the way a raft engine reads and drives its
// log: initial state on startup, ranged entry reads, and a snapshot
// request that can be bumped to an index the engine names explicitly.
//
// It deliberately does not implement go.etcd.io/raft/v3's Storage
// interface: that interface's Snapshot() takes no argument, while a
// caller here can ask for a snapshot at or beyond a specific index.
// Appending and compacting are done on the LogStore directly; the Adapter
// has no methods for them.
type Adapter struct {
	store *LogStore
}

func NewAdapter(s *LogStore) *Adapter {
	return &Adapter{store: s}
}

// InitialState returns the hard state and conf state the log was left in,
// installing empty defaults on first use so that every later read of
// either value has something to find.
func (a *Adapter) InitialState() (raftpb.HardState, raftpb.ConfState, error) {
	hs, err := a.store.GetHardState()
	if err != nil {
		return raftpb.HardState{}, raftpb.ConfState{}, err
	}
	if hs == nil {
		empty := raftpb.HardState{}
		if err := a.store.SetHardState(empty); err != nil {
			return raftpb.HardState{}, raftpb.ConfState{}, err
		}
		hs = &empty
	}

	cs, err := a.store.GetConfState()
	if err != nil {
		return raftpb.HardState{}, raftpb.ConfState{}, err
	}
	if cs == nil {
		empty := raftpb.ConfState{}
		if err := a.store.SetConfState(empty); err != nil {
			return raftpb.HardState{}, raftpb.ConfState{}, err
		}
		cs = &empty
	}

	return *hs, *cs, nil
}

// Entries projects domain Entry values onto raftpb.Entry, dropping
// Context: the raft engine's wire type has no field for it, the way
// go.etcd.io/raft/v3's own Entry has no out-of-band context field either.
func (a *Adapter) Entries(lo, hi, maxSize uint64) ([]raftpb.Entry, error) {
	var max *uint64
	if maxSize > 0 {
		max = &maxSize
	}
	entries, err := a.store.GetEntries(lo, hi, max)
	if err != nil {
		return nil, err
	}
	out := make([]raftpb.Entry, len(entries))
	for i, e := range entries {
		out[i] = raftpb.Entry{
			Term:  e.Term,
			Index: e.Index,
			Type:  raftpb.EntryType(e.Type),
			Data:  e.Data,
		}
	}
	return out, nil
}

func (a *Adapter) Term(i uint64) (uint64, error) {
	return a.store.GetTerm(i)
}

func (a *Adapter) FirstIndex() (uint64, error) {
	return a.store.GetFirstIndex()
}

func (a *Adapter) LastIndex() (uint64, error) {
	return a.store.GetLastIndex()
}

// Snapshot returns a snapshot covering everything committed so far. When
// requestIndex names an index beyond that, the snapshot's index is bumped
// up to it without recomputing the corresponding term -- a known
// staleness risk inherited unchanged from the storage layer this was
// ported from.
func (a *Adapter) Snapshot(requestIndex uint64) (raftpb.Snapshot, error) {
	return a.store.snapshotAt(requestIndex)
}
