// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"testing"

	"go.etcd.io/raft/v3/raftpb"
)

func TestAdapterInitialStateInstallsDefaults(t *testing.T) {
	s := newTestStore(t)
	a := NewAdapter(s)

	hs, cs, err := a.InitialState()
	if err != nil {
		t.Fatalf("initial state: %v", err)
	}
	if hs.Commit != 0 || hs.Term != 0 || hs.Vote != 0 {
		t.Fatalf("expected zero-value hard state, got %#v", hs)
	}
	if len(cs.Voters) != 0 {
		t.Fatalf("expected empty conf state, got %#v", cs)
	}

	persisted, err := s.GetHardState()
	if err != nil || persisted == nil {
		t.Fatalf("expected default hard state to be persisted, got %v, %v", persisted, err)
	}
}

func TestAdapterEntriesDropsContext(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append([]Entry{{Index: 1, Term: 1, Data: []byte("d"), Context: []byte("ctx")}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	a := NewAdapter(s)
	entries, err := a.Entries(1, 2, 0)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Data == nil || string(entries[0].Data) != "d" {
		t.Fatalf("unexpected entries: %#v", entries)
	}
}

func TestAdapterSnapshotBumpsIndexWithoutTerm(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append(buildEntries(1, 2, 3)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.SetHardState(raftpb.HardState{Commit: 2, Term: 2}); err != nil {
		t.Fatalf("set hard state: %v", err)
	}
	if err := s.SetConfState(raftpb.ConfState{}); err != nil {
		t.Fatalf("set conf state: %v", err)
	}

	a := NewAdapter(s)
	snap, err := a.Snapshot(10)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Metadata.Index != 10 {
		t.Fatalf("expected snapshot index bumped to request index 10, got %d", snap.Metadata.Index)
	}
	if snap.Metadata.Term != 2 {
		t.Fatalf("expected term to stay the commit-index term (2), not be recomputed for the bumped index, got %d", snap.Metadata.Term)
	}
}
