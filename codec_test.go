// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"reflect"
	"testing"
)

func TestEntryRoundTrip(t *testing.T) {
	e := Entry{
		Term:    3,
		Index:   7,
		Type:    EntryNormal,
		Data:    []byte("payload"),
		Context: []byte("ctx"),
	}
	raw, err := encodeEntry(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeEntry(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(e, got) {
		t.Fatalf("round trip mismatch: got %#v, want %#v", got, e)
	}
}

func TestDecodeEntryCorrupt(t *testing.T) {
	if _, err := decodeEntry([]byte{0xc1}); err == nil {
		t.Fatalf("expected corruption error, got nil")
	}
}

func TestProjectConfChangeHasNoOperations(t *testing.T) {
	e := Entry{Type: EntryConfChange, Data: []byte("irrelevant")}
	if ops := project(e); ops != nil {
		t.Fatalf("expected nil operations for conf change, got %#v", ops)
	}
}

func TestProjectOpaquePayloadIsOther(t *testing.T) {
	e := Entry{Type: EntryNormal, Data: []byte("not a command")}
	ops := project(e)
	if len(ops) != 1 || ops[0].ActionType != ActionOther {
		t.Fatalf("expected single ActionOther operation, got %#v", ops)
	}
}

func TestProjectCommand(t *testing.T) {
	cmd := Command{Operations: []Operation{
		{ActionType: ActionStartTxn, TxnID: 42},
		{ActionType: ActionCommitTxn, TxnID: 42},
	}}
	raw, err := encodeCommand(cmd)
	if err != nil {
		t.Fatalf("encode command: %v", err)
	}
	e := Entry{Type: EntryNormal, Data: raw}
	ops := project(e)
	if !reflect.DeepEqual(ops, cmd.Operations) {
		t.Fatalf("got %#v, want %#v", ops, cmd.Operations)
	}
}
