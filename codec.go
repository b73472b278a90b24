// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package raftlog

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
)

var msgpackHandle = &codec.MsgpackHandle{}

// EntryType mirrors the two raft entry kinds this store cares about. It is
// intentionally smaller than go.etcd.io/raft/v3/raftpb.EntryType since the
// store itself never inspects entries beyond this distinction.
type EntryType uint8

const (
	EntryNormal EntryType = iota
	EntryConfChange
)

// Entry is the unit of storage. It carries one extra field, Context, that
// go.etcd.io/raft/v3/raftpb.Entry does not have; Context travels with the
// entry the way tikv_raft's eraftpb.Entry carries out-of-band read-index
// data, and is dropped only at the Raft Storage Adapter boundary.
type Entry struct {
	Term    uint64
	Index   uint64
	Type    EntryType
	Data    []byte
	Context []byte
}

// ActionType classifies the logical operations an Entry's Data carries.
// Only the transaction boundary markers matter to the Active-Txn Index;
// everything else projects to ActionOther.
type ActionType uint8

const (
	ActionOther ActionType = iota
	ActionStartTxn
	ActionCommitTxn
	ActionRollbackTxn
)

type Operation struct {
	ActionType ActionType
	TxnID      uint64
}

// Command is the logical payload an Entry's Data decodes into when it
// represents one or more operations grouped under a single raft entry.
type Command struct {
	Operations []Operation
}

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("raftlog: encode entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(b []byte) (Entry, error) {
	var e Entry
	dec := codec.NewDecoder(bytes.NewReader(b), msgpackHandle)
	if err := dec.Decode(&e); err != nil {
		return Entry{}, &CorruptionError{Bytes: b, Cause: err}
	}
	return e, nil
}

func encodeCommand(c Command) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("raftlog: encode command: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCommand(b []byte) (Command, bool) {
	var c Command
	dec := codec.NewDecoder(bytes.NewReader(b), msgpackHandle)
	if err := dec.Decode(&c); err != nil {
		return Command{}, false
	}
	return c, true
}

// project turns an entry's payload into the logical operations the
// Active-Txn Index needs to observe. Conf-change entries carry no
// transaction semantics. A normal entry whose Data does not decode as a
// Command is treated as a single opaque operation, the way the teacher's
// batch-apply path logs and continues on an operation type it doesn't
// recognize rather than failing the whole entry.
func project(e Entry) []Operation {
	if e.Type == EntryConfChange {
		return nil
	}
	if cmd, ok := decodeCommand(e.Data); ok && len(cmd.Operations) > 0 {
		return cmd.Operations
	}
	return []Operation{{ActionType: ActionOther}}
}
