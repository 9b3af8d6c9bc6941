// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"sync/atomic"
)

// Txn is a minimal transaction handle: its own tid, the snapshot commit ID
// it reads at, and whether it has been rolled back. Grounded on the
// teacher's Txn struct (pkg/storage/txn.go: _startTime/_id/_commitId),
// trimmed to the three fields the MVCC visibility predicate (spec §4.5)
// actually consumes - undo buffers and checkpointing are out of scope.
type Txn struct {
	OwnTid      uint64
	SnapshotCid uint64
	aborted     atomic.Bool
}

func (t *Txn) Abort()           { t.aborted.Store(true) }
func (t *Txn) IsAborted() bool  { return t.aborted.Load() }

// TxnMgr hands out monotonically increasing transaction IDs and commit
// IDs, mirroring the teacher's TxnMgr (pkg/storage/txn.go) without its
// checkpoint/undo-buffer machinery.
type TxnMgr struct {
	nextTid  atomic.Uint64
	commitId atomic.Uint64
}

func NewTxnMgr() *TxnMgr {
	m := &TxnMgr{}
	m.nextTid.Store(1)
	m.commitId.Store(1)
	return m
}

func (m *TxnMgr) Begin() *Txn {
	return &Txn{
		OwnTid:      m.nextTid.Add(1),
		SnapshotCid: m.commitId.Load(),
	}
}

func (m *TxnMgr) Commit(t *Txn) uint64 {
	return m.commitId.Add(1)
}
