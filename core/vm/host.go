// Copyright 2014 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

package vm

import "github.com/aleth-go/aleth/common"

// StorageStatus is returned by Host.SetStorage and drives the net-metering
// refund machine in storage.go.
type StorageStatus int

const (
	StorageUnchanged StorageStatus = iota
	StorageAdded
	StorageModified
	StorageDeleted
	StorageDirtyAddedToDeleted
	StorageDirtyDeletedReverted
	StorageDirtyDeletedToAdded
	StorageDirtyModifiedToDeleted
	StorageDirtyModifiedReverted
	StorageDirtyModifiedAgain
)

// TxContext is the block/transaction-scoped data every frame of a call tree
// shares.
type TxContext struct {
	Origin     common.Address
	GasPrice   Word
	Coinbase   common.Address
	Number     uint64
	Timestamp  uint64
	GasLimit   uint64
	Difficulty Word
	ChainID    Word
}

// Host is the opaque, caller-supplied capability set the interpreter
// consumes for every account/storage/environment query and for dispatching
// sub-calls. The interpreter never holds state of its own beyond one call
// frame; Host owns all of it.
type Host interface {
	AccountExists(addr common.Address) bool
	GetStorage(addr common.Address, key common.Hash) Word
	SetStorage(addr common.Address, key common.Hash, value Word) StorageStatus
	GetBalance(addr common.Address) Word
	GetCodeSize(addr common.Address) uint64
	GetCodeHash(addr common.Address) common.Hash
	CopyCode(addr common.Address, offset uint64, buf []byte) uint64
	Selfdestruct(self, beneficiary common.Address) bool
	EmitLog(addr common.Address, data []byte, topics []common.Hash)
	GetTxContext() TxContext
	GetBlockHash(number uint64) common.Hash
	Call(frame *Frame) *CallResult
}

// FrameKind is the sub-call/create kind for an outgoing message.
type FrameKind int

const (
	KindCall FrameKind = iota
	KindCallCode
	KindDelegateCall
	KindStaticCall
	KindCreate
	KindCreate2
)

// FrameFlags carries per-frame behavioral bits.
type FrameFlags uint8

const (
	FlagStatic FrameFlags = 1 << iota
)

// Frame is the interpreter's input for one call: the current execution
// state plus everything needed to run it.
type Frame struct {
	Kind      FrameKind
	Flags     FrameFlags
	Depth     int
	Gas       int64
	Recipient common.Address
	Sender    common.Address
	Value     Word
	Input     []byte
	Code      []byte
	CodeHash  common.Hash
	Salt      *Word // only for Create2
}

// CallResult is what a sub-call or the top-level entry produces.
type CallResult struct {
	Status         Status
	GasLeft        int64
	GasRefunded    int64
	Output         []byte
	CreatedAddress *common.Address
}
