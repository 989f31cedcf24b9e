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

import "github.com/aleth-go/aleth/params"

// sstoreCostAndRefund computes the runtime gas cost and the refund-counter
// delta for one SSTORE, given the status the host returned from performing
// the write and whether the active schedule uses net-metering
// (Constantinople and Istanbul+) rather than the flat legacy table.
//
// Refund deltas may be negative; the running total may go transiently
// negative within a call. Clamping the final total at zero (or at most
// half the gas used, post-London) is the caller's job outside this core.
func sstoreCostAndRefund(schedule params.GasSchedule, status StorageStatus) (cost uint64, refundDelta int64) {
	if schedule.NetMetering {
		return sstoreCostAndRefundNet(status)
	}
	return sstoreCostAndRefundLegacy(status)
}

func sstoreCostAndRefundLegacy(status StorageStatus) (uint64, int64) {
	switch status {
	case StorageAdded:
		return params.SstoreSetGas, 0
	case StorageDeleted:
		return params.SstoreResetGas, int64(params.SstoreRefundGas)
	default: // Modified and any other legacy transition
		return params.SstoreResetGas, 0
	}
}

// sstoreCostAndRefundNet implements the table from the component design:
// every "dirty" transition runs at the flat unchangedGas rate, with the
// full economic effect pushed into the refund counter.
func sstoreCostAndRefundNet(status StorageStatus) (uint64, int64) {
	const (
		unchangedGas = params.SstoreUnchangedGasEIP2200
		setGas       = params.SstoreSetGas
		resetGas     = params.SstoreResetGas
		refundGas    = params.SstoreRefundGas
	)
	switch status {
	case StorageUnchanged:
		return unchangedGas, 0
	case StorageAdded:
		return setGas, 0
	case StorageModified:
		return resetGas, 0
	case StorageDeleted:
		return resetGas, int64(refundGas)
	case StorageDirtyAddedToDeleted:
		return unchangedGas, int64(setGas) - int64(unchangedGas)
	case StorageDirtyDeletedReverted:
		return unchangedGas, int64(resetGas) - int64(unchangedGas) - int64(refundGas)
	case StorageDirtyDeletedToAdded:
		return unchangedGas, -int64(refundGas)
	case StorageDirtyModifiedToDeleted:
		return unchangedGas, int64(refundGas)
	case StorageDirtyModifiedReverted:
		return unchangedGas, int64(resetGas) - int64(unchangedGas)
	case StorageDirtyModifiedAgain:
		return unchangedGas, 0
	default:
		return resetGas, 0
	}
}
