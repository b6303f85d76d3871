// Copyright 2024 The bitcoin-sub000 Authors
// This file is part of the bitcoin-sub000 library.
//
// The bitcoin-sub000 library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The bitcoin-sub000 library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the bitcoin-sub000 library. If not, see <http://www.gnu.org/licenses/>.

package versionbits

// ThresholdState is a deployment's activation state, spec §3.2/§4.2.2. The
// heretical DEACTIVATING/ABANDONED extension (spec §9, Open Questions) is
// deliberately not modeled; this package implements only the standard
// five-state machine.
type ThresholdState uint8

const (
	Defined ThresholdState = iota
	Started
	LockedIn
	Active
	Failed
)

// String names the state, mirroring versionbits.cpp's StateName
// (SUPPLEMENTED FEATURE #3) for logging and the Stats/Info surface.
func (s ThresholdState) String() string {
	switch s {
	case Defined:
		return "defined"
	case Started:
		return "started"
	case LockedIn:
		return "locked_in"
	case Active:
		return "active"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// BlockIndexNode is the read-only view the engine borrows of a block-index
// entry (spec §3.2). Implementations are expected to be comparable (e.g. a
// pointer type), since nodes double as cache keys.
type BlockIndexNode interface {
	Height() int32
	Prev() BlockIndexNode
	MedianTimePast() int64
	Version() int32
}

// Stats reports the progress of a STARTED deployment within its current
// period, mirroring versionbits.h's BIP9Stats (SUPPLEMENTED FEATURE #2).
// Elapsed/Count/Possible are only meaningful while the deployment is
// STARTED; for other states Elapsed and Count are still reported (both 0 at
// a period boundary just entered), and Possible is computed the same
// unconditional way BIP9Stats does (remaining blocks in the period plus
// blocks already signalling, compared against Threshold) regardless of
// state, so a FAILED or threshold-missed STARTED deployment can still
// report Possible=false late in a period.
type Stats struct {
	Period    int32
	Threshold int32
	Elapsed   int32
	Count     int32
	Possible  bool
}
