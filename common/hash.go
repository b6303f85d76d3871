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

// Package common holds the small set of opaque identifiers shared by the
// txrequest tracker and the versionbits deployment engine.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the number of bytes in a transaction hash or wtxid.
const HashLength = 32

// Hash is an opaque 32-byte transaction identifier. It is compared only for
// equality and used as a map key; it carries no ordering semantics.
type Hash [HashLength]byte

// BytesToHash right-aligns b into a Hash, truncating from the left if b is
// longer than HashLength.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash's bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashLength)
	copy(out, h[:])
	return out
}

// GenTxid couples a hash with the namespace it belongs to, mirroring the
// original's GenTxid: the tracker treats txid and wtxid as two namespaces
// that otherwise share key space.
type GenTxid struct {
	Hash    Hash
	IsWtxid bool
}

// Format implements fmt.Formatter so GenTxid values read sensibly in logs.
func (g GenTxid) Format(f fmt.State, verb rune) {
	kind := "txid"
	if g.IsWtxid {
		kind = "wtxid"
	}
	fmt.Fprintf(f, "%s:%s", kind, g.Hash)
}

// NodeID identifies a peer. The tracker and deployment engine never dial or
// otherwise act on a NodeID; it is an opaque key supplied by the network
// layer (out of scope, spec §1).
type NodeID int64
