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

package txrequest

import (
	"crypto/rand"
	"encoding/binary"
	"math/bits"

	ccommon "github.com/ajtowns/bitcoin-sub000/common"
)

// priority is the 64-bit value used to rank competing announcements for the
// same txhash (spec §4.1.3). Lower priority wins.
type priority uint64

// roundsPerWord and finalRounds are chosen so that the canonical input (a
// 32-byte txhash followed by an 8-byte peer id, five 8-byte words in total)
// costs exactly 12 ARX rounds, matching spec §4.3.
const (
	roundsPerWord = 2
	finalRounds   = 2
)

// priorityComputer is a functor with embedded salt that computes the
// priority of an (txhash, peer, preferred) tuple, mirroring txrequest.cpp's
// PriorityComputer. It holds a 128-bit key (k0, k1); the key is either drawn
// from a strong random source or zeroed for deterministic (test) trackers.
type priorityComputer struct {
	k0, k1 uint64
}

// newPriorityComputer constructs a priorityComputer. When deterministic is
// true the salt is all-zero, as required for reproducible tests; otherwise
// it is drawn from crypto/rand.
func newPriorityComputer(deterministic bool) priorityComputer {
	if deterministic {
		return priorityComputer{}
	}
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is a fatal environment error; there is no
		// sane fallback for a security-sensitive salt.
		panic("txrequest: failed to read random salt: " + err.Error())
	}
	return priorityComputer{
		k0: binary.LittleEndian.Uint64(buf[0:8]),
		k1: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// arxRound is one ARX (add-rotate-xor) mixing round over the two-word state,
// the permutation primitive spec §4.3 requires.
func arxRound(v0, v1 uint64) (uint64, uint64) {
	v0 += v1
	v1 = bits.RotateLeft64(v1, 13)
	v1 ^= v0
	v0 = bits.RotateLeft64(v0, 32)
	return v0, v1
}

// sum64 computes the keyed 64-bit hash of txhash followed by peer, processed
// as a sequence of little-endian 64-bit words.
func (p priorityComputer) sum64(txhash ccommon.Hash, peer ccommon.NodeID) uint64 {
	v0, v1 := p.k0, p.k1

	var peerBuf [8]byte
	binary.LittleEndian.PutUint64(peerBuf[:], uint64(peer))

	mix := func(word uint64) {
		v1 ^= word
		for i := 0; i < roundsPerWord; i++ {
			v0, v1 = arxRound(v0, v1)
		}
		v0 ^= word
	}
	for off := 0; off < len(txhash); off += 8 {
		mix(binary.LittleEndian.Uint64(txhash[off : off+8]))
	}
	mix(binary.LittleEndian.Uint64(peerBuf[:]))

	v1 ^= 0xff
	for i := 0; i < finalRounds; i++ {
		v0, v1 = arxRound(v0, v1)
	}
	return v0 ^ v1
}

// compute returns the priority of the (txhash, peer, preferred) tuple. The
// low 63 bits come from the keyed hash; the top bit is 1 iff the peer is not
// preferred, so preferred-peer announcements always sort ahead of
// equal-hash non-preferred ones.
func (p priorityComputer) compute(txhash ccommon.Hash, peer ccommon.NodeID, preferred bool) priority {
	low := p.sum64(txhash, peer) >> 1
	var top uint64
	if !preferred {
		top = 1 << 63
	}
	return priority(low | top)
}

func (p priorityComputer) computeAnn(ann *announcement) priority {
	return p.compute(ann.txhash, ann.peer, ann.preferred)
}
