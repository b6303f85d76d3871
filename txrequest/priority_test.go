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

import "testing"

func TestPriorityDeterministicIsStable(t *testing.T) {
	p1 := newPriorityComputer(true)
	p2 := newPriorityComputer(true)
	h := testHash(0x42)

	if p1.compute(h, 7, true) != p2.compute(h, 7, true) {
		t.Fatalf("two deterministic priority computers disagree on the same input")
	}
}

func TestPriorityPreferredSortsAhead(t *testing.T) {
	p := newPriorityComputer(true)
	h := testHash(0x43)

	pref := p.compute(h, 1, true)
	nonPref := p.compute(h, 1, false)
	if pref >= nonPref {
		t.Fatalf("preferred priority %d should be < non-preferred priority %d for identical hash/peer", pref, nonPref)
	}
}

func TestPriorityVariesWithPeer(t *testing.T) {
	p := newPriorityComputer(true)
	h := testHash(0x44)

	a := p.compute(h, 1, true)
	b := p.compute(h, 2, true)
	if a == b {
		t.Fatalf("priority should depend on peer id, got equal values for peer 1 and 2")
	}
}

func TestPriorityVariesWithTxhash(t *testing.T) {
	p := newPriorityComputer(true)

	a := p.compute(testHash(1), 9, true)
	b := p.compute(testHash(2), 9, true)
	if a == b {
		t.Fatalf("priority should depend on txhash, got equal values for distinct hashes")
	}
}
