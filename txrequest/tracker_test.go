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
	"testing"
	"time"
)

func testHash(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func checkInvariants(t *testing.T, tr *Tracker, now AbsTime) {
	t.Helper()
	if err := tr.SanityCheck(); err != nil {
		t.Fatalf("sanity check failed: %v", err)
	}
	if err := tr.PostGetRequestableSanityCheck(now); err != nil {
		t.Fatalf("post-get-requestable sanity check failed: %v", err)
	}
}

// S1: basic request/response round trip.
func TestBasicRequest(t *testing.T) {
	tr := New(true)
	H := testHash(1)
	const peer NodeID = 1
	t0 := AbsTime(1_000_000)

	tr.ReceivedInv(peer, GenTxid{Hash: H}, true, t0)
	// ReceivedInv does not advance time, so only the structural invariants
	// apply here; the time-coherence check follows GetRequestable below.
	if err := tr.SanityCheck(); err != nil {
		t.Fatalf("sanity check failed: %v", err)
	}

	got := tr.GetRequestable(peer, t0)
	if len(got) != 1 || got[0].Hash != H {
		t.Fatalf("expected [%x], got %v", H, got)
	}
	checkInvariants(t, tr, t0)

	tr.RequestedTx(peer, H, t0.Add(60*time.Second))
	if got := tr.GetRequestable(peer, t0.Add(time.Second)); len(got) != 0 {
		t.Fatalf("expected no requestable hashes while in flight, got %v", got)
	}

	// The response completes the only announcement for H, so the txhash is
	// garbage-collected (invariant P6) and nothing is left for the peer.
	tr.ReceivedResponse(peer, H)
	if n := tr.Count(peer); n != 0 {
		t.Fatalf("expected the completed announcement to be garbage-collected, got count %d", n)
	}
}

// S2: competing peers, preferred wins ties.
func TestCompetingPeersPreferredWins(t *testing.T) {
	tr := New(true)
	H := testHash(2)
	t0 := AbsTime(0)

	tr.ReceivedInv(1, GenTxid{Hash: H}, true, t0)
	tr.ReceivedInv(2, GenTxid{Hash: H}, false, t0)

	got1 := tr.GetRequestable(1, t0)
	got2 := tr.GetRequestable(2, t0)
	switch {
	case len(got1) == 1 && len(got2) == 0:
		// peer 1 (preferred) selected, as required.
	case len(got2) == 1 && len(got1) == 0:
		t.Fatalf("non-preferred peer 2 was selected over preferred peer 1 at equal reqtime")
	default:
		t.Fatalf("expected exactly one peer to have the hash requestable, got peer1=%v peer2=%v", got1, got2)
	}
	checkInvariants(t, tr, t0)
}

// S3: timeout on one peer fails over to another.
func TestTimeoutFailover(t *testing.T) {
	tr := New(true)
	H := testHash(3)
	t0 := AbsTime(0)

	tr.ReceivedInv(1, GenTxid{Hash: H}, true, t0)
	got := tr.GetRequestable(1, t0)
	if len(got) != 1 {
		t.Fatalf("expected peer 1 to have the hash requestable, got %v", got)
	}
	tr.RequestedTx(1, H, t0.Add(10*time.Second))
	tr.ReceivedInv(2, GenTxid{Hash: H}, false, t0)

	now := t0.Add(11 * time.Second)
	got2 := tr.GetRequestable(2, now)
	if len(got2) != 1 || got2[0].Hash != H {
		t.Fatalf("expected peer 2 to take over after peer 1's request expired, got %v", got2)
	}
	checkInvariants(t, tr, now)
}

// S4: disconnecting a peer before it is requested removes all trace of it.
func TestDisconnectBeforeRequest(t *testing.T) {
	tr := New(true)
	H := testHash(4)
	t0 := AbsTime(0)

	tr.ReceivedInv(1, GenTxid{Hash: H}, true, t0)
	tr.DisconnectedPeer(1)

	if tr.Size() != 0 {
		t.Fatalf("expected tracker to be empty after disconnect, size=%d", tr.Size())
	}
	if n := tr.Count(1); n != 0 {
		t.Fatalf("expected peer 1 to have no announcements, got %d", n)
	}
}

func TestForgetTxHash(t *testing.T) {
	tr := New(true)
	H := testHash(5)
	t0 := AbsTime(0)

	tr.ReceivedInv(1, GenTxid{Hash: H}, true, t0)
	tr.ReceivedInv(2, GenTxid{Hash: H}, false, t0)
	tr.ForgetTxHash(H)

	if tr.Size() != 0 {
		t.Fatalf("expected tracker to be empty after ForgetTxHash, size=%d", tr.Size())
	}
}

func TestClockWentBackwards(t *testing.T) {
	tr := New(true)
	H := testHash(6)
	t0 := AbsTime(1000)

	tr.ReceivedInv(1, GenTxid{Hash: H}, true, t0)
	got := tr.GetRequestable(1, t0)
	if len(got) != 1 {
		t.Fatalf("expected the hash to be requestable at t0, got %v", got)
	}

	// Time rewinds below t0: the CANDIDATE_BEST should demote back to
	// CANDIDATE_DELAYED (spec §4.1.2, rule 3).
	earlier := AbsTime(0)
	if got := tr.GetRequestable(1, earlier); len(got) != 0 {
		t.Fatalf("expected no requestable hashes after the clock rewound, got %v", got)
	}
	checkInvariants(t, tr, earlier)

	if got := tr.GetRequestable(1, t0); len(got) != 1 {
		t.Fatalf("expected the hash to become requestable again once time caught back up, got %v", got)
	}
}

func TestSequenceOrderIsPromotionOrder(t *testing.T) {
	tr := New(true)
	t0 := AbsTime(0)
	hA, hB := testHash(0xA), testHash(0xB)

	// B is announced first but delayed further out than A, so A should be
	// promoted (and therefore returned) first, in promotion order rather
	// than announcement order.
	tr.ReceivedInv(1, GenTxid{Hash: hB}, true, t0.Add(10*time.Second))
	tr.ReceivedInv(1, GenTxid{Hash: hA}, true, t0)

	got := tr.GetRequestable(1, t0.Add(20*time.Second))
	if len(got) != 2 || got[0].Hash != hA || got[1].Hash != hB {
		t.Fatalf("expected [A, B] in promotion order, got %v", got)
	}
}

func TestReceivedInvDuplicateIsNoop(t *testing.T) {
	tr := New(true)
	H := testHash(7)
	t0 := AbsTime(0)

	tr.ReceivedInv(1, GenTxid{Hash: H}, true, t0)
	tr.ReceivedInv(1, GenTxid{Hash: H}, false, t0.Add(time.Hour))
	if n := tr.Count(1); n != 1 {
		t.Fatalf("expected duplicate ReceivedInv to be a no-op, got count %d", n)
	}
}

func TestUnknownInputsAreNoops(t *testing.T) {
	tr := New(true)
	H := testHash(8)

	tr.RequestedTx(1, H, 100)
	tr.ReceivedResponse(1, H)
	tr.DisconnectedPeer(1)
	tr.ForgetTxHash(H)

	if tr.Size() != 0 {
		t.Fatalf("expected empty tracker after no-op operations, got size %d", tr.Size())
	}
}

func TestPeersForTxHash(t *testing.T) {
	tr := New(true)
	H := testHash(10)
	t0 := AbsTime(0)

	tr.ReceivedInv(2, GenTxid{Hash: H}, false, t0)
	tr.ReceivedInv(1, GenTxid{Hash: H}, true, t0)

	got := tr.PeersForTxHash(H)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1, 2], got %v", got)
	}

	tr.RequestedTx(1, H, t0.Add(time.Minute))
	tr.ReceivedResponse(1, H)
	if got := tr.PeersForTxHash(H); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected [2] once peer 1 completed, got %v", got)
	}
}

func TestGetRequestableIgnoresUnrelatedPeer(t *testing.T) {
	// An announcement from peer 1 must not be returned by GetRequestable for
	// a peer that never announced the hash.
	tr := New(true)
	H := testHash(9)
	t0 := AbsTime(0)

	tr.ReceivedInv(1, GenTxid{Hash: H}, true, t0)
	if got := tr.GetRequestable(2, t0); len(got) != 0 {
		t.Fatalf("peer 2 should not see peer 1's announcement, got %v", got)
	}
}
