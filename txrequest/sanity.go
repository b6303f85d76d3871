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

import "fmt"

// SanityCheck recomputes the tracker's per-peer and per-txhash bookkeeping
// from the raw announcement set and verifies the invariants of spec §3.1 /
// §8.1 (P1-P7, minus the time-coherence one, which PostGetRequestableSanityCheck
// covers). It is a direct port of txrequest.cpp's SanityCheck, intended for
// use by this module's own tests and by any downstream fuzz harness.
func (t *Tracker) SanityCheck() error {
	recomputed := make(map[nodeID]*peerEntry)
	for hashKey, g := range t.txs {
		if hashKey != g.txhash {
			return fmt.Errorf("txrequest: txhash map key %x does not match group txhash %x", hashKey, g.txhash)
		}
		if g.nonCompleted() == 0 {
			return fmt.Errorf("txrequest: txhash %x has only COMPLETED announcements (P6 violated)", g.txhash)
		}
		if g.counts[CandidateBest]+g.counts[Requested] > 1 {
			return fmt.Errorf("txrequest: txhash %x has more than one selected announcement (P2 violated)", g.txhash)
		}
		if g.counts[CandidateReady] > 0 && g.counts[CandidateBest]+g.counts[Requested] != 1 {
			return fmt.Errorf("txrequest: txhash %x has CANDIDATE_READY announcements but no selected one (P3 violated)", g.txhash)
		}
		if g.counts[CandidateReady] > 0 && g.counts[CandidateBest] == 1 {
			bestPrio := t.computer.computeAnn(g.selected)
			for _, ann := range g.anns {
				if ann.state != CandidateReady {
					continue
				}
				if t.computer.computeAnn(ann) < bestPrio {
					return fmt.Errorf("txrequest: txhash %x CANDIDATE_BEST is not minimum priority (P4 violated)", g.txhash)
				}
			}
		}
		for peer, ann := range g.anns {
			if ann.peer != peer {
				return fmt.Errorf("txrequest: peer map key %d does not match announcement peer %d", peer, ann.peer)
			}
			pe := recomputed[peer]
			if pe == nil {
				pe = &peerEntry{}
				recomputed[peer] = pe
			}
			pe.total++
			if ann.state == Requested {
				pe.requested++
			}
			if ann.state == Completed {
				pe.completed++
			}
		}
	}

	if len(recomputed) != len(t.peers) {
		return fmt.Errorf("txrequest: peer count mismatch: have %d, recomputed %d (P7 violated)", len(t.peers), len(recomputed))
	}
	for peer, want := range recomputed {
		got := t.peers[peer]
		if got == nil {
			return fmt.Errorf("txrequest: peer %d missing from peer table (P7 violated)", peer)
		}
		if got.total != want.total || got.requested != want.requested || got.completed != want.completed {
			return fmt.Errorf("txrequest: peer %d counters mismatch: have %+v, recomputed %+v (P7 violated)", peer, *got, *want)
		}
	}
	return nil
}

// PostGetRequestableSanityCheck verifies spec invariant P5 (time coherence):
// after any operation that advances time to now, every waiting announcement
// has time > now and every selectable one has time <= now.
func (t *Tracker) PostGetRequestableSanityCheck(now AbsTime) error {
	for _, g := range t.txs {
		for _, ann := range g.anns {
			switch ann.state {
			case CandidateDelayed, Requested:
				if ann.time <= now {
					return fmt.Errorf("txrequest: %s announcement for txhash %x has time %d <= now %d (P5 violated)", ann.state, ann.txhash, ann.time, now)
				}
			case CandidateReady, CandidateBest:
				if ann.time > now {
					return fmt.Errorf("txrequest: %s announcement for txhash %x has time %d > now %d (P5 violated)", ann.state, ann.txhash, ann.time, now)
				}
			}
		}
	}
	return nil
}
