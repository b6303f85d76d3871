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
	ccommon "github.com/ajtowns/bitcoin-sub000/common"
	"github.com/ajtowns/bitcoin-sub000/common/mclock"
)

type (
	hash   = ccommon.Hash
	nodeID = ccommon.NodeID
)

// State is the lifecycle state of a single (txhash, peer) announcement,
// spec §3.1/§4.1.2.
type State uint8

const (
	// CandidateDelayed is the initial state of a freshly announced
	// transaction: known, but not yet eligible for request.
	CandidateDelayed State = iota
	// CandidateReady announcements are eligible to become the selected
	// (CANDIDATE_BEST) announcement for their txhash.
	CandidateReady
	// CandidateBest is the single selected, not-yet-requested announcement
	// for a txhash (spec invariant P2).
	CandidateBest
	// Requested announcements have an outstanding request in flight.
	Requested
	// Completed announcements are done: fulfilled, timed out, or superseded.
	Completed
)

func (s State) String() string {
	switch s {
	case CandidateDelayed:
		return "CANDIDATE_DELAYED"
	case CandidateReady:
		return "CANDIDATE_READY"
	case CandidateBest:
		return "CANDIDATE_BEST"
	case Requested:
		return "REQUESTED"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// isSelected reports whether s is one of the at-most-one-per-txhash
// "currently being worked on" states (spec invariant P2).
func (s State) isSelected() bool {
	return s == CandidateBest || s == Requested
}

// announcement is one record per (txhash, peer) pair the tracker knows
// about (spec §3.1). It is never exposed outside the package; callers only
// ever observe it indirectly through GetRequestable and the count methods.
type announcement struct {
	txhash    hash
	isWtxid   bool
	peer      nodeID
	preferred bool
	sequence  uint64
	// bestSeq is stamped with the tracker's promotion counter every time
	// this announcement becomes CANDIDATE_BEST; GetRequestable orders its
	// output by this field (spec §5's ordering guarantee), not by sequence,
	// which only breaks ties between announcements promoted in the same
	// setTimePoint sweep.
	bestSeq   uint64
	time      mclock.AbsTime
	state     State

	// timeKey/inTimeIndex track this announcement's current position (if
	// any) in the tracker's byTime index, so it can be relocated in O(log n)
	// whenever its state or time changes.
	timeKey     timeKey
	inTimeIndex bool
}

// stateCounts tallies announcements of each State within a txhash group or,
// transiently, a peer; indexed directly by State.
type stateCounts [5]int

// txGroup holds every announcement for a single txhash (spec §4.1.4's
// "By-txhash" grouping), plus the bookkeeping needed to reselect the best
// candidate in O(announcements for this txhash) instead of O(log total)
// tree surgery — see DESIGN.md for why this module trades the original's
// adjacent-iterator trick for direct per-group scans.
type txGroup struct {
	txhash hash
	anns   map[nodeID]*announcement
	counts stateCounts
	// selected is the at-most-one CANDIDATE_BEST or REQUESTED announcement
	// for this txhash, or nil if none (invariant P2).
	selected *announcement
}

func (g *txGroup) nonCompleted() int {
	total := 0
	for s := CandidateDelayed; s <= Requested; s++ {
		total += g.counts[s]
	}
	return total
}

// peerEntry is the per-peer summary of spec §3.1's "Per-peer summary".
type peerEntry struct {
	anns      map[hash]*announcement
	total     int
	requested int
	completed int
}

// timeKey is the composite key of the tracker's by-time index (spec
// §4.1.4): (class, time, sequence). class groups waiting announcements
// ahead of selectable ones; sequence disambiguates ties so the index can be
// a strict total order even though announcements frequently share a time.
type timeKey struct {
	class int
	time  mclock.AbsTime
	seq   uint64
}

const (
	timeClassWaiting    = 0 // CANDIDATE_DELAYED, REQUESTED
	timeClassSelectable = 2 // CANDIDATE_READY, CANDIDATE_BEST
)

// timeClassOf returns the by-time index class for s, and false if s (i.e.
// COMPLETED) doesn't participate in the time index at all: COMPLETED
// announcements never transition on the passage of time, so indexing them
// by time would only add churn with no reader.
func timeClassOf(s State) (int, bool) {
	switch s {
	case CandidateDelayed, Requested:
		return timeClassWaiting, true
	case CandidateReady, CandidateBest:
		return timeClassSelectable, true
	default:
		return 0, false
	}
}

func compareTimeKeys(a, b interface{}) int {
	ka, kb := a.(timeKey), b.(timeKey)
	if ka.class != kb.class {
		return ka.class - kb.class
	}
	if ka.time != kb.time {
		if ka.time < kb.time {
			return -1
		}
		return 1
	}
	switch {
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}
