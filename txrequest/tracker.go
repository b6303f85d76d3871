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

// Package txrequest tracks which peer to ask for which transaction, and
// when (spec §4.1). It is a direct port of the bookkeeping in Bitcoin
// Core's txrequest.cpp onto Go data structures: three logical views over
// the same set of announcements (by peer, by txhash, by time) kept
// consistent on every mutation.
//
// A Tracker is a single-owner mutable object (spec §5): none of its methods
// take a lock, and none of them block. Callers that need concurrent access
// must serialize it themselves, exactly as the original requires external
// synchronization (e.g. net processing's own mutex) around TxRequestTracker.
package txrequest

import (
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	rbt "github.com/emirpasic/gods/trees/redblacktree"

	ccommon "github.com/ajtowns/bitcoin-sub000/common"
	"github.com/ajtowns/bitcoin-sub000/common/mclock"
)

// Hash and GenTxid are re-exported for callers that don't want to import the
// common package directly.
type (
	Hash    = ccommon.Hash
	GenTxid = ccommon.GenTxid
	NodeID  = ccommon.NodeID
	AbsTime = mclock.AbsTime
)

// Tracker is the per-(hash, peer) announcement store described in spec §3.1
// and §4.1. Construct one with New.
type Tracker struct {
	computer priorityComputer
	sequence uint64
	// bestSequence counts promotions to CANDIDATE_BEST, independent of
	// announcement insertion order; see announcement.bestSeq.
	bestSequence uint64

	peers map[nodeID]*peerEntry
	txs   map[hash]*txGroup
	byTime *rbt.Tree // timeKey -> *announcement
	size   int

	logging bool
	log     *slog.Logger
}

// New constructs an empty Tracker. deterministic controls whether the
// priority hash's salt is drawn from crypto/rand (false, production use) or
// zeroed (true, for reproducible tests), matching spec §4.1.3 and §6.1.
func New(deterministic bool) *Tracker {
	return &Tracker{
		computer: newPriorityComputer(deterministic),
		peers:    make(map[nodeID]*peerEntry),
		txs:      make(map[hash]*txGroup),
		byTime:   rbt.NewWith(compareTimeKeys),
		log:      slog.Default(),
	}
}

// SetLogging toggles the tracker's debug-level logging of GC and request
// events, mirroring txrequest.cpp's SetLogging. Off by default.
func (t *Tracker) SetLogging(enabled bool) {
	t.logging = enabled
}

// markBest stamps ann with the next promotion-sequence number, recording
// that it just became CANDIDATE_BEST (spec §5's ordering guarantee).
func (t *Tracker) markBest(ann *announcement) {
	ann.bestSeq = t.bestSequence
	t.bestSequence++
}

func (t *Tracker) peerEntryOrNew(peer nodeID) *peerEntry {
	pe := t.peers[peer]
	if pe == nil {
		pe = &peerEntry{anns: make(map[hash]*announcement)}
		t.peers[peer] = pe
	}
	return pe
}

// -- index maintenance --------------------------------------------------

func (t *Tracker) insertTime(ann *announcement) {
	class, ok := timeClassOf(ann.state)
	if !ok {
		return
	}
	k := timeKey{class: class, time: ann.time, seq: ann.sequence}
	t.byTime.Put(k, ann)
	ann.timeKey = k
	ann.inTimeIndex = true
}

func (t *Tracker) removeTime(ann *announcement) {
	if !ann.inTimeIndex {
		return
	}
	t.byTime.Remove(ann.timeKey)
	ann.inTimeIndex = false
}

// transition is the general-purpose state/time mutator every higher-level
// operation funnels through; it is the Go analogue of txrequest.cpp's
// Modify<Tag>() helper, keeping the time index and per-peer counters in
// sync with the announcement's state.
func (t *Tracker) transition(ann *announcement, newState State, newTime AbsTime) {
	g := t.txs[ann.txhash]
	pe := t.peers[ann.peer]

	t.removeTime(ann)
	g.counts[ann.state]--
	if pe != nil {
		switch ann.state {
		case Requested:
			pe.requested--
		case Completed:
			pe.completed--
		}
	}

	ann.state = newState
	ann.time = newTime

	g.counts[newState]++
	if pe != nil {
		switch newState {
		case Requested:
			pe.requested++
		case Completed:
			pe.completed++
		}
	}
	t.insertTime(ann)
}

// -- core state machine (spec §4.1.2) ------------------------------------

// promoteCandidateReady converts a CANDIDATE_DELAYED announcement into
// CANDIDATE_READY and, if warranted, further into CANDIDATE_BEST (spec
// §4.1.2, rule 1).
func (t *Tracker) promoteCandidateReady(ann *announcement) {
	g := t.txs[ann.txhash]
	t.transition(ann, CandidateReady, ann.time)

	switch {
	case g.selected == nil:
		t.transition(ann, CandidateBest, ann.time)
		t.markBest(ann)
		g.selected = ann
	case g.selected.state == CandidateBest:
		if t.computer.computeAnn(ann) < t.computer.computeAnn(g.selected) {
			old := g.selected
			t.transition(old, CandidateReady, old.time)
			t.transition(ann, CandidateBest, ann.time)
			t.markBest(ann)
			g.selected = ann
		}
	// else g.selected.state == Requested: a REQUESTED announcement can't be
	// preempted by priority; ann simply remains CANDIDATE_READY.
	default:
	}
}

// changeAndReselect moves ann to newState. If ann was the txhash's selected
// announcement, the best remaining CANDIDATE_READY (if any) is promoted to
// CANDIDATE_BEST in its place (spec §4.1.2, rule 4).
func (t *Tracker) changeAndReselect(ann *announcement, newState State) {
	g := t.txs[ann.txhash]
	if g.selected == ann {
		g.selected = nil
		var bestReady *announcement
		var bestPrio priority
		for _, other := range g.anns {
			if other == ann || other.state != CandidateReady {
				continue
			}
			if p := t.computer.computeAnn(other); bestReady == nil || p < bestPrio {
				bestReady, bestPrio = other, p
			}
		}
		if bestReady != nil {
			t.transition(bestReady, CandidateBest, bestReady.time)
			t.markBest(bestReady)
			g.selected = bestReady
		}
	}
	t.transition(ann, newState, ann.time)
}

// makeCompleted converts ann to COMPLETED, garbage-collecting its whole
// txhash group if ann was the last non-COMPLETED announcement for it (spec
// §4.1.2, rule 5). It reports whether ann (and its group) still exist.
func (t *Tracker) makeCompleted(ann *announcement) bool {
	if ann.state == Completed {
		return true
	}
	g := t.txs[ann.txhash]
	if g.nonCompleted() == 1 {
		count := len(g.anns)
		t.deleteGroup(g)
		if t.logging {
			t.log.Debug("txrequest expiring", "txhash", ann.txhash, "completed", count)
		}
		return false
	}
	t.changeAndReselect(ann, Completed)
	return true
}

// deleteGroup removes every announcement for a txhash, regardless of state.
func (t *Tracker) deleteGroup(g *txGroup) {
	for peer, ann := range g.anns {
		t.removeTime(ann)
		if pe := t.peers[peer]; pe != nil {
			if ann.state == Requested {
				pe.requested--
			}
			if ann.state == Completed {
				pe.completed--
			}
			delete(pe.anns, ann.txhash)
			pe.total--
			if pe.total == 0 {
				delete(t.peers, peer)
			}
		}
		t.size--
	}
	delete(t.txs, g.txhash)
}

// eraseAnnouncement hard-removes a single (already COMPLETED or otherwise
// terminal) announcement without triggering a group-wide GC check: it is
// only ever called once makeCompleted has already established that a
// non-COMPLETED sibling remains for the same txhash.
func (t *Tracker) eraseAnnouncement(ann *announcement) {
	g := t.txs[ann.txhash]
	t.removeTime(ann)
	g.counts[ann.state]--
	if g.selected == ann {
		g.selected = nil
	}
	delete(g.anns, ann.peer)

	if pe := t.peers[ann.peer]; pe != nil {
		if ann.state == Requested {
			pe.requested--
		}
		if ann.state == Completed {
			pe.completed--
		}
		delete(pe.anns, ann.txhash)
		pe.total--
		if pe.total == 0 {
			delete(t.peers, ann.peer)
		}
	}
	t.size--
}

// setTimePoint brings the tracker to a state consistent with now (spec
// §4.1.2): expired waiting announcements move forward, and — in the rare
// case of the clock moving backward — selectable announcements whose time
// is now in the future move back to CANDIDATE_DELAYED.
func (t *Tracker) setTimePoint(now AbsTime) {
	for {
		node := t.byTime.Left()
		if node == nil {
			break
		}
		k := node.Key.(timeKey)
		if k.class != timeClassWaiting || k.time > now {
			break
		}
		ann := node.Value.(*announcement)
		switch ann.state {
		case CandidateDelayed:
			t.promoteCandidateReady(ann)
		case Requested:
			t.makeCompleted(ann)
		}
	}

	for {
		node := t.byTime.Right()
		if node == nil {
			break
		}
		k := node.Key.(timeKey)
		if k.class != timeClassSelectable || k.time <= now {
			break
		}
		ann := node.Value.(*announcement)
		t.changeAndReselect(ann, CandidateDelayed)
	}
}

// -- public contract (spec §4.1.1 / §6.1) --------------------------------

// ReceivedInv records that peer has announced gtxid, available for request
// no earlier than reqtime. A no-op if an announcement for (peer, gtxid's
// hash) already exists in any state.
func (t *Tracker) ReceivedInv(peer NodeID, gtxid GenTxid, preferred bool, reqtime AbsTime) {
	g := t.txs[gtxid.Hash]
	if g != nil {
		if _, exists := g.anns[peer]; exists {
			return
		}
	} else {
		g = &txGroup{txhash: gtxid.Hash, anns: make(map[nodeID]*announcement)}
		t.txs[gtxid.Hash] = g
	}

	ann := &announcement{
		txhash:    gtxid.Hash,
		isWtxid:   gtxid.IsWtxid,
		peer:      peer,
		preferred: preferred,
		time:      reqtime,
		state:     CandidateDelayed,
		sequence:  t.sequence,
	}
	t.sequence++

	g.anns[peer] = ann
	g.counts[CandidateDelayed]++
	t.insertTime(ann)

	pe := t.peerEntryOrNew(peer)
	pe.anns[gtxid.Hash] = ann
	pe.total++
	t.size++
}

// RequestedTx transitions the (peer, txhash) announcement to REQUESTED with
// time = expiry, demoting any prior selected announcement for the same
// txhash. A no-op if no such announcement exists.
func (t *Tracker) RequestedTx(peer NodeID, txhash Hash, expiry AbsTime) {
	g := t.txs[txhash]
	if g == nil {
		return
	}
	ann := g.anns[peer]
	if ann == nil {
		return
	}
	if sel := g.selected; sel != nil && sel != ann {
		switch sel.state {
		case CandidateBest:
			t.transition(sel, CandidateReady, sel.time)
		case Requested:
			t.transition(sel, Completed, sel.time)
		}
		g.selected = nil
	}
	t.transition(ann, Requested, expiry)
	g.selected = ann

	if t.logging {
		t.log.Debug("txrequest requested", "txhash", txhash, "peer", peer)
	}
}

// ReceivedResponse marks the (peer, txhash) announcement COMPLETED,
// reselecting a new CANDIDATE_BEST for the txhash if needed.
func (t *Tracker) ReceivedResponse(peer NodeID, txhash Hash) {
	g := t.txs[txhash]
	if g == nil {
		return
	}
	ann := g.anns[peer]
	if ann == nil {
		return
	}
	t.makeCompleted(ann)
}

// DisconnectedPeer completes-then-removes every announcement for peer,
// reselecting new CANDIDATE_BESTs as needed.
func (t *Tracker) DisconnectedPeer(peer NodeID) {
	pe := t.peers[peer]
	if pe == nil {
		return
	}
	anns := make([]*announcement, 0, len(pe.anns))
	for _, ann := range pe.anns {
		anns = append(anns, ann)
	}
	for _, ann := range anns {
		if t.makeCompleted(ann) {
			t.eraseAnnouncement(ann)
		}
	}
}

// ForgetTxHash removes every announcement for txhash across all peers.
func (t *Tracker) ForgetTxHash(txhash Hash) {
	g := t.txs[txhash]
	if g == nil {
		return
	}
	t.deleteGroup(g)
}

// GetRequestable brings the tracker to a state consistent with now and
// returns the GenTxids peer should now request, ordered by the sequence in
// which the corresponding announcements were *promoted* to CANDIDATE_BEST —
// not the order in which they were received via ReceivedInv (spec §4.1.5,
// §5's ordering guarantee).
func (t *Tracker) GetRequestable(peer NodeID, now AbsTime) []GenTxid {
	t.setTimePoint(now)

	pe := t.peers[peer]
	if pe == nil {
		return nil
	}
	type bestHash struct {
		bestSeq uint64
		g       GenTxid
	}
	selected := make([]bestHash, 0, len(pe.anns))
	for _, ann := range pe.anns {
		if ann.state == CandidateBest {
			selected = append(selected, bestHash{ann.bestSeq, GenTxid{Hash: ann.txhash, IsWtxid: ann.isWtxid}})
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].bestSeq < selected[j].bestSeq })

	out := make([]GenTxid, len(selected))
	for i, s := range selected {
		out[i] = s.g
	}
	return out
}

// CountInFlight returns the number of REQUESTED announcements for peer.
func (t *Tracker) CountInFlight(peer NodeID) int {
	if pe := t.peers[peer]; pe != nil {
		return pe.requested
	}
	return 0
}

// CountCandidates returns the number of announcements for peer that are
// neither REQUESTED nor COMPLETED.
func (t *Tracker) CountCandidates(peer NodeID) int {
	if pe := t.peers[peer]; pe != nil {
		return pe.total - pe.requested - pe.completed
	}
	return 0
}

// Count returns the total number of announcements for peer.
func (t *Tracker) Count(peer NodeID) int {
	if pe := t.peers[peer]; pe != nil {
		return pe.total
	}
	return 0
}

// Size returns the total number of announcements tracked across all peers.
func (t *Tracker) Size() int {
	return t.size
}

// ComputePriority exposes the priority a (txhash, peer, preferred) tuple
// would receive, without requiring a matching announcement to exist; useful
// for introspection and tests (spec SPEC_FULL §Supplemented Features #4).
func (t *Tracker) ComputePriority(txhash Hash, peer NodeID, preferred bool) uint64 {
	return uint64(t.computer.compute(txhash, peer, preferred))
}

// PeersForTxHash returns the set of peers that currently have an outstanding
// (non-COMPLETED) announcement for txhash, sorted ascending. It is built via
// a mapset.Set rather than the group's own map so that callers get a value
// they can freely retain and mutate without risk of aliasing the tracker's
// internal bookkeeping.
func (t *Tracker) PeersForTxHash(txhash Hash) []NodeID {
	g, ok := t.txs[txhash]
	if !ok {
		return nil
	}
	peers := mapset.NewThreadUnsafeSet[NodeID]()
	for peer, ann := range g.anns {
		if ann.state != Completed {
			peers.Add(peer)
		}
	}
	out := peers.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
