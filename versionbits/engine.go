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

// Package versionbits implements the BIP9-style soft-fork deployment state
// machine (spec §4.2): given a deployment's parameters and the block-index
// node a candidate block would extend, determine the deployment's
// activation state and the version bits a miner should set.
//
// An Engine is read-mostly and safe for concurrent use (spec §5): every
// public operation takes the engine's mutex before touching the shared
// state cache.
package versionbits

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize bounds the per-Engine state cache. A miss just re-walks
// at most chain_height/period ancestors (spec §5), so eviction costs a
// bounded recompute rather than correctness: cache values are a pure
// function of (deployment, keying node).
const DefaultCacheSize = 4096

// Engine evaluates deployment state for a chain's block-index nodes. Zero
// value is not usable; construct with New.
type Engine struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// New constructs an Engine with the default cache size.
func New() *Engine {
	return NewWithCacheSize(DefaultCacheSize)
}

// NewWithCacheSize constructs an Engine whose state cache holds at most
// size entries.
func NewWithCacheSize(size int) *Engine {
	c, err := lru.New(size)
	if err != nil {
		// Only returns an error for size <= 0, which is a programmer error.
		panic(fmt.Sprintf("versionbits: invalid cache size %d: %v", size, err))
	}
	return &Engine{cache: c}
}

// cacheKey identifies one memoized (deployment, node) state. node is nil
// for the pre-genesis boundary.
type cacheKey struct {
	dep  string
	node BlockIndexNode
}

// Clear discards every cached state, spec §4.2.3 ("Cache must be cleared on
// chain parameter change").
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Purge()
}

// periodBoundaryAncestor returns the ancestor of node whose height is the
// highest multiple-of-period-minus-one at or below node's height: the node
// every block within the same period shares as its state-determining
// parent (spec §4.2.2, "state equals the state at the start of the
// period"). A nil node has no boundary ancestor and is returned as-is.
func periodBoundaryAncestor(node BlockIndexNode, period int32) BlockIndexNode {
	if node == nil {
		return nil
	}
	target := node.Height() - ((node.Height() + 1) % period)
	return ancestorAt(node, target)
}

// ancestorAt walks node's Prev chain down to the given height. target must
// be <= node.Height(); walking past genesis (nil) returns nil.
func ancestorAt(node BlockIndexNode, target int32) BlockIndexNode {
	for node != nil && node.Height() > target {
		node = node.Prev()
	}
	return node
}

// signals reports whether node's version signals readiness for dep's bit,
// spec §4.2.2's STARTED→LOCKED_IN condition: top 3 bits equal VBTopBits and
// the deployment's bit is set.
func signals(node BlockIndexNode, dep DeploymentParams) bool {
	v := node.Version()
	return v&VBTopMask == VBTopBits && (v>>dep.Bit)&1 == 1
}

// stateFor is the unlocked core of StateFor; callers must hold e.mu. It
// returns the state together with the period-boundary node it was computed
// for (nil for the sentinel deployments).
func (e *Engine) stateFor(parent BlockIndexNode, dep DeploymentParams) (ThresholdState, BlockIndexNode) {
	if dep.StartTime == AlwaysActive {
		return Active, nil
	}
	if dep.StartTime == NeverActive {
		return Failed, nil
	}

	boundary := periodBoundaryAncestor(parent, dep.Period)

	// Walk backward in steps of Period until a cached (or sentinel) node is
	// found, spec §4.2.3.
	var toCompute []BlockIndexNode
	cur := boundary
	for {
		if v, ok := e.cache.Get(cacheKey{dep.Name, cur}); ok {
			state := v.(ThresholdState)
			return e.computeForward(dep, state, toCompute), boundary
		}
		if cur == nil {
			e.cache.Add(cacheKey{dep.Name, cur}, Defined)
			return e.computeForward(dep, Defined, toCompute), boundary
		}
		if cur.MedianTimePast() < dep.StartTime {
			e.cache.Add(cacheKey{dep.Name, cur}, Defined)
			return e.computeForward(dep, Defined, toCompute), boundary
		}
		toCompute = append(toCompute, cur)
		cur = ancestorAt(cur, cur.Height()-dep.Period)
	}
}

// computeForward replays toCompute (ordered from closest-to-boundary to
// furthest, i.e. it must be walked back-to-front) starting from state,
// memoizing every intermediate result, and returns the final state.
func (e *Engine) computeForward(dep DeploymentParams, state ThresholdState, toCompute []BlockIndexNode) ThresholdState {
	for i := len(toCompute) - 1; i >= 0; i-- {
		node := toCompute[i]
		state = e.nextState(dep, node, state)
		e.cache.Add(cacheKey{dep.Name, node}, state)
	}
	return state
}

// nextState is the spec §4.2.2 per-period transition function: node is the
// period-boundary ancestor just ended, state is its incoming state.
func (e *Engine) nextState(dep DeploymentParams, node BlockIndexNode, state ThresholdState) ThresholdState {
	switch state {
	case Defined:
		switch {
		case node.MedianTimePast() >= dep.Timeout:
			return Failed
		case node.MedianTimePast() >= dep.StartTime:
			return Started
		default:
			return Defined
		}
	case Started:
		if node.MedianTimePast() >= dep.Timeout {
			return Failed
		}
		count := countSignalling(node, dep)
		if count >= dep.Threshold && node.Height()+1 >= dep.MinActivationHeight {
			return LockedIn
		}
		return Started
	case LockedIn:
		return Active
	default: // Active, Failed are terminal.
		return state
	}
}

// countSignalling counts, over the Period blocks ending at (and including)
// node, how many signal dep's bit (spec §4.2.2).
func countSignalling(node BlockIndexNode, dep DeploymentParams) int32 {
	var count int32
	n := node
	for i := int32(0); i < dep.Period && n != nil; i++ {
		if signals(n, dep) {
			count++
		}
		n = n.Prev()
	}
	return count
}

// StateFor returns the activation state the block built on parent is in
// (spec §4.2.1). parent is nil for a block built directly on genesis.
func (e *Engine) StateFor(parent BlockIndexNode, dep DeploymentParams) ThresholdState {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, _ := e.stateFor(parent, dep)
	return state
}

// StateSinceHeight returns the earliest height at which dep has
// continuously held its current state relative to parent (spec §4.2.1); 0
// for genesis or the sentinel cases.
func (e *Engine) StateSinceHeight(parent BlockIndexNode, dep DeploymentParams) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if dep.StartTime == AlwaysActive || dep.StartTime == NeverActive {
		return 0
	}

	finalState, _ := e.stateFor(parent, dep)

	// Walk backward one period-boundary at a time while the ancestor's
	// state (as of its own period) still equals finalState; the height just
	// after the earliest boundary that still has finalState is the answer.
	mostRecent := periodBoundaryAncestor(parent, dep.Period)
	since := int32(0)
	if mostRecent != nil {
		since = mostRecent.Height() + 1
	}
	for mostRecent != nil {
		prevBoundary := ancestorAt(mostRecent, mostRecent.Height()-dep.Period)
		prevState, _ := e.stateFor(prevBoundary, dep)
		if prevState != finalState {
			break
		}
		since = 0
		if prevBoundary != nil {
			since = prevBoundary.Height() + 1
		}
		mostRecent = prevBoundary
	}
	return since
}

// IsActiveAfter reports whether dep is ACTIVE for a block built on parent
// (spec §4.2.1).
func (e *Engine) IsActiveAfter(parent BlockIndexNode, dep DeploymentParams) bool {
	return e.StateFor(parent, dep) == Active
}

// ComputeBlockVersion returns the version bits mask a miner should set for
// the next block built on parent, across every deployment in params in a
// single pass (spec §4.2.1, SUPPLEMENTED FEATURE #1): VBTopBits, OR-ed with
// 1<<bit for every deployment currently STARTED or LOCKED_IN.
func (e *Engine) ComputeBlockVersion(parent BlockIndexNode, params ChainParams) int32 {
	version := VBTopBits
	for _, dep := range params.Deployments {
		switch e.StateFor(parent, dep) {
		case Started, LockedIn:
			version |= int32(1) << dep.Bit
		}
	}
	return version
}

// Stats reports dep's progress within its current period (SUPPLEMENTED
// FEATURE #2), mirroring versionbits.h's BIP9Stats.
func (e *Engine) Stats(parent BlockIndexNode, dep DeploymentParams) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{Period: dep.Period, Threshold: dep.Threshold, Possible: true}
	if dep.StartTime == AlwaysActive || dep.StartTime == NeverActive {
		return stats
	}

	elapsed := int32(0)
	if parent != nil {
		elapsed = (parent.Height() + 1) % dep.Period
	}
	stats.Elapsed = elapsed

	count := int32(0)
	n := parent
	for i := int32(0); i < elapsed && n != nil; i++ {
		if signals(n, dep) {
			count++
		}
		n = n.Prev()
	}
	stats.Count = count
	stats.Possible = dep.Period-elapsed+count >= dep.Threshold
	return stats
}
