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

import "fmt"

// Sentinel start-time values, spec §3.2. A deployment with start_time ==
// AlwaysActive ignores threshold signalling entirely and is ACTIVE from
// genesis; NeverActive is the dual, permanently FAILED.
const (
	AlwaysActive int64 = -1
	NeverActive  int64 = -2
)

// Consensus-critical wire constants, spec §6.4.
const (
	// VBTopBits is the version bits a miner sets to signal via versionbits
	// (the high 3 bits of a 32-bit block version).
	VBTopBits int32 = 0x20000000
	// VBTopMask isolates the bits VBTopBits occupies. Written as the
	// complement of the low 29 bits since 0xE0000000 itself overflows int32.
	VBTopMask int32 = ^0x1FFFFFFF
	// VBNumBits is the number of usable deployment bits (0..28).
	VBNumBits = 29

	// DefaultPeriod and DefaultThreshold are Bitcoin mainnet's historical
	// values, used by NewDeploymentParams when the caller passes zero.
	DefaultPeriod    = 2016
	DefaultThreshold = 1916
)

// DeploymentParams describes one registered soft fork, spec §3.2.
type DeploymentParams struct {
	Name                string
	Bit                 uint8
	StartTime           int64
	Timeout             int64
	MinActivationHeight int32
	Period              int32
	Threshold           int32
}

// NewDeploymentParams validates and constructs a DeploymentParams. Spec §9's
// "Exceptions" design note: the original throws std::runtime_error for
// malformed chain-parameter arguments; here that becomes a returned error at
// construction time, since the engine itself (§4.2.4) never fails once
// constructed.
func NewDeploymentParams(name string, bit uint8, startTime, timeout int64, minActivationHeight, period, threshold int32) (DeploymentParams, error) {
	if period == 0 {
		period = DefaultPeriod
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	d := DeploymentParams{
		Name:                name,
		Bit:                 bit,
		StartTime:           startTime,
		Timeout:             timeout,
		MinActivationHeight: minActivationHeight,
		Period:              period,
		Threshold:           threshold,
	}
	if err := d.validate(); err != nil {
		return DeploymentParams{}, err
	}
	return d, nil
}

func (d DeploymentParams) validate() error {
	if int(d.Bit) >= VBNumBits {
		return fmt.Errorf("versionbits: deployment %q: bit %d out of range [0, %d)", d.Name, d.Bit, VBNumBits)
	}
	if d.alwaysOrNeverActive() {
		return nil
	}
	if d.Period <= 0 {
		return fmt.Errorf("versionbits: deployment %q: period must be positive, got %d", d.Name, d.Period)
	}
	if d.Threshold <= 0 || d.Threshold > d.Period {
		return fmt.Errorf("versionbits: deployment %q: threshold %d out of range (0, %d]", d.Name, d.Threshold, d.Period)
	}
	if d.Timeout < d.StartTime {
		return fmt.Errorf("versionbits: deployment %q: timeout %d precedes start_time %d", d.Name, d.Timeout, d.StartTime)
	}
	if d.MinActivationHeight < 0 {
		return fmt.Errorf("versionbits: deployment %q: negative min_activation_height %d", d.Name, d.MinActivationHeight)
	}
	return nil
}

func (d DeploymentParams) alwaysOrNeverActive() bool {
	return d.StartTime == AlwaysActive || d.StartTime == NeverActive
}

// ChainParams is the caller-provided table of every registered deployment,
// the §4.2.1 "params" argument to ComputeBlockVersion (SUPPLEMENTED FEATURE
// #1: the original's VersionBitsCache takes the whole table in one call
// rather than one deployment at a time).
type ChainParams struct {
	Deployments []DeploymentParams
}

// NewChainParams validates every deployment and rejects duplicate or
// overlapping bit assignments among deployments that are neither
// AlwaysActive nor NeverActive (those don't occupy a signalling bit in any
// block that matters, so collisions among them are harmless, but two
// threshold-signalled deployments sharing a bit is a configuration error no
// caller could have intended).
func NewChainParams(deployments ...DeploymentParams) (ChainParams, error) {
	seen := make(map[uint8]string)
	for _, d := range deployments {
		if err := d.validate(); err != nil {
			return ChainParams{}, err
		}
		if d.alwaysOrNeverActive() {
			continue
		}
		if other, ok := seen[d.Bit]; ok {
			return ChainParams{}, fmt.Errorf("versionbits: deployments %q and %q both claim bit %d", other, d.Name, d.Bit)
		}
		seen[d.Bit] = d.Name
	}
	return ChainParams{Deployments: deployments}, nil
}
