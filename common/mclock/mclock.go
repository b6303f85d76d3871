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

// Package mclock exposes a mockable time source (spec §4.4). The txrequest
// tracker takes its notion of "now" as an AbsTime argument, which callers
// read from a Clock, rather than calling time.Now directly, so tests can
// drive its state machine deterministically.
package mclock

import "time"

// AbsTime represents microseconds since an arbitrary, implementation-defined
// epoch. Values are only meaningfully compared against other AbsTime values
// produced by the same Clock.
type AbsTime int64

// Add returns t + d.
func (t AbsTime) Add(d time.Duration) AbsTime {
	return t + AbsTime(d/time.Microsecond)
}

// Sub returns the duration between t and t2.
func (t AbsTime) Sub(t2 AbsTime) time.Duration {
	return time.Duration(t-t2) * time.Microsecond
}

// Clock abstracts over wall-clock and mocked time sources.
type Clock interface {
	Now() AbsTime
}

// System is a Clock backed by the real wall clock, at microsecond
// resolution, as required by spec §4.4.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() AbsTime {
	return AbsTime(time.Now().UnixMicro())
}

// Simulated is a Clock whose value is set explicitly by tests rather than
// advancing with real time. The zero value reads as time zero until Set or
// Run is called.
type Simulated struct {
	now AbsTime
}

// Now returns the clock's current simulated time.
func (s *Simulated) Now() AbsTime {
	return s.now
}

// Set moves the simulated clock to an absolute point in time. Unlike Run,
// Set allows moving the clock backward, which is used to exercise the
// tracker's "clock went backwards" demotion rule (spec §4.1.2, rule 3).
func (s *Simulated) Set(t AbsTime) {
	s.now = t
}

// Run advances the simulated clock forward by d.
func (s *Simulated) Run(d time.Duration) {
	s.now += AbsTime(d / time.Microsecond)
}
