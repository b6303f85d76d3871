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

package mclock

import (
	"testing"
	"time"
)

func TestSimulatedRun(t *testing.T) {
	clk := new(Simulated)
	if clk.Now() != 0 {
		t.Fatalf("zero value should read as time zero, got %d", clk.Now())
	}
	clk.Run(5 * time.Second)
	if clk.Now() != AbsTime(5*time.Second/time.Microsecond) {
		t.Fatalf("unexpected time after Run: %d", clk.Now())
	}
}

func TestSimulatedSetBackwards(t *testing.T) {
	clk := new(Simulated)
	clk.Set(1000)
	clk.Set(10)
	if clk.Now() != 10 {
		t.Fatalf("Set should allow moving the clock backward, got %d", clk.Now())
	}
}

func TestSystemNowAdvances(t *testing.T) {
	var s System
	t1 := s.Now()
	time.Sleep(time.Millisecond)
	t2 := s.Now()
	if t2 <= t1 {
		t.Fatalf("System clock did not advance: %d -> %d", t1, t2)
	}
}
