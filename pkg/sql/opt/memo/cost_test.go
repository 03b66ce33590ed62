// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import "testing"

func TestCostLess(t *testing.T) {
	testCases := []struct {
		left, right Cost
		expected    bool
	}{
		{Cost{C: 0.0}, Cost{C: 1.0}, true},
		{Cost{C: 0.0}, Cost{C: 1e-20}, true},
		{Cost{C: 0.0}, Cost{C: 0.0}, false},
		{Cost{C: 1.0}, Cost{C: 0.0}, false},
		{Cost{C: 1}, Cost{C: 1.00000001}, true},
		{Cost{C: 1000}, Cost{C: 1000.00001}, true},
		{Cost{C: 1.0, Flags: FullScanPenalty}, Cost{C: 1.0}, false},
		{Cost{C: 1.0}, Cost{C: 1.0, Flags: HugeCostPenalty}, true},
		{Cost{C: 1.0, Flags: FullScanPenalty | HugeCostPenalty}, Cost{C: 1.0}, false},
		{Cost{C: 1.0, Flags: FullScanPenalty}, Cost{C: 1.0, Flags: HugeCostPenalty}, true},
		{Cost{C: 100.0}, Cost{C: 1.0, Flags: FullScanPenalty}, true},
		{MaxCost, Cost{C: 1.0}, false},
		{Cost{C: 0.0}, MaxCost, true},
		{MaxCost, MaxCost, false},
		{MaxCost, Cost{C: 1.0, Flags: FullScanPenalty}, false},
		{Cost{C: 1.0, Flags: HugeCostPenalty}, MaxCost, true},
	}
	for _, tc := range testCases {
		if tc.left.Less(tc.right) != tc.expected {
			t.Errorf("expected %v.Less(%v) to be %v", tc.left, tc.right, tc.expected)
		}
	}
}

func TestCostAdd(t *testing.T) {
	testCases := []struct {
		left, right, expected Cost
	}{
		{Cost{C: 1.0}, Cost{C: 2.0}, Cost{C: 3.0}},
		{Cost{C: 0.0}, Cost{C: 0.0}, Cost{C: 0.0}},
		{Cost{C: -1.0}, Cost{C: 1.0}, Cost{C: 0.0}},
		{Cost{C: 1.5}, Cost{C: 2.5}, Cost{C: 4.0}},
		{Cost{C: 1.0, Flags: FullScanPenalty}, Cost{C: 2.0}, Cost{C: 3.0, Flags: FullScanPenalty}},
		{Cost{C: 1.0}, Cost{C: 2.0, Flags: HugeCostPenalty}, Cost{C: 3.0, Flags: HugeCostPenalty}},
		{Cost{C: 1.0, Flags: FullScanPenalty}, Cost{C: 2.0, Flags: HugeCostPenalty}, Cost{C: 3.0, Flags: FullScanPenalty | HugeCostPenalty}},
	}
	for _, tc := range testCases {
		tc.left.Add(tc.right)
		if tc.left != tc.expected {
			t.Errorf("expected %v.Add(%v) to be %v, got %v", tc.left, tc.right, tc.expected, tc.left)
		}
	}
}

func TestCostString(t *testing.T) {
	testCases := []struct {
		c        Cost
		expected string
	}{
		{Cost{C: 1.5}, "1.50"},
		{Cost{C: 2, Flags: FullScanPenalty}, "2.00[full-scan]"},
		{Cost{C: 3, Flags: FullScanPenalty | HugeCostPenalty}, "3.00[full-scan huge]"},
	}
	for _, tc := range testCases {
		if s := tc.c.String(); s != tc.expected {
			t.Errorf("expected %q, got %q", tc.expected, s)
		}
	}
}
