// Zaparoo Curator
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Curator.
//
// Zaparoo Curator is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Curator is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Curator.  If not, see <http://www.gnu.org/licenses/>.

package database

import (
	"bytes"
	"encoding/hex"
	"sort"
)

// HeaderSkips returns the distinct header lengths declared by rules,
// ascending.
func HeaderSkips(rules []HeaderRule) []int64 {
	seen := make(map[int64]struct{}, len(rules))
	var skips []int64
	for _, r := range rules {
		if _, ok := seen[r.Skip]; ok {
			continue
		}
		seen[r.Skip] = struct{}{}
		skips = append(skips, r.Skip)
	}
	sort.Slice(skips, func(i, j int) bool { return skips[i] < skips[j] })
	return skips
}

// HeaderPrefixLen is the number of leading file bytes MatchHeader needs.
func HeaderPrefixLen(rules []HeaderRule) int64 {
	var n int64
	for _, r := range rules {
		end := r.DataOffset + int64(len(r.Value)/2)
		if end > n {
			n = end
		}
	}
	return n
}

// MatchHeader reports whether prefix passes every test of at least one
// rule group stored for skip. A skip with no rules never matches.
func MatchHeader(rules []HeaderRule, skip int64, prefix []byte) bool {
	failed := make(map[int64]bool)
	for _, r := range rules {
		if r.Skip != skip || failed[r.Group] {
			continue
		}
		failed[r.Group] = !testPasses(r, prefix)
	}
	for _, f := range failed {
		if !f {
			return true
		}
	}
	return false
}

func testPasses(r HeaderRule, prefix []byte) bool {
	want, err := hex.DecodeString(r.Value)
	if err != nil {
		return false
	}
	end := r.DataOffset + int64(len(want))
	return end <= int64(len(prefix)) && bytes.Equal(prefix[r.DataOffset:end], want)
}
