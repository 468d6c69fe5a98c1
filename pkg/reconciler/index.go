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

package reconciler

import (
	"sort"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
)

// sizeIndex finds the roms whose expected bytes could come from an entry of
// a given size. Headered roms are indexed under their declared size plus the
// header they expect to be stripped.
type sizeIndex struct {
	bySize  map[int64][]database.Rom
	headers []database.HeaderRule
	skips   []int64
	prefix  int64
}

// option is one way to read an entry: skip leading bytes, then compare the
// rest against roms.
type option struct {
	roms []database.Rom
	skip int64
}

func newSizeIndex(snap *database.Snapshot) *sizeIndex {
	idx := &sizeIndex{
		bySize:  make(map[int64][]database.Rom, len(snap.Roms)),
		headers: snap.Headers,
		skips:   database.HeaderSkips(snap.Headers),
		prefix:  database.HeaderPrefixLen(snap.Headers),
	}
	for _, r := range snap.Roms {
		idx.bySize[r.Size] = append(idx.bySize[r.Size], r)
		if r.HeaderSkip > 0 {
			key := r.Size + r.HeaderSkip
			idx.bySize[key] = append(idx.bySize[key], r)
		}
	}
	for size, roms := range idx.bySize {
		sort.Slice(roms, func(i, j int) bool { return roms[i].DBID < roms[j].DBID })
		idx.bySize[size] = roms
	}
	return idx
}

// needsPrefix reports whether the header signature must be read before the
// options for an entry of this size are known.
func (idx *sizeIndex) needsPrefix(size int64) bool {
	if idx.prefix == 0 {
		return false
	}
	for _, r := range idx.bySize[size] {
		if r.HeaderSkip > 0 && r.Size+r.HeaderSkip == size {
			return true
		}
	}
	return false
}

// options returns the distinct skips an entry of size must be hashed with,
// ascending, each with its candidate roms in DBID order. A headerless dump
// of a headered rom is still matched at skip 0.
func (idx *sizeIndex) options(size int64, prefix []byte) []option {
	candidates := idx.bySize[size]
	if len(candidates) == 0 {
		return nil
	}

	var opts []option
	var plain []database.Rom
	for _, r := range candidates {
		if r.Size == size {
			plain = append(plain, r)
		}
	}
	if len(plain) > 0 {
		opts = append(opts, option{skip: 0, roms: plain})
	}

	for _, skip := range idx.skips {
		if skip <= 0 || skip >= size {
			continue
		}
		if !database.MatchHeader(idx.headers, skip, prefix) {
			continue
		}
		var headered []database.Rom
		for _, r := range candidates {
			if r.HeaderSkip == skip && r.Size+skip == size {
				headered = append(headered, r)
			}
		}
		if len(headered) > 0 {
			opts = append(opts, option{skip: skip, roms: headered})
		}
	}
	return opts
}

// sizeCandidates returns every rom the entry size made plausible, used for
// nearest-name diagnostics.
func (idx *sizeIndex) sizeCandidates(size int64) []database.Rom {
	return idx.bySize[size]
}
