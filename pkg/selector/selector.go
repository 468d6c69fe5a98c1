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

// Package selector picks one canonical release per parent/clone group.
package selector

import (
	"slices"
	"sort"
	"strings"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database/tags"
	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
)

// demotion ranks release flags from least to most demoted. Unflagged
// releases rank 0.
var demotion = map[tags.Flag]int{
	tags.FlagAftermarket: 1,
	tags.FlagUnlicensed:  2,
	tags.FlagSample:      3,
	tags.FlagBeta:        4,
	tags.FlagDemo:        5,
	tags.FlagPrototype:   6,
	tags.FlagPirate:      7,
}

type Options struct {
	// Regions and Languages are preference lists, most preferred first.
	Regions   []string
	Languages []string
	// Demote ranks flagged releases below unflagged ones.
	Demote bool
}

type Candidate struct {
	Path  string
	Game  database.Game
	Rom   database.Rom
	Exact bool
}

type Group struct {
	Key        string
	Candidates []Candidate
}

type Selection struct {
	Key  string
	Path string
	Game database.Game
	Rom  database.Rom
}

// ranked caches the sort keys of one candidate.
type ranked struct {
	c        Candidate
	flags    []int
	region   int
	language int
	worst    int
}

// Select returns at most one selection per group, ordered by group key.
// Only exact candidates are eligible. The result does not depend on the
// order of groups or candidates.
func Select(groups []Group, opts Options) []Selection {
	regions := normalized(opts.Regions, tags.NormalizeRegion)
	languages := normalized(opts.Languages, tags.NormalizeLanguage)

	var out []Selection
	for _, g := range groups {
		var best *ranked
		for _, c := range g.Candidates {
			if !c.Exact {
				continue
			}
			r := rank(c, regions, languages)
			if best == nil || better(&r, best, opts.Demote) {
				best = &r
			}
		}
		if best == nil {
			continue
		}
		out = append(out, Selection{
			Key:  g.Key,
			Game: best.c.Game,
			Rom:  best.c.Rom,
			Path: best.c.Path,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func normalized(list []string, norm func(string) string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, norm(s))
	}
	return out
}

func rank(c Candidate, regions, languages []string) ranked {
	langs := c.Game.Languages
	if len(langs) == 0 {
		langs = tags.ImpliedLanguages(c.Game.Regions)
	}
	r := ranked{
		c:        c,
		region:   preference(c.Game.Regions, regions),
		language: preference(langs, languages),
	}
	for _, f := range c.Game.Flags {
		if d, ok := demotion[tags.Flag(f)]; ok {
			r.flags = append(r.flags, d)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(r.flags)))
	if len(r.flags) > 0 {
		r.worst = r.flags[0]
	}
	return r
}

// preference is the best index any value has in prefs, or len(prefs) when
// none is preferred.
func preference(values, prefs []string) int {
	best := len(prefs)
	for _, v := range values {
		if i := slices.Index(prefs, v); i >= 0 && i < best {
			best = i
		}
	}
	return best
}

// better reports whether a strictly outranks b.
func better(a, b *ranked, demote bool) bool {
	if a.region != b.region {
		return a.region < b.region
	}
	if a.language != b.language {
		return a.language < b.language
	}
	if demote {
		if a.worst != b.worst {
			return a.worst < b.worst
		}
		if c := slices.Compare(a.flags, b.flags); c != 0 {
			return c < 0
		}
	}
	if c := CompareNatural(a.c.Game.Revision, b.c.Game.Revision); c != 0 {
		return c > 0
	}
	if c := strings.Compare(a.c.Game.Name, b.c.Game.Name); c != 0 {
		return c < 0
	}
	if c := strings.Compare(a.c.Rom.Name, b.c.Rom.Name); c != 0 {
		return c < 0
	}
	if c := strings.Compare(a.c.Path, b.c.Path); c != 0 {
		return c < 0
	}
	return a.c.Rom.DBID < b.c.Rom.DBID
}

// GroupsFromReport builds one group per clone group of snap. A rom is an
// exact candidate when the report binds a file to it.
func GroupsFromReport(snap *database.Snapshot, report *reconciler.Report) []Group {
	bound := make(map[int64]string)
	for _, r := range report.Results {
		if r.Bound() {
			bound[r.RomDBID] = r.Path
		}
	}

	clones := snap.CloneGroups()
	groups := make([]Group, 0, len(clones))
	for _, cg := range clones {
		g := Group{Key: cg.Key}
		for _, game := range cg.Members {
			for _, rom := range snap.RomsOf(game.DBID) {
				path, ok := bound[rom.DBID]
				g.Candidates = append(g.Candidates, Candidate{
					Game:  game,
					Rom:   rom,
					Path:  path,
					Exact: ok,
				})
			}
		}
		groups = append(groups, g)
	}
	return groups
}
