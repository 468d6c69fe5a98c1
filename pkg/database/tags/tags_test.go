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

package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Release
	}{
		{
			name: "plain title",
			in:   "Foo",
			want: Release{Title: "Foo"},
		},
		{
			name: "single region implies nothing about languages",
			in:   "Foo (USA)",
			want: Release{Title: "Foo", Regions: []string{"USA"}},
		},
		{
			name: "region list",
			in:   "Foo (USA, Europe)",
			want: Release{Title: "Foo", Regions: []string{"USA", "EUR"}},
		},
		{
			name: "language list",
			in:   "Foo (Europe) (En,Fr,De)",
			want: Release{Title: "Foo", Regions: []string{"EUR"}, Languages: []string{"en", "fr", "de"}},
		},
		{
			name: "tosec plus separated languages",
			in:   "Foo (1994)(Acme)(En+De)",
			want: Release{Title: "Foo", Languages: []string{"en", "de"}},
		},
		{
			name: "tosec country codes",
			in:   "Foo (US)",
			want: Release{Title: "Foo", Regions: []string{"USA"}},
		},
		{
			name: "mixed case two letters is a language",
			in:   "Foo (De)",
			want: Release{Title: "Foo", Languages: []string{"de"}},
		},
		{
			name: "revision",
			in:   "Foo (Japan) (Rev 1)",
			want: Release{Title: "Foo", Regions: []string{"JPN"}, Revision: "1"},
		},
		{
			name: "letter revision is upper cased",
			in:   "Foo (Japan) (Rev a)",
			want: Release{Title: "Foo", Regions: []string{"JPN"}, Revision: "A"},
		},
		{
			name: "version",
			in:   "Foo (USA) (v1.1)",
			want: Release{Title: "Foo", Regions: []string{"USA"}, Revision: "1.1"},
		},
		{
			name: "numbered beta",
			in:   "Foo (USA) (Beta 2)",
			want: Release{Title: "Foo", Regions: []string{"USA"}, Flags: []Flag{FlagBeta}},
		},
		{
			name: "several flags",
			in:   "Foo (World) (Proto) (Unl)",
			want: Release{Title: "Foo", Regions: []string{"WOR"}, Flags: []Flag{FlagPrototype, FlagUnlicensed}},
		},
		{
			name: "every flag",
			in:   "Foo (Aftermarket) (Sample) (Demo) (Pirate)",
			want: Release{Title: "Foo", Flags: []Flag{FlagAftermarket, FlagSample, FlagDemo, FlagPirate}},
		},
		{
			name: "square brackets are ignored",
			in:   "Foo (Europe) [b] [!]",
			want: Release{Title: "Foo", Regions: []string{"EUR"}},
		},
		{
			name: "unknown tags are ignored",
			in:   "Foo (Disc 1) (Special Edition)",
			want: Release{Title: "Foo"},
		},
		{
			name: "duplicate regions collapse",
			in:   "Foo (USA) (USA, Japan)",
			want: Release{Title: "Foo", Regions: []string{"USA", "JPN"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestNormalizeRegion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "USA", NormalizeRegion("usa"))
	assert.Equal(t, "EUR", NormalizeRegion("Europe"))
	assert.Equal(t, "EUR", NormalizeRegion("EUR"))
	assert.Equal(t, "JPN", NormalizeRegion("JP"))
	assert.Equal(t, "MARS", NormalizeRegion("mars"))
}

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "en", NormalizeLanguage("En"))
	assert.Equal(t, "de", NormalizeLanguage("ger"))
	assert.Equal(t, "xx", NormalizeLanguage("XX"))
}

func TestImpliedLanguages(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"en", "ja"}, ImpliedLanguages([]string{"USA", "EUR", "JPN", "UK"}))
	assert.Nil(t, ImpliedLanguages([]string{"EUR", "WOR"}))
}

func TestMergeFlags(t *testing.T) {
	t.Parallel()
	got := MergeFlags([]Flag{FlagDemo, FlagBeta}, []Flag{FlagBeta, FlagUnlicensed})
	assert.Equal(t, []Flag{FlagBeta, FlagDemo, FlagUnlicensed}, got)
	assert.Empty(t, MergeFlags(nil, nil))
}

func TestPropertyParseDeterministic(t *testing.T) {
	t.Parallel()
	chars := []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789 -_.,+()[]{}<>")
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.StringOfN(rapid.SampledFrom(chars), 0, 60, -1).Draw(t, "name")
		a, b := Parse(in), Parse(in)
		if !assert.ObjectsAreEqual(a, b) {
			t.Fatalf("Parse(%q) is not deterministic: %#v vs %#v", in, a, b)
		}
		for _, f := range a.Flags {
			if _, ok := rankable[f]; !ok {
				t.Fatalf("unknown flag %q from %q", f, in)
			}
		}
	})
}

var rankable = map[Flag]struct{}{
	FlagAftermarket: {}, FlagUnlicensed: {}, FlagSample: {}, FlagBeta: {},
	FlagDemo: {}, FlagPrototype: {}, FlagPirate: {},
}
