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

// Package tags extracts release metadata from No-Intro and TOSEC style game
// names: "Foo (USA, Europe) (En,Fr) (Rev 1) (Beta)".
package tags

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Flag is a release status that demotes a game during 1G1R selection.
type Flag string

const (
	FlagAftermarket Flag = "aftermarket"
	FlagUnlicensed  Flag = "unlicensed"
	FlagSample      Flag = "sample"
	FlagBeta        Flag = "beta"
	FlagDemo        Flag = "demo"
	FlagPrototype   Flag = "prototype"
	FlagPirate      Flag = "pirate"
)

// Release is the metadata parsed from a game name.
type Release struct {
	// Title is the name with every bracketed tag removed.
	Title string
	// Regions are canonical upper-case region codes in name order.
	Regions []string
	// Languages are lower-case ISO 639-1 codes in name order.
	Languages []string
	Flags     []Flag
	// Revision is the bare revision or version token, "1", "A" or "1.1".
	Revision string
}

var (
	reRev     = regexp.MustCompile(`(?i)^rev[\s-]*([a-z0-9]+(?:\.[a-z0-9]+)*)$`)
	reVersion = regexp.MustCompile(`(?i)^v\s*(\d+(?:\.\d+)*[a-z]?)$`)
	// "Beta 2", "Proto 1", "Demo 3"
	reNumbered = regexp.MustCompile(`^(.*?)[\s-]+\d+$`)
	reMultiWS  = regexp.MustCompile(`\s+`)
)

// Casers keep state between calls and cannot be shared across goroutines.
func toUpper(s string) string { return cases.Upper(language.Und).String(s) }

func toLower(s string) string { return cases.Lower(language.Und).String(s) }

// NormalizeTag case folds a tag and collapses its whitespace, for table
// lookups.
func NormalizeTag(s string) string {
	s = strings.TrimSpace(reMultiWS.ReplaceAllString(s, " "))
	return cases.Fold().String(s)
}

// NormalizeRegion returns the canonical code for a region name or code, or
// the upper-cased input when it is not a known region.
func NormalizeRegion(s string) string {
	if code, ok := lookupRegion(s); ok {
		return code
	}
	return toUpper(strings.TrimSpace(s))
}

// NormalizeLanguage returns the ISO 639-1 code for a language code, or the
// lower-cased input when it is not a known language.
func NormalizeLanguage(s string) string {
	if code, ok := languageCodes[NormalizeTag(s)]; ok {
		return code
	}
	return toLower(strings.TrimSpace(s))
}

// ImpliedLanguages returns the languages a release for the given regions
// most likely carries, without duplicates.
func ImpliedLanguages(regions []string) []string {
	var langs []string
	for _, r := range regions {
		lang, ok := regionLanguages[r]
		if !ok {
			continue
		}
		langs = appendUnique(langs, lang)
	}
	return langs
}

// Parse extracts the release metadata from name. Tags that mean nothing to
// selection are ignored.
func Parse(name string) Release {
	parens, title := extractTags(name)
	rel := Release{Title: title}

	for _, tag := range parens {
		if regions := parseRegionList(tag); regions != nil {
			for _, r := range regions {
				rel.Regions = appendUnique(rel.Regions, r)
			}
			continue
		}
		if langs := parseLanguageList(tag); langs != nil {
			for _, l := range langs {
				rel.Languages = appendUnique(rel.Languages, l)
			}
			continue
		}
		if rev, ok := parseRevision(tag); ok {
			if rel.Revision == "" {
				rel.Revision = rev
			}
			continue
		}
		if flag, ok := parseFlag(tag); ok {
			if !hasFlag(rel.Flags, flag) {
				rel.Flags = append(rel.Flags, flag)
			}
		}
	}
	return rel
}

// MergeFlags returns the union of two flag lists in a stable order.
func MergeFlags(a, b []Flag) []Flag {
	out := make([]Flag, 0, len(a)+len(b))
	for _, f := range append(append([]Flag{}, a...), b...) {
		if !hasFlag(out, f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FlagStrings converts flags for storage.
func FlagStrings(flags []Flag) []string {
	if len(flags) == 0 {
		return nil
	}
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

// extractTags returns the contents of every (), {} or <> group, plus the
// title left over once every group, square brackets included, is removed.
// Square bracket tags are dump info and never carry release metadata.
func extractTags(name string) (parenTags []string, title string) {
	const (
		stateOutside = iota
		stateInParen
		stateInBracket
	)

	var closer byte
	state := stateOutside
	tagStart := 0
	parenTags = make([]string, 0, 8)
	var b strings.Builder

	for i := range len(name) {
		char := name[i]

		switch state {
		case stateOutside:
			switch char {
			case '(':
				state, closer, tagStart = stateInParen, ')', i+1
			case '{':
				state, closer, tagStart = stateInParen, '}', i+1
			case '<':
				state, closer, tagStart = stateInParen, '>', i+1
			case '[':
				state, closer, tagStart = stateInBracket, ']', i+1
			default:
				b.WriteByte(char)
			}

		case stateInParen:
			if char == closer {
				if tag := strings.TrimSpace(name[tagStart:i]); tag != "" {
					parenTags = append(parenTags, tag)
				}
				state = stateOutside
			}

		case stateInBracket:
			if char == closer {
				state = stateOutside
			}
		}
	}

	title = strings.TrimSpace(reMultiWS.ReplaceAllString(b.String(), " "))
	return parenTags, title
}

func splitList(tag string) []string {
	var parts []string
	switch {
	case strings.Contains(tag, ","):
		parts = strings.Split(tag, ",")
	case strings.Contains(tag, "+"):
		parts = strings.Split(tag, "+")
	case strings.Contains(tag, "-"):
		parts = strings.Split(tag, "-")
	default:
		parts = []string{tag}
	}
	out := parts[:0]
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "-")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseRegionList returns the region codes of a tag made only of regions, or
// nil.
func parseRegionList(tag string) []string {
	parts := splitList(tag)
	if len(parts) == 0 {
		return nil
	}
	regions := make([]string, 0, len(parts))
	for _, p := range parts {
		code, ok := lookupRegion(p)
		if !ok {
			return nil
		}
		regions = append(regions, code)
	}
	return regions
}

// lookupRegion maps a full region name or a Logiqx region code. Two letter
// TOSEC country codes only count when written in upper case, since "De" or
// "Es" in mixed case is a No-Intro language code.
func lookupRegion(s string) (string, bool) {
	if code, ok := regionCodes[NormalizeTag(s)]; ok {
		return code, true
	}
	s = strings.TrimSpace(s)
	if len(s) == 2 && s == strings.ToUpper(s) {
		code, ok := countryCodes[s]
		return code, ok
	}
	return "", false
}

// parseLanguageList returns the language codes of a tag made only of
// language codes, or nil.
func parseLanguageList(tag string) []string {
	parts := splitList(tag)
	if len(parts) == 0 {
		return nil
	}
	langs := make([]string, 0, len(parts))
	for _, p := range parts {
		code, ok := languageCodes[NormalizeTag(p)]
		if !ok {
			return nil
		}
		langs = append(langs, code)
	}
	return langs
}

func parseRevision(tag string) (string, bool) {
	if m := reRev.FindStringSubmatch(strings.TrimSpace(tag)); m != nil {
		return toUpper(m[1]), true
	}
	if m := reVersion.FindStringSubmatch(strings.TrimSpace(tag)); m != nil {
		return m[1], true
	}
	return "", false
}

func parseFlag(tag string) (Flag, bool) {
	key := NormalizeTag(tag)
	if flag, ok := flagNames[key]; ok {
		return flag, true
	}
	if m := reNumbered.FindStringSubmatch(key); m != nil {
		if flag, ok := flagNames[m[1]]; ok {
			return flag, true
		}
	}
	return "", false
}

func hasFlag(flags []Flag, flag Flag) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
