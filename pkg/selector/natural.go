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

package selector

import (
	"strings"
	"unicode"
)

// CompareNatural orders strings so that digit runs compare by numeric value:
// "2" < "10" and "1.9" < "1.10". Digit runs sort before text, text compares
// without case. Strings that only differ by case or zero padding fall back
// to byte order, keeping the order total.
func CompareNatural(a, b string) int {
	ra, rb := a, b
	for ra != "" && rb != "" {
		ta, na, restA := nextToken(ra)
		tb, nb, restB := nextToken(rb)
		switch {
		case na && !nb:
			return -1
		case !na && nb:
			return 1
		case na:
			if c := compareDigits(ta, tb); c != 0 {
				return c
			}
		default:
			if c := strings.Compare(strings.ToLower(ta), strings.ToLower(tb)); c != 0 {
				return c
			}
		}
		ra, rb = restA, restB
	}
	switch {
	case ra == "" && rb == "":
		return strings.Compare(a, b)
	case ra == "":
		return -1
	default:
		return 1
	}
}

// nextToken splits off the leading run of digits or non-digits.
func nextToken(s string) (token string, numeric bool, rest string) {
	numeric = isDigit(rune(s[0]))
	i := 1
	for i < len(s) && isDigit(rune(s[i])) == numeric {
		i++
	}
	return s[:i], numeric, s[i:]
}

func isDigit(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsDigit(r)
}

func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
