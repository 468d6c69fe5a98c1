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

package dat

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/rs/zerolog/log"
)

// DataTest requires Value at Offset in the file.
type DataTest struct {
	Value  []byte
	Offset int64
}

// Rule skips StartOffset bytes when every data test passes.
type Rule struct {
	Tests       []DataTest
	StartOffset int64
}

// Detector recognizes copier headers that must be skipped before hashing.
type Detector struct {
	Name  string
	Rules []Rule
}

type xmlDetector struct {
	Name  string    `xml:"name"`
	Rules []xmlRule `xml:"rule"`
}

type xmlRule struct {
	StartOffset string    `xml:"start_offset,attr"`
	Operation   string    `xml:"operation,attr"`
	Data        []xmlData `xml:"data"`
}

type xmlData struct {
	Offset string `xml:"offset,attr"`
	Value  string `xml:"value,attr"`
}

// ParseDetector reads a clrmamepro header detector. Offsets are hex.
func ParseDetector(r io.Reader) (*Detector, error) {
	var raw xmlDetector
	if err := xml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode detector: %w", ErrMalformed, err)
	}

	det := &Detector{Name: strings.TrimSpace(raw.Name)}
	for i, rr := range raw.Rules {
		if op := strings.TrimSpace(rr.Operation); op != "" && op != "none" {
			log.Warn().Str("detector", det.Name).Str("operation", op).
				Msg("skipping header rule with unsupported operation")
			continue
		}
		start, err := parseHexOffset(rr.StartOffset)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: invalid start offset: %w", ErrMalformed, i, err)
		}
		rule := Rule{StartOffset: start}
		for _, d := range rr.Data {
			offset, err := parseHexOffset(d.Offset)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %d: invalid data offset: %w", ErrMalformed, i, err)
			}
			value, err := hex.DecodeString(strings.TrimSpace(d.Value))
			if err != nil || len(value) == 0 {
				return nil, fmt.Errorf("%w: rule %d: invalid data value %q", ErrMalformed, i, d.Value)
			}
			rule.Tests = append(rule.Tests, DataTest{Offset: offset, Value: value})
		}
		if len(rule.Tests) == 0 {
			return nil, fmt.Errorf("%w: rule %d has no data test", ErrMalformed, i)
		}
		det.Rules = append(det.Rules, rule)
	}
	if len(det.Rules) == 0 {
		return nil, fmt.Errorf("%w: detector has no usable rules", ErrMalformed)
	}
	return det, nil
}

func parseHexOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse hex offset: %w", err)
	}
	if v < 0 {
		return 0, errors.New("negative offset")
	}
	return v, nil
}

// Skip is the header length of the first rule. Catalogs that reference a
// detector describe every rom without its header.
func (d *Detector) Skip() int64 {
	if d == nil || len(d.Rules) == 0 {
		return 0
	}
	return d.Rules[0].StartOffset
}

// Match returns the header length of the first rule whose tests all pass on
// prefix.
func (d *Detector) Match(prefix []byte) (int64, bool) {
	if d == nil {
		return 0, false
	}
	for _, rule := range d.Rules {
		if testsPass(rule.Tests, prefix) {
			return rule.StartOffset, true
		}
	}
	return 0, false
}

func testsPass(tests []DataTest, prefix []byte) bool {
	for _, t := range tests {
		end := t.Offset + int64(len(t.Value))
		if end > int64(len(prefix)) || !bytes.Equal(prefix[t.Offset:end], t.Value) {
			return false
		}
	}
	return true
}

// HeaderRules flattens the detector for storage, one row per data test.
// Each rule's rows share a group numbered by rule position.
func (d *Detector) HeaderRules() []database.HeaderRule {
	if d == nil {
		return nil
	}
	var rules []database.HeaderRule
	for i, rule := range d.Rules {
		for _, t := range rule.Tests {
			rules = append(rules, database.HeaderRule{
				Group:      int64(i),
				Skip:       rule.StartOffset,
				DataOffset: t.Offset,
				Value:      strings.ToUpper(hex.EncodeToString(t.Value)),
			})
		}
	}
	return rules
}
