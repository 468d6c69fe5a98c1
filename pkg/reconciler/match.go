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
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/hbollon/go-edlib"
	"github.com/rs/zerolog/log"
)

// matchEntry classifies one entry. A returned error means the entry could
// not be read at all; integrity failures are classified instead.
func (s *scanner) matchEntry(r containers.Reader, path string, e containers.Entry) (Result, error) {
	res := Result{
		Path:      path,
		Entry:     e.Name,
		Container: r.Kind(),
		Size:      e.Size,
	}

	var prefix []byte
	if s.index.needsPrefix(e.Size) {
		p, err := readPrefix(r, e.Name, s.index.prefix)
		if err != nil {
			if integrityError(err) {
				return s.mismatch(res, nil, err.Error()), nil
			}
			return res, err
		}
		prefix = p
	}

	opts := s.index.options(e.Size, prefix)
	if len(opts) == 0 {
		res.Status = StatusUnrecognized
		log.Debug().Str("path", path).Str("entry", e.Name).Int64("size", e.Size).Msg("no rom of this size")
		return res, nil
	}

	actual := make(map[int64]fingerprint.Digests, len(opts))
	var cands []candidate
	seen := make(map[int64]struct{})
	for _, o := range opts {
		d, err := s.hashEntry(r, e.Name, o)
		if err != nil {
			if integrityError(err) {
				return s.mismatch(res, actual, err.Error()), nil
			}
			return res, err
		}
		actual[o.skip] = d
		for _, rom := range o.roms {
			if _, dup := seen[rom.DBID]; dup {
				continue
			}
			if DigestsMatch(d, rom.Digests()) {
				seen[rom.DBID] = struct{}{}
				cands = append(cands, candidate{rom: rom, skip: o.skip, actual: d})
			}
		}
	}

	if len(cands) == 0 {
		return s.mismatch(res, actual, "no rom of this size has matching digests"), nil
	}

	// Candidates stay in catalog order. finish settles the binding once
	// every file has been seen.
	sort.Slice(cands, func(i, j int) bool { return cands[i].rom.DBID < cands[j].rom.DBID })
	res.Status = StatusExact
	res.candidates = cands
	res.bind(cands[0])

	log.Debug().
		Str("path", path).
		Str("entry", e.Name).
		Str("rom", cands[0].rom.Name).
		Int64("skip", cands[0].skip).
		Msg("exact match")
	return res, nil
}

// candidate is a catalog rom an entry matched exactly.
type candidate struct {
	rom    database.Rom
	actual fingerprint.Digests
	skip   int64
}

// bind points r at c and lists the other matching roms as duplicates.
func (r *Result) bind(c candidate) {
	r.RomDBID = c.rom.DBID
	r.GameDBID = c.rom.GameDBID
	r.HeaderSkip = c.skip
	r.Actual = c.actual
	r.Expected = c.rom.Digests()
	r.RomName = c.rom.Name
	r.Renamed = filepath.Base(r.Entry) != c.rom.Name
	r.DuplicateRoms = nil
	for _, o := range r.candidates {
		if o.rom.DBID != c.rom.DBID {
			r.DuplicateRoms = append(r.DuplicateRoms, o.rom.DBID)
		}
	}
}

// unbound picks the candidate r should bind to given the roms already
// bound: an unbound rom named like the entry, then the first unbound rom in
// catalog order. It fails when every candidate is taken.
func (r *Result) unbound(boundBy map[int64]string) (candidate, bool) {
	if len(r.candidates) == 0 {
		if _, taken := boundBy[r.RomDBID]; taken {
			return candidate{}, false
		}
		return candidate{}, true
	}
	name := filepath.Base(r.Entry)
	first := -1
	for i, c := range r.candidates {
		if _, taken := boundBy[c.rom.DBID]; taken {
			continue
		}
		if c.rom.Name == name {
			return c, true
		}
		if first < 0 {
			first = i
		}
	}
	if first < 0 {
		return candidate{}, false
	}
	return r.candidates[first], true
}

// mismatch fills in a Mismatch result with the nearest size candidate by
// name. actual may be nil when hashing never completed.
func (s *scanner) mismatch(res Result, actual map[int64]fingerprint.Digests, reason string) Result {
	res.Status = StatusMismatch
	res.Reason = reason

	nearest, ok := nearestByName(res.Entry, s.index.sizeCandidates(res.Size))
	if ok {
		res.Nearest = nearest.DBID
		res.Expected = nearest.Digests()
		if d, found := actual[nearestSkip(nearest, res.Size)]; found {
			res.Actual = d
			res.HeaderSkip = nearestSkip(nearest, res.Size)
		} else if d, found := actual[0]; found {
			res.Actual = d
		}
	}

	log.Debug().
		Str("path", res.Path).
		Str("entry", res.Entry).
		Str("reason", reason).
		Int64("nearest", res.Nearest).
		Msg("entry does not match catalog")
	return res
}

func nearestSkip(rom database.Rom, size int64) int64 {
	if rom.Size == size {
		return 0
	}
	return rom.HeaderSkip
}

// nearestByName picks the rom whose name is most similar to entry. Ties go
// to the lowest DBID, so roms must be in DBID order.
func nearestByName(entry string, roms []database.Rom) (database.Rom, bool) {
	if len(roms) == 0 {
		return database.Rom{}, false
	}
	name := filepath.Base(entry)
	best := roms[0]
	bestScore := edlib.JaroWinklerSimilarity(name, best.Name)
	for _, r := range roms[1:] {
		score := edlib.JaroWinklerSimilarity(name, r.Name)
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	return best, true
}

// DigestsMatch applies the checksum filter, then lets the strongest digest
// both sides carry decide.
func DigestsMatch(actual, expected fingerprint.Digests) bool {
	if actual.Size != expected.Size {
		return false
	}
	if expected.CRC32 != "" && !actual.Equal(expected, fingerprint.CRC32) {
		return false
	}
	kind, ok := actual.Strongest(expected)
	return ok && actual.Equal(expected, kind)
}

// hashEntry fingerprints the entry once for one header skip. Digest kinds
// the candidates carry are added to the configured ones.
func (s *scanner) hashEntry(r containers.Reader, name string, o option) (fingerprint.Digests, error) {
	kinds := s.opts.Hashes | fingerprint.SetCRC32
	for _, rom := range o.roms {
		if rom.MD5 != "" {
			kinds = kinds.With(fingerprint.MD5)
		}
		if rom.SHA1 != "" {
			kinds = kinds.With(fingerprint.SHA1)
		}
	}

	rc, err := r.Open(name)
	if err != nil {
		return fingerprint.Digests{}, fmt.Errorf("failed to open entry %s: %w", name, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Warn().Err(err).Str("entry", name).Msg("failed to close entry")
		}
	}()

	d, err := fingerprint.Compute(rc, kinds, o.skip)
	if err != nil {
		return fingerprint.Digests{}, fmt.Errorf("failed to fingerprint entry %s: %w", name, err)
	}
	return d, nil
}

// readPrefix reads the first n bytes of an entry for header detection. A
// shorter entry returns what it has.
func readPrefix(r containers.Reader, name string, n int64) ([]byte, error) {
	rc, err := r.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", name, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Warn().Err(err).Str("entry", name).Msg("failed to close entry")
		}
	}()

	buf := make([]byte, n)
	read, err := io.ReadFull(rc, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}
	return buf[:read], nil
}
