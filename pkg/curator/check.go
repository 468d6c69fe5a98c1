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

package curator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

type Problem int

const (
	// ProblemGone is a bound file or entry that no longer exists.
	ProblemGone Problem = iota + 1
	// ProblemCorrupt is a bound entry whose content no longer matches.
	ProblemCorrupt
)

func (p Problem) String() string {
	switch p {
	case ProblemGone:
		return "gone"
	case ProblemCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("problem(%d)", int(p))
	}
}

type CheckOptions struct {
	// Hashes are computed on top of the digests each rom carries.
	Hashes     fingerprint.Set
	CPUWorkers int
}

type CheckFailure struct {
	Err     error
	Path    string
	Entry   string
	RomDBID int64
	Problem Problem
}

type CheckReport struct {
	System   string
	Failures []CheckFailure
	Checked  int
}

// Check re-fingerprints every file bound to a rom of the named system and
// reports the bindings that are gone or no longer match.
func Check(
	ctx context.Context,
	db database.CatalogDBI,
	fs afero.Fs,
	system string,
	opts CheckOptions,
) (CheckReport, error) {
	snap, err := db.Snapshot(ctx, system)
	if err != nil {
		return CheckReport{}, fmt.Errorf("failed to load catalog snapshot: %w", err)
	}
	report := CheckReport{System: snap.System.Name}

	files, err := db.FindRomFiles(ctx, snap.System.DBID)
	if err != nil {
		return report, fmt.Errorf("failed to load rom files: %w", err)
	}
	roms := make(map[int64]database.Rom, len(snap.Roms))
	for _, r := range snap.Roms {
		roms[r.DBID] = r
	}

	byPath := make(map[string][]database.RomFile)
	for _, f := range files {
		byPath[f.Path] = append(byPath[f.Path], f)
	}
	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	cpu := opts.CPUWorkers
	if cpu <= 0 {
		cpu = runtime.NumCPU()
	}
	failures := make([][]CheckFailure, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cpu)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err //nolint:wrapcheck // wrapped below
			}
			failures[i] = checkFile(fs, byPath[path], roms, opts.Hashes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("check cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("check cancelled: %w", err)
	}

	report.Checked = len(files)
	for _, f := range failures {
		report.Failures = append(report.Failures, f...)
	}
	log.Info().
		Str("system", report.System).
		Int("checked", report.Checked).
		Int("failed", len(report.Failures)).
		Msg("check finished")
	return report, nil
}

func checkFile(
	fs afero.Fs,
	bindings []database.RomFile,
	roms map[int64]database.Rom,
	hashes fingerprint.Set,
) []CheckFailure {
	path := bindings[0].Path
	fail := func(b database.RomFile, p Problem, err error) CheckFailure {
		return CheckFailure{Path: path, Entry: b.Entry, RomDBID: b.RomDBID, Problem: p, Err: err}
	}

	r, err := openBound(fs, path, bindings[0].Container)
	if err != nil {
		problem := ProblemCorrupt
		if errors.Is(err, os.ErrNotExist) {
			problem = ProblemGone
		}
		out := make([]CheckFailure, 0, len(bindings))
		for _, b := range bindings {
			out = append(out, fail(b, problem, err))
		}
		return out
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to close file")
		}
	}()

	entries := make(map[string]containers.Entry, len(r.Entries()))
	for _, e := range r.Entries() {
		entries[e.Name] = e
	}

	var out []CheckFailure
	for _, b := range bindings {
		rom, ok := roms[b.RomDBID]
		if !ok {
			continue
		}
		e, ok := entries[b.Entry]
		if !ok {
			out = append(out, fail(b, ProblemGone, containers.ErrEntryNotFound))
			continue
		}
		d, err := hashBound(r, e, rom, hashes)
		if err != nil {
			out = append(out, fail(b, ProblemCorrupt, err))
			continue
		}
		if !reconciler.DigestsMatch(d, rom.Digests()) {
			log.Debug().Str("path", path).Str("entry", b.Entry).Msg("bound entry no longer matches")
			out = append(out, fail(b, ProblemCorrupt, fmt.Errorf("%w: digests changed", containers.ErrCorrupt)))
		}
	}
	return out
}

// openBound opens path as the kind it was bound with, falling back to
// signature detection if that kind is unknown.
func openBound(fs afero.Fs, path, container string) (containers.Reader, error) {
	kind, err := containers.ParseKind(container)
	if err != nil {
		return containers.Open(fs, path, true) //nolint:wrapcheck // caller classifies
	}
	return containers.OpenKind(fs, path, kind) //nolint:wrapcheck // caller classifies
}

func hashBound(r containers.Reader, e containers.Entry, rom database.Rom, hashes fingerprint.Set) (fingerprint.Digests, error) {
	kinds := hashes | fingerprint.SetCRC32
	if rom.MD5 != "" {
		kinds = kinds.With(fingerprint.MD5)
	}
	if rom.SHA1 != "" {
		kinds = kinds.With(fingerprint.SHA1)
	}
	// Headerless dumps of headered roms were bound without a skip.
	skip := rom.HeaderSkip
	if e.Size == rom.Size {
		skip = 0
	}

	rc, err := r.Open(e.Name)
	if err != nil {
		return fingerprint.Digests{}, fmt.Errorf("failed to open entry %s: %w", e.Name, err)
	}
	defer func() { _ = rc.Close() }()
	d, err := fingerprint.Compute(rc, kinds, skip)
	if err != nil {
		return fingerprint.Digests{}, fmt.Errorf("failed to fingerprint entry %s: %w", e.Name, err)
	}
	return d, nil
}
