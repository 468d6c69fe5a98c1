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

// Package reconciler matches the files of a library against a catalog
// snapshot by content fingerprint.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const DefaultIOWorkers = 16

type Status int

const (
	StatusExact Status = iota + 1
	StatusMismatch
	StatusUnrecognized
	StatusMissing
)

func (s Status) String() string {
	switch s {
	case StatusExact:
		return "exact"
	case StatusMismatch:
		return "mismatch"
	case StatusUnrecognized:
		return "unrecognized"
	case StatusMissing:
		return "missing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Options struct {
	// Exclude lists directories under root that are never scanned, such as
	// the trash directory.
	Exclude []string
	// Hashes are the digests computed for every plausible entry. CRC32 is
	// always added.
	Hashes     fingerprint.Set
	CPUWorkers int
	IOWorkers  int
	// AllowFlat treats files with no container signature as raw dumps.
	// Without it they are skipped as unsupported.
	AllowFlat bool
}

// Result classifies one entry of a library file, or a catalog rom that no
// entry matched.
type Result struct {
	Path  string
	Entry string
	// DuplicateOf is the path already bound to the same rom. Only the first
	// path in scan order is bound.
	DuplicateOf string
	Reason      string
	// Actual holds the computed digests with the header stripped.
	Actual   fingerprint.Digests
	Expected fingerprint.Digests
	// DuplicateRoms lists other catalog roms with identical content.
	DuplicateRoms []int64
	Container     containers.Kind
	Status        Status
	RomDBID       int64
	GameDBID      int64
	// Nearest is the size-plausible rom with the most similar name when
	// the content did not match. It is a diagnostic only.
	Nearest    int64
	HeaderSkip int64
	Size       int64
	// RomName is the catalog name of the bound rom.
	RomName string
	// Renamed reports that the entry matched a rom with a different name.
	Renamed bool

	candidates []candidate
}

// Bound reports whether the result is the authoritative binding of a rom.
func (r Result) Bound() bool {
	return r.Status == StatusExact && r.DuplicateOf == ""
}

// Skipped is a library file that could not be examined.
type Skipped struct {
	Err    error
	Path   string
	Reason string
}

type Counts struct {
	Exact        int
	Duplicate    int
	Mismatch     int
	Unrecognized int
	Missing      int
	Skipped      int
}

type Report struct {
	System string
	// Results lists file entries by path and entry name, followed by
	// missing roms in catalog order.
	Results []Result
	Skipped []Skipped
	// Complete lists, ascending, the games whose every rom is bound.
	Complete []int64
	Counts   Counts
}

// IsComplete reports whether every rom of the game was found.
func (r *Report) IsComplete(gameDBID int64) bool {
	i := sort.Search(len(r.Complete), func(i int) bool { return r.Complete[i] >= gameDBID })
	return i < len(r.Complete) && r.Complete[i] == gameDBID
}

// fileResult is what one worker produces for one file.
type fileResult struct {
	skipped *Skipped
	entries []Result
}

// Reconcile scans root on fs and classifies every entry of every file
// against snap. Per file problems are reported in the result; the returned
// error is only set when ctx is cancelled or root cannot be walked. The
// snapshot is never modified.
func Reconcile(
	ctx context.Context,
	fs afero.Fs,
	snap *database.Snapshot,
	root string,
	opts Options,
) (Report, error) {
	report := Report{System: snap.System.Name}

	paths, err := listFiles(fs, root, opts.Exclude)
	if err != nil {
		return report, err
	}

	cpu := opts.CPUWorkers
	if cpu <= 0 {
		cpu = runtime.NumCPU()
	}
	ioLimit := opts.IOWorkers
	if ioLimit <= 0 {
		ioLimit = DefaultIOWorkers
	}

	s := &scanner{
		fs:    fs,
		index: newSizeIndex(snap),
		opts:  opts,
		io:    semaphore.NewWeighted(int64(ioLimit)),
	}

	results := make([]fileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cpu)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.scanFile(gctx, path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("reconcile cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("reconcile cancelled: %w", err)
	}

	for _, res := range results {
		if res.skipped != nil {
			report.Skipped = append(report.Skipped, *res.skipped)
			continue
		}
		report.Results = append(report.Results, res.entries...)
	}
	finish(&report, snap)

	log.Info().
		Str("system", report.System).
		Int("files", len(paths)).
		Int("exact", report.Counts.Exact).
		Int("duplicate", report.Counts.Duplicate).
		Int("mismatch", report.Counts.Mismatch).
		Int("unrecognized", report.Counts.Unrecognized).
		Int("missing", report.Counts.Missing).
		Int("skipped", report.Counts.Skipped).
		Msg("reconcile finished")
	return report, nil
}

// listFiles walks root and returns the regular files beneath it, sorted.
func listFiles(fs afero.Fs, root string, exclude []string) ([]string, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, dir := range exclude {
		if dir != "" {
			skip[filepath.Clean(dir)] = struct{}{}
		}
	}

	var paths []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn().Err(err).Str("path", path).Msg("skipping unreadable path")
			return nil
		}
		if info.IsDir() {
			if _, ok := skip[filepath.Clean(path)]; ok {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk library root: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// finish resolves rom bindings across files, adds missing roms and fills in
// counts and completion.
func finish(report *Report, snap *database.Snapshot) {
	sort.SliceStable(report.Results, func(i, j int) bool {
		a, b := report.Results[i], report.Results[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Entry < b.Entry
	})
	sort.SliceStable(report.Skipped, func(i, j int) bool {
		return report.Skipped[i].Path < report.Skipped[j].Path
	})

	boundBy := make(map[int64]string)
	for i := range report.Results {
		r := &report.Results[i]
		switch r.Status {
		case StatusExact:
			c, ok := r.unbound(boundBy)
			if !ok {
				r.DuplicateOf = boundBy[r.RomDBID]
				r.candidates = nil
				report.Counts.Duplicate++
				continue
			}
			if c.rom.DBID != 0 {
				r.bind(c)
			}
			r.candidates = nil
			boundBy[r.RomDBID] = r.Path
			report.Counts.Exact++
		case StatusMismatch:
			report.Counts.Mismatch++
		case StatusUnrecognized:
			report.Counts.Unrecognized++
		case StatusMissing:
		}
	}

	missingGames := make(map[int64]struct{})
	for _, rom := range snap.Roms {
		if _, ok := boundBy[rom.DBID]; ok {
			continue
		}
		missingGames[rom.GameDBID] = struct{}{}
		report.Results = append(report.Results, Result{
			Status:     StatusMissing,
			RomDBID:    rom.DBID,
			GameDBID:   rom.GameDBID,
			Entry:      rom.Name,
			RomName:    rom.Name,
			Expected:   rom.Digests(),
			HeaderSkip: rom.HeaderSkip,
			Size:       rom.Size,
		})
		report.Counts.Missing++
	}
	report.Counts.Skipped = len(report.Skipped)

	hasRoms := make(map[int64]struct{})
	for _, rom := range snap.Roms {
		hasRoms[rom.GameDBID] = struct{}{}
	}
	for _, g := range snap.Games {
		if _, ok := hasRoms[g.DBID]; !ok {
			continue
		}
		if _, missing := missingGames[g.DBID]; missing {
			continue
		}
		report.Complete = append(report.Complete, g.DBID)
	}
	sort.Slice(report.Complete, func(i, j int) bool { return report.Complete[i] < report.Complete[j] })
}

type scanner struct {
	fs    afero.Fs
	index *sizeIndex
	io    *semaphore.Weighted
	opts  Options
}

func (s *scanner) scanFile(ctx context.Context, path string) (fileResult, error) {
	if err := s.io.Acquire(ctx, 1); err != nil {
		return fileResult{}, fmt.Errorf("failed to acquire io slot: %w", err)
	}
	defer s.io.Release(1)

	r, err := containers.Open(s.fs, path, s.opts.AllowFlat)
	if err != nil {
		reason := "unreadable file"
		if errors.Is(err, containers.ErrUnsupportedContainer) {
			reason = "unsupported container"
		}
		log.Warn().Err(err).Str("path", path).Msg("skipping library file")
		return fileResult{skipped: &Skipped{Path: path, Reason: reason, Err: err}}, nil
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to close container")
		}
	}()

	entries := r.Entries()
	out := make([]Result, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fileResult{}, err //nolint:wrapcheck // cancellation
		}
		res, err := s.matchEntry(r, path, e)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Str("entry", e.Name).Msg("skipping library file")
			return fileResult{skipped: &Skipped{Path: path, Reason: "read failed", Err: err}}, nil
		}
		out = append(out, res)
	}
	return fileResult{entries: out}, nil
}

// integrityError reports whether err means the container content disagrees
// with its own metadata rather than that the file could not be read.
func integrityError(err error) bool {
	return errors.Is(err, containers.ErrSizeMismatch) || errors.Is(err, containers.ErrCorrupt)
}
