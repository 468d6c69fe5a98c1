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

// Package curator is the entry point to the catalog core. Each operation
// takes the store, a filesystem and an explicit options struct; none of
// them read global configuration.
package curator

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/convert"
	"github.com/ZaparooProject/zaparoo-curator/pkg/dat"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/ZaparooProject/zaparoo-curator/pkg/importer"
	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
	"github.com/ZaparooProject/zaparoo-curator/pkg/selector"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Import parses a Logiqx catalog from r and merges it into db. detector may
// be nil; when set it is parsed as a header detector and overrides
// opts.Detector.
func Import(
	ctx context.Context,
	db database.CatalogDBI,
	r io.Reader,
	detector io.Reader,
	opts importer.Options,
) (importer.Report, error) {
	doc, err := dat.Parse(r)
	if err != nil {
		return importer.Report{}, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if detector != nil {
		d, err := dat.ParseDetector(detector)
		if err != nil {
			return importer.Report{System: doc.Header.Name}, fmt.Errorf("failed to parse header detector: %w", err)
		}
		opts.Detector = d
	}
	return importer.Import(ctx, db, doc, opts) //nolint:wrapcheck // importer errors carry their rollback notice
}

type ReconcileOptions struct {
	reconciler.Options
	// Record binds every exact result to its rom in the store.
	Record bool
}

// Reconcile matches the files under root against the named system.
func Reconcile(
	ctx context.Context,
	db database.CatalogDBI,
	fs afero.Fs,
	system string,
	root string,
	opts ReconcileOptions,
) (reconciler.Report, error) {
	snap, err := db.Snapshot(ctx, system)
	if err != nil {
		return reconciler.Report{}, fmt.Errorf("failed to load catalog snapshot: %w", err)
	}
	report, err := reconciler.Reconcile(ctx, fs, snap, root, opts.Options)
	if err != nil {
		return report, fmt.Errorf("failed to reconcile %s: %w", system, err)
	}
	if opts.Record {
		if err := RecordBindings(ctx, db, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// RecordBindings replaces the stored bindings of every scanned file with
// the exact results of report, in one transaction.
func RecordBindings(ctx context.Context, db database.CatalogDBI, report *reconciler.Report) error {
	if err := db.BeginTransaction(ctx); err != nil {
		return fmt.Errorf("failed to begin binding: %w", err)
	}
	if err := recordBindings(ctx, db, report); err != nil {
		if rbErr := db.RollbackTransaction(); rbErr != nil {
			log.Error().Err(rbErr).Msg("failed to roll back rom file bindings")
		}
		return fmt.Errorf("binding rolled back: %w", err)
	}
	if err := db.CommitTransaction(); err != nil {
		return fmt.Errorf("binding rolled back: %w", err)
	}
	return nil
}

func recordBindings(ctx context.Context, db database.CatalogDBI, report *reconciler.Report) error {
	cleared := make(map[string]struct{})
	bound := 0
	for _, r := range report.Results {
		if r.Status == reconciler.StatusMissing {
			continue
		}
		if _, ok := cleared[r.Path]; !ok {
			if err := db.DeleteRomFilesByPath(ctx, r.Path); err != nil {
				return fmt.Errorf("failed to clear bindings of %s: %w", r.Path, err)
			}
			cleared[r.Path] = struct{}{}
		}
		if !r.Bound() {
			continue
		}
		err := db.BindRomFile(ctx, database.RomFile{
			Path:      r.Path,
			Entry:     r.Entry,
			Container: r.Container.String(),
			RomDBID:   r.RomDBID,
		})
		if err != nil {
			return fmt.Errorf("failed to bind %s: %w", r.Path, err)
		}
		bound++
	}
	log.Info().Str("system", report.System).Int("bound", bound).Msg("rom files recorded")
	return nil
}

// Select1G1R picks one release per clone group of snap from the files
// report found.
func Select1G1R(snap *database.Snapshot, report *reconciler.Report, opts selector.Options) []selector.Selection {
	return selector.Select(selector.GroupsFromReport(snap, report), opts)
}

// ConversionJobs plans one job for every file of report whose entries are
// all exact matches and which is not already of the target kind. Digests
// from the report are reused unless a header was stripped to match.
func ConversionJobs(report *reconciler.Report, target containers.Kind) []convert.Job {
	type file struct {
		expected map[string]fingerprint.Digests
		kind     containers.Kind
		exact    bool
	}
	files := make(map[string]*file)
	for _, r := range report.Results {
		if r.Status == reconciler.StatusMissing {
			continue
		}
		f, ok := files[r.Path]
		if !ok {
			f = &file{kind: r.Container, exact: true, expected: make(map[string]fingerprint.Digests)}
			files[r.Path] = f
		}
		if r.Status != reconciler.StatusExact {
			f.exact = false
			continue
		}
		if r.HeaderSkip == 0 {
			f.expected[r.Entry] = r.Actual
		}
	}

	paths := make([]string, 0, len(files))
	for path, f := range files {
		if f.exact && f.kind != target {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	jobs := make([]convert.Job, 0, len(paths))
	for _, path := range paths {
		job := convert.Job{Source: path, Target: target}
		if len(files[path].expected) > 0 {
			job.Expected = files[path].expected
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// ConversionJobsFor is ConversionJobs restricted to the files picks chose,
// so only the preferred release of each clone group is repacked.
func ConversionJobsFor(
	report *reconciler.Report,
	picks []selector.Selection,
	target containers.Kind,
) []convert.Job {
	chosen := make(map[string]struct{}, len(picks))
	for _, p := range picks {
		chosen[p.Path] = struct{}{}
	}
	all := ConversionJobs(report, target)
	jobs := make([]convert.Job, 0, len(picks))
	for _, j := range all {
		if _, ok := chosen[j.Source]; ok {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Convert runs jobs and records their outcomes. Bookkeeping is written even
// when ctx is cancelled part way, so finished conversions are never lost.
func Convert(
	ctx context.Context,
	db database.CatalogDBI,
	fs afero.Fs,
	clock clockwork.Clock,
	jobs []convert.Job,
	opts convert.Options,
) ([]convert.Outcome, error) {
	p, err := convert.New(fs, clock, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion pipeline: %w", err)
	}
	outcomes, runErr := p.Run(ctx, jobs)
	if err := convert.Record(context.WithoutCancel(ctx), db, p.RunID(), outcomes); err != nil {
		return outcomes, err //nolint:wrapcheck // carries its rollback notice
	}
	if runErr != nil {
		return outcomes, runErr //nolint:wrapcheck // already wrapped by the pipeline
	}
	return outcomes, nil
}
