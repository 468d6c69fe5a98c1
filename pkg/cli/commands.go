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

package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/convert"
	"github.com/ZaparooProject/zaparoo-curator/pkg/curator"
	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
	"github.com/rs/zerolog/log"
)

func runImport(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	prune := fs.Bool("prune", s.cfg.ImportOptions().Prune, "delete games the document no longer lists")
	detectorPath := fs.String("detector", "", "header detector document")
	path, err := parseCommand(s, fs, args)
	if err != nil {
		return err
	}

	f, err := s.env.Fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open catalog document: %w", err)
	}
	defer func() { _ = f.Close() }()

	var detector io.Reader
	if *detectorPath != "" {
		df, err := s.env.Fs.Open(*detectorPath)
		if err != nil {
			return fmt.Errorf("failed to open header detector: %w", err)
		}
		defer func() { _ = df.Close() }()
		detector = df
	}

	opts := s.cfg.ImportOptions()
	opts.Prune = *prune
	report, err := curator.Import(ctx, s.db, f, detector, opts)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	s.printf("system: %s\n", report.System)
	s.printf("games: %d added, %d updated, %d unchanged, %d pruned\n",
		report.Games.Added, report.Games.Updated, report.Games.Unchanged, report.Games.Pruned)
	s.printf("roms: %d added, %d updated, %d unchanged, %d pruned\n",
		report.Roms.Added, report.Roms.Updated, report.Roms.Unchanged, report.Roms.Pruned)
	for _, e := range report.Errors {
		s.printf("skipped: %s\n", e.Error())
	}
	return nil
}

// reconcile scans the library root for system.
func (s *session) reconcile(ctx context.Context, system string, record bool) (reconciler.Report, error) {
	root, err := s.root()
	if err != nil {
		return reconciler.Report{}, err
	}
	report, err := curator.Reconcile(ctx, s.db, s.env.Fs, system, root, curator.ReconcileOptions{
		Options: s.cfg.ReconcileOptions(),
		Record:  record,
	})
	if err != nil {
		return report, fmt.Errorf("reconcile failed: %w", err)
	}
	return report, nil
}

func (s *session) printCounts(c reconciler.Counts) {
	s.printf("exact: %d\nduplicate: %d\nmismatch: %d\nunrecognized: %d\nmissing: %d\nskipped: %d\n",
		c.Exact, c.Duplicate, c.Mismatch, c.Unrecognized, c.Missing, c.Skipped)
}

func runReconcile(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	record := fs.Bool("record", false, "store exact matches as bindings")
	verbose := fs.Bool("v", false, "list every result")
	csvPath := fs.String("csv", "", "write every result as CSV to a file, or - for stdout")
	system, err := parseCommand(s, fs, args)
	if err != nil {
		return err
	}

	report, err := s.reconcile(ctx, system, *record)
	if err != nil {
		return err
	}

	if *csvPath != "" {
		if err := s.writeResultsCSV(*csvPath, &report); err != nil {
			return err
		}
		if *csvPath == "-" {
			return nil
		}
	}

	if *verbose {
		for _, r := range report.Results {
			if r.Status == reconciler.StatusMissing {
				s.printf("%s\trom %d\n", r.Status, r.RomDBID)
				continue
			}
			s.printf("%s\t%s\t%s\n", r.Status, r.Path, r.Entry)
		}
		for _, sk := range report.Skipped {
			s.printf("skipped\t%s\t%s\n", sk.Path, sk.Reason)
		}
	}
	s.printCounts(report.Counts)
	s.printf("complete games: %d\n", len(report.Complete))
	return nil
}

func runSelect(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("select", flag.ContinueOnError)
	system, err := parseCommand(s, fs, args)
	if err != nil {
		return err
	}

	snap, err := s.db.Snapshot(ctx, system)
	if err != nil {
		return fmt.Errorf("failed to load catalog snapshot: %w", err)
	}
	report, err := s.reconcile(ctx, system, false)
	if err != nil {
		return err
	}

	picks := curator.Select1G1R(snap, &report, s.cfg.SelectOptions())
	for _, p := range picks {
		s.printf("%s\t%s\t%s\n", p.Key, p.Game.Name, p.Path)
	}
	s.printf("selected: %d\n", len(picks))
	return nil
}

func runConvert(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	to := fs.String("to", s.cfg.DefaultTarget().String(), "target container: flat, zip, cso or chd")
	keep := fs.Bool("keep", s.cfg.KeepSource(), "keep source files after verification")
	selected := fs.Bool("selected", false, "only convert the release chosen for each parent")
	system, err := parseCommand(s, fs, args)
	if err != nil {
		return err
	}

	target, err := containers.ParseKind(*to)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	// Bindings are refreshed first so converted files carry them along.
	report, err := s.reconcile(ctx, system, true)
	if err != nil {
		return err
	}
	var jobs []convert.Job
	if *selected {
		snap, err := s.db.Snapshot(ctx, system)
		if err != nil {
			return fmt.Errorf("failed to load catalog snapshot: %w", err)
		}
		picks := curator.Select1G1R(snap, &report, s.cfg.SelectOptions())
		jobs = curator.ConversionJobsFor(&report, picks, target)
	} else {
		jobs = curator.ConversionJobs(&report, target)
	}
	if len(jobs) == 0 {
		s.printf("nothing to convert\n")
		return nil
	}

	opts := s.cfg.ConvertOptions()
	opts.KeepSource = *keep
	outcomes, err := curator.Convert(ctx, s.db, s.env.Fs, s.env.Clock, jobs, opts)

	failed := 0
	counts := make(map[convert.State]int)
	for _, o := range outcomes {
		counts[o.State]++
		if o.State == convert.StateFailed {
			failed++
			s.printf("failed\t%s\t%v\n", o.Source, o.Err)
		}
	}
	s.printf("verified: %d\nfailed: %d\npending: %d\n",
		counts[convert.StateVerified], failed, counts[convert.StatePending])

	if err != nil {
		return fmt.Errorf("convert failed: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d conversions failed", ErrIncomplete, failed)
	}
	return nil
}

func runCheck(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	system, err := parseCommand(s, fs, args)
	if err != nil {
		return err
	}

	cpu, _ := s.cfg.Workers()
	report, err := curator.Check(ctx, s.db, s.env.Fs, system, curator.CheckOptions{
		Hashes:     s.cfg.Hashes(),
		CPUWorkers: cpu,
	})
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	for _, f := range report.Failures {
		s.printf("%s\t%s\t%s\n", f.Problem, f.Path, f.Entry)
	}
	s.printf("checked: %d\nfailures: %d\n", report.Checked, len(report.Failures))
	if len(report.Failures) > 0 {
		return fmt.Errorf("%w: %d bindings failed", ErrIncomplete, len(report.Failures))
	}
	return nil
}

func runTrash(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("trash", flag.ContinueOnError)
	system, err := parseCommand(s, fs, args)
	if err != nil {
		return err
	}

	// Recording first drops stale bindings for files about to move.
	report, err := s.reconcile(ctx, system, true)
	if err != nil {
		return err
	}
	root, err := s.root()
	if err != nil {
		return err
	}

	trash, err := curator.Trash(ctx, s.env.Fs, root, s.cfg.TrashDir(), report.Results)
	if err != nil {
		return fmt.Errorf("trash failed: %w", err)
	}
	for _, f := range trash.Failed {
		log.Warn().Err(f.Err).Str("path", f.Path).Msg("file left in place")
		s.printf("failed\t%s\t%v\n", f.Path, f.Err)
	}
	s.printf("moved: %d\nfailed: %d\n", len(trash.Moved), len(trash.Failed))
	if len(trash.Failed) > 0 {
		return fmt.Errorf("%w: %d files not moved", ErrIncomplete, len(trash.Failed))
	}
	return nil
}

func runRename(ctx context.Context, s *session, args []string) error {
	fs := flag.NewFlagSet("rename", flag.ContinueOnError)
	system, err := parseCommand(s, fs, args)
	if err != nil {
		return err
	}

	// Bindings must be current for the rename to carry them along.
	report, err := s.reconcile(ctx, system, true)
	if err != nil {
		return err
	}
	renamed, err := curator.Rename(ctx, s.db, s.env.Fs, report.Results)
	if err != nil {
		return fmt.Errorf("rename failed: %w", err)
	}
	for _, f := range renamed.Failed {
		s.printf("failed\t%s\t%v\n", f.Path, f.Err)
	}
	s.printf("renamed: %d\nfailed: %d\n", len(renamed.Renamed), len(renamed.Failed))
	if len(renamed.Failed) > 0 {
		return fmt.Errorf("%w: %d files not renamed", ErrIncomplete, len(renamed.Failed))
	}
	return nil
}
