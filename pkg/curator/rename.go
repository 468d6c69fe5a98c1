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
	"path/filepath"
	"sort"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrBadRomName = errors.New("rom name is not a plain file name")

type RenameReport struct {
	// Renamed maps old paths to new ones.
	Renamed map[string]string
	Failed  []FileError
}

// Rename gives every bound flat file the name of the rom it matched, in the
// same directory, and moves its binding along. Existing files are never
// overwritten. Archive entries are left as they are.
func Rename(
	ctx context.Context,
	db database.CatalogDBI,
	fs afero.Fs,
	results []reconciler.Result,
) (RenameReport, error) {
	report := RenameReport{Renamed: make(map[string]string)}

	for _, r := range renameCandidates(results) {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("rename cancelled: %w", err)
		}
		dest, err := renameFile(ctx, db, fs, r)
		if err != nil {
			log.Warn().Err(err).Str("path", r.Path).Str("rom", r.RomName).Msg("failed to rename file")
			report.Failed = append(report.Failed, FileError{Path: r.Path, Err: err})
			continue
		}
		report.Renamed[r.Path] = dest
	}

	log.Info().Int("renamed", len(report.Renamed)).Int("failed", len(report.Failed)).Msg("rename finished")
	return report, nil
}

func renameCandidates(results []reconciler.Result) []reconciler.Result {
	var list []reconciler.Result
	for _, r := range results {
		if r.Bound() && r.Renamed && r.Container == containers.KindFlat {
			list = append(list, r)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	return list
}

func renameFile(ctx context.Context, db database.CatalogDBI, fs afero.Fs, r reconciler.Result) (string, error) {
	if r.RomName == "" || r.RomName != filepath.Base(r.RomName) || r.RomName == ".." {
		return "", fmt.Errorf("%w: %q", ErrBadRomName, r.RomName)
	}
	dest := filepath.Join(filepath.Dir(r.Path), r.RomName)
	if _, err := fs.Stat(dest); err == nil {
		return "", fmt.Errorf("%s already exists: %w", dest, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat rename destination: %w", err)
	}

	if err := fs.Rename(r.Path, dest); err != nil {
		return "", fmt.Errorf("failed to rename file: %w", err)
	}
	if err := moveBinding(ctx, db, r, dest); err != nil {
		if backErr := fs.Rename(dest, r.Path); backErr != nil {
			log.Error().Err(backErr).Str("path", dest).Msg("failed to restore renamed file")
		}
		return "", err
	}
	log.Debug().Str("from", r.Path).Str("to", dest).Msg("renamed file")
	return dest, nil
}

func moveBinding(ctx context.Context, db database.CatalogDBI, r reconciler.Result, dest string) error {
	if err := db.BeginTransaction(ctx); err != nil {
		return fmt.Errorf("failed to begin rename: %w", err)
	}
	err := db.MoveRomFiles(ctx, r.Path, dest, containers.KindFlat.String(), map[string]string{
		r.Entry: r.RomName,
	})
	if err != nil {
		if rbErr := db.RollbackTransaction(); rbErr != nil {
			log.Error().Err(rbErr).Msg("failed to roll back rom file rename")
		}
		return fmt.Errorf("rename rolled back: %w", err)
	}
	if err := db.CommitTransaction(); err != nil {
		return fmt.Errorf("rename rolled back: %w", err)
	}
	return nil
}
