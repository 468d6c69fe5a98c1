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
	"strings"

	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrOutsideRoot = errors.New("path is outside the library root")

type FileError struct {
	Err  error
	Path string
}

type TrashReport struct {
	// Moved maps library paths to their new location.
	Moved  map[string]string
	Failed []FileError
}

// Trash moves every file whose entries all failed to match into trashDir,
// keeping its path relative to root. trashDir is relative to root. Files
// with at least one exact entry are left alone.
func Trash(
	ctx context.Context,
	fs afero.Fs,
	root string,
	trashDir string,
	results []reconciler.Result,
) (TrashReport, error) {
	report := TrashReport{Moved: make(map[string]string)}
	scoped := afero.NewBasePathFs(fs, root)

	for _, path := range unmatchedFiles(results) {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("trash cancelled: %w", err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			report.Failed = append(report.Failed, FileError{Path: path, Err: ErrOutsideRoot})
			continue
		}
		dest := filepath.Join(string(filepath.Separator), trashDir, rel)
		if err := moveFile(scoped, filepath.Join(string(filepath.Separator), rel), dest); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to move file to trash")
			report.Failed = append(report.Failed, FileError{Path: path, Err: err})
			continue
		}
		report.Moved[path] = filepath.Join(root, dest)
	}

	log.Info().Int("moved", len(report.Moved)).Int("failed", len(report.Failed)).Msg("trash finished")
	return report, nil
}

func unmatchedFiles(results []reconciler.Result) []string {
	unmatched := make(map[string]bool)
	for _, r := range results {
		switch r.Status {
		case reconciler.StatusUnrecognized, reconciler.StatusMismatch:
			if _, seen := unmatched[r.Path]; !seen {
				unmatched[r.Path] = true
			}
		case reconciler.StatusExact:
			unmatched[r.Path] = false
		case reconciler.StatusMissing:
		}
	}
	paths := make([]string, 0, len(unmatched))
	for path, ok := range unmatched {
		if ok {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func moveFile(fs afero.Fs, src, dest string) error {
	if _, err := fs.Stat(dest); err == nil {
		return fmt.Errorf("trash already holds %s: %w", dest, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat trash destination: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create trash directory: %w", err)
	}
	if err := fs.Rename(src, dest); err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}
