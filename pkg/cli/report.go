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
	"fmt"
	"io"

	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
	"github.com/gocarina/gocsv"
)

type resultRow struct {
	Status    string `csv:"status"`
	Path      string `csv:"path"`
	Entry     string `csv:"entry"`
	Container string `csv:"container"`
	Duplicate string `csv:"duplicate_of"`
	CRC32     string `csv:"crc32"`
	SHA1      string `csv:"sha1"`
	RomDBID   int64  `csv:"rom_id"`
	Size      int64  `csv:"size"`
}

func resultRows(report *reconciler.Report) []*resultRow {
	rows := make([]*resultRow, 0, len(report.Results))
	for _, r := range report.Results {
		row := &resultRow{
			Status:    r.Status.String(),
			Path:      r.Path,
			Entry:     r.Entry,
			Duplicate: r.DuplicateOf,
			CRC32:     r.Actual.CRC32,
			SHA1:      r.Actual.SHA1,
			RomDBID:   r.RomDBID,
			Size:      r.Size,
		}
		if r.Status != reconciler.StatusMissing {
			row.Container = r.Container.String()
		}
		rows = append(rows, row)
	}
	return rows
}

// writeResultsCSV writes one row per result to path, or to stdout for "-".
func (s *session) writeResultsCSV(path string, report *reconciler.Report) error {
	var w io.Writer = s.env.Stdout
	if path != "-" {
		f, err := s.env.Fs.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := gocsv.Marshal(resultRows(report), w); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
