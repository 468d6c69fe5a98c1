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

package catalogdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
)

//nolint:gocritic // struct passed for DB insertion
func sqlBindRomFile(ctx context.Context, q querier, file database.RomFile) error {
	_, err := q.ExecContext(ctx, `
		insert into RomFiles(RomDBID, Path, Entry, Container)
		values (?, ?, ?, ?)
		on conflict(Path, Entry) do update set
			RomDBID = excluded.RomDBID,
			Container = excluded.Container;
	`,
		file.RomDBID,
		file.Path,
		file.Entry,
		file.Container,
	)
	if err != nil {
		return fmt.Errorf("failed to bind rom file %s: %w", file.Path, err)
	}
	return nil
}

func sqlFindRomFiles(ctx context.Context, q querier, systemDBID int64) ([]database.RomFile, error) {
	rows, err := q.QueryContext(ctx, `
		select
		RomFiles.DBID, RomFiles.RomDBID, RomFiles.Path,
		RomFiles.Entry, RomFiles.Container
		from RomFiles
		inner join Roms on Roms.DBID = RomFiles.RomDBID
		inner join Games on Games.DBID = Roms.GameDBID
		where Games.SystemDBID = ?
		order by RomFiles.Path, RomFiles.Entry;
	`, systemDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rom files: %w", err)
	}
	defer closeRows(rows)

	var list []database.RomFile
	for rows.Next() {
		var row database.RomFile
		if err := rows.Scan(
			&row.DBID,
			&row.RomDBID,
			&row.Path,
			&row.Entry,
			&row.Container,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rom file row: %w", err)
		}
		list = append(list, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rom file rows: %w", err)
	}
	return list, nil
}

// sqlMoveRomFiles rebinds the files at fromPath to toPath, dropping whatever
// was recorded at toPath before.
func sqlMoveRomFiles(
	ctx context.Context,
	q querier,
	fromPath, toPath, container string,
	renames map[string]string,
) error {
	if fromPath != toPath {
		if err := sqlDeleteRomFilesByPath(ctx, q, toPath); err != nil {
			return err
		}
	}
	_, err := q.ExecContext(ctx, `
		update RomFiles set Path = ?, Container = ?
		where Path = ?;
	`, toPath, container, fromPath)
	if err != nil {
		return fmt.Errorf("failed to move rom files from %s: %w", fromPath, err)
	}
	if len(renames) == 0 {
		return nil
	}

	stmt, err := q.PrepareContext(ctx, `
		update RomFiles set Entry = ?
		where Path = ? and Entry = ?;
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare rom file rename statement: %w", err)
	}
	defer closeStmt(stmt)

	olds := make([]string, 0, len(renames))
	for old := range renames {
		olds = append(olds, old)
	}
	sort.Strings(olds)
	for _, old := range olds {
		if _, err := stmt.ExecContext(ctx, renames[old], toPath, old); err != nil {
			return fmt.Errorf("failed to rename rom file entry %s: %w", old, err)
		}
	}
	return nil
}

func sqlDeleteRomFilesByPath(ctx context.Context, q querier, path string) error {
	_, err := q.ExecContext(ctx, `delete from RomFiles where Path = ?;`, path)
	if err != nil {
		return fmt.Errorf("failed to delete rom files at %s: %w", path, err)
	}
	return nil
}

//nolint:gocritic // struct passed for DB insertion
func sqlInsertConversion(ctx context.Context, q querier, c database.Conversion) error {
	_, err := q.ExecContext(ctx, `
		insert into Conversions(
			RunID, SourcePath, TargetPath, TargetKind, State, Detail, FinishedAt
		) values (?, ?, ?, ?, ?, ?, ?);
	`,
		c.RunID,
		c.SourcePath,
		c.TargetPath,
		c.TargetKind,
		c.State,
		c.Detail,
		c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversion record: %w", err)
	}
	return nil
}
