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

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
)

func sqlFindRoms(ctx context.Context, q querier, systemDBID int64) ([]database.Rom, error) {
	rows, err := q.QueryContext(ctx, `
		select
		Roms.DBID, Roms.GameDBID, Roms.Name, Roms.Size, Roms.CRC32,
		Roms.MD5, Roms.SHA1, Roms.Merge, Roms.HeaderSkip
		from Roms
		inner join Games on Games.DBID = Roms.GameDBID
		where Games.SystemDBID = ?
		order by Roms.DBID;
	`, systemDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roms: %w", err)
	}
	defer closeRows(rows)

	var list []database.Rom
	for rows.Next() {
		var row database.Rom
		if err := rows.Scan(
			&row.DBID,
			&row.GameDBID,
			&row.Name,
			&row.Size,
			&row.CRC32,
			&row.MD5,
			&row.SHA1,
			&row.Merge,
			&row.HeaderSkip,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rom row: %w", err)
		}
		list = append(list, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rom rows: %w", err)
	}
	return list, nil
}

//nolint:gocritic // struct passed for DB insertion
func sqlInsertRom(ctx context.Context, q querier, rom database.Rom) (database.Rom, error) {
	res, err := q.ExecContext(ctx, `
		insert into Roms(
			GameDBID, Name, Size, CRC32, MD5, SHA1, Merge, HeaderSkip
		) values (?, ?, ?, ?, ?, ?, ?, ?);
	`,
		rom.GameDBID,
		rom.Name,
		rom.Size,
		rom.CRC32,
		rom.MD5,
		rom.SHA1,
		rom.Merge,
		rom.HeaderSkip,
	)
	if err != nil {
		return rom, fmt.Errorf("failed to insert rom %s: %w", rom.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rom, fmt.Errorf("failed to get rom insert id: %w", err)
	}
	rom.DBID = id
	return rom, nil
}
