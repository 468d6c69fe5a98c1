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

func sqlFindGames(ctx context.Context, q querier, systemDBID int64) ([]database.Game, error) {
	rows, err := q.QueryContext(ctx, `
		select
		DBID, SystemDBID, Name, Description, ParentName, ParentDBID,
		RomOf, Regions, Languages, Flags, Revision
		from Games
		where SystemDBID = ?
		order by DBID;
	`, systemDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to query games: %w", err)
	}
	defer closeRows(rows)

	var list []database.Game
	for rows.Next() {
		var row database.Game
		var regions, languages, flags string
		if err := rows.Scan(
			&row.DBID,
			&row.SystemDBID,
			&row.Name,
			&row.Description,
			&row.ParentName,
			&row.ParentDBID,
			&row.RomOf,
			&regions,
			&languages,
			&flags,
			&row.Revision,
		); err != nil {
			return nil, fmt.Errorf("failed to scan game row: %w", err)
		}
		row.Regions = splitList(regions)
		row.Languages = splitList(languages)
		row.Flags = splitList(flags)
		list = append(list, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating game rows: %w", err)
	}
	return list, nil
}

//nolint:gocritic // struct passed for DB insertion
func sqlInsertGame(ctx context.Context, q querier, game database.Game) (database.Game, error) {
	res, err := q.ExecContext(ctx, `
		insert into Games(
			SystemDBID, Name, Description, ParentName, ParentDBID,
			RomOf, Regions, Languages, Flags, Revision
		) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		game.SystemDBID,
		game.Name,
		game.Description,
		game.ParentName,
		game.ParentDBID,
		game.RomOf,
		joinList(game.Regions),
		joinList(game.Languages),
		joinList(game.Flags),
		game.Revision,
	)
	if err != nil {
		return game, fmt.Errorf("failed to insert game %s: %w", game.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return game, fmt.Errorf("failed to get game insert id: %w", err)
	}
	game.DBID = id
	return game, nil
}

//nolint:gocritic // struct passed for DB update
func sqlUpdateGame(ctx context.Context, q querier, game database.Game) error {
	_, err := q.ExecContext(ctx, `
		update Games set
			Name = ?, Description = ?, ParentName = ?, ParentDBID = ?,
			RomOf = ?, Regions = ?, Languages = ?, Flags = ?, Revision = ?
		where DBID = ?;
	`,
		game.Name,
		game.Description,
		game.ParentName,
		game.ParentDBID,
		game.RomOf,
		joinList(game.Regions),
		joinList(game.Languages),
		joinList(game.Flags),
		game.Revision,
		game.DBID,
	)
	if err != nil {
		return fmt.Errorf("failed to update game %s: %w", game.Name, err)
	}
	return nil
}
