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
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
)

func sqlFindSystem(ctx context.Context, q querier, name string) (database.System, error) {
	var row database.System
	err := q.QueryRowContext(ctx, `
		select DBID, Name, Description, Version, HeaderName
		from Systems
		where Name = ?
		limit 1;
	`, name).Scan(
		&row.DBID,
		&row.Name,
		&row.Description,
		&row.Version,
		&row.HeaderName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("%w: %s", ErrSystemNotFound, name)
	} else if err != nil {
		return row, fmt.Errorf("failed to scan system row: %w", err)
	}
	return row, nil
}

// sqlUpsertSystem inserts the system or updates the metadata of the existing
// row with the same name. The DBID of an existing row never changes.
//
//nolint:gocritic // struct passed for DB insertion
func sqlUpsertSystem(ctx context.Context, q querier, system database.System) (database.System, error) {
	err := q.QueryRowContext(ctx, `
		insert into Systems(Name, Description, Version, HeaderName)
		values (?, ?, ?, ?)
		on conflict(Name) do update set
			Description = excluded.Description,
			Version = excluded.Version,
			HeaderName = excluded.HeaderName
		returning DBID;
	`,
		system.Name,
		system.Description,
		system.Version,
		system.HeaderName,
	).Scan(&system.DBID)
	if err != nil {
		return system, fmt.Errorf("failed to upsert system: %w", err)
	}
	return system, nil
}

func sqlReplaceHeaderRules(ctx context.Context, q querier, systemDBID int64, rules []database.HeaderRule) error {
	if _, err := q.ExecContext(ctx, `delete from HeaderRules where SystemDBID = ?;`, systemDBID); err != nil {
		return fmt.Errorf("failed to clear header rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	stmt, err := q.PrepareContext(ctx, `
		insert into HeaderRules(SystemDBID, RuleGroup, Skip, DataOffset, Value)
		values (?, ?, ?, ?, ?);
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare header rule insert statement: %w", err)
	}
	defer closeStmt(stmt)

	for _, rule := range rules {
		_, err := stmt.ExecContext(ctx, systemDBID, rule.Group, rule.Skip, rule.DataOffset, rule.Value)
		if err != nil {
			return fmt.Errorf("failed to insert header rule: %w", err)
		}
	}
	return nil
}

func sqlFindHeaderRules(ctx context.Context, q querier, systemDBID int64) ([]database.HeaderRule, error) {
	rows, err := q.QueryContext(ctx, `
		select DBID, SystemDBID, RuleGroup, Skip, DataOffset, Value
		from HeaderRules
		where SystemDBID = ?
		order by DBID;
	`, systemDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to query header rules: %w", err)
	}
	defer closeRows(rows)

	var list []database.HeaderRule
	for rows.Next() {
		var row database.HeaderRule
		if err := rows.Scan(
			&row.DBID,
			&row.SystemDBID,
			&row.Group,
			&row.Skip,
			&row.DataOffset,
			&row.Value,
		); err != nil {
			return nil, fmt.Errorf("failed to scan header rule row: %w", err)
		}
		list = append(list, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating header rule rows: %w", err)
	}
	return list, nil
}
