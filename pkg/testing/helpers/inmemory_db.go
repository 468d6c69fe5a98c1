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

package helpers

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database/catalogdb"
	_ "github.com/mattn/go-sqlite3"
)

// NewInMemoryCatalogDB returns a migrated catalog backed by a temp file. It
// is closed when the test ends.
func NewInMemoryCatalogDB(t *testing.T) *catalogdb.CatalogDB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "catalog_test.db")

	// Open SQLite database using temp file with foreign keys enabled
	// This matches the production database configuration and ensures CASCADE deletes work
	sqlDB, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=ON")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	db := &catalogdb.CatalogDB{}
	db.SetSQLForTesting(sqlDB)
	if err := db.Allocate(); err != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			t.Errorf("Failed to close SQL database after setup error: %v", closeErr)
		}
		t.Fatalf("Failed to set up CatalogDB for testing: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close CatalogDB: %v", err)
		}
	})
	return db
}

// TableDump returns every row of the catalog tables rendered as strings, in
// primary key order, for byte level comparisons.
func TableDump(t *testing.T, db *sql.DB) map[string][]string {
	t.Helper()

	dump := make(map[string][]string)
	for _, table := range []string{"Systems", "HeaderRules", "Games", "Roms", "RomFiles", "Conversions"} {
		rows, err := db.Query("select * from " + table + " order by DBID")
		if err != nil {
			t.Fatalf("Failed to dump %s: %v", table, err)
		}
		cols, err := rows.Columns()
		if err != nil {
			t.Fatalf("Failed to read columns of %s: %v", table, err)
		}
		for rows.Next() {
			values := make([]sql.NullString, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				t.Fatalf("Failed to scan %s: %v", table, err)
			}
			line := ""
			for i, v := range values {
				if i > 0 {
					line += "|"
				}
				if v.Valid {
					line += v.String
				} else {
					line += "NULL"
				}
			}
			dump[table] = append(dump[table], line)
		}
		if err := rows.Err(); err != nil {
			t.Fatalf("Failed to iterate %s: %v", table, err)
		}
		_ = rows.Close()
	}
	return dump
}
