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

// Package catalogdb is the sqlite implementation of database.CatalogDBI.
package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/helpers/syncutil"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNullSQL        = errors.New("CatalogDB is not connected")
	ErrNoTransaction  = errors.New("write outside of a transaction")
	ErrSystemNotFound = database.ErrSystemNotFound
)

const sqliteConnParams = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=ON"

type CatalogDB struct {
	sql  *sql.DB
	tx   *sql.Tx
	path string
	// writeMu is held from BeginTransaction until Commit or Rollback.
	writeMu syncutil.Mutex
	txMu    syncutil.RWMutex
}

var _ database.CatalogDBI = (*CatalogDB)(nil)

// OpenCatalogDB opens, creating if needed, the catalog at path.
func OpenCatalogDB(path string) (*CatalogDB, error) {
	db := &CatalogDB{path: path}
	err := db.Open()
	return db, err
}

func (db *CatalogDB) Open() error {
	exists := true
	if _, err := os.Stat(db.path); err != nil {
		exists = false
		if err := os.MkdirAll(filepath.Dir(db.path), 0o750); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}
	sqlInstance, err := sql.Open("sqlite3", db.path+sqliteConnParams)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.sql = sqlInstance
	if !exists {
		return db.Allocate()
	}
	return db.MigrateUp()
}

func (db *CatalogDB) GetDBPath() string {
	return db.path
}

func (db *CatalogDB) UnsafeGetSQLDb() *sql.DB {
	return db.sql
}

func (db *CatalogDB) Truncate() error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlTruncate(context.Background(), db.sql)
}

func (db *CatalogDB) Allocate() error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlAllocate(db.sql)
}

func (db *CatalogDB) MigrateUp() error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlMigrateUp(db.sql)
}

func (db *CatalogDB) Vacuum() error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlVacuum(context.Background(), db.sql)
}

func (db *CatalogDB) Close() error {
	if db.sql == nil {
		return nil
	}
	if err := db.sql.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// SetSQLForTesting allows injection of a sql.DB instance for testing purposes.
// Migrations are not run; callers using a real database call Allocate.
func (db *CatalogDB) SetSQLForTesting(sqlDB *sql.DB) {
	db.sql = sqlDB
}

func (db *CatalogDB) BeginTransaction(ctx context.Context) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	db.writeMu.Lock()
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		db.writeMu.Unlock()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	db.txMu.Lock()
	db.tx = tx
	db.txMu.Unlock()
	return nil
}

func (db *CatalogDB) endTransaction(commit bool) error {
	db.txMu.Lock()
	tx := db.tx
	db.tx = nil
	db.txMu.Unlock()
	if tx == nil {
		return ErrNoTransaction
	}
	defer db.writeMu.Unlock()

	if commit {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func (db *CatalogDB) CommitTransaction() error {
	return db.endTransaction(true)
}

func (db *CatalogDB) RollbackTransaction() error {
	return db.endTransaction(false)
}

// reader returns the open transaction, so reads see its uncommitted writes,
// or the plain connection pool.
func (db *CatalogDB) reader() (querier, error) {
	if db.sql == nil {
		return nil, ErrNullSQL
	}
	db.txMu.RLock()
	defer db.txMu.RUnlock()
	if db.tx != nil {
		return db.tx, nil
	}
	return db.sql, nil
}

func (db *CatalogDB) writer() (querier, error) {
	if db.sql == nil {
		return nil, ErrNullSQL
	}
	db.txMu.RLock()
	defer db.txMu.RUnlock()
	if db.tx == nil {
		return nil, ErrNoTransaction
	}
	return db.tx, nil
}

func (db *CatalogDB) FindSystem(ctx context.Context, name string) (database.System, error) {
	q, err := db.reader()
	if err != nil {
		return database.System{}, err
	}
	return sqlFindSystem(ctx, q, name)
}

func (db *CatalogDB) UpsertSystem(ctx context.Context, system database.System) (database.System, error) {
	q, err := db.writer()
	if err != nil {
		return database.System{}, err
	}
	return sqlUpsertSystem(ctx, q, system)
}

func (db *CatalogDB) ReplaceHeaderRules(ctx context.Context, systemDBID int64, rules []database.HeaderRule) error {
	q, err := db.writer()
	if err != nil {
		return err
	}
	return sqlReplaceHeaderRules(ctx, q, systemDBID, rules)
}

func (db *CatalogDB) FindGames(ctx context.Context, systemDBID int64) ([]database.Game, error) {
	q, err := db.reader()
	if err != nil {
		return nil, err
	}
	return sqlFindGames(ctx, q, systemDBID)
}

func (db *CatalogDB) InsertGame(ctx context.Context, game database.Game) (database.Game, error) {
	q, err := db.writer()
	if err != nil {
		return database.Game{}, err
	}
	return sqlInsertGame(ctx, q, game)
}

func (db *CatalogDB) UpdateGame(ctx context.Context, game database.Game) error {
	q, err := db.writer()
	if err != nil {
		return err
	}
	return sqlUpdateGame(ctx, q, game)
}

func (db *CatalogDB) DeleteGame(ctx context.Context, gameDBID int64) error {
	q, err := db.writer()
	if err != nil {
		return err
	}
	return sqlDeleteByID(ctx, q, "Games", gameDBID)
}

func (db *CatalogDB) FindRoms(ctx context.Context, systemDBID int64) ([]database.Rom, error) {
	q, err := db.reader()
	if err != nil {
		return nil, err
	}
	return sqlFindRoms(ctx, q, systemDBID)
}

func (db *CatalogDB) InsertRom(ctx context.Context, rom database.Rom) (database.Rom, error) {
	q, err := db.writer()
	if err != nil {
		return database.Rom{}, err
	}
	return sqlInsertRom(ctx, q, rom)
}

func (db *CatalogDB) DeleteRom(ctx context.Context, romDBID int64) error {
	q, err := db.writer()
	if err != nil {
		return err
	}
	return sqlDeleteByID(ctx, q, "Roms", romDBID)
}

// Snapshot loads a whole System. It reads through the open transaction if
// there is one.
func (db *CatalogDB) Snapshot(ctx context.Context, systemName string) (*database.Snapshot, error) {
	q, err := db.reader()
	if err != nil {
		return nil, err
	}
	system, err := sqlFindSystem(ctx, q, systemName)
	if err != nil {
		return nil, err
	}
	headers, err := sqlFindHeaderRules(ctx, q, system.DBID)
	if err != nil {
		return nil, err
	}
	games, err := sqlFindGames(ctx, q, system.DBID)
	if err != nil {
		return nil, err
	}
	roms, err := sqlFindRoms(ctx, q, system.DBID)
	if err != nil {
		return nil, err
	}
	return database.NewSnapshot(system, headers, games, roms), nil
}

func (db *CatalogDB) BindRomFile(ctx context.Context, file database.RomFile) error {
	q, err := db.writer()
	if err != nil {
		return err
	}
	return sqlBindRomFile(ctx, q, file)
}

func (db *CatalogDB) FindRomFiles(ctx context.Context, systemDBID int64) ([]database.RomFile, error) {
	q, err := db.reader()
	if err != nil {
		return nil, err
	}
	return sqlFindRomFiles(ctx, q, systemDBID)
}

func (db *CatalogDB) MoveRomFiles(
	ctx context.Context,
	fromPath, toPath, container string,
	renames map[string]string,
) error {
	q, err := db.writer()
	if err != nil {
		return err
	}
	return sqlMoveRomFiles(ctx, q, fromPath, toPath, container, renames)
}

func (db *CatalogDB) DeleteRomFilesByPath(ctx context.Context, path string) error {
	q, err := db.writer()
	if err != nil {
		return err
	}
	return sqlDeleteRomFilesByPath(ctx, q, path)
}

func (db *CatalogDB) InsertConversion(ctx context.Context, c database.Conversion) error {
	q, err := db.writer()
	if err != nil {
		return err
	}
	return sqlInsertConversion(ctx, q, c)
}
