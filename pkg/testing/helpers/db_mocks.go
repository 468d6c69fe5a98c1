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

// Package helpers provides testing utilities for the catalog store and the
// library filesystem.
//
// Example usage:
//
//	func TestImportRollsBack(t *testing.T) {
//		db := helpers.NewMockCatalogDBI()
//		db.On("BeginTransaction", mock.Anything).Return(nil)
//		db.On("FindSystem", mock.Anything, "NES").Return(database.System{}, assert.AnError)
//		db.On("RollbackTransaction").Return(nil)
//
//		_, err := importer.Import(ctx, db, doc, importer.Options{})
//
//		require.Error(t, err)
//		db.AssertExpectations(t)
//	}
package helpers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/stretchr/testify/mock"
)

// MockCatalogDBI is a mock implementation of the CatalogDBI interface using
// testify/mock.
type MockCatalogDBI struct {
	mock.Mock
}

var _ database.CatalogDBI = (*MockCatalogDBI)(nil)

func NewMockCatalogDBI() *MockCatalogDBI {
	return &MockCatalogDBI{}
}

// GenericDBI methods
func (m *MockCatalogDBI) Open() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI open failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) UnsafeGetSQLDb() *sql.DB {
	args := m.Called()
	if db, ok := args.Get(0).(*sql.DB); ok {
		return db
	}
	return nil
}

func (m *MockCatalogDBI) Truncate() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI truncate failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) Allocate() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI allocate failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) MigrateUp() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI migrate up failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) Vacuum() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI vacuum failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) Close() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI close failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) GetDBPath() string {
	args := m.Called()
	return args.String(0)
}

// Transactions
func (m *MockCatalogDBI) BeginTransaction(ctx context.Context) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI begin transaction failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) CommitTransaction() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI commit failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) RollbackTransaction() error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI rollback failed: %w", err)
	}
	return nil
}

// Systems
func (m *MockCatalogDBI) FindSystem(ctx context.Context, name string) (database.System, error) {
	args := m.Called(ctx, name)
	sys, _ := args.Get(0).(database.System)
	if err := args.Error(1); err != nil {
		return sys, fmt.Errorf("mock CatalogDBI find system failed: %w", err)
	}
	return sys, nil
}

//nolint:gocritic // mirrors the interface
func (m *MockCatalogDBI) UpsertSystem(ctx context.Context, system database.System) (database.System, error) {
	args := m.Called(ctx, system)
	sys, _ := args.Get(0).(database.System)
	if err := args.Error(1); err != nil {
		return sys, fmt.Errorf("mock CatalogDBI upsert system failed: %w", err)
	}
	return sys, nil
}

func (m *MockCatalogDBI) ReplaceHeaderRules(ctx context.Context, systemDBID int64, rules []database.HeaderRule) error {
	args := m.Called(ctx, systemDBID, rules)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI replace header rules failed: %w", err)
	}
	return nil
}

// Games
func (m *MockCatalogDBI) FindGames(ctx context.Context, systemDBID int64) ([]database.Game, error) {
	args := m.Called(ctx, systemDBID)
	games, _ := args.Get(0).([]database.Game)
	if err := args.Error(1); err != nil {
		return games, fmt.Errorf("mock CatalogDBI find games failed: %w", err)
	}
	return games, nil
}

//nolint:gocritic // mirrors the interface
func (m *MockCatalogDBI) InsertGame(ctx context.Context, game database.Game) (database.Game, error) {
	args := m.Called(ctx, game)
	g, _ := args.Get(0).(database.Game)
	if err := args.Error(1); err != nil {
		return g, fmt.Errorf("mock CatalogDBI insert game failed: %w", err)
	}
	return g, nil
}

//nolint:gocritic // mirrors the interface
func (m *MockCatalogDBI) UpdateGame(ctx context.Context, game database.Game) error {
	args := m.Called(ctx, game)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI update game failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) DeleteGame(ctx context.Context, gameDBID int64) error {
	args := m.Called(ctx, gameDBID)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI delete game failed: %w", err)
	}
	return nil
}

// Roms
func (m *MockCatalogDBI) FindRoms(ctx context.Context, systemDBID int64) ([]database.Rom, error) {
	args := m.Called(ctx, systemDBID)
	roms, _ := args.Get(0).([]database.Rom)
	if err := args.Error(1); err != nil {
		return roms, fmt.Errorf("mock CatalogDBI find roms failed: %w", err)
	}
	return roms, nil
}

//nolint:gocritic // mirrors the interface
func (m *MockCatalogDBI) InsertRom(ctx context.Context, rom database.Rom) (database.Rom, error) {
	args := m.Called(ctx, rom)
	r, _ := args.Get(0).(database.Rom)
	if err := args.Error(1); err != nil {
		return r, fmt.Errorf("mock CatalogDBI insert rom failed: %w", err)
	}
	return r, nil
}

func (m *MockCatalogDBI) DeleteRom(ctx context.Context, romDBID int64) error {
	args := m.Called(ctx, romDBID)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI delete rom failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) Snapshot(ctx context.Context, systemName string) (*database.Snapshot, error) {
	args := m.Called(ctx, systemName)
	snap, _ := args.Get(0).(*database.Snapshot)
	if err := args.Error(1); err != nil {
		return snap, fmt.Errorf("mock CatalogDBI snapshot failed: %w", err)
	}
	return snap, nil
}

// Rom files
//
//nolint:gocritic // mirrors the interface
func (m *MockCatalogDBI) BindRomFile(ctx context.Context, file database.RomFile) error {
	args := m.Called(ctx, file)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI bind rom file failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) FindRomFiles(ctx context.Context, systemDBID int64) ([]database.RomFile, error) {
	args := m.Called(ctx, systemDBID)
	files, _ := args.Get(0).([]database.RomFile)
	if err := args.Error(1); err != nil {
		return files, fmt.Errorf("mock CatalogDBI find rom files failed: %w", err)
	}
	return files, nil
}

func (m *MockCatalogDBI) MoveRomFiles(
	ctx context.Context,
	fromPath, toPath, container string,
	renames map[string]string,
) error {
	args := m.Called(ctx, fromPath, toPath, container, renames)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI move rom files failed: %w", err)
	}
	return nil
}

func (m *MockCatalogDBI) DeleteRomFilesByPath(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI delete rom files failed: %w", err)
	}
	return nil
}

//nolint:gocritic // mirrors the interface
func (m *MockCatalogDBI) InsertConversion(ctx context.Context, c database.Conversion) error {
	args := m.Called(ctx, c)
	if err := args.Error(0); err != nil {
		return fmt.Errorf("mock CatalogDBI insert conversion failed: %w", err)
	}
	return nil
}
