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
	"os"
	"testing"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
	"github.com/ZaparooProject/zaparoo-curator/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRename_UsesRomNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := importFoo(t)

	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/usa.bin", usaData))
	require.NoError(t, h.WriteFile("/lib/Foo (Europe).bin", eurData))

	report, err := Reconcile(ctx, db, h.Fs, system, "/lib", reconcileOpts(true))
	require.NoError(t, err)

	renamed, err := Rename(ctx, db, h.Fs, report.Results)
	require.NoError(t, err)
	assert.Empty(t, renamed.Failed)
	assert.Equal(t, map[string]string{"/lib/usa.bin": "/lib/Foo (USA).bin"}, renamed.Renamed)
	assert.False(t, h.FileExists("/lib/usa.bin"))

	data, err := h.ReadFile("/lib/Foo (USA).bin")
	require.NoError(t, err)
	assert.Equal(t, usaData, data)

	snap, err := db.Snapshot(ctx, system)
	require.NoError(t, err)
	files, err := db.FindRomFiles(ctx, snap.System.DBID)
	require.NoError(t, err)
	got := make([]string, 0, len(files))
	for _, f := range files {
		got = append(got, f.Path+"|"+f.Entry)
	}
	assert.Equal(t, []string{
		"/lib/Foo (Europe).bin|Foo (Europe).bin",
		"/lib/Foo (USA).bin|Foo (USA).bin",
	}, got)

	again, err := Reconcile(ctx, db, h.Fs, system, "/lib", reconcileOpts(false))
	require.NoError(t, err)
	assert.Equal(t, reconciler.Counts{Exact: 2}, again.Counts)
	for _, r := range again.Results {
		assert.False(t, r.Renamed, r.Path)
	}
}

func TestRename_NeverOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := importFoo(t)

	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/usa.bin", usaData))
	require.NoError(t, h.WriteFile("/lib/Foo (USA).bin", []byte("something else")))

	report, err := Reconcile(ctx, db, h.Fs, system, "/lib", reconcileOpts(true))
	require.NoError(t, err)

	renamed, err := Rename(ctx, db, h.Fs, report.Results)
	require.NoError(t, err)
	assert.Empty(t, renamed.Renamed)
	require.Len(t, renamed.Failed, 1)
	assert.Equal(t, "/lib/usa.bin", renamed.Failed[0].Path)
	require.ErrorIs(t, renamed.Failed[0].Err, os.ErrExist)

	data, err := h.ReadFile("/lib/Foo (USA).bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("something else"), data)
	assert.True(t, h.FileExists("/lib/usa.bin"))
}

func TestRename_RestoresFileWhenBindingFails(t *testing.T) {
	t.Parallel()
	db := helpers.NewMockCatalogDBI()
	db.On("BeginTransaction", mock.Anything).Return(nil)
	db.On("MoveRomFiles", mock.Anything, "/lib/a.bin", "/lib/Foo (USA).bin", "flat",
		map[string]string{"a.bin": "Foo (USA).bin"}).Return(errors.New("disk full"))
	db.On("RollbackTransaction").Return(nil)

	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/a.bin", usaData))

	renamed, err := Rename(context.Background(), db, h.Fs, []reconciler.Result{{
		Path:      "/lib/a.bin",
		Entry:     "a.bin",
		Container: containers.KindFlat,
		Status:    reconciler.StatusExact,
		RomDBID:   1,
		RomName:   "Foo (USA).bin",
		Renamed:   true,
	}})
	require.NoError(t, err)
	require.Len(t, renamed.Failed, 1)
	assert.Contains(t, renamed.Failed[0].Err.Error(), "rename rolled back")
	assert.True(t, h.FileExists("/lib/a.bin"))
	assert.False(t, h.FileExists("/lib/Foo (USA).bin"))
	db.AssertNotCalled(t, "CommitTransaction")
	db.AssertExpectations(t)
}

func TestRename_SkipsArchivesAndUnsafeNames(t *testing.T) {
	t.Parallel()
	db := helpers.NewMockCatalogDBI()
	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/a.bin", usaData))

	renamed, err := Rename(context.Background(), db, h.Fs, []reconciler.Result{
		{
			Path: "/lib/b.zip", Entry: "b.bin", Container: containers.KindZip,
			Status: reconciler.StatusExact, RomDBID: 2, RomName: "Bar.bin", Renamed: true,
		},
		{
			Path: "/lib/a.bin", Entry: "a.bin", Container: containers.KindFlat,
			Status: reconciler.StatusExact, RomDBID: 1, RomName: "../escape.bin", Renamed: true,
		},
	})
	require.NoError(t, err)
	assert.Empty(t, renamed.Renamed)
	require.Len(t, renamed.Failed, 1)
	require.ErrorIs(t, renamed.Failed[0].Err, ErrBadRomName)
	db.AssertExpectations(t)
}
