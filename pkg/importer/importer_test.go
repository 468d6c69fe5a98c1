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

package importer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ZaparooProject/zaparoo-curator/pkg/dat"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const fooDAT = `<?xml version="1.0"?>
<datafile>
	<header>
		<name>Test System</name>
		<description>Test System</description>
		<version>1</version>
	</header>
	<game name="Foo (Europe)" cloneof="Foo (USA)">
		<rom name="Foo (Europe).bin" size="1024" crc="22222222" sha1="2222222222222222222222222222222222222222"/>
	</game>
	<game name="Foo (USA)">
		<rom name="Foo (USA).bin" size="1024" crc="11111111" sha1="1111111111111111111111111111111111111111"/>
	</game>
	<game name="Foo (Japan) (Rev 1)" cloneof="Foo (Europe)">
		<rom name="Foo (Japan) (Rev 1).bin" size="1024" crc="33333333"/>
	</game>
	<game name="Bar (World) (Beta)" cloneof="Missing Parent">
		<rom name="Bar.bin" size="16" crc="44444444"/>
		<rom name="Bar.bin" size="16" crc="55555555"/>
	</game>
	<game name="Foo (USA)">
		<rom name="dupe.bin" size="1" crc="66666666"/>
	</game>
	<game name="Loop A" cloneof="Loop B">
		<rom name="a.bin" size="1" crc="77777777"/>
	</game>
	<game name="Loop B" cloneof="Loop A">
		<rom name="b.bin" size="1" crc="88888888"/>
	</game>
	<game name="Self" cloneof="Self">
		<rom name="s.bin" size="1" crc="99999999"/>
	</game>
</datafile>`

func parse(t *testing.T, s string) *dat.Document {
	t.Helper()
	doc, err := dat.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func gamesByName(snap *database.Snapshot) map[string]database.Game {
	out := make(map[string]database.Game, len(snap.Games))
	for _, g := range snap.Games {
		out[g.Name] = g
	}
	return out
}

func TestImport_BuildsFlatForest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := helpers.NewInMemoryCatalogDB(t)

	report, err := Import(ctx, db, parse(t, fooDAT), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Systems.Added)
	assert.Equal(t, 4, report.Games.Added)
	assert.Equal(t, 4, report.Roms.Added)
	assert.Equal(t, 4, report.Games.Skipped, "duplicate, two loop members and a self reference")
	assert.Equal(t, 1, report.Roms.Skipped)

	structural := 0
	for _, e := range report.Errors {
		if errors.Is(e, ErrStructural) {
			structural++
		}
	}
	assert.Equal(t, 3, structural)

	snap, err := db.Snapshot(ctx, "Test System")
	require.NoError(t, err)
	games := gamesByName(snap)
	require.Len(t, games, 4)

	usa := games["Foo (USA)"]
	assert.False(t, usa.IsClone())
	assert.Equal(t, []string{"USA"}, usa.Regions)

	eur := games["Foo (Europe)"]
	require.True(t, eur.ParentDBID.Valid, "parent declared later in the document is linked")
	assert.Equal(t, usa.DBID, eur.ParentDBID.Int64)

	jpn := games["Foo (Japan) (Rev 1)"]
	assert.Equal(t, "Foo (USA)", jpn.ParentName, "clone of clone is flattened")
	assert.Equal(t, usa.DBID, jpn.ParentDBID.Int64)
	assert.Equal(t, "1", jpn.Revision)

	bar := games["Bar (World) (Beta)"]
	assert.Equal(t, "Missing Parent", bar.ParentName)
	assert.False(t, bar.ParentDBID.Valid, "orphan clone keeps its declared parent")
	assert.Equal(t, []string{"beta"}, bar.Flags)

	// Catalog order is document order.
	assert.Equal(t, "Foo (Europe)", snap.Games[0].Name)
	assert.Less(t, eur.DBID, usa.DBID)

	rom := snap.RomsOf(bar.DBID)
	require.Len(t, rom, 1)
	assert.Equal(t, "44444444", rom[0].CRC32, "first duplicate rom wins")

	groups := snap.CloneGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, "Foo (USA)", groups[0].Key)
	assert.Len(t, groups[0].Members, 3)
	assert.Equal(t, "Missing Parent", groups[1].Key)
}

func TestImport_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := helpers.NewInMemoryCatalogDB(t)
	det, err := dat.ParseDetector(strings.NewReader(
		`<detector><name>h</name><rule start_offset="10"><data offset="0" value="4E45531A"/></rule></detector>`))
	require.NoError(t, err)
	opts := Options{Detector: det}

	_, err = Import(ctx, db, parse(t, fooDAT), opts)
	require.NoError(t, err)
	before := helpers.TableDump(t, db.UnsafeGetSQLDb())

	report, err := Import(ctx, db, parse(t, fooDAT), opts)
	require.NoError(t, err)
	after := helpers.TableDump(t, db.UnsafeGetSQLDb())

	assert.Equal(t, 1, report.Systems.Unchanged)
	assert.Equal(t, 0, report.Games.Added)
	assert.Equal(t, 0, report.Games.Updated)
	assert.Equal(t, 4, report.Games.Unchanged)
	assert.Equal(t, 0, report.Roms.Added)
	assert.Equal(t, 0, report.Roms.Updated)
	assert.Equal(t, 4, report.Roms.Unchanged)
	assert.Equal(t, before, after)
}

func TestImport_HeaderSkip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := helpers.NewInMemoryCatalogDB(t)
	det, err := dat.ParseDetector(strings.NewReader(
		`<detector><name>h</name><rule start_offset="10"><data offset="0" value="4E45531A"/></rule></detector>`))
	require.NoError(t, err)

	_, err = Import(ctx, db, parse(t, fooDAT), Options{Detector: det})
	require.NoError(t, err)

	snap, err := db.Snapshot(ctx, "Test System")
	require.NoError(t, err)
	require.Len(t, snap.Headers, 1)
	for _, r := range snap.Roms {
		assert.Equal(t, int64(16), r.HeaderSkip)
	}
}

const fooDATv2 = `<?xml version="1.0"?>
<datafile>
	<header><name>Test System</name><description>Test System</description><version>2</version></header>
	<game name="Foo (USA)">
		<description>Foo, now described</description>
		<rom name="Foo (USA).bin" size="1024" crc="11111111" sha1="1111111111111111111111111111111111111111"/>
	</game>
	<game name="Foo (Europe)" cloneof="Foo (USA)">
		<rom name="Foo (Europe).bin" size="1024" crc="abcdef01"/>
	</game>
	<game name="Baz (Japan)">
		<rom name="Baz.bin" size="8" crc="12121212"/>
	</game>
</datafile>`

func TestImport_MergeWithoutPrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := helpers.NewInMemoryCatalogDB(t)

	_, err := Import(ctx, db, parse(t, fooDAT), Options{})
	require.NoError(t, err)
	report, err := Import(ctx, db, parse(t, fooDATv2), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Systems.Updated)
	assert.Equal(t, 1, report.Games.Added)
	assert.Equal(t, 1, report.Games.Updated)
	assert.Equal(t, 1, report.Games.Unchanged)
	assert.Equal(t, 1, report.Roms.Updated)
	assert.Equal(t, 0, report.Games.Pruned)

	snap, err := db.Snapshot(ctx, "Test System")
	require.NoError(t, err)
	games := gamesByName(snap)
	assert.Len(t, games, 5, "games absent from the new document are retained")
	assert.Equal(t, "Foo, now described", games["Foo (USA)"].Description)
	roms := snap.RomsOf(games["Foo (Europe)"].DBID)
	require.Len(t, roms, 1)
	assert.Equal(t, "abcdef01", roms[0].CRC32)
	assert.Empty(t, roms[0].SHA1, "changed rom is replaced, not patched")
}

func TestImport_Prune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := helpers.NewInMemoryCatalogDB(t)

	_, err := Import(ctx, db, parse(t, fooDAT), Options{})
	require.NoError(t, err)
	report, err := Import(ctx, db, parse(t, fooDATv2), Options{Prune: true})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Games.Pruned)
	assert.Equal(t, 2, report.Roms.Pruned)

	snap, err := db.Snapshot(ctx, "Test System")
	require.NoError(t, err)
	games := gamesByName(snap)
	assert.Len(t, games, 3)
	assert.NotContains(t, games, "Bar (World) (Beta)")
}

func TestImport_StoreFailureRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := helpers.NewMockCatalogDBI()

	db.On("BeginTransaction", mock.Anything).Return(nil)
	db.On("FindSystem", mock.Anything, "Test System").Return(database.System{}, database.ErrSystemNotFound)
	db.On("UpsertSystem", mock.Anything, mock.Anything).Return(database.System{DBID: 1, Name: "Test System"}, nil)
	db.On("InsertGame", mock.Anything, mock.Anything).Return(database.Game{}, errors.New("disk full"))
	db.On("RollbackTransaction").Return(nil)

	_, err := Import(ctx, db, parse(t, fooDAT), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import rolled back")
	assert.Contains(t, err.Error(), "disk full")
	db.AssertExpectations(t)
	db.AssertNotCalled(t, "CommitTransaction")
}

func TestImport_BeginFailure(t *testing.T) {
	t.Parallel()
	db := helpers.NewMockCatalogDBI()
	db.On("BeginTransaction", mock.Anything).Return(errors.New("locked"))

	_, err := Import(context.Background(), db, parse(t, fooDAT), Options{})
	require.Error(t, err)
	db.AssertNotCalled(t, "RollbackTransaction")
}

func TestChainRoot(t *testing.T) {
	t.Parallel()
	declared := map[string]string{
		"a": "b",
		"b": "c",
		"c": "",
		"x": "y",
		"y": "x",
		"o": "gone",
	}
	root, ok := chainRoot(declared, "a")
	assert.True(t, ok)
	assert.Equal(t, "c", root)

	_, ok = chainRoot(declared, "x")
	assert.False(t, ok)

	root, ok = chainRoot(declared, "o")
	assert.True(t, ok)
	assert.Equal(t, "gone", root)
}
