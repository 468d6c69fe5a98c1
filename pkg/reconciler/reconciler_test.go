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

package reconciler

import (
	"bytes"
	"context"
	"testing"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/ZaparooProject/zaparoo-curator/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	contentUSA    = bytes.Repeat([]byte("A"), 1024)
	contentEurope = bytes.Repeat([]byte("B"), 1024)
	contentOther  = bytes.Repeat([]byte("C"), 1024)
	contentBar    = []byte("bar rom contents")
)

func digestsOf(t *testing.T, data []byte) fingerprint.Digests {
	t.Helper()
	d, err := fingerprint.Compute(bytes.NewReader(data), fingerprint.All, 0)
	require.NoError(t, err)
	return d
}

func rom(t *testing.T, id, gameID int64, name string, data []byte) database.Rom {
	t.Helper()
	d := digestsOf(t, data)
	return database.Rom{
		DBID:     id,
		GameDBID: gameID,
		Name:     name,
		Size:     d.Size,
		CRC32:    d.CRC32,
		MD5:      d.MD5,
		SHA1:     d.SHA1,
	}
}

func fooSnapshot(t *testing.T) *database.Snapshot {
	t.Helper()
	games := []database.Game{
		{DBID: 1, SystemDBID: 1, Name: "Foo (USA)", Regions: []string{"USA"}},
		{DBID: 2, SystemDBID: 1, Name: "Foo (Europe)", ParentName: "Foo (USA)", Regions: []string{"EUR"}},
		{DBID: 3, SystemDBID: 1, Name: "Bar (Japan)", Regions: []string{"JPN"}},
	}
	roms := []database.Rom{
		rom(t, 10, 1, "Foo (USA).bin", contentUSA),
		rom(t, 11, 2, "Foo (Europe).bin", contentEurope),
		rom(t, 12, 3, "Bar (Japan).bin", contentBar),
	}
	games[1].ParentDBID.Int64, games[1].ParentDBID.Valid = 1, true
	return database.NewSnapshot(database.System{DBID: 1, Name: "Test"}, nil, games, roms)
}

func resultFor(t *testing.T, report Report, path string) Result {
	t.Helper()
	for _, r := range report.Results {
		if r.Path == path {
			return r
		}
	}
	t.Fatalf("no result for %s", path)
	return Result{}
}

func fooLibrary(t *testing.T) *helpers.FSHelper {
	t.Helper()
	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/usa.bin", contentUSA))
	require.NoError(t, h.WriteContainer("/lib/eur.zip", containers.KindZip, map[string][]byte{
		"Foo (Europe).bin": contentEurope,
	}))
	require.NoError(t, h.WriteFile("/lib/Foo (Usa).bin", contentOther))
	require.NoError(t, h.WriteFile("/lib/notes.txt", []byte("hello")))
	return h
}

func TestReconcile_Classifies(t *testing.T) {
	t.Parallel()
	h := fooLibrary(t)
	snap := fooSnapshot(t)

	report, err := Reconcile(context.Background(), h.Fs, snap, "/lib", Options{
		Hashes:    fingerprint.All,
		AllowFlat: true,
	})
	require.NoError(t, err)

	assert.Equal(t, Counts{Exact: 2, Mismatch: 1, Unrecognized: 1, Missing: 1}, report.Counts)

	usa := resultFor(t, report, "/lib/usa.bin")
	assert.Equal(t, StatusExact, usa.Status)
	assert.Equal(t, int64(10), usa.RomDBID)
	assert.Equal(t, int64(1), usa.GameDBID)
	assert.True(t, usa.Renamed, "file name differs from the rom name")
	assert.Equal(t, containers.KindFlat, usa.Container)
	assert.Equal(t, snap.Roms[0].SHA1, usa.Actual.SHA1)

	eur := resultFor(t, report, "/lib/eur.zip")
	assert.Equal(t, StatusExact, eur.Status)
	assert.Equal(t, "Foo (Europe).bin", eur.Entry)
	assert.False(t, eur.Renamed)
	assert.Equal(t, containers.KindZip, eur.Container)

	bad := resultFor(t, report, "/lib/Foo (Usa).bin")
	assert.Equal(t, StatusMismatch, bad.Status, "size matched, so never unrecognized")
	assert.Zero(t, bad.RomDBID, "mismatch never binds")
	assert.Equal(t, int64(10), bad.Nearest)
	assert.Equal(t, snap.Roms[0].SHA1, bad.Expected.SHA1)
	assert.Equal(t, digestsOf(t, contentOther).SHA1, bad.Actual.SHA1)

	notes := resultFor(t, report, "/lib/notes.txt")
	assert.Equal(t, StatusUnrecognized, notes.Status)

	last := report.Results[len(report.Results)-1]
	assert.Equal(t, StatusMissing, last.Status)
	assert.Equal(t, int64(12), last.RomDBID)

	assert.Equal(t, []int64{1, 2}, report.Complete)
	assert.True(t, report.IsComplete(1))
	assert.False(t, report.IsComplete(3))
}

func TestReconcile_ResultsSortedByPath(t *testing.T) {
	t.Parallel()
	h := fooLibrary(t)

	report, err := Reconcile(context.Background(), h.Fs, fooSnapshot(t), "/lib", Options{AllowFlat: true})
	require.NoError(t, err)

	var paths []string
	for _, r := range report.Results {
		if r.Status != StatusMissing {
			paths = append(paths, r.Path)
		}
	}
	assert.Equal(t, []string{"/lib/Foo (Usa).bin", "/lib/eur.zip", "/lib/notes.txt", "/lib/usa.bin"}, paths)
}

func TestReconcile_UnsupportedContainerSkipped(t *testing.T) {
	t.Parallel()
	h := fooLibrary(t)

	report, err := Reconcile(context.Background(), h.Fs, fooSnapshot(t), "/lib", Options{})
	require.NoError(t, err)

	require.Len(t, report.Skipped, 3)
	for _, s := range report.Skipped {
		assert.Equal(t, "unsupported container", s.Reason)
		assert.ErrorIs(t, s.Err, containers.ErrUnsupportedContainer)
	}
	assert.Equal(t, 1, report.Counts.Exact, "the zip is still read")
	assert.Equal(t, 3, report.Counts.Skipped)
}

func TestReconcile_DuplicateFiles(t *testing.T) {
	t.Parallel()
	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/a.bin", contentUSA))
	require.NoError(t, h.WriteFile("/lib/b.bin", contentUSA))

	report, err := Reconcile(context.Background(), h.Fs, fooSnapshot(t), "/lib", Options{AllowFlat: true})
	require.NoError(t, err)

	a := resultFor(t, report, "/lib/a.bin")
	b := resultFor(t, report, "/lib/b.bin")
	assert.True(t, a.Bound())
	assert.False(t, b.Bound())
	assert.Equal(t, "/lib/a.bin", b.DuplicateOf)
	assert.Equal(t, 1, report.Counts.Exact)
	assert.Equal(t, 1, report.Counts.Duplicate)
}

func TestReconcile_DuplicateCatalogRoms(t *testing.T) {
	t.Parallel()
	games := []database.Game{
		{DBID: 1, Name: "Foo (USA)"},
		{DBID: 2, Name: "Foo (USA) (Alt)"},
	}
	roms := []database.Rom{
		rom(t, 7, 2, "alt.bin", contentUSA),
		rom(t, 5, 1, "Foo (USA).bin", contentUSA),
	}
	snap := database.NewSnapshot(database.System{DBID: 1, Name: "Test"}, nil, games, roms)

	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/Foo (USA).bin", contentUSA))

	report, err := Reconcile(context.Background(), h.Fs, snap, "/lib", Options{AllowFlat: true})
	require.NoError(t, err)

	r := resultFor(t, report, "/lib/Foo (USA).bin")
	assert.Equal(t, int64(5), r.RomDBID, "first in catalog order wins")
	assert.Equal(t, []int64{7}, r.DuplicateRoms)
	assert.Equal(t, 1, report.Counts.Missing, "the duplicate rom is not bound")
}

func TestReconcile_IdenticalParentAndClone(t *testing.T) {
	t.Parallel()
	games := []database.Game{
		{DBID: 1, Name: "P"},
		{DBID: 2, Name: "C", ParentName: "P"},
	}
	roms := []database.Rom{
		rom(t, 10, 1, "p.bin", contentUSA),
		rom(t, 11, 2, "c.bin", contentUSA),
	}
	snap := database.NewSnapshot(database.System{DBID: 1, Name: "Test"}, nil, games, roms)

	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/c.bin", contentUSA))
	require.NoError(t, h.WriteFile("/lib/p.bin", contentUSA))

	report, err := Reconcile(context.Background(), h.Fs, snap, "/lib", Options{AllowFlat: true})
	require.NoError(t, err)
	assert.Equal(t, Counts{Exact: 2}, report.Counts)

	c := resultFor(t, report, "/lib/c.bin")
	p := resultFor(t, report, "/lib/p.bin")
	assert.Equal(t, int64(11), c.RomDBID, "an unbound rom of the same name wins")
	assert.Equal(t, int64(2), c.GameDBID)
	assert.False(t, c.Renamed)
	assert.Equal(t, []int64{10}, c.DuplicateRoms)
	assert.Equal(t, int64(10), p.RomDBID)
	assert.Empty(t, p.DuplicateOf)
	assert.Equal(t, []int64{1, 2}, report.Complete)
}

func TestReconcile_IdenticalContentThirdCopyIsDuplicate(t *testing.T) {
	t.Parallel()
	games := []database.Game{{DBID: 1, Name: "P"}, {DBID: 2, Name: "C"}}
	roms := []database.Rom{
		rom(t, 10, 1, "p.bin", contentUSA),
		rom(t, 11, 2, "c.bin", contentUSA),
	}
	snap := database.NewSnapshot(database.System{DBID: 1, Name: "Test"}, nil, games, roms)

	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/a.bin", contentUSA))
	require.NoError(t, h.WriteFile("/lib/b.bin", contentUSA))
	require.NoError(t, h.WriteFile("/lib/z.bin", contentUSA))

	report, err := Reconcile(context.Background(), h.Fs, snap, "/lib", Options{AllowFlat: true})
	require.NoError(t, err)
	assert.Equal(t, Counts{Exact: 2, Duplicate: 1}, report.Counts)
	assert.Equal(t, int64(10), resultFor(t, report, "/lib/a.bin").RomDBID, "catalog order without a name match")
	assert.Equal(t, int64(11), resultFor(t, report, "/lib/b.bin").RomDBID)
	z := resultFor(t, report, "/lib/z.bin")
	assert.False(t, z.Bound())
	assert.Equal(t, "/lib/a.bin", z.DuplicateOf)
}

func TestReconcile_HeaderSkip(t *testing.T) {
	t.Parallel()
	body := bytes.Repeat([]byte{0x42}, 64)
	header := append([]byte("NES\x1a"), make([]byte, 12)...)

	headers := []database.HeaderRule{{SystemDBID: 1, Skip: 16, DataOffset: 0, Value: "4E45531A"}}
	r := rom(t, 1, 1, "Game (USA).nes", body)
	r.HeaderSkip = 16
	snap := database.NewSnapshot(
		database.System{DBID: 1, Name: "NES"},
		headers,
		[]database.Game{{DBID: 1, Name: "Game (USA)"}},
		[]database.Rom{r},
	)

	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/headered/Game (USA).nes", append(header, body...)))
	require.NoError(t, h.WriteFile("/lib/plain/Game (USA).nes", body))
	wrongMagic := append([]byte("XYZ\x1a"), make([]byte, 12)...)
	require.NoError(t, h.WriteFile("/lib/wrong/Game (USA).nes", append(wrongMagic, body...)))

	report, err := Reconcile(context.Background(), h.Fs, snap, "/lib", Options{AllowFlat: true})
	require.NoError(t, err)

	headered := resultFor(t, report, "/lib/headered/Game (USA).nes")
	assert.Equal(t, StatusExact, headered.Status)
	assert.Equal(t, int64(16), headered.HeaderSkip)
	assert.Equal(t, int64(64), headered.Actual.Size)

	plain := resultFor(t, report, "/lib/plain/Game (USA).nes")
	assert.Equal(t, StatusExact, plain.Status)
	assert.Equal(t, "/lib/headered/Game (USA).nes", plain.DuplicateOf)

	wrong := resultFor(t, report, "/lib/wrong/Game (USA).nes")
	assert.Equal(t, StatusUnrecognized, wrong.Status, "signature must match before the header is stripped")
}

func TestReconcile_HeaderSkipAlternativeRule(t *testing.T) {
	t.Parallel()
	body := bytes.Repeat([]byte{0x5A}, 128)
	header := make([]byte, 64)
	copy(header[6:], "BS93")

	headers := []database.HeaderRule{
		{SystemDBID: 1, Group: 0, Skip: 64, DataOffset: 0, Value: "4C594E58"},
		{SystemDBID: 1, Group: 1, Skip: 64, DataOffset: 6, Value: "42533933"},
	}
	r := rom(t, 1, 1, "Game (USA).lnx", body)
	r.HeaderSkip = 64
	snap := database.NewSnapshot(
		database.System{DBID: 1, Name: "Lynx"},
		headers,
		[]database.Game{{DBID: 1, Name: "Game (USA)"}},
		[]database.Rom{r},
	)

	h := helpers.NewMemoryFS()
	require.NoError(t, h.WriteFile("/lib/Game (USA).lnx", append(header, body...)))

	report, err := Reconcile(context.Background(), h.Fs, snap, "/lib", Options{AllowFlat: true})
	require.NoError(t, err)

	res := resultFor(t, report, "/lib/Game (USA).lnx")
	assert.Equal(t, StatusExact, res.Status, "second rule alone is enough")
	assert.Equal(t, int64(64), res.HeaderSkip)
	assert.Equal(t, Counts{Exact: 1}, report.Counts)
}

func TestReconcile_Exclude(t *testing.T) {
	t.Parallel()
	h := fooLibrary(t)
	require.NoError(t, h.WriteFile("/lib/.trash/old.bin", contentBar))

	report, err := Reconcile(context.Background(), h.Fs, fooSnapshot(t), "/lib", Options{
		AllowFlat: true,
		Exclude:   []string{"/lib/.trash"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts.Missing, "trashed files are not scanned")
}

func TestReconcile_MissingRoot(t *testing.T) {
	t.Parallel()
	h := helpers.NewMemoryFS()
	_, err := Reconcile(context.Background(), h.Fs, fooSnapshot(t), "/nope", Options{})
	require.Error(t, err)
}

func TestReconcile_Cancelled(t *testing.T) {
	t.Parallel()
	h := fooLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Reconcile(ctx, h.Fs, fooSnapshot(t), "/lib", Options{AllowFlat: true})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReconcile_Deterministic(t *testing.T) {
	t.Parallel()
	h := fooLibrary(t)
	for i := range 8 {
		require.NoError(t, h.WriteFile("/lib/extra/"+string(rune('a'+i))+".bin", contentEurope))
	}
	snap := fooSnapshot(t)
	opts := Options{AllowFlat: true, CPUWorkers: 4, IOWorkers: 2}

	first, err := Reconcile(context.Background(), h.Fs, snap, "/lib", opts)
	require.NoError(t, err)
	second, err := Reconcile(context.Background(), h.Fs, snap, "/lib", opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 8, first.Counts.Duplicate)
}

func TestNearestByName(t *testing.T) {
	t.Parallel()
	roms := []database.Rom{
		{DBID: 1, Name: "Zed.bin"},
		{DBID: 2, Name: "Foo (USA).bin"},
		{DBID: 3, Name: "Foo (USA).bin"},
	}
	best, ok := nearestByName("Foo (Usa).bin", roms)
	require.True(t, ok)
	assert.Equal(t, int64(2), best.DBID, "ties go to the lowest DBID")

	_, ok = nearestByName("x", nil)
	assert.False(t, ok)
}

func TestDigestsMatch(t *testing.T) {
	t.Parallel()
	d := digestsOf(t, contentUSA)

	assert.True(t, DigestsMatch(d, d))
	assert.True(t, DigestsMatch(d, fingerprint.Digests{CRC32: d.CRC32, Size: d.Size}))

	wrongSHA := d
	wrongSHA.SHA1 = digestsOf(t, contentOther).SHA1
	assert.False(t, DigestsMatch(d, wrongSHA), "strongest digest decides")

	wrongCRC := d
	wrongCRC.CRC32 = "00000000"
	assert.False(t, DigestsMatch(d, wrongCRC), "checksum filter rejects first")

	wrongSize := d
	wrongSize.Size++
	assert.False(t, DigestsMatch(d, wrongSize))
}
