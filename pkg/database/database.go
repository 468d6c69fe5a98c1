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

package database

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
)

/*
 * Catalog records. A System owns Games, a Game owns Roms. Parent links and
 * rom-of references are plain identifiers, never pointers, so a Snapshot can
 * be dropped or reloaded as a unit.
 */

type System struct {
	Name        string
	Description string
	Version     string
	// HeaderName is the detector referenced by the catalog header, if any.
	HeaderName string
	DBID       int64
}

// HeaderRule is one signature a file must carry before its header is
// skipped. Value is upper case hex. Rows sharing a Group are the tests of
// one detector rule and must all pass together.
type HeaderRule struct {
	Value      string
	DBID       int64
	SystemDBID int64
	Group      int64
	Skip       int64
	DataOffset int64
}

type Game struct {
	Name        string
	Description string
	// ParentName is the declared parent, kept even when it does not resolve.
	ParentName string
	RomOf      string
	Revision   string
	Regions    []string
	Languages  []string
	Flags      []string
	ParentDBID sql.NullInt64
	DBID       int64
	SystemDBID int64
}

// IsClone reports whether the game declares a parent.
func (g Game) IsClone() bool {
	return g.ParentName != ""
}

type Rom struct {
	Name  string
	CRC32 string
	MD5   string
	SHA1  string
	// Merge names the parent rom this rom is identical to in merged sets.
	Merge      string
	DBID       int64
	GameDBID   int64
	Size       int64
	HeaderSkip int64
}

// Digests returns the expected digests in fingerprint form.
func (r Rom) Digests() fingerprint.Digests {
	return fingerprint.Digests{
		CRC32: r.CRC32,
		MD5:   r.MD5,
		SHA1:  r.SHA1,
		Size:  r.Size,
	}
}

// SameContent reports whether two roms describe the same expected bytes.
func (r Rom) SameContent(o Rom) bool {
	return r.Size == o.Size &&
		r.HeaderSkip == o.HeaderSkip &&
		strings.EqualFold(r.CRC32, o.CRC32) &&
		strings.EqualFold(r.MD5, o.MD5) &&
		strings.EqualFold(r.SHA1, o.SHA1)
}

// RomFile records where in the library a rom was found.
type RomFile struct {
	Path      string
	Entry     string
	Container string
	DBID      int64
	RomDBID   int64
}

type Conversion struct {
	RunID      string
	SourcePath string
	TargetPath string
	TargetKind string
	State      string
	Detail     string
	DBID       int64
	FinishedAt int64
}

// Snapshot is a read-only view of a whole System. Games and Roms are ordered
// by DBID, which is catalog insertion order. It is safe for concurrent reads.
type Snapshot struct {
	gamesByID map[int64]int
	romsByGID map[int64][]int
	System    System
	Headers   []HeaderRule
	Games     []Game
	Roms      []Rom
}

// NewSnapshot indexes the given records. The slices are sorted in place.
func NewSnapshot(system System, headers []HeaderRule, games []Game, roms []Rom) *Snapshot {
	sort.Slice(games, func(i, j int) bool { return games[i].DBID < games[j].DBID })
	sort.Slice(roms, func(i, j int) bool { return roms[i].DBID < roms[j].DBID })

	s := &Snapshot{
		System:    system,
		Headers:   headers,
		Games:     games,
		Roms:      roms,
		gamesByID: make(map[int64]int, len(games)),
		romsByGID: make(map[int64][]int, len(games)),
	}
	for i, g := range games {
		s.gamesByID[g.DBID] = i
	}
	for i, r := range roms {
		s.romsByGID[r.GameDBID] = append(s.romsByGID[r.GameDBID], i)
	}
	return s
}

// Game looks up a game by DBID.
func (s *Snapshot) Game(id int64) (Game, bool) {
	i, ok := s.gamesByID[id]
	if !ok {
		return Game{}, false
	}
	return s.Games[i], true
}

// RomsOf returns the roms of a game in insertion order.
func (s *Snapshot) RomsOf(gameID int64) []Rom {
	idx := s.romsByGID[gameID]
	roms := make([]Rom, 0, len(idx))
	for _, i := range idx {
		roms = append(roms, s.Roms[i])
	}
	return roms
}

// CloneGroup is a parent and its clones. Orphaned clones whose parent is not
// in the catalog are grouped by the parent name they declare.
type CloneGroup struct {
	Key     string
	Members []Game
}

// CloneGroups partitions the catalog into parent/clone groups, ordered by
// the first member's DBID.
func (s *Snapshot) CloneGroups() []CloneGroup {
	index := make(map[string]int)
	var groups []CloneGroup
	for _, g := range s.Games {
		key := g.Name
		if g.ParentDBID.Valid {
			if p, ok := s.Game(g.ParentDBID.Int64); ok {
				key = p.Name
			}
		} else if g.ParentName != "" {
			key = g.ParentName
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, CloneGroup{Key: key})
		}
		groups[i].Members = append(groups[i].Members, g)
	}
	return groups
}

/*
 * Store interfaces. Implementations live in catalogdb.
 */

// ErrSystemNotFound is returned by FindSystem and Snapshot for an unknown
// system name.
var ErrSystemNotFound = errors.New("system not found")

type GenericDBI interface {
	Open() error
	UnsafeGetSQLDb() *sql.DB
	Truncate() error
	Allocate() error
	MigrateUp() error
	Vacuum() error
	Close() error
	GetDBPath() string
}

// CatalogDBI is the repository the core runs against. Every write must
// happen between BeginTransaction and Commit/Rollback; only one transaction
// is open at a time.
type CatalogDBI interface {
	GenericDBI

	BeginTransaction(ctx context.Context) error
	CommitTransaction() error
	RollbackTransaction() error

	FindSystem(ctx context.Context, name string) (System, error)
	UpsertSystem(ctx context.Context, system System) (System, error)
	ReplaceHeaderRules(ctx context.Context, systemDBID int64, rules []HeaderRule) error

	FindGames(ctx context.Context, systemDBID int64) ([]Game, error)
	InsertGame(ctx context.Context, game Game) (Game, error)
	UpdateGame(ctx context.Context, game Game) error
	DeleteGame(ctx context.Context, gameDBID int64) error

	FindRoms(ctx context.Context, systemDBID int64) ([]Rom, error)
	InsertRom(ctx context.Context, rom Rom) (Rom, error)
	DeleteRom(ctx context.Context, romDBID int64) error

	Snapshot(ctx context.Context, systemName string) (*Snapshot, error)

	BindRomFile(ctx context.Context, file RomFile) error
	FindRomFiles(ctx context.Context, systemDBID int64) ([]RomFile, error)
	// MoveRomFiles rebinds every file recorded at fromPath to toPath. renames
	// maps old entry names to new ones where they changed.
	MoveRomFiles(ctx context.Context, fromPath, toPath, container string, renames map[string]string) error
	DeleteRomFilesByPath(ctx context.Context, path string) error

	InsertConversion(ctx context.Context, c Conversion) error
}
