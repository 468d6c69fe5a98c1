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

// Package importer merges a parsed catalog document into the store.
package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ZaparooProject/zaparoo-curator/pkg/dat"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database"
	"github.com/ZaparooProject/zaparoo-curator/pkg/database/tags"
	"github.com/rs/zerolog/log"
)

// ErrStructural marks games excluded because their parent graph is broken.
var ErrStructural = errors.New("structural catalog error")

type Options struct {
	// Detector, when set, strips copier headers from every rom of the system.
	Detector *dat.Detector
	// Prune deletes games and roms the document no longer lists.
	Prune bool
}

type Counts struct {
	Added     int
	Updated   int
	Unchanged int
	Pruned    int
	Skipped   int
}

type Report struct {
	System  string
	Errors  []dat.RecordError
	Systems Counts
	Games   Counts
	Roms    Counts
}

// entry is a game from the document after normalization.
type entry struct {
	game   dat.Game
	parent string
	meta   tags.Release
}

// Import merges doc into db inside a single transaction. Record level
// problems are reported and skipped; a store failure rolls everything back.
func Import(ctx context.Context, db database.CatalogDBI, doc *dat.Document, opts Options) (Report, error) {
	report := Report{
		System: doc.Header.Name,
		Errors: append([]dat.RecordError(nil), doc.Errors...),
	}
	report.Games.Skipped = countGameErrors(doc.Errors)
	report.Roms.Skipped = len(doc.Errors) - report.Games.Skipped

	if err := db.BeginTransaction(ctx); err != nil {
		return report, fmt.Errorf("failed to begin import: %w", err)
	}
	m := &merger{db: db, opts: opts, report: &report}
	if err := m.run(ctx, doc); err != nil {
		if rbErr := db.RollbackTransaction(); rbErr != nil {
			log.Error().Err(rbErr).Msg("failed to roll back import")
		}
		log.Error().Err(err).Str("system", report.System).Msg("import aborted")
		return report, fmt.Errorf("import rolled back: %w", err)
	}
	if err := db.CommitTransaction(); err != nil {
		return report, fmt.Errorf("import rolled back: %w", err)
	}

	log.Info().
		Str("system", report.System).
		Int("games_added", report.Games.Added).
		Int("games_updated", report.Games.Updated).
		Int("games_unchanged", report.Games.Unchanged).
		Int("games_pruned", report.Games.Pruned).
		Int("roms_added", report.Roms.Added).
		Int("roms_updated", report.Roms.Updated).
		Int("errors", len(report.Errors)).
		Msg("catalog imported")
	return report, nil
}

func countGameErrors(errs []dat.RecordError) int {
	n := 0
	for _, e := range errs {
		if e.Rom == "" {
			n++
		}
	}
	return n
}

type merger struct {
	db     database.CatalogDBI
	report *Report
	opts   Options
}

func (m *merger) reject(game, rom, reason string, err error) {
	m.report.Errors = append(m.report.Errors, dat.RecordError{
		Game:   game,
		Rom:    rom,
		Reason: reason,
		Err:    err,
	})
	if rom == "" {
		m.report.Games.Skipped++
	} else {
		m.report.Roms.Skipped++
	}
}

func (m *merger) run(ctx context.Context, doc *dat.Document) error {
	system, existing, err := m.upsertSystem(ctx, doc)
	if err != nil {
		return err
	}

	mentioned := make(map[string]struct{}, len(doc.Games))
	entries := m.normalize(doc, mentioned)
	entries = m.resolveParents(entries, existing)
	pending := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		pending[e.game.Name] = struct{}{}
	}

	byName := make(map[string]database.Game)
	if existing != nil {
		for _, g := range existing.Games {
			byName[g.Name] = g
		}
	}

	// Games go in document order so DBIDs follow catalog order. A clone whose
	// parent comes later is linked once every game has an ID.
	var deferred []database.Game
	for _, e := range entries {
		game := m.buildGame(system.DBID, e, byName)
		delete(pending, game.Name)
		if e.parent != "" && !game.ParentDBID.Valid {
			if _, later := pending[e.parent]; later {
				deferred = append(deferred, game)
			}
		}

		old, found := byName[game.Name]
		switch {
		case !found:
			inserted, err := m.db.InsertGame(ctx, game)
			if err != nil {
				return fmt.Errorf("failed to insert game: %w", err)
			}
			game = inserted
			m.report.Games.Added++
		case sameGame(old, game):
			game.DBID = old.DBID
			m.report.Games.Unchanged++
		default:
			game.DBID = old.DBID
			if err := m.db.UpdateGame(ctx, game); err != nil {
				return fmt.Errorf("failed to update game: %w", err)
			}
			m.report.Games.Updated++
		}
		byName[game.Name] = game

		var oldRoms []database.Rom
		if found && existing != nil {
			oldRoms = existing.RomsOf(old.DBID)
		}
		if err := m.mergeRoms(ctx, game, e.game.Roms, oldRoms); err != nil {
			return err
		}
	}

	for _, game := range deferred {
		parent := byName[game.ParentName]
		game.DBID = byName[game.Name].DBID
		game.ParentDBID = sql.NullInt64{Int64: parent.DBID, Valid: true}
		if err := m.db.UpdateGame(ctx, game); err != nil {
			return fmt.Errorf("failed to link clone: %w", err)
		}
	}

	if m.opts.Prune && existing != nil {
		return m.prune(ctx, existing, mentioned)
	}
	return nil
}

func (m *merger) upsertSystem(ctx context.Context, doc *dat.Document) (database.System, *database.Snapshot, error) {
	want := database.System{
		Name:        doc.Header.Name,
		Description: doc.Header.Description,
		Version:     doc.Header.Version,
		HeaderName:  doc.Header.Clrmamepro.Header,
	}

	var existing *database.Snapshot
	old, err := m.db.FindSystem(ctx, want.Name)
	switch {
	case errors.Is(err, database.ErrSystemNotFound):
		m.report.Systems.Added++
	case err != nil:
		return want, nil, fmt.Errorf("failed to find system: %w", err)
	default:
		existing, err = m.db.Snapshot(ctx, want.Name)
		if err != nil {
			return want, nil, fmt.Errorf("failed to load system: %w", err)
		}
		if old.Description == want.Description && old.Version == want.Version && old.HeaderName == want.HeaderName {
			m.report.Systems.Unchanged++
		} else {
			m.report.Systems.Updated++
		}
	}

	system := want
	if existing == nil || m.report.Systems.Updated > 0 {
		system, err = m.db.UpsertSystem(ctx, want)
		if err != nil {
			return want, nil, fmt.Errorf("failed to store system: %w", err)
		}
	} else {
		system.DBID = old.DBID
	}

	if m.opts.Detector != nil {
		rules := m.opts.Detector.HeaderRules()
		if existing == nil || !sameRules(existing.Headers, rules) {
			if err := m.db.ReplaceHeaderRules(ctx, system.DBID, rules); err != nil {
				return system, nil, fmt.Errorf("failed to store header rules: %w", err)
			}
		}
	}
	return system, existing, nil
}

func sameRules(a, b []database.HeaderRule) bool {
	return slices.EqualFunc(a, b, func(x, y database.HeaderRule) bool {
		return x.Skip == y.Skip && x.DataOffset == y.DataOffset && strings.EqualFold(x.Value, y.Value)
	})
}

// normalize drops duplicate games and roms, first occurrence wins, and
// parses release metadata.
func (m *merger) normalize(doc *dat.Document, mentioned map[string]struct{}) []entry {
	entries := make([]entry, 0, len(doc.Games))
	for _, g := range doc.Games {
		if _, dup := mentioned[g.Name]; dup {
			m.reject(g.Name, "", "duplicate game name", nil)
			continue
		}
		mentioned[g.Name] = struct{}{}

		seen := make(map[string]struct{}, len(g.Roms))
		roms := g.Roms[:0:0]
		for _, r := range g.Roms {
			if _, dup := seen[r.Name]; dup {
				m.reject(g.Name, r.Name, "duplicate rom name", nil)
				continue
			}
			seen[r.Name] = struct{}{}
			roms = append(roms, r)
		}
		g.Roms = roms

		entries = append(entries, entry{game: g, meta: releaseMeta(g)})
	}
	return entries
}

// releaseMeta combines the tags in the name with any release elements.
func releaseMeta(g dat.Game) tags.Release {
	meta := tags.Parse(g.Name)
	for _, rel := range g.Releases {
		if rel.Region != "" {
			code := tags.NormalizeRegion(rel.Region)
			if !slices.Contains(meta.Regions, code) {
				meta.Regions = append(meta.Regions, code)
			}
		}
		for _, lang := range strings.Split(rel.Language, ",") {
			if lang = strings.TrimSpace(lang); lang == "" {
				continue
			}
			code := tags.NormalizeLanguage(lang)
			if !slices.Contains(meta.Languages, code) {
				meta.Languages = append(meta.Languages, code)
			}
		}
	}
	return meta
}

// resolveParents sets each entry's parent to the root of its clone chain and
// drops entries whose chain loops.
func (m *merger) resolveParents(entries []entry, existing *database.Snapshot) []entry {
	declared := make(map[string]string, len(entries))
	for _, e := range entries {
		declared[e.game.Name] = e.game.CloneOf
	}
	// Retained games can still be parents unless they are about to be pruned.
	if existing != nil && !m.opts.Prune {
		for _, g := range existing.Games {
			if _, ok := declared[g.Name]; !ok {
				declared[g.Name] = g.ParentName
			}
		}
	}

	kept := entries[:0]
	for _, e := range entries {
		name := e.game.Name
		if e.game.CloneOf == "" {
			kept = append(kept, e)
			continue
		}
		if e.game.CloneOf == name {
			m.reject(name, "", "game is its own parent", ErrStructural)
			continue
		}

		root, ok := chainRoot(declared, name)
		if !ok {
			m.reject(name, "", "parent chain loops", ErrStructural)
			continue
		}
		if root != e.game.CloneOf {
			log.Warn().
				Str("game", name).
				Str("parent", e.game.CloneOf).
				Str("root", root).
				Msg("flattening clone of clone to root parent")
		}
		e.parent = root
		kept = append(kept, e)
	}

	return kept
}

// chainRoot follows parent links from name until a game with no parent, or a
// name outside the catalog, is reached.
func chainRoot(declared map[string]string, name string) (string, bool) {
	visited := map[string]struct{}{name: {}}
	cur := declared[name]
	for {
		next, known := declared[cur]
		if !known || next == "" {
			return cur, true
		}
		if _, loop := visited[cur]; loop {
			return "", false
		}
		visited[cur] = struct{}{}
		cur = next
	}
}

func (m *merger) buildGame(systemDBID int64, e entry, byName map[string]database.Game) database.Game {
	game := database.Game{
		SystemDBID:  systemDBID,
		Name:        e.game.Name,
		Description: e.game.Description,
		ParentName:  e.parent,
		RomOf:       e.game.RomOf,
		Regions:     e.meta.Regions,
		Languages:   e.meta.Languages,
		Flags:       tags.FlagStrings(e.meta.Flags),
		Revision:    e.meta.Revision,
	}
	if e.parent != "" {
		if p, ok := byName[e.parent]; ok {
			game.ParentDBID = sql.NullInt64{Int64: p.DBID, Valid: true}
		}
	}
	return game
}

func sameGame(a, b database.Game) bool {
	return a.Description == b.Description &&
		a.ParentName == b.ParentName &&
		a.ParentDBID == b.ParentDBID &&
		a.RomOf == b.RomOf &&
		a.Revision == b.Revision &&
		slices.Equal(a.Regions, b.Regions) &&
		slices.Equal(a.Languages, b.Languages) &&
		slices.Equal(a.Flags, b.Flags)
}

func (m *merger) mergeRoms(ctx context.Context, game database.Game, roms []dat.Rom, old []database.Rom) error {
	oldByName := make(map[string]database.Rom, len(old))
	for _, r := range old {
		oldByName[r.Name] = r
	}
	skip := m.opts.Detector.Skip()

	for _, r := range roms {
		rom := database.Rom{
			GameDBID:   game.DBID,
			Name:       r.Name,
			Size:       r.Size,
			CRC32:      r.CRC32,
			MD5:        r.MD5,
			SHA1:       r.SHA1,
			Merge:      r.Merge,
			HeaderSkip: skip,
		}
		prev, found := oldByName[r.Name]
		delete(oldByName, r.Name)
		if found && prev.SameContent(rom) && prev.Merge == rom.Merge {
			m.report.Roms.Unchanged++
			continue
		}
		if found {
			// Replacing drops the file bindings of the stale rom.
			if err := m.db.DeleteRom(ctx, prev.DBID); err != nil {
				return fmt.Errorf("failed to replace rom: %w", err)
			}
		}
		if _, err := m.db.InsertRom(ctx, rom); err != nil {
			return fmt.Errorf("failed to insert rom: %w", err)
		}
		if found {
			m.report.Roms.Updated++
		} else {
			m.report.Roms.Added++
		}
	}

	if !m.opts.Prune {
		return nil
	}
	for _, r := range old {
		if _, stale := oldByName[r.Name]; !stale {
			continue
		}
		if err := m.db.DeleteRom(ctx, r.DBID); err != nil {
			return fmt.Errorf("failed to prune rom: %w", err)
		}
		m.report.Roms.Pruned++
	}
	return nil
}

func (m *merger) prune(ctx context.Context, existing *database.Snapshot, mentioned map[string]struct{}) error {
	for _, g := range existing.Games {
		if _, ok := mentioned[g.Name]; ok {
			continue
		}
		if err := m.db.DeleteGame(ctx, g.DBID); err != nil {
			return fmt.Errorf("failed to prune game: %w", err)
		}
		m.report.Games.Pruned++
		m.report.Roms.Pruned += len(existing.RomsOf(g.DBID))
	}
	return nil
}
