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

package config

import (
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/convert"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/ZaparooProject/zaparoo-curator/pkg/importer"
	"github.com/ZaparooProject/zaparoo-curator/pkg/reconciler"
	"github.com/ZaparooProject/zaparoo-curator/pkg/selector"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func (c *Instance) LibraryRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Library.Root
}

func (c *Instance) SetLibraryRoot(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Library.Root = root
}

// TrashDir is the trash directory relative to the library root.
func (c *Instance) TrashDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Library.TrashDir == "" {
		return ".trash"
	}
	return filepath.Clean(c.vals.Library.TrashDir)
}

// TrashPath is the absolute trash directory. It is empty when no library
// root is configured.
func (c *Instance) TrashPath() string {
	root := c.LibraryRoot()
	if root == "" {
		return ""
	}
	return filepath.Join(root, c.TrashDir())
}

func (c *Instance) AllowFlat() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Library.AllowFlat == nil {
		return true
	}
	return *c.vals.Library.AllowFlat
}

func (c *Instance) KeepSource() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Library.KeepSource
}

// DefaultTarget is the conversion target used when none is given.
func (c *Instance) DefaultTarget() containers.Kind {
	c.mu.RLock()
	name := c.vals.Library.DefaultTarget
	c.mu.RUnlock()
	if name == "" {
		return containers.KindZip
	}
	kind, err := containers.ParseKind(name)
	if err != nil {
		log.Warn().Err(err).Msg("invalid default target, using zip")
		return containers.KindZip
	}
	return kind
}

// Hashes returns the configured digest kinds. CRC32 and at least one
// cryptographic digest are always included.
func (c *Instance) Hashes() fingerprint.Set {
	c.mu.RLock()
	kinds := c.vals.Hashing.Kinds
	c.mu.RUnlock()

	set, err := fingerprint.ParseKinds(kinds)
	if err != nil {
		log.Warn().Err(err).Msg("invalid hash kinds, using defaults")
		set = fingerprint.SetCRC32
	}
	if !set.Cryptographic() {
		set = set.With(fingerprint.SHA1)
	}
	return set
}

// Regions returns the preferred regions, upper cased.
func (c *Instance) Regions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return normalizeAll(c.vals.Selection.Regions, cases.Upper(language.Und))
}

func (c *Instance) SetRegions(regions []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Selection.Regions = regions
}

// Languages returns the preferred languages, lower cased.
func (c *Instance) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return normalizeAll(c.vals.Selection.Languages, cases.Lower(language.Und))
}

func (c *Instance) Demote() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Selection.Demote == nil {
		return true
	}
	return *c.vals.Selection.Demote
}

func (c *Instance) Workers() (cpu, io int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Workers.CPU, c.vals.Workers.IO
}

func (c *Instance) ImportOptions() importer.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return importer.Options{Prune: c.vals.Import.Prune}
}

func (c *Instance) ReconcileOptions() reconciler.Options {
	cpu, io := c.Workers()
	opts := reconciler.Options{
		Hashes:     c.Hashes(),
		CPUWorkers: cpu,
		IOWorkers:  io,
		AllowFlat:  c.AllowFlat(),
	}
	if trash := c.TrashPath(); trash != "" {
		opts.Exclude = []string{trash}
	}
	return opts
}

func (c *Instance) SelectOptions() selector.Options {
	return selector.Options{
		Regions:   c.Regions(),
		Languages: c.Languages(),
		Demote:    c.Demote(),
	}
}

func (c *Instance) ConvertOptions() convert.Options {
	cpu, io := c.Workers()
	return convert.Options{
		Hashes:     c.Hashes(),
		CPUWorkers: cpu,
		IOWorkers:  io,
		KeepSource: c.KeepSource(),
		AllowFlat:  c.AllowFlat(),
	}
}

func normalizeAll(list []string, caser cases.Caser) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, caser.String(s))
	}
	return out
}
