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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-curator/pkg/containers"
	"github.com/ZaparooProject/zaparoo-curator/pkg/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CfgFile), []byte(content), 0o600))
	return dir
}

func TestNewConfig_WritesDefaults(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested")

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, CfgFile))
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	assert.Equal(t, containers.KindZip, cfg.DefaultTarget())
	assert.Equal(t, fingerprint.SetCRC32|fingerprint.SetSHA1, cfg.Hashes())
	assert.Equal(t, ".trash", cfg.TrashDir())
	assert.Empty(t, cfg.TrashPath(), "no library root configured")
	assert.True(t, cfg.AllowFlat())
	assert.True(t, cfg.Demote())
	assert.Equal(t, filepath.Join(dir, DBFile), cfg.DatabasePath())
}

func TestLoad_FileValues(t *testing.T) {
	t.Parallel()
	dir := writeConfig(t, `
config_schema = 1

[library]
root = "/roms/snes"
trash_dir = "junk"
default_target = "chd"
keep_source = true
allow_flat = false

[selection]
regions = ["usa", " eur ", ""]
languages = ["EN", "Fr"]
demote = false

[hashing]
kinds = ["crc32", "md5"]

[workers]
cpu = 3
io = 4

[database]
path = "/var/lib/curator/catalog.db"

[import]
prune = true
`)
	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, "/roms/snes", cfg.LibraryRoot())
	assert.Equal(t, filepath.Join("/roms/snes", "junk"), cfg.TrashPath())
	assert.Equal(t, containers.KindCHD, cfg.DefaultTarget())
	assert.Equal(t, []string{"USA", "EUR"}, cfg.Regions())
	assert.Equal(t, []string{"en", "fr"}, cfg.Languages())
	assert.Equal(t, "/var/lib/curator/catalog.db", cfg.DatabasePath())

	rec := cfg.ReconcileOptions()
	assert.Equal(t, fingerprint.SetCRC32|fingerprint.SetMD5, rec.Hashes)
	assert.Equal(t, 3, rec.CPUWorkers)
	assert.Equal(t, 4, rec.IOWorkers)
	assert.False(t, rec.AllowFlat)
	assert.Equal(t, []string{filepath.Join("/roms/snes", "junk")}, rec.Exclude)

	sel := cfg.SelectOptions()
	assert.False(t, sel.Demote)
	assert.Equal(t, []string{"USA", "EUR"}, sel.Regions)

	conv := cfg.ConvertOptions()
	assert.True(t, conv.KeepSource)
	assert.False(t, conv.AllowFlat)
	assert.Equal(t, 3, conv.CPUWorkers)

	assert.True(t, cfg.ImportOptions().Prune)
}

func TestLoad_MissingFieldsKeepDefaults(t *testing.T) {
	t.Parallel()
	dir := writeConfig(t, "config_schema = 1\n")

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)
	cpu, io := cfg.Workers()
	assert.Equal(t, 0, cpu)
	assert.Equal(t, 16, io)
	assert.Equal(t, []string{"crc32", "sha1"}, BaseDefaults.Hashing.Kinds, "defaults are never modified")
}

func TestLoad_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "schema mismatch", content: "config_schema = 2\n"},
		{name: "bad toml", content: "config_schema = \n"},
		{name: "unknown target", content: "config_schema = 1\n[library]\ndefault_target = \"7z\"\n"},
		{name: "unknown hash", content: "config_schema = 1\n[hashing]\nkinds = [\"sha256\"]\n"},
		{name: "negative workers", content: "config_schema = 1\n[workers]\ncpu = -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfig(writeConfig(t, tt.content), BaseDefaults)
			assert.Error(t, err)
		})
	}
}

func TestHashes_ForcesCryptographicDigest(t *testing.T) {
	t.Parallel()
	cfg := &Instance{vals: Values{Hashing: Hashing{Kinds: []string{"crc32"}}}}
	assert.Equal(t, fingerprint.SetCRC32|fingerprint.SetSHA1, cfg.Hashes())
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	cfg.SetLibraryRoot("/roms")
	cfg.SetRegions([]string{"JPN"})
	require.NoError(t, cfg.Save())

	again, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, "/roms", again.LibraryRoot())
	assert.Equal(t, []string{"JPN"}, again.Regions())
}

// Getters must not take the lock recursively.
func TestOptions_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	cfg := &Instance{}

	done := make(chan struct{})
	for range 10 {
		go func() {
			for range 100 {
				_ = cfg.ReconcileOptions()
				_ = cfg.SelectOptions()
				_ = cfg.ConvertOptions()
				cfg.SetRegions([]string{"usa"})
			}
			done <- struct{}{}
		}()
	}

	for range 10 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent access deadlocked")
		}
	}
}
