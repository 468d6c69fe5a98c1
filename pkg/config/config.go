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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ZaparooProject/zaparoo-curator/pkg/helpers/syncutil"
	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "CURATOR_CFG"
	CfgFile       = "curator.toml"
	DBFile        = "catalog.db"
	LogFile       = "curator.log"
)

type Values struct {
	Library      Library   `toml:"library"`
	Selection    Selection `toml:"selection,omitempty"`
	Hashing      Hashing   `toml:"hashing,omitempty"`
	Database     Database  `toml:"database,omitempty"`
	Import       Import    `toml:"import,omitempty"`
	Workers      Workers   `toml:"workers"`
	ConfigSchema int       `toml:"config_schema"`
	DebugLogging bool      `toml:"debug_logging"`
}

type Library struct {
	AllowFlat *bool  `toml:"allow_flat,omitempty"`
	Root      string `toml:"root"`
	// TrashDir is relative to Root.
	TrashDir      string `toml:"trash_dir,omitempty"`
	DefaultTarget string `toml:"default_target,omitempty" validate:"omitempty,oneof=flat zip cso chd"`
	KeepSource    bool   `toml:"keep_source"`
}

type Selection struct {
	Demote    *bool    `toml:"demote,omitempty"`
	Regions   []string `toml:"regions,omitempty,multiline"`
	Languages []string `toml:"languages,omitempty,multiline"`
}

type Hashing struct {
	Kinds []string `toml:"kinds,omitempty" validate:"dive,oneof=crc32 md5 sha1"`
}

type Workers struct {
	CPU int `toml:"cpu" validate:"min=0"`
	IO  int `toml:"io" validate:"min=0"`
}

type Database struct {
	Path string `toml:"path,omitempty"`
}

type Import struct {
	Prune bool `toml:"prune"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Library: Library{
		TrashDir:      ".trash",
		DefaultTarget: "zip",
	},
	Hashing: Hashing{
		Kinds: []string{"crc32", "sha1"},
	},
	Workers: Workers{
		IO: 16,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Fields missing from the file keep their default values. Slices are
	// copied so decoding never writes into the defaults.
	newVals := c.defaults
	newVals.Hashing.Kinds = slices.Clone(c.defaults.Hashing.Kinds)
	newVals.Selection.Regions = slices.Clone(c.defaults.Selection.Regions)
	newVals.Selection.Languages = slices.Clone(c.defaults.Selection.Languages)
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	if err := validator.New().Struct(newVals); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Path is the config file in use.
func (c *Instance) Path() string {
	return c.cfgPath
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// DatabasePath returns the configured catalog path, or the default file
// next to the config.
func (c *Instance) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Database.Path != "" {
		return c.vals.Database.Path
	}
	return filepath.Join(filepath.Dir(c.cfgPath), DBFile)
}
