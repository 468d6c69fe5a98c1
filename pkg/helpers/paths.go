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

package helpers

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
)

const (
	// AppEnv overrides the executable path used to find a portable install.
	AppEnv  = "CURATOR_APP"
	UserDir = "user"
	AppName = "zaparoo-curator"
)

var (
	userDirOnce  sync.Once
	userDirCache string
)

// HasUserDir reports a "user" directory next to the executable, which
// holds all config and data for a portable install. The result is cached.
func HasUserDir() (string, bool) {
	userDirOnce.Do(func() {
		exe := os.Getenv(AppEnv)
		if exe == "" {
			var err error
			exe, err = os.Executable()
			if err != nil {
				return
			}
		}

		dir := filepath.Join(filepath.Dir(exe), UserDir)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			userDirCache = dir
		}
	})
	return userDirCache, userDirCache != ""
}

// ConfigDir is where the config file and catalog live by default.
func ConfigDir() string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	return filepath.Join(xdg.ConfigHome, AppName)
}

// LogDir is where rotated log files are written.
func LogDir() string {
	if v, ok := HasUserDir(); ok {
		return filepath.Join(v, "logs")
	}
	return filepath.Join(xdg.StateHome, AppName, "logs")
}
