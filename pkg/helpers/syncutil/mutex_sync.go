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

//go:build !deadlock

// Package syncutil holds the mutexes used across curator. Building with
// -tags=deadlock swaps in go-deadlock so lock order bugs in the store and
// config show up during development.
package syncutil

import "sync"

const DeadlockEnabled = false

//nolint:gocritic // the embedded mutex is the whole point of the wrapper
type Mutex struct {
	sync.Mutex //nolint:forbidigo // only place sync.Mutex is allowed
}

//nolint:gocritic // the embedded mutex is the whole point of the wrapper
type RWMutex struct {
	sync.RWMutex //nolint:forbidigo // only place sync.RWMutex is allowed
}
