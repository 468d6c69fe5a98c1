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

package containers

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
)

type flatReader struct {
	f    afero.File
	name string
	size int64
}

func newFlatReader(f afero.File, name string, size int64) *flatReader {
	return &flatReader{f: f, name: name, size: size}
}

func (*flatReader) Kind() Kind { return KindFlat }

func (r *flatReader) Entries() []Entry {
	return []Entry{{Name: r.name, Size: r.size}}
}

func (r *flatReader) Open(name string) (io.ReadCloser, error) {
	if name != r.name {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return io.NopCloser(io.NewSectionReader(r.f, 0, r.size)), nil
}

func (r *flatReader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

type flatWriter struct {
	out     *output
	written bool
}

func (*flatWriter) Kind() Kind { return KindFlat }

func (w *flatWriter) WriteEntry(_ string, size int64, r io.Reader) error {
	if w.written {
		return ErrSingleEntry
	}
	w.written = true
	return copyExact(w.out.f, r, size)
}

func (w *flatWriter) Finalize() error {
	if !w.written {
		_ = w.out.discard()
		return fmt.Errorf("%w: no entry written", ErrSingleEntry)
	}
	return w.out.close()
}

func (w *flatWriter) Abort() error {
	return w.out.discard()
}
