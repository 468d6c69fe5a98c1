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
	"sort"

	"github.com/bodgit/sevenzip"
	"github.com/spf13/afero"
)

// 7z archives are decoded only. Nothing in the library is ever written as 7z.
type sevenZipReader struct {
	f     afero.File
	sr    *sevenzip.Reader
	files map[string]*sevenzip.File
	list  []Entry
}

func newSevenZipReader(f afero.File, size int64) (*sevenZipReader, error) {
	sr, err := sevenzip.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open 7z: %w", ErrCorrupt, err)
	}

	r := &sevenZipReader{f: f, sr: sr, files: make(map[string]*sevenzip.File, len(sr.File))}
	for _, sf := range sr.File {
		if sf.FileInfo().IsDir() {
			continue
		}
		if _, dup := r.files[sf.Name]; dup {
			continue
		}
		r.files[sf.Name] = sf
		r.list = append(r.list, Entry{
			Name:  sf.Name,
			Size:  int64(sf.UncompressedSize), //nolint:gosec // bounded by archive size
			CRC32: fmt.Sprintf("%08x", sf.CRC32),
		})
	}
	sort.Slice(r.list, func(i, j int) bool { return r.list[i].Name < r.list[j].Name })
	return r, nil
}

func (*sevenZipReader) Kind() Kind { return Kind7z }

func (r *sevenZipReader) Entries() []Entry {
	return r.list
}

func (r *sevenZipReader) Open(name string) (io.ReadCloser, error) {
	sf, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	rc, err := sf.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file in 7z: %w", err)
	}
	return &sizeCheckedReader{
		r:        rc,
		c:        rc,
		expected: int64(sf.UncompressedSize), //nolint:gosec // bounded by archive size
	}, nil
}

func (r *sevenZipReader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close 7z: %w", err)
	}
	return nil
}
