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
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// zipEpoch is stamped on every written entry so identical content always
// produces an identical archive.
var zipEpoch = time.Date(1996, time.December, 24, 23, 32, 0, 0, time.UTC)

type zipReader struct {
	f     afero.File
	zr    *zip.Reader
	files map[string]*zip.File
	list  []Entry
}

func newZipReader(f afero.File, size int64) (*zipReader, error) {
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open zip: %w", ErrCorrupt, err)
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	r := &zipReader{f: f, zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if _, dup := r.files[zf.Name]; dup {
			log.Warn().Str("path", f.Name()).Str("entry", zf.Name).
				Msg("ignoring repeated zip entry, first one wins")
			continue
		}
		r.files[zf.Name] = zf
		r.list = append(r.list, Entry{
			Name:  zf.Name,
			Size:  int64(zf.UncompressedSize64), //nolint:gosec // bounded by archive size
			CRC32: fmt.Sprintf("%08x", zf.CRC32),
		})
	}
	sort.Slice(r.list, func(i, j int) bool { return r.list[i].Name < r.list[j].Name })
	return r, nil
}

func (*zipReader) Kind() Kind { return KindZip }

func (r *zipReader) Entries() []Entry {
	return r.list
}

func (r *zipReader) Open(name string) (io.ReadCloser, error) {
	zf, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file in zip: %w", err)
	}
	return &sizeCheckedReader{
		r:        rc,
		c:        rc,
		expected: int64(zf.UncompressedSize64), //nolint:gosec // bounded by archive size
	}, nil
}

func (r *zipReader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close zip: %w", err)
	}
	return nil
}

type zipWriter struct {
	out   *output
	zw    *zip.Writer
	names map[string]struct{}
}

func newZipWriter(out *output, opts WriterOptions) *zipWriter {
	level := opts.Level
	if level == 0 {
		level = flate.BestCompression
	}
	zw := zip.NewWriter(out.f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	return &zipWriter{out: out, zw: zw, names: make(map[string]struct{})}
}

func (*zipWriter) Kind() Kind { return KindZip }

func (w *zipWriter) WriteEntry(name string, size int64, r io.Reader) error {
	if _, dup := w.names[name]; dup {
		return fmt.Errorf("duplicate zip entry: %s", name)
	}
	w.names[name] = struct{}{}

	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: zipEpoch,
	}
	ew, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}
	return copyExact(ew, r, size)
}

func (w *zipWriter) Finalize() error {
	if err := w.zw.Close(); err != nil {
		_ = w.out.discard()
		return fmt.Errorf("failed to finalize zip: %w", err)
	}
	return w.out.close()
}

func (w *zipWriter) Abort() error {
	return w.out.discard()
}
