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

// Package containers decodes and encodes the physical file formats a library
// stores games in. Every format exposes the same contract: a list of logical
// entries, each readable as a plain byte stream whose content does not depend
// on how it was encoded on disk.
package containers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Entry describes one logical unit inside a container.
type Entry struct {
	Name string
	// CRC32 is the checksum recorded by the container itself, if any. It is a
	// hint for quick rejection and is never trusted for matching.
	CRC32 string
	Size  int64
}

// Reader gives access to the decoded entries of a container.
type Reader interface {
	Kind() Kind
	Entries() []Entry
	// Open returns the decoded stream of the named entry. Reading it to EOF
	// fails with ErrSizeMismatch or ErrCorrupt if the decoded content does
	// not agree with the container's own metadata.
	Open(name string) (io.ReadCloser, error)
	Close() error
}

// Writer encodes entries into a new container. A Writer is owned by a single
// goroutine. Exactly one of Finalize or Abort must be called.
type Writer interface {
	Kind() Kind
	// WriteEntry encodes r as the named entry. The stream must produce
	// exactly size bytes.
	WriteEntry(name string, size int64, r io.Reader) error
	Finalize() error
	// Abort discards any partial output.
	Abort() error
}

// WriterOptions tunes the encoders. Zero values select defaults.
type WriterOptions struct {
	// Level is a flate compression level.
	Level int
	// BlockSize is the CSO block size.
	BlockSize uint32
	// HunkBytes is the CHD hunk size.
	HunkBytes uint32
}

// Open detects the container kind of path and opens it. When allowFlat is
// set, a file with no recognized signature is opened as a flat file;
// otherwise ErrUnsupportedContainer is returned.
func Open(fs afero.Fs, path string, allowFlat bool) (Reader, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		closeQuietly(f, path)
		return nil, fmt.Errorf("failed to get file stats: %w", err)
	}
	if info.IsDir() {
		closeQuietly(f, path)
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedContainer, path)
	}

	kind, err := Detect(f, info.Size())
	if errors.Is(err, ErrUnsupportedContainer) && allowFlat {
		kind, err = KindFlat, nil
	}
	if err != nil {
		closeQuietly(f, path)
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	r, err := openKind(f, filepath.Base(path), info.Size(), kind)
	if err != nil {
		closeQuietly(f, path)
		return nil, err
	}
	return r, nil
}

// OpenKind opens path as the given kind without signature detection.
func OpenKind(fs afero.Fs, path string, kind Kind) (Reader, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		closeQuietly(f, path)
		return nil, fmt.Errorf("failed to get file stats: %w", err)
	}
	r, err := openKind(f, filepath.Base(path), info.Size(), kind)
	if err != nil {
		closeQuietly(f, path)
		return nil, err
	}
	return r, nil
}

func openKind(f afero.File, base string, size int64, kind Kind) (Reader, error) {
	switch kind {
	case KindFlat:
		return newFlatReader(f, base, size), nil
	case KindZip:
		return newZipReader(f, size)
	case Kind7z:
		return newSevenZipReader(f, size)
	case KindCSO:
		return newCSOReader(f, entryName(base, kind), size)
	case KindCHD:
		return newCHDReader(f, entryName(base, kind), size)
	case KindUnknown:
		return nil, ErrUnsupportedContainer
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContainer, kind)
	}
}

// Create opens a new container of the given kind at path. The file must not
// already exist.
func Create(fs afero.Fs, path string, kind Kind, opts WriterOptions) (Writer, error) {
	if !kind.Writable() {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, kind)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	out := &output{fs: fs, f: f, path: path}

	switch kind {
	case KindFlat:
		return &flatWriter{out: out}, nil
	case KindZip:
		return newZipWriter(out, opts), nil
	case KindCSO:
		return newCSOWriter(out, opts), nil
	case KindCHD:
		return newCHDWriter(out, opts), nil
	case Kind7z, KindUnknown:
		_ = out.discard()
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, kind)
	default:
		_ = out.discard()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContainer, kind)
	}
}

// entryName derives the logical entry name of a single-entry disc image from
// its filename. "Game (USA).cso" holds "Game (USA).iso".
func entryName(base string, kind Kind) string {
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	switch kind {
	case KindCSO:
		return stem + ".iso"
	case KindCHD:
		return stem + ".bin"
	case KindFlat, KindZip, Kind7z, KindUnknown:
		return base
	default:
		return base
	}
}

// EntryName exposes the single entry name a disc image at path would report.
func EntryName(path string, kind Kind) string {
	return entryName(filepath.Base(path), kind)
}

// output is the file a writer encodes into.
type output struct {
	fs     afero.Fs
	f      afero.File
	path   string
	closed bool
}

func (o *output) close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.f.Sync(); err != nil {
		_ = o.f.Close()
		return fmt.Errorf("failed to sync %s: %w", o.path, err)
	}
	if err := o.f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", o.path, err)
	}
	return nil
}

func (o *output) discard() error {
	if !o.closed {
		o.closed = true
		_ = o.f.Close()
	}
	if err := o.fs.Remove(o.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial output %s: %w", o.path, err)
	}
	return nil
}

func closeQuietly(c io.Closer, path string) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to close file")
	}
}

// copyExact copies exactly size bytes from r to w. A short or long stream is
// ErrSizeMismatch.
func copyExact(w io.Writer, r io.Reader, size int64) error {
	n, err := io.Copy(w, io.LimitReader(r, size+1))
	if err != nil {
		return fmt.Errorf("failed to copy entry: %w", err)
	}
	if n != size {
		return fmt.Errorf("%w: stream has %s bytes, declared %d", ErrSizeMismatch, countString(n, size), size)
	}
	return nil
}

func countString(n, size int64) string {
	if n > size {
		return fmt.Sprintf("more than %d", size)
	}
	return fmt.Sprintf("%d", n)
}

// sizeCheckedReader fails at EOF if the wrapped stream did not produce the
// expected number of bytes.
type sizeCheckedReader struct {
	r        io.Reader
	c        io.Closer
	expected int64
	n        int64
}

func (s *sizeCheckedReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if s.n > s.expected {
		return n, fmt.Errorf("%w: decoded more than %d bytes", ErrSizeMismatch, s.expected)
	}
	if errors.Is(err, io.EOF) && s.n != s.expected {
		return n, fmt.Errorf("%w: decoded %d bytes, expected %d", ErrSizeMismatch, s.n, s.expected)
	}
	return n, err //nolint:wrapcheck // io.Reader contract
}

func (s *sizeCheckedReader) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close() //nolint:wrapcheck // passthrough
}
