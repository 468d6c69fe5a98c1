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
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/spf13/afero"
)

// CISO v1 layout, all little endian:
//
//	0x00 magic "CISO"
//	0x04 u32 header size (0x18)
//	0x08 u64 uncompressed size
//	0x10 u32 block size
//	0x14 u8  version
//	0x15 u8  index alignment shift
//	0x16 2 reserved bytes
//	0x18 (blocks+1) x u32 index
//
// Each index value is a file position shifted right by the alignment; bit 31
// marks a block stored without compression. Compressed blocks are raw deflate.
const (
	csoHeaderSize       = 0x18
	csoDefaultBlockSize = 2048
	csoPlainFlag        = 0x80000000
	csoPosMask          = 0x7FFFFFFF
)

type csoHeader struct {
	TotalBytes uint64
	BlockSize  uint32
	Version    uint8
	Align      uint8
}

func (h csoHeader) blocks() int64 {
	return int64((h.TotalBytes + uint64(h.BlockSize) - 1) / uint64(h.BlockSize)) //nolint:gosec // bounded by header check
}

type csoReader struct {
	f     afero.File
	name  string
	index []uint32
	hdr   csoHeader
	size  int64
}

func newCSOReader(f afero.File, name string, size int64) (*csoReader, error) {
	buf := make([]byte, csoHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: failed to read cso header: %w", ErrCorrupt, err)
	}
	if !bytes.Equal(buf[:4], magicCSO) {
		return nil, fmt.Errorf("%w: bad cso magic", ErrCorrupt)
	}

	hdr := csoHeader{
		TotalBytes: binary.LittleEndian.Uint64(buf[8:16]),
		BlockSize:  binary.LittleEndian.Uint32(buf[16:20]),
		Version:    buf[20],
		Align:      buf[21],
	}
	if hdr.Version > 1 {
		return nil, fmt.Errorf("%w: cso version %d", ErrUnsupportedVersion, hdr.Version)
	}
	if hdr.BlockSize == 0 || hdr.Align > 31 {
		return nil, fmt.Errorf("%w: bad cso block layout", ErrCorrupt)
	}

	entries := hdr.blocks() + 1
	if entries*4 > size-csoHeaderSize {
		return nil, fmt.Errorf("%w: cso index larger than file", ErrCorrupt)
	}
	raw := make([]byte, entries*4)
	if _, err := f.ReadAt(raw, csoHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: failed to read cso index: %w", ErrCorrupt, err)
	}
	index := make([]uint32, entries)
	for i := range index {
		index[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}

	return &csoReader{f: f, name: name, hdr: hdr, index: index, size: size}, nil
}

func (*csoReader) Kind() Kind { return KindCSO }

func (r *csoReader) Entries() []Entry {
	return []Entry{{Name: r.name, Size: int64(r.hdr.TotalBytes)}} //nolint:gosec // bounded by header check
}

func (r *csoReader) Open(name string) (io.ReadCloser, error) {
	if name != r.name {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return &csoStream{r: r}, nil
}

func (r *csoReader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close cso: %w", err)
	}
	return nil
}

// csoStream decodes blocks in order.
type csoStream struct {
	r     *csoReader
	fr    io.ReadCloser
	buf   []byte
	raw   []byte
	pos   int
	block int64
}

func (s *csoStream) Read(p []byte) (int, error) {
	if s.pos >= len(s.buf) {
		if s.block >= s.r.hdr.blocks() {
			return 0, io.EOF
		}
		if err := s.decode(s.block); err != nil {
			return 0, err
		}
		s.block++
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += n
	return n, nil
}

func (s *csoStream) decode(i int64) error {
	h := s.r.hdr
	want := int64(h.BlockSize)
	if i == h.blocks()-1 {
		if rem := int64(h.TotalBytes) % want; rem != 0 { //nolint:gosec // bounded by header check
			want = rem
		}
	}

	plain := s.r.index[i]&csoPlainFlag != 0
	start := int64(s.r.index[i]&csoPosMask) << h.Align
	end := int64(s.r.index[i+1]&csoPosMask) << h.Align
	if end < start || end > s.r.size {
		return fmt.Errorf("%w: cso block %d out of range", ErrCorrupt, i)
	}

	if int64(cap(s.raw)) < end-start {
		s.raw = make([]byte, end-start)
	}
	s.raw = s.raw[:end-start]
	if _, err := s.r.f.ReadAt(s.raw, start); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read cso block %d: %w", i, err)
	}

	if int64(cap(s.buf)) < want {
		s.buf = make([]byte, want)
	}
	s.buf = s.buf[:want]
	s.pos = 0

	if plain {
		if int64(len(s.raw)) < want {
			return fmt.Errorf("%w: short plain cso block %d", ErrCorrupt, i)
		}
		copy(s.buf, s.raw[:want])
		return nil
	}

	if s.fr == nil {
		s.fr = flate.NewReader(bytes.NewReader(s.raw))
	} else if err := s.fr.(flate.Resetter).Reset(bytes.NewReader(s.raw), nil); err != nil {
		return fmt.Errorf("%w: cso block %d: %w", ErrCorrupt, i, err)
	}
	if _, err := io.ReadFull(s.fr, s.buf); err != nil {
		return fmt.Errorf("%w: failed to inflate cso block %d: %w", ErrCorrupt, i, err)
	}
	return nil
}

func (s *csoStream) Close() error {
	if s.fr == nil {
		return nil
	}
	return s.fr.Close() //nolint:wrapcheck // passthrough
}

type csoWriter struct {
	out       *output
	level     int
	blockSize uint32
	written   bool
}

func newCSOWriter(out *output, opts WriterOptions) *csoWriter {
	level := opts.Level
	if level == 0 {
		level = flate.BestCompression
	}
	bs := opts.BlockSize
	if bs == 0 {
		bs = csoDefaultBlockSize
	}
	return &csoWriter{out: out, level: level, blockSize: bs}
}

func (*csoWriter) Kind() Kind { return KindCSO }

// csoAlign picks the smallest shift that keeps every block position within
// 31 bits for a worst case image: every block stored plain plus padding.
func csoAlign(dataStart, size, blocks int64) uint8 {
	var align uint8
	for (dataStart+size+blocks<<align)>>align > csoPosMask {
		align++
	}
	return align
}

func (w *csoWriter) WriteEntry(_ string, size int64, r io.Reader) error {
	if w.written {
		return ErrSingleEntry
	}
	w.written = true
	if size < 0 {
		return fmt.Errorf("%w: negative size", ErrSizeMismatch)
	}

	hdr := csoHeader{TotalBytes: uint64(size), BlockSize: w.blockSize, Version: 1}
	blocks := hdr.blocks()
	index := make([]uint32, blocks+1)
	dataStart := int64(csoHeaderSize) + int64(len(index))*4
	hdr.Align = csoAlign(dataStart, size, blocks)
	alignMask := int64(1)<<hdr.Align - 1

	if _, err := w.out.f.Seek(dataStart, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek cso data: %w", err)
	}
	bw := bufio.NewWriter(w.out.f)

	var comp bytes.Buffer
	fw, err := flate.NewWriter(&comp, w.level)
	if err != nil {
		return fmt.Errorf("failed to create deflate writer: %w", err)
	}
	block := make([]byte, w.blockSize)
	pos := dataStart

	for i := range blocks {
		want := int64(w.blockSize)
		if i == blocks-1 {
			if rem := size % want; rem != 0 {
				want = rem
			}
		}
		if _, err := io.ReadFull(r, block[:want]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: stream ended in block %d, declared %d bytes", ErrSizeMismatch, i, size)
			}
			return fmt.Errorf("failed to read cso source: %w", err)
		}

		comp.Reset()
		fw.Reset(&comp)
		if _, err := fw.Write(block[:want]); err != nil {
			return fmt.Errorf("failed to deflate block %d: %w", i, err)
		}
		if err := fw.Close(); err != nil {
			return fmt.Errorf("failed to deflate block %d: %w", i, err)
		}

		data := comp.Bytes()
		entry := uint32(pos >> hdr.Align) //nolint:gosec // bounded by csoAlign
		if int64(len(data)) >= want {
			data = block[:want]
			entry |= csoPlainFlag
		}
		index[i] = entry

		if _, err := bw.Write(data); err != nil {
			return fmt.Errorf("failed to write cso block %d: %w", i, err)
		}
		pos += int64(len(data))
		if pad := (alignMask + 1 - pos&alignMask) & alignMask; pad > 0 {
			if _, err := bw.Write(make([]byte, pad)); err != nil {
				return fmt.Errorf("failed to pad cso block %d: %w", i, err)
			}
			pos += pad
		}
	}
	index[blocks] = uint32(pos >> hdr.Align) //nolint:gosec // bounded by csoAlign

	if n, _ := io.CopyN(io.Discard, r, 1); n > 0 {
		return fmt.Errorf("%w: stream longer than declared %d bytes", ErrSizeMismatch, size)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush cso data: %w", err)
	}

	head := make([]byte, dataStart)
	copy(head, magicCSO)
	binary.LittleEndian.PutUint32(head[4:], csoHeaderSize)
	binary.LittleEndian.PutUint64(head[8:], hdr.TotalBytes)
	binary.LittleEndian.PutUint32(head[16:], hdr.BlockSize)
	head[20] = hdr.Version
	head[21] = hdr.Align
	for i, v := range index {
		binary.LittleEndian.PutUint32(head[csoHeaderSize+i*4:], v)
	}
	if _, err := w.out.f.WriteAt(head, 0); err != nil {
		return fmt.Errorf("failed to write cso index: %w", err)
	}
	return nil
}

func (w *csoWriter) Finalize() error {
	if !w.written {
		_ = w.out.discard()
		return fmt.Errorf("%w: no entry written", ErrSingleEntry)
	}
	return w.out.close()
}

func (w *csoWriter) Abort() error {
	return w.out.discard()
}
