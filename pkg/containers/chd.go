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
	"crypto/sha1" //nolint:gosec // part of the CHD format
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/spf13/afero"
)

// CHD (MAME "Compressed Hunks of Data") images. Versions 3 and 4 share a map
// of fixed 16 byte entries directly after the header and compress hunks with
// raw deflate; this package writes version 4. Version 5 names up to four
// compressors and usually huffman codes its map. CD images expose one entry
// per track.
const (
	chdHeaderSizeV3 = 120
	chdHeaderSizeV4 = 108
	chdHeaderSizeV5 = 124

	chdMapEntrySize = 16

	chdCompressionNone     = 0
	chdCompressionZlib     = 1
	chdCompressionZlibPlus = 2

	chdFlagHasParent = 0x01

	chdDefaultHunkBytes = 8 * 2448
	chdMaxHunkBytes     = 1<<24 - 1
)

const (
	chdMapCompressed   = 1
	chdMapUncompressed = 2
	chdMapMini         = 3
	chdMapSelfHunk     = 4
	chdMapParentHunk   = 5

	chdMapTypeMask = 0x0F
	chdMapNoCRC    = 0x10
)

var chdMapCookie = []byte("EndOfListCookie\x00")

type chdHeader struct {
	Compressors  [4]uint32
	RawSHA1      [20]byte
	SHA1         [20]byte
	ParentSHA1   [20]byte
	LogicalBytes uint64
	MapOffset    uint64
	MetaOffset   uint64
	HeaderSize   uint32
	Version      uint32
	Flags        uint32
	Compression  uint32
	TotalHunks   uint32
	HunkBytes    uint32
	UnitBytes    uint32
}

func parseCHDHeader(r io.ReaderAt) (chdHeader, error) {
	var h chdHeader
	buf := make([]byte, 16)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return h, fmt.Errorf("%w: failed to read chd header: %w", ErrCorrupt, err)
	}
	if !bytes.Equal(buf[:8], magicCHD) {
		return h, fmt.Errorf("%w: bad chd magic", ErrCorrupt)
	}
	h.HeaderSize = binary.BigEndian.Uint32(buf[8:12])
	h.Version = binary.BigEndian.Uint32(buf[12:16])

	var want uint32
	switch h.Version {
	case 3:
		want = chdHeaderSizeV3
	case 4:
		want = chdHeaderSizeV4
	case 5:
		want = chdHeaderSizeV5
	default:
		return h, fmt.Errorf("%w: chd version %d", ErrUnsupportedVersion, h.Version)
	}
	if h.HeaderSize < want {
		return h, fmt.Errorf("%w: chd header size %d", ErrCorrupt, h.HeaderSize)
	}

	buf = make([]byte, want)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return h, fmt.Errorf("%w: failed to read chd header: %w", ErrCorrupt, err)
	}
	be := binary.BigEndian

	switch h.Version {
	case 3:
		h.Flags = be.Uint32(buf[0x10:])
		h.Compression = be.Uint32(buf[0x14:])
		h.TotalHunks = be.Uint32(buf[0x18:])
		h.LogicalBytes = be.Uint64(buf[0x1C:])
		h.MetaOffset = be.Uint64(buf[0x24:])
		h.HunkBytes = be.Uint32(buf[0x4C:])
		copy(h.SHA1[:], buf[0x50:0x64])
		copy(h.ParentSHA1[:], buf[0x64:0x78])
		h.MapOffset = uint64(h.HeaderSize)
	case 4:
		h.Flags = be.Uint32(buf[0x10:])
		h.Compression = be.Uint32(buf[0x14:])
		h.TotalHunks = be.Uint32(buf[0x18:])
		h.LogicalBytes = be.Uint64(buf[0x1C:])
		h.MetaOffset = be.Uint64(buf[0x24:])
		h.HunkBytes = be.Uint32(buf[0x2C:])
		copy(h.SHA1[:], buf[0x30:0x44])
		copy(h.ParentSHA1[:], buf[0x44:0x58])
		copy(h.RawSHA1[:], buf[0x58:0x6C])
		h.MapOffset = uint64(h.HeaderSize)
	case 5:
		for i := range h.Compressors {
			h.Compressors[i] = be.Uint32(buf[0x10+i*4:])
		}
		h.LogicalBytes = be.Uint64(buf[0x20:])
		h.MapOffset = be.Uint64(buf[0x28:])
		h.MetaOffset = be.Uint64(buf[0x30:])
		h.HunkBytes = be.Uint32(buf[0x38:])
		h.UnitBytes = be.Uint32(buf[0x3C:])
		copy(h.RawSHA1[:], buf[0x40:0x54])
		copy(h.SHA1[:], buf[0x54:0x68])
		copy(h.ParentSHA1[:], buf[0x68:0x7C])
		if h.HunkBytes > 0 {
			h.TotalHunks = uint32((h.LogicalBytes + uint64(h.HunkBytes) - 1) / uint64(h.HunkBytes)) //nolint:gosec // bounded below
		}
	}

	if h.HunkBytes == 0 || h.HunkBytes > chdMaxHunkBytes {
		return h, fmt.Errorf("%w: chd hunk size %d", ErrCorrupt, h.HunkBytes)
	}
	if uint64(h.TotalHunks)*uint64(h.HunkBytes) < h.LogicalBytes {
		return h, fmt.Errorf("%w: chd hunks do not cover logical size", ErrCorrupt)
	}
	if h.Flags&chdFlagHasParent != 0 || h.ParentSHA1 != [20]byte{} {
		return h, fmt.Errorf("%w: chd with parent image", ErrUnsupportedContainer)
	}
	return h, nil
}

type chdHunk struct {
	offset uint64
	length uint32
	crc    uint32
	typ    uint8
	codec  uint8
	noCRC  bool
	crc16  bool
}

type chdReader struct {
	f      afero.File
	name   string
	hunk   []chdHunk
	tracks []chdTrack
	hdr    chdHeader
	size   int64
	tags   [4]uint32
}

func newCHDReader(f afero.File, name string, size int64) (*chdReader, error) {
	hdr, err := parseCHDHeader(f)
	if err != nil {
		return nil, err
	}

	r := &chdReader{f: f, name: name, hdr: hdr, size: size}
	switch hdr.Version {
	case 3, 4:
		switch hdr.Compression {
		case chdCompressionNone:
		case chdCompressionZlib, chdCompressionZlibPlus:
			r.tags[0] = chdCodecZlib
		default:
			return nil, fmt.Errorf("%w: chd compression %d", ErrUnsupportedContainer, hdr.Compression)
		}
		err = r.readMapV4()
	case 5:
		for _, tag := range hdr.Compressors {
			if tag == 0 {
				continue
			}
			if _, err := newHunkCodec(tag, hdr.HunkBytes); err != nil {
				return nil, err
			}
		}
		r.tags = hdr.Compressors
		if hdr.Compressors[0] == 0 {
			err = r.readMapV5()
		} else {
			err = r.readMapV5Compressed()
		}
	}
	if err != nil {
		return nil, err
	}

	if r.tracks, err = r.readTracks(); err != nil {
		return nil, err
	}
	nameTracks(r.tracks, name)
	return r, nil
}

func (r *chdReader) readMapV4() error {
	n := int64(r.hdr.TotalHunks)
	if int64(r.hdr.MapOffset)+n*chdMapEntrySize > r.size { //nolint:gosec // map offset is the header size
		return fmt.Errorf("%w: chd map larger than file", ErrCorrupt)
	}
	raw := make([]byte, n*chdMapEntrySize)
	if _, err := r.f.ReadAt(raw, int64(r.hdr.MapOffset)); err != nil { //nolint:gosec // checked above
		return fmt.Errorf("%w: failed to read chd map: %w", ErrCorrupt, err)
	}

	r.hunk = make([]chdHunk, n)
	for i := range r.hunk {
		e := raw[i*chdMapEntrySize:]
		flags := e[15]
		r.hunk[i] = chdHunk{
			offset: binary.BigEndian.Uint64(e[0:]),
			crc:    binary.BigEndian.Uint32(e[8:]),
			length: uint32(binary.BigEndian.Uint16(e[12:])) | uint32(e[14])<<16,
			typ:    flags & chdMapTypeMask,
			noCRC:  flags&chdMapNoCRC != 0,
		}
	}
	return nil
}

func (r *chdReader) readMapV5() error {
	n := int64(r.hdr.TotalHunks)
	if int64(r.hdr.MapOffset)+n*4 > r.size { //nolint:gosec // bounded by file size check
		return fmt.Errorf("%w: chd map larger than file", ErrCorrupt)
	}
	raw := make([]byte, n*4)
	if _, err := r.f.ReadAt(raw, int64(r.hdr.MapOffset)); err != nil { //nolint:gosec // checked above
		return fmt.Errorf("%w: failed to read chd map: %w", ErrCorrupt, err)
	}

	r.hunk = make([]chdHunk, n)
	for i := range r.hunk {
		block := binary.BigEndian.Uint32(raw[i*4:])
		h := chdHunk{typ: chdMapUncompressed, length: r.hdr.HunkBytes, noCRC: true}
		if block == 0 {
			// unallocated hunks read as zeros
			h.typ = chdMapMini
		} else {
			h.offset = uint64(block) * uint64(r.hdr.HunkBytes)
		}
		r.hunk[i] = h
	}
	return nil
}

func (*chdReader) Kind() Kind { return KindCHD }

func (r *chdReader) Entries() []Entry {
	if len(r.tracks) > 0 {
		entries := make([]Entry, len(r.tracks))
		for i, t := range r.tracks {
			entries[i] = Entry{Name: t.name, Size: t.size()}
		}
		return entries
	}
	return []Entry{{Name: r.name, Size: int64(r.hdr.LogicalBytes)}} //nolint:gosec // bounded by hunk map
}

func (r *chdReader) Open(name string) (io.ReadCloser, error) {
	if len(r.tracks) > 0 {
		for _, t := range r.tracks {
			if t.name == name {
				return &chdTrackStream{cur: newCHDCursor(r), t: t}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	if name != r.name {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	s := &chdStream{r: r, dec: &chdDecoder{r: r}, remaining: int64(r.hdr.LogicalBytes)} //nolint:gosec // bounded by hunk map
	if r.hdr.RawSHA1 != [20]byte{} {
		s.sha = sha1.New() //nolint:gosec // part of the CHD format
	}
	return s, nil
}

func (r *chdReader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close chd: %w", err)
	}
	return nil
}

// readHunk decodes hunk i into dst, which must be HunkBytes long.
func (r *chdReader) readHunk(i uint32, dst []byte, dec *chdDecoder) error {
	h := r.hunk[i]
	switch h.typ {
	case chdMapCompressed:
		c, err := dec.codec(h.codec)
		if err != nil {
			return fmt.Errorf("chd hunk %d: %w", i, err)
		}
		raw, err := r.readRaw(i, h)
		if err != nil {
			return err
		}
		if err := c.decode(dst, raw); err != nil {
			return fmt.Errorf("%w: chd hunk %d: %w", ErrCorrupt, i, err)
		}
	case chdMapUncompressed:
		raw, err := r.readRaw(i, chdHunk{offset: h.offset, length: r.hdr.HunkBytes})
		if err != nil {
			return err
		}
		copy(dst, raw)
	case chdMapMini:
		var pattern [8]byte
		binary.BigEndian.PutUint64(pattern[:], h.offset)
		for j := range dst {
			dst[j] = pattern[j%8]
		}
	case chdMapSelfHunk:
		// references only ever point backwards, so this terminates
		if h.offset >= uint64(i) {
			return fmt.Errorf("%w: bad self reference in chd hunk %d", ErrCorrupt, i)
		}
		return r.readHunk(uint32(h.offset), dst, dec) //nolint:gosec // checked above
	case chdMapParentHunk:
		return fmt.Errorf("%w: chd parent hunk %d", ErrUnsupportedContainer, i)
	default:
		return fmt.Errorf("%w: chd hunk %d has type %d", ErrCorrupt, i, h.typ)
	}

	switch {
	case h.noCRC:
	case h.crc16:
		if crc16(dst) != uint16(h.crc) { //nolint:gosec // 16 bit crc
			return fmt.Errorf("%w: chd hunk %d crc mismatch", ErrCorrupt, i)
		}
	case crc32.ChecksumIEEE(dst) != h.crc:
		return fmt.Errorf("%w: chd hunk %d crc mismatch", ErrCorrupt, i)
	}
	return nil
}

func (r *chdReader) readRaw(i uint32, h chdHunk) ([]byte, error) {
	end := h.offset + uint64(h.length)
	if end > uint64(r.size) { //nolint:gosec // size is non-negative
		return nil, fmt.Errorf("%w: chd hunk %d out of range", ErrCorrupt, i)
	}
	raw := make([]byte, h.length)
	if _, err := r.f.ReadAt(raw, int64(h.offset)); err != nil && !errors.Is(err, io.EOF) { //nolint:gosec // checked above
		return nil, fmt.Errorf("failed to read chd hunk %d: %w", i, err)
	}
	return raw, nil
}

type chdStream struct {
	r         *chdReader
	dec       *chdDecoder
	sha       hash.Hash
	buf       []byte
	pos       int
	remaining int64
	next      uint32
}

func (s *chdStream) Read(p []byte) (int, error) {
	if s.pos >= len(s.buf) {
		if s.remaining == 0 {
			if s.sha != nil && !bytes.Equal(s.sha.Sum(nil), s.r.hdr.RawSHA1[:]) {
				return 0, fmt.Errorf("%w: chd raw sha1 mismatch", ErrCorrupt)
			}
			return 0, io.EOF
		}
		if err := s.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.buf[s.pos:])
	s.pos += n
	return n, nil
}

func (s *chdStream) fill() error {
	hb := int64(s.r.hdr.HunkBytes)
	if s.buf == nil {
		s.buf = make([]byte, hb)
	}
	full := s.buf[:hb]
	if err := s.r.readHunk(s.next, full, s.dec); err != nil {
		return err
	}
	s.next++

	take := min(hb, s.remaining)
	s.buf = full[:take]
	s.pos = 0
	s.remaining -= take
	if s.sha != nil {
		s.sha.Write(s.buf)
	}
	return nil
}

func (s *chdStream) Close() error {
	s.dec.close()
	return nil
}

type chdWriter struct {
	out       *output
	level     int
	hunkBytes uint32
	written   bool
}

func newCHDWriter(out *output, opts WriterOptions) *chdWriter {
	level := opts.Level
	if level == 0 {
		level = flate.BestCompression
	}
	hb := opts.HunkBytes
	if hb == 0 || hb > chdMaxHunkBytes {
		hb = chdDefaultHunkBytes
	}
	return &chdWriter{out: out, level: level, hunkBytes: hb}
}

func (*chdWriter) Kind() Kind { return KindCHD }

func (w *chdWriter) WriteEntry(_ string, size int64, r io.Reader) error {
	if w.written {
		return ErrSingleEntry
	}
	w.written = true
	if size < 0 {
		return fmt.Errorf("%w: negative size", ErrSizeMismatch)
	}

	hb := int64(w.hunkBytes)
	hunks := (size + hb - 1) / hb
	if hunks > int64(^uint32(0)) {
		return fmt.Errorf("%w: image too large for chd", ErrSizeMismatch)
	}
	mapEnd := int64(chdHeaderSizeV4) + hunks*chdMapEntrySize
	dataStart := mapEnd + int64(len(chdMapCookie))

	if _, err := w.out.f.Seek(dataStart, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek chd data: %w", err)
	}
	bw := bufio.NewWriter(w.out.f)

	var comp bytes.Buffer
	fw, err := flate.NewWriter(&comp, w.level)
	if err != nil {
		return fmt.Errorf("failed to create deflate writer: %w", err)
	}
	rawSHA := sha1.New() //nolint:gosec // part of the CHD format
	hunk := make([]byte, hb)
	entries := make([]byte, hunks*chdMapEntrySize)
	pos := dataStart
	remaining := size

	for i := range hunks {
		take := min(hb, remaining)
		if _, err := io.ReadFull(r, hunk[:take]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: stream ended in hunk %d, declared %d bytes", ErrSizeMismatch, i, size)
			}
			return fmt.Errorf("failed to read chd source: %w", err)
		}
		clear(hunk[take:])
		remaining -= take
		rawSHA.Write(hunk[:take])

		comp.Reset()
		fw.Reset(&comp)
		if _, err := fw.Write(hunk); err != nil {
			return fmt.Errorf("failed to deflate hunk %d: %w", i, err)
		}
		if err := fw.Close(); err != nil {
			return fmt.Errorf("failed to deflate hunk %d: %w", i, err)
		}

		data, typ := comp.Bytes(), uint8(chdMapCompressed)
		if int64(len(data)) >= hb {
			data, typ = hunk, chdMapUncompressed
		}

		e := entries[i*chdMapEntrySize:]
		binary.BigEndian.PutUint64(e[0:], uint64(pos)) //nolint:gosec // positive
		binary.BigEndian.PutUint32(e[8:], crc32.ChecksumIEEE(hunk))
		// 24 bit length split into u16 + u8
		binary.BigEndian.PutUint16(e[12:], uint16(len(data))) //nolint:gosec // low 16 bits
		e[14] = uint8(len(data) >> 16)                        //nolint:gosec // high 8 bits
		e[15] = typ

		if _, err := bw.Write(data); err != nil {
			return fmt.Errorf("failed to write chd hunk %d: %w", i, err)
		}
		pos += int64(len(data))
	}

	if n, _ := io.CopyN(io.Discard, r, 1); n > 0 {
		return fmt.Errorf("%w: stream longer than declared %d bytes", ErrSizeMismatch, size)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush chd data: %w", err)
	}

	var raw [20]byte
	copy(raw[:], rawSHA.Sum(nil))
	// with no metadata the overall hash covers the raw hash alone
	overall := sha1.Sum(raw[:]) //nolint:gosec // part of the CHD format

	head := make([]byte, dataStart)
	copy(head, magicCHD)
	binary.BigEndian.PutUint32(head[0x08:], chdHeaderSizeV4)
	binary.BigEndian.PutUint32(head[0x0C:], 4)
	binary.BigEndian.PutUint32(head[0x10:], 0)
	binary.BigEndian.PutUint32(head[0x14:], chdCompressionZlib)
	binary.BigEndian.PutUint32(head[0x18:], uint32(hunks)) //nolint:gosec // checked above
	binary.BigEndian.PutUint64(head[0x1C:], uint64(size))
	binary.BigEndian.PutUint64(head[0x24:], 0)
	binary.BigEndian.PutUint32(head[0x2C:], w.hunkBytes)
	copy(head[0x30:], overall[:])
	copy(head[0x58:], raw[:])
	copy(head[chdHeaderSizeV4:], entries)
	copy(head[mapEnd:], chdMapCookie)

	if _, err := w.out.f.WriteAt(head, 0); err != nil {
		return fmt.Errorf("failed to write chd header: %w", err)
	}
	return nil
}

func (w *chdWriter) Finalize() error {
	if !w.written {
		_ = w.out.discard()
		return fmt.Errorf("%w: no entry written", ErrSingleEntry)
	}
	return w.out.close()
}

func (w *chdWriter) Abort() error {
	return w.out.discard()
}
