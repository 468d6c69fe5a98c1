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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/icza/bitio"
)

var errBadHuffman = errors.New("invalid huffman tree")

// Codes of the v5 compressed map. Types 0 to 3 select one of the four
// compressors named in the header; the pseudo types are folded into SELF or
// PARENT while decoding.
const (
	chdCodeType3      = 3
	chdCodeNone       = 4
	chdCodeSelf       = 5
	chdCodeParent     = 6
	chdCodeRLESmall   = 7
	chdCodeRLELarge   = 8
	chdCodeSelf0      = 9
	chdCodeSelf1      = 10
	chdCodeParentSelf = 11
	chdCodeParent0    = 12
	chdCodeParent1    = 13
)

const (
	chdV5MapHeaderSize = 16
	chdV5RawEntrySize  = 12
	chdMaxHunks        = 1 << 24
)

// bitReader reads MSB first and remembers the first error, so callers check
// once after a run of reads.
type bitReader struct {
	r   *bitio.Reader
	err error
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{r: bitio.NewReader(bytes.NewReader(data))}
}

func (b *bitReader) read(n uint8) uint32 {
	if n == 0 || b.err != nil {
		return 0
	}
	v, err := b.r.ReadBits(n)
	if err != nil {
		b.err = fmt.Errorf("bit stream ended early: %w", err)
		return 0
	}
	return uint32(v) //nolint:gosec // n is at most 32
}

// huffman is a canonical decoder in the layout MAME writes: longer codes take
// the lower values.
type huffman struct {
	lengths []uint8
	first   [33]uint32
	syms    [33][]uint16
	maxBits uint8
}

func newHuffman(numCodes int, maxBits uint8) *huffman {
	return &huffman{lengths: make([]uint8, numCodes), maxBits: maxBits}
}

func (h *huffman) assign() error {
	var histo [33]uint32
	for _, l := range h.lengths {
		if l > h.maxBits {
			return errBadHuffman
		}
		histo[l]++
	}
	var start uint32
	for l := 32; l > 0; l-- {
		next := (start + histo[l]) >> 1
		if l != 1 && next*2 != start+histo[l] {
			return errBadHuffman
		}
		h.first[l] = start
		start = next
	}
	for l := range h.syms {
		h.syms[l] = h.syms[l][:0]
	}
	for sym, l := range h.lengths {
		if l > 0 {
			h.syms[l] = append(h.syms[l], uint16(sym)) //nolint:gosec // at most 256 codes
		}
	}
	return nil
}

func (h *huffman) decode(b *bitReader) uint16 {
	var code uint32
	for l := uint8(1); l <= h.maxBits; l++ {
		code = code<<1 | b.read(1)
		if b.err != nil {
			return 0
		}
		syms := h.syms[l]
		if code >= h.first[l] && code-h.first[l] < uint32(len(syms)) { //nolint:gosec // small
			return syms[code-h.first[l]]
		}
	}
	b.err = errBadHuffman
	return 0
}

// importRLE reads code lengths stored with a simple repeat scheme, as used
// by the v5 map.
func (h *huffman) importRLE(b *bitReader) error {
	width := uint8(3)
	switch {
	case h.maxBits >= 16:
		width = 5
	case h.maxBits >= 8:
		width = 4
	}

	for cur := 0; cur < len(h.lengths); {
		l := uint8(b.read(width)) //nolint:gosec // width bits
		if l != 1 {
			h.lengths[cur] = l
			cur++
			continue
		}
		l = uint8(b.read(width)) //nolint:gosec // width bits
		if l == 1 {
			h.lengths[cur] = 1
			cur++
			continue
		}
		rep := int(b.read(width)) + 3
		if cur+rep > len(h.lengths) {
			return errBadHuffman
		}
		for ; rep > 0; rep-- {
			h.lengths[cur] = l
			cur++
		}
	}
	if b.err != nil {
		return b.err
	}
	return h.assign()
}

// importHuffman reads code lengths that are themselves huffman coded with a
// small 24 code tree, as used by the huff codec.
func (h *huffman) importHuffman(b *bitReader) error {
	small := newHuffman(24, 6)
	small.lengths[0] = uint8(b.read(3)) //nolint:gosec // 3 bits
	start := int(b.read(3)) + 1
	var count uint32
	for i := 1; i < len(small.lengths); i++ {
		if i < start || count == 7 {
			small.lengths[i] = 0
			continue
		}
		count = b.read(3)
		if count != 7 {
			small.lengths[i] = uint8(count)
		} else {
			small.lengths[i] = 0
		}
	}
	if b.err != nil {
		return b.err
	}
	if err := small.assign(); err != nil {
		return err
	}

	rleBits := uint8(bits.Len(uint(len(h.lengths) - 9))) //nolint:gosec // small
	var last uint8
	for cur := 0; cur < len(h.lengths); {
		v := small.decode(b)
		if b.err != nil {
			return b.err
		}
		if v != 0 {
			last = uint8(v - 1) //nolint:gosec // below 24
			h.lengths[cur] = last
			cur++
			continue
		}
		n := int(b.read(3)) + 2
		if n == 7+2 {
			n += int(b.read(rleBits))
		}
		for ; n > 0 && cur < len(h.lengths); n-- {
			h.lengths[cur] = last
			cur++
		}
	}
	if b.err != nil {
		return b.err
	}
	return h.assign()
}

var crc16Table = func() (t [256]uint16) {
	for i := range t {
		c := uint16(i) << 8 //nolint:gosec // below 256
		for range 8 {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x1021
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// crc16 is CRC-16/CCITT with an initial value of 0xFFFF.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// readMapV5Compressed decodes the huffman coded map chdman writes. The map
// is rebuilt in its 12 byte raw form so the stored CRC can be checked.
func (r *chdReader) readMapV5Compressed() error {
	n := r.hdr.TotalHunks
	if n > chdMaxHunks {
		return fmt.Errorf("%w: chd has %d hunks", ErrCorrupt, n)
	}
	mapOff := int64(r.hdr.MapOffset) //nolint:gosec // bounded by file size below
	if mapOff < 0 || mapOff+chdV5MapHeaderSize > r.size {
		return fmt.Errorf("%w: chd map larger than file", ErrCorrupt)
	}
	var head [chdV5MapHeaderSize]byte
	if _, err := r.f.ReadAt(head[:], mapOff); err != nil {
		return fmt.Errorf("%w: failed to read chd map header: %w", ErrCorrupt, err)
	}
	be := binary.BigEndian
	mapBytes := int64(be.Uint32(head[0:]))
	firstOffs := uint64(be.Uint16(head[4:]))<<32 | uint64(be.Uint32(head[6:]))
	mapCRC := be.Uint16(head[10:])
	lengthBits, selfBits, parentBits := head[12], head[13], head[14]
	if lengthBits > 32 || selfBits > 32 || parentBits > 32 {
		return fmt.Errorf("%w: chd map field widths", ErrCorrupt)
	}
	if mapOff+chdV5MapHeaderSize+mapBytes > r.size {
		return fmt.Errorf("%w: chd map larger than file", ErrCorrupt)
	}
	comp := make([]byte, mapBytes)
	if _, err := r.f.ReadAt(comp, mapOff+chdV5MapHeaderSize); err != nil {
		return fmt.Errorf("%w: failed to read chd map: %w", ErrCorrupt, err)
	}

	b := newBitReader(comp)
	tree := newHuffman(16, 8)
	if err := tree.importRLE(b); err != nil {
		return fmt.Errorf("%w: chd map tree: %w", ErrCorrupt, err)
	}

	codes := make([]uint8, n)
	var last uint8
	rep := 0
	for i := range codes {
		if rep > 0 {
			codes[i] = last
			rep--
			continue
		}
		switch v := uint8(tree.decode(b)); v { //nolint:gosec // 16 codes
		case chdCodeRLESmall:
			codes[i] = last
			rep = 2 + int(tree.decode(b))
		case chdCodeRLELarge:
			codes[i] = last
			rep = 2 + 16 + int(tree.decode(b))<<4
			rep += int(tree.decode(b))
		default:
			codes[i], last = v, v
		}
	}
	if b.err != nil {
		return fmt.Errorf("%w: chd map: %w", ErrCorrupt, b.err)
	}

	hb := uint64(r.hdr.HunkBytes)
	unit := uint64(r.hdr.UnitBytes)
	if unit == 0 {
		unit = hb
	}
	raw := make([]byte, int(n)*chdV5RawEntrySize)
	r.hunk = make([]chdHunk, n)
	cur := firstOffs
	var lastSelf, lastParent uint64
	for i, code := range codes {
		var length, crc uint32
		offset := cur
		h := chdHunk{crc16: true}
		switch code {
		case 0, 1, 2, chdCodeType3:
			length = b.read(lengthBits)
			crc = b.read(16)
			cur += uint64(length)
			h.typ, h.codec = chdMapCompressed, code
		case chdCodeNone:
			length = r.hdr.HunkBytes
			crc = b.read(16)
			cur += hb
			h.typ = chdMapUncompressed
		case chdCodeSelf:
			offset = uint64(b.read(selfBits))
			lastSelf = offset
			h.typ = chdMapSelfHunk
		case chdCodeParent:
			offset = uint64(b.read(parentBits))
			lastParent = offset
			h.typ = chdMapParentHunk
		case chdCodeSelf1, chdCodeSelf0:
			if code == chdCodeSelf1 {
				lastSelf++
			}
			code, offset = chdCodeSelf, lastSelf
			h.typ = chdMapSelfHunk
		case chdCodeParentSelf:
			offset = uint64(i) * hb / unit //nolint:gosec // hunk index
			code, lastParent = chdCodeParent, offset
			h.typ = chdMapParentHunk
		case chdCodeParent1, chdCodeParent0:
			if code == chdCodeParent1 {
				lastParent += hb / unit
			}
			code, offset = chdCodeParent, lastParent
			h.typ = chdMapParentHunk
		default:
			return fmt.Errorf("%w: chd map code %d for hunk %d", ErrCorrupt, code, i)
		}
		h.offset, h.length, h.crc = offset, length, crc
		r.hunk[i] = h

		e := raw[i*chdV5RawEntrySize:]
		e[0] = code
		e[1], e[2], e[3] = byte(length>>16), byte(length>>8), byte(length)
		be.PutUint16(e[4:], uint16(offset>>32)) //nolint:gosec // 48 bit field
		be.PutUint32(e[6:], uint32(offset))     //nolint:gosec // 48 bit field
		be.PutUint16(e[10:], uint16(crc))       //nolint:gosec // 16 bits read
	}
	if b.err != nil {
		return fmt.Errorf("%w: chd map: %w", ErrCorrupt, b.err)
	}
	if crc16(raw) != mapCRC {
		return fmt.Errorf("%w: chd map crc mismatch", ErrCorrupt)
	}
	return nil
}
