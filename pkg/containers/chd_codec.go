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
	"github.com/klauspost/compress/zstd"
	"github.com/mewkiz/flac"
	"github.com/ulikunitz/xz/lzma"
)

// v5 compressor tags, four ASCII bytes read big endian.
const (
	chdCodecZlib   = 0x7a6c6962 // zlib
	chdCodecLZMA   = 0x6c7a6d61 // lzma
	chdCodecHuff   = 0x68756666 // huff
	chdCodecFLAC   = 0x666c6163 // flac
	chdCodecZstd   = 0x7a737464 // zstd
	chdCodecCDZlib = 0x63647a6c // cdzl
	chdCodecCDLZMA = 0x63646c7a // cdlz
	chdCodecCDFLAC = 0x6364666c // cdfl
	chdCodecCDZstd = 0x63647a73 // cdzs
)

const (
	cdSectorSize = 2352
	cdSubSize    = 96
	cdFrameSize  = cdSectorSize + cdSubSize

	flacMaxBlock = 2048
)

var errShortHunk = errors.New("compressed hunk too short")

// hunkCodec decodes one compressed hunk. dst is filled exactly.
type hunkCodec interface {
	decode(dst, src []byte) error
}

type closingCodec interface {
	close()
}

func codecName(tag uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], tag)
	return string(b[:])
}

func newHunkCodec(tag, hunkBytes uint32) (hunkCodec, error) {
	switch tag {
	case chdCodecZlib:
		return &deflateCodec{}, nil
	case chdCodecLZMA:
		return &lzmaCodec{dictSize: lzmaDictSize(hunkBytes)}, nil
	case chdCodecZstd:
		return &zstdCodec{}, nil
	case chdCodecHuff:
		return &huffCodec{}, nil
	case chdCodecFLAC:
		return &flacCodec{}, nil
	case chdCodecCDZlib, chdCodecCDLZMA, chdCodecCDZstd, chdCodecCDFLAC:
		if hunkBytes%cdFrameSize != 0 {
			return nil, fmt.Errorf("%w: chd cd hunk size %d", ErrCorrupt, hunkBytes)
		}
		frames := int(hunkBytes / cdFrameSize)
		switch tag {
		case chdCodecCDZlib:
			return &cdCodec{base: &deflateCodec{}, frames: frames}, nil
		case chdCodecCDLZMA:
			sectors := uint32(frames * cdSectorSize) //nolint:gosec // below hunk size
			return &cdCodec{base: &lzmaCodec{dictSize: lzmaDictSize(sectors)}, frames: frames}, nil
		case chdCodecCDZstd:
			return &cdCodec{base: &zstdCodec{}, frames: frames}, nil
		default:
			return &cdFLACCodec{frames: frames}, nil
		}
	default:
		return nil, fmt.Errorf("%w: chd codec %q", ErrUnsupportedContainer, codecName(tag))
	}
}

// chdDecoder holds the codec state of one stream.
type chdDecoder struct {
	r      *chdReader
	codecs [4]hunkCodec
}

func (d *chdDecoder) codec(i uint8) (hunkCodec, error) {
	if int(i) >= len(d.codecs) || d.r.tags[i] == 0 {
		return nil, fmt.Errorf("%w: chd hunk uses unset compressor %d", ErrCorrupt, i)
	}
	if d.codecs[i] == nil {
		c, err := newHunkCodec(d.r.tags[i], d.r.hdr.HunkBytes)
		if err != nil {
			return nil, err
		}
		d.codecs[i] = c
	}
	return d.codecs[i], nil
}

func (d *chdDecoder) close() {
	for _, c := range d.codecs {
		if cc, ok := c.(closingCodec); ok {
			cc.close()
		}
	}
}

// CHD deflate is raw, without a zlib wrapper.
type deflateCodec struct {
	fr io.ReadCloser
}

func (c *deflateCodec) decode(dst, src []byte) error {
	if c.fr == nil {
		c.fr = flate.NewReader(bytes.NewReader(src))
	} else if err := c.fr.(flate.Resetter).Reset(bytes.NewReader(src), nil); err != nil {
		return fmt.Errorf("deflate: %w", err)
	}
	if _, err := io.ReadFull(c.fr, dst); err != nil {
		return fmt.Errorf("deflate: %w", err)
	}
	return nil
}

// lzmaDictSize is the dictionary the encoder settles on for a hunk: the
// smallest 2<<i or 3<<i covering it.
func lzmaDictSize(hunkBytes uint32) uint32 {
	for i := uint32(11); i <= 30; i++ {
		if hunkBytes <= 2<<i {
			return 2 << i
		}
		if hunkBytes <= 3<<i {
			return 3 << i
		}
	}
	return 1 << 26
}

// lzmaCodec reads headerless lzma. The classic 13 byte header is rebuilt
// from the fixed lc=3 lp=0 pb=2 properties and the hunk size.
type lzmaCodec struct {
	dictSize uint32
}

func (c *lzmaCodec) decode(dst, src []byte) error {
	var head [13]byte
	head[0] = 0x5D
	binary.LittleEndian.PutUint32(head[1:], c.dictSize)
	binary.LittleEndian.PutUint64(head[5:], uint64(len(dst)))

	cfg := lzma.ReaderConfig{DictCap: int(c.dictSize)}
	lr, err := cfg.NewReader(io.MultiReader(bytes.NewReader(head[:]), bytes.NewReader(src)))
	if err != nil {
		return fmt.Errorf("lzma: %w", err)
	}
	if _, err := io.ReadFull(lr, dst); err != nil {
		return fmt.Errorf("lzma: %w", err)
	}
	return nil
}

type zstdCodec struct {
	d *zstd.Decoder
}

func (c *zstdCodec) decode(dst, src []byte) error {
	if c.d == nil {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		c.d = d
	}
	out, err := c.d.DecodeAll(src, dst[:0])
	if err != nil {
		return fmt.Errorf("zstd: %w", err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("zstd: decoded %d of %d bytes", len(out), len(dst))
	}
	copy(dst, out)
	return nil
}

func (c *zstdCodec) close() {
	if c.d != nil {
		c.d.Close()
	}
}

// huffCodec is a single 256 symbol huffman tree stored ahead of the data.
type huffCodec struct {
	h *huffman
}

func (c *huffCodec) decode(dst, src []byte) error {
	if c.h == nil {
		c.h = newHuffman(256, 16)
	}
	b := newBitReader(src)
	if err := c.h.importHuffman(b); err != nil {
		return fmt.Errorf("huff: %w", err)
	}
	for i := range dst {
		dst[i] = byte(c.h.decode(b)) //nolint:gosec // 256 codes
	}
	if b.err != nil {
		return fmt.Errorf("huff: %w", b.err)
	}
	return nil
}

// flacBlockSize is the block size the encoder used: a quarter of the hunk,
// halved until it is no larger than limit.
func flacBlockSize(n, limit int) uint16 {
	bs := n / 4
	for bs > limit {
		bs /= 2
	}
	return uint16(bs) //nolint:gosec // at most limit
}

// flacHeader is the stream header the encoder strips: a single STREAMINFO
// block for 44.1kHz 16 bit stereo.
func flacHeader(blockSize uint16) []byte {
	h := make([]byte, 0x2A)
	copy(h, "fLaC")
	h[0x04] = 0x80 // last metadata block, STREAMINFO
	h[0x07] = 0x22
	binary.BigEndian.PutUint16(h[0x08:], blockSize)
	binary.BigEndian.PutUint16(h[0x0A:], blockSize)
	copy(h[0x12:], []byte{0x0A, 0xC4, 0x42, 0xF0})
	return h
}

// decodeFLAC fills dst with interleaved 16 bit stereo samples.
func decodeFLAC(r io.Reader, dst []byte, bigEndian bool) error {
	stream, err := flac.New(r)
	if err != nil {
		return fmt.Errorf("flac: %w", err)
	}
	n := 0
	for n < len(dst) {
		f, err := stream.ParseNext()
		if err != nil {
			return fmt.Errorf("flac: %w", err)
		}
		if len(f.Subframes) != 2 {
			return fmt.Errorf("flac: %d channels", len(f.Subframes))
		}
		for i := range f.Subframes[0].NSamples {
			for _, sub := range f.Subframes {
				if n+2 > len(dst) {
					return errors.New("flac: more samples than the hunk holds")
				}
				s := uint16(sub.Samples[i]) //nolint:gosec // 16 bit samples
				if bigEndian {
					binary.BigEndian.PutUint16(dst[n:], s)
				} else {
					binary.LittleEndian.PutUint16(dst[n:], s)
				}
				n += 2
			}
		}
	}
	return nil
}

// flacCodec data starts with 'L' or 'B' for the sample byte order.
type flacCodec struct{}

func (*flacCodec) decode(dst, src []byte) error {
	if len(src) == 0 {
		return errShortHunk
	}
	var big bool
	switch src[0] {
	case 'L':
	case 'B':
		big = true
	default:
		return fmt.Errorf("flac: byte order %q", src[0])
	}
	head := flacHeader(flacBlockSize(len(dst), flacMaxBlock))
	return decodeFLAC(io.MultiReader(bytes.NewReader(head), bytes.NewReader(src[1:])), dst, big)
}

// cdCodec splits a hunk of CD frames into sector data, compressed by base,
// and subcode, always deflated. Frames flagged in the leading bitmap had
// their sync header and ECC stripped and get them regenerated.
type cdCodec struct {
	base   hunkCodec
	sub    deflateCodec
	buf    []byte
	frames int
}

func (c *cdCodec) decode(dst, src []byte) error {
	eccBytes := (c.frames + 7) / 8
	lenBytes := 2
	if len(dst) >= 65536 {
		lenBytes = 3
	}
	head := eccBytes + lenBytes
	if len(src) < head {
		return errShortHunk
	}
	baseLen := int(src[eccBytes])<<8 | int(src[eccBytes+1])
	if lenBytes == 3 {
		baseLen = baseLen<<8 | int(src[eccBytes+2])
	}
	if head+baseLen > len(src) {
		return fmt.Errorf("cd sector data of %d bytes overruns hunk", baseLen)
	}

	sectors := c.frames * cdSectorSize
	if c.buf == nil {
		c.buf = make([]byte, c.frames*cdFrameSize)
	}
	if err := c.base.decode(c.buf[:sectors], src[head:head+baseLen]); err != nil {
		return err
	}
	if err := c.sub.decode(c.buf[sectors:], src[head+baseLen:]); err != nil {
		return fmt.Errorf("cd subcode: %w", err)
	}
	interleaveFrames(dst, c.buf, c.frames)

	for i := range c.frames {
		if src[i/8]&(1<<(i%8)) == 0 {
			continue
		}
		sector := dst[i*cdFrameSize : i*cdFrameSize+cdSectorSize]
		copy(sector, cdSyncHeader[:])
		eccGenerate(sector)
	}
	return nil
}

func (c *cdCodec) close() {
	if cc, ok := c.base.(closingCodec); ok {
		cc.close()
	}
}

// cdFLACCodec stores big endian audio as flac followed directly by the
// deflated subcode, so the flac decoder's position marks where it begins.
type cdFLACCodec struct {
	sub    deflateCodec
	buf    []byte
	frames int
}

func (c *cdFLACCodec) decode(dst, src []byte) error {
	sectors := c.frames * cdSectorSize
	if c.buf == nil {
		c.buf = make([]byte, c.frames*cdFrameSize)
	}
	head := flacHeader(flacBlockSize(sectors, cdSectorSize))
	cr := &countingReader{r: io.MultiReader(bytes.NewReader(head), bytes.NewReader(src))}
	br := bufio.NewReaderSize(cr, 1<<16)
	if err := decodeFLAC(br, c.buf[:sectors], true); err != nil {
		return err
	}
	used := int(cr.n) - br.Buffered() - len(head)
	if used < 0 || used > len(src) {
		return errShortHunk
	}
	if err := c.sub.decode(c.buf[sectors:], src[used:]); err != nil {
		return fmt.Errorf("cd subcode: %w", err)
	}
	interleaveFrames(dst, c.buf, c.frames)
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err //nolint:wrapcheck // passthrough
}

// interleaveFrames turns all sectors followed by all subcode into frames.
func interleaveFrames(dst, buf []byte, frames int) {
	subs := buf[frames*cdSectorSize:]
	for i := range frames {
		copy(dst[i*cdFrameSize:], buf[i*cdSectorSize:(i+1)*cdSectorSize])
		copy(dst[i*cdFrameSize+cdSectorSize:], subs[i*cdSubSize:(i+1)*cdSubSize])
	}
}

var cdSyncHeader = [12]byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

var eccF, eccB = eccTables()

func eccTables() (f, b [256]byte) {
	for i := range 256 {
		j := i << 1
		if i&0x80 != 0 {
			j ^= 0x11D
		}
		f[i] = byte(j)
		b[i^j] = byte(i)
	}
	return f, b
}

// eccGenerate fills in the P and Q parity of a raw sector. Mode 2 parity is
// computed with the address bytes zeroed.
func eccGenerate(sector []byte) {
	var addr [4]byte
	mode2 := sector[15] == 2
	if mode2 {
		copy(addr[:], sector[12:16])
		clear(sector[12:16])
	}
	eccBlock(sector[0x0C:], 86, 24, 2, 86, sector[0x81C:])
	eccBlock(sector[0x0C:], 52, 43, 86, 88, sector[0x8C8:])
	if mode2 {
		copy(sector[12:16], addr[:])
	}
}

func eccBlock(src []byte, majorCount, minorCount, majorMult, minorInc int, dst []byte) {
	size := majorCount * minorCount
	for major := range majorCount {
		index := (major>>1)*majorMult + major&1
		var a, b byte
		for range minorCount {
			t := src[index]
			index += minorInc
			if index >= size {
				index -= size
			}
			a ^= t
			b ^= t
			a = eccF[a]
		}
		a = eccB[eccF[a]^b]
		dst[major] = a
		dst[major+majorCount] = a ^ b
	}
}
