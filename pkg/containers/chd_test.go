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
	"crypto/sha1" //nolint:gosec // part of the CHD format
	"encoding/binary"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/mewkiz/flac"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"
)

type bitWriter struct {
	buf []byte
	n   uint
}

func (w *bitWriter) write(v uint32, width uint) {
	for i := width; i > 0; i-- {
		if w.n%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>(i-1)&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> (w.n % 8)
		}
		w.n++
	}
}

type v5Hunk struct {
	data []byte
	crc  uint16
	self uint32
	code uint8
}

type v5Meta struct {
	text string
	tag  uint32
}

type v5Image struct {
	compressors [4]uint32
	rawSHA1     [20]byte
	hunks       []v5Hunk
	meta        []v5Meta
	logical     uint64
	hunkBytes   uint32
	unitBytes   uint32
	rle         bool
	badMapCRC   bool
}

const (
	testLengthBits = 24
	testSelfBits   = 8
)

// build lays out header, compressed map, metadata and hunk data in that
// order. Every map code gets a flat 4 bit huffman code.
func (im v5Image) build() []byte {
	var w bitWriter
	for range 16 {
		w.write(4, 4)
	}
	var last uint8
	for i := 0; i < len(im.hunks); {
		c := im.hunks[i].code
		run := 0
		for j := i; j < len(im.hunks) && im.hunks[j].code == c; j++ {
			run++
		}
		if im.rle && i > 0 && c == last && run >= 3 {
			extra := min(run-1, 17)
			w.write(chdCodeRLESmall, 4)
			w.write(uint32(extra-2), 4) //nolint:gosec // small
			i += 1 + extra
			continue
		}
		w.write(uint32(c), 4)
		last = c
		i++
	}
	for _, h := range im.hunks {
		switch h.code {
		case chdCodeNone:
			w.write(uint32(h.crc), 16)
		case chdCodeSelf:
			w.write(h.self, testSelfBits)
		default:
			w.write(uint32(len(h.data)), testLengthBits) //nolint:gosec // small
			w.write(uint32(h.crc), 16)
		}
	}
	mapBits := w.buf

	var meta []byte
	metaStart := uint64(chdHeaderSizeV5 + chdV5MapHeaderSize + len(mapBits))
	for i, m := range im.meta {
		text := append([]byte(m.text), 0)
		var head [chdMetaHeaderSize]byte
		binary.BigEndian.PutUint32(head[0:], m.tag)
		binary.BigEndian.PutUint32(head[4:], uint32(len(text))) //nolint:gosec // small
		if i+1 < len(im.meta) {
			next := metaStart + uint64(len(meta)+chdMetaHeaderSize+len(text))
			binary.BigEndian.PutUint64(head[8:], next)
		}
		meta = append(meta, head[:]...)
		meta = append(meta, text...)
	}
	firstOffs := metaStart + uint64(len(meta))

	raw := make([]byte, len(im.hunks)*chdV5RawEntrySize)
	var data []byte
	cur := firstOffs
	for i, h := range im.hunks {
		e := raw[i*chdV5RawEntrySize:]
		e[0] = h.code
		off, length, crc := cur, uint32(0), h.crc
		switch h.code {
		case chdCodeSelf:
			off, crc = uint64(h.self), 0
		default:
			length = uint32(len(h.data)) //nolint:gosec // small
			cur += uint64(len(h.data))
			data = append(data, h.data...)
		}
		e[1], e[2], e[3] = byte(length>>16), byte(length>>8), byte(length)
		binary.BigEndian.PutUint16(e[4:], uint16(off>>32)) //nolint:gosec // 48 bits
		binary.BigEndian.PutUint32(e[6:], uint32(off))     //nolint:gosec // 48 bits
		binary.BigEndian.PutUint16(e[10:], crc)
	}
	mapCRC := crc16(raw)
	if im.badMapCRC {
		mapCRC ^= 0xFFFF
	}

	head := make([]byte, chdHeaderSizeV5+chdV5MapHeaderSize)
	copy(head, magicCHD)
	binary.BigEndian.PutUint32(head[0x08:], chdHeaderSizeV5)
	binary.BigEndian.PutUint32(head[0x0C:], 5)
	for i, c := range im.compressors {
		binary.BigEndian.PutUint32(head[0x10+i*4:], c)
	}
	binary.BigEndian.PutUint64(head[0x20:], im.logical)
	binary.BigEndian.PutUint64(head[0x28:], chdHeaderSizeV5)
	if len(im.meta) > 0 {
		binary.BigEndian.PutUint64(head[0x30:], metaStart)
	}
	binary.BigEndian.PutUint32(head[0x38:], im.hunkBytes)
	binary.BigEndian.PutUint32(head[0x3C:], im.unitBytes)
	copy(head[0x40:], im.rawSHA1[:])

	m := head[chdHeaderSizeV5:]
	binary.BigEndian.PutUint32(m[0:], uint32(len(mapBits))) //nolint:gosec // small
	binary.BigEndian.PutUint16(m[4:], uint16(firstOffs>>32)) //nolint:gosec // 48 bits
	binary.BigEndian.PutUint32(m[6:], uint32(firstOffs))     //nolint:gosec // 48 bits
	binary.BigEndian.PutUint16(m[10:], mapCRC)
	m[12], m[13], m[14] = testLengthBits, testSelfBits, 0

	out := append(head, mapBits...)
	out = append(out, meta...)
	return append(out, data...)
}

func deflateRaw(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

// lzmaRaw drops the classic header the decoder rebuilds.
func lzmaRaw(t *testing.T, data []byte, dict uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 3, LP: 0, PB: 2},
		DictCap:      int(dict),
		SizeInHeader: true,
		Size:         int64(len(data)),
	}
	lw, err := cfg.NewWriter(&buf)
	require.NoError(t, err)
	_, err = lw.Write(data)
	require.NoError(t, err)
	require.NoError(t, lw.Close())
	return buf.Bytes()[13:]
}

func zstdRaw(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(data, nil)
}

// huffRaw codes every byte as itself: one small tree code of length one
// selects length 8 for all 256 symbols.
func huffRaw(data []byte) []byte {
	var w bitWriter
	w.write(0, 3) // small code 0 unused
	w.write(7, 3) // lengths start at small code 8
	w.write(0, 3) // small code 8 unused
	w.write(1, 3) // small code 9, length one
	for range 14 {
		w.write(0, 3)
	}
	for range 256 {
		w.write(0, 1)
	}
	for _, b := range data {
		w.write(uint32(b), 8)
	}
	return w.buf
}

func writeImage(t *testing.T, path string, img []byte) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, path, img, 0o644))
	return fs
}

func TestCHD_V5CompressedMap(t *testing.T) {
	t.Parallel()

	const hb = 4096
	parts := [][]byte{
		compressible(hb),
		bytes.Repeat([]byte("lzma hunk "), hb/10+1)[:hb],
		bytes.Repeat([]byte("zstd"), hb/4),
		random(hb, 21),
		random(hb, 22),
	}
	var want []byte
	for _, p := range parts {
		want = append(want, p...)
	}
	want = append(want, parts[0][:1000]...)

	img := v5Image{
		compressors: [4]uint32{chdCodecZlib, chdCodecLZMA, chdCodecZstd, chdCodecHuff},
		hunkBytes:   hb,
		unitBytes:   hb,
		logical:     uint64(len(want)),
		rawSHA1:     sha1.Sum(want), //nolint:gosec // part of the CHD format
		hunks: []v5Hunk{
			{code: 0, data: deflateRaw(t, parts[0]), crc: crc16(parts[0])},
			{code: 1, data: lzmaRaw(t, parts[1], lzmaDictSize(hb)), crc: crc16(parts[1])},
			{code: 2, data: zstdRaw(t, parts[2]), crc: crc16(parts[2])},
			{code: 3, data: huffRaw(parts[3]), crc: crc16(parts[3])},
			{code: chdCodeNone, data: parts[4], crc: crc16(parts[4])},
			{code: chdCodeSelf, self: 0},
		},
	}
	fs := writeImage(t, "/v5.chd", img.build())

	r, err := Open(fs, "/v5.chd", false)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	require.Equal(t, []Entry{{Name: "v5.bin", Size: int64(len(want))}}, r.Entries())
	assert.Equal(t, want, readEntry(t, r, "v5.bin"))
}

func TestCHD_V5MapRunLengths(t *testing.T) {
	t.Parallel()

	const hb = 512
	var want []byte
	img := v5Image{hunkBytes: hb, unitBytes: hb, rle: true}
	img.compressors[0] = chdCodecZlib
	for i := range 6 {
		p := random(hb, uint64(30+i)) //nolint:gosec // small
		want = append(want, p...)
		img.hunks = append(img.hunks, v5Hunk{code: chdCodeNone, data: p, crc: crc16(p)})
	}
	img.logical = uint64(len(want))
	fs := writeImage(t, "/rle.chd", img.build())

	r, err := Open(fs, "/rle.chd", false)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	assert.Equal(t, want, readEntry(t, r, "rle.bin"))
}

func TestCHD_V5Corruption(t *testing.T) {
	t.Parallel()

	const hb = 1024
	p := compressible(hb)
	base := func(t *testing.T) v5Image {
		return v5Image{
			compressors: [4]uint32{chdCodecZlib},
			hunkBytes:   hb,
			unitBytes:   hb,
			logical:     hb,
			hunks:       []v5Hunk{{code: 0, data: deflateRaw(t, p), crc: crc16(p)}},
		}
	}

	t.Run("map crc", func(t *testing.T) {
		t.Parallel()
		img := base(t)
		img.badMapCRC = true
		_, err := Open(writeImage(t, "/g.chd", img.build()), "/g.chd", false)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("hunk crc", func(t *testing.T) {
		t.Parallel()
		img := base(t)
		img.hunks[0].crc ^= 1
		r, err := Open(writeImage(t, "/g.chd", img.build()), "/g.chd", false)
		require.NoError(t, err)
		defer func() { _ = r.Close() }()
		rc, err := r.Open("g.bin")
		require.NoError(t, err)
		_, err = io.ReadAll(rc)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unknown codec", func(t *testing.T) {
		t.Parallel()
		img := base(t)
		img.compressors[1] = 0x61626364 // abcd
		_, err := Open(writeImage(t, "/g.chd", img.build()), "/g.chd", false)
		require.ErrorIs(t, err, ErrUnsupportedContainer)
	})

	t.Run("unset compressor", func(t *testing.T) {
		t.Parallel()
		img := base(t)
		img.hunks[0].code = 2
		r, err := Open(writeImage(t, "/g.chd", img.build()), "/g.chd", false)
		require.NoError(t, err)
		defer func() { _ = r.Close() }()
		rc, err := r.Open("g.bin")
		require.NoError(t, err)
		_, err = io.ReadAll(rc)
		require.ErrorIs(t, err, ErrCorrupt)
	})
}

func mode1Sector(lba uint32, seed uint64) []byte {
	s := make([]byte, cdSectorSize)
	copy(s, cdSyncHeader[:])
	lba += 150
	s[12] = byte(lba / 4500)    // minutes
	s[13] = byte(lba / 75 % 60) // seconds
	s[14] = byte(lba % 75)      // frames
	s[15] = 1
	copy(s[16:16+2048], random(2048, seed))
	eccGenerate(s)
	return s
}

func swap16(b []byte) []byte {
	out := bytes.Clone(b)
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

func TestCHD_CDTracks(t *testing.T) {
	t.Parallel()

	const frames = 4
	const hb = frames * cdFrameSize
	sectors := [][]byte{
		mode1Sector(0, 40),
		random(cdSectorSize, 41),
		random(cdSectorSize, 42),
		make([]byte, cdSectorSize),
		random(cdSectorSize, 43),
		random(cdSectorSize, 44),
		make([]byte, cdSectorSize),
		make([]byte, cdSectorSize),
	}

	var hunks []v5Hunk
	for h := range 2 {
		var full, stored, subs []byte
		var ecc byte
		for f := range frames {
			sector := sectors[h*frames+f]
			sub := random(cdSubSize, uint64(50+h*frames+f)) //nolint:gosec // small
			full = append(append(full, sector...), sub...)
			subs = append(subs, sub...)
			if h == 0 && f == 0 {
				// stored without the sync header and parity
				ecc |= 1
				sector = bytes.Clone(sector)
				clear(sector[:12])
				clear(sector[0x81C:0x930])
			}
			stored = append(stored, sector...)
		}
		sectorData := deflateRaw(t, stored)
		payload := []byte{ecc, byte(len(sectorData) >> 8), byte(len(sectorData))}
		payload = append(payload, sectorData...)
		payload = append(payload, deflateRaw(t, subs)...)
		hunks = append(hunks, v5Hunk{code: 0, data: payload, crc: crc16(full)})
	}

	img := v5Image{
		compressors: [4]uint32{chdCodecCDZlib},
		hunkBytes:   hb,
		unitBytes:   cdFrameSize,
		logical:     2 * hb,
		hunks:       hunks,
		meta: []v5Meta{
			{tag: chdMetaTrack2, text: "TRACK:2 TYPE:AUDIO SUBTYPE:NONE FRAMES:2 PREGAP:0 PGTYPE:MODE1 PGSUB:RW POSTGAP:0"},
			{tag: chdMetaTrack2, text: "TRACK:1 TYPE:MODE1_RAW SUBTYPE:NONE FRAMES:3 PREGAP:0 PGTYPE:MODE1 PGSUB:RW POSTGAP:0"},
		},
	}
	fs := writeImage(t, "/Game.chd", img.build())

	r, err := Open(fs, "/Game.chd", false)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	require.Equal(t, []Entry{
		{Name: "Game (Track 1).bin", Size: 3 * cdSectorSize},
		{Name: "Game (Track 2).bin", Size: 2 * cdSectorSize},
	}, r.Entries())

	data := bytes.Join(sectors[:3], nil)
	assert.Equal(t, data, readEntry(t, r, "Game (Track 1).bin"), "parity and sync are regenerated")
	audio := swap16(bytes.Join(sectors[4:6], nil))
	assert.Equal(t, audio, readEntry(t, r, "Game (Track 2).bin"))

	_, err = r.Open("Game.bin")
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCHD_TrackNames(t *testing.T) {
	t.Parallel()

	one := []chdTrack{{number: 1}}
	nameTracks(one, "Game.bin")
	assert.Equal(t, "Game.bin", one[0].name)

	many := make([]chdTrack, 12)
	for i := range many {
		many[i].number = i + 1
	}
	nameTracks(many, "Game.bin")
	assert.Equal(t, "Game (Track 01).bin", many[0].name)
	assert.Equal(t, "Game (Track 12).bin", many[11].name)
}

func TestParseTrack(t *testing.T) {
	t.Parallel()

	tr, err := parseTrack(chdMetaTrackGD, []byte("TRACK:3 TYPE:MODE1 SUBTYPE:NONE FRAMES:1001 PAD:7 PREGAP:0 PGTYPE:MODE1 PGSUB:NONE POSTGAP:0\x00"))
	require.NoError(t, err)
	assert.Equal(t, 3, tr.number)
	assert.Equal(t, int64(1001), tr.frames)
	assert.Equal(t, int64(7), tr.pad)
	assert.Equal(t, int64(1001*2048), tr.size())

	tr, err = parseTrack(chdMetaTrack, []byte("TRACK:1 TYPE:AUDIO SUBTYPE:NONE FRAMES:5"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), tr.pad)

	_, err = parseTrack(chdMetaTrack2, []byte("TRACK:1 TYPE:CDG FRAMES:5"))
	require.ErrorIs(t, err, ErrUnsupportedContainer)
	_, err = parseTrack(chdMetaTrack2, []byte("TYPE:AUDIO FRAMES:5"))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestECC_Regenerate(t *testing.T) {
	t.Parallel()

	want := mode1Sector(16, 60)
	assert.NotEqual(t, make([]byte, 0x930-0x81C), want[0x81C:0x930])

	s := bytes.Clone(want)
	clear(s[0x81C:0x930])
	eccGenerate(s)
	assert.Equal(t, want, s)

	// mode 2 parity ignores the address but keeps it in place
	m2 := bytes.Clone(want)
	m2[15] = 2
	eccGenerate(m2)
	other := bytes.Clone(m2)
	other[12], other[13] = 0x7F, 0x7F
	eccGenerate(other)
	assert.Equal(t, m2[0x81C:0x930], other[0x81C:0x930])
	assert.Equal(t, byte(0x7F), other[12])
}

func TestCRC16(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint16(0x29B1), crc16([]byte("123456789")))
}

func TestLZMADictSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint32(4096), lzmaDictSize(1000))
	assert.Equal(t, uint32(24576), lzmaDictSize(19584))
	assert.Equal(t, uint32(8192), lzmaDictSize(8192))
}

func TestFLACHeader(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint16(2352), flacBlockSize(4*cdSectorSize, cdSectorSize))
	assert.Equal(t, uint16(1764), flacBlockSize(3*cdSectorSize, cdSectorSize))
	assert.Equal(t, uint16(1024), flacBlockSize(4096, flacMaxBlock))

	stream, err := flac.New(bytes.NewReader(flacHeader(588)))
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), stream.Info.SampleRate)
	assert.Equal(t, uint8(2), stream.Info.NChannels)
	assert.Equal(t, uint8(16), stream.Info.BitsPerSample)
	assert.Equal(t, uint16(588), stream.Info.BlockSizeMax)
}

func TestFLACCodec_RejectsByteOrder(t *testing.T) {
	t.Parallel()
	err := (&flacCodec{}).decode(make([]byte, 16), []byte("X"))
	require.Error(t, err)
}

func TestHuffman_RejectsLongCode(t *testing.T) {
	t.Parallel()

	var w bitWriter
	w.write(9, 4)
	for range 15 {
		w.write(4, 4)
	}
	err := newHuffman(16, 8).importRLE(newBitReader(w.buf))
	require.ErrorIs(t, err, errBadHuffman)
}
