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
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Track metadata tags. CHTR and CHT2 tracks are padded to a multiple of four
// frames; GD-ROM tracks record their own padding.
const (
	chdMetaTrack   = 0x43485452 // CHTR
	chdMetaTrack2  = 0x43485432 // CHT2
	chdMetaTrackGD = 0x43484744 // CHGD

	chdMetaHeaderSize = 16
	chdMaxMetaEntries = 4096
	chdMaxMetaBytes   = 1 << 16

	cdTrackPadding = 4
)

type chdTrack struct {
	name       string
	typ        string
	number     int
	frames     int64
	pad        int64
	startFrame int64
	dataSize   int64
}

func (t chdTrack) size() int64 { return t.frames * t.dataSize }

func trackDataSize(typ string) (int64, bool) {
	switch typ {
	case "MODE1", "MODE2_FORM1":
		return 2048, true
	case "MODE2_FORM2":
		return 2324, true
	case "MODE2", "MODE2_FORM_MIX":
		return 2336, true
	case "MODE1_RAW", "MODE2_RAW", "AUDIO":
		return cdSectorSize, true
	default:
		return 0, false
	}
}

// parseTrack reads the "KEY:VALUE" fields of one track metadata entry.
func parseTrack(tag uint32, text []byte) (chdTrack, error) {
	fields := make(map[string]string)
	for _, f := range strings.Fields(string(bytes.TrimRight(text, "\x00"))) {
		if k, v, ok := strings.Cut(f, ":"); ok {
			fields[k] = v
		}
	}

	var t chdTrack
	var err error
	if t.number, err = strconv.Atoi(fields["TRACK"]); err != nil {
		return t, fmt.Errorf("%w: chd track number %q", ErrCorrupt, fields["TRACK"])
	}
	if t.frames, err = strconv.ParseInt(fields["FRAMES"], 10, 64); err != nil || t.frames < 0 {
		return t, fmt.Errorf("%w: chd track %d frames %q", ErrCorrupt, t.number, fields["FRAMES"])
	}
	t.typ = fields["TYPE"]
	ds, ok := trackDataSize(t.typ)
	if !ok {
		return t, fmt.Errorf("%w: chd track %d type %q", ErrUnsupportedContainer, t.number, t.typ)
	}
	t.dataSize = ds

	if tag == chdMetaTrackGD {
		if t.pad, err = strconv.ParseInt(fields["PAD"], 10, 64); err != nil || t.pad < 0 {
			return t, fmt.Errorf("%w: chd track %d padding %q", ErrCorrupt, t.number, fields["PAD"])
		}
	} else {
		t.pad = (cdTrackPadding - t.frames%cdTrackPadding) % cdTrackPadding
	}
	return t, nil
}

// readTracks walks the metadata chain for CD track entries and lays the
// tracks out over the frame stream. An image without track metadata has
// none.
func (r *chdReader) readTracks() ([]chdTrack, error) {
	var tracks []chdTrack
	off := r.hdr.MetaOffset
	for n := 0; off != 0; n++ {
		if n >= chdMaxMetaEntries {
			return nil, fmt.Errorf("%w: chd metadata chain too long", ErrCorrupt)
		}
		if off > uint64(r.size) || int64(off)+chdMetaHeaderSize > r.size { //nolint:gosec // checked against size
			return nil, fmt.Errorf("%w: chd metadata out of range", ErrCorrupt)
		}
		var head [chdMetaHeaderSize]byte
		if _, err := r.f.ReadAt(head[:], int64(off)); err != nil { //nolint:gosec // checked above
			return nil, fmt.Errorf("%w: failed to read chd metadata: %w", ErrCorrupt, err)
		}
		tag := binary.BigEndian.Uint32(head[0:])
		length := int64(binary.BigEndian.Uint32(head[4:]) & 0xFFFFFF)
		next := binary.BigEndian.Uint64(head[8:])

		switch tag {
		case chdMetaTrack, chdMetaTrack2, chdMetaTrackGD:
			start := int64(off) + chdMetaHeaderSize //nolint:gosec // checked above
			if length > chdMaxMetaBytes || start+length > r.size {
				return nil, fmt.Errorf("%w: chd track metadata out of range", ErrCorrupt)
			}
			data := make([]byte, length)
			if _, err := r.f.ReadAt(data, start); err != nil && length > 0 {
				return nil, fmt.Errorf("%w: failed to read chd metadata: %w", ErrCorrupt, err)
			}
			t, err := parseTrack(tag, data)
			if err != nil {
				return nil, err
			}
			tracks = append(tracks, t)
		}
		off = next
	}
	if len(tracks) == 0 {
		return nil, nil
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].number < tracks[j].number })
	frame := int64(0)
	for i := range tracks {
		if tracks[i].number != i+1 {
			return nil, fmt.Errorf("%w: chd track %d out of sequence", ErrCorrupt, tracks[i].number)
		}
		tracks[i].startFrame = frame
		frame += tracks[i].frames
		if frame*cdFrameSize > int64(r.hdr.LogicalBytes) { //nolint:gosec // bounded by hunk map
			return nil, fmt.Errorf("%w: chd track %d past end of image", ErrCorrupt, tracks[i].number)
		}
		frame += tracks[i].pad
	}
	return tracks, nil
}

// nameTracks names every track after the image: a lone track keeps the
// plain name, several get " (Track N)" with two digits from ten tracks on.
func nameTracks(tracks []chdTrack, single string) {
	if len(tracks) == 1 {
		tracks[0].name = single
		return
	}
	stem := strings.TrimSuffix(single, ".bin")
	format := "%s (Track %d).bin"
	if len(tracks) >= 10 {
		format = "%s (Track %02d).bin"
	}
	for i := range tracks {
		tracks[i].name = fmt.Sprintf(format, stem, tracks[i].number)
	}
}

// chdCursor reads the logical byte stream through a one hunk cache.
type chdCursor struct {
	r    *chdReader
	dec  *chdDecoder
	hunk []byte
	idx  int64
}

func newCHDCursor(r *chdReader) *chdCursor {
	return &chdCursor{r: r, dec: &chdDecoder{r: r}, idx: -1}
}

func (c *chdCursor) readAt(p []byte, off int64) error {
	hb := int64(c.r.hdr.HunkBytes)
	if c.hunk == nil {
		c.hunk = make([]byte, hb)
	}
	for len(p) > 0 {
		i := off / hb
		if i >= int64(len(c.r.hunk)) {
			return fmt.Errorf("%w: chd read past last hunk", ErrCorrupt)
		}
		if i != c.idx {
			c.idx = -1
			if err := c.r.readHunk(uint32(i), c.hunk, c.dec); err != nil { //nolint:gosec // below hunk count
				return err
			}
			c.idx = i
		}
		n := copy(p, c.hunk[off%hb:])
		p = p[n:]
		off += int64(n)
	}
	return nil
}

// chdTrackStream yields the data portion of each frame of a track. Audio is
// stored big endian and comes out little endian, as in a cue/bin rip.
type chdTrackStream struct {
	cur   *chdCursor
	frame []byte
	left  []byte
	t     chdTrack
	next  int64
}

func (s *chdTrackStream) Read(p []byte) (int, error) {
	if len(s.left) == 0 {
		if s.next == s.t.frames {
			return 0, io.EOF
		}
		if s.frame == nil {
			s.frame = make([]byte, s.t.dataSize)
		}
		off := (s.t.startFrame + s.next) * cdFrameSize
		if err := s.cur.readAt(s.frame, off); err != nil {
			return 0, err
		}
		if s.t.typ == "AUDIO" {
			for i := 0; i+1 < len(s.frame); i += 2 {
				s.frame[i], s.frame[i+1] = s.frame[i+1], s.frame[i]
			}
		}
		s.next++
		s.left = s.frame
	}
	n := copy(p, s.left)
	s.left = s.left[n:]
	return n, nil
}

func (s *chdTrackStream) Close() error {
	s.cur.dec.close()
	return nil
}
