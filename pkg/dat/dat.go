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

// Package dat reads Logiqx XML catalogs and clrmamepro header detectors.
package dat

import (
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrMalformed is returned when the document itself cannot be read. Problems
// with single records are reported in Document.Errors instead.
var ErrMalformed = errors.New("malformed catalog document")

type Header struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Version     string `xml:"version"`
	Date        string `xml:"date"`
	Author      string `xml:"author"`
	Homepage    string `xml:"homepage"`
	URL         string `xml:"url"`
	Clrmamepro  struct {
		// Header names the detector file that strips copier headers.
		Header string `xml:"header,attr"`
	} `xml:"clrmamepro"`
}

type Release struct {
	Name     string `xml:"name,attr"`
	Region   string `xml:"region,attr"`
	Language string `xml:"language,attr"`
}

type Rom struct {
	Name   string
	CRC32  string
	MD5    string
	SHA1   string
	Merge  string
	Status string
	Size   int64
}

type Game struct {
	Name        string
	CloneOf     string
	RomOf       string
	Description string
	Releases    []Release
	Roms        []Rom
}

// RecordError describes a record left out of the document.
type RecordError struct {
	// Err optionally classifies the problem for errors.Is.
	Err    error
	Game   string
	Rom    string
	Reason string
}

func (e RecordError) Error() string {
	if e.Rom != "" {
		return fmt.Sprintf("%s: rom %s: %s", e.Game, e.Rom, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Game, e.Reason)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// Document is a parsed catalog. Games are in document order.
type Document struct {
	Header Header
	Games  []Game
	Errors []RecordError
}

type xmlRom struct {
	Name   string `xml:"name,attr"`
	Size   string `xml:"size,attr"`
	CRC32  string `xml:"crc,attr"`
	MD5    string `xml:"md5,attr"`
	SHA1   string `xml:"sha1,attr"`
	Merge  string `xml:"merge,attr"`
	Status string `xml:"status,attr"`
}

type xmlGame struct {
	Name        string    `xml:"name,attr"`
	CloneOf     string    `xml:"cloneof,attr"`
	RomOf       string    `xml:"romof,attr"`
	Description string    `xml:"description"`
	Releases    []Release `xml:"release"`
	Roms        []xmlRom  `xml:"rom"`
}

// Parse streams a Logiqx XML catalog. Invalid games and roms are skipped and
// listed in Document.Errors; only a broken document returns an error.
func Parse(r io.Reader) (*Document, error) {
	decoder := xml.NewDecoder(r)
	// Logiqx files are often declared as ISO-8859-1 but are plain ASCII in
	// practice.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	doc := &Document{}
	seenHeader := false

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read XML token: %w", ErrMalformed, err)
		}

		elem, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch elem.Name.Local {
		case "header":
			if err := decoder.DecodeElement(&doc.Header, &elem); err != nil {
				return nil, fmt.Errorf("%w: failed to decode header: %w", ErrMalformed, err)
			}
			seenHeader = true

		case "game", "machine":
			var raw xmlGame
			if err := decoder.DecodeElement(&raw, &elem); err != nil {
				return nil, fmt.Errorf("%w: failed to decode game: %w", ErrMalformed, err)
			}
			if game, ok := doc.convertGame(&raw); ok {
				doc.Games = append(doc.Games, game)
			}
		}
	}

	if !seenHeader {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	if strings.TrimSpace(doc.Header.Name) == "" {
		return nil, fmt.Errorf("%w: header has no name", ErrMalformed)
	}

	log.Debug().
		Str("system", doc.Header.Name).
		Int("games", len(doc.Games)).
		Int("errors", len(doc.Errors)).
		Msg("parsed catalog document")
	return doc, nil
}

func (doc *Document) reject(game, rom, reason string) {
	doc.Errors = append(doc.Errors, RecordError{Game: game, Rom: rom, Reason: reason})
}

func (doc *Document) convertGame(raw *xmlGame) (Game, bool) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		doc.reject(raw.Description, "", "game has no name")
		return Game{}, false
	}

	game := Game{
		Name:        name,
		CloneOf:     strings.TrimSpace(raw.CloneOf),
		RomOf:       strings.TrimSpace(raw.RomOf),
		Description: raw.Description,
		Releases:    raw.Releases,
		Roms:        make([]Rom, 0, len(raw.Roms)),
	}
	for i := range raw.Roms {
		rom, reason := convertRom(&raw.Roms[i])
		if reason != "" {
			doc.reject(name, raw.Roms[i].Name, reason)
			continue
		}
		game.Roms = append(game.Roms, rom)
	}
	return game, true
}

func convertRom(raw *xmlRom) (Rom, string) {
	rom := Rom{
		Name:   strings.TrimSpace(raw.Name),
		Merge:  raw.Merge,
		Status: raw.Status,
	}
	if rom.Name == "" {
		return rom, "rom has no name"
	}

	size, err := strconv.ParseInt(strings.TrimSpace(raw.Size), 10, 64)
	if err != nil || size < 0 {
		return rom, fmt.Sprintf("invalid size %q", raw.Size)
	}
	rom.Size = size

	var ok bool
	if rom.CRC32, ok = digest(raw.CRC32, 4); !ok {
		return rom, fmt.Sprintf("invalid crc %q", raw.CRC32)
	}
	if rom.MD5, ok = digest(raw.MD5, 16); !ok {
		return rom, fmt.Sprintf("invalid md5 %q", raw.MD5)
	}
	if rom.SHA1, ok = digest(raw.SHA1, 20); !ok {
		return rom, fmt.Sprintf("invalid sha1 %q", raw.SHA1)
	}
	if rom.CRC32 == "" && rom.MD5 == "" && rom.SHA1 == "" {
		if strings.EqualFold(rom.Status, "nodump") {
			return rom, "rom is marked nodump"
		}
		return rom, "rom has no digest"
	}
	return rom, ""
}

// digest checks a hex digest and lower cases it. An empty value is valid and
// means the digest is absent.
func digest(s string, size int) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", true
	}
	if len(s) != size*2 {
		return "", false
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", false
	}
	return s, true
}
