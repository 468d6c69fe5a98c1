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

package dat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDAT = `<?xml version="1.0" encoding="ISO-8859-1"?>
<!DOCTYPE datafile PUBLIC "-//Logiqx//DTD ROM Management Datafile//EN" "http://www.logiqx.com/Dats/datafile.dtd">
<datafile>
	<header>
		<name>Nintendo - Nintendo Entertainment System</name>
		<description>Nintendo - Nintendo Entertainment System (Headered)</description>
		<version>20260101-000000</version>
		<clrmamepro header="No-Intro_NES.xml"/>
	</header>
	<game name="Foo (USA)">
		<description>Foo (USA)</description>
		<release name="Foo (USA)" region="USA"/>
		<rom name="Foo (USA).nes" size="1024" crc="D87F7E0C" md5="0CBC6611F5540BD0809A388DC95A615B" sha1="A9993E364706816ABA3E25717850C26C9CD0D89D"/>
	</game>
	<machine name="Foo (Europe)" cloneof="Foo (USA)" romof="Foo (USA)">
		<description>Foo (Europe)</description>
		<rom name="Foo (Europe).nes" size="1024" crc="12345678" merge="Foo (USA).nes"/>
	</machine>
	<game name="Broken">
		<rom name="a.bin" size="lots" crc="12345678"/>
		<rom name="b.bin" size="4" crc="xyz"/>
		<rom name="c.bin" size="4" status="nodump"/>
		<rom name="d.bin" size="4" sha1="00"/>
		<rom name="e.bin" size="4" crc="00000000"/>
	</game>
	<game>
		<description>nameless</description>
	</game>
</datafile>`

func TestParse(t *testing.T) {
	t.Parallel()

	doc, err := Parse(strings.NewReader(sampleDAT))
	require.NoError(t, err)

	assert.Equal(t, "Nintendo - Nintendo Entertainment System", doc.Header.Name)
	assert.Equal(t, "20260101-000000", doc.Header.Version)
	assert.Equal(t, "No-Intro_NES.xml", doc.Header.Clrmamepro.Header)

	require.Len(t, doc.Games, 3)
	foo := doc.Games[0]
	assert.Equal(t, "Foo (USA)", foo.Name)
	require.Len(t, foo.Releases, 1)
	assert.Equal(t, "USA", foo.Releases[0].Region)
	require.Len(t, foo.Roms, 1)
	assert.Equal(t, Rom{
		Name:  "Foo (USA).nes",
		Size:  1024,
		CRC32: "d87f7e0c",
		MD5:   "0cbc6611f5540bd0809a388dc95a615b",
		SHA1:  "a9993e364706816aba3e25717850c26c9cd0d89d",
	}, foo.Roms[0])

	clone := doc.Games[1]
	assert.Equal(t, "Foo (USA)", clone.CloneOf)
	assert.Equal(t, "Foo (USA)", clone.RomOf)
	assert.Equal(t, "Foo (USA).nes", clone.Roms[0].Merge)

	broken := doc.Games[2]
	require.Len(t, broken.Roms, 1)
	assert.Equal(t, "e.bin", broken.Roms[0].Name)

	reasons := make(map[string]string)
	for _, e := range doc.Errors {
		reasons[e.Game+"/"+e.Rom] = e.Reason
	}
	assert.Contains(t, reasons["Broken/a.bin"], "invalid size")
	assert.Contains(t, reasons["Broken/b.bin"], "invalid crc")
	assert.Contains(t, reasons["Broken/c.bin"], "nodump")
	assert.Contains(t, reasons["Broken/d.bin"], "invalid sha1")
	assert.Contains(t, reasons["nameless/"], "no name")
	assert.Len(t, doc.Errors, 5)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{name: "broken xml", in: `<datafile><header><name>x</name></header><game name="a">`},
		{name: "no header", in: `<datafile><game name="a"/></datafile>`},
		{name: "empty header name", in: `<datafile><header><name> </name></header></datafile>`},
		{name: "empty input", in: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.in))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestRecordError_Error(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Foo: rom a.bin: bad", RecordError{Game: "Foo", Rom: "a.bin", Reason: "bad"}.Error())
	assert.Equal(t, "Foo: bad", RecordError{Game: "Foo", Reason: "bad"}.Error())
}
