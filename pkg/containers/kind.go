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
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind identifies a physical container format. The set is closed: every
// switch over Kind in this package is exhaustive.
type Kind int

const (
	KindUnknown Kind = iota
	KindFlat
	KindZip
	Kind7z
	KindCSO
	KindCHD
)

var (
	ErrUnsupportedContainer = errors.New("unsupported container")
	ErrSizeMismatch         = errors.New("declared size mismatch")
	ErrCorrupt              = errors.New("corrupt container")
	ErrReadOnly             = errors.New("container kind is read-only")
	ErrEntryNotFound        = errors.New("entry not found")
	ErrSingleEntry          = errors.New("container holds a single entry")
	ErrUnsupportedVersion   = fmt.Errorf("%w: unsupported version", ErrUnsupportedContainer)
)

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magic7z       = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}
	magicCSO      = []byte("CISO")
	magicCHD      = []byte("MComprHD")
)

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindFlat, KindZip, Kind7z, KindCSO, KindCHD}
}

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindZip:
		return "zip"
	case Kind7z:
		return "7z"
	case KindCSO:
		return "cso"
	case KindCHD:
		return "chd"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Ext returns the filename extension conventionally used for the kind. Flat
// files keep whatever extension they had, so it returns "".
func (k Kind) Ext() string {
	switch k {
	case KindZip:
		return ".zip"
	case Kind7z:
		return ".7z"
	case KindCSO:
		return ".cso"
	case KindCHD:
		return ".chd"
	case KindFlat, KindUnknown:
		return ""
	default:
		return ""
	}
}

// Writable reports whether this module can encode the kind.
func (k Kind) Writable() bool {
	switch k {
	case KindFlat, KindZip, KindCSO, KindCHD:
		return true
	case Kind7z, KindUnknown:
		return false
	default:
		return false
	}
}

// MultiEntry reports whether the kind can hold more than one entry.
func (k Kind) MultiEntry() bool {
	switch k {
	case KindZip, Kind7z:
		return true
	case KindFlat, KindCSO, KindCHD, KindUnknown:
		return false
	default:
		return false
	}
}

// ParseKind maps a name such as "zip" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flat", "raw", "file":
		return KindFlat, nil
	case "zip":
		return KindZip, nil
	case "7z", "sevenzip":
		return Kind7z, nil
	case "cso", "ciso":
		return KindCSO, nil
	case "chd":
		return KindCHD, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnsupportedContainer, s)
	}
}

// Detect identifies a container by its leading signature. File extensions
// are never consulted. Unrecognized signatures yield ErrUnsupportedContainer;
// it is up to the caller to decide whether such a file is a flat file.
func Detect(r io.ReaderAt, size int64) (Kind, error) {
	buf := make([]byte, 8)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return KindUnknown, fmt.Errorf("failed to read signature: %w", err)
	}
	if int64(n) > size {
		n = int(size)
	}
	buf = buf[:n]

	switch {
	case bytes.HasPrefix(buf, magicZip), bytes.HasPrefix(buf, magicZipEmpty):
		return KindZip, nil
	case bytes.HasPrefix(buf, magic7z):
		return Kind7z, nil
	case bytes.HasPrefix(buf, magicCSO):
		return KindCSO, nil
	case bytes.HasPrefix(buf, magicCHD):
		return KindCHD, nil
	default:
		return KindUnknown, ErrUnsupportedContainer
	}
}
