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

// Package fingerprint computes content digests over a byte stream in a single
// forward pass.
package fingerprint

import (
	"crypto/md5" //nolint:gosec // catalogs publish md5
	"crypto/sha1" //nolint:gosec // catalogs publish sha1
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"
)

// Kind names a digest algorithm.
type Kind string

const (
	CRC32 Kind = "crc32"
	MD5   Kind = "md5"
	SHA1  Kind = "sha1"
)

// ErrShortSource is returned when a source ends before the requested skip
// offset.
var ErrShortSource = errors.New("source shorter than header skip")

// Set is a bitmask of requested digest kinds.
type Set uint8

const (
	SetCRC32 Set = 1 << iota
	SetMD5
	SetSHA1
)

// All requests every supported digest.
const All = SetCRC32 | SetMD5 | SetSHA1

func bit(k Kind) Set {
	switch k {
	case CRC32:
		return SetCRC32
	case MD5:
		return SetMD5
	case SHA1:
		return SetSHA1
	default:
		return 0
	}
}

// NewSet builds a Set from kinds. CRC32 is always included because it is the
// quick rejection checksum.
func NewSet(kinds ...Kind) Set {
	s := SetCRC32
	for _, k := range kinds {
		s |= bit(k)
	}
	return s
}

// ParseKinds converts names like "sha1" into a Set. Unknown names are an
// error.
func ParseKinds(names []string) (Set, error) {
	s := SetCRC32
	for _, n := range names {
		k := Kind(strings.ToLower(strings.TrimSpace(n)))
		b := bit(k)
		if b == 0 {
			return 0, fmt.Errorf("unknown digest kind: %s", n)
		}
		s |= b
	}
	return s, nil
}

func (s Set) Has(k Kind) bool {
	return s&bit(k) != 0
}

func (s Set) With(k Kind) Set {
	return s | bit(k)
}

// Kinds returns the kinds in the set, weakest first.
func (s Set) Kinds() []Kind {
	kinds := make([]Kind, 0, 3)
	for _, k := range []Kind{CRC32, MD5, SHA1} {
		if s.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Cryptographic reports whether the set contains at least one digest strong
// enough for authoritative matching.
func (s Set) Cryptographic() bool {
	return s.Has(MD5) || s.Has(SHA1)
}

// Digests holds lower case hex digests and the number of hashed bytes.
type Digests struct {
	CRC32 string
	MD5   string
	SHA1  string
	Size  int64
}

// Get returns the digest of the given kind, or "" if it was not computed.
func (d Digests) Get(k Kind) string {
	switch k {
	case CRC32:
		return d.CRC32
	case MD5:
		return d.MD5
	case SHA1:
		return d.SHA1
	default:
		return ""
	}
}

// Strongest returns the strongest kind present in both d and other.
func (d Digests) Strongest(other Digests) (Kind, bool) {
	for _, k := range []Kind{SHA1, MD5, CRC32} {
		if d.Get(k) != "" && other.Get(k) != "" {
			return k, true
		}
	}
	return "", false
}

// Equal compares the digest of one kind. Missing values never compare equal.
func (d Digests) Equal(other Digests, k Kind) bool {
	a, b := d.Get(k), other.Get(k)
	return a != "" && strings.EqualFold(a, b)
}

// Same reports whether every digest present on both sides agrees, along with
// the size. At least one digest has to be shared.
func (d Digests) Same(other Digests) bool {
	if d.Size != other.Size {
		return false
	}
	shared := false
	for _, k := range []Kind{CRC32, MD5, SHA1} {
		a, b := d.Get(k), other.Get(k)
		if a == "" || b == "" {
			continue
		}
		if !strings.EqualFold(a, b) {
			return false
		}
		shared = true
	}
	return shared
}

// Compute reads r once and returns the requested digests. The first skip
// bytes are consumed but not hashed, and Size reports only hashed bytes. On
// error no digests are returned.
func Compute(r io.Reader, kinds Set, skip int64) (Digests, error) {
	if skip > 0 {
		n, err := io.CopyN(io.Discard, r, skip)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Digests{}, fmt.Errorf("%w: got %d of %d bytes", ErrShortSource, n, skip)
			}
			return Digests{}, fmt.Errorf("failed to skip header: %w", err)
		}
	}

	crc := crc32.NewIEEE()
	writers := []io.Writer{crc}
	var md5Hash, sha1Hash hash.Hash
	if kinds.Has(MD5) {
		md5Hash = md5.New() //nolint:gosec // catalog digest
		writers = append(writers, md5Hash)
	}
	if kinds.Has(SHA1) {
		sha1Hash = sha1.New() //nolint:gosec // catalog digest
		writers = append(writers, sha1Hash)
	}

	n, err := io.Copy(io.MultiWriter(writers...), r)
	if err != nil {
		return Digests{}, fmt.Errorf("failed to read source for hashing: %w", err)
	}

	d := Digests{
		CRC32: fmt.Sprintf("%08x", crc.Sum32()),
		Size:  n,
	}
	if md5Hash != nil {
		d.MD5 = fmt.Sprintf("%x", md5Hash.Sum(nil))
	}
	if sha1Hash != nil {
		d.SHA1 = fmt.Sprintf("%x", sha1Hash.Sum(nil))
	}
	return d, nil
}

// Normalize lower cases a hex digest and strips surrounding space.
func Normalize(hex string) string {
	return strings.ToLower(strings.TrimSpace(hex))
}
