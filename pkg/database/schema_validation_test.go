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

package database

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Nullable columns must scan into sql.Null* fields. Every other column is
// declared not null and scans into a plain type.
func TestSchema_NullableFieldsUseCorrectTypes(t *testing.T) {
	t.Parallel()

	type fieldSpec struct {
		structType reflect.Type
		fieldName  string
		expectType string
	}

	nullableFields := []fieldSpec{
		{
			structType: reflect.TypeOf(Game{}),
			fieldName:  "ParentDBID",
			expectType: "sql.NullInt64",
		},
	}

	for _, want := range nullableFields {
		t.Run(want.structType.Name()+"."+want.fieldName, func(t *testing.T) {
			t.Parallel()
			field, found := want.structType.FieldByName(want.fieldName)
			assert.True(t, found, "Field %s.%s not found in struct",
				want.structType.Name(), want.fieldName)
			assert.Equal(t, want.expectType, field.Type.String(),
				"Field %s.%s must match its nullable column", want.structType.Name(), want.fieldName)
		})
	}
}

func TestSchema_OtherFieldsAreNotNullable(t *testing.T) {
	t.Parallel()

	for _, typ := range []reflect.Type{
		reflect.TypeOf(System{}),
		reflect.TypeOf(HeaderRule{}),
		reflect.TypeOf(Rom{}),
		reflect.TypeOf(RomFile{}),
		reflect.TypeOf(Conversion{}),
	} {
		for i := range typ.NumField() {
			f := typ.Field(i)
			assert.NotContains(t, f.Type.String(), "sql.Null",
				"%s.%s has no nullable column", typ.Name(), f.Name)
		}
	}
}
