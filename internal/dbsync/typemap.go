/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dbsync

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var numberParamsRe = regexp.MustCompile(`^NUMBER\s*\(\s*(\d+)\s*(?:,\s*(-?\d+)\s*)?\)$`)

// MapSourceType deterministically maps a source column type string to a
// TargetType. Matching is case-insensitive and rule order matters: the
// first matching rule wins. An unrecognized type is never silently
// coerced — it fails with ErrTypeUnmappable.
//
// Rules (spec order):
//  1. NUMBER(p,0) with p<=9, INT*, SMALLINT                -> Integer
//  2. NUMBER(p,s) with s>0, DECIMAL*, NUMERIC*              -> Decimal
//  3. NUMBER(p,0) with p>9, FLOAT*, BINARY_FLOAT,
//     BINARY_DOUBLE, bare NUMBER                            -> Double
//  4. TIMESTAMP*, DATE                                       -> Timestamp
//  5. CHAR*, VARCHAR*, NCHAR*, CLOB                          -> VarChar
//  6. anything else                                          -> error
func MapSourceType(sourceType string) (TargetType, error) {
	t := strings.ToUpper(strings.TrimSpace(sourceType))

	if m := numberParamsRe.FindStringSubmatch(t); m != nil {
		precision, _ := strconv.Atoi(m[1])
		scale := 0
		if m[2] != "" {
			scale, _ = strconv.Atoi(m[2])
		}
		if scale > 0 {
			return TargetDecimal, nil
		}
		if precision <= 9 {
			return TargetInteger, nil
		}
		return TargetDouble, nil
	}

	switch {
	case hasPrefix(t, "INT"), hasPrefix(t, "SMALLINT"):
		return TargetInteger, nil
	case hasPrefix(t, "DECIMAL"), hasPrefix(t, "NUMERIC"):
		return TargetDecimal, nil
	case hasPrefix(t, "FLOAT"), t == "BINARY_FLOAT", t == "BINARY_DOUBLE", t == "NUMBER":
		return TargetDouble, nil
	case hasPrefix(t, "TIMESTAMP"), t == "DATE":
		return TargetTimestamp, nil
	case hasPrefix(t, "CHAR"), hasPrefix(t, "VARCHAR"), hasPrefix(t, "NCHAR"), t == "CLOB":
		return TargetVarChar, nil
	default:
		return "", newError(ErrTypeUnmappable, false, "unmappable source type "+strconv.Quote(sourceType), nil)
	}
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// BuildMapping computes the full SchemaMapping for a table's ColumnSpecs by
// applying MapSourceType to every column. It is pure and side-effect-free:
// the Sync Engine calls it before any DDL is issued. version is the
// caller-supplied version number; callers compare the result against a
// stored mapping (SameColumnSet/TypeDrift) to decide whether to bump it.
func BuildMapping(columns []ColumnSpec, version int, createdAt time.Time) (*SchemaMapping, error) {
	mapped := make([]ColumnSpec, len(columns))
	for i, c := range columns {
		target, err := MapSourceType(c.SourceType)
		if err != nil {
			return nil, err
		}
		c.TargetType = target
		mapped[i] = c
	}
	return &SchemaMapping{Version: version, Columns: mapped, CreatedAt: createdAt}, nil
}
