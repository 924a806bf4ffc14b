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
	"strings"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent reports whether s matches the strict identifier grammar
// required before any table/column name is interpolated into DDL/DML.
func validIdent(s string) bool {
	return identRe.MatchString(s)
}

// quoteIdent double-quotes an identifier after validating it against the
// strict grammar. Most column and table names it sees have already been
// through TableBinding.Validate or Describe, but Oracle also permits
// unquoted identifiers containing $, _, and # that the strict grammar
// rejects; those surface here as an ErrTypeUnmappable rather than a panic.
func quoteIdent(s string) (string, error) {
	if !validIdent(s) {
		return "", newError(ErrTypeUnmappable, false, "identifier not supported: "+s, nil)
	}
	return `"` + s + `"`, nil
}

func quoteIdentList(idents []string) (string, error) {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		q, err := quoteIdent(id)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, ", "), nil
}
