// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package catalog

import (
	"bytes"
	"strings"
	"testing"
)

// invariant #8: first name match scanning from the tail wins on update.
func TestSourceSetScansFromTail(t *testing.T) {
	s := &Source{Identifier: "A"}
	s.SetFloat("x", 1.0, "pix", "")
	s.SetFloat("y", 2.0, "pix", "")
	s.SetFloat("x", 3.0, "pix", "")
	if got := s.Float("x"); got != 3.0 {
		t.Fatalf("Float(x) = %v want 3.0", got)
	}
	if len(s.Params) != 2 {
		t.Fatalf("expected update in place, got %d params", len(s.Params))
	}
}

func TestCatalogPushRefusesDuplicateIdentity(t *testing.T) {
	cat := &Catalog{}
	s := &Source{Identifier: "A"}
	if err := cat.Push(s); err != nil {
		t.Fatalf("first Push: %v", err)
	}
	if err := cat.Push(s); err == nil {
		t.Fatalf("expected error pushing duplicate source identity")
	}
}

func TestCatalogByIdentifierScansFromEnd(t *testing.T) {
	cat := &Catalog{}
	s1 := &Source{Identifier: "dup"}
	s2 := &Source{Identifier: "dup"}
	cat.Push(s1)
	cat.Push(s2)
	got, ok := cat.ByIdentifier("dup")
	if !ok || got != s2 {
		t.Fatalf("expected last-added match s2, got %v (ok=%v)", got, ok)
	}
}

func TestWriteASCIIProducesThreeCommentRows(t *testing.T) {
	cat := &Catalog{}
	s := &Source{Identifier: "SoFiA J000000.00+000000.0"}
	s.SetInt("id", 1, "-", "meta.id")
	s.SetFloat("f_sum", 12.5, "Jy", "phot.flux")
	cat.Push(s)

	var buf bytes.Buffer
	if err := WriteASCII(cat, &buf); err != nil {
		t.Fatalf("WriteASCII: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 3 header rows + 1 data row, got %d lines", len(lines))
	}
	for i := 0; i < 3; i++ {
		if !strings.HasPrefix(lines[i], "#") {
			t.Fatalf("line %d should start with #, got %q", i, lines[i])
		}
	}
}

func TestWriteVOTableProducesValidStructure(t *testing.T) {
	cat := &Catalog{}
	s := &Source{Identifier: "SoFiA J000000.00+000000.0"}
	s.SetFloat("f_sum", 12.5, "Jy", "phot.flux")
	cat.Push(s)

	var buf bytes.Buffer
	if err := WriteVOTable(cat, &buf); err != nil {
		t.Fatalf("WriteVOTable: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<VOTABLE>") || !strings.Contains(out, "<TABLE>") {
		t.Fatalf("expected VOTABLE/TABLE elements, got:\n%s", out)
	}
	if !strings.Contains(out, `name="f_sum"`) {
		t.Fatalf("expected FIELD for f_sum, got:\n%s", out)
	}
}
