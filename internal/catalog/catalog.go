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

// Package catalog implements the ordered Source/Catalog model and its two
// on-disk formats (fixed-width ASCII, VOTable XML). Source's named/typed/
// unit-carrying parameter list is grounded on the teacher's Header
// map-of-maps idiom in internal/fits/fits.go, generalized from "four maps
// keyed by string" into one ordered parameter list that preserves
// insertion order and scans from the tail on update, per spec.md §3.
package catalog

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Kind is a parameter's value domain.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
)

// Param is one named, typed, unit-carrying Source parameter.
type Param struct {
	Name  string
	Kind  Kind
	IVal  int64
	FVal  float64
	Unit  string
	UCD   string
}

// Source is an ordered list of parameters plus an identifier string.
type Source struct {
	Identifier string
	Params     []Param
}

// SetFloat updates the first parameter matching name scanning from the tail, or
// appends a new one if none match - per spec.md §3 ("first name match,
// scanning from the tail, wins on update").
func (s *Source) SetFloat(name string, v float64, unit, ucd string) {
	for i := len(s.Params) - 1; i >= 0; i-- {
		if s.Params[i].Name == name {
			s.Params[i].Kind = KindFloat
			s.Params[i].FVal = v
			s.Params[i].Unit = unit
			s.Params[i].UCD = ucd
			return
		}
	}
	s.Params = append(s.Params, Param{Name: name, Kind: KindFloat, FVal: v, Unit: unit, UCD: ucd})
}

func (s *Source) SetInt(name string, v int64, unit, ucd string) {
	for i := len(s.Params) - 1; i >= 0; i-- {
		if s.Params[i].Name == name {
			s.Params[i].Kind = KindInt
			s.Params[i].IVal = v
			s.Params[i].Unit = unit
			s.Params[i].UCD = ucd
			return
		}
	}
	s.Params = append(s.Params, Param{Name: name, Kind: KindInt, IVal: v, Unit: unit, UCD: ucd})
}

// Get returns the first matching parameter scanning from the tail, and
// whether one was found.
func (s *Source) Get(name string) (Param, bool) {
	for i := len(s.Params) - 1; i >= 0; i-- {
		if s.Params[i].Name == name {
			return s.Params[i], true
		}
	}
	return Param{}, false
}

func (s *Source) Float(name string) float64 {
	p, _ := s.Get(name)
	return p.FVal
}

func (s *Source) Int(name string) int64 {
	p, _ := s.Get(name)
	return p.IVal
}

// Catalog is an ordered, owning sequence of sources.
type Catalog struct {
	sources []*Source
}

// Push appends src, refusing a duplicate Source pointer identity.
func (c *Catalog) Push(src *Source) error {
	for _, s := range c.sources {
		if s == src {
			return fmt.Errorf("catalog: source %p already present", src)
		}
	}
	c.sources = append(c.sources, src)
	return nil
}

// IndexOf returns the position of src, or -1 if not found.
func (c *Catalog) IndexOf(src *Source) int {
	for i, s := range c.sources {
		if s == src {
			return i
		}
	}
	return -1
}

// ByIdentifier scans from the end for the last Source with the given
// identifier.
func (c *Catalog) ByIdentifier(id string) (*Source, bool) {
	for i := len(c.sources) - 1; i >= 0; i-- {
		if c.sources[i].Identifier == id {
			return c.sources[i], true
		}
	}
	return nil, false
}

// At returns the source at index i, in O(1).
func (c *Catalog) At(i int) *Source { return c.sources[i] }

// Len returns the number of sources.
func (c *Catalog) Len() int { return len(c.sources) }

// All returns the underlying slice of sources, in catalog order.
func (c *Catalog) All() []*Source { return c.sources }

// WriteASCII renders the catalog as a fixed-width table: three comment
// header rows (column index, name, unit) followed by one space-prefixed
// data row per source, per spec.md §4.8.
func WriteASCII(cat *Catalog, w io.Writer) error {
	if cat.Len() == 0 {
		return nil
	}
	first := cat.At(0)
	names := make([]string, len(first.Params)+1)
	units := make([]string, len(first.Params)+1)
	names[0] = "id"
	units[0] = "-"
	for i, p := range first.Params {
		names[i+1] = p.Name
		units[i+1] = p.Unit
	}

	width := 16
	var idxRow, nameRow, unitRow strings.Builder
	idxRow.WriteString("#")
	nameRow.WriteString("#")
	unitRow.WriteString("#")
	for i := range names {
		idxRow.WriteString(padRight(fmt.Sprintf("(%d)", i+1), width))
		nameRow.WriteString(padRight(names[i], width))
		unitRow.WriteString(padRight(units[i], width))
	}
	if _, err := fmt.Fprintln(w, idxRow.String()); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, nameRow.String()); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, unitRow.String()); err != nil {
		return err
	}

	for _, s := range cat.sources {
		var row strings.Builder
		row.WriteString(" ")
		row.WriteString(padRight(s.Identifier, width))
		for _, p := range s.Params {
			var field string
			if p.Kind == KindInt {
				field = fmt.Sprintf("%d", p.IVal)
			} else {
				field = fmt.Sprintf("%g", p.FVal)
			}
			row.WriteString(padRight(field, width))
		}
		if _, err := fmt.Fprintln(w, row.String()); err != nil {
			return err
		}
	}
	return nil
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s[:width-1] + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}

// VOTable XML structures, per spec.md §4.8 ("standard VOTABLE/RESOURCE/
// TABLE structure with one FIELD per parameter").
type voTable struct {
	XMLName  xml.Name   `xml:"VOTABLE"`
	Resource voResource `xml:"RESOURCE"`
}

type voResource struct {
	Table voTableBody `xml:"TABLE"`
}

type voTableBody struct {
	Fields []voField `xml:"FIELD"`
	Data   voData    `xml:"DATA"`
}

type voField struct {
	Name     string `xml:"name,attr"`
	Datatype string `xml:"datatype,attr"`
	Unit     string `xml:"unit,attr,omitempty"`
	UCD      string `xml:"ucd,attr,omitempty"`
}

type voData struct {
	TableData voTabledata `xml:"TABLEDATA"`
}

type voTabledata struct {
	Rows []voRow `xml:"TR"`
}

type voRow struct {
	Cells []string `xml:"TD"`
}

// WriteVOTable renders the catalog as a VOTable XML document.
func WriteVOTable(cat *Catalog, w io.Writer) error {
	vt := voTable{}
	if cat.Len() > 0 {
		first := cat.At(0)
		vt.Resource.Table.Fields = append(vt.Resource.Table.Fields, voField{Name: "id", Datatype: "char"})
		for _, p := range first.Params {
			dt := "double"
			if p.Kind == KindInt {
				dt = "long"
			}
			vt.Resource.Table.Fields = append(vt.Resource.Table.Fields, voField{Name: p.Name, Datatype: dt, Unit: p.Unit, UCD: p.UCD})
		}
	}
	for _, s := range cat.sources {
		row := voRow{Cells: []string{s.Identifier}}
		for _, p := range s.Params {
			if p.Kind == KindInt {
				row.Cells = append(row.Cells, fmt.Sprintf("%d", p.IVal))
			} else {
				row.Cells = append(row.Cells, fmt.Sprintf("%g", p.FVal))
			}
		}
		vt.Resource.Table.Data.TableData.Rows = append(vt.Resource.Table.Data.TableData.Rows, row)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if _, err := fmt.Fprint(w, xml.Header); err != nil {
		return err
	}
	return enc.Encode(vt)
}
