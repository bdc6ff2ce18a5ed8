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

// Package linker implements connected-component labelling of the detection
// mask: an explicit-stack flood fill over an ellipsoidal anisotropic
// neighbourhood, gated by size and (optionally) flux sign. The
// growable-by-label parameter table is grounded on the teacher's
// sync.Pool-of-fixed-size-arrays idiom in internal/pool.go, generalized
// from "borrow a fixed-size array, return it later" into a plain growable
// push/pop table indexed by label - pool.go's approach doesn't fit here
// since label count isn't known up front and labels are popped out of
// order on rejection.
package linker

import (
	"fmt"
	"math"

	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/logx"
)

// Flag bits OR-ed into a source's flag field, per spec.md §3.
const (
	FlagSpatialBoundary  = 1
	FlagSpectralBoundary = 2
	FlagHasBadNeighbour  = 4
	FlagTouchesOther     = 8
)

// Entry is one LinkerParameters row: the running aggregate for one label.
type Entry struct {
	Label                              int32
	XMin, XMax, YMin, YMax, ZMin, ZMax int32
	NPix                               int64
	FSum, FMin, FMax                   float64
	Flag                               int32
	RMS                                float64 // global rms passed through for Parameteriser
}

func newEntry(label int32, x, y, z int32, flux, rms float64) Entry {
	return Entry{
		Label: label,
		XMin:  x, XMax: x, YMin: y, YMax: y, ZMin: z, ZMax: z,
		NPix: 1, FSum: flux, FMin: flux, FMax: flux, RMS: rms,
	}
}

func (e *Entry) update(x, y, z int32, flux float64, flagOr int32) {
	if x < e.XMin {
		e.XMin = x
	}
	if x > e.XMax {
		e.XMax = x
	}
	if y < e.YMin {
		e.YMin = y
	}
	if y > e.YMax {
		e.YMax = y
	}
	if z < e.ZMin {
		e.ZMin = z
	}
	if z > e.ZMax {
		e.ZMax = z
	}
	e.NPix++
	e.FSum += flux
	if flux < e.FMin {
		e.FMin = flux
	}
	if flux > e.FMax {
		e.FMax = flux
	}
	e.Flag |= flagOr
}

// Table is the growable LinkerParameters array, indexed by label-1.
type Table struct {
	entries []Entry
}

// NewTable wraps a pre-built slice of entries, e.g. for tests that exercise
// downstream stages (MaskGrower, Parameteriser) without running Link first.
func NewTable(entries []Entry) *Table { return &Table{entries: entries} }

func (t *Table) push(e Entry) { t.entries = append(t.entries, e) }

// pop removes the last entry - used when the most recently assigned label
// is rejected by the size/flux gates, so the next label can reuse its slot.
func (t *Table) pop() { t.entries = t.entries[:len(t.entries)-1] }

func (t *Table) get(label int32) *Entry { return &t.entries[label-1] }

// Entries returns the accepted LinkerParameters rows, one per final label,
// in label order.
func (t *Table) Entries() []Entry { return t.entries }

// Params configures one Link call.
type Params struct {
	Rx, Ry, Rz                         float64 // ellipsoidal neighbourhood radii
	MinX, MinY, MinZ, MaxX, MaxY, MaxZ int32   // size gates; MaxX/Y/Z==0 disables that upper bound
	PositiveOnly                      bool
	RMS                                float64
}

// stack is an explicit LIFO of flattened voxel indices, replacing the
// recursive neighbour expansion spec.md §9 flags as something to not carry
// forward as recursion (stack overflow risk on large connected components).
type stack struct {
	items []int64
}

func (s *stack) push(v int64)  { s.items = append(s.items, v) }
func (s *stack) pop() int64 {
	n := len(s.items) - 1
	v := s.items[n]
	s.items = s.items[:n]
	return v
}
func (s *stack) empty() bool { return len(s.items) == 0 }

// Link labels data's detection mask in place, converting mask to an i32
// label cube (the caller must pass a pre-allocated i32 cube the same shape
// as data, whose nonzero entries have already been set to -1 to mark
// detected voxels). Returns the accepted LinkerParameters table, dense in
// 1..N.
func Link(data *cube.Cube, mask *cube.Cube, p Params, log logx.Logger) (*Table, error) {
	if mask.Dtype != cube.I32 {
		return nil, fmt.Errorf("linker: mask must be an i32 cube")
	}
	if log == nil {
		log = logx.NopLogger{}
	}
	nx, ny, nz := data.Nx, data.Ny, data.Nz
	values := data.DataF32()
	labels := mask.DataI32()

	idx := func(x, y, z int32) int64 {
		return int64(x) + int64(nx)*(int64(y)+int64(ny)*int64(z))
	}

	rx2 := p.Rx * p.Rx
	ry2 := p.Ry * p.Ry
	rz2 := p.Rz * p.Rz
	rxCeil := int32(math.Ceil(p.Rx))
	ryCeil := int32(math.Ceil(p.Ry))
	rzCeil := int32(math.Ceil(p.Rz))

	table := &Table{}
	nextLabel := int32(1)
	var st stack

	n := int64(nx) * int64(ny) * int64(nz)
	for i := n - 1; i >= 0; i-- {
		if labels[i] != -1 {
			continue
		}
		if math.IsNaN(float64(values[i])) || math.IsInf(float64(values[i]), 0) {
			labels[i] = 0
			continue
		}

		label := nextLabel
		z := int32(i / (int64(nx) * int64(ny)))
		rem := i % (int64(nx) * int64(ny))
		y := int32(rem / int64(nx))
		x := int32(rem % int64(nx))

		labels[i] = label
		entry := newEntry(label, x, y, z, float64(values[i]), p.RMS)
		if x == 0 || x == nx-1 || y == 0 || y == ny-1 {
			entry.Flag |= FlagSpatialBoundary
		}
		if z == 0 || z == nz-1 {
			entry.Flag |= FlagSpectralBoundary
		}
		table.push(entry)
		st.push(i)

		for !st.empty() {
			ci := st.pop()
			cz := int32(ci / (int64(nx) * int64(ny)))
			crem := ci % (int64(nx) * int64(ny))
			cy := int32(crem / int64(nx))
			cx := int32(crem % int64(nx))

			e := table.get(label)
			xlo, xhi := cx-rxCeil, cx+rxCeil
			ylo, yhi := cy-ryCeil, cy+ryCeil
			zlo, zhi := cz-rzCeil, cz+rzCeil
			if xlo < 0 {
				xlo = 0
			}
			if xhi > nx-1 {
				xhi = nx - 1
			}
			if ylo < 0 {
				ylo = 0
			}
			if yhi > ny-1 {
				yhi = ny - 1
			}
			if zlo < 0 {
				zlo = 0
			}
			if zhi > nz-1 {
				zhi = nz - 1
			}

			for nz2 := zlo; nz2 <= zhi; nz2++ {
				dz := float64(nz2 - cz)
				for ny2 := ylo; ny2 <= yhi; ny2++ {
					dy := float64(ny2 - cy)
					for nx2 := xlo; nx2 <= xhi; nx2++ {
						dx := float64(nx2 - cx)
						if dx == 0 && dy == 0 && dz == 0 {
							continue
						}
						if rx2 > 0 && ry2 > 0 && rz2 > 0 {
							if (dx*dx)/rx2+(dy*dy)/ry2+(dz*dz)/rz2 > 1 {
								continue
							}
						}
						ni := idx(nx2, ny2, nz2)
						v := values[ni]
						switch {
						case math.IsNaN(float64(v)) || math.IsInf(float64(v), 0):
							labels[ni] = 0
							e.Flag |= FlagHasBadNeighbour
						case labels[ni] == -1:
							labels[ni] = label
							flagOr := int32(0)
							if nx2 == 0 || nx2 == nx-1 || ny2 == 0 || ny2 == ny-1 {
								flagOr |= FlagSpatialBoundary
							}
							if nz2 == 0 || nz2 == nz-1 {
								flagOr |= FlagSpectralBoundary
							}
							e.update(nx2, ny2, nz2, float64(v), flagOr)
							st.push(ni)
						case labels[ni] > 0 && labels[ni] != label:
							e.Flag |= FlagTouchesOther
						}
					}
				}
			}
		}

		e := table.get(label)
		accept := sizeOK(*e, p) && (!p.PositiveOnly || e.FSum > 0)
		if !accept {
			for z := e.ZMin; z <= e.ZMax; z++ {
				for y := e.YMin; y <= e.YMax; y++ {
					for x := e.XMin; x <= e.XMax; x++ {
						li := idx(x, y, z)
						if labels[li] == label {
							labels[li] = 0
						}
					}
				}
			}
			table.pop()
			continue
		}
		if nextLabel == math.MaxInt32 {
			return nil, fmt.Errorf("linker: label overflow beyond int32 max")
		}
		nextLabel++
	}

	log.Infof("linker: accepted %d labels", len(table.entries))
	return table, nil
}

func sizeOK(e Entry, p Params) bool {
	extX := e.XMax - e.XMin + 1
	extY := e.YMax - e.YMin + 1
	extZ := e.ZMax - e.ZMin + 1
	if extX < p.MinX || extY < p.MinY || extZ < p.MinZ {
		return false
	}
	if p.MaxX > 0 && extX > p.MaxX {
		return false
	}
	if p.MaxY > 0 && extY > p.MaxY {
		return false
	}
	if p.MaxZ > 0 && extZ > p.MaxZ {
		return false
	}
	return true
}
