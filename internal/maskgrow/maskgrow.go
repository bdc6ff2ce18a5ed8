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

// Package maskgrow implements spatial (xy disc) and spectral (+-1 channel)
// mask dilation, gated by integrated-flux convergence per source. Grounded
// on the same transient-label idiom as internal/linker (flood the -1
// marker, then either promote or roll it back), generalized here to a
// bounded per-iteration disc scan rather than an unbounded flood.
package maskgrow

import (
	"math"

	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/linker"
	"github.com/cubeline/srcfind/internal/logx"
)

// Params configures one Grow call.
type Params struct {
	IterMax   int
	Threshold float64 // <0 = always dilate by IterMax iterations unconditionally
}

// candidate is one voxel found touchable during a dilation iteration.
type candidate struct {
	x, y, z int32
}

// Grow mutates mask and the entries in table in place, performing spatial
// then spectral dilation for every accepted source.
func Grow(data *cube.Cube, mask *cube.Cube, table *linker.Table, p Params, log logx.Logger) error {
	if log == nil {
		log = logx.NopLogger{}
	}
	entries := table.Entries()
	for i := range entries {
		growSpatial(data, mask, &entries[i], p, log)
		growSpectral(data, mask, &entries[i], p, log)
	}
	return nil
}

func idxOf(nx, ny int32, x, y, z int32) int64 {
	return int64(x) + int64(nx)*(int64(y)+int64(ny)*int64(z))
}

// growSpatial iterates xy discs of growing radius until convergence or
// IterMax, per spec.md §4.6.
func growSpatial(data *cube.Cube, mask *cube.Cube, e *linker.Entry, p Params, log logx.Logger) {
	nx, ny := data.Nx, data.Ny
	values := data.DataF32()
	labels := mask.DataI32()
	srcID := e.Label

	for r := 1; r <= p.IterMax; r++ {
		r2 := float64(r) * float64(r)
		var touched []candidate
		deltaF, fMin, fMax := 0.0, math.Inf(1), math.Inf(-1)
		flagOr := int32(0)
		xMin, xMax, yMin, yMax := e.XMax, e.XMin, e.YMax, e.YMin // start inverted, extend below

		for z := e.ZMin; z <= e.ZMax; z++ {
			for y := e.YMin; y <= e.YMax; y++ {
				for x := e.XMin; x <= e.XMax; x++ {
					if labels[idxOf(nx, ny, x, y, z)] != srcID {
						continue
					}
					xlo, xhi := x-int32(r), x+int32(r)
					ylo, yhi := y-int32(r), y+int32(r)
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
					if x-int32(r) < 0 || x+int32(r) > nx-1 || y-int32(r) < 0 || y+int32(r) > ny-1 {
						flagOr |= linker.FlagSpatialBoundary
					}

					for ny2 := ylo; ny2 <= yhi; ny2++ {
						dy := float64(ny2 - y)
						for nx2 := xlo; nx2 <= xhi; nx2++ {
							dx := float64(nx2 - x)
							if dx*dx+dy*dy > r2 {
								continue
							}
							ni := idxOf(nx, ny, nx2, ny2, z)
							lv := labels[ni]
							v := values[ni]
							switch {
							case lv == -1:
								// already claimed by another source voxel this iteration
								continue
							case lv == 0:
								if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
									continue
								}
								labels[ni] = -1
								touched = append(touched, candidate{nx2, ny2, z})
								fv := float64(v)
								deltaF += fv
								if fv < fMin {
									fMin = fv
								}
								if fv > fMax {
									fMax = fv
								}
								if nx2 < xMin {
									xMin = nx2
								}
								if nx2 > xMax {
									xMax = nx2
								}
								if ny2 < yMin {
									yMin = ny2
								}
								if ny2 > yMax {
									yMax = ny2
								}
							case lv > 0 && lv != srcID:
								flagOr |= linker.FlagTouchesOther
							case math.IsNaN(float64(v)) || math.IsInf(float64(v), 0):
								flagOr |= linker.FlagHasBadNeighbour
							}
						}
					}
				}
			}
		}

		if !keepIteration(deltaF, e.FSum, p.Threshold) {
			for _, c := range touched {
				labels[idxOf(nx, ny, c.x, c.y, c.z)] = 0
			}
			log.Debugf("maskgrow: spatial dilation of label %d stopped at radius %d", srcID, r)
			return
		}

		for _, c := range touched {
			labels[idxOf(nx, ny, c.x, c.y, c.z)] = srcID
		}
		e.FSum += deltaF
		if len(touched) > 0 {
			if fMin < e.FMin {
				e.FMin = fMin
			}
			if fMax > e.FMax {
				e.FMax = fMax
			}
		}
		if xMin < e.XMin {
			e.XMin = xMin
		}
		if xMax > e.XMax {
			e.XMax = xMax
		}
		if yMin < e.YMin {
			e.YMin = yMin
		}
		if yMax > e.YMax {
			e.YMax = yMax
		}
		e.NPix += int64(len(touched))
		e.Flag |= flagOr
	}
}

// growSpectral extends z_min/z_max by one channel per iteration, mirroring
// growSpatial's candidate/convergence structure over the +-1 channel
// neighbourhood instead of an xy disc.
func growSpectral(data *cube.Cube, mask *cube.Cube, e *linker.Entry, p Params, log logx.Logger) {
	nx, ny, nz := data.Nx, data.Ny, data.Nz
	values := data.DataF32()
	labels := mask.DataI32()
	srcID := e.Label

	for iter := 1; iter <= p.IterMax; iter++ {
		var touched []candidate
		deltaF, fMin, fMax := 0.0, math.Inf(1), math.Inf(-1)
		flagOr := int32(0)
		zMin, zMax := e.ZMax, e.ZMin

		for z := e.ZMin; z <= e.ZMax; z++ {
			for dz := int32(-1); dz <= 1; dz += 2 {
				nz2 := z + dz
				if nz2 < 0 || nz2 >= nz {
					flagOr |= linker.FlagSpectralBoundary
					continue
				}
				for y := e.YMin; y <= e.YMax; y++ {
					for x := e.XMin; x <= e.XMax; x++ {
						if labels[idxOf(nx, ny, x, y, z)] != srcID {
							continue
						}
						ni := idxOf(nx, ny, x, y, nz2)
						lv := labels[ni]
						v := values[ni]
						switch {
						case lv == -1:
							// already claimed by another source voxel this iteration
							continue
						case lv == 0:
							if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
								continue
							}
							labels[ni] = -1
							touched = append(touched, candidate{x, y, nz2})
							fv := float64(v)
							deltaF += fv
							if fv < fMin {
								fMin = fv
							}
							if fv > fMax {
								fMax = fv
							}
							if nz2 < zMin {
								zMin = nz2
							}
							if nz2 > zMax {
								zMax = nz2
							}
						case lv > 0 && lv != srcID:
							flagOr |= linker.FlagTouchesOther
						case math.IsNaN(float64(v)) || math.IsInf(float64(v), 0):
							flagOr |= linker.FlagHasBadNeighbour
						}
					}
				}
			}
		}

		if !keepIteration(deltaF, e.FSum, p.Threshold) {
			for _, c := range touched {
				labels[idxOf(nx, ny, c.x, c.y, c.z)] = 0
			}
			log.Debugf("maskgrow: spectral dilation of label %d stopped at iteration %d", srcID, iter)
			return
		}

		for _, c := range touched {
			labels[idxOf(nx, ny, c.x, c.y, c.z)] = srcID
		}
		e.FSum += deltaF
		if len(touched) > 0 {
			if fMin < e.FMin {
				e.FMin = fMin
			}
			if fMax > e.FMax {
				e.FMax = fMax
			}
		}
		if zMin < e.ZMin {
			e.ZMin = zMin
		}
		if zMax > e.ZMax {
			e.ZMax = zMax
		}
		e.NPix += int64(len(touched))
		e.Flag |= flagOr
	}
}

// keepIteration implements spec.md §4.6's convergence rule: an unconditional
// negative threshold always dilates once more; otherwise positive-flux
// sources require delta exceeding threshold*prevSum, negative-flux sources
// require delta below it.
func keepIteration(deltaF, prevSum, threshold float64) bool {
	if threshold < 0 {
		return true
	}
	if prevSum >= 0 {
		return deltaF > threshold*prevSum
	}
	return deltaF < threshold*prevSum
}
