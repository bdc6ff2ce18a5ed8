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

// Package noise implements global per-plane and local windowed rms
// normalisation of a data cube, generalizing the teacher's 2-D piecewise
// linear background grid (internal/background.go) to a 3-D rms grid with
// trilinear-style sequential interpolation.
package noise

import (
	"fmt"
	"math"

	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/logx"
	"github.com/cubeline/srcfind/internal/numcore"
)

// Statistic selects which rms estimator NoiseScaler uses.
type Statistic int

const (
	StatStd Statistic = iota
	StatMAD
	StatGauss
)

// Measure computes the rms statistic chosen by s over data, at the given
// cadence and range filter. For the std and MAD statistics, unfiltered
// windows larger than numcore.FastApproxThreshold are subsampled randomly
// instead of scanned at the cadence stride; Gauss always fits at the cadence.
func (s Statistic) Measure(data []float32, cadence, rng int) float32 {
	if rng == 0 && len(data) > numcore.FastApproxThreshold {
		switch s {
		case StatMAD:
			return numcore.FastApproxMAD(data, 0, numcore.FastApproxSamples) * numcore.MADToStd
		case StatGauss:
			return numcore.Gaufit(data, cadence, rng)
		default:
			return numcore.FastApproxStdDev(data, 0, numcore.FastApproxSamples)
		}
	}
	switch s {
	case StatMAD:
		return numcore.MadVal(data, 0, cadence, rng) * numcore.MADToStd
	case StatGauss:
		return numcore.Gaufit(data, cadence, rng)
	default:
		return numcore.StdDevVal(data, 0, cadence, rng)
	}
}

// Mode selects whether NoiseScaler runs in global or local windowed mode.
type Mode int

const (
	ModeNone Mode = iota
	ModeGlobal
	ModeLocal
)

// GlobalParams configures the global per-plane mode of §4.3.
type GlobalParams struct {
	Statistic Statistic
	Range     int
}

// LocalParams configures the local windowed mode of §4.3. Window and grid
// sizes are all forced odd (an even value is bumped up by one) per spec.
type LocalParams struct {
	Statistic   Statistic
	Range       int
	WindowXY    int32
	WindowZ     int32
	GridXY      int32
	GridZ       int32
	Interpolate bool
}

func oddify(v int32) int32 {
	if v%2 == 0 {
		v++
	}
	return v
}

// DefaultLocalParams returns the spec's defaults: W_xy=25, W_z=15,
// G_xy=W_xy/2, G_z=W_z/2, all bumped to odd.
func DefaultLocalParams() LocalParams {
	wxy, wz := int32(25), int32(15)
	return LocalParams{
		Statistic:   StatStd,
		Range:       0,
		WindowXY:    oddify(wxy),
		WindowZ:     oddify(wz),
		GridXY:      oddify(wxy / 2),
		GridZ:       oddify(wz / 2),
		Interpolate: true,
	}
}

// normalizeLocalParams oddifies whatever the caller passed in, so
// ScaleLocal never operates on even window/grid sizes.
func normalizeLocalParams(p LocalParams) LocalParams {
	p.WindowXY = oddify(p.WindowXY)
	p.WindowZ = oddify(p.WindowZ)
	p.GridXY = oddify(p.GridXY)
	p.GridZ = oddify(p.GridZ)
	return p
}

// ScaleGlobal divides every sample of each spectral plane z by that plane's
// rms, measured with the requested statistic. Planes whose rms is zero or
// NaN are left untouched; their indices are returned for the caller to log.
func ScaleGlobal(c *cube.Cube, p GlobalParams, log logx.Logger) ([]int32, error) {
	if c.Dtype != cube.F32 {
		return nil, fmt.Errorf("noise: ScaleGlobal requires an f32 cube, got %s", c.Dtype)
	}
	if log == nil {
		log = logx.NopLogger{}
	}
	data := c.DataF32()
	planeSize := int(c.Nx) * int(c.Ny)
	var untouched []int32

	numcore.ParallelFor(int(c.Nz), func(lo, hi int) {
		for z := lo; z < hi; z++ {
			plane := data[z*planeSize : (z+1)*planeSize]
			rms := p.Statistic.Measure(plane, 1, p.Range)
			if rms == 0 || math.IsNaN(float64(rms)) {
				continue
			}
			inv := 1.0 / rms
			for i := range plane {
				plane[i] *= inv
			}
		}
	})

	// second, serial pass purely to report untouched planes in z order
	for z := 0; z < int(c.Nz); z++ {
		plane := data[z*planeSize : (z+1)*planeSize]
		rms := p.Statistic.Measure(plane, 1, p.Range)
		if rms == 0 || math.IsNaN(float64(rms)) {
			untouched = append(untouched, int32(z))
		}
	}
	if len(untouched) > 0 {
		log.Warnf("noise: %d of %d planes had zero/NaN rms and were left unscaled", len(untouched), c.Nz)
	}
	return untouched, nil
}

// anchorStart returns the starting grid anchor on an axis of length n with
// grid spacing g, centred per spec.md §4.3 step 1.
func anchorStart(n, g int32) int32 {
	if g <= 0 {
		g = 1
	}
	count := (n + g - 1) / g
	return (n - g*(count-1)) / 2
}

func anchors(n, g int32) []int32 {
	var out []int32
	for a := anchorStart(n, g); a < n; a += g {
		out = append(out, a)
	}
	if len(out) == 0 {
		out = append(out, 0)
	}
	return out
}

func clampRange(lo, hi, n int32) (int32, int32) {
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}

// ScaleLocal implements the windowed local rms normalisation of spec.md
// §4.3: a NaN-filled noise cube is populated at a coarse grid of anchors,
// optionally bilinearly interpolated, then the data cube is divided by it.
// Returns the noise cube so the caller (BoundaryIO) may persist it.
func ScaleLocal(c *cube.Cube, p LocalParams, log logx.Logger) (*cube.Cube, error) {
	if c.Dtype != cube.F32 {
		return nil, fmt.Errorf("noise: ScaleLocal requires an f32 cube, got %s", c.Dtype)
	}
	if log == nil {
		log = logx.NopLogger{}
	}
	p = normalizeLocalParams(p)

	noiseCube := cube.New(cube.F32, c.Nx, c.Ny, c.Nz)
	noiseCube.FillFlt(math.NaN())
	noise := noiseCube.DataF32()
	data := c.DataF32()

	xAnchors := anchors(c.Nx, p.GridXY)
	yAnchors := anchors(c.Ny, p.GridXY)
	zAnchors := anchors(c.Nz, p.GridZ)

	rwxy := p.WindowXY / 2
	rwz := p.WindowZ / 2
	rgxy := p.GridXY / 2
	rgz := p.GridZ / 2

	planeSize := int(c.Nx) * int(c.Ny)

	numcore.ParallelFor(len(zAnchors), func(lo, hi int) {
		for ai := lo; ai < hi; ai++ {
			za := zAnchors[ai]
			zlo, zhi := clampRange(za-rwz, za+rwz, c.Nz)
			for _, ya := range yAnchors {
				ylo, yhi := clampRange(ya-rwxy, ya+rwxy, c.Ny)
				window := make([]float32, 0, int(p.WindowXY)*int(p.WindowXY)*int(p.WindowZ))
				for _, xa := range xAnchors {
					xlo, xhi := clampRange(xa-rwxy, xa+rwxy, c.Nx)
					window = window[:0]
					for z := zlo; z <= zhi; z++ {
						base := int(z) * planeSize
						for y := ylo; y <= yhi; y++ {
							row := base + int(y)*int(c.Nx)
							for x := xlo; x <= xhi; x++ {
								v := data[row+int(x)]
								if !math.IsNaN(float64(v)) {
									window = append(window, v)
								}
							}
						}
					}
					var rms float32
					if len(window) == 0 {
						rms = float32(math.NaN())
					} else {
						rms = p.Statistic.Measure(window, 1, p.Range)
					}

					gxlo, gxhi := clampRange(xa-rgxy, xa+rgxy, c.Nx)
					gylo, gyhi := clampRange(ya-rgxy, ya+rgxy, c.Ny)
					gzlo, gzhi := clampRange(za-rgz, za+rgz, c.Nz)
					for z := gzlo; z <= gzhi; z++ {
						base := int(z) * planeSize
						for y := gylo; y <= gyhi; y++ {
							row := base + int(y)*int(c.Nx)
							for x := gxlo; x <= gxhi; x++ {
								noise[row+int(x)] = rms
							}
						}
					}
				}
			}
		}
	})

	if p.Interpolate && (p.GridXY > 1 || p.GridZ > 1) {
		interpolateAxis(noise, c.Nx, c.Ny, c.Nz, zAnchors, axisZ)
		interpolateAxis(noise, c.Nx, c.Ny, c.Nz, yAnchors, axisY)
		interpolateAxis(noise, c.Nx, c.Ny, c.Nz, xAnchors, axisX)
	}

	if err := c.Divide(noiseCube); err != nil {
		return nil, err
	}
	log.Infof("noise: local rms scaling complete (%d x-anchors, %d y-anchors, %d z-anchors)",
		len(xAnchors), len(yAnchors), len(zAnchors))
	return noiseCube, nil
}

type axis int

const (
	axisX axis = iota
	axisY
	axisZ
)

// interpolateAxis linearly interpolates noise values between consecutive
// anchors along the given axis, skipping any segment whose endpoints are
// NaN, per spec.md §4.3 step 4.
func interpolateAxis(noise []float32, nx, ny, nz int32, anchorPositions []int32, ax axis) {
	if len(anchorPositions) < 2 {
		return
	}
	idx := func(x, y, z int32) int { return int(x) + int(nx)*(int(y)+int(ny)*int(z)) }

	for i := 0; i+1 < len(anchorPositions); i++ {
		a0, a1 := anchorPositions[i], anchorPositions[i+1]
		if a1 <= a0 {
			continue
		}
		span := float64(a1 - a0)
		switch ax {
		case axisZ:
			for x := int32(0); x < nx; x++ {
				for y := int32(0); y < ny; y++ {
					v0 := noise[idx(x, y, a0)]
					v1 := noise[idx(x, y, a1)]
					if math.IsNaN(float64(v0)) || math.IsNaN(float64(v1)) {
						continue
					}
					for z := a0 + 1; z < a1; z++ {
						t := float64(z-a0) / span
						noise[idx(x, y, z)] = float32(float64(v0) + t*(float64(v1)-float64(v0)))
					}
				}
			}
		case axisY:
			for x := int32(0); x < nx; x++ {
				for z := int32(0); z < nz; z++ {
					v0 := noise[idx(x, a0, z)]
					v1 := noise[idx(x, a1, z)]
					if math.IsNaN(float64(v0)) || math.IsNaN(float64(v1)) {
						continue
					}
					for y := a0 + 1; y < a1; y++ {
						t := float64(y-a0) / span
						noise[idx(x, y, z)] = float32(float64(v0) + t*(float64(v1)-float64(v0)))
					}
				}
			}
		case axisX:
			for y := int32(0); y < ny; y++ {
				for z := int32(0); z < nz; z++ {
					v0 := noise[idx(a0, y, z)]
					v1 := noise[idx(a1, y, z)]
					if math.IsNaN(float64(v0)) || math.IsNaN(float64(v1)) {
						continue
					}
					for x := a0 + 1; x < a1; x++ {
						t := float64(x-a0) / span
						noise[idx(x, y, z)] = float32(float64(v0) + t*(float64(v1)-float64(v0)))
					}
				}
			}
		}
	}
}
