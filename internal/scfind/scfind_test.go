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

package scfind

import (
	"math/rand"
	"testing"

	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/noise"
)

// S1/S2-like: a bright compact source against noise should be detected by
// the zero-kernel direct threshold pass.
func TestDetectDirectThresholdFindsBrightSource(t *testing.T) {
	nx, ny, nz := int32(10), int32(10), int32(10)
	data := cube.New(cube.F32, nx, ny, nz)
	rng := rand.New(rand.NewSource(3))
	for i := range data.DataF32() {
		data.DataF32()[i] = float32(rng.NormFloat64())
	}
	data.SetFlt(5, 5, 5, 50.0)

	mask := cube.New(cube.U8, nx, ny, nz)
	p := Params{
		KernelsSpatial:  []float64{0},
		KernelsSpectral: []int{0},
		Threshold:       5.0,
		ReplaceScale:    -1,
		Statistic:       noise.StatStd,
		Range:           0,
		Noise:           NoiseModeNone,
	}
	if err := Detect(data, mask, p, nil); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if mask.GetInt(5, 5, 5) == 0 {
		t.Fatalf("expected bright source voxel to be detected")
	}
}

// invariant #1: the mask is monotone non-decreasing across kernel
// iterations - a voxel detected once stays detected.
func TestDetectMaskIsMonotone(t *testing.T) {
	nx, ny, nz := int32(12), int32(12), int32(12)
	data := cube.New(cube.F32, nx, ny, nz)
	rng := rand.New(rand.NewSource(4))
	for i := range data.DataF32() {
		data.DataF32()[i] = float32(rng.NormFloat64())
	}
	data.SetFlt(6, 6, 6, 40.0)

	mask := cube.New(cube.U8, nx, ny, nz)
	p := Params{
		KernelsSpatial:  []float64{0, 3},
		KernelsSpectral: []int{0, 3},
		Threshold:       4.0,
		ReplaceScale:    -1,
		Statistic:       noise.StatStd,
		Range:           0,
		Noise:           NoiseModeNone,
	}

	prevMask := make([]uint8, len(mask.DataU8()))
	orig := Detect
	_ = orig
	// Run once to completion, then check that at no point does a positive
	// voxel that started as detected after the first kernel pair revert to
	// undetected - approximated here by re-running with only the first
	// kernel pair and confirming it's a subset of the full run's mask.
	firstPassMask := cube.New(cube.U8, nx, ny, nz)
	p1 := p
	p1.KernelsSpatial = []float64{0}
	p1.KernelsSpectral = []int{0}
	if err := Detect(data, firstPassMask, p1, nil); err != nil {
		t.Fatalf("Detect (first pass): %v", err)
	}
	if err := Detect(data, mask, p, nil); err != nil {
		t.Fatalf("Detect (full): %v", err)
	}
	copy(prevMask, firstPassMask.DataU8())
	for i, v := range prevMask {
		if v != 0 && mask.DataU8()[i] == 0 {
			t.Fatalf("voxel %d detected in first pass but not in full run: monotonicity violated", i)
		}
	}
}
