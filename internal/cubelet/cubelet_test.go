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

package cubelet

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/fitsio"
	"github.com/cubeline/srcfind/internal/linker"
)

func buildSourceCube(t *testing.T) (*cube.Cube, *cube.Cube, *linker.Entry) {
	t.Helper()
	data := cube.New(cube.F32, 10, 10, 6)
	mask := cube.New(cube.I32, 10, 10, 6)
	for z := int32(1); z <= 2; z++ {
		for y := int32(3); y <= 5; y++ {
			for x := int32(3); x <= 5; x++ {
				data.SetFlt(x, y, z, float64(x+y+z))
				mask.SetInt(x, y, z, 7)
			}
		}
	}
	data.Header.SetFloat("CRPIX1", 5)
	data.Header.SetFloat("CRPIX2", 5)
	data.Header.SetFloat("CRPIX3", 1)

	e := &linker.Entry{Label: 7, XMin: 3, XMax: 5, YMin: 3, YMax: 5, ZMin: 1, ZMax: 2, NPix: 18}
	return data, mask, e
}

func TestShiftCRPIXOnlyTouchesPresentKeys(t *testing.T) {
	h := cube.NewHeader()
	h.SetFloat("CRPIX1", 10)
	h.SetFloat("CRPIX3", 2)
	shiftCRPIX(h, 3, 4, 1)
	if v, _ := h.GetFloat("CRPIX1"); v != 7 {
		t.Fatalf("CRPIX1 = %v want 7", v)
	}
	if _, ok := h.GetFloat("CRPIX2"); ok {
		t.Fatalf("CRPIX2 should not have been created")
	}
	if v, _ := h.GetFloat("CRPIX3"); v != 1 {
		t.Fatalf("CRPIX3 = %v want 1", v)
	}
}

func TestMomentsSumsFluxOverLabelledVoxels(t *testing.T) {
	data, mask, e := buildSourceCube(t)
	r := cube.Region{XMin: e.XMin, XMax: e.XMax, YMin: e.YMin, YMax: e.YMax, ZMin: e.ZMin, ZMax: e.ZMax}
	sub := data.Extract(r)
	subMask := mask.Extract(r)

	mom0, mom1, _, chanMap := moments(sub, subMask, e.Label, nil, r)
	if mom0.Dtype != cube.F32 || chanMap.Dtype != cube.F32 {
		t.Fatalf("expected F32 moment maps, got mom0=%v chanMap=%v", mom0.Dtype, chanMap.Dtype)
	}
	// voxel (0,0) of the sub-cube corresponds to (x=3,y=3) in the parent, z in {1,2}
	gotSum := mom0.GetFlt(0, 0, 0)
	wantSum := float64(3+3+1) + float64(3+3+2)
	if gotSum != wantSum {
		t.Fatalf("mom0(0,0) = %v want %v", gotSum, wantSum)
	}
	if chanMap.GetFlt(0, 0, 0) != 2 {
		t.Fatalf("chanMap(0,0) = %v want 2", chanMap.GetFlt(0, 0, 0))
	}
	// mom1 is the flux-weighted mean channel index absent a WCS
	mean := mom1.GetFlt(0, 0, 0)
	if mean < 1 || mean > 2 {
		t.Fatalf("mom1(0,0) = %v out of expected [1,2] range", mean)
	}
	// the region is exactly the labelled 3x3 footprint, so the opposite
	// corner (parent x=5,y=5) is labelled too and sums 11 + 12
	if mom0.GetFlt(2, 2, 0) != 23 {
		t.Fatalf("mom0(2,2) = %v want 23", mom0.GetFlt(2, 2, 0))
	}
}

func TestWriteAllRoundTrip(t *testing.T) {
	data, mask, e := buildSourceCube(t)
	table := linker.NewTable([]linker.Entry{*e})

	dir, err := os.MkdirTemp("", "cubelet")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	p := Params{OutDir: dir, Base: "test", Margin: 1}
	if err := WriteAll(data, mask, table, p, nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	for _, suffix := range []string{"cube", "mask", "mom0", "mom1", "mom2", "chan"} {
		name := filepath.Join(dir, "test_7_"+suffix+".fits")
		got, err := fitsio.ReadFile(name)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", suffix, err)
		}
		if got.Nx <= 0 || got.Ny <= 0 {
			t.Fatalf("%s: empty cube", suffix)
		}
	}

	maskCube, err := fitsio.ReadFile(filepath.Join(dir, "test_7_mask.fits"))
	if err != nil {
		t.Fatalf("ReadFile(mask): %v", err)
	}
	if maskCube.Dtype != cube.F32 {
		t.Fatalf("mask dtype = %v want F32 (integer cubes load as F32)", maskCube.Dtype)
	}
	foundLabel := false
	for z := int32(0); z < maskCube.Nz; z++ {
		for y := int32(0); y < maskCube.Ny; y++ {
			for x := int32(0); x < maskCube.Nx; x++ {
				if maskCube.GetInt(x, y, z) == 7 {
					foundLabel = true
				}
			}
		}
	}
	if !foundLabel {
		t.Fatalf("expected label 7 to survive the FITS round trip")
	}

	specFile, err := os.Open(filepath.Join(dir, "test_7_spec.txt"))
	if err != nil {
		t.Fatalf("open spectrum file: %v", err)
	}
	defer specFile.Close()
	sc := bufio.NewScanner(specFile)
	lines := 0
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 {
			t.Fatalf("spectrum line %d has %d fields, want 3 (no WCS configured): %q", lines, len(fields), sc.Text())
		}
		lines++
	}
	if lines == 0 {
		t.Fatalf("expected at least one spectrum line")
	}
}

func TestWriteAllRefusesOverwriteByDefault(t *testing.T) {
	data, mask, e := buildSourceCube(t)
	table := linker.NewTable([]linker.Entry{*e})

	dir, err := os.MkdirTemp("", "cubelet")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	p := Params{OutDir: dir, Base: "test"}
	if err := WriteAll(data, mask, table, p, nil); err != nil {
		t.Fatalf("first WriteAll: %v", err)
	}
	if err := WriteAll(data, mask, table, p, nil); err == nil {
		t.Fatalf("expected second WriteAll without Overwrite to fail")
	}

	p.Overwrite = true
	if err := WriteAll(data, mask, table, p, nil); err != nil {
		t.Fatalf("WriteAll with Overwrite=true: %v", err)
	}
}

func TestDeepCopyHeaderIsIndependent(t *testing.T) {
	h := cube.NewHeader()
	h.SetFloat("CRPIX1", 5)
	cp := deepCopyHeader(h)
	cp.SetFloat("CRPIX1", 99)
	if v, _ := h.GetFloat("CRPIX1"); v != 5 {
		t.Fatalf("mutating the copy leaked back into the original: CRPIX1 = %v", v)
	}
}

func TestMomentsVarianceNeverNegative(t *testing.T) {
	data, mask, e := buildSourceCube(t)
	r := cube.Region{XMin: e.XMin, XMax: e.XMax, YMin: e.YMin, YMax: e.YMax, ZMin: e.ZMin, ZMax: e.ZMax}
	sub := data.Extract(r)
	subMask := mask.Extract(r)
	_, _, mom2, _ := moments(sub, subMask, e.Label, nil, r)
	for y := int32(0); y < mom2.Ny; y++ {
		for x := int32(0); x < mom2.Nx; x++ {
			if v := mom2.GetFlt(x, y, 0); v < 0 || math.IsNaN(v) {
				t.Fatalf("mom2(%d,%d) = %v, want >= 0", x, y, v)
			}
		}
	}
}
