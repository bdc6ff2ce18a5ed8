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

package param

import (
	"math"
	"testing"

	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/linker"
	"github.com/cubeline/srcfind/internal/wcs"
)

// builds a symmetric blob of positive flux around (cx,cy,cz) with the
// background set to small noise, and a matching label mask.
func buildBlobCube(t *testing.T) (*cube.Cube, *cube.Cube, *linker.Entry) {
	t.Helper()
	data := cube.New(cube.F32, 16, 16, 9)
	mask := cube.New(cube.I32, 16, 16, 9)
	cx, cy, cz := int32(8), int32(8), int32(4)

	for z := int32(0); z < 9; z++ {
		for y := int32(0); y < 16; y++ {
			for x := int32(0); x < 16; x++ {
				data.SetFlt(x, y, z, 0.01)
			}
		}
	}

	var entry linker.Entry
	entry.Label = 1
	entry.XMin, entry.XMax = cx-2, cx+2
	entry.YMin, entry.YMax = cy-2, cy+2
	entry.ZMin, entry.ZMax = cz-2, cz+2

	for dz := int32(-1); dz <= 1; dz++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				x, y, z := cx+dx, cy+dy, cz+dz
				v := 10.0 - float64(dx*dx+dy*dy+dz*dz)
				data.SetFlt(x, y, z, v)
				mask.SetInt(x, y, z, 1)
			}
		}
	}
	return data, mask, &entry
}

func TestParameteriseCentroidNearBlobCentre(t *testing.T) {
	data, mask, e := buildBlobCube(t)
	src, err := Parameterise(data, mask, 1, e, Params{Prefix: "SoFiA"}, nil)
	if err != nil {
		t.Fatalf("Parameterise: %v", err)
	}
	if math.Abs(src.Float("x")-8) > 0.5 || math.Abs(src.Float("y")-8) > 0.5 || math.Abs(src.Float("z")-4) > 0.5 {
		t.Fatalf("centroid far from blob centre: x=%v y=%v z=%v", src.Float("x"), src.Float("y"), src.Float("z"))
	}
	if src.Float("f_sum") <= 0 {
		t.Fatalf("expected positive f_sum, got %v", src.Float("f_sum"))
	}
	if src.Int("n_pix") != 27 {
		t.Fatalf("expected 27 source voxels, got %d", src.Int("n_pix"))
	}
}

// a source whose bounding box has no background voxels (every voxel in it
// belongs to the source) leaves rms undefined rather than dividing by an
// empty sample, and the 3-sigma ellipse - which gates on rms - degenerates
// to zero rather than panicking or comparing against NaN.
func TestParameteriseRMSUndefinedWithNoBackgroundVoxels(t *testing.T) {
	data := cube.New(cube.F32, 1, 1, 1)
	mask := cube.New(cube.I32, 1, 1, 1)
	data.SetFlt(0, 0, 0, 5.0)
	mask.SetInt(0, 0, 0, 1)

	e := &linker.Entry{Label: 1, XMin: 0, XMax: 0, YMin: 0, YMax: 0, ZMin: 0, ZMax: 0}
	src, err := Parameterise(data, mask, 1, e, Params{Prefix: "SoFiA"}, nil)
	if err != nil {
		t.Fatalf("Parameterise: %v", err)
	}
	if !math.IsNaN(src.Float("rms")) {
		t.Fatalf("expected rms to be NaN with no background voxels, got %v", src.Float("rms"))
	}
	if src.Float("ell3s_maj") != 0 || src.Float("ell3s_min") != 0 {
		t.Fatalf("expected 3-sigma ellipse to degenerate to zero when rms is NaN, got maj=%v min=%v",
			src.Float("ell3s_maj"), src.Float("ell3s_min"))
	}
}

func TestParameteriseFallbackNameWithoutWCS(t *testing.T) {
	data, mask, e := buildBlobCube(t)
	src, err := Parameterise(data, mask, 1, e, Params{Prefix: "SoFiA"}, nil)
	if err != nil {
		t.Fatalf("Parameterise: %v", err)
	}
	if src.Identifier != "SoFiA-0001" {
		t.Fatalf("expected fallback identifier, got %q", src.Identifier)
	}
}

func TestParameteriseNegativeSourceSwapsFMinFMax(t *testing.T) {
	data, mask, e := buildBlobCube(t)
	// flip the blob to a negative source
	for z := e.ZMin; z <= e.ZMax; z++ {
		for y := e.YMin; y <= e.YMax; y++ {
			for x := e.XMin; x <= e.XMax; x++ {
				if mask.GetInt(x, y, z) == 1 {
					data.SetFlt(x, y, z, -data.GetFlt(x, y, z))
				}
			}
		}
	}
	src, err := Parameterise(data, mask, 1, e, Params{Prefix: "SoFiA"}, nil)
	if err != nil {
		t.Fatalf("Parameterise: %v", err)
	}
	if src.Float("f_sum") >= 0 {
		t.Fatalf("expected negative f_sum, got %v", src.Float("f_sum"))
	}
	if src.Float("f_min") > src.Float("f_max") {
		t.Fatalf("f_min should not exceed f_max after swap-and-flip: min=%v max=%v", src.Float("f_min"), src.Float("f_max"))
	}
}

func TestKinematicPAUndefinedBelowTwoChannels(t *testing.T) {
	got := kinematicPA([]chanCentroid{{valid: true, weight: 1}}, discardLogger{}, 1)
	if got != -1 {
		t.Fatalf("expected -1 for fewer than 2 usable channels, got %v", got)
	}
}

func TestLineWidthsZeroOnFlatSpectrum(t *testing.T) {
	w50, w20 := lineWidths([]float64{0, 0, 0}, discardLogger{}, 1)
	if w50 != 0 || w20 != 0 {
		t.Fatalf("expected 0,0 on a non-positive spectrum, got %v,%v", w50, w20)
	}
}

// scenario S6: exact identifier string for a known equatorial WCS.
func TestParameteriseUsesWCSNameSynthesis(t *testing.T) {
	data, mask, e := buildBlobCube(t)
	ra := (12.0 + 34.0/60 + 56.7/3600) * 15.0
	dec := -(1.0 + 2.0/60 + 3.4/3600)
	w := &wcs.WCS{
		Axes: [3]wcs.Axis{
			{CRPIX: 9, CDELT: 0, CRVAL: ra, CType: "RA---SIN", Valid: true},
			{CRPIX: 9, CDELT: 0, CRVAL: dec, CType: "DEC--SIN", Valid: true},
			{CRPIX: 5, CDELT: 0, CRVAL: 0, CType: "FREQ", Valid: true},
		},
		Equinox:    2000,
		HasEquinox: true,
		Valid:      true,
	}
	src, err := Parameterise(data, mask, 1, e, Params{Prefix: "SoFiA", WCS: w}, nil)
	if err != nil {
		t.Fatalf("Parameterise: %v", err)
	}
	want := "SoFiA J123456.70-010203.4"
	if src.Identifier != want {
		t.Fatalf("Identifier = %q want %q", src.Identifier, want)
	}
}

type discardLogger struct{}

func (discardLogger) Debugf(string, ...interface{}) {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Errorf(string, ...interface{}) {}
