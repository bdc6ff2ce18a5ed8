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

package previewimg

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/cubeline/srcfind/internal/cube"
)

func TestWriteMonoProducesDecodableJPEG(t *testing.T) {
	plane := cube.New(cube.F32, 4, 3, 1)
	for y := int32(0); y < 3; y++ {
		for x := int32(0); x < 4; x++ {
			plane.SetFlt(x, y, 0, float64(x+y))
		}
	}
	var buf bytes.Buffer
	if err := WriteMonoTo(&buf, plane); err != nil {
		t.Fatalf("WriteMonoTo: %v", err)
	}
	img, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Fatalf("unexpected dims: %v", img.Bounds())
	}
}

func TestWriteLabelMaskAllBackgroundStaysBlack(t *testing.T) {
	labels := cube.New(cube.I32, 8, 8, 1)

	var buf bytes.Buffer
	if err := WriteLabelMaskTo(&buf, labels); err != nil {
		t.Fatalf("WriteLabelMaskTo: %v", err)
	}
	img, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, _ := img.At(3, 3).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Fatalf("expected an all-background plane to round-trip as black, got (%d,%d,%d)", r, g, b)
	}
}

func TestLabelColorDistinctForDifferentLabels(t *testing.T) {
	c1 := labelColor(1, 10)
	c2 := labelColor(2, 10)
	if c1 == c2 {
		t.Fatalf("expected distinct colors for labels 1 and 2")
	}
}

func TestAutoRangeHandlesAllNaN(t *testing.T) {
	plane := cube.New(cube.F32, 2, 2, 1)
	for y := int32(0); y < 2; y++ {
		for x := int32(0); x < 2; x++ {
			plane.SetFlt(x, y, 0, nan())
		}
	}
	min, max := autoRange(plane)
	if min != 0 || max != 1 {
		t.Fatalf("expected fallback [0,1] range for all-NaN plane, got [%v,%v]", min, max)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
