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

package fitsio

import (
	"bytes"
	"math"
	"testing"

	"github.com/cubeline/srcfind/internal/cube"
)

func TestWriteReadRoundTripF32(t *testing.T) {
	c := cube.New(cube.F32, 3, 2, 2)
	var v float64
	for z := int32(0); z < 2; z++ {
		for y := int32(0); y < 2; y++ {
			for x := int32(0); x < 3; x++ {
				c.SetFlt(x, y, z, v)
				v++
			}
		}
	}
	c.Header.SetString("OBJECT", "test cube")
	c.Header.SetFloat("CRVAL1", 10.5)

	var buf bytes.Buffer
	if err := Write(&buf, c); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Nx != 3 || got.Ny != 2 || got.Nz != 2 {
		t.Fatalf("shape mismatch: got (%d,%d,%d)", got.Nx, got.Ny, got.Nz)
	}
	if got.Dtype != cube.F32 {
		t.Fatalf("dtype mismatch: got %v", got.Dtype)
	}
	for z := int32(0); z < 2; z++ {
		for y := int32(0); y < 2; y++ {
			for x := int32(0); x < 3; x++ {
				want := c.GetFlt(x, y, z)
				if got.GetFlt(x, y, z) != want {
					t.Fatalf("voxel (%d,%d,%d): got %v want %v", x, y, z, got.GetFlt(x, y, z), want)
				}
			}
		}
	}
	if s, ok := got.Header.GetString("OBJECT"); !ok || s != "test cube" {
		t.Fatalf("OBJECT header not preserved: %v, %v", s, ok)
	}
}

func TestSqueezeAxesDropsSizeOneFourthAxis(t *testing.T) {
	h := cube.NewHeader()
	naxisn := []int32{5, 6, 7, 1}
	nx, ny, nz := squeezeAxes(h, 4, naxisn)
	if nx != 5 || ny != 6 || nz != 7 {
		t.Fatalf("got (%d,%d,%d) want (5,6,7)", nx, ny, nz)
	}
}

// scenario S3: NAXIS3=1, NAXIS4=k>1 swaps axes 3 and 4 plus their WCS keys.
func TestSqueezeAxesSwapsSizeOneThirdAxis(t *testing.T) {
	h := cube.NewHeader()
	h.SetFloat("CRPIX3", 1)
	h.SetFloat("CRPIX4", 2)
	h.SetString("CTYPE3", "FREQ")
	h.SetString("CTYPE4", "STOKES")
	naxisn := []int32{5, 6, 1, 64}
	nx, ny, nz := squeezeAxes(h, 4, naxisn)
	if nx != 5 || ny != 6 || nz != 64 {
		t.Fatalf("got (%d,%d,%d) want (5,6,64)", nx, ny, nz)
	}
	if v, _ := h.GetFloat("CRPIX3"); v != 2 {
		t.Fatalf("CRPIX3 not swapped, got %v", v)
	}
	if s, _ := h.GetString("CTYPE3"); s != "STOKES" {
		t.Fatalf("CTYPE3 not swapped, got %v", s)
	}
}

func TestReadIntegerBlankMapsToNaN(t *testing.T) {
	c := cube.New(cube.F32, 2, 1, 1)
	c.SetFlt(0, 0, 0, math.NaN())
	c.SetFlt(1, 0, 0, 5)

	var raw bytes.Buffer
	lines := []string{
		boolLine("SIMPLE", true, ""),
		intLine("BITPIX", 16, ""),
		intLine("NAXIS", 3, ""),
		intLine("NAXIS1", 2, ""),
		intLine("NAXIS2", 1, ""),
		intLine("NAXIS3", 1, ""),
		intLine("BLANK", -32768, ""),
		padLine("END"),
	}
	for _, l := range lines {
		raw.WriteString(l)
	}
	if rem := (len(lines) * lineSize) % blockSize; rem != 0 {
		raw.Write(make([]byte, blockSize-rem))
	}
	// two int16 big-endian samples: BLANK sentinel, then 5
	raw.Write([]byte{0x80, 0x00, 0x00, 0x05})
	raw.Write(make([]byte, blockSize-4))

	got, err := Read(&raw)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !math.IsNaN(got.GetFlt(0, 0, 0)) {
		t.Fatalf("expected NaN for BLANK sentinel, got %v", got.GetFlt(0, 0, 0))
	}
	if got.GetFlt(1, 0, 0) != 5 {
		t.Fatalf("expected 5, got %v", got.GetFlt(1, 0, 0))
	}
}
