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

package cube

import (
	"math"
	"testing"
)

// Set/Get returns the stored value unchanged for every dtype.
func TestGetSetRoundTripAllDtypes(t *testing.T) {
	dtypes := []DType{U8, I8, I16, I32, I64, F32, F64}
	for _, dt := range dtypes {
		c := New(dt, 2, 2, 2)
		if dt.IsFloat() {
			c.SetFlt(1, 0, 1, 3.5)
			if got := c.GetFlt(1, 0, 1); got != 3.5 {
				t.Fatalf("dtype %v: GetFlt=%v want 3.5", dt, got)
			}
		} else {
			c.SetInt(1, 0, 1, 7)
			if got := c.GetInt(1, 0, 1); got != 7 {
				t.Fatalf("dtype %v: GetInt=%v want 7", dt, got)
			}
		}
	}
}

func TestCopyDeepCopiesHeaderAndData(t *testing.T) {
	src := New(F32, 2, 2, 2)
	src.SetFlt(0, 0, 0, 42)
	src.Header.SetString("OBJECT", "NGC 1234")
	dst := Copy(src)
	dst.SetFlt(0, 0, 0, 99)
	dst.Header.SetString("OBJECT", "changed")
	if src.GetFlt(0, 0, 0) != 42 {
		t.Fatalf("Copy aliased underlying data")
	}
	if v, _ := src.Header.GetString("OBJECT"); v != "NGC 1234" {
		t.Fatalf("Copy aliased header map")
	}
}

// scenario S3: a size-1 third axis and a size>1 fourth axis get squeezed
// and their keywords swapped by the caller (BoundaryIO); here we only test
// the Header.SwapKeys primitive that operation depends on.
func TestHeaderSwapKeysAxisSqueeze(t *testing.T) {
	h := NewHeader()
	h.SetInt("NAXIS3", 1)
	h.SetInt("NAXIS4", 64)
	h.SwapKeys("NAXIS3", "NAXIS4")
	n3, _ := h.GetInt("NAXIS3")
	n4, _ := h.GetInt("NAXIS4")
	if n3 != 64 || n4 != 1 {
		t.Fatalf("SwapKeys: NAXIS3=%d NAXIS4=%d, want 64,1", n3, n4)
	}
}

func TestDivideZeroDivisorYieldsNaN(t *testing.T) {
	a := New(F32, 1, 1, 2)
	a.SetFlt(0, 0, 0, 10)
	a.SetFlt(0, 0, 1, 20)
	b := New(F32, 1, 1, 2)
	b.SetFlt(0, 0, 0, 2)
	b.SetFlt(0, 0, 1, 0)
	if err := a.Divide(b); err != nil {
		t.Fatalf("Divide: %v", err)
	}
	if a.GetFlt(0, 0, 0) != 5 {
		t.Fatalf("Divide: got %v want 5", a.GetFlt(0, 0, 0))
	}
	if !math.IsNaN(a.GetFlt(0, 0, 1)) {
		t.Fatalf("Divide by zero should yield NaN, got %v", a.GetFlt(0, 0, 1))
	}
}

func TestMaskByThresholdAndSetMasked(t *testing.T) {
	c := New(F32, 3, 1, 1)
	c.SetFlt(0, 0, 0, 1)
	c.SetFlt(1, 0, 0, -5)
	c.SetFlt(2, 0, 0, 2)
	mask := New(U8, 3, 1, 1)
	if err := c.MaskByThreshold(mask, 3); err != nil {
		t.Fatalf("MaskByThreshold: %v", err)
	}
	if mask.GetInt(1, 0, 0) == 0 {
		t.Fatalf("expected voxel 1 to be masked")
	}
	if mask.GetInt(0, 0, 0) != 0 || mask.GetInt(2, 0, 0) != 0 {
		t.Fatalf("unexpected mask voxels set")
	}
	if err := c.SetMasked(mask, 99); err != nil {
		t.Fatalf("SetMasked: %v", err)
	}
	if c.GetFlt(1, 0, 0) != -99 {
		t.Fatalf("SetMasked should preserve sign: got %v want -99", c.GetFlt(1, 0, 0))
	}
}

func TestExtractRegionClampsAndCopies(t *testing.T) {
	c := New(F32, 4, 4, 1)
	for x := int32(0); x < 4; x++ {
		for y := int32(0); y < 4; y++ {
			c.SetFlt(x, y, 0, float64(x+10*y))
		}
	}
	sub := c.Extract(Region{XMin: 2, XMax: 10, YMin: 1, YMax: 2, ZMin: 0, ZMax: 0})
	if sub.Nx != 2 || sub.Ny != 2 || sub.Nz != 1 {
		t.Fatalf("Extract clamp: got shape %d,%d,%d", sub.Nx, sub.Ny, sub.Nz)
	}
	if sub.GetFlt(0, 0, 0) != c.GetFlt(2, 1, 0) {
		t.Fatalf("Extract: origin mismatch")
	}
}

func TestSwapByteOrderRoundTrip(t *testing.T) {
	c := New(I16, 2, 1, 1)
	c.SetInt(0, 0, 0, 0x0102)
	c.SwapByteOrder()
	c.SwapByteOrder()
	if c.GetInt(0, 0, 0) != 0x0102 {
		t.Fatalf("double SwapByteOrder should be identity, got %x", c.GetInt(0, 0, 0))
	}
}

func TestCopyMask8To32CountsVoxels(t *testing.T) {
	src8 := New(U8, 3, 1, 1)
	src8.SetInt(0, 0, 0, 1)
	src8.SetInt(2, 0, 0, 1)
	dst32 := New(I32, 3, 1, 1)
	count, err := dst32.CopyMask8To32(src8, 7)
	if err != nil {
		t.Fatalf("CopyMask8To32: %v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d want 2", count)
	}
	if dst32.GetInt(0, 0, 0) != 7 || dst32.GetInt(1, 0, 0) != 0 || dst32.GetInt(2, 0, 0) != 7 {
		t.Fatalf("CopyMask8To32 labels wrong: %v", dst32.dataI32)
	}
}
