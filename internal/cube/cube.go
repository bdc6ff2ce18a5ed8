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

// Package cube implements the 3-D rectilinear array with a runtime dtype
// tag described in spec.md §3/§4.2. Voxel access switches on the tag
// instead of reinterpreting one byte buffer as multiple numeric types -
// spec.md §9 names that union trick explicitly as something to not carry
// over.
package cube

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType is the element type of a Cube.
type DType int

const (
	U8 DType = iota
	I8
	I16
	I32
	I64
	F32
	F64
)

// WordSize returns bits(dtype)/8.
func (d DType) WordSize() int {
	switch d {
	case U8, I8:
		return 1
	case I16:
		return 2
	case I32, F32:
		return 4
	case I64, F64:
		return 8
	default:
		panic(fmt.Sprintf("cube: unknown dtype %d", d))
	}
}

func (d DType) IsFloat() bool { return d == F32 || d == F64 }

func (d DType) String() string {
	switch d {
	case U8:
		return "u8"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "invalid"
	}
}

// Cube is a dense rectilinear array over axes (nx,ny,nz), x fastest-varying,
// index = x + nx*(y + ny*z).
type Cube struct {
	Header Header
	Dtype  DType
	Nx, Ny, Nz int32

	dataU8  []uint8
	dataI8  []int8
	dataI16 []int16
	dataI32 []int32
	dataI64 []int64
	dataF32 []float32
	dataF64 []float64
}

// New allocates a zero-initialized cube of the given dtype and shape.
func New(dtype DType, nx, ny, nz int32) *Cube {
	n := int(nx) * int(ny) * int(nz)
	c := &Cube{Header: NewHeader(), Dtype: dtype, Nx: nx, Ny: ny, Nz: nz}
	switch dtype {
	case U8:
		c.dataU8 = make([]uint8, n)
	case I8:
		c.dataI8 = make([]int8, n)
	case I16:
		c.dataI16 = make([]int16, n)
	case I32:
		c.dataI32 = make([]int32, n)
	case I64:
		c.dataI64 = make([]int64, n)
	case F32:
		c.dataF32 = make([]float32, n)
	case F64:
		c.dataF64 = make([]float64, n)
	default:
		panic(fmt.Sprintf("cube: unknown dtype %d", dtype))
	}
	return c
}

// Blank allocates a zero-initialized cube, alias of New per spec.md §4.2.
func Blank(nx, ny, nz int32, dtype DType) *Cube { return New(dtype, nx, ny, nz) }

// Copy deep-copies src, including its header maps.
func Copy(src *Cube) *Cube {
	dst := New(src.Dtype, src.Nx, src.Ny, src.Nz)
	dst.Header = NewHeader()
	for k, v := range src.Header.Ints {
		dst.Header.Ints[k] = v
	}
	for k, v := range src.Header.Floats {
		dst.Header.Floats[k] = v
	}
	for k, v := range src.Header.Strings {
		dst.Header.Strings[k] = v
	}
	for k, v := range src.Header.Bools {
		dst.Header.Bools[k] = v
	}
	dst.Header.Comments = append([]string(nil), src.Header.Comments...)
	dst.Header.History = append([]string(nil), src.Header.History...)

	switch src.Dtype {
	case U8:
		copy(dst.dataU8, src.dataU8)
	case I8:
		copy(dst.dataI8, src.dataI8)
	case I16:
		copy(dst.dataI16, src.dataI16)
	case I32:
		copy(dst.dataI32, src.dataI32)
	case I64:
		copy(dst.dataI64, src.dataI64)
	case F32:
		copy(dst.dataF32, src.dataF32)
	case F64:
		copy(dst.dataF64, src.dataF64)
	}
	return dst
}

// Pixels returns nx*ny*nz.
func (c *Cube) Pixels() int32 { return c.Nx * c.Ny * c.Nz }

// WordSize returns bits(dtype)/8.
func (c *Cube) WordSize() int { return c.Dtype.WordSize() }

func (c *Cube) index(x, y, z int32) int {
	return int(x) + int(c.Nx)*(int(y)+int(c.Ny)*int(z))
}

// GetFlt reads one sample with implicit cast to float64.
func (c *Cube) GetFlt(x, y, z int32) float64 {
	i := c.index(x, y, z)
	switch c.Dtype {
	case U8:
		return float64(c.dataU8[i])
	case I8:
		return float64(c.dataI8[i])
	case I16:
		return float64(c.dataI16[i])
	case I32:
		return float64(c.dataI32[i])
	case I64:
		return float64(c.dataI64[i])
	case F32:
		return float64(c.dataF32[i])
	case F64:
		return c.dataF64[i]
	}
	panic("cube: unknown dtype")
}

// GetInt reads one sample with implicit cast to int64.
func (c *Cube) GetInt(x, y, z int32) int64 {
	i := c.index(x, y, z)
	switch c.Dtype {
	case U8:
		return int64(c.dataU8[i])
	case I8:
		return int64(c.dataI8[i])
	case I16:
		return int64(c.dataI16[i])
	case I32:
		return int64(c.dataI32[i])
	case I64:
		return c.dataI64[i]
	case F32:
		return int64(c.dataF32[i])
	case F64:
		return int64(c.dataF64[i])
	}
	panic("cube: unknown dtype")
}

// SetFlt writes one sample with implicit cast to the cube's dtype.
func (c *Cube) SetFlt(x, y, z int32, v float64) {
	i := c.index(x, y, z)
	switch c.Dtype {
	case U8:
		c.dataU8[i] = uint8(v)
	case I8:
		c.dataI8[i] = int8(v)
	case I16:
		c.dataI16[i] = int16(v)
	case I32:
		c.dataI32[i] = int32(v)
	case I64:
		c.dataI64[i] = int64(v)
	case F32:
		c.dataF32[i] = float32(v)
	case F64:
		c.dataF64[i] = v
	default:
		panic("cube: unknown dtype")
	}
}

// SetInt writes one sample with implicit cast to the cube's dtype.
func (c *Cube) SetInt(x, y, z int32, v int64) {
	i := c.index(x, y, z)
	switch c.Dtype {
	case U8:
		c.dataU8[i] = uint8(v)
	case I8:
		c.dataI8[i] = int8(v)
	case I16:
		c.dataI16[i] = int16(v)
	case I32:
		c.dataI32[i] = int32(v)
	case I64:
		c.dataI64[i] = v
	case F32:
		c.dataF32[i] = float32(v)
	case F64:
		c.dataF64[i] = float64(v)
	default:
		panic("cube: unknown dtype")
	}
}

// AddFlt adds to one sample with implicit cast to the cube's dtype.
func (c *Cube) AddFlt(x, y, z int32, v float64) { c.SetFlt(x, y, z, c.GetFlt(x, y, z)+v) }

// AddInt adds to one sample with implicit cast to the cube's dtype.
func (c *Cube) AddInt(x, y, z int32, v int64) { c.SetInt(x, y, z, c.GetInt(x, y, z)+v) }

// FlatFloat64 returns the cube's samples copied into a fresh []float64,
// regardless of the underlying dtype. Used by numcore-facing code (noise,
// scfind, linker, maskgrow, param) which always reason in floating point.
func (c *Cube) FlatFloat64() []float64 {
	n := int(c.Pixels())
	out := make([]float64, n)
	switch c.Dtype {
	case U8:
		for i, v := range c.dataU8 {
			out[i] = float64(v)
		}
	case I8:
		for i, v := range c.dataI8 {
			out[i] = float64(v)
		}
	case I16:
		for i, v := range c.dataI16 {
			out[i] = float64(v)
		}
	case I32:
		for i, v := range c.dataI32 {
			out[i] = float64(v)
		}
	case I64:
		for i, v := range c.dataI64 {
			out[i] = float64(v)
		}
	case F32:
		for i, v := range c.dataF32 {
			out[i] = float64(v)
		}
	case F64:
		copy(out, c.dataF64)
	}
	return out
}

// DataF32 returns the backing []float32 slice directly. Panics if
// Dtype!=F32. Most of the pipeline operates on F32 cubes after BoundaryIO
// load-time conversion (see internal/fitsio); this accessor avoids a
// GetFlt/SetFlt call per voxel in the hot loops of scfind/linker/maskgrow.
func (c *Cube) DataF32() []float32 {
	if c.Dtype != F32 {
		panic("cube: DataF32 called on non-F32 cube")
	}
	return c.dataF32
}

// DataI32 returns the backing []int32 slice directly. Panics if Dtype!=I32.
func (c *Cube) DataI32() []int32 {
	if c.Dtype != I32 {
		panic("cube: DataI32 called on non-I32 cube")
	}
	return c.dataI32
}

// DataU8 returns the backing []uint8 slice directly. Panics if Dtype!=U8.
func (c *Cube) DataU8() []uint8 {
	if c.Dtype != U8 {
		panic("cube: DataU8 called on non-U8 cube")
	}
	return c.dataU8
}

// FillFlt sets every sample to value. Requires a floating-point dtype.
func (c *Cube) FillFlt(value float64) error {
	if !c.Dtype.IsFloat() {
		return fmt.Errorf("cube: FillFlt requires floating point dtype, got %s", c.Dtype)
	}
	if c.Dtype == F32 {
		v := float32(value)
		for i := range c.dataF32 {
			c.dataF32[i] = v
		}
	} else {
		for i := range c.dataF64 {
			c.dataF64[i] = value
		}
	}
	return nil
}

// MultiplyConst multiplies every sample by factor. Floating-point only.
func (c *Cube) MultiplyConst(factor float64) error {
	if !c.Dtype.IsFloat() {
		return fmt.Errorf("cube: MultiplyConst requires floating point dtype, got %s", c.Dtype)
	}
	if c.Dtype == F32 {
		f := float32(factor)
		for i, v := range c.dataF32 {
			c.dataF32[i] = v * f
		}
	} else {
		for i, v := range c.dataF64 {
			c.dataF64[i] = v * factor
		}
	}
	return nil
}

// AddConst adds value to every sample. Floating-point only.
func (c *Cube) AddConst(value float64) error {
	if !c.Dtype.IsFloat() {
		return fmt.Errorf("cube: AddConst requires floating point dtype, got %s", c.Dtype)
	}
	if c.Dtype == F32 {
		v := float32(value)
		for i, x := range c.dataF32 {
			c.dataF32[i] = x + v
		}
	} else {
		for i, x := range c.dataF64 {
			c.dataF64[i] = x + value
		}
	}
	return nil
}

func (c *Cube) sameShape(o *Cube) bool {
	return c.Nx == o.Nx && c.Ny == o.Ny && c.Nz == o.Nz
}

// Divide divides c by divisor element-wise, in place. Both cubes must be
// floating-point and same-shape. A zero or NaN divisor produces NaN at that
// voxel.
func (c *Cube) Divide(divisor *Cube) error {
	if !c.Dtype.IsFloat() || !divisor.Dtype.IsFloat() {
		return fmt.Errorf("cube: Divide requires floating point cubes")
	}
	if !c.sameShape(divisor) {
		return fmt.Errorf("cube: Divide requires same-shape cubes")
	}
	n := int(c.Pixels())
	for i := 0; i < n; i++ {
		var num, den float64
		if c.Dtype == F32 {
			num = float64(c.dataF32[i])
		} else {
			num = c.dataF64[i]
		}
		if divisor.Dtype == F32 {
			den = float64(divisor.dataF32[i])
		} else {
			den = divisor.dataF64[i]
		}
		var res float64
		if den == 0 || math.IsNaN(den) {
			res = math.NaN()
		} else {
			res = num / den
		}
		if c.Dtype == F32 {
			c.dataF32[i] = float32(res)
		} else {
			c.dataF64[i] = res
		}
	}
	return nil
}

// ApplyWeights multiplies c by sqrt(weights), element-wise.
func (c *Cube) ApplyWeights(weights *Cube) error {
	if !c.Dtype.IsFloat() || !weights.Dtype.IsFloat() {
		return fmt.Errorf("cube: ApplyWeights requires floating point cubes")
	}
	if !c.sameShape(weights) {
		return fmt.Errorf("cube: ApplyWeights requires same-shape cubes")
	}
	n := int(c.Pixels())
	for i := 0; i < n; i++ {
		var w float64
		if weights.Dtype == F32 {
			w = float64(weights.dataF32[i])
		} else {
			w = weights.dataF64[i]
		}
		factor := math.Sqrt(w)
		if c.Dtype == F32 {
			c.dataF32[i] *= float32(factor)
		} else {
			c.dataF64[i] *= factor
		}
	}
	return nil
}

// MaskByThreshold sets mask[i]=1 wherever |c[i]| > theta. mask must be a U8
// cube of the same shape as c.
func (c *Cube) MaskByThreshold(mask *Cube, theta float64) error {
	if mask.Dtype != U8 {
		return fmt.Errorf("cube: MaskByThreshold requires a u8 mask")
	}
	if !c.sameShape(mask) {
		return fmt.Errorf("cube: MaskByThreshold requires same-shape cubes")
	}
	n := int(c.Pixels())
	m := mask.dataU8
	if c.Dtype == F32 {
		d := c.dataF32
		for i := 0; i < n; i++ {
			if math.Abs(float64(d[i])) > theta {
				m[i] = 1
			}
		}
		return nil
	}
	for i := 0; i < n; i++ {
		if math.Abs(c.GetFlt(int32(i%int(c.Nx)), int32((i/int(c.Nx))%int(c.Ny)), int32(i/(int(c.Nx)*int(c.Ny))))) > theta {
			m[i] = 1
		}
	}
	return nil
}

// SetMasked replaces c[i] with sign(c[i])*v wherever mask[i] is non-zero.
// mask must be a U8 cube of the same shape as c, and c must be floating
// point.
func (c *Cube) SetMasked(mask *Cube, v float64) error {
	if !c.Dtype.IsFloat() {
		return fmt.Errorf("cube: SetMasked requires floating point cube")
	}
	if mask.Dtype != U8 || !c.sameShape(mask) {
		return fmt.Errorf("cube: SetMasked requires a same-shape u8 mask")
	}
	n := int(c.Pixels())
	m := mask.dataU8
	if c.Dtype == F32 {
		d := c.dataF32
		fv := float32(v)
		for i := 0; i < n; i++ {
			if m[i] != 0 {
				if d[i] < 0 {
					d[i] = -fv
				} else {
					d[i] = fv
				}
			}
		}
		return nil
	}
	d := c.dataF64
	for i := 0; i < n; i++ {
		if m[i] != 0 {
			if d[i] < 0 {
				d[i] = -v
			} else {
				d[i] = v
			}
		}
	}
	return nil
}

// CopyBlanked propagates NaN values from src into c, element-wise. Both
// cubes must be floating point and same shape.
func (c *Cube) CopyBlanked(src *Cube) error {
	if !c.Dtype.IsFloat() || !src.Dtype.IsFloat() {
		return fmt.Errorf("cube: CopyBlanked requires floating point cubes")
	}
	if !c.sameShape(src) {
		return fmt.Errorf("cube: CopyBlanked requires same-shape cubes")
	}
	n := int(c.Pixels())
	for i := 0; i < n; i++ {
		var isNaN bool
		if src.Dtype == F32 {
			isNaN = math.IsNaN(float64(src.dataF32[i]))
		} else {
			isNaN = math.IsNaN(src.dataF64[i])
		}
		if isNaN {
			if c.Dtype == F32 {
				c.dataF32[i] = float32(math.NaN())
			} else {
				c.dataF64[i] = math.NaN()
			}
		}
	}
	return nil
}

// ResetMask32 replaces every non-zero entry of an I32 mask with v.
func (c *Cube) ResetMask32(v int32) error {
	if c.Dtype != I32 {
		return fmt.Errorf("cube: ResetMask32 requires an i32 mask")
	}
	for i, x := range c.dataI32 {
		if x != 0 {
			c.dataI32[i] = v
		}
	}
	return nil
}

// FilterMask32 replaces each positive label with its image under relabel;
// labels absent from relabel become 0.
func (c *Cube) FilterMask32(relabel map[int32]int32) error {
	if c.Dtype != I32 {
		return fmt.Errorf("cube: FilterMask32 requires an i32 mask")
	}
	for i, x := range c.dataI32 {
		if x <= 0 {
			continue
		}
		if nv, ok := relabel[x]; ok {
			c.dataI32[i] = nv
		} else {
			c.dataI32[i] = 0
		}
	}
	return nil
}

// CopyMask8To32 sets dst32[i]=v for every src8[i]>0, returning the count of
// voxels touched. dst32 must be c (an I32 mask cube); src8 must be a
// same-shape U8 cube.
func (c *Cube) CopyMask8To32(src8 *Cube, v int32) (int32, error) {
	if c.Dtype != I32 || src8.Dtype != U8 {
		return 0, fmt.Errorf("cube: CopyMask8To32 requires i32 dst and u8 src")
	}
	if !c.sameShape(src8) {
		return 0, fmt.Errorf("cube: CopyMask8To32 requires same-shape cubes")
	}
	count := int32(0)
	for i, s := range src8.dataU8 {
		if s > 0 {
			c.dataI32[i] = v
			count++
		}
	}
	return count, nil
}

// Region is an ordered, inclusive voxel-index bounding box.
type Region struct {
	XMin, XMax, YMin, YMax, ZMin, ZMax int32
}

// Clamp returns r clamped to the cube's bounds.
func (r Region) Clamp(c *Cube) Region {
	clampPair := func(lo, hi, max int32) (int32, int32) {
		if lo < 0 {
			lo = 0
		}
		if hi > max-1 {
			hi = max - 1
		}
		if hi < lo {
			hi = lo
		}
		return lo, hi
	}
	xmin, xmax := clampPair(r.XMin, r.XMax, c.Nx)
	ymin, ymax := clampPair(r.YMin, r.YMax, c.Ny)
	zmin, zmax := clampPair(r.ZMin, r.ZMax, c.Nz)
	return Region{xmin, xmax, ymin, ymax, zmin, zmax}
}

// Extract copies out the (clamped) region into a new cube of the same
// dtype. CRPIX adjustment for the shifted origin is the caller's
// responsibility via the WCS collaborator, per spec.md §4.2.
func (c *Cube) Extract(r Region) *Cube {
	r = r.Clamp(c)
	nx := r.XMax - r.XMin + 1
	ny := r.YMax - r.YMin + 1
	nz := r.ZMax - r.ZMin + 1
	out := New(c.Dtype, nx, ny, nz)
	for z := r.ZMin; z <= r.ZMax; z++ {
		for y := r.YMin; y <= r.YMax; y++ {
			for x := r.XMin; x <= r.XMax; x++ {
				if c.Dtype.IsFloat() {
					out.SetFlt(x-r.XMin, y-r.YMin, z-r.ZMin, c.GetFlt(x, y, z))
				} else {
					out.SetInt(x-r.XMin, y-r.YMin, z-r.ZMin, c.GetInt(x, y, z))
				}
			}
		}
	}
	return out
}

var hostIsLittleEndian = func() bool {
	var buf [2]byte
	binary.NativeEndian.PutUint16(buf[:], 1)
	return buf[0] == 1
}()

// SwapByteOrder reverses the byte order of every sample in place. A no-op
// unless the host is little-endian and the dtype is multi-byte, per
// spec.md §4.2.
func (c *Cube) SwapByteOrder() {
	if !hostIsLittleEndian || c.WordSize() == 1 {
		return
	}
	switch c.Dtype {
	case I16:
		for i, v := range c.dataI16 {
			c.dataI16[i] = int16(bits16(uint16(v)))
		}
	case I32:
		for i, v := range c.dataI32 {
			c.dataI32[i] = int32(bits32(uint32(v)))
		}
	case I64:
		for i, v := range c.dataI64 {
			c.dataI64[i] = int64(bits64(uint64(v)))
		}
	case F32:
		for i, v := range c.dataF32 {
			c.dataF32[i] = math.Float32frombits(bits32(math.Float32bits(v)))
		}
	case F64:
		for i, v := range c.dataF64 {
			c.dataF64[i] = math.Float64frombits(bits64(math.Float64bits(v)))
		}
	}
}

func bits16(v uint16) uint16 { return v<<8 | v>>8 }
func bits32(v uint32) uint32 {
	return v<<24 | (v&0xFF00)<<8 | (v&0xFF0000)>>8 | v>>24
}
func bits64(v uint64) uint64 {
	return uint64(bits32(uint32(v>>32))) | uint64(bits32(uint32(v)))<<32
}
