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

// Package previewimg renders quick-look JPEGs of a moment-0 map and a
// label mask, grounded on the teacher's internal/fits/writejpg.go min/max/
// gamma autoscaling idiom (generalized from a FITS Image's flat Data slice
// to a cube.Cube's 2-D z=0 plane) and its internal/hsl.go use of
// go-colorful for perceptual color work (repurposed here from chroma/hue
// post-processing into perceptually distinct per-label hues).
package previewimg

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"

	"github.com/cubeline/srcfind/internal/cube"
)

// Quality is the JPEG encoding quality used for every preview.
const Quality = 90

// WriteMono renders a single-plane (moment-0 style) cube as a grayscale
// JPEG, autoscaling to [min,max] over the finite samples it finds, with a
// fixed gamma of 1/2 to lift faint emission for a quick look.
func WriteMono(fileName string, plane *cube.Cube) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()
	return WriteMonoTo(w, plane)
}

// WriteMonoTo is WriteMono over an io.Writer, for tests and in-memory use.
func WriteMonoTo(w io.Writer, plane *cube.Cube) error {
	nx, ny := int(plane.Nx), int(plane.Ny)
	min, max := autoRange(plane)
	gammaInv := 0.5

	img := image.NewGray(image.Rect(0, 0, nx, ny))
	scale := 1.0
	if max > min {
		scale = 1.0 / (max - min)
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			v := plane.GetFlt(int32(x), int32(y), 0)
			g := (v - min) * scale
			if math.IsNaN(g) || g < 0 {
				g = 0
			}
			if g > 1 {
				g = 1
			}
			g = math.Pow(g, gammaInv)
			img.SetGray(x, y, color.Gray{Y: uint8(g * 255)})
		}
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: Quality})
}

// WriteLabelMask renders an I32 label cube's z=0 plane as a color JPEG,
// assigning each distinct positive label a perceptually even hue via
// go-colorful's HCL space, and leaving background (label 0) black.
func WriteLabelMask(fileName string, labels *cube.Cube) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()
	return WriteLabelMaskTo(w, labels)
}

// WriteLabelMaskTo is WriteLabelMask over an io.Writer.
func WriteLabelMaskTo(w io.Writer, labels *cube.Cube) error {
	nx, ny := int(labels.Nx), int(labels.Ny)
	maxLabel := int32(0)
	for y := int32(0); y < labels.Ny; y++ {
		for x := int32(0); x < labels.Nx; x++ {
			if l := int32(labels.GetInt(x, y, 0)); l > maxLabel {
				maxLabel = l
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, nx, ny))
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			lbl := int32(labels.GetInt(int32(x), int32(y), 0))
			if lbl <= 0 {
				img.SetRGBA(x, y, color.RGBA{A: 255})
				continue
			}
			img.SetRGBA(x, y, labelColor(lbl, maxLabel))
		}
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: Quality})
}

// labelColor maps a 1-indexed label into a hue evenly spread over the
// golden-angle sequence, so adjacent labels never land on similar hues even
// as maxLabel grows.
func labelColor(label, maxLabel int32) color.RGBA {
	const goldenAngle = 137.50776405
	hue := math.Mod(float64(label)*goldenAngle, 360)
	c := colorful.Hcl(hue, 0.6, 0.6).Clamped()
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// autoRange scans a single-plane cube for its finite min/max, skipping
// NaN/Inf the way spec.md §4.2 blanks voxels.
func autoRange(plane *cube.Cube) (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for z := int32(0); z < plane.Nz; z++ {
		for y := int32(0); y < plane.Ny; y++ {
			for x := int32(0); x < plane.Nx; x++ {
				v := plane.GetFlt(x, y, z)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
		}
	}
	if math.IsInf(min, 1) {
		min, max = 0, 1
	}
	return min, max
}

// ResizeMono downsamples a mono image to at most maxDim on its longer side,
// for a smaller quick-look thumbnail. Uses golang.org/x/image/draw's
// bilinear scaler, the teacher's binning-via-image-library idiom from
// internal/fits/fits.go's NewImageBinNxN generalized to an arbitrary target
// size instead of an integer bin factor.
func ResizeMono(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}
	scale := float64(maxDim) / math.Max(float64(w), float64(h))
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
