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

// Package cubelet writes the per-source cut-outs of spec.md §6: cube,
// mask, mom0/mom1/mom2, channel-count map and a spectrum text file,
// grounded on the teacher's internal/fits.NewImageBinNxN region-copy idiom
// and cmd/nightlight/main.go's OpSave filename-pattern (%d) convention.
package cubelet

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/fitsio"
	"github.com/cubeline/srcfind/internal/linker"
	"github.com/cubeline/srcfind/internal/logx"
	"github.com/cubeline/srcfind/internal/wcs"
)

// Params configures cut-out extraction and naming.
type Params struct {
	OutDir  string
	Base    string
	Margin  int32 // pixels added to the bounding box on every side, default 0
	WCS     *wcs.WCS
	Overwrite bool
}

// WriteAll emits the six FITS products plus the spectrum text file for every
// source in table, named "{outDir}/{base}_{label}_{suffix}".
func WriteAll(data, mask *cube.Cube, table *linker.Table, p Params, log logx.Logger) error {
	if log == nil {
		log = logx.NopLogger{}
	}
	for i := range table.Entries() {
		e := &table.Entries()[i]
		if err := writeOne(data, mask, e, p, log); err != nil {
			return fmt.Errorf("cubelet: source %d: %w", e.Label, err)
		}
	}
	return nil
}

func writeOne(data, mask *cube.Cube, e *linker.Entry, p Params, log logx.Logger) error {
	r := cube.Region{
		XMin: e.XMin - p.Margin, XMax: e.XMax + p.Margin,
		YMin: e.YMin - p.Margin, YMax: e.YMax + p.Margin,
		ZMin: e.ZMin - p.Margin, ZMax: e.ZMax + p.Margin,
	}.Clamp(data)

	subData := data.Extract(r)
	subMask := mask.Extract(r)
	subData.Header = deepCopyHeader(data.Header)
	shiftCRPIX(subData.Header, r.XMin, r.YMin, r.ZMin)
	subMask.Header = deepCopyHeader(subData.Header)

	mom0, mom1, mom2, chanMap := moments(subData, subMask, e.Label, p.WCS, r)

	prefix := fmt.Sprintf("%s/%s_%d", p.OutDir, p.Base, e.Label)
	writers := []struct {
		suffix string
		c      *cube.Cube
	}{
		{"cube", subData},
		{"mask", subMask},
		{"mom0", mom0},
		{"mom1", mom1},
		{"mom2", mom2},
		{"chan", chanMap},
	}
	for _, w := range writers {
		name := prefix + "_" + w.suffix + ".fits"
		if err := writeFITS(name, w.c, p.Overwrite); err != nil {
			return err
		}
	}
	return writeSpectrum(prefix+"_spec.txt", subData, subMask, e.Label, p.WCS, r, p.Overwrite)
}

func writeFITS(name string, c *cube.Cube, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(name, flags, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return fitsio.Write(f, c)
}

// deepCopyHeader clones every map in h so sub-cube header mutations never
// leak back into the parent cube, mirroring internal/cube.Copy's approach.
func deepCopyHeader(h cube.Header) cube.Header {
	out := cube.NewHeader()
	for k, v := range h.Ints {
		out.Ints[k] = v
	}
	for k, v := range h.Floats {
		out.Floats[k] = v
	}
	for k, v := range h.Strings {
		out.Strings[k] = v
	}
	for k, v := range h.Bools {
		out.Bools[k] = v
	}
	out.Comments = append([]string(nil), h.Comments...)
	out.History = append([]string(nil), h.History...)
	return out
}

// shiftCRPIX adjusts CRPIXn for a region cut from (x0,y0,z0), leaving any
// axis without a pre-existing CRPIX untouched.
func shiftCRPIX(h cube.Header, x0, y0, z0 int32) {
	if v, ok := h.GetFloat("CRPIX1"); ok {
		h.SetFloat("CRPIX1", v-float64(x0))
	}
	if v, ok := h.GetFloat("CRPIX2"); ok {
		h.SetFloat("CRPIX2", v-float64(y0))
	}
	if v, ok := h.GetFloat("CRPIX3"); ok {
		h.SetFloat("CRPIX3", v-float64(z0))
	}
}

// moments builds the mom0/mom1/mom2 flux maps and the channel-count map
// over sub's voxels labelled srcID, per the GLOSSARY's moment-map
// definitions: mom0 sums flux per (x,y); mom1/mom2 are the flux-weighted
// mean/stddev of the spectral WCS coordinate (or channel index, absent a
// valid WCS) along z.
func moments(sub, subMask *cube.Cube, srcID int32, w *wcs.WCS, r cube.Region) (mom0, mom1, mom2, chanMap *cube.Cube) {
	nx, ny, nz := sub.Nx, sub.Ny, sub.Nz
	mom0 = cube.New(cube.F32, nx, ny, 1)
	mom1 = cube.New(cube.F32, nx, ny, 1)
	mom2 = cube.New(cube.F32, nx, ny, 1)
	chanMap = cube.New(cube.F32, nx, ny, 1) // F32 so fitsio.Write can persist it like the other cut-outs

	specCoord := func(z int32) float64 {
		if w != nil && w.Valid {
			_, _, s := w.PixelToWorld(0, 0, float64(r.ZMin+z))
			return s
		}
		return float64(r.ZMin + z)
	}

	for y := int32(0); y < ny; y++ {
		for x := int32(0); x < nx; x++ {
			var sumF, sumFS, sumFS2 float64
			var count int32
			for z := int32(0); z < nz; z++ {
				if int32(subMask.GetInt(x, y, z)) != srcID {
					continue
				}
				f := sub.GetFlt(x, y, z)
				s := specCoord(z)
				sumF += f
				sumFS += f * s
				sumFS2 += f * s * s
				count++
			}
			mom0.SetFlt(x, y, 0, sumF)
			chanMap.SetFlt(x, y, 0, float64(count))
			if sumF != 0 {
				mean := sumFS / sumF
				mom1.SetFlt(x, y, 0, mean)
				variance := sumFS2/sumF - mean*mean
				if variance < 0 {
					variance = 0
				}
				mom2.SetFlt(x, y, 0, math.Sqrt(variance))
			}
		}
	}
	return mom0, mom1, mom2, chanMap
}

// writeSpectrum emits whitespace-separated columns: channel, optional WCS
// spectral coordinate, integrated flux density, pixel count - per spec.md §6.
func writeSpectrum(name string, sub, subMask *cube.Cube, srcID int32, w *wcs.WCS, r cube.Region, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(name, flags, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	defer bw.Flush()

	hasWCS := w != nil && w.Valid
	for z := int32(0); z < sub.Nz; z++ {
		var sumF float64
		var count int32
		for y := int32(0); y < sub.Ny; y++ {
			for x := int32(0); x < sub.Nx; x++ {
				if int32(subMask.GetInt(x, y, z)) == srcID {
					sumF += sub.GetFlt(x, y, z)
					count++
				}
			}
		}
		if hasWCS {
			_, _, s := w.PixelToWorld(0, 0, float64(r.ZMin+z))
			if _, err := fmt.Fprintf(bw, "%d %g %g %d\n", r.ZMin+z, s, sumF, count); err != nil {
				return err
			}
		} else {
			if _, err := fmt.Fprintf(bw, "%d %g %d\n", r.ZMin+z, sumF, count); err != nil {
				return err
			}
		}
	}
	return nil
}
