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

// Package wcs is the minimal linear World Coordinate System collaborator:
// voxel<->world conversion, axis-type recognition and source name
// synthesis. spec.md §1 treats WCS as an external boundary contract
// ("assumed available as a WCS collaborator"); this package is the concrete
// implementation of that boundary, grounded on the teacher's header
// keyword-map access pattern in internal/fits/fits.go rather than on any
// teacher WCS logic (nightlight has none - it never reasons about sky
// coordinates).
package wcs

import (
	"fmt"
	"math"
	"strings"

	"github.com/cubeline/srcfind/internal/cube"
)

// AxisType classifies what a CTYPE keyword represents.
type AxisType int

const (
	AxisUnknown AxisType = iota
	AxisLongitude
	AxisLatitude
	AxisSpectral
)

// ClassifyAxis recognizes CTYPE prefixes per spec.md §6's axis table.
func ClassifyAxis(ctype string) AxisType {
	c := strings.ToUpper(strings.TrimSpace(ctype))
	switch {
	case strings.HasPrefix(c, "RA--") || strings.HasPrefix(c, "GLON"):
		return AxisLongitude
	case strings.HasPrefix(c, "DEC-") || strings.HasPrefix(c, "GLAT"):
		return AxisLatitude
	case strings.HasPrefix(c, "FREQ") || strings.HasPrefix(c, "VRAD") ||
		strings.HasPrefix(c, "VOPT") || strings.HasPrefix(c, "VELO") || strings.HasPrefix(c, "FELO"):
		return AxisSpectral
	default:
		return AxisUnknown
	}
}

// IsGalactic reports whether ctype names a Galactic-system longitude or
// latitude axis (as opposed to equatorial RA/Dec).
func IsGalactic(ctype string) bool {
	c := strings.ToUpper(strings.TrimSpace(ctype))
	return strings.HasPrefix(c, "GLON") || strings.HasPrefix(c, "GLAT")
}

// Axis is one linear WCS axis: world = CRVAL + (pix+1-CRPIX)*CDELT, using
// FITS's 1-indexed pixel convention (our voxel indices are 0-indexed).
type Axis struct {
	CRPIX, CDELT, CRVAL float64
	CType, CUnit        string
	Valid               bool
}

func (a Axis) ToWorld(pix0 float64) float64 {
	return a.CRVAL + (pix0+1-a.CRPIX)*a.CDELT
}

func (a Axis) ToPixel(world float64) float64 {
	if a.CDELT == 0 {
		return math.NaN()
	}
	return (world-a.CRVAL)/a.CDELT + a.CRPIX - 1
}

// WCS holds the three (rarely four) linear axes of a cube header.
type WCS struct {
	Axes        [3]Axis
	Equinox     float64
	HasEquinox  bool
	Valid       bool
}

// FromHeader extracts a WCS from a cube.Header, reading CRPIXn/CDELTn/
// CRVALn/CTYPEn/CUNITn for axes 1..3. Axes missing any of CRPIX/CDELT/CRVAL
// are left invalid; WCS.Valid is true iff all three axes are valid.
func FromHeader(h cube.Header) *WCS {
	w := &WCS{}
	allValid := true
	for i := 0; i < 3; i++ {
		n := i + 1
		crpix, okP := h.GetFloat(fmt.Sprintf("CRPIX%d", n))
		cdelt, okD := h.GetFloat(fmt.Sprintf("CDELT%d", n))
		crval, okV := h.GetFloat(fmt.Sprintf("CRVAL%d", n))
		ctype, _ := h.GetString(fmt.Sprintf("CTYPE%d", n))
		cunit, _ := h.GetString(fmt.Sprintf("CUNIT%d", n))
		valid := okP && okD && okV
		if !valid {
			allValid = false
		}
		w.Axes[i] = Axis{CRPIX: crpix, CDELT: cdelt, CRVAL: crval, CType: ctype, CUnit: cunit, Valid: valid}
	}
	if eq, ok := h.GetFloat("EQUINOX"); ok {
		w.Equinox = eq
		w.HasEquinox = true
	}
	w.Valid = allValid
	return w
}

// PixelToWorld converts 0-indexed voxel coordinates to world coordinates on
// the three axes, in header axis order.
func (w *WCS) PixelToWorld(x, y, z float64) (a1, a2, a3 float64) {
	return w.Axes[0].ToWorld(x), w.Axes[1].ToWorld(y), w.Axes[2].ToWorld(z)
}

// WorldToPixel is the inverse of PixelToWorld.
func (w *WCS) WorldToPixel(a1, a2, a3 float64) (x, y, z float64) {
	return w.Axes[0].ToPixel(a1), w.Axes[1].ToPixel(a2), w.Axes[2].ToPixel(a3)
}

// ShiftCRPIX adjusts CRPIX1..3 for a region extracted starting at
// (x0,y0,z0), so world coordinates of the sub-cube match the parent.
func (w *WCS) ShiftCRPIX(x0, y0, z0 int32) {
	w.Axes[0].CRPIX -= float64(x0)
	w.Axes[1].CRPIX -= float64(y0)
	w.Axes[2].CRPIX -= float64(z0)
}

// lonAxis/latAxis return indices of the recognized longitude/latitude axes,
// or -1 if not found.
func (w *WCS) lonAxis() int {
	for i, a := range w.Axes {
		if ClassifyAxis(a.CType) == AxisLongitude {
			return i
		}
	}
	return -1
}

func (w *WCS) latAxis() int {
	for i, a := range w.Axes {
		if ClassifyAxis(a.CType) == AxisLatitude {
			return i
		}
	}
	return -1
}

// degToHMS converts decimal degrees (already in hours*15 form, i.e.
// longitude/15) into hours/minutes/seconds.
func degToHMS(hours float64) (h, m int, s float64) {
	h = int(hours)
	fracM := (hours - float64(h)) * 60
	m = int(fracM)
	s = (fracM - float64(m)) * 60
	return
}

func degToDMS(deg float64) (sign string, d, m int, s float64) {
	sign = "+"
	if deg < 0 {
		sign = "-"
		deg = -deg
	}
	d = int(deg)
	fracM := (deg - float64(d)) * 60
	m = int(fracM)
	s = (fracM - float64(m)) * 60
	return
}

// SynthName builds the source identifier from prefix and world coordinates,
// per spec.md §4.7/S6. lon/lat are in degrees; spec is unused today but
// kept in the signature since a future spectral-coordinate suffix is a
// plausible follow-up (e.g. HI redshift tag).
func (w *WCS) SynthName(prefix string, srcID int32, lon, lat, spec float64) string {
	if w == nil || !w.Valid {
		return fmt.Sprintf("SoFiA-%04d", srcID)
	}
	lonIdx, latIdx := w.lonAxis(), w.latAxis()
	if lonIdx < 0 || latIdx < 0 {
		return fmt.Sprintf("SoFiA-%04d", srcID)
	}

	if IsGalactic(w.Axes[lonIdx].CType) {
		return fmt.Sprintf("%s G%08.4f%s%07.4f", prefix, lon, signOf(lat), math.Abs(lat))
	}

	hours := lon / 15.0
	h, m, s := degToHMS(hours)
	sign, d, dm, ds := degToDMS(lat)

	if strings.EqualFold(prefix, "WALLABY") {
		return fmt.Sprintf("%s J%02d%02d%02.0f%s%02d%02d%02.0f", prefix, h, m, s, sign, d, dm, ds)
	}

	epochTag := "J"
	if w.HasEquinox && w.Equinox < 2000 {
		epochTag = "B"
	}
	return fmt.Sprintf("%s %s%02d%02d%05.2f%s%02d%02d%04.1f", prefix, epochTag, h, m, s, sign, d, dm, ds)
}

func signOf(v float64) string {
	if v < 0 {
		return "-"
	}
	return "+"
}
