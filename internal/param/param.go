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

// Package param implements the Parameteriser: per-source moments, flux,
// background rms, ellipse fit, line widths, kinematic position angle,
// uncertainty estimates and name synthesis, grounded on the teacher's
// per-blob statistics pass in internal/star/findstars.go (moment/centroid
// accumulation over a candidate's pixel set) and its use of gonum for a
// numerical subproblem in internal/star/align.go - there repurposed from
// triangle-match optimization to symmetric eigendecomposition for ellipse
// axes/PA and a Deming regression for the kinematic position angle.
package param

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cubeline/srcfind/internal/catalog"
	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/linker"
	"github.com/cubeline/srcfind/internal/logx"
	"github.com/cubeline/srcfind/internal/numcore"
	"github.com/cubeline/srcfind/internal/wcs"
)

// Params configures name synthesis and physical-unit rescaling.
type Params struct {
	WCS      *wcs.WCS
	Physical bool
	Prefix   string
	Header   cube.Header // BUNIT/BMAJ/BMIN/CDELT3 source for physical rescaling
}

// channel centroid, valid only when weight > 0.
type chanCentroid struct {
	z      int32
	x, y   float64
	weight float64
	valid  bool
}

// Parameterise computes the full parameter set for one labelled source and
// returns it as a catalog Source, per spec.md §4.7.
func Parameterise(data, mask *cube.Cube, srcID int32, e *linker.Entry, p Params, log logx.Logger) (*catalog.Source, error) {
	if log == nil {
		log = logx.NopLogger{}
	}
	r := cube.Region{XMin: e.XMin, XMax: e.XMax, YMin: e.YMin, YMax: e.YMax, ZMin: e.ZMin, ZMax: e.ZMax}.Clamp(data)
	nxBox := int(r.XMax - r.XMin + 1)
	nyBox := int(r.YMax - r.YMin + 1)
	nzBox := int(r.ZMax - r.ZMin + 1)

	momentMap := make([]float64, nxBox*nyBox)   // moment-0, sum over z
	countMap := make([]int32, nxBox*nyBox)      // number of source voxels at (x,y)
	spectrum := make([]float64, nzBox)          // integrated flux per channel
	var background []float64

	var fSum, fMin, fMax float64
	fMin, fMax = math.Inf(1), math.Inf(-1)
	var sumPos, sumPosX, sumPosY, sumPosZ float64
	nPix := int64(0)

	for z := r.ZMin; z <= r.ZMax; z++ {
		for y := r.YMin; y <= r.YMax; y++ {
			for x := r.XMin; x <= r.XMax; x++ {
				lbl := mask.GetInt(x, y, z)
				if lbl == 0 {
					background = append(background, data.GetFlt(x, y, z))
					continue
				}
				if int32(lbl) != srcID {
					continue
				}
				f := data.GetFlt(x, y, z)
				nPix++
				fSum += f
				if f < fMin {
					fMin = f
				}
				if f > fMax {
					fMax = f
				}
				mi := int(x-r.XMin) + nxBox*int(y-r.YMin)
				momentMap[mi] += f
				countMap[mi]++
				spectrum[z-r.ZMin] += f
				if f > 0 {
					sumPos += f
					sumPosX += f * float64(x)
					sumPosY += f * float64(y)
					sumPosZ += f * float64(z)
				}
			}
		}
	}

	var posX, posY, posZ float64
	if sumPos > 0 {
		posX, posY, posZ = sumPosX/sumPos, sumPosY/sumPos, sumPosZ/sumPos
	} else {
		posX = float64(r.XMin+r.XMax) / 2
		posY = float64(r.YMin+r.YMax) / 2
		posZ = float64(r.ZMin+r.ZMax) / 2
		log.Warnf("param: source %d has no positive flux, centroid undefined (err_x sign convention left as NaN per open question)", srcID)
	}

	var rms float64
	if len(background) > 0 {
		rms = numcore.MADToStd * float64(numcore.MadVal(background, 0, 1, 0))
	} else {
		rms = math.NaN()
		log.Warnf("param: source %d has an empty background set, rms undefined", srcID)
	}

	// second pass: positional variance for uncertainties, and per-channel
	// centroids restricted to voxels > 3*rms for the kinematic-axis fit.
	var varX, varY, varZ float64
	centroids := make([]chanCentroid, nzBox)
	for i := range centroids {
		centroids[i].z = r.ZMin + int32(i)
	}
	threshold := 3 * rms
	for z := r.ZMin; z <= r.ZMax; z++ {
		ci := &centroids[z-r.ZMin]
		for y := r.YMin; y <= r.YMax; y++ {
			for x := r.XMin; x <= r.XMax; x++ {
				if int32(mask.GetInt(x, y, z)) != srcID {
					continue
				}
				f := data.GetFlt(x, y, z)
				if sumPos > 0 {
					varX += f * (float64(x) - posX) * (float64(x) - posX)
					varY += f * (float64(y) - posY) * (float64(y) - posY)
					varZ += f * (float64(z) - posZ) * (float64(z) - posZ)
				}
				if !math.IsNaN(rms) && f > threshold {
					w := f * f
					ci.x += w * float64(x)
					ci.y += w * float64(y)
					ci.weight += w
				}
			}
		}
		if ci.weight > 0 {
			ci.x /= ci.weight
			ci.y /= ci.weight
			ci.valid = true
		}
	}

	ellMaj, ellMin, ellPA := fitEllipse(momentMap, countMap, nxBox, nyBox, false, rms)
	ell3Maj, ell3Min, ell3PA := fitEllipse(momentMap, countMap, nxBox, nyBox, true, rms)

	w50, w20 := lineWidths(spectrum, log, srcID)
	kinPA := kinematicPA(centroids, log, srcID)

	errX, errY, errZ := math.NaN(), math.NaN(), math.NaN()
	errFSum := rms * math.Sqrt(float64(nPix))
	if sumPos > 0 {
		errX = math.Sqrt(varX) * rms / sumPos
		errY = math.Sqrt(varY) * rms / sumPos
		errZ = math.Sqrt(varZ) * rms / sumPos
	}

	if p.Physical {
		fSum, w50, w20, errFSum = toPhysicalUnits(fSum, w50, w20, errFSum, p.Header, log)
	}

	if fSum < 0 {
		fMin, fMax = -fMax, -fMin
	}

	src := &catalog.Source{}
	src.SetInt("id", int64(srcID), "-", "meta.id")
	src.SetFloat("x", posX, "pix", "pos.cartesian.x")
	src.SetFloat("y", posY, "pix", "pos.cartesian.y")
	src.SetFloat("z", posZ, "pix", "pos.cartesian.z")
	src.SetInt("x_min", int64(e.XMin), "pix", "pos.cartesian.x;stat.min")
	src.SetInt("x_max", int64(e.XMax), "pix", "pos.cartesian.x;stat.max")
	src.SetInt("y_min", int64(e.YMin), "pix", "pos.cartesian.y;stat.min")
	src.SetInt("y_max", int64(e.YMax), "pix", "pos.cartesian.y;stat.max")
	src.SetInt("z_min", int64(e.ZMin), "pix", "pos.cartesian.z;stat.min")
	src.SetInt("z_max", int64(e.ZMax), "pix", "pos.cartesian.z;stat.max")
	src.SetInt("n_pix", nPix, "-", "instr.pixel")
	src.SetFloat("f_min", fMin, "Jy", "phot.flux;stat.min")
	src.SetFloat("f_max", fMax, "Jy", "phot.flux;stat.max")
	src.SetFloat("f_sum", fSum, "Jy", "phot.flux")
	src.SetFloat("rms", rms, "Jy", "stat.stdev")
	src.SetFloat("w20", w20, "pix", "spect.line.width")
	src.SetFloat("w50", w50, "pix", "spect.line.width")
	src.SetFloat("ell_maj", ellMaj, "pix", "phys.angSize.smajAxis")
	src.SetFloat("ell_min", ellMin, "pix", "phys.angSize.sminAxis")
	src.SetFloat("ell_pa", ellPA, "deg", "pos.posAng")
	src.SetFloat("ell3s_maj", ell3Maj, "pix", "phys.angSize.smajAxis")
	src.SetFloat("ell3s_min", ell3Min, "pix", "phys.angSize.sminAxis")
	src.SetFloat("ell3s_pa", ell3PA, "deg", "pos.posAng")
	src.SetFloat("kin_pa", kinPA, "deg", "pos.posAng")
	src.SetFloat("err_x", errX, "pix", "stat.error;pos.cartesian.x")
	src.SetFloat("err_y", errY, "pix", "stat.error;pos.cartesian.y")
	src.SetFloat("err_z", errZ, "pix", "stat.error;pos.cartesian.z")
	src.SetFloat("err_f_sum", errFSum, "Jy", "stat.error;phot.flux")
	src.SetInt("flag", int64(e.Flag), "-", "meta.code")

	lon, lat, spec := 0.0, 0.0, 0.0
	if p.WCS != nil && p.WCS.Valid {
		lon, lat, spec = p.WCS.PixelToWorld(posX, posY, posZ)
		src.SetFloat("lon", lon, "deg", "pos.eq.ra")
		src.SetFloat("lat", lat, "deg", "pos.eq.dec")
		src.SetFloat("spec", spec, "", "spect")
	}
	prefix := p.Prefix
	if prefix == "" {
		prefix = "SoFiA"
	}
	src.Identifier = p.WCS.SynthName(prefix, srcID, lon, lat, spec)

	return src, nil
}

// fitEllipse computes the 2-D second-moment ellipse of the moment-0 map.
// flux-weighted over positive pixels when threeSigma is false; equal-
// weighted over pixels brighter than 3*rms*sqrt(count) when true.
func fitEllipse(momentMap []float64, countMap []int32, nx, ny int, threeSigma bool, rms float64) (maj, min, pa float64) {
	var sumW, sumWX, sumWY float64
	weight := func(i int) float64 {
		f := momentMap[i]
		if threeSigma {
			cutoff := 3 * rms * math.Sqrt(float64(countMap[i]))
			if math.IsNaN(rms) || f <= cutoff {
				return 0
			}
			return 1
		}
		if f <= 0 {
			return 0
		}
		return f
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			i := x + nx*y
			w := weight(i)
			if w == 0 {
				continue
			}
			sumW += w
			sumWX += w * float64(x)
			sumWY += w * float64(y)
		}
	}
	if sumW <= 0 {
		return 0, 0, 0
	}
	muX, muY := sumWX/sumW, sumWY/sumW

	var ixx, iyy, ixy float64
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			i := x + nx*y
			w := weight(i)
			if w == 0 {
				continue
			}
			dx, dy := float64(x)-muX, float64(y)-muY
			ixx += w * dx * dx
			iyy += w * dy * dy
			ixy += w * dx * dy
		}
	}
	ixx /= sumW
	iyy /= sumW
	ixy /= sumW

	sym := mat.NewSymDense(2, []float64{ixx, ixy, ixy, iyy})
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return 0, 0, 0
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// gonum returns eigenvalues in ascending order; the major axis
	// corresponds to the larger one.
	majIdx, minIdx := 1, 0
	if values[0] > values[1] {
		majIdx, minIdx = 0, 1
	}
	maj = math.Sqrt(math.Max(values[majIdx], 0))
	min = math.Sqrt(math.Max(values[minIdx], 0))

	vx, vy := vectors.At(0, majIdx), vectors.At(1, majIdx)
	pa = math.Atan2(vx, vy) * 180 / math.Pi // 0 pointing up, astronomer convention
	for pa > 90 {
		pa -= 180
	}
	for pa < -90 {
		pa += 180
	}
	return maj, min, pa
}

// lineWidths returns w50/w20 by moving inwards from both spectrum ends
// until the first channel crossing 50%/20% of the peak, linearly
// interpolated between adjacent channels. Returns 0 on failure.
func lineWidths(spectrum []float64, log logx.Logger, srcID int32) (w50, w20 float64) {
	if len(spectrum) == 0 {
		return 0, 0
	}
	peak := spectrum[0]
	peakIdx := 0
	for i, v := range spectrum {
		if v > peak {
			peak = v
			peakIdx = i
		}
	}
	if peak <= 0 {
		log.Warnf("param: source %d spectrum has no positive peak, w50/w20 undefined", srcID)
		return 0, 0
	}
	crossing := func(level float64) float64 {
		var lo, hi float64 = -1, -1
		for i := 0; i < len(spectrum)-1; i++ {
			if spectrum[i] < level && spectrum[i+1] >= level {
				lo = interpCrossing(float64(i), spectrum[i], float64(i+1), spectrum[i+1], level)
				break
			}
		}
		for i := len(spectrum) - 1; i > 0; i-- {
			if spectrum[i] < level && spectrum[i-1] >= level {
				hi = interpCrossing(float64(i), spectrum[i], float64(i-1), spectrum[i-1], level)
				break
			}
		}
		if lo < 0 || hi < 0 || hi < lo {
			return 0
		}
		return hi - lo
	}
	_ = peakIdx
	w50 = crossing(0.5 * peak)
	w20 = crossing(0.2 * peak)
	if w50 == 0 || w20 == 0 {
		log.Warnf("param: source %d line width crossing failed, reporting 0", srcID)
	}
	return w50, w20
}

func interpCrossing(x0, y0, x1, y1, level float64) float64 {
	if y1 == y0 {
		return x0
	}
	return x0 + (level-y0)*(x1-x0)/(y1-y0)
}

// kinematicPA fits a flux-weighted Deming regression through the usable
// per-channel centroids, with a 180-degree correction toward the upper-z
// side. Returns -1 when fewer than 2 channels are usable.
func kinematicPA(centroids []chanCentroid, log logx.Logger, srcID int32) float64 {
	var xs, ys, ws []float64
	for _, c := range centroids {
		if c.valid {
			xs = append(xs, c.x)
			ys = append(ys, c.y)
			ws = append(ws, c.weight*c.weight)
		}
	}
	if len(xs) < 2 {
		log.Warnf("param: source %d has fewer than 2 usable channel centroids, kin_pa undefined", srcID)
		return -1
	}

	var sumW, sumWX, sumWY float64
	for i := range xs {
		sumW += ws[i]
		sumWX += ws[i] * xs[i]
		sumWY += ws[i] * ys[i]
	}
	muX, muY := sumWX/sumW, sumWY/sumW

	var sxx, syy, sxy float64
	for i := range xs {
		dx, dy := xs[i]-muX, ys[i]-muY
		sxx += ws[i] * dx * dx
		syy += ws[i] * dy * dy
		sxy += ws[i] * dx * dy
	}
	// Deming regression slope (equal-variance case), robust to near-zero sxy.
	slope := (syy - sxx + math.Sqrt((syy-sxx)*(syy-sxx)+4*sxy*sxy)) / (2 * sxy)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		slope = 0
	}
	pa := math.Atan2(1, slope) * 180 / math.Pi

	// correct toward the upper-z side: later channels should move in the
	// direction of increasing PA angle from the centroid.
	firstValid, lastValid := -1, -1
	for i, c := range centroids {
		if c.valid {
			if firstValid < 0 {
				firstValid = i
			}
			lastValid = i
		}
	}
	dx := centroids[lastValid].x - centroids[firstValid].x
	dy := centroids[lastValid].y - centroids[firstValid].y
	dirX, dirY := math.Sin(pa*math.Pi/180), math.Cos(pa*math.Pi/180)
	if dx*dirX+dy*dirY < 0 {
		pa += 180
	}
	for pa > 180 {
		pa -= 360
	}
	for pa < -180 {
		pa += 360
	}
	return pa
}

// toPhysicalUnits rescales Jy/beam quantities to total-flux units using the
// beam solid angle (from BMAJ/BMIN and the pixel scale) and the spectral
// channel width, per spec.md §4.7.
func toPhysicalUnits(fSum, w50, w20, errFSum float64, h cube.Header, log logx.Logger) (float64, float64, float64, float64) {
	bunit, ok := h.GetString("BUNIT")
	if !ok || bunit != "Jy/beam" {
		return fSum, w50, w20, errFSum
	}
	bmaj, okMaj := h.GetFloat("BMAJ")
	bmin, okMin := h.GetFloat("BMIN")
	cdelt, okDelt := h.GetFloat("CDELT1")
	if !okMaj || !okMin || !okDelt || cdelt == 0 {
		log.Warnf("param: BUNIT is Jy/beam but beam/pixel-scale keywords are missing, skipping physical rescaling")
		return fSum, w50, w20, errFSum
	}
	pixArea := cdelt * cdelt
	beamAreaPix := math.Pi * bmaj * bmin / (4 * math.Ln2 * math.Abs(pixArea))
	if beamAreaPix <= 0 {
		return fSum, w50, w20, errFSum
	}
	chanWidth := 1.0
	if cd3, ok := h.GetFloat("CDELT3"); ok {
		chanWidth = math.Abs(cd3)
	}
	return fSum / beamAreaPix * chanWidth, w50 * chanWidth, w20 * chanWidth, errFSum / beamAreaPix * chanWidth
}

// ParameteriseAll runs Parameterise for every entry in table, in label
// order, pushing each resulting Source into cat.
func ParameteriseAll(data, mask *cube.Cube, table *linker.Table, p Params, cat *catalog.Catalog, log logx.Logger) error {
	for i := range table.Entries() {
		e := &table.Entries()[i]
		src, err := Parameterise(data, mask, e.Label, e, p, log)
		if err != nil {
			return fmt.Errorf("param: source %d: %w", e.Label, err)
		}
		if err := cat.Push(src); err != nil {
			return fmt.Errorf("param: %w", err)
		}
	}
	return nil
}
