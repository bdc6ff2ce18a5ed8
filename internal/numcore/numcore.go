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

// Package numcore provides the NaN-aware numeric primitives shared by every
// other pipeline component: reductions, robust noise estimators, 1-D boxcar
// and 2-D (iterated-boxcar) Gaussian filters, and a quickselect.
//
// Every primitive is generic over ~float32 | ~float64 rather than
// hand-duplicated per precision, which is how the teacher codebase (predating
// Go generics) had to do it in internal/stats/stats.go and internal/qsort.go.
package numcore

import (
	"math"

	"github.com/valyala/fastrand"
)

// MADToStd converts a median absolute deviation into an estimate of Gaussian
// standard deviation.
const MADToStd = 1.482602218505602

// Float is the numeric constraint NumCore operates over.
type Float interface {
	~float32 | ~float64
}

func isNaN[F Float](f F) bool {
	return float64(f) != float64(f)
}

// MaxMin returns the maximum and minimum of data, ignoring NaN. Returns
// (NaN, NaN) if data is empty or contains only NaN.
func MaxMin[F Float](data []F) (max, min F) {
	haveAny := false
	for _, v := range data {
		if isNaN(v) {
			continue
		}
		if !haveAny || v > max {
			max = v
		}
		if !haveAny || v < min {
			min = v
		}
		haveAny = true
	}
	if !haveAny {
		nan := F(math.NaN())
		return nan, nan
	}
	return max, min
}

// Sum returns the sum of data, ignoring NaN.
func Sum[F Float](data []F) F {
	sum := float64(0)
	for _, v := range data {
		if isNaN(v) {
			continue
		}
		sum += float64(v)
	}
	return F(sum)
}

// Mean returns the mean of data, ignoring NaN. Returns NaN if data has no
// finite values.
func Mean[F Float](data []F) F {
	sum := float64(0)
	n := 0
	for _, v := range data {
		if isNaN(v) {
			continue
		}
		sum += float64(v)
		n++
	}
	if n == 0 {
		return F(math.NaN())
	}
	return F(sum / float64(n))
}

// Moments returns the 2nd, 3rd and 4th central moments of data about value,
// ignoring NaN.
func Moments[F Float](data []F, value F) (m2, m3, m4 F) {
	v := float64(value)
	s2, s3, s4 := float64(0), float64(0), float64(0)
	n := 0
	for _, x := range data {
		if isNaN(x) {
			continue
		}
		d := float64(x) - v
		d2 := d * d
		s2 += d2
		s3 += d2 * d
		s4 += d2 * d2
		n++
	}
	if n == 0 {
		nan := F(math.NaN())
		return nan, nan, nan
	}
	fn := float64(n)
	return F(s2 / fn), F(s3 / fn), F(s4 / fn)
}

// keepSample reports whether x passes the requested flux range filter:
// -1 restricts to negative samples, 0 keeps all finite samples, +1 restricts
// to positive samples.
func keepSample[F Float](x F, rng int) bool {
	if isNaN(x) {
		return false
	}
	switch {
	case rng < 0:
		return x < 0
	case rng > 0:
		return x > 0
	default:
		return true
	}
}

// selectStrided gathers every cadence-th element of data that passes the
// range filter, into a freshly allocated slice.
func selectStrided[F Float](data []F, cadence, rng int) []F {
	if cadence < 1 {
		cadence = 1
	}
	capacity := len(data)/cadence + 1
	if rng != 0 {
		capacity = capacity/2 + 1
	}
	out := make([]F, 0, capacity)
	for i := 0; i < len(data); i += cadence {
		x := data[i]
		if keepSample(x, rng) {
			out = append(out, x)
		}
	}
	return out
}

// StdDevVal returns sqrt(sum((x-value)^2)/n) over every cadence-th sample of
// data that passes the range filter. Returns NaN if no samples pass.
func StdDevVal[F Float](data []F, value F, cadence, rng int) F {
	if cadence < 1 {
		cadence = 1
	}
	v := float64(value)
	sum := float64(0)
	n := 0
	for i := 0; i < len(data); i += cadence {
		x := data[i]
		if !keepSample(x, rng) {
			continue
		}
		d := float64(x) - v
		sum += d * d
		n++
	}
	if n == 0 {
		return F(math.NaN())
	}
	return F(math.Sqrt(sum / float64(n)))
}

// MadVal returns the median absolute deviation about value, over every
// cadence-th sample of data that passes the range filter. Does not modify
// data. Returns NaN if no samples pass.
func MadVal[F Float](data []F, value F, cadence, rng int) F {
	samples := selectStrided(data, cadence, rng)
	if len(samples) == 0 {
		return F(math.NaN())
	}
	v := float64(value)
	for i, x := range samples {
		samples[i] = F(math.Abs(float64(x) - v))
	}
	return Median(samples, false)
}

// RobustNoise estimates Gaussian sigma as MADToStd * median(|negative
// samples|), falling back to all finite samples if the cube has none.
func RobustNoise[F Float](data []F) F {
	mad := MadVal(data, F(0), 1, -1)
	if isNaN(mad) {
		mad = MadVal(data, F(0), 1, 0)
	}
	return F(float64(mad) * MADToStd)
}

// Gaufit fits a Gaussian to the histogram of every cadence-th sample of data
// passing the range filter, via linear regression of ln(histogram count)
// against squared bin offset from the centre bin over a 101-bin histogram
// whose span is set so the data's second moment about zero equals 1/5 of
// the squared bin span. Returns sigma, or NaN if the requested range has no
// matching sign of data (max<=0 for rng>=0, or min>=0 for rng<=0).
func Gaufit[F Float](data []F, cadence, rng int) F {
	samples := selectStrided(data, cadence, rng)
	if len(samples) == 0 {
		return F(math.NaN())
	}
	max, min := MaxMin(samples)
	if rng >= 0 && float64(max) <= 0 {
		return F(math.NaN())
	}
	if rng <= 0 && float64(min) >= 0 {
		return F(math.NaN())
	}

	// second moment about zero
	sumSq := float64(0)
	for _, x := range samples {
		sumSq += float64(x) * float64(x)
	}
	m2 := sumSq / float64(len(samples))
	if m2 <= 0 {
		return F(math.NaN())
	}

	const numBins = 101
	origin := numBins / 2
	// m2 == (1/5) * (numBins*binWidth)^2  =>  binWidth = sqrt(5*m2)/numBins
	binWidth := math.Sqrt(5*m2) / float64(numBins)
	if binWidth <= 0 {
		return F(math.NaN())
	}

	counts := make([]float64, numBins)
	for _, x := range samples {
		bin := int(float64(x)/binWidth) + origin
		if bin < 0 || bin >= numBins {
			continue
		}
		counts[bin]++
	}

	// linear regression of ln(counts[i]) against (i-origin)^2, over nonzero bins
	var sxx, sxy, sx, sy float64
	n := float64(0)
	for i, c := range counts {
		if c <= 0 {
			continue
		}
		k := float64(i - origin)
		x := k * k
		y := math.Log(c)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
		n++
	}
	if n < 2 {
		return F(math.NaN())
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return F(math.NaN())
	}
	slope := (n*sxy - sx*sy) / denom
	if slope >= 0 {
		return F(math.NaN())
	}
	sigmaBins := math.Sqrt(-1 / (2 * slope))
	return F(sigmaBins * binWidth)
}

// FastApproxThreshold is the sample count above which RobustNoise-style
// estimators should subsample rather than scan every voxel.
const FastApproxThreshold = 1 << 18

// FastApproxSamples is how many random voxels FastApproxStdDev/FastApproxMAD
// draw by default when subsampling a window too large to scan exactly.
const FastApproxSamples = 1 << 13

// FastApproxStdDev estimates sqrt(mean((x-value)^2)) from numSamples voxels
// of data chosen uniformly at random, for windows too large to scan exactly.
// Grounded on the teacher's internal/stats/stats.go FastApproxStdDev.
func FastApproxStdDev[F Float](data []F, value F, numSamples int) F {
	if len(data) == 0 || numSamples <= 0 {
		return F(math.NaN())
	}
	rng := fastrand.RNG{}
	max := uint32(len(data))
	v := float64(value)
	sumSq, n := float64(0), 0
	for i := 0; i < numSamples; i++ {
		x := data[rng.Uint32n(max)]
		if isNaN(x) {
			continue
		}
		d := float64(x) - v
		sumSq += d * d
		n++
	}
	if n == 0 {
		return F(math.NaN())
	}
	return F(math.Sqrt(sumSq / float64(n)))
}

// FastApproxMAD estimates the median absolute deviation about value from
// numSamples voxels of data chosen uniformly at random. Grounded on the
// teacher's internal/stats/stats.go FastApproxMAD.
func FastApproxMAD[F Float](data []F, value F, numSamples int) F {
	if len(data) == 0 || numSamples <= 0 {
		return F(math.NaN())
	}
	rng := fastrand.RNG{}
	max := uint32(len(data))
	v := float64(value)
	samples := make([]F, 0, numSamples)
	for i := 0; i < numSamples; i++ {
		x := data[rng.Uint32n(max)]
		if isNaN(x) {
			continue
		}
		samples = append(samples, F(math.Abs(float64(x)-v)))
	}
	if len(samples) == 0 {
		return F(math.NaN())
	}
	return Median(samples, true)
}

// NthElement reorders data in place via Hoare-style quickselect so that, for
// all i<k<=j, data[i]<=data[k]<=data[j], and returns data[k]. Not NaN-safe -
// callers must pre-filter NaN.
func NthElement[F Float](data []F, k int) F {
	left, right := 0, len(data)-1
	for left < right {
		mid := (left + right) >> 1
		pivot := data[mid]
		l, r := left-1, right+1
		for {
			for {
				l++
				if data[l] >= pivot {
					break
				}
			}
			for {
				r--
				if data[r] <= pivot {
					break
				}
			}
			if l >= r {
				break
			}
			data[l], data[r] = data[r], data[l]
		}
		index := r
		offset := index - left + 1
		if k < offset {
			right = index
		} else {
			left = index + 1
			k -= offset
		}
	}
	return data[left]
}

// Median returns the exact median of data (must not contain NaN), reordering
// it in place. If len(data) is even and fast is false, returns the average
// of NthElement(n/2) and the maximum of the lower half; if fast is true it
// just returns NthElement(n/2) without that correction.
func Median[F Float](data []F, fast bool) F {
	n := len(data)
	if n == 0 {
		return F(math.NaN())
	}
	if n%2 == 1 || fast {
		return NthElement(data, n/2)
	}
	hi := NthElement(data, n/2)
	lo, _ := MaxMin(data[:n/2])
	return (lo + hi) / 2
}

// FilterBoxcar1D applies a zero-extended boxcar of width 2*radius+1 to data,
// writing the result into scratch (which must have the same length as
// data), then copies scratch back into data. NaN samples contribute as zero.
// Runs in O(N) via the running-sum recurrence y[i] = y[i+1] + (x[i] -
// x[i+filterSize])/filterSize, applied right to left over the zero-extended
// array.
func FilterBoxcar1D[F Float](data, scratch []F, size, radius int) {
	if radius <= 0 {
		return
	}
	filterSize := 2*radius + 1
	ext := size + 2*radius
	buf := make([]float64, ext)
	for i := 0; i < size; i++ {
		x := data[i]
		if isNaN(x) {
			buf[radius+i] = 0
		} else {
			buf[radius+i] = float64(x)
		}
	}
	// y[size-1] = sum of the last filterSize samples of the zero-padded array
	sum := float64(0)
	for i := ext - filterSize; i < ext; i++ {
		sum += buf[i]
	}
	y := make([]float64, size)
	y[size-1] = sum / float64(filterSize)
	for i := size - 2; i >= 0; i-- {
		sum += (buf[i] - buf[i+filterSize])
		y[i] = sum / float64(filterSize)
	}
	for i := 0; i < size; i++ {
		scratch[i] = F(y[i])
	}
	copy(data[:size], scratch[:size])
}

// FilterGauss2D approximates a 2-D Gaussian blur on a flattened nx*ny plane
// by nIter applications of FilterBoxcar1D along x, then along y.
func FilterGauss2D[F Float](plane []F, nx, ny, nIter, radius int) {
	if radius <= 0 || nIter <= 0 {
		return
	}
	row := make([]F, nx)
	rowScratch := make([]F, nx)
	col := make([]F, ny)
	colScratch := make([]F, ny)

	for iter := 0; iter < nIter; iter++ {
		for y := 0; y < ny; y++ {
			copy(row, plane[y*nx:(y+1)*nx])
			FilterBoxcar1D(row, rowScratch, nx, radius)
			copy(plane[y*nx:(y+1)*nx], row)
		}
		for x := 0; x < nx; x++ {
			for y := 0; y < ny; y++ {
				col[y] = plane[y*nx+x]
			}
			FilterBoxcar1D(col, colScratch, ny, radius)
			for y := 0; y < ny; y++ {
				plane[y*nx+x] = col[y]
			}
		}
	}
}

// OptimalFilterSize chooses an integer boxcar radius and iteration count
// (in [3,6]) whose nIter-fold self-convolution approximates a Gaussian of
// the given sigma, minimizing |radius-round(radius)| for radius =
// sqrt(3*sigma^2/n + 1/4) - 1/2.
func OptimalFilterSize(sigma float64) (radius, nIter int) {
	bestRadius, bestNIter := 1, 3
	bestErr := math.MaxFloat64
	for n := 3; n <= 6; n++ {
		r := math.Sqrt(3*sigma*sigma/float64(n)+0.25) - 0.5
		rounded := math.Round(r)
		if rounded < 1 {
			rounded = 1
		}
		errv := math.Abs(r - rounded)
		if errv < bestErr {
			bestErr = errv
			bestRadius = int(rounded)
			bestNIter = n
		}
	}
	return bestRadius, bestNIter
}

// ShiftAndSubtract computes data[i] -= data[i-shift] for i>=shift, in place.
// A no-op if shift>=size (behaviour unspecified by the source; see
// DESIGN.md).
func ShiftAndSubtract[F Float](data []F, size, shift int) {
	if shift <= 0 || shift >= size {
		return
	}
	for i := size - 1; i >= shift; i-- {
		data[i] -= data[i-shift]
	}
}
