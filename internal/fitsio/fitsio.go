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

// Package fitsio reads and writes FITS cubes, grounded on the teacher's
// internal/fits/read.go (header-line regexp, per-BITPIX batched decode
// loops) and internal/fits/fits.go's header keyword maps, adapted from a
// 2-D float32-only Image into a 3-D cube that always loads as a floating
// cube per spec.md §4.2's BSCALE/BZERO contract.
package fitsio

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/cubeline/srcfind/internal/cube"
)

const blockSize = 2880
const lineSize = 80

var headerLineRE = compileHeaderLineRE()

// compileHeaderLineRE mirrors the teacher's FITS header line grammar
// (internal/fits/read.go's compileRE): blank, HISTORY, COMMENT, keyword=value
// and END lines, each captured into a named group.
func compileHeaderLineRE() *regexp.Regexp {
	white := `\s+`
	whiteOpt := `\s*`
	hist := "HISTORY" + white + "(?P<H>.*)"
	comm := "COMMENT" + white + "(?P<C>.*)"
	end := "(?P<E>END)" + whiteOpt
	key := "(?P<k>[A-Z0-9_-]+)"
	boo := "(?P<b>[TF])"
	inte := `(?P<i>[+-]?[0-9]+)`
	floa := `(?P<f>[+-]?[0-9]*\.[0-9]*(?:[ED][-+]?[0-9]+)?)`
	stri := `'(?P<s>[^']*)'`
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"
	commOpt := `(?:/(?P<c>.*))?`
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + commOpt
	lineRe := "^(?:" + white + "|" + hist + "|" + comm + "|" + keyLine + "|" + end + ")$"
	return regexp.MustCompile(lineRe)
}

func readHeader(r io.Reader) (cube.Header, error) {
	h := cube.NewHeader()
	buf := make([]byte, blockSize)
	end := false
	for !end {
		if _, err := io.ReadFull(r, buf); err != nil {
			return h, fmt.Errorf("fitsio: reading header block: %w", err)
		}
		for line := 0; line < blockSize/lineSize && !end; line++ {
			raw := buf[line*lineSize : (line+1)*lineSize]
			m := headerLineRE.FindSubmatch(raw)
			if m == nil {
				continue // malformed line, ignored like the teacher's reader
			}
			names := headerLineRE.SubexpNames()
			key := ""
			for i := 1; i < len(names); i++ {
				if m[i] == nil || len(names[i]) != 1 {
					continue
				}
				switch names[i][0] {
				case 'E':
					end = true
				case 'H':
					h.History = append(h.History, string(m[i]))
				case 'C':
					h.Comments = append(h.Comments, string(m[i]))
				case 'k':
					key = string(m[i])
				case 'b':
					if len(m[i]) > 0 {
						h.SetBool(key, m[i][0] == 'T')
					}
				case 'i':
					if v, err := strconv.ParseInt(string(m[i]), 10, 64); err == nil {
						h.SetInt(key, int32(v))
					}
				case 'f':
					if v, err := strconv.ParseFloat(strings.Replace(string(m[i]), "D", "E", 1), 64); err == nil {
						h.SetFloat(key, v)
					}
				case 's':
					h.SetString(key, strings.TrimRight(string(m[i]), " "))
				}
			}
		}
	}
	return h, nil
}

// squeezeAxes implements spec.md scenario S3: a reported 4-D cube with
// NAXIS4==1 drops its 4th axis; one with NAXIS3==1 and NAXIS4>1 swaps axes
// 3 and 4 (and their WCS keywords) before dropping axis 4.
func squeezeAxes(h cube.Header, naxis int32, naxisn []int32) (nx, ny, nz int32) {
	if naxis < 4 {
		return naxisn[0], naxisn[1], naxisn[2]
	}
	if naxisn[2] == 1 && naxisn[3] > 1 {
		for _, suffix := range []string{"CRPIX", "CDELT", "CRVAL", "CTYPE", "CUNIT"} {
			h.SwapKeys(suffix+"3", suffix+"4")
		}
		h.SwapKeys("NAXIS3", "NAXIS4")
		naxisn[2], naxisn[3] = naxisn[3], naxisn[2]
	}
	return naxisn[0], naxisn[1], naxisn[2]
}

// Read parses a FITS cube from r. Per spec.md §4.2, integer cubes are
// converted to f32 with BSCALE/BZERO applied and BLANK mapped to NaN;
// floating-point cubes keep their dtype, scaled in place. BSCALE/BZERO/
// BLANK are stripped from the returned header either way.
func Read(r io.Reader) (*cube.Cube, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if simple, _ := h.GetBool("SIMPLE"); !simple {
		return nil, fmt.Errorf("fitsio: missing SIMPLE=T")
	}
	h.Delete("SIMPLE")

	bitpix, ok := h.GetInt("BITPIX")
	if !ok {
		return nil, fmt.Errorf("fitsio: missing BITPIX")
	}
	h.Delete("BITPIX")
	naxis, ok := h.GetInt("NAXIS")
	if !ok {
		return nil, fmt.Errorf("fitsio: missing NAXIS")
	}
	h.Delete("NAXIS")
	if naxis < 1 || naxis > 4 {
		return nil, fmt.Errorf("fitsio: unsupported NAXIS=%d", naxis)
	}
	naxisn := make([]int32, naxis)
	for i := int32(0); i < naxis; i++ {
		key := fmt.Sprintf("NAXIS%d", i+1)
		n, ok := h.GetInt(key)
		if !ok {
			return nil, fmt.Errorf("fitsio: missing %s", key)
		}
		naxisn[i] = n
	}
	if naxis == 4 {
		if n4, _ := h.GetInt("NAXIS4"); n4 == 1 {
			h.Delete("NAXIS4")
		}
	}
	nx, ny, nz := squeezeAxes(h, naxis, padTo4(naxisn))
	h.Delete("NAXIS4")
	h.SetInt("NAXIS3", nz)

	bzero, hasZero := h.GetFloat("BZERO")
	if !hasZero {
		bzero = 0
	}
	bscale, hasScale := h.GetFloat("BSCALE")
	if !hasScale {
		bscale = 1
	}
	blank, hasBlank := h.GetInt("BLANK")
	h.Delete("BZERO")
	h.Delete("BSCALE")
	h.Delete("BLANK")

	pixels := int64(nx) * int64(ny) * int64(nz)
	var c *cube.Cube
	switch bitpix {
	case 8, 16, 32, 64:
		c = cube.New(cube.F32, nx, ny, nz)
		if err := readIntoFloat(r, c, bitpix, pixels, bzero, bscale, blank, hasBlank); err != nil {
			return nil, err
		}
	case -32:
		c = cube.New(cube.F32, nx, ny, nz)
		if err := readFloat32(r, c, pixels, bzero, bscale); err != nil {
			return nil, err
		}
	case -64:
		c = cube.New(cube.F64, nx, ny, nz)
		if err := readFloat64(r, c, pixels, bzero, bscale); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("fitsio: unsupported BITPIX=%d", bitpix)
	}
	c.Header = h
	return c, nil
}

func padTo4(naxisn []int32) []int32 {
	out := make([]int32, 4)
	copy(out, naxisn)
	for i := len(naxisn); i < 4; i++ {
		out[i] = 1
	}
	return out
}

func readIntoFloat(r io.Reader, c *cube.Cube, bitpix int32, pixels int64, bzero, bscale float64, blank int32, hasBlank bool) error {
	br := bufio.NewReaderSize(r, 1<<16)
	wordSize := int(math.Abs(float64(bitpix))) / 8
	buf := make([]byte, wordSize)
	i := int64(0)
	for i < pixels {
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("fitsio: reading sample %d: %w", i, err)
		}
		var raw int64
		switch bitpix {
		case 8:
			raw = int64(buf[0]) // unsigned byte per FITS convention
		case 16:
			raw = int64(int16(binary.BigEndian.Uint16(buf)))
		case 32:
			raw = int64(int32(binary.BigEndian.Uint32(buf)))
		case 64:
			raw = int64(binary.BigEndian.Uint64(buf))
		}
		var v float64
		if hasBlank && raw == int64(blank) {
			v = math.NaN()
		} else {
			v = bzero + bscale*float64(raw)
		}
		setFlatFlt(c, i, v)
		i++
	}
	return nil
}

func readFloat32(r io.Reader, c *cube.Cube, pixels int64, bzero, bscale float64) error {
	br := bufio.NewReaderSize(r, 1<<16)
	buf := make([]byte, 4)
	for i := int64(0); i < pixels; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("fitsio: reading sample %d: %w", i, err)
		}
		bits := binary.BigEndian.Uint32(buf)
		v := float64(math.Float32frombits(bits))*bscale + bzero
		setFlatFlt(c, i, v)
	}
	return nil
}

func readFloat64(r io.Reader, c *cube.Cube, pixels int64, bzero, bscale float64) error {
	br := bufio.NewReaderSize(r, 1<<16)
	buf := make([]byte, 8)
	for i := int64(0); i < pixels; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return fmt.Errorf("fitsio: reading sample %d: %w", i, err)
		}
		bits := binary.BigEndian.Uint64(buf)
		v := math.Float64frombits(bits)*bscale + bzero
		setFlatFlt(c, i, v)
	}
	return nil
}

// setFlatFlt writes to the i-th voxel in storage order (x fastest), per
// spec.md §3's contiguous layout index = x + nx*(y + ny*z).
func setFlatFlt(c *cube.Cube, i int64, v float64) {
	x := int32(i % int64(c.Nx))
	y := int32((i / int64(c.Nx)) % int64(c.Ny))
	z := int32(i / (int64(c.Nx) * int64(c.Ny)))
	c.SetFlt(x, y, z, v)
}

// ReadFile opens fileName, transparently gunzipping a .gz/.gzip suffix.
func ReadFile(fileName string) (*cube.Cube, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	ext := strings.ToLower(path.Ext(fileName))
	if ext == ".gz" || ext == ".gzip" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return Read(r)
}

// Write serializes c as a FITS cube, choosing BITPIX from c's dtype: -32/-64
// for floating cubes (data cubes, moment maps), 8/16/32/64 for integer ones
// (label and detection masks). No BSCALE/BZERO is written - integer dtypes
// are assumed to already hold their true values, as label/mask cubes do.
func Write(w io.Writer, c *cube.Cube) error {
	var bitpix int32
	switch c.Dtype {
	case cube.U8:
		bitpix = 8
	case cube.I16:
		bitpix = 16
	case cube.I32:
		bitpix = 32
	case cube.I64:
		bitpix = 64
	case cube.F32:
		bitpix = -32
	case cube.F64:
		bitpix = -64
	default:
		return fmt.Errorf("fitsio: cannot write dtype %v", c.Dtype)
	}

	bw := bufio.NewWriterSize(w, 1<<16)
	lines := []string{
		boolLine("SIMPLE", true, "conforms to FITS standard"),
		intLine("BITPIX", bitpix, ""),
		intLine("NAXIS", 3, ""),
		intLine("NAXIS1", c.Nx, ""),
		intLine("NAXIS2", c.Ny, ""),
		intLine("NAXIS3", c.Nz, ""),
	}
	lines = append(lines, headerKeywordLines(c.Header)...)
	lines = append(lines, padLine("END"))

	for _, l := range lines {
		if _, err := bw.WriteString(l); err != nil {
			return err
		}
	}
	if rem := (len(lines) * lineSize) % blockSize; rem != 0 {
		if _, err := bw.Write(make([]byte, blockSize-rem)); err != nil {
			return err
		}
	}

	if err := writeData(bw, c); err != nil {
		return err
	}
	return bw.Flush()
}

func writeData(w *bufio.Writer, c *cube.Cube) error {
	pixels := int64(c.Nx) * int64(c.Ny) * int64(c.Nz)
	buf := make([]byte, 8)
	wordSize := c.WordSize()
	for i := int64(0); i < pixels; i++ {
		x := int32(i % int64(c.Nx))
		y := int32((i / int64(c.Nx)) % int64(c.Ny))
		z := int32(i / (int64(c.Nx) * int64(c.Ny)))
		switch c.Dtype {
		case cube.F32:
			binary.BigEndian.PutUint32(buf, math.Float32bits(float32(c.GetFlt(x, y, z))))
		case cube.F64:
			binary.BigEndian.PutUint64(buf, math.Float64bits(c.GetFlt(x, y, z)))
		case cube.U8:
			buf[0] = byte(c.GetInt(x, y, z))
		case cube.I16:
			binary.BigEndian.PutUint16(buf, uint16(int16(c.GetInt(x, y, z))))
		case cube.I32:
			binary.BigEndian.PutUint32(buf, uint32(int32(c.GetInt(x, y, z))))
		case cube.I64:
			binary.BigEndian.PutUint64(buf, uint64(c.GetInt(x, y, z)))
		}
		if _, err := w.Write(buf[:wordSize]); err != nil {
			return err
		}
	}
	if rem := (pixels * int64(wordSize)) % blockSize; rem != 0 {
		_, err := w.Write(make([]byte, blockSize-rem))
		return err
	}
	return nil
}

func headerKeywordLines(h cube.Header) []string {
	var lines []string
	for k, v := range h.Strings {
		lines = append(lines, stringLine(k, v, ""))
	}
	for k, v := range h.Ints {
		lines = append(lines, intLine(k, v, ""))
	}
	for k, v := range h.Floats {
		lines = append(lines, floatLine(k, v, ""))
	}
	for k, v := range h.Bools {
		lines = append(lines, boolLine(k, v, ""))
	}
	for _, hist := range h.History {
		lines = append(lines, padLine("HISTORY "+hist))
	}
	for _, c := range h.Comments {
		lines = append(lines, padLine("COMMENT "+c))
	}
	return lines
}

func padLine(s string) string {
	if len(s) >= lineSize {
		return s[:lineSize]
	}
	return s + strings.Repeat(" ", lineSize-len(s))
}

func boolLine(key string, v bool, comment string) string {
	c := "F"
	if v {
		c = "T"
	}
	return keyLine(key, c, comment)
}

func intLine(key string, v int32, comment string) string {
	return keyLine(key, strconv.FormatInt(int64(v), 10), comment)
}

func floatLine(key string, v float64, comment string) string {
	return keyLine(key, strconv.FormatFloat(v, 'E', 10, 64), comment)
}

func stringLine(key string, v string, comment string) string {
	return keyLine(key, "'"+v+"'", comment)
}

func keyLine(key, value, comment string) string {
	s := fmt.Sprintf("%-8s= %20s", key, value)
	if comment != "" {
		s += " / " + comment
	}
	return padLine(s)
}
