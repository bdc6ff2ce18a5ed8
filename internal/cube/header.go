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

// Header is keyed access to strings/ints/floats/bools, grounded on the
// teacher's internal/fits.Header map-of-maps idiom.
type Header struct {
	Bools   map[string]bool
	Ints    map[string]int32
	Floats  map[string]float64
	Strings map[string]string

	Comments []string
	History  []string
}

// NewHeader creates an empty header with initialized maps.
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
	}
}

func (h Header) GetInt(key string) (int32, bool) {
	v, ok := h.Ints[key]
	return v, ok
}
func (h Header) GetFloat(key string) (float64, bool) {
	v, ok := h.Floats[key]
	return v, ok
}
func (h Header) GetString(key string) (string, bool) {
	v, ok := h.Strings[key]
	return v, ok
}
func (h Header) GetBool(key string) (bool, bool) {
	v, ok := h.Bools[key]
	return v, ok
}

func (h Header) SetInt(key string, v int32)       { h.Ints[key] = v }
func (h Header) SetFloat(key string, v float64)   { h.Floats[key] = v }
func (h Header) SetString(key string, v string)   { h.Strings[key] = v }
func (h Header) SetBool(key string, v bool)       { h.Bools[key] = v }
func (h Header) Delete(key string) {
	delete(h.Ints, key)
	delete(h.Floats, key)
	delete(h.Strings, key)
	delete(h.Bools, key)
}

// SwapKeys exchanges the values of keyA and keyB across all four maps, for
// whichever map(s) actually hold them. Used for the NAXIS3/NAXIS4 etc.
// keyword swap of spec.md S3 when a size-1 3rd axis and size>1 4th axis are
// exchanged.
func (h Header) SwapKeys(keyA, keyB string) {
	if a, ok := h.Ints[keyA]; ok {
		b, bok := h.Ints[keyB]
		if bok {
			h.Ints[keyA], h.Ints[keyB] = b, a
		} else {
			h.Ints[keyB] = a
			delete(h.Ints, keyA)
		}
	} else if b, ok := h.Ints[keyB]; ok {
		h.Ints[keyA] = b
		delete(h.Ints, keyB)
	}

	if a, ok := h.Floats[keyA]; ok {
		b, bok := h.Floats[keyB]
		if bok {
			h.Floats[keyA], h.Floats[keyB] = b, a
		} else {
			h.Floats[keyB] = a
			delete(h.Floats, keyA)
		}
	} else if b, ok := h.Floats[keyB]; ok {
		h.Floats[keyA] = b
		delete(h.Floats, keyB)
	}

	if a, ok := h.Strings[keyA]; ok {
		b, bok := h.Strings[keyB]
		if bok {
			h.Strings[keyA], h.Strings[keyB] = b, a
		} else {
			h.Strings[keyB] = a
			delete(h.Strings, keyA)
		}
	} else if b, ok := h.Strings[keyB]; ok {
		h.Strings[keyA] = b
		delete(h.Strings, keyB)
	}
}
