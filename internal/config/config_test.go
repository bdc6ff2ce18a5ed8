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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cubeline/srcfind/internal/noise"
)

func TestDefaultMatchesDocumentedLocalWindow(t *testing.T) {
	c := Default()
	if c.LocalWindowXY != 25 || c.LocalWindowZ != 15 {
		t.Fatalf("expected default local windows (25,15), got (%d,%d)", c.LocalWindowXY, c.LocalWindowZ)
	}
	if c.Threshold != 5.0 {
		t.Fatalf("expected default threshold 5.0, got %v", c.Threshold)
	}
}

func TestScfindParamsParsesCommaSeparatedKernels(t *testing.T) {
	c := Default()
	c.KernelsSpatial = "0,3,6"
	c.KernelsSpectral = "1,3"
	p := c.ScfindParams()
	if len(p.KernelsSpatial) != 3 || p.KernelsSpatial[1] != 3 {
		t.Fatalf("unexpected spatial kernels: %v", p.KernelsSpatial)
	}
	if len(p.KernelsSpectral) != 2 || p.KernelsSpectral[1] != 3 {
		t.Fatalf("unexpected spectral kernels: %v", p.KernelsSpectral)
	}
}

func TestNoiseStatisticMapsKnownNames(t *testing.T) {
	c := Default()
	c.NoiseStat = "mad"
	if c.noiseStatistic() != noise.StatMAD {
		t.Fatalf("expected StatMAD")
	}
	c.NoiseStat = "unknown"
	if c.noiseStatistic() != noise.StatStd {
		t.Fatalf("expected fallback to StatStd for an unrecognized name")
	}
}

func TestLoadJobOverridesFieldsButKeepsJobPath(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "job.json")
	if err := os.WriteFile(jobPath, []byte(`{"input":"cube.fits","threshold":7.5}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c := Default()
	c.Job = jobPath
	if err := c.LoadJob(); err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if c.Input != "cube.fits" || c.Threshold != 7.5 {
		t.Fatalf("job file did not override fields: %+v", c)
	}
	if c.Job != jobPath {
		t.Fatalf("Job path should survive Unmarshal, got %q", c.Job)
	}
}

func TestLoadJobNoopWhenUnset(t *testing.T) {
	c := Default()
	if err := c.LoadJob(); err != nil {
		t.Fatalf("LoadJob should be a no-op with Job unset: %v", err)
	}
}
