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

// Package pipeline wires NoiseScaler, SCFinder, Linker, MaskGrower,
// Parameteriser and Catalog together in the order spec.md §2 mandates,
// plus the BoundaryIO load/cubelet/preview/catalog-write surface around
// them. Grounded on the teacher's internal/ops/operator.go OpSequence
// chaining idiom - generalized from a list of image-processing Operators
// run over a batch of frames into a fixed six-stage cube pipeline run once
// over a single input cube.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cubeline/srcfind/internal/catalog"
	"github.com/cubeline/srcfind/internal/config"
	"github.com/cubeline/srcfind/internal/cube"
	"github.com/cubeline/srcfind/internal/cubelet"
	"github.com/cubeline/srcfind/internal/fitsio"
	"github.com/cubeline/srcfind/internal/linker"
	"github.com/cubeline/srcfind/internal/logx"
	"github.com/cubeline/srcfind/internal/maskgrow"
	"github.com/cubeline/srcfind/internal/noise"
	"github.com/cubeline/srcfind/internal/param"
	"github.com/cubeline/srcfind/internal/previewimg"
	"github.com/cubeline/srcfind/internal/scfind"
	"github.com/cubeline/srcfind/internal/statusserver"
	"github.com/cubeline/srcfind/internal/wcs"
)

// Result is everything a Run produces worth reporting back to a caller.
type Result struct {
	Table   *linker.Table
	Catalog *catalog.Catalog
}

// Run executes the full pipeline over the cube read from cfg.Input, writing
// whatever outputs cfg selects, and returns the final linker table and
// catalog.
func Run(cfg config.Config, status *statusserver.Status, log logx.Logger) (*Result, error) {
	if log == nil {
		log = logx.NopLogger{}
	}
	if status == nil {
		status = &statusserver.Status{}
	}

	data, err := fitsio.ReadFile(cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading input: %w", err)
	}
	log.Infof("pipeline: loaded %dx%dx%d cube, dtype %s", data.Nx, data.Ny, data.Nz, data.Dtype)

	w := wcs.FromHeader(data.Header)
	if !w.Valid {
		log.Warnf("pipeline: input header carries no complete WCS, falling back to SoFiA-NNNN identifiers")
	}

	status.SetStage(statusserver.StageNoiseScaler)
	var noiseCube *cube.Cube
	switch cfg.NoiseMode {
	case "global":
		untouched, err := noise.ScaleGlobal(data, cfg.GlobalParams(), log)
		if err != nil {
			return nil, fmt.Errorf("pipeline: noise scaling: %w", err)
		}
		if len(untouched) > 0 {
			log.Warnf("pipeline: %d planes left unscaled by global noise scaling", len(untouched))
		}
	case "local":
		noiseCube, err = noise.ScaleLocal(data, cfg.LocalParams(), log)
		if err != nil {
			return nil, fmt.Errorf("pipeline: noise scaling: %w", err)
		}
	}

	status.SetStage(statusserver.StageSCFinder)
	mask := cube.New(cube.U8, data.Nx, data.Ny, data.Nz)
	if err := scfind.Detect(data, mask, cfg.ScfindParams(), log); err != nil {
		return nil, fmt.Errorf("pipeline: source detection: %w", err)
	}

	status.SetStage(statusserver.StageLinker)
	labelMask := mask32From8(data, mask)
	table, err := linker.Link(data, labelMask, cfg.LinkerParams(), log)
	if err != nil {
		return nil, fmt.Errorf("pipeline: linking: %w", err)
	}
	log.Infof("pipeline: linked %d candidate sources", len(table.Entries()))

	status.SetStage(statusserver.StageMaskGrower)
	if err := maskgrow.Grow(data, labelMask, table, cfg.MaskGrowParams(), log); err != nil {
		return nil, fmt.Errorf("pipeline: mask growth: %w", err)
	}

	status.SetStage(statusserver.StageParameteriser)
	cat := &catalog.Catalog{}
	pp := param.Params{WCS: w, Physical: cfg.Physical, Prefix: cfg.IDPrefix, Header: data.Header}
	if err := param.ParameteriseAll(data, labelMask, table, pp, cat, log); err != nil {
		return nil, fmt.Errorf("pipeline: parameterisation: %w", err)
	}
	status.SetSourceCount(cat.Len())

	if err := writeCatalog(cfg, cat); err != nil {
		return nil, err
	}

	if cfg.Cubelets {
		cp := cubelet.Params{OutDir: cfg.OutDir, Base: cfg.Base, Margin: cfg.Margin, WCS: w, Overwrite: cfg.Overwrite}
		if err := cubelet.WriteAll(data, labelMask, table, cp, log); err != nil {
			return nil, fmt.Errorf("pipeline: cubelets: %w", err)
		}
	}

	if cfg.Preview {
		if err := writePreviews(cfg, data, labelMask, log); err != nil {
			return nil, fmt.Errorf("pipeline: previews: %w", err)
		}
	}

	if noiseCube != nil && cfg.Cubelets {
		name := filepath.Join(cfg.OutDir, cfg.Base+"_noise.fits")
		if err := writeFITS(name, noiseCube, cfg.Overwrite); err != nil {
			log.Warnf("pipeline: writing noise cube: %v", err)
		}
	}

	status.SetStage(statusserver.StageDone)
	return &Result{Table: table, Catalog: cat}, nil
}

// mask32From8 converts a U8 detection mask into the I32 cube Link expects:
// -1 at every detected (candidate) voxel, 0 elsewhere, per linker.Link's
// sentinel convention (it flood-fills connected components starting from
// any voxel still marked -1).
func mask32From8(data, mask8 *cube.Cube) *cube.Cube {
	mask32 := cube.New(cube.I32, data.Nx, data.Ny, data.Nz)
	mask32.CopyMask8To32(mask8, -1)
	return mask32
}

func writeCatalog(cfg config.Config, cat *catalog.Catalog) error {
	writeOne := func(ext string, write func(*catalog.Catalog, *os.File) error) error {
		name := filepath.Join(cfg.OutDir, cfg.Base+"_cat."+ext)
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !cfg.Overwrite {
			flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
		}
		f, err := os.OpenFile(name, flags, 0644)
		if err != nil {
			return fmt.Errorf("pipeline: opening %s: %w", name, err)
		}
		defer f.Close()
		return write(cat, f)
	}
	switch strings.ToLower(cfg.Catalog) {
	case "ascii":
		return writeOne("txt", catalog.WriteASCII)
	case "votable":
		return writeOne("xml", catalog.WriteVOTable)
	case "both":
		if err := writeOne("txt", catalog.WriteASCII); err != nil {
			return err
		}
		return writeOne("xml", catalog.WriteVOTable)
	default:
		return fmt.Errorf("pipeline: unknown catalog format %q", cfg.Catalog)
	}
}

func writePreviews(cfg config.Config, data, labelMask *cube.Cube, log logx.Logger) error {
	mom0 := cube.New(cube.F32, data.Nx, data.Ny, 1)
	for y := int32(0); y < data.Ny; y++ {
		for x := int32(0); x < data.Nx; x++ {
			var sum float64
			for z := int32(0); z < data.Nz; z++ {
				if labelMask.GetInt(x, y, z) > 0 {
					sum += data.GetFlt(x, y, z)
				}
			}
			mom0.SetFlt(x, y, 0, sum)
		}
	}
	plane := cube.New(cube.I32, labelMask.Nx, labelMask.Ny, 1)
	for y := int32(0); y < labelMask.Ny; y++ {
		for x := int32(0); x < labelMask.Nx; x++ {
			for z := int32(0); z < labelMask.Nz; z++ {
				if l := labelMask.GetInt(x, y, z); l > 0 {
					plane.SetInt(x, y, 0, l)
					break
				}
			}
		}
	}
	if err := previewimg.WriteMono(filepath.Join(cfg.OutDir, cfg.Base+"_mom0.jpg"), mom0); err != nil {
		return err
	}
	return previewimg.WriteLabelMask(filepath.Join(cfg.OutDir, cfg.Base+"_mask.jpg"), plane)
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
