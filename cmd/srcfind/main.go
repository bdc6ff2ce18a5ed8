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

// Command srcfind runs the spectral-line source-finding pipeline over one
// input cube. Grounded on cmd/nightlight/main.go's flag-parse/log-file/
// cpuprofile scaffolding, narrowed from a multi-command image-processing
// CLI down to the single "find sources in this cube" operation.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/cubeline/srcfind/internal/config"
	"github.com/cubeline/srcfind/internal/logx"
	"github.com/cubeline/srcfind/internal/pipeline"
	"github.com/cubeline/srcfind/internal/statusserver"
)

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	cfg.RegisterFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `srcfind - spectral-line cube source finder
Copyright (C) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value...] -input cube.fits

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	cfg.Finalize()

	if err := cfg.LoadJob(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.Input == "" {
		flag.Usage()
		return 1
	}

	logger := logx.NewStdLogger(cfg.Verbose)
	if cfg.LogFile != "" {
		if err := logger.AlsoToFile(cfg.LogFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer logger.Sync()
	}
	config.LogSystemInfo(logWriter(logger))

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			logger.Errorf("creating cpu profile: %v", err)
			return 1
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.Errorf("starting cpu profile: %v", err)
			return 1
		}
		defer pprof.StopCPUProfile()
	}

	status := &statusserver.Status{}
	if cfg.StatusAddr != "" {
		srv := statusserver.New(cfg.StatusAddr, status, logger)
		go func() {
			if err := srv.Run(); err != nil {
				logger.Warnf("status server: %v", err)
			}
		}()
	}

	result, err := pipeline.Run(cfg, status, logger)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	logger.Infof("srcfind: found %d source(s)", result.Catalog.Len())
	return 0
}

// logWriter adapts a logx.Logger's Infof into an io.Writer for the
// system-info banner, which wants a plain text dump rather than a format
// string.
func logWriter(log logx.Logger) io.Writer {
	return stdLoggerWriter{log}
}

type stdLoggerWriter struct{ log logx.Logger }

func (w stdLoggerWriter) Write(p []byte) (int, error) {
	w.log.Infof("%s", string(p))
	return len(p), nil
}
