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

// Package logx replaces the package-global LogPrintf/verbosity flag of the
// teacher codebase with an explicit, injectable logger. Every pipeline
// component takes a Logger rather than reaching for a global.
package logx

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// Logger is the collaborator every pipeline component receives explicitly.
// Warnf is for the non-fatal "numerical failure" conditions of spec.md §7
// (rms measurement failed, ellipse fit undefined, etc); Debugf is gated by
// verbosity but never by program correctness.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NopLogger discards everything. Used by tests and by library callers who
// don't want log output.
type NopLogger struct{}

func (NopLogger) Debugf(format string, args ...interface{}) {}
func (NopLogger) Infof(format string, args ...interface{})  {}
func (NopLogger) Warnf(format string, args ...interface{})  {}
func (NopLogger) Errorf(format string, args ...interface{}) {}

var _ Logger = NopLogger{}

// StdLogger writes to stdout and, optionally, a mirrored log file -
// grounded on the teacher's internal/log.go dual stdout/file writer, minus
// the package-level globals.
type StdLogger struct {
	mu      sync.Mutex
	Verbose bool
	file    *bufio.Writer
	fileOS  *os.File
}

var _ Logger = (*StdLogger)(nil)

// NewStdLogger creates a logger writing to stdout only.
func NewStdLogger(verbose bool) *StdLogger {
	return &StdLogger{Verbose: verbose}
}

// AlsoToFile mirrors all future output to the given file, truncating it.
func (l *StdLogger) AlsoToFile(fileName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		if err := l.file.Flush(); err != nil {
			return err
		}
		if err := l.fileOS.Close(); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	l.fileOS = f
	l.file = bufio.NewWriter(f)
	return nil
}

// Sync flushes and fsyncs the mirrored log file, if any.
func (l *StdLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Flush(); err != nil {
		return err
	}
	return l.fileOS.Sync()
}

func (l *StdLogger) write(prefix, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Print(prefix, msg)
	if l.file != nil {
		fmt.Fprint(l.file, prefix, msg)
	}
}

func (l *StdLogger) Debugf(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.write("DEBUG: ", format, args)
}

func (l *StdLogger) Infof(format string, args ...interface{}) {
	l.write("", format, args)
}

func (l *StdLogger) Warnf(format string, args ...interface{}) {
	l.write("WARNING: ", format, args)
}

func (l *StdLogger) Errorf(format string, args ...interface{}) {
	l.write("ERROR: ", format, args)
}
