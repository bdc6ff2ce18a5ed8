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

// Package statusserver exposes a read-only, localhost-only progress surface
// for a running pipeline: GET /healthz and GET /status. Grounded on the
// teacher's internal/rest/serve.go gin setup, narrowed from a job-submission
// API (pipeline orchestration is a Non-goal here) down to status reporting.
package statusserver

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/cubeline/srcfind/internal/logx"
)

// Stage names one pipeline component in execution order.
type Stage int32

const (
	StageIdle Stage = iota
	StageNoiseScaler
	StageSCFinder
	StageLinker
	StageMaskGrower
	StageParameteriser
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageNoiseScaler:
		return "noise_scaler"
	case StageSCFinder:
		return "sc_finder"
	case StageLinker:
		return "linker"
	case StageMaskGrower:
		return "mask_grower"
	case StageParameteriser:
		return "parameteriser"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Status is updated by the pipeline as it progresses and read by the HTTP
// handlers; all fields are accessed through atomics/mutex so the server
// goroutine never blocks the pipeline goroutine.
type Status struct {
	stage       int32
	sourceCount int32

	mu      sync.RWMutex
	lastErr string
}

func (s *Status) SetStage(stage Stage) { atomic.StoreInt32(&s.stage, int32(stage)) }
func (s *Status) SetSourceCount(n int) { atomic.StoreInt32(&s.sourceCount, int32(n)) }

func (s *Status) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
	} else {
		s.lastErr = err.Error()
	}
}

func (s *Status) snapshot() (Stage, int32, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stage(atomic.LoadInt32(&s.stage)), atomic.LoadInt32(&s.sourceCount), s.lastErr
}

// Server is a localhost-only HTTP surface over a Status.
type Server struct {
	addr   string
	status *Status
	log    logx.Logger
}

// New binds to addr (e.g. "127.0.0.1:8080"); an empty addr disables the
// server, per spec.md's optional status-server option.
func New(addr string, status *Status, log logx.Logger) *Server {
	if log == nil {
		log = logx.NopLogger{}
	}
	return &Server{addr: addr, status: status, log: log}
}

// Run blocks serving HTTP until the process exits or listening fails. A
// caller that wants this non-blocking should invoke it in its own goroutine.
func (s *Server) Run() error {
	if s.addr == "" {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/healthz", s.getHealthz)
	r.GET("/status", s.getStatus)
	s.log.Infof("statusserver: listening on %s", s.addr)
	return r.Run(s.addr)
}

func (s *Server) getHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	stage, sourceCount, lastErr := s.status.snapshot()
	body := gin.H{
		"stage":        stage.String(),
		"source_count": sourceCount,
	}
	if lastErr != "" {
		body["last_error"] = lastErr
	}
	c.JSON(http.StatusOK, body)
}

// Addr reports the configured listen address, for logging at startup.
func (s *Server) Addr() string { return s.addr }
