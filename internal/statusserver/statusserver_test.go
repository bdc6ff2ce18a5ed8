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

package statusserver

import (
	"errors"
	"testing"
)

func TestStatusSnapshotReflectsUpdates(t *testing.T) {
	s := &Status{}
	s.SetStage(StageLinker)
	s.SetSourceCount(3)
	s.SetError(errors.New("boom"))

	stage, count, lastErr := s.snapshot()
	if stage != StageLinker {
		t.Fatalf("stage = %v, want StageLinker", stage)
	}
	if count != 3 {
		t.Fatalf("sourceCount = %d, want 3", count)
	}
	if lastErr != "boom" {
		t.Fatalf("lastErr = %q, want %q", lastErr, "boom")
	}

	s.SetError(nil)
	_, _, lastErr = s.snapshot()
	if lastErr != "" {
		t.Fatalf("expected lastErr cleared, got %q", lastErr)
	}
}

func TestStageStringCoversAllKnownValues(t *testing.T) {
	for stage, want := range map[Stage]string{
		StageIdle:          "idle",
		StageNoiseScaler:   "noise_scaler",
		StageSCFinder:      "sc_finder",
		StageLinker:        "linker",
		StageMaskGrower:    "mask_grower",
		StageParameteriser: "parameteriser",
		StageDone:          "done",
	} {
		if got := stage.String(); got != want {
			t.Fatalf("Stage(%d).String() = %q, want %q", stage, got, want)
		}
	}
}

func TestNewWithEmptyAddrRunIsNoop(t *testing.T) {
	srv := New("", &Status{}, nil)
	if err := srv.Run(); err != nil {
		t.Fatalf("Run with empty addr should no-op, got %v", err)
	}
}
