// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/sessionkeeper/cmd"
)

// Record timestamps and execution names are always rendered in UTC.
func init() {
	time.Local = time.UTC
}

func logf(msg string, args ...any) {
	slog.Debug(fmt.Sprintf(msg, args...))
}

// limitResources sizes GOMAXPROCS and GOMEMLIMIT to the container the
// dispatcher runs in.
func limitResources() {
	if gomaxecs.IsECS() {
		if _, err := gomaxecs.Set(gomaxecs.WithLogger(logf)); err != nil {
			slog.Warn("Failed to set GOMAXPROCS from ECS task metadata", slog.Any("error", err))
		}
	} else if _, err := maxprocs.Set(maxprocs.Logger(logf)); err != nil {
		slog.Warn("Failed to set GOMAXPROCS from cgroup quota", slog.Any("error", err))
	}

	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		slog.Warn("Failed to set GOMEMLIMIT", slog.Any("error", err))
	}
}

func main() {
	limitResources()
	cmd.Execute()
}
