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

// Package idgen produces process instance IDs and batch IDs.
package idgen

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/sony/sonyflake"
)

type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

var flakeEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFlakeGenerator derives the machine ID from the private IP, and falls
// back to a random one on hosts without a private address.
func NewFlakeGenerator() (*SonyFlakeGenerator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: flakeEpoch})
	if err != nil {
		sf, err = sonyflake.New(sonyflake.Settings{
			StartTime: flakeEpoch,
			MachineID: func() (uint16, error) { return uint16(rand.UintN(1 << 16)), nil },
		})
	}
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

// NextID returns a positive int64 that'll increase roughly in time order.
func (sf *SonyFlakeGenerator) NextID() int64 {
	v, err := sf.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// InstanceID is NextID in base 36, short enough for a resource attribute.
func (sf *SonyFlakeGenerator) InstanceID() string {
	return strconv.FormatInt(sf.NextID(), 36)
}
