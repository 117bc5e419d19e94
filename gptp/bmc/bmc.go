/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package bmc implements priority vector comparison of the gPTP best master clock algorithm.
*/
package bmc

import (
	"fmt"

	ptp "github.com/facebook/gptp/gptp/protocol"
)

// ComparisonResult is the type to represent comparisons
type ComparisonResult int8

const (
	// ABetter means A has better priority vector
	ABetter ComparisonResult = 1
	// Unknown means vectors are identical
	Unknown ComparisonResult = 0
	// BBetter means B has better priority vector
	BBetter ComparisonResult = -1
)

func (r ComparisonResult) String() string {
	switch r {
	case ABetter:
		return "A_BETTER"
	case BBetter:
		return "B_BETTER"
	}
	return "UNKNOWN"
}

// PriorityVector is the systemIdentity of a time-aware system plus stepsRemoved, 802.1AS 10.3.4
type PriorityVector struct {
	Priority1               uint8             `json:"priority1"`
	ClockClass              ptp.ClockClass    `json:"clock_class"`
	ClockAccuracy           ptp.ClockAccuracy `json:"clock_accuracy"`
	OffsetScaledLogVariance uint16            `json:"offset_scaled_log_variance"`
	Priority2               uint8             `json:"priority2"`
	ClockIdentity           ptp.ClockIdentity `json:"clock_identity"`
	StepsRemoved            uint16            `json:"steps_removed"`
	TimeSource              ptp.TimeSource    `json:"time_source"`
}

func (v PriorityVector) String() string {
	return fmt.Sprintf("%d/%d/0x%x/0x%x/%d/%s/%d/%s",
		v.Priority1, v.ClockClass, uint8(v.ClockAccuracy), v.OffsetScaledLogVariance,
		v.Priority2, v.ClockIdentity, v.StepsRemoved, v.TimeSource,
	)
}

// FromAnnounce builds PriorityVector advertised by Announce
func FromAnnounce(a *ptp.Announce) PriorityVector {
	return PriorityVector{
		Priority1:               a.GrandmasterPriority1,
		ClockClass:              a.GrandmasterClockQuality.ClockClass,
		ClockAccuracy:           a.GrandmasterClockQuality.ClockAccuracy,
		OffsetScaledLogVariance: a.GrandmasterClockQuality.OffsetScaledLogVariance,
		Priority2:               a.GrandmasterPriority2,
		ClockIdentity:           a.GrandmasterIdentity,
		StepsRemoved:            a.StepsRemoved,
		TimeSource:              a.TimeSource,
	}
}

// AnnounceBody returns Announce body advertising this vector
func (v PriorityVector) AnnounceBody() ptp.AnnounceBody {
	return ptp.AnnounceBody{
		GrandmasterPriority1: v.Priority1,
		GrandmasterClockQuality: ptp.ClockQuality{
			ClockClass:              v.ClockClass,
			ClockAccuracy:           v.ClockAccuracy,
			OffsetScaledLogVariance: v.OffsetScaledLogVariance,
		},
		GrandmasterPriority2: v.Priority2,
		GrandmasterIdentity:  v.ClockIdentity,
		StepsRemoved:         v.StepsRemoved,
		TimeSource:           v.TimeSource,
	}
}

func cmp[T ~uint8 | ~uint16](a, b T) ComparisonResult {
	if a < b {
		return ABetter
	}
	if a > b {
		return BBetter
	}
	return Unknown
}

// Compare finds better priority vector. Fields are compared in order, lower wins.
func Compare(a, b PriorityVector) ComparisonResult {
	for _, r := range []ComparisonResult{
		cmp(a.Priority1, b.Priority1),
		cmp(a.ClockClass, b.ClockClass),
		cmp(a.ClockAccuracy, b.ClockAccuracy),
		cmp(a.OffsetScaledLogVariance, b.OffsetScaledLogVariance),
		cmp(a.Priority2, b.Priority2),
		cmp(a.StepsRemoved, b.StepsRemoved),
		cmp(a.TimeSource, b.TimeSource),
	} {
		if r != Unknown {
			return r
		}
	}
	// byte by byte comparison of big endian identity is the same as numeric one
	switch {
	case a.ClockIdentity < b.ClockIdentity:
		return ABetter
	case a.ClockIdentity > b.ClockIdentity:
		return BBetter
	}
	return Unknown
}

// IsBetter reports whether received vector is strictly better than ours
func IsBetter(received, ours PriorityVector) bool {
	return Compare(received, ours) == ABetter
}
