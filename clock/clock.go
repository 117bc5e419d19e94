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

package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PPBToTimexPPM is what we use to conver PPB to PPM.
// man clock_adjtime(2):
// In struct timex, freq, ppsfreq, and stabil are ppm (parts per million) with a 16-bit fractional part.
// To covert value where 2^16=65536 is 1 ppm to ppb or back, we need this multiplier
const PPBToTimexPPM = 65.536

// MaxPhaseOffset is the largest offset kernel accepts with ADJ_OFFSET, MAXPHASE from include/linux/timex.h
const MaxPhaseOffset = 500 * time.Millisecond

// clock_adjtime modes from usr/include/linux/timex.h
const (
	// time offset
	AdjOffset uint32 = 0x0001
	// frequency offset
	AdjFrequency uint32 = 0x0002
	// maximum time error
	AdjMaxError uint32 = 0x0004
	// estimated time error
	AdjEstError uint32 = 0x0008
	// clock status
	AdjStatus uint32 = 0x0010
	// pll time constant
	AdjTimeConst uint32 = 0x0020
	// set TAI offset
	AdjTAI uint32 = 0x0080
	// add 'time' to current time
	AdjSetOffset uint32 = 0x0100
	// select microsecond resolution
	AdjMicro uint32 = 0x1000
	// select nanosecond resolution
	AdjNano uint32 = 0x2000
	// tick value
	AdjTick uint32 = 0x4000
)

// Adjtime issues CLOCK_ADJTIME syscall to either adjust the parameters of given clock, or read them if buf is empty.
func Adjtime(clockid int32, buf *unix.Timex) (state int, err error) {
	return unix.ClockAdjtime(clockid, buf)
}

// Time reads current time of the clock
func Time(clockid int32) (time.Time, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(clockid, &ts); err != nil {
		return time.Time{}, fmt.Errorf("clock_gettime on clock %d: %w", clockid, err)
	}
	return time.Unix(ts.Unix()), nil
}

// SetTime sets absolute time of the clock
func SetTime(clockid int32, t time.Time) error {
	ts := unix.NsecToTimespec(t.UnixNano())
	if err := unix.ClockSettime(clockid, &ts); err != nil {
		return fmt.Errorf("clock_settime on clock %d: %w", clockid, err)
	}
	return nil
}

// FrequencyPPB reads device frequency in PPB
func FrequencyPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = Adjtime(clockid, tx)
	// man(2) clock_adjtime
	freqPPB = float64(tx.Freq) / PPBToTimexPPM
	return freqPPB, state, err
}

// AdjFreqPPB adjusts clock frequency in PPB
func AdjFreqPPB(clockid int32, freqPPB float64) (state int, err error) {
	tx := &unix.Timex{}
	// man(2) clock_adjtime, turn ppb to ppm
	tx.Freq = int64(freqPPB * PPBToTimexPPM)
	tx.Modes = AdjFrequency
	return Adjtime(clockid, tx)
}

// stepTimex builds timex for ADJ_SETOFFSET. With ADJ_NANO the Usec field carries nanoseconds.
func stepTimex(step time.Duration) *unix.Timex {
	tx := &unix.Timex{}
	tx.Modes = AdjSetOffset | AdjNano
	tx.Time.Sec = int64(step / time.Second)
	tx.Time.Usec = int64(step % time.Second)
	/*
	 * The value of a timeval is the sum of its fields, but the
	 * field tv_usec must always be non-negative.
	 */
	if tx.Time.Usec < 0 {
		tx.Time.Sec--
		tx.Time.Usec += int64(time.Second)
	}
	return tx
}

// Step steps clock by given step
func Step(clockid int32, step time.Duration) (state int, err error) {
	return Adjtime(clockid, stepTimex(step))
}

// phaseTimex builds timex for ADJ_OFFSET in nanoseconds.
// System clock only applies the offset when PLL is enabled, PHCs ignore the status.
func phaseTimex(clockid int32, offset time.Duration) (*unix.Timex, error) {
	if offset > MaxPhaseOffset || offset < -MaxPhaseOffset {
		return nil, fmt.Errorf("phase offset %v is outside of ±%v", offset, MaxPhaseOffset)
	}
	tx := &unix.Timex{}
	tx.Modes = AdjOffset | AdjNano
	tx.Offset = int64(offset)
	if clockid == unix.CLOCK_REALTIME {
		tx.Modes |= AdjStatus
		tx.Status = unix.STA_PLL
	}
	return tx, nil
}

// AdjPhase slews clock by given offset instead of stepping it
func AdjPhase(clockid int32, offset time.Duration) (state int, err error) {
	tx, err := phaseTimex(clockid, offset)
	if err != nil {
		return 0, err
	}
	return Adjtime(clockid, tx)
}

// MaxFreqPPB returns maximum frequency adjustment supported by the clock
func MaxFreqPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = Adjtime(clockid, tx)
	if err != nil {
		return 0.0, state, err
	}
	// man(2) clock_adjtime
	freqPPB = float64(tx.Tolerance) / PPBToTimexPPM
	if freqPPB == 0 {
		freqPPB = 500000
	}
	return freqPPB, state, nil
}

// SetSync sets clock status to TIME_OK
func SetSync(clockid int32) error {
	tx := &unix.Timex{}
	tx.Modes = AdjStatus | AdjMaxError
	state, err := Adjtime(clockid, tx)

	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock state %d is not TIME_OK after setting sync state", state)
	}
	return err
}
