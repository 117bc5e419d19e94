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
Package phc gives access to PTP hardware clocks of network cards.
*/
package phc

import (
	"fmt"
	"os"
	"time"

	"github.com/facebook/gptp/clock"
	"golang.org/x/sys/unix"
)

// DefaultMaxClockFreqPPB value came from linuxptp project (clockadj.c)
const DefaultMaxClockFreqPPB = 500000.0

// IfaceToPHCDevice returns path to PHC device associated with given network card iface
func IfaceToPHCDevice(iface string) (string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create socket for ioctl: %w", err)
	}
	defer unix.Close(fd)
	info, err := unix.IoctlGetEthtoolTsInfo(fd, iface)
	if err != nil {
		return "", fmt.Errorf("getting interface %s info: %w", iface, err)
	}
	if info.Phc_index < 0 {
		return "", fmt.Errorf("%s: no PHC support", iface)
	}
	return fmt.Sprintf("/dev/ptp%d", info.Phc_index), nil
}

// FDToClockID converts file descriptor number to clockID.
// see man(3) clock_gettime, FD_TO_CLOCKID
func FDToClockID(fd uintptr) int32 {
	return int32((int(^fd) << 3) | 3)
}

// Device represents opened PHC
type Device struct {
	f *os.File
}

// Open opens PHC device for read and write
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening PHC device %q: %w", path, err)
	}
	return &Device{f: f}, nil
}

// OpenIface opens PHC device of the network card
func OpenIface(iface string) (*Device, error) {
	path, err := IfaceToPHCDevice(iface)
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Name returns path of the device
func (d *Device) Name() string {
	return d.f.Name()
}

// ClockID returns clockID of the device usable with clock_* syscalls
func (d *Device) ClockID() int32 {
	return FDToClockID(d.f.Fd())
}

// Close closes the device
func (d *Device) Close() error {
	return d.f.Close()
}

func (d *Device) checkState(state int, err error) error {
	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock %q state %d is not TIME_OK", d.Name(), state)
	}
	return err
}

// Time returns current PHC time
func (d *Device) Time() (time.Time, error) {
	return clock.Time(d.ClockID())
}

// SetTime sets PHC time
func (d *Device) SetTime(t time.Time) error {
	return clock.SetTime(d.ClockID(), t)
}

// Step steps PHC by given step
func (d *Device) Step(step time.Duration) error {
	return d.checkState(clock.Step(d.ClockID(), step))
}

// AdjPhase slews PHC by given offset. Not all drivers support it.
func (d *Device) AdjPhase(offset time.Duration) error {
	return d.checkState(clock.AdjPhase(d.ClockID(), offset))
}

// AdjFreq adjusts PHC frequency in PPB
func (d *Device) AdjFreq(freqPPB float64) error {
	return d.checkState(clock.AdjFreqPPB(d.ClockID(), freqPPB))
}

// FrequencyPPB reads PHC frequency in PPB
func (d *Device) FrequencyPPB() (float64, error) {
	freqPPB, state, err := clock.FrequencyPPB(d.ClockID())
	return freqPPB, d.checkState(state, err)
}

func maxAdj(caps *unix.PtpClockCaps) float64 {
	if caps == nil || caps.Max_adj == 0 {
		return DefaultMaxClockFreqPPB
	}
	return float64(caps.Max_adj)
}

// MaxFreqAdjPPB returns maximum frequency adjustment supported by PHC
func (d *Device) MaxFreqAdjPPB() (float64, error) {
	caps, err := unix.IoctlPtpClockGetcaps(int(d.f.Fd()))
	if err != nil {
		return 0, fmt.Errorf("reading caps of %q: %w", d.Name(), err)
	}
	return maxAdj(caps), nil
}
