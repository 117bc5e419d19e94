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
Package timestamp enables kernel or NIC timestamping on raw sockets
and reads RX and TX timestamps delivered with socket control messages.
*/
package timestamp

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// from include/uapi/linux/net_tstamp.h
const (
	// HWTSTAMP_TX_ON int 1
	hwtstampTXON int32 = 0x00000001
	// HWTSTAMP_FILTER_ALL int 1
	hwtstampFilterAll int32 = 0x00000001
	// HWTSTAMP_FILTER_PTP_V2_L2_EVENT int 6
	hwtstampFilterPTPv2L2Event int32 = 0x00000006
	// HWTSTAMP_FILTER_PTP_V2_EVENT int 12
	hwtstampFilterPTPv2Event int32 = 0x0000000c
)

const (
	// ControlSizeBytes is a size of the buffer for socket control messages containing TX/RX timestamp
	// If the read fails we may endup with multiple timestamps in the buffer
	// which is best to read right away
	ControlSizeBytes = 128
	// PayloadSizeBytes fits any untagged Ethernet frame
	PayloadSizeBytes = 1518
	// look only for X sequential TS
	maxTXTS = 100
)

// ErrTimeout is returned when TX timestamp didn't arrive in time
var ErrTimeout = errors.New("timed out waiting for TX timestamp")

// Timestamp is a type of timestamping to use
type Timestamp int

const (
	// SW is a software timestamp
	SW Timestamp = iota
	// HW is a hardware timestamp
	HW
)

const (
	// HWTIMESTAMP is a hardware timestamp
	HWTIMESTAMP = "hardware"
	// SWTIMESTAMP is a software timestamp
	SWTIMESTAMP = "software"
	// Unsupported is a name of unknown timestamp type
	Unsupported = "Unsupported"
)

// String returns human-readable timestamp type
func (t Timestamp) String() string {
	switch t {
	case SW:
		return SWTIMESTAMP
	case HW:
		return HWTIMESTAMP
	}
	return Unsupported
}

// Type is used by flag parsing
func (t *Timestamp) Type() string {
	return "timestamp"
}

// Set implements flag.Value
func (t *Timestamp) Set(value string) error {
	return t.UnmarshalText([]byte(value))
}

// MarshalText timestamp to byte slice
func (t Timestamp) MarshalText() ([]byte, error) {
	s := t.String()
	if s == Unsupported {
		return []byte(s), fmt.Errorf("unknown timestamp type %q", s)
	}
	return []byte(s), nil
}

// UnmarshalText timestamp from byte slice. Used by yaml config and flags.
func (t *Timestamp) UnmarshalText(value []byte) error {
	switch string(value) {
	case HWTIMESTAMP:
		*t = HW
	case SWTIMESTAMP:
		*t = SW
	default:
		return fmt.Errorf("unknown timestamp type %q", string(value))
	}
	return nil
}

// Ifreq is a struct for ioctl ethernet manipulation syscalls.
type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data uintptr
}

// from include/uapi/linux/net_tstamp.h
type hwtstampConfig struct {
	flags    int32
	txType   int32
	rxFilter int32
}

// ReadPacketWithRXTimestamp returns frame, link-layer address of the sender and RX timestamp
func ReadPacketWithRXTimestamp(connFd int) ([]byte, unix.Sockaddr, time.Time, error) {
	buf := make([]byte, PayloadSizeBytes)
	oob := make([]byte, ControlSizeBytes)

	n, sa, t, err := ReadPacketWithRXTimestampBuf(connFd, buf, oob)
	return buf[:n], sa, t, err
}

// ReadTXtimestamp returns TX timestamp of the last sent packet, waiting for it at most timeout
func ReadTXtimestamp(connFd int, timeout time.Duration) (time.Time, int, error) {
	oob := make([]byte, ControlSizeBytes)
	// TMP buffers
	toob := make([]byte, ControlSizeBytes)

	return ReadTXtimestampBuf(connFd, oob, toob, timeout)
}
