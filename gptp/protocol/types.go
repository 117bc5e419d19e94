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

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"
)

// 2 ** 16
const twoPow16 = 65536

// MessageType is type for Message Types
type MessageType uint8

// As per IEEE 802.1AS-2020 Table 10-6 and Table 11-5
const (
	MessageSync               MessageType = 0x0
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageAnnounce           MessageType = 0xB
	MessageSignaling          MessageType = 0xC
)

// MessageTypeToString is a map from MessageType to string
var MessageTypeToString = map[MessageType]string{
	MessageSync:               "SYNC",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RESP",
	MessageFollowUp:           "FOLLOW_UP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageAnnounce:           "ANNOUNCE",
	MessageSignaling:          "SIGNALING",
}

func (m MessageType) String() string {
	if s, ok := MessageTypeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%x)", uint8(m))
}

// TransportSpecific is the value of majorSdoId nibble used by 802.1AS
const TransportSpecific uint8 = 0x1

// SdoIDAndMsgType is a uint8 where first 4 bites contain majorSdoId (transportSpecific) and last 4 bits MessageType
type SdoIDAndMsgType uint8

// MsgType extracts MessageType from SdoIDAndMsgType
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(m & 0xf)
}

// SdoID extracts majorSdoId from SdoIDAndMsgType
func (m SdoIDAndMsgType) SdoID() uint8 {
	return uint8(m) >> 4
}

// NewSdoIDAndMsgType builds new SdoIDAndMsgType from MessageType and majorSdoId
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType)&0xf)
}

// ProbeMsgType reads first 8 bits of data and tries to decode it to SdoIDAndMsgType, then return MessageType
func ProbeMsgType(data []byte) (msg MessageType, err error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("not enough data to probe MsgType")
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}

// Swap16 swaps bytes of 16 bit value
func Swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

// TLVType is type for TLV types
type TLVType uint16

// As per Table 52 tlvType values
const (
	TLVOrganizationExtension TLVType = 0x0003
	TLVPathTrace             TLVType = 0x0008
)

// TLVTypeToString is a map from TLVType to string
var TLVTypeToString = map[TLVType]string{
	TLVOrganizationExtension: "ORGANIZATION_EXTENSION",
	TLVPathTrace:             "PATH_TRACE",
}

func (t TLVType) String() string {
	return TLVTypeToString[t]
}

/*
Correction is the value of the correction measured in nanoseconds and multiplied by 2**16.
For example, 2.5 ns is represented as 0000 0000 0002 8000 base 16
A value of one in all bits, except the most significant, of the field shall indicate that the correction is too big to be represented.
*/
type Correction int64

// Nanoseconds decodes Correction to human-understandable nanoseconds
func (t Correction) Nanoseconds() float64 {
	if t.TooBig() {
		return math.Inf(1)
	}
	return float64(t) / twoPow16
}

// Duration converts Correction to time.Duration, ignoring
// case where correction is too big, and dropping fractions of nanoseconds
func (t Correction) Duration() time.Duration {
	if !t.TooBig() {
		return time.Duration(t.Nanoseconds())
	}
	return 0
}

func (t Correction) String() string {
	if t.TooBig() {
		return "Correction(Too big)"
	}
	return fmt.Sprintf("Correction(%.3fns)", t.Nanoseconds())
}

// TooBig means correction is too big to be represented.
func (t Correction) TooBig() bool {
	return t == 0x7fffffffffffffff
}

// ClockIdentity identifies a time-aware system. In 802.1AS it's an EUI-64 derived from the port MAC.
type ClockIdentity uint64

// String formats ClockIdentity same way ptp4l pmc client does
func (c ClockIdentity) String() string {
	ptr := c.Bytes()
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		ptr[0], ptr[1], ptr[2], ptr[3],
		ptr[4], ptr[5], ptr[6], ptr[7],
	)
}

// Bytes returns network order representation of ClockIdentity
func (c ClockIdentity) Bytes() [8]byte {
	b := [8]byte{}
	binary.BigEndian.PutUint64(b[:], uint64(c))
	return b
}

// NewClockIdentity creates new ClockIdentity from MAC address
func NewClockIdentity(mac net.HardwareAddr) (ClockIdentity, error) {
	b := [8]byte{}
	switch len(mac) {
	case 6: // EUI-48
		b[0] = mac[0]
		b[1] = mac[1]
		b[2] = mac[2]
		b[3] = 0xFF
		b[4] = 0xFE
		b[5] = mac[3]
		b[6] = mac[4]
		b[7] = mac[5]
	case 8: // EUI-64
		copy(b[:], mac)
	default:
		return 0, fmt.Errorf("unsupported MAC %v, must be either EUI48 or EUI64", mac)
	}
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// PortIdentity identifies a PTP Port
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

// String formats PortIdentity same way ptp4l pmc client does
func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// maxSeconds is the largest value of the 48 bit secondsField
const maxSeconds = 1<<48 - 1

// Timestamp is the 10 byte PTP timestamp: 48 bit seconds and 32 bit nanoseconds since the PTP epoch
type Timestamp struct {
	Seconds     uint64
	Nanoseconds uint32
}

// TimestampSize is the wire size of Timestamp
const TimestampSize = 10

// Time converts Timestamp to time.Time, empty one becomes zero time
func (t Timestamp) Time() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(t.Seconds), int64(t.Nanoseconds))
}

// Empty reports whether both fields are zero
func (t Timestamp) Empty() bool {
	return t.Seconds == 0 && t.Nanoseconds == 0
}

func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(empty)"
	}
	return fmt.Sprintf("Timestamp(%s)", t.Time())
}

// NewTimestamp converts time.Time to Timestamp. Zero time becomes empty Timestamp, seconds above 48 bits are dropped.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{
		Seconds:     uint64(t.Unix()) & maxSeconds,
		Nanoseconds: uint32(t.Nanosecond()),
	}
}

// PutTimestamp writes 10 byte wire representation of Timestamp into b
func PutTimestamp(b []byte, t Timestamp) {
	binary.BigEndian.PutUint16(b, uint16(t.Seconds>>32))
	binary.BigEndian.PutUint32(b[2:], uint32(t.Seconds))
	binary.BigEndian.PutUint32(b[6:], t.Nanoseconds)
}

// ReadTimestamp reads Timestamp from 10 bytes of b
func ReadTimestamp(b []byte) (Timestamp, error) {
	if len(b) < TimestampSize {
		return Timestamp{}, fmt.Errorf("not enough data to decode Timestamp: %d bytes", len(b))
	}
	t := Timestamp{
		Seconds:     uint64(binary.BigEndian.Uint16(b))<<32 | uint64(binary.BigEndian.Uint32(b[2:])),
		Nanoseconds: binary.BigEndian.Uint32(b[6:]),
	}
	if t.Nanoseconds >= uint32(time.Second) {
		return Timestamp{}, fmt.Errorf("invalid nanoseconds value %d", t.Nanoseconds)
	}
	return t, nil
}

// ClockClass represents a PTP clock class
type ClockClass uint8

// Clock classes used by 802.1AS
const (
	ClockClass6         ClockClass = 6
	ClockClass7         ClockClass = 7
	ClockClass13        ClockClass = 13
	ClockClass14        ClockClass = 14
	ClockClass52        ClockClass = 52
	ClockClass58        ClockClass = 58
	ClockClassDefault   ClockClass = 248
	ClockClassSlaveOnly ClockClass = 255
)

// ClockAccuracy represents a PTP clock accuracy
type ClockAccuracy uint8

// Available Clock Accuracy
const (
	ClockAccuracyNanosecond25    ClockAccuracy = 0x20
	ClockAccuracyNanosecond100   ClockAccuracy = 0x21
	ClockAccuracyNanosecond250   ClockAccuracy = 0x22
	ClockAccuracyMicrosecond1    ClockAccuracy = 0x23
	ClockAccuracyMicrosecond10   ClockAccuracy = 0x25
	ClockAccuracyMillisecond1    ClockAccuracy = 0x29
	ClockAccuracySecond1         ClockAccuracy = 0x2F
	ClockAccuracySecondGreater10 ClockAccuracy = 0x31
	ClockAccuracyUnknown         ClockAccuracy = 0xFE
)

// ClockQuality represents the quality of a clock.
type ClockQuality struct {
	ClockClass              ClockClass    `json:"clock_class"`
	ClockAccuracy           ClockAccuracy `json:"clock_accuracy"`
	OffsetScaledLogVariance uint16        `json:"offset_scaled_log_variance"`
}

// VarianceDefault is offsetScaledLogVariance of a clock that has not computed it
const VarianceDefault uint16 = 0x4100

// TimeSource indicates the immediate source of time used by the Grandmaster PTP Instance
type TimeSource uint8

// TimeSource values, Table 6 timeSource enumeration
const (
	TimeSourceAtomicClock        TimeSource = 0x10
	TimeSourceGNSS               TimeSource = 0x20
	TimeSourceTerrestrialRadio   TimeSource = 0x30
	TimeSourcePTP                TimeSource = 0x40
	TimeSourceNTP                TimeSource = 0x50
	TimeSourceHandSet            TimeSource = 0x60
	TimeSourceOther              TimeSource = 0x90
	TimeSourceInternalOscillator TimeSource = 0xa0
)

// TimeSourceToString is a map from TimeSource to string
var TimeSourceToString = map[TimeSource]string{
	TimeSourceAtomicClock:        "ATOMIC_CLOCK",
	TimeSourceGNSS:               "GNSS",
	TimeSourceTerrestrialRadio:   "TERRESTRIAL_RADIO",
	TimeSourcePTP:                "PTP",
	TimeSourceNTP:                "NTP",
	TimeSourceHandSet:            "HAND_SET",
	TimeSourceOther:              "OTHER",
	TimeSourceInternalOscillator: "INTERNAL_OSCILLATOR",
}

func (t TimeSource) String() string {
	return TimeSourceToString[t]
}

// LogInterval shall be the logarithm, to base 2, of the requested period in seconds.
type LogInterval int8

// LogIntervalResponse is the value carried by Pdelay_Resp and Pdelay_Resp_Follow_Up
const LogIntervalResponse LogInterval = 0x7f

// Duration returns LogInterval as time.Duration
func (i LogInterval) Duration() time.Duration {
	secs := math.Pow(2, float64(i))
	return time.Duration(secs * float64(time.Second))
}

// NewLogInterval returns new LogInterval from time.Duration, rounded to the nearest power of two.
func NewLogInterval(d time.Duration) (LogInterval, error) {
	if d <= 0 {
		return 0, fmt.Errorf("logInterval of non-positive duration %v is undefined", d)
	}
	li := int(math.Round(math.Log2(d.Seconds())))
	if li > 127 {
		return 0, fmt.Errorf("logInterval %d is too big", li)
	}
	if li < -128 {
		return 0, fmt.Errorf("logInterval %d is too small", li)
	}
	return LogInterval(li), nil
}
