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
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "PDELAY_RESP_FOLLOW_UP", MessagePDelayRespFollowUp.String())
	require.Equal(t, "UNKNOWN(0x5)", MessageType(5).String())
}

func TestSwap16(t *testing.T) {
	require.Equal(t, uint16(0xF788), Swap16(0x88F7))
	require.Equal(t, uint16(0x88F7), Swap16(Swap16(0x88F7)))
}

func TestClockIdentity(t *testing.T) {
	mac, err := net.ParseMAC("00:1b:21:12:34:56")
	require.NoError(t, err)
	c, err := NewClockIdentity(mac)
	require.NoError(t, err)
	require.Equal(t, ClockIdentity(0x001b21fffe123456), c)
	require.Equal(t, "001b21.fffe.123456", c.String())

	_, err = NewClockIdentity(net.HardwareAddr{1, 2, 3})
	require.Error(t, err)
}

func TestPortIdentityString(t *testing.T) {
	a := PortIdentity{ClockIdentity: 1, PortNumber: 2}
	require.Equal(t, "000000.0000.000001-2", a.String())
}

func TestSdoIDAndMsgType(t *testing.T) {
	m := NewSdoIDAndMsgType(MessageFollowUp, TransportSpecific)
	require.Equal(t, SdoIDAndMsgType(0x18), m)
	require.Equal(t, MessageFollowUp, m.MsgType())
	require.Equal(t, TransportSpecific, m.SdoID())
}

func TestCorrection(t *testing.T) {
	c := Correction(0x28000)
	require.InDelta(t, 2.5, c.Nanoseconds(), 0.0001)
	require.Equal(t, 2*time.Nanosecond, c.Duration())
	require.Equal(t, "Correction(2.500ns)", c.String())

	big := Correction(0x7fffffffffffffff)
	require.True(t, big.TooBig())
	require.True(t, math.IsInf(big.Nanoseconds(), 1))
	require.Equal(t, time.Duration(0), big.Duration())
}

func TestTimestamp(t *testing.T) {
	now := time.Unix(1234567890, 999999999)
	ts := NewTimestamp(now)
	b := make([]byte, TimestampSize)
	PutTimestamp(b, ts)
	require.Equal(t, []byte{0x00, 0x00, 0x49, 0x96, 0x02, 0xd2, 0x3b, 0x9a, 0xc9, 0xff}, b)

	parsed, err := ReadTimestamp(b)
	require.NoError(t, err)
	require.Equal(t, ts, parsed)
	require.Equal(t, now, parsed.Time())

	require.True(t, NewTimestamp(time.Time{}).Empty())
	require.True(t, Timestamp{}.Time().IsZero())
}

func TestTimestampLarge(t *testing.T) {
	ts := Timestamp{Seconds: 0x123456789abc, Nanoseconds: 1}
	b := make([]byte, TimestampSize)
	PutTimestamp(b, ts)
	require.Equal(t, []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0, 0, 0, 1}, b)
	parsed, err := ReadTimestamp(b)
	require.NoError(t, err)
	require.Equal(t, ts, parsed)
	require.Equal(t, uint64(0x123456789abc&maxSeconds), NewTimestamp(time.Unix(0x7f123456789abc, 0)).Seconds)
}

func TestReadTimestampErrors(t *testing.T) {
	_, err := ReadTimestamp(make([]byte, 9))
	require.Error(t, err)
	// 1e9 nanoseconds is not normalized
	_, err = ReadTimestamp([]byte{0, 0, 0, 0, 0, 1, 0x3b, 0x9a, 0xca, 0x00})
	require.Error(t, err)
}

func TestNewLogInterval(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want LogInterval
	}{
		{in: time.Second, want: 0},
		{in: 2 * time.Second, want: 1},
		{in: 125 * time.Millisecond, want: -3},
		{in: 100 * time.Millisecond, want: -3},
		{in: 3 * time.Second, want: 2},
		{in: 8 * time.Second, want: 3},
	}
	for _, c := range cases {
		got, err := NewLogInterval(c.in)
		require.NoError(t, err)
		require.Equal(t, c.want, got, c.in.String())
	}
	_, err := NewLogInterval(0)
	require.Error(t, err)
	_, err = NewLogInterval(-time.Second)
	require.Error(t, err)

	require.Equal(t, 125*time.Millisecond, LogInterval(-3).Duration())
	require.Equal(t, 2*time.Second, LogInterval(1).Duration())
}
