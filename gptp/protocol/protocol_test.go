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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testPortIdentity = PortIdentity{
	ClockIdentity: 0x001b21fffe123456,
	PortNumber:    1,
}

func TestParseSync(t *testing.T) {
	raw := []uint8{
		0x10, 0x02, 0x00, 0x2c, 0x00, 0x00, 0x02, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x1b, 0x21, 0xff,
		0xfe, 0x12, 0x34, 0x56, 0x00, 0x01, 0x00, 0x2a,
		0x00, 0xfd, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	packet := new(Sync)
	err := packet.UnmarshalBinary(raw)
	require.NoError(t, err)
	want := Sync{
		Header: Header{
			SdoIDAndMsgType:    NewSdoIDAndMsgType(MessageSync, TransportSpecific),
			Version:            Version,
			MessageLength:      44,
			FlagField:          FlagTwoStep,
			SourcePortIdentity: testPortIdentity,
			SequenceID:         42,
			ControlField:       ControlSync,
			LogMessageInterval: -3,
		},
	}
	require.Equal(t, want, *packet)
	b, err := Bytes(packet)
	require.NoError(t, err)
	require.Equal(t, raw, b)

	pp, err := DecodePacket(raw)
	require.NoError(t, err)
	require.Equal(t, &want, pp)
}

func TestNewHeader(t *testing.T) {
	h := NewHeader(MessagePDelayResp, 7, FlagTwoStep, ControlOther, LogIntervalResponse, testPortIdentity)
	b := make([]byte, HeaderSize)
	n, err := h.MarshalBinaryTo(b)
	require.NoError(t, err)
	require.Equal(t, HeaderSize, n)
	require.Equal(t, uint8(0x13), b[0])
	require.Equal(t, uint8(0x02), b[1])
	require.Equal(t, []byte{0x02, 0x00}, b[6:8])
	require.Equal(t, []byte{0x00, 0x07}, b[30:32])
	require.Equal(t, ControlOther, b[32])
	require.Equal(t, uint8(0x7f), b[33])

	parsed := Header{}
	require.NoError(t, parsed.UnmarshalBinary(b))
	require.Equal(t, h, parsed)
	require.Equal(t, MessagePDelayResp, parsed.MessageType())
	require.Equal(t, TransportSpecific, parsed.SdoIDAndMsgType.SdoID())
}

func TestHeaderShortBuffer(t *testing.T) {
	h := Header{}
	err := h.UnmarshalBinary(make([]byte, HeaderSize-1))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrShortBuffer))

	_, err = h.MarshalBinaryTo(make([]byte, 10))
	require.Error(t, err)
}

func TestAnnounceRoundTrip(t *testing.T) {
	gm := ClockIdentity(0x001b21fffe123456)
	packet := &Announce{
		Header: NewHeader(MessageAnnounce, 3, FlagPTPTimescale, ControlOther, 0, testPortIdentity),
		AnnounceBody: AnnounceBody{
			CurrentUTCOffset:     37,
			GrandmasterPriority1: 246,
			GrandmasterClockQuality: ClockQuality{
				ClockClass:              ClockClassDefault,
				ClockAccuracy:           ClockAccuracyUnknown,
				OffsetScaledLogVariance: VarianceDefault,
			},
			GrandmasterPriority2: 248,
			GrandmasterIdentity:  gm,
			StepsRemoved:         0,
			TimeSource:           TimeSourceInternalOscillator,
		},
		TLVs: []TLV{NewPathTraceTLV(gm)},
	}
	b, err := packet.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, HeaderSize+announceBodySize+tlvHeadSize+8, len(b))
	require.Equal(t, uint16(len(b)), packet.MessageLength)

	parsed := &Announce{}
	require.NoError(t, parsed.UnmarshalBinary(b))
	require.Equal(t, packet, parsed)
	require.NotNil(t, parsed.PathTrace())
	require.True(t, parsed.PathTrace().Contains(gm))
	require.False(t, parsed.PathTrace().Contains(gm+1))
}

func TestAnnounceWithoutPathTrace(t *testing.T) {
	packet := &Announce{
		Header: NewHeader(MessageAnnounce, 3, FlagPTPTimescale, ControlOther, 0, testPortIdentity),
	}
	b, err := packet.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, 64, len(b))
	parsed := &Announce{}
	require.NoError(t, parsed.UnmarshalBinary(b))
	require.Nil(t, parsed.PathTrace())
}

func TestFollowUpRoundTrip(t *testing.T) {
	origin := time.Unix(1700000000, 123456789)
	packet := &FollowUp{
		Header: NewHeader(MessageFollowUp, 11, FlagPTPTimescale, ControlFollowUp, -3, testPortIdentity),
		FollowUpBody: FollowUpBody{
			PreciseOriginTimestamp: NewTimestamp(origin),
		},
		TLVs: []TLV{NewFollowUpInformationTLV()},
	}
	b, err := packet.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, 76, len(b))
	// organizationId and subtype of Follow_Up information TLV
	require.Equal(t, []byte{0x00, 0x03, 0x00, 0x1c, 0x00, 0x80, 0xc2, 0x00, 0x00, 0x01}, b[44:54])

	pp, err := DecodePacket(b)
	require.NoError(t, err)
	parsed, ok := pp.(*FollowUp)
	require.True(t, ok)
	require.Equal(t, packet, parsed)
	require.Equal(t, origin, parsed.PreciseOriginTimestamp.Time())
	require.NotNil(t, parsed.FollowUpInformation())
}

func TestPDelayRoundTrip(t *testing.T) {
	requester := PortIdentity{ClockIdentity: 0x0011ddfffe000001, PortNumber: 1}
	t2 := time.Unix(1700000000, 999999999)

	req := &PDelayReq{
		Header: NewHeader(MessagePDelayReq, 65535, 0, ControlOther, 0, requester),
	}
	resp := &PDelayResp{
		Header: NewHeader(MessagePDelayResp, 65535, FlagTwoStep, ControlOther, LogIntervalResponse, testPortIdentity),
		PDelayRespBody: PDelayRespBody{
			RequestReceiptTimestamp: NewTimestamp(t2),
			RequestingPortIdentity:  requester,
		},
	}
	fup := &PDelayRespFollowUp{
		Header: NewHeader(MessagePDelayRespFollowUp, 65535, 0, ControlOther, LogIntervalResponse, testPortIdentity),
		PDelayRespFollowUpBody: PDelayRespFollowUpBody{
			ResponseOriginTimestamp: NewTimestamp(t2.Add(time.Microsecond)),
			RequestingPortIdentity:  requester,
		},
	}
	for _, p := range []Packet{req, resp, fup} {
		b, err := Bytes(p)
		require.NoError(t, err)
		require.Equal(t, 54, len(b))
		parsed, err := DecodePacket(b)
		require.NoError(t, err)
		require.Equal(t, p, parsed)
	}
	require.Equal(t, t2, resp.RequestReceiptTimestamp.Time())
}

func TestDecodePacketErrors(t *testing.T) {
	_, err := DecodePacket(nil)
	require.Error(t, err)

	// signaling is recognized but not handled
	_, err = DecodePacket([]byte{0x1c, 0x02})
	require.Error(t, err)

	sync := &Sync{Header: NewHeader(MessageSync, 1, FlagTwoStep, ControlSync, 0, testPortIdentity)}
	b, err := Bytes(sync)
	require.NoError(t, err)
	for _, l := range []int{1, 20, HeaderSize, len(b) - 1} {
		_, err = DecodePacket(b[:l])
		require.Error(t, err, "length %d", l)
	}

	// message length pointing past the buffer
	b[3] = 0xff
	_, err = DecodePacket(b)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestUnmarshalWrongType(t *testing.T) {
	sync := &Sync{Header: NewHeader(MessageSync, 1, FlagTwoStep, ControlSync, 0, testPortIdentity)}
	b, err := Bytes(sync)
	require.NoError(t, err)
	fup := &FollowUp{}
	require.Error(t, fup.UnmarshalBinary(append(b, make([]byte, 32)...)))
}

func TestMarshalShortBuffer(t *testing.T) {
	packets := []Packet{
		&Sync{},
		&FollowUp{TLVs: []TLV{NewFollowUpInformationTLV()}},
		&PDelayReq{},
		&PDelayResp{},
		&PDelayRespFollowUp{},
		&Announce{TLVs: []TLV{NewPathTraceTLV(1, 2)}},
	}
	for _, p := range packets {
		_, err := p.MarshalBinaryTo(make([]byte, 40))
		require.Error(t, err, p.MessageType().String())
	}
}
