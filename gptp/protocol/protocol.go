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
Package protocol implements the gPTP (IEEE 802.1AS) wire format.

All references are given for IEEE 802.1AS-2020 unless stated otherwise.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is what version of PTP protocol we implement
const Version uint8 = 2

// HeaderSize is the size of the common gPTP header
const HeaderSize = 34

// ErrShortBuffer is returned when there is not enough data to decode a message
var ErrShortBuffer = errors.New("not enough data to decode")

// controlField values, Table 10-5 (obsolete, but still set)
const (
	ControlSync     uint8 = 0
	ControlFollowUp uint8 = 2
	ControlOther    uint8 = 5
)

// Header 10.6.2 Common PTP message header
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType // first 4 bits is majorSdoId, next 4 bits are msgtype
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval
}

// MessageType returns MessageType
func (p *Header) MessageType() MessageType {
	return p.SdoIDAndMsgType.MsgType()
}

// NewHeader returns Header for given message type with 802.1AS transportSpecific and PTP version set
func NewHeader(msgType MessageType, sequence uint16, flags uint16, control uint8, logInterval LogInterval, src PortIdentity) Header {
	return Header{
		SdoIDAndMsgType:    NewSdoIDAndMsgType(msgType, TransportSpecific),
		Version:            Version,
		FlagField:          flags,
		SourcePortIdentity: src,
		SequenceID:         sequence,
		ControlField:       control,
		LogMessageInterval: logInterval,
	}
}

// flags used in FlagField as per Table 10-9 Values of flag bits
const (
	// first octet
	FlagAlternateMaster  uint16 = 1 << (8 + 0)
	FlagTwoStep          uint16 = 1 << (8 + 1)
	FlagUnicast          uint16 = 1 << (8 + 2)
	FlagProfileSpecific1 uint16 = 1 << (8 + 5)
	FlagProfileSpecific2 uint16 = 1 << (8 + 6)
	// second octet
	FlagLeap61                uint16 = 1 << 0
	FlagLeap59                uint16 = 1 << 1
	FlagCurrentUtcOffsetValid uint16 = 1 << 2
	FlagPTPTimescale          uint16 = 1 << 3
	FlagTimeTraceable         uint16 = 1 << 4
	FlagFrequencyTraceable    uint16 = 1 << 5
)

func headerMarshalBinaryTo(p *Header, b []byte) int {
	b[0] = byte(p.SdoIDAndMsgType)
	b[1] = p.Version & 0x0f
	binary.BigEndian.PutUint16(b[2:], p.MessageLength)
	b[4] = p.DomainNumber
	b[5] = p.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], p.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(p.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], p.MessageTypeSpecific)
	binary.BigEndian.PutUint64(b[20:], uint64(p.SourcePortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[28:], p.SourcePortIdentity.PortNumber)
	binary.BigEndian.PutUint16(b[30:], p.SequenceID)
	b[32] = p.ControlField
	b[33] = byte(p.LogMessageInterval)
	return HeaderSize
}

func unmarshalHeader(p *Header, b []byte) {
	p.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	p.Version = b[1] & 0x0f
	p.MessageLength = binary.BigEndian.Uint16(b[2:])
	p.DomainNumber = b[4]
	p.MinorSdoID = b[5]
	p.FlagField = binary.BigEndian.Uint16(b[6:])
	p.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	p.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	p.SourcePortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[20:]))
	p.SourcePortIdentity.PortNumber = binary.BigEndian.Uint16(b[28:])
	p.SequenceID = binary.BigEndian.Uint16(b[30:])
	p.ControlField = b[32]
	p.LogMessageInterval = LogInterval(b[33])
}

// MarshalBinaryTo marshals Header into b
func (p *Header) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < HeaderSize {
		return 0, fmt.Errorf("not enough buffer to write Header: %w", ErrShortBuffer)
	}
	return headerMarshalBinaryTo(p, b), nil
}

// UnmarshalBinary parses []byte and populates Header fields
func (p *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("decoding header from %d bytes: %w", len(b), ErrShortBuffer)
	}
	unmarshalHeader(p, b)
	return nil
}

func checkPacketLength(p *Header, l int) error {
	if int(p.MessageLength) > l {
		return fmt.Errorf("cannot decode message of length %d from %d bytes: %w", p.MessageLength, l, ErrShortBuffer)
	}
	return nil
}

func unmarshalChecked(p *Header, b []byte, want MessageType, bodySize int) error {
	if len(b) < HeaderSize+bodySize {
		return fmt.Errorf("decoding %s from %d bytes: %w", want, len(b), ErrShortBuffer)
	}
	unmarshalHeader(p, b)
	if err := checkPacketLength(p, len(b)); err != nil {
		return err
	}
	if p.MessageType() != want {
		return fmt.Errorf("not a %s message: %s", want, p.MessageType())
	}
	return nil
}

func putPortIdentity(b []byte, p PortIdentity) {
	binary.BigEndian.PutUint64(b, uint64(p.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], p.PortNumber)
}

func readPortIdentity(b []byte) PortIdentity {
	return PortIdentity{
		ClockIdentity: ClockIdentity(binary.BigEndian.Uint64(b)),
		PortNumber:    binary.BigEndian.Uint16(b[8:]),
	}
}

// Packet is an interface to abstract all different packets
type Packet interface {
	MessageType() MessageType
	MarshalBinaryTo(b []byte) (int, error)
	UnmarshalBinary(b []byte) error
}

// MaxPacketSize is big enough for any message we produce
const MaxPacketSize = 512

// Bytes converts any packet to []bytes
func Bytes(p Packet) ([]byte, error) {
	buf := make([]byte, MaxPacketSize)
	n, err := p.MarshalBinaryTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// DecodePacket provides single entry point to try and decode any []bytes to gPTP packet.
// Resulting Packet user can then either switch based on MessageType(), or just with type switch.
func DecodePacket(b []byte) (Packet, error) {
	msgType, err := ProbeMsgType(b)
	if err != nil {
		return nil, err
	}
	var p Packet
	switch msgType {
	case MessageSync:
		p = &Sync{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessagePDelayReq:
		p = &PDelayReq{}
	case MessagePDelayResp:
		p = &PDelayResp{}
	case MessagePDelayRespFollowUp:
		p = &PDelayRespFollowUp{}
	case MessageAnnounce:
		p = &Announce{}
	default:
		return nil, fmt.Errorf("unsupported type %s", msgType)
	}
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}
