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
)

// AnnounceBody 10.6.3 Announce message fields
type AnnounceBody struct {
	OriginTimestamp         Timestamp // reserved in 802.1AS
	CurrentUTCOffset        int16
	Reserved                uint8
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

const announceBodySize = 30

// Announce is a full Announce packet
type Announce struct {
	Header
	AnnounceBody
	TLVs []TLV
}

// PathTrace returns PATH_TRACE TLV carried by Announce, if any
func (p *Announce) PathTrace() *PathTraceTLV {
	for _, tlv := range p.TLVs {
		if pt, ok := tlv.(*PathTraceTLV); ok {
			return pt
		}
	}
	return nil
}

// MarshalBinaryTo marshals Announce into b
func (p *Announce) MarshalBinaryTo(b []byte) (int, error) {
	size := HeaderSize + announceBodySize + tlvsSize(p.TLVs)
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write Announce: need %d, have %d", size, len(b))
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	PutTimestamp(b[n:], p.OriginTimestamp)
	binary.BigEndian.PutUint16(b[n+10:], uint16(p.CurrentUTCOffset))
	b[n+12] = p.Reserved
	b[n+13] = p.GrandmasterPriority1
	b[n+14] = byte(p.GrandmasterClockQuality.ClockClass)
	b[n+15] = byte(p.GrandmasterClockQuality.ClockAccuracy)
	binary.BigEndian.PutUint16(b[n+16:], p.GrandmasterClockQuality.OffsetScaledLogVariance)
	b[n+18] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[n+19:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[n+27:], p.StepsRemoved)
	b[n+29] = byte(p.TimeSource)
	pos := n + announceBodySize
	tlvLen, err := writeTLVs(p.TLVs, b[pos:])
	return pos + tlvLen, err
}

// MarshalBinary converts packet to []bytes
func (p *Announce) MarshalBinary() ([]byte, error) {
	return Bytes(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *Announce) UnmarshalBinary(b []byte) error {
	if err := unmarshalChecked(&p.Header, b, MessageAnnounce, announceBodySize); err != nil {
		return err
	}
	n := HeaderSize
	var err error
	if p.OriginTimestamp, err = ReadTimestamp(b[n:]); err != nil {
		return err
	}
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[n+10:]))
	p.Reserved = b[n+12]
	p.GrandmasterPriority1 = b[n+13]
	p.GrandmasterClockQuality.ClockClass = ClockClass(b[n+14])
	p.GrandmasterClockQuality.ClockAccuracy = ClockAccuracy(b[n+15])
	p.GrandmasterClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[n+16:])
	p.GrandmasterPriority2 = b[n+18]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+19:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[n+27:])
	p.TimeSource = TimeSource(b[n+29])
	pos := n + announceBodySize
	p.TLVs, err = readTLVs(p.TLVs[:0], int(p.MessageLength)-pos, b[pos:])
	return err
}

// SyncBody 11.4.3 Sync message fields
type SyncBody struct {
	OriginTimestamp Timestamp // reserved for two-step
}

// Sync is a full Sync packet
type Sync struct {
	Header
	SyncBody
}

const syncBodySize = 10

// MarshalBinaryTo marshals Sync into b
func (p *Sync) MarshalBinaryTo(b []byte) (int, error) {
	size := HeaderSize + syncBodySize
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write Sync: need %d, have %d", size, len(b))
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	PutTimestamp(b[n:], p.OriginTimestamp)
	return size, nil
}

// MarshalBinary converts packet to []bytes
func (p *Sync) MarshalBinary() ([]byte, error) {
	return Bytes(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *Sync) UnmarshalBinary(b []byte) error {
	if err := unmarshalChecked(&p.Header, b, MessageSync, syncBodySize); err != nil {
		return err
	}
	var err error
	p.OriginTimestamp, err = ReadTimestamp(b[HeaderSize:])
	return err
}

// FollowUpBody 11.4.4 Follow_Up message fields
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a full Follow_Up packet
type FollowUp struct {
	Header
	FollowUpBody
	TLVs []TLV
}

// FollowUpInformation returns Follow_Up information TLV, if any
func (p *FollowUp) FollowUpInformation() *FollowUpInformationTLV {
	for _, tlv := range p.TLVs {
		if fi, ok := tlv.(*FollowUpInformationTLV); ok {
			return fi
		}
	}
	return nil
}

const followUpBodySize = 10

// MarshalBinaryTo marshals FollowUp into b
func (p *FollowUp) MarshalBinaryTo(b []byte) (int, error) {
	size := HeaderSize + followUpBodySize + tlvsSize(p.TLVs)
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write FollowUp: need %d, have %d", size, len(b))
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	PutTimestamp(b[n:], p.PreciseOriginTimestamp)
	pos := n + followUpBodySize
	tlvLen, err := writeTLVs(p.TLVs, b[pos:])
	return pos + tlvLen, err
}

// MarshalBinary converts packet to []bytes
func (p *FollowUp) MarshalBinary() ([]byte, error) {
	return Bytes(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if err := unmarshalChecked(&p.Header, b, MessageFollowUp, followUpBodySize); err != nil {
		return err
	}
	var err error
	if p.PreciseOriginTimestamp, err = ReadTimestamp(b[HeaderSize:]); err != nil {
		return err
	}
	pos := HeaderSize + followUpBodySize
	p.TLVs, err = readTLVs(p.TLVs[:0], int(p.MessageLength)-pos, b[pos:])
	return err
}

// PDelayReqBody 11.4.5 Pdelay_Req message fields
type PDelayReqBody struct {
	OriginTimestamp Timestamp // reserved
	Reserved        [10]uint8
}

// PDelayReq is a full Pdelay_Req packet
type PDelayReq struct {
	Header
	PDelayReqBody
}

const pdelayBodySize = 20

// MarshalBinaryTo marshals PDelayReq into b
func (p *PDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	size := HeaderSize + pdelayBodySize
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write PDelayReq: need %d, have %d", size, len(b))
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	PutTimestamp(b[n:], p.OriginTimestamp)
	copy(b[n+10:], p.Reserved[:])
	return size, nil
}

// MarshalBinary converts packet to []bytes
func (p *PDelayReq) MarshalBinary() ([]byte, error) {
	return Bytes(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayReq) UnmarshalBinary(b []byte) error {
	if err := unmarshalChecked(&p.Header, b, MessagePDelayReq, pdelayBodySize); err != nil {
		return err
	}
	var err error
	if p.OriginTimestamp, err = ReadTimestamp(b[HeaderSize:]); err != nil {
		return err
	}
	copy(p.Reserved[:], b[HeaderSize+10:HeaderSize+20])
	return nil
}

// PDelayRespBody 11.4.6 Pdelay_Resp message fields
type PDelayRespBody struct {
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayResp is a full Pdelay_Resp packet
type PDelayResp struct {
	Header
	PDelayRespBody
}

// MarshalBinaryTo marshals PDelayResp into b
func (p *PDelayResp) MarshalBinaryTo(b []byte) (int, error) {
	size := HeaderSize + pdelayBodySize
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write PDelayResp: need %d, have %d", size, len(b))
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	PutTimestamp(b[n:], p.RequestReceiptTimestamp)
	putPortIdentity(b[n+10:], p.RequestingPortIdentity)
	return size, nil
}

// MarshalBinary converts packet to []bytes
func (p *PDelayResp) MarshalBinary() ([]byte, error) {
	return Bytes(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayResp) UnmarshalBinary(b []byte) error {
	if err := unmarshalChecked(&p.Header, b, MessagePDelayResp, pdelayBodySize); err != nil {
		return err
	}
	var err error
	if p.RequestReceiptTimestamp, err = ReadTimestamp(b[HeaderSize:]); err != nil {
		return err
	}
	p.RequestingPortIdentity = readPortIdentity(b[HeaderSize+10:])
	return nil
}

// PDelayRespFollowUpBody 11.4.7 Pdelay_Resp_Follow_Up message fields
type PDelayRespFollowUpBody struct {
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayRespFollowUp is a full Pdelay_Resp_Follow_Up packet
type PDelayRespFollowUp struct {
	Header
	PDelayRespFollowUpBody
}

// MarshalBinaryTo marshals PDelayRespFollowUp into b
func (p *PDelayRespFollowUp) MarshalBinaryTo(b []byte) (int, error) {
	size := HeaderSize + pdelayBodySize
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write PDelayRespFollowUp: need %d, have %d", size, len(b))
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	PutTimestamp(b[n:], p.ResponseOriginTimestamp)
	putPortIdentity(b[n+10:], p.RequestingPortIdentity)
	return size, nil
}

// MarshalBinary converts packet to []bytes
func (p *PDelayRespFollowUp) MarshalBinary() ([]byte, error) {
	return Bytes(p)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayRespFollowUp) UnmarshalBinary(b []byte) error {
	if err := unmarshalChecked(&p.Header, b, MessagePDelayRespFollowUp, pdelayBodySize); err != nil {
		return err
	}
	var err error
	if p.ResponseOriginTimestamp, err = ReadTimestamp(b[HeaderSize:]); err != nil {
		return err
	}
	p.RequestingPortIdentity = readPortIdentity(b[HeaderSize+10:])
	return nil
}
