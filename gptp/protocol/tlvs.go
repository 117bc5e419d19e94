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

// TLV abstracts away any TLV
type TLV interface {
	Type() TLVType
	MarshalBinaryTo(b []byte) (int, error)
}

const tlvHeadSize = 4

// TLVHead is a common part of all TLVs
type TLVHead struct {
	TLVType     TLVType
	LengthField uint16 // The length of all TLVs shall be an even number of octets
}

// Type implements TLV interface
func (t TLVHead) Type() TLVType {
	return t.TLVType
}

func tlvHeadMarshalBinaryTo(t *TLVHead, b []byte) {
	binary.BigEndian.PutUint16(b, uint16(t.TLVType))
	binary.BigEndian.PutUint16(b[2:], t.LengthField)
}

func unmarshalTLVHeader(p *TLVHead, b []byte) error {
	if len(b) < tlvHeadSize {
		return fmt.Errorf("not enough data to decode TLV header")
	}
	p.TLVType = TLVType(binary.BigEndian.Uint16(b[0:]))
	p.LengthField = binary.BigEndian.Uint16(b[2:])
	return nil
}

func checkTLVLength(p *TLVHead, l, want int, strict bool) error {
	if strict && int(p.LengthField) != want {
		return fmt.Errorf("expected TLV of type %s (%d) to have length of %d, got %d in the header", p.TLVType, p.TLVType, want, p.LengthField)
	}
	if int(p.LengthField) < want {
		return fmt.Errorf("expected TLV of type %s (%d) to have length of at least %d, got %d in the header", p.TLVType, p.TLVType, want, p.LengthField)
	}
	if tlvHeadSize+int(p.LengthField) > l {
		return fmt.Errorf("cannot decode TLV of length %d from %d bytes", tlvHeadSize+int(p.LengthField), l)
	}
	return nil
}

func tlvsSize(tlvs []TLV) int {
	size := 0
	for _, tlv := range tlvs {
		switch t := tlv.(type) {
		case *PathTraceTLV:
			size += tlvHeadSize + 8*len(t.PathSequence)
		case *FollowUpInformationTLV:
			size += tlvHeadSize + followUpInformationLength
		case *OrganizationExtensionTLV:
			size += tlvHeadSize + 6 + len(t.Data)
		}
	}
	return size
}

func writeTLVs(tlvs []TLV, b []byte) (int, error) {
	pos := 0
	for _, tlv := range tlvs {
		nn, err := tlv.MarshalBinaryTo(b[pos:])
		if err != nil {
			return 0, err
		}
		pos += nn
	}
	return pos, nil
}

func readTLVs(tlvs []TLV, maxLength int, b []byte) ([]TLV, error) {
	pos := 0
	if maxLength > len(b) {
		maxLength = len(b)
	}
	for {
		// packet can have trailing bytes, let's make sure we don't try to read past given length
		if pos+tlvHeadSize > maxLength {
			break
		}
		head := TLVHead{}
		if err := unmarshalTLVHeader(&head, b[pos:maxLength]); err != nil {
			return tlvs, err
		}
		switch head.TLVType {
		case TLVPathTrace:
			tlv := &PathTraceTLV{}
			if err := tlv.UnmarshalBinary(b[pos:maxLength]); err != nil {
				return tlvs, err
			}
			tlvs = append(tlvs, tlv)
		case TLVOrganizationExtension:
			tlv, err := unmarshalOrganizationExtension(b[pos:maxLength])
			if err != nil {
				return tlvs, err
			}
			tlvs = append(tlvs, tlv)
		default:
			// skip TLVs we don't know about
			if tlvHeadSize+int(head.LengthField) > maxLength-pos {
				return tlvs, fmt.Errorf("cannot skip TLV of type %d and length %d", head.TLVType, head.LengthField)
			}
		}
		pos += tlvHeadSize + int(head.LengthField)
	}
	return tlvs, nil
}

// PathTraceTLV 802.1AS 10.6.3.3 PATH_TRACE TLV format
type PathTraceTLV struct {
	TLVHead
	// The value of the lengthField is 8N.
	PathSequence []ClockIdentity // N
}

// NewPathTraceTLV returns PathTraceTLV carrying given clock identities
func NewPathTraceTLV(path ...ClockIdentity) *PathTraceTLV {
	return &PathTraceTLV{
		TLVHead: TLVHead{
			TLVType:     TLVPathTrace,
			LengthField: uint16(8 * len(path)),
		},
		PathSequence: path,
	}
}

// MarshalBinaryTo marshals bytes to PathTraceTLV
func (t *PathTraceTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + 8*len(t.PathSequence)
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write PathTraceTLV: need %d, have %d", size, len(b))
	}
	t.LengthField = uint16(8 * len(t.PathSequence))
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	pos := tlvHeadSize
	for _, ps := range t.PathSequence {
		binary.BigEndian.PutUint64(b[pos:pos+8], uint64(ps))
		pos += 8
	}
	return pos, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *PathTraceTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 8, false); err != nil {
		return err
	}
	if t.LengthField%8 != 0 {
		return fmt.Errorf("PathTraceTLV length %d is not a multiple of 8", t.LengthField)
	}
	n := int(t.LengthField) / 8
	t.PathSequence = make([]ClockIdentity, 0, n)
	for i := 0; i < n; i++ {
		pos := tlvHeadSize + i*8
		t.PathSequence = append(t.PathSequence, ClockIdentity(binary.BigEndian.Uint64(b[pos:])))
	}
	return nil
}

// Contains reports whether the path includes given clock identity
func (t *PathTraceTLV) Contains(c ClockIdentity) bool {
	for _, ps := range t.PathSequence {
		if ps == c {
			return true
		}
	}
	return false
}

// OrganizationIEEE8021 is the IEEE 802.1 OUI used by 802.1AS organization extension TLVs
var OrganizationIEEE8021 = [3]byte{0x00, 0x80, 0xC2}

// SubTypeFollowUpInformation is organizationSubType of Follow_Up information TLV
var SubTypeFollowUpInformation = [3]byte{0x00, 0x00, 0x01}

// OrganizationExtensionTLV is a generic ORGANIZATION_EXTENSION TLV we don't interpret
type OrganizationExtensionTLV struct {
	TLVHead
	OrganizationID      [3]byte
	OrganizationSubType [3]byte
	Data                []byte
}

// MarshalBinaryTo marshals bytes to OrganizationExtensionTLV
func (t *OrganizationExtensionTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + 6 + len(t.Data)
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write OrganizationExtensionTLV: need %d, have %d", size, len(b))
	}
	t.LengthField = uint16(6 + len(t.Data))
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	copy(b[tlvHeadSize:], t.OrganizationID[:])
	copy(b[tlvHeadSize+3:], t.OrganizationSubType[:])
	copy(b[tlvHeadSize+6:], t.Data)
	return size, nil
}

// followUpInformationLength is the LengthField of Follow_Up information TLV
const followUpInformationLength = 28

/*
FollowUpInformationTLV 802.1AS 11.4.4.3 Follow_Up information TLV.
It's an ORGANIZATION_EXTENSION TLV with organizationId 00-80-C2 and organizationSubType 1.
*/
type FollowUpInformationTLV struct {
	TLVHead
	OrganizationID             [3]byte
	OrganizationSubType        [3]byte
	CumulativeScaledRateOffset int32
	GMTimeBaseIndicator        uint16
	LastGMPhaseChange          [12]byte // ScaledNs
	ScaledLastGMFreqChange     int32
}

// NewFollowUpInformationTLV returns FollowUpInformationTLV for a grandmaster with no rate offset and no phase or frequency change
func NewFollowUpInformationTLV() *FollowUpInformationTLV {
	return &FollowUpInformationTLV{
		TLVHead: TLVHead{
			TLVType:     TLVOrganizationExtension,
			LengthField: followUpInformationLength,
		},
		OrganizationID:      OrganizationIEEE8021,
		OrganizationSubType: SubTypeFollowUpInformation,
	}
}

// MarshalBinaryTo marshals bytes to FollowUpInformationTLV
func (t *FollowUpInformationTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + followUpInformationLength
	if len(b) < size {
		return 0, fmt.Errorf("not enough buffer to write FollowUpInformationTLV: need %d, have %d", size, len(b))
	}
	t.LengthField = followUpInformationLength
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	pos := tlvHeadSize
	copy(b[pos:], t.OrganizationID[:])
	copy(b[pos+3:], t.OrganizationSubType[:])
	binary.BigEndian.PutUint32(b[pos+6:], uint32(t.CumulativeScaledRateOffset))
	binary.BigEndian.PutUint16(b[pos+10:], t.GMTimeBaseIndicator)
	copy(b[pos+12:], t.LastGMPhaseChange[:])
	binary.BigEndian.PutUint32(b[pos+24:], uint32(t.ScaledLastGMFreqChange))
	return size, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *FollowUpInformationTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), followUpInformationLength, true); err != nil {
		return err
	}
	pos := tlvHeadSize
	copy(t.OrganizationID[:], b[pos:pos+3])
	copy(t.OrganizationSubType[:], b[pos+3:pos+6])
	t.CumulativeScaledRateOffset = int32(binary.BigEndian.Uint32(b[pos+6:]))
	t.GMTimeBaseIndicator = binary.BigEndian.Uint16(b[pos+10:])
	copy(t.LastGMPhaseChange[:], b[pos+12:pos+24])
	t.ScaledLastGMFreqChange = int32(binary.BigEndian.Uint32(b[pos+24:]))
	return nil
}

func unmarshalOrganizationExtension(b []byte) (TLV, error) {
	head := TLVHead{}
	if err := unmarshalTLVHeader(&head, b); err != nil {
		return nil, err
	}
	if err := checkTLVLength(&head, len(b), 6, false); err != nil {
		return nil, err
	}
	var orgID, subType [3]byte
	copy(orgID[:], b[tlvHeadSize:tlvHeadSize+3])
	copy(subType[:], b[tlvHeadSize+3:tlvHeadSize+6])
	if orgID == OrganizationIEEE8021 && subType == SubTypeFollowUpInformation {
		tlv := &FollowUpInformationTLV{}
		if err := tlv.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return tlv, nil
	}
	tlv := &OrganizationExtensionTLV{
		TLVHead:             head,
		OrganizationID:      orgID,
		OrganizationSubType: subType,
	}
	tlv.Data = make([]byte, int(head.LengthField)-6)
	copy(tlv.Data, b[tlvHeadSize+6:tlvHeadSize+int(head.LengthField)])
	return tlv, nil
}
