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

package cmd

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"

	ptp "github.com/facebook/gptp/gptp/protocol"
)

var testMAC = net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}

func testIdentity(t *testing.T) ptp.PortIdentity {
	ci, err := ptp.NewClockIdentity(testMAC)
	require.NoError(t, err)
	return ptp.PortIdentity{ClockIdentity: ci, PortNumber: 1}
}

func writeCapture(t *testing.T, frames ...[]byte) *bytes.Reader {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	ts := time.Unix(1700000000, 0)
	for i, f := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Second),
			CaptureLength: len(f),
			Length:        len(f),
		}
		require.NoError(t, w.WritePacket(ci, f))
	}
	return bytes.NewReader(buf.Bytes())
}

func testCapture(t *testing.T) *bytes.Reader {
	id := testIdentity(t)
	sync := &ptp.Sync{
		Header: ptp.NewHeader(ptp.MessageSync, 2, ptp.FlagTwoStep, ptp.ControlSync, -3, id),
	}
	syncFrame, err := ptp.Frame(testMAC, sync)
	require.NoError(t, err)

	fup := &ptp.FollowUp{
		Header:       ptp.NewHeader(ptp.MessageFollowUp, 2, ptp.FlagPTPTimescale, ptp.ControlFollowUp, -3, id),
		FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: ptp.NewTimestamp(time.Unix(1700000000, 500))},
		TLVs:         []ptp.TLV{ptp.NewFollowUpInformationTLV()},
	}
	fupFrame, err := ptp.Frame(testMAC, fup)
	require.NoError(t, err)

	req := &ptp.PDelayReq{
		Header: ptp.NewHeader(ptp.MessagePDelayReq, 7, 0, ptp.ControlOther, 0, id),
	}
	reqFrame, err := ptp.Frame(testMAC, req)
	require.NoError(t, err)

	eth := &layers.Ethernet{
		SrcMAC:       testMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(arp, gopacket.SerializeOptions{}, eth, gopacket.Payload(make([]byte, 46))))

	truncated := fupFrame[:ptp.EthernetHeaderSize+ptp.HeaderSize]
	return writeCapture(t, syncFrame, arp.Bytes(), fupFrame, truncated, reqFrame)
}

func TestReadFrames(t *testing.T) {
	frames, err := readFrames(testCapture(t))
	require.NoError(t, err)
	require.Len(t, frames, 3)

	require.Equal(t, ptp.MessageSync, frames[0].Header.MessageType())
	require.Equal(t, uint16(2), frames[0].Header.SequenceID)
	require.Equal(t, testMAC.String(), frames[0].Src)
	require.True(t, time.Unix(1700000000, 0).Equal(frames[0].Time))

	require.Equal(t, ptp.MessageFollowUp, frames[1].Header.MessageType())
	fup, ok := frames[1].Packet.(*ptp.FollowUp)
	require.True(t, ok)
	require.True(t, time.Unix(1700000000, 500).Equal(fup.PreciseOriginTimestamp.Time()))

	require.Equal(t, ptp.MessagePDelayReq, frames[2].Header.MessageType())
}

func TestReadFramesGarbage(t *testing.T) {
	_, err := readFrames(bytes.NewReader([]byte("definitely not a capture")))
	require.Error(t, err)
}

func TestFilterFrames(t *testing.T) {
	frames, err := readFrames(testCapture(t))
	require.NoError(t, err)

	all, err := filterFrames(frames, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	res, err := filterFrames(frames, "type == 'FOLLOW_UP'")
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, ptp.MessageFollowUp, res[0].Header.MessageType())

	res, err = filterFrames(frames, "seq > 2 && domain == 0")
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, ptp.MessagePDelayReq, res[0].Header.MessageType())

	_, err = filterFrames(frames, "offset > 10")
	require.ErrorContains(t, err, "unsupported variable")

	_, err = filterFrames(frames, "seq +")
	require.Error(t, err)

	_, err = filterFrames(frames, "seq + 1")
	require.ErrorContains(t, err, "must evaluate to bool")
}

func TestDetails(t *testing.T) {
	id := testIdentity(t)
	resp := &ptp.PDelayResp{
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: ptp.NewTimestamp(time.Unix(10, 0)),
			RequestingPortIdentity:  id,
		},
	}
	require.Contains(t, details(resp), id.String())
	require.Equal(t, "", details(&ptp.Sync{}))
}

func TestPrintFrames(t *testing.T) {
	frames, err := readFrames(testCapture(t))
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, printFrames(&out, frames))
	require.Contains(t, out.String(), "PDELAY_REQ")
	require.Contains(t, out.String(), testMAC.String())
}
