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

package transport

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	ptp "github.com/facebook/gptp/gptp/protocol"
)

func runFilter(t *testing.T, frame []byte) int {
	vm, err := bpf.NewVM(ptpFilter)
	require.NoError(t, err)
	n, err := vm.Run(frame)
	require.NoError(t, err)
	return n
}

func TestFilterAcceptsPTP(t *testing.T) {
	src := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	ci, err := ptp.NewClockIdentity(src)
	require.NoError(t, err)
	identity := ptp.PortIdentity{ClockIdentity: ci, PortNumber: 1}
	p := &ptp.PDelayReq{
		Header: ptp.NewHeader(ptp.MessagePDelayReq, 1, 0, ptp.ControlOther, 0, identity),
	}
	frame, err := ptp.Frame(src, p)
	require.NoError(t, err)
	require.Greater(t, runFilter(t, frame), 0)
}

func TestFilterDropsOther(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(make([]byte, 46))))
	require.Equal(t, 0, runFilter(t, buf.Bytes()))
}

func TestFilterDropsRunt(t *testing.T) {
	require.Equal(t, 0, runFilter(t, []byte{0x01, 0x80, 0xc2}))
}

func TestSocketFilter(t *testing.T) {
	prog, err := socketFilter(ptpFilter)
	require.NoError(t, err)
	require.Equal(t, uint16(len(ptpFilter)), prog.Len)
	require.NotNil(t, prog.Filter)
	require.Equal(t, uint32(ethertypeOffset), prog.Filter.K)

	_, err = socketFilter([]bpf.Instruction{bpf.LoadAbsolute{Off: 0, Size: 3}})
	require.Error(t, err)
}
