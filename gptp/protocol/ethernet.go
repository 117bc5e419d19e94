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
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EtherTypePTP is the ethertype PTP over IEEE 802.3 uses
const EtherTypePTP layers.EthernetType = 0x88F7

// EthernetHeaderSize is the size of untagged Ethernet II header
const EthernetHeaderSize = 14

// MulticastMAC is the gPTP peer-to-peer destination address, 802.1AS 11.3.4
var MulticastMAC = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E}

// Frame wraps gPTP packet into Ethernet frame sent from src to the gPTP multicast address
func Frame(src net.HardwareAddr, p Packet) ([]byte, error) {
	payload, err := Bytes(p)
	if err != nil {
		return nil, err
	}
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       MulticastMAC,
		EthernetType: EtherTypePTP,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serializing ethernet frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Unframe strips Ethernet header and returns source address and gPTP payload.
// Frames with any other ethertype are rejected.
func Unframe(b []byte) (net.HardwareAddr, []byte, error) {
	eth := &layers.Ethernet{}
	if err := eth.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return nil, nil, fmt.Errorf("decoding ethernet frame: %w", err)
	}
	if eth.EthernetType != EtherTypePTP {
		return nil, nil, fmt.Errorf("unexpected ethertype %s", eth.EthernetType)
	}
	return eth.SrcMAC, eth.Payload, nil
}
