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
	"fmt"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	ptp "github.com/facebook/gptp/gptp/protocol"
)

// ethertypeOffset is where ethertype of untagged Ethernet frame starts
const ethertypeOffset = 12

// ptpFilter accepts untagged frames carrying PTP over IEEE 802.3 and drops everything else
var ptpFilter = []bpf.Instruction{
	bpf.LoadAbsolute{Off: ethertypeOffset, Size: 2},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(ptp.EtherTypePTP), SkipFalse: 1},
	bpf.RetConstant{Val: 0xffff},
	bpf.RetConstant{Val: 0},
}

// socketFilter assembles filter into the form SO_ATTACH_FILTER expects
func socketFilter(filter []bpf.Instruction) (*unix.SockFprog, error) {
	raw, err := bpf.Assemble(filter)
	if err != nil {
		return nil, fmt.Errorf("assembling BPF filter: %w", err)
	}
	prog := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		prog[i] = unix.SockFilter{
			Code: ins.Op,
			Jt:   ins.Jt,
			Jf:   ins.Jf,
			K:    ins.K,
		}
	}
	return &unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}, nil
}
