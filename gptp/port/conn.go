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

package port

import (
	"net"
	"time"
)

//go:generate mockgen -destination port_mock.go -package port github.com/facebook/gptp/gptp/port Conn,Clock,StatsServer

// Conn is a link layer connection carrying gPTP frames
type Conn interface {
	// WriteFrame sends Ethernet frame. If txts is set, it waits for and returns TX timestamp.
	WriteFrame(b []byte, txts bool) (time.Time, error)
	// ReadFrame reads Ethernet frame into buf and returns its RX timestamp.
	// It returns error wrapping os.ErrDeadlineExceeded if nothing arrived in time.
	ReadFrame(buf []byte) (int, time.Time, error)
	HardwareAddr() net.HardwareAddr
	Close() error
}
