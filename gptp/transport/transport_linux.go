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
Package transport implements gPTP link layer connection on top of AF_PACKET socket
with hardware or software timestamps.
*/
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/jsimonetti/rtnetlink/rtnl"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	ptp "github.com/facebook/gptp/gptp/protocol"
	"github.com/facebook/gptp/hostendian"
	"github.com/facebook/gptp/timestamp"
)

// Config is what we need to open the connection
type Config struct {
	Iface        string
	Timestamping timestamp.Timestamp
	// RXTimeout bounds every ReadFrame
	RXTimeout time.Duration
	// TXTimeout bounds waiting for TX timestamp
	TXTimeout time.Duration
	// LinkUp brings the interface up if it's down
	LinkUp bool
}

// Conn is a raw socket bound to single interface exchanging gPTP frames
type Conn struct {
	fd        int
	iface     *net.Interface
	dst       *unix.SockaddrLinklayer
	txTimeout time.Duration
	closed    atomic.Bool
}

func protocol() uint16 {
	return hostendian.Htons(uint16(ptp.EtherTypePTP))
}

// lookupIface finds interface via netlink and optionally brings it up
func lookupIface(name string, up bool) (*net.Interface, error) {
	conn, err := rtnl.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("can't establish netlink connection: %w", err)
	}
	defer conn.Close()

	links, err := conn.Links()
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	for _, link := range links {
		if link.Name != name {
			continue
		}
		if link.Flags&net.FlagUp == 0 {
			if !up {
				log.Warningf("interface %s is down", name)
				return link, nil
			}
			log.Infof("bringing %s up", name)
			if err := conn.LinkUp(link); err != nil {
				return nil, fmt.Errorf("bringing %s up: %w", name, err)
			}
		}
		return link, nil
	}
	return nil, fmt.Errorf("interface %q not found", name)
}

// Listen opens AF_PACKET socket on the interface, joins gPTP multicast group and enables timestamps
func Listen(cfg *Config) (*Conn, error) {
	iface, err := lookupIface(cfg.Iface, cfg.LinkUp)
	if err != nil {
		return nil, err
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %s has no Ethernet address", iface.Name)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(protocol()))
	if err != nil {
		return nil, fmt.Errorf("creating packet socket: %w", err)
	}
	c := &Conn{
		fd:        fd,
		iface:     iface,
		txTimeout: cfg.TXTimeout,
		dst: &unix.SockaddrLinklayer{
			Protocol: protocol(),
			Ifindex:  iface.Index,
			Halen:    uint8(len(ptp.MulticastMAC)),
		},
	}
	copy(c.dst.Addr[:], ptp.MulticastMAC)
	if err := c.setup(cfg); err != nil {
		unix.Close(fd)
		return nil, err
	}
	log.Infof("listening for gPTP on %s (%s), %s timestamps", iface.Name, iface.HardwareAddr, cfg.Timestamping)
	return c, nil
}

func (c *Conn) setup(cfg *Config) error {
	prog, err := socketFilter(ptpFilter)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptSockFprog(c.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, prog); err != nil {
		return fmt.Errorf("attaching BPF filter: %w", err)
	}
	if err := unix.Bind(c.fd, &unix.SockaddrLinklayer{Protocol: protocol(), Ifindex: c.iface.Index}); err != nil {
		return fmt.Errorf("binding to %s: %w", c.iface.Name, err)
	}
	mreq := &unix.PacketMreq{
		Ifindex: int32(c.iface.Index),
		Type:    unix.PACKET_MR_MULTICAST,
		Alen:    uint16(len(ptp.MulticastMAC)),
	}
	copy(mreq.Address[:], ptp.MulticastMAC)
	if err := unix.SetsockoptPacketMreq(c.fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("joining %s on %s: %w", ptp.MulticastMAC, c.iface.Name, err)
	}
	tv := unix.NsecToTimeval(cfg.RXTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("setting receive timeout: %w", err)
	}
	return timestamp.EnableTimestamps(cfg.Timestamping, c.fd, c.iface.Name)
}

// HardwareAddr returns MAC address of the interface
func (c *Conn) HardwareAddr() net.HardwareAddr {
	return c.iface.HardwareAddr
}

// WriteFrame sends Ethernet frame and, if txts is set, returns its TX timestamp
func (c *Conn) WriteFrame(b []byte, txts bool) (time.Time, error) {
	if c.closed.Load() {
		return time.Time{}, net.ErrClosed
	}
	if err := unix.Sendto(c.fd, b, 0, c.dst); err != nil {
		return time.Time{}, fmt.Errorf("sending frame on %s: %w", c.iface.Name, err)
	}
	if !txts {
		return time.Time{}, nil
	}
	oob := make([]byte, timestamp.ControlSizeBytes)
	toob := make([]byte, timestamp.ControlSizeBytes)
	ts, attempts, err := timestamp.ReadTXtimestampBuf(c.fd, oob, toob, c.txTimeout)
	if err != nil {
		return time.Time{}, err
	}
	log.Tracef("got TX timestamp %v after %d attempts", ts, attempts)
	return ts, nil
}

// ReadFrame reads next incoming frame into buf. Frames we sent are skipped.
// Missing RX timestamp is not an error, zero time is returned instead.
func (c *Conn) ReadFrame(buf []byte) (int, time.Time, error) {
	oob := make([]byte, timestamp.ControlSizeBytes)
	for {
		if c.closed.Load() {
			return 0, time.Time{}, net.ErrClosed
		}
		n, sa, rx, err := timestamp.ReadPacketWithRXTimestampBuf(c.fd, buf, oob)
		if n == 0 && err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				return 0, time.Time{}, fmt.Errorf("reading frame: %w", os.ErrDeadlineExceeded)
			case errors.Is(err, unix.EBADF):
				return 0, time.Time{}, net.ErrClosed
			}
			return 0, time.Time{}, err
		}
		if ll, ok := sa.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}
		if err != nil {
			log.Tracef("frame without RX timestamp: %v", err)
			rx = time.Time{}
		}
		return n, rx, nil
	}
}

// Close closes the socket
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return unix.Close(c.fd)
}
