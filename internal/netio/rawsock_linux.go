//go:build linux

package netio

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// RawConn: AF_PACKET socket bound to one interface
// -------------------------------------------------------------------------

// RawConn is a FrameConn backed by a non-blocking AF_PACKET socket that
// receives IPv4 frames from a single interface. The socket is registered
// with the runtime network poller, so Close unblocks a pending read.
type RawConn struct {
	file    *os.File
	raw     syscall.RawConn
	ifIndex int
	ifName  string
	hwAddr  net.HardwareAddr

	mu     sync.Mutex
	closed bool
}

// NewRawConn opens an AF_PACKET socket on ifName. The interface index and
// MAC address are resolved over netlink. Requires CAP_NET_RAW.
func NewRawConn(ifName string) (*RawConn, error) {
	if ifName == "" {
		return nil, ErrNoInterface
	}

	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("lookup link %s: %w", ifName, err)
	}
	attrs := link.Attrs()

	proto := htons(unix.ETH_P_IP)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("create packet socket on %s: %w", ifName, err)
	}

	sa := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: attrs.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind packet socket to %s: %w", ifName, err)
	}

	//nolint:gosec // G115: fd is a small positive kernel descriptor.
	file := os.NewFile(uintptr(fd), "packet:"+ifName)
	raw, err := file.SyscallConn()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("raw conn %s: %w", ifName, err)
	}

	return &RawConn{
		file:    file,
		raw:     raw,
		ifIndex: attrs.Index,
		ifName:  ifName,
		hwAddr:  attrs.HardwareAddr,
	}, nil
}

// ReadFrame implements FrameConn.
func (c *RawConn) ReadFrame(buf []byte) (int, FrameMeta, error) {
	var (
		n       int
		from    unix.Sockaddr
		recvErr error
	)

	err := c.raw.Read(func(fd uintptr) bool {
		//nolint:gosec // G115: fd is a small positive kernel descriptor.
		n, from, recvErr = unix.Recvfrom(int(fd), buf, 0)
		return !errors.Is(recvErr, unix.EAGAIN)
	})
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return 0, FrameMeta{}, ErrSocketClosed
		}
		return 0, FrameMeta{}, fmt.Errorf("read frame on %s: %w", c.ifName, err)
	}
	if recvErr != nil {
		return 0, FrameMeta{}, fmt.Errorf("read frame on %s: %w", c.ifName, recvErr)
	}

	meta := FrameMeta{IfIndex: c.ifIndex}
	if ll, ok := from.(*unix.SockaddrLinklayer); ok {
		meta.IfIndex = ll.Ifindex
		meta.Outgoing = ll.Pkttype == unix.PACKET_OUTGOING
	}
	return n, meta, nil
}

// WriteFrame implements FrameConn. Frames always leave through the bound
// interface toward the frame's Ethernet destination.
func (c *RawConn) WriteFrame(frame []byte, _ FrameMeta) error {
	if len(frame) < ethHeaderLen {
		return ErrFrameTooShort
	}

	to := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  c.ifIndex,
		Halen:    6,
	}
	copy(to.Addr[:], frame[:6])

	var sendErr error
	err := c.raw.Write(func(fd uintptr) bool {
		//nolint:gosec // G115: fd is a small positive kernel descriptor.
		sendErr = unix.Sendto(int(fd), frame, 0, to)
		return !errors.Is(sendErr, unix.EAGAIN)
	})
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrSocketClosed
		}
		return fmt.Errorf("write frame on %s: %w", c.ifName, err)
	}
	if sendErr != nil {
		return fmt.Errorf("write frame on %s: %w", c.ifName, sendErr)
	}
	return nil
}

// Close implements FrameConn. Closing twice is a no-op.
func (c *RawConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.file.Close(); err != nil {
		return fmt.Errorf("close packet socket on %s: %w", c.ifName, err)
	}
	return nil
}

// HardwareAddr implements FrameConn.
func (c *RawConn) HardwareAddr() net.HardwareAddr {
	return c.hwAddr
}

// htons converts a protocol number to network byte order as the packet
// socket API expects. Only little-endian hosts are supported.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// InterfaceMAC returns the hardware address of ifName.
func InterfaceMAC(ifName string) (net.HardwareAddr, error) {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("lookup link %s: %w", ifName, err)
	}
	return link.Attrs().HardwareAddr, nil
}
