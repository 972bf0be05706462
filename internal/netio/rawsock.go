package netio

import (
	"errors"
	"net"
	"net/netip"
)

// MaxFrameSize is the receive buffer size for one Ethernet frame,
// including up to two VLAN tags.
const MaxFrameSize = 1522

// ethHeaderLen is the length of an untagged Ethernet header.
const ethHeaderLen = 14

// -------------------------------------------------------------------------
// Transport Metadata
// -------------------------------------------------------------------------

// FrameMeta describes where a frame was received. Passed back to
// WriteFrame it addresses the reply.
type FrameMeta struct {
	// IfIndex is the kernel index of the receiving interface.
	IfIndex int

	// VNI is nonzero for frames decapsulated from a VXLAN tunnel.
	VNI uint32

	// Remote is the tunnel endpoint a decapsulated frame came from.
	Remote netip.AddrPort

	// Outgoing is set for frames this host transmitted. AF_PACKET sockets
	// see their own transmissions; the receiver skips them.
	Outgoing bool
}

// -------------------------------------------------------------------------
// FrameConn Interface
// -------------------------------------------------------------------------

// FrameConn abstracts raw frame send/receive on a single interface.
//
// The interface is kept minimal so the receiver can be tested with a mock
// and without CAP_NET_RAW.
type FrameConn interface {
	// ReadFrame reads one complete Ethernet frame into buf.
	ReadFrame(buf []byte) (n int, meta FrameMeta, err error)

	// WriteFrame transmits a complete Ethernet frame in reply to a frame
	// read with meta to.
	WriteFrame(frame []byte, to FrameMeta) error

	// Close releases the socket and unblocks a pending ReadFrame.
	Close() error

	// HardwareAddr returns the MAC address of the bound interface, or nil
	// for tunnel transports.
	HardwareAddr() net.HardwareAddr
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrFrameTooShort indicates a frame shorter than an Ethernet header.
	ErrFrameTooShort = errors.New("frame shorter than ethernet header")

	// ErrNoInterface indicates a raw socket was requested without an
	// interface name.
	ErrNoInterface = errors.New("no interface name")
)
