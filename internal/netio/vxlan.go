package netio

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// -------------------------------------------------------------------------
// VXLAN Constants: RFC 7348
// -------------------------------------------------------------------------

const (
	// VXLANHeaderSize is the fixed VXLAN header size in bytes.
	VXLANHeaderSize = 8

	// VXLANPort is the IANA-assigned VXLAN UDP destination port.
	VXLANPort uint16 = 4789

	// maxVNI is the largest 24-bit VXLAN Network Identifier.
	maxVNI = 1<<24 - 1

	// vxlanBufSize fits a jumbo-frame datagram.
	vxlanBufSize = 9000
)

var (
	// ErrVXLANInvalid indicates a datagram that is not a VXLAN packet
	// carrying a valid VNI.
	ErrVXLANInvalid = errors.New("invalid vxlan packet")

	// ErrVXLANVNIOverflow indicates a VNI outside the 24-bit range.
	ErrVXLANVNIOverflow = errors.New("vxlan VNI exceeds 24-bit range")

	// ErrNoRemote indicates a tunnel reply without a remote endpoint.
	ErrNoRemote = errors.New("no remote tunnel endpoint")
)

// -------------------------------------------------------------------------
// Encapsulation
// -------------------------------------------------------------------------

// EncapVXLAN prefixes frame with a VXLAN header for vni.
func EncapVXLAN(frame []byte, vni uint32) ([]byte, error) {
	if vni == 0 || vni > maxVNI {
		return nil, fmt.Errorf("vni=%d: %w", vni, ErrVXLANVNIOverflow)
	}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.VXLAN{ValidIDFlag: true, VNI: vni},
		gopacket.Payload(frame),
	)
	if err != nil {
		return nil, fmt.Errorf("serialize vxlan: %w", err)
	}
	return buf.Bytes(), nil
}

// DecapVXLAN parses a VXLAN datagram and returns its VNI and the inner
// Ethernet frame. The frame aliases data.
func DecapVXLAN(data []byte) (uint32, []byte, error) {
	if len(data) < VXLANHeaderSize+ethHeaderLen {
		return 0, nil, fmt.Errorf("%d bytes: %w", len(data), ErrVXLANInvalid)
	}

	pkt := gopacket.NewPacket(data, layers.LayerTypeVXLAN, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	vx, ok := pkt.Layer(layers.LayerTypeVXLAN).(*layers.VXLAN)
	if !ok {
		return 0, nil, fmt.Errorf("no vxlan header: %w", ErrVXLANInvalid)
	}
	if !vx.ValidIDFlag || vx.VNI == 0 {
		return 0, nil, fmt.Errorf("vni flag unset: %w", ErrVXLANInvalid)
	}
	return vx.VNI, vx.Payload, nil
}

// -------------------------------------------------------------------------
// VXLANConn: packet-in from hardware-gateway tunnels
// -------------------------------------------------------------------------

// VXLANConn is a FrameConn that terminates VXLAN on a UDP socket. DHCP
// requests from hosts behind an external hardware gateway arrive
// encapsulated; replies are encapsulated with the same VNI and sent back
// to the originating tunnel endpoint on port 4789.
//
// Datagrams that do not decapsulate are dropped inside ReadFrame.
type VXLANConn struct {
	conn   *net.UDPConn
	rbuf   []byte
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewVXLANConn binds a UDP socket on local. A zero port selects 4789.
func NewVXLANConn(local netip.AddrPort, logger *slog.Logger) (*VXLANConn, error) {
	if local.Port() == 0 {
		local = netip.AddrPortFrom(local.Addr(), VXLANPort)
	}

	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(local))
	if err != nil {
		return nil, fmt.Errorf("vxlan: bind %s: %w", local, err)
	}

	return &VXLANConn{
		conn: conn,
		rbuf: make([]byte, vxlanBufSize),
		logger: logger.With(
			slog.String("component", "netio.vxlan"),
			slog.String("local", local.String()),
		),
	}, nil
}

// ReadFrame implements FrameConn. ReadFrame must not be called
// concurrently with itself.
func (c *VXLANConn) ReadFrame(buf []byte) (int, FrameMeta, error) {
	for {
		n, remote, err := c.conn.ReadFromUDPAddrPort(c.rbuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return 0, FrameMeta{}, ErrSocketClosed
			}
			return 0, FrameMeta{}, fmt.Errorf("vxlan recv: %w", err)
		}

		vni, frame, err := DecapVXLAN(c.rbuf[:n])
		if err != nil {
			c.logger.Debug("vxlan datagram dropped",
				slog.String("remote", remote.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		return copy(buf, frame), FrameMeta{
			VNI:    vni,
			Remote: netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port()),
		}, nil
	}
}

// WriteFrame implements FrameConn.
func (c *VXLANConn) WriteFrame(frame []byte, to FrameMeta) error {
	if !to.Remote.Addr().IsValid() {
		return ErrNoRemote
	}

	pkt, err := EncapVXLAN(frame, to.VNI)
	if err != nil {
		return err
	}

	dst := netip.AddrPortFrom(to.Remote.Addr(), VXLANPort)
	if _, err := c.conn.WriteToUDPAddrPort(pkt, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrSocketClosed
		}
		return fmt.Errorf("vxlan send to %s: %w", dst, err)
	}
	return nil
}

// Close implements FrameConn. Closing twice is a no-op.
func (c *VXLANConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("vxlan close: %w", err)
	}
	return nil
}

// HardwareAddr implements FrameConn. Tunnel transports have no local MAC.
func (c *VXLANConn) HardwareAddr() net.HardwareAddr {
	return nil
}

// LocalAddr returns the bound UDP address.
func (c *VXLANConn) LocalAddr() netip.AddrPort {
	return c.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}
