package netio_test

import (
	"net"
	"sync"

	"github.com/dantte-lp/goelan/internal/dhcp"
	"github.com/dantte-lp/goelan/internal/netio"
)

// -------------------------------------------------------------------------
// mockConn: Test double for FrameConn
// -------------------------------------------------------------------------

// inbound is one frame queued for ReadFrame.
type inbound struct {
	frame []byte
	meta  netio.FrameMeta
	err   error
}

// written records a single WriteFrame call.
type written struct {
	frame []byte
	to    netio.FrameMeta
}

// mockConn implements netio.FrameConn. ReadFrame blocks until a frame is
// queued or the conn is closed.
type mockConn struct {
	in     chan inbound
	writes chan written
	done   chan struct{}
	once   sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		in:     make(chan inbound, 8),
		writes: make(chan written, 8),
		done:   make(chan struct{}),
	}
}

func (m *mockConn) ReadFrame(buf []byte) (int, netio.FrameMeta, error) {
	select {
	case <-m.done:
		return 0, netio.FrameMeta{}, netio.ErrSocketClosed
	case f := <-m.in:
		if f.err != nil {
			return 0, netio.FrameMeta{}, f.err
		}
		return copy(buf, f.frame), f.meta, nil
	}
}

func (m *mockConn) WriteFrame(frame []byte, to netio.FrameMeta) error {
	select {
	case <-m.done:
		return netio.ErrSocketClosed
	default:
	}
	m.writes <- written{frame: append([]byte(nil), frame...), to: to}
	return nil
}

func (m *mockConn) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *mockConn) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr{0x02, 0, 0, 0, 0, 0xFE}
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// -------------------------------------------------------------------------
// reverser: Test double for PacketHandler
// -------------------------------------------------------------------------

// reverser answers every frame with its bytes reversed and records the
// ingress it was called with. Frames starting with 0x00 get no reply.
type reverser struct {
	mu       sync.Mutex
	ingress  []dhcp.Ingress
	received int
}

func (r *reverser) HandleFrame(frame []byte, in dhcp.Ingress) ([]byte, bool) {
	r.mu.Lock()
	r.ingress = append(r.ingress, in)
	r.received++
	r.mu.Unlock()

	if len(frame) == 0 || frame[0] == 0x00 {
		return nil, false
	}
	out := make([]byte, len(frame))
	for i, b := range frame {
		out[len(frame)-1-i] = b
	}
	return out, true
}

func (r *reverser) calls() []dhcp.Ingress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dhcp.Ingress(nil), r.ingress...)
}
