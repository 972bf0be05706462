package hwvtep_test

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"testing"

	apipb "github.com/osrg/gobgp/v3/api"

	"github.com/dantte-lp/goelan/internal/elan"
	"github.com/dantte-lp/goelan/internal/hwvtep"
)

var (
	torA = netip.MustParseAddr("192.0.2.10")
	torB = netip.MustParseAddr("192.0.2.20")
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// -------------------------------------------------------------------------
// Static and Chain
// -------------------------------------------------------------------------

func TestStaticLookup(t *testing.T) {
	t.Parallel()

	s, err := hwvtep.NewStatic([]elan.GatewayDevice{
		{Name: "tor-1", TunnelIPs: []netip.Addr{torA}},
	})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	dev, ok, err := s.DeviceAt(t.Context(), torA)
	if err != nil || !ok || dev.Name != "tor-1" {
		t.Fatalf("DeviceAt(torA) = (%+v, %v, %v)", dev, ok, err)
	}
	if _, ok, _ := s.DeviceAt(t.Context(), torB); ok {
		t.Error("DeviceAt(torB) found a device")
	}

	// Re-putting a device moves its endpoints.
	if err := s.Put(elan.GatewayDevice{Name: "tor-1", TunnelIPs: []netip.Addr{torB}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, _ := s.DeviceAt(t.Context(), torA); ok {
		t.Error("old endpoint still resolves after move")
	}
	if _, ok, _ := s.DeviceAt(t.Context(), torB); !ok {
		t.Error("new endpoint does not resolve")
	}
}

func TestStaticValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		devices []elan.GatewayDevice
		want    error
	}{
		{
			name:    "empty name",
			devices: []elan.GatewayDevice{{TunnelIPs: []netip.Addr{torA}}},
			want:    hwvtep.ErrDeviceName,
		},
		{
			name:    "ipv6 endpoint",
			devices: []elan.GatewayDevice{{Name: "tor", TunnelIPs: []netip.Addr{netip.MustParseAddr("2001:db8::1")}}},
			want:    hwvtep.ErrDeviceTunnelIP,
		},
		{
			name: "duplicate endpoint",
			devices: []elan.GatewayDevice{
				{Name: "tor-1", TunnelIPs: []netip.Addr{torA}},
				{Name: "tor-2", TunnelIPs: []netip.Addr{torA}},
			},
			want: hwvtep.ErrDuplicateTunnelIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := hwvtep.NewStatic(tt.devices); !errors.Is(err, tt.want) {
				t.Errorf("NewStatic = %v, want %v", err, tt.want)
			}
		})
	}
}

var errLookup = errors.New("lookup failed")

type failingDirectory struct{}

func (failingDirectory) DeviceAt(context.Context, netip.Addr) (elan.GatewayDevice, bool, error) {
	return elan.GatewayDevice{}, false, errLookup
}

func TestChain(t *testing.T) {
	t.Parallel()

	first, _ := hwvtep.NewStatic([]elan.GatewayDevice{{Name: "tor-1", TunnelIPs: []netip.Addr{torA}}})
	second, _ := hwvtep.NewStatic([]elan.GatewayDevice{{Name: "tor-2", TunnelIPs: []netip.Addr{torB}}})
	chain := hwvtep.Chain{first, second}

	if dev, ok, _ := chain.DeviceAt(t.Context(), torB); !ok || dev.Name != "tor-2" {
		t.Errorf("chain lookup of torB = (%+v, %v)", dev, ok)
	}
	if _, ok, err := chain.DeviceAt(t.Context(), netip.MustParseAddr("192.0.2.99")); ok || err != nil {
		t.Errorf("chain lookup of unknown = (%v, %v)", ok, err)
	}

	broken := hwvtep.Chain{failingDirectory{}, second}
	if _, _, err := broken.DeviceAt(t.Context(), torB); !errors.Is(err, errLookup) {
		t.Errorf("broken chain error = %v, want %v", err, errLookup)
	}
}

// -------------------------------------------------------------------------
// OVSDB
// -------------------------------------------------------------------------

type fakeLister struct {
	rows []hwvtep.PhysicalSwitch
	err  error
}

func (f fakeLister) List(_ context.Context, result interface{}) error {
	if f.err != nil {
		return f.err
	}
	out, ok := result.(*[]hwvtep.PhysicalSwitch)
	if !ok {
		return errors.New("unexpected result type")
	}
	*out = append(*out, f.rows...)
	return nil
}

func TestDatabaseModel(t *testing.T) {
	t.Parallel()

	if _, err := hwvtep.DatabaseModel(); err != nil {
		t.Fatalf("DatabaseModel: %v", err)
	}
}

func TestOVSDBDirectory(t *testing.T) {
	t.Parallel()

	dir := hwvtep.NewOVSDBDirectory(fakeLister{rows: []hwvtep.PhysicalSwitch{
		{UUID: "a", Name: "tor-1", TunnelIPs: []string{"", "192.0.2.10"}},
		{UUID: "b", Name: "tor-2", TunnelIPs: []string{"192.0.2.20", "192.0.2.21"}},
	}}, discard())

	dev, ok, err := dir.DeviceAt(t.Context(), torB)
	if err != nil || !ok {
		t.Fatalf("DeviceAt(torB) = (%v, %v)", ok, err)
	}
	if dev.Name != "tor-2" || len(dev.TunnelIPs) != 2 {
		t.Errorf("device = %+v", dev)
	}

	dev, ok, _ = dir.DeviceAt(t.Context(), torA)
	if !ok || dev.Name != "tor-1" || len(dev.TunnelIPs) != 1 {
		t.Errorf("DeviceAt(torA) = (%+v, %v), want tor-1 with the unparsable entry skipped", dev, ok)
	}

	if _, ok, _ := dir.DeviceAt(t.Context(), netip.MustParseAddr("192.0.2.99")); ok {
		t.Error("unknown endpoint resolved")
	}

	failing := hwvtep.NewOVSDBDirectory(fakeLister{err: errLookup}, discard())
	if _, _, err := failing.DeviceAt(t.Context(), torA); !errors.Is(err, errLookup) {
		t.Errorf("DeviceAt error = %v, want %v", err, errLookup)
	}
}

func TestDialOVSDBRejectsEmptyEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := hwvtep.DialOVSDB(t.Context(), "", discard()); !errors.Is(err, hwvtep.ErrOVSDBEndpoint) {
		t.Errorf("DialOVSDB(\"\") = %v, want %v", err, hwvtep.ErrOVSDBEndpoint)
	}
}

// -------------------------------------------------------------------------
// BGP
// -------------------------------------------------------------------------

type mockBGPClient struct {
	mu     sync.Mutex
	peers  map[string][]*apipb.Peer
	calls  []string
	closed bool
}

func (m *mockBGPClient) ListPeers(_ context.Context, addr string) ([]*apipb.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, addr)
	return m.peers[addr], nil
}

func (m *mockBGPClient) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func peer(addr, desc string, state apipb.PeerState_SessionState) *apipb.Peer {
	return &apipb.Peer{
		Conf:  &apipb.PeerConf{NeighborAddress: addr, Description: desc},
		State: &apipb.PeerState{SessionState: state},
	}
}

func TestBGPDirectory(t *testing.T) {
	t.Parallel()

	client := &mockBGPClient{peers: map[string][]*apipb.Peer{
		"192.0.2.10": {peer("192.0.2.10", "tor-1", apipb.PeerState_ESTABLISHED)},
		"192.0.2.20": {peer("192.0.2.20", "tor-2", apipb.PeerState_ACTIVE)},
		"192.0.2.30": {peer("192.0.2.30", "", apipb.PeerState_ESTABLISHED)},
	}}
	dir := hwvtep.NewBGPDirectory(client, discard())

	tests := []struct {
		name   string
		ip     netip.Addr
		found  bool
		device string
	}{
		{name: "established", ip: torA, found: true, device: "tor-1"},
		{name: "not established", ip: torB, found: false},
		{name: "no description", ip: netip.MustParseAddr("192.0.2.30"), found: true, device: "192.0.2.30"},
		{name: "no peer", ip: netip.MustParseAddr("192.0.2.40"), found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dev, ok, err := dir.DeviceAt(t.Context(), tt.ip)
			if err != nil {
				t.Fatalf("DeviceAt: %v", err)
			}
			if ok != tt.found || dev.Name != tt.device {
				t.Errorf("DeviceAt(%s) = (%q, %v), want (%q, %v)", tt.ip, dev.Name, ok, tt.device, tt.found)
			}
		})
	}

	t.Cleanup(func() {
		if err := dir.Close(); err != nil || !client.closed {
			t.Errorf("Close = %v, closed = %v", err, client.closed)
		}
	})
}

func TestNewGRPCClientRejectsEmptyAddress(t *testing.T) {
	t.Parallel()

	if _, err := hwvtep.NewGRPCClient("", discard()); !errors.Is(err, hwvtep.ErrDialFailed) {
		t.Errorf("NewGRPCClient(\"\") = %v, want %v", err, hwvtep.ErrDialFailed)
	}
}

func TestGRPCClientClosed(t *testing.T) {
	t.Parallel()

	c, err := hwvtep.NewGRPCClient("127.0.0.1:50051", discard())
	if err != nil {
		t.Fatalf("NewGRPCClient: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.ListPeers(t.Context(), "192.0.2.10"); !errors.Is(err, hwvtep.ErrClientClosed) {
		t.Errorf("ListPeers after Close = %v, want %v", err, hwvtep.ErrClientClosed)
	}
}
