package hwvtep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dantte-lp/goelan/internal/elan"
)

// -------------------------------------------------------------------------
// BGP Client
// -------------------------------------------------------------------------

// BGPClient abstracts the GoBGP operations the BGP directory needs.
type BGPClient interface {
	// ListPeers returns the peers configured with neighbor address addr.
	ListPeers(ctx context.Context, addr string) ([]*apipb.Peer, error)

	// Close releases the underlying connection.
	Close() error
}

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("gobgp client is closed")

	// ErrDialFailed indicates the gRPC client to GoBGP could not be created.
	ErrDialFailed = errors.New("gobgp gRPC dial failed")
)

// GRPCClient talks to GoBGP's gRPC API. The connection is plaintext:
// GoBGP is expected on localhost.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewGRPCClient creates a client for the GoBGP API at addr. Connecting is
// lazy; the first RPC surfaces connectivity problems.
func NewGRPCClient(addr string, logger *slog.Logger) (*GRPCClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("create gobgp client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create gobgp client to %s: %w: %w", addr, ErrDialFailed, err)
	}

	c := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "hwvtep.gobgp"),
			slog.String("addr", addr),
		),
	}
	c.logger.Info("gobgp gRPC client created")
	return c, nil
}

// ListPeers streams the peer table entries for addr.
func (c *GRPCClient) ListPeers(ctx context.Context, addr string) ([]*apipb.Peer, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("list peer %s: %w", addr, ErrClientClosed)
	}

	stream, err := c.api.ListPeer(ctx, &apipb.ListPeerRequest{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("list peer %s: %w", addr, err)
	}

	var peers []*apipb.Peer
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return peers, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list peer %s: %w", addr, err)
		}
		if p := resp.GetPeer(); p != nil {
			peers = append(peers, p)
		}
	}
}

// Close releases the connection. Later calls return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp client: %w", err)
	}
	c.logger.Info("gobgp gRPC client closed")
	return nil
}

// -------------------------------------------------------------------------
// BGP Directory
// -------------------------------------------------------------------------

// BGPDirectory treats an established EVPN peering with a tunnel endpoint
// as proof that a hardware gateway owns it. The peer description, when
// set, names the device.
type BGPDirectory struct {
	client BGPClient
	logger *slog.Logger
}

// NewBGPDirectory creates a directory over client.
func NewBGPDirectory(client BGPClient, logger *slog.Logger) *BGPDirectory {
	return &BGPDirectory{
		client: client,
		logger: logger.With(slog.String("component", "hwvtep.bgp")),
	}
}

// DeviceAt implements elan.GatewayDirectory.
func (d *BGPDirectory) DeviceAt(ctx context.Context, tunnelIP netip.Addr) (elan.GatewayDevice, bool, error) {
	peers, err := d.client.ListPeers(ctx, tunnelIP.String())
	if err != nil {
		return elan.GatewayDevice{}, false, err
	}

	for _, p := range peers {
		addr, err := netip.ParseAddr(p.GetConf().GetNeighborAddress())
		if err != nil || addr.Unmap() != tunnelIP {
			continue
		}
		if p.GetState().GetSessionState() != apipb.PeerState_ESTABLISHED {
			d.logger.Debug("gateway peer not established",
				slog.String("tunnel_ip", tunnelIP.String()),
				slog.String("state", p.GetState().GetSessionState().String()),
			)
			continue
		}

		name := p.GetConf().GetDescription()
		if name == "" {
			name = tunnelIP.String()
		}
		return elan.GatewayDevice{Name: name, TunnelIPs: []netip.Addr{tunnelIP}}, true, nil
	}
	return elan.GatewayDevice{}, false, nil
}

// Close closes the underlying client.
func (d *BGPDirectory) Close() error {
	return d.client.Close()
}
