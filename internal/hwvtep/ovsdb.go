package hwvtep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"

	"github.com/dantte-lp/goelan/internal/elan"
)

// hardwareVTEPDatabase is the OVSDB database a hardware gateway exposes.
const hardwareVTEPDatabase = "hardware_vtep"

// ErrOVSDBEndpoint indicates an empty OVSDB endpoint.
var ErrOVSDBEndpoint = errors.New("ovsdb endpoint is empty")

// PhysicalSwitch is the subset of the hardware_vtep Physical_Switch table
// needed to map tunnel endpoints to devices.
type PhysicalSwitch struct {
	UUID        string   `ovsdb:"_uuid"`
	Name        string   `ovsdb:"name"`
	Description string   `ovsdb:"description"`
	TunnelIPs   []string `ovsdb:"tunnel_ips"`
}

// DatabaseModel returns the client model of the hardware_vtep tables used
// here.
func DatabaseModel() (model.ClientDBModel, error) {
	return model.NewClientDBModel(hardwareVTEPDatabase, map[string]model.Model{
		"Physical_Switch": &PhysicalSwitch{},
	})
}

// OVSDBLister reads rows from the monitored cache. client.Client
// implements it.
type OVSDBLister interface {
	List(ctx context.Context, result interface{}) error
}

// OVSDBDirectory is a GatewayDirectory backed by the hardware_vtep
// Physical_Switch table. Lookups read the libovsdb monitor cache, so they
// never block on the device.
type OVSDBDirectory struct {
	lister OVSDBLister
	conn   client.Client
	logger *slog.Logger
}

// DialOVSDB connects to endpoint (e.g. "tcp:192.0.2.1:6640"), monitors the
// Physical_Switch table and returns a directory over the cache.
func DialOVSDB(ctx context.Context, endpoint string, logger *slog.Logger) (*OVSDBDirectory, error) {
	if endpoint == "" {
		return nil, ErrOVSDBEndpoint
	}

	dbModel, err := DatabaseModel()
	if err != nil {
		return nil, fmt.Errorf("hardware_vtep model: %w", err)
	}

	conn, err := client.NewOVSDBClient(dbModel, client.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create ovsdb client for %s: %w", endpoint, err)
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect ovsdb %s: %w", endpoint, err)
	}
	if _, err := conn.MonitorAll(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("monitor ovsdb %s: %w", endpoint, err)
	}

	d := NewOVSDBDirectory(conn, logger)
	d.conn = conn
	d.logger.Info("ovsdb gateway directory connected", slog.String("endpoint", endpoint))
	return d, nil
}

// NewOVSDBDirectory creates a directory over an already monitored lister.
func NewOVSDBDirectory(lister OVSDBLister, logger *slog.Logger) *OVSDBDirectory {
	return &OVSDBDirectory{
		lister: lister,
		logger: logger.With(slog.String("component", "hwvtep.ovsdb")),
	}
}

// DeviceAt implements elan.GatewayDirectory.
func (d *OVSDBDirectory) DeviceAt(ctx context.Context, tunnelIP netip.Addr) (elan.GatewayDevice, bool, error) {
	var rows []PhysicalSwitch
	if err := d.lister.List(ctx, &rows); err != nil {
		return elan.GatewayDevice{}, false, fmt.Errorf("list Physical_Switch: %w", err)
	}

	for _, row := range rows {
		ips := parseTunnelIPs(row.TunnelIPs)
		for _, ip := range ips {
			if ip == tunnelIP {
				return elan.GatewayDevice{Name: row.Name, TunnelIPs: ips}, true, nil
			}
		}
	}
	return elan.GatewayDevice{}, false, nil
}

// Close disconnects the OVSDB session, if DialOVSDB opened one.
func (d *OVSDBDirectory) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}

// parseTunnelIPs skips entries that do not parse as addresses.
func parseTunnelIPs(raw []string) []netip.Addr {
	out := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		if ip, err := netip.ParseAddr(s); err == nil {
			out = append(out, ip.Unmap())
		}
	}
	return out
}
