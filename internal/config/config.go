// Package config manages goelan daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/goelan/internal/cluster"
	"github.com/dantte-lp/goelan/internal/dhcp"
	"github.com/dantte-lp/goelan/internal/elan"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete goelan configuration.
type Config struct {
	Admin   AdminConfig   `koanf:"admin"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	DHCP    DHCPConfig    `koanf:"dhcp"`
	ELAN    ELANConfig    `koanf:"elan"`
	Store   StoreConfig   `koanf:"store"`
	Cluster ClusterConfig `koanf:"cluster"`
	Gateway GatewayConfig `koanf:"gateway"`
}

// AdminConfig holds the ConnectRPC admin server configuration.
type AdminConfig struct {
	// Addr is the admin API listen address (e.g., ":50061").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// DHCPConfig holds the responder settings and its static directory.
type DHCPConfig struct {
	Enabled bool `koanf:"enabled"`

	// LeaseTime is advertised as options 51, 58 and 59.
	LeaseTime time.Duration `koanf:"lease_time"`

	DomainName string `koanf:"domain_name"`

	// ServerMAC is the Ethernet source of replies. Empty means the MAC
	// of Interface.
	ServerMAC string `koanf:"server_mac"`

	// DynamicAllocation hands out pool addresses to clients with no port.
	DynamicAllocation bool `koanf:"dynamic_allocation"`

	// Interface is the Linux interface punted frames arrive on. Empty
	// disables the raw packet-in listener.
	Interface string `koanf:"interface"`

	// Network selects the dynamic pool for clients on Interface.
	Network string `koanf:"network"`

	// VXLANListen is the UDP address terminating VXLAN packet-in from
	// hardware gateways (e.g., "0.0.0.0:4789"). Empty disables it.
	VXLANListen string `koanf:"vxlan_listen"`

	Subnets []SubnetConfig `koanf:"subnets"`
	Ports   []PortConfig   `koanf:"ports"`
}

// HostRouteConfig is one classless static route.
type HostRouteConfig struct {
	Destination string `koanf:"destination"`
	NextHop     string `koanf:"nexthop"`
}

// SubnetConfig describes a tenant subnet.
type SubnetConfig struct {
	ID          string            `koanf:"id"`
	Network     string            `koanf:"network"`
	CIDR        string            `koanf:"cidr"`
	Gateway     string            `koanf:"gateway"`
	DNS         []string          `koanf:"dns"`
	HostRoutes  []HostRouteConfig `koanf:"host_routes"`
	DHCPEnabled bool              `koanf:"dhcp_enabled"`
	ServerIP    string            `koanf:"server_ip"`

	// PoolStart and PoolEnd bound the dynamic allocation range. Both
	// empty means no pool.
	PoolStart string `koanf:"pool_start"`
	PoolEnd   string `koanf:"pool_end"`
}

// PortConfig describes a tenant port bound at startup.
type PortConfig struct {
	ID        string `koanf:"id"`
	MAC       string `koanf:"mac"`
	IP        string `koanf:"ip"`
	Subnet    string `koanf:"subnet"`
	Interface string `koanf:"interface"`
	VNI       uint32 `koanf:"vni"`

	// Binding is "normal" (default) or "direct".
	Binding string `koanf:"binding"`
}

// ELANConfig holds the orchestrator settings and the initial topology.
type ELANConfig struct {
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Domains    []DomainConfig   `koanf:"domains"`
	Tunnels    []TunnelConfig   `koanf:"tunnels"`
}

// DispatcherConfig bounds job retries.
type DispatcherConfig struct {
	MaxRetries     uint64        `koanf:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// DomainConfig describes a tunnel domain.
type DomainConfig struct {
	Name       string   `koanf:"name"`
	VNI        uint32   `koanf:"vni"`
	Switches   []uint64 `koanf:"switches"`
	GatewayIP  string   `koanf:"gateway_ip"`
	GatewayMAC string   `koanf:"gateway_mac"`
}

// TunnelConfig declares a tunnel port a switch has toward a gateway.
// Declared tunnels start down until a TunnelUp event arrives.
type TunnelConfig struct {
	Switch   uint64 `koanf:"switch"`
	TunnelIP string `koanf:"tunnel_ip"`
}

// StoreConfig holds the durable store location.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `koanf:"path"`
}

// Cluster modes.
const (
	ClusterModeStatic     = "static"
	ClusterModeKubernetes = "kubernetes"
)

// ClusterConfig selects how this node learns its role.
type ClusterConfig struct {
	// Mode is "static" or "kubernetes".
	Mode string `koanf:"mode"`

	// Role is "leader" or "follower" in static mode.
	Role string `koanf:"role"`

	Namespace     string        `koanf:"namespace"`
	LeaseName     string        `koanf:"lease_name"`
	Identity      string        `koanf:"identity"`
	LeaseDuration time.Duration `koanf:"lease_duration"`
	RenewDeadline time.Duration `koanf:"renew_deadline"`
	RetryPeriod   time.Duration `koanf:"retry_period"`

	// Kubeconfig is a kubeconfig path. Empty means in-cluster config.
	Kubeconfig string `koanf:"kubeconfig"`
}

// Gateway directory backends.
const (
	GatewayBackendStatic = "static"
	GatewayBackendOVSDB  = "ovsdb"
	GatewayBackendGoBGP  = "gobgp"
)

// GatewayConfig selects the hardware-gateway directory.
type GatewayConfig struct {
	Backend       string         `koanf:"backend"`
	OVSDBEndpoint string         `koanf:"ovsdb_endpoint"`
	GoBGPAddr     string         `koanf:"gobgp_addr"`
	Devices       []DeviceConfig `koanf:"devices"`
}

// DeviceConfig is a statically known hardware gateway.
type DeviceConfig struct {
	Name      string   `koanf:"name"`
	TunnelIPs []string `koanf:"tunnel_ips"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":50061",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		DHCP: DHCPConfig{
			Enabled:   true,
			LeaseTime: dhcp.DefaultLeaseTime,
		},
		ELAN: ELANConfig{
			Dispatcher: DispatcherConfig{
				MaxRetries:     elan.DefaultMaxRetries,
				InitialBackoff: elan.DefaultInitialBackoff,
				MaxBackoff:     elan.DefaultMaxBackoff,
			},
		},
		Store: StoreConfig{
			Path: "/var/lib/goelan/goelan.db",
		},
		Cluster: ClusterConfig{
			Mode:          ClusterModeStatic,
			Role:          "leader",
			Namespace:     "default",
			LeaseName:     "goelan",
			LeaseDuration: 15 * time.Second,
			RenewDeadline: 10 * time.Second,
			RetryPeriod:   2 * time.Second,
		},
		Gateway: GatewayConfig{
			Backend:       GatewayBackendStatic,
			OVSDBEndpoint: "unix:/var/run/openvswitch/db.sock",
			GoBGPAddr:     "127.0.0.1:50051",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for goelan configuration.
// Variables are named GOELAN_<section>_<key>, e.g., GOELAN_ADMIN_ADDR.
const envPrefix = "GOELAN_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOELAN_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GOELAN_ADMIN_ADDR      -> admin.addr
//	GOELAN_METRICS_ADDR    -> metrics.addr
//	GOELAN_LOG_LEVEL       -> log.level
//	GOELAN_STORE_PATH      -> store.path
//	GOELAN_CLUSTER_ROLE    -> cluster.role
//	GOELAN_GATEWAY_BACKEND -> gateway.backend
//
// Keys containing an underscore (lease_time, gobgp_addr) are not reachable
// through the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOELAN_ADMIN_ADDR -> admin.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults sets the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":                      defaults.Admin.Addr,
		"metrics.addr":                    defaults.Metrics.Addr,
		"metrics.path":                    defaults.Metrics.Path,
		"log.level":                       defaults.Log.Level,
		"log.format":                      defaults.Log.Format,
		"dhcp.enabled":                    defaults.DHCP.Enabled,
		"dhcp.lease_time":                 defaults.DHCP.LeaseTime.String(),
		"elan.dispatcher.max_retries":     defaults.ELAN.Dispatcher.MaxRetries,
		"elan.dispatcher.initial_backoff": defaults.ELAN.Dispatcher.InitialBackoff.String(),
		"elan.dispatcher.max_backoff":     defaults.ELAN.Dispatcher.MaxBackoff.String(),
		"store.path":                      defaults.Store.Path,
		"cluster.mode":                    defaults.Cluster.Mode,
		"cluster.role":                    defaults.Cluster.Role,
		"cluster.namespace":               defaults.Cluster.Namespace,
		"cluster.lease_name":              defaults.Cluster.LeaseName,
		"cluster.lease_duration":          defaults.Cluster.LeaseDuration.String(),
		"cluster.renew_deadline":          defaults.Cluster.RenewDeadline.String(),
		"cluster.retry_period":            defaults.Cluster.RetryPeriod.String(),
		"gateway.backend":                 defaults.Gateway.Backend,
		"gateway.ovsdb_endpoint":          defaults.Gateway.OVSDBEndpoint,
		"gateway.gobgp_addr":              defaults.Gateway.GoBGPAddr,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Conversions
// -------------------------------------------------------------------------

// Subnet converts the entry into a directory subnet.
func (sc SubnetConfig) Subnet() (dhcp.Subnet, error) {
	if sc.ID == "" {
		return dhcp.Subnet{}, ErrSubnetID
	}
	cidr, err := netip.ParsePrefix(sc.CIDR)
	if err != nil || !cidr.Addr().Is4() {
		return dhcp.Subnet{}, fmt.Errorf("subnet %s cidr %q: %w", sc.ID, sc.CIDR, ErrInvalidAddress)
	}

	s := dhcp.Subnet{
		ID:          sc.ID,
		Network:     sc.Network,
		CIDR:        cidr.Masked(),
		DHCPEnabled: sc.DHCPEnabled,
	}
	if s.Gateway, err = optionalAddr(sc.Gateway); err != nil {
		return dhcp.Subnet{}, fmt.Errorf("subnet %s gateway: %w", sc.ID, err)
	}
	if s.ServerIP, err = optionalAddr(sc.ServerIP); err != nil {
		return dhcp.Subnet{}, fmt.Errorf("subnet %s server_ip: %w", sc.ID, err)
	}
	for _, d := range sc.DNS {
		a, err := netip.ParseAddr(d)
		if err != nil {
			return dhcp.Subnet{}, fmt.Errorf("subnet %s dns %q: %w", sc.ID, d, ErrInvalidAddress)
		}
		s.DNSServers = append(s.DNSServers, a)
	}
	for _, r := range sc.HostRoutes {
		dst, err := netip.ParsePrefix(r.Destination)
		if err != nil {
			return dhcp.Subnet{}, fmt.Errorf("subnet %s route %q: %w", sc.ID, r.Destination, ErrInvalidAddress)
		}
		hop, err := netip.ParseAddr(r.NextHop)
		if err != nil {
			return dhcp.Subnet{}, fmt.Errorf("subnet %s nexthop %q: %w", sc.ID, r.NextHop, ErrInvalidAddress)
		}
		s.HostRoutes = append(s.HostRoutes, dhcp.HostRoute{Destination: dst, NextHop: hop})
	}
	return s, nil
}

// Pool returns the allocation range. ok is false when no pool is set.
func (sc SubnetConfig) Pool() (start, end netip.Addr, ok bool, err error) {
	if sc.PoolStart == "" && sc.PoolEnd == "" {
		return netip.Addr{}, netip.Addr{}, false, nil
	}
	start, err = netip.ParseAddr(sc.PoolStart)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, false, fmt.Errorf("subnet %s pool_start: %w", sc.ID, ErrInvalidAddress)
	}
	end, err = netip.ParseAddr(sc.PoolEnd)
	if err != nil {
		return netip.Addr{}, netip.Addr{}, false, fmt.Errorf("subnet %s pool_end: %w", sc.ID, ErrInvalidAddress)
	}
	return start, end, true, nil
}

// Port converts the entry into a directory port.
func (pc PortConfig) Port() (dhcp.Port, error) {
	mac, err := net.ParseMAC(pc.MAC)
	if err != nil || len(mac) != 6 {
		return dhcp.Port{}, fmt.Errorf("port %s mac %q: %w", pc.ID, pc.MAC, ErrInvalidMAC)
	}
	ip, err := optionalAddr(pc.IP)
	if err != nil {
		return dhcp.Port{}, fmt.Errorf("port %s ip: %w", pc.ID, err)
	}
	binding, err := dhcp.ParseBindingType(pc.Binding)
	if err != nil {
		return dhcp.Port{}, fmt.Errorf("port %s: %w", pc.ID, err)
	}
	return dhcp.Port{
		ID:        pc.ID,
		MAC:       mac,
		IP:        ip,
		SubnetID:  pc.Subnet,
		Interface: pc.Interface,
		VNI:       pc.VNI,
		Binding:   binding,
	}, nil
}

// Domain converts the entry into a tunnel domain.
func (dc DomainConfig) Domain() (elan.Domain, error) {
	if dc.Name == "" {
		return elan.Domain{}, ErrDomainName
	}
	d := elan.Domain{Name: dc.Name, VNI: dc.VNI}
	for _, sw := range dc.Switches {
		d.Switches = append(d.Switches, elan.SwitchID(sw))
	}

	var err error
	if d.GatewayIP, err = optionalAddr(dc.GatewayIP); err != nil {
		return elan.Domain{}, fmt.Errorf("domain %s gateway_ip: %w", dc.Name, err)
	}
	if dc.GatewayMAC != "" {
		if d.GatewayMAC, err = net.ParseMAC(dc.GatewayMAC); err != nil || len(d.GatewayMAC) != 6 {
			return elan.Domain{}, fmt.Errorf("domain %s gateway_mac %q: %w", dc.Name, dc.GatewayMAC, ErrInvalidMAC)
		}
	}
	return d, nil
}

// Addr parses the tunnel endpoint.
func (tc TunnelConfig) Addr() (netip.Addr, error) {
	ip, err := netip.ParseAddr(tc.TunnelIP)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("tunnel %q: %w", tc.TunnelIP, ErrInvalidAddress)
	}
	return ip, nil
}

// Device converts the entry into a gateway device.
func (dc DeviceConfig) Device() (elan.GatewayDevice, error) {
	dev := elan.GatewayDevice{Name: dc.Name}
	for _, s := range dc.TunnelIPs {
		ip, err := netip.ParseAddr(s)
		if err != nil {
			return elan.GatewayDevice{}, fmt.Errorf("device %s tunnel ip %q: %w", dc.Name, s, ErrInvalidAddress)
		}
		dev.TunnelIPs = append(dev.TunnelIPs, ip)
	}
	return dev, nil
}

// optionalAddr parses s, returning the zero Addr for the empty string.
func optionalAddr(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%q: %w", s, ErrInvalidAddress)
	}
	return a, nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrEmptyStorePath indicates the store path is empty.
	ErrEmptyStorePath = errors.New("store.path must not be empty")

	// ErrInvalidLeaseTime indicates a non-positive DHCP lease time.
	ErrInvalidLeaseTime = errors.New("dhcp.lease_time must be > 0")

	// ErrInvalidBackoff indicates a non-positive or inverted backoff bound.
	ErrInvalidBackoff = errors.New("elan.dispatcher backoff must be > 0 and initial <= max")

	// ErrServerMACRequired indicates tunnel packet-in without a reply
	// source MAC: set dhcp.server_mac or dhcp.interface.
	ErrServerMACRequired = errors.New("server mac required")

	// ErrInvalidAddress indicates an unparsable IP address or prefix.
	ErrInvalidAddress = errors.New("invalid IP address")

	// ErrInvalidMAC indicates an unparsable or non-48-bit MAC address.
	ErrInvalidMAC = errors.New("invalid MAC address")

	// ErrSubnetID indicates a subnet entry without an ID.
	ErrSubnetID = errors.New("subnet id must not be empty")

	// ErrUnknownSubnet indicates a port referencing an undeclared subnet.
	ErrUnknownSubnet = errors.New("port references unknown subnet")

	// ErrDuplicateID indicates two entries of one list share an identifier.
	ErrDuplicateID = errors.New("duplicate identifier")

	// ErrDomainName indicates a domain entry without a name.
	ErrDomainName = errors.New("domain name must not be empty")

	// ErrInvalidSwitch indicates a zero switch identifier.
	ErrInvalidSwitch = errors.New("switch id must be nonzero")

	// ErrInvalidClusterMode indicates an unrecognized cluster mode.
	ErrInvalidClusterMode = errors.New("cluster.mode must be static or kubernetes")

	// ErrInvalidGatewayBackend indicates an unrecognized gateway backend.
	ErrInvalidGatewayBackend = errors.New("gateway.backend must be static, ovsdb or gobgp")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}
	if cfg.Store.Path == "" {
		return ErrEmptyStorePath
	}
	if cfg.DHCP.LeaseTime <= 0 {
		return ErrInvalidLeaseTime
	}
	if cfg.DHCP.ServerMAC != "" {
		if mac, err := net.ParseMAC(cfg.DHCP.ServerMAC); err != nil || len(mac) != 6 {
			return fmt.Errorf("dhcp.server_mac %q: %w", cfg.DHCP.ServerMAC, ErrInvalidMAC)
		}
	}

	d := cfg.ELAN.Dispatcher
	if d.InitialBackoff <= 0 || d.MaxBackoff <= 0 || d.InitialBackoff > d.MaxBackoff {
		return ErrInvalidBackoff
	}

	if err := validateDHCP(cfg.DHCP); err != nil {
		return err
	}
	if err := validateELAN(cfg.ELAN); err != nil {
		return err
	}
	if err := validateCluster(cfg.Cluster); err != nil {
		return err
	}
	return validateGateway(cfg.Gateway)
}

func validateDHCP(dc DHCPConfig) error {
	if dc.VXLANListen != "" {
		if _, err := netip.ParseAddrPort(dc.VXLANListen); err != nil {
			return fmt.Errorf("dhcp.vxlan_listen %q: %w", dc.VXLANListen, ErrInvalidAddress)
		}
		if dc.ServerMAC == "" && dc.Interface == "" {
			return fmt.Errorf("dhcp.vxlan_listen: %w", ErrServerMACRequired)
		}
	}

	subnets := make(map[string]struct{}, len(dc.Subnets))
	for i, sc := range dc.Subnets {
		if _, err := sc.Subnet(); err != nil {
			return fmt.Errorf("dhcp.subnets[%d]: %w", i, err)
		}
		if _, _, _, err := sc.Pool(); err != nil {
			return fmt.Errorf("dhcp.subnets[%d]: %w", i, err)
		}
		if _, dup := subnets[sc.ID]; dup {
			return fmt.Errorf("dhcp.subnets[%d] id %q: %w", i, sc.ID, ErrDuplicateID)
		}
		subnets[sc.ID] = struct{}{}
	}

	ports := make(map[string]struct{}, len(dc.Ports))
	for i, pc := range dc.Ports {
		if pc.ID == "" {
			return fmt.Errorf("dhcp.ports[%d]: %w", i, dhcp.ErrPortIDEmpty)
		}
		if _, err := pc.Port(); err != nil {
			return fmt.Errorf("dhcp.ports[%d]: %w", i, err)
		}
		if _, ok := subnets[pc.Subnet]; !ok {
			return fmt.Errorf("dhcp.ports[%d] subnet %q: %w", i, pc.Subnet, ErrUnknownSubnet)
		}
		if _, dup := ports[pc.ID]; dup {
			return fmt.Errorf("dhcp.ports[%d] id %q: %w", i, pc.ID, ErrDuplicateID)
		}
		ports[pc.ID] = struct{}{}
	}
	return nil
}

func validateELAN(ec ELANConfig) error {
	names := make(map[string]struct{}, len(ec.Domains))
	for i, dc := range ec.Domains {
		if _, err := dc.Domain(); err != nil {
			return fmt.Errorf("elan.domains[%d]: %w", i, err)
		}
		for _, sw := range dc.Switches {
			if sw == 0 {
				return fmt.Errorf("elan.domains[%d]: %w", i, ErrInvalidSwitch)
			}
		}
		if _, dup := names[dc.Name]; dup {
			return fmt.Errorf("elan.domains[%d] name %q: %w", i, dc.Name, ErrDuplicateID)
		}
		names[dc.Name] = struct{}{}
	}

	for i, tc := range ec.Tunnels {
		if tc.Switch == 0 {
			return fmt.Errorf("elan.tunnels[%d]: %w", i, ErrInvalidSwitch)
		}
		if _, err := tc.Addr(); err != nil {
			return fmt.Errorf("elan.tunnels[%d]: %w", i, err)
		}
	}
	return nil
}

func validateCluster(cc ClusterConfig) error {
	switch cc.Mode {
	case ClusterModeStatic:
		if _, err := cluster.ParseRole(cc.Role); err != nil {
			return fmt.Errorf("cluster.role: %w", err)
		}
	case ClusterModeKubernetes:
	default:
		return fmt.Errorf("cluster.mode %q: %w", cc.Mode, ErrInvalidClusterMode)
	}
	return nil
}

func validateGateway(gc GatewayConfig) error {
	switch gc.Backend {
	case GatewayBackendStatic, GatewayBackendOVSDB, GatewayBackendGoBGP:
	default:
		return fmt.Errorf("gateway.backend %q: %w", gc.Backend, ErrInvalidGatewayBackend)
	}
	for i, dc := range gc.Devices {
		if _, err := dc.Device(); err != nil {
			return fmt.Errorf("gateway.devices[%d]: %w", i, err)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
