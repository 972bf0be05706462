package config_test

import (
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/goelan/internal/cluster"
	"github.com/dantte-lp/goelan/internal/config"
	"github.com/dantte-lp/goelan/internal/dhcp"
	"github.com/dantte-lp/goelan/internal/elan"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":50061" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":50061")
	}

	if cfg.Metrics.Addr != ":9100" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	if cfg.DHCP.LeaseTime != 86400*time.Second {
		t.Errorf("DHCP.LeaseTime = %v, want 24h", cfg.DHCP.LeaseTime)
	}

	if cfg.ELAN.Dispatcher.MaxRetries != elan.DefaultMaxRetries {
		t.Errorf("Dispatcher.MaxRetries = %d, want %d", cfg.ELAN.Dispatcher.MaxRetries, elan.DefaultMaxRetries)
	}

	if cfg.Cluster.Mode != config.ClusterModeStatic || cfg.Cluster.Role != "leader" {
		t.Errorf("Cluster = %+v", cfg.Cluster)
	}

	if cfg.Gateway.Backend != config.GatewayBackendStatic {
		t.Errorf("Gateway.Backend = %q", cfg.Gateway.Backend)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":60000"
log:
  level: "debug"
  format: "text"
store:
  path: "/tmp/goelan-test.db"
dhcp:
  lease_time: "1h"
  domain_name: "tenant.example"
  dynamic_allocation: true
  subnets:
    - id: "subnet-a"
      network: "net-a"
      cidr: "10.0.0.0/24"
      gateway: "10.0.0.1"
      dns: ["10.0.0.2", "10.0.0.3"]
      host_routes:
        - destination: "192.168.0.0/16"
          nexthop: "10.0.0.254"
      dhcp_enabled: true
      pool_start: "10.0.0.100"
      pool_end: "10.0.0.199"
  ports:
    - id: "port-1"
      mac: "52:54:00:12:34:56"
      ip: "10.0.0.5"
      subnet: "subnet-a"
      vni: 5000
      binding: "direct"
elan:
  dispatcher:
    max_retries: 3
    initial_backoff: "50ms"
    max_backoff: "1s"
  domains:
    - name: "tenant-a"
      vni: 5000
      switches: [1, 2]
      gateway_ip: "10.0.0.1"
      gateway_mac: "02:00:00:00:00:01"
  tunnels:
    - switch: 1
      tunnel_ip: "192.0.2.10"
cluster:
  mode: "kubernetes"
  namespace: "goelan-system"
gateway:
  backend: "static"
  devices:
    - name: "tor-1"
      tunnel_ips: ["192.0.2.10"]
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":60000" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":60000")
	}

	if cfg.DHCP.LeaseTime != time.Hour {
		t.Errorf("DHCP.LeaseTime = %v, want 1h", cfg.DHCP.LeaseTime)
	}

	if len(cfg.DHCP.Subnets) != 1 || len(cfg.DHCP.Ports) != 1 {
		t.Fatalf("subnets/ports = %d/%d, want 1/1", len(cfg.DHCP.Subnets), len(cfg.DHCP.Ports))
	}

	subnet, err := cfg.DHCP.Subnets[0].Subnet()
	if err != nil {
		t.Fatalf("Subnet(): %v", err)
	}
	if subnet.CIDR != netip.MustParsePrefix("10.0.0.0/24") || len(subnet.DNSServers) != 2 || len(subnet.HostRoutes) != 1 {
		t.Errorf("subnet = %+v", subnet)
	}

	start, end, ok, err := cfg.DHCP.Subnets[0].Pool()
	if err != nil || !ok || start.String() != "10.0.0.100" || end.String() != "10.0.0.199" {
		t.Errorf("Pool() = (%v, %v, %v, %v)", start, end, ok, err)
	}

	port, err := cfg.DHCP.Ports[0].Port()
	if err != nil {
		t.Fatalf("Port(): %v", err)
	}
	if port.Binding != dhcp.BindingDirect || port.VNI != 5000 {
		t.Errorf("port = %+v", port)
	}

	if cfg.ELAN.Dispatcher.InitialBackoff != 50*time.Millisecond || cfg.ELAN.Dispatcher.MaxRetries != 3 {
		t.Errorf("Dispatcher = %+v", cfg.ELAN.Dispatcher)
	}

	domain, err := cfg.ELAN.Domains[0].Domain()
	if err != nil {
		t.Fatalf("Domain(): %v", err)
	}
	if domain.VNI != 5000 || len(domain.Switches) != 2 || domain.Switches[1] != elan.SwitchID(2) {
		t.Errorf("domain = %+v", domain)
	}

	if cfg.Cluster.Mode != config.ClusterModeKubernetes || cfg.Cluster.Namespace != "goelan-system" {
		t.Errorf("Cluster = %+v", cfg.Cluster)
	}
	// Unset lease timings inherit defaults.
	if cfg.Cluster.LeaseDuration != 15*time.Second {
		t.Errorf("Cluster.LeaseDuration = %v, want default 15s", cfg.Cluster.LeaseDuration)
	}

	dev, err := cfg.Gateway.Devices[0].Device()
	if err != nil || dev.Name != "tor-1" || len(dev.TunnelIPs) != 1 {
		t.Errorf("Device() = (%+v, %v)", dev, err)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override admin.addr and log.level.
	yamlContent := `
admin:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":55555" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.ELAN.Dispatcher.MaxBackoff != elan.DefaultMaxBackoff {
		t.Errorf("Dispatcher.MaxBackoff = %v, want default %v", cfg.ELAN.Dispatcher.MaxBackoff, elan.DefaultMaxBackoff)
	}

	if !cfg.DHCP.Enabled {
		t.Error("DHCP.Enabled = false, want default true")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty admin addr",
			modify:  func(cfg *config.Config) { cfg.Admin.Addr = "" },
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name:    "empty store path",
			modify:  func(cfg *config.Config) { cfg.Store.Path = "" },
			wantErr: config.ErrEmptyStorePath,
		},
		{
			name:    "zero lease time",
			modify:  func(cfg *config.Config) { cfg.DHCP.LeaseTime = 0 },
			wantErr: config.ErrInvalidLeaseTime,
		},
		{
			name:    "bad server mac",
			modify:  func(cfg *config.Config) { cfg.DHCP.ServerMAC = "zz:zz" },
			wantErr: config.ErrInvalidMAC,
		},
		{
			name:    "bad vxlan listen",
			modify:  func(cfg *config.Config) { cfg.DHCP.VXLANListen = "0.0.0.0" },
			wantErr: config.ErrInvalidAddress,
		},
		{
			name:    "vxlan listen without server mac",
			modify:  func(cfg *config.Config) { cfg.DHCP.VXLANListen = "0.0.0.0:4789" },
			wantErr: config.ErrServerMACRequired,
		},
		{
			name: "inverted backoff",
			modify: func(cfg *config.Config) {
				cfg.ELAN.Dispatcher.InitialBackoff = 10 * time.Second
				cfg.ELAN.Dispatcher.MaxBackoff = time.Second
			},
			wantErr: config.ErrInvalidBackoff,
		},
		{
			name: "subnet without id",
			modify: func(cfg *config.Config) {
				cfg.DHCP.Subnets = []config.SubnetConfig{{CIDR: "10.0.0.0/24"}}
			},
			wantErr: config.ErrSubnetID,
		},
		{
			name: "ipv6 subnet",
			modify: func(cfg *config.Config) {
				cfg.DHCP.Subnets = []config.SubnetConfig{{ID: "s", CIDR: "2001:db8::/64"}}
			},
			wantErr: config.ErrInvalidAddress,
		},
		{
			name: "duplicate subnet",
			modify: func(cfg *config.Config) {
				cfg.DHCP.Subnets = []config.SubnetConfig{
					{ID: "s", CIDR: "10.0.0.0/24"},
					{ID: "s", CIDR: "10.0.1.0/24"},
				}
			},
			wantErr: config.ErrDuplicateID,
		},
		{
			name: "half pool",
			modify: func(cfg *config.Config) {
				cfg.DHCP.Subnets = []config.SubnetConfig{{ID: "s", CIDR: "10.0.0.0/24", PoolStart: "10.0.0.10"}}
			},
			wantErr: config.ErrInvalidAddress,
		},
		{
			name: "port without id",
			modify: func(cfg *config.Config) {
				cfg.DHCP.Subnets = []config.SubnetConfig{{ID: "s", CIDR: "10.0.0.0/24"}}
				cfg.DHCP.Ports = []config.PortConfig{{MAC: "52:54:00:00:00:01", Subnet: "s"}}
			},
			wantErr: dhcp.ErrPortIDEmpty,
		},
		{
			name: "port with bad mac",
			modify: func(cfg *config.Config) {
				cfg.DHCP.Subnets = []config.SubnetConfig{{ID: "s", CIDR: "10.0.0.0/24"}}
				cfg.DHCP.Ports = []config.PortConfig{{ID: "p", MAC: "52:54:00", Subnet: "s"}}
			},
			wantErr: config.ErrInvalidMAC,
		},
		{
			name: "port with unknown binding",
			modify: func(cfg *config.Config) {
				cfg.DHCP.Subnets = []config.SubnetConfig{{ID: "s", CIDR: "10.0.0.0/24"}}
				cfg.DHCP.Ports = []config.PortConfig{{ID: "p", MAC: "52:54:00:00:00:01", Subnet: "s", Binding: "vhost"}}
			},
			wantErr: dhcp.ErrUnknownBinding,
		},
		{
			name: "port with unknown subnet",
			modify: func(cfg *config.Config) {
				cfg.DHCP.Ports = []config.PortConfig{{ID: "p", MAC: "52:54:00:00:00:01", Subnet: "missing"}}
			},
			wantErr: config.ErrUnknownSubnet,
		},
		{
			name: "domain without name",
			modify: func(cfg *config.Config) {
				cfg.ELAN.Domains = []config.DomainConfig{{VNI: 1}}
			},
			wantErr: config.ErrDomainName,
		},
		{
			name: "domain with zero switch",
			modify: func(cfg *config.Config) {
				cfg.ELAN.Domains = []config.DomainConfig{{Name: "d", Switches: []uint64{0}}}
			},
			wantErr: config.ErrInvalidSwitch,
		},
		{
			name: "duplicate domain",
			modify: func(cfg *config.Config) {
				cfg.ELAN.Domains = []config.DomainConfig{{Name: "d"}, {Name: "d"}}
			},
			wantErr: config.ErrDuplicateID,
		},
		{
			name: "ipv6 tunnel",
			modify: func(cfg *config.Config) {
				cfg.ELAN.Tunnels = []config.TunnelConfig{{Switch: 1, TunnelIP: "2001:db8::1"}}
			},
			wantErr: config.ErrInvalidAddress,
		},
		{
			name: "unknown cluster mode",
			modify: func(cfg *config.Config) {
				cfg.Cluster.Mode = "etcd"
			},
			wantErr: config.ErrInvalidClusterMode,
		},
		{
			name: "unknown static role",
			modify: func(cfg *config.Config) {
				cfg.Cluster.Role = "candidate"
			},
			wantErr: cluster.ErrUnknownRole,
		},
		{
			name: "unknown gateway backend",
			modify: func(cfg *config.Config) {
				cfg.Gateway.Backend = "netconf"
			},
			wantErr: config.ErrInvalidGatewayBackend,
		},
		{
			name: "bad device tunnel ip",
			modify: func(cfg *config.Config) {
				cfg.Gateway.Devices = []config.DeviceConfig{{Name: "tor", TunnelIPs: []string{"nope"}}}
			},
			wantErr: config.ErrInvalidAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "Error", want: slog.LevelError},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "goelan.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
