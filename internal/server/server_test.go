package server_test

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"

	"connectrpc.com/connect"

	"github.com/dantte-lp/goelan/internal/cluster"
	"github.com/dantte-lp/goelan/internal/dhcp"
	"github.com/dantte-lp/goelan/internal/elan"
	"github.com/dantte-lp/goelan/internal/hwvtep"
	"github.com/dantte-lp/goelan/internal/server"
	"github.com/dantte-lp/goelan/internal/store"
)

const (
	// testTunnelIP is a documentation address (RFC 5737) used as the
	// hardware gateway tunnel endpoint.
	testTunnelIP  = "192.0.2.10"
	testDomain    = "tenant-a"
	testMemberMAC = "52:54:00:aa:bb:01"
)

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

// stubPackets answers every frame with its reversed bytes and records the
// ingress it was given.
type stubPackets struct {
	mu  sync.Mutex
	ins []dhcp.Ingress
}

func (s *stubPackets) HandleFrame(frame []byte, in dhcp.Ingress) ([]byte, bool) {
	s.mu.Lock()
	s.ins = append(s.ins, in)
	s.mu.Unlock()

	if len(frame) < 2 {
		return nil, false
	}
	out := make([]byte, len(frame))
	for i, b := range frame {
		out[len(frame)-1-i] = b
	}
	return out, true
}

type testEnv struct {
	client  *server.Client
	orch    *elan.Orchestrator
	dir     *dhcp.StaticDirectory
	packets *stubPackets
}

// setupTestServer creates a real HTTP server backed by a leader
// orchestrator over an in-memory SQLite store, and returns a client
// connected to it.
func setupTestServer(t *testing.T, opts ...connect.HandlerOption) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	db, err := store.Open(t.Context(), ":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gateways, err := hwvtep.NewStatic([]elan.GatewayDevice{
		{Name: "tor-1", TunnelIPs: []netip.Addr{netip.MustParseAddr(testTunnelIP)}},
	})
	if err != nil {
		t.Fatalf("gateways: %v", err)
	}

	orch := elan.NewOrchestrator(elan.OrchestratorConfig{
		Role:      cluster.NewStaticRole(cluster.Leader),
		Store:     db,
		Gateways:  gateways,
		Installer: db,
	}, logger)
	t.Cleanup(orch.Dispatcher().Close)

	dir := dhcp.NewStaticDirectory(dhcp.NewVNIPortIndex())
	dir.PutSubnet(dhcp.Subnet{
		ID:          "subnet-a",
		CIDR:        netip.MustParsePrefix("10.0.0.0/24"),
		Gateway:     netip.MustParseAddr("10.0.0.1"),
		DHCPEnabled: true,
	})
	packets := &stubPackets{}

	path, handler := server.New(server.Deps{
		Orchestrator: orch,
		Ports:        dir,
		Packets:      packets,
		Flows:        db,
	}, logger, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{
		client:  server.NewClient(srv.Client(), srv.URL),
		orch:    orch,
		dir:     dir,
		packets: packets,
	}
}

// wantCode asserts err is a connect error with the given code.
func wantCode(t *testing.T, err error, code connect.Code) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != code {
		t.Errorf("code = %s, want %s", connectErr.Code(), code)
	}
}

func list(t *testing.T, resp map[string]any, field string) []any {
	t.Helper()

	v, ok := resp[field].([]any)
	if !ok {
		t.Fatalf("response field %q = %T, want list", field, resp[field])
	}
	return v
}

// -------------------------------------------------------------------------
// Events, Designations and Flows
// -------------------------------------------------------------------------

func TestPublishEventElectsAndJournalsFlows(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	ctx := t.Context()

	events := []map[string]any{
		{"kind": "TunnelUp", "switch": "1", "tunnel_ip": testTunnelIP},
		{"kind": "DomainConfigChanged", "domain_config": map[string]any{
			"name":        testDomain,
			"vni":         5000,
			"switches":    []any{"1"},
			"gateway_ip":  "10.0.0.1",
			"gateway_mac": "02:00:00:00:00:01",
		}},
		{"kind": "MemberJoin", "tunnel_ip": testTunnelIP, "domain": testDomain, "mac": testMemberMAC},
	}
	for _, ev := range events {
		resp, err := env.client.CallFields(ctx, server.PublishEventProcedure, ev)
		if err != nil {
			t.Fatalf("PublishEvent(%v): %v", ev["kind"], err)
		}
		if resp["accepted"] != true {
			t.Errorf("PublishEvent(%v) accepted = %v", ev["kind"], resp["accepted"])
		}
	}
	if err := env.orch.Dispatcher().Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	resp, err := env.client.Call(ctx, server.ListDesignationsProcedure, nil)
	if err != nil {
		t.Fatalf("ListDesignations: %v", err)
	}
	rows := list(t, resp, "designations")
	if len(rows) != 1 {
		t.Fatalf("designations = %v, want one", rows)
	}
	row := rows[0].(map[string]any)
	if row["switch"] != "1" || row["valid"] != true || row["domain"] != testDomain {
		t.Errorf("designation = %v", row)
	}

	resp, err = env.client.CallFields(ctx, server.ListMembersProcedure, map[string]any{"domain": testDomain})
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	bindings := list(t, resp, "bindings")
	if len(bindings) != 1 {
		t.Fatalf("bindings = %v, want one", bindings)
	}
	members := bindings[0].(map[string]any)["members"].([]any)
	if len(members) != 1 || members[0] != testMemberMAC {
		t.Errorf("members = %v", members)
	}

	resp, err = env.client.CallFields(ctx, server.ListFlowsProcedure, map[string]any{"state": store.FlowInstalled})
	if err != nil {
		t.Fatalf("ListFlows: %v", err)
	}
	// DHCP punt for the member plus the ARP responder for the gateway.
	if flows := list(t, resp, "flows"); len(flows) != 2 {
		t.Errorf("installed flows = %d, want 2: %v", len(flows), flows)
	}

	resp, err = env.client.Call(ctx, server.DispatcherStatsProcedure, nil)
	if err != nil {
		t.Fatalf("DispatcherStats: %v", err)
	}
	if resp["done"] != float64(3) || resp["pending"] != float64(0) {
		t.Errorf("stats = %v, want 3 done and nothing pending", resp)
	}
}

func TestPublishEventInvalidArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event map[string]any
	}{
		{name: "unknown kind", event: map[string]any{"kind": "LinkFlap"}},
		{name: "switch event without switch", event: map[string]any{"kind": "SwitchUp"}},
		{name: "bad switch id", event: map[string]any{"kind": "SwitchUp", "switch": "sw-1"}},
		{name: "negative switch id", event: map[string]any{"kind": "SwitchUp", "switch": -1}},
		{name: "ipv6 tunnel", event: map[string]any{"kind": "TunnelUp", "switch": "1", "tunnel_ip": "2001:db8::1"}},
		{name: "member without domain", event: map[string]any{"kind": "MemberJoin", "tunnel_ip": testTunnelIP}},
		{name: "bad mac", event: map[string]any{"kind": "MemberJoin", "tunnel_ip": testTunnelIP, "domain": testDomain, "mac": "zz"}},
		{name: "domain without name", event: map[string]any{"kind": "DomainConfigChanged", "domain_config": map[string]any{"vni": 1}}},
		{name: "vni out of range", event: map[string]any{"kind": "DomainConfigChanged", "domain_config": map[string]any{"name": "d", "vni": 1 << 24}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestServer(t)
			_, err := env.client.CallFields(t.Context(), server.PublishEventProcedure, tt.event)
			wantCode(t, err, connect.CodeInvalidArgument)
		})
	}
}

func TestPublishEventAfterDispatcherClose(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	env.orch.Dispatcher().Close()

	_, err := env.client.CallFields(t.Context(), server.PublishEventProcedure,
		map[string]any{"kind": "SwitchUp", "switch": 7})
	wantCode(t, err, connect.CodeUnavailable)
}

func TestEventStructRoundTrip(t *testing.T) {
	t.Parallel()

	mac, _ := elan.ParseMAC(testMemberMAC)
	events := []elan.Event{
		{Kind: elan.EventTunnelDown, Switch: 18446744073709551615, TunnelIP: netip.MustParseAddr(testTunnelIP)},
		{Kind: elan.EventMemberLeave, TunnelIP: netip.MustParseAddr(testTunnelIP), Domain: testDomain, MAC: mac},
		{Kind: elan.EventDomainConfigChanged, Deleted: true, DomainConfig: elan.Domain{
			Name:       testDomain,
			VNI:        5000,
			Switches:   []elan.SwitchID{1, 2},
			GatewayIP:  netip.MustParseAddr("10.0.0.1"),
			GatewayMAC: net.HardwareAddr{2, 0, 0, 0, 0, 1},
		}},
	}

	for _, want := range events {
		msg, err := server.EventToStruct(want)
		if err != nil {
			t.Fatalf("EventToStruct(%s): %v", want.Kind, err)
		}
		got, err := server.EventFromStruct(msg)
		if err != nil {
			t.Fatalf("EventFromStruct(%s): %v", want.Kind, err)
		}
		if got.Kind != want.Kind || got.Switch != want.Switch || got.TunnelIP != want.TunnelIP ||
			got.MAC != want.MAC || got.Deleted != want.Deleted ||
			got.DomainConfig.VNI != want.DomainConfig.VNI ||
			len(got.DomainConfig.Switches) != len(want.DomainConfig.Switches) ||
			got.DomainConfig.GatewayMAC.String() != want.DomainConfig.GatewayMAC.String() {
			t.Errorf("round trip of %s = %+v, want %+v", want.Kind, got, want)
		}
	}
}

// -------------------------------------------------------------------------
// Ports
// -------------------------------------------------------------------------

func TestBindListUnbindPort(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	ctx := t.Context()

	port := map[string]any{
		"id":      "port-1",
		"mac":     "52:54:00:12:34:56",
		"ip":      "10.0.0.5",
		"subnet":  "subnet-a",
		"vni":     5000,
		"binding": "direct",
	}
	if _, err := env.client.CallFields(ctx, server.BindPortProcedure, port); err != nil {
		t.Fatalf("BindPort: %v", err)
	}

	mac, _ := net.ParseMAC("52:54:00:12:34:56")
	if p, ok := env.dir.PortByVNIMAC(5000, mac); !ok || p.ID != "port-1" {
		t.Errorf("PortByVNIMAC = (%+v, %v), want port-1", p, ok)
	}

	resp, err := env.client.Call(ctx, server.ListPortsProcedure, nil)
	if err != nil {
		t.Fatalf("ListPorts: %v", err)
	}
	if ports := list(t, resp, "ports"); len(ports) != 1 {
		t.Errorf("ports = %v, want one", ports)
	}

	if _, err := env.client.CallFields(ctx, server.UnbindPortProcedure, map[string]any{"id": "port-1"}); err != nil {
		t.Fatalf("UnbindPort: %v", err)
	}
	if _, ok := env.dir.PortByVNIMAC(5000, mac); ok {
		t.Error("port still indexed after unbind")
	}

	_, err = env.client.CallFields(ctx, server.UnbindPortProcedure, map[string]any{"id": "port-1"})
	wantCode(t, err, connect.CodeNotFound)
}

func TestBindPortInvalidArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		port map[string]any
	}{
		{name: "missing id", port: map[string]any{"mac": "52:54:00:12:34:56"}},
		{name: "bad mac", port: map[string]any{"id": "p", "mac": "52:54"}},
		{name: "unknown binding", port: map[string]any{"id": "p", "mac": "52:54:00:12:34:56", "binding": "vhost"}},
		{name: "direct without vni", port: map[string]any{"id": "p", "mac": "52:54:00:12:34:56", "binding": "direct"}},
		{name: "fractional vni", port: map[string]any{"id": "p", "mac": "52:54:00:12:34:56", "vni": 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestServer(t)
			_, err := env.client.CallFields(t.Context(), server.BindPortProcedure, tt.port)
			wantCode(t, err, connect.CodeInvalidArgument)
		})
	}
}

// -------------------------------------------------------------------------
// Packet-in
// -------------------------------------------------------------------------

func TestHandlePacket(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	ctx := t.Context()

	resp, err := env.client.CallFields(ctx, server.HandlePacketProcedure, map[string]any{
		"frame":     base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
		"interface": "tap0",
		"vni":       5000,
	})
	if err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if resp["replied"] != true {
		t.Fatalf("replied = %v, want true", resp["replied"])
	}
	out, err := base64.StdEncoding.DecodeString(resp["frame"].(string))
	if err != nil || string(out) != string([]byte{3, 2, 1}) {
		t.Errorf("reply frame = %v (%v), want [3 2 1]", out, err)
	}

	env.packets.mu.Lock()
	in := env.packets.ins[0]
	env.packets.mu.Unlock()
	if in.Interface != "tap0" || in.VNI != 5000 {
		t.Errorf("ingress = %+v", in)
	}

	resp, err = env.client.CallFields(ctx, server.HandlePacketProcedure, map[string]any{
		"frame": base64.StdEncoding.EncodeToString([]byte{1}),
	})
	if err != nil {
		t.Fatalf("HandlePacket(short): %v", err)
	}
	if resp["replied"] != false {
		t.Errorf("replied = %v, want false", resp["replied"])
	}

	_, err = env.client.CallFields(ctx, server.HandlePacketProcedure, map[string]any{"frame": "not base64!"})
	wantCode(t, err, connect.CodeInvalidArgument)
}

func TestUnconfiguredComponents(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	path, handler := server.New(server.Deps{}, logger)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := server.NewClient(srv.Client(), srv.URL)
	for _, proc := range []string{
		server.ListDesignationsProcedure,
		server.ListPortsProcedure,
		server.HandlePacketProcedure,
		server.ListFlowsProcedure,
	} {
		_, err := client.Call(t.Context(), proc, nil)
		wantCode(t, err, connect.CodeUnimplemented)
	}

	if _, err := client.Call(t.Context(), "/nope", nil); !errors.Is(err, server.ErrUnknownProcedure) {
		t.Errorf("unknown procedure error = %v, want %v", err, server.ErrUnknownProcedure)
	}
}
