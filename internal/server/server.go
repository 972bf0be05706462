// Package server implements the ConnectRPC admin API of the goelan daemon.
//
// Messages are google.protobuf.Struct values, so the API is reachable with
// the Connect JSON codec (curl) as well as the binary protobuf codec.
package server

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dantte-lp/goelan/internal/dhcp"
	"github.com/dantte-lp/goelan/internal/elan"
	"github.com/dantte-lp/goelan/internal/store"
)

// ServiceName is the fully-qualified admin service name.
const ServiceName = "goelan.admin.v1.AdminService"

// Procedure paths.
const (
	ListDesignationsProcedure = "/" + ServiceName + "/ListDesignations"
	ListMembersProcedure      = "/" + ServiceName + "/ListMembers"
	DispatcherStatsProcedure  = "/" + ServiceName + "/DispatcherStats"
	PublishEventProcedure     = "/" + ServiceName + "/PublishEvent"
	BindPortProcedure         = "/" + ServiceName + "/BindPort"
	UnbindPortProcedure       = "/" + ServiceName + "/UnbindPort"
	ListPortsProcedure        = "/" + ServiceName + "/ListPorts"
	HandlePacketProcedure     = "/" + ServiceName + "/HandlePacket"
	ListFlowsProcedure        = "/" + ServiceName + "/ListFlows"
)

var (
	// ErrNotConfigured indicates the RPC's backing component is disabled.
	ErrNotConfigured = errors.New("component not configured on this node")

	// ErrInvalidField indicates a request field is missing or malformed.
	ErrInvalidField = errors.New("invalid request field")

	// ErrUnknownProcedure indicates a client call to a procedure the admin
	// service does not define.
	ErrUnknownProcedure = errors.New("unknown admin procedure")
)

// -------------------------------------------------------------------------
// Dependencies
// -------------------------------------------------------------------------

// PortDirectory is the writable port directory behind BindPort and
// UnbindPort. *dhcp.StaticDirectory satisfies it.
type PortDirectory interface {
	Bind(p dhcp.Port) error
	Unbind(id string) (dhcp.Port, error)
	Ports() []dhcp.Port
}

// PacketHandler answers punted frames. *dhcp.Handler satisfies it.
type PacketHandler interface {
	HandleFrame(frame []byte, in dhcp.Ingress) ([]byte, bool)
}

// FlowJournal lists journaled flow intents. *store.SQLite satisfies it.
type FlowJournal interface {
	Flows(ctx context.Context, state string) ([]store.FlowRecord, error)
}

// Deps are the components the admin API exposes. Nil members make their
// RPCs fail with CodeUnimplemented.
type Deps struct {
	Orchestrator *elan.Orchestrator
	Ports        PortDirectory
	Packets      PacketHandler
	Flows        FlowJournal
}

// AdminServer adapts the admin RPCs onto the daemon's components.
type AdminServer struct {
	deps   Deps
	logger *slog.Logger
}

// New creates the admin service and returns its path prefix and handler.
func New(deps Deps, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	s := &AdminServer{
		deps:   deps,
		logger: logger.With(slog.String("component", "server.admin")),
	}

	mux := http.NewServeMux()
	mux.Handle(ListDesignationsProcedure, connect.NewUnaryHandler(ListDesignationsProcedure, s.ListDesignations, opts...))
	mux.Handle(ListMembersProcedure, connect.NewUnaryHandler(ListMembersProcedure, s.ListMembers, opts...))
	mux.Handle(DispatcherStatsProcedure, connect.NewUnaryHandler(DispatcherStatsProcedure, s.DispatcherStats, opts...))
	mux.Handle(PublishEventProcedure, connect.NewUnaryHandler(PublishEventProcedure, s.PublishEvent, opts...))
	mux.Handle(BindPortProcedure, connect.NewUnaryHandler(BindPortProcedure, s.BindPort, opts...))
	mux.Handle(UnbindPortProcedure, connect.NewUnaryHandler(UnbindPortProcedure, s.UnbindPort, opts...))
	mux.Handle(ListPortsProcedure, connect.NewUnaryHandler(ListPortsProcedure, s.ListPorts, opts...))
	mux.Handle(HandlePacketProcedure, connect.NewUnaryHandler(HandlePacketProcedure, s.HandlePacket, opts...))
	mux.Handle(ListFlowsProcedure, connect.NewUnaryHandler(ListFlowsProcedure, s.ListFlows, opts...))

	return "/" + ServiceName + "/", mux
}

// -------------------------------------------------------------------------
// Elections and Membership
// -------------------------------------------------------------------------

// ListDesignations returns every election record, INVALID included.
func (s *AdminServer) ListDesignations(
	_ context.Context,
	_ *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Orchestrator == nil {
		return nil, unconfigured("orchestrator")
	}

	snap := s.deps.Orchestrator.Elections().Snapshot()
	keys := make([]elan.TunnelDomain, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sortTunnelDomains(keys)

	rows := make([]any, 0, len(keys))
	for _, k := range keys {
		sw := snap[k]
		rows = append(rows, map[string]any{
			"tunnel_ip": k.TunnelIP.String(),
			"domain":    k.Domain,
			"switch":    sw.String(),
			"valid":     sw.Valid(),
		})
	}
	return reply(map[string]any{"designations": rows})
}

// ListMembers returns the member MACs per (tunnel, domain).
func (s *AdminServer) ListMembers(
	_ context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Orchestrator == nil {
		return nil, unconfigured("orchestrator")
	}
	domain := stringField(req.Msg, "domain")

	members := s.deps.Orchestrator.Members()
	rows := make([]any, 0)
	for _, k := range members.Keys() {
		if domain != "" && k.Domain != domain {
			continue
		}
		macs := members.Members(k)
		list := make([]any, 0, len(macs))
		for _, m := range macs {
			list = append(list, m.String())
		}
		rows = append(rows, map[string]any{
			"tunnel_ip": k.TunnelIP.String(),
			"domain":    k.Domain,
			"members":   list,
		})
	}
	return reply(map[string]any{"bindings": rows})
}

// DispatcherStats reports job queue depth and outcome counters.
func (s *AdminServer) DispatcherStats(
	_ context.Context,
	_ *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Orchestrator == nil {
		return nil, unconfigured("orchestrator")
	}

	st := s.deps.Orchestrator.Dispatcher().Stats()
	return reply(map[string]any{
		"keys":     st.Keys,
		"pending":  st.Pending,
		"running":  st.Running,
		"retrying": st.Retrying,
		"failed":   st.Failed,
		"done":     st.Done,
	})
}

// PublishEvent feeds one topology event into the orchestrator.
func (s *AdminServer) PublishEvent(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Orchestrator == nil {
		return nil, unconfigured("orchestrator")
	}

	ev, err := EventFromStruct(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	s.logger.InfoContext(ctx, "event published",
		slog.String("kind", ev.Kind.String()),
		slog.String("job_key", ev.JobKey().String()),
	)

	if err := s.deps.Orchestrator.Handle(ctx, ev); err != nil {
		return nil, eventError(err)
	}
	return reply(map[string]any{"accepted": true, "job_key": ev.JobKey().String()})
}

// -------------------------------------------------------------------------
// Ports
// -------------------------------------------------------------------------

// BindPort adds or replaces a port in the DHCP directory.
func (s *AdminServer) BindPort(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Ports == nil {
		return nil, unconfigured("port directory")
	}

	p, err := PortFromStruct(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := s.deps.Ports.Bind(p); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	s.logger.InfoContext(ctx, "port bound",
		slog.String("port", p.ID),
		slog.String("mac", p.MAC.String()),
		slog.String("binding", p.Binding.String()),
	)
	return reply(map[string]any{"port": portRow(p)})
}

// UnbindPort removes a port from the DHCP directory.
func (s *AdminServer) UnbindPort(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Ports == nil {
		return nil, unconfigured("port directory")
	}

	id := stringField(req.Msg, "id")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, dhcp.ErrPortIDEmpty)
	}

	p, err := s.deps.Ports.Unbind(id)
	if errors.Is(err, dhcp.ErrPortNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	s.logger.InfoContext(ctx, "port unbound", slog.String("port", id))
	return reply(map[string]any{"port": portRow(p)})
}

// ListPorts returns the bound ports sorted by ID.
func (s *AdminServer) ListPorts(
	_ context.Context,
	_ *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Ports == nil {
		return nil, unconfigured("port directory")
	}

	ports := s.deps.Ports.Ports()
	rows := make([]any, 0, len(ports))
	for _, p := range ports {
		rows = append(rows, portRow(p))
	}
	return reply(map[string]any{"ports": rows})
}

// -------------------------------------------------------------------------
// Packet-in and Flows
// -------------------------------------------------------------------------

// HandlePacket runs one punted frame through the DHCP responder and
// returns the reply frame, base64 encoded. "replied" is false when the
// frame is dropped.
func (s *AdminServer) HandlePacket(
	_ context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Packets == nil {
		return nil, unconfigured("dhcp responder")
	}

	frame, err := base64.StdEncoding.DecodeString(stringField(req.Msg, "frame"))
	if err != nil || len(frame) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("frame: %w: base64 Ethernet frame required", ErrInvalidField))
	}

	vni, err := uintField(req.Msg, "vni", 1<<24-1)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	in := dhcp.Ingress{
		Interface: stringField(req.Msg, "interface"),
		VNI:       uint32(vni),
		Network:   stringField(req.Msg, "network"),
	}

	out, ok := s.deps.Packets.HandleFrame(frame, in)
	if !ok {
		return reply(map[string]any{"replied": false})
	}
	return reply(map[string]any{
		"replied": true,
		"frame":   base64.StdEncoding.EncodeToString(out),
	})
}

// ListFlows returns journaled flow intents, optionally filtered by state.
func (s *AdminServer) ListFlows(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	if s.deps.Flows == nil {
		return nil, unconfigured("flow journal")
	}

	records, err := s.deps.Flows.Flows(ctx, stringField(req.Msg, "state"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	rows := make([]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, map[string]any{
			"id":         r.Flow.ID,
			"switch":     r.Flow.Switch.String(),
			"table":      uint32(r.Flow.Table),
			"priority":   uint32(r.Flow.Priority),
			"cookie":     fmt.Sprintf("%#x", r.Flow.Cookie),
			"state":      r.State,
			"updated_at": r.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return reply(map[string]any{"flows": rows})
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func reply(fields map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode response: %w", err))
	}
	return connect.NewResponse(msg), nil
}

func unconfigured(what string) error {
	return connect.NewError(connect.CodeUnimplemented, fmt.Errorf("%s: %w", what, ErrNotConfigured))
}

// eventError maps orchestrator errors onto connect codes.
func eventError(err error) error {
	switch {
	case errors.Is(err, elan.ErrDispatcherClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, elan.ErrUnknownEventKind),
		errors.Is(err, elan.ErrEventSwitch),
		errors.Is(err, elan.ErrEventTunnel),
		errors.Is(err, elan.ErrEventDomain):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func portRow(p dhcp.Port) map[string]any {
	row := map[string]any{
		"id":        p.ID,
		"mac":       p.MAC.String(),
		"subnet":    p.SubnetID,
		"interface": p.Interface,
		"vni":       p.VNI,
		"binding":   p.Binding.String(),
	}
	if p.IP.IsValid() {
		row["ip"] = p.IP.String()
	}
	return row
}

func sortTunnelDomains(keys []elan.TunnelDomain) {
	slices.SortFunc(keys, func(a, b elan.TunnelDomain) int {
		if c := a.TunnelIP.Compare(b.TunnelIP); c != 0 {
			return c
		}
		return cmp.Compare(a.Domain, b.Domain)
	})
}
