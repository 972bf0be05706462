package dhcp

import (
	"fmt"
	"log/slog"
	"net"
)

// Drop reasons reported to MetricsReporter.
const (
	DropNotDHCP    = "not_dhcp"
	DropNoType     = "no_message_type"
	DropUnresolved = "unresolved"
	DropNoReply    = "no_reply"
	DropEncode     = "encode_error"
)

// MetricsReporter receives responder counters. Implemented by the
// Prometheus collector; the default is a no-op.
type MetricsReporter interface {
	IncDHCPReceived(msgType string)
	IncDHCPDropped(reason string)
	IncDHCPReplies(msgType string)
}

type noopMetrics struct{}

func (noopMetrics) IncDHCPReceived(string) {}
func (noopMetrics) IncDHCPDropped(string)  {}
func (noopMetrics) IncDHCPReplies(string)  {}

// Handler runs the packet-in pipeline: decode, resolve, build, encode.
// It is safe for concurrent use.
type Handler struct {
	resolver  *Resolver
	reply     ReplyConfig
	serverMAC net.HardwareAddr
	metrics   MetricsReporter
	logger    *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerMetrics attaches a MetricsReporter. A nil reporter is ignored.
func WithHandlerMetrics(mr MetricsReporter) HandlerOption {
	return func(h *Handler) {
		if mr != nil {
			h.metrics = mr
		}
	}
}

// NewHandler creates a Handler. serverMAC is the Ethernet source of every
// reply.
func NewHandler(
	resolver *Resolver,
	cfg ReplyConfig,
	serverMAC net.HardwareAddr,
	logger *slog.Logger,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		resolver:  resolver,
		reply:     cfg,
		serverMAC: serverMAC,
		metrics:   noopMetrics{},
		logger:    logger.With(slog.String("component", "dhcp.handler")),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleFrame processes one punted frame and returns the encoded reply
// frame. It returns false when no reply is due.
func (h *Handler) HandleFrame(frame []byte, in Ingress) ([]byte, bool) {
	req, ok := Decode(frame)
	if !ok {
		h.metrics.IncDHCPDropped(DropNotDHCP)
		return nil, false
	}

	mt, ok := req.Message.MessageType()
	if !ok {
		h.metrics.IncDHCPDropped(DropNoType)
		return nil, false
	}
	h.metrics.IncDHCPReceived(mt.String())

	info, ok := h.resolver.Resolve(req.SrcMAC, in, mt)
	if !ok {
		h.metrics.IncDHCPDropped(DropUnresolved)
		return nil, false
	}

	reply, ok := BuildReply(req.Message, info, h.reply)
	if !ok {
		h.metrics.IncDHCPDropped(DropNoReply)
		return nil, false
	}

	out, err := Encode(reply, req, h.serverMAC, info.ServerIP)
	if err != nil {
		h.metrics.IncDHCPDropped(DropEncode)
		h.logger.Debug("reply not sent",
			slog.String("mac", req.SrcMAC.String()),
			slog.String("xid", fmt.Sprintf("0x%08x", req.Message.Xid)),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	replyType, _ := reply.MessageType()
	h.metrics.IncDHCPReplies(replyType.String())
	h.logger.Debug("reply sent",
		slog.String("mac", req.SrcMAC.String()),
		slog.String("type", replyType.String()),
		slog.String("client_ip", info.ClientIP.String()),
	)

	return out, true
}
