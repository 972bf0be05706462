//go:build linux

package netio

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// LinkMonitor: RTNETLINK subscription
// -------------------------------------------------------------------------

// LinkMonitor is an InterfaceMonitor backed by an RTNETLINK link
// subscription. Only transitions are emitted; repeated updates that leave
// a link's state unchanged are suppressed.
type LinkMonitor struct {
	events chan InterfaceEvent
	logger *slog.Logger
}

// NewLinkMonitor creates a link monitor.
func NewLinkMonitor(logger *slog.Logger) *LinkMonitor {
	return &LinkMonitor{
		events: make(chan InterfaceEvent, 16),
		logger: logger.With(slog.String("component", "netio.ifmon")),
	}
}

// Run implements InterfaceMonitor.
func (m *LinkMonitor) Run(ctx context.Context) error {
	defer close(m.events)

	updates := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	err := netlink.LinkSubscribeWithOptions(updates, done, netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			m.logger.Warn("link subscription error", slog.String("error", err.Error()))
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}

	m.logger.Info("interface monitor started")

	last := make(map[int]bool)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("interface monitor stopped")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			ev := linkEvent(u)
			if prev, seen := last[ev.IfIndex]; seen && prev == ev.Up {
				continue
			}
			last[ev.IfIndex] = ev.Up
			if u.Header.Type == unix.RTM_DELLINK {
				delete(last, ev.IfIndex)
			}

			m.logger.Debug("link state changed",
				slog.String("interface", ev.IfName),
				slog.Bool("up", ev.Up),
			)

			select {
			case m.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Events implements InterfaceMonitor.
func (m *LinkMonitor) Events() <-chan InterfaceEvent {
	return m.events
}

func linkEvent(u netlink.LinkUpdate) InterfaceEvent {
	attrs := u.Attrs()
	ev := InterfaceEvent{IfName: attrs.Name, IfIndex: attrs.Index}
	if u.Header.Type == unix.RTM_DELLINK {
		return ev
	}

	// Tap and tun devices without carrier detection report OperUnknown.
	operational := attrs.OperState == netlink.OperUp || attrs.OperState == netlink.OperUnknown
	ev.Up = attrs.Flags&net.FlagUp != 0 && operational
	return ev
}
