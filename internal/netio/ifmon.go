package netio

import "context"

// -------------------------------------------------------------------------
// Interface Monitor: link state change detection
// -------------------------------------------------------------------------

// InterfaceEvent represents a network interface state change.
type InterfaceEvent struct {
	// IfName is the network interface name (e.g., "eth0", "tap0").
	IfName string

	// IfIndex is the kernel interface index.
	IfIndex int

	// Up reports whether the link is administratively up and operational.
	// Deleted links are reported as down.
	Up bool
}

// InterfaceMonitor emits interface state changes.
type InterfaceMonitor interface {
	// Run starts monitoring and blocks until ctx is cancelled. Run must be
	// called at most once.
	Run(ctx context.Context) error

	// Events returns the event channel. It is closed when Run returns.
	Events() <-chan InterfaceEvent
}
