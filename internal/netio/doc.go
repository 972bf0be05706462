// Package netio provides raw Ethernet frame I/O for the DHCP responder.
//
// On Linux a RawConn is an AF_PACKET socket bound to one interface. The
// Receiver reads frames from it, hands them to a dhcp.Handler and writes
// replies back on the same socket. A LinkMonitor built on
// github.com/vishvananda/netlink reports link state so the Receiver can
// reopen its socket when the interface flaps or is recreated.
package netio
