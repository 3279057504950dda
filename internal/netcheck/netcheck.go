// Package netcheck answers one question before the backend is started: is
// the configured port already owned by someone else? The check dials the
// target instead of binding it, so a conflict is diagnosed before the
// costly server start is attempted.
package netcheck

import (
	"context"
	"net"
	"strconv"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/verraco/launcher/internal/ctxlog"
)

// dialTimeout bounds the refused-vs-listening probe. Loopback answers
// quickly either way.
const dialTimeout = 500 * time.Millisecond

// Checker probes TCP ports. The zero value is not usable; use New.
type Checker struct {
	dial        func(network, addr string, timeout time.Duration) (net.Conn, error)
	connections func(ctx context.Context, kind string) ([]gopsnet.ConnectionStat, error)
}

// New returns a Checker backed by the real network stack.
func New() *Checker {
	return &Checker{
		dial:        net.DialTimeout,
		connections: gopsnet.ConnectionsWithContext,
	}
}

// Check reports whether addr (host:port) is already accepting connections.
// When it is, the PID of the listening process is attributed on a best
// effort basis; 0 means the owner could not be determined.
func (c *Checker) Check(ctx context.Context, host string, port int) (inUse bool, pid int32, err error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, dialErr := c.dial("tcp", addr, dialTimeout)
	if dialErr != nil {
		// Connection refused (or no listener at all): the port is free.
		return false, 0, nil
	}
	_ = conn.Close()

	return true, c.ownerPID(ctx, port), nil
}

// ownerPID enumerates listening sockets to attribute the conflict. Any
// failure (permissions, unsupported platform) degrades to PID 0.
func (c *Checker) ownerPID(ctx context.Context, port int) int32 {
	conns, err := c.connections(ctx, "tcp")
	if err != nil {
		ctxlog.FromContext(ctx).Debug("Socket enumeration unavailable.", "error", err)
		return 0
	}
	for _, conn := range conns {
		if conn.Status == "LISTEN" && conn.Laddr.Port == uint32(port) {
			return conn.Pid
		}
	}
	return 0
}
