//go:build unix

package icmp

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// RawConn is a privileged ICMPv4 raw socket. Reads bypass net.IPConn, which
// strips the IPv4 header, and go through recvfrom(2) so the full datagram is
// returned.
type RawConn struct {
	conn *net.IPConn
	rc   syscall.RawConn
}

// ListenRaw opens a raw ICMPv4 socket. Requires root or CAP_NET_RAW.
func ListenRaw(ctx context.Context) (*RawConn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("create raw ICMP socket: %w", err)
	}

	conn := pc.(*net.IPConn)
	rc, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("raw ICMP socket: %w", err)
	}

	return &RawConn{conn: conn, rc: rc}, nil
}

// WriteTo sends one ICMP message; the kernel prepends the IPv4 header.
func (c *RawConn) WriteTo(b []byte, dst net.Addr) (int, error) {
	return c.conn.WriteTo(b, dst)
}

// ReadFrom blocks until a datagram arrives or the read deadline passes.
func (c *RawConn) ReadFrom(b []byte) (int, net.Addr, error) {
	var (
		n    int
		from unix.Sockaddr
		rerr error
	)
	err := c.rc.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), b, 0)
		return rerr != unix.EAGAIN && rerr != unix.EWOULDBLOCK
	})
	if err != nil {
		return 0, nil, err
	}
	if rerr != nil {
		return 0, nil, os.NewSyscallError("recvfrom", rerr)
	}

	var addr net.Addr
	if sa, ok := from.(*unix.SockaddrInet4); ok {
		addr = &net.IPAddr{IP: net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3])}
	}
	return n, addr, nil
}

func (c *RawConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *RawConn) Close() error {
	return c.conn.Close()
}
