package icmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// ErrUnsupported is returned when the platform cannot open the requested
// socket type.
var ErrUnsupported = errors.New("socket type not supported on this platform")

// Conn is an ICMPv4 socket. ReadFrom always yields a complete IPv4 datagram,
// header included, regardless of how the underlying socket delivers it.
type Conn interface {
	WriteTo(b []byte, dst net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// SocketMode selects the kind of ICMP socket to open.
type SocketMode string

const (
	// ModeRaw opens a privileged raw socket (root or CAP_NET_RAW).
	ModeRaw SocketMode = "raw"
	// ModeDgram opens an unprivileged ICMP datagram socket.
	ModeDgram SocketMode = "dgram"
)

// Listen opens a socket of the given mode.
func Listen(ctx context.Context, mode SocketMode) (Conn, error) {
	switch mode {
	case ModeRaw, "":
		conn, err := ListenRaw(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case ModeDgram:
		conn, err := ListenDgram(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown socket mode %q", mode)
	}
}

// ParseSocketMode validates a configured socket mode.
func ParseSocketMode(s string) (SocketMode, error) {
	switch SocketMode(s) {
	case ModeRaw, ModeDgram:
		return SocketMode(s), nil
	default:
		return "", fmt.Errorf("invalid socket mode %q (must be raw or dgram)", s)
	}
}

// DgramConn is an unprivileged ICMP socket. It uses the "udp4" network which
// allows unprivileged ICMP on Linux when net.ipv4.ping_group_range covers the
// caller's group:
//
//	sysctl -w net.ipv4.ping_group_range="0 65535"
//
// The kernel strips the IPv4 header from replies and rewrites the echo
// identifier, so DgramConn rebuilds a header from control messages and
// reports the kernel's identifier through EchoID.
type DgramConn struct {
	conn *icmp.PacketConn
	pc   *ipv4.PacketConn
	buf  []byte
}

// ListenDgram opens an unprivileged ICMP socket.
func ListenDgram(ctx context.Context) (*DgramConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("create ICMP socket: %w", err)
	}

	pc := conn.IPv4PacketConn()
	if err := pc.SetControlMessage(ipv4.FlagTTL|ipv4.FlagDst, true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable control messages: %w", err)
	}

	return &DgramConn{
		conn: conn,
		pc:   pc,
		buf:  make([]byte, 65536),
	}, nil
}

// EchoID returns the identifier the kernel stamps on this socket's echoes.
func (c *DgramConn) EchoID() (uint16, bool) {
	addr, ok := c.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return 0, false
	}
	return uint16(addr.Port), true
}

// WriteTo sends b to dst. dst may be an *net.IPAddr or *net.UDPAddr.
func (c *DgramConn) WriteTo(b []byte, dst net.Addr) (int, error) {
	var ip net.IP
	switch addr := dst.(type) {
	case *net.IPAddr:
		ip = addr.IP
	case *net.UDPAddr:
		ip = addr.IP
	default:
		return 0, fmt.Errorf("unsupported destination %T", dst)
	}
	return c.conn.WriteTo(b, &net.UDPAddr{IP: ip.To4()})
}

// ReadFrom reads one ICMP message and writes it into b behind a synthesized
// IPv4 header.
func (c *DgramConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, cm, peer, err := c.pc.ReadFrom(c.buf)
	if err != nil {
		return 0, nil, err
	}

	var src net.IP
	switch addr := peer.(type) {
	case *net.UDPAddr:
		src = addr.IP
	case *net.IPAddr:
		src = addr.IP
	}

	var ttl int
	var dst net.IP
	if cm != nil {
		ttl = cm.TTL
		dst = cm.Dst
	}

	total := IPv4HeaderLen + n
	hdr := NewIPv4Header(src, dst, uint8(ttl), ProtocolICMP, total)
	written := copy(b, hdr.Marshal())
	written += copy(b[written:], c.buf[:n])

	return written, &net.IPAddr{IP: src}, nil
}

func (c *DgramConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *DgramConn) Close() error {
	return c.conn.Close()
}
