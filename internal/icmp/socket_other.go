//go:build !unix

package icmp

import (
	"context"
	"net"
	"time"
)

// RawConn is unavailable on this platform.
type RawConn struct{}

// ListenRaw always fails with ErrUnsupported.
func ListenRaw(ctx context.Context) (*RawConn, error) {
	return nil, ErrUnsupported
}

// The Conn methods fail with ErrUnsupported.

func (c *RawConn) WriteTo(b []byte, dst net.Addr) (int, error) { return 0, ErrUnsupported }
func (c *RawConn) ReadFrom(b []byte) (int, net.Addr, error)    { return 0, nil, ErrUnsupported }
func (c *RawConn) SetReadDeadline(t time.Time) error           { return ErrUnsupported }
func (c *RawConn) Close() error                                { return nil }
