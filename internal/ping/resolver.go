package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"github.com/postalsys/muti-ping/internal/icmp"
)

var (
	// ErrEmptyHost is returned when the host name is blank.
	ErrEmptyHost = errors.New("host name is empty")
	// ErrNoAddress is returned when a host has no IPv4 address.
	ErrNoAddress = errors.New("no IPv4 address found")
	// ErrNoSocket wraps failures to open the ICMP socket.
	ErrNoSocket = errors.New("unable to acquire ICMP socket")
)

// Endpoint is a resolved destination together with the socket that will
// reach it.
type Endpoint struct {
	Host string
	Addr *net.IPAddr
	Conn icmp.Conn
}

// Resolver turns a host name into an Endpoint with an open socket.
type Resolver interface {
	Resolve(ctx context.Context, host string) (*Endpoint, error)
}

// hostProfile maps user input to its ASCII lookup form without rejecting
// names that are legal in DNS but not in IDNA's strict hostname rules.
var hostProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// NormalizeHost trims and NFC-normalizes host and converts international
// names to their ASCII form. IP literals are returned unchanged.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", ErrEmptyHost
	}
	host = norm.NFC.String(host)

	if net.ParseIP(host) != nil {
		return host, nil
	}

	ascii, err := hostProfile.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host name %q: %w", host, err)
	}
	return ascii, nil
}

// NetResolver resolves names through the system resolver and opens an ICMP
// socket of the configured mode. It performs no retries.
type NetResolver struct {
	// Resolver is the DNS resolver. nil means net.DefaultResolver.
	Resolver *net.Resolver

	// Mode selects the socket type.
	Mode icmp.SocketMode

	// Timeout bounds the name lookup. 0 means no timeout.
	Timeout time.Duration

	// Listen opens the socket. nil means icmp.Listen.
	Listen func(ctx context.Context, mode icmp.SocketMode) (icmp.Conn, error)

	// OnResolved, if set, is called after the lookup succeeds and before the
	// socket is opened.
	OnResolved func(host string, addr *net.IPAddr)
}

// Resolve looks up the first IPv4 address of host and acquires a socket.
func (r *NetResolver) Resolve(ctx context.Context, host string) (*Endpoint, error) {
	name, err := NormalizeHost(host)
	if err != nil {
		return nil, err
	}

	addr, err := r.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if r.OnResolved != nil {
		r.OnResolved(name, addr)
	}

	listen := r.Listen
	if listen == nil {
		listen = icmp.Listen
	}
	conn, err := listen(ctx, r.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSocket, err)
	}

	return &Endpoint{
		Host: name,
		Addr: addr,
		Conn: conn,
	}, nil
}

func (r *NetResolver) lookup(ctx context.Context, name string) (*net.IPAddr, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	ips, err := res.LookupIP(ctx, "ip4", name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return &net.IPAddr{IP: v4}, nil
		}
	}
	return nil, fmt.Errorf("resolve %s: %w", name, ErrNoAddress)
}
