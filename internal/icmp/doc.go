// Package icmp implements the wire formats and sockets used by the echo client.
//
// # Wire formats
//
// EchoHeader is the fixed 8-byte ICMP echo header with its one's-complement
// checksum. IPv4Header parses the 20 to 60 byte header that prefixes every
// datagram read from an ICMP socket. ParseEchoReply combines the two.
//
// Received checksums are never verified; a malformed datagram shows up only
// as a parse error or a field mismatch in the caller.
//
// # Sockets
//
// Two socket types satisfy Conn:
//
//   - RawConn: a raw "ip4:icmp" socket. Requires root or CAP_NET_RAW.
//   - DgramConn: an unprivileged ICMP datagram socket. On Linux this needs
//     the ping_group_range sysctl:
//
//     sysctl -w net.ipv4.ping_group_range="0 65535"
//
// Both deliver complete IPv4 datagrams from ReadFrom so callers parse replies
// the same way whichever socket is in use.
package icmp
