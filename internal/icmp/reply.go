package icmp

import (
	"bytes"
	"fmt"
)

// Reply is a received datagram split into its IPv4 and ICMP headers.
type Reply struct {
	IP   *IPv4Header
	ICMP EchoHeader

	// Len is the number of bytes in the datagram as read from the socket.
	Len int
}

// PayloadLen is the datagram length less the IPv4 header.
func (r *Reply) PayloadLen() int {
	return r.Len - r.IP.HeaderLength()
}

// IsEchoReplyFor reports whether r is an echo reply carrying identifier id.
// The sequence number and checksum are not examined.
func (r *Reply) IsEchoReplyFor(id uint16) bool {
	return r.ICMP.Type() == TypeEchoReply && r.ICMP.Identifier() == id
}

// ParseEchoReply decodes an IPv4 header followed by an ICMP echo header from
// datagram. Any error means the datagram is unusable.
func ParseEchoReply(datagram []byte) (*Reply, error) {
	r := bytes.NewReader(datagram)

	ip, err := ReadIPv4Header(r)
	if err != nil {
		return nil, err
	}
	hdr, err := ReadEchoHeader(r)
	if err != nil {
		return nil, fmt.Errorf("datagram from %s: %w", ip.Source(), err)
	}

	return &Reply{
		IP:   ip,
		ICMP: hdr,
		Len:  len(datagram),
	}, nil
}
