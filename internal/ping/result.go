package ping

import (
	"fmt"
	"net"
	"time"
)

// EchoResult describes one matched echo reply.
type EchoResult struct {
	// Bytes is the datagram length less the IPv4 header.
	Bytes    int           `json:"bytes"`
	Source   net.IP        `json:"source"`
	Sequence uint16        `json:"icmp_seq"`
	TTL      uint8         `json:"ttl"`
	RTT      time.Duration `json:"rtt_ns"`
}

// String formats the result the way ping prints a reply line.
func (r EchoResult) String() string {
	return fmt.Sprintf("%d bytes from %s: icmp_seq=%d, ttl=%d, time=%d ms",
		r.Bytes, r.Source, r.Sequence, r.TTL, r.RTT.Milliseconds())
}
