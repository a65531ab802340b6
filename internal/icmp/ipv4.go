package icmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// IPv4HeaderLen is the length of an IPv4 header without options.
	IPv4HeaderLen = 20
	// IPv4MaxHeaderLen is the largest header the IHL nibble can describe.
	IPv4MaxHeaderLen = 60
	// IPv4MaxOptionsLen bounds the options that follow the base header.
	IPv4MaxOptionsLen = IPv4MaxHeaderLen - IPv4HeaderLen

	// ProtocolICMP is the IANA protocol number for ICMP.
	ProtocolICMP = 1
)

var (
	// ErrNotIPv4 is returned when the version nibble is not 4.
	ErrNotIPv4 = errors.New("not an IPv4 header")
	// ErrHeaderLength is returned when the header length yields an options
	// length outside [0, 40].
	ErrHeaderLength = errors.New("invalid IPv4 header length")
)

// IPv4Header is a received IPv4 header, base fields plus any options.
type IPv4Header struct {
	rep [IPv4MaxHeaderLen]byte
}

// ReadIPv4Header reads the 20-byte base header from r, validates the version
// and header length, then reads the options. A rejected header leaves the
// reader positioned somewhere inside the datagram; the caller must discard it.
func ReadIPv4Header(r io.Reader) (*IPv4Header, error) {
	h := &IPv4Header{}
	if _, err := io.ReadFull(r, h.rep[:IPv4HeaderLen]); err != nil {
		return nil, fmt.Errorf("read IPv4 header: %w", err)
	}
	if v := h.Version(); v != 4 {
		return nil, fmt.Errorf("%w: version %d", ErrNotIPv4, v)
	}

	optLen := h.HeaderLength() - IPv4HeaderLen
	if optLen < 0 || optLen > IPv4MaxOptionsLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderLength, h.HeaderLength())
	}
	if optLen > 0 {
		if _, err := io.ReadFull(r, h.rep[IPv4HeaderLen:IPv4HeaderLen+optLen]); err != nil {
			return nil, fmt.Errorf("read IPv4 options: %w", err)
		}
	}
	return h, nil
}

// NewIPv4Header builds an option-less header for a datagram of totalLen
// bytes. The header checksum is left zero.
func NewIPv4Header(src, dst net.IP, ttl, protocol uint8, totalLen int) *IPv4Header {
	h := &IPv4Header{}
	h.rep[0] = 4<<4 | IPv4HeaderLen/4
	binary.BigEndian.PutUint16(h.rep[2:4], uint16(totalLen))
	h.rep[8] = ttl
	h.rep[9] = protocol
	if v4 := src.To4(); v4 != nil {
		copy(h.rep[12:16], v4)
	}
	if v4 := dst.To4(); v4 != nil {
		copy(h.rep[16:20], v4)
	}
	return h
}

// Version returns the IP version nibble.
func (h *IPv4Header) Version() int { return int(h.rep[0] >> 4) }

// HeaderLength returns the header length in bytes (4 x IHL).
func (h *IPv4Header) HeaderLength() int { return int(h.rep[0]&0x0F) * 4 }

// TypeOfService returns the TOS byte.
func (h *IPv4Header) TypeOfService() uint8 { return h.rep[1] }

// TotalLength returns the datagram length claimed by the header.
func (h *IPv4Header) TotalLength() uint16 { return binary.BigEndian.Uint16(h.rep[2:4]) }

// Identification returns the fragment identification field.
func (h *IPv4Header) Identification() uint16 { return binary.BigEndian.Uint16(h.rep[4:6]) }

// DontFragment reports whether the DF flag (0x4000) is set.
func (h *IPv4Header) DontFragment() bool { return h.rep[6]&0x40 != 0 }

// MoreFragments reports whether the MF flag (0x2000) is set.
func (h *IPv4Header) MoreFragments() bool { return h.rep[6]&0x20 != 0 }

// FragmentOffset returns the low 13 bits of the flags/offset word.
func (h *IPv4Header) FragmentOffset() uint16 { return binary.BigEndian.Uint16(h.rep[6:8]) & 0x1FFF }

// TTL returns the time to live.
func (h *IPv4Header) TTL() uint8 { return h.rep[8] }

// Protocol returns the payload protocol number (1 for ICMP).
func (h *IPv4Header) Protocol() uint8 { return h.rep[9] }

// HeaderChecksum returns the header checksum. It is never verified.
func (h *IPv4Header) HeaderChecksum() uint16 { return binary.BigEndian.Uint16(h.rep[10:12]) }

// Source returns a copy of the source address.
func (h *IPv4Header) Source() net.IP {
	return net.IPv4(h.rep[12], h.rep[13], h.rep[14], h.rep[15])
}

// Destination returns a copy of the destination address.
func (h *IPv4Header) Destination() net.IP {
	return net.IPv4(h.rep[16], h.rep[17], h.rep[18], h.rep[19])
}

// Options returns the option bytes, or nil when there are none.
func (h *IPv4Header) Options() []byte {
	n := h.HeaderLength()
	if n <= IPv4HeaderLen || n > IPv4MaxHeaderLen {
		return nil
	}
	return append([]byte(nil), h.rep[IPv4HeaderLen:n]...)
}

// Marshal returns the header bytes, options included.
func (h *IPv4Header) Marshal() []byte {
	n := h.HeaderLength()
	if n < IPv4HeaderLen || n > IPv4MaxHeaderLen {
		n = IPv4HeaderLen
	}
	return append([]byte(nil), h.rep[:n]...)
}

func (h *IPv4Header) String() string {
	return fmt.Sprintf("IPv4 version=%d hlen=%d tlen=%d ttl=%d proto=%d src=%s dst=%s",
		h.Version(), h.HeaderLength(), h.TotalLength(), h.TTL(), h.Protocol(),
		h.Source(), h.Destination())
}
