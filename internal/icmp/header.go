package icmp

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/net/ipv4"
)

// EchoHeaderLen is the size of an ICMP echo header on the wire.
const EchoHeaderLen = 8

// MessageType is the ICMP message type carried in the first header byte.
type MessageType uint8

const (
	// TypeEchoReply is the ICMPv4 echo reply type.
	TypeEchoReply = MessageType(ipv4.ICMPTypeEchoReply)
	// TypeEchoRequest is the ICMPv4 echo request type.
	TypeEchoRequest = MessageType(ipv4.ICMPTypeEcho)
)

// String returns a human-readable name for the type.
func (t MessageType) String() string {
	switch t {
	case TypeEchoReply:
		return "ECHO_REPLY"
	case TypeEchoRequest:
		return "ECHO_REQUEST"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// EchoHeader is the fixed 8-byte ICMP echo header:
//
//	0               8               16                              31
//	+---------------+---------------+-------------------------------+
//	|     type      |     code      |           checksum            |
//	+---------------+---------------+-------------------------------+
//	|          identifier           |        sequence number        |
//	+-------------------------------+-------------------------------+
//
// Multi-byte fields are big-endian. Setting any field after ComputeChecksum
// invalidates the stored checksum.
type EchoHeader [EchoHeaderLen]byte

// NewEchoRequest returns an echo request header with its checksum computed.
func NewEchoRequest(id, seq uint16) EchoHeader {
	var h EchoHeader
	h.SetType(TypeEchoRequest)
	h.SetCode(0)
	h.SetIdentifier(id)
	h.SetSequence(seq)
	h.ComputeChecksum()
	return h
}

// Type returns the ICMP message type.
func (h EchoHeader) Type() MessageType { return MessageType(h[0]) }

// Code returns the ICMP code, 0 for echo messages.
func (h EchoHeader) Code() uint8 { return h[1] }

// Checksum returns the stored checksum.
func (h EchoHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h[2:4]) }

// Identifier returns the echo identifier.
func (h EchoHeader) Identifier() uint16 { return binary.BigEndian.Uint16(h[4:6]) }

// Sequence returns the echo sequence number.
func (h EchoHeader) Sequence() uint16 { return binary.BigEndian.Uint16(h[6:8]) }

// The setters below change one field in place. Any of them except
// SetChecksum invalidates a previously computed checksum.

// SetType sets the message type.
func (h *EchoHeader) SetType(t MessageType) { h[0] = byte(t) }

// SetCode sets the code.
func (h *EchoHeader) SetCode(c uint8) { h[1] = c }

// SetChecksum stores sum as is.
func (h *EchoHeader) SetChecksum(sum uint16) { binary.BigEndian.PutUint16(h[2:4], sum) }

// SetIdentifier sets the echo identifier.
func (h *EchoHeader) SetIdentifier(id uint16) { binary.BigEndian.PutUint16(h[4:6], id) }

// SetSequence sets the echo sequence number.
func (h *EchoHeader) SetSequence(seq uint16) { binary.BigEndian.PutUint16(h[6:8], seq) }

// ComputeChecksum stores the one's-complement checksum of the header,
// computed with the checksum field treated as zero. The header carries no
// payload, so the four 16-bit words below are the whole checksum domain.
func (h *EchoHeader) ComputeChecksum() {
	h.SetChecksum(0)
	h.SetChecksum(^fold(h.sum()))
}

// VerifyChecksum reports whether the stored checksum is consistent with the
// other fields. The receive path does not call it.
func (h EchoHeader) VerifyChecksum() bool {
	return fold(h.sum()) == 0xFFFF
}

func (h EchoHeader) sum() uint32 {
	return (uint32(h[0])<<8 | uint32(h[1])) +
		uint32(h.Checksum()) +
		uint32(h.Identifier()) +
		uint32(h.Sequence())
}

// fold adds the carries above bit 15 back into the low 16 bits. Two passes
// are enough for any sum of four 16-bit words.
func fold(sum uint32) uint16 {
	sum = (sum >> 16) + (sum & 0xFFFF)
	sum += sum >> 16
	return uint16(sum)
}

// Marshal returns the wire encoding of the header.
func (h EchoHeader) Marshal() []byte {
	b := make([]byte, EchoHeaderLen)
	copy(b, h[:])
	return b
}

// String returns a short diagnostic rendering of the header.
func (h EchoHeader) String() string {
	return fmt.Sprintf("ICMP %s code=%d checksum=%#04x id=%d seq=%d",
		h.Type(), h.Code(), h.Checksum(), h.Identifier(), h.Sequence())
}

// ReadEchoHeader reads exactly EchoHeaderLen bytes from r. No validation is
// performed on the decoded fields.
func ReadEchoHeader(r io.Reader) (EchoHeader, error) {
	var h EchoHeader
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return h, fmt.Errorf("read ICMP header: %w", err)
	}
	return h, nil
}

// ParseEchoHeader decodes the first EchoHeaderLen bytes of b.
func ParseEchoHeader(b []byte) (EchoHeader, error) {
	var h EchoHeader
	if len(b) < EchoHeaderLen {
		return h, fmt.Errorf("ICMP header too short: %d bytes: %w", len(b), io.ErrUnexpectedEOF)
	}
	copy(h[:], b)
	return h, nil
}
