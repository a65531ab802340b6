package icmp

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	"golang.org/x/net/ipv4"
)

// rawIPv4 builds header bytes with the given version and IHL nibble,
// padded with option bytes to match IHL when possible.
func rawIPv4(version, ihl byte) []byte {
	b := make([]byte, IPv4HeaderLen)
	b[0] = version<<4 | ihl
	b[8] = 64
	b[9] = ProtocolICMP
	copy(b[12:16], []byte{10, 0, 0, 1})
	copy(b[16:20], []byte{10, 0, 0, 2})
	if n := int(ihl) * 4; n > IPv4HeaderLen {
		for i := IPv4HeaderLen; i < n; i++ {
			b = append(b, byte(i))
		}
	}
	return b
}

func TestReadIPv4Header_Base(t *testing.T) {
	raw := rawIPv4(4, 5)
	r := bytes.NewReader(append(raw, 0xEE))

	h, err := ReadIPv4Header(r)
	if err != nil {
		t.Fatalf("ReadIPv4Header() error = %v", err)
	}
	if h.HeaderLength() != 20 {
		t.Errorf("HeaderLength() = %d, want 20", h.HeaderLength())
	}
	if r.Len() != 1 {
		t.Errorf("consumed %d bytes, want exactly 20", len(raw)+1-r.Len())
	}
	if h.Options() != nil {
		t.Errorf("Options() = %v, want nil", h.Options())
	}
	if !h.Source().Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("Source() = %v, want 10.0.0.1", h.Source())
	}
	if !h.Destination().Equal(net.IPv4(10, 0, 0, 2)) {
		t.Errorf("Destination() = %v, want 10.0.0.2", h.Destination())
	}
	if h.TTL() != 64 {
		t.Errorf("TTL() = %d, want 64", h.TTL())
	}
	if h.Protocol() != ProtocolICMP {
		t.Errorf("Protocol() = %d, want 1", h.Protocol())
	}
}

func TestReadIPv4Header_Options(t *testing.T) {
	for ihl := byte(5); ihl <= 15; ihl++ {
		raw := rawIPv4(4, ihl)
		r := bytes.NewReader(raw)

		h, err := ReadIPv4Header(r)
		if err != nil {
			t.Fatalf("ihl=%d: ReadIPv4Header() error = %v", ihl, err)
		}
		if h.HeaderLength() != int(ihl)*4 {
			t.Errorf("ihl=%d: HeaderLength() = %d", ihl, h.HeaderLength())
		}
		if r.Len() != 0 {
			t.Errorf("ihl=%d: %d bytes left unread", ihl, r.Len())
		}
		if got := len(h.Options()); got != int(ihl)*4-IPv4HeaderLen {
			t.Errorf("ihl=%d: len(Options()) = %d", ihl, got)
		}
		if !bytes.Equal(h.Marshal(), raw) {
			t.Errorf("ihl=%d: Marshal() = % x, want % x", ihl, h.Marshal(), raw)
		}
	}
}

func TestReadIPv4Header_RejectsVersion(t *testing.T) {
	for _, v := range []byte{0, 1, 5, 6, 15} {
		_, err := ReadIPv4Header(bytes.NewReader(rawIPv4(v, 5)))
		if !errors.Is(err, ErrNotIPv4) {
			t.Errorf("version %d: error = %v, want ErrNotIPv4", v, err)
		}
	}
}

func TestReadIPv4Header_RejectsShortHeaderLength(t *testing.T) {
	for ihl := byte(0); ihl < 5; ihl++ {
		_, err := ReadIPv4Header(bytes.NewReader(rawIPv4(4, ihl)))
		if !errors.Is(err, ErrHeaderLength) {
			t.Errorf("ihl=%d: error = %v, want ErrHeaderLength", ihl, err)
		}
	}
}

func TestReadIPv4Header_Truncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"partial base", rawIPv4(4, 5)[:12]},
		{"partial options", rawIPv4(4, 8)[:26]},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadIPv4Header(bytes.NewReader(tc.data))
			if err == nil {
				t.Fatal("ReadIPv4Header() should fail")
			}
			if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
				t.Errorf("error = %v, want EOF", err)
			}
		})
	}
}

func TestIPv4Header_Fields(t *testing.T) {
	raw := rawIPv4(4, 5)
	raw[1] = 0x10
	raw[2], raw[3] = 0x00, 0x54
	raw[4], raw[5] = 0xAB, 0xCD
	raw[6], raw[7] = 0x40|0x20|0x01, 0x02
	raw[10], raw[11] = 0x12, 0x34

	h, err := ReadIPv4Header(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadIPv4Header() error = %v", err)
	}
	if h.TypeOfService() != 0x10 {
		t.Errorf("TypeOfService() = %#x", h.TypeOfService())
	}
	if h.TotalLength() != 84 {
		t.Errorf("TotalLength() = %d, want 84", h.TotalLength())
	}
	if h.Identification() != 0xABCD {
		t.Errorf("Identification() = %#x", h.Identification())
	}
	if !h.DontFragment() {
		t.Error("DontFragment() = false, want true")
	}
	if !h.MoreFragments() {
		t.Error("MoreFragments() = false, want true")
	}
	if h.FragmentOffset() != 0x0102 {
		t.Errorf("FragmentOffset() = %#x, want 0x102", h.FragmentOffset())
	}
	if h.HeaderChecksum() != 0x1234 {
		t.Errorf("HeaderChecksum() = %#x", h.HeaderChecksum())
	}
}

func TestIPv4Header_AgreesWithXNet(t *testing.T) {
	raw := rawIPv4(4, 5)
	raw[2], raw[3] = 0x00, 0x1C

	want, err := ipv4.ParseHeader(raw)
	if err != nil {
		t.Fatalf("ipv4.ParseHeader() error = %v", err)
	}
	h, err := ReadIPv4Header(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadIPv4Header() error = %v", err)
	}

	if h.Version() != want.Version {
		t.Errorf("Version() = %d, want %d", h.Version(), want.Version)
	}
	if h.HeaderLength() != want.Len {
		t.Errorf("HeaderLength() = %d, want %d", h.HeaderLength(), want.Len)
	}
	if int(h.TTL()) != want.TTL {
		t.Errorf("TTL() = %d, want %d", h.TTL(), want.TTL)
	}
	if int(h.Protocol()) != want.Protocol {
		t.Errorf("Protocol() = %d, want %d", h.Protocol(), want.Protocol)
	}
	if !h.Source().Equal(want.Src) || !h.Destination().Equal(want.Dst) {
		t.Errorf("addresses = %v -> %v, want %v -> %v", h.Source(), h.Destination(), want.Src, want.Dst)
	}
}

func TestNewIPv4Header(t *testing.T) {
	src := net.ParseIP("192.0.2.7")
	dst := net.ParseIP("198.51.100.1")
	h := NewIPv4Header(src, dst, 57, ProtocolICMP, 28)

	parsed, err := ReadIPv4Header(bytes.NewReader(h.Marshal()))
	if err != nil {
		t.Fatalf("ReadIPv4Header() error = %v", err)
	}
	if parsed.Version() != 4 || parsed.HeaderLength() != 20 {
		t.Errorf("version/hlen = %d/%d, want 4/20", parsed.Version(), parsed.HeaderLength())
	}
	if parsed.TotalLength() != 28 {
		t.Errorf("TotalLength() = %d, want 28", parsed.TotalLength())
	}
	if parsed.TTL() != 57 {
		t.Errorf("TTL() = %d, want 57", parsed.TTL())
	}
	if !parsed.Source().Equal(src) || !parsed.Destination().Equal(dst) {
		t.Errorf("addresses = %v -> %v", parsed.Source(), parsed.Destination())
	}
}
